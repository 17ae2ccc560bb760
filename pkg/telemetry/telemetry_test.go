package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestDisabledProviderRecordsWithoutExporter exercises the no-op path:
// a disabled Provider still exposes working instruments (backed by the
// global no-op meter/tracer) so callers never need to branch on whether
// telemetry was wired, per spec.md §5's concurrency model note.
func TestDisabledProviderRecordsWithoutExporter(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultConfig()
	cfg.Enabled = false

	p, err := New(ctx, cfg)
	require.NoError(t, err)

	spanCtx, span := p.StartSpan(ctx, "test-span")
	p.RecordSeal(spanCtx, 5*time.Millisecond, 8)
	p.RecordDifficultyAdjustment(spanCtx, 4, 8)
	p.RecordAnchorRoundTrip(spanCtx, false)
	span.End()

	require.NoError(t, p.Shutdown(ctx))
}
