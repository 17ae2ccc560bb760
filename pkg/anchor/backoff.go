package anchor

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"time"
)

// BackoffParams identifies one retry attempt for deterministic jitter
// derivation, mirroring the teacher's retry.BackoffParams shape.
type BackoffParams struct {
	RootHash     string
	AttemptIndex int
}

// BackoffPolicy bounds the exponential backoff schedule, grounded on
// retry.BackoffPolicy.
type BackoffPolicy struct {
	BaseMs      int64
	MaxMs       int64
	MaxJitterMs int64
	MaxAttempts int
}

// ComputeBackoff returns the delay before attempt AttemptIndex,
// exponential with a deterministic, hash-seeded jitter so retries are
// reproducible in tests without a source of randomness.
func ComputeBackoff(params BackoffParams, policy BackoffPolicy) time.Duration {
	factor := int64(1)
	if params.AttemptIndex > 0 {
		if params.AttemptIndex > 30 {
			factor = 1 << 30
		} else {
			factor = 1 << params.AttemptIndex
		}
	}

	baseDelay := policy.BaseMs * factor
	if baseDelay > policy.MaxMs {
		baseDelay = policy.MaxMs
	}

	jitter := computeDeterministicJitter(params, policy)
	return time.Duration(baseDelay+jitter) * time.Millisecond
}

func computeDeterministicJitter(params BackoffParams, policy BackoffPolicy) int64 {
	seed := fmt.Sprintf("%s:%d", params.RootHash, params.AttemptIndex)
	hash := sha256.Sum256([]byte(seed))
	basis := binary.BigEndian.Uint64(hash[:8])

	if policy.MaxJitterMs == 0 {
		return 0
	}
	return int64(basis % uint64(policy.MaxJitterMs))
}
