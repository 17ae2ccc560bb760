package anchor

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/ciphernom/bitquill/pkg/bqerr"
)

type fakeService struct {
	submitErr    error
	confirmAfter int
	queries      int
	failPermanently bool
}

func (f *fakeService) Submit(ctx context.Context, rootHash string) ([]byte, error) {
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	return []byte("blob:" + rootHash), nil
}

func (f *fakeService) Query(ctx context.Context, blob []byte) (bool, bool, error) {
	f.queries++
	if f.failPermanently {
		return false, true, nil
	}
	if f.queries >= f.confirmAfter {
		return true, false, nil
	}
	return false, false, nil
}

func testPolicy() BackoffPolicy {
	return BackoffPolicy{BaseMs: 10, MaxMs: 1000, MaxJitterMs: 5, MaxAttempts: 5}
}

func TestSubmitReturnsPendingReceipt(t *testing.T) {
	svc := &fakeService{confirmAfter: 1}
	c := New(svc, testPolicy(), nil)

	receipt, err := c.Submit(context.Background(), "root1")
	require.NoError(t, err)
	require.Equal(t, StatePending, receipt.State)
	require.Equal(t, "root1", receipt.RootHash)
	require.NotEmpty(t, receipt.ID)
}

func TestSubmitPropagatesServiceFailureAsAnchorUnavailable(t *testing.T) {
	svc := &fakeService{submitErr: errors.New("network down")}
	c := New(svc, testPolicy(), nil)

	_, err := c.Submit(context.Background(), "root1")
	require.Error(t, err)
	var bqe *bqerr.Error
	require.ErrorAs(t, err, &bqe)
	require.Equal(t, bqerr.KindAnchorUnavailable, bqe.Kind)
}

func TestUpgradeTransitionsToConfirmed(t *testing.T) {
	svc := &fakeService{confirmAfter: 1}
	c := New(svc, testPolicy(), nil)

	receipt, err := c.Submit(context.Background(), "root1")
	require.NoError(t, err)

	updated, err := c.Upgrade(context.Background(), receipt)
	require.NoError(t, err)
	require.Equal(t, StateConfirmed, updated.State)
}

func TestUpgradeTransitionsToFailed(t *testing.T) {
	svc := &fakeService{failPermanently: true}
	c := New(svc, testPolicy(), nil)

	receipt, err := c.Submit(context.Background(), "root1")
	require.NoError(t, err)

	updated, err := c.Upgrade(context.Background(), receipt)
	require.NoError(t, err)
	require.Equal(t, StateFailed, updated.State)
}

func TestUpgradeIsIdempotentOnTerminalStates(t *testing.T) {
	svc := &fakeService{confirmAfter: 1}
	c := New(svc, testPolicy(), nil)

	confirmed := Receipt{State: StateConfirmed, RootHash: "root1"}
	out, err := c.Upgrade(context.Background(), confirmed)
	require.NoError(t, err)
	require.Equal(t, confirmed, out)
}

func TestUpgradeStaysPendingOnTransientError(t *testing.T) {
	svc := &erroringService{}
	c := New(svc, testPolicy(), nil)

	receipt := Receipt{State: StatePending, RootHash: "root1"}
	updated, err := c.Upgrade(context.Background(), receipt)
	require.Error(t, err)
	require.Equal(t, StatePending, updated.State)
	require.Equal(t, 1, updated.Attempts)
}

type erroringService struct{}

func (e *erroringService) Submit(ctx context.Context, rootHash string) ([]byte, error) {
	return nil, errors.New("unreachable")
}

func (e *erroringService) Query(ctx context.Context, blob []byte) (bool, bool, error) {
	return false, false, errors.New("unreachable")
}

func TestRateLimitedClientWaitsForToken(t *testing.T) {
	svc := &fakeService{confirmAfter: 1}
	limiter := rate.NewLimiter(rate.Inf, 1)
	c := New(svc, testPolicy(), limiter)

	_, err := c.Submit(context.Background(), "root1")
	require.NoError(t, err)
}

func TestComputeBackoffIsDeterministic(t *testing.T) {
	params := BackoffParams{RootHash: "root1", AttemptIndex: 2}
	policy := testPolicy()

	a := ComputeBackoff(params, policy)
	b := ComputeBackoff(params, policy)
	require.Equal(t, a, b)
}

type tokenCapturingService struct {
	fakeService
	sawToken string
	sawOK    bool
}

func (f *tokenCapturingService) Submit(ctx context.Context, rootHash string) ([]byte, error) {
	f.sawToken, f.sawOK = BearerTokenFromContext(ctx)
	return f.fakeService.Submit(ctx, rootHash)
}

func TestSubmitThreadsSignedTokenThroughContext(t *testing.T) {
	svc := &tokenCapturingService{fakeService: fakeService{confirmAfter: 1}}
	c := New(svc, testPolicy(), nil).WithSigner(NewSigner([]byte("secret"), "bitquill"))

	_, err := c.Submit(context.Background(), "root1")
	require.NoError(t, err)
	require.True(t, svc.sawOK)
	require.NotEmpty(t, svc.sawToken)
}

func TestSubmitWithoutSignerAttachesNoToken(t *testing.T) {
	svc := &tokenCapturingService{fakeService: fakeService{confirmAfter: 1}}
	c := New(svc, testPolicy(), nil)

	_, err := c.Submit(context.Background(), "root1")
	require.NoError(t, err)
	require.False(t, svc.sawOK)
}

func TestComputeBackoffGrowsExponentiallyThenCaps(t *testing.T) {
	policy := BackoffPolicy{BaseMs: 10, MaxMs: 100, MaxJitterMs: 0, MaxAttempts: 10}
	d0 := ComputeBackoff(BackoffParams{RootHash: "r", AttemptIndex: 0}, policy)
	d3 := ComputeBackoff(BackoffParams{RootHash: "r", AttemptIndex: 3}, policy)
	d10 := ComputeBackoff(BackoffParams{RootHash: "r", AttemptIndex: 10}, policy)

	require.Less(t, d0, d3)
	require.LessOrEqual(t, d10.Milliseconds(), int64(100))
}
