// Package anchor implements the Anchoring Client of spec.md §4.7: it
// converts a Merkle root into an external timestamping receipt, tracks
// the receipt's pending→confirmed/failed state machine, and computes
// retry delays with the teacher's deterministic-jitter exponential backoff
// (core/pkg/kernel/retry/backoff.go, adapted in backoff.go); it does not
// schedule or perform retries itself. Outbound
// request rate is shaped with golang.org/x/time/rate, and requests to an
// authenticated endpoint are signed with a host-issued JWT
// (golang-jwt/jwt/v5), following core/pkg/auth/middleware.go's idiom.
package anchor

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/ciphernom/bitquill/pkg/bqerr"
)

// State is the anchor receipt's lifecycle stage, per spec.md §3/§4.6.
type State string

const (
	StatePending   State = "pending"
	StateConfirmed State = "confirmed"
	StateFailed    State = "failed"
)

// Receipt is the Anchor Receipt of spec.md §3: immutable once Confirmed.
type Receipt struct {
	ID            string    `json:"id"`
	RootHash      string    `json:"root_hash"`
	SubmittedAt   int64     `json:"submitted_at"`
	ReceiptBlob   []byte    `json:"receipt"`
	State         State     `json:"state"`
	LastCheckedAt int64     `json:"last_checked_at"`
	Attempts      int       `json:"-"`
}

// Service is the opaque external timestamping endpoint: submission
// returns a blob, a later query on the blob returns a tri-state status.
// No bit-exact wire format is mandated by the core (spec.md §6). A
// Service behind an authenticated endpoint reads its bearer token from
// ctx via BearerTokenFromContext rather than through an extra
// parameter, keeping this interface stable across signed and
// unsigned deployments.
type Service interface {
	Submit(ctx context.Context, rootHash string) (blob []byte, err error)
	Query(ctx context.Context, blob []byte) (confirmed bool, failed bool, err error)
}

type bearerTokenKey struct{}

// WithBearerToken attaches a signed bearer token to ctx for a Service
// implementation to read, e.g. to set an Authorization header on the
// outbound request.
func WithBearerToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, bearerTokenKey{}, token)
}

// BearerTokenFromContext retrieves a token attached by WithBearerToken,
// reporting false if ctx carries none.
func BearerTokenFromContext(ctx context.Context) (string, bool) {
	tok, ok := ctx.Value(bearerTokenKey{}).(string)
	return tok, ok
}

// Signer issues bearer JWTs for requests to an authenticated Service,
// when the external endpoint requires one.
type Signer struct {
	key    []byte
	issuer string
}

// NewSigner constructs a Signer with an HMAC signing key.
func NewSigner(key []byte, issuer string) *Signer {
	return &Signer{key: key, issuer: issuer}
}

// Token issues a short-lived bearer token authorizing one submission.
func (s *Signer) Token(ctx context.Context, rootHash string) (string, error) {
	claims := jwt.RegisteredClaims{
		Issuer:    s.issuer,
		Subject:   rootHash,
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(5 * time.Minute)),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(s.key)
	if err != nil {
		return "", bqerr.New(bqerr.KindAnchorUnavailable, bqerr.ClassRetryable, "jwt signing failed", err)
	}
	return signed, nil
}

// Client is the Anchoring Client: submits roots and polls for
// confirmation, never blocking an edit. Each Submit or Upgrade makes one
// service call and does not retry on its own: Upgrade counts failed
// queries in Receipt.Attempts, NextRetryDelay gives the backoff before the
// next call, and after MaxAttempts failures Upgrade reports a DEGRADED
// rather than RETRYABLE error but still queries on later calls.
type Client struct {
	svc     Service
	signer  *Signer
	limiter *rate.Limiter
	policy  BackoffPolicy
}

// New constructs a Client against an external Service.
func New(svc Service, policy BackoffPolicy, limiter *rate.Limiter) *Client {
	return &Client{svc: svc, policy: policy, limiter: limiter}
}

// WithSigner attaches a Signer used to authenticate outbound requests.
func (c *Client) WithSigner(s *Signer) *Client {
	c.signer = s
	return c
}

// Submit posts rootHash to the external timestamping endpoint and
// returns a new Receipt in state Pending. Network errors are non-fatal:
// they never block edits and are surfaced as AnchorUnavailable so the
// caller can retry later.
func (c *Client) Submit(ctx context.Context, rootHash string) (Receipt, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return Receipt{}, bqerr.New(bqerr.KindAnchorUnavailable, bqerr.ClassRetryable, "anchor rate limit wait failed", err)
		}
	}
	if c.signer != nil {
		token, err := c.signer.Token(ctx, rootHash)
		if err != nil {
			return Receipt{}, err
		}
		ctx = WithBearerToken(ctx, token)
	}

	blob, err := c.svc.Submit(ctx, rootHash)
	if err != nil {
		return Receipt{}, bqerr.New(bqerr.KindAnchorUnavailable, bqerr.ClassDegraded, "anchor submit failed", err)
	}

	return Receipt{
		ID:          uuid.NewString(),
		RootHash:    rootHash,
		SubmittedAt: time.Now().UnixMilli(),
		ReceiptBlob: blob,
		State:       StatePending,
	}, nil
}

// Upgrade re-queries the external service for receipt and transitions
// its state; idempotent, and safe to call repeatedly on a Confirmed or
// Failed receipt (both are terminal and left unchanged).
func (c *Client) Upgrade(ctx context.Context, receipt Receipt) (Receipt, error) {
	if receipt.State != StatePending {
		return receipt, nil
	}

	confirmed, failed, err := c.svc.Query(ctx, receipt.ReceiptBlob)
	receipt.LastCheckedAt = time.Now().UnixMilli()
	if err != nil {
		receipt.Attempts++
		if receipt.Attempts >= c.policy.MaxAttempts {
			return receipt, bqerr.New(bqerr.KindAnchorUnavailable, bqerr.ClassDegraded,
				fmt.Sprintf("anchor query failed after %d attempts, staying pending", receipt.Attempts), err)
		}
		return receipt, bqerr.New(bqerr.KindAnchorUnavailable, bqerr.ClassRetryable, "anchor query failed, will retry", err)
	}

	switch {
	case confirmed:
		receipt.State = StateConfirmed
	case failed:
		receipt.State = StateFailed
	}
	return receipt, nil
}

// NextRetryDelay returns how long to wait before the next Upgrade
// attempt for receipt, using the client's BackoffPolicy.
func (c *Client) NextRetryDelay(receipt Receipt) time.Duration {
	return ComputeBackoff(BackoffParams{RootHash: receipt.RootHash, AttemptIndex: receipt.Attempts}, c.policy)
}
