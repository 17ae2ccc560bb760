// Package powengine implements the edit-sealing proof-of-work puzzle:
// given a payload and a difficulty, find a nonce whose hash has at least
// that many leading zero bits (spec.md §4.4). The big.Int target
// comparison is grounded on the pack's rubin-protocol PoW check
// (bigIntToBytes32 / target comparison); digests are computed with
// crypto/sha256 directly, and the cooperative-yield idiom follows the
// teacher's single-threaded event-loop posture (spec.md §5).
package powengine

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math/big"
	"math/rand"
	"time"

	"golang.org/x/time/rate"

	"github.com/ciphernom/bitquill/pkg/bqerr"
)

// YieldEvery is the iteration count at which the seal loop checks for
// context cancellation and, if a Limiter is configured, waits for a
// token — the cooperative yield point spec.md §4.4/§5 requires so a
// single-threaded host stays responsive. Cancellation is only observed
// here: once ctx is canceled, Seal returns an error at the next yield
// point.
const YieldEvery = 4096

// SealResult is returned by Seal.
type SealResult struct {
	Nonce     uint64
	ElapsedMs int64
}

// Engine seals and verifies proof-of-work puzzles at a given difficulty.
// Limiter is optional; when set, it throttles the seal loop's yield
// points so a runaway host cannot monopolize CPU across many concurrent
// documents.
type Engine struct {
	Limiter *rate.Limiter
}

// New constructs a PoW Engine with no rate limiting.
func New() *Engine { return &Engine{} }

// NewRateLimited constructs an Engine whose seal loop yields are shaped
// by a token bucket: r tokens/sec, burst b.
func NewRateLimited(r float64, b int) *Engine {
	return &Engine{Limiter: rate.NewLimiter(rate.Limit(r), b)}
}

// target returns 2^(256-difficulty) as a big.Int, the threshold a sealed
// digest's big-endian integer value must fall strictly below.
func target(difficulty uint8) *big.Int {
	if difficulty == 0 {
		// Every digest is < 2^256; difficulty 0 accepts any nonce.
		t := new(big.Int).Lsh(big.NewInt(1), 256)
		return t
	}
	if difficulty > 256 {
		difficulty = 256
	}
	return new(big.Int).Lsh(big.NewInt(1), uint(256-difficulty))
}

func preimage(payload []byte, nonce uint64) []byte {
	buf := make([]byte, len(payload)+8)
	copy(buf, payload)
	binary.LittleEndian.PutUint64(buf[len(payload):], nonce)
	return buf
}

func digestInt(payload []byte, nonce uint64) (*big.Int, [32]byte) {
	sum := sha256.Sum256(preimage(payload, nonce))
	return new(big.Int).SetBytes(sum[:]), sum
}

// Seal searches for a nonce whose hash of payload‖nonce (little-endian 8
// bytes) meets difficulty's leading-zero-bit target, starting from a
// random 64-bit nonce and incrementing monotonically. It yields every
// YieldEvery iterations to check ctx and, if rate-limited, wait for a
// token; if ctx has been canceled by then, Seal returns an error instead
// of a nonce.
func (e *Engine) Seal(ctx context.Context, payload []byte, difficulty uint8) (SealResult, error) {
	start := time.Now()
	t := target(difficulty)
	nonce := rand.Uint64()

	for i := 0; ; i++ {
		if i > 0 && i%YieldEvery == 0 {
			if err := ctx.Err(); err != nil {
				return SealResult{}, bqerr.New(bqerr.KindCanonicalization, bqerr.ClassRetryable, "seal canceled", err)
			}
			if e.Limiter != nil {
				if err := e.Limiter.Wait(ctx); err != nil {
					return SealResult{}, bqerr.New(bqerr.KindCanonicalization, bqerr.ClassRetryable, "seal rate limit wait failed", err)
				}
			}
		}

		h, _ := digestInt(payload, nonce)
		if h.Cmp(t) < 0 {
			return SealResult{Nonce: nonce, ElapsedMs: time.Since(start).Milliseconds()}, nil
		}
		nonce++
	}
}

// Verify is the natural inverse of Seal: it recomputes the same digest
// and compares against difficulty's target. Its cost depends only on
// payload length and is independent of nonce value, the constant-work
// property spec.md §4.4 requires.
func Verify(payload []byte, nonce uint64, difficulty uint8) bool {
	h, _ := digestInt(payload, nonce)
	return h.Cmp(target(difficulty)) < 0
}

// LeadingZeroBits returns the number of leading zero bits in the sealed
// digest, useful for diagnostics and for picking an initial difficulty.
func LeadingZeroBits(payload []byte, nonce uint64) int {
	_, sum := digestInt(payload, nonce)
	n := 0
	for _, b := range sum {
		if b == 0 {
			n += 8
			continue
		}
		for mask := byte(0x80); mask != 0; mask >>= 1 {
			if b&mask != 0 {
				return n
			}
			n++
		}
	}
	return n
}
