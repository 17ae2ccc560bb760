package bqerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestErrorMessageIncludesCause(t *testing.T) {
	cause := fmt.Errorf("underlying")
	err := New(KindProofInvalid, ClassFatal, "root mismatch", cause)
	require.Contains(t, err.Error(), "ProofInvalid")
	require.Contains(t, err.Error(), "root mismatch")
	require.Contains(t, err.Error(), "underlying")
}

func TestUnwrapExposesCause(t *testing.T) {
	cause := fmt.Errorf("underlying")
	err := New(KindAnchorUnavailable, ClassDegraded, "network", cause)
	require.Equal(t, cause, errors.Unwrap(err))
}

func TestErrorsIsMatchesByKindViaSentinel(t *testing.T) {
	err := New(KindSuspiciousEdit, ClassRevertible, "cadence rejected", nil)
	require.True(t, errors.Is(err, ErrSuspiciousEdit))
	require.False(t, errors.Is(err, ErrProofInvalid))
}

func TestSentinelHasNoCause(t *testing.T) {
	s := Sentinel(KindChainBroken)
	require.Nil(t, s.Cause)
	require.Nil(t, errors.Unwrap(s))
}
