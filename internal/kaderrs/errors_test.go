package kaderrs

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWrapUnwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(BindError, "bind 0.0.0.0:4000", cause)

	require.ErrorIs(t, err, cause)
	require.Contains(t, err.Error(), "bind 0.0.0.0:4000")
	require.Contains(t, err.Error(), "connection refused")
}

func TestIsMatchesByKindOnly(t *testing.T) {
	a := New(Timeout, "request a timed out")
	b := New(Timeout, "request b timed out")
	require.True(t, a.Is(b))

	c := New(DecodeError, "bad json")
	require.False(t, a.Is(c))
}

func TestFatalOnlyForBindError(t *testing.T) {
	require.True(t, New(BindError, "port in use").Fatal())
	require.False(t, New(Timeout, "x").Fatal())
	require.False(t, New(Backpressure, "x").Fatal())
}

func TestKindString(t *testing.T) {
	require.Equal(t, "decode_error", DecodeError.String())
}
