package sderr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStatusIsMatchesCause(t *testing.T) {
	err := New(CauseNotFound, "resource %d missing", 7)
	require.True(t, errors.Is(err, NotFound))
	require.False(t, errors.Is(err, Timeout))
}

func TestOKStatus(t *testing.T) {
	ok := OKStatus()
	require.True(t, ok.OK)
	require.Equal(t, "ok", ok.Error())
}

func TestFromErrorPassesThroughStatus(t *testing.T) {
	original := New(CauseAborted, "boom")
	require.Same(t, original, FromError(original))

	wrapped := FromError(errors.New("plain"))
	require.Equal(t, CauseUnknown, wrapped.Cause)
}

func TestWithBlock(t *testing.T) {
	st := New(CauseTimeout, "deadline").WithBlock("stream_adapter")
	require.Contains(t, st.Error(), "stream_adapter")
}
