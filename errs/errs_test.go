package errs

import (
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsMatchesKindAndMessage(t *testing.T) {
	err := fmt.Errorf("input 3: %w", ErrMissingInput)
	assert.True(t, errors.Is(err, ErrMissingInput))
	assert.False(t, errors.Is(err, ErrMissingOutput))
	assert.Equal(t, KindMissingReference, KindOf(err))
}

func TestWrapKeepsCause(t *testing.T) {
	err := ErrStateIO.Wrap(io.ErrUnexpectedEOF)
	assert.True(t, errors.Is(err, ErrStateIO))
	assert.True(t, errors.Is(err, io.ErrUnexpectedEOF))
	assert.Contains(t, err.Error(), "unexpected EOF")
	assert.Equal(t, KindIO, err.Kind())
}

func TestNewFormatsAndWraps(t *testing.T) {
	cause := errors.New("boom")
	err := New(KindPolicy, "bad fragment %q", "pk(", cause)
	assert.Equal(t, `bad fragment "pk("`, err.Message())
	assert.Equal(t, cause, errors.Unwrap(err))

	var e *Error
	require.True(t, errors.As(Wrap(ErrNotEnoughFunds, "need %d", 5), &e))
	assert.Equal(t, KindValueAccounting, e.Kind())
}

func TestKindOfForeignError(t *testing.T) {
	assert.Equal(t, KindUnknown, KindOf(errors.New("plain")))
	assert.Equal(t, "unknown", KindUnknown.String())
}
