package apperrors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSetsDefaultRetryable(t *testing.T) {
	transport := New(KindTransport, "dial failed")
	assert.True(t, transport.Retryable)

	validation := New(KindValidation, "bad query")
	assert.False(t, validation.Retryable)
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("boom")
	wrapped := Wrap(KindStorage, cause)
	require.NotNil(t, wrapped)
	assert.ErrorIs(t, wrapped, cause)
	assert.Equal(t, cause, wrapped.Unwrap())
}

func TestWrapNilReturnsNil(t *testing.T) {
	assert.Nil(t, Wrap(KindStorage, nil))
}

func TestIsMatchesByKind(t *testing.T) {
	a := New(KindBusy, "indexing in progress")
	b := New(KindBusy, "a different message")
	assert.True(t, errors.Is(a, b))

	c := New(KindConfig, "bad config")
	assert.False(t, errors.Is(a, c))
}

func TestKindOfAndIsRetryable(t *testing.T) {
	err := Wrapf(KindQuota, errors.New("429"), "quota exceeded for %s", "jina")
	assert.Equal(t, KindQuota, KindOf(err))
	assert.False(t, IsRetryable(err))

	assert.Equal(t, Kind(""), KindOf(errors.New("plain")))
}

func TestWithDetailAndSuggestion(t *testing.T) {
	err := New(KindParse, "could not parse file").
		WithDetail("path", "main.ts").
		WithSuggestion("falling back to line-window chunking")
	assert.Equal(t, "main.ts", err.Details["path"])
	assert.Equal(t, "falling back to line-window chunking", err.Suggestion)
}
