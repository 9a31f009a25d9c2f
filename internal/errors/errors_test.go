package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIndexErrorWrapsCause(t *testing.T) {
	cause := fmt.Errorf("open /data/meta.json: permission denied")
	err := New(ErrCodeFilePermission, "failed to lock snapshot", cause)

	assert.Contains(t, err.Error(), ErrCodeFilePermission)
	assert.Contains(t, err.Error(), "failed to lock snapshot")
	assert.Contains(t, err.Error(), "permission denied")
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, cause, stderrors.Unwrap(err))
}

func TestIndexErrorIsMatchesByCode(t *testing.T) {
	err := New(ErrCodeFileCorrupt, "malformed shard file", nil)

	assert.ErrorIs(t, err, &IndexError{Code: ErrCodeFileCorrupt})
	assert.NotErrorIs(t, err, &IndexError{Code: ErrCodeCorruptIndex})
}

func TestIndexErrorDetails(t *testing.T) {
	err := New(ErrCodeCorruptIndex, "shard checksum mismatch", nil).
		WithDetail("shard", "3").
		WithDetail("collection", "code")

	assert.Contains(t, err.Error(), "shard=3")
	assert.Contains(t, err.Error(), "collection=code")
}

func TestIndexErrorSuggestion(t *testing.T) {
	err := New(ErrCodeCorruptIndex, "dense index unreadable", nil).
		WithSuggestion("Run 'indexer reindex --force' to rebuild")
	assert.Equal(t, "Run 'indexer reindex --force' to rebuild", err.Suggestion)
}

func TestWrapTakesMessageFromCause(t *testing.T) {
	cause := fmt.Errorf("not a git repository")
	err := Wrap(ErrCodeGitUnavailable, cause)
	assert.Equal(t, "not a git repository", err.Message)
	assert.ErrorIs(t, err, cause)
}

func TestCodeOfWalksChain(t *testing.T) {
	inner := New(ErrCodeFileCorrupt, "bad meta.json", nil)
	wrapped := fmt.Errorf("load snapshot: %w", inner)

	assert.Equal(t, ErrCodeFileCorrupt, CodeOf(wrapped))
	assert.Equal(t, "", CodeOf(fmt.Errorf("plain error")))
	assert.Equal(t, "", CodeOf(nil))
}

func TestErrorStringIsDeterministic(t *testing.T) {
	mk := func() string {
		return New(ErrCodeInternal, "x", nil).
			WithDetail("b", "2").WithDetail("a", "1").Error()
	}
	first := mk()
	for i := 0; i < 10; i++ {
		require.Equal(t, first, mk())
	}
	assert.Contains(t, first, "a=1 b=2") // detail keys sorted
}
