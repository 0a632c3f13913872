package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodeOfWrappedChain(t *testing.T) {
	base := errors.New("connection refused")
	err := fmt.Errorf("fetch entry: %w", Wrap(EntryFetchError, base, "profile service unreachable"))

	assert.Equal(t, EntryFetchError, CodeOf(err))
	assert.True(t, Is(err, EntryFetchError))
	assert.ErrorIs(t, err, base)
	assert.Equal(t, "profile service unreachable", MessageOf(err))
}

func TestCodeOfPlainError(t *testing.T) {
	assert.Equal(t, Code(""), CodeOf(errors.New("boom")))
	assert.False(t, Is(nil, AudioFailed))
	assert.Equal(t, "boom", MessageOf(errors.New("boom")))
}

func TestErrorString(t *testing.T) {
	assert.Equal(t, "AUDIO_FAILED", New(AudioFailed, "").Error())
	assert.Equal(t, "AUDIO_FAILED: all providers failed", New(AudioFailed, "all providers failed").Error())
	assert.Equal(t, "STORAGE_FAILED: upload: disk full",
		Wrap(StorageFailed, errors.New("disk full"), "upload").Error())
}
