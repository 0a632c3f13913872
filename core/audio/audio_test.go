package audio

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeOpener map[string]string

func (f fakeOpener) Open(_ context.Context, key string) (io.ReadCloser, error) {
	body, ok := f[key]
	if !ok {
		return nil, errors.New("no such key")
	}
	return io.NopCloser(strings.NewReader(body)), nil
}

func TestNewFFprobePath(t *testing.T) {
	assert.Equal(t, "/usr/bin/ffprobe", NewFFprobe("/usr/bin/ffmpeg").path)
	assert.Equal(t, "ffprobe", NewFFprobe("").path)
}

func TestParseDuration(t *testing.T) {
	d, err := parseDuration([]byte(`{"format":{"duration":"183.456000"}}`))
	require.NoError(t, err)
	assert.InDelta(t, 183.456, d, 1e-9)

	_, err = parseDuration([]byte(`{"format":{}}`))
	assert.Error(t, err)
	_, err = parseDuration([]byte(`not json`))
	assert.Error(t, err)
	_, err = parseDuration([]byte(`{"format":{"duration":"N/A"}}`))
	assert.Error(t, err)
}

func TestSpoolToTemp(t *testing.T) {
	store := fakeOpener{"audio/u1/a.mp3": "ID3 fake audio"}

	file, cleanup, err := SpoolToTemp(context.Background(), store, "audio/u1/a.mp3")
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(file, ".mp3"))

	content, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Equal(t, "ID3 fake audio", string(content))

	cleanup()
	_, err = os.Stat(file)
	assert.True(t, os.IsNotExist(err))

	_, _, err = SpoolToTemp(context.Background(), store, "missing.mp3")
	assert.Error(t, err)
}
