package storage

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestObjectKeys(t *testing.T) {
	a := AudioKey("u1", ".mp3")
	assert.True(t, strings.HasPrefix(a, "audio/u1/"))
	assert.True(t, strings.HasSuffix(a, ".mp3"))
	assert.NotEqual(t, a, AudioKey("u1", "mp3"), "keys are unique")

	art := ArtworkKey("u1", "")
	assert.True(t, strings.HasPrefix(art, "artwork/u1/"))
	assert.True(t, strings.HasSuffix(art, ".bin"))
}

func TestPublicURLRoundTrip(t *testing.T) {
	base := "https://cdn.example.com/versewell"
	u := publicURL(base, "audio/u1/x.mp3")
	assert.Equal(t, "https://cdn.example.com/versewell/audio/u1/x.mp3", u)

	key, ok := keyFromURL(base, u+"?sig=abc")
	assert.True(t, ok)
	assert.Equal(t, "audio/u1/x.mp3", key)

	_, ok = keyFromURL(base, "https://elsewhere.example.com/audio/u1/x.mp3")
	assert.False(t, ok)
	_, ok = keyFromURL(base, base+"/")
	assert.False(t, ok)
}

func TestInferContentType(t *testing.T) {
	assert.Equal(t, "audio/mpeg", inferContentType("a/b.MP3"))
	assert.Equal(t, "image/png", inferContentType("art.png"))
	assert.Equal(t, "application/octet-stream", inferContentType("noext"))
}

func TestBucketStats(t *testing.T) {
	stats := &BucketStats{SizeByKind: map[string]int64{}}
	later := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	stats.add("audio/u1/a.mp3", 2048, later.Add(-time.Hour))
	stats.add("audio/u1/b.mp3", 1024, later)
	stats.add("artwork/u1/c.png", 512, later.Add(-2*time.Hour))
	stats.add("loose.txt", 10, later.Add(-3*time.Hour))

	assert.Equal(t, 4, stats.TotalObjects)
	assert.EqualValues(t, 3594, stats.TotalSize)
	assert.Equal(t, later, stats.LastModified)
	assert.EqualValues(t, 3072, stats.SizeByKind["audio"])
	assert.EqualValues(t, 512, stats.SizeByKind["artwork"])
	assert.EqualValues(t, 10, stats.SizeByKind["other"])
}

func TestFormatSize(t *testing.T) {
	assert.Equal(t, "512 B", FormatSize(512))
	assert.Equal(t, "1.0 KB", FormatSize(1024))
	assert.Equal(t, "1.5 MB", FormatSize(1536*1024))
}
