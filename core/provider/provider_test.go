package provider

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"Versewell/errs"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubProvider struct {
	name    string
	healthy bool
	err     error
	calls   atomic.Int32
	caps    Capabilities
}

func (s *stubProvider) Name() string               { return s.name }
func (s *stubProvider) Capabilities() Capabilities { return s.caps }
func (s *stubProvider) Healthy() bool              { return s.healthy }

func (s *stubProvider) GenerateMusic(context.Context, MusicRequest) (*MusicResult, error) {
	s.calls.Add(1)
	if s.err != nil {
		return nil, s.err
	}
	return &MusicResult{ClipID: s.name + "-clip", AudioURLs: []string{"https://cdn/" + s.name + ".mp3"}}, nil
}

func TestFallbackInRegistrationOrder(t *testing.T) {
	primary := &stubProvider{name: "primary", healthy: true, err: errors.New("rate limited")}
	sick := &stubProvider{name: "sick", healthy: false}
	backup := &stubProvider{name: "backup", healthy: true}
	o := NewOrchestrator(primary, sick, backup)

	res, err := o.GenerateMusicWithFallback(context.Background(), MusicRequest{Lyrics: "la"})
	require.NoError(t, err)
	assert.Equal(t, "backup", res.Provider)
	assert.Equal(t, "https://cdn/backup.mp3", res.AudioURL())
	assert.EqualValues(t, 1, primary.calls.Load())
	assert.Zero(t, sick.calls.Load(), "unhealthy fallbacks are skipped")
}

func TestPrimaryTriedEvenWhenUnhealthy(t *testing.T) {
	primary := &stubProvider{name: "primary", healthy: false}
	o := NewOrchestrator(primary)

	res, err := o.GenerateMusicWithFallback(context.Background(), MusicRequest{})
	require.NoError(t, err)
	assert.Equal(t, "primary", res.Provider)
}

func TestReturnsLastFailure(t *testing.T) {
	first := &stubProvider{name: "a", healthy: true, err: errors.New("first down")}
	second := &stubProvider{name: "b", healthy: true, err: errors.New("second down")}
	o := NewOrchestrator(first, second)

	_, err := o.GenerateMusicWithFallback(context.Background(), MusicRequest{})
	require.Error(t, err)
	assert.Equal(t, errs.ProviderFailed, errs.CodeOf(err))
	assert.ErrorIs(t, err, second.err)
}

func TestNoProvider(t *testing.T) {
	_, err := NewOrchestrator().GenerateMusicWithFallback(context.Background(), MusicRequest{})
	assert.Equal(t, errs.NoProvider, errs.CodeOf(err))
}

func TestSetPrimaryAndCapabilities(t *testing.T) {
	a := &stubProvider{name: "a", healthy: true, err: errors.New("down")}
	b := &stubProvider{name: "b", healthy: true, caps: Capabilities{SupportsSyncedLyrics: true, MaxDurationSeconds: 240}}
	o := NewOrchestrator(a, b)
	require.NoError(t, o.SetPrimary("b"))
	assert.Error(t, o.SetPrimary("zzz"))

	res, err := o.GenerateMusicWithFallback(context.Background(), MusicRequest{})
	require.NoError(t, err)
	assert.Equal(t, "b", res.Provider)
	assert.Zero(t, a.calls.Load())

	caps, ok := o.GetProviderCapabilities("b")
	assert.True(t, ok)
	assert.True(t, caps.SupportsSyncedLyrics)
	assert.Equal(t, 240, caps.MaxDurationSeconds)
	_, ok = o.GetProviderCapabilities("missing")
	assert.False(t, ok)
	assert.Equal(t, []string{"a", "b"}, o.Providers())
}

func TestProxyProviderSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/music/generate", r.URL.Path)
		var req MusicRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "la la", req.Lyrics)
		assert.Equal(t, "folk", req.Style)
		_, _ = w.Write([]byte(`{"success":true,"clipId":"clip-9","audioUrls":["https://cdn.example.com/a.mp3"],"duration":181.5}`))
	}))
	defer srv.Close()

	p := NewProxyProvider(ProxyConfig{Name: "suno", BaseURL: srv.URL, Capabilities: Capabilities{SupportsSyncedLyrics: true}})
	res, err := p.GenerateMusic(context.Background(), MusicRequest{Lyrics: "la la", Style: "folk"})
	require.NoError(t, err)
	assert.Equal(t, "suno", res.Provider)
	assert.Equal(t, "clip-9", res.ClipID)
	assert.InDelta(t, 181.5, res.Duration, 1e-9)
	assert.True(t, p.Capabilities().SupportsSyncedLyrics)
}

func TestProxyProviderRejectsInvalidResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"success":true,"clipId":"c","audioUrls":[]}`))
	}))
	defer srv.Close()

	p := NewProxyProvider(ProxyConfig{Name: "bad", BaseURL: srv.URL})
	_, err := p.GenerateMusic(context.Background(), MusicRequest{})
	assert.Error(t, err)
}

func TestProxyProviderBreakerOpens(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{"success":false,"error":"upstream overloaded"}`))
	}))
	defer srv.Close()

	p := NewProxyProvider(ProxyConfig{Name: "flaky", BaseURL: srv.URL, TripAfter: 2, OpenFor: time.Hour})
	for i := 0; i < 2; i++ {
		_, err := p.GenerateMusic(context.Background(), MusicRequest{})
		require.Error(t, err)
	}
	assert.False(t, p.Healthy())

	_, err := p.GenerateMusic(context.Background(), MusicRequest{})
	require.Error(t, err)
	assert.EqualValues(t, 2, calls.Load(), "open breaker short-circuits")
}
