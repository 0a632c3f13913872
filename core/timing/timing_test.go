package timing

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"Versewell/core/provider"
	"Versewell/db/dbtest"
	"Versewell/model"
	"Versewell/repository"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type fakeAligner struct {
	mu         sync.Mutex
	clipCalls  int
	audioCalls int
	clipFails  int
	audioErr   error
	audioBody  string
}

var testLines = []model.SyncedLine{{Text: "first light", StartMs: 0, EndMs: 1800}}

func (f *fakeAligner) AlignClip(_ context.Context, _, _ string) ([]model.SyncedLine, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clipCalls++
	if f.clipCalls <= f.clipFails {
		return nil, errors.New("clip not ready")
	}
	return testLines, nil
}

func (f *fakeAligner) AlignAudio(_ context.Context, path, _ string) ([]model.SyncedLine, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.audioCalls++
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	f.audioBody = string(b)
	if f.audioErr != nil {
		return nil, f.audioErr
	}
	return testLines, nil
}

type memStore map[string]string

func (m memStore) Open(_ context.Context, key string) (io.ReadCloser, error) {
	v, ok := m[key]
	if !ok {
		return nil, errors.New("no such key")
	}
	return io.NopCloser(strings.NewReader(v)), nil
}

type staticCaps map[string]provider.Capabilities

func (s staticCaps) GetProviderCapabilities(name string) (provider.Capabilities, bool) {
	c, ok := s[name]
	return c, ok
}

// stallingAligner blocks until its context ends.
type stallingAligner struct {
	started chan struct{}
	once    sync.Once
}

func (a *stallingAligner) AlignClip(ctx context.Context, _, _ string) ([]model.SyncedLine, error) {
	a.once.Do(func() { close(a.started) })
	<-ctx.Done()
	return nil, ctx.Err()
}

func (a *stallingAligner) AlignAudio(ctx context.Context, _, _ string) ([]model.SyncedLine, error) {
	return a.AlignClip(ctx, "", "")
}

type fixture struct {
	gdb     *gorm.DB
	worker  *Worker
	queue   *MemoryQueue
	syncs   repository.LyricsSyncRepository
	lyrics  repository.LyricsRepository
	tracks  *repository.TrackLibraries
	aligner *fakeAligner
}

func newFixture(t *testing.T, caps CapabilityLookup) *fixture {
	t.Helper()
	gdb := dbtest.New(t)
	f := &fixture{
		gdb:     gdb,
		queue:   NewMemoryQueue(),
		syncs:   repository.NewGormLyricsSyncRepository(gdb),
		lyrics:  repository.NewGormLyricsRepository(gdb),
		tracks:  repository.NewTrackLibraries(gdb),
		aligner: &fakeAligner{},
	}
	store := memStore{"audio/u1/a.mp3": "ID3-audio-bytes"}
	f.worker = NewWorker(f.queue, f.syncs, f.lyrics, f.tracks, f.aligner, store, caps, WorkerConfig{
		Concurrency: 2,
		Attempts:    3,
		RetryDelay:  0,
		PollTimeout: 20 * time.Millisecond,
	})
	return f
}

// seed stores lyrics and a track and returns a pending sync for them.
func (f *fixture) seed(t *testing.T, v model.Visibility, clipID, providerName string) *model.PendingLyricsSync {
	t.Helper()
	ctx := context.Background()
	l := &model.LyricsArtifact{UserID: "u1", Content: "first light\non the water", Visibility: v}
	require.NoError(t, f.lyrics.Create(ctx, l))
	track := &model.TrackRecord{UserID: "u1", Title: "Water", FileURL: "https://cdn/a.mp3", LyricsID: l.ID, Visibility: v}
	require.NoError(t, f.tracks.For(v).Create(ctx, track))

	item, err := f.worker.Enqueue(ctx, NewSyncParams{
		TrackID:    track.ID,
		LyricsID:   l.ID,
		ClipID:     clipID,
		Provider:   providerName,
		AudioKey:   "audio/u1/a.mp3",
		Visibility: v,
	})
	require.NoError(t, err)
	return item
}

func (f *fixture) assertSynced(t *testing.T, item *model.PendingLyricsSync) {
	t.Helper()
	ctx := context.Background()
	l, err := f.lyrics.GetByID(ctx, item.LyricsID)
	require.NoError(t, err)
	assert.Len(t, l.SyncedLines, 1)
	track, err := f.tracks.For(item.Visibility).GetByID(ctx, item.TrackID)
	require.NoError(t, err)
	require.NotNil(t, track)
	assert.True(t, track.HasSyncedLyrics)
}

func TestClipAlignmentRetriesThenSucceeds(t *testing.T) {
	f := newFixture(t, nil)
	f.aligner.clipFails = 1
	item := f.seed(t, model.VisibilityShared, "clip-1", "")

	require.NoError(t, f.worker.Process(context.Background(), item.ID))

	got, err := f.syncs.GetByID(context.Background(), item.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SyncStatusDone, got.Status)
	assert.Equal(t, 2, got.Attempts)
	assert.Equal(t, 0, f.aligner.audioCalls)
	f.assertSynced(t, item)

	l, _ := f.lyrics.GetByID(context.Background(), item.LyricsID)
	assert.Equal(t, "clip-1", l.ClipID)

	// the shared track lives in the catalog library only
	other, err := f.tracks.Personal.GetByID(context.Background(), item.TrackID)
	require.NoError(t, err)
	assert.Nil(t, other)
}

func TestFallsBackToAudioAfterClipAttempts(t *testing.T) {
	f := newFixture(t, nil)
	f.aligner.clipFails = 10
	item := f.seed(t, model.VisibilityPersonal, "clip-1", "")

	require.NoError(t, f.worker.Process(context.Background(), item.ID))

	got, err := f.syncs.GetByID(context.Background(), item.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SyncStatusDone, got.Status)
	assert.Equal(t, 3, f.aligner.clipCalls)
	assert.Equal(t, 1, f.aligner.audioCalls)
	assert.Equal(t, "ID3-audio-bytes", f.aligner.audioBody)
	assert.Equal(t, 4, got.Attempts)
	f.assertSynced(t, item)
}

func TestSkipsClipWhenProviderCannotAlign(t *testing.T) {
	caps := staticCaps{"basic": {SupportsSyncedLyrics: false}}
	f := newFixture(t, caps)
	item := f.seed(t, model.VisibilityPersonal, "clip-1", "basic")

	require.NoError(t, f.worker.Process(context.Background(), item.ID))
	assert.Equal(t, 0, f.aligner.clipCalls)
	assert.Equal(t, 1, f.aligner.audioCalls)
	f.assertSynced(t, item)
}

func TestBothMethodsFailMarksFailed(t *testing.T) {
	f := newFixture(t, nil)
	f.aligner.clipFails = 10
	f.aligner.audioErr = errors.New("no vocals detected")
	item := f.seed(t, model.VisibilityPersonal, "clip-1", "")

	require.NoError(t, f.worker.Process(context.Background(), item.ID))

	got, err := f.syncs.GetByID(context.Background(), item.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SyncStatusFailed, got.Status)
	assert.Contains(t, got.LastError, "no vocals detected")

	track, err := f.tracks.Personal.GetByID(context.Background(), item.TrackID)
	require.NoError(t, err)
	assert.False(t, track.HasSyncedLyrics)
}

func TestProcessSkipsClaimedItems(t *testing.T) {
	f := newFixture(t, nil)
	item := f.seed(t, model.VisibilityPersonal, "clip-1", "")
	ok, err := f.syncs.Claim(context.Background(), item.ID)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, f.worker.Process(context.Background(), item.ID))
	require.NoError(t, f.worker.Process(context.Background(), "missing"))
	assert.Equal(t, 0, f.aligner.clipCalls)
}

func TestRunDrainsQueue(t *testing.T) {
	f := newFixture(t, nil)
	items := []*model.PendingLyricsSync{
		f.seed(t, model.VisibilityPersonal, "clip-1", ""),
		f.seed(t, model.VisibilityShared, "clip-2", ""),
		f.seed(t, model.VisibilityPersonal, "", ""),
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.worker.Run(ctx) }()

	assert.Eventually(t, func() bool {
		for _, it := range items {
			got, err := f.syncs.GetByID(context.Background(), it.ID)
			if err != nil || got.Status != model.SyncStatusDone {
				return false
			}
		}
		return true
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}
}

func TestProcessWaitsUntilEligible(t *testing.T) {
	f := newFixture(t, nil)
	f.worker.cfg.InitialDelay = time.Hour
	item := f.seed(t, model.VisibilityPersonal, "clip-1", "")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, f.worker.Process(ctx, item.ID), context.DeadlineExceeded)

	got, err := f.syncs.GetByID(context.Background(), item.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SyncStatusPending, got.Status, "an early item stays pending")
}

func TestSweepRequeuesStaleItems(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	old := &model.PendingLyricsSync{TrackID: "t1", LyricsID: "l1", Visibility: model.VisibilityPersonal,
		CreatedAt: time.Now().Add(-time.Hour)}
	require.NoError(t, f.syncs.Create(ctx, old))
	fresh := &model.PendingLyricsSync{TrackID: "t2", LyricsID: "l2", Visibility: model.VisibilityPersonal}
	require.NoError(t, f.syncs.Create(ctx, fresh))

	s, err := NewSweeper("@every 1m", 10*time.Minute, f.syncs, f.queue)
	require.NoError(t, err)
	assert.Equal(t, 1, s.Sweep(ctx))

	id, err := f.queue.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, old.ID, id)

	_, err = NewSweeper("not a schedule", time.Minute, f.syncs, f.queue)
	assert.Error(t, err)
}

func TestCancelledAlignmentReturnsItemToPending(t *testing.T) {
	f := newFixture(t, nil)
	aligner := &stallingAligner{started: make(chan struct{})}
	f.worker.aligner = aligner
	item := f.seed(t, model.VisibilityPersonal, "clip-1", "")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.worker.Process(ctx, item.ID) }()

	select {
	case <-aligner.started:
	case <-time.After(2 * time.Second):
		t.Fatal("alignment did not start")
	}
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Process did not return after cancel")
	}

	got, err := f.syncs.GetByID(context.Background(), item.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SyncStatusPending, got.Status)
	assert.Empty(t, got.LastError)

	// the next worker picks it up normally
	f.worker.aligner = f.aligner
	require.NoError(t, f.worker.Process(context.Background(), item.ID))
	f.assertSynced(t, item)
}

func TestSweepRecoversItemsStuckInProcessing(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	item := &model.PendingLyricsSync{TrackID: "t1", LyricsID: "l1", Visibility: model.VisibilityPersonal,
		CreatedAt: time.Now().Add(-time.Hour)}
	require.NoError(t, f.syncs.Create(ctx, item))
	ok, err := f.syncs.Claim(ctx, item.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, f.gdb.Model(&model.PendingLyricsSync{}).Where("id = ?", item.ID).
		UpdateColumn("updated_at", time.Now().Add(-time.Hour)).Error)

	s, err := NewSweeper("@every 1m", 10*time.Minute, f.syncs, f.queue)
	require.NoError(t, err)
	assert.Equal(t, 1, s.Sweep(ctx))

	got, err := f.syncs.GetByID(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SyncStatusPending, got.Status)
	id, err := f.queue.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, item.ID, id)
}

func TestMemoryQueue(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()

	id, err := q.Dequeue(ctx, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, id)

	require.NoError(t, q.Enqueue(ctx, "a"))
	require.NoError(t, q.Enqueue(ctx, "b"))
	assert.Equal(t, 2, q.Len())

	id, _ = q.Dequeue(ctx, time.Second)
	assert.Equal(t, "a", id)
	id, _ = q.Dequeue(ctx, time.Second)
	assert.Equal(t, "b", id)

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	_, err = q.Dequeue(cctx, time.Second)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestClientAlignClip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/timing/clip", r.URL.Path)
		var body map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "clip-9", body["clipId"])
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true,"lines":[{"text":"hello","startMs":0,"endMs":900}]}`))
	}))
	defer srv.Close()

	lines, err := NewClient(srv.URL, time.Second).AlignClip(context.Background(), "clip-9", "hello")
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Equal(t, int64(900), lines[0].EndMs)
}

func TestClientAlignAudioUploadsMultipart(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/timing/audio", r.URL.Path)
		assert.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "hello", r.FormValue("lyrics"))
		f, hdr, err := r.FormFile("audio")
		if !assert.NoError(t, err) {
			return
		}
		defer f.Close()
		b, _ := io.ReadAll(f)
		assert.Equal(t, "track.mp3", hdr.Filename)
		assert.Equal(t, "bytes", string(b))
		_, _ = w.Write([]byte(`{"success":false,"error":"no vocals"}`))
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "track.mp3")
	require.NoError(t, os.WriteFile(path, []byte("bytes"), 0o600))

	_, err := NewClient(srv.URL, time.Second).AlignAudio(context.Background(), path, "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no vocals")
}

func TestClientRejectsEmptyLines(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":true,"lines":[]}`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, time.Second).AlignClip(context.Background(), "c", "l")
	assert.Error(t, err)
}
