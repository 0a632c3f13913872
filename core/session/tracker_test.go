package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"Versewell/db/dbtest"
	"Versewell/errs"
	"Versewell/model"
	"Versewell/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTracker(t *testing.T) (*Tracker, *LocalBus) {
	t.Helper()
	bus := NewLocalBus()
	return NewTracker(repository.NewGormSessionRepository(dbtest.New(t)), bus), bus
}

func TestCreateStartsAtFetchingContent(t *testing.T) {
	tr, _ := newTracker(t)
	s, err := tr.Create(context.Background(), CreateParams{UserID: "u1", Visibility: model.VisibilityShared})
	require.NoError(t, err)

	got, err := tr.Get(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, model.PhaseFetchingContent, got.Phase)
	assert.Equal(t, 0, got.PercentComplete)
	assert.Equal(t, model.SessionStatusProcessing, got.Status)
	assert.Equal(t, model.VisibilityShared, got.TargetVisibility)

	_, err = tr.Create(context.Background(), CreateParams{})
	assert.Equal(t, errs.MissingInput, errs.CodeOf(err))
}

func TestPercentNeverDecreases(t *testing.T) {
	tr, _ := newTracker(t)
	ctx := context.Background()
	s, err := tr.Create(ctx, CreateParams{UserID: "u1", Visibility: model.VisibilityPersonal})
	require.NoError(t, err)

	steps := []struct {
		phase   model.Phase
		percent int
	}{
		{model.PhaseGeneratingLyrics, 10},
		{model.PhaseGeneratingLyrics, 25},
		{model.PhaseGeneratingLyrics, 15},
		{model.PhaseGeneratingArtwork, 30},
		{model.PhaseGeneratingLyrics, 40},
		{model.PhaseGeneratingMusic, 60},
		{model.PhaseSaving, 150},
	}
	last := 0
	for _, st := range steps {
		_, err := tr.UpdatePhase(ctx, s.ID, st.phase, st.percent, nil)
		require.NoError(t, err)
		got, err := tr.Get(ctx, s.ID)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, got.PercentComplete, last)
		last = got.PercentComplete
	}
	got, _ := tr.Get(ctx, s.ID)
	assert.Equal(t, model.PhaseSaving, got.Phase)
	assert.Equal(t, 100, got.PercentComplete)

	_, err = tr.UpdatePhase(ctx, s.ID, model.PhaseCompleted, 100, nil)
	assert.Error(t, err, "terminal phases go through MarkCompleted/MarkFailed")
}

func TestExtrasAndCompletion(t *testing.T) {
	tr, _ := newTracker(t)
	ctx := context.Background()
	s, err := tr.Create(ctx, CreateParams{UserID: "u1", Visibility: model.VisibilityPersonal})
	require.NoError(t, err)

	changed, err := tr.UpdatePhase(ctx, s.ID, model.PhaseGeneratingArtwork, 40, &Extras{ArtworkURL: "https://cdn/a.png"})
	require.NoError(t, err)
	assert.True(t, changed)

	require.NoError(t, tr.MarkCompleted(ctx, s.ID, Extras{TrackID: "t1", TrackTitle: "Song"}))
	require.NoError(t, tr.MarkFailed(ctx, s.ID, "too late"))

	got, err := tr.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SessionStatusCompleted, got.Status)
	assert.Equal(t, "https://cdn/a.png", got.ArtworkURL)
	assert.Equal(t, "t1", got.TrackID)
	assert.Empty(t, got.ErrorMessage)
}

func TestDeletedSessionIgnoresUpdates(t *testing.T) {
	tr, _ := newTracker(t)
	ctx := context.Background()
	s, err := tr.Create(ctx, CreateParams{UserID: "u1", Visibility: model.VisibilityPersonal})
	require.NoError(t, err)
	require.NoError(t, tr.Delete(ctx, s.ID))

	changed, err := tr.UpdatePhase(ctx, s.ID, model.PhaseSaving, 90, nil)
	require.NoError(t, err)
	assert.False(t, changed)
	require.NoError(t, tr.MarkFailed(ctx, s.ID, "boom"))

	_, err = tr.Get(ctx, s.ID)
	assert.Equal(t, errs.SessionNotFound, errs.CodeOf(err))
}

func TestProgressEventsArePublished(t *testing.T) {
	tr, _ := newTracker(t)
	ctx := context.Background()
	s, err := tr.Create(ctx, CreateParams{UserID: "u1", Visibility: model.VisibilityPersonal})
	require.NoError(t, err)

	events, cancel, err := tr.Subscribe(ctx, s.ID)
	require.NoError(t, err)
	defer cancel()

	_, err = tr.UpdatePhase(ctx, s.ID, model.PhaseGeneratingLyrics, 20, nil)
	require.NoError(t, err)
	require.NoError(t, tr.MarkFailed(ctx, s.ID, "provider down"))

	ev := <-events
	assert.Equal(t, model.PhaseGeneratingLyrics, ev.Phase)
	assert.Equal(t, 20, ev.PercentComplete)
	ev = <-events
	assert.True(t, ev.Terminal())
	assert.Equal(t, "provider down", ev.ErrorMessage)
}

func TestCompensateRunsConcurrentlyAndIsolatesFailures(t *testing.T) {
	tr, _ := newTracker(t)

	var ran atomic.Int32
	release := make(chan struct{})
	var started sync.WaitGroup
	started.Add(3)
	blocking := func(err error) func(context.Context) error {
		return func(context.Context) error {
			started.Done()
			<-release
			ran.Add(1)
			return err
		}
	}
	actions := []UndoAction{
		{Description: "delete artwork", Run: blocking(nil)},
		{Description: "delete audio", Run: blocking(errors.New("storage unavailable"))},
		{Description: "delete preview", Run: blocking(nil)},
		{Description: "broken", Run: func(context.Context) error { panic("bug") }},
	}

	done := make(chan CompensationReport)
	go func() { done <- tr.Compensate(context.Background(), "s1", actions) }()

	// all three blocking actions must be running at once
	waited := make(chan struct{})
	go func() { started.Wait(); close(waited) }()
	select {
	case <-waited:
	case <-time.After(2 * time.Second):
		t.Fatal("undo actions did not run concurrently")
	}
	close(release)

	report := <-done
	assert.Equal(t, 4, report.Attempted)
	assert.Equal(t, 2, report.Failed)
	assert.EqualValues(t, 3, ran.Load())
}

func TestLocalBusUnsubscribe(t *testing.T) {
	bus := NewLocalBus()
	ctx, cancelCtx := context.WithCancel(context.Background())

	ch1, cancel1, err := bus.Subscribe(ctx, "s1")
	require.NoError(t, err)
	_, cancel2, err := bus.Subscribe(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, 2, bus.subscribers("s1"))

	cancelCtx()
	_, open := <-ch1
	assert.False(t, open)
	assert.Equal(t, 1, bus.subscribers("s1"))

	cancel1()
	cancel2()
	cancel2()
	assert.Equal(t, 0, bus.subscribers("s1"))
}
