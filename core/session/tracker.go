// Package session records generation progress and runs compensation when a
// generation fails part way through.
package session

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"Versewell/errs"
	"Versewell/logger"
	"Versewell/metrics"
	"Versewell/model"
	"Versewell/repository"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"
)

// Extras are partial results attached to a session.
type Extras = repository.SessionExtras

// UndoAction reverses one external side effect, such as a stored file.
type UndoAction struct {
	Description string
	Run         func(ctx context.Context) error
}

// CompensationReport summarizes a compensation pass.
type CompensationReport struct {
	Attempted int
	Failed    int
}

// CreateParams describe a new session.
type CreateParams struct {
	UserID     string
	Visibility model.Visibility
	AlbumID    string
	EntryID    string
}

// Tracker persists session progress. Updates that would move a session
// backwards, or touch a finished or deleted session, are ignored.
type Tracker struct {
	repo repository.SessionRepository
	bus  ProgressBus
	log  *zap.Logger
}

// NewTracker 创建会话追踪器。bus 可以为 nil。
func NewTracker(repo repository.SessionRepository, bus ProgressBus) *Tracker {
	return &Tracker{repo: repo, bus: bus, log: logger.Named("session")}
}

// Create inserts a processing session at fetching_content, 0%.
func (t *Tracker) Create(ctx context.Context, p CreateParams) (*model.GenerationSession, error) {
	if p.UserID == "" {
		return nil, errs.New(errs.MissingInput, "user id is required")
	}
	s := &model.GenerationSession{
		ID:               uuid.NewString(),
		UserID:           p.UserID,
		TargetVisibility: p.Visibility,
		AlbumID:          p.AlbumID,
		EntryID:          p.EntryID,
		Status:           model.SessionStatusProcessing,
		Phase:            model.PhaseFetchingContent,
		PercentComplete:  0,
		StartedAt:        time.Now(),
	}
	if err := t.repo.Create(ctx, s); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	t.publish(ctx, s.ID)
	return s, nil
}

// UpdatePhase moves the session forward. It reports whether anything changed.
func (t *Tracker) UpdatePhase(ctx context.Context, id string, phase model.Phase, percent int, extras *Extras) (bool, error) {
	if phase.Terminal() {
		return false, fmt.Errorf("phase %s is terminal, use MarkCompleted or MarkFailed", phase)
	}
	percent = clampPercent(percent)

	advanced, err := t.repo.UpdateProgress(ctx, id, phase, percent)
	if err != nil {
		return false, fmt.Errorf("update session %s: %w", id, err)
	}
	changed := advanced
	if extras != nil {
		ok, err := t.repo.UpdateExtras(ctx, id, *extras)
		if err != nil {
			return changed, fmt.Errorf("update session %s extras: %w", id, err)
		}
		changed = changed || ok
	}
	if !advanced {
		t.log.Debug("忽略非单调的进度更新",
			logger.String("sessionId", id),
			logger.String("phase", string(phase)),
			logger.Int("percent", percent))
	}
	if changed {
		t.publish(ctx, id)
	}
	return changed, nil
}

// MarkCompleted records the produced track and finishes the session.
func (t *Tracker) MarkCompleted(ctx context.Context, id string, extras Extras) error {
	ok, err := t.repo.Complete(ctx, id, extras)
	if err != nil {
		return fmt.Errorf("complete session %s: %w", id, err)
	}
	if ok {
		t.publish(ctx, id)
	}
	return nil
}

// MarkFailed records message and finishes the session.
func (t *Tracker) MarkFailed(ctx context.Context, id, message string) error {
	ok, err := t.repo.Fail(ctx, id, message)
	if err != nil {
		return fmt.Errorf("fail session %s: %w", id, err)
	}
	if ok {
		t.publish(ctx, id)
	}
	return nil
}

// Get returns the session or a SESSION_NOT_FOUND error.
func (t *Tracker) Get(ctx context.Context, id string) (*model.GenerationSession, error) {
	s, err := t.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get session %s: %w", id, err)
	}
	if s == nil {
		return nil, errs.Newf(errs.SessionNotFound, "session %s not found", id)
	}
	return s, nil
}

// Delete tombstones the session.
func (t *Tracker) Delete(ctx context.Context, id string) error {
	return t.repo.SoftDelete(ctx, id)
}

// Subscribe streams progress events for id.
func (t *Tracker) Subscribe(ctx context.Context, id string) (<-chan model.ProgressEvent, func(), error) {
	if t.bus == nil {
		return nil, nil, fmt.Errorf("progress streaming is not configured")
	}
	return t.bus.Subscribe(ctx, id)
}

// Compensate runs every undo action concurrently. A failing or panicking action is
// logged and does not affect the others; compensation itself never fails.
func (t *Tracker) Compensate(ctx context.Context, id string, actions []UndoAction) CompensationReport {
	report := CompensationReport{Attempted: len(actions)}
	if len(actions) == 0 {
		return report
	}

	var failed atomic.Int32
	p := pool.New()
	for _, a := range actions {
		p.Go(func() {
			err := runUndo(ctx, a)
			metrics.RecordCompensation(err)
			if err != nil {
				failed.Add(1)
				t.log.Warn("补偿操作失败",
					logger.String("sessionId", id),
					logger.String("action", a.Description),
					logger.ErrorField(err))
				return
			}
			t.log.Info("补偿操作完成",
				logger.String("sessionId", id),
				logger.String("action", a.Description))
		})
	}
	p.Wait()

	report.Failed = int(failed.Load())
	return report
}

func runUndo(ctx context.Context, a UndoAction) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	if a.Run == nil {
		return nil
	}
	return a.Run(ctx)
}

func (t *Tracker) publish(ctx context.Context, id string) {
	if t.bus == nil {
		return
	}
	s, err := t.repo.GetByID(ctx, id)
	if err != nil || s == nil {
		return
	}
	if err := t.bus.Publish(ctx, model.EventFromSession(s)); err != nil {
		t.log.Warn("发布进度事件失败", logger.String("sessionId", id), logger.ErrorField(err))
	}
}

func clampPercent(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
