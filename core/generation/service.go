package generation

import (
	"context"
	"fmt"
	"time"

	"Versewell/core/session"
	"Versewell/errs"
	"Versewell/logger"
	"Versewell/metrics"
	"Versewell/model"

	"github.com/go-playground/validator/v10"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/iter"
	"go.uber.org/zap"
)

// AlbumRequest generates several tracks for one album.
type AlbumRequest struct {
	UserID     string           `json:"userId" validate:"required"`
	AlbumID    string           `json:"albumId" validate:"required"`
	Visibility model.Visibility `json:"visibility" validate:"omitempty,oneof=personal shared public"`
	Tracks     []TrackRequest   `json:"tracks" validate:"required,min=1,max=20,dive"`
}

// Service runs generations inside tracked sessions.
type Service struct {
	orch     *Orchestrator
	tracker  *session.Tracker
	validate *validator.Validate
	inflight conc.WaitGroup
	log      *zap.Logger
}

// NewService 创建生成服务
func NewService(orch *Orchestrator, tracker *session.Tracker) *Service {
	return &Service{
		orch:     orch,
		tracker:  tracker,
		validate: validator.New(),
		log:      logger.Named("generation.service"),
	}
}

// Generate runs a generation to completion. The returned error is only for
// requests that could not start; generation failures are reported in the Result.
func (s *Service) Generate(ctx context.Context, req TrackRequest) (*Result, error) {
	sess, err := s.open(ctx, req)
	if err != nil {
		return nil, err
	}
	return s.run(ctx, sess.ID, req), nil
}

// Start creates the session and generates in the background.
func (s *Service) Start(ctx context.Context, req TrackRequest) (*model.GenerationSession, error) {
	sess, err := s.open(ctx, req)
	if err != nil {
		return nil, err
	}
	s.launch(ctx, sess.ID, req)
	return sess, nil
}

// GenerateAlbum generates all tracks concurrently and waits for them. Results
// are in request order. Every track has its own session.
func (s *Service) GenerateAlbum(ctx context.Context, req AlbumRequest) ([]*Result, error) {
	tracks, err := s.albumTracks(req)
	if err != nil {
		return nil, err
	}
	return iter.Map(tracks, func(t *TrackRequest) *Result {
		res, err := s.Generate(ctx, *t)
		if err != nil {
			return &Result{Code: errs.CodeOf(err), Error: errs.MessageOf(err)}
		}
		return res
	}), nil
}

// StartAlbum creates one session per track and generates them in the background.
func (s *Service) StartAlbum(ctx context.Context, req AlbumRequest) ([]*model.GenerationSession, error) {
	tracks, err := s.albumTracks(req)
	if err != nil {
		return nil, err
	}
	sessions := make([]*model.GenerationSession, 0, len(tracks))
	for _, t := range tracks {
		sess, err := s.Start(ctx, t)
		if err != nil {
			return sessions, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, nil
}

// Wait blocks until background generations finish.
func (s *Service) Wait() {
	s.inflight.Wait()
}

func (s *Service) albumTracks(req AlbumRequest) ([]TrackRequest, error) {
	tracks := make([]TrackRequest, len(req.Tracks))
	for i, t := range req.Tracks {
		t.UserID = req.UserID
		t.AlbumID = req.AlbumID
		if t.Visibility == "" {
			t.Visibility = req.Visibility
		}
		if t.Order == 0 {
			t.Order = i + 1
		}
		tracks[i] = t
	}
	req.Tracks = tracks
	if err := s.validate.Struct(req); err != nil {
		return nil, errs.Wrap(errs.InvalidRequest, err, "invalid album request")
	}
	return tracks, nil
}

func (s *Service) open(ctx context.Context, req TrackRequest) (*model.GenerationSession, error) {
	if req.UserID == "" {
		return nil, errs.New(errs.MissingInput, "user id is required")
	}
	if err := s.validate.Struct(req); err != nil {
		return nil, errs.Wrap(errs.InvalidRequest, err, "invalid generation request")
	}
	if req.EntryID == "" && req.LyricsID == "" && req.Snapshot == nil {
		return nil, errs.New(errs.MissingInput, "an entry id, entry or lyrics id is required")
	}
	return s.tracker.Create(ctx, session.CreateParams{
		UserID:     req.UserID,
		Visibility: model.ParseVisibility(string(req.Visibility)),
		AlbumID:    req.AlbumID,
		EntryID:    req.EntryID,
	})
}

func (s *Service) launch(ctx context.Context, sessionID string, req TrackRequest) {
	detached := context.WithoutCancel(ctx)
	s.inflight.Go(func() {
		s.run(detached, sessionID, req)
	})
}

// run executes the saga for one session. It is the single place where unexpected
// panics are turned into a failed session.
func (s *Service) run(ctx context.Context, sessionID string, req TrackRequest) (res *Result) {
	ctx = context.WithoutCancel(ctx)
	start := time.Now()
	undo := &undoLog{}
	req.GenerationRequestID = sessionID
	req.Visibility = model.ParseVisibility(string(req.Visibility))

	defer func() {
		if r := recover(); r != nil {
			s.log.Error("生成流程发生未预期的 panic",
				logger.String("sessionId", sessionID),
				logger.Any("panic", r),
				zap.Stack("stack"))
			res = &Result{
				Code:  errs.InternalError,
				Error: fmt.Sprintf("internal error: %v", r),
				Undo:  undo.actions(),
			}
		}
		res.SessionID = sessionID
		s.finish(ctx, sessionID, res, time.Since(start))
	}()

	return s.orch.generate(ctx, req, s.progressFor(ctx, sessionID), undo)
}

func (s *Service) finish(ctx context.Context, sessionID string, res *Result, elapsed time.Duration) {
	if res.Success {
		metrics.RecordGeneration(metrics.ResultOK, elapsed)
		extras := session.Extras{
			TrackTitle:   res.Title,
			ArtworkURL:   res.ArtworkURL,
			StreamingURL: res.AudioURL,
			ArtworkError: res.ArtworkError,
		}
		if res.Track != nil {
			extras.TrackID = res.Track.ID
		}
		if err := s.tracker.MarkCompleted(ctx, sessionID, extras); err != nil {
			s.log.Error("标记会话完成失败", logger.String("sessionId", sessionID), logger.ErrorField(err))
		}
		return
	}

	metrics.RecordGeneration(string(res.Code), elapsed)
	if err := s.tracker.MarkFailed(ctx, sessionID, res.Error); err != nil {
		s.log.Error("标记会话失败状态失败", logger.String("sessionId", sessionID), logger.ErrorField(err))
	}
	report := s.tracker.Compensate(ctx, sessionID, res.Undo)
	s.log.Info("生成失败，已执行补偿",
		logger.String("sessionId", sessionID),
		logger.String("code", string(res.Code)),
		logger.Int("attempted", report.Attempted),
		logger.Int("failed", report.Failed),
		logger.Duration("elapsed", elapsed))
}

// progressFor maps orchestrator stages onto session phases.
func (s *Service) progressFor(ctx context.Context, sessionID string) ProgressFunc {
	return func(stage Stage, weight int, p Partial) {
		var extras *session.Extras
		if p.Title != "" || p.ArtworkURL != "" || p.AudioURL != "" || p.TrackID != "" {
			extras = &session.Extras{
				TrackID:      p.TrackID,
				TrackTitle:   p.Title,
				ArtworkURL:   p.ArtworkURL,
				StreamingURL: p.AudioURL,
			}
		}
		if _, err := s.tracker.UpdatePhase(ctx, sessionID, PhaseOf(stage), weight, extras); err != nil {
			s.log.Warn("更新会话进度失败",
				logger.String("sessionId", sessionID),
				logger.String("stage", string(stage)),
				logger.ErrorField(err))
		}
	}
}

// PhaseOf returns the session phase a stage belongs to.
func PhaseOf(stage Stage) model.Phase {
	switch stage {
	case StageLyrics:
		return model.PhaseGeneratingLyrics
	case StageArtwork:
		return model.PhaseGeneratingArtwork
	case StageAudio:
		return model.PhaseGeneratingMusic
	default:
		return model.PhaseSaving
	}
}
