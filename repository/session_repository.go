package repository

import (
	"context"
	"errors"
	"time"

	"Versewell/model"

	"gorm.io/gorm"
)

// SessionExtras are partial results recorded on a session while it is running.
// Empty fields are left untouched.
type SessionExtras struct {
	TrackID      string
	TrackTitle   string
	ArtworkURL   string
	StreamingURL string
	ArtworkError string
}

func (e SessionExtras) columns() map[string]interface{} {
	cols := map[string]interface{}{}
	if e.TrackID != "" {
		cols["track_id"] = e.TrackID
	}
	if e.TrackTitle != "" {
		cols["track_title"] = e.TrackTitle
	}
	if e.ArtworkURL != "" {
		cols["artwork_url"] = e.ArtworkURL
	}
	if e.StreamingURL != "" {
		cols["streaming_url"] = e.StreamingURL
	}
	if e.ArtworkError != "" {
		cols["artwork_error"] = e.ArtworkError
	}
	return cols
}

// SessionRepository 生成会话数据访问接口
type SessionRepository interface {
	Create(ctx context.Context, s *model.GenerationSession) error
	GetByID(ctx context.Context, id string) (*model.GenerationSession, error)
	// UpdateProgress moves a processing session forward. It reports false when the
	// update was rejected: percent or phase would go backwards, the session is no
	// longer processing, or the row is soft-deleted.
	UpdateProgress(ctx context.Context, id string, phase model.Phase, percent int) (bool, error)
	UpdateExtras(ctx context.Context, id string, extras SessionExtras) (bool, error)
	Complete(ctx context.Context, id string, extras SessionExtras) (bool, error)
	Fail(ctx context.Context, id string, message string) (bool, error)
	SoftDelete(ctx context.Context, id string) error
}

type gormSessionRepository struct {
	db *gorm.DB
}

// NewGormSessionRepository 创建 GORM 会话仓库
func NewGormSessionRepository(db *gorm.DB) SessionRepository {
	return &gormSessionRepository{db: db}
}

func (r *gormSessionRepository) Create(ctx context.Context, s *model.GenerationSession) error {
	s.PhaseRank = s.Phase.Rank()
	return r.db.WithContext(ctx).Create(s).Error
}

func (r *gormSessionRepository) GetByID(ctx context.Context, id string) (*model.GenerationSession, error) {
	var s model.GenerationSession
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&s).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

func (r *gormSessionRepository) UpdateProgress(ctx context.Context, id string, phase model.Phase, percent int) (bool, error) {
	res := r.db.WithContext(ctx).Model(&model.GenerationSession{}).
		Where("id = ? AND status = ? AND percent_complete <= ? AND phase_rank <= ?",
			id, model.SessionStatusProcessing, percent, phase.Rank()).
		Updates(map[string]interface{}{
			"phase":            phase,
			"phase_rank":       phase.Rank(),
			"percent_complete": percent,
		})
	return res.RowsAffected > 0, res.Error
}

func (r *gormSessionRepository) UpdateExtras(ctx context.Context, id string, extras SessionExtras) (bool, error) {
	cols := extras.columns()
	if len(cols) == 0 {
		return false, nil
	}
	res := r.db.WithContext(ctx).Model(&model.GenerationSession{}).
		Where("id = ? AND status = ?", id, model.SessionStatusProcessing).
		Updates(cols)
	return res.RowsAffected > 0, res.Error
}

func (r *gormSessionRepository) Complete(ctx context.Context, id string, extras SessionExtras) (bool, error) {
	now := time.Now()
	cols := extras.columns()
	cols["status"] = model.SessionStatusCompleted
	cols["phase"] = model.PhaseCompleted
	cols["phase_rank"] = model.PhaseCompleted.Rank()
	cols["percent_complete"] = 100
	cols["completed_at"] = now
	res := r.db.WithContext(ctx).Model(&model.GenerationSession{}).
		Where("id = ? AND status = ?", id, model.SessionStatusProcessing).
		Updates(cols)
	return res.RowsAffected > 0, res.Error
}

// Fail keeps the percent reached so far; failure is terminal from any phase.
func (r *gormSessionRepository) Fail(ctx context.Context, id string, message string) (bool, error) {
	now := time.Now()
	res := r.db.WithContext(ctx).Model(&model.GenerationSession{}).
		Where("id = ? AND status = ?", id, model.SessionStatusProcessing).
		Updates(map[string]interface{}{
			"status":        model.SessionStatusFailed,
			"phase":         model.PhaseFailed,
			"phase_rank":    model.PhaseFailed.Rank(),
			"error_message": message,
			"completed_at":  now,
		})
	return res.RowsAffected > 0, res.Error
}

func (r *gormSessionRepository) SoftDelete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Where("id = ?", id).Delete(&model.GenerationSession{}).Error
}
