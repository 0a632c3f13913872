package repository

import (
	"context"
	"errors"
	"time"

	"Versewell/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// LyricsSyncRepository 歌词时间轴同步任务数据访问接口
type LyricsSyncRepository interface {
	Create(ctx context.Context, item *model.PendingLyricsSync) error
	GetByID(ctx context.Context, id string) (*model.PendingLyricsSync, error)
	// Claim moves a pending item to processing. It reports false when another
	// worker already claimed it or it is no longer pending.
	Claim(ctx context.Context, id string) (bool, error)
	// Release returns a processing item to pending, e.g. when its worker shuts down.
	Release(ctx context.Context, id string) error
	// ResetStuck returns processing items not updated since olderThan to pending.
	ResetStuck(ctx context.Context, olderThan time.Time) (int64, error)
	MarkDone(ctx context.Context, id string, attempts int) error
	MarkFailed(ctx context.Context, id string, attempts int, lastErr string) error
	// ListStale returns pending items created before olderThan.
	ListStale(ctx context.Context, olderThan time.Time, limit int) ([]*model.PendingLyricsSync, error)
}

type gormLyricsSyncRepository struct {
	db *gorm.DB
}

// NewGormLyricsSyncRepository 创建 GORM 同步任务仓库
func NewGormLyricsSyncRepository(db *gorm.DB) LyricsSyncRepository {
	return &gormLyricsSyncRepository{db: db}
}

func (r *gormLyricsSyncRepository) Create(ctx context.Context, item *model.PendingLyricsSync) error {
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if item.Status == "" {
		item.Status = model.SyncStatusPending
	}
	return r.db.WithContext(ctx).Create(item).Error
}

func (r *gormLyricsSyncRepository) GetByID(ctx context.Context, id string) (*model.PendingLyricsSync, error) {
	var item model.PendingLyricsSync
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&item).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &item, nil
}

func (r *gormLyricsSyncRepository) Claim(ctx context.Context, id string) (bool, error) {
	res := r.db.WithContext(ctx).Model(&model.PendingLyricsSync{}).
		Where("id = ? AND status = ?", id, model.SyncStatusPending).
		Update("status", model.SyncStatusProcessing)
	return res.RowsAffected > 0, res.Error
}

func (r *gormLyricsSyncRepository) Release(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Model(&model.PendingLyricsSync{}).
		Where("id = ? AND status = ?", id, model.SyncStatusProcessing).
		Update("status", model.SyncStatusPending).Error
}

func (r *gormLyricsSyncRepository) ResetStuck(ctx context.Context, olderThan time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Model(&model.PendingLyricsSync{}).
		Where("status = ? AND updated_at < ?", model.SyncStatusProcessing, olderThan).
		Update("status", model.SyncStatusPending)
	return res.RowsAffected, res.Error
}

func (r *gormLyricsSyncRepository) MarkDone(ctx context.Context, id string, attempts int) error {
	return r.db.WithContext(ctx).Model(&model.PendingLyricsSync{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":     model.SyncStatusDone,
			"attempts":   attempts,
			"last_error": "",
		}).Error
}

func (r *gormLyricsSyncRepository) MarkFailed(ctx context.Context, id string, attempts int, lastErr string) error {
	return r.db.WithContext(ctx).Model(&model.PendingLyricsSync{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":     model.SyncStatusFailed,
			"attempts":   attempts,
			"last_error": lastErr,
		}).Error
}

func (r *gormLyricsSyncRepository) ListStale(ctx context.Context, olderThan time.Time, limit int) ([]*model.PendingLyricsSync, error) {
	var items []*model.PendingLyricsSync
	err := r.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", model.SyncStatusPending, olderThan).
		Order("created_at ASC").
		Limit(limit).
		Find(&items).Error
	return items, err
}
