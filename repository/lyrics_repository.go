package repository

import (
	"context"
	"errors"

	"Versewell/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// LyricsRepository 歌词数据访问接口
type LyricsRepository interface {
	Create(ctx context.Context, l *model.LyricsArtifact) error
	GetByID(ctx context.Context, id string) (*model.LyricsArtifact, error)
	// FindLatestByEntry returns the newest lyrics generated for an entry, or nil.
	FindLatestByEntry(ctx context.Context, userID, entryID string) (*model.LyricsArtifact, error)
	UpdateSyncedLines(ctx context.Context, id string, lines model.SyncedLineList) error
	UpdateClipID(ctx context.Context, id, clipID string) error
}

type gormLyricsRepository struct {
	db *gorm.DB
}

// NewGormLyricsRepository 创建 GORM 歌词仓库
func NewGormLyricsRepository(db *gorm.DB) LyricsRepository {
	return &gormLyricsRepository{db: db}
}

func (r *gormLyricsRepository) Create(ctx context.Context, l *model.LyricsArtifact) error {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	return r.db.WithContext(ctx).Create(l).Error
}

func (r *gormLyricsRepository) GetByID(ctx context.Context, id string) (*model.LyricsArtifact, error) {
	var l model.LyricsArtifact
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&l).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &l, nil
}

func (r *gormLyricsRepository) FindLatestByEntry(ctx context.Context, userID, entryID string) (*model.LyricsArtifact, error) {
	var l model.LyricsArtifact
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND entry_id = ?", userID, entryID).
		Order("created_at DESC").
		First(&l).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &l, nil
}

func (r *gormLyricsRepository) UpdateSyncedLines(ctx context.Context, id string, lines model.SyncedLineList) error {
	return r.db.WithContext(ctx).Model(&model.LyricsArtifact{}).
		Where("id = ?", id).
		Update("synced_lines", lines).Error
}

func (r *gormLyricsRepository) UpdateClipID(ctx context.Context, id, clipID string) error {
	return r.db.WithContext(ctx).Model(&model.LyricsArtifact{}).
		Where("id = ?", id).
		Update("clip_id", clipID).Error
}
