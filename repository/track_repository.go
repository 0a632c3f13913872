package repository

import (
	"context"
	"errors"
	"fmt"

	"Versewell/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// TrackRepository persists tracks of one library (catalog or personal).
type TrackRepository interface {
	Table() string
	Create(ctx context.Context, track *model.TrackRecord) error
	GetByID(ctx context.Context, id string) (*model.TrackRecord, error)
	MarkSyncedLyrics(ctx context.Context, id string) error
	NextGenerationNumber(ctx context.Context, variantGroupID string) (int, error)
}

type gormTrackRepository struct {
	db    *gorm.DB
	table string
	state string
}

// NewCatalogTrackRepository 共享/公开曲库
func NewCatalogTrackRepository(db *gorm.DB) TrackRepository {
	return &gormTrackRepository{db: db, table: model.CatalogTracksTable, state: model.TrackStatusPublished}
}

// NewPersonalTrackRepository 个人曲库
func NewPersonalTrackRepository(db *gorm.DB) TrackRepository {
	return &gormTrackRepository{db: db, table: model.PersonalTracksTable, state: model.TrackStatusActive}
}

func (r *gormTrackRepository) Table() string {
	return r.table
}

func (r *gormTrackRepository) Create(ctx context.Context, track *model.TrackRecord) error {
	if track.ID == "" {
		track.ID = uuid.NewString()
	}
	if track.Status == "" {
		track.Status = r.state
	}
	if err := r.db.WithContext(ctx).Table(r.table).Create(track).Error; err != nil {
		return fmt.Errorf("failed to create track in %s: %w", r.table, err)
	}
	return nil
}

func (r *gormTrackRepository) GetByID(ctx context.Context, id string) (*model.TrackRecord, error) {
	var track model.TrackRecord
	err := r.db.WithContext(ctx).Table(r.table).Where("id = ?", id).First(&track).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &track, nil
}

func (r *gormTrackRepository) MarkSyncedLyrics(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Table(r.table).
		Where("id = ?", id).
		Update("has_synced_lyrics", true).Error
}

func (r *gormTrackRepository) NextGenerationNumber(ctx context.Context, variantGroupID string) (int, error) {
	if variantGroupID == "" {
		return 1, nil
	}
	var max int
	err := r.db.WithContext(ctx).Table(r.table).
		Where("variant_group_id = ?", variantGroupID).
		Select("COALESCE(MAX(generation_number), 0)").
		Scan(&max).Error
	if err != nil {
		return 0, err
	}
	return max + 1, nil
}

// TrackLibraries routes tracks to the repository that owns their visibility.
type TrackLibraries struct {
	Catalog  TrackRepository
	Personal TrackRepository
}

// NewTrackLibraries 创建两个曲库仓库
func NewTrackLibraries(db *gorm.DB) *TrackLibraries {
	return &TrackLibraries{
		Catalog:  NewCatalogTrackRepository(db),
		Personal: NewPersonalTrackRepository(db),
	}
}

// For returns the single authoritative repository for v.
func (l *TrackLibraries) For(v model.Visibility) TrackRepository {
	if v.IsShared() {
		return l.Catalog
	}
	return l.Personal
}
