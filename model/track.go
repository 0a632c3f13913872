package model

import "time"

// Track statuses per library.
const (
	TrackStatusPublished = "published"
	TrackStatusActive    = "active"
)

// Library tables. A track lives in exactly one of them.
const (
	CatalogTracksTable  = "catalog_tracks"
	PersonalTracksTable = "personal_tracks"
)

// TrackRecord is a generated track: audio, artwork and metadata.
type TrackRecord struct {
	ID                  string     `json:"id" gorm:"primaryKey;size:36"`
	UserID              string     `json:"userId" gorm:"size:64;index;not null"`
	AlbumID             string     `json:"albumId,omitempty" gorm:"size:64;index"`
	Title               string     `json:"title" gorm:"size:255;not null"`
	FileURL             string     `json:"fileUrl" gorm:"size:1024;not null"`
	FileKey             string     `json:"-" gorm:"size:512"`
	ArtworkURL          string     `json:"artworkUrl,omitempty" gorm:"size:1024"`
	ArtworkKey          string     `json:"-" gorm:"size:512"`
	Duration            float64    `json:"duration"` // seconds
	FileSize            int64      `json:"fileSize"`
	LyricsID            string     `json:"lyricsId,omitempty" gorm:"size:36"`
	HasSyncedLyrics     bool       `json:"hasSyncedLyrics"`
	TrackNumber         int        `json:"trackNumber"`
	GenerationNumber    int        `json:"generationNumber"`
	Language            string     `json:"language,omitempty" gorm:"size:16"`
	Status              string     `json:"status" gorm:"size:20;not null"`
	Visibility          Visibility `json:"visibility" gorm:"size:16;not null"`
	VariantGroupID      string     `json:"variantGroupId,omitempty" gorm:"size:36;index"`
	GenerationRequestID string     `json:"generationRequestId,omitempty" gorm:"size:36;index"`
	Provider            string     `json:"provider,omitempty" gorm:"size:64"`
	ClipID              string     `json:"clipId,omitempty" gorm:"size:128"`
	Metadata            JSONMap    `json:"metadata,omitempty" gorm:"type:text"`
	CreatedAt           time.Time  `json:"createdAt"`
	UpdatedAt           time.Time  `json:"updatedAt"`
}

// LibraryTable returns the table that owns tracks of the given visibility.
func LibraryTable(v Visibility) string {
	if v.IsShared() {
		return CatalogTracksTable
	}
	return PersonalTracksTable
}
