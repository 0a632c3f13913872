package model

import (
	"time"

	"gorm.io/gorm"
)

// Phase is the coarse progress state of a generation session.
type Phase string

const (
	PhaseQueued            Phase = "queued"
	PhaseFetchingContent   Phase = "fetching_content"
	PhaseGeneratingLyrics  Phase = "generating_lyrics"
	PhaseGeneratingArtwork Phase = "generating_artwork"
	PhaseGeneratingMusic   Phase = "generating_music"
	PhaseSaving            Phase = "saving"
	PhaseCompleted         Phase = "completed"
	PhaseFailed            Phase = "failed"
)

var phaseRanks = map[Phase]int{
	PhaseQueued:            0,
	PhaseFetchingContent:   1,
	PhaseGeneratingLyrics:  2,
	PhaseGeneratingArtwork: 3,
	PhaseGeneratingMusic:   4,
	PhaseSaving:            5,
	PhaseCompleted:         6,
	PhaseFailed:            7,
}

// Rank orders phases; forward transitions never decrease it. Unknown phases rank -1.
func (p Phase) Rank() int {
	if r, ok := phaseRanks[p]; ok {
		return r
	}
	return -1
}

// Terminal reports whether no further transitions are allowed.
func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseFailed
}

// Session statuses.
const (
	SessionStatusProcessing = "processing"
	SessionStatusCompleted  = "completed"
	SessionStatusFailed     = "failed"
)

// GenerationSession 一次音乐生成的进度记录
type GenerationSession struct {
	ID               string         `json:"id" gorm:"primaryKey;size:36"`
	UserID           string         `json:"userId" gorm:"size:64;index;not null"`
	TargetVisibility Visibility     `json:"targetVisibility" gorm:"size:16;not null"`
	AlbumID          string         `json:"albumId,omitempty" gorm:"size:64;index"`
	EntryID          string         `json:"entryId,omitempty" gorm:"size:64"`
	Status           string         `json:"status" gorm:"size:20;index;not null"`
	Phase            Phase          `json:"phase" gorm:"size:32;not null"`
	PhaseRank        int            `json:"-" gorm:"not null;default:0"`
	PercentComplete  int            `json:"percentComplete" gorm:"not null;default:0"`
	TrackID          string         `json:"trackId,omitempty" gorm:"size:36"`
	TrackTitle       string         `json:"trackTitle,omitempty" gorm:"size:255"`
	ArtworkURL       string         `json:"artworkUrl,omitempty" gorm:"size:1024"`
	StreamingURL     string         `json:"streamingUrl,omitempty" gorm:"size:1024"`
	ErrorMessage     string         `json:"errorMessage,omitempty" gorm:"type:text"`
	ArtworkError     string         `json:"artworkError,omitempty" gorm:"type:text"`
	StartedAt        time.Time      `json:"startedAt"`
	CompletedAt      *time.Time     `json:"completedAt,omitempty"`
	CreatedAt        time.Time      `json:"createdAt"`
	UpdatedAt        time.Time      `json:"updatedAt"`
	DeletedAt        gorm.DeletedAt `json:"-" gorm:"index"`
}

// TableName 指定表名
func (GenerationSession) TableName() string {
	return "generation_sessions"
}
