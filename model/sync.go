package model

import "time"

// PendingLyricsSync statuses.
const (
	SyncStatusPending    = "pending"
	SyncStatusProcessing = "processing"
	SyncStatusDone       = "done"
	SyncStatusFailed     = "failed"
)

// PendingLyricsSync 待同步歌词时间轴的任务
type PendingLyricsSync struct {
	ID         string     `json:"id" gorm:"primaryKey;size:36"`
	TrackID    string     `json:"trackId" gorm:"size:36;index;not null"`
	LyricsID   string     `json:"lyricsId" gorm:"size:36;not null"`
	ClipID     string     `json:"clipId,omitempty" gorm:"size:128"`
	Provider   string     `json:"provider,omitempty" gorm:"size:64"`
	AudioKey   string     `json:"audioKey,omitempty" gorm:"size:512"`
	Visibility Visibility `json:"visibility" gorm:"size:16;not null"`
	Status     string     `json:"status" gorm:"size:20;index;not null"`
	Attempts   int        `json:"attempts"`
	LastError  string     `json:"lastError,omitempty" gorm:"type:text"`
	NotBefore  time.Time  `json:"notBefore"`
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
}

// TableName 指定表名
func (PendingLyricsSync) TableName() string {
	return "pending_lyrics_syncs"
}
