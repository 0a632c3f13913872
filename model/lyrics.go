package model

import (
	"database/sql/driver"
	"time"

	json "github.com/goccy/go-json"
)

// SyncedWord is a single time-aligned word.
type SyncedWord struct {
	Text    string `json:"text"`
	StartMs int64  `json:"startMs"`
	EndMs   int64  `json:"endMs"`
}

// SyncedLine is a time-aligned lyric line.
type SyncedLine struct {
	Text    string       `json:"text"`
	StartMs int64        `json:"startMs"`
	EndMs   int64        `json:"endMs"`
	Words   []SyncedWord `json:"words,omitempty"`
}

// SyncedLineList 自定义类型用于 GORM JSON 字段的自动扫描
type SyncedLineList []SyncedLine

// Scan 实现 sql.Scanner 接口
func (s *SyncedLineList) Scan(value interface{}) error {
	*s = nil
	_, err := scanJSON(value, s)
	return err
}

// Value 实现 driver.Valuer 接口
func (s SyncedLineList) Value() (driver.Value, error) {
	if s == nil {
		return nil, nil
	}
	b, err := json.Marshal(s)
	return string(b), err
}

// LyricsArtifact 生成或获取的歌词
type LyricsArtifact struct {
	ID          string         `json:"id" gorm:"primaryKey;size:36"`
	UserID      string         `json:"userId" gorm:"size:64;index:idx_lyrics_user_entry;not null"`
	EntryID     string         `json:"entryId,omitempty" gorm:"size:64;index:idx_lyrics_user_entry"`
	Content     string         `json:"content" gorm:"type:text;not null"`
	Title       string         `json:"title,omitempty" gorm:"size:255"`
	Language    string         `json:"language,omitempty" gorm:"size:16"`
	Style       string         `json:"style,omitempty" gorm:"size:128"`
	Mood        string         `json:"mood,omitempty" gorm:"size:128"`
	Tags        StringList     `json:"tags,omitempty" gorm:"type:text"`
	SyncedLines SyncedLineList `json:"syncedLines,omitempty" gorm:"type:text"`
	ClipID      string         `json:"clipId,omitempty" gorm:"size:128"`
	Visibility  Visibility     `json:"visibility" gorm:"size:16;not null"`
	CreatedAt   time.Time      `json:"createdAt"`
	UpdatedAt   time.Time      `json:"updatedAt"`
}

// TableName 指定表名
func (LyricsArtifact) TableName() string {
	return "lyrics"
}

// FreshFor reports whether the lyrics can be reused for an entry last modified at
// entryUpdatedAt. An entry edited after the lyrics were created invalidates them.
func (l *LyricsArtifact) FreshFor(entryUpdatedAt time.Time) bool {
	return !entryUpdatedAt.After(l.CreatedAt)
}
