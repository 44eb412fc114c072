package model

import (
	"errors"
	"strings"
	"time"
)

// SourceKind 标识曲目的来源类型，创建后不可变
type SourceKind string

const (
	SourceLocal SourceKind = "local" // 上传到对象存储的音频文件
	SourceVideo SourceKind = "video" // 视频平台引用（URL 或视频 ID）
	SourceURL   SourceKind = "url"   // 外部可直接播放的 URL
)

var (
	ErrNoSource        = errors.New("track has no source reference")
	ErrMultipleSources = errors.New("track has more than one source reference")
	ErrSourceMismatch  = errors.New("track source kind does not match its reference")
)

// Track represents a playable item in a user's library.
// Exactly one of FilePath, VideoRef, ExternalURL is populated.
type Track struct {
	ID           int64      `json:"id" gorm:"primaryKey;autoIncrement"`
	UserID       int64      `json:"userId" gorm:"index;not null"`
	Title        string     `json:"title" gorm:"size:255;not null"`
	Artist       string     `json:"artist" gorm:"size:255"`
	Album        string     `json:"album" gorm:"size:255"`
	SourceKind   SourceKind `json:"sourceKind" gorm:"size:16;not null"`
	FilePath     string     `json:"-" gorm:"size:767"` // 对象存储 key，不直接暴露
	VideoRef     string     `json:"videoRef,omitempty" gorm:"size:255"`
	ExternalURL  string     `json:"externalUrl,omitempty" gorm:"size:2048"`
	CoverArtPath string     `json:"coverArtPath,omitempty" gorm:"size:767"`
	Duration     float64    `json:"duration"` // 时长提示（秒），0 表示未知
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

// TableName 指定表名
func (Track) TableName() string {
	return "tracks"
}

// Validate checks the single-source invariant.
func (t *Track) Validate() error {
	var kinds []SourceKind
	if strings.TrimSpace(t.FilePath) != "" {
		kinds = append(kinds, SourceLocal)
	}
	if strings.TrimSpace(t.VideoRef) != "" {
		kinds = append(kinds, SourceVideo)
	}
	if strings.TrimSpace(t.ExternalURL) != "" {
		kinds = append(kinds, SourceURL)
	}
	switch {
	case len(kinds) == 0:
		return ErrNoSource
	case len(kinds) > 1:
		return ErrMultipleSources
	case t.SourceKind != "" && t.SourceKind != kinds[0]:
		return ErrSourceMismatch
	}
	return nil
}

// TrackSort 曲目列表排序条件
type TrackSort struct {
	Field      string `json:"field"` // title, artist, album, created, duration
	Descending bool   `json:"descending"`
}
