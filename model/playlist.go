package model

import "time"

// Playlist 用户歌单
type Playlist struct {
	ID          int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	UserID      int64     `json:"userId" gorm:"index;not null"`
	Name        string    `json:"name" gorm:"size:100;not null"`
	Description string    `json:"description" gorm:"size:500"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

func (Playlist) TableName() string {
	return "playlists"
}

// PlaylistTrack 歌单中的一首歌，Position 从 0 开始连续
type PlaylistTrack struct {
	ID         int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	PlaylistID int64     `json:"playlistId" gorm:"index;not null"`
	TrackID    int64     `json:"trackId" gorm:"index;not null"`
	Position   int       `json:"position" gorm:"not null"`
	CreatedAt  time.Time `json:"createdAt"`
}

func (PlaylistTrack) TableName() string {
	return "playlist_tracks"
}

// PlaylistWithTracks 包含歌单信息和其中的曲目
type PlaylistWithTracks struct {
	Playlist Playlist `json:"playlist"`
	Tracks   []*Track `json:"tracks"`
}
