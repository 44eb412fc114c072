package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"CadenceFM/model"
)

// PlaylistRepository 歌单数据访问接口
type PlaylistRepository interface {
	CreatePlaylist(ctx context.Context, p *model.Playlist) error
	GetPlaylist(ctx context.Context, userID, id int64) (*model.Playlist, error)
	ListPlaylists(ctx context.Context, userID int64) ([]*model.Playlist, error)
	DeletePlaylist(ctx context.Context, userID, id int64) error
	AddTrack(ctx context.Context, playlistID, trackID int64) error
	RemoveTrack(ctx context.Context, playlistID, trackID int64) error
	GetPlaylistTracks(ctx context.Context, playlistID int64) ([]*model.Track, error)
}

type gormPlaylistRepository struct {
	db *gorm.DB
}

// NewGormPlaylistRepository 创建 GORM 歌单仓库
func NewGormPlaylistRepository(db *gorm.DB) PlaylistRepository {
	return &gormPlaylistRepository{db: db}
}

func (r *gormPlaylistRepository) CreatePlaylist(ctx context.Context, p *model.Playlist) error {
	if p.Name == "" {
		return fmt.Errorf("playlist name is required")
	}
	if err := r.db.WithContext(ctx).Create(p).Error; err != nil {
		return fmt.Errorf("failed to create playlist: %w", err)
	}
	return nil
}

func (r *gormPlaylistRepository) GetPlaylist(ctx context.Context, userID, id int64) (*model.Playlist, error) {
	var p model.Playlist
	err := r.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		First(&p).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get playlist %d: %w", id, err)
	}
	return &p, nil
}

func (r *gormPlaylistRepository) ListPlaylists(ctx context.Context, userID int64) ([]*model.Playlist, error) {
	playlists := make([]*model.Playlist, 0)
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at ASC, id ASC").
		Find(&playlists).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list playlists: %w", err)
	}
	return playlists, nil
}

// DeletePlaylist 删除歌单及其条目
func (r *gormPlaylistRepository) DeletePlaylist(ctx context.Context, userID, id int64) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("id = ? AND user_id = ?", id, userID).Delete(&model.Playlist{})
		if res.Error != nil {
			return fmt.Errorf("failed to delete playlist %d: %w", id, res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return tx.Where("playlist_id = ?", id).Delete(&model.PlaylistTrack{}).Error
	})
}

// AddTrack 追加到歌单末尾，已存在时不做任何事
func (r *gormPlaylistRepository) AddTrack(ctx context.Context, playlistID, trackID int64) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var exists int64
		if err := tx.Model(&model.PlaylistTrack{}).
			Where("playlist_id = ? AND track_id = ?", playlistID, trackID).
			Count(&exists).Error; err != nil {
			return err
		}
		if exists > 0 {
			return nil
		}

		var count int64
		if err := tx.Model(&model.PlaylistTrack{}).
			Where("playlist_id = ?", playlistID).
			Count(&count).Error; err != nil {
			return err
		}
		entry := &model.PlaylistTrack{PlaylistID: playlistID, TrackID: trackID, Position: int(count)}
		if err := tx.Create(entry).Error; err != nil {
			return fmt.Errorf("failed to add track %d to playlist %d: %w", trackID, playlistID, err)
		}
		return nil
	})
}

// RemoveTrack 移除条目并保持位置连续
func (r *gormPlaylistRepository) RemoveTrack(ctx context.Context, playlistID, trackID int64) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("playlist_id = ? AND track_id = ?", playlistID, trackID).Delete(&model.PlaylistTrack{})
		if res.Error != nil {
			return fmt.Errorf("failed to remove track %d from playlist %d: %w", trackID, playlistID, res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return repackPositions(tx, playlistID)
	})
}

// repackPositions 把歌单条目的位置重排为 0..n-1
func repackPositions(tx *gorm.DB, playlistID int64) error {
	var entries []model.PlaylistTrack
	if err := tx.Where("playlist_id = ?", playlistID).
		Order("position ASC, id ASC").
		Find(&entries).Error; err != nil {
		return err
	}
	for i, e := range entries {
		if e.Position == i {
			continue
		}
		if err := tx.Model(&model.PlaylistTrack{}).
			Where("id = ?", e.ID).
			Update("position", i).Error; err != nil {
			return err
		}
	}
	return nil
}

// GetPlaylistTracks 按位置返回歌单中的曲目
func (r *gormPlaylistRepository) GetPlaylistTracks(ctx context.Context, playlistID int64) ([]*model.Track, error) {
	tracks := make([]*model.Track, 0)
	err := r.db.WithContext(ctx).
		Table("tracks").
		Select("tracks.*").
		Joins("JOIN playlist_tracks ON playlist_tracks.track_id = tracks.id").
		Where("playlist_tracks.playlist_id = ?", playlistID).
		Order("playlist_tracks.position ASC").
		Find(&tracks).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get tracks of playlist %d: %w", playlistID, err)
	}
	return tracks, nil
}
