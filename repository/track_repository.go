package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/samber/lo"
	"gorm.io/gorm"

	"CadenceFM/model"
)

// ErrNotFound is returned by updates and deletes that matched no row.
var ErrNotFound = errors.New("record not found")

// TrackRepository 曲目数据访问接口，所有查询都限定在用户范围内
type TrackRepository interface {
	CreateTrack(ctx context.Context, track *model.Track) error
	GetTrackByID(ctx context.Context, userID, id int64) (*model.Track, error)
	GetTracksByIDs(ctx context.Context, userID int64, ids []int64) ([]*model.Track, error)
	SearchTracks(ctx context.Context, userID int64, query string, sort model.TrackSort) ([]*model.Track, error)
	ListTracks(ctx context.Context, userID int64, sort model.TrackSort) ([]*model.Track, error)
	UpdateTrackMetadata(ctx context.Context, userID, id int64, update TrackMetadata) (*model.Track, error)
	DeleteTrack(ctx context.Context, userID, id int64) (*model.Track, error)
}

// TrackMetadata 可修改的曲目字段，nil 表示不修改；来源字段不可修改
type TrackMetadata struct {
	Title        *string `json:"title"`
	Artist       *string `json:"artist"`
	Album        *string `json:"album"`
	CoverArtPath *string `json:"coverArtPath"`
}

var sortColumns = map[string]string{
	"title":    "title",
	"artist":   "artist",
	"album":    "album",
	"created":  "created_at",
	"duration": "duration",
}

// orderClause 未知字段回退到按创建时间倒序
func orderClause(sort model.TrackSort) string {
	col, ok := sortColumns[strings.ToLower(sort.Field)]
	if !ok {
		return "created_at DESC, id DESC"
	}
	dir := "ASC"
	if sort.Descending {
		dir = "DESC"
	}
	return fmt.Sprintf("%s %s, id %s", col, dir, dir)
}

type gormTrackRepository struct {
	db *gorm.DB
}

// NewGormTrackRepository 创建 GORM 曲目仓库
func NewGormTrackRepository(db *gorm.DB) TrackRepository {
	return &gormTrackRepository{db: db}
}

func (r *gormTrackRepository) CreateTrack(ctx context.Context, track *model.Track) error {
	if err := track.Validate(); err != nil {
		return err
	}
	if track.SourceKind == "" {
		track.SourceKind = inferSourceKind(track)
	}
	if err := r.db.WithContext(ctx).Create(track).Error; err != nil {
		return fmt.Errorf("failed to create track: %w", err)
	}
	return nil
}

func inferSourceKind(t *model.Track) model.SourceKind {
	switch {
	case strings.TrimSpace(t.FilePath) != "":
		return model.SourceLocal
	case strings.TrimSpace(t.VideoRef) != "":
		return model.SourceVideo
	default:
		return model.SourceURL
	}
}

func (r *gormTrackRepository) GetTrackByID(ctx context.Context, userID, id int64) (*model.Track, error) {
	var track model.Track
	err := r.db.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		First(&track).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get track %d: %w", id, err)
	}
	return &track, nil
}

// GetTracksByIDs 按 ids 的顺序返回存在的曲目，缺失的 id 被跳过
func (r *gormTrackRepository) GetTracksByIDs(ctx context.Context, userID int64, ids []int64) ([]*model.Track, error) {
	if len(ids) == 0 {
		return []*model.Track{}, nil
	}
	var found []*model.Track
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND id IN ?", userID, lo.Uniq(ids)).
		Find(&found).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get tracks by ids: %w", err)
	}

	byID := lo.KeyBy(found, func(t *model.Track) int64 { return t.ID })
	return lo.FilterMap(ids, func(id int64, _ int) (*model.Track, bool) {
		t, ok := byID[id]
		return t, ok
	}), nil
}

// SearchTracks 在标题、艺术家、专辑中做不区分大小写的子串匹配
func (r *gormTrackRepository) SearchTracks(ctx context.Context, userID int64, query string, sort model.TrackSort) ([]*model.Track, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return r.ListTracks(ctx, userID, sort)
	}
	pattern := "%" + escapeLike(strings.ToLower(query)) + "%"

	tracks := make([]*model.Track, 0)
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Where("(LOWER(title) LIKE ? ESCAPE '!' OR LOWER(artist) LIKE ? ESCAPE '!' OR LOWER(album) LIKE ? ESCAPE '!')",
			pattern, pattern, pattern).
		Order(orderClause(sort)).
		Find(&tracks).Error
	if err != nil {
		return nil, fmt.Errorf("failed to search tracks: %w", err)
	}
	return tracks, nil
}

// escapeLike 使用 '!' 作为转义符，MySQL 与 SQLite 行为一致
func escapeLike(s string) string {
	return strings.NewReplacer("!", "!!", "%", "!%", "_", "!_").Replace(s)
}

func (r *gormTrackRepository) ListTracks(ctx context.Context, userID int64, sort model.TrackSort) ([]*model.Track, error) {
	tracks := make([]*model.Track, 0)
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order(orderClause(sort)).
		Find(&tracks).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list tracks for user %d: %w", userID, err)
	}
	return tracks, nil
}

func (r *gormTrackRepository) UpdateTrackMetadata(ctx context.Context, userID, id int64, update TrackMetadata) (*model.Track, error) {
	changes := map[string]interface{}{}
	if update.Title != nil {
		title := strings.TrimSpace(*update.Title)
		if title == "" {
			return nil, fmt.Errorf("title must not be empty")
		}
		changes["title"] = title
	}
	if update.Artist != nil {
		changes["artist"] = strings.TrimSpace(*update.Artist)
	}
	if update.Album != nil {
		changes["album"] = strings.TrimSpace(*update.Album)
	}
	if update.CoverArtPath != nil {
		changes["cover_art_path"] = strings.TrimSpace(*update.CoverArtPath)
	}

	if len(changes) > 0 {
		res := r.db.WithContext(ctx).Model(&model.Track{}).
			Where("id = ? AND user_id = ?", id, userID).
			Updates(changes)
		if res.Error != nil {
			return nil, fmt.Errorf("failed to update track %d: %w", id, res.Error)
		}
	}

	track, err := r.GetTrackByID(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if track == nil {
		return nil, ErrNotFound
	}
	return track, nil
}

// DeleteTrack 删除曲目，并把它从所有歌单中移除后重新排列位置
func (r *gormTrackRepository) DeleteTrack(ctx context.Context, userID, id int64) (*model.Track, error) {
	var deleted *model.Track
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var track model.Track
		if err := tx.Where("id = ? AND user_id = ?", id, userID).First(&track).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}

		var playlistIDs []int64
		if err := tx.Model(&model.PlaylistTrack{}).
			Where("track_id = ?", id).
			Distinct().
			Pluck("playlist_id", &playlistIDs).Error; err != nil {
			return err
		}
		if err := tx.Where("track_id = ?", id).Delete(&model.PlaylistTrack{}).Error; err != nil {
			return err
		}
		for _, pid := range playlistIDs {
			if err := repackPositions(tx, pid); err != nil {
				return err
			}
		}

		if err := tx.Delete(&track).Error; err != nil {
			return err
		}
		deleted = &track
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to delete track %d: %w", id, err)
	}
	return deleted, nil
}
