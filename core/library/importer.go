package library

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"path/filepath"
	"strings"

	"github.com/dhowden/tag"
	"github.com/google/uuid"

	"CadenceFM/core/player"
	"CadenceFM/core/utils"
	"CadenceFM/logger"
	"CadenceFM/model"
)

var (
	ErrNoUser          = errors.New("import requires a user")
	ErrUnsupportedFile = errors.New("unsupported audio file")
	ErrUnsupportedLink = errors.New("link is neither a video reference nor an http(s) URL")
)

// ObjectStore 上传音频和封面的对象存储
type ObjectStore interface {
	PutObject(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	RemoveObject(ctx context.Context, key string) error
}

// TrackCreator persists a new track.
type TrackCreator interface {
	CreateTrack(ctx context.Context, track *model.Track) error
}

// Importer turns uploaded files and pasted links into tracks.
type Importer struct {
	store  ObjectStore
	tracks TrackCreator
	newID  func() string
}

func NewImporter(store ObjectStore, tracks TrackCreator) *Importer {
	return &Importer{store: store, tracks: tracks, newID: uuid.NewString}
}

// ImportFile reads the file's tags, uploads the audio and any embedded cover
// art and creates a local track. A file without usable tags is titled after
// its name.
func (i *Importer) ImportFile(ctx context.Context, userID int64, name string, r io.ReadSeeker, size int64) (*model.Track, error) {
	if userID <= 0 {
		return nil, ErrNoUser
	}
	if !utils.IsAudioFile(name) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFile, filepath.Base(name))
	}

	track := &model.Track{
		UserID:     userID,
		Title:      utils.TitleFromFileName(name),
		SourceKind: model.SourceLocal,
	}

	var cover *tag.Picture
	if m, err := tag.ReadFrom(r); err == nil && m != nil {
		if title := strings.TrimSpace(m.Title()); title != "" {
			track.Title = title
		}
		track.Artist = strings.TrimSpace(m.Artist())
		track.Album = strings.TrimSpace(m.Album())
		cover = m.Picture()
	} else {
		logger.Debug("[Library] 未读取到标签，使用文件名", logger.String("file", name), logger.ErrorField(err))
	}
	if track.Title == "" {
		track.Title = "Untitled"
	}
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("failed to rewind %s: %w", name, err)
	}

	id := i.newID()
	ext := strings.ToLower(filepath.Ext(name))
	track.FilePath = fmt.Sprintf("audio/%d/%s%s", userID, id, ext)
	if err := i.store.PutObject(ctx, track.FilePath, r, size, utils.AudioContentType(name)); err != nil {
		return nil, fmt.Errorf("failed to upload audio: %w", err)
	}

	if cover != nil && len(cover.Data) > 0 {
		imgExt := utils.ImageExt(cover.MIMEType)
		if imgExt == "" {
			imgExt = strings.ToLower(cover.Ext)
		}
		if imgExt != "" {
			key := fmt.Sprintf("covers/%d/%s.%s", userID, id, imgExt)
			if err := i.store.PutObject(ctx, key, bytes.NewReader(cover.Data), int64(len(cover.Data)), cover.MIMEType); err != nil {
				// 封面失败不影响曲目导入
				logger.Warn("[Library] 上传封面失败", logger.String("key", key), logger.ErrorField(err))
			} else {
				track.CoverArtPath = key
			}
		}
	}

	if err := i.tracks.CreateTrack(ctx, track); err != nil {
		i.cleanup(track)
		return nil, fmt.Errorf("failed to create track: %w", err)
	}
	logger.Info("[Library] 导入曲目",
		logger.Int64("userID", userID),
		logger.Int64("trackID", track.ID),
		logger.String("title", track.Title),
		logger.String("key", track.FilePath),
	)
	return track, nil
}

func (i *Importer) cleanup(track *model.Track) {
	ctx := context.Background()
	for _, key := range []string{track.FilePath, track.CoverArtPath} {
		if key == "" {
			continue
		}
		if err := i.store.RemoveObject(ctx, key); err != nil {
			logger.Warn("[Library] 清理对象失败", logger.String("key", key), logger.ErrorField(err))
		}
	}
}

// ImportLink creates a video track when link names a video, otherwise a
// streamable URL track.
func (i *Importer) ImportLink(ctx context.Context, userID int64, title, artist, link string) (*model.Track, error) {
	if userID <= 0 {
		return nil, ErrNoUser
	}
	link = strings.TrimSpace(link)
	track := &model.Track{
		UserID: userID,
		Title:  strings.TrimSpace(title),
		Artist: strings.TrimSpace(artist),
	}

	if id, ok := player.ParseVideoID(link); ok {
		track.SourceKind = model.SourceVideo
		track.VideoRef = link
		if track.Title == "" {
			track.Title = id
		}
	} else {
		u, err := url.Parse(link)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return nil, fmt.Errorf("%w: %q", ErrUnsupportedLink, link)
		}
		track.SourceKind = model.SourceURL
		track.ExternalURL = u.String()
		if track.Title == "" {
			track.Title = utils.TitleFromFileName(path.Base(u.Path))
		}
		if track.Title == "" {
			track.Title = u.Host
		}
	}

	if err := i.tracks.CreateTrack(ctx, track); err != nil {
		return nil, fmt.Errorf("failed to create track: %w", err)
	}
	logger.Info("[Library] 导入链接",
		logger.Int64("userID", userID),
		logger.Int64("trackID", track.ID),
		logger.String("kind", string(track.SourceKind)),
	)
	return track, nil
}
