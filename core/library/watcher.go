package library

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"CadenceFM/core/utils"
	"CadenceFM/logger"
	"CadenceFM/model"
)

const (
	checkInterval = 50 * time.Millisecond
	// 文件在此时间内无写入视为写入完成
	defaultSettle = 200 * time.Millisecond
)

// Watcher imports audio files dropped into a folder for one user.
type Watcher struct {
	importer *Importer
	dir      string
	userID   int64
	settle   time.Duration

	// OnImport, when set, is called after every import attempt.
	OnImport func(path string, track *model.Track, err error)
}

func NewWatcher(importer *Importer, dir string, userID int64) *Watcher {
	return &Watcher{importer: importer, dir: dir, userID: userID, settle: defaultSettle}
}

// Run watches the folder until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("创建文件监听器失败: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(w.dir); err != nil {
		return fmt.Errorf("监听目录失败: %w", err)
	}
	logger.Info("[Library] 开始监听导入目录", logger.String("dir", w.dir), logger.Int64("userID", w.userID))

	// 文件稳定性检查的延迟队列
	pendingFiles := make(map[string]time.Time)
	processed := make(map[string]bool)
	ticker := time.NewTicker(checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 && utils.IsAudioFile(event.Name) {
				pendingFiles[event.Name] = time.Now()
				delete(processed, event.Name)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("[Library] 文件监听错误", logger.ErrorField(err))

		case <-ticker.C:
			now := time.Now()
			for path, lastWrite := range pendingFiles {
				if now.Sub(lastWrite) < w.settle {
					continue // 可能还在写入
				}
				delete(pendingFiles, path)
				if processed[path] {
					continue
				}
				processed[path] = true
				track, err := w.importPath(ctx, path)
				if err != nil {
					logger.Warn("[Library] 导入失败", logger.String("file", path), logger.ErrorField(err))
				}
				if w.OnImport != nil {
					w.OnImport(path, track, err)
				}
			}
		}
	}
}

func (w *Watcher) importPath(ctx context.Context, path string) (*model.Track, error) {
	return importPath(ctx, w.importer, w.userID, path)
}

func importPath(ctx context.Context, importer *Importer, userID int64, path string) (*model.Track, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	return importer.ImportFile(ctx, userID, path, f, info.Size())
}

// ImportDir imports every audio file below dir. It keeps going past
// individual failures and returns them joined.
func (i *Importer) ImportDir(ctx context.Context, userID int64, dir string) ([]*model.Track, error) {
	var (
		tracks []*model.Track
		errs   []error
	)
	walkErr := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() || !utils.IsAudioFile(path) {
			return nil
		}
		t, err := importPath(ctx, i, userID, path)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", path, err))
			return nil
		}
		tracks = append(tracks, t)
		return nil
	})
	if walkErr != nil {
		errs = append(errs, walkErr)
	}
	return tracks, errors.Join(errs...)
}
