package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"CadenceFM/config"
	"CadenceFM/core/player"
	"CadenceFM/core/session"
	"CadenceFM/logger"
	"CadenceFM/model"
	"CadenceFM/repository"

	"github.com/gorilla/mux"
)

// TrackImporter 上传文件与外链导入
type TrackImporter interface {
	ImportFile(ctx context.Context, userID int64, name string, r io.ReadSeeker, size int64) (*model.Track, error)
	ImportLink(ctx context.Context, userID int64, title, artist, link string) (*model.Track, error)
}

// ObjectRemover 删除曲目时清理对象存储
type ObjectRemover interface {
	RemoveObject(ctx context.Context, key string) error
}

// PlayerHub 在 WebSocket 连接上运行播放会话
type PlayerHub interface {
	Serve(ctx context.Context, userID int64, conn session.Conn) error
}

// Deps 是 APIHandler 的全部协作者
type Deps struct {
	Tracks    repository.TrackRepository
	Playlists repository.PlaylistRepository
	Users     repository.UserRepository
	Importer  TrackImporter
	Objects   ObjectRemover
	Assets    player.AssetResolver
	Hub       PlayerHub
}

// APIHandler 处理所有API请求
type APIHandler struct {
	trackRepo    repository.TrackRepository
	playlistRepo repository.PlaylistRepository
	userRepo     repository.UserRepository
	importer     TrackImporter
	objects      ObjectRemover
	assets       player.AssetResolver
	hub          PlayerHub
	cfg          *config.Config
}

// NewAPIHandler 创建新的API处理器
func NewAPIHandler(deps Deps, cfg *config.Config) *APIHandler {
	return &APIHandler{
		trackRepo:    deps.Tracks,
		playlistRepo: deps.Playlists,
		userRepo:     deps.Users,
		importer:     deps.Importer,
		objects:      deps.Objects,
		assets:       deps.Assets,
		hub:          deps.Hub,
		cfg:          cfg,
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("[API] 写入响应失败", logger.ErrorField(err))
	}
}

// pathID 读取路由中的数字 ID
func pathID(r *http.Request, name string) (int64, error) {
	raw := mux.Vars(r)[name]
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", name, raw)
	}
	return id, nil
}

// currentUser 读取 AuthMiddleware 写入的用户，缺失时直接返回 401
func currentUser(w http.ResponseWriter, r *http.Request) (int64, bool) {
	userID, err := GetUserIDFromContext(r.Context())
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return 0, false
	}
	return userID, true
}

func (h *APIHandler) maxUploadBytes() int64 {
	if h.cfg != nil && h.cfg.UploadMaxBytes > 0 {
		return h.cfg.UploadMaxBytes
	}
	return 64 << 20
}
