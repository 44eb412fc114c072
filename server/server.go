package server

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"CadenceFM/cache"
	"CadenceFM/config"
	"CadenceFM/core/auth"
	"CadenceFM/core/library"
	"CadenceFM/core/session"
	"CadenceFM/db"
	"CadenceFM/logger"
	"CadenceFM/model"
	"CadenceFM/repository"
	"CadenceFM/storage"

	"github.com/gorilla/mux"
	"golang.org/x/time/rate"
)

// corsMiddleware 允许前端跨域访问 API
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS, HEAD")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, Range")
		w.Header().Set("Access-Control-Expose-Headers", "Content-Length, Content-Range")
		w.Header().Set("Access-Control-Max-Age", "86400") // 24 hours

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// NewRouter 注册所有路由
func NewRouter(h *APIHandler) *mux.Router {
	router := mux.NewRouter()
	router.Use(corsMiddleware)

	// 用户认证
	router.HandleFunc("/api/auth/login", h.LoginHandler).Methods(http.MethodPost)
	router.HandleFunc("/api/auth/register", h.RegisterHandler).Methods(http.MethodPost)
	router.HandleFunc("/api/user/profile", h.AuthMiddleware(h.GetUserProfileHandler)).Methods(http.MethodGet)

	// 曲目
	router.HandleFunc("/api/tracks", h.AuthMiddleware(h.GetTracksHandler)).Methods(http.MethodGet)
	router.HandleFunc("/api/tracks/link", h.AuthMiddleware(h.CreateLinkTrackHandler)).Methods(http.MethodPost)
	router.HandleFunc("/api/tracks/{id:[0-9]+}", h.AuthMiddleware(h.GetTrackHandler)).Methods(http.MethodGet)
	router.HandleFunc("/api/tracks/{id:[0-9]+}", h.AuthMiddleware(h.UpdateTrackHandler)).Methods(http.MethodPut)
	router.HandleFunc("/api/tracks/{id:[0-9]+}", h.AuthMiddleware(h.DeleteTrackHandler)).Methods(http.MethodDelete)
	router.HandleFunc("/api/upload", h.AuthMiddleware(h.UploadTrackHandler)).Methods(http.MethodPost)

	// 歌单
	router.HandleFunc("/api/playlists", h.AuthMiddleware(h.GetPlaylistsHandler)).Methods(http.MethodGet)
	router.HandleFunc("/api/playlists", h.AuthMiddleware(h.CreatePlaylistHandler)).Methods(http.MethodPost)
	router.HandleFunc("/api/playlists/{id:[0-9]+}", h.AuthMiddleware(h.GetPlaylistHandler)).Methods(http.MethodGet)
	router.HandleFunc("/api/playlists/{id:[0-9]+}", h.AuthMiddleware(h.DeletePlaylistHandler)).Methods(http.MethodDelete)
	router.HandleFunc("/api/playlists/{id:[0-9]+}/tracks", h.AuthMiddleware(h.GetPlaylistTracksHandler)).Methods(http.MethodGet)
	router.HandleFunc("/api/playlists/{id:[0-9]+}/tracks", h.AuthMiddleware(h.AddPlaylistTrackHandler)).Methods(http.MethodPost)
	router.HandleFunc("/api/playlists/{id:[0-9]+}/tracks/{track_id:[0-9]+}", h.AuthMiddleware(h.RemovePlaylistTrackHandler)).Methods(http.MethodDelete)

	// 播放器桥接与对象存储资源
	router.HandleFunc("/ws/player", h.AuthMiddleware(h.PlayerSocketHandler)).Methods(http.MethodGet)
	router.PathPrefix("/static/").HandlerFunc(h.AuthMiddleware(h.StaticHandler)).Methods(http.MethodGet, http.MethodHead)

	return router
}

// Start initializes and starts the HTTP server.
func Start(cfg *config.Config) {
	if err := db.ConnectDB(cfg); err != nil {
		logger.Fatal("[Server] 连接数据库失败", logger.ErrorField(err))
	}
	defer db.CloseDB()
	if err := db.InitDB(); err != nil {
		logger.Fatal("[Server] 初始化用户表失败", logger.ErrorField(err))
	}

	if err := db.ConnectGormDB(cfg); err != nil {
		logger.Fatal("[Server] GORM 连接失败", logger.ErrorField(err))
	}
	defer db.CloseGormDB()
	if err := db.AutoMigrateModels(); err != nil {
		logger.Fatal("[Server] 数据表迁移失败", logger.ErrorField(err))
	}

	if err := cache.ConnectRedis(cfg); err != nil {
		logger.Fatal("[Server] 连接 Redis 失败", logger.ErrorField(err))
	}
	defer cache.CloseRedis()
	logger.Info("[Server] Successfully connected to Redis")

	if err := storage.InitMinio(cfg); err != nil {
		logger.Fatal("[Server] 初始化 MinIO 失败", logger.ErrorField(err))
	}
	store := storage.GetStore()

	auth.Init(cfg.JWTSecret, cfg.JWTExpiry)

	trackRepo := repository.NewGormTrackRepository(db.GormDB)
	playlistRepo := repository.NewGormPlaylistRepository(db.GormDB)
	userRepo := repository.NewSQLUserRepository(db.DB)
	importer := library.NewImporter(store, trackRepo)

	hub := session.NewHub(session.Deps{
		Tracks:    trackRepo,
		Playlists: playlistRepo,
		Snapshots: cache.NewPlaybackCache(cache.RedisClient),
		Assets:    store,
	}, session.Options{
		LoadTimeout:       cfg.PlayerLoadTimeout,
		EmbedPollInterval: cfg.PlayerEmbedPollInterval,
		SnapshotRate:      rate.Limit(cfg.PlayerSnapshotRate),
	})
	go hub.Run()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if cfg.ImportWatchDir != "" && cfg.ImportUserID > 0 {
		startWatcher(ctx, importer, cfg)
	}

	apiHandler := NewAPIHandler(Deps{
		Tracks:    trackRepo,
		Playlists: playlistRepo,
		Users:     userRepo,
		Importer:  importer,
		Objects:   store,
		Assets:    store,
		Hub:       hub,
	}, cfg)

	// WebSocket 连接是长连接，不设置 WriteTimeout
	srv := &http.Server{
		Addr:        cfg.ListenAddr,
		Handler:     NewRouter(apiHandler),
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("[Server] Server starting", logger.String("addr", cfg.ListenAddr))
		logger.Info("[Server] Player bridge at /ws/player, REST API under /api")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("[Server] Failed to start server", logger.ErrorField(err))
		}
	}()

	<-stop
	logger.Info("[Server] Shutting down server...")

	// 先关闭所有播放会话，让最终快照写入 Redis
	hub.Stop()
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("[Server] Server forced to shutdown", logger.ErrorField(err))
	}
	logger.Info("[Server] Server stopped")
}

func startWatcher(ctx context.Context, importer *library.Importer, cfg *config.Config) {
	w := library.NewWatcher(importer, cfg.ImportWatchDir, cfg.ImportUserID)
	w.OnImport = func(path string, track *model.Track, err error) {
		if err == nil {
			logger.Info("[Watcher] 已导入", logger.String("path", path), logger.Int64("trackID", track.ID))
		}
	}
	go func() {
		if err := w.Run(ctx); err != nil {
			logger.Error("[Watcher] 监听目录失败", logger.String("dir", cfg.ImportWatchDir), logger.ErrorField(err))
		}
	}()
}
