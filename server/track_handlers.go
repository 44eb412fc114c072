package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"CadenceFM/core/library"
	"CadenceFM/logger"
	"CadenceFM/model"
	"CadenceFM/repository"
)

// multipart 解析时保留在内存中的上限，超出部分写入临时文件
const uploadMemory = 8 << 20

// LinkRequest 外链导入请求
type LinkRequest struct {
	Title  string `json:"title"`
	Artist string `json:"artist"`
	URL    string `json:"url"`
}

// GetTracksHandler 列出当前用户的曲目，q 不为空时按标题、艺术家、专辑搜索
func (h *APIHandler) GetTracksHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	sort := model.TrackSort{
		Field:      q.Get("sort"),
		Descending: strings.EqualFold(q.Get("order"), "desc"),
	}

	var tracks []*model.Track
	var err error
	if query := strings.TrimSpace(q.Get("q")); query != "" {
		tracks, err = h.trackRepo.SearchTracks(r.Context(), userID, query, sort)
	} else {
		tracks, err = h.trackRepo.ListTracks(r.Context(), userID, sort)
	}
	if err != nil {
		logger.Error("[Tracks] 查询曲目失败", logger.Int64("userID", userID), logger.ErrorField(err))
		http.Error(w, "Failed to list tracks", http.StatusInternalServerError)
		return
	}
	if tracks == nil {
		tracks = []*model.Track{}
	}
	writeJSON(w, http.StatusOK, tracks)
}

// GetTrackHandler 获取单个曲目
func (h *APIHandler) GetTrackHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		http.Error(w, "Invalid track ID", http.StatusBadRequest)
		return
	}

	track, err := h.trackRepo.GetTrackByID(r.Context(), userID, id)
	if err != nil {
		logger.Error("[Tracks] 获取曲目失败", logger.Int64("trackID", id), logger.ErrorField(err))
		http.Error(w, "Failed to get track", http.StatusInternalServerError)
		return
	}
	if track == nil {
		http.Error(w, "Track not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, track)
}

// UpdateTrackHandler 修改标题、艺术家、专辑或封面；来源不可修改
func (h *APIHandler) UpdateTrackHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		http.Error(w, "Invalid track ID", http.StatusBadRequest)
		return
	}

	var update repository.TrackMetadata
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if update.Title != nil && strings.TrimSpace(*update.Title) == "" {
		http.Error(w, "Title must not be empty", http.StatusBadRequest)
		return
	}

	track, err := h.trackRepo.UpdateTrackMetadata(r.Context(), userID, id, update)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			http.Error(w, "Track not found", http.StatusNotFound)
			return
		}
		logger.Error("[Tracks] 更新曲目失败", logger.Int64("trackID", id), logger.ErrorField(err))
		http.Error(w, "Failed to update track", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, track)
}

// DeleteTrackHandler 删除曲目及其对象存储中的音频和封面
func (h *APIHandler) DeleteTrackHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		http.Error(w, "Invalid track ID", http.StatusBadRequest)
		return
	}

	track, err := h.trackRepo.DeleteTrack(r.Context(), userID, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			http.Error(w, "Track not found", http.StatusNotFound)
			return
		}
		logger.Error("[Tracks] 删除曲目失败", logger.Int64("trackID", id), logger.ErrorField(err))
		http.Error(w, "Failed to delete track", http.StatusInternalServerError)
		return
	}
	h.removeTrackObjects(track)

	logger.Info("[Tracks] 曲目已删除", logger.Int64("userID", userID), logger.Int64("trackID", id))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Track deleted successfully",
		"trackId": id,
	})
}

// removeTrackObjects 对象删除失败只记录日志，数据库记录已经删除
func (h *APIHandler) removeTrackObjects(track *model.Track) {
	if h.objects == nil || track == nil {
		return
	}
	var keys []string
	if track.SourceKind == model.SourceLocal && track.FilePath != "" {
		keys = append(keys, track.FilePath)
	}
	if isObjectKey(track.CoverArtPath) {
		keys = append(keys, track.CoverArtPath)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, key := range keys {
		if err := h.objects.RemoveObject(ctx, key); err != nil {
			logger.Warn("[Tracks] 删除对象失败", logger.String("key", key), logger.ErrorField(err))
		}
	}
}

func isObjectKey(p string) bool {
	p = strings.TrimSpace(p)
	return p != "" && !strings.Contains(p, "://")
}

// UploadTrackHandler 上传音频文件；title/artist/album 表单字段覆盖标签中的值
func (h *APIHandler) UploadTrackHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	maxBytes := h.maxUploadBytes()
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes+(1<<20))
	if err := r.ParseMultipartForm(uploadMemory); err != nil {
		logger.Warn("[Upload] 解析表单失败", logger.ErrorField(err))
		http.Error(w, "File too large or invalid form", http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("trackFile")
	if err != nil {
		http.Error(w, "trackFile is required", http.StatusBadRequest)
		return
	}
	defer file.Close()
	if header.Size > maxBytes {
		http.Error(w, "File too large", http.StatusRequestEntityTooLarge)
		return
	}

	track, err := h.importer.ImportFile(r.Context(), userID, header.Filename, file, header.Size)
	if err != nil {
		if errors.Is(err, library.ErrUnsupportedFile) {
			http.Error(w, "Unsupported audio format", http.StatusUnsupportedMediaType)
			return
		}
		logger.Error("[Upload] 导入曲目失败", logger.String("file", header.Filename), logger.ErrorField(err))
		http.Error(w, "Failed to import track", http.StatusInternalServerError)
		return
	}

	if update, changed := formMetadata(r); changed {
		updated, err := h.trackRepo.UpdateTrackMetadata(r.Context(), userID, track.ID, update)
		if err != nil {
			logger.Warn("[Upload] 更新曲目信息失败", logger.Int64("trackID", track.ID), logger.ErrorField(err))
		} else {
			track = updated
		}
	}

	logger.Info("[Upload] 曲目上传成功",
		logger.Int64("userID", userID),
		logger.Int64("trackID", track.ID),
		logger.String("title", track.Title))
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"message": "Track uploaded successfully",
		"trackId": track.ID,
		"track":   track,
	})
}

func formMetadata(r *http.Request) (repository.TrackMetadata, bool) {
	var update repository.TrackMetadata
	changed := false
	field := func(name string) *string {
		v := strings.TrimSpace(r.FormValue(name))
		if v == "" {
			return nil
		}
		changed = true
		return &v
	}
	update.Title = field("title")
	update.Artist = field("artist")
	update.Album = field("album")
	return update, changed
}

// CreateLinkTrackHandler 通过视频链接或外部音频地址创建曲目
func (h *APIHandler) CreateLinkTrackHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req LinkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.URL) == "" {
		http.Error(w, "url is required", http.StatusBadRequest)
		return
	}

	track, err := h.importer.ImportLink(r.Context(), userID, req.Title, req.Artist, req.URL)
	if err != nil {
		if errors.Is(err, library.ErrUnsupportedLink) {
			http.Error(w, "Unsupported link", http.StatusBadRequest)
			return
		}
		logger.Error("[Tracks] 创建外链曲目失败", logger.String("url", req.URL), logger.ErrorField(err))
		http.Error(w, "Failed to create track", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, track)
}
