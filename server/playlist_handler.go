package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"CadenceFM/logger"
	"CadenceFM/model"
	"CadenceFM/repository"
)

// CreatePlaylistRequest 新建歌单
type CreatePlaylistRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// AddPlaylistTrackRequest 向歌单追加曲目
type AddPlaylistTrackRequest struct {
	TrackID int64 `json:"trackId"`
}

// GetPlaylistsHandler 列出当前用户的歌单
func (h *APIHandler) GetPlaylistsHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	playlists, err := h.playlistRepo.ListPlaylists(r.Context(), userID)
	if err != nil {
		logger.Error("[Playlist] 获取歌单列表失败", logger.Int64("userID", userID), logger.ErrorField(err))
		http.Error(w, "Failed to list playlists", http.StatusInternalServerError)
		return
	}
	if playlists == nil {
		playlists = []*model.Playlist{}
	}
	writeJSON(w, http.StatusOK, playlists)
}

// CreatePlaylistHandler 新建歌单
func (h *APIHandler) CreatePlaylistHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	var req CreatePlaylistRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		http.Error(w, "Playlist name is required", http.StatusBadRequest)
		return
	}

	p := &model.Playlist{UserID: userID, Name: name, Description: strings.TrimSpace(req.Description)}
	if err := h.playlistRepo.CreatePlaylist(r.Context(), p); err != nil {
		logger.Error("[Playlist] 创建歌单失败", logger.Int64("userID", userID), logger.ErrorField(err))
		http.Error(w, "Failed to create playlist", http.StatusInternalServerError)
		return
	}
	logger.Info("[Playlist] 歌单已创建", logger.Int64("userID", userID), logger.Int64("playlistID", p.ID))
	writeJSON(w, http.StatusCreated, p)
}

// ownedPlaylist 读取路由中的歌单并确认属于当前用户，失败时已写入响应
func (h *APIHandler) ownedPlaylist(w http.ResponseWriter, r *http.Request, userID int64) (*model.Playlist, bool) {
	id, err := pathID(r, "id")
	if err != nil {
		http.Error(w, "Invalid playlist ID", http.StatusBadRequest)
		return nil, false
	}
	p, err := h.playlistRepo.GetPlaylist(r.Context(), userID, id)
	if err != nil {
		logger.Error("[Playlist] 获取歌单失败", logger.Int64("playlistID", id), logger.ErrorField(err))
		http.Error(w, "Failed to get playlist", http.StatusInternalServerError)
		return nil, false
	}
	if p == nil {
		http.Error(w, "Playlist not found", http.StatusNotFound)
		return nil, false
	}
	return p, true
}

func (h *APIHandler) playlistTracks(w http.ResponseWriter, r *http.Request, p *model.Playlist) ([]*model.Track, bool) {
	tracks, err := h.playlistRepo.GetPlaylistTracks(r.Context(), p.ID)
	if err != nil {
		logger.Error("[Playlist] 获取歌单曲目失败", logger.Int64("playlistID", p.ID), logger.ErrorField(err))
		http.Error(w, "Failed to get playlist tracks", http.StatusInternalServerError)
		return nil, false
	}
	if tracks == nil {
		tracks = []*model.Track{}
	}
	return tracks, true
}

// GetPlaylistHandler 获取歌单及其曲目
func (h *APIHandler) GetPlaylistHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	p, ok := h.ownedPlaylist(w, r, userID)
	if !ok {
		return
	}
	tracks, ok := h.playlistTracks(w, r, p)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, model.PlaylistWithTracks{Playlist: *p, Tracks: tracks})
}

// DeletePlaylistHandler 删除歌单，曲目本身保留
func (h *APIHandler) DeletePlaylistHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		http.Error(w, "Invalid playlist ID", http.StatusBadRequest)
		return
	}
	if err := h.playlistRepo.DeletePlaylist(r.Context(), userID, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			http.Error(w, "Playlist not found", http.StatusNotFound)
			return
		}
		logger.Error("[Playlist] 删除歌单失败", logger.Int64("playlistID", id), logger.ErrorField(err))
		http.Error(w, "Failed to delete playlist", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Playlist deleted successfully"})
}

// GetPlaylistTracksHandler 按位置顺序返回歌单曲目
func (h *APIHandler) GetPlaylistTracksHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	p, ok := h.ownedPlaylist(w, r, userID)
	if !ok {
		return
	}
	tracks, ok := h.playlistTracks(w, r, p)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, tracks)
}

// AddPlaylistTrackHandler 把自己的曲目追加到歌单末尾
func (h *APIHandler) AddPlaylistTrackHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	p, ok := h.ownedPlaylist(w, r, userID)
	if !ok {
		return
	}

	var req AddPlaylistTrackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.TrackID <= 0 {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	track, err := h.trackRepo.GetTrackByID(r.Context(), userID, req.TrackID)
	if err != nil {
		logger.Error("[Playlist] 获取曲目失败", logger.Int64("trackID", req.TrackID), logger.ErrorField(err))
		http.Error(w, "Failed to add track", http.StatusInternalServerError)
		return
	}
	if track == nil {
		http.Error(w, "Track not found", http.StatusNotFound)
		return
	}

	if err := h.playlistRepo.AddTrack(r.Context(), p.ID, track.ID); err != nil {
		logger.Error("[Playlist] 添加曲目失败",
			logger.Int64("playlistID", p.ID),
			logger.Int64("trackID", track.ID),
			logger.ErrorField(err))
		http.Error(w, "Failed to add track", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"message":    "Track added to playlist",
		"playlistId": p.ID,
		"trackId":    track.ID,
	})
}

// RemovePlaylistTrackHandler 从歌单移除曲目
func (h *APIHandler) RemovePlaylistTrackHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	p, ok := h.ownedPlaylist(w, r, userID)
	if !ok {
		return
	}
	trackID, err := pathID(r, "track_id")
	if err != nil {
		http.Error(w, "Invalid track ID", http.StatusBadRequest)
		return
	}

	if err := h.playlistRepo.RemoveTrack(r.Context(), p.ID, trackID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			http.Error(w, "Track not in playlist", http.StatusNotFound)
			return
		}
		logger.Error("[Playlist] 移除曲目失败",
			logger.Int64("playlistID", p.ID),
			logger.Int64("trackID", trackID),
			logger.ErrorField(err))
		http.Error(w, "Failed to remove track", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Track removed from playlist"})
}
