package server

import (
	"net/http"
	"path"
	"strconv"
	"strings"

	"CadenceFM/logger"
)

// StaticHandler 把 /static/<key> 重定向到对象存储地址。
// key 形如 audio/<userID>/... 或 covers/<userID>/...，只能访问自己的对象。
func (h *APIHandler) StaticHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	key := strings.TrimPrefix(r.URL.Path, "/static/")
	owner, ok := objectOwner(key)
	if !ok {
		http.Error(w, "File not found", http.StatusNotFound)
		return
	}
	if owner != userID {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	target, err := h.assets.AssetURL(key)
	if err != nil {
		logger.Error("[Static] 生成资源地址失败", logger.String("key", key), logger.ErrorField(err))
		http.Error(w, "File not available", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Cache-Control", "private, max-age=300")
	http.Redirect(w, r, target, http.StatusFound)
}

// objectOwner 解析对象 key 中的用户 ID
func objectOwner(key string) (int64, bool) {
	if key == "" || path.Clean(key) != key {
		return 0, false
	}
	parts := strings.SplitN(key, "/", 3)
	if len(parts) != 3 || parts[2] == "" {
		return 0, false
	}
	switch parts[0] {
	case "audio", "covers":
	default:
		return 0, false
	}
	uid, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil || uid <= 0 {
		return 0, false
	}
	return uid, true
}
