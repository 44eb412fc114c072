package server

import (
	"errors"
	"net/http"

	"CadenceFM/core/bridge"
	"CadenceFM/core/session"
	"CadenceFM/logger"
)

// PlayerSocketHandler 升级为 WebSocket 并在连接上运行该用户的播放会话，
// 直到连接断开才返回。
func (h *APIHandler) PlayerSocketHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	ws, err := bridge.Upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade 已经写入了错误响应
		logger.Warn("[Player] WebSocket 升级失败", logger.Int64("userID", userID), logger.ErrorField(err))
		return
	}

	conn := bridge.NewConn(ws)
	logger.Info("[Player] 播放连接建立", logger.Int64("userID", userID), logger.String("remote", r.RemoteAddr))

	if err := h.hub.Serve(r.Context(), userID, conn); err != nil {
		if errors.Is(err, session.ErrHubStopped) {
			logger.Debug("[Player] 服务正在关闭，拒绝连接", logger.Int64("userID", userID))
			return
		}
		logger.Warn("[Player] 播放会话异常结束", logger.Int64("userID", userID), logger.ErrorField(err))
		return
	}
	logger.Info("[Player] 播放连接断开", logger.Int64("userID", userID))
}
