package server

import (
	"net/http"

	"CadenceFM/logger"
)

// GetUserProfileHandler 获取用户资料
func (h *APIHandler) GetUserProfileHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	user, err := h.userRepo.GetUserByID(r.Context(), userID)
	if err != nil {
		logger.Error("[Profile] 获取用户信息失败", logger.Int64("userID", userID), logger.ErrorField(err))
		http.Error(w, "Failed to get user profile", http.StatusInternalServerError)
		return
	}
	if user == nil {
		http.Error(w, "User not found", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, user)
}
