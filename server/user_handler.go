package server

import (
	"net/http"

	"musaic/logger"
	"musaic/model"
)

type meResponse struct {
	User             model.UserProfile `json:"user"`
	SpotifyConnected bool              `json:"spotifyConnected"`
}

// MeHandler 获取当前用户资料
func (h *APIHandler) MeHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := GetUserIDFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, msgUnauthorized)
		return
	}

	user, err := h.deps.Users.GetUserByID(userID)
	if err != nil {
		logger.Error("获取用户信息失败", logger.Int64("userID", userID), logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, msgInternal)
		return
	}
	if user == nil {
		writeError(w, http.StatusNotFound, "User not found.")
		return
	}

	_, tokenErr := h.deps.ProviderTokens.ProviderToken(r.Context(), userID, model.ProviderSpotify)
	writeJSON(w, http.StatusOK, meResponse{
		User:             user.Profile(),
		SpotifyConnected: tokenErr == nil,
	})
}
