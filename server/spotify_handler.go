package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"musaic/cache"
	"musaic/core/player"
	"musaic/core/search"
	"musaic/logger"
	"musaic/model"
)

const msgSpotifyLogin = "Please log in with Spotify to use the player."

type queueRequest struct {
	URI string `json:"uri"`
}

type playRequest struct {
	URI      string `json:"uri"`
	DeviceID string `json:"deviceId"`
}

type searchResponse struct {
	Query  string               `json:"query"`
	Tracks []model.TrackSummary `json:"tracks"`
}

// spotifyToken loads the caller's provider token or writes the error response.
func (h *APIHandler) spotifyToken(w http.ResponseWriter, r *http.Request) (int64, string, bool) {
	userID, err := GetUserIDFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, msgUnauthorized)
		return 0, "", false
	}
	token, err := h.deps.ProviderTokens.ProviderToken(r.Context(), userID, model.ProviderSpotify)
	if errors.Is(err, cache.ErrNoProviderToken) {
		writeError(w, http.StatusUnauthorized, msgSpotifyLogin)
		return 0, "", false
	}
	if err != nil {
		logger.Error("[Spotify] 读取 provider token 失败", logger.Int64("userID", userID), logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, msgInternal)
		return 0, "", false
	}
	return userID, token, true
}

// SearchHandler handles GET /api/spotify/search?q=.
func (h *APIHandler) SearchHandler(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if strings.TrimSpace(query) == "" {
		// 空查询直接返回空列表，不访问上游
		writeJSON(w, http.StatusOK, searchResponse{Query: query, Tracks: []model.TrackSummary{}})
		return
	}

	userID, token, ok := h.spotifyToken(w, r)
	if !ok {
		return
	}

	result, err := h.deps.Spotify(token).SearchTracks(r.Context(), query, h.cfg.SearchLimit)
	if err != nil {
		logger.Error("[Spotify] 搜索失败",
			logger.Int64("userID", userID),
			logger.String("query", query),
			logger.ErrorField(err))
		writeError(w, http.StatusBadGateway, search.FailureMessage)
		return
	}

	tracks := result.Tracks
	if tracks == nil {
		tracks = []model.TrackSummary{}
	}
	writeJSON(w, http.StatusOK, searchResponse{Query: query, Tracks: tracks})
}

// QueueHandler handles POST /api/spotify/queue.
func (h *APIHandler) QueueHandler(w http.ResponseWriter, r *http.Request) {
	var req queueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, msgInvalidBody)
		return
	}
	if strings.TrimSpace(req.URI) == "" {
		writeError(w, http.StatusBadRequest, player.ErrMissingURI.Error())
		return
	}

	userID, token, ok := h.spotifyToken(w, r)
	if !ok {
		return
	}

	queue := player.NewQueue(h.deps.Spotify(token), nil)
	if err := queue.Add(r.Context(), req.URI); err != nil {
		logger.Error("[Spotify] 加入队列失败", logger.Int64("userID", userID), logger.ErrorField(err))
		writeError(w, http.StatusBadGateway, player.QueueFailureMessage)
		return
	}
	writeJSON(w, http.StatusOK, queue.Status())
}

// PlayHandler handles PUT /api/spotify/play.
func (h *APIHandler) PlayHandler(w http.ResponseWriter, r *http.Request) {
	var req playRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, msgInvalidBody)
		return
	}
	if req.DeviceID == "" {
		writeError(w, http.StatusBadRequest, player.AlertNoDevice)
		return
	}
	uri := req.URI
	if uri == "" {
		uri = player.DefaultTrackURI
	}

	userID, token, ok := h.spotifyToken(w, r)
	if !ok {
		return
	}

	if err := h.deps.Spotify(token).Play(r.Context(), req.DeviceID, []string{uri}); err != nil {
		logger.Error("[Spotify] 播放失败",
			logger.Int64("userID", userID),
			logger.String("uri", uri),
			logger.ErrorField(err))
		writeError(w, http.StatusBadGateway, player.AlertPlayFailed)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
