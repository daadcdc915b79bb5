package server

import (
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"musaic/logger"
	"musaic/model"

	"golang.org/x/time/rate"
)

const (
	msgInvalidBody    = "Invalid request body."
	msgPromptRequired = "Prompt is required."
	msgChatFailed     = "Failed to fetch response from ChatGPT."
	msgChatRateLimit  = "Too many requests. Please slow down."
)

// ChatHandler relays prompts to the completion API. Signed-in callers get one
// limiter per user, anonymous callers one per client IP.
type ChatHandler struct {
	relay ChatRelay
	limit rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewChatHandler creates a ChatHandler. A non-positive perSecond disables limiting.
func NewChatHandler(relay ChatRelay, perSecond float64, burst int) *ChatHandler {
	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}
	if burst <= 0 {
		burst = 1
	}
	return &ChatHandler{
		relay:    relay,
		limit:    limit,
		burst:    burst,
		limiters: make(map[string]*rate.Limiter),
	}
}

func (h *ChatHandler) limiter(key string) *rate.Limiter {
	h.mu.Lock()
	defer h.mu.Unlock()
	l, ok := h.limiters[key]
	if !ok {
		l = rate.NewLimiter(h.limit, h.burst)
		h.limiters[key] = l
	}
	return l
}

// callerKey identifies the caller for rate limiting.
func callerKey(r *http.Request) string {
	if userID, err := GetUserIDFromContext(r.Context()); err == nil {
		return "user:" + strconv.FormatInt(userID, 10)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}

// ServeHTTP handles POST /api/chat.
func (h *ChatHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req model.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, msgInvalidBody)
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		writeError(w, http.StatusBadRequest, msgPromptRequired)
		return
	}

	caller := callerKey(r)
	if !h.limiter(caller).Allow() {
		logger.Warn("[Chat] 请求过于频繁", logger.String("caller", caller))
		writeError(w, http.StatusTooManyRequests, msgChatRateLimit)
		return
	}

	// prompt 原样转发，不做裁剪
	reply, err := h.relay.Reply(r.Context(), req.Prompt)
	if err != nil {
		logger.Error("[Chat] 上游请求失败", logger.String("caller", caller), logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, msgChatFailed)
		return
	}

	writeJSON(w, http.StatusOK, model.ChatResponse{Reply: reply})
}
