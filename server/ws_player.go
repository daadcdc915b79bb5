package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"musaic/cache"
	"musaic/core/auth"
	"musaic/core/player"
	"musaic/core/search"
	"musaic/logger"
	"musaic/model"

	"github.com/gorilla/websocket"
)

const (
	// WebSocket 配置
	writeWait      = 10 * time.Second    // 写入超时
	pongWait       = 60 * time.Second    // 等待 pong 响应超时
	pingPeriod     = (pongWait * 9) / 10 // ping 间隔 (必须小于 pongWait)
	maxMessageSize = 4096                // 最大消息大小
	sendBuffer     = 32
)

// Outbound message types.
const (
	msgTypeView   = "view"
	msgTypeAlert  = "alert"
	msgTypeSearch = "search"
	msgTypeQueue  = "queue"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// serverMessage is pushed to the browser.
type serverMessage struct {
	Type    string      `json:"type"`
	Data    interface{} `json:"data,omitempty"`
	Message string      `json:"message,omitempty"`
}

// clientCommand is one browser request.
type clientCommand struct {
	Type       string `json:"type"`
	Query      string `json:"query"`
	URI        string `json:"uri"`
	PositionMs int    `json:"positionMs"`
	Volume     int    `json:"volume"`
}

// limitedSearcher fixes the page size for the debouncer.
type limitedSearcher struct {
	api   SpotifyAPI
	limit int
}

func (s limitedSearcher) SearchTracks(ctx context.Context, query string) (*model.SearchResult, error) {
	return s.api.SearchTracks(ctx, query, s.limit)
}

// playerSession is one socket's widget, debouncer and queue helper.
type playerSession struct {
	userID int64
	conn   *websocket.Conn
	send   chan []byte
	done   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc

	widget *player.Widget
	search *search.Debouncer
	queue  *player.Queue
}

// wsClaims accepts ?token= since browsers cannot set headers on a socket.
func (h *APIHandler) wsClaims(r *http.Request) (*auth.Claims, error) {
	if token := r.URL.Query().Get("token"); token != "" {
		return h.deps.Tokens.ParseToken(token)
	}
	return h.sessionClaims(r)
}

// PlayerSocketHandler handles GET /ws/player.
func (h *APIHandler) PlayerSocketHandler(w http.ResponseWriter, r *http.Request) {
	claims, err := h.wsClaims(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, msgUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("[WS] 升级连接失败", logger.ErrorField(err))
		return
	}

	token, err := h.deps.ProviderTokens.ProviderToken(r.Context(), claims.UserID, model.ProviderSpotify)
	if err != nil {
		if !errors.Is(err, cache.ErrNoProviderToken) {
			logger.Error("[WS] 读取 provider token 失败", logger.Int64("userID", claims.UserID), logger.ErrorField(err))
		}
		closeWithAlert(conn, msgSpotifyLogin)
		return
	}

	s := h.newPlayerSession(conn, claims.UserID, token)
	logger.Info("[WS] 播放器连接建立", logger.Int64("userID", claims.UserID))

	go s.writeLoop()
	go func() {
		// 失败时 widget 已经推送 alert
		_ = s.widget.Start(s.ctx)
	}()

	s.readLoop()
	s.close()
	logger.Info("[WS] 播放器连接关闭", logger.Int64("userID", claims.UserID))
}

func (h *APIHandler) newPlayerSession(conn *websocket.Conn, userID int64, token string) *playerSession {
	api := h.deps.Spotify(token)
	s := &playerSession{
		userID: userID,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		done:   make(chan struct{}),
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	s.widget = player.NewWidget(player.Options{
		Token:        token,
		Entitlement:  api,
		NewSDK:       h.deps.PlayerSDK,
		Playback:     api,
		PollInterval: h.cfg.PlayerPollInterval,
		Observer: player.ObserverFuncs{
			View:  func(v player.View) { s.push(serverMessage{Type: msgTypeView, Data: v}) },
			Alert: func(msg string) { s.push(serverMessage{Type: msgTypeAlert, Message: msg}) },
		},
	})
	s.search = search.NewDebouncer(limitedSearcher{api: api, limit: h.cfg.SearchLimit}, h.cfg.SearchDebounce,
		func(u search.Update) { s.push(serverMessage{Type: msgTypeSearch, Data: u}) })
	s.queue = player.NewQueue(api, func(q player.QueueStatus) {
		s.push(serverMessage{Type: msgTypeQueue, Data: q})
	})
	return s
}

func closeWithAlert(conn *websocket.Conn, msg string) {
	defer conn.Close()
	data, _ := json.Marshal(serverMessage{Type: msgTypeAlert, Message: msg})
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return
	}
	_ = conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, msg))
}

// push queues a message unless the session is closing.
func (s *playerSession) push(msg serverMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		logger.Error("[WS] 序列化消息失败", logger.String("type", msg.Type), logger.ErrorField(err))
		return
	}
	select {
	case s.send <- data:
	case <-s.done:
	}
}

func (s *playerSession) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case data := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				logger.Warn("[WS] 写入失败", logger.Int64("userID", s.userID), logger.ErrorField(err))
				s.conn.Close() // 让 readLoop 退出
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.conn.Close()
				return
			}
		case <-s.done:
			return
		}
	}
}

func (s *playerSession) readLoop() {
	s.conn.SetReadLimit(maxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var cmd clientCommand
		if err := s.conn.ReadJSON(&cmd); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn("[WS] 读取消息失败", logger.Int64("userID", s.userID), logger.ErrorField(err))
			}
			return
		}
		s.dispatch(cmd)
	}
}

// dispatch runs one command. Errors already reached the browser as alerts.
func (s *playerSession) dispatch(cmd clientCommand) {
	ctx, cancel := context.WithTimeout(s.ctx, 15*time.Second)
	defer cancel()

	switch cmd.Type {
	case "search":
		s.search.Input(cmd.Query)
	case "toggle":
		_ = s.widget.TogglePlay(ctx)
	case "next":
		_ = s.widget.Next(ctx)
	case "previous":
		_ = s.widget.Previous(ctx)
	case "seek":
		_ = s.widget.Seek(ctx, cmd.PositionMs)
	case "volume":
		_ = s.widget.SetVolume(ctx, cmd.Volume)
	case "play":
		if err := s.widget.PlayTrack(ctx, cmd.URI); err == nil {
			// 播放成功后清空搜索框和结果
			s.search.Clear()
		}
	case "start":
		_ = s.widget.StartPlayback(ctx)
	case "queue":
		_ = s.queue.Add(ctx, cmd.URI)
	default:
		logger.Debug("[WS] 未知命令", logger.String("type", cmd.Type))
	}
}

// close releases the session. done goes first so blocked pushes return
// before the widget waits for its goroutines.
func (s *playerSession) close() {
	close(s.done)
	s.cancel()
	s.search.Close()
	s.widget.Close()
	s.conn.Close()
}
