package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"musaic/model"

	"github.com/gorilla/websocket"
)

type wireMessage struct {
	Type    string          `json:"type"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}

func dialPlayer(t *testing.T, srv *httptest.Server, token string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/player?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readUntil returns the first message accepted by match.
func readUntil(t *testing.T, conn *websocket.Conn, match func(wireMessage) bool) wireMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		var msg wireMessage
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read: %v", err)
		}
		if match(msg) {
			return msg
		}
	}
}

func TestPlayerSocketWithoutProviderToken(t *testing.T) {
	env := newTestEnv(t)
	_, token := env.signedInUser(t, "ws@example.com")
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	conn := dialPlayer(t, srv, token)
	msg := readUntil(t, conn, func(m wireMessage) bool { return m.Type == msgTypeAlert })
	if msg.Message != msgSpotifyLogin {
		t.Errorf("alert = %q", msg.Message)
	}
}

func TestPlayerSocketRejectsAnonymous(t *testing.T) {
	env := newTestEnv(t)
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws/player", nil)
	if err == nil {
		t.Fatal("anonymous dial succeeded")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("response = %v", resp)
	}
}

func TestPlayerSocketSession(t *testing.T) {
	env := newTestEnv(t)
	token := env.spotifyUser(t)
	env.spotify.result = &model.SearchResult{Tracks: []model.TrackSummary{{Name: "Naima", URI: "spotify:track:n"}}}
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	conn := dialPlayer(t, srv, token)

	// SDK 就绪后 view 带上 deviceId
	readUntil(t, conn, func(m wireMessage) bool {
		return m.Type == msgTypeView && strings.Contains(string(m.Data), `"deviceId":"device-1"`)
	})

	if err := conn.WriteJSON(clientCommand{Type: "search", Query: "naima"}); err != nil {
		t.Fatal(err)
	}
	msg := readUntil(t, conn, func(m wireMessage) bool {
		return m.Type == msgTypeSearch && strings.Contains(string(m.Data), "Naima")
	})
	if strings.Contains(string(msg.Data), `"loading":true`) {
		t.Errorf("final search update still loading: %s", msg.Data)
	}

	if err := conn.WriteJSON(clientCommand{Type: "play", URI: "spotify:track:n"}); err != nil {
		t.Fatal(err)
	}
	readUntil(t, conn, func(m wireMessage) bool {
		return m.Type == msgTypeSearch && !strings.Contains(string(m.Data), "Naima")
	})

	if err := conn.WriteJSON(clientCommand{Type: "queue", URI: "spotify:track:q"}); err != nil {
		t.Fatal(err)
	}
	readUntil(t, conn, func(m wireMessage) bool {
		return m.Type == msgTypeQueue && strings.Contains(string(m.Data), `"state":"idle"`)
	})

	env.spotify.mu.Lock()
	played, queued := env.spotify.played, env.spotify.queued
	env.spotify.mu.Unlock()
	if len(played) != 1 || played[0] != "spotify:track:n" {
		t.Errorf("played = %v", played)
	}
	if len(queued) != 1 || queued[0] != "spotify:track:q" {
		t.Errorf("queued = %v", queued)
	}

	conn.Close()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		calls := env.sdk.Calls()
		if len(calls) > 0 && calls[len(calls)-1] == "disconnect" {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Errorf("sdk not disconnected after socket close: %v", env.sdk.Calls())
}
