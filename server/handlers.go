package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"musaic/config"
	"musaic/core/auth"
	"musaic/core/player"
	"musaic/logger"
	"musaic/model"
	"musaic/repository"

	"github.com/minio/minio-go/v7"
	"golang.org/x/oauth2"
)

// ChatRelay answers one prompt.
type ChatRelay interface {
	Reply(ctx context.Context, prompt string) (string, error)
}

// StateStore issues single-use OAuth state values.
type StateStore interface {
	SaveState(ctx context.Context, state, provider string) error
	ConsumeState(ctx context.Context, state string) (string, error)
}

// ProviderTokenStore keeps provider access tokens per user.
type ProviderTokenStore interface {
	SaveProviderToken(ctx context.Context, userID int64, provider, token string, expiry time.Time) error
	ProviderToken(ctx context.Context, userID int64, provider string) (string, error)
	DeleteProviderToken(ctx context.Context, userID int64, provider string) error
}

// AvatarStore mirrors and serves profile pictures.
type AvatarStore interface {
	MirrorAvatar(ctx context.Context, httpClient *http.Client, userID int64, srcURL string) (string, error)
	Get(ctx context.Context, key string) (*minio.Object, minio.ObjectInfo, error)
}

// OAuthProvider is one external sign-in option.
type OAuthProvider interface {
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (*oauth2.Token, error)
	FetchProfile(ctx context.Context, token *oauth2.Token) (*model.ProviderProfile, error)
}

// SpotifyAPI is the part of the Web API reachable over plain HTTP routes.
type SpotifyAPI interface {
	SearchTracks(ctx context.Context, query string, limit int) (*model.SearchResult, error)
	AddToQueue(ctx context.Context, trackURI, deviceID string) error
	Play(ctx context.Context, deviceID string, uris []string) error
	CheckPremium(ctx context.Context) (bool, error)
}

// SpotifyFactory builds a Web API client for a bearer token.
type SpotifyFactory func(token string) SpotifyAPI

// Dependencies is everything the router needs. Avatars may be nil.
type Dependencies struct {
	Config         *config.Config
	Users          repository.UserRepository
	Identities     repository.IdentityRepository
	Tokens         *auth.TokenManager
	States         StateStore
	ProviderTokens ProviderTokenStore
	Avatars        AvatarStore
	Providers      map[string]OAuthProvider
	Relay          ChatRelay
	Spotify        SpotifyFactory
	PlayerSDK      player.SDKFactory
	Pages          *Pages
	HTTPClient     *http.Client
}

// APIHandler 处理认证和 Spotify 代理请求
type APIHandler struct {
	deps Dependencies
	cfg  *config.Config
}

// NewAPIHandler 创建新的API处理器
func NewAPIHandler(deps Dependencies) *APIHandler {
	if deps.HTTPClient == nil {
		deps.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &APIHandler{deps: deps, cfg: deps.Config}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("[HTTP] 写入响应失败", logger.ErrorField(err))
	}
}

// writeError answers a fixed message; upstream details stay in the logs.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, model.ErrorResponse{Error: msg})
}
