package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"musaic/cache"
	"musaic/config"
	"musaic/core/agent"
	"musaic/core/auth"
	"musaic/core/player"
	"musaic/core/spotify"
	"musaic/db"
	"musaic/logger"
	"musaic/model"
	"musaic/repository"
	"musaic/storage"

	"github.com/gorilla/mux"
)

// NewRouter wires every route onto a gorilla/mux router.
func NewRouter(deps Dependencies) *mux.Router {
	h := NewAPIHandler(deps)
	chat := NewChatHandler(deps.Relay, deps.Config.ChatRateLimit, deps.Config.ChatRateBurst)

	router := mux.NewRouter()

	// 添加 CORS 中间件
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS, HEAD")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			w.Header().Set("Access-Control-Max-Age", "86400") // 24 hours

			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	})
	router.Use(loggingMiddleware)

	// 用户认证相关的API端点
	router.HandleFunc("/api/auth/sign-up", h.SignUpHandler).Methods(http.MethodPost)
	router.HandleFunc("/api/auth/sign-in", h.SignInHandler).Methods(http.MethodPost)
	router.HandleFunc("/api/auth/sign-out", h.SignOutHandler).Methods(http.MethodPost)
	router.HandleFunc("/api/me", h.AuthMiddleware(h.MeHandler)).Methods(http.MethodGet)

	// OAuth
	router.HandleFunc("/auth/{provider}/login", h.OAuthLoginHandler).Methods(http.MethodGet)
	router.HandleFunc("/auth/{provider}/callback", h.OAuthCallbackHandler).Methods(http.MethodGet)

	router.Handle("/api/chat", h.OptionalAuth(chat.ServeHTTP)).Methods(http.MethodPost)

	// Spotify 代理
	router.HandleFunc("/api/spotify/search", h.AuthMiddleware(h.SearchHandler)).Methods(http.MethodGet)
	router.HandleFunc("/api/spotify/queue", h.AuthMiddleware(h.QueueHandler)).Methods(http.MethodPost)
	router.HandleFunc("/api/spotify/play", h.AuthMiddleware(h.PlayHandler)).Methods(http.MethodPut)

	router.HandleFunc("/ws/player", h.PlayerSocketHandler).Methods(http.MethodGet)

	router.PathPrefix("/static/").Handler(NewStaticHandler(deps.Avatars)).Methods(http.MethodGet)

	assets := http.FileServer(http.Dir(filepath.Join(deps.Config.WebAppDir, "assets")))
	router.PathPrefix("/assets/").Handler(http.StripPrefix("/assets/", assets))

	// Pages
	router.HandleFunc("/", h.IndexPage).Methods(http.MethodGet)
	router.HandleFunc("/sign-in", h.SignInPage).Methods(http.MethodGet)
	router.HandleFunc("/sign-up", h.SignUpPage).Methods(http.MethodGet)
	router.HandleFunc("/protected", h.PageAuth(h.ProtectedPage)).Methods(http.MethodGet)
	router.HandleFunc("/protected/player", h.PageAuth(h.PlayerPage)).Methods(http.MethodGet)

	return router
}

// statusRecorder keeps the status for the access log. It must stay
// hijackable for the websocket upgrade.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return hj.Hijack()
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		logger.Info("[HTTP] 请求完成",
			logger.String("method", r.Method),
			logger.String("path", r.URL.Path),
			logger.Int("status", rec.status),
			logger.Duration("elapsed", time.Since(start)))
	})
}

// Start connects the backing services, serves HTTP and shuts down on
// SIGINT/SIGTERM.
func Start(cfg *config.Config) error {
	for _, problem := range cfg.Validate() {
		logger.Warn("[Config] " + problem)
	}

	// Connect to the database
	if err := db.ConnectDB(cfg); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.CloseDB()

	// Initialize database schema
	if err := db.InitDB(); err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	if err := db.ConnectGormDB(cfg); err != nil {
		return fmt.Errorf("failed to connect gorm: %w", err)
	}
	defer db.CloseGormDB()
	if err := db.AutoMigrateModels(&model.OAuthIdentity{}); err != nil {
		return fmt.Errorf("failed to migrate models: %w", err)
	}

	// Connect to Redis
	if err := cache.ConnectRedis(cfg); err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}
	defer cache.CloseRedis()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	httpClient := &http.Client{Timeout: 15 * time.Second}
	tokenStore := cache.NewTokenStore(cache.RedisClient)
	relay := agent.NewRelay(agent.RelayConfig{
		APIBaseURL: cfg.OpenAIAPIURL,
		APIKey:     cfg.OpenAIAPIKey,
		Model:      cfg.OpenAIModel,
	})
	logger.Info("[Chat] 聊天转发已配置", logger.String("model", relay.Model()))

	deps := Dependencies{
		Config:         cfg,
		Users:          repository.NewMySQLUserRepository(db.DB),
		Identities:     repository.NewGormIdentityRepository(db.GormDB),
		Tokens:         auth.NewTokenManager(cfg.JWTSecret, cfg.JWTTTL),
		States:         tokenStore,
		ProviderTokens: tokenStore,
		Providers:      make(map[string]OAuthProvider),
		Relay:          relay,
		Spotify: func(token string) SpotifyAPI {
			client := spotify.New(cfg.SpotifyAPIURL, token)
			client.SetHTTPClient(httpClient)
			return client
		},
		PlayerSDK:  player.RemoteFactory(cfg.SpotifyAPIURL, cfg.PlayerPollInterval, httpClient),
		HTTPClient: httpClient,
	}

	// 初始化 MinIO，未配置时头像只保存外链
	if cfg.MinioEndpoint != "" {
		avatars, err := storage.InitMinio(ctx, cfg)
		if err != nil {
			return fmt.Errorf("failed to initialize MinIO: %w", err)
		}
		deps.Avatars = avatars
	}

	if cfg.GoogleClientID != "" && cfg.GoogleClientSecret != "" {
		deps.Providers[model.ProviderGoogle] = auth.NewGoogleProvider(
			cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.OAuthRedirectURL(model.ProviderGoogle))
	}
	if cfg.SpotifyClientID != "" && cfg.SpotifyClientSecret != "" {
		deps.Providers[model.ProviderSpotify] = auth.NewSpotifyProvider(
			cfg.SpotifyClientID, cfg.SpotifyClientSecret, cfg.OAuthRedirectURL(model.ProviderSpotify))
	}

	pages, err := NewPages(filepath.Join(cfg.WebAppDir, "templates"))
	if err != nil {
		return err
	}
	if err := pages.Watch(ctx); err != nil {
		logger.Warn("[Pages] 模板热加载不可用", logger.ErrorField(err))
	}
	deps.Pages = pages

	// 设置服务器超时，WriteTimeout 不覆盖已劫持的 websocket 连接
	srv := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      NewRouter(deps),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// 创建一个通道来接收操作系统信号
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Server starting", logger.String("addr", srv.Addr), logger.String("ui", cfg.PublicBaseURL))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// 等待中断信号
	select {
	case <-stop:
	case err := <-errCh:
		return fmt.Errorf("failed to start server: %w", err)
	}
	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	// 优雅关闭服务器
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("Server stopped")
	return nil
}
