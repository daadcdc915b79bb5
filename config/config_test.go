package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("PUBLIC_BASE_URL", "http://example.test/")

	cfg := Load()

	if cfg.ServerPort != "8080" {
		t.Errorf("ServerPort = %q, want 8080", cfg.ServerPort)
	}
	if cfg.OpenAIModel != "gpt-4" {
		t.Errorf("OpenAIModel = %q, want gpt-4", cfg.OpenAIModel)
	}
	if cfg.SearchDebounce != 500*time.Millisecond {
		t.Errorf("SearchDebounce = %v, want 500ms", cfg.SearchDebounce)
	}
	if cfg.PlayerPollInterval != time.Second {
		t.Errorf("PlayerPollInterval = %v, want 1s", cfg.PlayerPollInterval)
	}
	if cfg.SearchLimit != 10 {
		t.Errorf("SearchLimit = %d, want 10", cfg.SearchLimit)
	}
	if got := cfg.OAuthRedirectURL("spotify"); got != "http://example.test/auth/spotify/callback" {
		t.Errorf("OAuthRedirectURL = %q", got)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("SEARCH_DEBOUNCE", "250ms")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("MINIO_USE_SSL", "true")
	t.Setenv("CHAT_RATE_LIMIT", "0.5")
	t.Setenv("SEARCH_LIMIT", "not-a-number")

	cfg := Load()

	if cfg.SearchDebounce != 250*time.Millisecond {
		t.Errorf("SearchDebounce = %v, want 250ms", cfg.SearchDebounce)
	}
	if cfg.RedisDB != 3 {
		t.Errorf("RedisDB = %d, want 3", cfg.RedisDB)
	}
	if !cfg.MinioUseSSL {
		t.Error("MinioUseSSL = false, want true")
	}
	if cfg.ChatRateLimit != 0.5 {
		t.Errorf("ChatRateLimit = %v, want 0.5", cfg.ChatRateLimit)
	}
	if cfg.SearchLimit != 10 {
		t.Errorf("SearchLimit = %d, want fallback 10", cfg.SearchLimit)
	}
}

func TestLoadGeneratesSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")

	cfg := Load()
	if len(cfg.JWTSecret) != 64 {
		t.Errorf("generated secret length = %d, want 64", len(cfg.JWTSecret))
	}
}

func TestValidate(t *testing.T) {
	cfg := &Config{
		OpenAIAPIKey:        "k",
		SpotifyClientID:     "id",
		SpotifyClientSecret: "secret",
		GoogleClientID:      "gid",
		GoogleClientSecret:  "gsecret",
		MinioEndpoint:       "minio:9000",
		SearchDebounce:      time.Millisecond,
	}
	if problems := cfg.Validate(); len(problems) != 0 {
		t.Errorf("Validate() = %v, want none", problems)
	}

	cfg.OpenAIAPIKey = ""
	cfg.SearchDebounce = 0
	if problems := cfg.Validate(); len(problems) != 2 {
		t.Errorf("Validate() returned %d problems, want 2: %v", len(problems), problems)
	}
}
