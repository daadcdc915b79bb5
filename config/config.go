package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config stores the application configuration.
type Config struct {
	ServerPort    string
	WebAppDir     string // Page templates and static UI assets
	PublicBaseURL string // Used to build OAuth redirect URLs

	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	// Redis配置
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	// MinIO配置，Endpoint 为空时不启用头像存储
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool
	MinioRegion    string

	JWTSecret string
	JWTTTL    time.Duration

	GoogleClientID      string
	GoogleClientSecret  string
	SpotifyClientID     string
	SpotifyClientSecret string
	SpotifyAPIURL       string

	OpenAIAPIKey string
	OpenAIAPIURL string
	OpenAIModel  string

	ChatRateLimit float64 // requests per second, per user
	ChatRateBurst int

	SearchDebounce     time.Duration
	SearchLimit        int
	PlayerPollInterval time.Duration

	LogLevel      string
	LogFile       string
	LogMaxSize    int
	LogMaxBackups int
	LogMaxAge     int
	LogCompress   bool
}

// getEnv gets an environment variable or returns a default value.
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

// getEnvInt gets an environment variable as int or returns a default value.
func getEnvInt(key string, fallback int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if value, exists := os.LookupEnv(key); exists {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

// getEnvDuration accepts Go duration strings ("500ms", "24h").
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

// Load loads configuration from environment variables (via .env file) or defaults.
func Load() *Config {
	// godotenv.Load() will not override existing env vars.
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found or error loading .env, relying on existing environment variables and defaults.")
	}

	cfg := &Config{
		ServerPort:    getEnv("SERVER_PORT", "8080"),
		WebAppDir:     getEnv("WEB_APP_DIR", filepath.Join("web", "ui")),
		PublicBaseURL: strings.TrimRight(getEnv("PUBLIC_BASE_URL", "http://localhost:8080"), "/"),

		DBHost:     getEnv("DB_HOST", "127.0.0.1"),
		DBPort:     getEnv("DB_PORT", "3306"),
		DBUser:     getEnv("DB_USER", "root"),
		DBPassword: os.Getenv("DB_PASSWORD"), // no hardcoded default for passwords
		DBName:     getEnv("DB_NAME", "musaic"),

		RedisHost:     getEnv("REDIS_HOST", "127.0.0.1"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		MinioEndpoint:  getEnv("MINIO_ENDPOINT", ""),
		MinioAccessKey: getEnv("MINIO_ACCESS_KEY", ""),
		MinioSecretKey: getEnv("MINIO_SECRET_KEY", ""),
		MinioBucket:    getEnv("MINIO_BUCKET", "musaic"),
		MinioUseSSL:    getEnvBool("MINIO_USE_SSL", false),
		MinioRegion:    getEnv("MINIO_REGION", "us-east-1"),

		JWTSecret: os.Getenv("JWT_SECRET"),
		JWTTTL:    getEnvDuration("JWT_TTL", 24*time.Hour),

		GoogleClientID:      os.Getenv("GOOGLE_CLIENT_ID"),
		GoogleClientSecret:  os.Getenv("GOOGLE_CLIENT_SECRET"),
		SpotifyClientID:     os.Getenv("SPOTIFY_CLIENT_ID"),
		SpotifyClientSecret: os.Getenv("SPOTIFY_CLIENT_SECRET"),
		SpotifyAPIURL:       strings.TrimRight(getEnv("SPOTIFY_API_URL", "https://api.spotify.com/v1"), "/"),

		OpenAIAPIKey: os.Getenv("OPENAI_API_KEY"),
		OpenAIAPIURL: strings.TrimRight(getEnv("OPENAI_API_URL", "https://api.openai.com/v1"), "/"),
		OpenAIModel:  getEnv("OPENAI_MODEL", "gpt-4"),

		ChatRateLimit: getEnvFloat("CHAT_RATE_LIMIT", 1),
		ChatRateBurst: getEnvInt("CHAT_RATE_BURST", 5),

		SearchDebounce:     getEnvDuration("SEARCH_DEBOUNCE", 500*time.Millisecond),
		SearchLimit:        getEnvInt("SEARCH_LIMIT", 10),
		PlayerPollInterval: getEnvDuration("PLAYER_POLL_INTERVAL", time.Second),

		LogLevel:      getEnv("LOG_LEVEL", "info"),
		LogFile:       getEnv("LOG_FILE", filepath.Join("logs", "musaic.log")),
		LogMaxSize:    getEnvInt("LOG_MAX_SIZE", 100),
		LogMaxBackups: getEnvInt("LOG_MAX_BACKUPS", 7),
		LogMaxAge:     getEnvInt("LOG_MAX_AGE", 30),
		LogCompress:   getEnvBool("LOG_COMPRESS", true),
	}

	if cfg.JWTSecret == "" {
		// 未配置时每次启动随机生成，重启后旧会话失效
		log.Println("JWT_SECRET not set, generating an ephemeral signing key; sessions will not survive a restart.")
		cfg.JWTSecret = randomSecret()
	}

	return cfg
}

// Validate returns the list of problems that leave a feature disabled.
// None of them prevent the server from starting.
func (c *Config) Validate() []string {
	var problems []string
	if c.OpenAIAPIKey == "" {
		problems = append(problems, "OPENAI_API_KEY is empty: chat relay will answer 500")
	}
	if c.SpotifyClientID == "" || c.SpotifyClientSecret == "" {
		problems = append(problems, "SPOTIFY_CLIENT_ID/SPOTIFY_CLIENT_SECRET missing: Spotify sign-in disabled")
	}
	if c.GoogleClientID == "" || c.GoogleClientSecret == "" {
		problems = append(problems, "GOOGLE_CLIENT_ID/GOOGLE_CLIENT_SECRET missing: Google sign-in disabled")
	}
	if c.MinioEndpoint == "" {
		problems = append(problems, "MINIO_ENDPOINT is empty: avatars are linked, not mirrored")
	}
	if c.SearchDebounce <= 0 {
		problems = append(problems, fmt.Sprintf("SEARCH_DEBOUNCE %v is not positive", c.SearchDebounce))
	}
	return problems
}

// OAuthRedirectURL builds the callback URL registered with a provider.
func (c *Config) OAuthRedirectURL(provider string) string {
	return c.PublicBaseURL + "/auth/" + provider + "/callback"
}

func randomSecret() string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		panic(err)
	}
	return hex.EncodeToString(buf)
}
