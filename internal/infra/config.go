package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv               string
	Port                 string
	DatabaseURL          string
	StoragePath          string
	StorageBaseURL       string
	GeoIPDBPath          string
	GeminiAPIKey         string
	GeminiBaseURL        string
	GeminiChatModel      string
	GeminiVideoModel     string
	GeminiRequestsPerMin int
	Synthetic            bool
	VideoPollInterval    time.Duration
	VideoStatusInterval  time.Duration
	VideoMaxDuration     time.Duration
	CORSAllowedOrigins   []string
	HTTPReadTimeout      time.Duration
	HTTPWriteTimeout     time.Duration
	HTTPIdleTimeout      time.Duration
	RateLimitPerMin      int
	Locales              []string
	ChatMaxSessions      int
	ConfigFile           string
}

// fileConfig mirrors the optional TOML file pointed at by AIX_CONFIG_FILE.
// Environment variables always win over file values.
type fileConfig struct {
	App struct {
		Env  string `toml:"env"`
		Port string `toml:"port"`
	} `toml:"app"`
	Database struct {
		URL string `toml:"url"`
	} `toml:"database"`
	Storage struct {
		Path    string `toml:"path"`
		BaseURL string `toml:"base_url"`
	} `toml:"storage"`
	Gemini struct {
		APIKey            string `toml:"api_key"`
		BaseURL           string `toml:"base_url"`
		ChatModel         string `toml:"chat_model"`
		VideoModel        string `toml:"video_model"`
		RequestsPerMinute int    `toml:"requests_per_minute"`
		Synthetic         bool   `toml:"synthetic"`
	} `toml:"gemini"`
	Video struct {
		PollIntervalMS     int `toml:"poll_interval_ms"`
		StatusIntervalMS   int `toml:"status_interval_ms"`
		MaxDurationSeconds int `toml:"max_duration_seconds"`
	} `toml:"video"`
	HTTP struct {
		AllowedOrigins  []string `toml:"allowed_origins"`
		RateLimitPerMin int      `toml:"rate_limit_per_minute"`
		Locales         []string `toml:"locales"`
	} `toml:"http"`
	Chat struct {
		MaxSessions int `toml:"max_sessions"`
	} `toml:"chat"`
	GeoIP struct {
		DBPath string `toml:"db_path"`
	} `toml:"geoip"`
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	var file fileConfig
	path := strings.TrimSpace(os.Getenv("AIX_CONFIG_FILE"))
	if path != "" {
		if _, err := toml.DecodeFile(path, &file); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	cfg := &Config{
		AppEnv:               getEnv("APP_ENV", or(file.App.Env, "development")),
		Port:                 getEnv("PORT", or(file.App.Port, "8080")),
		DatabaseURL:          getEnv("DATABASE_URL", file.Database.URL),
		StoragePath:          getEnv("STORAGE_PATH", or(file.Storage.Path, "./storage")),
		StorageBaseURL:       getEnv("STORAGE_BASE_URL", file.Storage.BaseURL),
		GeoIPDBPath:          getEnv("GEOIP_DB_PATH", file.GeoIP.DBPath),
		GeminiAPIKey:         getEnv("GEMINI_API_KEY", file.Gemini.APIKey),
		GeminiBaseURL:        getEnv("GEMINI_BASE_URL", or(file.Gemini.BaseURL, "https://generativelanguage.googleapis.com/v1beta")),
		GeminiChatModel:      getEnv("GEMINI_CHAT_MODEL", or(file.Gemini.ChatModel, "gemini-2.5-flash")),
		GeminiVideoModel:     getEnv("GEMINI_VIDEO_MODEL", or(file.Gemini.VideoModel, "veo-3.1-fast-generate-preview")),
		GeminiRequestsPerMin: getEnvInt("GEMINI_REQUESTS_PER_MINUTE", orInt(file.Gemini.RequestsPerMinute, 60)),
		Synthetic:            getEnvBool("GENAI_SYNTHETIC", file.Gemini.Synthetic),
		VideoPollInterval:    time.Millisecond * time.Duration(getEnvInt("VIDEO_POLL_INTERVAL_MS", orInt(file.Video.PollIntervalMS, 5000))),
		VideoStatusInterval:  time.Millisecond * time.Duration(getEnvInt("VIDEO_STATUS_INTERVAL_MS", orInt(file.Video.StatusIntervalMS, 4000))),
		VideoMaxDuration:     time.Second * time.Duration(getEnvInt("VIDEO_MAX_DURATION_SECONDS", file.Video.MaxDurationSeconds)),
		CORSAllowedOrigins:   getEnvList("CORS_ALLOWED_ORIGINS", file.HTTP.AllowedOrigins),
		HTTPReadTimeout:      time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout:     time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 0)),
		HTTPIdleTimeout:      time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:      getEnvInt("RATE_LIMIT_PER_MINUTE", orInt(file.HTTP.RateLimitPerMin, 30)),
		Locales:              getEnvList("LOCALES", file.HTTP.Locales),
		ChatMaxSessions:      getEnvInt("CHAT_MAX_SESSIONS", orInt(file.Chat.MaxSessions, 256)),
		ConfigFile:           path,
	}

	if cfg.StorageBaseURL == "" {
		cfg.StorageBaseURL = fmt.Sprintf("http://localhost:%s/v1/videos", cfg.Port)
	}
	if len(cfg.CORSAllowedOrigins) == 0 {
		cfg.CORSAllowedOrigins = []string{"http://localhost:3000", "http://localhost:5173"}
	}
	if len(cfg.Locales) == 0 {
		cfg.Locales = []string{"en"}
	}
	if cfg.VideoPollInterval <= 0 {
		return nil, fmt.Errorf("VIDEO_POLL_INTERVAL_MS must be positive")
	}
	if cfg.VideoStatusInterval <= 0 {
		return nil, fmt.Errorf("VIDEO_STATUS_INTERVAL_MS must be positive")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func or(v, fallback string) string {
	if strings.TrimSpace(v) != "" {
		return v
	}
	return fallback
}

func orInt(v, fallback int) int {
	if v != 0 {
		return v
	}
	return fallback
}
