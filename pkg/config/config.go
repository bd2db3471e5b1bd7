package config

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env  string
	Port int

	API     APIConfig
	Refresh RefreshConfig
	Exports ExportsConfig
	CORS    CORSConfig
	Log     LogConfig
}

// APIConfig points the client at the external students API.
type APIConfig struct {
	BaseURL string
	// Timeout of zero keeps the HTTP client default (no timeout).
	Timeout time.Duration
}

// RefreshConfig controls how the list is refetched after a mutation.
type RefreshConfig struct {
	Async   bool
	Workers int
	Retries int
}

// ExportsConfig controls where rendered exports live and how long links stay valid.
type ExportsConfig struct {
	StorageDir      string
	SignedURLSecret string
	SignedURLTTL    time.Duration
	ResultTTL       time.Duration
	CleanupInterval time.Duration
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !isMissingFile(err) {
			return nil, err
		}
	}

	return fromViper(v), nil
}

func fromViper(v *viper.Viper) *Config {
	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")

	cfg.API = APIConfig{
		BaseURL: strings.TrimRight(v.GetString("API_BASE_URL"), "/"),
		Timeout: parseDuration(v.GetString("API_TIMEOUT"), 0),
	}

	cfg.Refresh = RefreshConfig{
		Async:   v.GetBool("REFRESH_ASYNC"),
		Workers: v.GetInt("REFRESH_WORKERS"),
		Retries: v.GetInt("REFRESH_RETRIES"),
	}

	cfg.Exports = ExportsConfig{
		StorageDir:      v.GetString("EXPORT_STORAGE_DIR"),
		SignedURLSecret: v.GetString("EXPORT_SIGNED_URL_SECRET"),
		SignedURLTTL:    parseDuration(v.GetString("EXPORT_SIGNED_URL_TTL"), 30*time.Minute),
		ResultTTL:       parseDuration(v.GetString("EXPORT_RESULT_TTL"), 24*time.Hour),
		CleanupInterval: parseDuration(v.GetString("EXPORT_CLEANUP_INTERVAL"), time.Hour),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)

	v.SetDefault("API_BASE_URL", "http://127.0.0.1:8000")
	v.SetDefault("API_TIMEOUT", "")

	v.SetDefault("REFRESH_ASYNC", false)
	v.SetDefault("REFRESH_WORKERS", 2)
	v.SetDefault("REFRESH_RETRIES", 1)

	v.SetDefault("EXPORT_STORAGE_DIR", "./exports")
	v.SetDefault("EXPORT_SIGNED_URL_SECRET", "dev_exports_secret")
	v.SetDefault("EXPORT_SIGNED_URL_TTL", "30m")
	v.SetDefault("EXPORT_RESULT_TTL", "24h")
	v.SetDefault("EXPORT_CLEANUP_INTERVAL", "1h")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
}

// viper reports a missing explicit config file as a plain fs error rather than
// ConfigFileNotFoundError.
func isMissingFile(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
