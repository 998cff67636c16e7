// internal/config/config.go

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/VictorHono/agrosense-ai-sub001/internal/domain/i18n"
)

// Config holds all application configuration
type Config struct {
	Environment string
	Server      ServerConfig
	Database    DatabaseConfig
	NATS        NATSConfig
	Functions   FunctionsConfig
	Imaging     ImagingConfig
	Geo         GeoConfig
	Analysis    AnalysisConfig
	Logging     LoggingConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
	CorsOrigins     []string

	// per-client limit on the analysis routes
	ClientRate  float64
	ClientBurst int
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Enabled      bool
	Host         string
	Port         int
	User         string
	Password     string
	Database     string
	MaxOpenConns int
	MaxLifetime  time.Duration
	SSLMode      string
}

// DSN returns the Postgres connection string
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s&pool_max_conns=%d&pool_max_conn_lifetime=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode, c.MaxOpenConns, c.MaxLifetime,
	)
}

// NATSConfig holds NATS configuration
type NATSConfig struct {
	Enabled        bool
	URL            string
	MaxReconnects  int
	ReconnectWait  time.Duration
	ConnectTimeout time.Duration
}

// FunctionsConfig holds the remote functions endpoint configuration
type FunctionsConfig struct {
	BaseURL      string
	APIKey       string
	FallbackURLs []string
	// zero leaves calls bounded by the request context only
	Timeout      time.Duration
	RateLimit    float64
	Burst        int
}

// ImagingConfig holds compression targets, in bytes
type ImagingConfig struct {
	DiagnosisTarget int
	HarvestTarget   int
	MaxUploadBytes  int64
}

// GeoConfig holds geolocation configuration
type GeoConfig struct {
	HighAccuracy   bool
	Timeout        time.Duration
	MaxCacheAge    time.Duration
	Watch          bool
	CacheKey       string
	ManualKey      string
	SubjectPrefix  string
	HistoryPrivacy string
}

// AnalysisConfig holds orchestrator configuration
type AnalysisConfig struct {
	MaxRetries      int
	BaseDelay       time.Duration
	EventsTopic     string
	DefaultLanguage string
	SessionTTL      time.Duration
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
}

var privacyLevels = map[string]bool{
	"disabled":     true,
	"approximate":  true,
	"neighborhood": true,
	"precise":      true,
}

// Load loads configuration from environment variables
func Load() (Config, error) {
	config := Config{
		Environment: getEnv("APP_ENV", "development"),
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getEnvAsInt("SERVER_PORT", 8080),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 90*time.Second),
			RequestTimeout:  getEnvAsDuration("SERVER_REQUEST_TIMEOUT", 75*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
			CorsOrigins:     getEnvAsSlice("SERVER_CORS_ORIGINS", []string{"*"}),
			ClientRate:      getEnvAsFloat("SERVER_CLIENT_RATE", 0.5),
			ClientBurst:     getEnvAsInt("SERVER_CLIENT_BURST", 3),
		},
		Database: DatabaseConfig{
			Enabled:      getEnvAsBool("DB_ENABLED", true),
			Host:         getEnv("DB_HOST", "localhost"),
			Port:         getEnvAsInt("DB_PORT", 5432),
			User:         getEnv("DB_USER", "postgres"),
			Password:     getEnv("DB_PASSWORD", "postgres"),
			Database:     getEnv("DB_NAME", "agrosense"),
			MaxOpenConns: getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxLifetime:  getEnvAsDuration("DB_MAX_LIFETIME", 5*time.Minute),
			SSLMode:      getEnv("DB_SSL_MODE", "disable"),
		},
		NATS: NATSConfig{
			Enabled:        getEnvAsBool("NATS_ENABLED", true),
			URL:            getEnv("NATS_URL", "nats://localhost:4222"),
			MaxReconnects:  getEnvAsInt("NATS_MAX_RECONNECTS", 10),
			ReconnectWait:  getEnvAsDuration("NATS_RECONNECT_WAIT", 1*time.Second),
			ConnectTimeout: getEnvAsDuration("NATS_CONNECT_TIMEOUT", 2*time.Second),
		},
		Functions: FunctionsConfig{
			BaseURL:      getEnv("FUNCTIONS_URL", ""),
			APIKey:       getEnv("FUNCTIONS_API_KEY", ""),
			FallbackURLs: getEnvAsSlice("FUNCTIONS_FALLBACK_URLS", nil),
			Timeout:      getEnvAsDuration("FUNCTIONS_TIMEOUT", 0),
			RateLimit:    getEnvAsFloat("FUNCTIONS_RATE_LIMIT", 5),
			Burst:        getEnvAsInt("FUNCTIONS_BURST", 10),
		},
		Imaging: ImagingConfig{
			DiagnosisTarget: int(getEnvAsBytes("IMAGING_DIAGNOSIS_TARGET", 400*humanize.KiByte)),
			HarvestTarget:   int(getEnvAsBytes("IMAGING_HARVEST_TARGET", 400*humanize.KiByte)),
			MaxUploadBytes:  int64(getEnvAsBytes("IMAGING_MAX_UPLOAD", 20*humanize.MiByte)),
		},
		Geo: GeoConfig{
			HighAccuracy:   getEnvAsBool("GEO_HIGH_ACCURACY", true),
			Timeout:        getEnvAsDuration("GEO_TIMEOUT", 15*time.Second),
			MaxCacheAge:    getEnvAsDuration("GEO_MAX_CACHE_AGE", 60*time.Second),
			Watch:          getEnvAsBool("GEO_WATCH", false),
			CacheKey:       getEnv("GEO_CACHE_KEY", ""),
			ManualKey:      getEnv("GEO_MANUAL_KEY", ""),
			SubjectPrefix:  getEnv("GEO_SUBJECT_PREFIX", "position"),
			HistoryPrivacy: getEnv("GEO_HISTORY_PRIVACY", "neighborhood"),
		},
		Analysis: AnalysisConfig{
			MaxRetries:      getEnvAsInt("ANALYSIS_MAX_RETRIES", 3),
			BaseDelay:       getEnvAsDuration("ANALYSIS_BASE_DELAY", 1500*time.Millisecond),
			EventsTopic:     getEnv("ANALYSIS_EVENTS_TOPIC", "activity"),
			DefaultLanguage: getEnv("ANALYSIS_DEFAULT_LANGUAGE", i18n.Default()),
			SessionTTL:      getEnvAsDuration("ANALYSIS_SESSION_TTL", 30*time.Minute),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	return config, validate(config)
}

// validate checks if config is valid
func validate(config Config) error {
	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", config.Server.Port)
	}
	if config.Functions.BaseURL == "" && config.Environment != "development" {
		return fmt.Errorf("functions url must be set in non-development environments")
	}
	if config.Imaging.DiagnosisTarget <= 0 || config.Imaging.HarvestTarget <= 0 {
		return fmt.Errorf("compression targets must be positive")
	}
	if config.Analysis.MaxRetries < 0 {
		return fmt.Errorf("analysis max retries must not be negative")
	}
	if !privacyLevels[config.Geo.HistoryPrivacy] {
		return fmt.Errorf("unknown history privacy level %q", config.Geo.HistoryPrivacy)
	}
	switch config.Analysis.DefaultLanguage {
	case i18n.French, i18n.English:
	default:
		return fmt.Errorf("unsupported default language %q", config.Analysis.DefaultLanguage)
	}

	return nil
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBytes accepts sizes such as "400KiB" or "2MB"
func getEnvAsBytes(key string, defaultValue uint64) uint64 {
	valueStr := getEnv(key, "")
	if value, err := humanize.ParseBytes(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	parts := strings.Split(valueStr, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
