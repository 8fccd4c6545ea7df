package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Hermes    HermesConfig    `yaml:"hermes"`
	Redis     RedisConfig     `yaml:"redis"`
	Oracle    OracleConfig    `yaml:"oracle"`
	Matching  MatchingConfig  `yaml:"matching"`
	Emergency EmergencyConfig `yaml:"emergency"`
	Expiry    ExpiryConfig    `yaml:"expiry"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type ServerConfig struct {
	Port        int    `yaml:"port"`
	MetricsPort int    `yaml:"metrics_port"`
	AdminToken  string `yaml:"admin_token"`
	// RateLimitPerMinute caps requests per X-Client-ID.
	RateLimitPerMinute int `yaml:"rate_limit_per_minute"`
}

type DatabaseConfig struct {
	URL string `yaml:"url"`
}

type HermesConfig struct {
	URL string `yaml:"url"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Key      string `yaml:"waitlist_key"`
}

type OracleConfig struct {
	Enabled     bool    `yaml:"enabled"`
	URL         string  `yaml:"url"`
	APIKey      string  `yaml:"api_key"`
	Model       string  `yaml:"model"`
	TimeoutMs   int     `yaml:"timeout_ms"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
	Concurrency int     `yaml:"concurrency"`
}

type MatchingConfig struct {
	Weights    MatchingWeights `yaml:"weights"`
	Thresholds Thresholds      `yaml:"thresholds"`
	Limits     Limits          `yaml:"limits"`
	// BulkConcurrency bounds parallel runs in a bulk request.
	BulkConcurrency int `yaml:"bulk_concurrency"`
}

type MatchingWeights struct {
	Distance     float64 `yaml:"distance"`
	Availability float64 `yaml:"availability"`
	Subject      float64 `yaml:"subject"`
	Language     float64 `yaml:"language"`
	Experience   float64 `yaml:"experience"`
	Rating       float64 `yaml:"rating"`
	Preference   float64 `yaml:"preference"`
}

type Thresholds struct {
	MinimumScore      int     `yaml:"minimum_score"`
	MaximumDistance   float64 `yaml:"maximum_distance_km"`
	ResponseTimeHours int     `yaml:"response_time_hours"`
}

type Limits struct {
	MaxMatchesPerRequest            int `yaml:"max_matches_per_request"`
	MaxConcurrentRequestsPerStudent int `yaml:"max_concurrent_requests_per_student"`
	BackupScribeCount               int `yaml:"backup_scribe_count"`
}

type EmergencyConfig struct {
	MaxDistanceKm float64 `yaml:"max_distance_km"`
	MinimumScore  int     `yaml:"minimum_score"`
}

type ExpiryConfig struct {
	TickIntervalMs int `yaml:"tick_interval_ms"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func (c *Config) OracleTimeout() time.Duration {
	return time.Duration(c.Oracle.TimeoutMs) * time.Millisecond
}

func (c *Config) ExpiryInterval() time.Duration {
	return time.Duration(c.Expiry.TickIntervalMs) * time.Millisecond
}

// ResponseSLA is how long a proposal may stay unanswered before it expires.
// Zero or less means proposals never expire.
func (c *Config) ResponseSLA() time.Duration {
	return time.Duration(c.Matching.Thresholds.ResponseTimeHours) * time.Hour
}

func Load(path string) (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:               8700,
			MetricsPort:        8701,
			RateLimitPerMinute: 120,
		},
		Hermes: HermesConfig{
			URL: "nats://localhost:4222",
		},
		Redis: RedisConfig{
			Address: "localhost:6379",
		},
		Oracle: OracleConfig{
			Enabled:     false,
			URL:         "https://api.openai.com",
			Model:       "gpt-4o-mini",
			TimeoutMs:   5000,
			Temperature: 0.1,
			MaxTokens:   10,
			Concurrency: 4,
		},
		Matching: MatchingConfig{
			Weights: MatchingWeights{
				Distance:     0.20,
				Availability: 0.25,
				Subject:      0.20,
				Language:     0.10,
				Experience:   0.10,
				Rating:       0.10,
				Preference:   0.05,
			},
			Thresholds: Thresholds{
				MinimumScore:      60,
				MaximumDistance:   50,
				ResponseTimeHours: 24,
			},
			Limits: Limits{
				MaxMatchesPerRequest:            3,
				MaxConcurrentRequestsPerStudent: 5,
				BackupScribeCount:               2,
			},
			BulkConcurrency: 4,
		},
		Emergency: EmergencyConfig{
			MaxDistanceKm: 25,
			MinimumScore:  40,
		},
		Expiry: ExpiryConfig{
			TickIntervalMs: 60000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(cfg)
	return cfg, nil
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envFloat(key string, dst *float64) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func applyEnv(cfg *Config) {
	envInt("SCRIBEMATCH_PORT", &cfg.Server.Port)
	envInt("SCRIBEMATCH_METRICS_PORT", &cfg.Server.MetricsPort)
	envString("SCRIBEMATCH_ADMIN_TOKEN", &cfg.Server.AdminToken)
	envInt("SCRIBEMATCH_RATE_LIMIT_PER_MINUTE", &cfg.Server.RateLimitPerMinute)
	envString("SCRIBEMATCH_DATABASE_URL", &cfg.Database.URL)
	envString("SCRIBEMATCH_HERMES_URL", &cfg.Hermes.URL)
	envString("SCRIBEMATCH_REDIS_ADDRESS", &cfg.Redis.Address)
	envString("SCRIBEMATCH_REDIS_PASSWORD", &cfg.Redis.Password)
	envInt("SCRIBEMATCH_REDIS_DB", &cfg.Redis.DB)

	if v := os.Getenv("SCRIBEMATCH_ORACLE_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Oracle.Enabled = b
		}
	}
	envString("SCRIBEMATCH_ORACLE_URL", &cfg.Oracle.URL)
	envString("SCRIBEMATCH_ORACLE_API_KEY", &cfg.Oracle.APIKey)
	envString("SCRIBEMATCH_ORACLE_MODEL", &cfg.Oracle.Model)
	envInt("SCRIBEMATCH_ORACLE_TIMEOUT_MS", &cfg.Oracle.TimeoutMs)
	envInt("SCRIBEMATCH_ORACLE_CONCURRENCY", &cfg.Oracle.Concurrency)

	envInt("SCRIBEMATCH_MINIMUM_SCORE", &cfg.Matching.Thresholds.MinimumScore)
	envFloat("SCRIBEMATCH_MAXIMUM_DISTANCE_KM", &cfg.Matching.Thresholds.MaximumDistance)
	envInt("SCRIBEMATCH_RESPONSE_TIME_HOURS", &cfg.Matching.Thresholds.ResponseTimeHours)
	envInt("SCRIBEMATCH_MAX_MATCHES_PER_REQUEST", &cfg.Matching.Limits.MaxMatchesPerRequest)
	envInt("SCRIBEMATCH_BACKUP_SCRIBE_COUNT", &cfg.Matching.Limits.BackupScribeCount)
	envInt("SCRIBEMATCH_EXPIRY_TICK_MS", &cfg.Expiry.TickIntervalMs)
	envString("SCRIBEMATCH_LOG_LEVEL", &cfg.Logging.Level)
	envString("SCRIBEMATCH_LOG_FORMAT", &cfg.Logging.Format)
}
