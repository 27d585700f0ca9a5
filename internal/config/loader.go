package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/rpattn/hfql/internal/huntflow"
)

// Config holds the service configuration.
type Config struct {
	Huntflow HuntflowConfig
	Cache    CacheConfig
	FanOut   FanOutConfig
	Server   ServerConfig
	Log      LogConfig
}

// HuntflowConfig describes the upstream API account.
type HuntflowConfig struct {
	BaseURL   string
	AccountID int
	Token     string
	Timeout   time.Duration
	RateLimit float64
	Burst     int
	PageSize  int
	// MaxPages fails a fetch that needs more pages. Zero is unbounded.
	MaxPages         int
	EnrichRecruiters bool
}

type CacheConfig struct {
	TTL time.Duration
}

type FanOutConfig struct {
	BatchSize   int
	Concurrency int
}

type ServerConfig struct {
	Addr           string
	AllowedOrigins []string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
}

type LogConfig struct {
	Level  string
	Format string
}

// DefaultConfig returns the configuration used when nothing is overridden.
func DefaultConfig() Config {
	return Config{
		Huntflow: HuntflowConfig{
			BaseURL:   huntflow.DefaultBaseURL,
			Timeout:   30 * time.Second,
			RateLimit: 10,
			Burst:     10,
			PageSize:  30,
		},
		Cache:  CacheConfig{TTL: 5 * time.Minute},
		FanOut: FanOutConfig{BatchSize: 50, Concurrency: 5},
		Server: ServerConfig{
			Addr:           ":8080",
			AllowedOrigins: []string{"http://localhost:3000"},
			ReadTimeout:    15 * time.Second,
			WriteTimeout:   2 * time.Minute,
		},
		Log: LogConfig{Level: "info", Format: "json"},
	}
}

// Load reads config.yaml from configPath when present and applies HFQL_*
// environment overrides, e.g. HFQL_HUNTFLOW_TOKEN for huntflow.token.
func Load(configPath string) (Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.SetEnvPrefix("HFQL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v, DefaultConfig())

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		slog.Info("no config.yaml found, using defaults and env vars", slog.String("path", configPath))
	} else {
		slog.Info("loaded config", slog.String("file", v.ConfigFileUsed()))
	}

	cfg := Config{
		Huntflow: HuntflowConfig{
			BaseURL:          v.GetString("huntflow.base_url"),
			AccountID:        v.GetInt("huntflow.account_id"),
			Token:            v.GetString("huntflow.token"),
			Timeout:          v.GetDuration("huntflow.timeout"),
			RateLimit:        v.GetFloat64("huntflow.rate_limit"),
			Burst:            v.GetInt("huntflow.burst"),
			PageSize:         v.GetInt("huntflow.page_size"),
			MaxPages:         v.GetInt("huntflow.max_pages"),
			EnrichRecruiters: v.GetBool("huntflow.enrich_recruiters"),
		},
		Cache: CacheConfig{TTL: v.GetDuration("cache.ttl")},
		FanOut: FanOutConfig{
			BatchSize:   v.GetInt("fanout.batch_size"),
			Concurrency: v.GetInt("fanout.concurrency"),
		},
		Server: ServerConfig{
			Addr:           v.GetString("server.addr"),
			AllowedOrigins: splitList(v.GetStringSlice("server.allowed_origins")),
			ReadTimeout:    v.GetDuration("server.read_timeout"),
			WriteTimeout:   v.GetDuration("server.write_timeout"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
	}
	return cfg, cfg.Validate()
}

func setDefaults(v *viper.Viper, cfg Config) {
	v.SetDefault("huntflow.base_url", cfg.Huntflow.BaseURL)
	v.SetDefault("huntflow.account_id", cfg.Huntflow.AccountID)
	v.SetDefault("huntflow.token", cfg.Huntflow.Token)
	v.SetDefault("huntflow.timeout", cfg.Huntflow.Timeout)
	v.SetDefault("huntflow.rate_limit", cfg.Huntflow.RateLimit)
	v.SetDefault("huntflow.burst", cfg.Huntflow.Burst)
	v.SetDefault("huntflow.page_size", cfg.Huntflow.PageSize)
	v.SetDefault("huntflow.max_pages", cfg.Huntflow.MaxPages)
	v.SetDefault("huntflow.enrich_recruiters", cfg.Huntflow.EnrichRecruiters)
	v.SetDefault("cache.ttl", cfg.Cache.TTL)
	v.SetDefault("fanout.batch_size", cfg.FanOut.BatchSize)
	v.SetDefault("fanout.concurrency", cfg.FanOut.Concurrency)
	v.SetDefault("server.addr", cfg.Server.Addr)
	v.SetDefault("server.allowed_origins", cfg.Server.AllowedOrigins)
	v.SetDefault("server.read_timeout", cfg.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", cfg.Server.WriteTimeout)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
}

// env values arrive as one comma separated string
func splitList(values []string) []string {
	var out []string
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// Validate reports settings the service cannot start with.
func (c Config) Validate() error {
	switch {
	case c.Huntflow.AccountID <= 0:
		return errors.New("huntflow.account_id is required")
	case strings.TrimSpace(c.Huntflow.Token) == "":
		return errors.New("huntflow.token is required")
	case c.Cache.TTL <= 0:
		return fmt.Errorf("cache.ttl must be positive, got %s", c.Cache.TTL)
	case c.Huntflow.PageSize <= 0:
		return fmt.Errorf("huntflow.page_size must be positive, got %d", c.Huntflow.PageSize)
	}
	return nil
}

// SlogLevel maps the configured level name, falling back to info.
func (c LogConfig) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Level)); err != nil {
		return slog.LevelInfo
	}
	return level
}
