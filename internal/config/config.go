package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds the application configuration loaded from files and environment variables.
type Config struct {
	AppName        string `mapstructure:"app_name"`
	Env            string `mapstructure:"app_env"`
	LogLevel       string `mapstructure:"log_level"`
	ListenAddr     string `mapstructure:"listen_addr"`
	ProfilesFile   string `mapstructure:"profiles_file"`
	PublishersFile string `mapstructure:"publishers_file"`

	RequestTimeoutSeconds  int64         `mapstructure:"request_timeout_seconds"`
	ShutdownTimeoutSeconds int64         `mapstructure:"shutdown_timeout_seconds"`
	RequestTimeout         time.Duration `mapstructure:"-"`
	ShutdownTimeout        time.Duration `mapstructure:"-"`
	ForwardQueries         bool          `mapstructure:"forward_queries"`
	TrustedProxiesRaw      string        `mapstructure:"trusted_proxies"`
	TrustedProxies         []string      `mapstructure:"-"`

	StorageType            string        `mapstructure:"storage_type"`
	BBoltPath              string        `mapstructure:"bbolt_path"`
	HistoryTTLSeconds      int64         `mapstructure:"history_ttl_seconds"`
	HistoryCleanupSeconds  int64         `mapstructure:"history_cleanup_interval_seconds"`
	HistoryTTL             time.Duration `mapstructure:"-"`
	HistoryCleanupInterval time.Duration `mapstructure:"-"`
}

// Load reads configuration from environment variables and config files.
func Load() (*Config, error) {
	_ = godotenv.Load("configs/.env")

	v := viper.New()

	v.SetDefault("app_name", "samvad-relay")
	v.SetDefault("app_env", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("profiles_file", "./configs/profiles.yaml")
	v.SetDefault("publishers_file", "")
	v.SetDefault("request_timeout_seconds", 30)
	v.SetDefault("shutdown_timeout_seconds", 10)
	v.SetDefault("forward_queries", false)
	v.SetDefault("trusted_proxies", "127.0.0.1,::1")
	v.SetDefault("storage_type", "bbolt")
	v.SetDefault("bbolt_path", "./data/history.db")
	v.SetDefault("history_ttl_seconds", int64((24*time.Hour)/time.Second))
	v.SetDefault("history_cleanup_interval_seconds", int64(time.Hour/time.Second))

	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// normalize validates raw values and derives the duration and list fields.
func (cfg *Config) normalize() error {
	if cfg.RequestTimeoutSeconds < 0 {
		return fmt.Errorf("invalid request_timeout_seconds (must be zero or positive seconds)")
	}
	cfg.RequestTimeout = time.Duration(cfg.RequestTimeoutSeconds) * time.Second

	if cfg.ShutdownTimeoutSeconds <= 0 {
		return fmt.Errorf("invalid shutdown_timeout_seconds (must be positive seconds)")
	}
	cfg.ShutdownTimeout = time.Duration(cfg.ShutdownTimeoutSeconds) * time.Second

	if cfg.HistoryTTLSeconds <= 0 {
		return fmt.Errorf("invalid history_ttl_seconds (must be positive seconds)")
	}
	if cfg.HistoryCleanupSeconds <= 0 {
		return fmt.Errorf("invalid history_cleanup_interval_seconds (must be positive seconds)")
	}
	cfg.HistoryTTL = time.Duration(cfg.HistoryTTLSeconds) * time.Second
	cfg.HistoryCleanupInterval = time.Duration(cfg.HistoryCleanupSeconds) * time.Second

	cfg.TrustedProxies = splitList(cfg.TrustedProxiesRaw)
	return nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
