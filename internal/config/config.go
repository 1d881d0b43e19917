// Package config loads the hub's startup configuration: a YAML defaults
// file overridable by environment variables, following the same
// decode-once-at-startup shape the teacher uses for its root config.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/technosupport/remotehub/internal/ratelimit"
	"gopkg.in/yaml.v3"
)

// RateLimitConfig mirrors ratelimit.LimitConfig's shape for YAML decoding,
// expressing the window in whole seconds instead of a duration.
type RateLimitConfig struct {
	Rate          int `yaml:"rate"`
	WindowSeconds int `yaml:"window_seconds"`
	Burst         int `yaml:"burst"`
}

// ToLimitConfig converts to the shape internal/ratelimit.Limiter expects.
func (c RateLimitConfig) ToLimitConfig() ratelimit.LimitConfig {
	return ratelimit.LimitConfig{
		Rate:   c.Rate,
		Window: time.Duration(c.WindowSeconds) * time.Second,
		Burst:  c.Burst,
	}
}

type Config struct {
	Port                int             `yaml:"port"`
	JWTSecret           string          `yaml:"jwt_secret"`
	DefaultTenant       string          `yaml:"default_tenant"`
	PresenceTTLSeconds  int             `yaml:"presence_ttl_seconds"`
	MinFrameIntervalMS  int             `yaml:"min_frame_interval_ms"`
	RedisAddr           string          `yaml:"redis_addr"`
	RedisPassword       string          `yaml:"redis_password"`
	NATSURL             string          `yaml:"nats_url"`
	DataDir             string          `yaml:"data_dir"`
	AdminsOverlayPath   string          `yaml:"admins_overlay_path"`
	RateLimit           RateLimitConfig `yaml:"rate_limit"`
	LoginRateLimit      RateLimitConfig `yaml:"login_rate_limit"`
}

// Default mirrors spec.md §6.4's documented defaults.
func Default() Config {
	return Config{
		Port:               3001,
		JWTSecret:          "dev-secret-change-me",
		DefaultTenant:      "default",
		PresenceTTLSeconds: 15,
		MinFrameIntervalMS: 250,
		RedisAddr:          "127.0.0.1:6379",
		NATSURL:            "nats://127.0.0.1:4222",
		DataDir:            "data",
		AdminsOverlayPath:  "config/admins.yaml",
		RateLimit:          RateLimitConfig{Rate: 300, WindowSeconds: 60, Burst: 50},
		LoginRateLimit:     RateLimitConfig{Rate: 10, WindowSeconds: 60, Burst: 5},
	}
}

// Load decodes path over the defaults (a missing file is not an error — the
// defaults stand alone), then applies environment variable overrides for the
// values spec.md §6.4 calls out as environment-driven.
func Load(path string) (Config, error) {
	cfg := Default()

	if b, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("read %s: %w", path, err)
	}

	applyEnvOverrides(&cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Port = n
		}
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		cfg.JWTSecret = v
	}
	if v := os.Getenv("LOOKOUT_DEFAULT_TENANT"); v != "" {
		cfg.DefaultTenant = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("NATS_URL"); v != "" {
		cfg.NATSURL = v
	}
}
