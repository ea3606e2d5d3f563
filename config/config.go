// Package config loads service configuration from an optional YAML file and
// PLAYSYNC_-prefixed environment variables, with defaults for everything.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/beatwave/playsync/src/bridge"
	"github.com/beatwave/playsync/src/ratelimit"
	"github.com/beatwave/playsync/src/types"
)

// AuthConfig holds token validation settings.
type AuthConfig struct {
	Secret   string        `mapstructure:"secret"`
	TokenTTL time.Duration `mapstructure:"token_ttl"`
}

// LimitRule bounds one event kind to MaxEvents per Window.
type LimitRule struct {
	MaxEvents int           `mapstructure:"max_events"`
	Window    time.Duration `mapstructure:"window"`
}

// RateLimitConfig holds the per-event-kind limits and sweep interval.
type RateLimitConfig struct {
	Rules         map[string]LimitRule `mapstructure:"rules"`
	Default       LimitRule            `mapstructure:"default"`
	SweepInterval time.Duration        `mapstructure:"sweep_interval"`
}

// Config is the full service configuration.
type Config struct {
	ListenAddr string             `mapstructure:"listen_addr"`
	LogLevel   string             `mapstructure:"log_level"`
	Auth       AuthConfig         `mapstructure:"auth"`
	Redis      bridge.RedisConfig `mapstructure:"redis"`
	RateLimit  RateLimitConfig    `mapstructure:"rate_limit"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listen_addr", ":8090")
	v.SetDefault("log_level", "info")
	v.SetDefault("auth.secret", "")
	v.SetDefault("auth.token_ttl", time.Hour)

	redis := bridge.DefaultRedisConfig()
	v.SetDefault("redis.addr", redis.Addr)
	v.SetDefault("redis.password", redis.Password)
	v.SetDefault("redis.db", redis.DB)
	v.SetDefault("redis.prefix", redis.Prefix)

	limits := ratelimit.DefaultConfig()
	for kind, rule := range limits.Rules {
		v.SetDefault(fmt.Sprintf("rate_limit.rules.%s.max_events", kind), rule.MaxEvents)
		v.SetDefault(fmt.Sprintf("rate_limit.rules.%s.window", kind), rule.Window)
	}
	v.SetDefault("rate_limit.default.max_events", limits.Default.MaxEvents)
	v.SetDefault("rate_limit.default.window", limits.Default.Window)
	v.SetDefault("rate_limit.sweep_interval", limits.SweepInterval)
}

// Load reads configuration from path (optional; searched for as playsync.yaml
// in the working directory when empty) and the environment.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("PLAYSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("playsync")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/playsync")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

// LimiterConfig converts the loaded rate limit settings into the limiter's
// native config.
func (c *Config) LimiterConfig() ratelimit.Config {
	out := ratelimit.Config{
		Rules:         make(map[types.EventKind]ratelimit.Rule, len(c.RateLimit.Rules)),
		Default:       ratelimit.Rule{MaxEvents: c.RateLimit.Default.MaxEvents, Window: c.RateLimit.Default.Window},
		SweepInterval: c.RateLimit.SweepInterval,
	}
	for kind, rule := range c.RateLimit.Rules {
		out.Rules[types.EventKind(kind)] = ratelimit.Rule{MaxEvents: rule.MaxEvents, Window: rule.Window}
	}
	return out
}
