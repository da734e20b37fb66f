package server

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Tyrowin/linechat/internal/eventbus"
)

// RateLimitConfig defines the parameters for per-connection inbound rate limiting.
type RateLimitConfig struct {
	Burst          int           `yaml:"burst"`
	RefillInterval time.Duration `yaml:"refill_interval"`
}

// DispatchConfig selects how event listeners are executed.
type DispatchConfig struct {
	Strategy eventbus.Strategy `yaml:"strategy"`
	Workers  int               `yaml:"workers"`
}

// Config holds the server configuration settings.
type Config struct {
	Addr            string          `yaml:"addr"`
	WebSocketAddr   string          `yaml:"websocket_addr"`
	AllowedOrigins  []string        `yaml:"allowed_origins"`
	MaxMessageSize  int             `yaml:"max_message_size"`
	MaxConnections  int             `yaml:"max_connections"`
	SendQueueSize   int             `yaml:"send_queue_size"`
	WriteTimeout    time.Duration   `yaml:"write_timeout"`
	RateLimit       RateLimitConfig `yaml:"rate_limit"`
	Dispatch        DispatchConfig  `yaml:"dispatch"`
	ShutdownTimeout time.Duration   `yaml:"shutdown_timeout"`
	LogLevel        string          `yaml:"log_level"`
	LogFormat       string          `yaml:"log_format"`
}

const (
	defaultAddr            = ":1010"
	defaultMaxMessageSize  = 4096
	defaultSendQueueSize   = 256
	defaultWriteTimeout    = 10 * time.Second
	defaultBurst           = 20
	defaultRefillInterval  = time.Second
	defaultWorkers         = 8
	defaultShutdownTimeout = 5 * time.Second
)

func defaultConfig() Config {
	return Config{
		Addr: defaultAddr,
		AllowedOrigins: []string{
			"http://localhost:8080",
		},
		MaxMessageSize: defaultMaxMessageSize,
		SendQueueSize:  defaultSendQueueSize,
		WriteTimeout:   defaultWriteTimeout,
		RateLimit: RateLimitConfig{
			Burst:          defaultBurst,
			RefillInterval: defaultRefillInterval,
		},
		Dispatch: DispatchConfig{
			Strategy: eventbus.StrategyPerListener,
			Workers:  defaultWorkers,
		},
		ShutdownTimeout: defaultShutdownTimeout,
		LogLevel:        "info",
		LogFormat:       "text",
	}
}

func sanitizeConfig(cfg Config) Config {
	if cfg.Addr == "" {
		cfg.Addr = defaultAddr
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = defaultMaxMessageSize
	}
	if cfg.MaxConnections < 0 {
		cfg.MaxConnections = 0
	}
	if cfg.SendQueueSize <= 0 {
		cfg.SendQueueSize = defaultSendQueueSize
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = defaultBurst
	}
	if cfg.RateLimit.RefillInterval <= 0 {
		cfg.RateLimit.RefillInterval = defaultRefillInterval
	}
	if _, err := eventbus.ParseStrategy(string(cfg.Dispatch.Strategy)); err != nil || cfg.Dispatch.Strategy == "" {
		cfg.Dispatch.Strategy = eventbus.StrategyPerListener
	}
	if cfg.Dispatch.Workers <= 0 {
		cfg.Dispatch.Workers = defaultWorkers
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}
	if _, err := parseLevel(cfg.LogLevel); err != nil {
		cfg.LogLevel = "info"
	}
	if cfg.LogFormat != "json" {
		cfg.LogFormat = "text"
	}
	cfg.AllowedOrigins = append([]string(nil), cfg.AllowedOrigins...)
	return cfg
}

// NewConfig creates a Config instance populated with default values for all settings.
func NewConfig() *Config {
	cfg := defaultConfig()
	return &cfg
}

// LoadConfig layers defaults, the YAML file at path (skipped when path is
// empty) and environment variables, in that order.
func LoadConfig(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnv(&cfg)
	cfg = sanitizeConfig(cfg)
	return &cfg, nil
}

func applyEnv(cfg *Config) {
	if addr := os.Getenv("SERVER_ADDR"); addr != "" {
		cfg.Addr = addr
	}
	if addr := os.Getenv("WEBSOCKET_ADDR"); addr != "" {
		cfg.WebSocketAddr = addr
	}
	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		cfg.AllowedOrigins = parseOrigins(origins)
	}
	if v := os.Getenv("MAX_MESSAGE_SIZE"); v != "" {
		cfg.MaxMessageSize = parseIntValue(v, cfg.MaxMessageSize)
	}
	if v := os.Getenv("MAX_CONNECTIONS"); v != "" {
		cfg.MaxConnections = parseIntValue(v, cfg.MaxConnections)
	}
	if v := os.Getenv("SEND_QUEUE_SIZE"); v != "" {
		cfg.SendQueueSize = parseIntValue(v, cfg.SendQueueSize)
	}
	if v := os.Getenv("WRITE_TIMEOUT"); v != "" {
		cfg.WriteTimeout = parseDuration(v, cfg.WriteTimeout)
	}
	if v := os.Getenv("RATE_LIMIT_BURST"); v != "" {
		cfg.RateLimit.Burst = parseIntValue(v, cfg.RateLimit.Burst)
	}
	if v := os.Getenv("RATE_LIMIT_REFILL_INTERVAL"); v != "" {
		cfg.RateLimit.RefillInterval = parseDuration(v, cfg.RateLimit.RefillInterval)
	}
	if v := os.Getenv("DISPATCH_STRATEGY"); v != "" {
		cfg.Dispatch.Strategy = eventbus.Strategy(strings.TrimSpace(v))
	}
	if v := os.Getenv("DISPATCH_WORKERS"); v != "" {
		cfg.Dispatch.Workers = parseIntValue(v, cfg.Dispatch.Workers)
	}
	if v := os.Getenv("SHUTDOWN_TIMEOUT"); v != "" {
		cfg.ShutdownTimeout = parseDuration(v, cfg.ShutdownTimeout)
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(strings.TrimSpace(v))
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.LogFormat = strings.ToLower(strings.TrimSpace(v))
	}
}

// Level returns the configured slog level.
func (c Config) Level() slog.Level {
	level, err := parseLevel(c.LogLevel)
	if err != nil {
		return slog.LevelInfo
	}
	return level
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	err := level.UnmarshalText([]byte(s))
	return level, err
}

func parseOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func parseIntValue(value string, defaultValue int) int {
	if parsed, err := strconv.Atoi(strings.TrimSpace(value)); err == nil && parsed >= 0 {
		return parsed
	}
	return defaultValue
}

// parseDuration accepts Go duration strings ("250ms") and bare seconds ("2").
func parseDuration(value string, defaultValue time.Duration) time.Duration {
	value = strings.TrimSpace(value)
	if d, err := time.ParseDuration(value); err == nil && d > 0 {
		return d
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return defaultValue
}
