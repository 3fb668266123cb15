// Package config loads runtime configuration from environment variables
// (prefix ODIN_) and optional config files, following the viper wiring in
// go-server-3/internal/config.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all runtime configuration for the market report server.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	WebSocket WebSocketConfig `mapstructure:"websocket"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Market    MarketConfig    `mapstructure:"market"`
	Report    ReportConfig    `mapstructure:"report"`
	NATS      NATSConfig      `mapstructure:"nats"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

type WebSocketConfig struct {
	Path                string        `mapstructure:"path"`
	SendChannelSize     int           `mapstructure:"send_channel_size"`
	BroadcastBufferSize int           `mapstructure:"broadcast_buffer_size"`
	HeartbeatInterval   time.Duration `mapstructure:"heartbeat_interval"`
	HeartbeatTimeout    time.Duration `mapstructure:"heartbeat_timeout"`
}

type CacheConfig struct {
	L1Capacity int `mapstructure:"l1_capacity"`
	L1Shards   int `mapstructure:"l1_shards"`
}

type RedisConfig struct {
	URL         string        `mapstructure:"url"`
	DefaultTTL  time.Duration `mapstructure:"default_ttl"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

type MarketConfig struct {
	RefreshInterval  time.Duration `mapstructure:"refresh_interval"`
	OverallDeadline  time.Duration `mapstructure:"overall_deadline"`
	ForceDeadline    time.Duration `mapstructure:"force_deadline"`
	StaleBound       time.Duration `mapstructure:"stale_bound"`
	MaxConsecutiveFailures int     `mapstructure:"max_consecutive_failures"`
	MaxBackoff       time.Duration `mapstructure:"max_backoff"`
	StreamMaxLen     int64         `mapstructure:"stream_max_len"`
	SpotPrimaryURL   string        `mapstructure:"spot_primary_url"`
	SpotFallbackURL  string        `mapstructure:"spot_fallback_url"`
	AggregatePrimaryURL  string    `mapstructure:"aggregate_primary_url"`
	AggregateFallbackURL string    `mapstructure:"aggregate_fallback_url"`
	SentimentURL     string        `mapstructure:"sentiment_url"`
	IndicatorURL     string        `mapstructure:"indicator_url"`
	EquityIndexURL   string        `mapstructure:"equity_index_url"`
}

type ReportConfig struct {
	DSN string `mapstructure:"dsn"`
}

type NATSConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
	Subject string `mapstructure:"subject"`
}

type MetricsConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	ListenAddr string `mapstructure:"listen_addr"`
	Endpoint   string `mapstructure:"endpoint"`
}

type LoggingConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// Load reads configuration from environment variables and optional config
// files, applying production-safe defaults for anything unset.
func Load() (Config, error) {
	v := viper.New()

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)
	v.SetDefault("server.idle_timeout", 120*time.Second)

	v.SetDefault("websocket.path", "/ws")
	v.SetDefault("websocket.send_channel_size", 64)
	v.SetDefault("websocket.broadcast_buffer_size", 256)
	v.SetDefault("websocket.heartbeat_interval", 25*time.Second)
	v.SetDefault("websocket.heartbeat_timeout", 30*time.Second)

	v.SetDefault("cache.l1_capacity", 2000)
	v.SetDefault("cache.l1_shards", 16)

	v.SetDefault("redis.url", "redis://localhost:6379/0")
	v.SetDefault("redis.default_ttl", time.Hour)
	v.SetDefault("redis.dial_timeout", 5*time.Second)

	v.SetDefault("market.refresh_interval", 5*time.Minute)
	v.SetDefault("market.overall_deadline", 10*time.Second)
	v.SetDefault("market.force_deadline", 15*time.Second)
	v.SetDefault("market.stale_bound", 15*time.Minute)
	v.SetDefault("market.max_consecutive_failures", 3)
	v.SetDefault("market.max_backoff", 30*time.Minute)
	v.SetDefault("market.stream_max_len", 1000)
	v.SetDefault("market.spot_primary_url", "")
	v.SetDefault("market.spot_fallback_url", "")
	v.SetDefault("market.aggregate_primary_url", "")
	v.SetDefault("market.aggregate_fallback_url", "")
	v.SetDefault("market.sentiment_url", "")
	v.SetDefault("market.indicator_url", "")
	v.SetDefault("market.equity_index_url", "")

	v.SetDefault("report.dsn", "")

	v.SetDefault("nats.enabled", false)
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.subject", "market.snapshot.updated")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.listen_addr", ":9095")
	v.SetDefault("metrics.endpoint", "/metrics")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.development", false)

	v.SetConfigName("odin")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.SetEnvPrefix("ODIN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	_ = v.ReadInConfig()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config unmarshal: %w", err)
	}

	if cfg.Cache.L1Shards <= 0 {
		cfg.Cache.L1Shards = 16
	}
	if cfg.Cache.L1Capacity <= 0 {
		cfg.Cache.L1Capacity = 2000
	}
	if cfg.WebSocket.SendChannelSize <= 0 {
		cfg.WebSocket.SendChannelSize = 64
	}

	return cfg, nil
}
