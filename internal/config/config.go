// Package config provides configuration management for the realtime service.
//
// Configuration is loaded from:
// 1. config.yaml file (optional)
// 2. Environment variables (standard names like DATABASE_URL, REDIS_ADDR)
// 3. Default values
//
// Import Path: bazaar.dev/realtime/internal/config
package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Config is the root configuration structure.
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Redis        RedisConfig        `mapstructure:"redis"`
	NATS         NATSConfig         `mapstructure:"nats"`
	Log          LogConfig          `mapstructure:"log"`
	River        RiverConfig        `mapstructure:"river"`
	Security     SecurityConfig     `mapstructure:"security"`
	Worker       WorkerConfig       `mapstructure:"worker"`
	Presence     PresenceConfig     `mapstructure:"presence"`
	Notification NotificationConfig `mapstructure:"notification"`
	Gateway      GatewayConfig      `mapstructure:"gateway"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// InstanceID identifies this process in the shared presence store.
	// Empty means a random id per boot.
	InstanceID string `mapstructure:"instance_id"`

	// CORS for the HTTP surface. "*" is only honoured together with
	// UnsafeAllowAllOrigins, which also turns credentials off.
	AllowedOrigins        []string `mapstructure:"allowed_origins"`
	AllowCredentials      bool     `mapstructure:"allow_credentials"`
	UnsafeAllowAllOrigins bool     `mapstructure:"unsafe_allow_all_origins"`
}

// DatabaseConfig contains PostgreSQL connection settings.
// One pgxpool is shared by the repositories and River.
type DatabaseConfig struct {
	URL string `mapstructure:"url"`

	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"sslmode"`

	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`

	AutoMigrate bool `mapstructure:"auto_migrate"`
}

// DSN returns the PostgreSQL connection string.
// Priority: DATABASE_URL > constructed from individual fields.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	sslmode := c.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, sslmode,
	)
}

// RedisConfig contains the shared fast-store settings (presence, typing,
// unread cache, room membership, broadcast pub/sub).
type RedisConfig struct {
	Addr         string        `mapstructure:"addr"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// BroadcastChannel is the pub/sub channel every instance subscribes to.
	BroadcastChannel string `mapstructure:"broadcast_channel"`
}

// NATSConfig configures the hand-off to the push provider.
// An empty URL disables NATS and push jobs are only logged.
type NATSConfig struct {
	URL           string        `mapstructure:"url"`
	Name          string        `mapstructure:"name"`
	PushSubject   string        `mapstructure:"push_subject"`
	ReconnectWait time.Duration `mapstructure:"reconnect_wait"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or console
}

// RiverConfig contains River Queue settings, one worker budget per queue.
type RiverConfig struct {
	NotificationWorkers         int           `mapstructure:"notification_workers"`
	PushWorkers                 int           `mapstructure:"push_workers"`
	CleanupWorkers              int           `mapstructure:"cleanup_workers"`
	CompletedJobRetentionPeriod time.Duration `mapstructure:"completed_job_retention_period"`
}

// SecurityConfig contains token verification settings.
// The JWT secret is auto-generated on first boot if missing; set
// SECURITY_JWT_SECRET to share it with the token issuer.
type SecurityConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
	JWTIssuer string `mapstructure:"jwt_issuer"`
}

// WorkerConfig contains worker pool settings.
type WorkerConfig struct {
	GeneralPoolSize  int `mapstructure:"general_pool_size"`
	RealtimePoolSize int `mapstructure:"realtime_pool_size"`
}

// PresenceConfig contains presence-tracking settings.
type PresenceConfig struct {
	TypingTTL         time.Duration `mapstructure:"typing_ttl"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	HeartbeatTTL      time.Duration `mapstructure:"heartbeat_ttl"`
	ReconcileInterval time.Duration `mapstructure:"reconcile_interval"`
	// BroadcastFallbackGlobal makes presence transitions go to every socket
	// when the follower lookup fails. Off by default: it leaks presence to
	// non-followers.
	BroadcastFallbackGlobal bool `mapstructure:"broadcast_fallback_global"`
}

// NotificationConfig contains notification engine settings.
type NotificationConfig struct {
	UnreadCacheTTL  time.Duration `mapstructure:"unread_cache_ttl"`
	RetentionDays   int           `mapstructure:"retention_days"`
	DefaultPageSize int           `mapstructure:"default_page_size"`
	MaxPageSize     int           `mapstructure:"max_page_size"`
}

// GatewayConfig contains websocket gateway settings.
type GatewayConfig struct {
	Path            string        `mapstructure:"path"`
	AuthTimeout     time.Duration `mapstructure:"auth_timeout"`
	PingInterval    time.Duration `mapstructure:"ping_interval"`
	PongWait        time.Duration `mapstructure:"pong_wait"`
	WriteWait       time.Duration `mapstructure:"write_wait"`
	MaxMessageBytes int64         `mapstructure:"max_message_bytes"`
	SendBuffer      int           `mapstructure:"send_buffer"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
}

var (
	bootstrapLoggerOnce sync.Once
	bootstrapLogger     *zap.Logger
)

// Load reads configuration from file and environment variables.
// No env prefix: nested keys map as redis.addr → REDIS_ADDR.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/bazaar-realtime")

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
		// Config file is optional, use defaults and env vars
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.ensureSecrets(); err != nil {
		return nil, fmt.Errorf("ensure secrets: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// Validate checks for critical configuration errors.
func (c *Config) Validate() error {
	if len(c.Security.JWTSecret) < 32 {
		return fmt.Errorf("security.jwt_secret must be at least 32 characters")
	}
	if c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr must not be empty")
	}
	if c.Presence.TypingTTL <= 0 {
		return fmt.Errorf("presence.typing_ttl must be positive")
	}
	if c.Presence.HeartbeatTTL <= c.Presence.HeartbeatInterval {
		return fmt.Errorf("presence.heartbeat_ttl must exceed presence.heartbeat_interval")
	}
	if c.Notification.MaxPageSize < c.Notification.DefaultPageSize {
		return fmt.Errorf("notification.max_page_size must be >= notification.default_page_size")
	}
	if c.Gateway.PongWait <= c.Gateway.PingInterval {
		return fmt.Errorf("gateway.pong_wait must exceed gateway.ping_interval")
	}
	return nil
}

func (c *Config) ensureSecrets() error {
	if c.Security.JWTSecret == "" {
		secret, err := generateSecureRandomHex(32)
		if err != nil {
			return fmt.Errorf("auto-generate jwt secret: %w", err)
		}
		c.Security.JWTSecret = secret
		logBootstrapWarn(
			"auto-generated jwt_secret; tokens from the issuer will not verify until SECURITY_JWT_SECRET is set",
			zap.Int("length", len(secret)),
		)
	}
	return nil
}

func logBootstrapWarn(msg string, fields ...zap.Field) {
	bootstrapLoggerOnce.Do(func() {
		cfg := zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)

		l, err := cfg.Build()
		if err != nil {
			bootstrapLogger = zap.NewNop()
			return
		}
		bootstrapLogger = l
	})

	bootstrapLogger.Warn(msg, fields...)
}

// generateSecureRandomHex produces a hex-encoded string of n random bytes.
func generateSecureRandomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("crypto/rand: %w", err)
	}
	return hex.EncodeToString(b), nil
}

func setDefaults(v *viper.Viper) {
	// Server
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.instance_id", "")
	v.SetDefault("server.allowed_origins", []string{})
	v.SetDefault("server.allow_credentials", true)
	v.SetDefault("server.unsafe_allow_all_origins", false)

	// Database. URL wins over the discrete fields when set.
	v.SetDefault("database.url", "")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "bazaar")
	v.SetDefault("database.password", "")
	v.SetDefault("database.database", "bazaar")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 50)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.max_conn_idle_time", "10m")
	v.SetDefault("database.auto_migrate", false)

	// Redis
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 50)
	v.SetDefault("redis.dial_timeout", "3s")
	v.SetDefault("redis.read_timeout", "2s")
	v.SetDefault("redis.write_timeout", "2s")
	v.SetDefault("redis.broadcast_channel", "realtime:broadcast")

	// NATS
	v.SetDefault("nats.url", "")
	v.SetDefault("nats.name", "bazaar-realtime")
	v.SetDefault("nats.push_subject", "push.deliver")
	v.SetDefault("nats.reconnect_wait", "500ms")
	v.SetDefault("nats.timeout", "3s")

	// Log
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// River
	v.SetDefault("river.notification_workers", 20)
	v.SetDefault("river.push_workers", 20)
	v.SetDefault("river.cleanup_workers", 2)
	v.SetDefault("river.completed_job_retention_period", "24h")

	// Security. An empty secret is replaced at boot by ensureSecrets.
	v.SetDefault("security.jwt_secret", "")
	v.SetDefault("security.jwt_issuer", "")

	// Worker pools
	v.SetDefault("worker.general_pool_size", 100)
	v.SetDefault("worker.realtime_pool_size", 10000)

	// Presence
	v.SetDefault("presence.typing_ttl", "5s")
	v.SetDefault("presence.heartbeat_interval", "10s")
	v.SetDefault("presence.heartbeat_ttl", "30s")
	v.SetDefault("presence.reconcile_interval", "10m")
	v.SetDefault("presence.broadcast_fallback_global", false)

	// Notification
	v.SetDefault("notification.unread_cache_ttl", "60s")
	v.SetDefault("notification.retention_days", 30)
	v.SetDefault("notification.default_page_size", 20)
	v.SetDefault("notification.max_page_size", 100)

	// Gateway
	v.SetDefault("gateway.path", "/ws")
	v.SetDefault("gateway.auth_timeout", "5s")
	v.SetDefault("gateway.ping_interval", "25s")
	v.SetDefault("gateway.pong_wait", "60s")
	v.SetDefault("gateway.write_wait", "10s")
	v.SetDefault("gateway.max_message_bytes", 65536)
	v.SetDefault("gateway.send_buffer", 64)
	v.SetDefault("gateway.allowed_origins", []string{})
}
