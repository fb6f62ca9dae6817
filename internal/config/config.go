package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server       ServerConfig        `mapstructure:"server"`
	Database     DatabaseConfig      `mapstructure:"database"`
	Webhook      WebhookConfig       `mapstructure:"webhook"`
	Triggers     TriggersConfig      `mapstructure:"triggers"`
	Receiver     ReceiverConfig      `mapstructure:"receiver"`
	Redis        RedisConfig         `mapstructure:"redis"`
	Metrics      MetricsConfig       `mapstructure:"metrics"`
	TypeMappings []TypeMappingConfig `mapstructure:"type_mappings"`
	JWTSecret    string              `mapstructure:"jwt_secret"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	PoolSize int    `mapstructure:"pool_size"`
	Path     string `mapstructure:"path"` // directory for SQLite database files
}

// WebhookConfig controls outbound delivery. Mode is "sync" (send, then log)
// or "async" (log a fired entry, then hand the send to the worker pool).
type WebhookConfig struct {
	TimeoutMs int    `mapstructure:"timeout_ms"`
	Mode      string `mapstructure:"mode"`
	Workers   int    `mapstructure:"workers"`
	QueueSize int    `mapstructure:"queue_size"`
}

type TriggersConfig struct {
	LogRetentionDays int `mapstructure:"log_retention_days"`
}

type ReceiverConfig struct {
	Lock      string `mapstructure:"lock"` // memory or redis
	LockTTLMs int    `mapstructure:"lock_ttl_ms"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// TypeMappingConfig is a code-registered source type -> local type mapping.
// Database mappings take priority over these.
type TypeMappingConfig struct {
	Source string `mapstructure:"source"`
	Local  string `mapstructure:"local"`
}

const (
	ModeSync  = "sync"
	ModeAsync = "async"

	LockMemory = "memory"
	LockRedis  = "redis"
)

// DSN returns the driver-specific data source name.
func (d DatabaseConfig) DSN() string {
	if d.Driver == "sqlite" {
		return d.Path + "/" + d.Name + ".db"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

// IsSQLite returns true if the driver is sqlite.
func (d DatabaseConfig) IsSQLite() bool {
	return d.Driver == "sqlite"
}

func (w WebhookConfig) Timeout() time.Duration {
	return time.Duration(w.TimeoutMs) * time.Millisecond
}

func (r ReceiverConfig) LockTTL() time.Duration {
	return time.Duration(r.LockTTLMs) * time.Millisecond
}

// Load reads app.yaml from the working directory (or the repo root) and
// applies environment overrides, e.g. WEBHOOK_MODE=async.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("app")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("../..")
	return load(v, true)
}

// LoadFile reads configuration from an explicit path.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	return load(v, false)
}

func load(v *viper.Viper, optional bool) (*Config, error) {
	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !optional || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "syncbridge")
	v.SetDefault("database.pool_size", 10)
	v.SetDefault("database.path", "./data")
	v.SetDefault("jwt_secret", "changeme-secret")
	v.SetDefault("webhook.timeout_ms", 30000)
	v.SetDefault("webhook.mode", ModeSync)
	v.SetDefault("webhook.workers", 4)
	v.SetDefault("webhook.queue_size", 256)
	v.SetDefault("triggers.log_retention_days", 90)
	v.SetDefault("receiver.lock", LockMemory)
	v.SetDefault("receiver.lock_ttl_ms", 30000)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
}
