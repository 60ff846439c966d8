package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	Port string
	Env  string

	// Storage
	DatabaseDriver string // sqlite or postgres
	DatabaseURL    string
	SQLitePath     string
	RedisURL       string

	JWTSecret string

	// Sessions
	HistoryLimit    int
	SendBuffer      int
	RoomQueue       int
	WriteTimeout    time.Duration
	PingInterval    time.Duration
	PongWait        time.Duration
	CleanupTimeout  time.Duration
	MaxMessageBytes int64
	InboundRate     float64 // events per second
	InboundBurst    int

	// Rate limiting
	RateLimitWhitelist []string // IPs or CIDRs exempt from rate limiting
	AutoBlockEnabled   bool     // Enable auto-blocking after repeated violations
}

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Load reads configuration from environment variables and an optional
// config.yaml. In development, it loads from .env file if present.
// In production, it panics on missing required variables.
func Load() *Config {
	// Load .env file if it exists (for development)
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			panic(fmt.Sprintf("reading config file: %v", err))
		}
	}

	cfg, err := FromViper(v)
	if err != nil {
		panic(err.Error())
	}
	return cfg
}

// FromViper resolves a Config from v, with environment variables taking
// precedence over any file already read into it.
func FromViper(v *viper.Viper) (*Config, error) {
	setDefaults(v)
	v.AutomaticEnv()

	cfg := &Config{
		Port:             v.GetString("port"),
		Env:              v.GetString("env"),
		DatabaseDriver:   strings.ToLower(v.GetString("database_driver")),
		DatabaseURL:      v.GetString("database_url"),
		SQLitePath:       v.GetString("sqlite_path"),
		RedisURL:         v.GetString("redis_url"),
		JWTSecret:        v.GetString("jwt_secret"),
		HistoryLimit:     v.GetInt("history_limit"),
		SendBuffer:       v.GetInt("send_buffer"),
		RoomQueue:        v.GetInt("room_queue"),
		WriteTimeout:     v.GetDuration("write_timeout"),
		PingInterval:     v.GetDuration("ping_interval"),
		PongWait:         v.GetDuration("pong_wait"),
		CleanupTimeout:   v.GetDuration("cleanup_timeout"),
		MaxMessageBytes:  v.GetInt64("max_message_bytes"),
		InboundRate:      v.GetFloat64("inbound_rate"),
		InboundBurst:     v.GetInt("inbound_burst"),
		AutoBlockEnabled: v.GetBool("auto_block_enabled"),
	}

	// Parse whitelist (comma-separated IPs or CIDRs)
	for _, entry := range strings.Split(v.GetString("rate_limit_whitelist"), ",") {
		entry = strings.TrimSpace(entry)
		if entry != "" {
			cfg.RateLimitWhitelist = append(cfg.RateLimitWhitelist, entry)
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", "8080")
	v.SetDefault("env", "development")
	v.SetDefault("database_driver", DriverSQLite)
	v.SetDefault("database_url", "")
	v.SetDefault("sqlite_path", "./data/roomcast.db")
	v.SetDefault("redis_url", "")
	v.SetDefault("jwt_secret", "")
	v.SetDefault("history_limit", 50)
	v.SetDefault("send_buffer", 256)
	v.SetDefault("room_queue", 1024)
	v.SetDefault("write_timeout", 10*time.Second)
	v.SetDefault("ping_interval", 30*time.Second)
	v.SetDefault("pong_wait", 60*time.Second)
	v.SetDefault("cleanup_timeout", 2*time.Second)
	v.SetDefault("max_message_bytes", 64<<10)
	v.SetDefault("inbound_rate", 10.0)
	v.SetDefault("inbound_burst", 20)
	v.SetDefault("rate_limit_whitelist", "")
	v.SetDefault("auto_block_enabled", false)
}

func (c *Config) validate() error {
	switch c.DatabaseDriver {
	case DriverSQLite:
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown DATABASE_DRIVER %q", c.DatabaseDriver)
	}

	// In production, require a signing secret
	if c.Env == "production" && c.JWTSecret == "" {
		return errors.New("JWT_SECRET is required in production")
	}
	if c.PongWait <= c.PingInterval {
		return errors.New("PONG_WAIT must be longer than PING_INTERVAL")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}
