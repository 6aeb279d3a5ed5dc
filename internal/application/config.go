package application

import (
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config is the application configuration. Every limit the core uses is
// an explicit parameter here, not a hard-coded constant.
type Config struct {
	DataDir string `json:"data_dir"`

	// Store
	SweepInterval time.Duration `json:"sweep_interval"`
	Encrypt       bool          `json:"encrypt"`

	// State manager
	HistorySize int `json:"history_size"`

	// Validation
	CacheTTL time.Duration `json:"cache_ttl"`

	// Audit
	AuditMaxEntries int   `json:"audit_max_entries"`
	AuditPersistMax int64 `json:"audit_persist_max"`

	// Change bus; empty address runs single-process with a no-op bus.
	RedisAddr     string `json:"redis_addr"`
	RedisPassword string `json:"redis_password"`
	RedisDB       int    `json:"redis_db"`
	RedisChannel  string `json:"redis_channel"`

	LogLevel string `json:"log_level"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return &Config{
		DataDir:         filepath.Join(home, ".edusync"),
		SweepInterval:   30 * time.Second,
		HistorySize:     500,
		CacheTTL:        60 * time.Second,
		AuditMaxEntries: 1000,
		AuditPersistMax: 500,
		LogLevel:        "info",
	}
}

// FromViper builds a Config from viper-bound settings, falling back to
// defaults for unset keys.
func FromViper() *Config {
	cfg := DefaultConfig()

	if v := viper.GetString("data_dir"); v != "" {
		cfg.DataDir = v
	}
	if v := viper.GetDuration("store.sweep_interval"); v > 0 {
		cfg.SweepInterval = v
	}
	if viper.IsSet("store.encrypt") {
		cfg.Encrypt = viper.GetBool("store.encrypt")
	}
	if v := viper.GetInt("state.history_size"); v > 0 {
		cfg.HistorySize = v
	}
	if v := viper.GetDuration("validation.cache_ttl"); v > 0 {
		cfg.CacheTTL = v
	}
	if v := viper.GetInt("audit.max_entries"); v > 0 {
		cfg.AuditMaxEntries = v
	}
	if v := viper.GetInt64("audit.persist_max"); v > 0 {
		cfg.AuditPersistMax = v
	}
	if v := viper.GetString("redis.addr"); v != "" {
		cfg.RedisAddr = v
	}
	if v := viper.GetString("redis.password"); v != "" {
		cfg.RedisPassword = v
	}
	if viper.IsSet("redis.db") {
		cfg.RedisDB = viper.GetInt("redis.db")
	}
	if v := viper.GetString("redis.channel"); v != "" {
		cfg.RedisChannel = v
	}
	if v := viper.GetString("log_level"); v != "" {
		cfg.LogLevel = v
	}

	return cfg
}
