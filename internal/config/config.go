package config

import (
	"errors"
	"time"
)

// Storage drivers understood by storage.Open.
const (
	StorageSQLite = "sqlite"
	StoragePebble = "pebble"
	StorageRedis  = "redis"
	StorageMemory = "memory"
)

// Config holds client configuration values.
type Config struct {
	WSURL            string          `mapstructure:"ws_url" yaml:"ws_url"`
	APIURL           string          `mapstructure:"api_url" yaml:"api_url"`
	LogLevel         string          `mapstructure:"log_level" yaml:"log_level"`
	Nickname         string          `mapstructure:"nickname" yaml:"nickname"`
	HandshakeTimeout time.Duration   `mapstructure:"handshake_timeout" yaml:"handshake_timeout"`
	WriteTimeout     time.Duration   `mapstructure:"write_timeout" yaml:"write_timeout"`
	HTTPTimeout      time.Duration   `mapstructure:"http_timeout" yaml:"http_timeout"`
	Reconnect        ReconnectConfig `mapstructure:"reconnect" yaml:"reconnect"`
	Storage          StorageConfig   `mapstructure:"storage" yaml:"storage"`
	History          HistoryConfig   `mapstructure:"history" yaml:"history"`
}

// ReconnectConfig bounds the transport's retry policy.
type ReconnectConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	Delay       time.Duration `mapstructure:"delay" yaml:"delay"`
}

// StorageConfig selects where session facts (nickname, tokens, joined rooms) persist.
type StorageConfig struct {
	Driver    string `mapstructure:"driver" yaml:"driver"`
	Path      string `mapstructure:"path" yaml:"path"`
	RedisAddr string `mapstructure:"redis_addr" yaml:"redis_addr"`
}

// HistoryConfig controls the message window loader.
type HistoryConfig struct {
	PageSize int `mapstructure:"page_size" yaml:"page_size"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		WSURL:            "ws://localhost:3000",
		APIURL:           "http://localhost:3001",
		LogLevel:         "info",
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     10 * time.Second,
		HTTPTimeout:      10 * time.Second,
		Reconnect: ReconnectConfig{
			MaxAttempts: 5,
			Delay:       2 * time.Second,
		},
		Storage: StorageConfig{
			Driver: StorageSQLite,
			Path:   "wirechat-client.db",
		},
		History: HistoryConfig{
			PageSize: 20,
		},
	}
}

// UpdateFrom overwrites non-zero values from other config into receiver.
func (c *Config) UpdateFrom(other Config) {
	if other.WSURL != "" {
		c.WSURL = other.WSURL
	}
	if other.APIURL != "" {
		c.APIURL = other.APIURL
	}
	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
	if other.Nickname != "" {
		c.Nickname = other.Nickname
	}
	if other.HandshakeTimeout != 0 {
		c.HandshakeTimeout = other.HandshakeTimeout
	}
	if other.WriteTimeout != 0 {
		c.WriteTimeout = other.WriteTimeout
	}
	if other.HTTPTimeout != 0 {
		c.HTTPTimeout = other.HTTPTimeout
	}
	if other.Reconnect.MaxAttempts != 0 {
		c.Reconnect.MaxAttempts = other.Reconnect.MaxAttempts
	}
	if other.Reconnect.Delay != 0 {
		c.Reconnect.Delay = other.Reconnect.Delay
	}
	if other.Storage.Driver != "" {
		c.Storage.Driver = other.Storage.Driver
	}
	if other.Storage.Path != "" {
		c.Storage.Path = other.Storage.Path
	}
	if other.Storage.RedisAddr != "" {
		c.Storage.RedisAddr = other.Storage.RedisAddr
	}
	if other.History.PageSize != 0 {
		c.History.PageSize = other.History.PageSize
	}
}

// Validate reports the first setting the client cannot run with.
func (c *Config) Validate() error {
	if c.WSURL == "" {
		return errors.New("ws_url is required")
	}
	if c.Reconnect.MaxAttempts < 0 {
		return errors.New("reconnect.max_attempts must not be negative")
	}
	if c.History.PageSize <= 0 {
		return errors.New("history.page_size must be positive")
	}
	switch c.Storage.Driver {
	case StorageSQLite, StoragePebble:
		if c.Storage.Path == "" {
			return errors.New("storage.path is required for " + c.Storage.Driver)
		}
	case StorageRedis:
		if c.Storage.RedisAddr == "" {
			return errors.New("storage.redis_addr is required for redis")
		}
	case StorageMemory:
	default:
		return errors.New("unknown storage.driver " + c.Storage.Driver)
	}
	return nil
}
