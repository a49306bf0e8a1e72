package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/vovakirdan/wirechat-client/internal/config"
	"github.com/vovakirdan/wirechat-client/internal/store/pebble"
	"github.com/vovakirdan/wirechat-client/internal/store/redis"
	"github.com/vovakirdan/wirechat-client/internal/store/sqlite"
)

// Backend is a flat string key/value store holding the client's durable session facts.
type Backend interface {
	// Get returns the value for key and whether it was present.
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// ErrClosed is returned by the memory backend after Close.
var ErrClosed = errors.New("store closed")

// Open builds the backend selected by cfg.Driver.
func Open(ctx context.Context, cfg config.StorageConfig) (Backend, error) {
	switch cfg.Driver {
	case config.StorageSQLite:
		return sqlite.New(cfg.Path)
	case config.StoragePebble:
		return pebble.New(cfg.Path)
	case config.StorageRedis:
		return redis.New(ctx, cfg.RedisAddr)
	case config.StorageMemory, "":
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}
