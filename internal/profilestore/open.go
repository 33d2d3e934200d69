// Package profilestore provides the persistent backends for trust profiles.
package profilestore

import (
	"context"
	"fmt"
	"io"

	"github.com/ppiankov/roomguard/internal/trust"
)

// Store is a trust.Store that owns resources.
type Store interface {
	trust.Store
	io.Closer
}

// Config selects and configures a backend.
type Config struct {
	Backend string      `yaml:"backend"` // file, sqlite, redis, memory
	Dir     string      `yaml:"dir"`
	Path    string      `yaml:"path"`
	Redis   RedisConfig `yaml:"redis"`
}

// Open builds the configured backend.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Backend {
	case "", "file":
		dir := cfg.Dir
		if dir == "" {
			dir = DefaultDir()
		}
		return NewFileStore(dir)
	case "sqlite":
		if cfg.Path == "" {
			return nil, fmt.Errorf("sqlite store requires a path")
		}
		return OpenSQLite(cfg.Path)
	case "redis":
		if cfg.Redis.Addr == "" {
			return nil, fmt.Errorf("redis store requires an address")
		}
		return NewRedisStore(ctx, cfg.Redis)
	case "memory":
		return memoryStore{trust.NewMemoryStore()}, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}

type memoryStore struct {
	*trust.MemoryStore
}

func (memoryStore) Close() error { return nil }
