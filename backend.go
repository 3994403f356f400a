package chatsync

import (
	"context"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

// Backend is a key/value persistence layer. Get returns ErrKeyNotFound when the
// key is absent. Set must replace the value atomically: a concurrent or
// subsequent Get observes either the old or the new value, never a mix.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// StorageConfig selects and configures a Backend.
type StorageConfig struct {
	// Driver is one of memory, file, sqlite, mysql, redis. Empty means memory.
	Driver string
	// Path is the directory for the file driver or the database file for sqlite.
	Path string
	// DSN overrides Path for sqlite and is required for mysql.
	DSN string

	RedisAddr     string
	RedisUsername string
	RedisPassword string
	RedisDB       int
	// KeyPrefix namespaces redis keys.
	KeyPrefix string
}

// OpenBackend creates the backend described by cfg.
func OpenBackend(ctx context.Context, cfg StorageConfig) (Backend, error) {
	switch strings.ToLower(cfg.Driver) {
	case "", "memory":
		return NewMemoryBackend(), nil
	case "file":
		if cfg.Path == "" {
			return nil, errors.New("file storage requires a path")
		}
		return NewFileBackend(cfg.Path)
	case "sqlite", "sqlite3":
		dsn := cfg.DSN
		if dsn == "" {
			dsn = cfg.Path
		}
		if dsn == "" {
			return nil, errors.New("sqlite storage requires a path or dsn")
		}
		return OpenSQLBackend(ctx, "sqlite", dsn)
	case "mysql":
		if cfg.DSN == "" {
			return nil, errors.New("mysql storage requires a dsn")
		}
		return OpenSQLBackend(ctx, "mysql", cfg.DSN)
	case "redis":
		return NewRedisBackend(ctx, RedisOptions{
			Addr:      cfg.RedisAddr,
			Username:  cfg.RedisUsername,
			Password:  cfg.RedisPassword,
			DB:        cfg.RedisDB,
			KeyPrefix: cfg.KeyPrefix,
		})
	default:
		return nil, errors.Errorf("unsupported storage driver: %s", cfg.Driver)
	}
}

// ============================================================================
// MemoryBackend
// ============================================================================

// MemoryBackend is a goroutine-safe in-memory backend. Contents are lost when
// the process exits.
type MemoryBackend struct {
	mu     sync.RWMutex
	values map[string][]byte
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{values: make(map[string][]byte)}
}

func (b *MemoryBackend) Get(_ context.Context, key string) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	v, ok := b.values[key]
	if !ok {
		return nil, ErrKeyNotFound
	}
	return append([]byte(nil), v...), nil
}

func (b *MemoryBackend) Set(_ context.Context, key string, value []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.values[key] = append([]byte(nil), value...)
	return nil
}

func (b *MemoryBackend) Delete(_ context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.values, key)
	return nil
}

func (b *MemoryBackend) Close() error { return nil }
