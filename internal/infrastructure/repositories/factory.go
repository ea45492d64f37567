package repositories

import (
	"context"
	"fmt"

	"github.com/go-logr/logr"
	"github.com/pkg/errors"

	"oidkeeper/internal/domain/ports"
	"oidkeeper/internal/infrastructure/repositories/codec"
	"oidkeeper/internal/infrastructure/repositories/mem"
	"oidkeeper/internal/infrastructure/repositories/pg"
	"oidkeeper/internal/infrastructure/repositories/redis"
)

// StoreType represents the type of object store backend
type StoreType string

const (
	StoreTypeMemory     StoreType = "memory"
	StoreTypePostgreSQL StoreType = "postgresql"
	StoreTypeRedis      StoreType = "redis"
)

// Config holds configuration for the store factory
type Config struct {
	Type StoreType `yaml:"type" env:"STORE_TYPE"`

	// Migrate applies the embedded migrations before the PostgreSQL store is used
	Migrate bool `yaml:"migrate" env:"STORE_MIGRATE"`

	PostgreSQL pg.ConnectionConfig `yaml:"postgresql"`
	Redis      redis.Options       `yaml:"redis"`
	Memory     MemoryConfig        `yaml:"memory"`
}

// MemoryConfig holds memory store configuration
type MemoryConfig struct {
	// Author is stamped into the versions written by the store
	Author string `yaml:"author" env:"STORE_MEMORY_AUTHOR"`
}

// Validate checks that the selected backend is configured
func (c Config) Validate() error {
	switch c.Type {
	case StoreTypeMemory:
		return nil
	case StoreTypePostgreSQL:
		if c.PostgreSQL.URI == "" {
			return errors.New("PostgreSQL URI is required")
		}
		return nil
	case StoreTypeRedis:
		if c.Redis.Address == "" && c.Redis.URL == "" {
			return errors.New("Redis address or URL is required")
		}
		return nil
	default:
		return fmt.Errorf("unsupported store type: %s", c.Type)
	}
}

// Factory creates object stores based on configuration
type Factory struct {
	config Config
	codec  *codec.Registry
	logger logr.Logger
}

// NewFactory creates a new store factory
func NewFactory(config Config, c *codec.Registry, logger logr.Logger) *Factory {
	if c == nil {
		c = codec.NewRegistry()
	}
	return &Factory{
		config: config,
		codec:  c,
		logger: logger.WithName("store"),
	}
}

// CreateStore creates a store based on the configured type
func (f *Factory) CreateStore(ctx context.Context) (ports.ObjectStore, error) {
	if err := f.config.Validate(); err != nil {
		return nil, err
	}
	f.logger.Info("creating object store", "type", string(f.config.Type))

	switch f.config.Type {
	case StoreTypePostgreSQL:
		return f.createPostgreSQLStore(ctx)
	case StoreTypeRedis:
		return f.createRedisStore(ctx)
	default:
		return f.createMemoryStore(), nil
	}
}

func (f *Factory) createMemoryStore() ports.ObjectStore {
	var opts []mem.Option
	if f.config.Memory.Author != "" {
		opts = append(opts, mem.WithAuthor(f.config.Memory.Author))
	}
	return mem.NewStore(f.codec, opts...)
}

func (f *Factory) createPostgreSQLStore(ctx context.Context) (ports.ObjectStore, error) {
	cm := pg.NewConnectionManager(f.config.PostgreSQL)
	if err := cm.Connect(ctx); err != nil {
		return nil, errors.Wrap(err, "failed to connect to PostgreSQL")
	}
	if f.config.Migrate {
		applied, err := pg.RunMigrations(ctx, cm.Pool())
		if err != nil {
			_ = cm.Close()
			return nil, errors.Wrap(err, "failed to migrate PostgreSQL")
		}
		f.logger.Info("migrations applied", "count", len(applied))
	}
	return pg.NewStore(cm, f.codec), nil
}

func (f *Factory) createRedisStore(ctx context.Context) (ports.ObjectStore, error) {
	client, err := redis.Connect(ctx, f.config.Redis)
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to Redis")
	}
	return redis.NewStore(client, f.config.Redis, f.codec, redis.WithLogger(f.logger.WithName("redis"))), nil
}

// Migrate applies the PostgreSQL migrations; other backends need none
func (f *Factory) Migrate(ctx context.Context) ([]string, error) {
	if f.config.Type != StoreTypePostgreSQL {
		return nil, nil
	}
	if err := f.config.Validate(); err != nil {
		return nil, err
	}

	cm := pg.NewConnectionManager(f.config.PostgreSQL)
	if err := cm.Connect(ctx); err != nil {
		return nil, errors.Wrap(err, "failed to connect for migrations")
	}
	defer cm.Close() //nolint:errcheck

	return pg.RunMigrations(ctx, cm.Pool())
}

// DefaultConfig returns default configuration for the store factory
func DefaultConfig() Config {
	return Config{
		Type:       StoreTypeMemory,
		PostgreSQL: pg.DefaultConnectionConfig(),
		Redis:      redis.DefaultOptions(),
	}
}

// NewMemoryConfig creates a configuration for memory backend
func NewMemoryConfig() Config {
	return DefaultConfig()
}

// PostgreSQLConfig creates a configuration for PostgreSQL backend
func PostgreSQLConfig(uri string) Config {
	c := DefaultConfig()
	c.Type = StoreTypePostgreSQL
	c.PostgreSQL.URI = uri
	return c
}

// RedisConfig creates a configuration for Redis backend
func RedisConfig(address string) Config {
	c := DefaultConfig()
	c.Type = StoreTypeRedis
	c.Redis.Address = address
	return c
}
