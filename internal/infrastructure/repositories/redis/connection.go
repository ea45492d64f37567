package redis

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// Options holds configuration for connecting to a Redis server
type Options struct {
	// Address is the host:port of the Redis server, ignored when URL is set
	Address  string `yaml:"address" env:"REDIS_ADDRESS"`
	Password string `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"REDIS_DB"`
	// URL is a redis:// URI that takes precedence over the fields above
	URL string `yaml:"url" env:"REDIS_URL"`
	// Prefix namespaces every key written by the store
	Prefix string `yaml:"prefix" env:"REDIS_PREFIX"`
	// MaxWatchRetries bounds the optimistic transaction retries of one batch
	MaxWatchRetries uint64 `yaml:"max-watch-retries" env:"REDIS_MAX_WATCH_RETRIES"`
}

// DefaultOptions returns localhost defaults
func DefaultOptions() Options {
	return Options{
		Address:         "localhost:6379",
		Prefix:          "oidkeeper",
		MaxWatchRetries: 3,
	}
}

// Connect opens a client and checks that the server answers
func Connect(ctx context.Context, options Options) (*redis.Client, error) {
	var opts *redis.Options
	if options.URL != "" {
		var err error
		if opts, err = redis.ParseURL(options.URL); err != nil {
			return nil, errors.Wrap(err, "failed to parse redis url")
		}
	} else {
		opts = &redis.Options{
			Addr:     options.Address,
			Password: options.Password,
			DB:       options.DB,
		}
	}

	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrapf(err, "failed to ping redis at %s", opts.Addr)
	}
	return client, nil
}
