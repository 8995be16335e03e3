package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"

	"go.pilab.hu/oidcstore"
	"go.pilab.hu/oidcstore/cache"
	"go.pilab.hu/oidcstore/cache/redis"
	"go.pilab.hu/oidcstore/client"
	"go.pilab.hu/oidcstore/config"
	"go.pilab.hu/oidcstore/mongodb"
	"go.pilab.hu/oidcstore/sqldb"
)

const connectTimeout = 30 * time.Second

// retryConnect retries connect while the backend reports itself unavailable.
func retryConnect[T any](ctx context.Context, logger zerolog.Logger, what string, connect func() (T, error)) (T, error) {
	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = 250 * time.Millisecond
	expBackoff.MaxInterval = 5 * time.Second

	operation := func() (T, error) {
		v, err := connect()
		if err != nil && !errors.Is(err, oidcstore.ErrBackendUnavailable) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}

	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(expBackoff),
		backoff.WithMaxElapsedTime(connectTimeout),
		backoff.WithNotify(func(err error, next time.Duration) {
			logger.Warn().Err(err).Dur("retry_in", next).Msgf("%s not ready", what)
		}),
	)
}

// openStore selects the Redis backend when a URL is configured and the
// memory backend otherwise. The second return value names the backend.
func openStore(ctx context.Context, cfg *config.ServerConfig, logger zerolog.Logger) (oidcstore.Store, string, error) {
	if cfg.RedisURL == "" {
		capacity := cfg.MemoryCapacity
		if capacity == 0 {
			capacity = cache.DefaultCapacity
		}
		logger.Info().Uint64("capacity", capacity).Msg("using memory backend")
		return cache.NewMemoryStore(cache.WithCapacity(capacity), cache.WithLogger(logger)), "memory", nil
	}

	s, err := retryConnect(ctx, logger, "redis", func() (*redis.Store, error) {
		return redis.New(ctx, cfg.RedisURL, redis.Options{KeyPrefix: cfg.RedisKeyPrefix, Logger: &logger})
	})
	if err != nil {
		return nil, "", err
	}
	return s, "redis", nil
}

// clientSource is a client store together with its cleanup.
type clientSource struct {
	client.Store
	close func(context.Context) error
}

// openClients opens the client database named by DATABASE_URL. SQL
// databases are migrated on open.
func openClients(ctx context.Context, cfg *config.ServerConfig, logger zerolog.Logger) (*clientSource, error) {
	if cfg.UsesMongo() {
		db, err := retryConnect(ctx, logger, "mongodb", func() (*mongodb.DB, error) {
			db, err := mongodb.Connect(ctx, cfg.DatabaseURL, cfg.MongoDBName)
			if err != nil {
				return nil, fmt.Errorf("%w: %w", oidcstore.ErrBackendUnavailable, err)
			}
			return db, nil
		})
		if err != nil {
			return nil, err
		}
		return &clientSource{
			Store: mongodb.NewClientRepository(db.Database()),
			close: db.Close,
		}, nil
	}

	db, err := sqldb.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &clientSource{
		Store: sqldb.NewClientRepository(db),
		close: func(context.Context) error { return db.Close() },
	}, nil
}
