package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"go.pilab.hu/oidcstore"
)

// Hash fields of a stored record.
const (
	fieldPayload  = "payload"
	fieldConsumed = "consumed"
)

// Options configures a Store.
type Options struct {
	// KeyPrefix is prepended verbatim to every key, e.g. "tenant-a:".
	KeyPrefix string

	// Logger receives connection and command diagnostics. Defaults to the
	// global zerolog logger.
	Logger *zerolog.Logger
}

// Store implements oidcstore.Store on Redis.
//
// Every record is a hash holding the encoded payload and, once consumed, a
// consumed marker. Index maintenance that needs a read-modify-write runs as
// Lua scripts, so the store expects a single Redis or a failover setup; it
// does not support Redis Cluster.
type Store struct {
	client redis.UniversalClient
	prefix string
	logger zerolog.Logger
}

var _ oidcstore.Store = (*Store)(nil)

// New connects to the Redis server at url (redis:// or rediss://) and
// verifies the connection.
func New(ctx context.Context, url string, opts Options) (*Store, error) {
	redisOpts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	s := NewWithClient(redis.NewClient(redisOpts), opts)

	if err := s.Ping(ctx); err != nil {
		_ = s.client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	s.logger.Info().Str("addr", redisOpts.Addr).Int("db", redisOpts.DB).Msg("connected to redis")

	return s, nil
}

// NewWithClient wraps an existing client. The store takes ownership of the
// client and closes it on Close.
func NewWithClient(client redis.UniversalClient, opts Options) *Store {
	logger := log.Logger
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	logger = logger.With().Str("component", "redis_store").Logger()

	client.AddHook(logHook{logger: logger})

	return &Store{
		client: client,
		prefix: opts.KeyPrefix,
		logger: logger,
	}
}

func (s *Store) key(k string) string {
	return s.prefix + k
}

// Close closes the Redis client.
func (s *Store) Close() error {
	return s.client.Close()
}

// Ping checks Redis connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return wrapErr("ping", s.client.Ping(ctx).Err())
}

// Upsert implements oidcstore.Store. The record and its indexes are written
// in one MULTI transaction.
func (s *Store) Upsert(ctx context.Context, model oidcstore.Model, id string, payload oidcstore.Payload, expiresIn time.Duration) error {
	if err := oidcstore.CheckStorable(model, "upsert"); err != nil {
		return err
	}

	data, err := oidcstore.EncodePayload(payload)
	if err != nil {
		return err
	}

	key := s.key(oidcstore.Key(model, id))
	ix := oidcstore.IndexesFor(model, payload)

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key, fieldPayload, data)
		if expiresIn > 0 {
			pipe.PExpire(ctx, key, expiresIn)
		}

		if ix.UID != "" {
			setWithTTL(ctx, pipe, s.key(ix.UID), id, expiresIn)
		}
		if ix.UserCode != "" {
			setWithTTL(ctx, pipe, s.key(ix.UserCode), id, expiresIn)
		}
		if ix.Grant != "" {
			appendGrantScript.Eval(ctx, pipe, []string{s.key(ix.Grant)}, key, expiresIn.Milliseconds())
		}
		return nil
	})

	return wrapErr("upsert", err)
}

func setWithTTL(ctx context.Context, pipe redis.Pipeliner, key, value string, ttl time.Duration) {
	pipe.Set(ctx, key, value, 0)
	if ttl > 0 {
		pipe.PExpire(ctx, key, ttl)
	}
}

// Find implements oidcstore.Store.
func (s *Store) Find(ctx context.Context, model oidcstore.Model, id string) (oidcstore.Payload, error) {
	if err := oidcstore.CheckStorable(model, "find"); err != nil {
		return nil, err
	}
	return s.find(ctx, model, id)
}

func (s *Store) find(ctx context.Context, model oidcstore.Model, id string) (oidcstore.Payload, error) {
	res, err := s.client.HGetAll(ctx, s.key(oidcstore.Key(model, id))).Result()
	if err != nil {
		return nil, wrapErr("find", err)
	}
	if len(res) == 0 {
		return nil, nil
	}

	p, err := oidcstore.DecodePayload([]byte(res[fieldPayload]))
	if err != nil {
		return nil, err
	}
	if res[fieldConsumed] != "" {
		p[oidcstore.FieldConsumed] = true
	}

	return oidcstore.Presentable(model, p), nil
}

// FindByUID implements oidcstore.Store.
func (s *Store) FindByUID(ctx context.Context, model oidcstore.Model, uid string) (oidcstore.Payload, error) {
	if err := oidcstore.CheckStorable(model, "findByUid"); err != nil {
		return nil, err
	}
	return s.findByIndex(ctx, model, oidcstore.SessionUIDKey(uid))
}

// FindByUserCode implements oidcstore.Store.
func (s *Store) FindByUserCode(ctx context.Context, model oidcstore.Model, userCode string) (oidcstore.Payload, error) {
	if err := oidcstore.CheckStorable(model, "findByUserCode"); err != nil {
		return nil, err
	}
	return s.findByIndex(ctx, model, oidcstore.UserCodeKey(userCode))
}

func (s *Store) findByIndex(ctx context.Context, model oidcstore.Model, index string) (oidcstore.Payload, error) {
	indexKey := s.key(index)

	id, err := s.client.Get(ctx, indexKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, wrapErr("find index", err)
	}

	p, err := s.find(ctx, model, id)
	if err != nil || p != nil {
		return p, err
	}

	if err := dropIndexScript.Run(ctx, s.client, []string{indexKey}, id).Err(); err != nil {
		s.logger.Warn().Err(err).Str("key", indexKey).Msg("failed to drop dangling index")
	}

	return nil, nil
}

// Consume implements oidcstore.Store.
func (s *Store) Consume(ctx context.Context, model oidcstore.Model, id string) error {
	if err := oidcstore.CheckStorable(model, "consume"); err != nil {
		return err
	}

	key := s.key(oidcstore.Key(model, id))

	n, err := consumeScript.Run(ctx, s.client, []string{key}, fieldConsumed, "1").Int()
	if err != nil {
		return wrapErr("consume", err)
	}
	if n == 0 {
		s.logger.Debug().Str("key", key).Msg("consume of missing record ignored")
	}

	return nil
}

// Destroy implements oidcstore.Store.
func (s *Store) Destroy(ctx context.Context, model oidcstore.Model, id string) error {
	if err := oidcstore.CheckStorable(model, "destroy"); err != nil {
		return err
	}
	return wrapErr("destroy", s.client.Del(ctx, s.key(oidcstore.Key(model, id))).Err())
}

// RevokeByGrantID implements oidcstore.Store.
func (s *Store) RevokeByGrantID(ctx context.Context, grantID string) error {
	grantKey := s.key(oidcstore.GrantKey(grantID))

	n, err := revokeGrantScript.Run(ctx, s.client, []string{grantKey}).Int()
	if err != nil {
		return wrapErr("revoke grant", err)
	}

	s.logger.Debug().Str("grant_id", grantID).Int("deleted", n).Msg("grant revoked")

	return nil
}

// wrapErr marks transport failures with oidcstore.ErrBackendUnavailable.
// Server replies and cancellations are wrapped as is.
func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}

	var replyErr redis.Error
	if errors.As(err, &replyErr) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("redis %s: %w", op, err)
	}

	return fmt.Errorf("redis %s: %w: %w", op, oidcstore.ErrBackendUnavailable, err)
}
