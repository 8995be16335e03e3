package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"go.pilab.hu/oidcstore"
)

// DefaultCapacity is the number of keys (records and index entries) the
// memory store keeps before evicting the least recently used one.
const DefaultCapacity = 1000

// entry is a cached value. Records keep their encoded payload in data,
// uid and user code indexes keep the record id, grant indexes keep members.
type entry struct {
	data     []byte
	members  []string
	consumed bool
}

// MemoryStore implements oidcstore.Store on top of a bounded ttlcache.
//
// Entries vanish on TTL expiry or when the cache is full. Eviction under
// pressure loses records; it is logged and counted, see Evictions.
type MemoryStore struct {
	cache  *ttlcache.Cache[string, entry]
	logger zerolog.Logger

	// mu serializes writers so index read-modify-write cycles never interleave.
	mu        sync.Mutex
	evictions atomic.Int64
	closeOnce sync.Once
}

var _ oidcstore.Store = (*MemoryStore)(nil)

// MemoryOption configures a MemoryStore.
type MemoryOption func(*memoryOptions)

type memoryOptions struct {
	capacity uint64
	logger   zerolog.Logger
}

// WithCapacity bounds the number of cached keys.
func WithCapacity(capacity uint64) MemoryOption {
	return func(o *memoryOptions) {
		o.capacity = capacity
	}
}

// WithLogger sets the logger used for eviction and consume diagnostics.
func WithLogger(logger zerolog.Logger) MemoryOption {
	return func(o *memoryOptions) {
		o.logger = logger
	}
}

// NewMemoryStore creates a new in-memory store and starts its expiry loop.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	o := memoryOptions{
		capacity: DefaultCapacity,
		logger:   log.Logger,
	}
	for _, opt := range opts {
		opt(&o)
	}

	c := ttlcache.New(
		ttlcache.WithCapacity[string, entry](o.capacity),
		ttlcache.WithDisableTouchOnHit[string, entry](),
	)

	s := &MemoryStore{
		cache:  c,
		logger: o.logger.With().Str("component", "memory_store").Logger(),
	}

	c.OnEviction(func(_ context.Context, reason ttlcache.EvictionReason, item *ttlcache.Item[string, entry]) {
		if reason != ttlcache.EvictionReasonCapacityReached {
			return
		}
		s.evictions.Add(1)
		s.logger.Warn().
			Str("key", item.Key()).
			Uint64("capacity", o.capacity).
			Msg("memory store full, evicted least recently used entry")

		// Without its index a grant could no longer be revoked, so its
		// members go with it.
		if members := item.Value().members; len(members) > 0 {
			s.mu.Lock()
			for _, k := range members {
				s.cache.Delete(k)
			}
			s.mu.Unlock()
		}
	})

	go c.Start()

	return s
}

func ttlFor(expiresIn time.Duration) time.Duration {
	if expiresIn <= 0 {
		return ttlcache.NoTTL
	}
	return expiresIn
}

// remaining returns the TTL left on an item, and false when it already expired.
func remaining(item *ttlcache.Item[string, entry]) (time.Duration, bool) {
	exp := item.ExpiresAt()
	if exp.IsZero() {
		return ttlcache.NoTTL, true
	}
	left := time.Until(exp)
	return left, left > 0
}

// Upsert implements oidcstore.Store.
func (s *MemoryStore) Upsert(_ context.Context, model oidcstore.Model, id string, payload oidcstore.Payload, expiresIn time.Duration) error {
	if err := oidcstore.CheckStorable(model, "upsert"); err != nil {
		return err
	}

	data, err := oidcstore.EncodePayload(payload)
	if err != nil {
		return err
	}

	key := oidcstore.Key(model, id)
	ix := oidcstore.IndexesFor(model, payload)
	ttl := ttlFor(expiresIn)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.cache.Set(key, entry{data: data}, ttl)
	if ix.UID != "" {
		s.cache.Set(ix.UID, entry{data: []byte(id)}, ttl)
	}
	if ix.UserCode != "" {
		s.cache.Set(ix.UserCode, entry{data: []byte(id)}, ttl)
	}
	if ix.Grant != "" {
		s.appendGrant(ix.Grant, key, ttl)
	}

	return nil
}

// appendGrant adds key to a grant index. The index lives as long as its
// longest-lived member. Callers hold s.mu.
func (s *MemoryStore) appendGrant(grantKey, key string, ttl time.Duration) {
	var members []string
	if item := s.cache.Get(grantKey); item != nil {
		members = append(members, item.Value().members...)
		if left, ok := remaining(item); ok && ttl != ttlcache.NoTTL {
			if left == ttlcache.NoTTL || left > ttl {
				ttl = left
			}
		}
	}
	members = append(members, key)

	s.cache.Set(grantKey, entry{members: members}, ttl)
}

// Find implements oidcstore.Store.
func (s *MemoryStore) Find(_ context.Context, model oidcstore.Model, id string) (oidcstore.Payload, error) {
	if err := oidcstore.CheckStorable(model, "find"); err != nil {
		return nil, err
	}
	return s.find(model, id)
}

func (s *MemoryStore) find(model oidcstore.Model, id string) (oidcstore.Payload, error) {
	item := s.cache.Get(oidcstore.Key(model, id))
	if item == nil {
		return nil, nil
	}

	e := item.Value()
	p, err := oidcstore.DecodePayload(e.data)
	if err != nil {
		return nil, err
	}
	if e.consumed {
		p[oidcstore.FieldConsumed] = true
	}

	return oidcstore.Presentable(model, p), nil
}

// FindByUID implements oidcstore.Store.
func (s *MemoryStore) FindByUID(_ context.Context, model oidcstore.Model, uid string) (oidcstore.Payload, error) {
	if err := oidcstore.CheckStorable(model, "findByUid"); err != nil {
		return nil, err
	}
	return s.findByIndex(model, oidcstore.SessionUIDKey(uid))
}

// FindByUserCode implements oidcstore.Store.
func (s *MemoryStore) FindByUserCode(_ context.Context, model oidcstore.Model, userCode string) (oidcstore.Payload, error) {
	if err := oidcstore.CheckStorable(model, "findByUserCode"); err != nil {
		return nil, err
	}
	return s.findByIndex(model, oidcstore.UserCodeKey(userCode))
}

func (s *MemoryStore) findByIndex(model oidcstore.Model, indexKey string) (oidcstore.Payload, error) {
	item := s.cache.Get(indexKey)
	if item == nil {
		return nil, nil
	}
	id := string(item.Value().data)

	p, err := s.find(model, id)
	if err != nil || p != nil {
		return p, err
	}

	// The index outlived its record; drop it unless it was repointed meanwhile.
	s.mu.Lock()
	if current := s.cache.Get(indexKey); current != nil && string(current.Value().data) == id {
		s.cache.Delete(indexKey)
	}
	s.mu.Unlock()

	return nil, nil
}

// Consume implements oidcstore.Store.
func (s *MemoryStore) Consume(_ context.Context, model oidcstore.Model, id string) error {
	if err := oidcstore.CheckStorable(model, "consume"); err != nil {
		return err
	}

	key := oidcstore.Key(model, id)

	s.mu.Lock()
	defer s.mu.Unlock()

	item := s.cache.Get(key)
	if item == nil {
		s.logger.Debug().Str("key", key).Msg("consume of missing record ignored")
		return nil
	}
	left, ok := remaining(item)
	if !ok {
		return nil
	}

	e := item.Value()
	e.consumed = true
	s.cache.Set(key, e, left)

	return nil
}

// Destroy implements oidcstore.Store.
func (s *MemoryStore) Destroy(_ context.Context, model oidcstore.Model, id string) error {
	if err := oidcstore.CheckStorable(model, "destroy"); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.cache.Delete(oidcstore.Key(model, id))
	return nil
}

// RevokeByGrantID implements oidcstore.Store.
func (s *MemoryStore) RevokeByGrantID(_ context.Context, grantID string) error {
	grantKey := oidcstore.GrantKey(grantID)

	s.mu.Lock()
	defer s.mu.Unlock()

	item := s.cache.Get(grantKey)
	if item == nil {
		return nil
	}
	for _, key := range item.Value().members {
		s.cache.Delete(key)
	}
	s.cache.Delete(grantKey)

	return nil
}

// Ping implements oidcstore.Store. The memory store is always reachable.
func (s *MemoryStore) Ping(_ context.Context) error {
	return nil
}

// Evictions returns how many entries were dropped because the cache was full.
func (s *MemoryStore) Evictions() int64 {
	return s.evictions.Load()
}

// Len returns the number of cached keys, including index entries.
func (s *MemoryStore) Len() int {
	return s.cache.Len()
}

// Close stops the expiry loop.
func (s *MemoryStore) Close() error {
	s.closeOnce.Do(s.cache.Stop)
	return nil
}
