package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.pilab.hu/oidcstore"
	"go.pilab.hu/oidcstore/storetest"
)

func TestMemoryStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) storetest.Harness {
		return storetest.Harness{
			Store:  NewMemoryStore(WithLogger(zerolog.Nop())),
			Expire: time.Sleep,
		}
	})
}

func TestMemoryStore_CapacityEviction(t *testing.T) {
	s := NewMemoryStore(WithCapacity(3), WithLogger(zerolog.Nop()))
	defer s.Close()

	ctx := context.Background()
	for i := range 5 {
		require.NoError(t, s.Upsert(ctx, oidcstore.Interaction, fmt.Sprintf("i-%d", i), oidcstore.Payload{"n": i}, time.Hour))
	}

	assert.Equal(t, 3, s.Len())
	assert.Eventually(t, func() bool {
		return s.Evictions() == 2
	}, time.Second, 10*time.Millisecond)

	// Least recently used records went first.
	got, err := s.Find(ctx, oidcstore.Interaction, "i-0")
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = s.Find(ctx, oidcstore.Interaction, "i-4")
	require.NoError(t, err)
	assert.NotNil(t, got)
}

func TestMemoryStore_GrantEvictionRevokesMembers(t *testing.T) {
	s := NewMemoryStore(WithCapacity(3), WithLogger(zerolog.Nop()))
	defer s.Close()

	ctx := context.Background()
	require.NoError(t, s.Upsert(ctx, oidcstore.RefreshToken, "rt-1", oidcstore.Payload{"grantId": "g-1"}, time.Minute))

	// Keep the token hot so the grant index is the least recently used key.
	got, err := s.Find(ctx, oidcstore.RefreshToken, "rt-1")
	require.NoError(t, err)
	require.NotNil(t, got)

	require.NoError(t, s.Upsert(ctx, oidcstore.Interaction, "i-1", oidcstore.Payload{}, time.Minute))
	require.NoError(t, s.Upsert(ctx, oidcstore.Interaction, "i-2", oidcstore.Payload{}, time.Minute))

	require.Eventually(t, func() bool {
		got, err := s.Find(ctx, oidcstore.RefreshToken, "rt-1")
		return err == nil && got == nil
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, s.RevokeByGrantID(ctx, "g-1"))
	got, err = s.Find(ctx, oidcstore.RefreshToken, "rt-1")
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = s.Find(ctx, oidcstore.Interaction, "i-2")
	require.NoError(t, err)
	assert.NotNil(t, got)
}

func TestMemoryStore_ReadsDoNotExtendTTL(t *testing.T) {
	s := NewMemoryStore(WithLogger(zerolog.Nop()))
	defer s.Close()

	ctx := context.Background()
	require.NoError(t, s.Upsert(ctx, oidcstore.Session, "s-1", oidcstore.Payload{}, 80*time.Millisecond))

	for range 4 {
		time.Sleep(25 * time.Millisecond)
		_, err := s.Find(ctx, oidcstore.Session, "s-1")
		require.NoError(t, err)
	}

	got, err := s.Find(ctx, oidcstore.Session, "s-1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestMemoryStore_ConsumeKeepsTTL(t *testing.T) {
	s := NewMemoryStore(WithLogger(zerolog.Nop()))
	defer s.Close()

	ctx := context.Background()
	require.NoError(t, s.Upsert(ctx, oidcstore.AuthorizationCode, "c-1", oidcstore.Payload{}, time.Hour))
	before := s.cache.Get(oidcstore.Key(oidcstore.AuthorizationCode, "c-1")).ExpiresAt()

	require.NoError(t, s.Consume(ctx, oidcstore.AuthorizationCode, "c-1"))
	after := s.cache.Get(oidcstore.Key(oidcstore.AuthorizationCode, "c-1")).ExpiresAt()

	assert.WithinDuration(t, before, after, time.Second)
}

func TestMemoryStore_CorruptPayload(t *testing.T) {
	s := NewMemoryStore(WithLogger(zerolog.Nop()))
	defer s.Close()

	s.cache.Set(oidcstore.Key(oidcstore.Session, "bad"), entry{data: []byte("{not json")}, ttlcache.NoTTL)

	got, err := s.Find(context.Background(), oidcstore.Session, "bad")
	require.ErrorIs(t, err, oidcstore.ErrCorruptPayload)
	assert.Nil(t, got)
}

func TestMemoryStore_PayloadIsCopied(t *testing.T) {
	s := NewMemoryStore(WithLogger(zerolog.Nop()))
	defer s.Close()

	ctx := context.Background()
	p := oidcstore.Payload{"scope": "openid"}
	require.NoError(t, s.Upsert(ctx, oidcstore.Grant, "g-1", p, time.Hour))
	p["scope"] = "changed"

	got, err := s.Find(ctx, oidcstore.Grant, "g-1")
	require.NoError(t, err)
	assert.Equal(t, "openid", got["scope"])
}

func TestMemoryStore_CloseTwice(t *testing.T) {
	s := NewMemoryStore(WithLogger(zerolog.Nop()))

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
}
