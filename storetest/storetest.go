// Package storetest holds the behavior every oidcstore.Store backend must
// share, runnable against any implementation.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.pilab.hu/oidcstore"
)

// ShortTTL is the lifetime used for records the suite lets expire.
const ShortTTL = 50 * time.Millisecond

// Harness is a backend under test.
type Harness struct {
	Store oidcstore.Store

	// Expire moves the backend clock forward by at least d.
	Expire func(d time.Duration)
}

// Run executes the suite. newHarness is called once per subtest and must
// return an empty store.
func Run(t *testing.T, newHarness func(t *testing.T) Harness) {
	t.Helper()

	tests := []struct {
		name string
		fn   func(t *testing.T, h Harness)
	}{
		{"RoundTrip", testRoundTrip},
		{"FindMissing", testFindMissing},
		{"UpsertOverwrites", testUpsertOverwrites},
		{"Expiry", testExpiry},
		{"FindByUID", testFindByUID},
		{"FindByUserCode", testFindByUserCode},
		{"DanglingIndex", testDanglingIndex},
		{"Consume", testConsume},
		{"DestroyDoesNotCascade", testDestroyDoesNotCascade},
		{"RevokeByGrantID", testRevokeByGrantID},
		{"GrantOutlivesShortMembers", testGrantOutlivesShortMembers},
		{"ConcurrentGrantAppend", testConcurrentGrantAppend},
		{"ClientModelUnsupported", testClientModelUnsupported},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			t.Cleanup(func() { _ = h.Store.Close() })
			tt.fn(t, h)
		})
	}
}

func testRoundTrip(t *testing.T, h Harness) {
	ctx := context.Background()

	in := oidcstore.Payload{
		"accountId": "acc-1",
		"clientId":  "client-1",
		"scope":     "openid profile",
		"exp":       float64(1700000000),
		"aud":       "https://api.example.com",
		"claims":    map[string]any{"email": true},
	}
	require.NoError(t, h.Store.Upsert(ctx, oidcstore.AuthorizationCode, "code-1", in, time.Hour))

	got, err := h.Store.Find(ctx, oidcstore.AuthorizationCode, "code-1")
	require.NoError(t, err)
	assert.Equal(t, in, got)

	require.NoError(t, h.Store.Upsert(ctx, oidcstore.AccessToken, "at-1", in, time.Hour))

	got, err = h.Store.Find(ctx, oidcstore.AccessToken, "at-1")
	require.NoError(t, err)
	assert.NotContains(t, got, oidcstore.FieldAudience)
	assert.Equal(t, "acc-1", got["accountId"])
	assert.Equal(t, float64(1700000000), got["exp"])
}

func testFindMissing(t *testing.T, h Harness) {
	ctx := context.Background()

	got, err := h.Store.Find(ctx, oidcstore.Session, "nope")
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = h.Store.FindByUID(ctx, oidcstore.Session, "nope")
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = h.Store.FindByUserCode(ctx, oidcstore.DeviceCode, "nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func testUpsertOverwrites(t *testing.T, h Harness) {
	ctx := context.Background()

	require.NoError(t, h.Store.Upsert(ctx, oidcstore.Interaction, "i-1", oidcstore.Payload{"a": "1", "b": "2"}, time.Hour))
	require.NoError(t, h.Store.Consume(ctx, oidcstore.Interaction, "i-1"))
	require.NoError(t, h.Store.Upsert(ctx, oidcstore.Interaction, "i-1", oidcstore.Payload{"a": "3"}, time.Hour))

	got, err := h.Store.Find(ctx, oidcstore.Interaction, "i-1")
	require.NoError(t, err)
	assert.Equal(t, oidcstore.Payload{"a": "3"}, got)
}

func testExpiry(t *testing.T, h Harness) {
	ctx := context.Background()

	require.NoError(t, h.Store.Upsert(ctx, oidcstore.Session, "short", oidcstore.Payload{"uid": "u-short"}, ShortTTL))
	require.NoError(t, h.Store.Upsert(ctx, oidcstore.Session, "forever", oidcstore.Payload{"uid": "u-forever"}, 0))

	h.Expire(2 * ShortTTL)

	got, err := h.Store.Find(ctx, oidcstore.Session, "short")
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = h.Store.FindByUID(ctx, oidcstore.Session, "u-short")
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = h.Store.Find(ctx, oidcstore.Session, "forever")
	require.NoError(t, err)
	assert.Equal(t, "u-forever", got.String(oidcstore.FieldUID))
}

func testFindByUID(t *testing.T, h Harness) {
	ctx := context.Background()

	require.NoError(t, h.Store.Upsert(ctx, oidcstore.Session, "sess-1", oidcstore.Payload{"uid": "uid-1", "accountId": "acc-1"}, time.Hour))

	got, err := h.Store.FindByUID(ctx, oidcstore.Session, "uid-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "acc-1", got["accountId"])

	direct, err := h.Store.Find(ctx, oidcstore.Session, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, direct, got)
}

func testFindByUserCode(t *testing.T, h Harness) {
	ctx := context.Background()

	p := oidcstore.Payload{"userCode": "ABCD-EFGH", "clientId": "tv"}
	require.NoError(t, h.Store.Upsert(ctx, oidcstore.DeviceCode, "dc-1", p, time.Hour))

	got, err := h.Store.FindByUserCode(ctx, oidcstore.DeviceCode, "ABCD-EFGH")
	require.NoError(t, err)
	assert.Equal(t, p, got)

	got, err = h.Store.FindByUserCode(ctx, oidcstore.DeviceCode, "WXYZ-0000")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func testDanglingIndex(t *testing.T, h Harness) {
	ctx := context.Background()

	require.NoError(t, h.Store.Upsert(ctx, oidcstore.Session, "sess-1", oidcstore.Payload{"uid": "uid-1"}, time.Hour))
	require.NoError(t, h.Store.Destroy(ctx, oidcstore.Session, "sess-1"))

	for range 2 {
		got, err := h.Store.FindByUID(ctx, oidcstore.Session, "uid-1")
		require.NoError(t, err)
		assert.Nil(t, got)
	}

	// A new session reusing the uid is found again.
	require.NoError(t, h.Store.Upsert(ctx, oidcstore.Session, "sess-2", oidcstore.Payload{"uid": "uid-1"}, time.Hour))

	got, err := h.Store.FindByUID(ctx, oidcstore.Session, "uid-1")
	require.NoError(t, err)
	require.NotNil(t, got)
}

func testConsume(t *testing.T, h Harness) {
	ctx := context.Background()

	require.NoError(t, h.Store.Upsert(ctx, oidcstore.AuthorizationCode, "code-1", oidcstore.Payload{"accountId": "acc-1"}, time.Hour))

	for range 2 {
		require.NoError(t, h.Store.Consume(ctx, oidcstore.AuthorizationCode, "code-1"))

		got, err := h.Store.Find(ctx, oidcstore.AuthorizationCode, "code-1")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, true, got[oidcstore.FieldConsumed])
		assert.Equal(t, "acc-1", got["accountId"])
	}

	require.NoError(t, h.Store.Consume(ctx, oidcstore.AuthorizationCode, "missing"))

	got, err := h.Store.Find(ctx, oidcstore.AuthorizationCode, "missing")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func testDestroyDoesNotCascade(t *testing.T, h Harness) {
	ctx := context.Background()

	require.NoError(t, h.Store.Upsert(ctx, oidcstore.AccessToken, "at-1", oidcstore.Payload{"grantId": "g-1"}, time.Hour))
	require.NoError(t, h.Store.Upsert(ctx, oidcstore.RefreshToken, "rt-1", oidcstore.Payload{"grantId": "g-1"}, time.Hour))

	require.NoError(t, h.Store.Destroy(ctx, oidcstore.AccessToken, "at-1"))
	require.NoError(t, h.Store.Destroy(ctx, oidcstore.AccessToken, "at-1"))

	got, err := h.Store.Find(ctx, oidcstore.RefreshToken, "rt-1")
	require.NoError(t, err)
	assert.NotNil(t, got)

	// The grant index still cascades over the remaining member.
	require.NoError(t, h.Store.RevokeByGrantID(ctx, "g-1"))

	got, err = h.Store.Find(ctx, oidcstore.RefreshToken, "rt-1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func testRevokeByGrantID(t *testing.T, h Harness) {
	ctx := context.Background()

	revoked := []struct {
		model oidcstore.Model
		id    string
	}{
		{oidcstore.AccessToken, "at-1"},
		{oidcstore.RefreshToken, "rt-1"},
		{oidcstore.AuthorizationCode, "code-1"},
		{oidcstore.DeviceCode, "dc-1"},
		{oidcstore.BackchannelAuthenticationRequest, "bc-1"},
	}
	for _, r := range revoked {
		require.NoError(t, h.Store.Upsert(ctx, r.model, r.id, oidcstore.Payload{"grantId": "g-1"}, time.Hour))
	}

	// Same grant id on a model outside the grant index, and a second grant.
	require.NoError(t, h.Store.Upsert(ctx, oidcstore.Session, "sess-1", oidcstore.Payload{"grantId": "g-1"}, time.Hour))
	require.NoError(t, h.Store.Upsert(ctx, oidcstore.AccessToken, "at-2", oidcstore.Payload{"grantId": "g-2"}, time.Hour))

	require.NoError(t, h.Store.RevokeByGrantID(ctx, "g-1"))

	for _, r := range revoked {
		got, err := h.Store.Find(ctx, r.model, r.id)
		require.NoError(t, err)
		assert.Nil(t, got, "%s:%s survived revocation", r.model, r.id)
	}

	got, err := h.Store.Find(ctx, oidcstore.Session, "sess-1")
	require.NoError(t, err)
	assert.NotNil(t, got)

	got, err = h.Store.Find(ctx, oidcstore.AccessToken, "at-2")
	require.NoError(t, err)
	assert.NotNil(t, got)

	require.NoError(t, h.Store.RevokeByGrantID(ctx, "g-1"))
	require.NoError(t, h.Store.RevokeByGrantID(ctx, "never-issued"))
}

func testGrantOutlivesShortMembers(t *testing.T, h Harness) {
	ctx := context.Background()

	require.NoError(t, h.Store.Upsert(ctx, oidcstore.RefreshToken, "rt-1", oidcstore.Payload{"grantId": "g-1"}, time.Hour))
	require.NoError(t, h.Store.Upsert(ctx, oidcstore.AccessToken, "at-1", oidcstore.Payload{"grantId": "g-1"}, ShortTTL))

	h.Expire(2 * ShortTTL)

	require.NoError(t, h.Store.RevokeByGrantID(ctx, "g-1"))

	got, err := h.Store.Find(ctx, oidcstore.RefreshToken, "rt-1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func testConcurrentGrantAppend(t *testing.T, h Harness) {
	ctx := context.Background()

	const n = 20

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			model := oidcstore.AccessToken
			if i%2 == 1 {
				model = oidcstore.RefreshToken
			}
			errs <- h.Store.Upsert(ctx, model, fmt.Sprintf("tok-%d", i), oidcstore.Payload{"grantId": "g-race"}, time.Hour)
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	require.NoError(t, h.Store.RevokeByGrantID(ctx, "g-race"))

	for i := range n {
		model := oidcstore.AccessToken
		if i%2 == 1 {
			model = oidcstore.RefreshToken
		}
		got, err := h.Store.Find(ctx, model, fmt.Sprintf("tok-%d", i))
		require.NoError(t, err)
		assert.Nil(t, got, "tok-%d lost from the grant index", i)
	}
}

func testClientModelUnsupported(t *testing.T, h Harness) {
	ctx := context.Background()

	err := h.Store.Upsert(ctx, oidcstore.Client, "c-1", oidcstore.Payload{"client_id": "c-1"}, time.Hour)
	require.ErrorIs(t, err, oidcstore.ErrUnsupportedOperation)

	_, err = h.Store.Find(ctx, oidcstore.Client, "c-1")
	require.ErrorIs(t, err, oidcstore.ErrUnsupportedOperation)

	err = h.Store.Destroy(ctx, oidcstore.Client, "c-1")
	require.ErrorIs(t, err, oidcstore.ErrUnsupportedOperation)

	err = h.Store.Consume(ctx, oidcstore.Client, "c-1")
	require.ErrorIs(t, err, oidcstore.ErrUnsupportedOperation)
}
