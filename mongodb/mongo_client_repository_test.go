package mongodb

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.pilab.hu/oidcstore/client"
	"go.pilab.hu/oidcstore/mongodb/testutil"
)

func TestClientRepository(t *testing.T) {
	db := testutil.SetupTestMongoDB(t, "test_oidcstore_clients")
	repo := NewClientRepository(db)
	ctx := context.Background()

	expires := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	in := &client.Client{
		ID:           "cli-1",
		Enabled:      true,
		Name:         client.Ptr("CLI"),
		RequirePKCE:  client.Ptr(true),
		RedirectURIs: []string{"http://127.0.0.1/cb", "http://localhost/cb"},
		Secrets:      []client.Secret{{Type: "client_secret", Value: "v", ExpiresAt: &expires}},
		Properties:   []client.Property{{Key: "team", Value: "infra"}},
	}

	t.Run("CreateAndGet", func(t *testing.T) {
		require.NoError(t, repo.CreateClient(ctx, in))

		got, err := repo.GetClient(ctx, "cli-1")
		require.NoError(t, err)
		assert.Equal(t, in.RedirectURIs, got.RedirectURIs)
		assert.Equal(t, "CLI", *got.Name)
		assert.True(t, *got.RequirePKCE)
		assert.Nil(t, got.RequireConsent)
		require.Len(t, got.Secrets, 1)
		assert.True(t, expires.Equal(*got.Secrets[0].ExpiresAt))
	})

	t.Run("Duplicate", func(t *testing.T) {
		err := repo.CreateClient(ctx, &client.Client{ID: "cli-1"})
		require.ErrorIs(t, err, ErrClientExists)
	})

	t.Run("NotFound", func(t *testing.T) {
		_, err := repo.GetClient(ctx, "nope")
		require.ErrorIs(t, err, client.ErrClientNotFound)
	})
}

func TestConnect(t *testing.T) {
	uri := os.Getenv("TEST_MONGO_URI")
	if uri == "" {
		t.Skip("TEST_MONGO_URI not set, skipping MongoDB integration test")
	}

	ctx := context.Background()
	db, err := Connect(ctx, uri, "test_oidcstore_connect")
	require.NoError(t, err)
	defer db.Close(ctx)

	require.NoError(t, db.Ping(ctx))
	assert.Equal(t, "test_oidcstore_connect", db.Database().Name())
}
