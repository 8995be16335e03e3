package sqldb

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.pilab.hu/oidcstore/client"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()

	ctx := context.Background()
	db, err := Open(ctx, "sqlite://"+filepath.Join(t.TempDir(), "clients.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, db.Migrate(ctx))

	return db
}

func TestOpen_UnsupportedURL(t *testing.T) {
	_, err := Open(context.Background(), "mysql://localhost/db")
	require.ErrorIs(t, err, ErrUnsupportedURL)
}

func TestMigrate_Idempotent(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.Migrate(context.Background()))
}

func TestMigrate_LogsWithoutContextLogger(t *testing.T) {
	prev := zerolog.DefaultContextLogger
	zerolog.DefaultContextLogger = nil
	t.Cleanup(func() { zerolog.DefaultContextLogger = prev })

	ctx := context.Background()
	db, err := Open(ctx, "sqlite://"+filepath.Join(t.TempDir(), "clients.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	var buf bytes.Buffer
	db.Logger = zerolog.New(&buf)

	require.NoError(t, db.Migrate(ctx))
	assert.Contains(t, buf.String(), "applied migration")
}

func TestClientRepository_RoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := NewClientRepository(newTestDB(t))

	expires := time.Date(2030, 6, 1, 12, 0, 0, 0, time.UTC)
	in := &client.Client{
		ID:                      "web-app",
		Enabled:                 true,
		Name:                    client.Ptr("Web App"),
		ApplicationType:         client.Ptr("web"),
		TokenEndpointAuthMethod: client.Ptr("client_secret_post"),
		RequirePKCE:             client.Ptr(true),
		RequireConsent:          client.Ptr(false),
		AccessTokenLifetime:     client.Ptr(int64(900)),
		CORSOrigins:             []string{"https://app.example.com"},
		Scopes:                  []string{"openid", "email", "offline_access"},
		GrantTypes:              []string{"authorization_code", "refresh_token"},
		RedirectURIs:            []string{"https://app.example.com/b", "https://app.example.com/a"},
		PostLogoutRedirectURIs:  []string{"https://app.example.com/bye"},
		Secrets: []client.Secret{
			{Type: "client_secret", Value: "s3cr3t", ExpiresAt: &expires},
			{Type: "client_secret", Value: "older"},
		},
		Properties: []client.Property{{Key: "tier", Value: "gold"}, {Key: "tenant", Value: "acme"}},
	}
	require.NoError(t, repo.CreateClient(ctx, in))

	got, err := repo.GetClient(ctx, "web-app")
	require.NoError(t, err)

	assert.Equal(t, "web-app", got.ID)
	assert.True(t, got.Enabled)
	assert.Equal(t, in.Name, got.Name)
	assert.Equal(t, in.RequirePKCE, got.RequirePKCE)
	assert.Equal(t, in.RequireConsent, got.RequireConsent)
	assert.Equal(t, in.AccessTokenLifetime, got.AccessTokenLifetime)
	assert.Nil(t, got.ClientURI)
	assert.Nil(t, got.DefaultMaxAge)
	assert.Equal(t, in.CORSOrigins, got.CORSOrigins)
	assert.Equal(t, in.Scopes, got.Scopes)
	assert.Equal(t, in.GrantTypes, got.GrantTypes)
	assert.Equal(t, in.RedirectURIs, got.RedirectURIs, "child order is preserved")
	assert.Equal(t, in.PostLogoutRedirectURIs, got.PostLogoutRedirectURIs)

	require.Len(t, got.Secrets, 2)
	require.NotNil(t, got.Secrets[0].ExpiresAt)
	assert.True(t, expires.Equal(*got.Secrets[0].ExpiresAt))
	assert.Nil(t, got.Secrets[1].ExpiresAt)

	assert.Equal(t, []client.Property{{Key: "tenant", Value: "acme"}, {Key: "tier", Value: "gold"}}, got.Properties)
	assert.False(t, got.CreatedAt.IsZero())
}

func TestClientRepository_NotFound(t *testing.T) {
	repo := NewClientRepository(newTestDB(t))

	_, err := repo.GetClient(context.Background(), "missing")
	require.ErrorIs(t, err, client.ErrClientNotFound)
}

func TestClientRepository_DuplicateRollsBack(t *testing.T) {
	ctx := context.Background()
	repo := NewClientRepository(newTestDB(t))

	require.NoError(t, repo.CreateClient(ctx, &client.Client{ID: "dup", Enabled: true, Scopes: []string{"openid"}}))

	err := repo.CreateClient(ctx, &client.Client{ID: "dup", Enabled: true, Scopes: []string{"profile"}})
	require.Error(t, err)

	got, err := repo.GetClient(ctx, "dup")
	require.NoError(t, err)
	assert.Equal(t, []string{"openid"}, got.Scopes)
}

// The relational source feeds the projector end to end.
func TestClientRepository_Projection(t *testing.T) {
	ctx := context.Background()
	repo := NewClientRepository(newTestDB(t))

	require.NoError(t, repo.CreateClient(ctx, &client.Client{
		ID:           "spa",
		Enabled:      true,
		RedirectURIs: []string{"https://spa.example.com/cb", "http://localhost:3000/cb"},
		Secrets:      []client.Secret{{Type: "client_secret", Value: "v"}},
	}))
	require.NoError(t, repo.CreateClient(ctx, &client.Client{ID: "blocked", Enabled: false}))

	p, err := client.NewProjector(repo)
	require.NoError(t, err)

	payload, err := p.FindClient(ctx, "spa")
	require.NoError(t, err)
	assert.Len(t, payload["redirect_uris"], 2)
	assert.Len(t, payload["client_secrets"], 1)
	for key, value := range payload {
		assert.NotNil(t, value, "key %q is null", key)
	}

	_, err = p.FindClient(ctx, "blocked")
	require.ErrorIs(t, err, client.ErrClientDisabled)

	payload, err = p.FindClient(ctx, "unknown")
	require.NoError(t, err)
	assert.Nil(t, payload)
}
