package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	ssoerrors "go.pilab.hu/oidcstore/errors"
)

type MockSource struct {
	mock.Mock
}

func (m *MockSource) GetClient(ctx context.Context, clientID string) (*Client, error) {
	args := m.Called(ctx, clientID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Client), args.Error(1)
}

func webClient() *Client {
	expires := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	return &Client{
		ID:                      "web-app",
		Enabled:                 true,
		Name:                    Ptr("Web App"),
		ApplicationType:         Ptr("web"),
		TokenEndpointAuthMethod: Ptr("client_secret_basic"),
		RequireAuthTime:         Ptr(false),
		AccessTokenLifetime:     Ptr(int64(3600)),
		Scopes:                  []string{"openid", "profile"},
		GrantTypes:              []string{"authorization_code", "refresh_token"},
		RedirectURIs:            []string{"https://app.example.com/cb", "https://app.example.com/cb2"},
		CORSOrigins:             []string{"https://app.example.com"},
		Secrets:                 []Secret{{Type: "client_secret", Value: "s3cr3t", ExpiresAt: &expires}},
		Properties:              []Property{{Key: "tenant", Value: "acme"}, {Key: "tier", Value: "gold"}},
	}
}

func TestNewProjector_RequiresSource(t *testing.T) {
	_, err := NewProjector(nil)
	require.Error(t, err)
}

func TestProjector_Find(t *testing.T) {
	ctx := context.Background()
	src := new(MockSource)
	src.On("GetClient", ctx, "web-app").Return(webClient(), nil)

	p, err := NewProjector(src)
	require.NoError(t, err)

	m, err := p.Find(ctx, "web-app")
	require.NoError(t, err)
	require.NotNil(t, m)

	assert.Equal(t, "web-app", m.ClientID)
	assert.Equal(t, "Web App", *m.ClientName)
	assert.Equal(t, "openid profile", *m.Scope)
	assert.Equal(t, []string{"https://app.example.com"}, m.AllowedCORSOrigins)
	assert.Len(t, m.RedirectURIs, 2)
	assert.Len(t, m.ClientSecrets, 1)
	assert.Equal(t, map[string]string{"tenant": "acme", "tier": "gold"}, m.ExtraProperties)
	assert.False(t, *m.RequireAuthTime)

	src.AssertExpectations(t)
}

func TestProjector_FindClientOmitsUnsetFields(t *testing.T) {
	ctx := context.Background()
	src := new(MockSource)
	src.On("GetClient", ctx, "web-app").Return(webClient(), nil)

	p, err := NewProjector(src)
	require.NoError(t, err)

	payload, err := p.FindClient(ctx, "web-app")
	require.NoError(t, err)

	for key, value := range payload {
		assert.NotNil(t, value, "key %q is null", key)
	}

	assert.Len(t, payload["redirect_uris"], 2)
	assert.Len(t, payload["client_secrets"], 1)
	assert.Equal(t, false, payload["require_auth_time"])
	assert.Equal(t, float64(3600), payload["access_token_lifetime"])
	assert.NotContains(t, payload, "post_logout_redirect_uris")
	assert.NotContains(t, payload, "client_uri")
	assert.NotContains(t, payload, "require_pkce")

	secret := payload["client_secrets"].([]any)[0].(map[string]any)
	assert.Equal(t, "s3cr3t", secret["value"])
	assert.Equal(t, "2030-01-01T00:00:00Z", secret["expiresAt"])
}

func TestProjector_MinimalClient(t *testing.T) {
	ctx := context.Background()
	src := new(MockSource)
	src.On("GetClient", ctx, "bare").Return(&Client{ID: "bare", Enabled: true}, nil)

	p, err := NewProjector(src)
	require.NoError(t, err)

	m, err := p.Find(ctx, "bare")
	require.NoError(t, err)

	data, err := json.Marshal(m)
	require.NoError(t, err)
	assert.JSONEq(t, `{"client_id":"bare"}`, string(data))
}

func TestProjector_NotFound(t *testing.T) {
	ctx := context.Background()
	src := new(MockSource)
	src.On("GetClient", ctx, "missing").Return(nil, ErrClientNotFound)

	p, err := NewProjector(src)
	require.NoError(t, err)

	m, err := p.Find(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, m)

	payload, err := p.FindClient(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, payload)
}

func TestProjector_Disabled(t *testing.T) {
	ctx := context.Background()
	disabled := webClient()
	disabled.Enabled = false

	src := new(MockSource)
	src.On("GetClient", ctx, "web-app").Return(disabled, nil)

	p, err := NewProjector(src)
	require.NoError(t, err)

	m, err := p.Find(ctx, "web-app")
	require.ErrorIs(t, err, ErrClientDisabled)
	assert.Nil(t, m)
	assert.True(t, ssoerrors.HasCode(err, ssoerrors.InvalidClient))
	assert.NotErrorIs(t, err, ErrClientNotFound)

	payload, err := p.FindClient(ctx, "web-app")
	require.ErrorIs(t, err, ErrClientDisabled)
	assert.Nil(t, payload)
}

func TestProjector_DisabledLogsWithoutRequestLogger(t *testing.T) {
	prev := zerolog.DefaultContextLogger
	zerolog.DefaultContextLogger = nil
	t.Cleanup(func() { zerolog.DefaultContextLogger = prev })

	ctx := context.Background()
	disabled := webClient()
	disabled.Enabled = false

	src := new(MockSource)
	src.On("GetClient", ctx, "web-app").Return(disabled, nil)

	var buf bytes.Buffer
	p, err := NewProjector(src, WithLogger(zerolog.New(&buf)))
	require.NoError(t, err)

	_, err = p.Find(ctx, "web-app")
	require.ErrorIs(t, err, ErrClientDisabled)
	assert.Contains(t, buf.String(), "lookup of disabled client")
	assert.Contains(t, buf.String(), `"client_id":"web-app"`)
}

func TestProjector_SourceFailure(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("connection reset")

	src := new(MockSource)
	src.On("GetClient", ctx, "web-app").Return(nil, boom)

	p, err := NewProjector(src)
	require.NoError(t, err)

	_, err = p.Find(ctx, "web-app")
	require.ErrorIs(t, err, boom)
}

func TestProject_CopiesSlices(t *testing.T) {
	c := webClient()
	m := Project(c)

	c.RedirectURIs[0] = "https://evil.example.com"
	assert.Equal(t, "https://app.example.com/cb", m.RedirectURIs[0])
}
