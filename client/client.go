package client

import (
	"context"
	"errors"
	"time"

	ssoerrors "go.pilab.hu/oidcstore/errors"
)

var (
	// ErrClientNotFound is returned by a Source when no client has the given id.
	ErrClientNotFound = errors.New("client not found")

	// ErrClientDisabled is returned for clients that exist but were disabled by
	// an administrator. It is an invalid_client OAuth2 error.
	ErrClientDisabled = ssoerrors.NewInvalidClient("client is disabled")
)

// Source loads normalized client records.
type Source interface {
	GetClient(ctx context.Context, clientID string) (*Client, error)
}

// Client is the normalized client record as kept by the relational and the
// document sources. Optional attributes are pointers; nil means unset.
//
//nolint:tagliatelle
type Client struct {
	ID      string `bson:"_id" json:"client_id"`
	Enabled bool   `bson:"enabled" json:"enabled"`

	ApplicationType          *string `bson:"application_type,omitempty" json:"application_type,omitempty"`
	Name                     *string `bson:"client_name,omitempty" json:"client_name,omitempty"`
	ClientURI                *string `bson:"client_uri,omitempty" json:"client_uri,omitempty"`
	LogoURI                  *string `bson:"logo_uri,omitempty" json:"logo_uri,omitempty"`
	PolicyURI                *string `bson:"policy_uri,omitempty" json:"policy_uri,omitempty"`
	TosURI                   *string `bson:"tos_uri,omitempty" json:"tos_uri,omitempty"`
	DefaultMaxAge            *int64  `bson:"default_max_age,omitempty" json:"default_max_age,omitempty"`
	RequireAuthTime          *bool   `bson:"require_auth_time,omitempty" json:"require_auth_time,omitempty"`
	IDTokenSignedResponseAlg *string `bson:"id_token_signed_response_alg,omitempty" json:"id_token_signed_response_alg,omitempty"`
	TokenEndpointAuthMethod  *string `bson:"token_endpoint_auth_method,omitempty" json:"token_endpoint_auth_method,omitempty"`
	AccessTokenFormat        *string `bson:"access_token_format,omitempty" json:"access_token_format,omitempty"`
	RefreshTokenExpiration   *string `bson:"refresh_token_expiration,omitempty" json:"refresh_token_expiration,omitempty"`
	RequireConsent           *bool   `bson:"require_consent,omitempty" json:"require_consent,omitempty"`
	RequirePKCE              *bool   `bson:"require_pkce,omitempty" json:"require_pkce,omitempty"`

	// Lifetimes in seconds.
	IDTokenLifetime              *int64 `bson:"id_token_lifetime,omitempty" json:"id_token_lifetime,omitempty"`
	AccessTokenLifetime          *int64 `bson:"access_token_lifetime,omitempty" json:"access_token_lifetime,omitempty"`
	RefreshTokenAbsoluteLifetime *int64 `bson:"refresh_token_absolute_lifetime,omitempty" json:"refresh_token_absolute_lifetime,omitempty"`
	RefreshTokenSlidingLifetime  *int64 `bson:"refresh_token_sliding_lifetime,omitempty" json:"refresh_token_sliding_lifetime,omitempty"`
	AuthorizationCodeLifetime    *int64 `bson:"authorization_code_lifetime,omitempty" json:"authorization_code_lifetime,omitempty"`
	DeviceCodeLifetime           *int64 `bson:"device_code_lifetime,omitempty" json:"device_code_lifetime,omitempty"`

	CORSOrigins            []string   `bson:"cors_origins,omitempty" json:"cors_origins,omitempty"`
	Scopes                 []string   `bson:"scopes,omitempty" json:"scopes,omitempty"`
	GrantTypes             []string   `bson:"grant_types,omitempty" json:"grant_types,omitempty"`
	RedirectURIs           []string   `bson:"redirect_uris,omitempty" json:"redirect_uris,omitempty"`
	PostLogoutRedirectURIs []string   `bson:"post_logout_redirect_uris,omitempty" json:"post_logout_redirect_uris,omitempty"`
	Secrets                []Secret   `bson:"secrets,omitempty" json:"secrets,omitempty"`
	Properties             []Property `bson:"properties,omitempty" json:"properties,omitempty"`

	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`
}

// Secret is a client credential. Values are stored as issued.
type Secret struct {
	Type      string     `bson:"type" json:"type"`
	Value     string     `bson:"value" json:"value"`
	ExpiresAt *time.Time `bson:"expires_at,omitempty" json:"expires_at,omitempty"`
}

// Property is a free-form key/value attribute of a client.
type Property struct {
	Key   string `bson:"key" json:"key"`
	Value string `bson:"value" json:"value"`
}

// Ptr returns a pointer to v, for filling optional Client attributes.
func Ptr[T any](v T) *T {
	return &v
}
