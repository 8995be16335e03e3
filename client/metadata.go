package client

import (
	"strings"
	"time"
)

// Metadata is the flat client metadata handed to the protocol engine.
// Unset attributes are omitted rather than emitted as null.
//
//nolint:tagliatelle
type Metadata struct {
	ApplicationType              *string           `json:"application_type,omitempty"`
	ClientID                     string            `json:"client_id"`
	ClientName                   *string           `json:"client_name,omitempty"`
	ClientURI                    *string           `json:"client_uri,omitempty"`
	LogoURI                      *string           `json:"logo_uri,omitempty"`
	PolicyURI                    *string           `json:"policy_uri,omitempty"`
	TosURI                       *string           `json:"tos_uri,omitempty"`
	DefaultMaxAge                *int64            `json:"default_max_age,omitempty"`
	RequireAuthTime              *bool             `json:"require_auth_time,omitempty"`
	IDTokenSignedResponseAlg     *string           `json:"id_token_signed_response_alg,omitempty"`
	TokenEndpointAuthMethod      *string           `json:"token_endpoint_auth_method,omitempty"`
	IDTokenLifetime              *int64            `json:"id_token_lifetime,omitempty"`
	AccessTokenFormat            *string           `json:"access_token_format,omitempty"`
	AccessTokenLifetime          *int64            `json:"access_token_lifetime,omitempty"`
	RefreshTokenExpiration       *string           `json:"refresh_token_expiration,omitempty"`
	RefreshTokenAbsoluteLifetime *int64            `json:"refresh_token_absolute_lifetime,omitempty"`
	RefreshTokenSlidingLifetime  *int64            `json:"refresh_token_sliding_lifetime,omitempty"`
	AuthorizationCodeLifetime    *int64            `json:"authorization_code_lifetime,omitempty"`
	DeviceCodeLifetime           *int64            `json:"device_code_lifetime,omitempty"`
	RequireConsent               *bool             `json:"require_consent,omitempty"`
	RequirePKCE                  *bool             `json:"require_pkce,omitempty"`
	AllowedCORSOrigins           []string          `json:"allowed_cors_origins,omitempty"`
	Scope                        *string           `json:"scope,omitempty"`
	GrantTypes                   []string          `json:"grant_types,omitempty"`
	RedirectURIs                 []string          `json:"redirect_uris,omitempty"`
	PostLogoutRedirectURIs       []string          `json:"post_logout_redirect_uris,omitempty"`
	ClientSecrets                []SecretMetadata  `json:"client_secrets,omitempty"`
	ExtraProperties              map[string]string `json:"extra_properties,omitempty"`
}

// SecretMetadata is the projected form of a Secret.
//
//nolint:tagliatelle
type SecretMetadata struct {
	Type      string     `json:"type"`
	Value     string     `json:"value"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

// Project translates a client record into protocol metadata. It does not
// check whether the client is enabled.
func Project(c *Client) *Metadata {
	m := &Metadata{
		ApplicationType:              c.ApplicationType,
		ClientID:                     c.ID,
		ClientName:                   c.Name,
		ClientURI:                    c.ClientURI,
		LogoURI:                      c.LogoURI,
		PolicyURI:                    c.PolicyURI,
		TosURI:                       c.TosURI,
		DefaultMaxAge:                c.DefaultMaxAge,
		RequireAuthTime:              c.RequireAuthTime,
		IDTokenSignedResponseAlg:     c.IDTokenSignedResponseAlg,
		TokenEndpointAuthMethod:      c.TokenEndpointAuthMethod,
		IDTokenLifetime:              c.IDTokenLifetime,
		AccessTokenFormat:            c.AccessTokenFormat,
		AccessTokenLifetime:          c.AccessTokenLifetime,
		RefreshTokenExpiration:       c.RefreshTokenExpiration,
		RefreshTokenAbsoluteLifetime: c.RefreshTokenAbsoluteLifetime,
		RefreshTokenSlidingLifetime:  c.RefreshTokenSlidingLifetime,
		AuthorizationCodeLifetime:    c.AuthorizationCodeLifetime,
		DeviceCodeLifetime:           c.DeviceCodeLifetime,
		RequireConsent:               c.RequireConsent,
		RequirePKCE:                  c.RequirePKCE,
		AllowedCORSOrigins:           nonEmpty(c.CORSOrigins),
		GrantTypes:                   nonEmpty(c.GrantTypes),
		RedirectURIs:                 nonEmpty(c.RedirectURIs),
		PostLogoutRedirectURIs:       nonEmpty(c.PostLogoutRedirectURIs),
	}

	if len(c.Scopes) > 0 {
		scope := strings.Join(c.Scopes, " ")
		m.Scope = &scope
	}

	for _, s := range c.Secrets {
		m.ClientSecrets = append(m.ClientSecrets, SecretMetadata(s))
	}

	if len(c.Properties) > 0 {
		m.ExtraProperties = make(map[string]string, len(c.Properties))
		for _, p := range c.Properties {
			m.ExtraProperties[p.Key] = p.Value
		}
	}

	return m
}

func nonEmpty(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	out := make([]string, len(values))
	copy(out, values)
	return out
}
