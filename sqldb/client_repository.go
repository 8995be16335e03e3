package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"go.pilab.hu/oidcstore/client"
)

// ClientRepository reads and writes normalized client records.
type ClientRepository struct {
	db *sql.DB
}

var _ client.Store = (*ClientRepository)(nil)

// NewClientRepository creates a ClientRepository on a migrated database.
func NewClientRepository(db *DB) *ClientRepository {
	return &ClientRepository{db: db.DB}
}

const selectClient = `
SELECT id, enabled, application_type, client_name, client_uri, logo_uri,
       policy_uri, tos_uri, default_max_age, require_auth_time,
       id_token_signed_response_alg, token_endpoint_auth_method,
       access_token_format, refresh_token_expiration, require_consent,
       require_pkce, id_token_lifetime, access_token_lifetime,
       refresh_token_absolute_lifetime, refresh_token_sliding_lifetime,
       authorization_code_lifetime, device_code_lifetime, created_at, updated_at
FROM clients
WHERE id = $1`

// listTable describes a child table holding one ordered string column.
type listTable struct {
	table  string
	column string
	field  func(c *client.Client) *[]string
}

var listTables = []listTable{
	{"client_cors_origins", "origin", func(c *client.Client) *[]string { return &c.CORSOrigins }},
	{"client_scopes", "scope", func(c *client.Client) *[]string { return &c.Scopes }},
	{"client_grant_types", "grant_type", func(c *client.Client) *[]string { return &c.GrantTypes }},
	{"client_redirect_uris", "redirect_uri", func(c *client.Client) *[]string { return &c.RedirectURIs }},
	{"client_post_logout_redirect_uris", "redirect_uri", func(c *client.Client) *[]string { return &c.PostLogoutRedirectURIs }},
}

// GetClient implements client.Source.
func (r *ClientRepository) GetClient(ctx context.Context, clientID string) (*client.Client, error) {
	c, err := r.getBase(ctx, clientID)
	if err != nil {
		return nil, err
	}

	g, gctx := errgroup.WithContext(ctx)

	for _, lt := range listTables {
		dest := lt.field(c)
		query := fmt.Sprintf(`SELECT %s FROM %s WHERE client_id = $1 ORDER BY position`, lt.column, lt.table)
		g.Go(func() error {
			values, err := r.listStrings(gctx, query, clientID)
			if err != nil {
				return fmt.Errorf("failed to load %s: %w", lt.table, err)
			}
			*dest = values
			return nil
		})
	}

	g.Go(func() error {
		secrets, err := r.listSecrets(gctx, clientID)
		if err != nil {
			return fmt.Errorf("failed to load client_secrets: %w", err)
		}
		c.Secrets = secrets
		return nil
	})

	g.Go(func() error {
		props, err := r.listProperties(gctx, clientID)
		if err != nil {
			return fmt.Errorf("failed to load client_properties: %w", err)
		}
		c.Properties = props
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return c, nil
}

func (r *ClientRepository) getBase(ctx context.Context, clientID string) (*client.Client, error) {
	var (
		c client.Client

		applicationType, name, clientURI, logoURI, policyURI, tosURI sql.Null[string]
		idTokenAlg, authMethod, tokenFormat, refreshExpiration       sql.Null[string]
		requireAuthTime, requireConsent, requirePKCE                 sql.Null[bool]
		defaultMaxAge, idTokenTTL, accessTokenTTL                    sql.Null[int64]
		refreshAbsoluteTTL, refreshSlidingTTL, codeTTL, deviceTTL    sql.Null[int64]
	)

	err := r.db.QueryRowContext(ctx, selectClient, clientID).Scan(
		&c.ID, &c.Enabled, &applicationType, &name, &clientURI, &logoURI,
		&policyURI, &tosURI, &defaultMaxAge, &requireAuthTime,
		&idTokenAlg, &authMethod,
		&tokenFormat, &refreshExpiration, &requireConsent,
		&requirePKCE, &idTokenTTL, &accessTokenTTL,
		&refreshAbsoluteTTL, &refreshSlidingTTL,
		&codeTTL, &deviceTTL, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, client.ErrClientNotFound
		}
		return nil, fmt.Errorf("failed to get client: %w", err)
	}

	c.ApplicationType = fromNull(applicationType)
	c.Name = fromNull(name)
	c.ClientURI = fromNull(clientURI)
	c.LogoURI = fromNull(logoURI)
	c.PolicyURI = fromNull(policyURI)
	c.TosURI = fromNull(tosURI)
	c.DefaultMaxAge = fromNull(defaultMaxAge)
	c.RequireAuthTime = fromNull(requireAuthTime)
	c.IDTokenSignedResponseAlg = fromNull(idTokenAlg)
	c.TokenEndpointAuthMethod = fromNull(authMethod)
	c.AccessTokenFormat = fromNull(tokenFormat)
	c.RefreshTokenExpiration = fromNull(refreshExpiration)
	c.RequireConsent = fromNull(requireConsent)
	c.RequirePKCE = fromNull(requirePKCE)
	c.IDTokenLifetime = fromNull(idTokenTTL)
	c.AccessTokenLifetime = fromNull(accessTokenTTL)
	c.RefreshTokenAbsoluteLifetime = fromNull(refreshAbsoluteTTL)
	c.RefreshTokenSlidingLifetime = fromNull(refreshSlidingTTL)
	c.AuthorizationCodeLifetime = fromNull(codeTTL)
	c.DeviceCodeLifetime = fromNull(deviceTTL)

	return &c, nil
}

func (r *ClientRepository) listStrings(ctx context.Context, query, clientID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, query, clientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var values []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		values = append(values, v)
	}

	return values, rows.Err()
}

func (r *ClientRepository) listSecrets(ctx context.Context, clientID string) ([]client.Secret, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT secret_type, secret_value, expires_at FROM client_secrets WHERE client_id = $1 ORDER BY position`,
		clientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var secrets []client.Secret
	for rows.Next() {
		var (
			s         client.Secret
			expiresAt sql.Null[time.Time]
		)
		if err := rows.Scan(&s.Type, &s.Value, &expiresAt); err != nil {
			return nil, err
		}
		if expiresAt.Valid {
			t := expiresAt.V.UTC()
			s.ExpiresAt = &t
		}
		secrets = append(secrets, s)
	}

	return secrets, rows.Err()
}

func (r *ClientRepository) listProperties(ctx context.Context, clientID string) ([]client.Property, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT property_key, property_value FROM client_properties WHERE client_id = $1 ORDER BY property_key`,
		clientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var props []client.Property
	for rows.Next() {
		var p client.Property
		if err := rows.Scan(&p.Key, &p.Value); err != nil {
			return nil, err
		}
		props = append(props, p)
	}

	return props, rows.Err()
}

const insertClient = `
INSERT INTO clients (
    id, enabled, application_type, client_name, client_uri, logo_uri,
    policy_uri, tos_uri, default_max_age, require_auth_time,
    id_token_signed_response_alg, token_endpoint_auth_method,
    access_token_format, refresh_token_expiration, require_consent,
    require_pkce, id_token_lifetime, access_token_lifetime,
    refresh_token_absolute_lifetime, refresh_token_sliding_lifetime,
    authorization_code_lifetime, device_code_lifetime, created_at, updated_at
) VALUES (
    $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12,
    $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24
)`

// CreateClient stores a client and all of its collections in one transaction.
func (r *ClientRepository) CreateClient(ctx context.Context, c *client.Client) (err error) {
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = now
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx, insertClient,
		c.ID, c.Enabled, c.ApplicationType, c.Name, c.ClientURI, c.LogoURI,
		c.PolicyURI, c.TosURI, c.DefaultMaxAge, c.RequireAuthTime,
		c.IDTokenSignedResponseAlg, c.TokenEndpointAuthMethod,
		c.AccessTokenFormat, c.RefreshTokenExpiration, c.RequireConsent,
		c.RequirePKCE, c.IDTokenLifetime, c.AccessTokenLifetime,
		c.RefreshTokenAbsoluteLifetime, c.RefreshTokenSlidingLifetime,
		c.AuthorizationCodeLifetime, c.DeviceCodeLifetime, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert client: %w", err)
	}

	for _, lt := range listTables {
		query := fmt.Sprintf(`INSERT INTO %s (client_id, position, %s) VALUES ($1, $2, $3)`, lt.table, lt.column)
		for i, v := range *lt.field(c) {
			if _, err = tx.ExecContext(ctx, query, c.ID, i, v); err != nil {
				return fmt.Errorf("failed to insert into %s: %w", lt.table, err)
			}
		}
	}

	for i, s := range c.Secrets {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO client_secrets (client_id, position, secret_type, secret_value, expires_at) VALUES ($1, $2, $3, $4, $5)`,
			c.ID, i, s.Type, s.Value, s.ExpiresAt)
		if err != nil {
			return fmt.Errorf("failed to insert client secret: %w", err)
		}
	}

	for _, p := range c.Properties {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO client_properties (client_id, property_key, property_value) VALUES ($1, $2, $3)`,
			c.ID, p.Key, p.Value)
		if err != nil {
			return fmt.Errorf("failed to insert client property: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit client: %w", err)
	}

	return nil
}

// fromNull converts a nullable column into an optional attribute.
func fromNull[T any](n sql.Null[T]) *T {
	if !n.Valid {
		return nil
	}
	return &n.V
}
