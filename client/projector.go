package client

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"go.pilab.hu/oidcstore"
	"go.pilab.hu/oidcstore/log"
)

// Projector resolves client ids to protocol metadata.
type Projector struct {
	source Source
	logger zerolog.Logger
}

// ProjectorOption configures a Projector.
type ProjectorOption func(*Projector)

// WithLogger sets the logger used when the request context carries none.
func WithLogger(logger zerolog.Logger) ProjectorOption {
	return func(p *Projector) {
		p.logger = logger
	}
}

var _ oidcstore.ClientFinder = (*Projector)(nil)

// NewProjector creates a Projector reading from source.
func NewProjector(source Source, opts ...ProjectorOption) (*Projector, error) {
	if source == nil {
		return nil, errors.New("client source is required")
	}

	p := &Projector{source: source, logger: zlog.Logger}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Find returns the metadata of an enabled client. Unknown clients yield nil
// and a nil error, disabled clients ErrClientDisabled.
func (p *Projector) Find(ctx context.Context, clientID string) (*Metadata, error) {
	c, err := p.source.GetClient(ctx, clientID)
	if err != nil {
		if errors.Is(err, ErrClientNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load client %q: %w", clientID, err)
	}
	if c == nil {
		return nil, nil
	}

	if !c.Enabled {
		log.FromContext(ctx, &p.logger).Warn().Str("client_id", clientID).Msg("lookup of disabled client")
		return nil, fmt.Errorf("client %q: %w", clientID, ErrClientDisabled)
	}

	return Project(c), nil
}

// FindClient implements oidcstore.ClientFinder.
func (p *Projector) FindClient(ctx context.Context, clientID string) (oidcstore.Payload, error) {
	m, err := p.Find(ctx, clientID)
	if err != nil || m == nil {
		return nil, err
	}
	return oidcstore.ToPayload(m)
}
