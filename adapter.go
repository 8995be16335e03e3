package oidcstore

import (
	"context"
	"errors"
	"time"
)

// ClientFinder resolves client metadata for the Client model.
type ClientFinder interface {
	// FindClient returns the projected client metadata, or nil and a nil
	// error when no such client exists.
	FindClient(ctx context.Context, clientID string) (Payload, error)
}

// AuditAction names a state changing adapter call.
type AuditAction string

const (
	AuditConsume AuditAction = "consume"
	AuditDestroy AuditAction = "destroy"
	AuditRevoke  AuditAction = "revoke_grant"
)

// AuditEvent describes one state changing adapter call.
type AuditEvent struct {
	Action  AuditAction
	Model   Model
	ID      string
	GrantID string
	Err     error
}

// Auditor receives adapter audit events. Implementations must not block.
type Auditor interface {
	Record(ctx context.Context, event AuditEvent)
}

// ProviderOption configures a Provider.
type ProviderOption func(*Provider)

// WithAuditor attaches an Auditor to every adapter of the provider.
func WithAuditor(a Auditor) ProviderOption {
	return func(p *Provider) {
		p.auditor = a
	}
}

// Provider hands out one Adapter per model, all sharing a backend and a
// client finder.
type Provider struct {
	store    Store
	clients  ClientFinder
	auditor  Auditor
	adapters map[Model]*Adapter
}

// NewProvider creates a Provider. Both the backend and the client finder
// are required.
func NewProvider(store Store, clients ClientFinder, opts ...ProviderOption) (*Provider, error) {
	if store == nil {
		return nil, errors.New("store backend is required")
	}
	if clients == nil {
		return nil, errors.New("client finder is required")
	}

	p := &Provider{
		store:   store,
		clients: clients,
	}
	for _, opt := range opts {
		opt(p)
	}

	p.adapters = make(map[Model]*Adapter, len(knownModels))
	for _, m := range Models() {
		p.adapters[m] = &Adapter{model: m, store: store, clients: clients, auditor: p.auditor}
	}

	return p, nil
}

// Adapter returns the adapter bound to the named model.
func (p *Provider) Adapter(name string) (*Adapter, error) {
	m, err := ParseModel(name)
	if err != nil {
		return nil, err
	}
	return p.adapters[m], nil
}

// For returns the adapter bound to a known model.
func (p *Provider) For(m Model) *Adapter {
	return p.adapters[m]
}

// Store returns the backend shared by every adapter.
func (p *Provider) Store() Store {
	return p.store
}

// Adapter exposes the per-model call shape the protocol engine expects.
type Adapter struct {
	model   Model
	store   Store
	clients ClientFinder
	auditor Auditor
}

// Model returns the model the adapter is bound to.
func (a *Adapter) Model() Model {
	return a.model
}

// Upsert stores a payload under id for expiresIn.
func (a *Adapter) Upsert(ctx context.Context, id string, payload Payload, expiresIn time.Duration) error {
	if err := CheckStorable(a.model, "upsert"); err != nil {
		return err
	}
	return a.store.Upsert(ctx, a.model, id, payload, expiresIn)
}

// Find returns the payload stored under id, or nil when absent.
func (a *Adapter) Find(ctx context.Context, id string) (Payload, error) {
	if a.model == Client {
		return a.clients.FindClient(ctx, id)
	}
	return a.store.Find(ctx, a.model, id)
}

// FindByUserCode returns the payload whose userCode matches.
func (a *Adapter) FindByUserCode(ctx context.Context, userCode string) (Payload, error) {
	if err := CheckStorable(a.model, "findByUserCode"); err != nil {
		return nil, err
	}
	return a.store.FindByUserCode(ctx, a.model, userCode)
}

// FindByUID returns the session payload whose uid matches.
func (a *Adapter) FindByUID(ctx context.Context, uid string) (Payload, error) {
	if err := CheckStorable(a.model, "findByUid"); err != nil {
		return nil, err
	}
	return a.store.FindByUID(ctx, a.model, uid)
}

// Consume marks the record as consumed.
func (a *Adapter) Consume(ctx context.Context, id string) error {
	if err := CheckStorable(a.model, "consume"); err != nil {
		return err
	}
	err := a.store.Consume(ctx, a.model, id)
	a.audit(ctx, AuditEvent{Action: AuditConsume, Model: a.model, ID: id, Err: err})
	return err
}

// Destroy removes the record.
func (a *Adapter) Destroy(ctx context.Context, id string) error {
	if err := CheckStorable(a.model, "destroy"); err != nil {
		return err
	}
	err := a.store.Destroy(ctx, a.model, id)
	a.audit(ctx, AuditEvent{Action: AuditDestroy, Model: a.model, ID: id, Err: err})
	return err
}

// RevokeByGrantID removes every record issued under grantID.
func (a *Adapter) RevokeByGrantID(ctx context.Context, grantID string) error {
	err := a.store.RevokeByGrantID(ctx, grantID)
	a.audit(ctx, AuditEvent{Action: AuditRevoke, Model: a.model, GrantID: grantID, Err: err})
	return err
}

func (a *Adapter) audit(ctx context.Context, event AuditEvent) {
	if a.auditor != nil {
		a.auditor.Record(ctx, event)
	}
}
