package oidcstore

import (
	"context"
	"io"
	"time"
)

// Store is the operation set every backend implements.
//
// Absence is never an error: Find and its secondary variants return a nil
// Payload and a nil error when no live record exists. Backends reject the
// Client model for every operation with ErrUnsupportedOperation; clients
// are resolved by the Adapter through a ClientFinder instead.
type Store interface {
	io.Closer

	// Upsert writes or overwrites a record. expiresIn <= 0 stores the record
	// without expiry.
	Upsert(ctx context.Context, model Model, id string, payload Payload, expiresIn time.Duration) error

	// Find returns the record payload.
	Find(ctx context.Context, model Model, id string) (Payload, error)

	// FindByUID resolves the session uid index, then behaves as Find.
	FindByUID(ctx context.Context, model Model, uid string) (Payload, error)

	// FindByUserCode resolves the user code index, then behaves as Find.
	FindByUserCode(ctx context.Context, model Model, userCode string) (Payload, error)

	// Consume marks a record as consumed in place. Missing records are ignored.
	Consume(ctx context.Context, model Model, id string) error

	// Destroy deletes the primary record only.
	Destroy(ctx context.Context, model Model, id string) error

	// RevokeByGrantID deletes every record issued under the grant and the
	// grant index itself. Revoking an unknown grant is a no-op.
	RevokeByGrantID(ctx context.Context, grantID string) error

	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error
}

// Indexes lists the secondary index keys a record maintains, derived from
// the well-known payload fields.
type Indexes struct {
	Grant    string
	UID      string
	UserCode string
}

// IndexesFor returns the index keys a record of the given model maintains.
func IndexesFor(model Model, p Payload) Indexes {
	var ix Indexes
	if grantID := p.String(FieldGrantID); grantID != "" && model.Grantable() {
		ix.Grant = GrantKey(grantID)
	}
	if uid := p.String(FieldUID); uid != "" && model == Session {
		ix.UID = SessionUIDKey(uid)
	}
	if userCode := p.String(FieldUserCode); userCode != "" {
		ix.UserCode = UserCodeKey(userCode)
	}
	return ix
}

// CheckStorable returns ErrUnsupportedOperation for models that never live
// in the keyspace.
func CheckStorable(model Model, op string) error {
	if !model.Storable() {
		return &UnsupportedError{Model: model, Op: op}
	}
	return nil
}

// UnsupportedError describes a rejected operation. It matches
// ErrUnsupportedOperation with errors.Is.
type UnsupportedError struct {
	Model Model
	Op    string
}

func (e *UnsupportedError) Error() string {
	return e.Op + " on model " + string(e.Model) + ": " + ErrUnsupportedOperation.Error()
}

func (e *UnsupportedError) Is(target error) bool {
	return target == ErrUnsupportedOperation
}
