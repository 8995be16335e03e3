package oidcstore

import "errors"

var (
	// ErrUnsupportedOperation is returned for writes against the Client model.
	ErrUnsupportedOperation = errors.New("operation not supported")

	// ErrUnknownModel is returned when an engine names a model the store does not know.
	ErrUnknownModel = errors.New("unknown model")

	// ErrCorruptPayload is returned when a stored payload cannot be decoded.
	// It is never reported as absence, otherwise the engine would re-issue artifacts.
	ErrCorruptPayload = errors.New("corrupt payload")

	// ErrBackendUnavailable wraps transient connectivity failures of a network backend.
	ErrBackendUnavailable = errors.New("store backend unavailable")
)
