package oidcstore

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Payload is the opaque attribute map owned by the protocol engine.
//
// Decoded numbers are float64, except integers outside the range a float64
// holds exactly (beyond 2^53). Those decode as int64, or as json.Number when
// they overflow int64, so they read back unchanged.
type Payload map[string]any

// maxExactInt is the largest integer a float64 represents exactly.
const maxExactInt = 1 << 53

// Well-known payload fields read by the store.
const (
	FieldGrantID  = "grantId"
	FieldUserCode = "userCode"
	FieldUID      = "uid"
	FieldConsumed = "consumed"
	FieldAudience = "aud"
)

// String returns the value of a string field, or "" when the field is
// missing or not a string.
func (p Payload) String(field string) string {
	if s, ok := p[field].(string); ok {
		return s
	}
	return ""
}

// EncodePayload serializes a payload for storage.
func EncodePayload(p Payload) ([]byte, error) {
	if p == nil {
		p = Payload{}
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}
	return data, nil
}

// DecodePayload deserializes a stored payload. Any failure is reported as
// ErrCorruptPayload.
func DecodePayload(data []byte) (Payload, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var p Payload
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorruptPayload, err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: trailing data after payload", ErrCorruptPayload)
	}
	if p == nil {
		return nil, fmt.Errorf("%w: payload is not an object", ErrCorruptPayload)
	}

	for k, v := range p {
		p[k] = normalizeNumbers(v)
	}
	return p, nil
}

// normalizeNumbers replaces json.Number values in v with float64 where that
// is lossless.
func normalizeNumbers(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, e := range t {
			t[k] = normalizeNumbers(e)
		}
	case []any:
		for i, e := range t {
			t[i] = normalizeNumbers(e)
		}
	case json.Number:
		return normalizeNumber(t)
	}
	return v
}

func normalizeNumber(n json.Number) any {
	if i, err := n.Int64(); err == nil {
		if i > maxExactInt || i < -maxExactInt {
			return i
		}
		return float64(i)
	}
	// Integer literals too large for int64 keep their exact text.
	if !strings.ContainsAny(n.String(), ".eE") {
		return n
	}
	if f, err := n.Float64(); err == nil {
		return f
	}
	return n
}

// ToPayload converts any JSON-serializable value into a Payload, dropping
// fields the value omits.
func ToPayload(v any) (Payload, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode payload: %w", err)
	}
	return DecodePayload(data)
}

// Presentable returns the payload in the shape handed back to the engine.
// AccessToken payloads never expose the audience they were stored with.
func Presentable(model Model, p Payload) Payload {
	if p == nil {
		return nil
	}
	if model == AccessToken {
		delete(p, FieldAudience)
	}
	return p
}
