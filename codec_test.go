package oidcstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodePayload(t *testing.T) {
	in := Payload{
		"accountId": "acc-1",
		"exp":       float64(1700000000),
		"scopes":    []any{"openid", "email"},
		"nested":    map[string]any{"x": nil},
	}

	data, err := EncodePayload(in)
	require.NoError(t, err)

	out, err := DecodePayload(data)
	require.NoError(t, err)
	assert.Equal(t, in, out)

	data, err = EncodePayload(nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(data))
}

func TestDecodePayload_LargeIntegers(t *testing.T) {
	const stored = `{"big":9007199254740993,"neg":-9007199254740993,"huge":123456789012345678901234567890,` +
		`"small":42,"frac":1.5,"exact":9007199254740992,"nested":{"ids":[9007199254740993,7]}}`

	p, err := DecodePayload([]byte(stored))
	require.NoError(t, err)

	assert.Equal(t, int64(9007199254740993), p["big"])
	assert.Equal(t, int64(-9007199254740993), p["neg"])
	assert.Equal(t, float64(42), p["small"])
	assert.Equal(t, 1.5, p["frac"])
	assert.Equal(t, float64(9007199254740992), p["exact"])
	assert.Equal(t, []any{int64(9007199254740993), float64(7)}, p["nested"].(map[string]any)["ids"])

	data, err := EncodePayload(p)
	require.NoError(t, err)
	assert.JSONEq(t, stored, string(data))
	assert.Contains(t, string(data), "9007199254740993")
	assert.Contains(t, string(data), "123456789012345678901234567890")
}

func TestEncodePayload_Unsupported(t *testing.T) {
	_, err := EncodePayload(Payload{"ch": make(chan int)})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrCorruptPayload)
}

func TestDecodePayload_Corrupt(t *testing.T) {
	for _, data := range []string{"", "{", "null", "[1,2]", `"str"`, `{"a":1} x`} {
		_, err := DecodePayload([]byte(data))
		assert.ErrorIs(t, err, ErrCorruptPayload, "data %q", data)
	}
}

func TestPresentable(t *testing.T) {
	p := Payload{"aud": "api", "scope": "openid"}
	assert.Equal(t, Payload{"scope": "openid"}, Presentable(AccessToken, p))

	p = Payload{"aud": "api"}
	assert.Equal(t, Payload{"aud": "api"}, Presentable(RefreshToken, p))

	assert.Nil(t, Presentable(AccessToken, nil))
}

func TestToPayload(t *testing.T) {
	v := struct {
		ID    string   `json:"client_id"`
		URIs  []string `json:"redirect_uris,omitempty"`
		Extra *string  `json:"extra,omitempty"`
	}{ID: "c-1"}

	p, err := ToPayload(v)
	require.NoError(t, err)
	assert.Equal(t, Payload{"client_id": "c-1"}, p)
}

func TestPayload_String(t *testing.T) {
	p := Payload{"s": "v", "n": 1}
	assert.Equal(t, "v", p.String("s"))
	assert.Empty(t, p.String("n"))
	assert.Empty(t, p.String("missing"))
}
