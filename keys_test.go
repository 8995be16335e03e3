package oidcstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeys(t *testing.T) {
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"record", Key(AccessToken, "abc"), "AccessToken:abc"},
		{"record with colon id", Key(Session, "a:b"), "Session:a:b"},
		{"grant", GrantKey("g-1"), "grant:g-1"},
		{"session uid", SessionUIDKey("u-1"), "sessionUid:u-1"},
		{"user code", UserCodeKey("ABCD-EFGH"), "userCode:ABCD-EFGH"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.got)
		})
	}
}

func TestIndexesFor(t *testing.T) {
	p := Payload{"grantId": "g-1", "uid": "u-1", "userCode": "UC"}

	assert.Equal(t, Indexes{Grant: "grant:g-1", UserCode: "userCode:UC"}, IndexesFor(AccessToken, p))
	assert.Equal(t, Indexes{UID: "sessionUid:u-1", UserCode: "userCode:UC"}, IndexesFor(Session, p))
	assert.Equal(t, Indexes{}, IndexesFor(Interaction, Payload{"grantId": 12}))
}
