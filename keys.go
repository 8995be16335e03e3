package oidcstore

// Key returns the primary storage key for a record.
func Key(model Model, id string) string {
	return string(model) + ":" + id
}

// GrantKey returns the key of the list holding every record key issued
// under a grant.
func GrantKey(grantID string) string {
	return "grant:" + grantID
}

// SessionUIDKey returns the key mapping a session cookie uid to a session id.
func SessionUIDKey(uid string) string {
	return "sessionUid:" + uid
}

// UserCodeKey returns the key mapping a device flow user code to a record id.
func UserCodeKey(userCode string) string {
	return "userCode:" + userCode
}
