package oidcstore

import "fmt"

// Model names a category of protocol artifact. Models are namespace
// prefixes over one flat keyspace, not separate tables.
type Model string

// Known models.
const (
	Session                          Model = "Session"
	AccessToken                      Model = "AccessToken"
	AuthorizationCode                Model = "AuthorizationCode"
	RefreshToken                     Model = "RefreshToken"
	DeviceCode                       Model = "DeviceCode"
	ClientCredentials                Model = "ClientCredentials"
	BackchannelAuthenticationRequest Model = "BackchannelAuthenticationRequest"
	Grant                            Model = "Grant"
	Interaction                      Model = "Interaction"
	PushedAuthorizationRequest       Model = "PushedAuthorizationRequest"
	ReplayDetection                  Model = "ReplayDetection"

	// Client is resolved from relational client records and never stored
	// in the keyspace.
	Client Model = "Client"
)

var knownModels = map[Model]struct{}{
	Session:                          {},
	AccessToken:                      {},
	AuthorizationCode:                {},
	RefreshToken:                     {},
	DeviceCode:                       {},
	ClientCredentials:                {},
	BackchannelAuthenticationRequest: {},
	Grant:                            {},
	Interaction:                      {},
	PushedAuthorizationRequest:       {},
	ReplayDetection:                  {},
	Client:                           {},
}

// ParseModel converts an engine supplied model name into a Model.
func ParseModel(name string) (Model, error) {
	m := Model(name)
	if _, ok := knownModels[m]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownModel, name)
	}
	return m, nil
}

// Models returns every known model in a stable order.
func Models() []Model {
	return []Model{
		Session, AccessToken, AuthorizationCode, RefreshToken, DeviceCode,
		ClientCredentials, BackchannelAuthenticationRequest, Grant,
		Interaction, PushedAuthorizationRequest, ReplayDetection, Client,
	}
}

// Grantable reports whether records of this model are tracked in the grant
// index and removed by RevokeByGrantID.
func (m Model) Grantable() bool {
	switch m {
	case AccessToken, AuthorizationCode, RefreshToken, DeviceCode, BackchannelAuthenticationRequest:
		return true
	default:
		return false
	}
}

// Storable reports whether the model lives in the keyspace.
func (m Model) Storable() bool {
	return m != Client
}

func (m Model) String() string {
	return string(m)
}
