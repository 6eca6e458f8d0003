package classeviva

import (
	"context"
	"strings"
)

// Credentials are the portal login pair.
type Credentials struct {
	Identifier string
	Secret     string
}

// Valid reports whether both parts are present.
func (c Credentials) Valid() bool {
	return strings.TrimSpace(c.Identifier) != "" && c.Secret != ""
}

// CredentialProvider supplies credentials whenever the client has to log in.
type CredentialProvider interface {
	Credentials(ctx context.Context) (Credentials, error)
}

// StaticCredentials is a CredentialProvider returning a fixed pair.
type StaticCredentials Credentials

// Credentials implements CredentialProvider.
func (s StaticCredentials) Credentials(context.Context) (Credentials, error) {
	return Credentials(s), nil
}
