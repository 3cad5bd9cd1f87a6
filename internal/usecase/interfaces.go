package usecase

import (
	"context"
	"net/http"
)

// CredentialStore is the device-local secure storage holding the bearer token.
// An empty token with a nil error means no credential is stored.
type CredentialStore interface {
	Token(ctx context.Context) (string, error)
}

// HTTPDoer is satisfied by *http.Client.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}
