// Package credentials resolves API keys and tokens to pass into spawned
// agent environments.
package credentials

import "context"

// Credential is a resolved secret value.
type Credential struct {
	Key    string
	Value  string
	Source string
}

// Provider resolves credentials by key.
type Provider interface {
	Name() string
	GetCredential(ctx context.Context, key string) (*Credential, error)
	ListAvailable(ctx context.Context) ([]string, error)
}
