// Package secret resolves API key references. A reference is either a
// literal key or a URI naming where the key lives: env://NAME reads an
// environment variable, vault://path#field reads HashiCorp Vault.
package secret

import "context"

// Provider retrieves secrets for one URI scheme.
type Provider interface {
	// Get returns the secret stored at path (the part after "scheme://").
	Get(ctx context.Context, path string) (string, error)

	// Close releases any resources held by the provider.
	Close() error
}
