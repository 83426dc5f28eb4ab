// Package secrets defines the narrow interface the reconciler uses to
// read service credentials, so a managed-identity-backed vault can be
// swapped in for the environment-variable default without touching
// any caller.
package secrets

import (
	"context"
	"fmt"
	"os"
)

// Provider resolves a named secret to its current value.
type Provider interface {
	Get(ctx context.Context, name string) (string, error)
}

// EnvProvider reads secrets from process environment variables. This
// is the development/default provider; a managed-identity-backed
// vault provider is a drop-in replacement behind the same interface.
type EnvProvider struct{}

// Get returns the value of the environment variable named name.
func (EnvProvider) Get(_ context.Context, name string) (string, error) {
	v, ok := os.LookupEnv(name)
	if !ok {
		return "", fmt.Errorf("secret %q is not set", name)
	}
	return v, nil
}
