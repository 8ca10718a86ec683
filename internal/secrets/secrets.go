// Package secrets defines the SecretProvider external collaborator:
// resolution of named credentials (LLM API key, SMS gateway credentials,
// tool-visible secrets) from a secret store. The secret store itself is
// an external collaborator; this package is the interface plus an
// env-var-backed adapter for local/dev use.
package secrets

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
)

// Provider resolves a named secret to its value.
type Provider interface {
	Get(ctx context.Context, name string) (string, error)
}

// ErrNotFound is returned when a named secret has no value.
var ErrNotFound = fmt.Errorf("secret not found")

// EnvProvider resolves secrets from environment variables, upper-cased
// with a configurable prefix (e.g. "LM_SECRET_OPENAI_API_KEY" for
// name "openai_api_key" and prefix "LM_SECRET_"). It also accepts a
// static override map, checked first, for tests and local dev.
type EnvProvider struct {
	prefix string

	mu        sync.RWMutex
	overrides map[string]string
}

// NewEnvProvider creates an env-var-backed secret provider.
func NewEnvProvider(prefix string) *EnvProvider {
	if prefix == "" {
		prefix = "LM_SECRET_"
	}
	return &EnvProvider{prefix: prefix, overrides: make(map[string]string)}
}

// Set installs a static override, taking precedence over the
// environment. Useful for tests and for secrets loaded from a non-env
// source at startup.
func (p *EnvProvider) Set(name, value string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.overrides[name] = value
}

func (p *EnvProvider) Get(ctx context.Context, name string) (string, error) {
	p.mu.RLock()
	if v, ok := p.overrides[name]; ok {
		p.mu.RUnlock()
		return v, nil
	}
	p.mu.RUnlock()

	envName := p.prefix + strings.ToUpper(name)
	if v, ok := os.LookupEnv(envName); ok && v != "" {
		return v, nil
	}
	return "", fmt.Errorf("%w: %s", ErrNotFound, name)
}
