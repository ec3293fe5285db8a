// Package secrets resolves secrets://provider/path#key references found
// in configuration into their underlying values at load time. It is not
// a runtime secret store: nothing is cached, refreshed, or re-resolved
// once config has finished loading.
package secrets

import (
	"context"
	"fmt"
	"strings"
)

// Provider fetches a secret value from one backend.
type Provider interface {
	// Name identifies the provider (for error messages and logging).
	Name() string

	// Get retrieves the raw value at path. If key is non-empty, the
	// provider treats the value as structured (e.g. JSON) and extracts
	// that field; an empty key means "use the whole value".
	Get(ctx context.Context, path, key string) (string, error)
}

// Manager resolves secrets://... references against a set of named
// providers, one per backend (aws, azure, vault, file).
type Manager struct {
	providers map[string]Provider
}

// NewManager creates a Manager with no providers registered.
func NewManager() *Manager {
	return &Manager{providers: make(map[string]Provider)}
}

// Register adds a provider under its own Name(). A later call with the
// same name replaces the earlier one.
func (m *Manager) Register(p Provider) {
	m.providers[p.Name()] = p
}

// Ref is a parsed secrets://provider/path#key reference.
type Ref struct {
	Provider string
	Path     string
	Key      string
}

const refScheme = "secrets://"

// IsRef reports whether s looks like a secrets:// reference, so callers
// can decide whether to resolve it or treat it as a literal value.
func IsRef(s string) bool {
	return strings.HasPrefix(s, refScheme)
}

// ParseRef parses "secrets://provider/path#key" into its parts. The
// "#key" suffix is optional.
func ParseRef(s string) (Ref, error) {
	if !IsRef(s) {
		return Ref{}, fmt.Errorf("not a secrets reference: %q", s)
	}
	rest := strings.TrimPrefix(s, refScheme)

	var key string
	if i := strings.LastIndex(rest, "#"); i >= 0 {
		key = rest[i+1:]
		rest = rest[:i]
	}

	i := strings.Index(rest, "/")
	if i < 0 || i == 0 || i == len(rest)-1 {
		return Ref{}, fmt.Errorf("malformed secrets reference %q: expected secrets://provider/path", s)
	}

	return Ref{Provider: rest[:i], Path: rest[i+1:], Key: key}, nil
}

// Resolve returns the literal value unchanged if it is not a secrets
// reference; otherwise it looks up the named provider and fetches the
// value.
func (m *Manager) Resolve(ctx context.Context, value string) (string, error) {
	if !IsRef(value) {
		return value, nil
	}

	ref, err := ParseRef(value)
	if err != nil {
		return "", err
	}

	p, ok := m.providers[ref.Provider]
	if !ok {
		return "", fmt.Errorf("secrets: unknown provider %q in reference %q", ref.Provider, value)
	}

	v, err := p.Get(ctx, ref.Path, ref.Key)
	if err != nil {
		return "", fmt.Errorf("secrets: resolve %q via %s: %w", value, ref.Provider, err)
	}
	return v, nil
}

// ResolveAll walks a map of config fields, replacing every secrets://
// reference it finds in place. It returns a new map; the input is left
// untouched.
func (m *Manager) ResolveAll(ctx context.Context, fields map[string]string) (map[string]string, error) {
	out := make(map[string]string, len(fields))
	for k, v := range fields {
		resolved, err := m.Resolve(ctx, v)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", k, err)
		}
		out[k] = resolved
	}
	return out, nil
}
