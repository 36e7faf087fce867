package secret

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/blueberrycongee/unillm/internal/secret/env"
	"github.com/blueberrycongee/unillm/internal/secret/vault"
)

// ErrNoProvider is returned for a reference whose scheme has no provider.
var ErrNoProvider = errors.New("no secret provider for scheme")

// Config selects the providers registered by NewDefaultManager.
type Config struct {
	// CacheTTL bounds how long resolved secrets are reused. Zero disables
	// caching.
	CacheTTL time.Duration `yaml:"cache_ttl"`

	// Vault is registered under "vault" when Address is set.
	Vault vault.Config `yaml:"vault"`
}

// Manager routes references to providers by URI scheme.
type Manager struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewManager creates an empty manager.
func NewManager() *Manager {
	return &Manager{providers: make(map[string]Provider)}
}

// NewDefaultManager registers the env provider and, when configured, Vault.
// Both are wrapped in a CachedProvider when cfg.CacheTTL is positive.
func NewDefaultManager(cfg Config) (*Manager, error) {
	m := NewManager()
	m.Register("env", wrap(env.New(), cfg.CacheTTL))

	if cfg.Vault.Address != "" {
		v, err := vault.New(cfg.Vault)
		if err != nil {
			return nil, fmt.Errorf("vault secret provider: %w", err)
		}
		m.Register("vault", wrap(v, cfg.CacheTTL))
	}
	return m, nil
}

func wrap(p Provider, ttl time.Duration) Provider {
	if ttl <= 0 {
		return p
	}
	return NewCachedProvider(p, ttl)
}

// Register sets the provider for a scheme (e.g. "vault", "env").
func (m *Manager) Register(scheme string, p Provider) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.providers[scheme] = p
}

// Resolve returns the secret a reference points at. A reference without a
// scheme is returned as is, so literal keys keep working.
func (m *Manager) Resolve(ctx context.Context, ref string) (string, error) {
	scheme, path, ok := strings.Cut(ref, "://")
	if !ok {
		return ref, nil
	}

	m.mu.RLock()
	p, ok := m.providers[scheme]
	m.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNoProvider, scheme)
	}

	v, err := p.Get(ctx, path)
	if err != nil {
		return "", fmt.Errorf("resolve %s secret: %w", scheme, err)
	}
	return v, nil
}

// Close closes every registered provider.
func (m *Manager) Close() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	schemes := make([]string, 0, len(m.providers))
	for s := range m.providers {
		schemes = append(schemes, s)
	}
	sort.Strings(schemes)

	var errs []error
	for _, s := range schemes {
		if err := m.providers[s].Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s, err))
		}
	}
	return errors.Join(errs...)
}
