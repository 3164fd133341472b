// Package tenant resolves per-tenant configuration for incoming calls.
//
// Tenant rows live in Postgres and change rarely, so the cache is read-mostly:
// all active tenants are preloaded at startup, and later misses are fetched
// once (coalesced across concurrent callers) and memoized for the process
// lifetime, including negative results for unknown tenant ids.
package tenant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/SandilyaSub/Receptionist/pkg/storage"
)

// DefaultTenant is the tenant id used when resolution finds nothing better.
const DefaultTenant = "default"

// ErrUnknownTenant is returned by Get for ids with no active configuration.
var ErrUnknownTenant = errors.New("tenant: unknown tenant")

// Config is the resolved, validated configuration for one tenant.
type Config struct {
	ID               string
	BranchName       string
	OwnerPhone       string
	AssistantPrompt  string
	AnalyzerPrompt   string
	AllowedCallTypes []string
	WelcomeMessage   string

	// LanguageCode is the BCP-47 code derived from the tenant's configured
	// greeting language.
	LanguageCode string
}

// Cache is the process-wide tenant configuration cache.
// All methods are safe for concurrent use.
type Cache struct {
	store storage.TenantStore
	log   *slog.Logger

	sf singleflight.Group

	mu      sync.RWMutex
	configs map[string]*Config // nil value records a known-missing tenant
}

// NewCache creates a Cache over the given tenant store.
func NewCache(store storage.TenantStore, log *slog.Logger) *Cache {
	if log == nil {
		log = slog.Default()
	}
	return &Cache{
		store:   store,
		log:     log.With("component", "tenant-cache"),
		configs: make(map[string]*Config),
	}
}

// Preload fetches all active tenants and fills the cache. Invalid tenants are
// logged and skipped; they resolve like unknown ids afterwards.
func (c *Cache) Preload(ctx context.Context) error {
	tenants, err := c.store.ListActiveTenants(ctx)
	if err != nil {
		return fmt.Errorf("tenant: preload: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range tenants {
		cfg, err := buildConfig(t)
		if err != nil {
			c.log.Warn("skipping invalid tenant config", "tenant", t.ID, "error", err)
			continue
		}
		c.configs[t.ID] = cfg
	}
	c.log.Info("tenant cache preloaded", "tenants", len(c.configs))
	return nil
}

// Get returns the configuration for id. Unknown, inactive, or invalid
// tenants return ErrUnknownTenant. The first miss for an id hits the store
// exactly once even under concurrent callers; the result (positive or
// negative) is memoized for the process lifetime.
func (c *Cache) Get(ctx context.Context, id string) (*Config, error) {
	if id == "" {
		return nil, ErrUnknownTenant
	}

	c.mu.RLock()
	cfg, ok := c.configs[id]
	c.mu.RUnlock()
	if ok {
		if cfg == nil {
			return nil, ErrUnknownTenant
		}
		return cfg, nil
	}

	v, err, _ := c.sf.Do(id, func() (any, error) {
		return c.fetch(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, ErrUnknownTenant
	}
	return v.(*Config), nil
}

// fetch loads one tenant from the store and memoizes the outcome. It returns
// (nil, nil) for a memoized negative result.
func (c *Cache) fetch(ctx context.Context, id string) (*Config, error) {
	t, err := c.store.GetTenant(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		c.memoize(id, nil)
		return nil, nil
	}
	if err != nil {
		// Store errors are transient; do not memoize them.
		return nil, fmt.Errorf("tenant: fetch %q: %w", id, err)
	}

	if !t.IsActive {
		c.memoize(id, nil)
		return nil, nil
	}
	cfg, err := buildConfig(*t)
	if err != nil {
		c.log.Warn("invalid tenant config", "tenant", id, "error", err)
		c.memoize(id, nil)
		return nil, nil
	}
	c.memoize(id, cfg)
	return cfg, nil
}

func (c *Cache) memoize(id string, cfg *Config) {
	c.mu.Lock()
	c.configs[id] = cfg
	c.mu.Unlock()
}

// Resolve returns the configuration for id, falling back to the default
// tenant when id is empty or unknown. Returns an error only when the default
// tenant itself cannot be loaded.
func (c *Cache) Resolve(ctx context.Context, id string) (*Config, error) {
	if id != "" {
		cfg, err := c.Get(ctx, id)
		if err == nil {
			return cfg, nil
		}
		if !errors.Is(err, ErrUnknownTenant) {
			c.log.Warn("tenant lookup failed, falling back to default", "tenant", id, "error", err)
		}
	}

	cfg, err := c.Get(ctx, DefaultTenant)
	if err != nil {
		return nil, fmt.Errorf("tenant: resolve default: %w", err)
	}
	return cfg, nil
}

// Known reports whether id resolves to an active tenant. Used by the bridge
// to decide whether a query-param or path-segment tenant hint is usable.
func (c *Cache) Known(ctx context.Context, id string) bool {
	_, err := c.Get(ctx, id)
	return err == nil
}

// buildConfig validates one store row and derives the language code.
func buildConfig(t storage.Tenant) (*Config, error) {
	var problems []error
	if t.AssistantPrompt == "" {
		problems = append(problems, errors.New("assistant prompt is empty"))
	}
	if len(t.AllowedCallTypes) == 0 {
		problems = append(problems, errors.New("no allowed call types"))
	}
	if err := errors.Join(problems...); err != nil {
		return nil, err
	}

	return &Config{
		ID:               t.ID,
		BranchName:       t.BranchName,
		OwnerPhone:       t.OwnerPhone,
		AssistantPrompt:  t.AssistantPrompt,
		AnalyzerPrompt:   t.AnalyzerPrompt,
		AllowedCallTypes: t.AllowedCallTypes,
		WelcomeMessage:   t.WelcomeMessage,
		LanguageCode:     LanguageCode(t.GreetingLanguage),
	}, nil
}
