package pool

import (
	"fmt"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Registry holds process-wide named DataSources, keyed by name, the
// declarative analogue of constructing pool.Config literals one by one.
// Grounded on JeelKantaria-db-bouncer/internal/config.Config's
// map[string]TenantConfig shape.
type Registry struct {
	mu      sync.Mutex
	sources map[string]*DataSource
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{sources: make(map[string]*DataSource)}
}

// Register adds a DataSource under name, replacing any prior entry
// registered under the same name (the old one is not closed here; the
// caller owns its lifetime).
func (r *Registry) Register(name string, ds *DataSource) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources[name] = ds
}

// Get returns the named DataSource, or nil if not registered.
func (r *Registry) Get(name string) *DataSource {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sources[name]
}

// CloseAll closes every registered DataSource's pool.
func (r *Registry) CloseAll() error {
	r.mu.Lock()
	sources := make([]*DataSource, 0, len(r.sources))
	for _, ds := range r.sources {
		sources = append(sources, ds)
	}
	r.mu.Unlock()

	var firstErr error
	for _, ds := range sources {
		if err := ds.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// registryFile is the YAML document shape LoadRegistryFile reads: a
// list of named pools, each with its own DSN and sizing, the direct
// analogue of dbbouncer's tenants map.
type registryFile struct {
	Pools map[string]poolEntry `yaml:"pools"`
}

type poolEntry struct {
	DSN            string        `yaml:"dsn"`
	MinSize        int           `yaml:"min_size"`
	MaxSize        int           `yaml:"max_size"`
	IdleTimeout    time.Duration `yaml:"idle_timeout"`
	MaxLifetime    time.Duration `yaml:"max_lifetime"`
	AcquireTimeout time.Duration `yaml:"acquire_timeout"`
}

// LoadRegistryFile parses a YAML pool-registry document (spec.md §4's
// declarative pool configuration option) and returns a Registry with
// one DataSource per listed pool. Pools are not warmed up; call
// WarmUp on the returned DataSources as needed.
func LoadRegistryFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("pool: reading registry file %s: %w", path, err)
	}
	var doc registryFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("pool: parsing registry file %s: %w", path, err)
	}

	reg := NewRegistry()
	for name, e := range doc.Pools {
		if e.DSN == "" {
			return nil, fmt.Errorf("pool: registry entry %q missing dsn", name)
		}
		cfg := Config{
			DSN:            e.DSN,
			MinSize:        e.MinSize,
			MaxSize:        e.MaxSize,
			IdleTimeout:    e.IdleTimeout,
			MaxLifetime:    e.MaxLifetime,
			AcquireTimeout: e.AcquireTimeout,
		}
		reg.Register(name, NewDataSource(name, cfg))
	}
	return reg, nil
}
