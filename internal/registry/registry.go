// Package registry holds the immutable table of backend service definitions.
package registry

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/vyrodovalexey/avadispatch/internal/config"
	"github.com/vyrodovalexey/avadispatch/internal/gwerrors"
	"github.com/vyrodovalexey/avadispatch/internal/protocol"
)

// ServiceDefinition describes one backend. It is never mutated after
// construction; reloads build new definitions.
type ServiceDefinition struct {
	Name            string
	BaseURL         *url.URL
	Timeout         time.Duration
	HealthCheckPath string
	Protocols       protocol.Set
	GRPCService     string
}

// Supports reports whether the backend advertises p.
func (d *ServiceDefinition) Supports(p protocol.Protocol) bool {
	return d.Protocols.Has(p)
}

// Address returns the base URL without a trailing slash.
func (d *ServiceDefinition) Address() string {
	return strings.TrimSuffix(d.BaseURL.String(), "/")
}

// Host returns host:port of the base URL, used as the gRPC target.
func (d *ServiceDefinition) Host() string {
	return d.BaseURL.Host
}

// NewServiceDefinition builds a definition from its configuration.
func NewServiceDefinition(name string, cfg config.ServiceConfig) (*ServiceDefinition, error) {
	u, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("service %s: invalid baseUrl: %w", name, err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("service %s: baseUrl %q has no host", name, cfg.BaseURL)
	}
	protocols, err := protocol.ParseSet(cfg.Protocols)
	if err != nil {
		return nil, fmt.Errorf("service %s: %w", name, err)
	}

	timeout := cfg.TimeoutDuration()
	if timeout <= 0 {
		timeout = config.DefaultServiceTimeoutSecs * time.Second
	}
	healthPath := cfg.HealthCheckPath
	if healthPath == "" {
		healthPath = config.DefaultHealthCheckPath
	}

	return &ServiceDefinition{
		Name:            name,
		BaseURL:         u,
		Timeout:         timeout,
		HealthCheckPath: healthPath,
		Protocols:       protocols,
		GRPCService:     cfg.GRPCService,
	}, nil
}

// Registry resolves service names to definitions. Lookups are lock-free;
// Replace swaps the whole table atomically.
type Registry struct {
	services atomic.Pointer[map[string]*ServiceDefinition]
}

// New creates a registry holding defs.
func New(defs ...*ServiceDefinition) *Registry {
	r := &Registry{}
	r.store(defs)
	return r
}

// LoadFromConfig builds a registry from the services section.
func LoadFromConfig(services map[string]config.ServiceConfig) (*Registry, error) {
	defs, err := definitionsFromConfig(services)
	if err != nil {
		return nil, err
	}
	return New(defs...), nil
}

// Lookup returns the definition for name, or a ServiceNotFound error.
func (r *Registry) Lookup(name string) (*ServiceDefinition, error) {
	if def, ok := (*r.services.Load())[name]; ok {
		return def, nil
	}
	return nil, gwerrors.ServiceNotFound(name)
}

// Names returns the registered service names in sorted order.
func (r *Registry) Names() []string {
	table := *r.services.Load()
	names := make([]string, 0, len(table))
	for name := range table {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// All returns every definition, sorted by name.
func (r *Registry) All() []*ServiceDefinition {
	table := *r.services.Load()
	out := make([]*ServiceDefinition, 0, len(table))
	for _, name := range r.Names() {
		if def, ok := table[name]; ok {
			out = append(out, def)
		}
	}
	return out
}

// Len returns the number of registered services.
func (r *Registry) Len() int {
	return len(*r.services.Load())
}

// Replace swaps in a new table built from services. On error the current
// table is left untouched.
func (r *Registry) Replace(services map[string]config.ServiceConfig) error {
	defs, err := definitionsFromConfig(services)
	if err != nil {
		return err
	}
	r.store(defs)
	return nil
}

func (r *Registry) store(defs []*ServiceDefinition) {
	table := make(map[string]*ServiceDefinition, len(defs))
	for _, def := range defs {
		table[def.Name] = def
	}
	r.services.Store(&table)
}

func definitionsFromConfig(services map[string]config.ServiceConfig) ([]*ServiceDefinition, error) {
	defs := make([]*ServiceDefinition, 0, len(services))
	for name, svc := range services {
		def, err := NewServiceDefinition(name, svc)
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	return defs, nil
}
