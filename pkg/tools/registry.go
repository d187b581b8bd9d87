// Package tools hosts the tool registry, the builtin catalogue, and the
// dispatch pipeline that runs every call through the hook collective.
package tools

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/goodboyai/kennel/pkg/bus"
	"github.com/goodboyai/kennel/pkg/chain"
	"github.com/goodboyai/kennel/pkg/judge"
	"github.com/goodboyai/kennel/pkg/models"
	"github.com/goodboyai/kennel/pkg/session"
	"github.com/goodboyai/kennel/pkg/storage"
)

// Handler executes one tool call. Arguments arrive already decoded from the
// JSON-RPC params; the returned value is serialised into the MCP content
// envelope by the transport layer.
type Handler func(ctx context.Context, args map[string]any) (any, error)

// Descriptor describes one callable tool: the directory entry plus its
// handler. InputSchema is a plain JSON Schema document; it is compiled once
// when the descriptor is absorbed into the registry.
type Descriptor struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Domain      string         `json:"domain,omitempty"`
	InputSchema map[string]any `json:"inputSchema,omitempty"`
	Handler     Handler        `json:"-"`
}

// LibraryResolver resolves an ecosystem library name to a card. Implemented
// by the discovery service.
type LibraryResolver interface {
	Lookup(ctx context.Context, name string) (*models.LibraryCard, error)
}

// Services carries the shared subsystems tool factories draw on. Any field
// may be nil; factories declare what they need via Factory.Requires.
type Services struct {
	Judge    *judge.Engine
	Storage  *storage.Manager
	Sessions *session.Manager
	Chain    *chain.Manager
	Library  LibraryResolver
	Events   *bus.Bus
	Logger   *slog.Logger
}

func (s Services) has(requirement string) bool {
	switch requirement {
	case "judge":
		return s.Judge != nil
	case "storage":
		return s.Storage != nil
	case "sessions":
		return s.Sessions != nil
	case "chain":
		return s.Chain != nil
	case "library":
		return s.Library != nil
	case "events":
		return s.Events != nil
	}
	return false
}

// Factory builds a group of related tools from the shared services.
type Factory struct {
	Name     string
	Domain   string
	Requires []string
	Create   func(s Services) []Descriptor
}

// Registry holds registered factories and the tools they produced.
type Registry struct {
	logger *slog.Logger

	mu        sync.RWMutex
	factories []Factory
	entries   map[string]*entry
	order     []string
}

type entry struct {
	Descriptor
	compiled *schema
}

// NewRegistry returns an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		logger:  logger.With("component", "tools"),
		entries: make(map[string]*entry),
	}
}

// Register records a factory for later creation. Factories must carry a
// unique name and a Create function.
func (r *Registry) Register(f Factory) error {
	if f.Name == "" {
		return fmt.Errorf("factory has no name")
	}
	if f.Create == nil {
		return fmt.Errorf("factory %q has no create function", f.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.factories {
		if existing.Name == f.Name {
			return fmt.Errorf("factory %q already registered", f.Name)
		}
	}
	r.factories = append(r.factories, f)
	return nil
}

// CreateAll runs every registered factory in insertion order and absorbs
// the descriptors they produce. Factories whose requirements are not
// satisfied are skipped, and a panicking factory is isolated and logged.
// Returns the number of tools absorbed.
func (r *Registry) CreateAll(svcs Services) int {
	if svcs.Logger == nil {
		svcs.Logger = slog.Default()
	}

	r.mu.RLock()
	factories := make([]Factory, len(r.factories))
	copy(factories, r.factories)
	r.mu.RUnlock()

	created := 0
	for _, f := range factories {
		created += r.create(f, svcs)
	}
	return created
}

// CreateByDomain runs only the factories registered under the given domain.
func (r *Registry) CreateByDomain(domain string, svcs Services) int {
	if svcs.Logger == nil {
		svcs.Logger = slog.Default()
	}

	r.mu.RLock()
	factories := make([]Factory, 0, len(r.factories))
	for _, f := range r.factories {
		if f.Domain == domain {
			factories = append(factories, f)
		}
	}
	r.mu.RUnlock()

	created := 0
	for _, f := range factories {
		created += r.create(f, svcs)
	}
	return created
}

func (r *Registry) create(f Factory, svcs Services) (created int) {
	for _, req := range f.Requires {
		if !svcs.has(req) {
			r.logger.Warn("skipping tool factory, requirement missing",
				"factory", f.Name, "requires", req)
			return 0
		}
	}

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("tool factory panicked", "factory", f.Name, "panic", rec)
			created = 0
		}
	}()

	return r.absorb(f, f.Create(svcs))
}

// absorb validates and indexes the produced descriptors. Unnamed or
// handler-less descriptors are dropped, as are descriptors whose input
// schema does not compile.
func (r *Registry) absorb(f Factory, descs []Descriptor) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	created := 0
	for _, d := range descs {
		if d.Name == "" || d.Handler == nil {
			r.logger.Warn("dropping malformed tool descriptor", "factory", f.Name)
			continue
		}
		if _, exists := r.entries[d.Name]; exists {
			r.logger.Warn("dropping duplicate tool", "factory", f.Name, "tool", d.Name)
			continue
		}
		if d.Domain == "" {
			d.Domain = f.Domain
		}

		var compiled *schema
		if d.InputSchema != nil {
			var err error
			compiled, err = compileSchema(d.Name, d.InputSchema)
			if err != nil {
				r.logger.Error("dropping tool with invalid input schema",
					"factory", f.Name, "tool", d.Name, "error", err)
				continue
			}
		}

		r.entries[d.Name] = &entry{Descriptor: d, compiled: compiled}
		r.order = append(r.order, d.Name)
		created++
	}
	return created
}

func (r *Registry) resolve(name string) (*entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	return e, ok
}

// Get returns the descriptor registered under name.
func (r *Registry) Get(name string) (Descriptor, bool) {
	e, ok := r.resolve(name)
	if !ok {
		return Descriptor{}, false
	}
	return e.Descriptor, true
}

// List returns all descriptors in registration order.
func (r *Registry) List() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Descriptor, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.entries[name].Descriptor)
	}
	return out
}

// ByDomain returns the descriptors whose domain matches.
func (r *Registry) ByDomain(domain string) []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Descriptor, 0, len(r.order))
	for _, name := range r.order {
		if e := r.entries[name]; e.Domain == domain {
			out = append(out, e.Descriptor)
		}
	}
	return out
}

// Names returns the registered tool names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Count returns the number of registered tools.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
