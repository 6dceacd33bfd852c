package profile

import (
	"fmt"
	"sort"
	"sync"
)

// Registry is the fixed set of calibration tables plus the active selection.
// The set never changes after construction; only the selection does.
type Registry struct {
	mu          sync.RWMutex
	profiles    map[string]*Table
	names       []string
	defaultName string
	active      *Table
}

// NewRegistry builds a registry from tables and makes defaultName active.
// Duplicate names and an unknown default are configuration errors.
func NewRegistry(defaultName string, tables ...*Table) (*Registry, error) {
	profiles := make(map[string]*Table, len(tables))
	names := make([]string, 0, len(tables))
	for _, t := range tables {
		if t == nil {
			return nil, fmt.Errorf("%w: nil table", ErrInvalidProfile)
		}
		if _, exists := profiles[t.Name()]; exists {
			return nil, invalid(t.Name(), "duplicate profile name")
		}
		profiles[t.Name()] = t
		names = append(names, t.Name())
	}
	def, ok := profiles[defaultName]
	if !ok {
		return nil, invalid(defaultName, "default profile is not registered")
	}
	sort.Strings(names)

	return &Registry{
		profiles:    profiles,
		names:       names,
		defaultName: defaultName,
		active:      def,
	}, nil
}

// Select makes name the active profile. When name is unknown it selects the
// default profile instead and returns ErrProfileNotFound.
func (r *Registry) Select(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.profiles[name]
	if !ok {
		r.active = r.profiles[r.defaultName]
		return fmt.Errorf("%w: %q, using %s", ErrProfileNotFound, name, r.defaultName)
	}
	r.active = t
	return nil
}

// Active returns the active profile; it is never nil.
func (r *Registry) Active() *Table {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active
}

// ActiveName returns the name of the active profile.
func (r *Registry) ActiveName() string {
	return r.Active().Name()
}

// Get looks up a profile by name.
func (r *Registry) Get(name string) (*Table, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.profiles[name]
	return t, ok
}

// Default returns the fallback profile.
func (r *Registry) Default() *Table {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.profiles[r.defaultName]
}

// DefaultName returns the fallback profile name.
func (r *Registry) DefaultName() string { return r.defaultName }

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.names...)
}

// DisplayNames returns chooser labels in the same order as Names.
func (r *Registry) DisplayNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.names))
	for _, n := range r.names {
		out = append(out, r.profiles[n].DisplayName())
	}
	return out
}
