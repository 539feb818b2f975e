// Package registry hands out shared, reference-counted handles to running
// exchange engines.
//
// A process typically runs one engine per controller connection, while many
// independent subsystems want to issue requests through it. The registry
// decouples the two: whoever owns the connection registers the engine under
// a name, and everyone else acquires a counted handle by that name. An
// engine cannot be removed while handles to it remain outstanding.
//
// The registry is bookkeeping only; it never touches engine state and has
// no bearing on exchange correctness.
package registry

import "sync"

// Engine is the interface the registry tracks. *exchange.Engine satisfies
// it; the registry never calls into the engine itself.
type Engine interface {
	Pending() int
}

// entry tracks one registered engine and its active holders.
type entry struct {
	engine Engine
	users  int
}

// Registry is a named table of engines with per-engine reference counts.
// The zero value is ready to use.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// Handle is a counted reference to a registered engine.
// Release it exactly once when done.
type Handle struct {
	registry *Registry
	name     string

	mu       sync.Mutex
	engine   Engine
	released bool
}

// Register adds an engine under the given name.
// Returns ErrDuplicate if the name is already taken.
func (r *Registry) Register(name string, engine Engine) error {
	if engine == nil {
		return ErrNilEngine
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.entries == nil {
		r.entries = make(map[string]*entry)
	}
	if _, exists := r.entries[name]; exists {
		return ErrDuplicate
	}

	r.entries[name] = &entry{engine: engine}
	return nil
}

// Acquire returns a counted handle to the engine registered under name.
// Returns ErrNotReady if no such engine is registered yet; callers that
// race engine bring-up may retry later.
func (r *Registry) Acquire(name string) (*Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ent, exists := r.entries[name]
	if !exists {
		return nil, ErrNotReady
	}

	ent.users++
	return &Handle{
		registry: r,
		name:     name,
		engine:   ent.engine,
	}, nil
}

// Remove unregisters the engine under name.
// Fails with ErrBusy while any handle to it is still outstanding.
func (r *Registry) Remove(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ent, exists := r.entries[name]
	if !exists {
		return ErrNotReady
	}
	if ent.users > 0 {
		return ErrBusy
	}

	delete(r.entries, name)
	return nil
}

// Users returns the number of outstanding handles for name.
func (r *Registry) Users(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	if ent, exists := r.entries[name]; exists {
		return ent.users
	}
	return 0
}

// Engine returns the engine this handle refers to, or nil after Release.
func (h *Handle) Engine() Engine {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.engine
}

// Release returns the handle's reference. Must be balanced 1:1 with the
// Acquire that produced it; a second Release returns ErrReleased and does
// not disturb the count.
func (h *Handle) Release() error {
	h.mu.Lock()
	if h.released {
		h.mu.Unlock()
		return ErrReleased
	}
	h.released = true
	h.engine = nil
	h.mu.Unlock()

	r := h.registry
	r.mu.Lock()
	defer r.mu.Unlock()

	if ent, exists := r.entries[h.name]; exists && ent.users > 0 {
		ent.users--
	}
	return nil
}

// defaultRegistry is the process-wide registry used by the package-level
// functions.
var defaultRegistry Registry

// Register adds an engine to the process-wide registry.
func Register(name string, engine Engine) error {
	return defaultRegistry.Register(name, engine)
}

// Acquire returns a handle from the process-wide registry.
func Acquire(name string) (*Handle, error) {
	return defaultRegistry.Acquire(name)
}

// Remove unregisters an engine from the process-wide registry.
func Remove(name string) error {
	return defaultRegistry.Remove(name)
}
