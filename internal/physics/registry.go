package physics

import (
	"sort"
	"sync"
)

// Overrides are per-workspace replacements for global force constants.
// Nil fields fall back to the registry configuration.
type Overrides struct {
	GravityStrength     *float64
	SimilarityThreshold *float64
}

func (o Overrides) apply(cfg Config) Config {
	if o.GravityStrength != nil {
		cfg.GravityStrength = *o.GravityStrength
	}
	if o.SimilarityThreshold != nil {
		cfg.SimilarityThreshold = *o.SimilarityThreshold
	}
	return cfg
}

// Registry holds one Engine per workspace.
type Registry struct {
	mu        sync.RWMutex
	cfg       Config
	engines   map[string]*Engine
	overrides map[string]Overrides
	opts      []Option
}

// NewRegistry creates an empty registry. opts are passed to every engine it creates.
func NewRegistry(cfg Config, opts ...Option) *Registry {
	return &Registry{
		cfg:       cfg,
		engines:   make(map[string]*Engine),
		overrides: make(map[string]Overrides),
		opts:      opts,
	}
}

// For returns the engine for a workspace, creating it if needed.
func (r *Registry) For(workspaceID string) *Engine {
	r.mu.RLock()
	e, ok := r.engines[workspaceID]
	r.mu.RUnlock()
	if ok {
		return e
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.engineLocked(workspaceID)
}

func (r *Registry) engineLocked(workspaceID string) *Engine {
	if e, ok := r.engines[workspaceID]; ok {
		return e
	}
	e := NewEngine(r.overrides[workspaceID].apply(r.cfg), r.opts...)
	r.engines[workspaceID] = e
	return e
}

// AddBody adds b to a workspace's engine, creating the engine if needed.
// The add cannot interleave with DropEmpty.
func (r *Registry) AddBody(workspaceID string, b Body) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.engineLocked(workspaceID).Add(b)
}

// Lookup returns the engine for a workspace without creating one.
func (r *Registry) Lookup(workspaceID string) (*Engine, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.engines[workspaceID]
	return e, ok
}

// Drop discards a workspace's engine and overrides.
func (r *Registry) Drop(workspaceID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.engines, workspaceID)
	delete(r.overrides, workspaceID)
}

// DropEmpty discards a workspace's engine if it holds no bodies. Overrides
// are kept so a later For applies them again.
func (r *Registry) DropEmpty(workspaceID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.engines[workspaceID]
	if !ok || e.Len() > 0 {
		return false
	}
	delete(r.engines, workspaceID)
	return true
}

// Config returns the base configuration.
func (r *Registry) Config() Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cfg
}

// SetConfig replaces the base configuration of every engine, keeping
// per-workspace overrides.
func (r *Registry) SetConfig(cfg Config) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cfg = cfg
	for ws, e := range r.engines {
		e.SetConfig(r.overrides[ws].apply(cfg))
	}
}

// SetOverrides installs per-workspace overrides and applies them to the
// workspace's engine if it exists.
func (r *Registry) SetOverrides(workspaceID string, o Overrides) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.overrides[workspaceID] = o
	if e, ok := r.engines[workspaceID]; ok {
		e.SetConfig(o.apply(r.cfg))
	}
}

// Workspaces returns the ids of all workspaces with an engine, sorted.
func (r *Registry) Workspaces() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.engines))
	for id := range r.engines {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the total number of bodies across all engines.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, e := range r.engines {
		n += e.Len()
	}
	return n
}
