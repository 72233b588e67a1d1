// Package registry implements ModelRegistry: it holds named
// models, attaches zero or more inference profiles per model, and
// serializes any weight swap against in-flight inferences. Grounded on
// internal/server/game_manager.go's GameManager (named-instance map behind
// a sync.RWMutex, default-id bookkeeping), generalized from named games to
// named models with child profiles.
package registry

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/lox/alphatrain/internal/inference"
	"github.com/lox/alphatrain/internal/metrics"
	"github.com/lox/alphatrain/internal/model"
)

// entry is one named model together with the profiles attached to it.
// Profiles are owned by the entry and must be destroyed before the model
// itself is swapped or dropped.
type entry struct {
	mu       sync.RWMutex // guards weight swap vs. profile creation/lookup
	m        model.Model
	profiles map[string]*inference.Engine
}

// Registry is the ModelRegistry.
type Registry struct {
	logger zerolog.Logger
	scope  *metrics.Scope

	mu      sync.RWMutex
	entries map[string]*entry
}

func New(logger zerolog.Logger, scope *metrics.Scope) *Registry {
	return &Registry{
		logger:  logger.With().Str("component", "model_registry").Logger(),
		scope:   scope,
		entries: make(map[string]*entry),
	}
}

// Load creates a new named model from a snapshot, failing if name exists.
// loadFn turns an opaque Snapshot into a concrete model.Model; the registry
// never interprets the snapshot itself.
func (r *Registry) Load(name string, snap model.Snapshot, loadFn func(model.Snapshot) (model.Model, error)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[name]; exists {
		return fmt.Errorf("registry: model %q already loaded", name)
	}

	m, err := loadFn(snap)
	if err != nil {
		return fmt.Errorf("registry: load %q: %w", name, err)
	}

	r.entries[name] = &entry{m: m, profiles: make(map[string]*inference.Engine)}
	r.logger.Info().Str("model", name).Msg("model loaded")
	return nil
}

// Unload destroys all profiles for the model, awaiting pending requests on
// each, then drops the model.
func (r *Registry) Unload(name string) error {
	r.mu.Lock()
	e, ok := r.entries[name]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("registry: model %q not found", name)
	}
	delete(r.entries, name)
	r.mu.Unlock()

	e.mu.Lock()
	for pname, eng := range e.profiles {
		eng.Close()
		r.logger.Info().Str("model", name).Str("profile", pname).Msg("profile closed on unload")
	}
	e.profiles = nil
	e.mu.Unlock()

	if err := e.m.Close(); err != nil {
		return fmt.Errorf("registry: close model %q: %w", name, err)
	}
	r.logger.Info().Str("model", name).Msg("model unloaded")
	return nil
}

// Configure attaches a new profile to a loaded model; fails on duplicate.
func (r *Registry) Configure(name, profileName string, cfg inference.Config) error {
	e, err := r.find(name)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.profiles[profileName]; exists {
		return fmt.Errorf("registry: profile %q already configured on %q", profileName, name)
	}

	scope := r.scope.Child(fmt.Sprintf("model/%s/profile/%s", name, profileName))
	e.profiles[profileName] = inference.New(profileName, e.m, cfg, r.logger, scope)
	return nil
}

// Deconfigure detaches a profile, awaiting pending requests for it only.
func (r *Registry) Deconfigure(name, profileName string) error {
	e, err := r.find(name)
	if err != nil {
		return err
	}

	e.mu.Lock()
	eng, ok := e.profiles[profileName]
	if ok {
		delete(e.profiles, profileName)
	}
	e.mu.Unlock()

	if !ok {
		return fmt.Errorf("registry: profile %q not found on %q", profileName, name)
	}
	eng.Close()
	return nil
}

// Subscribe hands out the engine backing profileName so a client can route
// predict calls into it (spec: "subscribe(name, profile_name) -> ClientChannel").
func (r *Registry) Subscribe(name, profileName string) (*inference.Engine, error) {
	e, err := r.find(name)
	if err != nil {
		return nil, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	eng, ok := e.profiles[profileName]
	if !ok {
		return nil, fmt.Errorf("registry: profile %q not found on %q", profileName, name)
	}
	return eng, nil
}

// Model returns the underlying model.Model for name, for a Local
// InferenceClient that bypasses batching.
func (r *Registry) Model(name string) (model.Model, error) {
	e, err := r.find(name)
	if err != nil {
		return nil, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.m, nil
}

// SwapWeights atomically replaces a model's weights: each profile's engine
// blocks until its own in-flight batch (if any) finishes, then starts
// calling the replacement. No
// profile ever observes partial weights.
//
// swapFn receives the currently-loaded model and returns its replacement
// (typically the same instance with weights mutated in place, or a fresh
// instance built from the new snapshot); the registry only sequences the
// call against in-flight inference.
func (r *Registry) SwapWeights(name string, snap model.Snapshot, swapFn func(current model.Model, snap model.Snapshot) (model.Model, error)) error {
	e, err := r.find(name)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	newModel, err := swapFn(e.m, snap)
	if err != nil {
		return fmt.Errorf("registry: swap weights on %q: %w", name, err)
	}
	e.m = newModel

	for _, eng := range e.profiles {
		eng.SwapWeights(newModel)
	}

	r.logger.Info().Str("model", name).Msg("weights swapped")
	return nil
}

func (r *Registry) find(name string) (*entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok {
		return nil, fmt.Errorf("registry: model %q not found", name)
	}
	return e, nil
}
