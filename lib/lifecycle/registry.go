// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package lifecycle

import (
	"sort"
	"sync"
	"time"

	"github.com/bureau-foundation/orchestra/lib/clock"
	"github.com/bureau-foundation/orchestra/lib/schema"
)

// Registry holds the lifecycles of every known entity of one kind.
type Registry struct {
	kind  Kind
	clock clock.Clock

	mu       sync.RWMutex
	entities map[string]*Lifecycle
}

// NewRegistry returns an empty registry. Receipt times for timeout
// detection come from clk.
func NewRegistry(kind Kind, clk clock.Clock) *Registry {
	return &Registry{
		kind:     kind,
		clock:    clk,
		entities: make(map[string]*Lifecycle),
	}
}

// Get returns the lifecycle for name, or nil.
func (r *Registry) Get(name string) *Lifecycle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entities[name]
}

// GetOrCreate returns the lifecycle for name, creating it in INIT.
func (r *Registry) GetOrCreate(name string) *Lifecycle {
	r.mu.RLock()
	entity, ok := r.entities[name]
	r.mu.RUnlock()
	if ok {
		return entity
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if entity, ok := r.entities[name]; ok {
		return entity
	}
	entity = New(r.kind, name, r.clock.Now)
	r.entities[name] = entity
	return entity
}

// Remove forgets name. The next GetOrCreate starts over at INIT.
func (r *Registry) Remove(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entities, name)
}

func (r *Registry) all() []*Lifecycle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entities := make([]*Lifecycle, 0, len(r.entities))
	for _, entity := range r.entities {
		entities = append(entities, entity)
	}
	sort.Slice(entities, func(i, j int) bool { return entities[i].name < entities[j].name })
	return entities
}

// Snapshots returns a copy of every entity's state, sorted by name.
func (r *Registry) Snapshots() []schema.HostSnapshot {
	entities := r.all()
	snapshots := make([]schema.HostSnapshot, len(entities))
	for i, entity := range entities {
		snapshots[i] = entity.Snapshot()
	}
	return snapshots
}

// Eligible reports whether name may receive commands: it must be
// HEALTHY or UNHEALTHY. Lost, unverified, and unknown hosts keep their
// commands queued.
func (r *Registry) Eligible(name string) bool {
	entity := r.Get(name)
	if entity == nil {
		return false
	}
	switch entity.State() {
	case schema.HostHealthy, schema.HostUnhealthy:
		return true
	default:
		return false
	}
}

// Silent returns the names of entities expecting heartbeats that have
// not been heard from within timeout, sorted.
func (r *Registry) Silent(timeout time.Duration) []string {
	cutoff := r.clock.Now().Add(-timeout)
	var names []string
	for _, entity := range r.all() {
		if entity.silentSince(cutoff) {
			names = append(names, entity.name)
		}
	}
	return names
}
