// ABOUTME: In-memory application state: one keyed collection per entity
// ABOUTME: Populated by bulk loads and incremental catch-up, read by the application

package syncmerge

import "sync"

// State holds the keyed per-entity collections the sync flows populate.
// Safe for concurrent use.
type State struct {
	mu       sync.RWMutex
	entities map[string]map[string]Record
}

// NewState returns an empty application state.
func NewState() *State {
	return &State{entities: make(map[string]map[string]Record)}
}

// Apply merges a batch of changes for one entity into the state.
func (s *State) Apply(entity string, changes []ChangeRow) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entities[entity] = Merge(s.entities[entity], changes)
}

// Replace swaps the entire collection for one entity.
func (s *State) Replace(entity string, records map[string]Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entities[entity] = records
}

// Clear drops every entity collection. Used by the local-state reset
// recovery path.
func (s *State) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entities = make(map[string]map[string]Record)
}

// Get returns the record for an identity, if present.
func (s *State) Get(entity, id string) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.entities[entity][id]
	return rec, ok
}

// Count returns the number of records held for an entity.
func (s *State) Count(entity string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entities[entity])
}

// Snapshot returns a copy of one entity's collection.
func (s *State) Snapshot(entity string) map[string]Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]Record, len(s.entities[entity]))
	for id, rec := range s.entities[entity] {
		out[id] = rec
	}
	return out
}
