package assign

import (
	"fmt"
	"sync"
)

// DefaultSpeed is used for entities configured without a speed
// (distance units per second).
const DefaultSpeed = 1.0

// Entity is an executing resource.
// An empty Location means the entity starts at its first stop.
type Entity struct {
	ID       string  `json:"id" yaml:"id"`
	Location string  `json:"location" yaml:"location"`
	Speed    float64 `json:"speed" yaml:"speed"`
}

// EntityStatus is an entity together with its current commitment.
type EntityStatus struct {
	Entity
	Owner string `json:"owner,omitempty"`
}

// Fleet tracks entities and which task run each is committed to.
// Entities are kept in declaration order; selection ties go to the
// lower id.
//
// Thread-safety: Fleet is safe for concurrent use; the engine mutates it
// from its tick goroutine while CLI code may read it.
type Fleet struct {
	mu       sync.Mutex
	entities []*EntityStatus
	byID     map[string]*EntityStatus
}

// NewFleet creates a fleet. Duplicate ids keep the first declaration.
func NewFleet(entities ...Entity) *Fleet {
	f := &Fleet{byID: make(map[string]*EntityStatus, len(entities))}
	for _, e := range entities {
		if _, dup := f.byID[e.ID]; dup {
			continue
		}
		if e.Speed <= 0 {
			e.Speed = DefaultSpeed
		}
		st := &EntityStatus{Entity: e}
		f.entities = append(f.entities, st)
		f.byID[e.ID] = st
	}
	return f
}

// Len returns the number of entities.
func (f *Fleet) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.entities)
}

// Available returns uncommitted entities in declaration order.
func (f *Fleet) Available() []Entity {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Entity
	for _, st := range f.entities {
		if st.Owner == "" {
			out = append(out, st.Entity)
		}
	}
	return out
}

// Commit reserves an entity for owner.
func (f *Fleet) Commit(id, owner string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.byID[id]
	if !ok {
		return fmt.Errorf("unknown entity %q", id)
	}
	if st.Owner != "" && st.Owner != owner {
		return fmt.Errorf("entity %q already committed to %s", id, st.Owner)
	}
	st.Owner = owner
	return nil
}

// Release frees an entity held by owner. A non-empty location records
// where the entity ended up.
func (f *Fleet) Release(id, owner, location string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.byID[id]
	if !ok || st.Owner != owner {
		return
	}
	st.Owner = ""
	if location != "" {
		st.Location = location
	}
}

// Owner returns the task run an entity is committed to, or "".
func (f *Fleet) Owner(id string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if st, ok := f.byID[id]; ok {
		return st.Owner
	}
	return ""
}

// Statuses returns a copy of every entity's state in declaration order.
func (f *Fleet) Statuses() []EntityStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]EntityStatus, len(f.entities))
	for i, st := range f.entities {
		out[i] = *st
	}
	return out
}

// Restore overwrites positions and commitments of known entities.
func (f *Fleet) Restore(statuses []EntityStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range statuses {
		if st, ok := f.byID[s.ID]; ok {
			st.Location = s.Location
			st.Owner = s.Owner
		}
	}
}
