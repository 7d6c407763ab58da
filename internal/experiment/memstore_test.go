package experiment

import (
	"context"
	"sync"

	"github.com/dislink/dxp/internal/store"
)

// memStore is an in-memory store.Store with failure injection for tests
// that need many rows or broken persistence.
type memStore struct {
	mu          sync.Mutex
	experiments map[string]*store.Experiment
	assignments map[assignmentKey]*store.Assignment
	conversions []*store.Conversion
	events      []*store.Event

	insertAssignmentErr error
	insertConversionErr error
	// hideAssignments makes GetAssignment miss, simulating the window
	// between a concurrent caller's check and insert
	hideAssignments bool
	// beforeUpdate runs once ahead of the next UpdateExperiment, letting a
	// test slip another writer in between a read and its write
	beforeUpdate func()
}

var _ store.Store = (*memStore)(nil)

func newMemStore() *memStore {
	return &memStore{
		experiments: make(map[string]*store.Experiment),
		assignments: make(map[assignmentKey]*store.Assignment),
	}
}

func (m *memStore) InsertExperiment(_ context.Context, e *store.Experiment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.experiments {
		if existing.Key == e.Key {
			return store.ErrDuplicateKey
		}
	}
	m.experiments[e.ID] = cloneExperiment(e)
	return nil
}

func (m *memStore) UpdateExperiment(_ context.Context, e *store.Experiment) error {
	if hook := m.beforeUpdate; hook != nil {
		m.beforeUpdate = nil
		hook()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.experiments[e.ID]
	if !ok {
		return store.ErrNotFound
	}
	if existing.Version != e.Version {
		return store.ErrConflict
	}
	for _, other := range m.experiments {
		if other.ID != e.ID && other.Key == e.Key {
			return store.ErrDuplicateKey
		}
	}
	e.Version++
	m.experiments[e.ID] = cloneExperiment(e)
	return nil
}

func (m *memStore) GetExperiment(_ context.Context, id string) (*store.Experiment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.experiments {
		if e.ID == id || e.Key == id {
			return cloneExperiment(e), nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *memStore) ListExperiments(_ context.Context) ([]*store.Experiment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*store.Experiment, 0, len(m.experiments))
	for _, e := range m.experiments {
		out = append(out, cloneExperiment(e))
	}
	return out, nil
}

func (m *memStore) InsertAssignment(_ context.Context, a *store.Assignment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertAssignmentErr != nil {
		return m.insertAssignmentErr
	}
	k := assignmentKey{a.UserID, a.ExperimentID}
	if _, ok := m.assignments[k]; ok {
		return store.ErrAssignmentExists
	}
	cp := *a
	m.assignments[k] = &cp
	return nil
}

func (m *memStore) GetAssignment(_ context.Context, userID, experimentID string) (*store.Assignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.hideAssignments {
		m.hideAssignments = false
		return nil, store.ErrNotFound
	}
	a, ok := m.assignments[assignmentKey{userID, experimentID}]
	if !ok || !a.IsActive {
		return nil, store.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *memStore) ListActiveAssignments(_ context.Context, f store.AssignmentFilter) ([]*store.Assignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*store.Assignment
	for _, a := range m.assignments {
		if !a.IsActive ||
			(f.ExperimentID != "" && a.ExperimentID != f.ExperimentID) ||
			(f.UserID != "" && a.UserID != f.UserID) ||
			(f.VariantID != "" && a.VariantID != f.VariantID) {
			continue
		}
		cp := *a
		out = append(out, &cp)
	}
	return out, nil
}

func (m *memStore) InsertConversion(_ context.Context, c *store.Conversion) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertConversionErr != nil {
		return m.insertConversionErr
	}
	cp := *c
	m.conversions = append(m.conversions, &cp)
	return nil
}

func (m *memStore) ListConversions(_ context.Context, experimentID string) ([]*store.Conversion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*store.Conversion
	for _, c := range m.conversions {
		if c.ExperimentID == experimentID {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memStore) RecordEvent(_ context.Context, name string, props map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, &store.Event{Name: name, Properties: props})
	return nil
}

func (m *memStore) ListEvents(_ context.Context, name string) ([]*store.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*store.Event
	for _, e := range m.events {
		if name == "" || e.Name == name {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memStore) Close() error { return nil }
