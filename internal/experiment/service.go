// Package experiment implements the experiment engine: lifecycle transitions,
// deterministic traffic gating, weighted variant assignment, conversion
// recording and result computation.
//
// A Service keeps a process-local cache of experiments and assignments. It is
// not invalidated by writes from other processes; call Refresh for that.
package experiment

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/dislink/dxp/internal/logger"
	"github.com/dislink/dxp/internal/store"
	"github.com/dislink/dxp/internal/tracking"
)

type assignmentKey struct {
	userID       string
	experimentID string
}

type Service struct {
	store   store.Store
	tracker tracking.Tracker
	log     *logger.Logger
	now     func() time.Time

	mu          sync.RWMutex
	loaded      bool
	experiments map[string]*store.Experiment // by id
	keys        map[string]string            // key -> id
	assignments map[assignmentKey]string     // -> variant id

	rngMu sync.Mutex
	rng   *rand.Rand
}

type Option func(*Service)

func WithTracker(t tracking.Tracker) Option {
	return func(s *Service) { s.tracker = t }
}

func WithLogger(l *logger.Logger) Option {
	return func(s *Service) { s.log = l }
}

// WithRand sets the source for variant draws. Tests pass a seeded source.
func WithRand(r *rand.Rand) Option {
	return func(s *Service) { s.rng = r }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func New(st store.Store, opts ...Option) *Service {
	s := &Service{
		store:       st,
		tracker:     tracking.Nop(),
		log:         logger.Nop(),
		now:         time.Now,
		experiments: make(map[string]*store.Experiment),
		keys:        make(map[string]string),
		assignments: make(map[assignmentKey]string),
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With("component", "experiment")
	return s
}

// Refresh reloads every experiment from the store and drops cached
// assignments.
func (s *Service) Refresh(ctx context.Context) error {
	experiments, err := s.store.ListExperiments(ctx)
	if err != nil {
		return fmt.Errorf("failed to refresh experiments: %w", err)
	}

	byID := make(map[string]*store.Experiment, len(experiments))
	keys := make(map[string]string, len(experiments))
	for _, e := range experiments {
		byID[e.ID] = e
		keys[e.Key] = e.ID
	}

	s.mu.Lock()
	s.experiments = byID
	s.keys = keys
	s.assignments = make(map[assignmentKey]string)
	s.loaded = true
	s.mu.Unlock()

	s.log.Debug("experiments refreshed", "count", len(experiments))
	return nil
}

// GetExperiment reads an experiment by id or key from the store.
func (s *Service) GetExperiment(ctx context.Context, idOrKey string) (*store.Experiment, error) {
	e, err := s.load(ctx, idOrKey)
	if err != nil {
		return nil, err
	}
	return cloneExperiment(e), nil
}

func (s *Service) ListExperiments(ctx context.Context) ([]*store.Experiment, error) {
	experiments, err := s.store.ListExperiments(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list experiments: %w", err)
	}
	for _, e := range experiments {
		s.cacheExperiment(e)
	}

	out := make([]*store.Experiment, len(experiments))
	for i, e := range experiments {
		out[i] = cloneExperiment(e)
	}
	return out, nil
}

// load fetches an experiment from the store, bypassing the cache, and
// updates the cache with the result.
func (s *Service) load(ctx context.Context, idOrKey string) (*store.Experiment, error) {
	e, err := s.store.GetExperiment(ctx, idOrKey)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, idOrKey)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get experiment: %w", err)
	}
	s.cacheExperiment(cloneExperiment(e))
	return e, nil
}

// cached returns an experiment from the cache, falling back to the store
// on a miss.
func (s *Service) cached(ctx context.Context, idOrKey string) (*store.Experiment, error) {
	s.mu.RLock()
	e, ok := s.experiments[idOrKey]
	if !ok {
		if id, byKey := s.keys[idOrKey]; byKey {
			e, ok = s.experiments[id]
		}
	}
	s.mu.RUnlock()

	if ok {
		return e, nil
	}
	return s.load(ctx, idOrKey)
}

func (s *Service) cacheExperiment(e *store.Experiment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.experiments[e.ID]; ok && old.Key != e.Key {
		delete(s.keys, old.Key)
	}
	s.experiments[e.ID] = e
	s.keys[e.Key] = e.ID
}

// running returns the cached experiments with status running, loading the
// cache first if it has never been filled.
func (s *Service) running(ctx context.Context) ([]*store.Experiment, error) {
	s.mu.RLock()
	loaded := s.loaded
	s.mu.RUnlock()

	if !loaded {
		if err := s.Refresh(ctx); err != nil {
			return nil, err
		}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*store.Experiment
	for _, e := range s.experiments {
		if e.Status == store.StatusRunning {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *Service) cachedAssignment(userID, experimentID string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.assignments[assignmentKey{userID, experimentID}]
	return v, ok
}

func (s *Service) cacheAssignment(userID, experimentID, variantID string) {
	s.mu.Lock()
	s.assignments[assignmentKey{userID, experimentID}] = variantID
	s.mu.Unlock()
}

func (s *Service) draw() float64 {
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	return s.rng.Float64()
}

func (s *Service) track(ctx context.Context, name string, props map[string]any) {
	if err := s.tracker.Track(ctx, name, props); err != nil {
		s.log.Warn("failed to track event", "event", name, "error", err)
	}
}

// cloneExperiment copies an experiment so callers cannot mutate cached state.
func cloneExperiment(e *store.Experiment) *store.Experiment {
	c := *e
	if e.StartDate != nil {
		t := *e.StartDate
		c.StartDate = &t
	}
	if e.EndDate != nil {
		t := *e.EndDate
		c.EndDate = &t
	}

	c.Variants = make([]store.Variant, len(e.Variants))
	for i, v := range e.Variants {
		if v.Configuration != nil {
			cfg := make(map[string]string, len(v.Configuration))
			for k, val := range v.Configuration {
				cfg[k] = val
			}
			v.Configuration = cfg
		}
		c.Variants[i] = v
	}

	if e.Targeting != nil {
		c.Targeting = make([]store.Rule, len(e.Targeting))
		for i, r := range e.Targeting {
			r.Values = append([]string(nil), r.Values...)
			c.Targeting[i] = r
		}
	}
	if e.Metrics != nil {
		c.Metrics = append([]store.Metric(nil), e.Metrics...)
	}
	return &c
}
