package experiment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/gosimple/slug"

	"github.com/dislink/dxp/internal/store"
)

// Status moves forward only; completed is terminal.
var transitions = map[store.Status][]store.Status{
	store.StatusDraft:   {store.StatusRunning, store.StatusCompleted},
	store.StatusRunning: {store.StatusPaused, store.StatusCompleted},
	store.StatusPaused:  {store.StatusRunning, store.StatusCompleted},
}

func canTransition(from, to store.Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// maxKeySuffix bounds the "-2", "-3", ... suffixes tried when a
// name-derived key is taken.
const maxKeySuffix = 100

// CreateExperiment validates and persists a new draft experiment and
// returns its id. A key derived from the name gets a numeric suffix when
// another experiment already uses it; an explicit key that is taken is
// rejected.
func (s *Service) CreateExperiment(ctx context.Context, def Definition) (string, error) {
	if err := def.validate(); err != nil {
		return "", err
	}

	explicit := def.Key != ""
	base := def.Key
	if !explicit {
		base = def.Name
	}
	base = slug.Make(base)
	if base == "" {
		return "", fmt.Errorf("%w: name %q has no usable characters for a key", ErrInvalidExperiment, def.Name)
	}

	now := s.now()
	e := &store.Experiment{
		ID:                uuid.NewString(),
		Key:               base,
		Name:              def.Name,
		Description:       def.Description,
		Status:            store.StatusDraft,
		TrafficAllocation: def.TrafficAllocation,
		Variants:          def.Variants,
		Targeting:         def.Targeting,
		Metrics:           def.Metrics,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	for n := 2; ; n++ {
		err := s.store.InsertExperiment(ctx, e)
		if err == nil {
			break
		}
		if !errors.Is(err, store.ErrDuplicateKey) {
			return "", fmt.Errorf("failed to create experiment: %w", err)
		}
		if explicit {
			return "", fmt.Errorf("%w: key %q already in use", ErrInvalidExperiment, base)
		}
		if n > maxKeySuffix {
			return "", fmt.Errorf("%w: no free key for %q", ErrInvalidExperiment, base)
		}
		e.Key = fmt.Sprintf("%s-%d", base, n)
	}
	s.cacheExperiment(cloneExperiment(e))

	s.log.Info("experiment created", "experiment_id", e.ID, "key", e.Key, "variants", len(e.Variants))
	return e.ID, nil
}

// UpdateExperiment merges patch into the stored experiment. Replacing the
// variants may not drop a variant that still has active assignments.
func (s *Service) UpdateExperiment(ctx context.Context, id string, patch Patch) error {
	e, err := s.load(ctx, id)
	if err != nil {
		return err
	}

	if patch.Variants != nil {
		if err := s.checkRemovedVariants(ctx, e, patch.Variants); err != nil {
			return err
		}
	}

	patch.apply(e)
	if err := validateExperiment(e); err != nil {
		return err
	}

	return s.save(ctx, e)
}

func (s *Service) checkRemovedVariants(ctx context.Context, e *store.Experiment, next []store.Variant) error {
	kept := make(map[string]bool, len(next))
	for _, v := range next {
		kept[v.ID] = true
	}

	for _, v := range e.Variants {
		if kept[v.ID] {
			continue
		}
		assigned, err := s.store.ListActiveAssignments(ctx, store.AssignmentFilter{ExperimentID: e.ID, VariantID: v.ID})
		if err != nil {
			return fmt.Errorf("failed to list assignments: %w", err)
		}
		if len(assigned) > 0 {
			return fmt.Errorf("%w: variant %q has %d active assignments", ErrInvalidExperiment, v.ID, len(assigned))
		}
	}
	return nil
}

// StartExperiment moves a draft or paused experiment to running and stamps
// the start date. Completed experiments cannot be restarted.
func (s *Service) StartExperiment(ctx context.Context, id string) error {
	return s.transition(ctx, id, store.StatusRunning, func(e *store.Experiment, now time.Time) {
		e.StartDate = &now
	})
}

// PauseExperiment stops new assignments. Existing assignments are kept.
func (s *Service) PauseExperiment(ctx context.Context, id string) error {
	return s.transition(ctx, id, store.StatusPaused, nil)
}

// CompleteExperiment ends the experiment for good and stamps the end date.
func (s *Service) CompleteExperiment(ctx context.Context, id string) error {
	return s.transition(ctx, id, store.StatusCompleted, func(e *store.Experiment, now time.Time) {
		e.EndDate = &now
	})
}

func (s *Service) transition(ctx context.Context, id string, to store.Status, stamp func(*store.Experiment, time.Time)) error {
	e, err := s.load(ctx, id)
	if err != nil {
		return err
	}

	if !canTransition(e.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, e.Status, to)
	}

	from := e.Status
	e.Status = to
	if stamp != nil {
		stamp(e, s.now())
	}

	if err := s.save(ctx, e); err != nil {
		return err
	}

	s.log.Info("experiment status changed", "experiment_id", e.ID, "from", from, "to", to)
	return nil
}

func (s *Service) save(ctx context.Context, e *store.Experiment) error {
	e.UpdatedAt = s.now()
	if err := s.store.UpdateExperiment(ctx, e); err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			return fmt.Errorf("%w: %s", ErrNotFound, e.ID)
		case errors.Is(err, store.ErrConflict):
			return fmt.Errorf("%w: %s was modified concurrently", ErrInvalidTransition, e.ID)
		}
		return fmt.Errorf("failed to update experiment: %w", err)
	}
	s.cacheExperiment(cloneExperiment(e))
	return nil
}
