package experiment

import (
	"context"
	"errors"
	"fmt"

	"github.com/dislink/dxp/internal/store"
	"github.com/dislink/dxp/internal/tracking"
)

// AssignUserToExperiment returns the user's variant, creating the assignment
// on first call. ok is false when the experiment is unknown or not running,
// the user is not targeted, the user falls outside the traffic allocation, or
// the store fails. Once an assignment exists it is returned as is.
func (s *Service) AssignUserToExperiment(ctx context.Context, userID, experimentID string) (variantID string, ok bool) {
	log := s.log.With("user_id", userID, "experiment_id", experimentID)

	exp, err := s.cached(ctx, experimentID)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			log.Warn("assignment skipped: experiment lookup failed", "error", err)
		}
		return "", false
	}
	if exp.Status != store.StatusRunning {
		return "", false
	}

	if v, found, err := s.activeVariant(ctx, userID, exp.ID); err != nil {
		log.Warn("assignment skipped: assignment lookup failed", "error", err)
		return "", false
	} else if found {
		return v, true
	}

	if !Eligible(exp.Targeting, userID) {
		return "", false
	}
	if !InTraffic(userID, exp.TrafficAllocation) {
		return "", false
	}

	variant := SelectVariant(exp.Variants, s.draw())
	if variant == nil {
		log.Error("assignment skipped: experiment has no variants")
		return "", false
	}

	a := &store.Assignment{
		UserID:       userID,
		ExperimentID: exp.ID,
		VariantID:    variant.ID,
		AssignedAt:   s.now(),
		IsActive:     true,
	}
	err = s.store.InsertAssignment(ctx, a)
	if errors.Is(err, store.ErrAssignmentExists) {
		// Lost a race with a concurrent caller; converge on the stored winner
		existing, getErr := s.store.GetAssignment(ctx, userID, exp.ID)
		if getErr != nil {
			log.Warn("assignment skipped: re-fetch after conflict failed", "error", getErr)
			return "", false
		}
		s.cacheAssignment(userID, exp.ID, existing.VariantID)
		return existing.VariantID, true
	}
	if err != nil {
		log.Warn("assignment skipped: insert failed", "error", err)
		return "", false
	}

	s.cacheAssignment(userID, exp.ID, variant.ID)
	s.track(ctx, tracking.EventAssigned, map[string]any{
		"user_id":         userID,
		"experiment_id":   exp.ID,
		"experiment_name": exp.Name,
		"variant_id":      variant.ID,
	})
	log.Debug("user assigned", "variant_id", variant.ID)

	return variant.ID, true
}

// GetUserVariant looks up the user's active assignment without creating one.
func (s *Service) GetUserVariant(ctx context.Context, userID, experimentID string) (string, bool) {
	exp, err := s.cached(ctx, experimentID)
	if err != nil {
		return "", false
	}

	v, found, err := s.activeVariant(ctx, userID, exp.ID)
	if err != nil {
		s.log.Warn("variant lookup failed", "user_id", userID, "experiment_id", experimentID, "error", err)
		return "", false
	}
	return v, found
}

// VariantConfig assigns the user and returns the configuration of the
// assigned variant.
func (s *Service) VariantConfig(ctx context.Context, userID, experimentID string) (map[string]string, bool) {
	variantID, ok := s.AssignUserToExperiment(ctx, userID, experimentID)
	if !ok {
		return nil, false
	}

	cfg, err := s.Configuration(ctx, experimentID, variantID)
	if err != nil {
		s.log.Warn("variant configuration unavailable", "experiment_id", experimentID, "variant_id", variantID, "error", err)
		return nil, false
	}
	return cfg, true
}

// Configuration returns a copy of the configuration of one variant.
func (s *Service) Configuration(ctx context.Context, experimentID, variantID string) (map[string]string, error) {
	exp, err := s.cached(ctx, experimentID)
	if err != nil {
		return nil, err
	}
	v := exp.Variant(variantID)
	if v == nil {
		return nil, fmt.Errorf("%w: variant %s in %s", ErrNotFound, variantID, experimentID)
	}

	cfg := make(map[string]string, len(v.Configuration))
	for k, val := range v.Configuration {
		cfg[k] = val
	}
	return cfg, nil
}

// AssignUserToAll assigns the user to every running experiment and returns
// experiment id -> variant id for the ones the user takes part in.
func (s *Service) AssignUserToAll(ctx context.Context, userID string) (map[string]string, error) {
	experiments, err := s.running(ctx)
	if err != nil {
		return nil, err
	}

	out := make(map[string]string, len(experiments))
	for _, e := range experiments {
		if v, ok := s.AssignUserToExperiment(ctx, userID, e.ID); ok {
			out[e.ID] = v
		}
	}
	return out, nil
}

func (s *Service) activeVariant(ctx context.Context, userID, experimentID string) (string, bool, error) {
	if v, ok := s.cachedAssignment(userID, experimentID); ok {
		return v, true, nil
	}

	a, err := s.store.GetAssignment(ctx, userID, experimentID)
	if errors.Is(err, store.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}

	s.cacheAssignment(userID, experimentID, a.VariantID)
	return a.VariantID, true, nil
}
