package experiment

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/dislink/dxp/internal/stats"
	"github.com/dislink/dxp/internal/store"
)

// GetExperimentResults computes per-variant statistics from all active
// assignments and recorded conversions. Completed experiments are valid input.
func (s *Service) GetExperimentResults(ctx context.Context, id string) ([]stats.VariantResult, error) {
	exp, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	var (
		assignments []*store.Assignment
		conversions []*store.Conversion
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		assignments, err = s.store.ListActiveAssignments(gctx, store.AssignmentFilter{ExperimentID: exp.ID})
		if err != nil {
			return fmt.Errorf("failed to load participants: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		conversions, err = s.store.ListConversions(gctx, exp.ID)
		if err != nil {
			return fmt.Errorf("failed to load conversions: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return stats.Analyze(exp, assignments, conversions), nil
}

// GetExperimentStats returns the aggregate view of GetExperimentResults.
func (s *Service) GetExperimentStats(ctx context.Context, id string) (stats.Summary, error) {
	results, err := s.GetExperimentResults(ctx, id)
	if err != nil {
		return stats.Summary{}, err
	}
	return stats.Summarize(results), nil
}
