package store

import "context"

// Store defines the persistence operations the experiment engine depends on
type Store interface {
	// Experiment operations
	InsertExperiment(ctx context.Context, e *Experiment) error
	UpdateExperiment(ctx context.Context, e *Experiment) error
	GetExperiment(ctx context.Context, id string) (*Experiment, error)
	ListExperiments(ctx context.Context) ([]*Experiment, error)

	// Assignment operations
	InsertAssignment(ctx context.Context, a *Assignment) error
	GetAssignment(ctx context.Context, userID, experimentID string) (*Assignment, error)
	ListActiveAssignments(ctx context.Context, filter AssignmentFilter) ([]*Assignment, error)

	// Conversion operations
	InsertConversion(ctx context.Context, c *Conversion) error
	ListConversions(ctx context.Context, experimentID string) ([]*Conversion, error)

	// Analytics events
	RecordEvent(ctx context.Context, name string, props map[string]any) error
	ListEvents(ctx context.Context, name string) ([]*Event, error)

	// Lifecycle
	Close() error
}
