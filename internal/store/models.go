package store

import "time"

type Status string

const (
	StatusDraft     Status = "draft"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
)

type RuleKind string

const (
	RuleUserIDs RuleKind = "user_ids"
	RuleDevice  RuleKind = "device"
	RuleSegment RuleKind = "segment"
	RuleCountry RuleKind = "country"
	RuleCustom  RuleKind = "custom"
)

type MetricType string

const (
	MetricConversion MetricType = "conversion"
	MetricEngagement MetricType = "engagement"
	MetricRevenue    MetricType = "revenue"
	MetricCustom     MetricType = "custom"
)

type Direction string

const (
	DirectionIncrease Direction = "increase"
	DirectionDecrease Direction = "decrease"
	DirectionNeutral  Direction = "neutral"
)

type Experiment struct {
	ID                string
	Key               string
	Name              string
	Description       string
	Status            Status
	StartDate         *time.Time
	EndDate           *time.Time
	TrafficAllocation int
	Variants          []Variant // Stored as JSON
	Targeting         []Rule    // Stored as JSON
	Metrics           []Metric  // Stored as JSON
	CreatedAt         time.Time
	UpdatedAt         time.Time
	// Version counts persisted updates; UpdateExperiment only writes over the
	// version that was read.
	Version int64
}

// Control returns the first variant flagged as control, or nil.
func (e *Experiment) Control() *Variant {
	for i := range e.Variants {
		if e.Variants[i].IsControl {
			return &e.Variants[i]
		}
	}
	return nil
}

// Variant returns the variant with the given id, or nil.
func (e *Experiment) Variant(id string) *Variant {
	for i := range e.Variants {
		if e.Variants[i].ID == id {
			return &e.Variants[i]
		}
	}
	return nil
}

type Variant struct {
	ID            string            `json:"id" yaml:"id" validate:"required"`
	Name          string            `json:"name" yaml:"name" validate:"required"`
	Description   string            `json:"description,omitempty" yaml:"description"`
	TrafficWeight float64           `json:"traffic_weight" yaml:"traffic_weight" validate:"gte=0"`
	IsControl     bool              `json:"is_control" yaml:"is_control"`
	Configuration map[string]string `json:"configuration,omitempty" yaml:"configuration"`
}

type Rule struct {
	Kind   RuleKind `json:"kind" yaml:"kind" validate:"required"`
	Values []string `json:"values,omitempty" yaml:"values"`
}

type Metric struct {
	ID        string     `json:"id" yaml:"id" validate:"required"`
	Name      string     `json:"name" yaml:"name"`
	Type      MetricType `json:"type" yaml:"type" validate:"omitempty,oneof=conversion engagement revenue custom"`
	Direction Direction  `json:"direction" yaml:"direction" validate:"omitempty,oneof=increase decrease neutral"`
	Weight    float64    `json:"weight" yaml:"weight"`
}

type Assignment struct {
	ID           int64
	UserID       string
	ExperimentID string
	VariantID    string
	AssignedAt   time.Time
	IsActive     bool
}

type Conversion struct {
	ID           int64
	UserID       string
	ExperimentID string
	VariantID    string
	MetricID     string
	Value        float64
	ConvertedAt  time.Time
}

// AssignmentFilter narrows ListActiveAssignments. Empty fields match everything.
type AssignmentFilter struct {
	ExperimentID string
	UserID       string
	VariantID    string
}

// Event is an analytics event recorded by the store-backed tracker.
type Event struct {
	ID         int64
	Name       string
	Properties map[string]any
	CreatedAt  time.Time
}
