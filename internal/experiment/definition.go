package experiment

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/dislink/dxp/internal/store"
)

// definitionValidate is shared; validator caches struct metadata per instance.
var definitionValidate = validator.New(validator.WithRequiredStructEnabled())

// Definition is the caller-supplied shape of a new experiment.
type Definition struct {
	Name              string          `validate:"required"`
	Key               string          // Optional; derived from Name when empty
	Description       string
	TrafficAllocation int             `validate:"gte=0,lte=100"`
	Variants          []store.Variant `validate:"required,min=1,unique=ID,dive"`
	Targeting         []store.Rule    `validate:"dive"`
	Metrics           []store.Metric  `validate:"unique=ID,dive"`
}

// Patch carries the fields UpdateExperiment merges. Nil fields are left as is.
// Status is changed only through the lifecycle methods.
type Patch struct {
	Name              *string
	Description       *string
	TrafficAllocation *int
	Variants          []store.Variant
	Targeting         []store.Rule
	Metrics           []store.Metric
	EndDate           *time.Time
}

func (d *Definition) validate() error {
	if err := definitionValidate.Struct(d); err != nil {
		return invalid(err)
	}
	return nil
}

// validateExperiment re-checks a merged experiment after an update.
func validateExperiment(e *store.Experiment) error {
	d := Definition{
		Name:              e.Name,
		TrafficAllocation: e.TrafficAllocation,
		Variants:          e.Variants,
		Targeting:         e.Targeting,
		Metrics:           e.Metrics,
	}
	return d.validate()
}

func (p Patch) apply(e *store.Experiment) {
	if p.Name != nil {
		e.Name = *p.Name
	}
	if p.Description != nil {
		e.Description = *p.Description
	}
	if p.TrafficAllocation != nil {
		e.TrafficAllocation = *p.TrafficAllocation
	}
	if p.Variants != nil {
		e.Variants = p.Variants
	}
	if p.Targeting != nil {
		e.Targeting = p.Targeting
	}
	if p.Metrics != nil {
		e.Metrics = p.Metrics
	}
	if p.EndDate != nil {
		end := *p.EndDate
		e.EndDate = &end
	}
}

func invalid(err error) error {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return fmt.Errorf("%w: %v", ErrInvalidExperiment, err)
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.TrimPrefix(fe.Namespace(), "Definition.")
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s failed %s=%s", field, fe.Tag(), fe.Param()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s failed %s", field, fe.Tag()))
		}
	}
	return fmt.Errorf("%w: %s", ErrInvalidExperiment, strings.Join(msgs, "; "))
}
