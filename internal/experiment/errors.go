package experiment

import "errors"

var (
	ErrNotFound          = errors.New("experiment not found")
	ErrInvalidExperiment = errors.New("invalid experiment definition")
	ErrInvalidTransition = errors.New("invalid status transition")
)
