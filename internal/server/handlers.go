package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/dislink/dxp/internal/experiment"
	"github.com/dislink/dxp/internal/stats"
	"github.com/dislink/dxp/internal/store"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

type HealthResponse struct {
	Status           string `json:"status"`
	ExperimentsCount int    `json:"experiments_count"`
	DBSizeBytes      int64  `json:"db_size_bytes"`
	UptimeSeconds    int64  `json:"uptime_seconds"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	experiments, err := s.svc.ListExperiments(r.Context())
	if err != nil {
		s.log.Error("health check failed", "error", err)
		writeJSONError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}

	var dbSize int64
	if s.store != nil {
		row := s.store.DB().QueryRowContext(r.Context(),
			"SELECT page_count * page_size FROM pragma_page_count(), pragma_page_size()")
		if err := row.Scan(&dbSize); err != nil {
			s.log.Warn("failed to read database size", "error", err)
		}
	}

	writeJSON(w, http.StatusOK, HealthResponse{
		Status:           "ok",
		ExperimentsCount: len(experiments),
		DBSizeBytes:      dbSize,
		UptimeSeconds:    int64(time.Since(s.startTime).Seconds()),
	})
}

type AssignRequest struct {
	UserID       string `json:"user_id" validate:"required"`
	ExperimentID string `json:"experiment_id" validate:"required"`
}

type AssignResponse struct {
	Assigned      bool              `json:"assigned"`
	VariantID     string            `json:"variant_id,omitempty"`
	Configuration map[string]string `json:"configuration,omitempty"`
}

func (s *Server) handleAssign(w http.ResponseWriter, r *http.Request) {
	var req AssignRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	variantID, ok := s.svc.AssignUserToExperiment(r.Context(), req.UserID, req.ExperimentID)
	if !ok {
		writeJSON(w, http.StatusOK, AssignResponse{Assigned: false})
		return
	}

	cfg, err := s.svc.Configuration(r.Context(), req.ExperimentID, variantID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, AssignResponse{
		Assigned:      true,
		VariantID:     variantID,
		Configuration: cfg,
	})
}

// handleAssignAll assigns the user to every running experiment.
func (s *Server) handleAssignAll(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeJSONError(w, http.StatusBadRequest, "user_id parameter required")
		return
	}

	assignments, err := s.svc.AssignUserToAll(r.Context(), userID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id":     userID,
		"assignments": assignments,
	})
}

func (s *Server) handleVariant(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	userID, experimentID := q.Get("user_id"), q.Get("experiment_id")
	if userID == "" || experimentID == "" {
		writeJSONError(w, http.StatusBadRequest, "user_id and experiment_id parameters required")
		return
	}

	variantID, ok := s.svc.GetUserVariant(r.Context(), userID, experimentID)
	if !ok {
		writeJSONError(w, http.StatusNotFound, "no assignment")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"variant_id": variantID})
}

type ConvertRequest struct {
	UserID       string  `json:"user_id" validate:"required"`
	ExperimentID string  `json:"experiment_id" validate:"required"`
	MetricID     string  `json:"metric_id" validate:"required"`
	Value        float64 `json:"value" validate:"gte=0"`
}

func (s *Server) handleConvert(w http.ResponseWriter, r *http.Request) {
	var req ConvertRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Value == 0 {
		req.Value = experiment.DefaultConversionValue
	}

	s.svc.TrackConversion(r.Context(), req.UserID, req.ExperimentID, req.MetricID, req.Value)
	w.WriteHeader(http.StatusNoContent)
}

type ExperimentResponse struct {
	ID                string          `json:"id"`
	Key               string          `json:"key"`
	Name              string          `json:"name"`
	Description       string          `json:"description,omitempty"`
	Status            store.Status    `json:"status"`
	StartDate         *time.Time      `json:"start_date,omitempty"`
	EndDate           *time.Time      `json:"end_date,omitempty"`
	TrafficAllocation int             `json:"traffic_allocation"`
	Variants          []store.Variant `json:"variants"`
	Targeting         []store.Rule    `json:"targeting,omitempty"`
	Metrics           []store.Metric  `json:"metrics,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

func toExperimentResponse(e *store.Experiment) ExperimentResponse {
	return ExperimentResponse{
		ID:                e.ID,
		Key:               e.Key,
		Name:              e.Name,
		Description:       e.Description,
		Status:            e.Status,
		StartDate:         e.StartDate,
		EndDate:           e.EndDate,
		TrafficAllocation: e.TrafficAllocation,
		Variants:          e.Variants,
		Targeting:         e.Targeting,
		Metrics:           e.Metrics,
		CreatedAt:         e.CreatedAt,
		UpdatedAt:         e.UpdatedAt,
	}
}

func (s *Server) handleListExperiments(w http.ResponseWriter, r *http.Request) {
	experiments, err := s.svc.ListExperiments(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}

	status := store.Status(r.URL.Query().Get("status"))
	response := []ExperimentResponse{}
	for _, e := range experiments {
		if status != "" && e.Status != status {
			continue
		}
		response = append(response, toExperimentResponse(e))
	}
	writeJSON(w, http.StatusOK, response)
}

func (s *Server) handleGetExperiment(w http.ResponseWriter, r *http.Request) {
	e, err := s.svc.GetExperiment(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toExperimentResponse(e))
}

type CreateRequest struct {
	Name              string          `json:"name"`
	Key               string          `json:"key"`
	Description       string          `json:"description"`
	TrafficAllocation *int            `json:"traffic_allocation"`
	Variants          []store.Variant `json:"variants"`
	Targeting         []store.Rule    `json:"targeting"`
	Metrics           []store.Metric  `json:"metrics"`
}

func (s *Server) handleCreateExperiment(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	allocation := 100
	if req.TrafficAllocation != nil {
		allocation = *req.TrafficAllocation
	}

	id, err := s.svc.CreateExperiment(r.Context(), experiment.Definition{
		Name:              req.Name,
		Key:               req.Key,
		Description:       req.Description,
		TrafficAllocation: allocation,
		Variants:          req.Variants,
		Targeting:         req.Targeting,
		Metrics:           req.Metrics,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}

	e, err := s.svc.GetExperiment(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toExperimentResponse(e))
}

type UpdateRequest struct {
	Name              *string         `json:"name"`
	Description       *string         `json:"description"`
	TrafficAllocation *int            `json:"traffic_allocation"`
	Variants          []store.Variant `json:"variants"`
	Targeting         []store.Rule    `json:"targeting"`
	Metrics           []store.Metric  `json:"metrics"`
	EndDate           *time.Time      `json:"end_date"`
}

func (s *Server) handleUpdateExperiment(w http.ResponseWriter, r *http.Request) {
	var req UpdateRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	id := r.PathValue("id")
	err := s.svc.UpdateExperiment(r.Context(), id, experiment.Patch{
		Name:              req.Name,
		Description:       req.Description,
		TrafficAllocation: req.TrafficAllocation,
		Variants:          req.Variants,
		Targeting:         req.Targeting,
		Metrics:           req.Metrics,
		EndDate:           req.EndDate,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}

	e, err := s.svc.GetExperiment(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toExperimentResponse(e))
}

func (s *Server) handleTransition(fn func(ctx context.Context, id string) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		if err := fn(r.Context(), id); err != nil {
			s.writeError(w, err)
			return
		}

		e, err := s.svc.GetExperiment(r.Context(), id)
		if err != nil {
			s.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toExperimentResponse(e))
	}
}

type ResultsResponse struct {
	ExperimentID string                `json:"experiment_id"`
	Status       store.Status          `json:"status"`
	Variants     []stats.VariantResult `json:"variants"`
	Summary      stats.Summary         `json:"summary"`
}

func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	e, err := s.svc.GetExperiment(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}

	results, err := s.svc.GetExperimentResults(r.Context(), e.ID)
	if err != nil {
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, ResultsResponse{
		ExperimentID: e.ID,
		Status:       e.Status,
		Variants:     results,
		Summary:      stats.Summarize(results),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	summary, err := s.svc.GetExperimentStats(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Refresh(r.Context()); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// writeError maps engine errors to status codes. Unexpected errors are
// logged and reported without detail.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, experiment.ErrNotFound):
		writeJSONError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, experiment.ErrInvalidExperiment):
		writeJSONError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, experiment.ErrInvalidTransition):
		writeJSONError(w, http.StatusConflict, err.Error())
	default:
		s.log.Error("request failed", "error", err)
		writeJSONError(w, http.StatusInternalServerError, "internal server error")
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON")
		return false
	}
	if err := validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			writeJSONError(w, http.StatusBadRequest, verrs.Error())
			return false
		}
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
