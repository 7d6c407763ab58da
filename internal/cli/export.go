package cli

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/dislink/dxp/internal/store"
)

func newExportCmd(opts *options) *cobra.Command {
	var (
		format string
		data   string
	)

	cmd := &cobra.Command{
		Use:   "export <id|key>",
		Short: "Export raw assignment and conversion data",
		Long: `Export raw assignment or conversion rows in CSV, or both in JSON.

Examples:
  dxp export profile-qr-prompt --format csv --data conversions > conversions.csv
  dxp export profile-qr-prompt --format json > qr-prompt.json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if format != "csv" && format != "json" {
				return fmt.Errorf("invalid format: must be 'csv' or 'json'")
			}
			if data != "assignments" && data != "conversions" {
				return fmt.Errorf("invalid data: must be 'assignments' or 'conversions'")
			}

			return withService(cmd.Context(), opts, func(rt *runtime) error {
				ctx := cmd.Context()

				e, err := rt.svc.GetExperiment(ctx, args[0])
				if err != nil {
					return err
				}

				assignments, conversions, err := loadExport(ctx, rt.store, e.ID)
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				if format == "json" {
					return exportJSON(out, e, assignments, conversions)
				}
				if data == "conversions" {
					return exportConversionsCSV(out, conversions)
				}
				return exportAssignmentsCSV(out, assignments)
			})
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "csv", "output format (csv or json)")
	cmd.Flags().StringVar(&data, "data", "assignments", "rows to export as CSV (assignments or conversions)")
	return cmd
}

func loadExport(ctx context.Context, s store.Store, experimentID string) ([]*store.Assignment, []*store.Conversion, error) {
	assignments, err := s.ListActiveAssignments(ctx, store.AssignmentFilter{ExperimentID: experimentID})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get assignments: %w", err)
	}
	conversions, err := s.ListConversions(ctx, experimentID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get conversions: %w", err)
	}
	return assignments, conversions, nil
}

func exportAssignmentsCSV(out io.Writer, assignments []*store.Assignment) error {
	w := csv.NewWriter(out)

	if err := w.Write([]string{"timestamp", "user_id", "variant_id"}); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	for _, a := range assignments {
		row := []string{
			strconv.FormatInt(a.AssignedAt.Unix(), 10),
			a.UserID,
			a.VariantID,
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("failed to write row: %w", err)
		}
	}

	w.Flush()
	return w.Error()
}

func exportConversionsCSV(out io.Writer, conversions []*store.Conversion) error {
	w := csv.NewWriter(out)

	if err := w.Write([]string{"timestamp", "user_id", "variant_id", "metric_id", "value"}); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	for _, c := range conversions {
		row := []string{
			strconv.FormatInt(c.ConvertedAt.Unix(), 10),
			c.UserID,
			c.VariantID,
			c.MetricID,
			strconv.FormatFloat(c.Value, 'f', -1, 64),
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("failed to write row: %w", err)
		}
	}

	w.Flush()
	return w.Error()
}

type jsonExport struct {
	ExperimentID string           `json:"experiment_id"`
	Key          string           `json:"key"`
	Assignments  []jsonAssignment `json:"assignments"`
	Conversions  []jsonConversion `json:"conversions"`
}

type jsonAssignment struct {
	Timestamp int64  `json:"timestamp"`
	UserID    string `json:"user_id"`
	VariantID string `json:"variant_id"`
}

type jsonConversion struct {
	Timestamp int64   `json:"timestamp"`
	UserID    string  `json:"user_id"`
	VariantID string  `json:"variant_id"`
	MetricID  string  `json:"metric_id"`
	Value     float64 `json:"value"`
}

func exportJSON(out io.Writer, e *store.Experiment, assignments []*store.Assignment, conversions []*store.Conversion) error {
	export := jsonExport{
		ExperimentID: e.ID,
		Key:          e.Key,
		Assignments:  make([]jsonAssignment, len(assignments)),
		Conversions:  make([]jsonConversion, len(conversions)),
	}

	for i, a := range assignments {
		export.Assignments[i] = jsonAssignment{
			Timestamp: a.AssignedAt.Unix(),
			UserID:    a.UserID,
			VariantID: a.VariantID,
		}
	}
	for i, c := range conversions {
		export.Conversions[i] = jsonConversion{
			Timestamp: c.ConvertedAt.Unix(),
			UserID:    c.UserID,
			VariantID: c.VariantID,
			MetricID:  c.MetricID,
			Value:     c.Value,
		}
	}

	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(export)
}
