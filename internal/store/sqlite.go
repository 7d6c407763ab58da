package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrAssignmentExists = errors.New("assignment already exists")
	ErrDuplicateKey     = errors.New("experiment key already exists")
	ErrConflict         = errors.New("experiment was modified concurrently")
)

type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS experiments (
    id TEXT PRIMARY KEY,
    slug TEXT UNIQUE NOT NULL,
    name TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL DEFAULT 'draft',
    start_date INTEGER,
    end_date INTEGER,
    traffic_allocation INTEGER NOT NULL DEFAULT 100,
    variants TEXT NOT NULL,
    targeting TEXT,
    metrics TEXT,
    created_at INTEGER NOT NULL DEFAULT (unixepoch()),
    updated_at INTEGER NOT NULL DEFAULT (unixepoch()),
    version INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_experiments_status ON experiments(status);

CREATE TABLE IF NOT EXISTS assignments (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id TEXT NOT NULL,
    experiment_id TEXT NOT NULL,
    variant_id TEXT NOT NULL,
    assigned_at INTEGER NOT NULL DEFAULT (unixepoch()),
    is_active INTEGER NOT NULL DEFAULT 1,
    FOREIGN KEY (experiment_id) REFERENCES experiments(id)
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_assignments_user_experiment ON assignments(user_id, experiment_id);
CREATE INDEX IF NOT EXISTS idx_assignments_experiment ON assignments(experiment_id, is_active);

CREATE TABLE IF NOT EXISTS conversions (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id TEXT NOT NULL,
    experiment_id TEXT NOT NULL,
    variant_id TEXT NOT NULL,
    metric_id TEXT NOT NULL,
    value REAL NOT NULL DEFAULT 1,
    converted_at INTEGER NOT NULL DEFAULT (unixepoch()),
    FOREIGN KEY (experiment_id) REFERENCES experiments(id)
);

CREATE INDEX IF NOT EXISTS idx_conversions_experiment ON conversions(experiment_id);

CREATE TABLE IF NOT EXISTS events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT NOT NULL,
    properties TEXT,
    created_at INTEGER NOT NULL DEFAULT (unixepoch())
);

CREATE INDEX IF NOT EXISTS idx_events_name ON events(name);
`

const experimentColumns = `id, slug, name, description, status, start_date, end_date, traffic_allocation,
variants, targeting, metrics, created_at, updated_at, version`

func Open(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One connection so the pragmas below apply to every query
	db.SetMaxOpenConns(1)

	// Enable WAL mode
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA synchronous=NORMAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set synchronous mode: %w", err)
	}

	// Other processes' writers wait instead of failing with SQLITE_BUSY
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	// Databases created before versioned updates lack the column
	if _, err := db.Exec(`ALTER TABLE experiments ADD COLUMN version INTEGER NOT NULL DEFAULT 0`); err != nil &&
		!strings.Contains(err.Error(), "duplicate column") {
		db.Close()
		return nil, fmt.Errorf("failed to migrate experiments: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// DB returns the underlying database connection for health checks
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

func (s *SQLiteStore) InsertExperiment(ctx context.Context, e *Experiment) error {
	variantsJSON, targetingJSON, metricsJSON, err := marshalExperimentFields(e)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO experiments (`+experimentColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Key, e.Name, e.Description, string(e.Status),
		nullableTime(e.StartDate), nullableTime(e.EndDate), e.TrafficAllocation,
		string(variantsJSON), nullableString(targetingJSON), nullableString(metricsJSON),
		e.CreatedAt.Unix(), e.UpdatedAt.Unix(), e.Version,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed: experiments.slug") {
			return ErrDuplicateKey
		}
		return fmt.Errorf("failed to insert experiment: %w", err)
	}

	return nil
}

// UpdateExperiment writes e over the stored row if the row is still at
// e.Version, then bumps e.Version. A row that moved on in the meantime
// yields ErrConflict.
func (s *SQLiteStore) UpdateExperiment(ctx context.Context, e *Experiment) error {
	variantsJSON, targetingJSON, metricsJSON, err := marshalExperimentFields(e)
	if err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE experiments SET slug = ?, name = ?, description = ?, status = ?, start_date = ?, end_date = ?,
		 traffic_allocation = ?, variants = ?, targeting = ?, metrics = ?, updated_at = ?, version = version + 1
		 WHERE id = ? AND version = ?`,
		e.Key, e.Name, e.Description, string(e.Status),
		nullableTime(e.StartDate), nullableTime(e.EndDate), e.TrafficAllocation,
		string(variantsJSON), nullableString(targetingJSON), nullableString(metricsJSON),
		e.UpdatedAt.Unix(), e.ID, e.Version,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed: experiments.slug") {
			return ErrDuplicateKey
		}
		return fmt.Errorf("failed to update experiment: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		var exists int
		err := s.db.QueryRowContext(ctx, `SELECT 1 FROM experiments WHERE id = ?`, e.ID).Scan(&exists)
		if err == sql.ErrNoRows {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to check experiment: %w", err)
		}
		return ErrConflict
	}

	e.Version++
	return nil
}

// GetExperiment looks an experiment up by id or slug.
func (s *SQLiteStore) GetExperiment(ctx context.Context, id string) (*Experiment, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+experimentColumns+` FROM experiments WHERE id = ? OR slug = ? LIMIT 1`, id, id,
	)

	e, err := scanExperiment(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get experiment: %w", err)
	}

	return e, nil
}

func (s *SQLiteStore) ListExperiments(ctx context.Context) ([]*Experiment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+experimentColumns+` FROM experiments ORDER BY created_at DESC, name`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list experiments: %w", err)
	}
	defer rows.Close()

	var experiments []*Experiment
	for rows.Next() {
		e, err := scanExperiment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan experiment: %w", err)
		}
		experiments = append(experiments, e)
	}

	return experiments, rows.Err()
}

// InsertAssignment persists a new assignment. If the (user, experiment) pair
// already has one, ErrAssignmentExists is returned and nothing is written.
func (s *SQLiteStore) InsertAssignment(ctx context.Context, a *Assignment) error {
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO assignments (user_id, experiment_id, variant_id, assigned_at, is_active)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(user_id, experiment_id) DO NOTHING`,
		a.UserID, a.ExperimentID, a.VariantID, a.AssignedAt.Unix(), a.IsActive,
	)
	if err != nil {
		return fmt.Errorf("failed to insert assignment: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrAssignmentExists
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	a.ID = id

	return nil
}

// GetAssignment returns the active assignment for a user in an experiment.
func (s *SQLiteStore) GetAssignment(ctx context.Context, userID, experimentID string) (*Assignment, error) {
	var a Assignment
	var assignedAt int64

	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, experiment_id, variant_id, assigned_at, is_active
		 FROM assignments WHERE user_id = ? AND experiment_id = ? AND is_active = 1`,
		userID, experimentID,
	).Scan(&a.ID, &a.UserID, &a.ExperimentID, &a.VariantID, &assignedAt, &a.IsActive)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get assignment: %w", err)
	}

	a.AssignedAt = time.Unix(assignedAt, 0)
	return &a, nil
}

func (s *SQLiteStore) ListActiveAssignments(ctx context.Context, filter AssignmentFilter) ([]*Assignment, error) {
	where := []string{"is_active = 1"}
	var args []any
	if filter.ExperimentID != "" {
		where = append(where, "experiment_id = ?")
		args = append(args, filter.ExperimentID)
	}
	if filter.UserID != "" {
		where = append(where, "user_id = ?")
		args = append(args, filter.UserID)
	}
	if filter.VariantID != "" {
		where = append(where, "variant_id = ?")
		args = append(args, filter.VariantID)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, experiment_id, variant_id, assigned_at, is_active
		 FROM assignments WHERE `+strings.Join(where, " AND ")+` ORDER BY id`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list assignments: %w", err)
	}
	defer rows.Close()

	var assignments []*Assignment
	for rows.Next() {
		var a Assignment
		var assignedAt int64
		if err := rows.Scan(&a.ID, &a.UserID, &a.ExperimentID, &a.VariantID, &assignedAt, &a.IsActive); err != nil {
			return nil, fmt.Errorf("failed to scan assignment: %w", err)
		}
		a.AssignedAt = time.Unix(assignedAt, 0)
		assignments = append(assignments, &a)
	}

	return assignments, rows.Err()
}

func (s *SQLiteStore) InsertConversion(ctx context.Context, c *Conversion) error {
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO conversions (user_id, experiment_id, variant_id, metric_id, value, converted_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		c.UserID, c.ExperimentID, c.VariantID, c.MetricID, c.Value, c.ConvertedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert conversion: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	c.ID = id

	return nil
}

func (s *SQLiteStore) ListConversions(ctx context.Context, experimentID string) ([]*Conversion, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, experiment_id, variant_id, metric_id, value, converted_at
		 FROM conversions WHERE experiment_id = ? ORDER BY id`,
		experimentID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversions: %w", err)
	}
	defer rows.Close()

	var conversions []*Conversion
	for rows.Next() {
		var c Conversion
		var convertedAt int64
		if err := rows.Scan(&c.ID, &c.UserID, &c.ExperimentID, &c.VariantID, &c.MetricID, &c.Value, &convertedAt); err != nil {
			return nil, fmt.Errorf("failed to scan conversion: %w", err)
		}
		c.ConvertedAt = time.Unix(convertedAt, 0)
		conversions = append(conversions, &c)
	}

	return conversions, rows.Err()
}

func (s *SQLiteStore) RecordEvent(ctx context.Context, name string, props map[string]any) error {
	var propsJSON []byte
	if len(props) > 0 {
		var err error
		propsJSON, err = json.Marshal(props)
		if err != nil {
			return fmt.Errorf("failed to marshal event properties: %w", err)
		}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events (name, properties, created_at) VALUES (?, ?, ?)`,
		name, nullableString(propsJSON), time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to record event: %w", err)
	}

	return nil
}

// ListEvents returns recorded events, newest first. An empty name lists all events.
func (s *SQLiteStore) ListEvents(ctx context.Context, name string) ([]*Event, error) {
	query := `SELECT id, name, properties, created_at FROM events`
	var args []any
	if name != "" {
		query += ` WHERE name = ?`
		args = append(args, name)
	}
	query += ` ORDER BY id DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		var e Event
		var propsJSON sql.NullString
		var createdAt int64
		if err := rows.Scan(&e.ID, &e.Name, &propsJSON, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		if propsJSON.Valid && propsJSON.String != "" {
			if err := json.Unmarshal([]byte(propsJSON.String), &e.Properties); err != nil {
				return nil, fmt.Errorf("failed to unmarshal event properties: %w", err)
			}
		}
		e.CreatedAt = time.Unix(createdAt, 0)
		events = append(events, &e)
	}

	return events, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExperiment(row rowScanner) (*Experiment, error) {
	var e Experiment
	var variantsJSON string
	var targetingJSON, metricsJSON sql.NullString
	var startDate, endDate sql.NullInt64
	var createdAt, updatedAt int64

	err := row.Scan(&e.ID, &e.Key, &e.Name, &e.Description, &e.Status, &startDate, &endDate,
		&e.TrafficAllocation, &variantsJSON, &targetingJSON, &metricsJSON, &createdAt, &updatedAt, &e.Version)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(variantsJSON), &e.Variants); err != nil {
		return nil, fmt.Errorf("failed to unmarshal variants: %w", err)
	}
	if targetingJSON.Valid && targetingJSON.String != "" {
		if err := json.Unmarshal([]byte(targetingJSON.String), &e.Targeting); err != nil {
			return nil, fmt.Errorf("failed to unmarshal targeting: %w", err)
		}
	}
	if metricsJSON.Valid && metricsJSON.String != "" {
		if err := json.Unmarshal([]byte(metricsJSON.String), &e.Metrics); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metrics: %w", err)
		}
	}

	if startDate.Valid {
		t := time.Unix(startDate.Int64, 0)
		e.StartDate = &t
	}
	if endDate.Valid {
		t := time.Unix(endDate.Int64, 0)
		e.EndDate = &t
	}

	e.CreatedAt = time.Unix(createdAt, 0)
	e.UpdatedAt = time.Unix(updatedAt, 0)

	return &e, nil
}

func marshalExperimentFields(e *Experiment) (variants, targeting, metrics []byte, err error) {
	variants, err = json.Marshal(e.Variants)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to marshal variants: %w", err)
	}

	if len(e.Targeting) > 0 {
		targeting, err = json.Marshal(e.Targeting)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to marshal targeting: %w", err)
		}
	}

	if len(e.Metrics) > 0 {
		metrics, err = json.Marshal(e.Metrics)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to marshal metrics: %w", err)
		}
	}

	return variants, targeting, metrics, nil
}

func nullableString(b []byte) sql.NullString {
	if len(b) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(b), Valid: true}
}

func nullableTime(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.Unix(), Valid: true}
}
