// Copyright 2025 Erst Users
// SPDX-License-Identifier: Apache-2.0

package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/dotandev/shrinkwrap/internal/logger"
)

// Run statuses.
const (
	StatusOK     = "ok"
	StatusFailed = "failed"
)

// Run is one recorded shrink run.
type Run struct {
	ID             string        `json:"id"`
	StartedAt      time.Time     `json:"started_at"`
	Duration       time.Duration `json:"duration"`
	Source         string        `json:"source"`
	Inputs         []string      `json:"inputs"`
	Containers     int           `json:"containers"`
	BytesBefore    int64         `json:"bytes_before"`
	BytesAfter     int64         `json:"bytes_after"`
	EntriesBefore  int           `json:"entries_before"`
	EntriesAfter   int           `json:"entries_after"`
	RemovedClasses int           `json:"removed_classes"`
	RemovedMethods int           `json:"removed_methods"`
	RemovedFields  int           `json:"removed_fields"`
	Status         string        `json:"status"`
	ErrorMsg       string        `json:"error_msg,omitempty"`
}

// Store handles database operations
type Store struct {
	db *sql.DB
}

// Open opens or creates the history database at path. ":memory:" keeps it
// in memory.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create data dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}
	// A memory database lives as long as its only connection.
	db.SetMaxOpenConns(1)

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the database.
func (s *Store) Close() error { return s.db.Close() }

func initSchema(db *sql.DB) error {
	query := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		started_at INTEGER NOT NULL,
		duration_ns INTEGER NOT NULL,
		source TEXT NOT NULL,
		inputs TEXT NOT NULL,
		containers INTEGER NOT NULL,
		bytes_before INTEGER NOT NULL,
		bytes_after INTEGER NOT NULL,
		entries_before INTEGER NOT NULL,
		entries_after INTEGER NOT NULL,
		removed_classes INTEGER NOT NULL,
		removed_methods INTEGER NOT NULL,
		removed_fields INTEGER NOT NULL,
		status TEXT NOT NULL,
		error_msg TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
	CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
	`
	if _, err := db.Exec(query); err != nil {
		return fmt.Errorf("failed to init schema: %w", err)
	}
	return nil
}

// Save persists run, assigning an ID and start time when they are unset.
func (s *Store) Save(ctx context.Context, run *Run) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}
	if run.Status == "" {
		run.Status = StatusOK
	}
	inputs, err := json.Marshal(run.Inputs)
	if err != nil {
		return fmt.Errorf("failed to encode inputs: %w", err)
	}

	query := `
	INSERT INTO runs (id, started_at, duration_ns, source, inputs, containers,
		bytes_before, bytes_after, entries_before, entries_after,
		removed_classes, removed_methods, removed_fields, status, error_msg)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = s.db.ExecContext(ctx, query,
		run.ID, run.StartedAt.UnixNano(), int64(run.Duration), run.Source, string(inputs), run.Containers,
		run.BytesBefore, run.BytesAfter, run.EntriesBefore, run.EntriesAfter,
		run.RemovedClasses, run.RemovedMethods, run.RemovedFields, run.Status, run.ErrorMsg)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}
	return nil
}

const selectRuns = `SELECT id, started_at, duration_ns, source, inputs, containers,
	bytes_before, bytes_after, entries_before, entries_after,
	removed_classes, removed_methods, removed_fields, status, error_msg FROM runs`

func scanRun(rows interface{ Scan(...any) error }) (Run, error) {
	var (
		r        Run
		started  int64
		duration int64
		inputs   string
		errMsg   sql.NullString
	)
	err := rows.Scan(&r.ID, &started, &duration, &r.Source, &inputs, &r.Containers,
		&r.BytesBefore, &r.BytesAfter, &r.EntriesBefore, &r.EntriesAfter,
		&r.RemovedClasses, &r.RemovedMethods, &r.RemovedFields, &r.Status, &errMsg)
	if err != nil {
		return Run{}, err
	}
	r.StartedAt = time.Unix(0, started)
	r.Duration = time.Duration(duration)
	r.ErrorMsg = errMsg.String
	_ = json.Unmarshal([]byte(inputs), &r.Inputs)
	return r, nil
}

// Get returns the run with the given ID.
func (s *Store) Get(ctx context.Context, id string) (*Run, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("invalid run id %q: %w", id, err)
	}
	r, err := scanRun(s.db.QueryRowContext(ctx, selectRuns+" WHERE id = ?", id))
	if err != nil {
		return nil, fmt.Errorf("run %s: %w", id, err)
	}
	return &r, nil
}

// SearchParams defines the criteria for listing runs
type SearchParams struct {
	Status     string
	InputRegex string
	Since      time.Time
	Limit      int
}

// List returns matching runs, newest first.
func (s *Store) List(ctx context.Context, params SearchParams) ([]Run, error) {
	query := selectRuns + " WHERE 1=1"
	args := []any{}
	if params.Status != "" {
		query += " AND status = ?"
		args = append(args, params.Status)
	}
	if !params.Since.IsZero() {
		query += " AND started_at >= ?"
		args = append(args, params.Since.UnixNano())
	}
	query += " ORDER BY started_at DESC"

	var inputRe *regexp.Regexp
	if params.InputRegex != "" {
		var err error
		if inputRe, err = regexp.Compile(params.InputRegex); err != nil {
			return nil, fmt.Errorf("invalid input regex: %w", err)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	var results []Run
	for rows.Next() {
		if params.Limit > 0 && len(results) >= params.Limit {
			break
		}
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		if inputRe != nil && !anyMatch(inputRe, r.Inputs) {
			continue
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

func anyMatch(re *regexp.Regexp, values []string) bool {
	for _, v := range values {
		if re.MatchString(v) {
			return true
		}
	}
	return false
}

// Prune deletes runs that started before cutoff and returns how many went.
// With dryRun nothing is deleted; the count is what would have been.
func (s *Store) Prune(ctx context.Context, cutoff time.Time, dryRun bool) (int64, error) {
	if dryRun {
		var n int64
		err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM runs WHERE started_at < ?", cutoff.UnixNano()).Scan(&n)
		if err != nil {
			return 0, fmt.Errorf("count failed: %w", err)
		}
		logger.Logger.Warn("[DRY-RUN] history prune", "runs", n, "before", cutoff.Format(time.RFC3339))
		return n, nil
	}
	res, err := s.db.ExecContext(ctx, "DELETE FROM runs WHERE started_at < ?", cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("delete failed: %w", err)
	}
	return res.RowsAffected()
}
