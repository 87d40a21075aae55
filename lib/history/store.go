// Copyright 2026 The Masa Authors
// SPDX-License-Identifier: Apache-2.0

// Package history persists run outcomes to a local SQLite database.
//
// The runner records a row when a run starts, appends job and
// artifact rows as jobs complete, and finalizes the run row with its
// conclusion. The per-run result.cbor file under the state directory
// is the source of truth; the database exists so that `masa run
// list` and `masa run show` answer without scanning the state
// directory, and so old runs can be pruned by age in one statement.
package history

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/masa-foundation/masa/lib/clock"
	"github.com/masa-foundation/masa/lib/sqlitepool"
)

// ErrNotFound is returned by Get when no run has the requested ID.
var ErrNotFound = errors.New("run not found")

// schema creates the history tables. Job and artifact rows reference
// their run with ON DELETE CASCADE so Prune only touches the runs
// table directly.
const schema = `
	CREATE TABLE IF NOT EXISTS runs (
		id         TEXT PRIMARY KEY,
		workflow   TEXT NOT NULL,
		ref        TEXT NOT NULL DEFAULT '',
		kind       TEXT NOT NULL DEFAULT '',
		conclusion TEXT NOT NULL DEFAULT '',
		created    INTEGER NOT NULL,
		finished   INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_runs_created ON runs(created);
	CREATE INDEX IF NOT EXISTS idx_runs_workflow ON runs(workflow, created);

	CREATE TABLE IF NOT EXISTS jobs (
		run_id     TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		job        TEXT NOT NULL,
		conclusion TEXT NOT NULL,
		started    INTEGER,
		finished   INTEGER,
		PRIMARY KEY (run_id, job)
	);

	CREATE TABLE IF NOT EXISTS artifacts (
		run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
		job    TEXT NOT NULL,
		name   TEXT NOT NULL,
		ref    TEXT NOT NULL,
		files  INTEGER NOT NULL,
		size   INTEGER NOT NULL,
		PRIMARY KEY (run_id, job, name)
	);
	CREATE INDEX IF NOT EXISTS idx_artifacts_ref ON artifacts(ref);
`

// Run is one row in the runs table. Conclusion is empty and Finished
// is zero while the run is still executing.
type Run struct {
	ID         string
	Workflow   string
	Ref        string
	Kind       string
	Conclusion string
	Created    time.Time
	Finished   time.Time
}

// Job is one row in the jobs table. Started and Finished are zero
// for skipped jobs.
type Job struct {
	RunID      string
	Job        string
	Conclusion string
	Started    time.Time
	Finished   time.Time
}

// Artifact is one row in the artifacts table: a single published
// artifact with its content-addressed store ref.
type Artifact struct {
	RunID string
	Job   string
	Name  string
	Ref   string
	Files int
	Size  int64
}

// RunDetail is a run together with its job and artifact rows, as
// returned by Get.
type RunDetail struct {
	Run       Run
	Jobs      []Job
	Artifacts []Artifact
}

// Config holds the parameters for opening a history store.
type Config struct {
	// Path is the filesystem path to the SQLite database file. The
	// parent directory must exist. Required.
	Path string

	// PoolSize is the number of connections in the pool. Defaults
	// to 4 if zero or negative.
	PoolSize int

	// Clock provides the current time for prune cutoffs. Defaults
	// to the real clock.
	Clock clock.Clock

	// Logger receives operational messages. If nil, a no-op logger
	// is used.
	Logger *slog.Logger
}

// Store is the run history database. Safe for concurrent use.
type Store struct {
	pool   *sqlitepool.Pool
	clock  clock.Clock
	logger *slog.Logger
}

// Open creates or opens the history database at cfg.Path and ensures
// the schema exists. The caller must call Close when done.
func Open(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("history: Path is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real()
	}

	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 4
	}

	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:     cfg.Path,
		PoolSize: poolSize,
		Logger:   logger,
		OnConnect: func(conn *sqlite.Conn) error {
			return sqlitex.ExecuteScript(conn, schema, nil)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}

	return &Store{
		pool:   pool,
		clock:  clk,
		logger: logger,
	}, nil
}

// Close closes the underlying connection pool. Blocks until all
// borrowed connections are returned.
func (s *Store) Close() error {
	return s.pool.Close()
}

// RecordRun inserts the run row when a run starts. Conclusion and
// Finished are left empty; FinishRun fills them when the run ends.
func (s *Store) RecordRun(ctx context.Context, run Run) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("history: record run: %w", err)
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn,
		`INSERT INTO runs (id, workflow, ref, kind, conclusion, created, finished)
		 VALUES (?, ?, ?, ?, ?, ?, NULL)`,
		&sqlitex.ExecOptions{
			Args: []any{
				run.ID,
				run.Workflow,
				run.Ref,
				run.Kind,
				run.Conclusion,
				run.Created.UnixMilli(),
			},
		})
	if err != nil {
		return fmt.Errorf("history: record run %s: %w", run.ID, err)
	}
	return nil
}

// FinishRun sets the conclusion and finish time on an existing run
// row. Returns an error when no run has the given ID.
func (s *Store) FinishRun(ctx context.Context, runID, conclusion string, finished time.Time) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("history: finish run: %w", err)
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn,
		"UPDATE runs SET conclusion = ?, finished = ? WHERE id = ?",
		&sqlitex.ExecOptions{
			Args: []any{conclusion, finished.UnixMilli(), runID},
		})
	if err != nil {
		return fmt.Errorf("history: finish run %s: %w", runID, err)
	}
	if conn.Changes() == 0 {
		return fmt.Errorf("history: finish run %s: %w", runID, ErrNotFound)
	}
	return nil
}

// RecordJob inserts or replaces a job row. Called once per job as it
// completes (including skipped jobs, which carry zero timestamps).
func (s *Store) RecordJob(ctx context.Context, job Job) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("history: record job: %w", err)
	}
	defer s.pool.Put(conn)

	var started, finished any
	if !job.Started.IsZero() {
		started = job.Started.UnixMilli()
	}
	if !job.Finished.IsZero() {
		finished = job.Finished.UnixMilli()
	}

	err = sqlitex.Execute(conn,
		`INSERT OR REPLACE INTO jobs (run_id, job, conclusion, started, finished)
		 VALUES (?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{
			Args: []any{job.RunID, job.Job, job.Conclusion, started, finished},
		})
	if err != nil {
		return fmt.Errorf("history: record job %s/%s: %w", job.RunID, job.Job, err)
	}
	return nil
}

// RecordArtifact inserts or replaces an artifact row for a published
// artifact.
func (s *Store) RecordArtifact(ctx context.Context, artifact Artifact) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("history: record artifact: %w", err)
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn,
		`INSERT OR REPLACE INTO artifacts (run_id, job, name, ref, files, size)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{
			Args: []any{
				artifact.RunID,
				artifact.Job,
				artifact.Name,
				artifact.Ref,
				artifact.Files,
				artifact.Size,
			},
		})
	if err != nil {
		return fmt.Errorf("history: record artifact %s/%s: %w", artifact.RunID, artifact.Name, err)
	}
	return nil
}

// ListFilter narrows a List query. Zero-valued fields are not
// applied.
type ListFilter struct {
	// Workflow restricts results to runs of one workflow.
	Workflow string

	// Limit caps the number of returned runs. Defaults to 50 when
	// zero or negative.
	Limit int
}

// List returns runs newest first.
func (s *Store) List(ctx context.Context, filter ListFilter) ([]Run, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("history: list runs: %w", err)
	}
	defer s.pool.Put(conn)

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}

	var conditions []string
	var args []any
	if filter.Workflow != "" {
		conditions = append(conditions, "workflow = ?")
		args = append(args, filter.Workflow)
	}

	query := "SELECT id, workflow, ref, kind, conclusion, created, finished FROM runs"
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created DESC, id DESC LIMIT ?"
	args = append(args, limit)

	var runs []Run
	err = sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			runs = append(runs, scanRun(stmt))
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("history: list runs: %w", err)
	}
	return runs, nil
}

// Get returns a run with its job and artifact rows. Returns
// ErrNotFound (wrapped) when no run has the given ID.
func (s *Store) Get(ctx context.Context, runID string) (*RunDetail, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("history: get run: %w", err)
	}
	defer s.pool.Put(conn)

	var detail *RunDetail
	err = sqlitex.Execute(conn,
		"SELECT id, workflow, ref, kind, conclusion, created, finished FROM runs WHERE id = ?",
		&sqlitex.ExecOptions{
			Args: []any{runID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				detail = &RunDetail{Run: scanRun(stmt)}
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("history: get run %s: %w", runID, err)
	}
	if detail == nil {
		return nil, fmt.Errorf("history: get run %s: %w", runID, ErrNotFound)
	}

	err = sqlitex.Execute(conn,
		`SELECT run_id, job, conclusion, started, finished FROM jobs
		 WHERE run_id = ? ORDER BY job`,
		&sqlitex.ExecOptions{
			Args: []any{runID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				job := Job{
					RunID:      stmt.ColumnText(0),
					Job:        stmt.ColumnText(1),
					Conclusion: stmt.ColumnText(2),
				}
				if !stmt.ColumnIsNull(3) {
					job.Started = time.UnixMilli(stmt.ColumnInt64(3)).UTC()
				}
				if !stmt.ColumnIsNull(4) {
					job.Finished = time.UnixMilli(stmt.ColumnInt64(4)).UTC()
				}
				detail.Jobs = append(detail.Jobs, job)
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("history: get run %s jobs: %w", runID, err)
	}

	err = sqlitex.Execute(conn,
		`SELECT run_id, job, name, ref, files, size FROM artifacts
		 WHERE run_id = ? ORDER BY job, name`,
		&sqlitex.ExecOptions{
			Args: []any{runID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				detail.Artifacts = append(detail.Artifacts, Artifact{
					RunID: stmt.ColumnText(0),
					Job:   stmt.ColumnText(1),
					Name:  stmt.ColumnText(2),
					Ref:   stmt.ColumnText(3),
					Files: stmt.ColumnInt(4),
					Size:  stmt.ColumnInt64(5),
				})
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("history: get run %s artifacts: %w", runID, err)
	}

	return detail, nil
}

// ArtifactRefs returns the store refs of every artifact row. Used by
// garbage collection to build the live set alongside tag targets.
func (s *Store) ArtifactRefs(ctx context.Context) ([]string, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("history: artifact refs: %w", err)
	}
	defer s.pool.Put(conn)

	var refs []string
	err = sqlitex.Execute(conn,
		"SELECT DISTINCT ref FROM artifacts ORDER BY ref",
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				refs = append(refs, stmt.ColumnText(0))
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("history: artifact refs: %w", err)
	}
	return refs, nil
}

// Prune deletes runs created before now minus olderThan. Job and
// artifact rows cascade. Returns the number of deleted runs.
func (s *Store) Prune(ctx context.Context, olderThan time.Duration) (int, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return 0, fmt.Errorf("history: prune: %w", err)
	}
	defer s.pool.Put(conn)

	cutoff := s.clock.Now().Add(-olderThan).UnixMilli()

	err = sqlitex.Execute(conn,
		"DELETE FROM runs WHERE created < ?",
		&sqlitex.ExecOptions{
			Args: []any{cutoff},
		})
	if err != nil {
		return 0, fmt.Errorf("history: prune: %w", err)
	}

	deleted := conn.Changes()
	if deleted > 0 {
		s.logger.Info("history pruned",
			"deleted_runs", deleted,
			"older_than", olderThan.String(),
		)
	}
	return deleted, nil
}

// scanRun reads one runs row from a statement. Columns: id(0),
// workflow(1), ref(2), kind(3), conclusion(4), created(5),
// finished(6).
func scanRun(stmt *sqlite.Stmt) Run {
	run := Run{
		ID:         stmt.ColumnText(0),
		Workflow:   stmt.ColumnText(1),
		Ref:        stmt.ColumnText(2),
		Kind:       stmt.ColumnText(3),
		Conclusion: stmt.ColumnText(4),
		Created:    time.UnixMilli(stmt.ColumnInt64(5)).UTC(),
	}
	if !stmt.ColumnIsNull(6) {
		run.Finished = time.UnixMilli(stmt.ColumnInt64(6)).UTC()
	}
	return run
}
