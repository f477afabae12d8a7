package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/openfroyo/catletctl/pkg/engine"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db  *sql.DB
	cfg Config
}

// Config holds SQLite store configuration
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	// Set defaults
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 4
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 2
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}

	return &SQLiteStore{cfg: cfg}, nil
}

// Init opens the database with WAL mode, a busy timeout and foreign keys
// enabled on every connection.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := s.cfg.Path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=synchronous(NORMAL)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// CreateRun creates a new run record
func (s *SQLiteStore) CreateRun(ctx context.Context, run *Run) error {
	query := `
		INSERT INTO runs (id, action, status, started_at, finished_at, error)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}
	if run.Status == "" {
		run.Status = RunStatusRunning
	}

	_, err := s.db.ExecContext(ctx, query,
		run.ID,
		run.Action,
		run.Status,
		run.StartedAt.UTC(),
		utcPtr(run.FinishedAt),
		run.Error,
	)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}

	return nil
}

// GetRun retrieves a run by ID
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*Run, error) {
	query := `
		SELECT id, action, status, started_at, finished_at, error
		FROM runs
		WHERE id = ?
	`

	run := &Run{}
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&run.ID,
		&run.Action,
		&run.Status,
		&run.StartedAt,
		&run.FinishedAt,
		&run.Error,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	return run, nil
}

// FinishRun sets the final status of a run
func (s *SQLiteStore) FinishRun(ctx context.Context, id string, status RunStatus, errMsg *string) error {
	if !status.IsTerminal() {
		return fmt.Errorf("run status %q is not terminal", status)
	}

	query := `
		UPDATE runs
		SET status = ?, error = ?, finished_at = ?
		WHERE id = ?
	`

	result, err := s.db.ExecContext(ctx, query, status, errMsg, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update run status: %w", err)
	}

	return expectRow(result, "run", id)
}

// ListRuns lists runs, newest first
func (s *SQLiteStore) ListRuns(ctx context.Context, limit, offset int) ([]*Run, error) {
	query := `
		SELECT id, action, status, started_at, finished_at, error
		FROM runs
		ORDER BY started_at DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, limitOrAll(limit), offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := []*Run{}
	for rows.Next() {
		run := &Run{}
		if err := rows.Scan(
			&run.ID,
			&run.Action,
			&run.Status,
			&run.StartedAt,
			&run.FinishedAt,
			&run.Error,
		); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}

	return runs, nil
}

// GetMachine retrieves the machine record for a declared name
func (s *SQLiteStore) GetMachine(ctx context.Context, name string) (*Machine, error) {
	query := `
		SELECT name, catlet_id, project, public_key, private_key, created_at, updated_at
		FROM machines
		WHERE name = ?
	`

	m := &Machine{}
	err := s.db.QueryRowContext(ctx, query, name).Scan(
		&m.Name,
		&m.CatletID,
		&m.Project,
		&m.PublicKey,
		&m.PrivateKey,
		&m.CreatedAt,
		&m.UpdatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("machine %s: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get machine: %w", err)
	}

	return m, nil
}

// SaveMachine inserts or updates the catlet id of a machine
func (s *SQLiteStore) SaveMachine(ctx context.Context, m *Machine) error {
	if m.Name == "" {
		return fmt.Errorf("machine name is required")
	}

	query := `
		INSERT INTO machines (name, catlet_id, project, public_key, private_key, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			catlet_id = excluded.catlet_id,
			project = excluded.project,
			public_key = excluded.public_key,
			private_key = excluded.private_key,
			updated_at = excluded.updated_at
	`

	now := time.Now().UTC()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, query,
		m.Name,
		m.CatletID,
		m.Project,
		m.PublicKey,
		m.PrivateKey,
		m.CreatedAt.UTC(),
		m.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save machine: %w", err)
	}

	return nil
}

// DeleteMachine forgets a machine. Deleting an unknown machine is not an error.
func (s *SQLiteStore) DeleteMachine(ctx context.Context, name string) error {
	query := `DELETE FROM machines WHERE name = ?`

	if _, err := s.db.ExecContext(ctx, query, name); err != nil {
		return fmt.Errorf("failed to delete machine: %w", err)
	}

	return nil
}

// ListMachines lists all known machines ordered by name
func (s *SQLiteStore) ListMachines(ctx context.Context) ([]*Machine, error) {
	query := `
		SELECT name, catlet_id, project, public_key, private_key, created_at, updated_at
		FROM machines
		ORDER BY name ASC
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list machines: %w", err)
	}
	defer rows.Close()

	machines := []*Machine{}
	for rows.Next() {
		m := &Machine{}
		if err := rows.Scan(&m.Name, &m.CatletID, &m.Project, &m.PublicKey, &m.PrivateKey, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan machine: %w", err)
		}
		machines = append(machines, m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating machines: %w", err)
	}

	return machines, nil
}

// AppendOperation appends an operation to the journal
func (s *SQLiteStore) AppendOperation(ctx context.Context, rec *OperationRecord) error {
	query := `
		INSERT INTO operations (
			run_id, operation_id, catlet_name, catlet_id, action, step,
			status, message, started_at, finished_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := s.db.ExecContext(ctx, query,
		rec.RunID,
		rec.OperationID,
		rec.CatletName,
		rec.CatletID,
		rec.Action,
		rec.Step,
		rec.Status,
		rec.Message,
		rec.StartedAt.UTC(),
		rec.FinishedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to append operation: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get operation id: %w", err)
	}
	rec.ID = id

	return nil
}

// ListOperations lists journaled operations, newest first
func (s *SQLiteStore) ListOperations(ctx context.Context, filter OperationFilter) ([]*OperationRecord, error) {
	var (
		where []string
		args  []any
	)
	if filter.CatletName != "" {
		where = append(where, "catlet_name = ?")
		args = append(args, filter.CatletName)
	}
	if filter.RunID != "" {
		where = append(where, "run_id = ?")
		args = append(args, filter.RunID)
	}

	query := `
		SELECT id, run_id, operation_id, catlet_name, catlet_id, action, step,
			   status, message, started_at, finished_at
		FROM operations
	`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY started_at DESC, id DESC LIMIT ? OFFSET ?"
	args = append(args, limitOrAll(filter.Limit), filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list operations: %w", err)
	}
	defer rows.Close()

	records := []*OperationRecord{}
	for rows.Next() {
		rec := &OperationRecord{}
		if err := rows.Scan(
			&rec.ID,
			&rec.RunID,
			&rec.OperationID,
			&rec.CatletName,
			&rec.CatletID,
			&rec.Action,
			&rec.Step,
			&rec.Status,
			&rec.Message,
			&rec.StartedAt,
			&rec.FinishedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan operation: %w", err)
		}
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating operations: %w", err)
	}

	return records, nil
}

// Journal returns an engine.OperationJournal that appends to this store,
// attributing every record to runID. An empty runID records no run.
func (s *SQLiteStore) Journal(runID string) engine.OperationJournal {
	return &journal{store: s, runID: runID}
}

type journal struct {
	store *SQLiteStore
	runID string
}

func (j *journal) RecordOperation(ctx context.Context, rec engine.JournalRecord) error {
	var runID *string
	if j.runID != "" {
		runID = &j.runID
	}
	return j.store.AppendOperation(ctx, &OperationRecord{
		RunID:       runID,
		OperationID: rec.OperationID,
		CatletName:  rec.CatletName,
		CatletID:    rec.CatletID,
		Action:      rec.Action,
		Step:        rec.Step,
		Status:      rec.Status,
		Message:     rec.Message,
		StartedAt:   rec.StartedAt,
		FinishedAt:  rec.FinishedAt,
	})
}

// HealthCheck verifies the database connection is healthy
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	return s.db.PingContext(ctx)
}

func expectRow(result sql.Result, kind, id string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
	}
	return nil
}

// limitOrAll maps a non-positive limit to SQLite's "no limit".
func limitOrAll(limit int) int {
	if limit <= 0 {
		return -1
	}
	return limit
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

var _ Store = (*SQLiteStore)(nil)
