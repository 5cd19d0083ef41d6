package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/halverson/offload/internal/task"

	_ "modernc.org/sqlite"
)

const createInvocationsTable = `
CREATE TABLE IF NOT EXISTS invocations (
    id            TEXT PRIMARY KEY,
    task_name     TEXT NOT NULL,
    state         TEXT NOT NULL,
    image_ref     TEXT,
    revision      TEXT,
    run_handle    TEXT,
    error         TEXT,
    cpu_units     INTEGER NOT NULL,
    memory_mb     INTEGER NOT NULL,
    created_at    DATETIME NOT NULL,
    dispatched_at DATETIME,
    finished_at   DATETIME
)`

const createLogLinesTable = `
CREATE TABLE IF NOT EXISTS log_lines (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    invocation_id TEXT NOT NULL,
    seq           INTEGER NOT NULL,
    line          TEXT NOT NULL,
    created_at    DATETIME NOT NULL
)`

// Compile-time interface satisfaction check.
var _ Journal = (*SQLiteJournal)(nil)

// SQLiteJournal implements Journal using SQLite.
type SQLiteJournal struct {
	db *sql.DB
}

// NewSQLiteJournal opens the SQLite database at dbPath and runs migrations.
func NewSQLiteJournal(dbPath string) (*SQLiteJournal, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	for _, stmt := range []string{createInvocationsTable, createLogLinesTable} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("create table: %w", err)
		}
	}

	return &SQLiteJournal{db: db}, nil
}

// Close closes the underlying database connection.
func (j *SQLiteJournal) Close() error {
	return j.db.Close()
}

// CreateRecord inserts a new invocation record.
func (j *SQLiteJournal) CreateRecord(ctx context.Context, rec *Record) error {
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO invocations (
			id, task_name, state, image_ref, revision, run_handle,
			error, cpu_units, memory_mb, created_at, dispatched_at, finished_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.TaskName, string(rec.State), rec.ImageRef, rec.Revision, rec.RunHandle,
		rec.Error, rec.CPUUnits, rec.MemoryMB, rec.CreatedAt, rec.DispatchedAt, rec.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("insert invocation: %w", err)
	}
	return nil
}

// GetRecord retrieves an invocation record by id.
func (j *SQLiteJournal) GetRecord(ctx context.Context, id string) (*Record, error) {
	rec := &Record{}
	var state string
	err := j.db.QueryRowContext(ctx,
		`SELECT id, task_name, state, image_ref, revision, run_handle,
			error, cpu_units, memory_mb, created_at, dispatched_at, finished_at
		FROM invocations WHERE id = ?`, id,
	).Scan(
		&rec.ID, &rec.TaskName, &state, &rec.ImageRef, &rec.Revision, &rec.RunHandle,
		&rec.Error, &rec.CPUUnits, &rec.MemoryMB, &rec.CreatedAt, &rec.DispatchedAt, &rec.FinishedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get invocation: %w", err)
	}
	rec.State = task.RunState(state)
	return rec, nil
}

// ListRecords returns a paginated list of records ordered by created_at DESC,
// along with the total count.
func (j *SQLiteJournal) ListRecords(ctx context.Context, limit, offset int) ([]*Record, int, error) {
	tx, err := j.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, 0, fmt.Errorf("begin read tx: %w", err)
	}
	defer tx.Rollback()

	var total int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM invocations").Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count invocations: %w", err)
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT id, task_name, state, image_ref, revision, run_handle,
			error, cpu_units, memory_mb, created_at, dispatched_at, finished_at
		FROM invocations ORDER BY created_at DESC LIMIT ? OFFSET ?`, limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list invocations: %w", err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		rec := &Record{}
		var state string
		if err := rows.Scan(
			&rec.ID, &rec.TaskName, &state, &rec.ImageRef, &rec.Revision, &rec.RunHandle,
			&rec.Error, &rec.CPUUnits, &rec.MemoryMB, &rec.CreatedAt, &rec.DispatchedAt, &rec.FinishedAt,
		); err != nil {
			return nil, 0, fmt.Errorf("scan invocation: %w", err)
		}
		rec.State = task.RunState(state)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate invocations: %w", err)
	}

	return records, total, nil
}

// UpdateState records an observed state change, refusing backward moves.
func (j *SQLiteJournal) UpdateState(ctx context.Context, id string, state task.RunState) error {
	current, err := j.GetRecord(ctx, id)
	if err != nil {
		return err
	}
	if current.State == state {
		return nil
	}
	if !task.ValidTransition(current.State, state) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current.State, state)
	}

	if state == task.StateRunning {
		now := time.Now().UTC()
		_, err = j.db.ExecContext(ctx,
			"UPDATE invocations SET state = ?, dispatched_at = COALESCE(dispatched_at, ?) WHERE id = ?",
			string(state), now, id,
		)
	} else {
		_, err = j.db.ExecContext(ctx,
			"UPDATE invocations SET state = ? WHERE id = ?",
			string(state), id,
		)
	}
	if err != nil {
		return fmt.Errorf("update invocation state: %w", err)
	}
	return nil
}

// SetArtifacts records the artifacts produced as the lifecycle advances.
// Empty values leave the stored ones untouched.
func (j *SQLiteJournal) SetArtifacts(ctx context.Context, id, imageRef, revision, runHandle string) error {
	res, err := j.db.ExecContext(ctx,
		`UPDATE invocations SET
			image_ref = COALESCE(NULLIF(?, ''), image_ref),
			revision = COALESCE(NULLIF(?, ''), revision),
			run_handle = COALESCE(NULLIF(?, ''), run_handle),
			dispatched_at = CASE WHEN ? != '' THEN COALESCE(dispatched_at, ?) ELSE dispatched_at END
		WHERE id = ?`,
		imageRef, revision, runHandle, runHandle, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("set invocation artifacts: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// FinishRecord marks an invocation terminal with an optional error message.
func (j *SQLiteJournal) FinishRecord(ctx context.Context, id string, state task.RunState, errMsg string) error {
	if !state.Terminal() {
		return fmt.Errorf("%w: %s is not terminal", ErrInvalidTransition, state)
	}

	res, err := j.db.ExecContext(ctx,
		"UPDATE invocations SET state = ?, error = ?, finished_at = ? WHERE id = ?",
		string(state), errMsg, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("finish invocation: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// InsertLogLine persists one diagnostic log line for an invocation.
func (j *SQLiteJournal) InsertLogLine(ctx context.Context, invocationID string, seq int, line string) error {
	_, err := j.db.ExecContext(ctx,
		"INSERT INTO log_lines (invocation_id, seq, line, created_at) VALUES (?, ?, ?, ?)",
		invocationID, seq, line, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert log line: %w", err)
	}
	return nil
}

// LogLines returns the persisted log lines for an invocation in sequence order.
func (j *SQLiteJournal) LogLines(ctx context.Context, invocationID string) ([]LogLine, error) {
	rows, err := j.db.QueryContext(ctx,
		"SELECT id, invocation_id, seq, line, created_at FROM log_lines WHERE invocation_id = ? ORDER BY seq ASC",
		invocationID,
	)
	if err != nil {
		return nil, fmt.Errorf("get log lines: %w", err)
	}
	defer rows.Close()

	var lines []LogLine
	for rows.Next() {
		var l LogLine
		if err := rows.Scan(&l.ID, &l.InvocationID, &l.Seq, &l.Line, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan log line: %w", err)
		}
		lines = append(lines, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate log lines: %w", err)
	}
	return lines, nil
}

// Stats aggregates invocation counts by state and task name.
func (j *SQLiteJournal) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{
		CountByState: make(map[string]int),
		CountByTask:  make(map[string]int),
	}

	rows, err := j.db.QueryContext(ctx, "SELECT state, COUNT(*) FROM invocations GROUP BY state")
	if err != nil {
		return nil, fmt.Errorf("count by state: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var state string
		var count int
		if err := rows.Scan(&state, &count); err != nil {
			return nil, fmt.Errorf("scan state count: %w", err)
		}
		stats.CountByState[state] = count
		stats.Total += count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate state counts: %w", err)
	}

	taskRows, err := j.db.QueryContext(ctx, "SELECT task_name, COUNT(*) FROM invocations GROUP BY task_name")
	if err != nil {
		return nil, fmt.Errorf("count by task: %w", err)
	}
	defer taskRows.Close()
	for taskRows.Next() {
		var name string
		var count int
		if err := taskRows.Scan(&name, &count); err != nil {
			return nil, fmt.Errorf("scan task count: %w", err)
		}
		stats.CountByTask[name] = count
	}
	if err := taskRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate task counts: %w", err)
	}

	return stats, nil
}
