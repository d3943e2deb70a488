package scheduler

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Store is the sqlite-backed JobScheduler. One row per job, keyed by
// name; INSERT OR REPLACE gives the replace-by-unique-name contract.
type Store struct {
	db *sql.DB
}

func NewStore(dbPath string) (*Store, error) {

	// Ensure the database directory exists
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	// Ping makes sure the file is actually accessible and the DSN is valid
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to sqlite: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("could not migrate database: %w", err)
	}

	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS jobs (
			name       TEXT PRIMARY KEY,
			task_id    TEXT NOT NULL,
			category   TEXT NOT NULL,
			state      TEXT NOT NULL,
			after_name TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_jobs_state ON jobs(state);
	`)
	return err
}

func (s *Store) Enqueue(ctx context.Context, spec JobSpec) error {
	query := `INSERT OR REPLACE INTO jobs (name, task_id, category, state, after_name, created_at)
	          VALUES (?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		spec.Name,
		spec.TaskID,
		spec.Category,
		JobQueued,
		spec.After,
		time.Now().UnixNano(),
	)
	return err
}

func (s *Store) Cancel(ctx context.Context, name string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET state = ? WHERE name = ? AND state IN (?, ?)`,
		JobCancelled, name, JobQueued, JobRunning)
	return err
}

// CancelAll stops every queued or running job. Called by the queue
// manager at construction to kill leftovers from a previous process.
func (s *Store) CancelAll(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET state = ? WHERE state IN (?, ?)`,
		JobCancelled, JobQueued, JobRunning)
	return err
}

// PruneCompleted deletes every job that has reached a final state.
func (s *Store) PruneCompleted(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM jobs WHERE state IN (?, ?, ?)`,
		JobDone, JobFailed, JobCancelled)
	return err
}

// Eligible returns queued jobs whose chain predecessor, if any, is no
// longer queued or running. A pruned predecessor counts as finished.
// Results come back in creation order.
func (s *Store) Eligible(ctx context.Context) ([]Job, error) {
	query := `
		SELECT name, task_id, category, state, after_name, created_at
		FROM jobs
		WHERE state = ?
		AND (after_name = '' OR NOT EXISTS (
			SELECT 1 FROM jobs prev
			WHERE prev.name = jobs.after_name AND prev.state IN (?, ?)
		))
		ORDER BY created_at ASC`

	rows, err := s.db.QueryContext(ctx, query, JobQueued, JobQueued, JobRunning)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch eligible jobs: %w", err)
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		var j Job
		var createdAt int64
		if err := rows.Scan(&j.Name, &j.TaskID, &j.Category, &j.State, &j.After, &createdAt); err != nil {
			return nil, err
		}
		j.CreatedAt = time.Unix(0, createdAt)
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func (s *Store) GetJob(ctx context.Context, name string) (*Job, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT name, task_id, category, state, after_name, created_at FROM jobs WHERE name = ? LIMIT 1`,
		name)

	var j Job
	var createdAt int64
	if err := row.Scan(&j.Name, &j.TaskID, &j.Category, &j.State, &j.After, &createdAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to fetch job: %w", err)
	}
	j.CreatedAt = time.Unix(0, createdAt)
	return &j, nil
}

// MarkRunning claims a queued job. The state guard makes the claim
// atomic: the update reports zero affected rows if someone else got
// there first or the job was cancelled meanwhile.
func (s *Store) MarkRunning(ctx context.Context, name string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET state = ? WHERE name = ? AND state = ?`,
		JobRunning, name, JobQueued)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *Store) MarkDone(ctx context.Context, name string) error {
	return s.setState(ctx, name, JobDone)
}

func (s *Store) MarkFailed(ctx context.Context, name string) error {
	return s.setState(ctx, name, JobFailed)
}

// Requeue puts a running job back to queued, used when admission was
// denied rather than the work failing.
func (s *Store) Requeue(ctx context.Context, name string) error {
	return s.setState(ctx, name, JobQueued)
}

func (s *Store) setState(ctx context.Context, name string, state JobState) error {
	_, err := s.db.ExecContext(ctx, `UPDATE jobs SET state = ? WHERE name = ?`, state, name)
	return err
}

func (s *Store) Close() error {
	return s.db.Close()
}

var _ JobScheduler = (*Store)(nil)
