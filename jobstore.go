package main

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"papercast/pipelines/deck"
)

// JobRecord is the persisted state of one submitted run. Jobs survive server
// restarts; anything left "processing" at startup is marked interrupted.
type JobRecord struct {
	ID        string     `json:"id"`
	Status    string     `json:"status"`
	Mode      string     `json:"mode"`
	PDFPath   string     `json:"-"`
	OutputDir string     `json:"output_dir,omitempty"`
	Output    string     `json:"output,omitempty"`
	Error     string     `json:"error,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	DoneAt    *time.Time `json:"done_at,omitempty"`

	// Stages is the last stage snapshot, refreshed while processing.
	Stages map[deck.Stage]deck.StageState `json:"stages,omitempty"`
}

const (
	JobQueued      = "queued"
	JobProcessing  = "processing"
	JobCompleted   = "completed"
	JobFailed      = "failed"
	JobInterrupted = "interrupted"
)

const jobSchema = `
CREATE TABLE IF NOT EXISTS jobs (
	id          TEXT PRIMARY KEY,
	status      TEXT NOT NULL,
	mode        TEXT NOT NULL,
	pdf_path    TEXT NOT NULL,
	output_dir  TEXT NOT NULL,
	output      TEXT NOT NULL DEFAULT '',
	error       TEXT NOT NULL DEFAULT '',
	stages      TEXT NOT NULL DEFAULT '{}',
	created_at  TIMESTAMP NOT NULL,
	done_at     TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_jobs_created ON jobs(created_at DESC);
`

// JobStore persists jobs in SQLite so the status endpoint answers across
// restarts.
type JobStore struct {
	db *sql.DB
}

func NewJobStore(dbPath string) (*JobStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening job database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			return nil, fmt.Errorf("executing %s: %w", pragma, err)
		}
	}
	if _, err := db.Exec(jobSchema); err != nil {
		return nil, fmt.Errorf("creating job schema: %w", err)
	}

	store := &JobStore{db: db}
	if err := store.markInterrupted(); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *JobStore) Close() error { return s.db.Close() }

// markInterrupted flags jobs that were mid-flight when the process died.
func (s *JobStore) markInterrupted() error {
	_, err := s.db.Exec(
		`UPDATE jobs SET status = ?, done_at = ? WHERE status IN (?, ?)`,
		JobInterrupted, time.Now().UTC(), JobQueued, JobProcessing,
	)
	if err != nil {
		return fmt.Errorf("marking interrupted jobs: %w", err)
	}
	return nil
}

func (s *JobStore) CreateJob(job *JobRecord) error {
	_, err := s.db.Exec(
		`INSERT INTO jobs (id, status, mode, pdf_path, output_dir, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		job.ID, job.Status, job.Mode, job.PDFPath, job.OutputDir, job.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("inserting job %s: %w", job.ID, err)
	}
	return nil
}

// SetStatus transitions a job. Terminal statuses record a completion time.
func (s *JobStore) SetStatus(jobID, status, output, errMsg string) error {
	var doneAt interface{}
	if status == JobCompleted || status == JobFailed {
		doneAt = time.Now().UTC()
	}
	_, err := s.db.Exec(
		`UPDATE jobs SET status = ?, output = ?, error = ?, done_at = ? WHERE id = ?`,
		status, output, errMsg, doneAt, jobID,
	)
	if err != nil {
		return fmt.Errorf("updating job %s: %w", jobID, err)
	}
	return nil
}

// SetStages persists the latest per-stage snapshot.
func (s *JobStore) SetStages(jobID string, stages map[deck.Stage]deck.StageState) error {
	data, err := json.Marshal(stages)
	if err != nil {
		return fmt.Errorf("encoding stage snapshot: %w", err)
	}
	if _, err := s.db.Exec(`UPDATE jobs SET stages = ? WHERE id = ?`, string(data), jobID); err != nil {
		return fmt.Errorf("updating stages for job %s: %w", jobID, err)
	}
	return nil
}

func (s *JobStore) GetJob(jobID string) (*JobRecord, error) {
	row := s.db.QueryRow(
		`SELECT id, status, mode, pdf_path, output_dir, output, error, stages, created_at, done_at
		 FROM jobs WHERE id = ?`, jobID)
	return scanJob(row)
}

// ListJobs returns the most recent jobs, newest first.
func (s *JobStore) ListJobs(limit int) ([]*JobRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(
		`SELECT id, status, mode, pdf_path, output_dir, output, error, stages, created_at, done_at
		 FROM jobs ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*JobRecord
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (*JobRecord, error) {
	var job JobRecord
	var stagesJSON string
	var doneAt sql.NullTime
	err := row.Scan(&job.ID, &job.Status, &job.Mode, &job.PDFPath, &job.OutputDir,
		&job.Output, &job.Error, &stagesJSON, &job.CreatedAt, &doneAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning job: %w", err)
	}
	if doneAt.Valid {
		job.DoneAt = &doneAt.Time
	}
	if stagesJSON != "" && stagesJSON != "{}" {
		if err := json.Unmarshal([]byte(stagesJSON), &job.Stages); err != nil {
			return nil, fmt.Errorf("decoding stage snapshot for job %s: %w", job.ID, err)
		}
	}
	return &job, nil
}
