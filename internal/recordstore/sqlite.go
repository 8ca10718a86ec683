package recordstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/grandcanyonsmith/leadmagnet-worker/internal/models"
)

// SQLiteConfig configures the single-node durable RecordStore adapter.
type SQLiteConfig struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DefaultSQLiteConfig returns sane pool defaults for a single-file
// database.
func DefaultSQLiteConfig(path string) SQLiteConfig {
	return SQLiteConfig{
		Path:            path,
		MaxOpenConns:    1, // modernc.org/sqlite serializes writers; one conn avoids SQLITE_BUSY
		MaxIdleConns:    1,
		ConnMaxLifetime: time.Hour,
	}
}

// NewSQLiteStores opens (creating if necessary) a SQLite-backed StoreSet
// covering jobs, artifacts, and usage records. Submissions, forms,
// workflows, and templates are read-only reference data in this domain
// and are expected to be seeded by whatever authoring system owns them;
// callers needing durable read access to those wrap this same *sql.DB
// with their own read path.
func NewSQLiteStores(ctx context.Context, cfg SQLiteConfig) (StoreSet, error) {
	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return StoreSet{}, fmt.Errorf("open sqlite: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	if err := migrateSQLite(ctx, db); err != nil {
		db.Close()
		return StoreSet{}, fmt.Errorf("migrate sqlite: %w", err)
	}

	return StoreSet{
		Jobs:      &sqliteJobStore{db: db},
		Artifacts: &sqliteArtifactStore{db: db},
		Usage:     &sqliteUsageStore{db: db},
		closer:    db.Close,
	}, nil
}

func migrateSQLite(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS jobs (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			data TEXT NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS artifacts (
			artifact_id TEXT PRIMARY KEY,
			job_id TEXT NOT NULL,
			data TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_artifacts_job ON artifacts(job_id)`,
		`CREATE TABLE IF NOT EXISTS usage_records (
			id TEXT PRIMARY KEY,
			job_id TEXT NOT NULL,
			data TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_usage_job ON usage_records(job_id)`,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

type sqliteJobStore struct{ db *sql.DB }

func (s *sqliteJobStore) Create(ctx context.Context, job *models.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO jobs (id, tenant_id, data, updated_at) VALUES (?, ?, ?, ?)`,
		job.ID, job.TenantID, data, time.Now())
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

func (s *sqliteJobStore) Get(ctx context.Context, id string) (*models.Job, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT data FROM jobs WHERE id = ?`, id).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select job: %w", err)
	}
	var job models.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("unmarshal job: %w", err)
	}
	return &job, nil
}

func (s *sqliteJobStore) Update(ctx context.Context, job *models.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET data = ?, updated_at = ? WHERE id = ?`,
		data, time.Now(), job.ID)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type sqliteArtifactStore struct{ db *sql.DB }

func (s *sqliteArtifactStore) Create(ctx context.Context, artifact *models.Artifact) error {
	data, err := json.Marshal(artifact)
	if err != nil {
		return fmt.Errorf("marshal artifact: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO artifacts (artifact_id, job_id, data) VALUES (?, ?, ?)`,
		artifact.ArtifactID, artifact.JobID, data)
	if err != nil {
		return fmt.Errorf("insert artifact: %w", err)
	}
	return nil
}

func (s *sqliteArtifactStore) Get(ctx context.Context, id string) (*models.Artifact, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT data FROM artifacts WHERE artifact_id = ?`, id).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select artifact: %w", err)
	}
	var artifact models.Artifact
	if err := json.Unmarshal(data, &artifact); err != nil {
		return nil, fmt.Errorf("unmarshal artifact: %w", err)
	}
	return &artifact, nil
}

func (s *sqliteArtifactStore) ListByJob(ctx context.Context, jobID string) ([]*models.Artifact, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT data FROM artifacts WHERE job_id = ?`, jobID)
	if err != nil {
		return nil, fmt.Errorf("select artifacts: %w", err)
	}
	defer rows.Close()

	var out []*models.Artifact
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan artifact: %w", err)
		}
		var artifact models.Artifact
		if err := json.Unmarshal(data, &artifact); err != nil {
			return nil, fmt.Errorf("unmarshal artifact: %w", err)
		}
		out = append(out, &artifact)
	}
	return out, rows.Err()
}

type sqliteUsageStore struct{ db *sql.DB }

func (s *sqliteUsageStore) Create(ctx context.Context, record *models.UsageRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal usage record: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO usage_records (id, job_id, data) VALUES (?, ?, ?)`,
		record.ID, record.JobID, data)
	if err != nil {
		return fmt.Errorf("insert usage record: %w", err)
	}
	return nil
}

func (s *sqliteUsageStore) ListByJob(ctx context.Context, jobID string) ([]*models.UsageRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT data FROM usage_records WHERE job_id = ?`, jobID)
	if err != nil {
		return nil, fmt.Errorf("select usage records: %w", err)
	}
	defer rows.Close()

	var out []*models.UsageRecord
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan usage record: %w", err)
		}
		var record models.UsageRecord
		if err := json.Unmarshal(data, &record); err != nil {
			return nil, fmt.Errorf("unmarshal usage record: %w", err)
		}
		out = append(out, &record)
	}
	return out, rows.Err()
}
