package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dunamismax/printstudio/internal/domain"
	_ "github.com/lib/pq"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS stylization_jobs (
	id TEXT PRIMARY KEY,
	task_id TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	style_code TEXT NOT NULL,
	budget TEXT NOT NULL,
	attempt INTEGER NOT NULL DEFAULT 0,
	max_attempts INTEGER NOT NULL,
	progress TEXT NOT NULL DEFAULT '',
	result_url TEXT NOT NULL DEFAULT '',
	result_key TEXT NOT NULL DEFAULT '',
	error_kind TEXT NOT NULL DEFAULT '',
	error_message TEXT NOT NULL DEFAULT '',
	webhook_url TEXT NOT NULL DEFAULT '',
	upload_key TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS stylization_usage (
	job_id TEXT NOT NULL,
	style_code TEXT NOT NULL,
	status TEXT NOT NULL,
	polls INTEGER NOT NULL,
	upload_bytes BIGINT NOT NULL,
	elapsed_ms BIGINT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);
`

const jobColumns = `id, task_id, status, style_code, budget, attempt, max_attempts, progress,
	result_url, result_key, error_kind, error_message, webhook_url, upload_key, created_at, updated_at`

type PostgresJobStore struct {
	db *sql.DB
}

func NewPostgresJobStore(ctx context.Context, dsn string) (*PostgresJobStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	store := &PostgresJobStore{db: db}
	if err := store.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

func (s *PostgresJobStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure stylization schema: %w", err)
	}
	return nil
}

func (s *PostgresJobStore) Close() error {
	return s.db.Close()
}

func (s *PostgresJobStore) Create(ctx context.Context, job domain.StylizationJob) error {
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO stylization_jobs (`+jobColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		job.ID,
		job.TaskID,
		job.Status,
		job.StyleCode,
		job.Budget,
		job.Attempt,
		job.MaxAttempts,
		job.Progress,
		job.ResultURL,
		job.ResultKey,
		job.ErrorKind,
		job.ErrorMessage,
		job.WebhookURL,
		job.UploadKey,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert stylization job: %w", err)
	}
	return nil
}

func (s *PostgresJobStore) Get(ctx context.Context, id string) (domain.StylizationJob, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM stylization_jobs WHERE id = $1`, id)

	var job domain.StylizationJob
	if err := row.Scan(
		&job.ID,
		&job.TaskID,
		&job.Status,
		&job.StyleCode,
		&job.Budget,
		&job.Attempt,
		&job.MaxAttempts,
		&job.Progress,
		&job.ResultURL,
		&job.ResultKey,
		&job.ErrorKind,
		&job.ErrorMessage,
		&job.WebhookURL,
		&job.UploadKey,
		&job.CreatedAt,
		&job.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.StylizationJob{}, false, nil
		}
		return domain.StylizationJob{}, false, fmt.Errorf("query stylization job: %w", err)
	}

	return job, true, nil
}

func (s *PostgresJobStore) Save(ctx context.Context, job domain.StylizationJob) error {
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE stylization_jobs
		 SET task_id = $2, status = $3, attempt = $4, progress = $5, result_url = $6,
		     result_key = $7, error_kind = $8, error_message = $9, updated_at = $10
		 WHERE id = $1`,
		job.ID,
		job.TaskID,
		job.Status,
		job.Attempt,
		job.Progress,
		job.ResultURL,
		job.ResultKey,
		job.ErrorKind,
		job.ErrorMessage,
		job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update stylization job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update stylization job: %w", err)
	}
	if n == 0 {
		return ErrJobNotFound
	}
	return nil
}

func (s *PostgresJobStore) CreateUsageLog(ctx context.Context, usage domain.UsageLog) error {
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO stylization_usage (job_id, style_code, status, polls, upload_bytes, elapsed_ms, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		usage.JobID,
		usage.StyleCode,
		usage.Status,
		usage.Polls,
		usage.UploadBytes,
		usage.ElapsedMS,
		usage.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert usage log: %w", err)
	}
	return nil
}
