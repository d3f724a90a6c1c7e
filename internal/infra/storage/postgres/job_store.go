package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/scanops/sentinel/internal/domain/scanning"
	"github.com/scanops/sentinel/internal/infra/storage"
)

var _ scanning.JobRepository = (*JobStore)(nil)

// JobStore implements scanning.JobRepository on PostgreSQL. Snapshots are
// upserted whole; the table always holds the latest observed state per job.
type JobStore struct {
	db     *pgxpool.Pool
	tracer trace.Tracer
}

// NewJobStore creates a PostgreSQL-backed job repository with tracing.
func NewJobStore(pool *pgxpool.Pool, tracer trace.Tracer) *JobStore {
	return &JobStore{db: pool, tracer: tracer}
}

var defaultDBAttributes = []attribute.KeyValue{
	attribute.String("db.system", "postgresql"),
}

const saveJobQuery = `
INSERT INTO scan_jobs (
    job_id, plugin_name, config, status, progress, error_detail,
    enqueued_at, started_at, completed_at, updated_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
ON CONFLICT (job_id) DO UPDATE SET
    status = EXCLUDED.status,
    progress = EXCLUDED.progress,
    error_detail = EXCLUDED.error_detail,
    started_at = EXCLUDED.started_at,
    completed_at = EXCLUDED.completed_at,
    updated_at = NOW()`

// SaveJob upserts the snapshot, replacing any previous state for the job.
func (r *JobStore) SaveJob(ctx context.Context, snapshot scanning.JobSnapshot) error {
	dbAttrs := append(
		defaultDBAttributes,
		attribute.String("job_id", snapshot.JobID.String()),
		attribute.String("status", string(snapshot.Status)),
	)

	return storage.ExecuteAndTrace(ctx, r.tracer, "postgres.save_job", dbAttrs, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()

		_, err := r.db.Exec(ctx, saveJobQuery,
			pgtype.UUID{Bytes: snapshot.JobID, Valid: true},
			snapshot.PluginName,
			snapshot.Config,
			string(snapshot.Status),
			snapshot.Progress,
			pgtype.Text{String: snapshot.ErrDetail, Valid: snapshot.ErrDetail != ""},
			pgtype.Timestamptz{Time: snapshot.EnqueuedAt, Valid: true},
			pgtype.Timestamptz{Time: snapshot.StartedAt, Valid: !snapshot.StartedAt.IsZero()},
			pgtype.Timestamptz{Time: snapshot.CompletedAt, Valid: !snapshot.CompletedAt.IsZero()},
		)
		if err != nil {
			return fmt.Errorf("SaveJob upsert error: %w", err)
		}
		return nil
	})
}

const getJobQuery = `
SELECT job_id, plugin_name, config, status, progress, error_detail,
       enqueued_at, started_at, completed_at
FROM scan_jobs
WHERE job_id = $1`

// GetJob loads the last saved snapshot, or scanning.ErrJobNotFound.
func (r *JobStore) GetJob(ctx context.Context, jobID uuid.UUID) (scanning.JobSnapshot, error) {
	dbAttrs := append(defaultDBAttributes, attribute.String("job_id", jobID.String()))

	var snapshot scanning.JobSnapshot
	err := storage.ExecuteAndTrace(ctx, r.tracer, "postgres.get_job", dbAttrs, func(ctx context.Context) error {
		var (
			id          pgtype.UUID
			status      string
			errDetail   pgtype.Text
			enqueuedAt  pgtype.Timestamptz
			startedAt   pgtype.Timestamptz
			completedAt pgtype.Timestamptz
		)
		err := r.db.QueryRow(ctx, getJobQuery, pgtype.UUID{Bytes: jobID, Valid: true}).Scan(
			&id,
			&snapshot.PluginName,
			&snapshot.Config,
			&status,
			&snapshot.Progress,
			&errDetail,
			&enqueuedAt,
			&startedAt,
			&completedAt,
		)
		if errors.Is(err, pgx.ErrNoRows) {
			return scanning.ErrJobNotFound
		}
		if err != nil {
			return fmt.Errorf("GetJob query error: %w", err)
		}

		snapshot.JobID = id.Bytes
		snapshot.Status = scanning.ParseJobStatus(status)
		snapshot.ErrDetail = errDetail.String
		snapshot.EnqueuedAt = enqueuedAt.Time
		if startedAt.Valid {
			snapshot.StartedAt = startedAt.Time
		}
		if completedAt.Valid {
			snapshot.CompletedAt = completedAt.Time
		}
		return nil
	})
	if err != nil {
		return scanning.JobSnapshot{}, err
	}
	return snapshot, nil
}
