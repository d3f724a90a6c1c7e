package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/scanops/sentinel/internal/domain/scanning"
	"github.com/scanops/sentinel/internal/infra/storage"
)

var _ scanning.FindingRepository = (*FindingStore)(nil)

// FindingStore implements scanning.FindingRepository on PostgreSQL. Rows are
// append-only; discovery order is preserved by an identity sequence column.
type FindingStore struct {
	db     *pgxpool.Pool
	tracer trace.Tracer
}

// NewFindingStore creates a PostgreSQL-backed finding repository with tracing.
func NewFindingStore(pool *pgxpool.Pool, tracer trace.Tracer) *FindingStore {
	return &FindingStore{db: pool, tracer: tracer}
}

const saveFindingQuery = `
INSERT INTO findings (
    id, job_id, kind, title, description, severity, target,
    confidence, exploitability, impact, discoverability, discovered_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

// SaveFinding durably records a finding.
func (r *FindingStore) SaveFinding(ctx context.Context, finding scanning.Finding) error {
	dbAttrs := append(
		defaultDBAttributes,
		attribute.String("finding_id", finding.ID().String()),
		attribute.String("job_id", finding.JobID().String()),
	)

	return storage.ExecuteAndTrace(ctx, r.tracer, "postgres.save_finding", dbAttrs, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()

		_, err := r.db.Exec(ctx, saveFindingQuery,
			pgtype.UUID{Bytes: finding.ID(), Valid: true},
			pgtype.UUID{Bytes: finding.JobID(), Valid: true},
			string(finding.Kind()),
			finding.Title(),
			finding.Description(),
			finding.Severity(),
			finding.Target(),
			finding.Confidence(),
			finding.Exploitability(),
			finding.Impact(),
			finding.Discoverability(),
			pgtype.Timestamptz{Time: finding.DiscoveredAt(), Valid: true},
		)
		if err != nil {
			return fmt.Errorf("SaveFinding insert error: %w", err)
		}
		return nil
	})
}

const listFindingsQuery = `
SELECT id, job_id, kind, title, description, severity, target,
       confidence, exploitability, impact, discoverability, discovered_at
FROM findings
WHERE job_id = $1
ORDER BY seq`

// ListFindings returns the findings recorded for a job in discovery order.
func (r *FindingStore) ListFindings(ctx context.Context, jobID uuid.UUID) ([]scanning.Finding, error) {
	dbAttrs := append(defaultDBAttributes, attribute.String("job_id", jobID.String()))

	var findings []scanning.Finding
	err := storage.ExecuteAndTrace(ctx, r.tracer, "postgres.list_findings", dbAttrs, func(ctx context.Context) error {
		rows, err := r.db.Query(ctx, listFindingsQuery, pgtype.UUID{Bytes: jobID, Valid: true})
		if err != nil {
			return fmt.Errorf("ListFindings query error: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var id, rowJobID pgtype.UUID
			var kind, title, description, severity, target string
			var confidence, exploit, impact, discover float64
			var discoveredAt pgtype.Timestamptz
			if err := rows.Scan(
				&id, &rowJobID, &kind, &title, &description, &severity, &target,
				&confidence, &exploit, &impact, &discover, &discoveredAt,
			); err != nil {
				return fmt.Errorf("ListFindings scan error: %w", err)
			}

			findings = append(findings, scanning.ReconstructFinding(
				id.Bytes,
				rowJobID.Bytes,
				scanning.FindingKind(kind),
				title, description, severity, target,
				confidence,
				discoveredAt.Time,
				exploit, impact, discover,
			))
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return findings, nil
}
