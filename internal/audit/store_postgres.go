package audit

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists records to the audit_records table. Inserts are
// idempotent on the record ID so a retried batch never duplicates entries.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const insertRecordSQL = `
	INSERT INTO audit_records (
		id, correlation_id, causation_id, timestamp,
		subject_id, tenant_id, roles, governor, trial_mode,
		method, path, status_code, duration_ms,
		decision, decision_reason, route_override,
		budget_spent_cents, budget_cap_cents, budget_window_key,
		error_type, error_message
	)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
	ON CONFLICT (id) DO NOTHING
`

const selectRecordSQL = `
	SELECT id, correlation_id, causation_id, timestamp,
		   subject_id, tenant_id, roles, governor, trial_mode,
		   method, path, status_code, duration_ms,
		   decision, decision_reason, route_override,
		   budget_spent_cents, budget_cap_cents, budget_window_key,
		   error_type, error_message
	FROM audit_records
`

// AppendBatch writes the whole batch in one round trip.
func (s *PostgresStore) AppendBatch(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, r := range records {
		batch.Queue(insertRecordSQL,
			r.ID, r.CorrelationID, r.CausationID, r.Timestamp,
			string(r.SubjectID), string(r.TenantID), r.Roles, r.Governor, r.TrialMode,
			r.Method, r.Path, r.StatusCode, r.DurationMS,
			r.Decision, r.DecisionReason, r.RouteOverride,
			r.BudgetSpentCents, r.BudgetCapCents, r.BudgetWindowKey,
			r.ErrorType, r.ErrorMessage,
		)
	}

	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()
	for range records {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("insert audit record: %w", err)
		}
	}
	return nil
}

// ListRecent returns the N most recent records.
func (s *PostgresStore) ListRecent(ctx context.Context, limit int) ([]Record, error) {
	rows, err := s.pool.Query(ctx, selectRecordSQL+" ORDER BY timestamp DESC LIMIT $1", limit)
	if err != nil {
		return nil, fmt.Errorf("query audit records: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// ListByCorrelation returns every record sharing one correlation id,
// oldest first, so a request's full story reads top to bottom.
func (s *PostgresStore) ListByCorrelation(ctx context.Context, correlationID string) ([]Record, error) {
	rows, err := s.pool.Query(ctx, selectRecordSQL+" WHERE correlation_id = $1 ORDER BY timestamp ASC", correlationID)
	if err != nil {
		return nil, fmt.Errorf("query audit records: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

func scanRecords(rows pgx.Rows) ([]Record, error) {
	var records []Record
	for rows.Next() {
		var r Record
		err := rows.Scan(
			&r.ID, &r.CorrelationID, &r.CausationID, &r.Timestamp,
			&r.SubjectID, &r.TenantID, &r.Roles, &r.Governor, &r.TrialMode,
			&r.Method, &r.Path, &r.StatusCode, &r.DurationMS,
			&r.Decision, &r.DecisionReason, &r.RouteOverride,
			&r.BudgetSpentCents, &r.BudgetCapCents, &r.BudgetWindowKey,
			&r.ErrorType, &r.ErrorMessage,
		)
		if err != nil {
			return nil, fmt.Errorf("scan audit record: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit records: %w", err)
	}
	return records, nil
}
