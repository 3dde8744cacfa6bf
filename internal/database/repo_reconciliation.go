package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/agentboard/controlplane/internal/models"
)

// RecordReconciliationRun upserts the bookkeeping row for a (kind, gateway)
// pair, overwriting whatever the previous run left behind — only the most
// recent firing of each periodic job is ever kept.
func (db *DB) RecordReconciliationRun(ctx context.Context, r *models.ReconciliationRun) error {
	_, err := db.SQL.ExecContext(ctx, `
		INSERT INTO reconciliation_runs (kind, gateway_id, ran_at, succeeded, detail)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (kind, gateway_id) DO UPDATE SET
			ran_at = excluded.ran_at,
			succeeded = excluded.succeeded,
			detail = excluded.detail`,
		r.Kind, r.GatewayID, r.RanAt, r.Succeeded, r.Detail,
	)
	if err != nil {
		return fmt.Errorf("failed to record reconciliation run: %w", err)
	}
	return nil
}

func scanReconciliationRun(row interface{ Scan(...any) error }) (*models.ReconciliationRun, error) {
	r := &models.ReconciliationRun{}
	err := row.Scan(&r.Kind, &r.GatewayID, &r.RanAt, &r.Succeeded, &r.Detail)
	return r, err
}

// GetReconciliationRun returns the last recorded run for a kind/gateway
// pair, or nil if the job has never fired.
func (db *DB) GetReconciliationRun(ctx context.Context, kind, gatewayID string) (*models.ReconciliationRun, error) {
	r, err := scanReconciliationRun(db.SQL.QueryRowContext(ctx, `
		SELECT kind, gateway_id, ran_at, succeeded, detail
		FROM reconciliation_runs WHERE kind = ? AND gateway_id = ?`, kind, gatewayID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get reconciliation run: %w", err)
	}
	return r, nil
}

// ListReconciliationRuns returns every bookkeeping row, the set
// /gateways/status surfaces so the periodic jobs are observable.
func (db *DB) ListReconciliationRuns(ctx context.Context) ([]*models.ReconciliationRun, error) {
	rows, err := db.SQL.QueryContext(ctx, `
		SELECT kind, gateway_id, ran_at, succeeded, detail
		FROM reconciliation_runs ORDER BY kind, gateway_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list reconciliation runs: %w", err)
	}
	defer rows.Close()

	var out []*models.ReconciliationRun
	for rows.Next() {
		r, err := scanReconciliationRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan reconciliation run: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
