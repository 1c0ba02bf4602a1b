package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/saltfish/freqsweep/internal/db"
	"github.com/saltfish/freqsweep/internal/domain"
)

// batchSQLite implements BatchRepository on a local SQLite file.
type batchSQLite struct {
	db *db.SQLite
}

// NewSQLiteBatchRepository creates a batch repository backed by SQLite.
func NewSQLiteBatchRepository(conn *db.SQLite) BatchRepository {
	return &batchSQLite{db: conn}
}

func (r *batchSQLite) Save(ctx context.Context, result *domain.BatchResult) error {
	rw, err := toRow(result)
	if err != nil {
		return err
	}

	return r.db.WithTx(ctx, func(tx *sql.Tx) error {
		s := rw.summary
		_, err := tx.ExecContext(ctx, `
			INSERT INTO batches (
				id, started_at, finished_at, elapsed_ms,
				total, validated, failed, cancelled, result
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET
				started_at = excluded.started_at,
				finished_at = excluded.finished_at,
				elapsed_ms = excluded.elapsed_ms,
				total = excluded.total,
				validated = excluded.validated,
				failed = excluded.failed,
				cancelled = excluded.cancelled,
				result = excluded.result
		`,
			s.ID.String(), s.StartedAt, s.FinishedAt, s.Elapsed.Milliseconds(),
			s.Total, s.Validated, s.Failed, s.Cancelled, string(rw.result),
		)
		if err != nil {
			return fmt.Errorf("failed to save batch: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM unit_outcomes WHERE batch_id = ?`, s.ID.String()); err != nil {
			return fmt.Errorf("failed to clear unit outcomes: %w", err)
		}

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO unit_outcomes (
				id, batch_id, position, unit_id, strategy, timeframe, state, profit, metrics
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare unit insert: %w", err)
		}
		defer stmt.Close()

		for _, u := range rw.units {
			var metrics interface{}
			if u.metrics != nil {
				metrics = string(u.metrics)
			}
			if _, err := stmt.ExecContext(ctx,
				u.id, s.ID.String(), u.position, u.outcome.Unit.ID(),
				u.outcome.Unit.Strategy, u.outcome.Unit.Timeframe,
				u.outcome.State.String(), u.profit, metrics,
			); err != nil {
				return fmt.Errorf("failed to save unit outcome %s: %w", u.outcome.Unit.ID(), err)
			}
		}
		return nil
	})
}

func (r *batchSQLite) Get(ctx context.Context, batchID uuid.UUID) (*domain.BatchResult, error) {
	var data string
	err := r.db.QueryRowContext(ctx, `SELECT result FROM batches WHERE id = ?`, batchID.String()).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NewNotFoundError("batch", batchID.String())
		}
		return nil, fmt.Errorf("failed to get batch: %w", err)
	}
	return fromJSON([]byte(data))
}

func (r *batchSQLite) List(ctx context.Context, limit int) ([]BatchSummary, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, started_at, finished_at, elapsed_ms, total, validated, failed, cancelled
		FROM batches
		ORDER BY started_at DESC
		LIMIT ?
	`, limitOrDefault(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to list batches: %w", err)
	}
	defer rows.Close()

	var out []BatchSummary
	for rows.Next() {
		var s BatchSummary
		var rawID string
		var elapsedMS int64
		if err := rows.Scan(
			&rawID, &s.StartedAt, &s.FinishedAt, &elapsedMS,
			&s.Total, &s.Validated, &s.Failed, &s.Cancelled,
		); err != nil {
			return nil, fmt.Errorf("failed to scan batch: %w", err)
		}
		if s.ID, err = uuid.Parse(rawID); err != nil {
			return nil, fmt.Errorf("invalid batch id %q: %w", rawID, err)
		}
		s.Elapsed = time.Duration(elapsedMS) * time.Millisecond
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *batchSQLite) UnitHistory(ctx context.Context, unitID string, limit int) ([]UnitRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, batch_id, unit_id, strategy, timeframe, state, profit, metrics
		FROM unit_outcomes
		WHERE unit_id = ?
		ORDER BY id DESC
		LIMIT ?
	`, unitID, limitOrDefault(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to query unit history: %w", err)
	}
	defer rows.Close()

	var out []UnitRecord
	for rows.Next() {
		var rec UnitRecord
		var rawBatch, state string
		var profit, metrics sql.NullString
		if err := rows.Scan(
			&rec.ID, &rawBatch, &rec.UnitID, &rec.Strategy, &rec.Timeframe,
			&state, &profit, &metrics,
		); err != nil {
			return nil, fmt.Errorf("failed to scan unit outcome: %w", err)
		}
		if rec.BatchID, err = uuid.Parse(rawBatch); err != nil {
			return nil, fmt.Errorf("invalid batch id %q: %w", rawBatch, err)
		}
		var p *string
		if profit.Valid {
			p = &profit.String
		}
		var m []byte
		if metrics.Valid {
			m = []byte(metrics.String)
		}
		if err := finishRecord(&rec, state, p, m); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
