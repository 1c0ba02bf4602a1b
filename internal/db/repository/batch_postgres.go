package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/saltfish/freqsweep/internal/db"
	"github.com/saltfish/freqsweep/internal/domain"
	"github.com/saltfish/freqsweep/internal/id"
)

// batchPostgres implements BatchRepository using PostgreSQL.
type batchPostgres struct {
	pool *db.Pool
}

// NewBatchRepository creates a new PostgreSQL batch repository.
func NewBatchRepository(pool *db.Pool) BatchRepository {
	return &batchPostgres{pool: pool}
}

// Save upserts the batch row and replaces its unit rows.
func (r *batchPostgres) Save(ctx context.Context, result *domain.BatchResult) error {
	rw, err := toRow(result)
	if err != nil {
		return err
	}

	return r.pool.WithTx(ctx, func(tx pgx.Tx) error {
		s := rw.summary
		_, err := tx.Exec(ctx, `
			INSERT INTO batches (
				id, started_at, finished_at, elapsed_ms,
				total, validated, failed, cancelled, result
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (id) DO UPDATE SET
				started_at = EXCLUDED.started_at,
				finished_at = EXCLUDED.finished_at,
				elapsed_ms = EXCLUDED.elapsed_ms,
				total = EXCLUDED.total,
				validated = EXCLUDED.validated,
				failed = EXCLUDED.failed,
				cancelled = EXCLUDED.cancelled,
				result = EXCLUDED.result
		`,
			s.ID, s.StartedAt, s.FinishedAt, s.Elapsed.Milliseconds(),
			s.Total, s.Validated, s.Failed, s.Cancelled, rw.result,
		)
		if err != nil {
			return fmt.Errorf("failed to save batch: %w", err)
		}

		if _, err := tx.Exec(ctx, `DELETE FROM unit_outcomes WHERE batch_id = $1`, s.ID); err != nil {
			return fmt.Errorf("failed to clear unit outcomes: %w", err)
		}

		batch := &pgx.Batch{}
		for _, u := range rw.units {
			batch.Queue(`
				INSERT INTO unit_outcomes (
					id, batch_id, position, unit_id, strategy, timeframe, state, profit, metrics
				) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			`,
				u.id, s.ID, u.position, u.outcome.Unit.ID(),
				u.outcome.Unit.Strategy, u.outcome.Unit.Timeframe,
				u.outcome.State.String(), u.profit, u.metrics,
			)
		}
		if batch.Len() == 0 {
			return nil
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("failed to save unit outcomes: %w", err)
		}
		return nil
	})
}

// Get retrieves a batch result by ID.
func (r *batchPostgres) Get(ctx context.Context, batchID uuid.UUID) (*domain.BatchResult, error) {
	var data []byte
	err := r.pool.QueryRow(ctx, `SELECT result FROM batches WHERE id = $1`, batchID).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("batch", batchID.String())
		}
		return nil, fmt.Errorf("failed to get batch: %w", err)
	}
	return fromJSON(data)
}

// List returns the most recent batches.
func (r *batchPostgres) List(ctx context.Context, limit int) ([]BatchSummary, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, started_at, finished_at, elapsed_ms, total, validated, failed, cancelled
		FROM batches
		ORDER BY started_at DESC
		LIMIT $1
	`, limitOrDefault(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to list batches: %w", err)
	}
	defer rows.Close()

	var out []BatchSummary
	for rows.Next() {
		var s BatchSummary
		var elapsedMS int64
		if err := rows.Scan(
			&s.ID, &s.StartedAt, &s.FinishedAt, &elapsedMS,
			&s.Total, &s.Validated, &s.Failed, &s.Cancelled,
		); err != nil {
			return nil, fmt.Errorf("failed to scan batch: %w", err)
		}
		s.Elapsed = time.Duration(elapsedMS) * time.Millisecond
		out = append(out, s)
	}
	return out, rows.Err()
}

// UnitHistory returns the outcomes of one unit across batches.
func (r *batchPostgres) UnitHistory(ctx context.Context, unitID string, limit int) ([]UnitRecord, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, batch_id, unit_id, strategy, timeframe, state, profit, metrics
		FROM unit_outcomes
		WHERE unit_id = $1
		ORDER BY id DESC
		LIMIT $2
	`, unitID, limitOrDefault(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to query unit history: %w", err)
	}
	defer rows.Close()

	var out []UnitRecord
	for rows.Next() {
		var rec UnitRecord
		var state string
		var profit *string
		var metrics []byte
		if err := rows.Scan(
			&rec.ID, &rec.BatchID, &rec.UnitID, &rec.Strategy, &rec.Timeframe,
			&state, &profit, &metrics,
		); err != nil {
			return nil, fmt.Errorf("failed to scan unit outcome: %w", err)
		}
		if err := finishRecord(&rec, state, profit, metrics); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func finishRecord(rec *UnitRecord, state string, profit *string, metrics []byte) error {
	rec.State = domain.UnitStateFromString(state)
	if profit != nil {
		rec.Profit = *profit
	}
	m, err := decodeMetrics(metrics)
	if err != nil {
		return err
	}
	rec.Metrics = m
	if t, err := id.Time(rec.ID); err == nil {
		rec.RecordedAt = t
	}
	return nil
}
