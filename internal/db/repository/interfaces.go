// Package repository persists batch results for history and the status API.
package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/saltfish/freqsweep/internal/domain"
	"github.com/saltfish/freqsweep/internal/id"
)

// DefaultListLimit is used when List is called with a non-positive limit.
const DefaultListLimit = 20

// BatchRepository stores finished batches.
type BatchRepository interface {
	// Save stores a batch result. Saving the same batch again replaces it.
	Save(ctx context.Context, result *domain.BatchResult) error

	// Get retrieves a batch result by ID.
	Get(ctx context.Context, id uuid.UUID) (*domain.BatchResult, error)

	// List returns the most recent batches, newest first.
	List(ctx context.Context, limit int) ([]BatchSummary, error)

	// UnitHistory returns the recorded outcomes of one unit across batches,
	// newest first.
	UnitHistory(ctx context.Context, unitID string, limit int) ([]UnitRecord, error)
}

// BatchSummary is one row of the batch history.
type BatchSummary struct {
	ID         uuid.UUID     `json:"batch_id"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Elapsed    time.Duration `json:"elapsed"`
	Total      int           `json:"total"`
	Validated  int           `json:"validated"`
	Failed     int           `json:"failed"`
	Cancelled  int           `json:"cancelled"`
}

// UnitRecord is the stored outcome of a unit in one batch.
type UnitRecord struct {
	ID         string           `json:"id"`
	BatchID    uuid.UUID        `json:"batch_id"`
	UnitID     string           `json:"unit_id"`
	Strategy   string           `json:"strategy"`
	Timeframe  string           `json:"timeframe"`
	State      domain.UnitState `json:"state"`
	Profit     string           `json:"profit,omitempty"`
	Metrics    domain.Metrics   `json:"metrics,omitempty"`
	RecordedAt time.Time        `json:"recorded_at"`
}

// row is the column set shared by both stores.
type row struct {
	summary BatchSummary
	result  []byte
	units   []unitRow
}

type unitRow struct {
	id       string
	position int
	outcome  *domain.UnitOutcome
	profit   *string
	metrics  []byte
}

func toRow(result *domain.BatchResult) (*row, error) {
	data, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal batch result: %w", err)
	}

	counts := result.Counts()
	r := &row{
		summary: BatchSummary{
			ID:         result.ID,
			StartedAt:  result.StartedAt.UTC(),
			FinishedAt: result.FinishedAt.UTC(),
			Elapsed:    result.Elapsed,
			Total:      counts.Total,
			Validated:  counts.Validated,
			Failed:     counts.Failed,
			Cancelled:  counts.Cancelled,
		},
		result: data,
	}

	recordedAt := result.FinishedAt
	if recordedAt.IsZero() {
		recordedAt = result.StartedAt
	}
	for i, o := range result.Ordered() {
		u := unitRow{
			id:       id.At(recordedAt),
			position: i,
			outcome:  o,
		}
		if p, ok := o.Metrics.Get(domain.MetricTotalProfit); ok {
			u.profit = &p
		}
		if len(o.Metrics) > 0 {
			if u.metrics, err = json.Marshal(o.Metrics); err != nil {
				return nil, fmt.Errorf("failed to marshal metrics for %s: %w", o.Unit.ID(), err)
			}
		}
		r.units = append(r.units, u)
	}
	return r, nil
}

func fromJSON(data []byte) (*domain.BatchResult, error) {
	var result domain.BatchResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal batch result: %w", err)
	}
	if result.Outcomes == nil {
		result.Outcomes = make(map[string]*domain.UnitOutcome)
	}
	return &result, nil
}

func decodeMetrics(data []byte) (domain.Metrics, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var m domain.Metrics
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to unmarshal metrics: %w", err)
	}
	return m, nil
}

func limitOrDefault(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	return limit
}
