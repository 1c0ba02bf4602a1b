// Package events publishes batch lifecycle events to RabbitMQ and consumes them.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/saltfish/freqsweep/internal/domain"
)

// Routing keys for events.
const (
	RoutingKeyBatchStarted  = "batch.started"
	RoutingKeyUnitStarted   = "unit.started"
	RoutingKeyStageFinished = "stage.finished"
	RoutingKeyUnitFinished  = "unit.finished"
	RoutingKeyBatchFinished = "batch.finished"

	// RoutingKeyAll matches every freqsweep event.
	RoutingKeyAll = "#"
)

// AllRoutingKeys lists the keys published during a batch, in lifecycle order.
var AllRoutingKeys = []string{
	RoutingKeyBatchStarted,
	RoutingKeyUnitStarted,
	RoutingKeyStageFinished,
	RoutingKeyUnitFinished,
	RoutingKeyBatchFinished,
}

// eventSource identifies this process in published events.
const eventSource = "freqsweep"

// BaseEvent contains common fields for all events.
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source,omitempty"`
	BatchID   uuid.UUID `json:"batch_id"`
}

// NewBaseEvent creates a new BaseEvent with auto-generated event_id.
func NewBaseEvent(eventType string, batchID uuid.UUID) BaseEvent {
	return BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: time.Now(),
		Source:    eventSource,
		BatchID:   batchID,
	}
}

// BatchStartedEvent is published before the first unit runs.
type BatchStartedEvent struct {
	BaseEvent
	Units []string `json:"units"`
}

// NewBatchStartedEvent creates a new BatchStartedEvent.
func NewBatchStartedEvent(batchID uuid.UUID, units []domain.ExperimentUnit) *BatchStartedEvent {
	ids := make([]string, 0, len(units))
	for _, u := range units {
		ids = append(ids, u.ID())
	}
	return &BatchStartedEvent{
		BaseEvent: NewBaseEvent(RoutingKeyBatchStarted, batchID),
		Units:     ids,
	}
}

// UnitStartedEvent is published when a unit begins optimization.
type UnitStartedEvent struct {
	BaseEvent
	Unit      string `json:"unit"`
	Strategy  string `json:"strategy"`
	Timeframe string `json:"timeframe,omitempty"`
	Index     int    `json:"index"`
	Total     int    `json:"total"`
}

// NewUnitStartedEvent creates a new UnitStartedEvent.
func NewUnitStartedEvent(batchID uuid.UUID, unit domain.ExperimentUnit, index, total int) *UnitStartedEvent {
	return &UnitStartedEvent{
		BaseEvent: NewBaseEvent(RoutingKeyUnitStarted, batchID),
		Unit:      unit.ID(),
		Strategy:  unit.Strategy,
		Timeframe: unit.Timeframe,
		Index:     index,
		Total:     total,
	}
}

// StageFinishedEvent is published when a stage of a unit ends.
type StageFinishedEvent struct {
	BaseEvent
	Unit       string           `json:"unit"`
	Stage      domain.StageKind `json:"stage"`
	Success    bool             `json:"success"`
	ExitCode   int              `json:"exit_code"`
	TimedOut   bool             `json:"timed_out,omitempty"`
	DurationMs int64            `json:"duration_ms"`
	Excerpt    string           `json:"excerpt,omitempty"`
}

// NewStageFinishedEvent creates a new StageFinishedEvent.
func NewStageFinishedEvent(batchID uuid.UUID, unit domain.ExperimentUnit, out *domain.StageOutcome) *StageFinishedEvent {
	return &StageFinishedEvent{
		BaseEvent:  NewBaseEvent(RoutingKeyStageFinished, batchID),
		Unit:       unit.ID(),
		Stage:      out.Stage,
		Success:    out.Success,
		ExitCode:   out.ExitCode,
		TimedOut:   out.TimedOut,
		DurationMs: out.Duration().Milliseconds(),
		Excerpt:    out.Excerpt,
	}
}

// UnitFinishedEvent is published once a unit reaches a terminal state.
type UnitFinishedEvent struct {
	BaseEvent
	Unit       string           `json:"unit"`
	State      domain.UnitState `json:"state"`
	Metrics    domain.Metrics   `json:"metrics,omitempty"`
	Error      string           `json:"error,omitempty"`
	DurationMs int64            `json:"duration_ms"`
	Done       int              `json:"done"`
	Total      int              `json:"total"`
}

// NewUnitFinishedEvent creates a new UnitFinishedEvent.
func NewUnitFinishedEvent(batchID uuid.UUID, outcome *domain.UnitOutcome, done, total int) *UnitFinishedEvent {
	return &UnitFinishedEvent{
		BaseEvent:  NewBaseEvent(RoutingKeyUnitFinished, batchID),
		Unit:       outcome.Unit.ID(),
		State:      outcome.State,
		Metrics:    outcome.Metrics,
		Error:      outcome.Error,
		DurationMs: outcome.Duration().Milliseconds(),
		Done:       done,
		Total:      total,
	}
}

// BatchFinishedEvent is published after every unit has an outcome.
type BatchFinishedEvent struct {
	BaseEvent
	Counts    domain.BatchCounts `json:"counts"`
	ElapsedMs int64              `json:"elapsed_ms"`
}

// NewBatchFinishedEvent creates a new BatchFinishedEvent.
func NewBatchFinishedEvent(result *domain.BatchResult) *BatchFinishedEvent {
	return &BatchFinishedEvent{
		BaseEvent: NewBaseEvent(RoutingKeyBatchFinished, result.ID),
		Counts:    result.Counts(),
		ElapsedMs: result.Elapsed.Milliseconds(),
	}
}

// Describe renders a received event as a single human-readable line.
func Describe(routingKey string, body []byte) (string, error) {
	switch routingKey {
	case RoutingKeyBatchStarted:
		var e BatchStartedEvent
		if err := json.Unmarshal(body, &e); err != nil {
			return "", fmt.Errorf("failed to decode %s: %w", routingKey, err)
		}
		return fmt.Sprintf("batch %s started with %d unit(s)", e.BatchID, len(e.Units)), nil
	case RoutingKeyUnitStarted:
		var e UnitStartedEvent
		if err := json.Unmarshal(body, &e); err != nil {
			return "", fmt.Errorf("failed to decode %s: %w", routingKey, err)
		}
		return fmt.Sprintf("[%d/%d] %s started", e.Index, e.Total, e.Unit), nil
	case RoutingKeyStageFinished:
		var e StageFinishedEvent
		if err := json.Unmarshal(body, &e); err != nil {
			return "", fmt.Errorf("failed to decode %s: %w", routingKey, err)
		}
		status := "ok"
		if !e.Success {
			status = fmt.Sprintf("failed (exit %d)", e.ExitCode)
		}
		return fmt.Sprintf("%s %s %s in %s", e.Unit, e.Stage, status,
			(time.Duration(e.DurationMs) * time.Millisecond).Round(time.Second)), nil
	case RoutingKeyUnitFinished:
		var e UnitFinishedEvent
		if err := json.Unmarshal(body, &e); err != nil {
			return "", fmt.Errorf("failed to decode %s: %w", routingKey, err)
		}
		line := fmt.Sprintf("%s %s (%d/%d)", e.Unit, e.State, e.Done, e.Total)
		if v, ok := e.Metrics.Get(domain.MetricTotalProfit); ok {
			line += " profit " + v
		}
		return line, nil
	case RoutingKeyBatchFinished:
		var e BatchFinishedEvent
		if err := json.Unmarshal(body, &e); err != nil {
			return "", fmt.Errorf("failed to decode %s: %w", routingKey, err)
		}
		return fmt.Sprintf("batch %s finished: %d validated, %d failed, %d cancelled in %s",
			e.BatchID, e.Counts.Validated, e.Counts.Failed, e.Counts.Cancelled,
			(time.Duration(e.ElapsedMs) * time.Millisecond).Round(time.Second)), nil
	default:
		return fmt.Sprintf("%s: %s", routingKey, body), nil
	}
}
