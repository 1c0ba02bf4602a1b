package events

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/saltfish/freqsweep/internal/domain"
	"github.com/saltfish/freqsweep/internal/pipeline"
)

// publishTimeout bounds a single publish.
const publishTimeout = 5 * time.Second

// Observer publishes batch lifecycle notifications. Publish failures are logged
// and never affect the batch.
type Observer struct {
	pipeline.NopObserver

	publisher Publisher
	logger    *zap.Logger
	batchID   uuid.UUID
}

// NewObserver creates an Observer that publishes through p.
func NewObserver(p Publisher, logger *zap.Logger) *Observer {
	return &Observer{publisher: p, logger: logger}
}

func (o *Observer) publish(routingKey string, event interface{}) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	if err := o.publisher.Publish(ctx, routingKey, event); err != nil {
		o.logger.Warn("Failed to publish event",
			zap.String("routing_key", routingKey),
			zap.Error(err),
		)
	}
}

func (o *Observer) BatchStarted(batchID uuid.UUID, units []domain.ExperimentUnit) {
	o.batchID = batchID
	o.publish(RoutingKeyBatchStarted, NewBatchStartedEvent(batchID, units))
}

func (o *Observer) UnitStarted(unit domain.ExperimentUnit, index, total int) {
	o.publish(RoutingKeyUnitStarted, NewUnitStartedEvent(o.batchID, unit, index, total))
}

func (o *Observer) StageFinished(unit domain.ExperimentUnit, outcome *domain.StageOutcome) {
	o.publish(RoutingKeyStageFinished, NewStageFinishedEvent(o.batchID, unit, outcome))
}

func (o *Observer) UnitFinished(outcome *domain.UnitOutcome, p pipeline.Progress) {
	o.publish(RoutingKeyUnitFinished, NewUnitFinishedEvent(p.BatchID, outcome, p.Done, p.Total))
}

func (o *Observer) BatchFinished(result *domain.BatchResult) {
	o.publish(RoutingKeyBatchFinished, NewBatchFinishedEvent(result))
}

// Ensure interface compliance
var _ pipeline.Observer = (*Observer)(nil)
