// Package events announces committed status changes to the notification
// subsystem.
package events

import (
	"context"

	"github.com/Gobusters/ectologger"
	argusctx "github.com/Ramsey-B/argus/pkg/context"
	"github.com/Ramsey-B/argus/pkg/kafka"
	"github.com/Ramsey-B/argus/pkg/metrics"
	"github.com/Ramsey-B/argus/pkg/models"
	"github.com/Ramsey-B/argus/pkg/tracing"
)

const (
	ContractStatusChanged = "contract.status_changed"
	RequestStatusChanged  = "request.status_changed"
)

type Publisher interface {
	PublishStatusEvents(ctx context.Context, events ...*kafka.StatusEvent) error
}

// Notifier is what repositories call after a status change commits.
// Implementations must not fail the caller.
type Notifier interface {
	ContractStatusChanged(ctx context.Context, ids []int64, status models.ContractStatus, actorID *int64)
	RequestStatusChanged(ctx context.Context, id int64, folio string, from, to models.RequestStatus, actorID *int64, reason string)
}

type Emitter struct {
	publisher Publisher
	logger    ectologger.Logger
}

func NewEmitter(publisher Publisher, logger ectologger.Logger) *Emitter {
	return &Emitter{
		publisher: publisher,
		logger:    logger,
	}
}

func (e *Emitter) ContractStatusChanged(ctx context.Context, ids []int64, status models.ContractStatus, actorID *int64) {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.ContractStatusChanged")
	defer span.End()

	batch := make([]*kafka.StatusEvent, 0, len(ids))
	for _, id := range ids {
		batch = append(batch, &kafka.StatusEvent{
			EventType:  ContractStatusChanged,
			EntityType: "contract",
			EntityID:   id,
			To:         status.Label(),
			ActorID:    actorID,
			RequestID:  argusctx.GetRequestID(ctx),
		})
	}
	e.publish(ctx, "contract", batch)
}

func (e *Emitter) RequestStatusChanged(ctx context.Context, id int64, folio string, from, to models.RequestStatus, actorID *int64, reason string) {
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.RequestStatusChanged")
	defer span.End()

	e.publish(ctx, "request", []*kafka.StatusEvent{{
		EventType:  RequestStatusChanged,
		EntityType: "request",
		EntityID:   id,
		Folio:      folio,
		From:       string(from),
		To:         string(to),
		ActorID:    actorID,
		Reason:     reason,
		RequestID:  argusctx.GetRequestID(ctx),
	}})
}

func (e *Emitter) publish(ctx context.Context, entity string, batch []*kafka.StatusEvent) {
	if err := e.publisher.PublishStatusEvents(ctx, batch...); err != nil {
		metrics.EventsPublishedTotal.WithLabelValues(entity, "error").Inc()
		e.logger.WithContext(ctx).WithError(err).WithField("entity", entity).Error("Failed to emit status event")
		return
	}
	metrics.EventsPublishedTotal.WithLabelValues(entity, "ok").Inc()
}

// Nop discards events. It is used when Kafka is disabled.
type Nop struct{}

func (Nop) ContractStatusChanged(context.Context, []int64, models.ContractStatus, *int64) {}

func (Nop) RequestStatusChanged(context.Context, int64, string, models.RequestStatus, models.RequestStatus, *int64, string) {
}
