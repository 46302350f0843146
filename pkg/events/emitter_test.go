package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/Gobusters/ectologger"
	argusctx "github.com/Ramsey-B/argus/pkg/context"
	"github.com/Ramsey-B/argus/pkg/kafka"
	"github.com/Ramsey-B/argus/pkg/models"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type writer struct {
	msgs []kafkago.Message
	err  error
}

func (w *writer) WriteMessages(_ context.Context, msgs ...kafkago.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *writer) Close() error { return nil }

func silent() ectologger.Logger {
	return ectologger.NewEctoLogger(func(ectologger.EctoLogMessage) {})
}

func decode(t *testing.T, msg kafkago.Message) kafka.StatusEvent {
	t.Helper()
	var event kafka.StatusEvent
	require.NoError(t, json.Unmarshal(msg.Value, &event))
	return event
}

func TestContractStatusChangedPublishesOneEventPerContract(t *testing.T) {
	w := &writer{}
	emitter := NewEmitter(kafka.NewProducerWithWriter(w, "argus.status", silent()), silent())
	actor := int64(7)
	ctx := argusctx.SetRequestID(context.Background(), "req-1")

	emitter.ContractStatusChanged(ctx, []int64{10, 11}, models.ContractCancelled, &actor)

	require.Len(t, w.msgs, 2)
	assert.Equal(t, "contract:10", string(w.msgs[0].Key))
	assert.Equal(t, "contract:11", string(w.msgs[1].Key))

	event := decode(t, w.msgs[0])
	assert.Equal(t, ContractStatusChanged, event.EventType)
	assert.Equal(t, models.ContractCancelled.Label(), event.To)
	assert.Equal(t, "req-1", event.RequestID)
	require.NotNil(t, event.ActorID)
	assert.Equal(t, actor, *event.ActorID)
	assert.False(t, event.Timestamp.IsZero())
}

func TestRequestStatusChanged(t *testing.T) {
	w := &writer{}
	emitter := NewEmitter(kafka.NewProducerWithWriter(w, "argus.status", silent()), silent())

	emitter.RequestStatusChanged(context.Background(), 5, "F-100", models.RequestSubmitted, models.RequestDraft, nil, "missing rfc")

	require.Len(t, w.msgs, 1)
	event := decode(t, w.msgs[0])
	assert.Equal(t, RequestStatusChanged, event.EventType)
	assert.Equal(t, "F-100", event.Folio)
	assert.Equal(t, "submitted", event.From)
	assert.Equal(t, "draft", event.To)
	assert.Equal(t, "missing rfc", event.Reason)
	assert.Nil(t, event.ActorID)

	headers := map[string]string{}
	for _, h := range w.msgs[0].Headers {
		headers[h.Key] = string(h.Value)
	}
	assert.Equal(t, RequestStatusChanged, headers["event_type"])
	assert.Equal(t, "request", headers["entity_type"])
}

func TestPublishFailureIsSwallowed(t *testing.T) {
	w := &writer{err: errors.New("broker down")}
	emitter := NewEmitter(kafka.NewProducerWithWriter(w, "argus.status", silent()), silent())

	assert.NotPanics(t, func() {
		emitter.RequestStatusChanged(context.Background(), 1, "", models.RequestDraft, models.RequestSubmitted, nil, "")
	})
	assert.Empty(t, w.msgs)
}
