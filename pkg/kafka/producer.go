package kafka

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/Ramsey-B/argus/pkg/tracing"
	"github.com/segmentio/kafka-go"
)

// Writer is the subset of kafka.Writer the producer uses.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer publishes status events to Kafka
type Producer struct {
	writer Writer
	logger ectologger.Logger
	topic  string
}

type ProducerConfig struct {
	Brokers      []string
	Topic        string
	BatchSize    int
	BatchTimeout time.Duration
	RequiredAcks int
	Compression  string
}

func NewProducer(cfg ProducerConfig, logger ectologger.Logger) *Producer {
	compression := kafka.Snappy
	switch cfg.Compression {
	case "gzip":
		compression = kafka.Gzip
	case "lz4":
		compression = kafka.Lz4
	case "zstd":
		compression = kafka.Zstd
	case "none":
		compression = 0
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		BatchSize:              cfg.BatchSize,
		BatchTimeout:           cfg.BatchTimeout,
		RequiredAcks:           kafka.RequiredAcks(cfg.RequiredAcks),
		Compression:            compression,
		AllowAutoTopicCreation: true,
	}

	return NewProducerWithWriter(writer, cfg.Topic, logger)
}

func NewProducerWithWriter(writer Writer, topic string, logger ectologger.Logger) *Producer {
	return &Producer{
		writer: writer,
		logger: logger,
		topic:  topic,
	}
}

func (p *Producer) Close() error {
	return p.writer.Close()
}

// StatusEvent announces a committed status change of a contract or request.
type StatusEvent struct {
	EventType  string    `json:"event_type"`
	EntityType string    `json:"entity_type"`
	EntityID   int64     `json:"entity_id"`
	Folio      string    `json:"folio,omitempty"`
	From       string    `json:"from,omitempty"`
	To         string    `json:"to"`
	ActorID    *int64    `json:"actor_id,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	RequestID  string    `json:"request_id,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

func (p *Producer) PublishStatusEvents(ctx context.Context, events ...*StatusEvent) error {
	ctx, span := tracing.StartSpan(ctx, "kafka.Producer.PublishStatusEvents")
	defer span.End()

	if len(events) == 0 {
		return nil
	}

	msgs := make([]kafka.Message, 0, len(events))
	for _, event := range events {
		if event.Timestamp.IsZero() {
			event.Timestamp = time.Now().UTC()
		}
		data, err := json.Marshal(event)
		if err != nil {
			return err
		}
		headers := []kafka.Header{
			{Key: "event_type", Value: []byte(event.EventType)},
			{Key: "entity_type", Value: []byte(event.EntityType)},
		}
		if tp := tracing.GetTraceParent(ctx); tp != "" {
			headers = append(headers, kafka.Header{Key: "traceparent", Value: []byte(tp)})
		}
		msgs = append(msgs, kafka.Message{
			Key:     []byte(event.EntityType + ":" + strconv.FormatInt(event.EntityID, 10)),
			Value:   data,
			Headers: headers,
		})
	}

	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		p.logger.WithContext(ctx).WithError(err).WithField("topic", p.topic).Error("Failed to publish status events")
		return err
	}

	p.logger.WithContext(ctx).WithFields(map[string]any{
		"topic":  p.topic,
		"events": len(msgs),
	}).Debug("Published status events")
	return nil
}
