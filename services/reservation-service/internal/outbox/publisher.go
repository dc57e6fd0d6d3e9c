// Package outbox relays committed domain events to Kafka. The topic is the
// event type.
package outbox

import (
	"context"
	"log/slog"
	"time"

	"github.com/md-rashed-zaman/salonbook/libs/kafkax"
	otelx "github.com/md-rashed-zaman/salonbook/libs/otel"
	"github.com/md-rashed-zaman/salonbook/services/reservation-service/internal/metrics"
	"github.com/md-rashed-zaman/salonbook/services/reservation-service/internal/storage"
	"github.com/segmentio/kafka-go"
)

type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

type PublisherConfig struct {
	PollEvery time.Duration
	BatchSize int
}

type Publisher struct {
	source    storage.Outbox
	writer    MessageWriter
	logger    *slog.Logger
	metrics   *metrics.Metrics
	pollEvery time.Duration
	batchSize int
}

func NewPublisher(source storage.Outbox, writer MessageWriter, logger *slog.Logger, m *metrics.Metrics, cfg PublisherConfig) *Publisher {
	if cfg.PollEvery <= 0 {
		cfg.PollEvery = 2 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	return &Publisher{
		source:    source,
		writer:    writer,
		logger:    logger,
		metrics:   m,
		pollEvery: cfg.PollEvery,
		batchSize: cfg.BatchSize,
	}
}

func (p *Publisher) Run(ctx context.Context) {
	if p.writer == nil {
		p.logger.Warn("outbox publisher disabled (no kafka brokers configured)")
		return
	}
	ticker := time.NewTicker(p.pollEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := p.PublishOnce(ctx); err != nil {
				p.logger.Error("outbox publish failed", "err", err)
			}
		}
	}
}

// PublishOnce relays one batch and reports how many events went out.
func (p *Publisher) PublishOnce(ctx context.Context) (int, error) {
	n, err := p.source.PublishBatch(ctx, p.batchSize, func(ctx context.Context, recs []storage.OutboxRecord) error {
		msgs := make([]kafka.Message, 0, len(recs))
		for _, r := range recs {
			msgs = append(msgs, toMessage(ctx, r))
		}
		return p.writer.WriteMessages(ctx, msgs...)
	})
	if err != nil {
		return 0, err
	}
	p.metrics.Published(n)
	return n, nil
}

func toMessage(ctx context.Context, r storage.OutboxRecord) kafka.Message {
	msgCtx := otelx.ContextWithTraceContext(ctx, r.Traceparent, r.Tracestate)
	msg := kafka.Message{
		Topic:   r.Event.EventType,
		Key:     []byte(r.Event.AggregateID),
		Value:   r.Event.Payload,
		Headers: kafkax.MetaHeaders(kafkax.EventMeta{EventID: r.Event.ID, EventType: r.Event.EventType}),
	}
	msg.Headers = kafkax.InjectTraceHeaders(msgCtx, msg.Headers)
	return msg
}
