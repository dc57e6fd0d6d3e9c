// Package consumer reads one Kafka topic with a consumer group and hands each
// new event to a handler. Offsets are committed only after the handler and the
// inbox write succeed.
package consumer

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/md-rashed-zaman/salonbook/libs/kafkax"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type Config struct {
	Brokers string
	GroupID string
	Topic   string
	// RetryBackoff is the pause before a failed message is handled again.
	RetryBackoff time.Duration
}

type Inbox interface {
	Processed(ctx context.Context, eventID string) (bool, error)
	MarkProcessed(ctx context.Context, eventID, eventType string) error
}

type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Handler func(ctx context.Context, msg kafka.Message) error

type Consumer struct {
	logger  *slog.Logger
	inbox   Inbox
	cfg     Config
	handler Handler
	reader  Reader
}

func New(logger *slog.Logger, inbox Inbox, cfg Config, handler Handler) *Consumer {
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 2 * time.Second
	}
	return &Consumer{logger: logger, inbox: inbox, cfg: cfg, handler: handler}
}

// WithReader swaps the kafka reader, mostly for tests.
func (c *Consumer) WithReader(r Reader) *Consumer {
	c.reader = r
	return c
}

func (c *Consumer) Run(ctx context.Context) {
	if c.reader == nil {
		brokers := kafkax.SplitBrokers(c.cfg.Brokers)
		if len(brokers) == 0 || c.cfg.Topic == "" {
			c.logger.Warn("kafka consumer disabled", "topic", c.cfg.Topic)
			return
		}
		c.reader = kafka.NewReader(kafka.ReaderConfig{
			Brokers:  brokers,
			GroupID:  c.cfg.GroupID,
			Topic:    c.cfg.Topic,
			MinBytes: 1,
			MaxBytes: 10e6,
		})
	}
	defer func() { _ = c.reader.Close() }()

	c.logger.Info("kafka consumer started", "topic", c.cfg.Topic, "group_id", c.cfg.GroupID)
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return
			}
			c.logger.Error("kafka fetch failed", "err", err)
			if !sleep(ctx, c.cfg.RetryBackoff) {
				return
			}
			continue
		}
		// The same message is retried until it is handled; the reader does
		// not hand it out again once fetched.
		for {
			err := c.Process(ctx, msg)
			if err == nil {
				break
			}
			c.logger.Error("event handling failed", "err", err, "topic", msg.Topic, "offset", msg.Offset)
			if !sleep(ctx, c.cfg.RetryBackoff) {
				return
			}
		}
	}
}

// Process handles one message: skip it if the inbox has it, otherwise run the
// handler, record it and commit.
func (c *Consumer) Process(ctx context.Context, msg kafka.Message) (err error) {
	meta := kafkax.ExtractEventMeta(msg)
	ctx, span := otel.Tracer("kafka").Start(kafkax.ExtractTraceContext(ctx, msg), "kafka.consume",
		trace.WithAttributes(
			attribute.String("messaging.system", "kafka"),
			attribute.String("messaging.destination", msg.Topic),
			attribute.String("messaging.message.id", meta.EventID),
		),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	done, err := c.inbox.Processed(ctx, meta.EventID)
	if err != nil {
		return err
	}
	if done {
		c.logger.Info("duplicate event skipped", "event_id", meta.EventID, "event_type", meta.EventType)
		return c.commit(ctx, msg)
	}
	if err := c.handler(ctx, msg); err != nil {
		return err
	}
	if err := c.inbox.MarkProcessed(ctx, meta.EventID, meta.EventType); err != nil {
		return err
	}
	return c.commit(ctx, msg)
}

func (c *Consumer) commit(ctx context.Context, msg kafka.Message) error {
	if c.reader == nil {
		return nil
	}
	return c.reader.CommitMessages(ctx, msg)
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
