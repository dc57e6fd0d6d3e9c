package outbox

import (
	"context"
	"errors"
	"testing"

	"github.com/md-rashed-zaman/salonbook/libs/kafkax"
	"github.com/md-rashed-zaman/salonbook/libs/runtime"
	"github.com/md-rashed-zaman/salonbook/services/reservation-service/internal/storage"
	"github.com/md-rashed-zaman/salonbook/services/reservation-service/internal/storage/memstore"
	"github.com/segmentio/kafka-go"
)

type captureWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *captureWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func appendEvents(t *testing.T, s *memstore.Store, ids ...string) {
	t.Helper()
	err := s.WithinTx(context.Background(), func(tx storage.Tx) error {
		for _, id := range ids {
			if err := tx.AppendEvent(context.Background(), storage.Event{
				ID:            id,
				AggregateType: "order",
				AggregateID:   "order-1",
				EventType:     "reservation.order.status_changed.v1",
				Payload:       []byte(`{"order_id":"order-1"}`),
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("append events: %v", err)
	}
}

func TestToMessage(t *testing.T) {
	msg := toMessage(context.Background(), storage.OutboxRecord{
		Seq:   7,
		Event: storage.Event{ID: "evt-1", AggregateID: "order-1", EventType: "reservation.order.status_changed.v1", Payload: []byte(`{}`)},
	})
	if msg.Topic != "reservation.order.status_changed.v1" || string(msg.Key) != "order-1" {
		t.Fatalf("unexpected message %+v", msg)
	}
	meta := kafkax.ExtractEventMeta(msg)
	if meta.EventID != "evt-1" || meta.EventType != msg.Topic {
		t.Fatalf("unexpected meta %+v", meta)
	}
}

func TestPublishOnceMarksBatch(t *testing.T) {
	s := memstore.New()
	appendEvents(t, s, "e1", "e2", "e3")
	w := &captureWriter{}
	p := NewPublisher(s, w, runtime.DiscardLogger(), nil, PublisherConfig{BatchSize: 2})

	n, err := p.PublishOnce(context.Background())
	if err != nil || n != 2 {
		t.Fatalf("first batch: %d %v", n, err)
	}
	n, err = p.PublishOnce(context.Background())
	if err != nil || n != 1 {
		t.Fatalf("second batch: %d %v", n, err)
	}
	if len(w.msgs) != 3 || s.Unpublished() != 0 {
		t.Fatalf("expected 3 messages and nothing pending, got %d / %d", len(w.msgs), s.Unpublished())
	}
}

func TestPublishOnceKeepsBatchOnWriteFailure(t *testing.T) {
	s := memstore.New()
	appendEvents(t, s, "e1")
	p := NewPublisher(s, &captureWriter{err: errors.New("broker down")}, runtime.DiscardLogger(), nil, PublisherConfig{})

	if _, err := p.PublishOnce(context.Background()); err == nil {
		t.Fatalf("expected write error")
	}
	if s.Unpublished() != 1 {
		t.Fatalf("event must stay pending")
	}
}
