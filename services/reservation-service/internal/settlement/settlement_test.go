package settlement

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/md-rashed-zaman/salonbook/libs/runtime"
	"github.com/md-rashed-zaman/salonbook/services/reservation-service/internal/apperr"
	"github.com/md-rashed-zaman/salonbook/services/reservation-service/internal/availability"
	"github.com/md-rashed-zaman/salonbook/services/reservation-service/internal/gateway"
	"github.com/md-rashed-zaman/salonbook/services/reservation-service/internal/lifecycle"
	"github.com/md-rashed-zaman/salonbook/services/reservation-service/internal/model"
	"github.com/md-rashed-zaman/salonbook/services/reservation-service/internal/notify"
	"github.com/md-rashed-zaman/salonbook/services/reservation-service/internal/storage/memstore"
)

const serverKey = "SB-Mid-server-test"

var wib = time.FixedZone("WIB", 7*3600)

type recordingNotifier struct {
	mu   sync.Mutex
	sent []notify.OrderPaid
	err  error
}

func (r *recordingNotifier) OrderPaid(_ context.Context, evt notify.OrderPaid) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, evt)
	return r.err
}

type fixture struct {
	store    *memstore.Store
	notifier *recordingNotifier
	rec      *Reconciler
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	s := memstore.New()
	s.AddProduct(model.Product{ID: "cut", Name: "Haircut", Price: 50000, EstimationUnits: 1})
	start := time.Date(2026, 10, 20, 10, 0, 0, 0, wib)
	s.PutOrder(model.Order{ID: "o1", OwnerID: "u1", OwnerName: "Sari", Code: "INV-1", TotalPrice: 54000, Status: model.OrderUnpaid, PaymentMethod: model.PaymentBankTransfer},
		model.OrderItem{ID: "i1", ProductID: "cut", Interval: model.Interval{Start: start, DurationUnits: 1}, End: start.Add(time.Hour), Price: 50000, Status: model.ItemUnpaid})

	n := &recordingNotifier{}
	logger := runtime.DiscardLogger()
	rec := NewReconciler(s, lifecycle.NewMachine(logger, nil), n, nil, logger, nil, Config{
		ServerKey: serverKey,
		Hours:     availability.DefaultBusinessHours(wib),
	})
	return fixture{store: s, notifier: n, rec: rec}
}

func signed(orderID, status, fraud, code, gross string) Notification {
	return Notification{
		OrderID:           orderID,
		StatusCode:        code,
		GrossAmount:       gross,
		TransactionStatus: status,
		FraudStatus:       fraud,
		SignatureKey:      Sign(orderID, code, gross, serverKey),
		SettlementTime:    "2026-10-17 10:15:00",
	}
}

func TestSettlementAcceptIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	n := signed("o1", "settlement", "accept", "200", "54000.00")

	applied, err := f.rec.Reconcile(ctx, n)
	if err != nil || !applied {
		t.Fatalf("first reconcile: applied=%v err=%v", applied, err)
	}
	o, _ := f.store.GetOrder(ctx, "o1")
	items, _ := f.store.ListOrderItems(ctx, "o1")
	if o.Status != model.OrderPaid || items[0].Status != model.ItemScheduled {
		t.Fatalf("unexpected state %s / %s", o.Status, items[0].Status)
	}
	if o.Payment.SettlementTime == nil || !o.Payment.SettlementTime.Equal(time.Date(2026, 10, 17, 10, 15, 0, 0, wib)) {
		t.Fatalf("settlement time not stored: %v", o.Payment.SettlementTime)
	}

	applied, err = f.rec.Reconcile(ctx, n)
	if err != nil || applied {
		t.Fatalf("replay: applied=%v err=%v", applied, err)
	}
	if len(f.notifier.sent) != 1 {
		t.Fatalf("expected one notification, got %d", len(f.notifier.sent))
	}
	if got := f.notifier.sent[0]; got.CustomerName != "Sari" || got.ServiceName != "Haircut" || got.ReservationDate != "Tue, 20 Oct 2026 10:00 WIB" {
		t.Fatalf("unexpected notification %+v", got)
	}
	after, _ := f.store.GetOrder(ctx, "o1")
	if after.TotalPrice != o.TotalPrice {
		t.Fatalf("replay changed total %d -> %d", o.TotalPrice, after.TotalPrice)
	}
}

func TestTamperedGrossAmountIsRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	n := signed("o1", "settlement", "accept", "200", "54000.00")
	n.GrossAmount = "1000.00"

	applied, err := f.rec.Reconcile(ctx, n)
	if applied || !apperr.Is(err, apperr.KindSignatureMismatch) {
		t.Fatalf("expected signature mismatch, got applied=%v err=%v", applied, err)
	}
	o, _ := f.store.GetOrder(ctx, "o1")
	if o.Status != model.OrderUnpaid {
		t.Fatalf("status changed to %s", o.Status)
	}
	if f.store.NotificationCount() != 0 || len(f.notifier.sent) != 0 {
		t.Fatalf("rejected payload must leave no trace")
	}
}

func TestStatusMappingTable(t *testing.T) {
	cases := []struct {
		status, fraud string
		order         model.OrderStatus
		item          model.ItemStatus
	}{
		{"expire", "", model.OrderExpired, model.ItemExpired},
		{"cancel", "", model.OrderCanceled, model.ItemCanceled},
		{"deny", "deny", model.OrderCanceled, model.ItemCanceled},
		{"pending", "", model.OrderUnpaid, model.ItemPending},
		{"capture", "accept", model.OrderPaid, model.ItemScheduled},
	}
	for _, tc := range cases {
		f := newFixture(t)
		ctx := context.Background()
		if _, err := f.rec.Reconcile(ctx, signed("o1", tc.status, tc.fraud, "201", "54000.00")); err != nil {
			t.Fatalf("%s: %v", tc.status, err)
		}
		o, _ := f.store.GetOrder(ctx, "o1")
		items, _ := f.store.ListOrderItems(ctx, "o1")
		if o.Status != tc.order || items[0].Status != tc.item {
			t.Fatalf("%s: got %s/%s", tc.status, o.Status, items[0].Status)
		}
	}
	if _, ok := Map("capture", "challenge"); ok {
		t.Fatalf("challenge must carry no decision")
	}
}

func TestLateSettlementAfterExpiryIsAbsorbed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.rec.Reconcile(ctx, signed("o1", "expire", "", "407", "54000.00")); err != nil {
		t.Fatalf("expire: %v", err)
	}
	applied, err := f.rec.Reconcile(ctx, signed("o1", "settlement", "accept", "200", "54000.00"))
	if err != nil || applied {
		t.Fatalf("late settlement: applied=%v err=%v", applied, err)
	}
	o, _ := f.store.GetOrder(ctx, "o1")
	if o.Status != model.OrderExpired || len(f.notifier.sent) != 0 {
		t.Fatalf("expired order must stay expired, got %s", o.Status)
	}
}

func TestNotifierFailureKeepsPayment(t *testing.T) {
	f := newFixture(t)
	f.notifier.err = errors.New("broker down")
	applied, err := f.rec.Reconcile(context.Background(), signed("o1", "settlement", "accept", "200", "54000.00"))
	if err != nil || !applied {
		t.Fatalf("notifier failure must not fail reconcile: %v", err)
	}
	o, _ := f.store.GetOrder(context.Background(), "o1")
	if o.Status != model.OrderPaid {
		t.Fatalf("expected PAID, got %s", o.Status)
	}
}

func TestValidationAndUnknownOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.rec.Reconcile(ctx, Notification{OrderID: "o1"}); !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := f.rec.Reconcile(ctx, signed("nope", "settlement", "accept", "200", "1.00")); !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestSignatureIsCaseInsensitiveHex(t *testing.T) {
	n := signed("o1", "settlement", "accept", "200", "54000.00")
	upper := n
	upper.SignatureKey = strings.ToUpper(n.SignatureKey)
	if !VerifySignature(upper, serverKey) {
		t.Fatalf("upper-case hex must verify")
	}
	if VerifySignature(n, "other-key") {
		t.Fatalf("wrong key must not verify")
	}
	if len(n.SignatureKey) != 128 {
		t.Fatalf("expected sha512 hex, got %d chars", len(n.SignatureKey))
	}
}

type fakeStatusClient struct {
	responses map[string]gateway.Response
	calls     int
}

func (f *fakeStatusClient) GetStatus(_ context.Context, orderID string) (gateway.Response, error) {
	f.calls++
	r, ok := f.responses[orderID]
	if !ok {
		return gateway.Response{}, &gateway.Error{Op: "status", UpstreamCode: "404"}
	}
	return r, nil
}

func TestPollerSweepsAwaitingOrders(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	n := signed("o1", "settlement", "accept", "200", "54000.00")
	client := &fakeStatusClient{responses: map[string]gateway.Response{
		"o1": {OrderID: "o1", StatusCode: n.StatusCode, GrossAmount: n.GrossAmount, TransactionStatus: "settlement", FraudStatus: "accept", SignatureKey: n.SignatureKey},
	}}
	p := NewPoller(f.store, client, f.rec, nil, runtime.DiscardLogger(), PollerConfig{MinAge: time.Minute})
	p.now = func() time.Time { return time.Now().Add(time.Hour) }

	changed, err := p.PollOnce(ctx)
	if err != nil || changed != 1 {
		t.Fatalf("poll once: changed=%d err=%v", changed, err)
	}
	o, _ := f.store.GetOrder(ctx, "o1")
	if o.Status != model.OrderPaid {
		t.Fatalf("expected PAID, got %s", o.Status)
	}

	changed, _ = p.PollOnce(ctx)
	if changed != 0 || client.calls != 1 {
		t.Fatalf("paid order must leave the sweep, changed=%d calls=%d", changed, client.calls)
	}

	if _, err := p.PollOrder(ctx, "ghost"); !apperr.Is(err, apperr.KindGateway) {
		t.Fatalf("expected gateway error, got %v", err)
	}
}

type countingLeader struct {
	grant              bool
	acquired, released int
}

func (l *countingLeader) Acquire(context.Context) (func(), bool, error) {
	l.acquired++
	if !l.grant {
		return nil, false, nil
	}
	return func() { l.released++ }, true, nil
}

func TestPollerTakesLeadershipPerSweep(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	client := &fakeStatusClient{responses: map[string]gateway.Response{}}
	leader := &countingLeader{}
	p := NewPoller(f.store, client, f.rec, leader, runtime.DiscardLogger(), PollerConfig{MinAge: time.Minute})
	p.now = func() time.Time { return time.Now().Add(time.Hour) }

	if p.RunOnce(ctx) || client.calls != 0 {
		t.Fatalf("follower must not sweep")
	}
	leader.grant = true
	for i := 0; i < 2; i++ {
		if !p.RunOnce(ctx) {
			t.Fatalf("leader must sweep")
		}
	}
	if leader.acquired != 3 || leader.released != 2 {
		t.Fatalf("expected a fresh election per sweep: acquired=%d released=%d", leader.acquired, leader.released)
	}
	if client.calls != 2 {
		t.Fatalf("expected o1 polled once per sweep, got %d", client.calls)
	}
}
