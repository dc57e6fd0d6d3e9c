package billing

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/md-rashed-zaman/salonbook/libs/runtime"
	"github.com/md-rashed-zaman/salonbook/services/reservation-service/internal/apperr"
	"github.com/md-rashed-zaman/salonbook/services/reservation-service/internal/availability"
	"github.com/md-rashed-zaman/salonbook/services/reservation-service/internal/checkout"
	"github.com/md-rashed-zaman/salonbook/services/reservation-service/internal/gateway"
	"github.com/md-rashed-zaman/salonbook/services/reservation-service/internal/lifecycle"
	"github.com/md-rashed-zaman/salonbook/services/reservation-service/internal/model"
	"github.com/md-rashed-zaman/salonbook/services/reservation-service/internal/storage"
	"github.com/md-rashed-zaman/salonbook/services/reservation-service/internal/storage/memstore"
)

var wib = time.FixedZone("WIB", 7*3600)

// 2026-10-20 is a Tuesday.
func at(hour int) time.Time { return time.Date(2026, 10, 20, hour, 0, 0, 0, wib) }

type fakeCharger struct {
	requests []gateway.ChargeRequest
	resp     gateway.Response
	err      error
}

func (f *fakeCharger) Charge(_ context.Context, req gateway.ChargeRequest) (gateway.Response, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return gateway.Response{}, f.err
	}
	resp := f.resp
	if resp.GrossAmount == "" {
		resp.GrossAmount = fmt.Sprintf("%d.00", req.TransactionDetails.GrossAmount)
	}
	return resp, nil
}

func setup(t *testing.T, employees int, gw Charger) (*memstore.Store, *Service) {
	t.Helper()
	s := memstore.New()
	s.AddProduct(model.Product{ID: "cut", Name: "Haircut", Price: 50000, EstimationUnits: 1})
	s.AddProduct(model.Product{ID: "color", Name: "Coloring", Price: 250000, EstimationUnits: 2})
	for i := 0; i < employees; i++ {
		s.AddEmployee(model.Employee{ID: fmt.Sprintf("e%d", i)})
	}
	now := func() time.Time { return time.Date(2026, 10, 17, 8, 0, 0, 0, wib) }
	s.SetClock(now)
	logger := runtime.DiscardLogger()
	eval := availability.NewEvaluator(availability.Config{Hours: availability.DefaultBusinessHours(wib), Now: now})
	coord := checkout.NewCoordinator(s, eval, logger, nil)
	svc := NewService(s, coord, eval, lifecycle.NewMachine(logger, now), gw, nil, logger, Config{
		GopayCallbackURL: "https://salon.example/payments/return",
		PermataRecipient: "SALON BOOK",
		Now:              now,
	})
	return s, svc
}

var customer = Customer{ID: "u1", Name: "Siti Rahma Putri", Phone: "+62811000111", Email: "siti@example.com"}

func placeOrder(t *testing.T, s *memstore.Store, svc *Service) model.Order {
	t.Helper()
	s.PutCartLine(model.CartLine{ID: "l1", OwnerID: "u1", ProductID: "cut", Interval: model.Interval{Start: at(9), DurationUnits: 1}, Note: "short"})
	s.PutCartLine(model.CartLine{ID: "l2", OwnerID: "u1", ProductID: "color", Interval: model.Interval{Start: at(13), DurationUnits: 2}})
	order, items, err := svc.PlaceOrder(context.Background(), customer, []string{"l1", "l2"})
	if err != nil {
		t.Fatalf("place order: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
	return order
}

func TestFee(t *testing.T) {
	cases := []struct {
		method model.PaymentMethod
		amount int64
		want   int64
	}{
		{model.PaymentBankTransfer, 300000, 4000},
		{model.PaymentGopay, 300000, 6000},
		{model.PaymentGopay, 50025, 1001}, // 1000.5 rounds up
		{model.PaymentQRIS, 300000, 2100},
		{model.PaymentQRIS, 50000, 350},
		{model.PaymentCash, 300000, 0},
	}
	for _, tc := range cases {
		got, err := Fee(tc.method, tc.amount)
		if err != nil {
			t.Fatalf("fee %s: %v", tc.method, err)
		}
		if got != tc.want {
			t.Fatalf("Fee(%s, %d) = %d, want %d", tc.method, tc.amount, got, tc.want)
		}
	}
	if _, err := Fee("paypal", 1); !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("unknown method must be a validation error, got %v", err)
	}
}

func TestParseAmount(t *testing.T) {
	if v, ok := ParseAmount("304000.00"); !ok || v != 304000 {
		t.Fatalf("parse amount: %d %v", v, ok)
	}
	if _, ok := ParseAmount("abc"); ok {
		t.Fatalf("garbage must not parse")
	}
}

func TestPlaceOrderCreatesCartOrder(t *testing.T) {
	s, svc := setup(t, 2, &fakeCharger{})
	order := placeOrder(t, s, svc)

	if order.Status != model.OrderCart || order.TotalPrice != 300000 {
		t.Fatalf("unexpected order %+v", order)
	}
	if !regexp.MustCompile(`^INV-20261017-[0-9A-F]{6}$`).MatchString(order.Code) {
		t.Fatalf("unexpected order code %q", order.Code)
	}
	items, _ := s.ListOrderItems(context.Background(), order.ID)
	for _, it := range items {
		if it.Status != model.ItemCart || it.Employee.IsAssigned() || it.CartLineID == "" {
			t.Fatalf("unexpected item %+v", it)
		}
	}
	if l, ok := s.CartLine("l1"); !ok || !l.LockedForCheckout {
		t.Fatalf("cart line must stay locked until payment")
	}
	if evts := s.Events(); len(evts) != 1 || evts[0].EventType != EventOrderCreated {
		t.Fatalf("expected an order created event, got %+v", evts)
	}
}

func TestPlaceOrderFailureKeepsLinesUnlocked(t *testing.T) {
	s, svc := setup(t, 2, &fakeCharger{})
	s.PutCartLine(model.CartLine{ID: "l1", OwnerID: "u1", ProductID: "cut", Interval: model.Interval{Start: at(9), DurationUnits: 1}})
	s.PutCartLine(model.CartLine{ID: "l2", OwnerID: "u2", ProductID: "cut", Interval: model.Interval{Start: at(10), DurationUnits: 1}})

	_, _, err := svc.PlaceOrder(context.Background(), customer, []string{"l1", "l2"})
	if !apperr.Is(err, apperr.KindOwnershipMismatch) {
		t.Fatalf("expected ownership mismatch, got %v", err)
	}
	if l, _ := s.CartLine("l1"); l.LockedForCheckout {
		t.Fatalf("l1 must be unlocked after rollback")
	}
}

func TestBuildChargePerMethod(t *testing.T) {
	_, svc := setup(t, 1, nil)
	in := chargeInput{
		Order:    model.Order{ID: "o1", Code: "INV-20261017-ABCDEF"},
		Customer: customer,
		Lines:    []chargeLine{{ProductID: "cut", ProductName: "Haircut", Price: 50000}},
	}

	in.Bill, _ = CalculateBill(model.PaymentGopay, 50000)
	req := svc.buildCharge(in)
	if req.Gopay == nil || !req.Gopay.EnableCallback || req.Gopay.CallbackURL == "" {
		t.Fatalf("gopay options missing: %+v", req.Gopay)
	}
	if req.TransactionDetails.GrossAmount != 51000 || len(req.ItemDetails) != 2 || req.ItemDetails[1].ID != "transaction_fee" || req.ItemDetails[1].Price != 1000 {
		t.Fatalf("unexpected amounts %+v", req)
	}
	if req.CustomerDetails.FirstName != "Siti" || req.CustomerDetails.LastName != "Rahma Putri" {
		t.Fatalf("unexpected name split %+v", req.CustomerDetails)
	}

	in.Bill, _ = CalculateBill(model.PaymentQRIS, 50000)
	if req := svc.buildCharge(in); req.QRIS == nil || req.QRIS.Acquirer != "gopay" {
		t.Fatalf("qris acquirer missing")
	}

	in.Bill, _ = CalculateBill(model.PaymentBankTransfer, 50000)
	in.Bank = "permata"
	req = svc.buildCharge(in)
	if req.BankTransfer == nil || req.BankTransfer.Bank != "permata" || req.BankTransfer.Permata == nil || req.BankTransfer.Permata.RecipientName != "SALON BOOK" {
		t.Fatalf("permata options missing: %+v", req.BankTransfer)
	}
	in.Bank = "bca"
	if req := svc.buildCharge(in); req.BankTransfer.Permata != nil {
		t.Fatalf("recipient name is permata only")
	}
}

func TestPayMovesOrderToUnpaid(t *testing.T) {
	gw := &fakeCharger{resp: gateway.Response{
		StatusCode:        "201",
		TransactionID:     "trx-1",
		PaymentType:       "bank_transfer",
		TransactionStatus: "pending",
		TransactionTime:   "2026-10-17 08:00:05",
		ExpiryTime:        "2026-10-18 08:00:05",
		VANumbers:         []gateway.VANumber{{Bank: "bca", VANumber: "12345678901"}},
	}}
	s, svc := setup(t, 2, gw)
	order := placeOrder(t, s, svc)

	res, err := svc.Pay(context.Background(), customer, PayRequest{OrderID: order.ID, Method: "BANK_TRANSFER", Bank: "BCA"})
	if err != nil {
		t.Fatalf("pay: %v", err)
	}
	if res.Order.Status != model.OrderUnpaid || res.Order.TotalPrice != 304000 || res.Bill.Fee != 4000 {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.Order.Payment.VANumber != "12345678901" || res.Order.Payment.TransactionID != "trx-1" || res.Order.Payment.ExpiryTime == nil {
		t.Fatalf("payment fields not stored: %+v", res.Order.Payment)
	}
	if res.Order.PaymentMethod != model.PaymentBankTransfer || res.Order.Bank != "bca" {
		t.Fatalf("method not stored: %s %s", res.Order.PaymentMethod, res.Order.Bank)
	}
	if len(gw.requests) != 1 || gw.requests[0].TransactionDetails.OrderID != order.ID {
		t.Fatalf("unexpected charge requests %+v", gw.requests)
	}
	items, _ := s.ListOrderItems(context.Background(), order.ID)
	for _, it := range items {
		if it.Status != model.ItemUnpaid {
			t.Fatalf("item %s status %s", it.ID, it.Status)
		}
	}
	if _, ok := s.CartLine("l1"); ok {
		t.Fatalf("cart lines must be deleted after payment submission")
	}

	_, err = svc.Pay(context.Background(), customer, PayRequest{OrderID: order.ID, Method: model.PaymentGopay})
	if !apperr.Is(err, apperr.KindConflict) {
		t.Fatalf("second submission must conflict, got %v", err)
	}
}

func TestPayGatewayFailureLeavesOrderInCart(t *testing.T) {
	gw := &fakeCharger{err: &gateway.Error{Op: "charge", HTTPStatus: 200, UpstreamCode: "406", Message: "duplicate order id"}}
	s, svc := setup(t, 2, gw)
	order := placeOrder(t, s, svc)

	_, err := svc.Pay(context.Background(), customer, PayRequest{OrderID: order.ID, Method: model.PaymentQRIS})
	if !apperr.Is(err, apperr.KindGateway) {
		t.Fatalf("expected gateway error, got %v", err)
	}
	var gerr *gateway.Error
	if !errors.As(err, &gerr) || gerr.UpstreamCode != "406" {
		t.Fatalf("gateway error must stay in the chain")
	}
	got, _ := s.GetOrder(context.Background(), order.ID)
	if got.Status != model.OrderCart || got.TotalPrice != 300000 {
		t.Fatalf("order must be untouched, got %+v", got)
	}
	if l, ok := s.CartLine("l1"); !ok || !l.LockedForCheckout {
		t.Fatalf("cart lines must survive a failed charge")
	}
}

func TestPayCashSkipsGateway(t *testing.T) {
	gw := &fakeCharger{}
	s, svc := setup(t, 2, gw)
	order := placeOrder(t, s, svc)

	res, err := svc.Pay(context.Background(), customer, PayRequest{OrderID: order.ID, Method: model.PaymentCash})
	if err != nil {
		t.Fatalf("pay cash: %v", err)
	}
	if len(gw.requests) != 0 {
		t.Fatalf("cash must not reach the gateway")
	}
	if res.Order.Status != model.OrderUnpaid || res.Order.TotalPrice != 300000 {
		t.Fatalf("unexpected order %+v", res.Order)
	}
}

func TestPayRejections(t *testing.T) {
	s, svc := setup(t, 2, &fakeCharger{})
	order := placeOrder(t, s, svc)

	cases := []struct {
		name string
		cust Customer
		req  PayRequest
		kind apperr.Kind
	}{
		{"unknown method", customer, PayRequest{OrderID: order.ID, Method: "paypal"}, apperr.KindValidation},
		{"unknown bank", customer, PayRequest{OrderID: order.ID, Method: model.PaymentBankTransfer, Bank: "hsbc"}, apperr.KindValidation},
		{"other owner", Customer{ID: "u2"}, PayRequest{OrderID: order.ID, Method: model.PaymentGopay}, apperr.KindOwnershipMismatch},
		{"missing order", customer, PayRequest{OrderID: "nope", Method: model.PaymentGopay}, apperr.KindNotFound},
	}
	for _, tc := range cases {
		_, err := svc.Pay(context.Background(), tc.cust, tc.req)
		if !apperr.Is(err, tc.kind) {
			t.Fatalf("%s: expected %s, got %v", tc.name, tc.kind, err)
		}
	}
}

func TestPayRecheckRejectsFilledSlot(t *testing.T) {
	s, svc := setup(t, 1, &fakeCharger{})
	order := placeOrder(t, s, svc)
	s.PutOrder(model.Order{ID: "other", OwnerID: "u9", Code: "INV-OTHER", Status: model.OrderPaid},
		model.OrderItem{ID: "oi", ProductID: "cut", Interval: model.Interval{Start: at(9), DurationUnits: 1}, End: at(10), Status: model.ItemScheduled})

	_, err := svc.Pay(context.Background(), customer, PayRequest{OrderID: order.ID, Method: model.PaymentGopay})
	if !apperr.Is(err, apperr.KindScheduleConflict) {
		t.Fatalf("expected schedule conflict, got %v", err)
	}
}

func TestBill(t *testing.T) {
	s, svc := setup(t, 2, &fakeCharger{})
	order := placeOrder(t, s, svc)

	bill, err := svc.Bill(context.Background(), "u1", order.ID, model.PaymentGopay)
	if err != nil {
		t.Fatalf("bill: %v", err)
	}
	if bill.Fee != 6000 || bill.GrandTotal != 306000 {
		t.Fatalf("unexpected bill %+v", bill)
	}
	if _, err := svc.Bill(context.Background(), "u2", order.ID, model.PaymentGopay); !apperr.Is(err, apperr.KindOwnershipMismatch) {
		t.Fatalf("expected ownership mismatch, got %v", err)
	}
}

func TestPaySkipsCanceledItems(t *testing.T) {
	gw := &fakeCharger{}
	s, svc := setup(t, 1, gw)
	order := placeOrder(t, s, svc)
	ctx := context.Background()

	var color model.OrderItem
	items, _ := s.ListOrderItems(ctx, order.ID)
	for _, it := range items {
		if it.ProductID == "color" {
			color = it
		}
	}
	machine := lifecycle.NewMachine(runtime.DiscardLogger(), nil)
	err := s.WithinTx(ctx, func(tx storage.Tx) error {
		_, err := machine.ApplyItemTransition(ctx, tx, color.ID, model.ItemCanceled, lifecycle.SourceAdmin)
		return err
	})
	if err != nil {
		t.Fatalf("cancel item: %v", err)
	}
	// The canceled item's slot is taken by someone else; it must not be re-checked.
	s.PutOrder(model.Order{ID: "other", OwnerID: "u9", Code: "INV-OTHER", Status: model.OrderPaid},
		model.OrderItem{ID: "oi", ProductID: "color", Interval: model.Interval{Start: at(13), DurationUnits: 2}, End: at(15), Status: model.ItemScheduled})

	res, err := svc.Pay(ctx, customer, PayRequest{OrderID: order.ID, Method: model.PaymentGopay})
	if err != nil {
		t.Fatalf("pay: %v", err)
	}
	if len(gw.requests) != 1 {
		t.Fatalf("expected one charge, got %d", len(gw.requests))
	}
	req := gw.requests[0]
	if req.TransactionDetails.GrossAmount != 51000 || len(req.ItemDetails) != 2 {
		t.Fatalf("charge must cover the haircut only: gross=%d items=%+v", req.TransactionDetails.GrossAmount, req.ItemDetails)
	}
	if res.Order.TotalPrice != 51000 {
		t.Fatalf("unexpected total %d", res.Order.TotalPrice)
	}
	after, _ := s.ListOrderItems(ctx, order.ID)
	for _, it := range after {
		if it.ID == color.ID && it.Status != model.ItemCanceled {
			t.Fatalf("canceled item revived by payment: %s", it.Status)
		}
	}
}

func TestConcurrentPlaceOrderLocksLineOnce(t *testing.T) {
	s, svc := setup(t, 2, &fakeCharger{})
	s.PutCartLine(model.CartLine{ID: "l1", OwnerID: "u1", ProductID: "cut", Interval: model.Interval{Start: at(9), DurationUnits: 1}})
	ctx := context.Background()

	const n = 8
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		orders []model.Order
		errs   []error
	)
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			order, _, err := svc.PlaceOrder(ctx, customer, []string{"l1"})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			orders = append(orders, order)
		}()
	}
	close(start)
	wg.Wait()

	if len(orders) != 1 {
		t.Fatalf("expected one order, got %d", len(orders))
	}
	for _, err := range errs {
		if !apperr.Is(err, apperr.KindConflict) {
			t.Fatalf("losers must see a conflict, got %v", err)
		}
	}
	items, _ := s.ListOrderItems(ctx, orders[0].ID)
	if len(items) != 1 || items[0].CartLineID != "l1" {
		t.Fatalf("unexpected items %+v", items)
	}
}
