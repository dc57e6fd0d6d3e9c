// Package billing creates orders from checked-out cart lines, computes the
// bill and submits the charge to the payment gateway.
package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/salonbook/services/reservation-service/internal/apperr"
	"github.com/md-rashed-zaman/salonbook/services/reservation-service/internal/availability"
	"github.com/md-rashed-zaman/salonbook/services/reservation-service/internal/checkout"
	"github.com/md-rashed-zaman/salonbook/services/reservation-service/internal/gateway"
	"github.com/md-rashed-zaman/salonbook/services/reservation-service/internal/lifecycle"
	"github.com/md-rashed-zaman/salonbook/services/reservation-service/internal/model"
	"github.com/md-rashed-zaman/salonbook/services/reservation-service/internal/statuscache"
	"github.com/md-rashed-zaman/salonbook/services/reservation-service/internal/storage"
)

const EventOrderCreated = "reservation.order.created.v1"

// Customer is the authenticated caller as seen by billing.
type Customer struct {
	ID    string
	Name  string
	Phone string
	Email string
}

// Charger submits a charge to the payment gateway.
type Charger interface {
	Charge(ctx context.Context, req gateway.ChargeRequest) (gateway.Response, error)
}

type Config struct {
	GopayCallbackURL string
	PermataRecipient string
	// ExpiryMinutes overrides the gateway's default payment expiry when > 0.
	ExpiryMinutes int
	Now           func() time.Time
}

type Service struct {
	store       storage.Store
	coordinator *checkout.Coordinator
	eval        *availability.Evaluator
	machine     *lifecycle.Machine
	gateway     Charger
	cache       statuscache.Cache
	logger      *slog.Logger
	cfg         Config
}

func NewService(store storage.Store, coordinator *checkout.Coordinator, eval *availability.Evaluator, machine *lifecycle.Machine, gw Charger, cache statuscache.Cache, logger *slog.Logger, cfg Config) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if cache == nil {
		cache = statuscache.Noop{}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Service{
		store:       store,
		coordinator: coordinator,
		eval:        eval,
		machine:     machine,
		gateway:     gw,
		cache:       cache,
		logger:      logger,
		cfg:         cfg,
	}
}

// PlaceOrder checks out the given cart lines and creates the order in one
// transaction.
func (s *Service) PlaceOrder(ctx context.Context, cust Customer, lineIDs []string) (model.Order, []model.OrderItem, error) {
	var (
		order model.Order
		items []model.OrderItem
	)
	err := s.store.WithinTx(ctx, func(tx storage.Tx) error {
		locked, err := s.coordinator.LockLines(ctx, tx, cust.ID, lineIDs)
		if err != nil {
			return err
		}
		order, items, err = s.CreateOrder(ctx, tx, cust, locked)
		return err
	})
	if err != nil {
		return model.Order{}, nil, err
	}
	s.logger.InfoContext(ctx, "order created", "order_id", order.ID, "code", order.Code, "items", len(items), "total", order.TotalPrice)
	return order, items, nil
}

// CreateOrder persists a locked snapshot as an order in CART.
func (s *Service) CreateOrder(ctx context.Context, tx storage.Tx, cust Customer, locked []checkout.LockedLine) (model.Order, []model.OrderItem, error) {
	if len(locked) == 0 {
		return model.Order{}, nil, apperr.Validation("order must contain at least one line")
	}
	now := s.cfg.Now().UTC()
	order := model.Order{
		ID:         uuid.NewString(),
		OwnerID:    cust.ID,
		OwnerName:  cust.Name,
		OwnerPhone: cust.Phone,
		Code:       s.orderCode(now),
		Status:     model.OrderCart,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	for _, l := range locked {
		order.TotalPrice += l.Price
	}
	if err := tx.InsertOrder(ctx, order); err != nil {
		return model.Order{}, nil, fmt.Errorf("insert order: %w", err)
	}

	items := make([]model.OrderItem, 0, len(locked))
	for _, l := range locked {
		it := model.OrderItem{
			ID:         uuid.NewString(),
			OrderID:    order.ID,
			CartLineID: l.CartLineID,
			ProductID:  l.ProductID,
			Employee:   model.Unassigned(),
			Interval:   l.Interval,
			End:        l.End,
			Price:      l.Price,
			Note:       l.Note,
			Status:     model.ItemCart,
		}
		if err := tx.InsertOrderItem(ctx, it); err != nil {
			return model.Order{}, nil, fmt.Errorf("insert order item: %w", err)
		}
		items = append(items, it)
	}

	payload, err := json.Marshal(map[string]any{
		"order_id":    order.ID,
		"order_code":  order.Code,
		"owner_id":    order.OwnerID,
		"total_price": order.TotalPrice,
		"items":       len(items),
	})
	if err != nil {
		return model.Order{}, nil, err
	}
	if err := tx.AppendEvent(ctx, storage.Event{
		ID:            uuid.NewString(),
		AggregateType: "order",
		AggregateID:   order.ID,
		EventType:     EventOrderCreated,
		Payload:       payload,
		CreatedAt:     now,
	}); err != nil {
		return model.Order{}, nil, fmt.Errorf("append event: %w", err)
	}
	return order, items, nil
}

// orderCode renders INV-YYYYMMDD-XXXXXX in the business timezone.
func (s *Service) orderCode(now time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:6])
	return "INV-" + now.In(s.eval.Hours().Location).Format("20060102") + "-" + suffix
}

// Bill computes the fee and grand total for paying orderID with method.
func (s *Service) Bill(ctx context.Context, ownerID, orderID string, method model.PaymentMethod) (Bill, error) {
	order, err := s.store.GetOrder(ctx, orderID)
	if errors.Is(err, storage.ErrNotFound) {
		return Bill{}, apperr.NotFound("order")
	}
	if err != nil {
		return Bill{}, fmt.Errorf("load order: %w", err)
	}
	if order.OwnerID != ownerID {
		return Bill{}, apperr.OwnershipMismatch("order")
	}
	return CalculateBill(method, order.TotalPrice)
}

type PayRequest struct {
	OrderID string
	Method  model.PaymentMethod
	Bank    string
}

func (r PayRequest) validate() error {
	if r.OrderID == "" {
		return apperr.Validation("order id is required")
	}
	if _, ok := model.ParsePaymentMethod(string(r.Method)); !ok {
		return apperr.Validation("unsupported payment method").WithDetail("payment_method", string(r.Method))
	}
	if r.Method == model.PaymentBankTransfer && !supportedBanks[r.Bank] {
		return apperr.Validation("unsupported bank").WithDetail("bank", r.Bank)
	}
	return nil
}

type PayResult struct {
	Order model.Order
	Bill  Bill
}

// Pay submits the charge for an order in CART. Availability is re-checked
// before the gateway is called. On success the order is UNPAID, its total is
// the charged gross amount and the checked-out cart lines are gone.
func (s *Service) Pay(ctx context.Context, cust Customer, req PayRequest) (PayResult, error) {
	if m, ok := model.ParsePaymentMethod(string(req.Method)); ok {
		req.Method = m
	}
	req.Bank = strings.ToLower(strings.TrimSpace(req.Bank))
	if req.Method != model.PaymentBankTransfer {
		req.Bank = ""
	}
	if err := req.validate(); err != nil {
		return PayResult{}, err
	}

	var (
		in    chargeInput
		items []model.OrderItem
	)
	err := s.store.WithinTx(ctx, func(tx storage.Tx) error {
		order, err := tx.GetOrderForUpdate(ctx, req.OrderID)
		if errors.Is(err, storage.ErrNotFound) {
			return apperr.NotFound("order")
		}
		if err != nil {
			return fmt.Errorf("load order: %w", err)
		}
		if order.OwnerID != cust.ID {
			return apperr.OwnershipMismatch("order")
		}
		if order.Status != model.OrderCart {
			return apperr.New(apperr.KindConflict, "payment was already submitted for this order").
				WithDetail("status", string(order.Status))
		}
		items, err = tx.ListOrderItemsForUpdate(ctx, order.ID)
		if err != nil {
			return fmt.Errorf("list order items: %w", err)
		}
		if len(items) == 0 {
			return apperr.Validation("order has no items")
		}

		ivs := make([]model.Interval, 0, len(items))
		lines := make([]chargeLine, 0, len(items))
		for _, it := range items {
			// Canceled items are already off the total.
			if it.Status == model.ItemCanceled {
				continue
			}
			if err := s.eval.ValidateRequest(it.Interval); err != nil {
				return err
			}
			ivs = append(ivs, it.Interval)
			p, err := tx.GetProduct(ctx, it.ProductID)
			if errors.Is(err, storage.ErrNotFound) {
				return apperr.MissingReference("product", it.ProductID)
			}
			if err != nil {
				return fmt.Errorf("load product: %w", err)
			}
			lines = append(lines, chargeLine{ProductID: p.ID, ProductName: p.Name, Price: it.Price})
		}
		if len(lines) == 0 {
			return apperr.Validation("order has no payable items")
		}
		if err := s.coordinator.Recheck(ctx, tx, order.OwnerID, ivs, availability.Exclusion{}); err != nil {
			return err
		}

		bill, err := CalculateBill(req.Method, order.TotalPrice)
		if err != nil {
			return err
		}
		in = chargeInput{Order: order, Customer: cust, Lines: lines, Bill: bill, Bank: req.Bank}
		return nil
	})
	if err != nil {
		return PayResult{}, err
	}

	info := model.PaymentInfo{PaymentType: string(req.Method)}
	gross := in.Bill.GrandTotal
	if req.Method != model.PaymentCash {
		resp, err := s.gateway.Charge(ctx, s.buildCharge(in))
		if err != nil {
			var gerr *gateway.Error
			if errors.As(err, &gerr) {
				s.logger.ErrorContext(ctx, "gateway charge failed", "order_id", in.Order.ID,
					"http_status", gerr.HTTPStatus, "upstream_code", gerr.UpstreamCode, "payload", string(gerr.Payload))
			} else {
				s.logger.ErrorContext(ctx, "gateway charge failed", "order_id", in.Order.ID, "err", err)
			}
			return PayResult{}, apperr.Wrap(apperr.KindGateway, "payment gateway rejected the charge", err)
		}
		info = s.paymentInfo(resp)
		if amount, ok := ParseAmount(resp.GrossAmount); ok {
			gross = amount
		}
	}

	var res lifecycle.Result
	err = s.store.WithinTx(ctx, func(tx storage.Tx) error {
		var err error
		res, err = s.machine.ApplyOrderTransition(ctx, tx, in.Order.ID, model.OrderUnpaid, model.ItemUnpaid, lifecycle.SourcePayment)
		if err != nil {
			return err
		}
		switch res.Order.Status {
		case model.OrderUnpaid, model.OrderPaid:
		default:
			return apperr.New(apperr.KindConflict, "order changed while the charge was submitted").
				WithDetail("status", string(res.Order.Status))
		}
		if err := tx.UpdateOrderPayment(ctx, in.Order.ID, req.Method, req.Bank, mergeCharge(res.Order.Payment, info)); err != nil {
			return fmt.Errorf("update payment fields: %w", err)
		}
		if err := tx.UpdateOrderTotal(ctx, in.Order.ID, gross); err != nil {
			return fmt.Errorf("update order total: %w", err)
		}
		lineIDs := make([]string, 0, len(items))
		for _, it := range items {
			if it.CartLineID != "" {
				lineIDs = append(lineIDs, it.CartLineID)
			}
		}
		if _, err := tx.DeleteLockedCartLines(ctx, in.Order.OwnerID, lineIDs); err != nil {
			return fmt.Errorf("delete cart lines: %w", err)
		}
		return nil
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "charge accepted but order update failed", "order_id", in.Order.ID, "err", err)
		return PayResult{}, err
	}

	if err := s.cache.Set(context.WithoutCancel(ctx), in.Order.ID, res.Order.Status); err != nil {
		s.logger.WarnContext(ctx, "status cache update failed", "order_id", in.Order.ID, "err", err)
	}

	order, err := s.store.GetOrder(ctx, in.Order.ID)
	if err != nil {
		return PayResult{}, fmt.Errorf("reload order: %w", err)
	}
	s.logger.InfoContext(ctx, "charge submitted", "order_id", order.ID, "method", string(req.Method), "status", string(order.Status), "gross", gross)
	return PayResult{Order: order, Bill: in.Bill}, nil
}

// mergeCharge keeps a settlement the webhook may already have stored.
func mergeCharge(current, charged model.PaymentInfo) model.PaymentInfo {
	if current.SettlementTime != nil {
		charged.SettlementTime = current.SettlementTime
		charged.TransactionStatus = current.TransactionStatus
		charged.FraudStatus = current.FraudStatus
	}
	return charged
}
