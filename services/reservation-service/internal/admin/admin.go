// Package admin implements the operator actions on orders and their items.
package admin

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

const (
	EventItemRescheduled = "reservation.item.rescheduled.v1"
	EventItemAssigned    = "reservation.item.assigned.v1"
)

// GatewayActions are the operator calls forwarded to the payment gateway.
type GatewayActions interface {
	Cancel(ctx context.Context, orderID string) (gateway.Response, error)
	Approve(ctx context.Context, orderID string) (gateway.Response, error)
	Deny(ctx context.Context, orderID string) (gateway.Response, error)
	Expire(ctx context.Context, orderID string) (gateway.Response, error)
}

// StatusPoller pulls the signed gateway status of one order and reconciles it.
type StatusPoller interface {
	PollOrder(ctx context.Context, orderID string) (bool, error)
}

type Service struct {
	store       storage.Store
	eval        *availability.Evaluator
	coordinator *checkout.Coordinator
	machine     *lifecycle.Machine
	gateway     GatewayActions
	poller      StatusPoller
	cache       statuscache.Cache
	logger      *slog.Logger
	now         func() time.Time
}

func NewService(store storage.Store, eval *availability.Evaluator, coordinator *checkout.Coordinator, machine *lifecycle.Machine, gw GatewayActions, poller StatusPoller, cache statuscache.Cache, logger *slog.Logger, now func() time.Time) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if cache == nil {
		cache = statuscache.Noop{}
	}
	if now == nil {
		now = time.Now
	}
	return &Service{
		store:       store,
		eval:        eval,
		coordinator: coordinator,
		machine:     machine,
		gateway:     gw,
		poller:      poller,
		cache:       cache,
		logger:      logger,
		now:         now,
	}
}

// UpdateOrderStatus overrides the order status and cascades it to the items.
func (s *Service) UpdateOrderStatus(ctx context.Context, orderID string, status model.OrderStatus) (lifecycle.Result, error) {
	if !status.Valid() {
		return lifecycle.Result{}, apperr.Validation("unknown order status").WithDetail("status", string(status))
	}
	var res lifecycle.Result
	err := s.store.WithinTx(ctx, func(tx storage.Tx) error {
		var err error
		res, err = s.machine.ForceOrderStatus(ctx, tx, orderID, status)
		return err
	})
	if err != nil {
		return lifecycle.Result{}, err
	}
	s.remember(ctx, res)
	s.logger.InfoContext(ctx, "order status overridden", "order_id", orderID, "from", string(res.From), "to", string(res.Order.Status), "applied", res.Applied)
	return res, nil
}

// UpdateItemStatus progresses an item along its legal path. With force the
// guard is skipped.
func (s *Service) UpdateItemStatus(ctx context.Context, itemID string, status model.ItemStatus, force bool) (lifecycle.Result, error) {
	if !status.Valid() {
		return lifecycle.Result{}, apperr.Validation("unknown item status").WithDetail("status", string(status))
	}
	var res lifecycle.Result
	err := s.store.WithinTx(ctx, func(tx storage.Tx) error {
		var err error
		if force {
			res, err = s.machine.ForceItemStatus(ctx, tx, itemID, status)
		} else {
			res, err = s.machine.ApplyItemTransition(ctx, tx, itemID, status, lifecycle.SourceAdmin)
		}
		return err
	})
	if err != nil {
		return lifecycle.Result{}, err
	}
	s.remember(ctx, res)
	return res, nil
}

// Reschedule moves an item to start, keeping its length. The new interval is
// checked against committed capacity without the customer's own bookings.
func (s *Service) Reschedule(ctx context.Context, itemID string, start time.Time) (model.OrderItem, error) {
	if start.IsZero() {
		return model.OrderItem{}, apperr.Validation("reservation_date is required")
	}
	var item model.OrderItem
	err := s.store.WithinTx(ctx, func(tx storage.Tx) error {
		var (
			order model.Order
			err   error
		)
		item, order, err = s.loadItem(ctx, tx, itemID)
		if err != nil {
			return err
		}

		iv := model.Interval{Start: start, DurationUnits: item.Interval.DurationUnits}
		if err := s.eval.ValidateRequest(iv); err != nil {
			return err
		}
		exclude := availability.Exclusion{OwnerID: order.OwnerID, ItemID: item.ID}
		if err := s.coordinator.Recheck(ctx, tx, order.OwnerID, []model.Interval{iv}, exclude); err != nil {
			return err
		}
		end := s.eval.End(iv)
		if emp, ok := item.Employee.Employee(); ok {
			busy, err := tx.ListBusyIntervals(ctx, iv.Start, end)
			if err != nil {
				return fmt.Errorf("list busy intervals: %w", err)
			}
			if s.eval.EmployeeBusy(emp, iv, availability.Exclusion{ItemID: item.ID}, busy) {
				return employeeConflict(s.eval, emp, iv)
			}
		}

		if err := tx.UpdateItemSchedule(ctx, item.ID, iv, end); err != nil {
			return fmt.Errorf("update item schedule: %w", err)
		}
		from := item.Interval.Start
		item.Interval, item.End = iv, end
		return s.appendItemEvent(ctx, tx, EventItemRescheduled, item, map[string]any{
			"item_id":  item.ID,
			"order_id": item.OrderID,
			"from":     from.UTC().Format(time.RFC3339),
			"to":       start.UTC().Format(time.RFC3339),
		})
	})
	if err != nil {
		return model.OrderItem{}, err
	}
	s.logger.InfoContext(ctx, "item rescheduled", "item_id", item.ID, "start", item.Interval.Start)
	return item, nil
}

// AssignEmployee puts employeeID on an item. The employee must exist and be
// free for the whole item interval.
func (s *Service) AssignEmployee(ctx context.Context, itemID, employeeID string) (model.OrderItem, error) {
	employeeID = strings.TrimSpace(employeeID)
	if employeeID == "" {
		return model.OrderItem{}, apperr.Validation("employee_id is required")
	}
	var item model.OrderItem
	err := s.store.WithinTx(ctx, func(tx storage.Tx) error {
		if _, err := tx.GetEmployee(ctx, employeeID); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return apperr.MissingReference("employee", employeeID)
			}
			return fmt.Errorf("load employee: %w", err)
		}
		var err error
		item, _, err = s.loadItem(ctx, tx, itemID)
		if err != nil {
			return err
		}

		if err := tx.LockCapacityDay(ctx, s.eval.Hours().Day(item.Interval.Start)); err != nil {
			return fmt.Errorf("lock capacity day: %w", err)
		}
		busy, err := tx.ListBusyIntervals(ctx, item.Interval.Start, item.End)
		if err != nil {
			return fmt.Errorf("list busy intervals: %w", err)
		}
		if s.eval.EmployeeBusy(employeeID, item.Interval, availability.Exclusion{ItemID: item.ID}, busy) {
			return employeeConflict(s.eval, employeeID, item.Interval)
		}

		item.Employee = model.AssignedTo(employeeID)
		if err := tx.UpdateItemEmployee(ctx, item.ID, item.Employee); err != nil {
			return fmt.Errorf("update item employee: %w", err)
		}
		return s.appendItemEvent(ctx, tx, EventItemAssigned, item, map[string]any{
			"item_id":     item.ID,
			"order_id":    item.OrderID,
			"employee_id": employeeID,
		})
	})
	if err != nil {
		return model.OrderItem{}, err
	}
	s.logger.InfoContext(ctx, "employee assigned", "item_id", item.ID, "employee_id", employeeID)
	return item, nil
}

var gatewayActions = map[string]func(GatewayActions, context.Context, string) (gateway.Response, error){
	"cancel":  GatewayActions.Cancel,
	"approve": GatewayActions.Approve,
	"deny":    GatewayActions.Deny,
	"expire":  GatewayActions.Expire,
}

// GatewayAction forwards an operator action to the gateway, then pulls the
// resulting status through the reconciler. It reports whether the order
// changed.
func (s *Service) GatewayAction(ctx context.Context, orderID, action string) (bool, error) {
	call, ok := gatewayActions[strings.ToLower(action)]
	if !ok {
		return false, apperr.Validation("unsupported gateway action").WithDetail("action", action)
	}
	order, err := s.store.GetOrder(ctx, orderID)
	if errors.Is(err, storage.ErrNotFound) {
		return false, apperr.NotFound("order")
	}
	if err != nil {
		return false, fmt.Errorf("load order: %w", err)
	}
	if order.PaymentMethod == model.PaymentCash || order.Status == model.OrderCart {
		return false, apperr.New(apperr.KindConflict, "order has no gateway transaction").
			WithDetail("status", string(order.Status))
	}

	resp, err := call(s.gateway, ctx, orderID)
	if err != nil {
		var gerr *gateway.Error
		if errors.As(err, &gerr) {
			s.logger.ErrorContext(ctx, "gateway action failed", "order_id", orderID, "action", action,
				"http_status", gerr.HTTPStatus, "upstream_code", gerr.UpstreamCode, "payload", string(gerr.Payload))
		}
		return false, apperr.Wrap(apperr.KindGateway, "payment gateway rejected the action", err)
	}
	s.logger.InfoContext(ctx, "gateway action accepted", "order_id", orderID, "action", action, "transaction_status", resp.TransactionStatus)
	return s.poller.PollOrder(ctx, orderID)
}

// CleanupEmptyOrders removes orders without items created before olderThan
// ago.
func (s *Service) CleanupEmptyOrders(ctx context.Context, olderThan time.Duration) (int, error) {
	if olderThan < 0 {
		return 0, apperr.Validation("older_than must not be negative")
	}
	cutoff := s.now().Add(-olderThan)
	var n int
	err := s.store.WithinTx(ctx, func(tx storage.Tx) error {
		var err error
		n, err = tx.DeleteEmptyOrders(ctx, cutoff)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("delete empty orders: %w", err)
	}
	s.logger.InfoContext(ctx, "empty orders removed", "count", n, "created_before", cutoff)
	return n, nil
}

func (s *Service) loadItem(ctx context.Context, tx storage.Tx, itemID string) (model.OrderItem, model.Order, error) {
	item, err := tx.GetOrderItemForUpdate(ctx, itemID)
	if errors.Is(err, storage.ErrNotFound) {
		return model.OrderItem{}, model.Order{}, apperr.NotFound("order item")
	}
	if err != nil {
		return model.OrderItem{}, model.Order{}, fmt.Errorf("load order item: %w", err)
	}
	if item.Status.Terminal() {
		return model.OrderItem{}, model.Order{}, apperr.New(apperr.KindConflict, "item is already finished").
			WithDetail("status", string(item.Status))
	}
	order, err := tx.GetOrderForUpdate(ctx, item.OrderID)
	if err != nil {
		return model.OrderItem{}, model.Order{}, fmt.Errorf("load order: %w", err)
	}
	return item, order, nil
}

func (s *Service) appendItemEvent(ctx context.Context, tx storage.Tx, eventType string, item model.OrderItem, body map[string]any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	return tx.AppendEvent(ctx, storage.Event{
		ID:            uuid.NewString(),
		AggregateType: "order_item",
		AggregateID:   item.ID,
		EventType:     eventType,
		Payload:       payload,
		CreatedAt:     s.now(),
	})
}

func (s *Service) remember(ctx context.Context, res lifecycle.Result) {
	if !res.Applied {
		return
	}
	if err := s.cache.Set(context.WithoutCancel(ctx), res.Order.ID, res.Order.Status); err != nil {
		s.logger.WarnContext(ctx, "status cache update failed", "order_id", res.Order.ID, "err", err)
	}
}

func employeeConflict(eval *availability.Evaluator, employeeID string, iv model.Interval) error {
	at := eval.Hours().Format(iv.Start)
	return apperr.Newf(apperr.KindScheduleConflict, "employee is busy at %s", at).
		WithDetail("conflicting_time", at).
		WithDetail("employee_id", employeeID)
}
