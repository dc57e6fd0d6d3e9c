package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/salonbook/libs/db"
	otelx "github.com/md-rashed-zaman/salonbook/libs/otel"
	"github.com/md-rashed-zaman/salonbook/services/reservation-service/internal/model"
)

// querier is satisfied by both the pool and a transaction.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Postgres struct {
	pool *db.Pool
}

func NewPostgres(pool *db.Pool) *Postgres {
	return &Postgres{pool: pool}
}

var _ Store = (*Postgres)(nil)

func (p *Postgres) WithinTx(ctx context.Context, fn func(Tx) error) error {
	return p.pool.WithTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		return fn(&pgTx{tx: tx})
	})
}

func (p *Postgres) CountEmployees(ctx context.Context) (int, error) {
	return countEmployees(ctx, p.pool)
}

func (p *Postgres) GetProduct(ctx context.Context, id string) (model.Product, error) {
	return getProduct(ctx, p.pool, id)
}

func (p *Postgres) ListBusyIntervals(ctx context.Context, from, to time.Time) ([]model.BusyInterval, error) {
	return listBusyIntervals(ctx, p.pool, from, to)
}

func (p *Postgres) ListCartLines(ctx context.Context, ownerID string) ([]model.CartLine, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT `+cartLineColumns+`
		FROM cart_lines
		WHERE owner_id = $1
		ORDER BY created_at ASC
	`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.CartLine
	for rows.Next() {
		line, err := scanCartLine(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, line)
	}
	return out, rows.Err()
}

func (p *Postgres) GetOrder(ctx context.Context, id string) (model.Order, error) {
	return getOrder(ctx, p.pool, id, false)
}

func (p *Postgres) ListOrderItems(ctx context.Context, orderID string) ([]model.OrderItem, error) {
	return listOrderItems(ctx, p.pool, orderID, false)
}

func (p *Postgres) ListAwaitingPayment(ctx context.Context, createdBefore time.Time, limit int) ([]model.Order, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := p.pool.Query(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE status = $1 AND payment_method <> $2 AND created_at < $3
		ORDER BY updated_at ASC
		LIMIT $4
	`, model.OrderUnpaid, model.PaymentCash, createdBefore, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

type pgTx struct {
	tx pgx.Tx
}

var _ Tx = (*pgTx)(nil)

func (t *pgTx) LockCapacityDay(ctx context.Context, day time.Time) error {
	return db.AdvisoryXactLock(ctx, t.tx, CapacityLockKey(day))
}

func (t *pgTx) CountEmployees(ctx context.Context) (int, error) {
	return countEmployees(ctx, t.tx)
}

func (t *pgTx) GetEmployee(ctx context.Context, id string) (model.Employee, error) {
	var e model.Employee
	err := t.tx.QueryRow(ctx, `
		SELECT id, name, contact FROM employees WHERE id = $1 AND active
	`, id).Scan(&e.ID, &e.Name, &e.Contact)
	if err != nil {
		return model.Employee{}, notFound(err)
	}
	return e, nil
}

func (t *pgTx) GetProduct(ctx context.Context, id string) (model.Product, error) {
	return getProduct(ctx, t.tx, id)
}

func (t *pgTx) ListBusyIntervals(ctx context.Context, from, to time.Time) ([]model.BusyInterval, error) {
	return listBusyIntervals(ctx, t.tx, from, to)
}

func (t *pgTx) InsertCartLine(ctx context.Context, line model.CartLine) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO cart_lines (id, owner_id, product_id, reservation_start, duration_units, price, note, locked_for_checkout, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, line.ID, line.OwnerID, line.ProductID, line.Interval.Start, line.Interval.DurationUnits, line.Price, line.Note, line.LockedForCheckout, line.CreatedAt)
	return classify(err)
}

func (t *pgTx) GetCartLineForUpdate(ctx context.Context, id string) (model.CartLine, error) {
	line, err := scanCartLine(t.tx.QueryRow(ctx, `
		SELECT `+cartLineColumns+`
		FROM cart_lines
		WHERE id = $1
		FOR UPDATE
	`, id))
	if err != nil {
		return model.CartLine{}, notFound(err)
	}
	return line, nil
}

func (t *pgTx) LockCartLine(ctx context.Context, id, ownerID string) (bool, error) {
	tag, err := t.tx.Exec(ctx, `
		UPDATE cart_lines
		SET locked_for_checkout = TRUE
		WHERE id = $1 AND owner_id = $2 AND NOT locked_for_checkout
	`, id, ownerID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (t *pgTx) UnlockCartLines(ctx context.Context, ownerID string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := t.tx.Exec(ctx, `
		UPDATE cart_lines
		SET locked_for_checkout = FALSE
		WHERE owner_id = $1 AND id = ANY($2)
	`, ownerID, ids)
	return err
}

func (t *pgTx) DeleteCartLine(ctx context.Context, ownerID, id string) (bool, error) {
	tag, err := t.tx.Exec(ctx, `
		DELETE FROM cart_lines
		WHERE id = $1 AND owner_id = $2 AND NOT locked_for_checkout
	`, id, ownerID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (t *pgTx) DeleteLockedCartLines(ctx context.Context, ownerID string, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := t.tx.Exec(ctx, `
		DELETE FROM cart_lines
		WHERE owner_id = $1 AND id = ANY($2) AND locked_for_checkout
	`, ownerID, ids)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (t *pgTx) InsertOrder(ctx context.Context, o model.Order) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO orders (id, owner_id, owner_name, owner_phone, code, total_price, status, payment_method, bank, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
	`, o.ID, o.OwnerID, o.OwnerName, o.OwnerPhone, o.Code, o.TotalPrice, o.Status, o.PaymentMethod, o.Bank, o.CreatedAt)
	return classify(err)
}

func (t *pgTx) InsertOrderItem(ctx context.Context, it model.OrderItem) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO order_items (id, order_id, cart_line_id, product_id, employee_id, reservation_start, reservation_end, duration_units, price, note, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, it.ID, it.OrderID, it.CartLineID, it.ProductID, it.Employee.Ref(), it.Interval.Start, it.End, it.Interval.DurationUnits, it.Price, it.Note, it.Status)
	return classify(err)
}

func (t *pgTx) GetOrderForUpdate(ctx context.Context, id string) (model.Order, error) {
	return getOrder(ctx, t.tx, id, true)
}

func (t *pgTx) ListOrderItemsForUpdate(ctx context.Context, orderID string) ([]model.OrderItem, error) {
	return listOrderItems(ctx, t.tx, orderID, true)
}

func (t *pgTx) GetOrderItemForUpdate(ctx context.Context, id string) (model.OrderItem, error) {
	it, err := scanOrderItem(t.tx.QueryRow(ctx, `
		SELECT `+orderItemColumns+`
		FROM order_items
		WHERE id = $1
		FOR UPDATE
	`, id))
	if err != nil {
		return model.OrderItem{}, notFound(err)
	}
	return it, nil
}

func (t *pgTx) UpdateOrderStatus(ctx context.Context, id string, status model.OrderStatus) error {
	return t.execOne(ctx, `UPDATE orders SET status = $2, updated_at = now() WHERE id = $1`, id, status)
}

func (t *pgTx) UpdateOrderTotal(ctx context.Context, id string, total int64) error {
	return t.execOne(ctx, `UPDATE orders SET total_price = $2, updated_at = now() WHERE id = $1`, id, total)
}

func (t *pgTx) UpdateOrderPayment(ctx context.Context, id string, method model.PaymentMethod, bank string, info model.PaymentInfo) error {
	actions, err := json.Marshal(nonNilActions(info.Actions))
	if err != nil {
		return err
	}
	return t.execOne(ctx, `
		UPDATE orders
		SET payment_method = $2,
			bank = $3,
			transaction_id = $4,
			payment_type = $5,
			transaction_status = $6,
			fraud_status = $7,
			va_number = $8,
			acquirer = $9,
			actions = $10,
			transaction_time = $11,
			expiry_time = $12,
			settlement_time = $13,
			updated_at = now()
		WHERE id = $1
	`, id, method, bank, info.TransactionID, info.PaymentType, info.TransactionStatus, info.FraudStatus,
		info.VANumber, info.Acquirer, actions, info.TransactionTime, info.ExpiryTime, info.SettlementTime)
}

func (t *pgTx) UpdateItemStatus(ctx context.Context, id string, status model.ItemStatus) error {
	return t.execOne(ctx, `UPDATE order_items SET status = $2, updated_at = now() WHERE id = $1`, id, status)
}

func (t *pgTx) UpdateItemSchedule(ctx context.Context, id string, iv model.Interval, end time.Time) error {
	return t.execOne(ctx, `
		UPDATE order_items
		SET reservation_start = $2, duration_units = $3, reservation_end = $4, updated_at = now()
		WHERE id = $1
	`, id, iv.Start, iv.DurationUnits, end)
}

func (t *pgTx) UpdateItemEmployee(ctx context.Context, id string, a model.Assignment) error {
	return t.execOne(ctx, `UPDATE order_items SET employee_id = $2, updated_at = now() WHERE id = $1`, id, a.Ref())
}

func (t *pgTx) DeleteEmptyOrders(ctx context.Context, createdBefore time.Time) (int, error) {
	tag, err := t.tx.Exec(ctx, `
		DELETE FROM orders o
		WHERE o.created_at < $1
			AND NOT EXISTS (SELECT 1 FROM order_items i WHERE i.order_id = o.id)
	`, createdBefore)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (t *pgTx) RecordNotification(ctx context.Context, n GatewayNotification) (bool, error) {
	tag, err := t.tx.Exec(ctx, `
		INSERT INTO gateway_notifications (digest, order_id, source, transaction_status, status_code, fraud_status, gross_amount, payload, received_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (digest) DO NOTHING
	`, n.Digest, n.OrderID, n.Source, n.TransactionStatus, n.StatusCode, n.FraudStatus, n.GrossAmount, n.Payload, n.ReceivedAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (t *pgTx) AppendEvent(ctx context.Context, evt Event) error {
	traceparent, tracestate := otelx.TraceContextStrings(ctx)
	_, err := t.tx.Exec(ctx, `
		INSERT INTO outbox_events (event_id, aggregate_type, aggregate_id, event_type, payload, traceparent, tracestate, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, evt.ID, evt.AggregateType, evt.AggregateID, evt.EventType, evt.Payload, traceparent, tracestate, evt.CreatedAt)
	return classify(err)
}

func (t *pgTx) execOne(ctx context.Context, sql string, args ...any) error {
	tag, err := t.tx.Exec(ctx, sql, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

const cartLineColumns = `id, owner_id, product_id, reservation_start, duration_units, price, note, locked_for_checkout, created_at`

func scanCartLine(row pgx.Row) (model.CartLine, error) {
	var l model.CartLine
	err := row.Scan(&l.ID, &l.OwnerID, &l.ProductID, &l.Interval.Start, &l.Interval.DurationUnits, &l.Price, &l.Note, &l.LockedForCheckout, &l.CreatedAt)
	return l, err
}

const orderColumns = `id, owner_id, owner_name, owner_phone, code, total_price, status, payment_method, bank,
	transaction_id, payment_type, transaction_status, fraud_status, va_number, acquirer, actions,
	transaction_time, expiry_time, settlement_time, created_at, updated_at`

func scanOrder(row pgx.Row) (model.Order, error) {
	var (
		o       model.Order
		actions []byte
	)
	err := row.Scan(&o.ID, &o.OwnerID, &o.OwnerName, &o.OwnerPhone, &o.Code, &o.TotalPrice, &o.Status, &o.PaymentMethod, &o.Bank,
		&o.Payment.TransactionID, &o.Payment.PaymentType, &o.Payment.TransactionStatus, &o.Payment.FraudStatus,
		&o.Payment.VANumber, &o.Payment.Acquirer, &actions,
		&o.Payment.TransactionTime, &o.Payment.ExpiryTime, &o.Payment.SettlementTime, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return model.Order{}, err
	}
	if len(actions) > 0 {
		if err := json.Unmarshal(actions, &o.Payment.Actions); err != nil {
			return model.Order{}, fmt.Errorf("decode order actions: %w", err)
		}
	}
	return o, nil
}

const orderItemColumns = `id, order_id, cart_line_id, product_id, employee_id, reservation_start, reservation_end, duration_units, price, note, status, is_reviewed`

func scanOrderItem(row pgx.Row) (model.OrderItem, error) {
	var (
		it       model.OrderItem
		employee *string
	)
	err := row.Scan(&it.ID, &it.OrderID, &it.CartLineID, &it.ProductID, &employee, &it.Interval.Start, &it.End, &it.Interval.DurationUnits,
		&it.Price, &it.Note, &it.Status, &it.IsReviewed)
	if err != nil {
		return model.OrderItem{}, err
	}
	it.Employee = model.AssignmentFromRef(employee)
	return it, nil
}

func countEmployees(ctx context.Context, q querier) (int, error) {
	var n int
	err := q.QueryRow(ctx, `SELECT count(*) FROM employees WHERE active`).Scan(&n)
	return n, err
}

func getProduct(ctx context.Context, q querier, id string) (model.Product, error) {
	var p model.Product
	err := q.QueryRow(ctx, `
		SELECT id, name, price, estimation_units FROM products WHERE id = $1
	`, id).Scan(&p.ID, &p.Name, &p.Price, &p.EstimationUnits)
	if err != nil {
		return model.Product{}, notFound(err)
	}
	return p, nil
}

func getOrder(ctx context.Context, q querier, id string, forUpdate bool) (model.Order, error) {
	sql := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	if forUpdate {
		sql += ` FOR UPDATE`
	}
	o, err := scanOrder(q.QueryRow(ctx, sql, id))
	if err != nil {
		return model.Order{}, notFound(err)
	}
	return o, nil
}

func listOrderItems(ctx context.Context, q querier, orderID string, forUpdate bool) ([]model.OrderItem, error) {
	sql := `SELECT ` + orderItemColumns + ` FROM order_items WHERE order_id = $1 ORDER BY reservation_start, id`
	if forUpdate {
		sql += ` FOR UPDATE`
	}
	rows, err := q.Query(ctx, sql, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.OrderItem
	for rows.Next() {
		it, err := scanOrderItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func listBusyIntervals(ctx context.Context, q querier, from, to time.Time) ([]model.BusyInterval, error) {
	rows, err := q.Query(ctx, `
		SELECT i.id, i.order_id, o.owner_id, i.employee_id, i.status, o.status, i.reservation_start, i.reservation_end
		FROM order_items i
		JOIN orders o ON o.id = i.order_id
		WHERE i.reservation_start < $2
			AND i.reservation_end > $1
			AND i.status IN ('SCHEDULED', 'IN_PROGRESS')
			AND o.status IN ('PAID', 'SCHEDULED')
		ORDER BY i.reservation_start
	`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.BusyInterval
	for rows.Next() {
		var (
			b        model.BusyInterval
			employee *string
		)
		if err := rows.Scan(&b.ItemID, &b.OrderID, &b.OwnerID, &employee, &b.ItemStatus, &b.OrderStatus, &b.Start, &b.End); err != nil {
			return nil, err
		}
		b.Employee = model.AssignmentFromRef(employee)
		out = append(out, b)
	}
	return out, rows.Err()
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func classify(err error) error {
	if err == nil {
		return nil
	}
	if db.IsUniqueViolation(err) {
		return fmt.Errorf("%w: %v", ErrDuplicate, err)
	}
	return err
}

func nonNilActions(a []model.PaymentAction) []model.PaymentAction {
	if a == nil {
		return []model.PaymentAction{}
	}
	return a
}
