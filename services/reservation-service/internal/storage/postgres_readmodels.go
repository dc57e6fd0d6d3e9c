package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/md-rashed-zaman/salonbook/services/reservation-service/internal/model"
)

func (p *Postgres) OrderDetail(ctx context.Context, orderID string) (OrderDetail, error) {
	order, err := getOrder(ctx, p.pool, orderID, false)
	if err != nil {
		return OrderDetail{}, err
	}
	rows, err := p.pool.Query(ctx, `
		SELECT i.id, i.order_id, i.cart_line_id, i.product_id, i.employee_id, i.reservation_start, i.reservation_end, i.duration_units,
			i.price, i.note, i.status, i.is_reviewed, p.name, COALESCE(e.name, '')
		FROM order_items i
		JOIN products p ON p.id = i.product_id
		LEFT JOIN employees e ON e.id = i.employee_id
		WHERE i.order_id = $1
		ORDER BY i.reservation_start, i.id
	`, orderID)
	if err != nil {
		return OrderDetail{}, err
	}
	defer rows.Close()

	detail := OrderDetail{Order: order}
	for rows.Next() {
		var (
			d        OrderDetailItem
			employee *string
		)
		it := &d.Item
		if err := rows.Scan(&it.ID, &it.OrderID, &it.CartLineID, &it.ProductID, &employee, &it.Interval.Start, &it.End, &it.Interval.DurationUnits,
			&it.Price, &it.Note, &it.Status, &it.IsReviewed, &d.ProductName, &d.EmployeeName); err != nil {
			return OrderDetail{}, err
		}
		it.Employee = model.AssignmentFromRef(employee)
		detail.Items = append(detail.Items, d)
	}
	return detail, rows.Err()
}

func (p *Postgres) Schedule(ctx context.Context, q ScheduleQuery) (SchedulePage, error) {
	q = q.Normalize()

	statuses := make([]string, 0, len(ScheduleStatuses))
	for _, s := range ScheduleStatuses {
		statuses = append(statuses, string(s))
	}
	where := []string{"i.status = ANY($1)"}
	args := []any{statuses}
	switch {
	case q.From == nil && q.To == nil:
		args = append(args, q.Now)
		where = append(where, fmt.Sprintf("i.reservation_start >= $%d", len(args)))
	default:
		if q.From != nil {
			args = append(args, *q.From)
			where = append(where, fmt.Sprintf("i.reservation_start >= $%d", len(args)))
		}
		if q.To != nil {
			args = append(args, *q.To)
			where = append(where, fmt.Sprintf("i.reservation_start <= $%d", len(args)))
		}
	}
	filter := strings.Join(where, " AND ")

	var total int
	if err := p.pool.QueryRow(ctx, `
		SELECT count(*) FROM order_items i WHERE `+filter, args...).Scan(&total); err != nil {
		return SchedulePage{}, err
	}

	direction := "ASC"
	if q.Sort == SortDesc {
		direction = "DESC"
	}
	args = append(args, q.Limit, q.Offset)
	rows, err := p.pool.Query(ctx, fmt.Sprintf(`
		SELECT i.id, i.status, i.reservation_start, i.reservation_end, i.price, i.note,
			o.id, o.code, o.status, o.owner_id, o.owner_name,
			p.id, p.name, i.employee_id, COALESCE(e.name, '')
		FROM order_items i
		JOIN orders o ON o.id = i.order_id
		JOIN products p ON p.id = i.product_id
		LEFT JOIN employees e ON e.id = i.employee_id
		WHERE %s
		ORDER BY i.reservation_start %s, i.id
		LIMIT $%d OFFSET $%d
	`, filter, direction, len(args)-1, len(args)), args...)
	if err != nil {
		return SchedulePage{}, err
	}
	defer rows.Close()

	page := SchedulePage{Entries: []ScheduleEntry{}, Total: total, Limit: q.Limit, Offset: q.Offset}
	for rows.Next() {
		var (
			e        ScheduleEntry
			employee *string
		)
		if err := rows.Scan(&e.ItemID, &e.ItemStatus, &e.ReservationDate, &e.EstimatedFinish, &e.Price, &e.Note,
			&e.OrderID, &e.OrderCode, &e.OrderStatus, &e.OwnerID, &e.OwnerName,
			&e.ProductID, &e.ProductName, &employee, &e.EmployeeName); err != nil {
			return SchedulePage{}, err
		}
		e.Employee = model.AssignmentFromRef(employee)
		page.Entries = append(page.Entries, e)
	}
	return page, rows.Err()
}
