package memstore

import (
	"context"
	"slices"
	"sort"

	"github.com/md-rashed-zaman/salonbook/services/reservation-service/internal/storage"
)

func (s *Store) OrderDetail(_ context.Context, orderID string) (storage.OrderDetail, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.st.orders[orderID]
	if !ok {
		return storage.OrderDetail{}, storage.ErrNotFound
	}
	detail := storage.OrderDetail{Order: o}
	for _, it := range s.st.orderItems(orderID) {
		d := storage.OrderDetailItem{Item: it, ProductName: s.st.products[it.ProductID].Name}
		if id, ok := it.Employee.Employee(); ok {
			d.EmployeeName = s.st.employees[id].Name
		}
		detail.Items = append(detail.Items, d)
	}
	return detail, nil
}

func (s *Store) Schedule(_ context.Context, q storage.ScheduleQuery) (storage.SchedulePage, error) {
	q = q.Normalize()
	s.mu.Lock()
	defer s.mu.Unlock()

	var all []storage.ScheduleEntry
	for _, it := range s.st.items {
		if !slices.Contains(storage.ScheduleStatuses, it.Status) {
			continue
		}
		start := it.Interval.Start
		if q.From == nil && q.To == nil {
			if start.Before(q.Now) {
				continue
			}
		} else {
			if q.From != nil && start.Before(*q.From) {
				continue
			}
			if q.To != nil && start.After(*q.To) {
				continue
			}
		}
		o := s.st.orders[it.OrderID]
		e := storage.ScheduleEntry{
			ItemID:          it.ID,
			ItemStatus:      it.Status,
			ReservationDate: start,
			EstimatedFinish: it.End,
			Price:           it.Price,
			Note:            it.Note,
			OrderID:         o.ID,
			OrderCode:       o.Code,
			OrderStatus:     o.Status,
			OwnerID:         o.OwnerID,
			OwnerName:       o.OwnerName,
			ProductID:       it.ProductID,
			ProductName:     s.st.products[it.ProductID].Name,
			Employee:        it.Employee,
		}
		if id, ok := it.Employee.Employee(); ok {
			e.EmployeeName = s.st.employees[id].Name
		}
		all = append(all, e)
	}
	sort.Slice(all, func(i, j int) bool {
		a, b := all[i], all[j]
		if a.ReservationDate.Equal(b.ReservationDate) {
			return a.ItemID < b.ItemID
		}
		if q.Sort == storage.SortDesc {
			return a.ReservationDate.After(b.ReservationDate)
		}
		return a.ReservationDate.Before(b.ReservationDate)
	})

	page := storage.SchedulePage{Entries: []storage.ScheduleEntry{}, Total: len(all), Limit: q.Limit, Offset: q.Offset}
	if q.Offset < len(all) {
		end := q.Offset + q.Limit
		if end > len(all) {
			end = len(all)
		}
		page.Entries = append(page.Entries, all[q.Offset:end]...)
	}
	return page, nil
}
