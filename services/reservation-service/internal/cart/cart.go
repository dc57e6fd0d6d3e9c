// Package cart holds reservation requests before checkout.
package cart

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/salonbook/services/reservation-service/internal/apperr"
	"github.com/md-rashed-zaman/salonbook/services/reservation-service/internal/availability"
	"github.com/md-rashed-zaman/salonbook/services/reservation-service/internal/model"
	"github.com/md-rashed-zaman/salonbook/services/reservation-service/internal/storage"
)

const maxNoteLength = 500

type Service struct {
	store  storage.Store
	eval   *availability.Evaluator
	logger *slog.Logger
	now    func() time.Time
}

func NewService(store storage.Store, eval *availability.Evaluator, logger *slog.Logger, now func() time.Time) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if now == nil {
		now = time.Now
	}
	return &Service{store: store, eval: eval, logger: logger, now: now}
}

type AddRequest struct {
	ProductID string
	Start     time.Time
	Note      string
}

func (r *AddRequest) normalize() error {
	r.ProductID = strings.TrimSpace(r.ProductID)
	r.Note = strings.TrimSpace(r.Note)
	if r.ProductID == "" {
		return apperr.Validation("product_id is required")
	}
	if r.Start.IsZero() {
		return apperr.Validation("reservation_date is required")
	}
	if len(r.Note) > maxNoteLength {
		return apperr.Validation("note is too long").WithDetail("max", maxNoteLength)
	}
	return nil
}

// Add stores a reservation request. The interval length and the price come
// from the catalog. The request must fit business hours and the capacity
// committed so far; the check is repeated at checkout.
func (s *Service) Add(ctx context.Context, ownerID string, req AddRequest) (model.CartLine, error) {
	if err := req.normalize(); err != nil {
		return model.CartLine{}, err
	}

	var line model.CartLine
	err := s.store.WithinTx(ctx, func(tx storage.Tx) error {
		product, err := tx.GetProduct(ctx, req.ProductID)
		if errors.Is(err, storage.ErrNotFound) {
			return apperr.MissingReference("product", req.ProductID)
		}
		if err != nil {
			return fmt.Errorf("load product: %w", err)
		}

		iv := model.Interval{Start: req.Start, DurationUnits: product.EstimationUnits}
		if err := s.eval.ValidateRequest(iv); err != nil {
			return err
		}
		capacity, err := tx.CountEmployees(ctx)
		if err != nil {
			return fmt.Errorf("count employees: %w", err)
		}
		busy, err := tx.ListBusyIntervals(ctx, iv.Start, s.eval.End(iv))
		if err != nil {
			return fmt.Errorf("list busy intervals: %w", err)
		}
		if err := s.eval.CheckConflict(iv, availability.Exclusion{}, busy, capacity); err != nil {
			return err
		}

		line = model.CartLine{
			ID:        uuid.NewString(),
			OwnerID:   ownerID,
			ProductID: product.ID,
			Interval:  iv,
			Price:     product.Price,
			Note:      req.Note,
			CreatedAt: s.now().UTC(),
		}
		if err := tx.InsertCartLine(ctx, line); err != nil {
			return fmt.Errorf("insert cart line: %w", err)
		}
		return nil
	})
	if err != nil {
		return model.CartLine{}, err
	}
	s.logger.InfoContext(ctx, "cart line added", "owner_id", ownerID, "cart_line_id", line.ID, "product_id", line.ProductID)
	return line, nil
}

func (s *Service) List(ctx context.Context, ownerID string) ([]model.CartLine, error) {
	lines, err := s.store.ListCartLines(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list cart lines: %w", err)
	}
	return lines, nil
}

// Delete abandons an unlocked line owned by ownerID.
func (s *Service) Delete(ctx context.Context, ownerID, id string) error {
	return s.store.WithinTx(ctx, func(tx storage.Tx) error {
		line, err := tx.GetCartLineForUpdate(ctx, id)
		if errors.Is(err, storage.ErrNotFound) {
			return apperr.NotFound("cart line")
		}
		if err != nil {
			return fmt.Errorf("load cart line: %w", err)
		}
		if line.OwnerID != ownerID {
			return apperr.OwnershipMismatch("cart line")
		}
		if line.LockedForCheckout {
			return apperr.New(apperr.KindConflict, "cart line is part of a pending order")
		}
		ok, err := tx.DeleteCartLine(ctx, ownerID, id)
		if err != nil {
			return fmt.Errorf("delete cart line: %w", err)
		}
		if !ok {
			return apperr.NotFound("cart line")
		}
		return nil
	})
}
