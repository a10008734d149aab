package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/quickbite/order-tracking/internal/core/domain"
	"github.com/quickbite/order-tracking/internal/core/ports"
)

// TrackingService authorizes callers against orders and routes privileged
// writes through the session registry. Validation failures are surfaced
// synchronously to the writer; stale samples are swallowed here since they
// are an expected race under retries, not an error.
type TrackingService struct {
	repo      ports.OrderRepository
	publisher ports.TrackingPublisher
	logger    zerolog.Logger
}

func NewTrackingService(repo ports.OrderRepository, publisher ports.TrackingPublisher, logger zerolog.Logger) *TrackingService {
	return &TrackingService{repo: repo, publisher: publisher, logger: logger}
}

// GetOrder returns the tracking projection for the order, scoped to callers
// related to it.
func (s *TrackingService) GetOrder(ctx context.Context, in ports.GetOrderInput) (*ports.OrderDetail, error) {
	order, err := s.repo.FindByID(ctx, in.OrderID)
	if err != nil {
		return nil, err
	}
	if err := authorizeView(in.Actor, order); err != nil {
		return nil, err
	}
	return toDetail(order), nil
}

// ListOrders returns the caller's own orders. Admins have no "own" orders to
// list here; the admin surface reads by id.
func (s *TrackingService) ListOrders(ctx context.Context, actor ports.Actor) ([]*ports.OrderDetail, error) {
	if actor.Role != domain.RoleCustomer {
		return nil, domain.ErrForbidden
	}
	orders, err := s.repo.FindByCustomer(ctx, actor.UserID)
	if err != nil {
		return nil, err
	}
	details := make([]*ports.OrderDetail, 0, len(orders))
	for _, o := range orders {
		details = append(details, toDetail(o))
	}
	return details, nil
}

// SubmitStatus applies a privileged status write. On the transition into
// en_route a courier id may ride along to record the assignment; once set it
// is immutable for the order's remaining lifetime.
func (s *TrackingService) SubmitStatus(ctx context.Context, in ports.SubmitStatusInput) error {
	status := domain.OrderStatus(in.Status)
	if !status.IsValid() {
		return fmt.Errorf("submit status: %w (unknown status %q)", domain.ErrInvalidTransition, in.Status)
	}

	order, err := s.repo.FindByID(ctx, in.OrderID)
	if err != nil {
		return err
	}
	if err := authorizeStatusWrite(in.Actor, order); err != nil {
		return err
	}

	if err := s.publisher.PublishStatus(ctx, in.OrderID, status, in.Actor.UserID); err != nil {
		return err
	}

	// The assignment is immutable once written, so it must only be recorded
	// after the state machine has accepted the move into en_route. A rejected
	// transition leaves the order unassigned and claimable.
	if status == domain.StatusEnRoute && order.CourierID == "" {
		courierID := in.CourierID
		if courierID == "" && in.Actor.Role == domain.RoleCourier {
			courierID = in.Actor.CourierID
		}
		if courierID != "" {
			if err := s.repo.SetCourier(ctx, in.OrderID, courierID); err != nil {
				return fmt.Errorf("submit status: assign courier: %w", err)
			}
			s.logger.Info().Str("order_id", in.OrderID).Str("courier_id", courierID).Msg("courier assigned")
		}
	}
	return nil
}

// SubmitLocation applies a courier position sample. Only the order's assigned
// courier (or an admin) may report positions.
func (s *TrackingService) SubmitLocation(ctx context.Context, in ports.SubmitLocationInput) error {
	order, err := s.repo.FindByID(ctx, in.OrderID)
	if err != nil {
		return err
	}
	if err := authorizeLocationWrite(in.Actor, order); err != nil {
		return err
	}

	sample := domain.CourierPosition{Lat: in.Lat, Lng: in.Lng, CapturedAt: in.CapturedAt}
	if err := s.publisher.PublishLocation(ctx, in.OrderID, sample); err != nil {
		if errors.Is(err, domain.ErrStaleSample) {
			s.logger.Debug().Str("order_id", in.OrderID).Time("captured_at", in.CapturedAt).Msg("stale sample dropped")
			return nil
		}
		return err
	}
	return nil
}

// AuthorizeSubscribe checks that the actor may open a live channel for the
// order. Unauthorized connects are refused before any session interaction.
func (s *TrackingService) AuthorizeSubscribe(ctx context.Context, orderID string, actor ports.Actor) error {
	order, err := s.repo.FindByID(ctx, orderID)
	if err != nil {
		return err
	}
	return authorizeView(actor, order)
}

// authorizeView admits the order's buyer, assigned courier, the business's
// seller, and admins.
func authorizeView(actor ports.Actor, order *domain.Order) error {
	switch actor.Role {
	case domain.RoleAdmin:
		return nil
	case domain.RoleCustomer:
		if actor.UserID == order.CustomerID {
			return nil
		}
	case domain.RoleSeller:
		if actor.BusinessID != "" && actor.BusinessID == order.BusinessID {
			return nil
		}
	case domain.RoleCourier:
		if actor.CourierID != "" && actor.CourierID == order.CourierID {
			return nil
		}
	}
	return domain.ErrForbidden
}

// authorizeStatusWrite admits the business's seller, the assigned courier,
// and admins. Before assignment any courier may take the order en_route by
// claiming it, matching how dispatch hands work to courier tooling.
func authorizeStatusWrite(actor ports.Actor, order *domain.Order) error {
	switch actor.Role {
	case domain.RoleAdmin:
		return nil
	case domain.RoleSeller:
		if actor.BusinessID != "" && actor.BusinessID == order.BusinessID {
			return nil
		}
	case domain.RoleCourier:
		if actor.CourierID != "" && (order.CourierID == "" || actor.CourierID == order.CourierID) {
			return nil
		}
	}
	return domain.ErrForbidden
}

func authorizeLocationWrite(actor ports.Actor, order *domain.Order) error {
	switch actor.Role {
	case domain.RoleAdmin:
		return nil
	case domain.RoleCourier:
		if actor.CourierID != "" && actor.CourierID == order.CourierID {
			return nil
		}
	}
	return domain.ErrForbidden
}

func toDetail(o *domain.Order) *ports.OrderDetail {
	return &ports.OrderDetail{
		ID:               o.ID,
		Status:           string(o.Status),
		CourierID:        o.CourierID,
		BusinessLocation: o.BusinessLocation,
		CustomerLocation: o.CustomerLocation,
		EstimatedMinutes: o.EstimatedMinutes,
		CreatedAt:        o.CreatedAt,
		StatusHistory:    o.StatusHistory,
	}
}
