package tracking

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/quickbite/order-tracking/internal/api/metrics"
	"github.com/quickbite/order-tracking/internal/core/domain"
)

// errSessionClosed reports that the session was evicted between the caller's
// registry lookup and its attempt to use it. Registry methods retry the
// lookup on this error; it never escapes the package.
var errSessionClosed = errors.New("tracking session closed")

// Session is the live, in-memory aggregate for one order while it is being
// tracked. It caches the last applied status, position, and ETA, and owns the
// set of subscriber channels. All mutations are serialized by its mutex, so a
// publish always fans out to a consistent snapshot of subscribers.
//
// A Session never outlives the process and is not the system of record; on
// restart it is rebuilt lazily from the Order Store and the position cache.
type Session struct {
	reg       *Registry
	orderID   string
	dest      domain.Coordinates
	createdAt time.Time

	mu sync.Mutex
	// All fields below are guarded by mu.
	status      domain.OrderStatus
	position    *domain.CourierPosition
	etaMinutes  int
	subscribers map[chan []byte]struct{}
	emptySince  time.Time
	// closed marks a session that has been evicted from the registry. A caller
	// holding a stale pointer must discard it and look the order up again.
	closed bool
}

// OrderID returns the order this session tracks.
func (s *Session) OrderID() string {
	return s.orderID
}

// Snapshot returns the session's current state as a serialized snapshot event.
func (s *Session) Snapshot() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() []byte {
	ev := SnapshotEvent{Type: EventSnapshot, Status: s.status}
	if s.position != nil {
		coords := s.position.Coordinates()
		ev.Position = &coords
		eta := s.etaMinutes
		ev.ETAMinutes = &eta
	}
	return mustMarshal(ev)
}

// subscribeLocked registers a fresh subscriber channel and enqueues the
// snapshot as its first event. The snapshot and the registration happen under
// the same lock, so the snapshot reflects state at-or-after subscribe time
// and no later event can slip in ahead of it.
func (s *Session) subscribeLocked(queueSize int) chan []byte {
	ch := make(chan []byte, queueSize)
	ch <- s.snapshotLocked()
	s.subscribers[ch] = struct{}{}
	s.emptySince = time.Time{}
	metrics.SubscribersActive.Inc()
	metrics.EventsPublishedTotal.WithLabelValues(EventSnapshot).Inc()
	return ch
}

// publishStatus validates the transition, persists it, updates the cache, and
// fans out a status_update event. Re-submitting the current status is an
// idempotent no-op: no mutation, no broadcast, no error.
func (s *Session) publishStatus(ctx context.Context, next domain.OrderStatus, updatedBy string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errSessionClosed
	}
	if next == s.status {
		return nil
	}
	if !s.status.CanTransitionTo(next) {
		metrics.WritesRejectedTotal.WithLabelValues("invalid_transition").Inc()
		return fmt.Errorf("publish status: %w (from %s to %s)", domain.ErrInvalidTransition, s.status, next)
	}

	now := time.Now().UTC()
	if err := s.reg.orders.UpdateStatus(ctx, s.orderID, next, now, updatedBy); err != nil {
		return fmt.Errorf("publish status: persist: %w", err)
	}

	s.status = next
	s.fanoutLocked(mustMarshal(StatusUpdateEvent{Type: EventStatusUpdate, Status: next}), EventStatusUpdate)

	s.reg.log.Info().
		Str("order_id", s.orderID).
		Str("status", string(next)).
		Str("updated_by", updatedBy).
		Msg("status published")
	return nil
}

// publishLocation runs the sample through the feed, persists the ETA and the
// cache entry, and fans out a location_update event. Stale samples surface as
// domain.ErrStaleSample so the caller can drop them silently.
func (s *Session) publishLocation(ctx context.Context, sample domain.CourierPosition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errSessionClosed
	}
	if err := s.reg.feed.Accept(s.status, s.position, sample); err != nil {
		switch {
		case errors.Is(err, domain.ErrStaleSample):
			metrics.StaleSamplesTotal.Inc()
		case errors.Is(err, domain.ErrNotTrackable):
			metrics.WritesRejectedTotal.WithLabelValues("not_trackable").Inc()
		}
		return fmt.Errorf("publish location: %w", err)
	}

	eta := s.reg.feed.ETAMinutes(sample, s.dest)
	if err := s.reg.orders.UpdateETA(ctx, s.orderID, eta); err != nil {
		return fmt.Errorf("publish location: persist eta: %w", err)
	}
	// Cache failures are non-fatal: the cache only warms rebuilt sessions.
	if err := s.reg.positions.Set(ctx, s.orderID, sample); err != nil {
		s.reg.log.Warn().Err(err).Str("order_id", s.orderID).Msg("failed to cache position")
	}

	s.position = &sample
	s.etaMinutes = eta
	s.fanoutLocked(mustMarshal(LocationUpdateEvent{
		Type:       EventLocationUpdate,
		Lat:        sample.Lat,
		Lng:        sample.Lng,
		ETAMinutes: eta,
		CapturedAt: sample.CapturedAt.UnixMilli(),
	}), EventLocationUpdate)
	return nil
}

// fanoutLocked delivers msg to every subscriber. A subscriber whose queue is
// full is removed and its channel closed, which tells the connection pump to
// drop the connection; the publisher and the other subscribers never block on
// it.
func (s *Session) fanoutLocked(msg []byte, eventType string) {
	for ch := range s.subscribers {
		select {
		case ch <- msg:
		default:
			delete(s.subscribers, ch)
			close(ch)
			metrics.SubscribersActive.Dec()
			metrics.ChannelOverrunsTotal.Inc()
			s.reg.log.Warn().Str("order_id", s.orderID).Msg("subscriber dropped: outbound queue full")
		}
	}
	if len(s.subscribers) == 0 && s.emptySince.IsZero() {
		s.emptySince = time.Now()
	}
	metrics.EventsPublishedTotal.WithLabelValues(eventType).Add(float64(len(s.subscribers)))
}
