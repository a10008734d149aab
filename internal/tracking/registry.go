package tracking

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/quickbite/order-tracking/internal/api/metrics"
	"github.com/quickbite/order-tracking/internal/core/domain"
	"github.com/quickbite/order-tracking/internal/core/ports"
)

const (
	defaultQueueSize = 32
	defaultIdleTTL   = 5 * time.Minute
)

// Options tunes registry behaviour. Zero values select defaults.
type Options struct {
	// QueueSize bounds each subscriber's outbound event queue. A subscriber
	// that falls this far behind is disconnected rather than buffered further.
	QueueSize int
	// IdleTTL is how long a session with no subscribers survives before the
	// garbage collector evicts it.
	IdleTTL time.Duration
}

// Registry maps order ids to live tracking sessions. It guarantees at most
// one session per order, creating sessions lazily from the Order Store on
// first subscribe or first publish, and evicting them once the order is
// terminal or the session has been idle with no subscribers.
//
// The registry mutex guards only the session map; each session serializes its
// own mutations, so throughput scales with the number of distinct orders.
type Registry struct {
	orders    ports.OrderRepository
	positions ports.PositionCache
	feed      *Feed
	queueSize int
	idleTTL   time.Duration
	log       zerolog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewRegistry builds a Registry backed by the given Order Store projection
// and position cache.
func NewRegistry(orders ports.OrderRepository, positions ports.PositionCache, feed *Feed, opts Options, log zerolog.Logger) *Registry {
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	if opts.IdleTTL <= 0 {
		opts.IdleTTL = defaultIdleTTL
	}
	return &Registry{
		orders:    orders,
		positions: positions,
		feed:      feed,
		queueSize: opts.QueueSize,
		idleTTL:   opts.IdleTTL,
		log:       log,
		sessions:  make(map[string]*Session),
	}
}

// GetOrCreate returns the session for the order, building it from the Order
// Store projection (and the warm position cache) if absent. The backing fetch
// happens outside the registry lock; a lost creation race discards the extra
// session.
func (r *Registry) GetOrCreate(ctx context.Context, orderID string) (*Session, error) {
	r.mu.Lock()
	s, ok := r.sessions[orderID]
	r.mu.Unlock()
	if ok {
		return s, nil
	}

	order, err := r.orders.FindByID(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("get or create session: %w", err)
	}

	s = &Session{
		reg:         r,
		orderID:     orderID,
		dest:        order.CustomerLocation,
		createdAt:   time.Now(),
		status:      order.Status,
		subscribers: make(map[chan []byte]struct{}),
		emptySince:  time.Now(),
	}
	if order.Status == domain.StatusEnRoute {
		pos, err := r.positions.Get(ctx, orderID)
		if err != nil {
			r.log.Warn().Err(err).Str("order_id", orderID).Msg("position cache read failed, session starts cold")
		} else if pos != nil {
			s.position = pos
			s.etaMinutes = r.feed.ETAMinutes(*pos, s.dest)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.sessions[orderID]; ok {
		return existing, nil
	}
	r.sessions[orderID] = s
	metrics.SessionsActive.Inc()
	r.log.Debug().Str("order_id", orderID).Str("status", string(s.status)).Msg("tracking session created")
	return s, nil
}

// Subscribe registers a new subscriber channel on the order's session. The
// channel's first event is always a snapshot of the full current state. The
// returned function unsubscribes; it is idempotent and must be called on
// every exit path of the consuming connection.
func (r *Registry) Subscribe(ctx context.Context, orderID string) (<-chan []byte, func(), error) {
	for {
		s, err := r.GetOrCreate(ctx, orderID)
		if err != nil {
			return nil, nil, err
		}

		s.mu.Lock()
		if s.closed {
			// The sweeper (or a terminal unsubscribe) evicted this session
			// between the lookup and the lock. Attaching now would orphan the
			// subscriber on a session no publish can reach; look up again.
			s.mu.Unlock()
			continue
		}
		ch := s.subscribeLocked(r.queueSize)
		s.mu.Unlock()

		var once sync.Once
		unsubscribe := func() {
			once.Do(func() { r.unsubscribe(s, ch) })
		}
		return ch, unsubscribe, nil
	}
}

func (r *Registry) unsubscribe(s *Session, ch chan []byte) {
	s.mu.Lock()
	if _, ok := s.subscribers[ch]; ok {
		delete(s.subscribers, ch)
		close(ch)
		metrics.SubscribersActive.Dec()
	}
	empty := len(s.subscribers) == 0
	terminal := s.status.IsTerminal()
	if empty && s.emptySince.IsZero() {
		s.emptySince = time.Now()
	}
	s.mu.Unlock()

	// A terminal order with no watchers has nothing left to push.
	if empty && terminal {
		r.evict(s.orderID, "terminal")
	}
}

// PublishStatus runs the status through the state machine and, on success,
// updates the store and fans a status_update to every subscriber. Rejections
// leave state untouched and nothing is broadcast.
func (r *Registry) PublishStatus(ctx context.Context, orderID string, status domain.OrderStatus, updatedBy string) error {
	timer := prometheus.NewTimer(metrics.PublishDuration.WithLabelValues("status"))
	defer timer.ObserveDuration()

	for {
		s, err := r.GetOrCreate(ctx, orderID)
		if err != nil {
			return err
		}
		if err := s.publishStatus(ctx, status, updatedBy); !errors.Is(err, errSessionClosed) {
			return err
		}
	}
}

// PublishLocation runs the sample through the location feed and, on
// acceptance, updates the store and fans a location_update to every
// subscriber. Stale samples return domain.ErrStaleSample and broadcast
// nothing.
func (r *Registry) PublishLocation(ctx context.Context, orderID string, sample domain.CourierPosition) error {
	timer := prometheus.NewTimer(metrics.PublishDuration.WithLabelValues("location"))
	defer timer.ObserveDuration()

	for {
		s, err := r.GetOrCreate(ctx, orderID)
		if err != nil {
			return err
		}
		if err := s.publishLocation(ctx, sample); !errors.Is(err, errSessionClosed) {
			return err
		}
	}
}

// Sweep evicts sessions that are terminal with no subscribers, or that have
// had no subscribers for longer than the idle TTL. It returns the number of
// sessions evicted and is intended to run on a short periodic schedule.
func (r *Registry) Sweep(now time.Time) int {
	r.mu.Lock()
	candidates := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		candidates = append(candidates, s)
	}
	r.mu.Unlock()

	evicted := 0
	for _, s := range candidates {
		s.mu.Lock()
		empty := len(s.subscribers) == 0
		terminal := s.status.IsTerminal()
		idle := empty && !s.emptySince.IsZero() && now.Sub(s.emptySince) >= r.idleTTL
		s.mu.Unlock()

		switch {
		case empty && terminal:
			if r.evict(s.orderID, "terminal") {
				evicted++
			}
		case idle:
			if r.evict(s.orderID, "idle") {
				evicted++
			}
		}
	}
	return evicted
}

// evict removes the session unless a subscriber raced in since the caller's
// check.
func (r *Registry) evict(orderID, reason string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[orderID]
	if !ok {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.subscribers) > 0 {
		return false
	}

	// Marking the session closed under its own lock fences out callers that
	// fetched the pointer before the eviction; they retry against the map.
	s.closed = true
	delete(r.sessions, orderID)
	metrics.SessionsActive.Dec()
	metrics.SessionsEvictedTotal.WithLabelValues(reason).Inc()
	r.log.Debug().Str("order_id", orderID).Str("reason", reason).Msg("tracking session evicted")
	return true
}

// Len reports the number of live sessions. Used by tests and the readiness
// surface.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
