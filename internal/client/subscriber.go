// Package client is the consumer side of the tracking subsystem: it fetches
// the order projection over HTTP, follows the live channel over websocket,
// and maintains a local view that only ever moves forward. Duplicate or
// out-of-order events are folded away so callers can render the view as-is.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/quickbite/order-tracking/internal/core/domain"
)

const (
	defaultBaseBackoff = 500 * time.Millisecond
	defaultMaxBackoff  = 30 * time.Second
	defaultMaxRetries  = 8
)

// statusRank orders the forward delivery path so a stale status_update can
// never move the local view backwards. Cancelled sits above everything: it is
// terminal and reachable from any non-terminal status.
var statusRank = map[domain.OrderStatus]int{
	domain.StatusPending:   0,
	domain.StatusPreparing: 1,
	domain.StatusEnRoute:   2,
	domain.StatusDelivered: 3,
	domain.StatusCancelled: 4,
}

// OrderView is the client's local rendering of an order. Unavailable is set
// only once the reconnect budget is exhausted; the rest of the fields keep
// their last known values so the UI can keep showing them. Transient drops
// are absorbed by reconnect-and-resnapshot and never surface here.
type OrderView struct {
	OrderID          string
	Status           domain.OrderStatus
	Position         *domain.Coordinates
	ETAMinutes       *int
	EstimatedMinutes int
	Unavailable      bool

	capturedAt time.Time
}

// Options tune the subscriber's reconnect behaviour.
type Options struct {
	// BaseBackoff is the first reconnect delay; it doubles per attempt.
	BaseBackoff time.Duration
	// MaxBackoff caps the doubling.
	MaxBackoff time.Duration
	// MaxRetries is the consecutive-failure budget before Track gives up
	// and closes the view channel. Zero applies the default.
	MaxRetries int
	// HTTPClient overrides the projection fetch client.
	HTTPClient *http.Client
}

// Subscriber tracks a single order against a tracking server.
type Subscriber struct {
	baseURL string
	token   string
	http    *http.Client
	dialer  *websocket.Dialer
	opts    Options
	log     zerolog.Logger

	mu     sync.Mutex
	view   OrderView
	cancel context.CancelFunc
	done   chan struct{}
	closed bool
}

// NewSubscriber creates a subscriber for the server at baseURL (http or
// https scheme) authenticating with the given bearer token.
func NewSubscriber(baseURL, token string, opts Options, log zerolog.Logger) *Subscriber {
	if opts.BaseBackoff <= 0 {
		opts.BaseBackoff = defaultBaseBackoff
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = defaultMaxBackoff
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = defaultMaxRetries
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Subscriber{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    httpClient,
		dialer:  websocket.DefaultDialer,
		opts:    opts,
		log:     log,
	}
}

// OrderProjection is the subset of the order read model the subscriber needs.
type OrderProjection struct {
	ID               string             `json:"id"`
	Status           domain.OrderStatus `json:"status"`
	EstimatedMinutes int                `json:"estimated_minutes"`
}

// FetchOrder reads the order projection over HTTP.
func (s *Subscriber) FetchOrder(ctx context.Context, orderID string) (*OrderProjection, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/v1/orders/"+url.PathEscape(orderID), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+s.token)

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch order: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch order: unexpected status %d", resp.StatusCode)
	}

	var p OrderProjection
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return nil, fmt.Errorf("fetch order: decode: %w", err)
	}
	return &p, nil
}

// Track seeds the view from the projection, then follows the live channel,
// emitting a copy of the view after every applied change. The channel closes
// when Close is called, the context ends, or the retry budget runs out.
// Track may be called once per Subscriber.
func (s *Subscriber) Track(ctx context.Context, orderID string) (<-chan OrderView, error) {
	proj, err := s.FetchOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("track: already tracking")
	}
	s.view = OrderView{
		OrderID:          proj.ID,
		Status:           proj.Status,
		EstimatedMinutes: proj.EstimatedMinutes,
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	s.mu.Unlock()

	views := make(chan OrderView, 16)
	s.emit(views) // the projection itself is the first view
	go s.run(ctx, orderID, views)
	return views, nil
}

// Close stops tracking and waits for the view channel to be closed.
// Safe to call more than once.
func (s *Subscriber) Close() {
	s.mu.Lock()
	if s.closed || s.cancel == nil {
		s.mu.Unlock()
		return
	}
	s.closed = true
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	cancel()
	<-done
}

func (s *Subscriber) run(ctx context.Context, orderID string, views chan OrderView) {
	defer close(views)
	defer close(s.done)

	backoff := s.opts.BaseBackoff
	failures := 0

	for {
		connected, err := s.follow(ctx, orderID, views)
		if ctx.Err() != nil {
			return
		}
		if connected {
			// A drop after a healthy connection starts a fresh budget.
			failures = 0
			backoff = s.opts.BaseBackoff
		}

		failures++
		if failures > s.opts.MaxRetries {
			// Only now does the caller hear about connectivity: the last
			// known state stays visible, flagged unavailable.
			s.setUnavailable(views)
			s.log.Warn().Str("order_id", orderID).Msg("tracking retry budget exhausted")
			return
		}

		s.log.Debug().Err(err).Dur("backoff", backoff).Int("attempt", failures).
			Str("order_id", orderID).Msg("tracking channel reconnect")

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > s.opts.MaxBackoff {
			backoff = s.opts.MaxBackoff
		}
	}
}

// follow runs one websocket connection to completion, reporting whether the
// dial succeeded. A nil-looking exit does not exist: a server close, read
// error, or context cancel ends it.
func (s *Subscriber) follow(ctx context.Context, orderID string, views chan OrderView) (bool, error) {
	wsURL, err := s.channelURL(orderID)
	if err != nil {
		return false, err
	}

	conn, resp, err := s.dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		if resp != nil {
			return false, fmt.Errorf("dial: %w (status %d)", err, resp.StatusCode)
		}
		return false, fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	// Unwind the connection when the context ends so ReadMessage returns.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-stop:
		}
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return true, fmt.Errorf("read: %w", err)
		}
		if changed := s.apply(msg); changed {
			s.emit(views)
		}
	}
}

func (s *Subscriber) channelURL(orderID string) (string, error) {
	u, err := url.Parse(s.baseURL)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = "/ws/orders/" + orderID
	u.RawQuery = url.Values{"token": {s.token}}.Encode()
	return u.String(), nil
}

// apply folds one wire event into the view. Stale inputs are dropped: a
// status may only move forward in rank and a position must carry a strictly
// newer captured_at than the one already held.
func (s *Subscriber) apply(raw []byte) bool {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		s.log.Debug().Err(err).Msg("dropping undecodable event")
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	changed := false

	switch envelope.Type {
	case "snapshot":
		var ev struct {
			Status     domain.OrderStatus  `json:"status"`
			Position   *domain.Coordinates `json:"position"`
			ETAMinutes *int                `json:"eta_minutes"`
		}
		if err := json.Unmarshal(raw, &ev); err != nil {
			return changed
		}
		if s.applyStatusLocked(ev.Status) {
			changed = true
		}
		// The snapshot reflects server state at-or-after subscribe time, so it
		// supersedes whatever position was held before a connectivity gap. The
		// sample clock restarts with it: the next location_update on this
		// connection always applies.
		if ev.Position != nil {
			s.view.Position = ev.Position
			s.view.ETAMinutes = ev.ETAMinutes
			s.view.capturedAt = time.Time{}
			changed = true
		}

	case "status_update":
		var ev struct {
			Status domain.OrderStatus `json:"status"`
		}
		if err := json.Unmarshal(raw, &ev); err != nil {
			return changed
		}
		if s.applyStatusLocked(ev.Status) {
			changed = true
		}

	case "location_update":
		var ev struct {
			Lat        float64 `json:"lat"`
			Lng        float64 `json:"lng"`
			ETAMinutes int     `json:"eta_minutes"`
			CapturedAt int64   `json:"captured_at"`
		}
		if err := json.Unmarshal(raw, &ev); err != nil {
			return changed
		}
		captured := time.UnixMilli(ev.CapturedAt)
		if s.view.Position != nil && !captured.After(s.view.capturedAt) {
			return changed
		}
		s.view.Position = &domain.Coordinates{Lat: ev.Lat, Lng: ev.Lng}
		eta := ev.ETAMinutes
		s.view.ETAMinutes = &eta
		s.view.capturedAt = captured
		changed = true
	}

	return changed
}

func (s *Subscriber) applyStatusLocked(status domain.OrderStatus) bool {
	next, ok := statusRank[status]
	if !ok {
		return false
	}
	if s.view.Status.IsTerminal() || next <= statusRank[s.view.Status] {
		return false
	}
	s.view.Status = status
	return true
}

func (s *Subscriber) setUnavailable(views chan OrderView) {
	s.mu.Lock()
	s.view.Unavailable = true
	s.mu.Unlock()
	s.emit(views)
}

// emit pushes the current view. When the consumer is not keeping up the
// oldest buffered view is discarded to make room, so the channel always ends
// on the latest state even if no further change arrives.
func (s *Subscriber) emit(views chan OrderView) {
	s.mu.Lock()
	v := s.view
	s.mu.Unlock()
	for {
		select {
		case views <- v:
			return
		default:
		}
		select {
		case <-views:
		default:
		}
	}
}
