package tracking

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/quickbite/order-tracking/internal/core/domain"
)

// ---------------------------------------------------------------------------
// Stubs
// ---------------------------------------------------------------------------

type stubOrderRepo struct {
	mu      sync.Mutex
	byID    map[string]*domain.Order
	updates []string // "<id>:<status>" in apply order
	etas    []int
	findErr error
}

func newStubOrderRepo() *stubOrderRepo {
	return &stubOrderRepo{byID: make(map[string]*domain.Order)}
}

func (r *stubOrderRepo) FindByID(_ context.Context, id string) (*domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.findErr != nil {
		return nil, r.findErr
	}
	o, ok := r.byID[id]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	cp := *o
	return &cp, nil
}

func (r *stubOrderRepo) FindByCustomer(_ context.Context, _ string) ([]*domain.Order, error) {
	return nil, nil
}

func (r *stubOrderRepo) FindByStatus(_ context.Context, _ domain.OrderStatus) ([]*domain.Order, error) {
	return nil, nil
}

func (r *stubOrderRepo) UpdateStatus(_ context.Context, id string, status domain.OrderStatus, ts time.Time, updatedBy string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if o, ok := r.byID[id]; ok {
		o.Status = status
		o.StatusHistory = append(o.StatusHistory, domain.StatusHistoryEntry{Status: status, Timestamp: ts, UpdatedBy: updatedBy})
	}
	r.updates = append(r.updates, id+":"+string(status))
	return nil
}

func (r *stubOrderRepo) SetCourier(_ context.Context, id string, courierID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if o, ok := r.byID[id]; ok && o.CourierID == "" {
		o.CourierID = courierID
	}
	return nil
}

func (r *stubOrderRepo) UpdateETA(_ context.Context, id string, minutes int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.etas = append(r.etas, minutes)
	return nil
}

type stubPositionCache struct {
	mu   sync.Mutex
	byID map[string]domain.CourierPosition
}

func newStubPositionCache() *stubPositionCache {
	return &stubPositionCache{byID: make(map[string]domain.CourierPosition)}
}

func (c *stubPositionCache) Get(_ context.Context, orderID string) (*domain.CourierPosition, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.byID[orderID]; ok {
		return &p, nil
	}
	return nil, nil
}

func (c *stubPositionCache) Set(_ context.Context, orderID string, pos domain.CourierPosition) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byID[orderID] = pos
	return nil
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func seedOrder(repo *stubOrderRepo, id string, status domain.OrderStatus) {
	repo.byID[id] = &domain.Order{
		ID:               id,
		CustomerID:       "cust_1",
		BusinessID:       "biz_1",
		Status:           status,
		BusinessLocation: domain.Coordinates{Lat: 6.2092, Lng: -75.5676},
		CustomerLocation: domain.Coordinates{Lat: 6.2425, Lng: -75.5894},
		CreatedAt:        time.Now().UTC(),
	}
}

func newTestRegistry(repo *stubOrderRepo, cache *stubPositionCache, opts Options) *Registry {
	return NewRegistry(repo, cache, NewFeed(20), opts, zerolog.Nop())
}

func decodeEvent(t *testing.T, raw []byte) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	return m
}

// recv pops one event or fails after a short wait.
func recv(t *testing.T, ch <-chan []byte) map[string]any {
	t.Helper()
	select {
	case raw, ok := <-ch:
		if !ok {
			t.Fatalf("channel closed while expecting event")
		}
		return decodeEvent(t, raw)
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for event")
		return nil
	}
}

func expectNoEvent(t *testing.T, ch <-chan []byte) {
	t.Helper()
	select {
	case raw := <-ch:
		t.Fatalf("unexpected event: %s", raw)
	default:
	}
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestSubscribe_SnapshotFirst(t *testing.T) {
	repo := newStubOrderRepo()
	seedOrder(repo, "ord_1", domain.StatusPending)
	reg := newTestRegistry(repo, newStubPositionCache(), Options{})

	ch, unsub, err := reg.Subscribe(context.Background(), "ord_1")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer unsub()

	ev := recv(t, ch)
	if ev["type"] != "snapshot" {
		t.Fatalf("expected snapshot first, got %v", ev["type"])
	}
	if ev["status"] != "pending" {
		t.Errorf("expected status pending, got %v", ev["status"])
	}
	if ev["position"] != nil {
		t.Errorf("expected null position before any sample, got %v", ev["position"])
	}
	if ev["eta_minutes"] != nil {
		t.Errorf("expected null eta before any sample, got %v", ev["eta_minutes"])
	}
}

func TestSubscribe_LateJoinerSeesFoldedState(t *testing.T) {
	repo := newStubOrderRepo()
	seedOrder(repo, "ord_1", domain.StatusPending)
	reg := newTestRegistry(repo, newStubPositionCache(), Options{})
	ctx := context.Background()

	// Apply a run of events before anyone subscribes.
	if err := reg.PublishStatus(ctx, "ord_1", domain.StatusPreparing, "seller_1"); err != nil {
		t.Fatalf("publish preparing: %v", err)
	}
	if err := reg.PublishStatus(ctx, "ord_1", domain.StatusEnRoute, "seller_1"); err != nil {
		t.Fatalf("publish en_route: %v", err)
	}
	if err := reg.PublishLocation(ctx, "ord_1", domain.CourierPosition{Lat: 6.30, Lng: -75.58, CapturedAt: time.UnixMilli(100)}); err != nil {
		t.Fatalf("publish location: %v", err)
	}

	ch, unsub, err := reg.Subscribe(ctx, "ord_1")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer unsub()

	ev := recv(t, ch)
	if ev["type"] != "snapshot" || ev["status"] != "en_route" {
		t.Fatalf("expected folded snapshot en_route, got %v", ev)
	}
	pos, ok := ev["position"].(map[string]any)
	if !ok {
		t.Fatalf("expected position in snapshot, got %v", ev["position"])
	}
	if pos["lat"].(float64) != 6.30 {
		t.Errorf("expected snapshot position lat 6.30, got %v", pos["lat"])
	}
	if ev["eta_minutes"] == nil {
		t.Errorf("expected eta in snapshot after a location sample")
	}
}

func TestPublishStatus_FansOut(t *testing.T) {
	repo := newStubOrderRepo()
	seedOrder(repo, "ord_1", domain.StatusPending)
	reg := newTestRegistry(repo, newStubPositionCache(), Options{})
	ctx := context.Background()

	ch1, unsub1, _ := reg.Subscribe(ctx, "ord_1")
	defer unsub1()
	ch2, unsub2, _ := reg.Subscribe(ctx, "ord_1")
	defer unsub2()
	recv(t, ch1) // snapshots
	recv(t, ch2)

	if err := reg.PublishStatus(ctx, "ord_1", domain.StatusPreparing, "seller_1"); err != nil {
		t.Fatalf("publish: %v", err)
	}

	for _, ch := range []<-chan []byte{ch1, ch2} {
		ev := recv(t, ch)
		if ev["type"] != "status_update" || ev["status"] != "preparing" {
			t.Errorf("expected status_update preparing, got %v", ev)
		}
	}
	if len(repo.updates) != 1 || repo.updates[0] != "ord_1:preparing" {
		t.Errorf("expected one persisted update, got %v", repo.updates)
	}
}

func TestPublishStatus_InvalidTransitionRejected(t *testing.T) {
	repo := newStubOrderRepo()
	seedOrder(repo, "ord_1", domain.StatusPending)
	reg := newTestRegistry(repo, newStubPositionCache(), Options{})
	ctx := context.Background()

	ch, unsub, _ := reg.Subscribe(ctx, "ord_1")
	defer unsub()
	recv(t, ch)

	if err := reg.PublishStatus(ctx, "ord_1", domain.StatusPreparing, "seller_1"); err != nil {
		t.Fatalf("publish preparing: %v", err)
	}
	recv(t, ch)

	// Backward move is rejected and nothing is broadcast.
	err := reg.PublishStatus(ctx, "ord_1", domain.StatusPending, "seller_1")
	if !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	expectNoEvent(t, ch)
	if len(repo.updates) != 1 {
		t.Errorf("rejected transition must not persist, got %v", repo.updates)
	}
}

func TestPublishStatus_IdempotentResubmit(t *testing.T) {
	repo := newStubOrderRepo()
	seedOrder(repo, "ord_1", domain.StatusPreparing)
	reg := newTestRegistry(repo, newStubPositionCache(), Options{})
	ctx := context.Background()

	ch, unsub, _ := reg.Subscribe(ctx, "ord_1")
	defer unsub()
	recv(t, ch)

	if err := reg.PublishStatus(ctx, "ord_1", domain.StatusPreparing, "seller_1"); err != nil {
		t.Fatalf("idempotent resubmit must succeed, got %v", err)
	}
	expectNoEvent(t, ch)
	if len(repo.updates) != 0 {
		t.Errorf("idempotent resubmit must not persist, got %v", repo.updates)
	}
}

func TestPublishLocation_StaleSampleDropped(t *testing.T) {
	repo := newStubOrderRepo()
	seedOrder(repo, "ord_1", domain.StatusEnRoute)
	reg := newTestRegistry(repo, newStubPositionCache(), Options{})
	ctx := context.Background()

	ch, unsub, _ := reg.Subscribe(ctx, "ord_1")
	defer unsub()
	recv(t, ch)

	first := domain.CourierPosition{Lat: 6.30, Lng: -75.58, CapturedAt: time.UnixMilli(100)}
	if err := reg.PublishLocation(ctx, "ord_1", first); err != nil {
		t.Fatalf("publish first sample: %v", err)
	}
	ev := recv(t, ch)
	if ev["type"] != "location_update" || ev["lat"].(float64) != 6.30 {
		t.Fatalf("expected location_update for first sample, got %v", ev)
	}

	// Older captured_at arrives later: dropped, no broadcast, cache unchanged.
	stale := domain.CourierPosition{Lat: 6.31, Lng: -75.57, CapturedAt: time.UnixMilli(90)}
	err := reg.PublishLocation(ctx, "ord_1", stale)
	if !errors.Is(err, domain.ErrStaleSample) {
		t.Fatalf("expected ErrStaleSample, got %v", err)
	}
	expectNoEvent(t, ch)

	s, _ := reg.GetOrCreate(ctx, "ord_1")
	snap := decodeEvent(t, s.Snapshot())
	pos := snap["position"].(map[string]any)
	if pos["lat"].(float64) != 6.30 {
		t.Errorf("cached position must remain the fresher sample, got %v", pos)
	}
}

func TestPublishLocation_NotTrackableOutsideEnRoute(t *testing.T) {
	repo := newStubOrderRepo()
	seedOrder(repo, "ord_1", domain.StatusPreparing)
	reg := newTestRegistry(repo, newStubPositionCache(), Options{})

	err := reg.PublishLocation(context.Background(), "ord_1", domain.CourierPosition{Lat: 1, Lng: 1, CapturedAt: time.Now()})
	if !errors.Is(err, domain.ErrNotTrackable) {
		t.Fatalf("expected ErrNotTrackable, got %v", err)
	}
}

func TestTerminalOrder_RejectsFurtherWrites(t *testing.T) {
	repo := newStubOrderRepo()
	seedOrder(repo, "ord_1", domain.StatusEnRoute)
	reg := newTestRegistry(repo, newStubPositionCache(), Options{})
	ctx := context.Background()

	if err := reg.PublishStatus(ctx, "ord_1", domain.StatusDelivered, "courier_1"); err != nil {
		t.Fatalf("deliver: %v", err)
	}

	err := reg.PublishLocation(ctx, "ord_1", domain.CourierPosition{Lat: 1, Lng: 1, CapturedAt: time.Now()})
	if !errors.Is(err, domain.ErrNotTrackable) {
		t.Fatalf("expected ErrNotTrackable after delivery, got %v", err)
	}
	err = reg.PublishStatus(ctx, "ord_1", domain.StatusCancelled, "seller_1")
	if !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition after delivery, got %v", err)
	}
}

func TestFanout_SlowSubscriberDroppedOthersUnaffected(t *testing.T) {
	repo := newStubOrderRepo()
	seedOrder(repo, "ord_1", domain.StatusEnRoute)
	reg := newTestRegistry(repo, newStubPositionCache(), Options{QueueSize: 1})
	ctx := context.Background()

	slow, unsubSlow, _ := reg.Subscribe(ctx, "ord_1") // never drained: snapshot fills the queue
	defer unsubSlow()
	fast, unsubFast, _ := reg.Subscribe(ctx, "ord_1")
	defer unsubFast()
	recv(t, fast)

	// First publish overruns the slow subscriber's full queue.
	if err := reg.PublishLocation(ctx, "ord_1", domain.CourierPosition{Lat: 6.30, Lng: -75.58, CapturedAt: time.UnixMilli(100)}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	ev := recv(t, fast)
	if ev["type"] != "location_update" {
		t.Fatalf("fast subscriber must still receive, got %v", ev)
	}

	// The slow channel is drained of its snapshot and then closed.
	<-slow
	if _, ok := <-slow; ok {
		t.Fatalf("expected slow subscriber channel to be closed")
	}
}

func TestSessionLifecycle_TerminalEvictedOnLastUnsubscribe(t *testing.T) {
	repo := newStubOrderRepo()
	seedOrder(repo, "ord_1", domain.StatusEnRoute)
	reg := newTestRegistry(repo, newStubPositionCache(), Options{})
	ctx := context.Background()

	ch, unsub, _ := reg.Subscribe(ctx, "ord_1")
	recv(t, ch)
	if err := reg.PublishStatus(ctx, "ord_1", domain.StatusDelivered, "courier_1"); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	recv(t, ch)

	if reg.Len() != 1 {
		t.Fatalf("session must survive while subscribed, have %d", reg.Len())
	}
	unsub()
	if reg.Len() != 0 {
		t.Fatalf("terminal session must be evicted on last unsubscribe, have %d", reg.Len())
	}
}

func TestSweep_EvictsIdleSessions(t *testing.T) {
	repo := newStubOrderRepo()
	seedOrder(repo, "ord_1", domain.StatusPreparing)
	seedOrder(repo, "ord_2", domain.StatusPreparing)
	reg := newTestRegistry(repo, newStubPositionCache(), Options{IdleTTL: time.Minute})
	ctx := context.Background()

	// ord_1 created by a publish, left idle. ord_2 has a live subscriber.
	if err := reg.PublishStatus(ctx, "ord_1", domain.StatusEnRoute, "seller_1"); err != nil {
		t.Fatalf("publish: %v", err)
	}
	ch, unsub, _ := reg.Subscribe(ctx, "ord_2")
	defer unsub()
	recv(t, ch)

	if n := reg.Sweep(time.Now()); n != 0 {
		t.Fatalf("nothing should be idle yet, evicted %d", n)
	}
	if n := reg.Sweep(time.Now().Add(2 * time.Minute)); n != 1 {
		t.Fatalf("expected exactly the idle session evicted, got %d", n)
	}
	if reg.Len() != 1 {
		t.Fatalf("subscribed session must survive sweep, have %d", reg.Len())
	}
}

func TestGetOrCreate_UnknownOrder(t *testing.T) {
	reg := newTestRegistry(newStubOrderRepo(), newStubPositionCache(), Options{})
	_, err := reg.GetOrCreate(context.Background(), "missing")
	if !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestGetOrCreate_WarmStartFromPositionCache(t *testing.T) {
	repo := newStubOrderRepo()
	seedOrder(repo, "ord_1", domain.StatusEnRoute)
	cache := newStubPositionCache()
	cache.byID["ord_1"] = domain.CourierPosition{Lat: 6.30, Lng: -75.58, CapturedAt: time.UnixMilli(100)}
	reg := newTestRegistry(repo, cache, Options{})

	ch, unsub, err := reg.Subscribe(context.Background(), "ord_1")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer unsub()

	ev := recv(t, ch)
	pos, ok := ev["position"].(map[string]any)
	if !ok {
		t.Fatalf("expected warm snapshot to carry cached position, got %v", ev)
	}
	if pos["lat"].(float64) != 6.30 {
		t.Errorf("expected cached lat 6.30, got %v", pos["lat"])
	}

	// A sample older than the cached one is still stale after the rebuild.
	err = reg.PublishLocation(context.Background(), "ord_1", domain.CourierPosition{Lat: 6.31, Lng: -75.57, CapturedAt: time.UnixMilli(50)})
	if !errors.Is(err, domain.ErrStaleSample) {
		t.Fatalf("expected ErrStaleSample against warm cache, got %v", err)
	}
}

func TestPublish_ConcurrentOrdersIndependent(t *testing.T) {
	repo := newStubOrderRepo()
	reg := newTestRegistry(repo, newStubPositionCache(), Options{})
	ctx := context.Background()

	const orders = 8
	ids := make([]string, orders)
	for i := range ids {
		ids[i] = string(rune('a' + i))
		seedOrder(repo, ids[i], domain.StatusEnRoute)
	}

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			for i := 1; i <= 20; i++ {
				_ = reg.PublishLocation(ctx, id, domain.CourierPosition{
					Lat: 6.0 + float64(i)*0.001, Lng: -75.5, CapturedAt: time.UnixMilli(int64(i)),
				})
			}
		}(id)
	}
	wg.Wait()

	// Every order accepted all 20 strictly-newer samples.
	repo.mu.Lock()
	defer repo.mu.Unlock()
	if len(repo.etas) != orders*20 {
		t.Fatalf("expected %d accepted samples, got %d", orders*20, len(repo.etas))
	}
}

func TestSubscribe_NotOrphanedByConcurrentEviction(t *testing.T) {
	repo := newStubOrderRepo()
	seedOrder(repo, "ord_1", domain.StatusPreparing)
	reg := newTestRegistry(repo, newStubPositionCache(), Options{IdleTTL: time.Minute})
	ctx := context.Background()

	// Interleave a subscriber's session lookup with the sweeper evicting that
	// same session: the subscriber must end up attached to a session publishes
	// can still reach, never to the evicted one.
	stale, err := reg.GetOrCreate(ctx, "ord_1")
	if err != nil {
		t.Fatalf("get or create: %v", err)
	}
	if n := reg.Sweep(time.Now().Add(2 * time.Minute)); n != 1 {
		t.Fatalf("expected the idle session evicted, got %d", n)
	}

	ch, unsub, err := reg.Subscribe(ctx, "ord_1")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer unsub()
	recv(t, ch) // snapshot

	if err := reg.PublishStatus(ctx, "ord_1", domain.StatusEnRoute, "courier_1"); err != nil {
		t.Fatalf("publish: %v", err)
	}
	ev := recv(t, ch)
	if ev["type"] != EventStatusUpdate || ev["status"] != string(domain.StatusEnRoute) {
		t.Fatalf("subscriber missed the status update, got %v", ev)
	}
	if reg.Len() != 1 {
		t.Fatalf("expected exactly one session for the order, have %d", reg.Len())
	}

	// The evicted session is fenced: direct writes against the stale pointer
	// report it closed instead of mutating state nobody can observe.
	if err := stale.publishStatus(ctx, domain.StatusDelivered, "courier_1"); !errors.Is(err, errSessionClosed) {
		t.Fatalf("expected errSessionClosed on the evicted session, got %v", err)
	}
}

func TestPublish_RetriesPastEvictedSession(t *testing.T) {
	repo := newStubOrderRepo()
	seedOrder(repo, "ord_1", domain.StatusPreparing)
	reg := newTestRegistry(repo, newStubPositionCache(), Options{IdleTTL: time.Minute})
	ctx := context.Background()

	if _, err := reg.GetOrCreate(ctx, "ord_1"); err != nil {
		t.Fatalf("get or create: %v", err)
	}
	if n := reg.Sweep(time.Now().Add(2 * time.Minute)); n != 1 {
		t.Fatalf("expected the idle session evicted, got %d", n)
	}

	// A publish after eviction must rebuild the session and succeed rather
	// than land on the dead one.
	if err := reg.PublishStatus(ctx, "ord_1", domain.StatusEnRoute, "courier_1"); err != nil {
		t.Fatalf("publish after eviction: %v", err)
	}
	order, _ := repo.FindByID(ctx, "ord_1")
	if order.Status != domain.StatusEnRoute {
		t.Fatalf("expected persisted en_route, got %s", order.Status)
	}
	if reg.Len() != 1 {
		t.Fatalf("expected one rebuilt session, have %d", reg.Len())
	}
}
