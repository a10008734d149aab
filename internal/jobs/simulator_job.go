package jobs

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/quickbite/order-tracking/internal/core/domain"
	"github.com/quickbite/order-tracking/internal/core/ports"
)

const (
	// simulatorStep is the fraction of the route covered per tick. At one
	// tick every 2 seconds a delivery takes around three minutes.
	simulatorStep = 0.011
	// simulatorWobble perturbs the straight line so the track looks like a
	// courier riding streets rather than a geodesic.
	simulatorWobble = 0.0008
)

// CourierSimulatorJob fakes courier movement for development and demos: every
// tick it advances each en_route order's courier along the business→customer
// line and feeds the samples through the same submission path real couriers
// use. Orders that reach the customer are marked delivered.
type CourierSimulatorJob struct {
	orders   ports.OrderRepository
	tracking ports.TrackingService
	cron     *cron.Cron
	log      zerolog.Logger

	mu       sync.Mutex
	progress map[string]float64
}

func NewCourierSimulatorJob(orders ports.OrderRepository, tracking ports.TrackingService, log zerolog.Logger) *CourierSimulatorJob {
	return &CourierSimulatorJob{
		orders:   orders,
		tracking: tracking,
		cron:     cron.New(cron.WithSeconds()),
		log:      log.With().Str("component", "courier_simulator_job").Logger(),
		progress: make(map[string]float64),
	}
}

// Start schedules a movement tick every 2 seconds.
func (j *CourierSimulatorJob) Start() error {
	_, err := j.cron.AddFunc("*/2 * * * * *", func() {
		if err := j.tick(context.Background()); err != nil {
			j.log.Error().Err(err).Msg("simulator tick failed")
		}
	})
	if err != nil {
		return err
	}

	j.cron.Start()
	j.log.Info().Msg("courier simulator started")
	return nil
}

// Stop stops the simulator.
func (j *CourierSimulatorJob) Stop() {
	j.cron.Stop()
	j.log.Info().Msg("courier simulator stopped")
}

func (j *CourierSimulatorJob) tick(ctx context.Context) error {
	active, err := j.orders.FindByStatus(ctx, domain.StatusEnRoute)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	actor := ports.Actor{UserID: "simulator", Role: domain.RoleAdmin}

	seen := make(map[string]struct{}, len(active))
	for _, order := range active {
		seen[order.ID] = struct{}{}

		p := j.advance(order.ID)
		lat, lng := interpolate(order.BusinessLocation, order.CustomerLocation, p)

		err := j.tracking.SubmitLocation(ctx, ports.SubmitLocationInput{
			OrderID:    order.ID,
			Lat:        lat,
			Lng:        lng,
			CapturedAt: now,
			Actor:      actor,
		})
		if err != nil {
			j.log.Warn().Err(err).Str("order_id", order.ID).Msg("simulated sample rejected")
			continue
		}

		if p >= 1 {
			err := j.tracking.SubmitStatus(ctx, ports.SubmitStatusInput{
				OrderID: order.ID,
				Status:  string(domain.StatusDelivered),
				Actor:   actor,
			})
			if err != nil {
				j.log.Warn().Err(err).Str("order_id", order.ID).Msg("could not deliver simulated order")
			}
			j.forget(order.ID)
		}
	}

	// Drop progress for orders that left en_route some other way.
	j.mu.Lock()
	for id := range j.progress {
		if _, ok := seen[id]; !ok {
			delete(j.progress, id)
		}
	}
	j.mu.Unlock()

	return nil
}

func (j *CourierSimulatorJob) advance(orderID string) float64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	p := j.progress[orderID] + simulatorStep
	if p > 1 {
		p = 1
	}
	j.progress[orderID] = p
	return p
}

func (j *CourierSimulatorJob) forget(orderID string) {
	j.mu.Lock()
	delete(j.progress, orderID)
	j.mu.Unlock()
}

// interpolate walks the straight line from origin to destination with a
// sinusoidal wobble that vanishes at both endpoints.
func interpolate(origin, dest domain.Coordinates, p float64) (lat, lng float64) {
	wobble := math.Sin(p*math.Pi*6) * simulatorWobble * math.Sin(p*math.Pi)
	lat = origin.Lat + (dest.Lat-origin.Lat)*p + wobble
	lng = origin.Lng + (dest.Lng-origin.Lng)*p - wobble
	return lat, lng
}
