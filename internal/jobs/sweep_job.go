package jobs

import (
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Sweeper is the slice of the tracking registry the sweep job drives.
type Sweeper interface {
	Sweep(now time.Time) int
}

// SessionSweepJob periodically reclaims tracking sessions that are terminal
// or have sat without subscribers past their idle TTL.
type SessionSweepJob struct {
	registry Sweeper
	cron     *cron.Cron
	log      zerolog.Logger
}

func NewSessionSweepJob(registry Sweeper, log zerolog.Logger) *SessionSweepJob {
	return &SessionSweepJob{
		registry: registry,
		cron:     cron.New(),
		log:      log.With().Str("component", "session_sweep_job").Logger(),
	}
}

// Start schedules the sweep every 30 seconds.
func (j *SessionSweepJob) Start() error {
	_, err := j.cron.AddFunc("@every 30s", func() {
		if evicted := j.registry.Sweep(time.Now()); evicted > 0 {
			j.log.Debug().Int("evicted", evicted).Msg("swept idle tracking sessions")
		}
	})
	if err != nil {
		return err
	}

	j.cron.Start()
	j.log.Info().Msg("session sweep job started")
	return nil
}

// Stop stops the sweep job.
func (j *SessionSweepJob) Stop() {
	j.cron.Stop()
	j.log.Info().Msg("session sweep job stopped")
}
