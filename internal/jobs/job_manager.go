package jobs

import "github.com/rs/zerolog"

// Job is a scheduled background task with an explicit lifecycle.
type Job interface {
	Start() error
	Stop()
}

// JobManager starts and stops the subsystem's background jobs as a unit.
type JobManager struct {
	jobs []Job
	log  zerolog.Logger
}

func NewJobManager(log zerolog.Logger, jobs ...Job) *JobManager {
	return &JobManager{jobs: jobs, log: log}
}

// StartAll starts every registered job. On failure the jobs already running
// are stopped before returning.
func (m *JobManager) StartAll() error {
	for i, j := range m.jobs {
		if err := j.Start(); err != nil {
			for _, started := range m.jobs[:i] {
				started.Stop()
			}
			return err
		}
	}
	m.log.Info().Int("jobs", len(m.jobs)).Msg("background jobs started")
	return nil
}

// StopAll stops every registered job.
func (m *JobManager) StopAll() {
	for _, j := range m.jobs {
		j.Stop()
	}
	m.log.Info().Msg("background jobs stopped")
}
