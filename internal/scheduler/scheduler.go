// Package scheduler arms the background update checks the configured
// policy mode asks for. It owns the timers so a process shutdown stops
// them cleanly instead of leaking into the next run.
package scheduler

import (
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"

	"github.com/siid-ide/update-agent/internal/config"
	"github.com/siid-ide/update-agent/internal/logging"
)

var log = logging.L("scheduler")

const (
	// initialDelay keeps the first check off the process start path.
	initialDelay = 30 * time.Second
	// checkInterval is the recurring cadence in default mode.
	checkInterval = time.Hour
)

// Scheduler owns the background check jobs.
type Scheduler struct {
	scheduler gocron.Scheduler
	jobs      map[string]uuid.UUID
}

func New() (*Scheduler, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}

	return &Scheduler{
		scheduler: s,
		jobs:      map[string]uuid.UUID{},
	}, nil
}

// checkJobName keys the single background check job.
const checkJobName = "check"

// Schedule arms check per the policy mode: nothing for none/manual,
// exactly one delayed check for start, a recurring check after an
// initial delay for default. Singleton mode guarantees a slow check
// cycle is never overlapped by the next tick. Calling Schedule again
// replaces the armed job, so a mode change takes effect in place.
func (s *Scheduler) Schedule(mode string, check func()) error {
	var definition gocron.JobDefinition
	var options []gocron.JobOption

	switch mode {
	case config.ModeStart:
		definition = gocron.OneTimeJob(gocron.OneTimeJobStartDateTime(time.Now().Add(initialDelay)))

	case config.ModeDefault:
		definition = gocron.DurationJob(checkInterval)
		options = append(options,
			gocron.WithStartAt(gocron.WithStartDateTime(time.Now().Add(initialDelay))),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)

	default:
		// none and manual stay passive; switching into them disarms
		// any previously scheduled check.
		if id, ok := s.jobs[checkJobName]; ok {
			if err := s.scheduler.RemoveJob(id); err != nil {
				return err
			}
			delete(s.jobs, checkJobName)
		}
		log.Debug("no background checks scheduled", "mode", mode)
		return nil
	}

	task := gocron.NewTask(check)

	if id, ok := s.jobs[checkJobName]; ok {
		_, err := s.scheduler.Update(id, definition, task, options...)
		if err != nil {
			return err
		}
	} else {
		job, err := s.scheduler.NewJob(definition, task, options...)
		if err != nil {
			return err
		}
		s.jobs[checkJobName] = job.ID()
	}

	s.scheduler.Start()
	log.Info("background checks armed", "mode", mode, "interval", checkInterval)

	return nil
}

// Shutdown stops all jobs and waits for a running one to finish.
func (s *Scheduler) Shutdown() error {
	return s.scheduler.Shutdown()
}
