package session

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// Sweeper periodically removes expired sessions so disk held by sessions that
// are never queried again is reclaimed without waiting for the next create
// call. It is optional: the manager stays correct with lazy sweeping alone.
type Sweeper struct {
	manager  *Manager
	interval time.Duration
	cron     *cron.Cron
	running  bool
}

// NewSweeper creates a background sweeper with the given interval.
func NewSweeper(manager *Manager, interval time.Duration) (*Sweeper, error) {
	if manager == nil {
		return nil, fmt.Errorf("manager is required")
	}
	if interval <= 0 {
		return nil, fmt.Errorf("sweep interval must be positive, got %s", interval)
	}

	return &Sweeper{
		manager:  manager,
		interval: interval,
		cron:     cron.New(),
	}, nil
}

// Start schedules the periodic sweep.
func (sw *Sweeper) Start() error {
	if sw.running {
		return fmt.Errorf("sweeper is already running")
	}

	sw.cron.Schedule(cron.Every(sw.interval), cron.FuncJob(func() {
		removed := sw.manager.SweepExpired(context.Background())
		if removed > 0 {
			log.Info().Int("removed", removed).Msg("Background sweep removed expired sessions")
		}
	}))
	sw.cron.Start()
	sw.running = true

	log.Info().Dur("interval", sw.interval).Msg("Session sweeper started")
	return nil
}

// Stop halts the periodic sweep and waits for a running sweep to finish.
func (sw *Sweeper) Stop() error {
	if !sw.running {
		return fmt.Errorf("sweeper is not running")
	}

	<-sw.cron.Stop().Done()
	sw.running = false

	log.Info().Msg("Session sweeper stopped")
	return nil
}

// IsRunning returns whether the sweeper is active.
func (sw *Sweeper) IsRunning() bool {
	return sw.running
}
