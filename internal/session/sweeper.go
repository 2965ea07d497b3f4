package session

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Sweeper drives the registry's idle sweep on a fixed period. It
// implements the server lifecycle Service contract: Start blocks until
// Stop is called.
type Sweeper struct {
	registry *Registry
	interval time.Duration
	logger   *zap.Logger

	quit     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// NewSweeper creates a sweeper that checks the registry every interval.
//
// Precondition: interval must be much smaller than the registry's idle
// timeout, or sessions will overstay it by up to one interval.
func NewSweeper(registry *Registry, interval time.Duration, logger *zap.Logger) *Sweeper {
	return &Sweeper{
		registry: registry,
		interval: interval,
		logger:   logger,
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start runs the periodic sweep until Stop is called.
func (s *Sweeper) Start() error {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.quit:
			return nil
		case now := <-ticker.C:
			s.logger.Debug("checking sessions for inactivity",
				zap.Int("sessions", s.registry.Len()),
			)
			s.registry.Sweep(now)
		}
	}
}

// Stop cancels the sweep timer and waits for the loop to exit.
func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() { close(s.quit) })
	<-s.done
}
