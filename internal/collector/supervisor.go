package collector

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// restartCooldown is the delay before restarting a Machine whose Run
// returned unexpectedly (§4.5).
const restartCooldown = 2 * time.Second

// Supervisor starts one Machine per active exchange and restarts any that
// exit unexpectedly, unless shutdown is in progress.
type Supervisor struct {
	machines []*Machine

	mu         sync.Mutex
	shutdown   bool
	wg         sync.WaitGroup
}

// NewSupervisor builds a Supervisor over the given machines.
func NewSupervisor(machines ...*Machine) *Supervisor {
	return &Supervisor{machines: machines}
}

// Run starts every machine and blocks until ctx is cancelled, then waits
// (up to gracePeriod) for in-flight work to wind down before returning.
func (s *Supervisor) Run(ctx context.Context, gracePeriod time.Duration) {
	for _, m := range s.machines {
		s.wg.Add(1)
		go s.supervise(ctx, m)
	}

	<-ctx.Done()

	s.mu.Lock()
	s.shutdown = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(gracePeriod):
		log.Warn().Msg("supervisor grace period expired with machines still running")
	}
}

func (s *Supervisor) supervise(ctx context.Context, m *Machine) {
	defer s.wg.Done()
	for {
		err := m.Run(ctx)
		if ctx.Err() != nil {
			return
		}

		s.mu.Lock()
		shuttingDown := s.shutdown
		s.mu.Unlock()
		if shuttingDown {
			return
		}

		log.Error().Str("exchange", m.Name()).Err(err).Dur("cooldown", restartCooldown).Msg("collector exited unexpectedly, restarting")
		select {
		case <-time.After(restartCooldown):
		case <-ctx.Done():
			return
		}
	}
}

// Machines exposes the supervised set, e.g. for a /health handler that
// reports each collector's current state.
func (s *Supervisor) Machines() []*Machine { return s.machines }
