// Package server implements the process-level orchestrator that boots and
// stops the three protocol listeners as one unit.
package server

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/spile-project/spile/internal/events"
	"github.com/spile-project/spile/internal/network"
)

// State is the orchestrator lifecycle: Stopped -> Booting -> Running ->
// Stopping -> Stopped. The orchestrator is the only writer.
type State int32

const (
	StateStopped State = iota
	StateBooting
	StateRunning
	StateStopping
)

// String returns the lowercase name of the state.
func (s State) String() string {
	switch s {
	case StateBooting:
		return "booting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	default:
		return "stopped"
	}
}

// Orchestrator owns the protocol listeners and coordinates their startup
// and shutdown. Failure classification follows the lifecycle: a listener
// error while Booting is fatal for the whole process, the same error after
// Running is logged and contained. Exactly one instance exists per process;
// the event bus and listeners are injected by the caller.
type Orchestrator struct {
	state     atomic.Int32
	listeners []*network.Listener
	bus       *events.Bus
	logger    zerolog.Logger

	serveWG   sync.WaitGroup
	startedAt time.Time
}

// New creates an orchestrator over the given listeners.
func New(bus *events.Bus, listeners ...*network.Listener) *Orchestrator {
	return &Orchestrator{
		listeners: listeners,
		bus:       bus,
		logger:    log.With().Str("component", "orchestrator").Logger(),
	}
}

// State returns the current lifecycle state.
func (o *Orchestrator) State() State {
	return State(o.state.Load())
}

// Listeners returns the listeners the orchestrator owns.
func (o *Orchestrator) Listeners() []*network.Listener {
	return o.listeners
}

// Uptime returns how long the orchestrator has been Running; zero before
// boot completes.
func (o *Orchestrator) Uptime() time.Duration {
	if o.State() != StateRunning {
		return 0
	}
	return time.Since(o.startedAt)
}

// Bootstrap binds every listener concurrently and, once all are bound,
// starts their accept loops and enters Running. If any bind fails while
// still Booting the failure is fatal-at-boot: the already-bound listeners
// are unwound with Stop and the error is returned so the process can exit
// non-zero. Running is never reached on a boot failure.
func (o *Orchestrator) Bootstrap(ctx context.Context) error {
	if !o.state.CompareAndSwap(int32(StateStopped), int32(StateBooting)) {
		return fmt.Errorf("bootstrap from state %s", o.State())
	}

	o.logger.Info().Int("listeners", len(o.listeners)).Msg("booting")

	errCh := make(chan error, len(o.listeners))
	var wg sync.WaitGroup
	for _, l := range o.listeners {
		l := l
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := l.Bind(ctx); err != nil {
				errCh <- err
			}
		}()
	}
	wg.Wait()
	close(errCh)

	var bootErrs []error
	for err := range errCh {
		o.logger.Error().Err(err).Msg("listener failed to start during boot")
		bootErrs = append(bootErrs, err)
	}
	if len(bootErrs) > 0 {
		// Unwind whatever partially started before reporting the fatal
		// boot failure.
		if stopErr := o.Stop(); stopErr != nil {
			o.logger.Error().Err(stopErr).Msg("unwind after boot failure also errored")
		}
		return fmt.Errorf("bootstrap: %w", errors.Join(bootErrs...))
	}

	o.startedAt = time.Now()
	o.state.Store(int32(StateRunning))
	o.logger.Info().Msg("all listeners bound, running")

	for _, l := range o.listeners {
		l := l
		o.serveWG.Add(1)
		go func() {
			defer o.serveWG.Done()
			if err := l.Serve(ctx); err != nil {
				// Post-boot failures are recoverable: log, notify, keep
				// the sibling listeners running.
				o.logger.Error().
					Err(err).
					Str("proto", l.Proto()).
					Msg("listener failed at runtime")
				o.bus.Emit(ctx, events.Event{
					Type:   events.EventCriticalFailure,
					Source: "orchestrator",
					Payload: events.FailurePayload{
						Protocol: l.Proto(),
						Message:  err.Error(),
					},
				})
			}
		}()
	}

	return nil
}

// Stop closes every listener concurrently, best effort, and waits for the
// accept loops to drain. It is idempotent. Errors from the close sweep are
// joined and returned; the caller treats a failed shutdown as unrecoverable
// and exits non-zero without further cleanup.
func (o *Orchestrator) Stop() error {
	for {
		cur := o.State()
		if cur == StateStopping || cur == StateStopped {
			return nil
		}
		if o.state.CompareAndSwap(int32(cur), int32(StateStopping)) {
			break
		}
	}

	o.logger.Info().Msg("stopping")

	errCh := make(chan error, len(o.listeners))
	var wg sync.WaitGroup
	for _, l := range o.listeners {
		l := l
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := l.Close(); err != nil {
				errCh <- fmt.Errorf("%s: %w", l.Proto(), err)
			}
		}()
	}
	wg.Wait()
	close(errCh)

	o.serveWG.Wait()
	o.state.Store(int32(StateStopped))

	var errs []error
	for err := range errCh {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("shutdown sweep: %w", errors.Join(errs...))
	}

	o.logger.Info().Msg("stopped")
	return nil
}

// SessionCount sums live sessions across all listeners.
func (o *Orchestrator) SessionCount() int {
	total := 0
	for _, l := range o.listeners {
		total += l.Sessions().Count()
	}
	return total
}
