package network

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync/atomic"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/spile-project/spile/internal/events"
	"github.com/spile-project/spile/internal/protocol"
)

// Config describes one protocol listener: where it binds, how its frames
// are shaped, and how to build a handler for each accepted connection.
type Config struct {
	// Proto names the protocol ("game", "rcon", "query") for logs and
	// events.
	Proto string

	// Addr is the host:port to bind.
	Addr string

	Framing  protocol.Framing
	Pipeline protocol.Pipeline

	// NewHandler builds a fresh handler per accepted connection so
	// handlers can keep per-session state.
	NewHandler func() Handler
}

// Listener binds one protocol's address, accepts connections and runs each
// accepted connection's session loop as an independent goroutine. A failure
// inside one session never reaches the accept loop or sibling sessions.
type Listener struct {
	cfg Config
	bus *events.Bus

	ln     net.Listener
	open   atomic.Bool
	nextID atomic.Uint64

	sessions *SessionRegistry
	logger   zerolog.Logger
}

// NewListener creates a listener from its config. The event bus is injected
// by the orchestrator's owner.
func NewListener(cfg Config, bus *events.Bus) *Listener {
	return &Listener{
		cfg:      cfg,
		bus:      bus,
		sessions: NewSessionRegistry(),
		logger: log.With().
			Str("component", "listener").
			Str("proto", cfg.Proto).
			Str("addr", cfg.Addr).
			Logger(),
	}
}

// Proto returns the protocol name this listener serves.
func (l *Listener) Proto() string { return l.cfg.Proto }

// Addr returns the bound address, or the configured one before Bind.
func (l *Listener) Addr() string {
	if l.ln != nil {
		return l.ln.Addr().String()
	}
	return l.cfg.Addr
}

// IsOpen reports whether the listener is accepting connections.
func (l *Listener) IsOpen() bool { return l.open.Load() }

// Sessions returns the registry of live sessions this listener owns.
func (l *Listener) Sessions() *SessionRegistry { return l.sessions }

// Bind claims the socket address. It is the boot half of listening: a bind
// failure here is what the orchestrator classifies as fatal-at-boot.
func (l *Listener) Bind(ctx context.Context) error {
	// SO_REUSEADDR so a restart can rebind ports still in TIME_WAIT.
	lc := ReuseAddrListenConfig()
	ln, err := lc.Listen(ctx, "tcp", l.cfg.Addr)
	if err != nil {
		return fmt.Errorf("bind %s listener on %s: %w", l.cfg.Proto, l.cfg.Addr, err)
	}
	l.ln = ln
	l.open.Store(true)
	l.logger.Info().Msg("listener bound")
	return nil
}

// Serve runs the accept loop until the listener closes or the context is
// cancelled. It must be called after a successful Bind. Errors it returns
// occur while the daemon is already Running and are the orchestrator's
// recoverable class.
func (l *Listener) Serve(ctx context.Context) error {
	if l.ln == nil {
		return fmt.Errorf("%s listener: Serve before Bind", l.cfg.Proto)
	}

	go func() {
		<-ctx.Done()
		l.Close()
	}()

	for {
		conn, err := l.ln.Accept()
		if err != nil {
			if !l.open.Load() || errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				l.logger.Info().Msg("listener stopped accepting")
				return nil
			}
			return fmt.Errorf("%s listener accept: %w", l.cfg.Proto, err)
		}

		sess := newSession(l.nextID.Add(1), l.cfg, conn)
		l.sessions.Register(sess)

		l.logger.Debug().
			Uint64("session_id", sess.ID()).
			Str("remote", conn.RemoteAddr().String()).
			Msg("connection accepted")

		go l.runSession(ctx, sess)
	}
}

// runSession drives one session loop and owns its registry bookkeeping.
func (l *Listener) runSession(ctx context.Context, sess *Session) {
	l.bus.Emit(ctx, events.Event{
		Type:   events.EventConnectionOpened,
		Source: "listener:" + l.cfg.Proto,
		Payload: events.ConnectionPayload{
			Protocol:   l.cfg.Proto,
			SessionID:  sess.ID(),
			RemoteAddr: sess.RemoteAddr().String(),
		},
	})

	defer func() {
		l.sessions.Unregister(sess.ID())
		l.bus.Emit(context.WithoutCancel(ctx), events.Event{
			Type:   events.EventConnectionClosed,
			Source: "listener:" + l.cfg.Proto,
			Payload: events.ConnectionPayload{
				Protocol:   l.cfg.Proto,
				SessionID:  sess.ID(),
				RemoteAddr: sess.RemoteAddr().String(),
			},
		})
	}()

	sess.run(ctx, l.open.Load)
}

// Close stops accepting, releases the listener socket and sweeps every
// still-open session. A session already closed by its peer is success, not
// failure; any other socket-level error during the sweep is returned.
func (l *Listener) Close() error {
	l.open.Store(false)

	var errs []error
	if l.ln != nil {
		if err := l.ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = append(errs, fmt.Errorf("close %s listener socket: %w", l.cfg.Proto, err))
		}
	}
	if err := l.sessions.CloseAll(); err != nil {
		errs = append(errs, fmt.Errorf("close %s sessions: %w", l.cfg.Proto, err))
	}

	if len(errs) == 0 {
		l.logger.Info().Msg("listener closed")
	}
	return errors.Join(errs...)
}
