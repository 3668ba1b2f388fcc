// Package network implements the per-protocol listeners and the
// per-connection sessions that drive the frame parse and dispatch loop.
package network

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/spile-project/spile/internal/codec"
	"github.com/spile-project/spile/internal/protocol"
)

// WriteTimeout bounds a single outbound frame write.
const WriteTimeout = 10 * time.Second

// SessionState tracks a session through its lifecycle. Transitions only
// move forward: Open -> Closing -> Closed.
type SessionState int32

const (
	SessionOpen SessionState = iota
	SessionClosing
	SessionClosed
)

// String returns the lowercase name of the state.
func (s SessionState) String() string {
	switch s {
	case SessionOpen:
		return "open"
	case SessionClosing:
		return "closing"
	default:
		return "closed"
	}
}

// Handler processes one successfully parsed frame. It may read further
// payload bytes from the supplied consumer and write responses through the
// session. Errors it returns are contained to the session: the loop treats
// them like a framing fault and closes only this connection.
type Handler interface {
	Handle(ctx context.Context, sess *Session, header *protocol.Header, payload *codec.Consumer) error
}

// Session couples one accepted socket, its byte consumer, its frame parser
// and its lifecycle state. All reads happen from the session's own loop
// goroutine; writes may come from any goroutine and are serialized by a
// mutex.
type Session struct {
	id      uint64
	proto   string
	conn    net.Conn
	framing protocol.Framing

	consumer *codec.Consumer
	parser   *protocol.Parser
	handler  Handler
	logger   zerolog.Logger

	state   atomic.Int32
	writeMu sync.Mutex
}

func newSession(id uint64, cfg Config, conn net.Conn) *Session {
	return &Session{
		id:       id,
		proto:    cfg.Proto,
		conn:     conn,
		framing:  cfg.Framing,
		consumer: codec.NewConsumer(conn),
		parser:   protocol.NewParser(cfg.Framing, cfg.Pipeline),
		handler:  cfg.NewHandler(),
		logger: log.With().
			Str("component", "session").
			Str("proto", cfg.Proto).
			Uint64("session_id", id).
			Str("remote", conn.RemoteAddr().String()).
			Logger(),
	}
}

// ID returns the listener-assigned session identifier.
func (s *Session) ID() uint64 { return s.id }

// Protocol returns the owning listener's protocol name.
func (s *Session) Protocol() string { return s.proto }

// RemoteAddr returns the peer address.
func (s *Session) RemoteAddr() net.Addr { return s.conn.RemoteAddr() }

// State returns the session's current lifecycle state.
func (s *Session) State() SessionState {
	return SessionState(s.state.Load())
}

// SetPipeline reconfigures the frame pipeline, used by handlers once a
// handshake enables compression or encryption.
func (s *Session) SetPipeline(p protocol.Pipeline) {
	s.parser.SetPipeline(p)
}

// Write sends raw bytes to the peer under the write deadline.
func (s *Session) Write(p []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.State() != SessionOpen {
		return net.ErrClosed
	}
	s.conn.SetWriteDeadline(time.Now().Add(WriteTimeout))
	_, err := s.conn.Write(p)
	return err
}

// WriteFrame encodes and sends one outbound frame using the session's
// framing.
func (s *Session) WriteFrame(packetID int32, payload []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.State() != SessionOpen {
		return net.ErrClosed
	}
	s.conn.SetWriteDeadline(time.Now().Add(WriteTimeout))
	return protocol.WriteFrame(s.conn, s.framing, packetID, payload)
}

// Close moves the session to Closing, releases the socket and lands on
// Closed. Closing a session the peer already tore down is success; any
// other socket error surfaces to the caller.
func (s *Session) Close() error {
	if !s.state.CompareAndSwap(int32(SessionOpen), int32(SessionClosing)) {
		return nil
	}

	err := s.conn.Close()
	s.state.Store(int32(SessionClosed))

	if err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}

// run is the session loop: parse one header, dispatch it, drain whatever
// payload the handler left behind, repeat. The loop exits as soon as the
// session leaves Open or the owning listener stops accepting; both are
// checked before every header parse. Any exit path ends in Closed.
func (s *Session) run(ctx context.Context, listenerOpen func() bool) {
	defer s.Close()

	for {
		if s.State() != SessionOpen || !listenerOpen() || ctx.Err() != nil {
			return
		}

		header, payload, err := s.parser.ReadHeader(s.consumer)
		if err != nil {
			s.logReadFailure(err)
			return
		}
		if header == nil {
			// Benign keepalive frame.
			continue
		}

		if err := s.handler.Handle(ctx, s, header, payload); err != nil {
			s.logger.Warn().
				Err(err).
				Int32("packet_id", header.PacketID).
				Msg("handler failed, closing session")
			return
		}

		if payload == s.consumer {
			if err := s.drainFrame(header); err != nil {
				s.logger.Warn().Err(err).Msg("frame drain failed, closing session")
				return
			}
		}
	}
}

// drainFrame discards payload bytes the handler left unread so the next
// header parse starts exactly on the frame boundary. A handler that read
// past the frame has already desynchronized the stream; the session closes.
func (s *Session) drainFrame(header *protocol.Header) error {
	rest := header.EndOffset - s.consumer.Consumed()
	if rest < 0 {
		return &protocol.FrameError{Proto: s.proto, Reason: "handler read past frame end"}
	}
	if rest > 0 {
		return s.consumer.Discard(int(rest))
	}
	return nil
}

func (s *Session) logReadFailure(err error) {
	var ferr *protocol.FrameError
	switch {
	case errors.As(err, &ferr):
		s.logger.Warn().Err(err).Msg("malformed frame, closing session")
	case errors.Is(err, codec.ErrStreamEnded):
		s.logger.Debug().Msg("peer closed connection")
	case errors.Is(err, net.ErrClosed):
		s.logger.Debug().Msg("socket closed during read")
	default:
		s.logger.Error().Err(err).Msg("read error, closing session")
	}
}
