// Package game implements the server-list side of the game protocol: the
// handshake, status and ping exchange every client performs before login.
// The full in-game packet catalogue is out of scope; connections asking to
// log in receive a courteous disconnect.
package game

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/rs/zerolog/log"

	"github.com/spile-project/spile/internal/codec"
	"github.com/spile-project/spile/internal/config"
	"github.com/spile-project/spile/internal/db"
	"github.com/spile-project/spile/internal/network"
	"github.com/spile-project/spile/internal/protocol"
)

// Serverbound packet identifiers.
const (
	pktHandshake     int32 = 0x00
	pktStatusRequest int32 = 0x00
	pktPing          int32 = 0x01
)

// Clientbound packet identifiers.
const (
	pktStatusResponse int32 = 0x00
	pktPong           int32 = 0x01
	pktDisconnect     int32 = 0x00
)

// Handshake intents.
const (
	intentStatus int32 = 1
	intentLogin  int32 = 2
)

// connState tracks where in the pre-login exchange a connection is.
type connState int

const (
	stateHandshaking connState = iota
	stateStatus
)

// Framing returns the game protocol's frame shape: VarInt length prefix,
// VarInt packet identifier.
func Framing() protocol.Framing {
	return protocol.Framing{
		Name:         "game",
		Length:       codec.VarInt,
		PacketID:     codec.VarInt,
		MaxFrameSize: codec.MaxByteArrayLength,
	}
}

// Handler drives one game connection through handshake -> status -> ping.
type Handler struct {
	cfg    *config.Config
	store  *db.Database
	online func() int

	state connState
}

// NewHandlerFactory returns a network.Config handler factory. online
// reports the current player count for the status response; nil means
// zero.
func NewHandlerFactory(cfg *config.Config, store *db.Database, online func() int) func() network.Handler {
	if online == nil {
		online = func() int { return 0 }
	}
	return func() network.Handler {
		return &Handler{cfg: cfg, store: store, online: online}
	}
}

// Handle dispatches one parsed frame according to the connection state.
func (h *Handler) Handle(ctx context.Context, sess *network.Session, header *protocol.Header, payload *codec.Consumer) error {
	switch h.state {
	case stateHandshaking:
		return h.handleHandshake(sess, header, payload)
	case stateStatus:
		return h.handleStatus(sess, header, payload)
	default:
		return fmt.Errorf("unexpected packet 0x%02x in state %d", header.PacketID, h.state)
	}
}

func (h *Handler) handleHandshake(sess *network.Session, header *protocol.Header, payload *codec.Consumer) error {
	if header.PacketID != pktHandshake {
		return fmt.Errorf("expected handshake, got packet 0x%02x", header.PacketID)
	}

	hs, err := decodeHandshake(payload)
	if err != nil {
		return err
	}

	if banned, err := h.peerBanned(sess); err != nil {
		log.Warn().Err(err).Msg("ban lookup failed, allowing connection")
	} else if banned {
		h.disconnect(sess, "You are banned from this server")
		return errors.New("banned peer rejected")
	}

	log.Debug().
		Int32("protocol_version", hs.ProtocolVersion).
		Str("server_addr", hs.ServerAddr).
		Int32("intent", hs.Intent).
		Msg("game handshake")

	switch hs.Intent {
	case intentStatus:
		h.state = stateStatus
		return nil
	case intentLogin:
		h.disconnect(sess, "Logging in is not supported yet")
		return errors.New("login intent not supported")
	default:
		return fmt.Errorf("unknown handshake intent %d", hs.Intent)
	}
}

func (h *Handler) handleStatus(sess *network.Session, header *protocol.Header, payload *codec.Consumer) error {
	switch header.PacketID {
	case pktStatusRequest:
		body, err := statusJSON(h.cfg, h.online())
		if err != nil {
			return err
		}
		encoded, err := codec.String.Encode(body)
		if err != nil {
			return err
		}
		return sess.WriteFrame(pktStatusResponse, encoded)

	case pktPing:
		token, err := codec.Long.Decode(payload)
		if err != nil {
			return err
		}
		encoded, err := codec.Long.Encode(token)
		if err != nil {
			return err
		}
		return sess.WriteFrame(pktPong, encoded)

	default:
		return fmt.Errorf("unexpected packet 0x%02x during status", header.PacketID)
	}
}

// peerBanned checks the peer's host against the ban store.
func (h *Handler) peerBanned(sess *network.Session) (bool, error) {
	if h.store == nil {
		return false, nil
	}
	host, _, err := net.SplitHostPort(sess.RemoteAddr().String())
	if err != nil {
		return false, err
	}
	return h.store.IsBanned(host)
}

// disconnect sends a JSON chat reason; write failures are moot because the
// session is closing either way.
func (h *Handler) disconnect(sess *network.Session, reason string) {
	body, err := codec.String.Encode(fmt.Sprintf(`{"text":%q}`, reason))
	if err != nil {
		return
	}
	_ = sess.WriteFrame(pktDisconnect, body)
}

// handshake carries the decoded handshake fields.
type handshake struct {
	ProtocolVersion int32
	ServerAddr      string
	ServerPort      uint64
	Intent          int32
}

func decodeHandshake(payload *codec.Consumer) (*handshake, error) {
	var (
		hs  handshake
		err error
	)
	if hs.ProtocolVersion, err = codec.VarInt.Decode(payload); err != nil {
		return nil, err
	}
	if hs.ServerAddr, err = codec.String.Decode(payload); err != nil {
		return nil, err
	}
	if hs.ServerPort, err = codec.UShort.Decode(payload); err != nil {
		return nil, err
	}
	if hs.Intent, err = codec.VarInt.Decode(payload); err != nil {
		return nil, err
	}
	return &hs, nil
}
