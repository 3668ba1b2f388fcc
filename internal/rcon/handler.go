// Package rcon implements the remote console protocol: little-endian
// length-prefixed request/response packets, a password authentication
// gate and a small dispatch table of admin commands.
package rcon

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/spile-project/spile/internal/codec"
	"github.com/spile-project/spile/internal/config"
	"github.com/spile-project/spile/internal/db"
	"github.com/spile-project/spile/internal/events"
	"github.com/spile-project/spile/internal/network"
	"github.com/spile-project/spile/internal/protocol"
)

// Packet types. Auth and exec share the value 2 on the response side,
// which is a quirk of the wire format, not of this implementation.
const (
	typeResponseValue int32 = 0
	typeExecCommand   int32 = 2
	typeAuthResponse  int32 = 2
	typeAuth          int32 = 3
)

// authFailedID is the request id echoed back when authentication fails.
const authFailedID int32 = -1

// maxFrameSize bounds one request; the classic limit is 4096 bytes of
// body plus framing.
const maxFrameSize int32 = 4110

// Framing returns the remote console frame shape: little-endian int32
// length prefix, little-endian int32 request id.
func Framing() protocol.Framing {
	return protocol.Framing{
		Name:         "rcon",
		Length:       codec.Int32LE,
		PacketID:     codec.Int32LE,
		MaxFrameSize: maxFrameSize,
	}
}

// Handler serves one remote console connection. Every command except the
// initial authentication requires a prior successful authentication.
type Handler struct {
	cfg    *config.Config
	store  *db.Database
	bus    *events.Bus
	online func() int

	authed bool
}

// NewHandlerFactory returns a per-connection handler factory. online
// reports the current player count for the list command; nil means zero.
func NewHandlerFactory(cfg *config.Config, store *db.Database, bus *events.Bus, online func() int) func() network.Handler {
	if online == nil {
		online = func() int { return 0 }
	}
	return func() network.Handler {
		return &Handler{cfg: cfg, store: store, bus: bus, online: online}
	}
}

// Handle processes one request packet and writes its response packets.
func (h *Handler) Handle(ctx context.Context, sess *network.Session, header *protocol.Header, payload *codec.Consumer) error {
	reqType, err := codec.Int32LE.Decode(payload)
	if err != nil {
		return err
	}

	bodyLen := header.PayloadLength - 4
	if bodyLen < 0 {
		return errors.New("request shorter than its type field")
	}
	raw, err := payload.ReadExact(int(bodyLen))
	if err != nil {
		return err
	}
	body := string(bytes.TrimRight(raw, "\x00"))

	switch reqType {
	case typeAuth:
		return h.handleAuth(sess, header.PacketID, body)
	case typeExecCommand:
		return h.handleExec(ctx, sess, header.PacketID, body)
	default:
		return fmt.Errorf("unsupported request type %d", reqType)
	}
}

func (h *Handler) handleAuth(sess *network.Session, reqID int32, password string) error {
	if h.cfg.Network.RCONPassword == "" || password != h.cfg.Network.RCONPassword {
		log.Warn().
			Str("remote", sess.RemoteAddr().String()).
			Msg("rcon authentication failed")
		if err := writePacket(sess, authFailedID, typeAuthResponse, ""); err != nil {
			return err
		}
		return errors.New("authentication failed")
	}

	h.authed = true
	log.Info().
		Str("remote", sess.RemoteAddr().String()).
		Msg("rcon authenticated")

	// The reference servers send an empty response value before the auth
	// acknowledgement; clients expect both.
	if err := writePacket(sess, reqID, typeResponseValue, ""); err != nil {
		return err
	}
	return writePacket(sess, reqID, typeAuthResponse, "")
}

func (h *Handler) handleExec(ctx context.Context, sess *network.Session, reqID int32, command string) error {
	if !h.authed {
		if err := writePacket(sess, authFailedID, typeAuthResponse, ""); err != nil {
			return err
		}
		return errors.New("command before authentication")
	}

	result, err := h.dispatch(ctx, command)
	if err != nil {
		result = "Error: " + err.Error()
	}
	return writePacket(sess, reqID, typeResponseValue, result)
}

// dispatch runs one admin command and returns its console output.
func (h *Handler) dispatch(ctx context.Context, command string) (string, error) {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return "", nil
	}
	name, args := fields[0], fields[1:]

	log.Debug().Str("command", name).Strs("args", args).Msg("rcon command")

	switch name {
	case "list":
		return fmt.Sprintf("There are %d of a max of %d players online",
			h.online(), h.cfg.Server.MaxPlayers), nil

	case "say":
		msg := strings.TrimSpace(strings.TrimPrefix(command, "say"))
		log.Info().Str("message", msg).Msg("rcon broadcast")
		return "Broadcast: " + msg, nil

	case "ban":
		if len(args) < 1 {
			return "", errors.New("usage: ban <addr> [reason]")
		}
		reason := "Banned by an operator"
		if len(args) > 1 {
			reason = strings.Join(args[1:], " ")
		}
		if err := h.store.BanAddr(args[0], reason); err != nil {
			return "", err
		}
		return fmt.Sprintf("Banned %s: %s", args[0], reason), nil

	case "pardon":
		if len(args) != 1 {
			return "", errors.New("usage: pardon <addr>")
		}
		if err := h.store.PardonAddr(args[0]); err != nil {
			return "", err
		}
		return "Unbanned " + args[0], nil

	case "banlist":
		bans, err := h.store.Bans()
		if err != nil {
			return "", err
		}
		if len(bans) == 0 {
			return "There are no bans", nil
		}
		lines := make([]string, 0, len(bans)+1)
		lines = append(lines, fmt.Sprintf("There are %d bans:", len(bans)))
		for _, b := range bans {
			lines = append(lines, fmt.Sprintf("%s (%s)", b.Addr, b.Reason))
		}
		return strings.Join(lines, "\n"), nil

	case "op":
		if len(args) != 1 {
			return "", errors.New("usage: op <name>")
		}
		if err := h.store.AddOperator(args[0]); err != nil {
			return "", err
		}
		return "Made " + args[0] + " a server operator", nil

	case "deop":
		if len(args) != 1 {
			return "", errors.New("usage: deop <name>")
		}
		if err := h.store.RemoveOperator(args[0]); err != nil {
			return "", err
		}
		return "Made " + args[0] + " no longer a server operator", nil

	case "stop":
		h.bus.Emit(ctx, events.Event{
			Type:    events.EventShutdown,
			Source:  "rcon",
			Payload: events.ShutdownPayload{Reason: "rcon stop command"},
		})
		return "Stopping the server", nil

	default:
		return "Unknown command: " + name, nil
	}
}

// writePacket frames and sends one response: type, body, and the two
// trailing NULs the wire format requires.
func writePacket(sess *network.Session, reqID, typ int32, body string) error {
	encType, err := codec.Int32LE.Encode(typ)
	if err != nil {
		return err
	}
	payload := make([]byte, 0, len(encType)+len(body)+2)
	payload = append(payload, encType...)
	payload = append(payload, body...)
	payload = append(payload, 0, 0)
	return sess.WriteFrame(reqID, payload)
}
