// Package query implements the lightweight status protocol: unsigned
// big-endian short framing and a single request kind answered with a
// NUL-delimited key/value listing. It exists so monitoring tools can poll
// the server without speaking the full game protocol.
package query

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spile-project/spile/internal/codec"
	"github.com/spile-project/spile/internal/config"
	"github.com/spile-project/spile/internal/network"
	"github.com/spile-project/spile/internal/protocol"
)

// Packet identifiers.
const (
	pktStatusRequest  int32 = 0x00
	pktStatusResponse int32 = 0x00
)

// Framing returns the query frame shape: unsigned big-endian 16-bit length
// prefix and packet identifier.
func Framing() protocol.Framing {
	return protocol.Framing{
		Name:         "query",
		Length:       codec.UShortBE,
		PacketID:     codec.UShortBE,
		MaxFrameSize: 65535,
	}
}

// Handler answers status requests. It keeps no per-connection state, so a
// client may poll repeatedly over one connection.
type Handler struct {
	cfg    *config.Config
	online func() int
}

// NewHandlerFactory returns a per-connection handler factory. online
// reports the current player count; nil means zero.
func NewHandlerFactory(cfg *config.Config, online func() int) func() network.Handler {
	if online == nil {
		online = func() int { return 0 }
	}
	return func() network.Handler {
		return &Handler{cfg: cfg, online: online}
	}
}

// Handle answers one status request with the key/value listing.
func (h *Handler) Handle(ctx context.Context, sess *network.Session, header *protocol.Header, payload *codec.Consumer) error {
	if header.PacketID != pktStatusRequest {
		return fmt.Errorf("unexpected query packet 0x%02x", header.PacketID)
	}
	return sess.WriteFrame(pktStatusResponse, encodeStatus(h.cfg, h.online()))
}

// encodeStatus renders the status listing: key NUL value NUL pairs, closed
// by one empty key.
func encodeStatus(cfg *config.Config, online int) []byte {
	pairs := [][2]string{
		{"hostname", cfg.Server.Name},
		{"motd", cfg.Server.MOTD},
		{"version", cfg.Server.Version},
		{"numplayers", strconv.Itoa(online)},
		{"maxplayers", strconv.Itoa(cfg.Server.MaxPlayers)},
	}

	var out []byte
	for _, kv := range pairs {
		out = append(out, kv[0]...)
		out = append(out, 0)
		out = append(out, kv[1]...)
		out = append(out, 0)
	}
	return append(out, 0)
}

// DecodeStatus parses a status listing back into its key/value pairs. The
// console and tests use it; the wire handler never does.
func DecodeStatus(raw []byte) (map[string]string, error) {
	fields := make(map[string]string)
	for len(raw) > 0 {
		key, rest, err := cutString(raw)
		if err != nil {
			return nil, err
		}
		if key == "" {
			return fields, nil
		}
		value, rest, err := cutString(rest)
		if err != nil {
			return nil, err
		}
		fields[key] = value
		raw = rest
	}
	return nil, fmt.Errorf("status listing missing terminator")
}

func cutString(raw []byte) (string, []byte, error) {
	for i, b := range raw {
		if b == 0 {
			return string(raw[:i]), raw[i+1:], nil
		}
	}
	return "", nil, fmt.Errorf("unterminated string in status listing")
}
