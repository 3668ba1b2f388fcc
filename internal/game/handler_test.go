package game

import (
	"context"
	"encoding/json"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/spile-project/spile/internal/codec"
	"github.com/spile-project/spile/internal/config"
	"github.com/spile-project/spile/internal/db"
	"github.com/spile-project/spile/internal/events"
	"github.com/spile-project/spile/internal/network"
	"github.com/spile-project/spile/internal/protocol"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Server.MOTD = "A test server"
	cfg.Server.MaxPlayers = 7
	cfg.Server.Version = "1.21"
	cfg.Server.ProtocolVersion = 767
	return cfg
}

// startServer binds a game listener on a loopback port and returns a
// connected client plus a parser over the client's read side.
func startServer(t *testing.T, cfg *config.Config, store *db.Database, online func() int) (net.Conn, *protocol.Parser, *codec.Consumer) {
	t.Helper()

	bus := events.NewBus()
	t.Cleanup(bus.Stop)

	l := network.NewListener(network.Config{
		Proto:      "game",
		Addr:       "127.0.0.1:0",
		Framing:    Framing(),
		NewHandler: NewHandlerFactory(cfg, store, online),
	}, bus)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	require.NoError(t, l.Bind(ctx))
	go l.Serve(ctx)
	t.Cleanup(func() { l.Close() })

	conn, err := net.Dial("tcp", l.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))

	return conn, protocol.NewParser(Framing(), protocol.Pipeline{}), codec.NewConsumer(conn)
}

func writeHandshake(t *testing.T, conn net.Conn, intent int32) {
	t.Helper()

	var payload []byte
	b, err := codec.VarInt.Encode(767)
	require.NoError(t, err)
	payload = append(payload, b...)
	b, err = codec.String.Encode("localhost")
	require.NoError(t, err)
	payload = append(payload, b...)
	b, err = codec.UShort.Encode(25565)
	require.NoError(t, err)
	payload = append(payload, b...)
	b, err = codec.VarInt.Encode(intent)
	require.NoError(t, err)
	payload = append(payload, b...)

	require.NoError(t, protocol.WriteFrame(conn, Framing(), pktHandshake, payload))
}

func TestStatusExchange(t *testing.T) {
	cfg := testConfig()
	conn, parser, consumer := startServer(t, cfg, nil, func() int { return 3 })

	writeHandshake(t, conn, intentStatus)
	require.NoError(t, protocol.WriteFrame(conn, Framing(), pktStatusRequest, nil))

	header, payload, err := parser.ReadHeader(consumer)
	require.NoError(t, err)
	require.Equal(t, pktStatusResponse, header.PacketID)

	body, err := codec.String.Decode(payload)
	require.NoError(t, err)

	var status statusPayload
	require.NoError(t, json.Unmarshal([]byte(body), &status))
	require.Equal(t, "A test server", status.Description.Text)
	require.Equal(t, 7, status.Players.Max)
	require.Equal(t, 3, status.Players.Online)
	require.Equal(t, "1.21", status.Version.Name)
	require.Equal(t, int32(767), status.Version.Protocol)
}

func TestPingPong(t *testing.T) {
	conn, parser, consumer := startServer(t, testConfig(), nil, nil)

	writeHandshake(t, conn, intentStatus)

	token := int64(0x1122334455667788)
	encoded, err := codec.Long.Encode(token)
	require.NoError(t, err)
	require.NoError(t, protocol.WriteFrame(conn, Framing(), pktPing, encoded))

	header, payload, err := parser.ReadHeader(consumer)
	require.NoError(t, err)
	require.Equal(t, pktPong, header.PacketID)

	echoed, err := codec.Long.Decode(payload)
	require.NoError(t, err)
	require.Equal(t, token, echoed)
}

func TestLoginIntentDisconnects(t *testing.T) {
	conn, parser, consumer := startServer(t, testConfig(), nil, nil)

	writeHandshake(t, conn, intentLogin)

	header, payload, err := parser.ReadHeader(consumer)
	require.NoError(t, err)
	require.Equal(t, pktDisconnect, header.PacketID)

	reason, err := codec.String.Decode(payload)
	require.NoError(t, err)
	require.Contains(t, reason, "not supported")

	// The server closes after the disconnect frame.
	_, _, err = parser.ReadHeader(consumer)
	require.ErrorIs(t, err, codec.ErrStreamEnded)
}

func TestBannedPeerRejected(t *testing.T) {
	store, err := db.Open(filepath.Join(t.TempDir(), "spile.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.BanAddr("127.0.0.1", "testing"))

	conn, parser, consumer := startServer(t, testConfig(), store, nil)

	writeHandshake(t, conn, intentStatus)

	header, payload, err := parser.ReadHeader(consumer)
	require.NoError(t, err)
	require.Equal(t, pktDisconnect, header.PacketID)

	reason, err := codec.String.Decode(payload)
	require.NoError(t, err)
	require.Contains(t, reason, "banned")

	_, _, err = parser.ReadHeader(consumer)
	require.ErrorIs(t, err, codec.ErrStreamEnded)
}

func TestUnknownIntentClosesConnection(t *testing.T) {
	conn, parser, consumer := startServer(t, testConfig(), nil, nil)

	writeHandshake(t, conn, 9)

	_, _, err := parser.ReadHeader(consumer)
	require.ErrorIs(t, err, codec.ErrStreamEnded)
}
