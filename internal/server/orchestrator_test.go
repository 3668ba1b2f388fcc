package server

import (
	"bytes"
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spile-project/spile/internal/codec"
	"github.com/spile-project/spile/internal/events"
	"github.com/spile-project/spile/internal/network"
	"github.com/spile-project/spile/internal/protocol"
)

type nopHandler struct{}

func (nopHandler) Handle(_ context.Context, _ *network.Session, header *protocol.Header, payload *codec.Consumer) error {
	_, err := payload.ReadExact(int(header.PayloadLength))
	return err
}

func testListener(bus *events.Bus, addr string) *network.Listener {
	return network.NewListener(network.Config{
		Proto: "test",
		Addr:  addr,
		Framing: protocol.Framing{
			Name:         "test",
			Length:       codec.VarInt,
			PacketID:     codec.VarInt,
			MaxFrameSize: 1 << 16,
		},
		NewHandler: func() network.Handler { return nopHandler{} },
	}, bus)
}

func TestBootstrapReachesRunning(t *testing.T) {
	bus := events.NewBus()
	orch := New(bus,
		testListener(bus, "127.0.0.1:0"),
		testListener(bus, "127.0.0.1:0"),
		testListener(bus, "127.0.0.1:0"),
	)
	defer orch.Stop()

	require.Equal(t, StateStopped, orch.State())
	require.NoError(t, orch.Bootstrap(context.Background()))
	assert.Equal(t, StateRunning, orch.State())

	// Every listener accepts.
	for _, l := range orch.Listeners() {
		conn, err := net.Dial("tcp", l.Addr())
		require.NoError(t, err)

		var buf bytes.Buffer
		require.NoError(t, protocol.WriteFrame(&buf, protocol.Framing{
			Name: "test", Length: codec.VarInt, PacketID: codec.VarInt, MaxFrameSize: 1 << 16,
		}, 1, []byte("ping")))
		_, err = conn.Write(buf.Bytes())
		require.NoError(t, err)
		conn.Close()
	}

	require.NoError(t, orch.Stop())
	assert.Equal(t, StateStopped, orch.State())
}

func TestBootThenFailThenStop(t *testing.T) {
	// Occupy a port so the third listener cannot bind.
	blocker, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer blocker.Close()

	bus := events.NewBus()
	good1 := testListener(bus, "127.0.0.1:0")
	good2 := testListener(bus, "127.0.0.1:0")
	bad := testListener(bus, blocker.Addr().String())

	orch := New(bus, good1, good2, bad)

	err = orch.Bootstrap(context.Background())
	require.Error(t, err)

	// Running was never reached and the healthy listeners were unwound.
	assert.Equal(t, StateStopped, orch.State())
	assert.False(t, good1.IsOpen())
	assert.False(t, good2.IsOpen())
	assert.False(t, bad.IsOpen())

	// The unwound listeners no longer accept.
	_, dialErr := net.DialTimeout("tcp", good1.Addr(), 200*time.Millisecond)
	assert.Error(t, dialErr)
}

func TestBootstrapFromRunningRejected(t *testing.T) {
	bus := events.NewBus()
	orch := New(bus, testListener(bus, "127.0.0.1:0"))
	defer orch.Stop()

	require.NoError(t, orch.Bootstrap(context.Background()))
	require.Error(t, orch.Bootstrap(context.Background()))
}

func TestStopIdempotent(t *testing.T) {
	bus := events.NewBus()
	orch := New(bus, testListener(bus, "127.0.0.1:0"))

	require.NoError(t, orch.Bootstrap(context.Background()))
	require.NoError(t, orch.Stop())
	require.NoError(t, orch.Stop())
	assert.Equal(t, StateStopped, orch.State())
}

func TestRuntimeFailureKeepsRunning(t *testing.T) {
	bus := events.NewBus()

	failures := make(chan events.Event, 1)
	bus.Subscribe(events.EventCriticalFailure, "test", func(_ context.Context, e events.Event) error {
		failures <- e
		return nil
	})

	l1 := testListener(bus, "127.0.0.1:0")
	l2 := testListener(bus, "127.0.0.1:0")
	orch := New(bus, l1, l2)
	defer orch.Stop()

	require.NoError(t, orch.Bootstrap(context.Background()))
	require.Equal(t, StateRunning, orch.State())

	// One session failing is routine and produces no critical failure,
	// and the orchestrator stays Running regardless.
	conn, err := net.Dial("tcp", l1.Addr())
	require.NoError(t, err)
	_, err = conn.Write([]byte{0xff, 0xff, 0xff, 0xff, 0x0f})
	require.NoError(t, err)
	conn.Close()

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, StateRunning, orch.State())

	select {
	case e := <-failures:
		t.Fatalf("unexpected critical failure: %+v", e)
	default:
	}
}
