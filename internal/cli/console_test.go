package cli

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/spile-project/spile/internal/config"
	"github.com/spile-project/spile/internal/db"
	"github.com/spile-project/spile/internal/events"
	"github.com/spile-project/spile/internal/server"
)

// runConsole feeds the script to a fresh console and returns its output.
func runConsole(t *testing.T, store *db.Database, bus *events.Bus, script string) string {
	t.Helper()

	if bus == nil {
		bus = events.NewBus()
		t.Cleanup(bus.Stop)
	}

	var out bytes.Buffer
	console := NewConsole(config.Default(), bus, server.New(bus), store, strings.NewReader(script), &out)
	console.Run(context.Background())
	return out.String()
}

func openTestStore(t *testing.T) *db.Database {
	t.Helper()
	store, err := db.Open(filepath.Join(t.TempDir(), "spile.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestHelp(t *testing.T) {
	out := runConsole(t, nil, nil, "help\n")
	require.Contains(t, out, "ban <addr>")
	require.Contains(t, out, "stop")
}

func TestStatusTable(t *testing.T) {
	out := runConsole(t, nil, nil, "status\n")
	require.Contains(t, out, "state stopped")
	require.Contains(t, out, "PROTO")
}

func TestBanCommands(t *testing.T) {
	store := openTestStore(t)

	out := runConsole(t, store, nil, "ban 203.0.113.7 spamming chat\nbanlist\npardon 203.0.113.7\nbanlist\n")
	require.Contains(t, out, "Banned 203.0.113.7: spamming chat")
	require.Contains(t, out, "203.0.113.7")
	require.Contains(t, out, "Unbanned 203.0.113.7")
	require.Contains(t, out, "There are no bans")

	banned, err := store.IsBanned("203.0.113.7")
	require.NoError(t, err)
	require.False(t, banned)
}

func TestOperatorCommands(t *testing.T) {
	store := openTestStore(t)

	out := runConsole(t, store, nil, "op alyx\nops\ndeop alyx\nops\n")
	require.Contains(t, out, "Made alyx a server operator")
	require.Contains(t, out, "- alyx")
	require.Contains(t, out, "no longer")
	require.Contains(t, out, "There are no operators")
}

func TestBadUsagePrintsError(t *testing.T) {
	out := runConsole(t, openTestStore(t), nil, "ban\n")
	require.Contains(t, out, "usage: ban")
}

func TestUnknownCommand(t *testing.T) {
	out := runConsole(t, nil, nil, "teleport\n")
	require.Contains(t, out, "Unknown command")
}

func TestStopEmitsShutdownAndExits(t *testing.T) {
	bus := events.NewBus()
	t.Cleanup(bus.Stop)

	shutdown := make(chan events.Event, 1)
	bus.Subscribe(events.EventShutdown, "test", func(ctx context.Context, ev events.Event) error {
		shutdown <- ev
		return nil
	})

	out := runConsole(t, nil, bus, "stop\nstatus\n")
	require.Contains(t, out, "Stopping the server")
	// The console exits on stop, so the trailing status never runs.
	require.NotContains(t, out, "state stopped")

	select {
	case ev := <-shutdown:
		require.Equal(t, "console", ev.Source)
	case <-time.After(2 * time.Second):
		t.Fatal("no shutdown event received")
	}
}
