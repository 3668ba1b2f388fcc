package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
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

func newTestServer(t *testing.T, password string) (*Server, *events.Bus, *db.Database) {
	t.Helper()

	cfg := config.Default()
	cfg.Network.RCONPassword = password

	bus := events.NewBus()
	t.Cleanup(bus.Stop)

	store, err := db.Open(filepath.Join(t.TempDir(), "spile.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return NewServer(cfg, bus, server.New(bus), store), bus, store
}

func doRequest(router http.Handler, method, path, token, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestPing(t *testing.T) {
	s, _, _ := newTestServer(t, "secret")
	router := s.buildRouter()

	rec := doRequest(router, http.MethodGet, "/api/ping", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "pong")
}

func TestStatusReportsStoppedDaemon(t *testing.T) {
	s, _, _ := newTestServer(t, "secret")
	router := s.buildRouter()

	rec := doRequest(router, http.MethodGet, "/api/status", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "stopped", resp["state"])
	require.Equal(t, "Spile", resp["name"])
}

func TestAdminRequiresToken(t *testing.T) {
	s, _, _ := newTestServer(t, "secret")
	router := s.buildRouter()

	rec := doRequest(router, http.MethodGet, "/api/admin/bans", "", "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doRequest(router, http.MethodGet, "/api/admin/bans", "wrong", "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doRequest(router, http.MethodGet, "/api/admin/bans", "secret", "")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestAdminDisabledWithoutPassword(t *testing.T) {
	s, _, _ := newTestServer(t, "")
	router := s.buildRouter()

	rec := doRequest(router, http.MethodGet, "/api/admin/bans", "anything", "")
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestBanEndpoints(t *testing.T) {
	s, _, store := newTestServer(t, "secret")
	router := s.buildRouter()

	rec := doRequest(router, http.MethodPost, "/api/admin/bans", "secret",
		`{"addr":"203.0.113.4","reason":"spam"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	banned, err := store.IsBanned("203.0.113.4")
	require.NoError(t, err)
	require.True(t, banned)

	rec = doRequest(router, http.MethodGet, "/api/admin/bans", "secret", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "203.0.113.4")

	rec = doRequest(router, http.MethodDelete, "/api/admin/bans/203.0.113.4", "secret", "")
	require.Equal(t, http.StatusOK, rec.Code)

	banned, err = store.IsBanned("203.0.113.4")
	require.NoError(t, err)
	require.False(t, banned)
}

func TestOperatorEndpoints(t *testing.T) {
	s, _, store := newTestServer(t, "secret")
	router := s.buildRouter()

	rec := doRequest(router, http.MethodPost, "/api/admin/operators/alyx", "secret", "")
	require.Equal(t, http.StatusOK, rec.Code)

	op, err := store.IsOperator("alyx")
	require.NoError(t, err)
	require.True(t, op)

	rec = doRequest(router, http.MethodDelete, "/api/admin/operators/alyx", "secret", "")
	require.Equal(t, http.StatusOK, rec.Code)

	op, err = store.IsOperator("alyx")
	require.NoError(t, err)
	require.False(t, op)
}

func TestStopEndpointEmitsShutdown(t *testing.T) {
	s, bus, _ := newTestServer(t, "secret")

	shutdown := make(chan events.Event, 1)
	bus.Subscribe(events.EventShutdown, "test", func(ctx context.Context, ev events.Event) error {
		shutdown <- ev
		return nil
	})

	router := s.buildRouter()
	rec := doRequest(router, http.MethodPost, "/api/admin/stop", "secret", "")
	require.Equal(t, http.StatusOK, rec.Code)

	select {
	case ev := <-shutdown:
		require.Equal(t, "api", ev.Source)
	case <-time.After(2 * time.Second):
		t.Fatal("no shutdown event received")
	}
}
