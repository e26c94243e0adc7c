package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"signagebridge/internal/config"
	"signagebridge/internal/coordinator"
	"signagebridge/internal/pisignage"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestServer(t *testing.T, mock *pisignage.MockAPI, refresh bool) (*Server, *coordinator.Coordinator) {
	t.Helper()
	logger, _ := zap.NewDevelopment()
	coord := coordinator.New(mock, time.Hour, logger)
	if refresh {
		require.NoError(t, coord.Refresh())
	}
	return NewServer(coord, &config.Settings{}, logger, 0), coord
}

func serve(s *Server, method, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	s.server.Handler.ServeHTTP(rec, req)
	return rec
}

func TestHandleGetPlayers(t *testing.T) {
	mock := pisignage.NewMockAPI()
	mock.SetPlayers([]pisignage.Player{{
		ID:              "p1",
		Name:            "Lobby",
		IsConnected:     true,
		PlaylistOn:      true,
		CurrentPlaylist: "Ads",
		Group:           &pisignage.GroupRef{ID: "g1", Name: "Lobby Screens"},
	}})
	server, _ := newTestServer(t, mock, true)

	rec := serve(server, http.MethodGet, "/api/players")
	require.Equal(t, http.StatusOK, rec.Code)

	var views []PlayerView
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&views))
	require.Len(t, views, 1)
	assert.Equal(t, "p1", views[0].ID)
	assert.Equal(t, "playing", views[0].State)
	assert.Equal(t, "Ads", views[0].CurrentPlaylist)
	assert.Equal(t, "Lobby Screens", views[0].Group)
}

func TestHandleGetPlayers_EmptyBeforeFirstSnapshot(t *testing.T) {
	server, _ := newTestServer(t, pisignage.NewMockAPI(), false)

	rec := serve(server, http.MethodGet, "/api/players")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]", strings.TrimSpace(rec.Body.String()))
}

func TestHandleGetPlaylists(t *testing.T) {
	mock := pisignage.NewMockAPI()
	mock.SetPlaylists([]pisignage.Playlist{{Name: "Ads"}, {Name: "News"}})
	server, _ := newTestServer(t, mock, true)

	rec := serve(server, http.MethodGet, "/api/playlists")
	require.Equal(t, http.StatusOK, rec.Code)

	var names []string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&names))
	assert.Equal(t, []string{"Ads", "News"}, names)
}

func TestHandleGetStatus(t *testing.T) {
	mock := pisignage.NewMockAPI()
	mock.SetPlayers([]pisignage.Player{{ID: "p1"}, {ID: "p2"}})
	mock.SetPlaylists([]pisignage.Playlist{{Name: "Ads"}})
	server, _ := newTestServer(t, mock, true)

	rec := serve(server, http.MethodGet, "/api/status")
	require.Equal(t, http.StatusOK, rec.Code)

	var status StatusResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&status))
	assert.True(t, status.LastUpdateSuccess)
	assert.Equal(t, 2, status.Players)
	assert.Equal(t, 1, status.Playlists)
	require.NotNil(t, status.FetchedAt)
}

func TestHandleRefresh(t *testing.T) {
	server, _ := newTestServer(t, pisignage.NewMockAPI(), false)

	rec := serve(server, http.MethodPost, "/api/refresh")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = serve(server, http.MethodGet, "/api/refresh")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestHandleRefresh_Failure(t *testing.T) {
	mock := pisignage.NewMockAPI()
	mock.SetError(errors.New("server unreachable"))
	server, _ := newTestServer(t, mock, false)

	rec := serve(server, http.MethodPost, "/api/refresh")
	require.Equal(t, http.StatusBadGateway, rec.Code)

	var body map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "failed", body["status"])
	assert.Contains(t, body["error"], "server unreachable")
}

func TestHandleHealth(t *testing.T) {
	server, _ := newTestServer(t, pisignage.NewMockAPI(), false)

	rec := serve(server, http.MethodGet, "/health")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestHandleSitemap(t *testing.T) {
	server, _ := newTestServer(t, pisignage.NewMockAPI(), false)

	rec := serve(server, http.MethodGet, "/")
	// 404 on purpose so automations treat the root as a non-endpoint.
	require.Equal(t, http.StatusNotFound, rec.Code)

	var endpoints []Endpoint
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&endpoints))
	assert.NotEmpty(t, endpoints)
}

func TestWebSocketSnapshotPush(t *testing.T) {
	mock := pisignage.NewMockAPI()
	mock.SetPlayers([]pisignage.Player{{ID: "p1", Name: "Lobby", IsConnected: true}})
	mock.SetPlaylists([]pisignage.Playlist{{Name: "Ads"}})
	server, coord := newTestServer(t, mock, true)
	coord.AddListener(server.NotifySnapshot)

	ts := httptest.NewServer(server.server.Handler)
	defer ts.Close()
	defer server.hub.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	// Give the hub time to register the connection before broadcasting.
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, coord.Refresh())

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg SnapshotMessage
	require.NoError(t, conn.ReadJSON(&msg))

	assert.Equal(t, "snapshot", msg.Type)
	require.Len(t, msg.Players, 1)
	assert.Equal(t, "p1", msg.Players[0].ID)
	assert.Equal(t, []string{"Ads"}, msg.Playlists)
}

func TestWebSocketCycleFailedPush(t *testing.T) {
	mock := pisignage.NewMockAPI()
	server, coord := newTestServer(t, mock, true)
	coord.AddFailureListener(server.NotifyCycleFailed)

	ts := httptest.NewServer(server.server.Handler)
	defer ts.Close()
	defer server.hub.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	time.Sleep(50 * time.Millisecond)
	mock.SetError(errors.New("server unreachable"))
	require.Error(t, coord.Refresh())

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg CycleFailedMessage
	require.NoError(t, conn.ReadJSON(&msg))

	assert.Equal(t, "cycle_failed", msg.Type)
	assert.Contains(t, msg.Error, "server unreachable")
}
