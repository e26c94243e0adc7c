package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"signagebridge/internal/config"
	"signagebridge/internal/coordinator"
	"signagebridge/internal/facade"

	"go.uber.org/zap"
)

// Server exposes the fleet snapshot and a manual refresh trigger to the host
// automation platform over HTTP, plus a WebSocket push channel for change
// notification.
type Server struct {
	coord    *coordinator.Coordinator
	settings *config.Settings
	logger   *zap.Logger
	server   *http.Server
	hub      *Hub
}

// NewServer creates a new API server.
func NewServer(coord *coordinator.Coordinator, settings *config.Settings, logger *zap.Logger, port int) *Server {
	s := &Server{
		coord:    coord,
		settings: settings,
		logger:   logger,
		hub:      NewHub(logger),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleSitemap)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/api/players", s.handleGetPlayers)
	mux.HandleFunc("/api/playlists", s.handleGetPlaylists)
	mux.HandleFunc("/api/status", s.handleGetStatus)
	mux.HandleFunc("/api/refresh", s.handleRefresh)
	mux.HandleFunc("/ws", s.hub.HandleWS)

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// NotifySnapshot pushes a fresh snapshot to all WebSocket listeners. Wire it
// to the coordinator with AddListener.
func (s *Server) NotifySnapshot(snap *coordinator.Snapshot) {
	s.hub.Broadcast(SnapshotMessage{
		Type:      "snapshot",
		Players:   s.playerViews(snap),
		Playlists: snap.PlaylistNames(),
		FetchedAt: snap.FetchedAt,
	})
}

// NotifyCycleFailed pushes a failed-cycle notice to all WebSocket listeners
// so hosts learn the snapshot has gone stale without polling /api/status.
// Wire it to the coordinator with AddFailureListener.
func (s *Server) NotifyCycleFailed(err error) {
	s.hub.Broadcast(CycleFailedMessage{
		Type:  "cycle_failed",
		Error: err.Error(),
	})
}

// PlayerView is the normalized per-player JSON shape served to the host.
type PlayerView struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	State           string `json:"state"`
	Connected       bool   `json:"connected"`
	CurrentPlaylist string `json:"current_playlist,omitempty"`
	Group           string `json:"group,omitempty"`
	IP              string `json:"ip,omitempty"`
	Version         string `json:"version,omitempty"`
	StorageUsed     string `json:"storage_used,omitempty"`
	StorageFree     string `json:"storage_free,omitempty"`
	LastReported    string `json:"last_reported,omitempty"`
}

// SnapshotMessage is the WebSocket frame pushed on every successful refresh.
type SnapshotMessage struct {
	Type      string       `json:"type"`
	Players   []PlayerView `json:"players"`
	Playlists []string     `json:"playlists"`
	FetchedAt time.Time    `json:"fetched_at"`
}

// CycleFailedMessage is the WebSocket frame pushed when a refresh cycle
// fails. The last successful snapshot stays valid on the receiving side.
type CycleFailedMessage struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

// StatusResponse represents the JSON response for the status endpoint.
type StatusResponse struct {
	LastUpdateSuccess bool       `json:"last_update_success"`
	Players           int        `json:"players"`
	Playlists         int        `json:"playlists"`
	FetchedAt         *time.Time `json:"fetched_at,omitempty"`
}

func (s *Server) playerViews(snap *coordinator.Snapshot) []PlayerView {
	if snap == nil {
		return []PlayerView{}
	}

	views := make([]PlayerView, 0, len(snap.Players))
	for i := range snap.Players {
		p := &snap.Players[i]
		view := PlayerView{
			ID:              p.ID,
			Name:            p.Name,
			State:           string(facade.DeriveState(p, s.settings.IgnoreCECFor(p.ID))),
			Connected:       p.IsConnected,
			CurrentPlaylist: p.CurrentPlaylist,
			IP:              p.IP,
			Version:         p.Version,
			StorageUsed:     p.DiskSpaceUsed,
			StorageFree:     p.DiskSpaceAvailable,
			LastReported:    p.LastReported,
		}
		if p.Group != nil {
			view.Group = p.Group.Name
		}
		views = append(views, view)
	}
	return views
}

// handleGetPlayers returns all players with their derived state.
func (s *Server) handleGetPlayers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.writeJSON(w, s.playerViews(s.coord.Snapshot()))

	s.logger.Debug("Players request served",
		zap.String("remote_addr", r.RemoteAddr))
}

// handleGetPlaylists returns the playlist names of the latest snapshot.
func (s *Server) handleGetPlaylists(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	names := []string{}
	if snap := s.coord.Snapshot(); snap != nil {
		names = snap.PlaylistNames()
	}
	s.writeJSON(w, names)
}

// handleGetStatus returns the coordinator's cycle health.
func (s *Server) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := StatusResponse{
		LastUpdateSuccess: s.coord.LastUpdateSuccess(),
	}
	if snap := s.coord.Snapshot(); snap != nil {
		response.Players = len(snap.Players)
		response.Playlists = len(snap.Playlists)
		fetchedAt := snap.FetchedAt
		response.FetchedAt = &fetchedAt
	}
	s.writeJSON(w, response)
}

// handleRefresh triggers a refresh cycle and reports its outcome.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.logger.Info("Manual refresh requested",
		zap.String("remote_addr", r.RemoteAddr))

	if err := s.coord.Refresh(); err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadGateway)
		json.NewEncoder(w).Encode(map[string]string{
			"status": "failed",
			"error":  err.Error(),
		})
		return
	}

	s.writeJSON(w, map[string]string{"status": "ok"})
}

// handleHealth returns a simple health check response.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{
		"status": "ok",
	})
}

// Endpoint represents an API endpoint with its documentation.
type Endpoint struct {
	Path        string `json:"path"`
	Method      string `json:"method"`
	Description string `json:"description"`
}

// handleSitemap returns a list of all available API endpoints.
func (s *Server) handleSitemap(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	endpoints := []Endpoint{
		{Path: "/", Method: "GET", Description: "This sitemap - lists all available API endpoints"},
		{Path: "/health", Method: "GET", Description: "Health check endpoint - returns {\"status\": \"ok\"}"},
		{Path: "/api/players", Method: "GET", Description: "All players with derived state"},
		{Path: "/api/playlists", Method: "GET", Description: "Playlist names from the latest snapshot"},
		{Path: "/api/status", Method: "GET", Description: "Last-update-success flag and snapshot age"},
		{Path: "/api/refresh", Method: "POST", Description: "Trigger a refresh cycle"},
		{Path: "/ws", Method: "GET", Description: "WebSocket snapshot push"},
	}

	// Return 404 status code (for automation compatibility) but with helpful body
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusNotFound)
	json.NewEncoder(w).Encode(endpoints)

	s.logger.Debug("Sitemap request served",
		zap.String("remote_addr", r.RemoteAddr))
}

func (s *Server) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("Starting HTTP API server", zap.String("addr", s.server.Addr))

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	return nil
}

// Stop gracefully shuts down the HTTP server and all WebSocket connections.
func (s *Server) Stop() error {
	s.logger.Info("Stopping HTTP API server")

	s.hub.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}

	return nil
}
