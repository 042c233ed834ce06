package services

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"posturewatch/models"

	"go.uber.org/zap"
)

// SessionController is what the HTTP adapter needs from a session.
type SessionController interface {
	Snapshot() models.DashboardSnapshot
	Connect(ctx context.Context) error
	Disconnect()
}

// SnapshotServer exposes a session to a dashboard front end. It only hands
// out copies; nothing it returns aliases aggregator state.
type SnapshotServer struct {
	session SessionController
	logger  *zap.Logger
	server  *http.Server
}

func NewSnapshotServer(addr string, session SessionController, logger *zap.Logger) *SnapshotServer {
	s := &SnapshotServer{session: session, logger: logger}
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler returns the route table.
func (s *SnapshotServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /api/v1/snapshot", s.handleSnapshot)
	mux.HandleFunc("POST /api/v1/connect", s.handleConnect)
	mux.HandleFunc("POST /api/v1/disconnect", s.handleDisconnect)
	return mux
}

// Start serves until Shutdown. It returns nil after a graceful shutdown.
func (s *SnapshotServer) Start() error {
	s.logger.Info("Snapshot API listening", zap.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *SnapshotServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *SnapshotServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *SnapshotServer) handleSnapshot(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.session.Snapshot())
}

type actionResponse struct {
	Connection models.ConnectionStatus `json:"connection"`
	Error      string                  `json:"error,omitempty"`
}

func (s *SnapshotServer) handleConnect(w http.ResponseWriter, r *http.Request) {
	err := s.session.Connect(r.Context())
	resp := actionResponse{Connection: s.session.Snapshot().Connection}
	if err != nil {
		s.logger.Warn("Connect request failed", zap.Error(err))
		resp.Error = err.Error()
		s.writeJSON(w, http.StatusBadGateway, resp)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *SnapshotServer) handleDisconnect(w http.ResponseWriter, _ *http.Request) {
	s.session.Disconnect()
	s.writeJSON(w, http.StatusOK, actionResponse{Connection: s.session.Snapshot().Connection})
}

func (s *SnapshotServer) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to write response", zap.Error(err))
	}
}
