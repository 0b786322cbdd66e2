// Package control provides a Unix socket introspection interface for a
// running ZRC device or operator process: pairing inventory, active
// session count, and audit log size, for local tooling (a CLI status
// command, a health check) without giving that tooling access to key
// material or the store itself.
package control

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"github.com/zrc-project/zrc/internal/identity"
	"github.com/zrc-project/zrc/internal/store"
)

// StatusProvider is the read-only view into a running ZRC process the
// control server exposes over the socket.
type StatusProvider interface {
	// DeviceID is this process's own principal ID.
	DeviceID() identity.ID

	// Pairings lists all current pairings, device or operator side.
	Pairings() ([]store.PairingRecord, error)

	// ActiveSessionCount reports the number of sessions currently
	// established (host side only; zero on an operator process).
	ActiveSessionCount() int

	// AuditEventCount reports how many events the in-memory audit log
	// currently holds.
	AuditEventCount() int
}

// StatusResponse is the response for the status endpoint.
type StatusResponse struct {
	DeviceID           string `json:"device_id"`
	PairingCount       int    `json:"pairing_count"`
	ActiveSessionCount int    `json:"active_session_count"`
	AuditEventCount    int    `json:"audit_event_count"`
}

// PairingSummary is one entry in the pairings endpoint response;
// key material and permission internals beyond the granted bitmask are
// intentionally omitted.
type PairingSummary struct {
	OperatorID         string    `json:"operator_id"`
	DeviceID           string    `json:"device_id"`
	GrantedPermissions uint32    `json:"granted_permissions"`
	UnattendedEnabled  bool      `json:"unattended_enabled"`
	IssuedAt           time.Time `json:"issued_at"`
	LastSessionAt      time.Time `json:"last_session_at"`
}

// PairingsResponse is the response for the pairings endpoint.
type PairingsResponse struct {
	Pairings []PairingSummary `json:"pairings"`
}

// ServerConfig contains control server configuration.
type ServerConfig struct {
	// SocketPath is the path to the Unix socket file.
	SocketPath string

	// ReadTimeout for HTTP reads.
	ReadTimeout time.Duration

	// WriteTimeout for HTTP writes.
	WriteTimeout time.Duration
}

// DefaultServerConfig returns sensible defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		SocketPath:   "./data/control.sock",
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

// Server is a Unix socket HTTP server for introspection commands.
type Server struct {
	cfg      ServerConfig
	status   StatusProvider
	server   *http.Server
	listener net.Listener
	running  atomic.Bool
}

// NewServer creates a new control server backed by status.
func NewServer(cfg ServerConfig, status StatusProvider) *Server {
	s := &Server{
		cfg:    cfg,
		status: status,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/pairings", s.handlePairings)

	s.server = &http.Server{
		Handler:      mux,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s
}

// Start starts the control server.
func (s *Server) Start() error {
	if err := os.Remove(s.cfg.SocketPath); err != nil && !os.IsNotExist(err) {
		return err
	}

	ln, err := net.Listen("unix", s.cfg.SocketPath)
	if err != nil {
		return err
	}
	s.listener = ln
	s.running.Store(true)

	go s.server.Serve(ln)

	return nil
}

// Stop stops the control server.
func (s *Server) Stop() error {
	if !s.running.Swap(false) {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return err
	}

	if err := os.Remove(s.cfg.SocketPath); err != nil && !os.IsNotExist(err) {
		return err
	}

	return nil
}

// IsRunning returns true if the server is running.
func (s *Server) IsRunning() bool {
	return s.running.Load()
}

// SocketPath returns the socket path.
func (s *Server) SocketPath() string {
	return s.cfg.SocketPath
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	pairings, err := s.status.Pairings()
	if err != nil {
		http.Error(w, "pairings unavailable", http.StatusInternalServerError)
		return
	}

	response := StatusResponse{
		DeviceID:           s.status.DeviceID().String(),
		PairingCount:       len(pairings),
		ActiveSessionCount: s.status.ActiveSessionCount(),
		AuditEventCount:    s.status.AuditEventCount(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

func (s *Server) handlePairings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	records, err := s.status.Pairings()
	if err != nil {
		http.Error(w, "pairings unavailable", http.StatusInternalServerError)
		return
	}

	summaries := make([]PairingSummary, 0, len(records))
	for _, r := range records {
		summaries = append(summaries, PairingSummary{
			OperatorID:         r.OperatorID.String(),
			DeviceID:           r.DeviceID.String(),
			GrantedPermissions: r.GrantedPermissions,
			UnattendedEnabled:  r.UnattendedEnabled,
			IssuedAt:           r.IssuedAt,
			LastSessionAt:      r.LastSessionAt,
		})
	}

	response := PairingsResponse{Pairings: summaries}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}
