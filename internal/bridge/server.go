// Package bridge exposes the update state machine across the process
// boundary: a small REST surface for the mutating operations and a
// websocket event stream for state changes. Every new event subscriber
// receives the current state before any transition.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/siid-ide/update-agent/internal/logging"
	"github.com/siid-ide/update-agent/internal/update"
	"github.com/siid-ide/update-agent/pkg/api"
)

var log = logging.L("bridge")

// Machine is the slice of the state machine the bridge exposes.
type Machine interface {
	State() api.UpdateState
	Subscribe(update.Listener) func()
	CheckForUpdates(ctx context.Context, explicit bool)
	DownloadUpdate(ctx context.Context)
	ApplyUpdate(ctx context.Context)
	QuitAndInstall(ctx context.Context)
	ApplySpecificUpdate(ctx context.Context, packagePath string)
	IsLatestVersion(ctx context.Context) *bool
}

// Server serves the bridge on a local listener (unix socket or named
// pipe).
type Server struct {
	machine  Machine
	server   *http.Server
	listener net.Listener
	upgrader websocket.Upgrader
}

func NewServer(machine Machine, listener net.Listener) *Server {
	s := &Server{
		machine:  machine,
		listener: listener,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET "+api.EndpointState, s.handleState)
	mux.HandleFunc("POST "+api.EndpointCheck, s.handleCheck)
	mux.HandleFunc("POST "+api.EndpointDownload, s.handleDownload)
	mux.HandleFunc("POST "+api.EndpointApply, s.handleApply)
	mux.HandleFunc("POST "+api.EndpointInstall, s.handleInstall)
	mux.HandleFunc("POST "+api.EndpointSideload, s.handleSideload)
	mux.HandleFunc("GET "+api.EndpointLatest, s.handleLatest)
	mux.HandleFunc("GET "+api.EndpointEvents, s.handleEvents)

	s.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

// Serve blocks until the listener closes.
func (s *Server) Serve() error {
	log.Info("bridge listening", "addr", s.listener.Addr().String())

	err := s.server.Serve(s.listener)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests and closes the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	writeSuccess(w, s.machine.State())
}

func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	var req api.CheckRequest
	if !decodeBody(w, r, &req) {
		return
	}

	// The cycle outlives the request. On the setup platform a check
	// downloads the artifact, so a client disconnect or timeout must
	// not cancel it mid-flight.
	go s.machine.CheckForUpdates(context.WithoutCancel(r.Context()), req.Explicit)

	writeSuccess(w, s.machine.State())
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	s.machine.DownloadUpdate(r.Context())
	writeSuccess(w, s.machine.State())
}

func (s *Server) handleApply(w http.ResponseWriter, r *http.Request) {
	s.machine.ApplyUpdate(r.Context())
	writeSuccess(w, s.machine.State())
}

func (s *Server) handleInstall(w http.ResponseWriter, r *http.Request) {
	s.machine.QuitAndInstall(r.Context())
	writeSuccess(w, s.machine.State())
}

func (s *Server) handleSideload(w http.ResponseWriter, r *http.Request) {
	var req api.SideloadRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Path == "" {
		writeError(w, http.StatusBadRequest, "path is required")
		return
	}

	s.machine.ApplySpecificUpdate(r.Context(), req.Path)
	writeSuccess(w, s.machine.State())
}

func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, api.LatestResponse{Latest: s.machine.IsLatestVersion(r.Context())})
}

// handleEvents upgrades to a websocket and streams state changes. The
// subscription itself replays the current state, so the first frame a
// client reads is always the state at connect time.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	// Buffered so a slow client never blocks the state machine.
	events := make(chan api.UpdateState, 16)
	unsubscribe := s.machine.Subscribe(func(state api.UpdateState) {
		offerState(events, state)
	})
	defer unsubscribe()

	// Reader goroutine notices the client going away.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case state := <-events:
			if err := conn.WriteJSON(state); err != nil {
				return
			}
		case <-done:
			return
		case <-r.Context().Done():
			return
		}
	}
}

// offerState queues state for a subscriber. When the subscriber lags
// behind, the oldest pending state is discarded so the last frame the
// client reads is always the newest one.
func offerState(events chan api.UpdateState, state api.UpdateState) {
	for {
		select {
		case events <- state:
			return
		default:
			select {
			case <-events:
			default:
			}
		}
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Body == nil || r.ContentLength == 0 {
		return true
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func writeSuccess(w http.ResponseWriter, metadata any) {
	raw, err := json.Marshal(metadata)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "encoding response")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(api.Response{
		Status:     "Success",
		StatusCode: http.StatusOK,
		Metadata:   raw,
	})
}

func writeError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(api.Response{
		Status:     "Failure",
		StatusCode: code,
		Error:      message,
	})
}
