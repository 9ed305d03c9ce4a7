package api

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/bryanchriswhite/StreamSnap/internal/capture"
	"github.com/bryanchriswhite/StreamSnap/internal/logger"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

// Info describes the capture run being served
type Info struct {
	StreamURL string `json:"stream_url"`
	SaveDir   string `json:"save_dir"`
	Interval  string `json:"interval"`
}

// Status is the body of GET /api/status
type Status struct {
	Info
	State       capture.State `json:"state"`
	Saved       int           `json:"saved"`
	LastPath    string        `json:"last_path,omitempty"`
	LastSavedAt *time.Time    `json:"last_saved_at,omitempty"`
	LastError   string        `json:"last_error,omitempty"`
}

// Server represents the HTTP status server. It implements capture.Notifier
// and only ever reads state the capture loop pushes to it.
type Server struct {
	router   *mux.Router
	upgrader websocket.Upgrader
	httpSrv  *http.Server

	mu     sync.RWMutex
	status Status

	clientsMu sync.RWMutex
	clients   map[chan capture.Event]struct{}
}

// NewServer creates a new status server
func NewServer(info Info) *Server {
	s := &Server{
		router: mux.NewRouter(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		status: Status{
			Info:  info,
			State: capture.StateInit,
		},
		clients: make(map[chan capture.Event]struct{}),
	}

	s.setupRoutes()
	s.httpSrv = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()

	api.HandleFunc("/health", s.handleHealth).Methods("GET")
	api.HandleFunc("/status", s.handleStatus).Methods("GET")
	api.HandleFunc("/captures/latest", s.handleLatest).Methods("GET", "HEAD")
	api.HandleFunc("/events", s.handleEvents)
}

// Handler returns the router
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on addr and serves until Shutdown
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve serves on ln until Shutdown. After Shutdown it returns at once.
func (s *Server) Serve(ln net.Listener) error {
	logger.WithComponent("api").Info().
		Str("addr", ln.Addr().String()).
		Msg("Status server listening")

	if err := s.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown disconnects event clients and stops the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	s.clientsMu.Lock()
	for ch := range s.clients {
		close(ch)
	}
	s.clients = make(map[chan capture.Event]struct{})
	s.clientsMu.Unlock()

	return s.httpSrv.Shutdown(ctx)
}

// Notify records a capture event and fans it out to event clients.
// Slow clients miss events rather than block the capture loop.
func (s *Server) Notify(evt capture.Event) {
	s.mu.Lock()
	s.status.State = evt.State
	s.status.Saved = evt.Saved
	switch evt.Type {
	case capture.EventSaved:
		at := evt.Time
		s.status.LastPath = evt.Path
		s.status.LastSavedAt = &at
		s.status.LastError = ""
	case capture.EventFailed, capture.EventStopped:
		s.status.LastError = evt.Error
	}
	s.mu.Unlock()

	s.clientsMu.RLock()
	for ch := range s.clients {
		select {
		case ch <- evt:
		default:
		}
	}
	s.clientsMu.RUnlock()
}

// Snapshot returns the current status
func (s *Server) Snapshot() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := s.status
	if st.LastSavedAt != nil {
		at := *st.LastSavedAt
		st.LastSavedAt = &at
	}
	return st
}

func (s *Server) subscribe() (<-chan capture.Event, func()) {
	ch := make(chan capture.Event, 16)

	s.clientsMu.Lock()
	s.clients[ch] = struct{}{}
	count := len(s.clients)
	s.clientsMu.Unlock()

	logger.WithComponent("api").Debug().Int("clients", count).Msg("Event client connected")

	return ch, func() {
		s.clientsMu.Lock()
		defer s.clientsMu.Unlock()
		// Shutdown may already have closed it
		if _, ok := s.clients[ch]; ok {
			delete(s.clients, ch)
			close(ch)
		}
	}
}

// HTTP Handlers

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Snapshot())
}

func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	st := s.Snapshot()
	if st.LastPath == "" {
		http.Error(w, "no capture saved yet", http.StatusNotFound)
		return
	}

	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Content-Type", "image/jpeg")
	http.ServeFile(w, r, st.LastPath)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	log := logger.WithComponent("api")

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	events, unsubscribe := s.subscribe()
	defer unsubscribe()

	// Send the current status first
	if err := conn.WriteJSON(s.Snapshot()); err != nil {
		log.Debug().Err(err).Msg("WebSocket write failed")
		return
	}

	// The read side only exists to notice the client going away
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-gone:
			return
		case evt, ok := <-events:
			if !ok {
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
				return
			}
			if err := conn.WriteJSON(evt); err != nil {
				log.Debug().Err(err).Msg("WebSocket write failed")
				return
			}
		}
	}
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
