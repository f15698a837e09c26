// Package replica implements a scripted stand-in for one backend replica. It
// serves GET /api/data, replays a cyclic list of canned responses and enforces a
// per-client in-flight cap. A client that exceeds the cap is blocked and gets
// 503 for every later request.
package replica

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// DataPath is the endpoint served by replicas.
const DataPath = "/api/data"

// DefaultMaxInFlight is the per-client concurrency cap.
const DefaultMaxInFlight = 30

// Response is one scripted reply.
type Response struct {
	Code    int
	Payload string
	Delay   time.Duration
}

// DefaultResponses is the script used when none is configured.
func DefaultResponses() []Response {
	return []Response{
		{Code: http.StatusOK, Payload: "2cba8153f2ff", Delay: time.Second},
		{Code: http.StatusOK, Payload: "123", Delay: 100 * time.Millisecond},
	}
}

// Config controls the replica.
type Config struct {
	MaxInFlight int
	Responses   []Response
}

// Server holds the script cursor and per-client admission state.
type Server struct {
	router chi.Router
	cfg    Config
	logger *zap.Logger

	mu       sync.Mutex
	next     int
	inFlight map[string]int
	blocked  map[string]struct{}
}

// NewServer validates cfg and builds the router. Extra middleware (for example
// request metrics) runs before the handlers.
func NewServer(cfg Config, logger *zap.Logger, middleware ...func(http.Handler) http.Handler) (*Server, error) {
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = DefaultMaxInFlight
	}
	if len(cfg.Responses) == 0 {
		cfg.Responses = DefaultResponses()
	}
	for _, r := range cfg.Responses {
		if r.Code < 100 || r.Code > 599 {
			return nil, errors.New("scripted response code must be a valid HTTP status")
		}
		if r.Delay < 0 {
			return nil, errors.New("scripted response delay must be >= 0")
		}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		cfg:      cfg,
		logger:   logger,
		inFlight: make(map[string]int),
		blocked:  make(map[string]struct{}),
	}
	r := chi.NewRouter()
	r.Use(s.recoverMiddleware)
	for _, mw := range middleware {
		r.Use(mw)
	}
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get(DataPath, s.data)
	s.router = r
	return s, nil
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Blocked reports whether host has been cut off.
func (s *Server) Blocked(host string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.blocked[host]
	return ok
}

func (s *Server) data(w http.ResponseWriter, r *http.Request) {
	client := clientHost(r.RemoteAddr)
	resp, admitted := s.admit(client)
	if !admitted {
		s.logger.Info("blocked request", zap.String("client", client))
		writeJSON(w, http.StatusServiceUnavailable, struct{}{})
		return
	}
	defer s.finish(client)

	if resp.Delay > 0 {
		timer := time.NewTimer(resp.Delay)
		select {
		case <-timer.C:
		case <-r.Context().Done():
			timer.Stop()
			return
		}
	}

	if resp.Code == http.StatusOK {
		writeJSON(w, resp.Code, map[string]string{"information": resp.Payload})
	} else {
		writeJSON(w, resp.Code, struct{}{})
	}
	s.logger.Info("handled request",
		zap.String("client", client),
		zap.String("input", r.URL.Query().Get("input")),
		zap.Int("code", resp.Code),
		zap.Duration("delay", resp.Delay),
	)
}

// admit checks the block list and the in-flight cap, then advances the script
// cursor. The cursor is shared by all clients.
func (s *Server) admit(client string) (Response, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.blocked[client]; ok {
		return Response{}, false
	}
	if s.inFlight[client] >= s.cfg.MaxInFlight {
		s.blocked[client] = struct{}{}
		return Response{}, false
	}
	s.inFlight[client]++
	resp := s.cfg.Responses[s.next]
	s.next = (s.next + 1) % len(s.cfg.Responses)
	return resp, true
}

func (s *Server) finish(client string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inFlight[client]--
	if s.inFlight[client] <= 0 {
		delete(s.inFlight, client)
	}
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("error", rec))
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func clientHost(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
