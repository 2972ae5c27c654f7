// Package server bridges HTTP to the gateway. The bridge is deliberately
// thin: it decodes requests, hands them to the gateway with a connection id,
// and queues push notifications for the client to poll. Clients identify
// their logical connection with the X-Connection-Id header.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"broadcast-control-plane/backend/internal/gateway"
)

const connectionHeader = "X-Connection-Id"

// queuedConn is a gateway.Conn whose pushes are buffered until the client
// polls them.
type queuedConn struct {
	id string

	mu      sync.Mutex
	pending []interface{}
}

func (c *queuedConn) ID() string { return c.id }

func (c *queuedConn) Send(_ context.Context, notification interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = append(c.pending, notification)
	return nil
}

func (c *queuedConn) drain() []interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.pending
	c.pending = nil
	return out
}

// Server is the HTTP bridge.
type Server struct {
	gateway *gateway.Gateway

	mu    sync.Mutex
	conns map[string]*queuedConn
}

// New returns a Server over the gateway.
func New(g *gateway.Gateway) *Server {
	return &Server{gateway: g, conns: make(map[string]*queuedConn)}
}

// Router builds the chi router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Route("/v1", func(r chi.Router) {
		r.Post("/authenticate", s.handleAuthenticate)
		r.Post("/token/refresh", s.handleRefresh)
		r.Post("/token/revoke", s.handleRevoke)
		r.Post("/sessions", s.handleCreateSession)
		r.Post("/sessions/{sessionID}/access", s.handleSessionAccess)
		r.Delete("/sessions/{sessionID}", s.handleEndSession)
		r.Get("/notifications", s.handleNotifications)
		r.Post("/disconnect", s.handleDisconnect)
	})
	return r
}

func (s *Server) conn(connectionID string) *queuedConn {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conns[connectionID]
	if !ok {
		c = &queuedConn{id: connectionID}
		s.conns[connectionID] = c
	}
	return c
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleAuthenticate(w http.ResponseWriter, r *http.Request) {
	connID := r.Header.Get(connectionHeader)
	if connID == "" {
		http.Error(w, "missing "+connectionHeader, http.StatusBadRequest)
		return
	}
	var req gateway.AuthenticateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	resp := s.gateway.Authenticate(r.Context(), s.conn(connID), &req)
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req gateway.RefreshTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, s.gateway.Refresh(r.Context(), &req))
}

func (s *Server) handleRevoke(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token  string `json:"token"`
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	if err := s.gateway.Revoke(r.Context(), req.Token, req.Reason); err != nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"success": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	connID := r.Header.Get(connectionHeader)
	var req struct {
		DisplayName string `json:"display_name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	info, err := s.gateway.CreateSession(r.Context(), connID, req.DisplayName)
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"success": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "session": info})
}

func (s *Server) handleSessionAccess(w http.ResponseWriter, r *http.Request) {
	connID := r.Header.Get(connectionHeader)
	var req gateway.SessionAccessRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	req.SessionID = chi.URLParam(r, "sessionID")
	writeJSON(w, http.StatusOK, s.gateway.SessionAccess(r.Context(), connID, &req))
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	connID := r.Header.Get(connectionHeader)
	sessionID := chi.URLParam(r, "sessionID")
	if err := s.gateway.EndSession(r.Context(), connID, sessionID); err != nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"success": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	connID := r.Header.Get(connectionHeader)
	if connID == "" {
		http.Error(w, "missing "+connectionHeader, http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"notifications": s.conn(connID).drain()})
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	connID := r.Header.Get(connectionHeader)
	if connID == "" {
		http.Error(w, "missing "+connectionHeader, http.StatusBadRequest)
		return
	}
	if err := s.gateway.Disconnect(r.Context(), connID); err != nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"success": false, "error": err.Error()})
		return
	}
	s.mu.Lock()
	delete(s.conns, connID)
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
