package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"i4.energy/across/cellnet/network"
)

// Server handles incoming HTTP requests for controlling the cellular
// data connection of the configured modem
type Server struct {
	Logger  *slog.Logger
	Network *network.Network
	// PIN, AccessPoint and MaxRetry are used by POST /network/connect
	PIN         network.PIN
	AccessPoint network.AccessPoint
	MaxRetry    int
}

// ServeHTTP implements the http.Handler interface for the Server struct
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /network", s.handleInformation)
	mux.HandleFunc("GET /network/state", s.handleState)
	mux.HandleFunc("GET /network/operators", s.handleOperators)
	mux.HandleFunc("POST /network/connect", s.handleConnect)
	mux.HandleFunc("POST /network/disconnect", s.handleDisconnect)
	mux.HandleFunc("POST /network/reconnect", s.handleReconnect)
	mux.HandleFunc("PUT /network/auto-reconnect", s.handleAutoReconnect)
	mux.ServeHTTP(w, r)
}

func (s *Server) sendError(w http.ResponseWriter, message string, statusCode int) {
	if message == "" {
		w.WriteHeader(statusCode)
		return
	}

	type ErrorResponse struct {
		Message string `json:"message"`
	}
	resp := ErrorResponse{Message: message}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(resp)
}

func (s *Server) sendJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.Logger.Error("Failed to encode response", "error", err)
	}
}

// statusFor maps network errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, network.ErrClosed),
		errors.Is(err, network.ErrRetriesExhausted),
		errors.Is(err, network.ErrSimNotReady):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

type stateResponse struct {
	State         network.State `json:"state"`
	AutoReconnect bool          `json:"auto_reconnect"`
}

// handleState reports the connection state without talking to the modem
func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, stateResponse{State: s.Network.State(), AutoReconnect: s.Network.AutoReconnect()})
}

// handleInformation queries operator, signal and address. Failed queries
// are reported next to the partial snapshot.
func (s *Server) handleInformation(w http.ResponseWriter, r *http.Request) {
	type InformationResponse struct {
		network.Information
		Error string `json:"error,omitempty"`
	}

	info, err := s.Network.Information(r.Context())
	resp := InformationResponse{Information: info}
	if err != nil {
		s.Logger.Warn("Network information incomplete", "error", err)
		resp.Error = err.Error()
	}
	s.sendJSON(w, resp)
}

// handleOperators scans for operators, which can take minutes
func (s *Server) handleOperators(w http.ResponseWriter, r *http.Request) {
	ops, err := s.Network.Operators(r.Context())
	if err != nil {
		s.Logger.Error("Operator scan failed", "error", err)
		s.sendError(w, err.Error(), statusFor(err))
		return
	}
	s.sendJSON(w, ops)
}

// handleConnect brings the connection up. The body may override the
// configured retry budget.
func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	type ConnectRequest struct {
		MaxRetry *int `json:"max_retry"`
	}

	var req ConnectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.sendError(w, err.Error(), http.StatusBadRequest)
		return
	}

	maxRetry := s.MaxRetry
	if req.MaxRetry != nil {
		if *req.MaxRetry < 0 {
			s.sendError(w, "'max_retry' must not be negative", http.StatusBadRequest)
			return
		}
		maxRetry = *req.MaxRetry
	}

	start := time.Now()
	if err := s.Network.Connect(r.Context(), s.PIN, s.AccessPoint, maxRetry); err != nil {
		s.Logger.Error("Failed to connect", "error", err)
		s.sendError(w, err.Error(), statusFor(err))
		return
	}

	s.Logger.Info("Network connected", "duration", time.Since(start))
	s.handleState(w, r)
}

// handleDisconnect tears the connection down
func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	if err := s.Network.Disconnect(r.Context()); err != nil {
		s.Logger.Error("Failed to disconnect", "error", err)
		s.sendError(w, err.Error(), statusFor(err))
		return
	}

	s.Logger.Info("Network disconnected")
	s.handleState(w, r)
}

// handleReconnect disconnects and connects again with the last settings
func (s *Server) handleReconnect(w http.ResponseWriter, r *http.Request) {
	if err := s.Network.Reconnect(r.Context()); err != nil {
		s.Logger.Error("Failed to reconnect", "error", err)
		s.sendError(w, err.Error(), statusFor(err))
		return
	}

	s.Logger.Info("Network reconnected")
	s.handleState(w, r)
}

// handleAutoReconnect switches automatic reconnection on or off
func (s *Server) handleAutoReconnect(w http.ResponseWriter, r *http.Request) {
	type AutoReconnectRequest struct {
		Enabled *bool `json:"enabled"`
	}

	var req AutoReconnectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Enabled == nil {
		s.sendError(w, "'enabled' field is required", http.StatusBadRequest)
		return
	}

	s.Network.SetAutoReconnect(*req.Enabled)
	s.Logger.Info("Auto reconnect changed", "enabled", *req.Enabled)
	s.handleState(w, r)
}
