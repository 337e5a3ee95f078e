package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mquinn/gatekeep/internal/authorize"
	"github.com/mquinn/gatekeep/internal/config"
	"github.com/mquinn/gatekeep/internal/version"
)

// AuthorizationAPI is the surface the HTTP handlers need from the
// orchestration service.
type AuthorizationAPI interface {
	SubmitAuthorization(ctx context.Context, req SubmitRequest) (SubmitResponse, error)
	Poll(requestID string) (PollResponse, bool)
	InjectAction(value string) authorize.Ack
	NotifyTaskComplete(ctx context.Context, sessionID, cwd string) error
}

type Server struct {
	cfg        config.ServerConfig
	api        AuthorizationAPI
	httpServer *http.Server
}

func New(cfg config.ServerConfig, api AuthorizationAPI) *Server {
	host := strings.TrimSpace(cfg.Host)
	if host == "" {
		host = "127.0.0.1"
	}
	port := cfg.Port
	if port <= 0 {
		port = 18990
	}

	cfg.Host = host
	cfg.Port = port
	return &Server{
		cfg: cfg,
		api: api,
	}
}

func (s *Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
}

func (s *Server) Start() error {
	mux := NewHandler(s.cfg.Token, s.api)
	s.httpServer = &http.Server{
		Addr:              s.Addr(),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	slog.Info("gateway listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func NewHandler(token string, api AuthorizationAPI) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		requestID := getRequestID(r)
		if r.Method != http.MethodGet {
			writeError(w, requestID, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"status":     "ok",
			"request_id": requestID,
		})
	})
	mux.HandleFunc("/version", func(w http.ResponseWriter, r *http.Request) {
		requestID := getRequestID(r)
		if r.Method != http.MethodGet {
			writeError(w, requestID, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"version":    version.Version,
			"request_id": requestID,
		})
	})
	mux.HandleFunc("/v1/authorizations", func(w http.ResponseWriter, r *http.Request) {
		requestID := getRequestID(r)
		if !requirePost(w, r, requestID) || !requireAuth(w, r, token, requestID) {
			return
		}
		if api == nil {
			writeError(w, requestID, http.StatusInternalServerError, "internal_error", "authorization service is not configured")
			return
		}

		var req SubmitRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, requestID, http.StatusBadRequest, "bad_request", "invalid json request")
			return
		}
		if strings.TrimSpace(req.Tool) == "" {
			writeError(w, requestID, http.StatusBadRequest, "bad_request", "tool is required")
			return
		}

		resp, err := api.SubmitAuthorization(r.Context(), req)
		if err != nil {
			slog.Error("submit authorization failed", "request_id", requestID, "tool", req.Tool, "error", err)
			writeError(w, requestID, http.StatusInternalServerError, "internal_error", "failed to submit authorization")
			return
		}
		writeJSON(w, http.StatusOK, resp)
	})
	mux.HandleFunc("/v1/authorizations/poll", func(w http.ResponseWriter, r *http.Request) {
		requestID := getRequestID(r)
		if !requirePost(w, r, requestID) || !requireAuth(w, r, token, requestID) {
			return
		}
		if api == nil {
			writeError(w, requestID, http.StatusInternalServerError, "internal_error", "authorization service is not configured")
			return
		}

		var req struct {
			RequestID string `json:"request_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.RequestID) == "" {
			writeError(w, requestID, http.StatusBadRequest, "bad_request", "request_id is required")
			return
		}

		resp, found := api.Poll(strings.TrimSpace(req.RequestID))
		if !found {
			writeError(w, requestID, http.StatusNotFound, "not_found", "unknown request id")
			return
		}
		writeJSON(w, http.StatusOK, resp)
	})
	mux.HandleFunc("/v1/actions", func(w http.ResponseWriter, r *http.Request) {
		requestID := getRequestID(r)
		if !requirePost(w, r, requestID) || !requireAuth(w, r, token, requestID) {
			return
		}
		if api == nil {
			writeError(w, requestID, http.StatusInternalServerError, "internal_error", "authorization service is not configured")
			return
		}

		var req struct {
			Value string `json:"value"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, requestID, http.StatusBadRequest, "bad_request", "invalid json request")
			return
		}

		ack := api.InjectAction(req.Value)
		writeJSON(w, http.StatusOK, map[string]any{
			"kind":       string(ack.Kind),
			"text":       ack.Text,
			"decision":   string(ack.Decision),
			"rule_id":    ack.RuleID,
			"request_id": requestID,
		})
	})
	mux.HandleFunc("/v1/notifications", func(w http.ResponseWriter, r *http.Request) {
		requestID := getRequestID(r)
		if !requirePost(w, r, requestID) || !requireAuth(w, r, token, requestID) {
			return
		}
		if api == nil {
			writeError(w, requestID, http.StatusInternalServerError, "internal_error", "authorization service is not configured")
			return
		}

		var req struct {
			Type      string `json:"type"`
			SessionID string `json:"session_id"`
			CWD       string `json:"cwd"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, requestID, http.StatusBadRequest, "bad_request", "invalid json request")
			return
		}
		if req.Type != "task_complete" {
			writeError(w, requestID, http.StatusBadRequest, "bad_request", fmt.Sprintf("unsupported notification type %q", req.Type))
			return
		}

		if err := api.NotifyTaskComplete(r.Context(), req.SessionID, req.CWD); err != nil {
			slog.Error("task notification failed", "request_id", requestID, "session_id", req.SessionID, "error", err)
			writeError(w, requestID, http.StatusInternalServerError, "internal_error", "failed to deliver notification")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"status":     "sent",
			"request_id": requestID,
		})
	})
	return mux
}

func requirePost(w http.ResponseWriter, r *http.Request, requestID string) bool {
	if r.Method != http.MethodPost {
		writeError(w, requestID, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return false
	}
	return true
}

func requireAuth(w http.ResponseWriter, r *http.Request, token, requestID string) bool {
	if strings.TrimSpace(token) != "" && !isAuthorized(r, token) {
		writeError(w, requestID, http.StatusUnauthorized, "unauthorized", "missing or invalid bearer token")
		return false
	}
	return true
}

func isAuthorized(r *http.Request, expected string) bool {
	got := strings.TrimSpace(r.Header.Get("Authorization"))
	if got == "" {
		return false
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(got, prefix) {
		return false
	}
	token := strings.TrimSpace(strings.TrimPrefix(got, prefix))
	return token == expected
}

func getRequestID(r *http.Request) string {
	rid := strings.TrimSpace(r.Header.Get("X-Request-ID"))
	if rid != "" {
		return rid
	}
	return uuid.NewString()
}

func writeError(w http.ResponseWriter, requestID string, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"code":       code,
		"message":    message,
		"request_id": requestID,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
