// Package admin implements the local HTTP surface from §4.9: health
// snapshot and configuration management, for an operator or a local
// management tool to call against localhost.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/D0cNet/SiemCore/internal/config"
	"github.com/D0cNet/SiemCore/internal/health"
	"github.com/D0cNet/SiemCore/internal/logging"
)

// HealthProvider supplies the live health snapshot.
type HealthProvider interface {
	Snapshot() health.Snapshot
}

// ConfigProvider is the subset of *config.Manager the admin surface
// needs, narrowed to an interface so handlers are testable without a
// real manager.
type ConfigProvider interface {
	Current() config.AgentConfig
	Validate(candidate config.AgentConfig) config.ValidationResult
	Apply(candidate config.AgentConfig, source string) (config.ValidationResult, error)
	Backup() error
	Restore() error
}

// Server is the admin HTTP surface. Every route under /api requires the
// configured bearer token, set via the SiemCore.apiKey the agent itself
// authenticates to the remote with — an operator calling the admin
// surface proves they hold the same secret the agent does.
type Server struct {
	httpServer *http.Server
	health     HealthProvider
	configMgr  ConfigProvider
	logger     *logging.Logger
	authToken  string
}

// New builds a Server bound to addr (e.g. "127.0.0.1:8734").
func New(addr string, healthProvider HealthProvider, configMgr ConfigProvider, authToken string, logger *logging.Logger) *Server {
	s := &Server{
		health:    healthProvider,
		configMgr: configMgr,
		logger:    logger,
		authToken: authToken,
	}

	router := mux.NewRouter()
	router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	api := router.PathPrefix("/api/configuration").Subrouter()
	api.Use(s.authMiddleware)
	api.HandleFunc("/current", s.handleCurrent).Methods(http.MethodGet)
	api.HandleFunc("/update", s.handleUpdate).Methods(http.MethodPost)
	api.HandleFunc("/validate", s.handleValidate).Methods(http.MethodPost)
	api.HandleFunc("/backup", s.handleBackup).Methods(http.MethodPost)
	api.HandleFunc("/restore", s.handleRestore).Methods(http.MethodPost)

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: router,
	}
	return s
}

// Run starts serving and blocks until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.LogSystemEvent("admin_server_starting", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return fmt.Errorf("admin: serve: %w", err)
	}
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if s.authToken == "" || token != s.authToken {
			writeError(w, http.StatusUnauthorized, "missing or invalid bearer token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) string {
	const prefix = "Bearer "
	header := r.Header.Get("Authorization")
	if len(header) <= len(prefix) || header[:len(prefix)] != prefix {
		return ""
	}
	return header[len(prefix):]
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.health.Snapshot())
}

func (s *Server) handleCurrent(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.configMgr.Current())
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	var candidate config.AgentConfig
	if err := json.NewDecoder(r.Body).Decode(&candidate); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	result := s.configMgr.Validate(candidate)
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var candidate config.AgentConfig
	if err := json.NewDecoder(r.Body).Decode(&candidate); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}

	result, err := s.configMgr.Apply(candidate, "admin_api")
	if errors.Is(err, config.ErrValidationFailed) {
		writeJSON(w, http.StatusBadRequest, result)
		return
	}
	if err != nil {
		s.logger.LogConfigEvent("apply_failed", "error", err.Error())
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleBackup(w http.ResponseWriter, r *http.Request) {
	if err := s.configMgr.Backup(); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "backed up"})
}

func (s *Server) handleRestore(w http.ResponseWriter, r *http.Request) {
	if err := s.configMgr.Restore(); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "restored"})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
