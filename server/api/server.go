// Package api exposes the administrative HTTP interface: script
// inspection, script validation and health checks.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/migadu/filterd/logger"
	"github.com/migadu/filterd/server/delivery"
	"github.com/migadu/filterd/server/sieveengine"
)

// Server represents the HTTP API server
type Server struct {
	addr       string
	apiKey     string
	core       *sieveengine.Core
	dispatcher *delivery.Dispatcher
	server     *http.Server
}

// ServerOptions holds configuration options for the HTTP API server
type ServerOptions struct {
	Addr   string
	APIKey string
}

// New creates a new HTTP API server around the engine configuration.
// dispatcher backs the apply mode of the evaluate endpoint and may be
// nil; evaluation is then dry-run only.
func New(core *sieveengine.Core, dispatcher *delivery.Dispatcher, options ServerOptions) (*Server, error) {
	if options.APIKey == "" {
		return nil, fmt.Errorf("API key is required for HTTP API server")
	}

	return &Server{
		addr:       options.Addr,
		apiKey:     options.APIKey,
		core:       core,
		dispatcher: dispatcher,
	}, nil
}

// Start runs the HTTP API server until ctx is cancelled, reporting
// startup failures on errChan.
func Start(ctx context.Context, core *sieveengine.Core, dispatcher *delivery.Dispatcher, options ServerOptions, errChan chan error) {
	server, err := New(core, dispatcher, options)
	if err != nil {
		errChan <- fmt.Errorf("failed to create HTTP API server: %w", err)
		return
	}

	logger.Info("starting HTTP API server", "addr", options.Addr)
	if err := server.start(ctx); err != nil && err != http.ErrServerClosed && ctx.Err() == nil {
		errChan <- fmt.Errorf("HTTP API server failed: %w", err)
	}
}

func (s *Server) start(ctx context.Context) error {
	router := s.setupRoutes()

	s.server = &http.Server{
		Addr:    s.addr,
		Handler: router,
	}

	// Graceful shutdown
	go func() {
		<-ctx.Done()
		logger.Info("shutting down HTTP API server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			logger.Error("error shutting down HTTP API server", "error", err)
		}
	}()

	return s.server.ListenAndServe()
}

// setupRoutes configures all HTTP routes and middleware
func (s *Server) setupRoutes() *mux.Router {
	router := mux.NewRouter()

	router.Use(s.loggingMiddleware)
	router.Use(s.authMiddleware)

	v1 := router.PathPrefix("/api/v1").Subrouter()

	v1.HandleFunc("/scripts", s.handleListScripts).Methods("GET")
	v1.HandleFunc("/scripts/{name}", s.handleGetScript).Methods("GET")
	v1.HandleFunc("/scripts/validate", s.handleValidateScript).Methods("POST")
	v1.HandleFunc("/scripts/{name}/evaluate", s.handleEvaluateScript).Methods("POST")
	v1.HandleFunc("/capabilities", s.handleCapabilities).Methods("GET")
	v1.HandleFunc("/config", s.handleConfigInfo).Methods("GET")
	v1.HandleFunc("/health", s.handleHealth).Methods("GET")

	return router
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logger.Debug("HTTP API request", "method", r.Method, "path", r.URL.Path,
			"remote", r.RemoteAddr, "duration", time.Since(start))
	})
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			s.writeError(w, http.StatusUnauthorized, "Authorization header required")
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			s.writeError(w, http.StatusUnauthorized, "Authorization header must be 'Bearer <token>'")
			return
		}

		if subtle.ConstantTimeCompare([]byte(parts[1]), []byte(s.apiKey)) != 1 {
			s.writeError(w, http.StatusForbidden, "Invalid API key")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Request/Response types

type scriptInfo struct {
	Name string `json:"name"`
	Size int    `json:"size"`
}

type scriptDetail struct {
	Name   string `json:"name"`
	Size   int    `json:"size"`
	Source string `json:"source"`
}

type validateResponse struct {
	Valid bool   `json:"valid"`
	Error string `json:"error,omitempty"`
}

type configInfo struct {
	Hostname   string                    `json:"hostname"`
	FromAddr   string                    `json:"from_addr"`
	FromName   string                    `json:"from_name"`
	ReturnPath string                    `json:"return_path,omitempty"`
	Directory  string                    `json:"directory,omitempty"`
	Signers    int                       `json:"signers"`
	Extensions []string                  `json:"extensions"`
	ExtLists   []string                  `json:"ext_lists,omitempty"`
	Limits     sieveengine.RuntimeLimits `json:"limits"`
}

// Handlers

func (s *Server) handleListScripts(w http.ResponseWriter, r *http.Request) {
	scripts := make([]scriptInfo, 0, len(s.core.Scripts))
	for name, script := range s.core.Scripts {
		scripts = append(scripts, scriptInfo{Name: name, Size: len(script.Source)})
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"scripts": scripts})
}

func (s *Server) handleGetScript(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	script, ok := s.core.Scripts[name]
	if !ok {
		s.writeError(w, http.StatusNotFound, fmt.Sprintf("Script %q not found", name))
		return
	}
	s.writeJSON(w, http.StatusOK, scriptDetail{
		Name:   script.Name,
		Size:   len(script.Source),
		Source: script.Source,
	})
}

func (s *Server) handleValidateScript(w http.ResponseWriter, r *http.Request) {
	src, err := io.ReadAll(io.LimitReader(r.Body, s.core.Compiler.Limits().MaxScriptSize+1))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "Failed to read request body")
		return
	}

	if _, err := s.core.Compiler.Compile("validate", string(src)); err != nil {
		s.writeJSON(w, http.StatusOK, validateResponse{Valid: false, Error: err.Error()})
		return
	}
	s.writeJSON(w, http.StatusOK, validateResponse{Valid: true})
}

type evaluateResponse struct {
	Action     string   `json:"action"`
	Mailbox    string   `json:"mailbox,omitempty"`
	RedirectTo string   `json:"redirect_to,omitempty"`
	Flags      []string `json:"flags,omitempty"`
	Copy       bool     `json:"copy,omitempty"`
	Applied    bool     `json:"applied"`
}

// handleEvaluateScript runs a named script against a raw message posted
// in the request body. Envelope addresses come from the sender and
// recipient query parameters. With apply=true the result is also
// dispatched (redirects and vacation responses go out through the
// relay); the default is a dry run.
func (s *Server) handleEvaluateScript(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	executor, ok := s.core.Executor(name)
	if !ok {
		s.writeError(w, http.StatusNotFound, fmt.Sprintf("Script %q not found", name))
		return
	}

	sender := r.URL.Query().Get("sender")
	recipient := r.URL.Query().Get("recipient")
	if sender == "" || recipient == "" {
		s.writeError(w, http.StatusBadRequest, "sender and recipient query parameters are required")
		return
	}

	raw, err := io.ReadAll(r.Body)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "Failed to read request body")
		return
	}

	mctx, err := delivery.EvaluationContext(raw, sender, recipient)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("Failed to parse message: %v", err))
		return
	}

	result, err := executor.Evaluate(r.Context(), mctx)
	if err != nil {
		s.writeError(w, http.StatusUnprocessableEntity, fmt.Sprintf("Script execution failed: %v", err))
		return
	}

	resp := evaluateResponse{
		Action:     string(result.Action),
		Mailbox:    result.Mailbox,
		RedirectTo: result.RedirectTo,
		Flags:      result.Flags,
		Copy:       result.Copy,
	}

	if r.URL.Query().Get("apply") == "true" && s.dispatcher != nil {
		if _, err := s.dispatcher.Apply(r.Context(), result, raw, sender, recipient); err != nil {
			s.writeError(w, http.StatusBadGateway, fmt.Sprintf("Failed to apply result: %v", err))
			return
		}
		resp.Applied = true
	}

	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCapabilities(w http.ResponseWriter, r *http.Request) {
	caps := s.core.Runtime.Capabilities()
	names := make([]string, len(caps))
	for i, c := range caps {
		names[i] = string(c)
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"capabilities": names})
}

func (s *Server) handleConfigInfo(w http.ResponseWriter, r *http.Request) {
	info := configInfo{
		Hostname:   s.core.Runtime.LocalHostname(),
		FromAddr:   s.core.Identity.FromAddr,
		FromName:   s.core.Identity.FromName,
		ReturnPath: s.core.Identity.ReturnPath,
		Signers:    len(s.core.Sign),
		Extensions: s.core.Compiler.Extensions(),
		ExtLists:   s.core.Runtime.ValidExtLists(),
		Limits:     s.core.Runtime.Limits(),
	}
	if s.core.Directory != nil {
		info.Directory = s.core.Directory.Name()
	}
	s.writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"scripts": len(s.core.Scripts),
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("error encoding JSON response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
