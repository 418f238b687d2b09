// Package api serves skills, lessons, run history and verification over HTTP.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"

	"github.com/jingkaihe/skillgate/pkg/approval"
	"github.com/jingkaihe/skillgate/pkg/history"
	"github.com/jingkaihe/skillgate/pkg/knowledge"
	"github.com/jingkaihe/skillgate/pkg/logger"
	"github.com/jingkaihe/skillgate/pkg/orchestrator"
	"github.com/jingkaihe/skillgate/pkg/presenter"
	"github.com/jingkaihe/skillgate/pkg/report"
	"github.com/jingkaihe/skillgate/pkg/service"
	"github.com/jingkaihe/skillgate/pkg/skills"
	"github.com/jingkaihe/skillgate/pkg/stack"
)

// Backend is what the server needs from the service layer.
type Backend interface {
	Skills(ctx context.Context) ([]skills.Descriptor, error)
	Skill(ctx context.Context, name string) (skills.Descriptor, error)
	Instructions(ctx context.Context, name string) (string, error)
	DetectStack(dir string) (stack.Info, error)
	Lessons(target string) ([]knowledge.Lesson, error)
	Runs(ctx context.Context, opts history.ListOptions) ([]history.Run, error)
	Run(ctx context.Context, id string) (history.Run, error)
	Verify(ctx context.Context, target string, opts service.VerifyOptions) (*report.VerificationReport, error)
}

// Server represents the HTTP API server
type Server struct {
	router   *mux.Router
	backend  Backend
	config   *ServerConfig
	server   *http.Server
	verifyMu sync.Mutex
}

// ServerConfig holds the configuration for the API server
type ServerConfig struct {
	Host string
	Port int
}

// Validate validates the server configuration
func (c *ServerConfig) Validate() error {
	if c.Host == "" {
		return errors.New("host cannot be empty")
	}
	if c.Port < 1 || c.Port > 65535 {
		return errors.Errorf("port must be between 1 and 65535, got %d", c.Port)
	}
	return nil
}

// NewServer creates a new API server
func NewServer(config *ServerConfig, backend Backend) (*Server, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid server configuration")
	}
	if backend == nil {
		return nil, errors.New("server requires a backend")
	}

	s := &Server{
		router:  mux.NewRouter(),
		backend: backend,
		config:  config,
	}
	s.setupRoutes()
	return s, nil
}

// Handler returns the routed handler, mostly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/skills", s.handleListSkills).Methods("GET")
	api.HandleFunc("/skills/{name}", s.handleGetSkill).Methods("GET")
	api.HandleFunc("/skills/{name}/instructions", s.handleGetInstructions).Methods("GET")
	api.HandleFunc("/lessons", s.handleListLessons).Methods("GET")
	api.HandleFunc("/runs", s.handleListRuns).Methods("GET")
	api.HandleFunc("/runs", s.handleCreateRun).Methods("POST")
	api.HandleFunc("/runs/{id}", s.handleGetRun).Methods("GET")
	api.HandleFunc("/schema", s.handleSchema).Methods("GET")
	api.HandleFunc("/stack", s.handleStack).Methods("GET")
	// preflight requests are answered by corsMiddleware
	api.PathPrefix("/").Methods("OPTIONS").HandlerFunc(func(http.ResponseWriter, *http.Request) {})

	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.corsMiddleware)
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		logger.G(r.Context()).WithFields(map[string]any{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      rw.statusCode,
			"duration":    time.Since(start),
			"remote_addr": r.RemoteAddr,
		}).Info("HTTP request")
	})
}

// corsMiddleware adds CORS headers
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// SkillsResponse is returned by GET /api/skills. Warning is set when the
// skills directory is unavailable.
type SkillsResponse struct {
	Skills  []skills.Descriptor `json:"skills"`
	Warning string              `json:"warning,omitempty"`
}

// handleListSkills handles GET /api/skills
func (s *Server) handleListSkills(w http.ResponseWriter, r *http.Request) {
	descs, err := s.backend.Skills(r.Context())
	resp := SkillsResponse{Skills: descs}
	switch {
	case errors.Is(err, skills.ErrRegistryUnavailable):
		resp.Warning = err.Error()
	case err != nil:
		s.writeErrorResponse(w, http.StatusInternalServerError, "failed to list skills", err)
		return
	}
	if resp.Skills == nil {
		resp.Skills = []skills.Descriptor{}
	}
	s.writeJSONResponse(w, resp)
}

// handleGetSkill handles GET /api/skills/{name}
func (s *Server) handleGetSkill(w http.ResponseWriter, r *http.Request) {
	desc, err := s.backend.Skill(r.Context(), mux.Vars(r)["name"])
	if err != nil {
		s.writeErrorResponse(w, http.StatusNotFound, "skill not found", err)
		return
	}
	s.writeJSONResponse(w, desc)
}

// handleGetInstructions handles GET /api/skills/{name}/instructions
func (s *Server) handleGetInstructions(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	text, err := s.backend.Instructions(r.Context(), name)
	if err != nil {
		s.writeErrorResponse(w, http.StatusNotFound, "instructions not found", err)
		return
	}
	s.writeJSONResponse(w, map[string]string{"name": name, "instructions": text})
}

// handleListLessons handles GET /api/lessons?target=
func (s *Server) handleListLessons(w http.ResponseWriter, r *http.Request) {
	lessons, err := s.backend.Lessons(r.URL.Query().Get("target"))
	switch {
	case errors.Is(err, knowledge.ErrDocumentNotFound):
		s.writeErrorResponse(w, http.StatusNotFound, "knowledge document not found", err)
		return
	case err != nil:
		s.writeErrorResponse(w, http.StatusInternalServerError, "failed to list lessons", err)
		return
	}
	if lessons == nil {
		lessons = []knowledge.Lesson{}
	}
	s.writeJSONResponse(w, map[string]any{"lessons": lessons})
}

// handleListRuns handles GET /api/runs?limit=&status=&target=
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	opts := history.ListOptions{
		Target: query.Get("target"),
		Status: history.Status(query.Get("status")),
		Limit:  50,
	}
	if limitStr := query.Get("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil {
			opts.Limit = limit
		}
	}

	runs, err := s.backend.Runs(r.Context(), opts)
	if err != nil {
		s.writeHistoryError(w, "failed to list runs", err)
		return
	}
	if runs == nil {
		runs = []history.Run{}
	}
	s.writeJSONResponse(w, map[string]any{"runs": runs})
}

// handleGetRun handles GET /api/runs/{id}
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.backend.Run(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeHistoryError(w, "failed to get run", err)
		return
	}
	s.writeJSONResponse(w, run)
}

// RunRequest is the body of POST /api/runs.
type RunRequest struct {
	Target string   `json:"target"`
	Skills []string `json:"skills,omitempty"`
	// Record appends the approved run to the knowledge document.
	Record bool `json:"record"`
}

// handleCreateRun handles POST /api/runs. Runs are auto-approved and only
// one runs at a time.
func (s *Server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	var req RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeErrorResponse(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.Target == "" {
		s.writeErrorResponse(w, http.StatusBadRequest, "target is required", nil)
		return
	}

	if !s.verifyMu.TryLock() {
		s.writeErrorResponse(w, http.StatusConflict, "a verification run is already in progress", nil)
		return
	}
	defer s.verifyMu.Unlock()

	rep, err := s.backend.Verify(r.Context(), req.Target, service.VerifyOptions{
		Approver: approval.Auto{Source: "api"},
		Patterns: req.Skills,
		Record:   req.Record,
	})
	switch {
	case errors.Is(err, orchestrator.ErrInterrupted):
		s.writeErrorResponse(w, http.StatusServiceUnavailable, "verification run interrupted", err)
		return
	case err != nil && rep == nil:
		s.writeErrorResponse(w, http.StatusInternalServerError, "verification failed", err)
		return
	case err != nil:
		logger.G(r.Context()).WithError(err).Error("verification finished with an error")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]any{"error": err.Error(), "report": rep, "success": false})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(rep); err != nil {
		logger.G(r.Context()).WithError(err).Error("failed to encode JSON response")
	}
}

// handleSchema handles GET /api/schema
func (s *Server) handleSchema(w http.ResponseWriter, _ *http.Request) {
	s.writeJSONResponse(w, report.Schema())
}

// handleStack handles GET /api/stack?dir=
func (s *Server) handleStack(w http.ResponseWriter, r *http.Request) {
	info, err := s.backend.DetectStack(r.URL.Query().Get("dir"))
	if err != nil {
		s.writeErrorResponse(w, http.StatusBadRequest, "failed to detect stack", err)
		return
	}
	s.writeJSONResponse(w, info)
}

func (s *Server) writeHistoryError(w http.ResponseWriter, message string, err error) {
	switch {
	case errors.Is(err, service.ErrHistoryDisabled):
		s.writeErrorResponse(w, http.StatusServiceUnavailable, "run history is disabled", err)
	case errors.Is(err, history.ErrNotFound):
		s.writeErrorResponse(w, http.StatusNotFound, "run not found", err)
	default:
		s.writeErrorResponse(w, http.StatusInternalServerError, message, err)
	}
}

// writeJSONResponse writes a JSON response
func (s *Server) writeJSONResponse(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.G(context.TODO()).WithError(err).Error("failed to encode JSON response")
		http.Error(w, "internal server error", http.StatusInternalServerError)
	}
}

// writeErrorResponse writes an error response
func (s *Server) writeErrorResponse(w http.ResponseWriter, statusCode int, message string, err error) {
	response := map[string]any{
		"error":   message,
		"status":  statusCode,
		"success": false,
	}
	if err != nil {
		logger.G(context.TODO()).WithError(err).Error(message)
		response["detail"] = err.Error()
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		logger.G(context.TODO()).WithError(err).Error("failed to encode error response")
	}
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	address := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.server = &http.Server{
		Addr:              address,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	presenter.Info(fmt.Sprintf("Starting API server on http://%s", address))

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return errors.Wrap(err, "API server failed")
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return s.server.Shutdown(shutdownCtx)
}

// Stop stops the server immediately
func (s *Server) Stop() error {
	if s.server != nil {
		return s.server.Close()
	}
	return nil
}
