package core

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/hashicorp/go-hclog"

	"github.com/ParleSec/KeycloakPlayground/internal/lookingglass"
	"github.com/ParleSec/KeycloakPlayground/internal/metrics"
	"github.com/ParleSec/KeycloakPlayground/internal/telemetry"
)

// Version is reported by /health.
var Version = "dev"

// Mount registers a component's routes on the root router.
type Mount func(r chi.Router)

// ServerOptions selects what a binary serves besides health and metrics.
type ServerOptions struct {
	Metrics      *metrics.Metrics
	LookingGlass *lookingglass.Engine
	Mounts       []Mount
	// Static serves every path no other route claims.
	Static http.Handler
}

// Server is the HTTP server shared by the playground binaries.
type Server struct {
	config       *Config
	logger       hclog.Logger
	metrics      *metrics.Metrics
	lookingGlass *lookingglass.Engine
	router       chi.Router
}

// NewServer creates a new server instance
func NewServer(cfg *Config, logger hclog.Logger, opts ServerOptions) *Server {
	s := &Server{
		config:       cfg,
		logger:       logger,
		metrics:      opts.Metrics,
		lookingGlass: opts.LookingGlass,
	}
	s.setupRouter(opts)
	return s
}

// Router returns the configured router
func (s *Server) Router() chi.Router {
	return s.router
}

// Handler returns the router wrapped in request tracing.
func (s *Server) Handler() http.Handler {
	return telemetry.Middleware(s.config.ServiceName)(s.router)
}

func (s *Server) setupRouter(opts ServerOptions) {
	r := chi.NewRouter()

	r.Use(Recovery(s.logger))
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(s.logger.Named("http")))
	r.Use(SecurityHeaders)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.config.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID", lookingglass.SessionHeader},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: !allowsAnyOrigin(s.config.CORSOrigins),
		MaxAge:           300,
	}))

	if s.config.RateLimit > 0 {
		r.Use(NewRateLimiter(s.config.RateLimit, time.Minute).Limit)
	}
	if s.lookingGlass != nil {
		r.Use(CaptureMiddleware(s.lookingGlass))
	}

	r.Get("/health", s.handleHealth)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	if s.lookingGlass != nil {
		r.Route("/api/lookingglass", func(r chi.Router) {
			r.Post("/decode", s.handleDecodeToken)
			r.Post("/sessions", s.handleCreateSession)
			r.Get("/sessions/{id}", s.handleGetSession)
			r.Delete("/sessions/{id}", s.handleDeleteSession)
		})
		r.Get("/ws/lookingglass/{session}", s.handleLookingGlassWS)
	}

	for _, mount := range opts.Mounts {
		mount(r)
	}

	if opts.Static != nil {
		r.Handle("/*", opts.Static)
	}

	s.router = r
}

func allowsAnyOrigin(origins []string) bool {
	for _, o := range origins {
		if o == "*" {
			return true
		}
	}
	return false
}

// HealthResponse is the /health body.
type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
	Version string `json:"version"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:  "healthy",
		Service: s.config.ServiceName,
		Version: Version,
	})
}

// DecodeRequest is the body of POST /api/lookingglass/decode.
type DecodeRequest struct {
	Token string `json:"token"`
}

func (s *Server) handleDecodeToken(w http.ResponseWriter, r *http.Request) {
	var req DecodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	decoded, err := s.lookingGlass.DecodeToken(req.Token)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, decoded)
}

type createSessionRequest struct {
	Variant string `json:"variant"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
	}

	session := s.lookingGlass.CreateSession(req.Variant)
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"session_id":  session.ID,
		"variant":     session.Variant,
		"ws_endpoint": "/ws/lookingglass/" + session.ID,
		"header":      lookingglass.SessionHeader,
	})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	session, exists := s.lookingGlass.GetSession(id)
	if !exists {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":         session.ID,
		"variant":    session.Variant,
		"created_at": session.CreatedAt,
		"events":     session.Snapshot(),
		"dropped":    session.Dropped(),
	})
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, exists := s.lookingGlass.GetSession(id); !exists {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}
	s.lookingGlass.DeleteSession(id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleLookingGlassWS(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session")
	s.lookingGlass.HandleWebSocket(w, r, sessionID)
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.config.ListenAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", s.config.ListenAddr, "base_url", s.config.BaseURL)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
