// Package api provides the HTTP REST API of the IP scanner: scan control,
// results, fetcher selection, a websocket event stream and metrics.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger/v2"

	_ "github.com/homiodev/addon-ipscanner/docs/swagger" // registers the OpenAPI document
	apihandlers "github.com/homiodev/addon-ipscanner/internal/api/handlers"
	"github.com/homiodev/addon-ipscanner/internal/api/middleware"
	"github.com/homiodev/addon-ipscanner/internal/config"
	"github.com/homiodev/addon-ipscanner/internal/logging"
	"github.com/homiodev/addon-ipscanner/internal/metrics"
	"github.com/homiodev/addon-ipscanner/internal/services"
)

// Server timeout constants.
const (
	serverShutdownTimeout = 30 * time.Second
	maxHeaderBytes        = 1 << 20
)

// Server represents the API server.
type Server struct {
	httpServer *http.Server
	router     *mux.Router
	config     *config.Config
	service    *services.ScannerService
	handlers   *apihandlers.HandlerManager
	logger     *logging.Logger
	metrics    *metrics.PrometheusMetrics

	mu       sync.Mutex
	listener net.Listener
}

// New creates a new API server over service. pm may be nil, in which case
// the process-wide metrics are served.
func New(cfg *config.Config, service *services.ScannerService, pm *metrics.PrometheusMetrics, logger *logging.Logger) (*Server, error) {
	if cfg == nil || service == nil {
		return nil, fmt.Errorf("api server requires a configuration and a scanner service")
	}
	if pm == nil {
		pm = metrics.GetGlobalMetrics()
	}
	if logger == nil {
		logger = logging.Default()
	}

	s := &Server{
		router:  mux.NewRouter(),
		config:  cfg,
		service: service,
		logger:  logger.WithComponent("api"),
		metrics: pm,
	}
	s.handlers = apihandlers.New(service, s.logger, cfg.API)

	s.setupMiddleware()
	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:           cfg.GetAPIAddress(),
		Handler:        s.corsHandler(s.router),
		ReadTimeout:    cfg.API.ReadTimeout,
		WriteTimeout:   cfg.API.WriteTimeout,
		IdleTimeout:    cfg.API.IdleTimeout,
		MaxHeaderBytes: maxHeaderBytes,
	}
	return s, nil
}

// Start serves until ctx is done or the listener fails. It stops the server
// gracefully before returning.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.httpServer.Addr, err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	s.logger.Info("Starting API server",
		"address", ln.Addr().String(),
		"read_timeout", s.httpServer.ReadTimeout,
		"write_timeout", s.httpServer.WriteTimeout)

	errChan := make(chan error, 1)
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("API server failed: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		return s.Stop()
	case err := <-errChan:
		_ = s.handlers.Close()
		return err
	}
}

// Stop gracefully stops the API server. Websocket clients are disconnected
// first since Shutdown does not track hijacked connections.
func (s *Server) Stop() error {
	s.logger.Info("Stopping API server")
	_ = s.handlers.Close()

	ctx, cancel := context.WithTimeout(context.Background(), serverShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("API server shutdown error", "error", err)
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	s.logger.Info("API server stopped successfully")
	return nil
}

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()
	metricsHandler := s.metricsHandler()

	routes := []struct {
		path    string
		method  string
		handler http.Handler
	}{
		{"/health", http.MethodGet, http.HandlerFunc(s.handlers.Health)},
		{"/status", http.MethodGet, http.HandlerFunc(s.handlers.Status)},
		{"/scans", http.MethodPost, http.HandlerFunc(s.handlers.StartScan)},
		{"/scans/stop", http.MethodPost, http.HandlerFunc(s.handlers.StopScan)},
		{"/scans/kill", http.MethodPost, http.HandlerFunc(s.handlers.KillScan)},
		{"/results", http.MethodGet, http.HandlerFunc(s.handlers.Results)},
		{"/fetchers", http.MethodGet, http.HandlerFunc(s.handlers.ListFetchers)},
		{"/fetchers", http.MethodPut, http.HandlerFunc(s.handlers.UpdateFetchers)},
		{"/ws", http.MethodGet, http.HandlerFunc(s.handlers.WebSocket)},
		{"/metrics", http.MethodGet, metricsHandler},
	}

	var paths []string
	allowed := make(map[string][]string)
	for _, rt := range routes {
		api.Handle(rt.path, rt.handler).Methods(rt.method)
		if _, ok := allowed[rt.path]; !ok {
			paths = append(paths, rt.path)
		}
		allowed[rt.path] = append(allowed[rt.path], rt.method)
	}
	// mux drops a method mismatch once a later route of the subrouter
	// matches the prefix, so each path ends in an explicit 405.
	for _, path := range paths {
		api.Handle(path, apihandlers.MethodNotAllowed(allowed[path]...))
	}

	s.router.Handle("/metrics", metricsHandler).Methods(http.MethodGet)

	s.router.PathPrefix("/swagger/").Handler(httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
		httpSwagger.DeepLinking(true),
		httpSwagger.DocExpansion("none"),
	))
	s.router.HandleFunc("/docs", s.redirectToSwagger).Methods(http.MethodGet)

	s.router.HandleFunc("/", s.indexHandler).Methods(http.MethodGet)
}

// redirectToSwagger redirects to the Swagger UI.
func (s *Server) redirectToSwagger(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "/swagger/index.html", http.StatusMovedPermanently)
}

// setupMiddleware configures middleware for the API server.
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.Recovery(s.logger))
	s.router.Use(middleware.RequestID())
	if s.config.Logging.RequestLogging {
		s.router.Use(middleware.Logging(s.logger))
	}
	s.router.Use(middleware.Metrics(s.metrics))
	s.router.Use(middleware.ContentType())
}

// corsHandler wraps the router so preflight requests are answered before
// route matching.
func (s *Server) corsHandler(next http.Handler) http.Handler {
	cors := s.config.API.CORS
	if !cors.Enabled {
		return next
	}
	return handlers.CORS(
		handlers.AllowedOrigins(cors.AllowedOrigins),
		handlers.AllowedMethods(cors.AllowedMethods),
		handlers.AllowedHeaders(cors.AllowedHeaders),
		handlers.ExposedHeaders([]string{middleware.RequestIDHeader}),
	)(next)
}

func (s *Server) metricsHandler() http.Handler {
	promHandler := promhttp.HandlerFor(s.metrics.GetRegistry(), promhttp.HandlerOpts{})
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.metrics.UpdateSystemMetrics()
		promHandler.ServeHTTP(w, r)
	})
}

// indexHandler lists the API entry points.
func (s *Server) indexHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]any{
		"service": "ipscanner",
		"version": "v1",
		"endpoints": map[string]string{
			"health":   "/api/v1/health",
			"status":   "/api/v1/status",
			"scans":    "/api/v1/scans",
			"results":  "/api/v1/results",
			"fetchers": "/api/v1/fetchers",
			"ws":       "/api/v1/ws",
			"metrics":  "/metrics",
			"docs":     "/swagger/",
		},
		"uptime":    s.metrics.GetUptime().Round(time.Second).String(),
		"timestamp": time.Now().UTC(),
	}); err != nil {
		s.logger.Error("Failed to encode index", "error", err, "request_id", middleware.GetRequestID(r))
	}
}

// GetRouter returns the configured router.
func (s *Server) GetRouter() *mux.Router {
	return s.router
}

// Handler returns the root handler, including CORS.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// GetAddress returns the bound address once started, else the configured one.
func (s *Server) GetAddress() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.httpServer.Addr
}
