// Package server exposes analysis sessions over HTTP.
package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/KaramelBytes/surveylens/internal/analysis"
	"github.com/KaramelBytes/surveylens/internal/config"
	"github.com/KaramelBytes/surveylens/internal/factor"
	"github.com/KaramelBytes/surveylens/internal/session"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Config holds server configuration
type Config struct {
	Host            string
	Port            int
	EnableMetrics   bool
	EnableCORS      bool
	MaxSessions     int
	MaxUploadBytes  int64
	Threshold       float64
	Load            analysis.LoadOptions
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// DefaultConfig returns default server configuration
func DefaultConfig() *Config {
	return &Config{
		Host:            "localhost",
		Port:            8080,
		EnableMetrics:   true,
		EnableCORS:      false,
		MaxSessions:     64,
		MaxUploadBytes:  32 << 20,
		Threshold:       factor.DefaultThreshold,
		Load:            analysis.DefaultLoadOptions(),
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    60 * time.Second,
		IdleTimeout:     120 * time.Second,
		ShutdownTimeout: 30 * time.Second,
	}
}

// ConfigFrom derives the server configuration from the global settings.
func ConfigFrom(g *config.Global) *Config {
	c := DefaultConfig()
	if g == nil {
		return c
	}
	if g.ServerHost != "" {
		c.Host = g.ServerHost
	}
	if g.ServerPort != 0 {
		c.Port = g.ServerPort
	}
	c.EnableMetrics = g.ServerMetrics
	if g.ServerMaxSessions > 0 {
		c.MaxSessions = g.ServerMaxSessions
	}
	if g.ServerMaxUploadMB > 0 {
		c.MaxUploadBytes = int64(g.ServerMaxUploadMB) << 20
	}
	c.Threshold = g.HighLoadingThreshold
	c.Load.Delimiter = config.Rune(g.Delimiter)
	c.Load.Number.DecimalSeparator = config.Rune(g.DecimalSeparator)
	c.Load.Number.ThousandsSeparator = config.Rune(g.ThousandsSeparator)
	c.Load.MaxRows = g.MaxRows
	return c
}

// metrics tracks pipeline fits served over HTTP.
type metrics struct {
	fits     *prometheus.CounterVec
	duration *prometheus.HistogramVec
	sessions prometheus.Gauge
}

func newMetrics(registerer prometheus.Registerer) *metrics {
	m := &metrics{
		fits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "surveylens_fits_total",
			Help: "Number of pipeline runs by pipeline and outcome",
		}, []string{"pipeline", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "surveylens_fit_duration_seconds",
			Help:    "Duration of pipeline runs in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"pipeline"}),
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "surveylens_sessions",
			Help: "Number of live analysis sessions",
		}),
	}
	if registerer != nil {
		registerer.MustRegister(m.fits, m.duration, m.sessions)
	}
	return m
}

func (m *metrics) observe(pipeline string, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = outcomeFor(err)
	}
	m.fits.WithLabelValues(pipeline, outcome).Inc()
	m.duration.WithLabelValues(pipeline).Observe(time.Since(start).Seconds())
}

// Server represents the surveylens HTTP server
type Server struct {
	config   *Config
	store    *session.Store
	metrics  *metrics
	gatherer prometheus.Gatherer
	router   *mux.Router
	server   *http.Server
}

// New creates a server with its own metrics registry.
func New(config *Config) *Server {
	reg := prometheus.NewRegistry()
	return NewWithRegistry(config, reg, reg)
}

// NewWithRegistry creates a server registering its metrics with registerer
// and serving /metrics from gatherer.
func NewWithRegistry(config *Config, registerer prometheus.Registerer, gatherer prometheus.Gatherer) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	s := &Server{
		config:   config,
		store:    session.NewStore(config.MaxSessions),
		metrics:  newMetrics(registerer),
		gatherer: gatherer,
	}
	s.router = s.routes()
	return s
}

// Handler returns the HTTP handler serving every route.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() *mux.Router {
	router := mux.NewRouter()

	if s.config.EnableCORS {
		router.Use(s.corsMiddleware)
	}

	api := router.PathPrefix("/api/v1").Subrouter()
	api.Use(s.loggingMiddleware)

	api.HandleFunc("/sessions", s.createSession).Methods("POST")
	api.HandleFunc("/sessions/{id}", s.getSession).Methods("GET")
	api.HandleFunc("/sessions/{id}", s.deleteSession).Methods("DELETE")

	api.HandleFunc("/sessions/{id}/conjoint/fit", s.fitConjoint).Methods("POST")
	api.HandleFunc("/sessions/{id}/conjoint/attributes", s.defineAttributes).Methods("POST")
	api.HandleFunc("/sessions/{id}/conjoint/predict", s.predict).Methods("POST")
	api.HandleFunc("/sessions/{id}/conjoint/market", s.market).Methods("GET")
	api.HandleFunc("/sessions/{id}/conjoint/market/match", s.match).Methods("POST")
	api.HandleFunc("/sessions/{id}/conjoint/market/{product}", s.product).Methods("GET")

	api.HandleFunc("/sessions/{id}/factor/adequacy", s.adequacy).Methods("GET")
	api.HandleFunc("/sessions/{id}/factor/fit", s.fitFactor).Methods("POST")

	if s.config.EnableCORS {
		api.Methods("OPTIONS").HandlerFunc(s.handleOptions)
	}

	if s.config.EnableMetrics && s.gatherer != nil {
		router.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	router.HandleFunc("/health", s.healthCheck)
	return router
}

// Start starts the HTTP server
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}

	log.Info().
		Str("addr", addr).
		Int("max_sessions", s.config.MaxSessions).
		Bool("metrics", s.config.EnableMetrics).
		Msg("Starting surveylens server")

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server failed to start")
		}
	}()
	return nil
}

// Stop stops the HTTP server gracefully
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	log.Info().Msg("Shutting down server...")
	return s.server.Shutdown(ctx)
}

// StartWithGracefulShutdown starts the server and blocks until SIGINT or
// SIGTERM, then shuts it down.
func (s *Server) StartWithGracefulShutdown() error {
	if err := s.Start(); err != nil {
		return err
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	<-sigChan
	log.Info().Msg("Received shutdown signal")

	ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	log.Info().Msg("Server shutdown complete")
	return nil
}
