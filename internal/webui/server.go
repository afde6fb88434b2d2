package webui

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"accentid/internal/logging"
	"accentid/internal/pipeline"
)

const (
	defaultMaxFormBytes = 64 << 10
	shutdownTimeout     = 5 * time.Second
)

// Runner executes one classification.
type Runner interface {
	Run(ctx context.Context, sourceURL string) (pipeline.Result, error)
}

// HealthFunc reports server readiness for /healthz.
type HealthFunc func(ctx context.Context) HealthReport

// Options wires a Server.
type Options struct {
	Bind           string
	Runner         Runner
	Health         HealthFunc
	MaxFormBytes   int64
	RequestTimeout time.Duration
	Logger         *slog.Logger
}

// Server hosts the form and API.
type Server struct {
	bind           string
	runner         Runner
	health         HealthFunc
	maxFormBytes   int64
	requestTimeout time.Duration
	logger         *slog.Logger
	templates      *template.Template
	router         *mux.Router

	listener net.Listener
	server   *http.Server
}

// New builds a Server; call Start to listen.
func New(opts Options) (*Server, error) {
	if opts.Runner == nil {
		return nil, errors.New("webui: runner is required")
	}
	tmpl, err := parseTemplates()
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}
	maxForm := opts.MaxFormBytes
	if maxForm <= 0 {
		maxForm = defaultMaxFormBytes
	}
	s := &Server{
		bind:           strings.TrimSpace(opts.Bind),
		runner:         opts.Runner,
		health:         opts.Health,
		maxFormBytes:   maxForm,
		requestTimeout: opts.RequestTimeout,
		logger:         logging.NewComponentLogger(opts.Logger, "web"),
		templates:      tmpl,
	}

	router := mux.NewRouter()
	router.Use(requestIDMiddleware, accessLogMiddleware(s.logger))
	router.HandleFunc("/", s.handleForm).Methods(http.MethodGet, http.MethodHead)
	router.HandleFunc("/", s.handleSubmit).Methods(http.MethodPost)
	router.HandleFunc("/api/classify", s.handleAPIClassify).Methods(http.MethodPost)
	router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	s.router = router

	// No WriteTimeout: a first request may wait for the model download.
	s.server = &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s, nil
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Start listens on the configured bind address and serves until ctx ends.
func (s *Server) Start(ctx context.Context) error {
	if s.bind == "" {
		return errors.New("webui: bind address is empty")
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("web listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("web server error", logging.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	s.logger.Info("web server listening", logging.String("address", listener.Addr().String()))
	return nil
}

// Addr returns the bound address once Start has succeeded.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop shuts the server down, waiting briefly for in-flight requests.
func (s *Server) Stop() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	_ = s.server.Shutdown(shutdownCtx)
}
