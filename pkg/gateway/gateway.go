package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/harun/aiguide/internal/config"
	"github.com/harun/aiguide/internal/media"
	"github.com/harun/aiguide/pkg/agent"
	"github.com/harun/aiguide/pkg/session"
	"github.com/rs/zerolog"
)

const (
	defaultPushInterval   = 2 * time.Second
	defaultMaxUploadBytes = 10 << 20
	healthCheckTimeout    = 2 * time.Second
)

// Sessions is the session surface the gateway serves
type Sessions interface {
	CreateSession() string
	GetSession(id string) (*session.SessionState, bool)
	ProcessQuery(ctx context.Context, id, text string, image *agent.Attachment) (session.QueryResult, error)
	PendingNotifications(id string) ([]session.Notification, error)
	Count() int
}

// Pinger reports whether a backing store is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// Config holds server configuration
type Config struct {
	Host           string
	Port           int
	AllowedOrigins []string
	MaxUploadBytes int64
	PushInterval   time.Duration
	Image          media.Options

	RateLimitPerMinute int
	MaxConcurrent      int

	Version  string
	Sessions Sessions
	Store    Pinger // Optional, checked by /health
	Logger   zerolog.Logger
}

// ConfigFromServerConfig maps the server section of the app config
func ConfigFromServerConfig(cfg config.ServerConfig) Config {
	return Config{
		Host:           cfg.Host,
		Port:           cfg.Port,
		AllowedOrigins: cfg.AllowedOrigins,
		MaxUploadBytes: cfg.MaxUploadBytes,
		PushInterval:   cfg.PushInterval,
		Image: media.Options{
			MaxDimension: cfg.MaxImageDim,
			MaxBytes:     cfg.MaxImageBytes,
		},
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		MaxConcurrent:      cfg.MaxConcurrent,
	}
}

// Server is the HTTP gateway in front of the session registry
type Server struct {
	cfg      Config
	router   *chi.Mux
	sessions Sessions
	limiter  *RateLimiter
	clients  *ClientRegistry
	upgrader websocket.Upgrader
	logger   zerolog.Logger

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
	serveErr chan error
}

// New creates a gateway server
func New(cfg Config) (*Server, error) {
	if cfg.Sessions == nil {
		return nil, fmt.Errorf("sessions are required")
	}
	if cfg.PushInterval <= 0 {
		cfg.PushInterval = defaultPushInterval
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = defaultMaxUploadBytes
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"*"}
	}

	s := &Server{
		cfg:      cfg,
		router:   chi.NewRouter(),
		sessions: cfg.Sessions,
		limiter:  NewRateLimiter(cfg.RateLimitPerMinute, cfg.MaxConcurrent),
		clients:  NewClientRegistry(),
		logger:   cfg.Logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return originAllowed(cfg.AllowedOrigins, r.Header.Get("Origin"))
			},
		},
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s, nil
}

// Handler returns the router, for tests and embedding
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start binds the listener and serves in the background. Bind errors
// are returned directly.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server != nil {
		return fmt.Errorf("gateway already started")
	}

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	s.listener = ln
	s.server = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.serveErr = make(chan error, 1)

	s.logger.Info().
		Str("addr", ln.Addr().String()).
		Msg("Starting HTTP gateway")

	go func(srv *http.Server, errCh chan<- error) {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("HTTP gateway stopped unexpectedly")
			errCh <- err
		}
		close(errCh)
	}(s.server, s.serveErr)

	return nil
}

// Addr returns the bound address, or "" before Start
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Errors reports a serve failure after Start. The channel closes when serving ends.
func (s *Server) Errors() <-chan error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.serveErr
}

// Stop closes push connections and shuts the server down gracefully
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.server
	s.server = nil
	s.listener = nil
	s.mu.Unlock()

	if srv == nil {
		return nil
	}

	s.logger.Info().Int("push_clients", s.clients.Count()).Msg("Shutting down HTTP gateway")

	for _, client := range s.clients.GetAll() {
		client.Close()
	}

	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown gateway: %w", err)
	}

	s.logger.Info().Msg("HTTP gateway stopped")
	return nil
}

func originAllowed(allowed []string, origin string) bool {
	if origin == "" {
		return true
	}
	for _, o := range allowed {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}
