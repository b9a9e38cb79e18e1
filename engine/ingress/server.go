package ingress

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/compozy/relay/engine/executor"
	"github.com/compozy/relay/engine/slot"
	"github.com/compozy/relay/engine/webhook"
	"github.com/compozy/relay/engine/workflow"
	"github.com/compozy/relay/pkg/logger"
)

const (
	DefaultHost             = "127.0.0.1"
	DefaultPort      uint16 = 9480
	DefaultRateLimit int64  = 60
	defaultShutdown         = 10 * time.Second
)

// Config is read once at construction and never mutated afterwards.
type Config struct {
	Host            string
	Port            uint16
	Secret          []byte
	MaxBody         int64
	RateLimit       int64
	Mock            bool
	GateMode        workflow.GateMode
	ShutdownTimeout time.Duration
}

func (c *Config) setDefaults() {
	if c.Host == "" {
		c.Host = DefaultHost
	}
	if c.MaxBody <= 0 {
		c.MaxBody = webhook.DefaultMaxBody
	}
	if c.GateMode == "" {
		c.GateMode = workflow.GateModeFail
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = defaultShutdown
	}
}

func (c *Config) validate() error {
	if len(c.Secret) == 0 {
		return errors.New("webhook secret is required")
	}
	if !isLoopback(c.Host) {
		return fmt.Errorf("webhook host %q is not a loopback address", c.Host)
	}
	return c.GateMode.Validate()
}

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// Runner executes an admitted run; executor.Headless is the production one.
type Runner interface {
	Execute(ctx context.Context, path string, req workflow.RunRequest) executor.Result
}

type Option func(*Server)

// WithSlot injects the execution slot shared by every request.
func WithSlot(s *slot.Slot) Option {
	return func(srv *Server) {
		if s != nil {
			srv.slot = s
		}
	}
}

func WithLogger(l logger.Logger) Option {
	return func(srv *Server) {
		if l != nil {
			srv.log = l
		}
	}
}

// WithRunObserver is called after each run ends and its slot is released.
func WithRunObserver(fn func(executor.Result)) Option {
	return func(srv *Server) { srv.observe = fn }
}

// Server is the webhook ingress: one POST endpoint bound to loopback that
// starts at most one workflow run at a time.
type Server struct {
	cfg      Config
	resolver *workflow.Resolver
	runner   Runner
	slot     *slot.Slot
	log      logger.Logger
	observe  func(executor.Result)
	router   *gin.Engine

	runCtx    context.Context
	cancelRun context.CancelFunc
	wg        sync.WaitGroup

	mu   sync.Mutex
	http *http.Server
}

func NewServer(cfg Config, resolver *workflow.Resolver, runner Runner, opts ...Option) (*Server, error) {
	cfg.setDefaults()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid webhook config: %w", err)
	}
	if resolver == nil || runner == nil {
		return nil, errors.New("resolver and runner are required")
	}
	s := &Server{
		cfg:      cfg,
		resolver: resolver,
		runner:   runner,
		slot:     slot.New(),
		log:      logger.GetDefault(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.runCtx, s.cancelRun = context.WithCancel(context.Background())
	if err := s.buildRouter(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Server) buildRouter() error {
	router := gin.New()
	router.HandleMethodNotAllowed = true
	if err := router.SetTrustedProxies(nil); err != nil {
		return fmt.Errorf("failed to configure trusted proxies: %w", err)
	}
	router.Use(LoggerMiddleware(s.log))
	router.Use(RecoveryMiddleware())
	router.Use(RateLimitMiddleware(s.cfg.RateLimit))
	router.POST("/", s.trigger)
	router.NoMethod(methodNotAllowed)
	router.NoRoute(notFound)
	s.router = router
	return nil
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) Addr() string {
	return net.JoinHostPort(s.cfg.Host, strconv.Itoa(int(s.cfg.Port)))
}

// Busy reports whether a run currently holds the slot.
func (s *Server) Busy() bool { return s.slot.Busy() }

// Run listens on the configured loopback address until ctx is done, then
// shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.Addr())
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.Addr(), err)
	}
	return s.Serve(ctx, ln)
}

func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	s.mu.Lock()
	s.http = srv
	s.mu.Unlock()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	s.log.Info("Webhook server listening", "address", "http://"+ln.Addr().String(), "mock", s.cfg.Mock)

	select {
	case err := <-errCh:
		s.cancelRun()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("webhook server failed: %w", err)
	case <-ctx.Done():
	}
	s.log.Debug("Received shutdown signal, initiating graceful shutdown")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	return s.Shutdown(shutdownCtx)
}

// Shutdown stops accepting requests and waits for an in-flight run until
// ctx expires, at which point the run's context is canceled.
func (s *Server) Shutdown(ctx context.Context) error {
	var errs []error
	s.mu.Lock()
	srv := s.http
	s.mu.Unlock()
	if srv != nil {
		if err := srv.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("server shutdown failed: %w", err))
		}
	}
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.log.Warn("Canceling in-flight workflow run", "error", ctx.Err())
		errs = append(errs, fmt.Errorf("waiting for workflow run: %w", ctx.Err()))
	}
	s.cancelRun()
	if len(errs) == 0 {
		s.log.Info("Webhook server shutdown completed")
	}
	return errors.Join(errs...)
}
