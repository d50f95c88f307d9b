// Package server assembles the dispatcher and its transports from configuration.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"norelock.dev/rpcdispatch/internal/auth"
	"norelock.dev/rpcdispatch/internal/config"
	"norelock.dev/rpcdispatch/internal/methods"
	"norelock.dev/rpcdispatch/internal/metrics"
	"norelock.dev/rpcdispatch/internal/ratelimit"
	"norelock.dev/rpcdispatch/internal/transport"
	"norelock.dev/rpcdispatch/internal/utils"
	"norelock.dev/rpcdispatch/pkg/jsonrpc"
)

const (
	// redisConnectTimeout bounds the initial Redis ping.
	redisConnectTimeout = 5 * time.Second

	defaultShutdownTimeout = 30 * time.Second
)

// Server is a configured dispatcher together with the transports serving it.
type Server struct {
	cfg    *config.Config
	logger *utils.Logger

	dispatcher *jsonrpc.Dispatcher
	metrics    *metrics.Service
	jwt        *auth.JWT

	memory *ratelimit.Memory
	redis  *redis.Client

	ws     *transport.WSHandler
	router http.Handler
}

// New builds a server from cfg. Only the Redis rate limit backend performs
// I/O: it is pinged before New returns.
func New(cfg *config.Config, logger *utils.Logger) (*Server, error) {
	if logger == nil {
		logger = utils.NewNopLogger()
	}
	s := &Server{cfg: cfg, logger: logger}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	s.metrics = metrics.New(registry, registry)

	var opts []jsonrpc.Option
	if cfg.Metrics.Enabled {
		opts = append(opts, jsonrpc.WithObserver(s.metrics))
	}
	dispatcher, err := NewDispatcher(cfg, logger, opts...)
	if err != nil {
		return nil, err
	}
	s.dispatcher = dispatcher

	if cfg.AuthEnabled() {
		s.jwt, err = NewJWT(cfg)
		if err != nil {
			return nil, err
		}
		dispatcher.Use(auth.ScopeMiddleware())
	}

	if cfg.RateLimit.Enabled {
		limiter, err := s.newLimiter()
		if err != nil {
			return nil, err
		}
		dispatcher.Use(ratelimit.Middleware(limiter, logger, nil))
	}

	s.router = s.newRouter()
	return s, nil
}

// NewDispatcher creates a dispatcher configured by cfg with the built-in
// methods registered and invocation logging installed.
func NewDispatcher(cfg *config.Config, logger *utils.Logger, opts ...jsonrpc.Option) (*jsonrpc.Dispatcher, error) {
	if logger == nil {
		logger = utils.NewNopLogger()
	}

	codec, err := newCodec(cfg.Dispatcher.Codec)
	if err != nil {
		return nil, err
	}

	base := []jsonrpc.Option{
		jsonrpc.WithCodec(codec),
		jsonrpc.WithLogger(logger.Named("dispatcher").Zap()),
		jsonrpc.WithSentinelKey(cfg.Dispatcher.SentinelKey),
		jsonrpc.WithBatchConcurrency(cfg.Dispatcher.BatchConcurrency),
		jsonrpc.WithMaxBatchSize(cfg.Dispatcher.MaxBatchSize),
		jsonrpc.WithMiddleware(methods.LoggingMiddleware(logger)),
	}
	d := jsonrpc.New(append(base, opts...)...)

	if err := methods.RegisterAll(d.Table(), logger); err != nil {
		return nil, fmt.Errorf("register methods: %w", err)
	}
	return d, nil
}

// NewJWT creates the token verifier and issuer configured by cfg.
func NewJWT(cfg *config.Config) (*auth.JWT, error) {
	return auth.NewJWT(auth.JWTConfig{
		Secret:   cfg.Auth.JWTSecret,
		Issuer:   cfg.Auth.Issuer,
		Audience: cfg.Auth.Audience,
		TTL:      cfg.Auth.TokenTTL,
	})
}

func newCodec(name string) (jsonrpc.Codec, error) {
	switch name {
	case "", "json":
		return jsonrpc.NewJSONCodec(), nil
	case "cbor":
		return jsonrpc.NewCBORCodec()
	default:
		return nil, fmt.Errorf("unknown codec %q", name)
	}
}

func (s *Server) newLimiter() (ratelimit.Limiter, error) {
	rl := s.cfg.RateLimit
	switch rl.Backend {
	case "redis":
		client, err := newRedisClient(s.cfg, s.logger)
		if err != nil {
			return nil, err
		}
		s.redis = client
		return ratelimit.NewRedis(client, rl.Requests, rl.Window), nil
	default:
		s.memory = ratelimit.NewMemory(rl.Requests, rl.Window)
		return s.memory, nil
	}
}

func newRedisClient(cfg *config.Config, logger *utils.Logger) (*redis.Client, error) {
	opts := &redis.Options{
		Addr:     cfg.RateLimit.Redis.Address,
		Password: cfg.RateLimit.Redis.Password,
		DB:       cfg.RateLimit.Redis.DB,
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), redisConnectTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis at %s: %w", opts.Addr, err)
	}

	logger.Info("Connected to Redis", "addr", opts.Addr, "db", opts.DB)
	return client, nil
}

func (s *Server) newRouter() http.Handler {
	rc := transport.RouterConfig{
		RPCPath: s.cfg.Server.Path,
		RPC:     transport.NewHTTPHandler(s.dispatcher, s.logger, s.cfg.Server.MaxBodyBytes),
	}

	if s.cfg.WebSocket.Enabled {
		var recorder transport.WSRecorder
		if s.cfg.Metrics.Enabled {
			recorder = s.metrics
		}
		s.ws = transport.NewWSHandler(s.dispatcher, s.logger, recorder, transport.WSOptions{
			MaxMessageSize: s.cfg.WebSocket.MaxMessageSize,
			WriteWait:      s.cfg.WebSocket.WriteWait,
			PongWait:       s.cfg.WebSocket.PongWait,
			MaxInFlight:    s.cfg.WebSocket.MaxInFlight,
		})
		rc.WSPath = s.cfg.WebSocket.Path
		rc.WS = s.ws
	}

	if s.cfg.Metrics.Enabled {
		rc.MetricsPath = s.cfg.Metrics.Path
		rc.Metrics = s.metrics.Handler()
		rc.Recorder = s.metrics
	}

	if s.cfg.Server.HealthPath != "" {
		rc.HealthPath = s.cfg.Server.HealthPath
		rc.Health = NewHealthChecker(s.dispatcher, s.redis, s.cfg.Environment, s.logger)
	}

	if cors := s.cfg.Server.CORS; len(cors.AllowedOrigins) > 0 {
		rc.CORS = &transport.CORSConfig{
			AllowedOrigins:   cors.AllowedOrigins,
			AllowCredentials: cors.AllowCredentials,
			MaxAge:           cors.MaxAge,
		}
	}

	if s.jwt != nil {
		rc.Auth = auth.RequireBearer(s.jwt, s.logger)
	}

	return transport.NewRouter(rc, s.logger)
}

// Dispatcher returns the configured dispatcher.
func (s *Server) Dispatcher() *jsonrpc.Dispatcher {
	return s.dispatcher
}

// Handler returns the HTTP handler serving every configured endpoint.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves HTTP on the configured address until ctx is done, then shuts
// down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr())
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.Addr(), err)
	}
	return s.Serve(ctx, ln)
}

// Serve is like Run but accepts connections on ln.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	defer s.Close()

	httpServer := &http.Server{
		Handler:      s.router,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
		IdleTimeout:  s.cfg.Server.IdleTimeout,
	}

	if s.memory != nil {
		go s.memory.CleanupLoop(ctx, s.cfg.RateLimit.Window)
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting HTTP server", "address", ln.Addr().String(), "path", s.cfg.Server.Path)
		if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down server")

	timeout := s.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = defaultShutdownTimeout
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	if s.ws != nil {
		s.ws.Close()
	}
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("HTTP server shutdown error", err)
		return fmt.Errorf("shutdown: %w", err)
	}

	s.logger.Info("Server shutdown complete")
	return nil
}

// ServeStdio serves line-delimited payloads from in to out until in is
// exhausted or ctx is done.
func (s *Server) ServeStdio(ctx context.Context, in io.Reader, out io.Writer) error {
	defer s.Close()
	return transport.NewStdio(s.dispatcher, s.logger, int(s.cfg.Server.MaxBodyBytes)).Serve(ctx, in, out)
}

// Close releases the Redis connection, if any.
func (s *Server) Close() error {
	if s.redis == nil {
		return nil
	}
	err := s.redis.Close()
	s.redis = nil
	if err != nil {
		s.logger.Error("Failed to close Redis connection", err)
		return err
	}
	return nil
}
