package http

import (
	"context"
	"crypto/tls"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fortunamind/persistgate/internal/service"
)

// Transport is the inbound adapter that serves the gateway over HTTP.
type Transport struct {
	gateway        *service.GatewayService
	server         *http.Server
	addr           string
	allowedOrigins []string
	certFile       string
	keyFile        string
	logger         *slog.Logger
	metrics        *Metrics
	userGauge      func() int
	stopGauge      chan struct{}
	stopOnce       sync.Once
}

// Option is a functional option for configuring Transport.
type Option func(*Transport)

// WithAddr sets the listen address for the HTTP server.
// Default is "127.0.0.1:8080" (localhost only).
func WithAddr(addr string) Option {
	return func(t *Transport) {
		t.addr = addr
	}
}

// WithTLS enables TLS with the provided certificate and key files.
// If not set, the server runs without TLS (plain HTTP).
func WithTLS(certFile, keyFile string) Option {
	return func(t *Transport) {
		t.certFile = certFile
		t.keyFile = keyFile
	}
}

// WithAllowedOrigins sets the allowed origins for DNS rebinding protection.
// If empty, all requests with an Origin header are blocked (local-only mode).
func WithAllowedOrigins(origins []string) Option {
	return func(t *Transport) {
		t.allowedOrigins = origins
	}
}

// WithLogger sets the logger for the HTTP transport.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Transport) {
		t.logger = logger
	}
}

// WithUserGauge supplies the tracked-user count sampled into the
// persistgate_tracked_users metric.
func WithUserGauge(fn func() int) Option {
	return func(t *Transport) {
		t.userGauge = fn
	}
}

// NewTransport creates an HTTP transport adapter wrapping the gateway.
func NewTransport(gateway *service.GatewayService, opts ...Option) *Transport {
	t := &Transport{
		gateway:        gateway,
		addr:           "127.0.0.1:8080",
		allowedOrigins: []string{},
		logger:         slog.Default(),
		stopGauge:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Handler builds the full middleware chain and mux. Exposed for tests.
func (t *Transport) Handler() http.Handler {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	t.metrics = NewMetrics(reg)
	if t.userGauge != nil {
		gauge := t.userGauge
		t.metrics.TrackedUsers.Set(0)
		go func() {
			ticker := time.NewTicker(15 * time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					t.metrics.TrackedUsers.Set(float64(gauge()))
				case <-t.stopGauge:
					return
				}
			}
		}()
	}

	// Middleware order (outermost first): metrics capture the full
	// duration, then request id enrichment, then origin checks.
	var handler http.Handler = mcpHandler(t.gateway)
	handler = OriginCheckMiddleware(t.allowedOrigins)(handler)
	handler = RequestIDMiddleware(t.logger)(handler)
	handler = MetricsMiddleware(t.metrics)(handler)

	mux := http.NewServeMux()
	mux.Handle("/mcp", handler)
	mux.Handle("/health", healthHandler(t.gateway))
	mux.Handle("/status", statusHandler(t.gateway))
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	return mux
}

// Start begins accepting HTTP connections. It blocks until the context
// is cancelled or the server fails.
func (t *Transport) Start(ctx context.Context) error {
	t.server = &http.Server{
		Addr:              t.addr,
		Handler:           t.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	if t.certFile != "" && t.keyFile != "" {
		t.server.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	errCh := make(chan error, 1)
	go func() {
		var err error
		if t.certFile != "" && t.keyFile != "" {
			t.logger.Info("starting HTTPS server", "addr", t.addr)
			err = t.server.ListenAndServeTLS(t.certFile, t.keyFile)
		} else {
			t.logger.Info("starting HTTP server", "addr", t.addr)
			err = t.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		t.logger.Info("context cancelled, shutting down HTTP server")
		return t.shutdown()
	case err := <-errCh:
		return err
	}
}

// shutdown performs graceful shutdown of the HTTP server.
func (t *Transport) shutdown() error {
	t.stopBackground()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := t.server.Shutdown(ctx); err != nil {
		t.logger.Error("error during server shutdown", "error", err)
		return err
	}
	t.logger.Info("HTTP server shutdown complete")
	return nil
}

// stopBackground terminates the gauge sampler goroutine.
func (t *Transport) stopBackground() {
	t.stopOnce.Do(func() { close(t.stopGauge) })
}

// Close gracefully shuts down the transport.
func (t *Transport) Close() error {
	t.stopBackground()
	if t.server == nil {
		return nil
	}
	return t.shutdown()
}
