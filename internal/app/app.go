// Package app wires all Parleo subsystems into a running server.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves HTTP until the context is cancelled, and Shutdown
// tears everything down in order.
//
// For testing, inject mock implementations via functional options
// (WithService, WithDirectGenerator, etc.). When an option is not provided,
// New creates real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/parleo-app/parleo/internal/config"
	"github.com/parleo-app/parleo/internal/feedback"
	"github.com/parleo-app/parleo/internal/gateway"
	"github.com/parleo-app/parleo/internal/health"
	"github.com/parleo-app/parleo/internal/netmon"
	"github.com/parleo-app/parleo/internal/observe"
	"github.com/parleo-app/parleo/internal/transport"
	"github.com/parleo-app/parleo/internal/transport/direct"
	"github.com/parleo-app/parleo/pkg/transcribe"
)

// readHeaderTimeout bounds how long a client may take to send request
// headers. Established websocket connections are not affected.
const readHeaderTimeout = 10 * time.Second

// App owns all subsystem lifetimes and serves the Parleo conversation
// gateway.
type App struct {
	cfg *config.Config

	// Shared collaborators — initialised in New, torn down in Shutdown.
	service     transport.Service
	directGen   transport.DirectGenerator
	transcriber transcribe.Transcriber
	monitor     *netmon.Monitor
	gateway     *gateway.Handler
	registry    *prometheus.Registry
	server      *http.Server

	// listener overrides the server's listen address, mainly for tests that
	// want an ephemeral port.
	listener net.Listener

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithService injects a generation service instead of creating a client from
// config.
func WithService(s transport.Service) Option {
	return func(a *App) { a.service = s }
}

// WithDirectGenerator injects a direct fallback generator instead of creating
// one from config.
func WithDirectGenerator(g transport.DirectGenerator) Option {
	return func(a *App) { a.directGen = g }
}

// WithTranscriber injects a transcriber instead of creating one from config.
func WithTranscriber(t transcribe.Transcriber) Option {
	return func(a *App) { a.transcriber = t }
}

// WithListener makes Run serve on the given listener instead of the
// configured listen address.
func WithListener(ln net.Listener) Option {
	return func(a *App) { a.listener = ln }
}

// New creates an App by wiring all subsystems together. Use Option functions
// to inject test doubles for any collaborator.
//
// New performs all initialisation synchronously: telemetry providers, the
// generation service client, the optional direct fallback and transcriber,
// the connectivity monitor, and the HTTP server with its routes.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg}
	for _, o := range opts {
		o(a)
	}

	a.registry = prometheus.NewRegistry()
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		Registerer: a.registry,
	})
	if err != nil {
		return nil, fmt.Errorf("app: init telemetry: %w", err)
	}
	a.closers = append(a.closers, func() error {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return otelShutdown(shutdownCtx)
	})

	if err := a.initProviders(); err != nil {
		return nil, errors.Join(err, a.Shutdown(ctx))
	}

	a.initMonitor(ctx)

	if err := a.initServer(); err != nil {
		return nil, errors.Join(err, a.Shutdown(ctx))
	}

	return a, nil
}

// initProviders builds the generation service, the optional direct fallback,
// and the optional transcriber from config unless they were injected.
func (a *App) initProviders() error {
	if a.service == nil {
		var opts []transport.ClientOption
		if a.cfg.Generation.APIKey != "" {
			opts = append(opts, transport.WithAPIKey(a.cfg.Generation.APIKey))
		}
		if a.cfg.Generation.RequestTimeoutMS > 0 {
			opts = append(opts, transport.WithTimeout(time.Duration(a.cfg.Generation.RequestTimeoutMS)*time.Millisecond))
		}
		client, err := transport.NewClient(a.cfg.Generation.URL, opts...)
		if err != nil {
			return fmt.Errorf("app: create generation client: %w", err)
		}
		a.service = client
	}

	if a.directGen == nil && a.cfg.Fallback.OpenAIAPIKey != "" {
		gen, err := direct.New(a.cfg.Fallback.OpenAIAPIKey, a.cfg.Fallback.Model)
		if err != nil {
			return fmt.Errorf("app: create direct fallback: %w", err)
		}
		a.directGen = gen
		slog.Info("direct generation fallback enabled", "model", a.cfg.Fallback.Model)
	}

	if a.transcriber == nil && a.cfg.Transcription.URL != "" {
		var opts []transcribe.Option
		if a.cfg.Transcription.RequestTimeoutMS > 0 {
			opts = append(opts, transcribe.WithTimeout(time.Duration(a.cfg.Transcription.RequestTimeoutMS)*time.Millisecond))
		}
		tr, err := transcribe.New(a.cfg.Transcription.URL, opts...)
		if err != nil {
			return fmt.Errorf("app: create transcriber: %w", err)
		}
		a.transcriber = tr
		slog.Info("chunked capture fallback enabled", "url", a.cfg.Transcription.URL)
	}

	return nil
}

// initMonitor starts the server-side connectivity monitor that backs the
// readiness probe. Per-connection monitors are created by the gateway.
func (a *App) initMonitor(ctx context.Context) {
	a.monitor = netmon.New(netmon.Config{
		ProbeURL:      a.cfg.Network.ProbeURL,
		ProbeInterval: a.cfg.Network.ProbeInterval(),
		ProbeTimeout:  a.cfg.Network.ProbeTimeout(),
	})
	a.monitor.Start(ctx)
	a.closers = append(a.closers, func() error {
		a.monitor.Close()
		return nil
	})
}

// initServer builds the gateway handler and the HTTP server with all routes.
func (a *App) initServer() error {
	metrics := observe.DefaultMetrics()

	gw, err := gateway.NewHandler(gateway.Config{
		Service:     a.service,
		Direct:      a.directGen,
		Transcriber: a.transcriber,
		Pipeline:    a.cfg.Pipeline,
		Network:     a.cfg.Network,
		Metrics:     metrics,
	})
	if err != nil {
		return fmt.Errorf("app: create gateway: %w", err)
	}
	a.gateway = gw

	mux := http.NewServeMux()
	mux.Handle("GET /ws", gw)
	mux.Handle("GET /metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
	health.New(health.Config{
		Checks: []health.Checker{
			health.GenerationService(a.cfg.Generation.URL, nil),
			health.Connectivity(a.monitor),
		},
		Sessions: gw.ActiveConnections,
	}).Register(mux)

	if path := a.cfg.Feedback.Path; path != "" {
		mux.Handle("POST /feedback", feedback.Handler(feedback.NewFileStore(path)))
		slog.Info("feedback endpoint enabled", "path", path)
	}

	a.server = &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           observe.Middleware(metrics)(mux),
		ReadHeaderTimeout: readHeaderTimeout,
	}
	return nil
}

// Addr returns the address the server is listening on. Only meaningful when
// Run was started with an injected listener.
func (a *App) Addr() string {
	if a.listener != nil {
		return a.listener.Addr().String()
	}
	return a.cfg.Server.ListenAddr
}

// Run serves HTTP until ctx is cancelled or the server fails. On
// cancellation it drains in-flight requests before returning.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := a.listenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	})

	g.Go(func() error {
		<-ctx.Done()
		drainCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := a.server.Shutdown(drainCtx); err != nil {
			return fmt.Errorf("app: drain server: %w", err)
		}
		return ctx.Err()
	})

	slog.Info("app running",
		"addr", a.Addr(),
		"tls", a.cfg.Server.TLS != nil,
		"transcription", a.transcriber != nil,
		"direct_fallback", a.directGen != nil)

	return g.Wait()
}

func (a *App) listenAndServe() error {
	tlsCfg := a.cfg.Server.TLS
	if a.listener != nil {
		if tlsCfg != nil {
			return a.server.ServeTLS(a.listener, tlsCfg.CertFile, tlsCfg.KeyFile)
		}
		return a.server.Serve(a.listener)
	}
	if tlsCfg != nil {
		return a.server.ListenAndServeTLS(tlsCfg.CertFile, tlsCfg.KeyFile)
	}
	return a.server.ListenAndServe()
}

// Shutdown tears down all subsystems in reverse-init order. It respects the
// context deadline: if ctx expires before all closers finish, remaining
// closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		if a.server != nil {
			if err := a.server.Shutdown(ctx); err != nil {
				slog.Warn("server shutdown error", "err", err)
			}
		}

		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := a.closers[i](); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
