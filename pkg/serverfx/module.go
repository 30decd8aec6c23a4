package serverfx

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/joeydtaylor/composr/pkg/bundlefx"
	"github.com/joeydtaylor/composr/pkg/bus"
	"github.com/joeydtaylor/composr/pkg/bus/amqpbus"
	"github.com/joeydtaylor/composr/pkg/bus/kafkabus"
	"github.com/joeydtaylor/composr/pkg/config"
	"github.com/joeydtaylor/composr/pkg/core"
	"github.com/joeydtaylor/composr/pkg/fleet"
	"github.com/joeydtaylor/composr/pkg/middleware/auth"
	"github.com/joeydtaylor/composr/pkg/middleware/logger"
	"github.com/joeydtaylor/composr/pkg/origin"
	"github.com/joeydtaylor/composr/pkg/registry"
	"github.com/joeydtaylor/composr/pkg/sandbox"
	"github.com/joeydtaylor/composr/pkg/transport/httpx"
	"go.uber.org/fx"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// ---------- Options ----------

type Options struct {
	ConfigPath string // empty means $COMPOSR_CONFIG or composr.toml
	Version    string // build version; overrides config when set
}

// Module returns the complete Fx option set for a composr node.
func Module(opts Options) fx.Option {
	return fx.Options(
		fx.Supply(opts),
		fx.Provide(provideConfig),

		// auth, loggers, metrics handler
		bundlefx.Module,

		// Router impl
		fx.Provide(httpx.NewChi),

		// Domain
		origin.Module,
		fx.Provide(provideEngine),
		registry.Module,
		fx.Provide(provideBus),
		fx.Provide(provideBootstrap),

		// Router (named "app")
		fx.Provide(fx.Annotate(provideRouter, fx.ResultTags(`name:"app"`))),

		// Lifecycle
		fx.Invoke(registerHooks),
	)
}

func provideConfig(opts Options) (config.Config, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return config.Config{}, err
	}
	if opts.Version != "" {
		cfg.Version = opts.Version
	}
	return cfg, nil
}

// ---------- Domain ----------

func provideEngine(cfg config.Config, o *origin.Client, log *zap.Logger) *sandbox.Engine {
	opts := []sandbox.Option{sandbox.WithTimeout(cfg.Timeout()), sandbox.WithLogger(log)}
	if o != nil {
		opts = append(opts, sandbox.WithDriver(o))
	}
	return sandbox.New(opts...)
}

// provideBus returns nil when bus.driver is "none". With a bootstrap, events
// are held until the initial load completes.
func provideBus(cfg config.Config, reg *registry.Registry, o *origin.Client, boot *fleet.Bootstrap, log *zap.Logger) (*bus.Manager, error) {
	var t bus.Transport
	switch cfg.Bus.Driver {
	case "amqp":
		t = amqpbus.New(cfg.Bus.AMQP, log)
	case "kafka":
		t = kafkabus.New(cfg.Bus.Kafka, log)
	case "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("bus.driver %q not supported", cfg.Bus.Driver)
	}
	if o == nil {
		return nil, errors.New("bus driver configured without an origin")
	}
	w := fleet.NewWorker(reg, o, cfg.FetchTimeout(), log)
	handle := w.Handle
	if boot != nil {
		handle = fleet.Gate(boot.Ready(), w.Handle)
	}
	return bus.NewManager(t, handle, cfg.Reconnect(), log), nil
}

// provideBootstrap returns nil when bootstrap is disabled.
func provideBootstrap(cfg config.Config, reg *registry.Registry, o *origin.Client, log *zap.Logger) *fleet.Bootstrap {
	if !cfg.Bootstrap.Enabled || o == nil {
		return nil
	}
	return fleet.NewBootstrap(reg, o, o.PageSize(), cfg.BootstrapRetry(), log)
}

// ---------- Router ----------

type routerDeps struct {
	fx.In

	Cfg      config.Config
	AuthMW   *auth.Middleware
	LogMW    *logger.Middleware
	Metrics  http.Handler `name:"metrics"`
	R        httpx.Router
	Registry *registry.Registry
	Bus      *bus.Manager
}

func provideRouter(d routerDeps) http.Handler {
	deps := core.BuildDeps{
		Auth:     d.AuthMW,
		LogMW:    d.LogMW,
		Metrics:  d.Metrics,
		Router:   d.R,
		Registry: d.Registry,
		Info:     core.Info{Service: d.Cfg.Service, Version: d.Cfg.Version, Started: time.Now().UTC()},
	}
	// keep a nil manager out of the interface
	if d.Bus != nil {
		deps.Bus = d.Bus
	}
	return core.BuildRouter(deps)
}

// ---------- Lifecycle (bootstrap + bus + HTTP server) ----------

type serverDeps struct {
	fx.In
	Cfg       config.Config
	Logger    *zap.Logger
	App       http.Handler `name:"app"`
	Bus       *bus.Manager
	Bootstrap *fleet.Bootstrap
}

func registerHooks(lc fx.Lifecycle, d serverDeps) {
	addr := d.Cfg.Server.Listen
	cert, key := d.Cfg.Server.TLSCert, d.Cfg.Server.TLSKey

	srv := &http.Server{
		Addr:              addr,
		Handler:           d.App,
		ReadHeaderTimeout: 15 * time.Second,
		ReadTimeout:       15 * time.Second,
		// handlers may run up to the execution ceiling before answering
		WriteTimeout: d.Cfg.Timeout() + 30*time.Second,
		IdleTimeout:  60 * time.Second,
		TLSConfig:    &tls.Config{MinVersion: tls.VersionTLS13, MaxVersion: tls.VersionTLS13},
	}
	useTLS := fileExists(cert) && fileExists(key)

	bgCtx, bgCancel := context.WithCancel(context.Background())
	done := make(chan struct{}, 2)
	running := 0

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			if d.Bootstrap != nil {
				running++
				go func() {
					defer func() { done <- struct{}{} }()
					if err := d.Bootstrap.Run(bgCtx); err != nil && !errors.Is(err, context.Canceled) {
						d.Logger.Error("bootstrap stopped", zap.Error(err))
					}
				}()
			}
			if d.Bus != nil {
				running++
				go func() {
					defer func() { done <- struct{}{} }()
					if err := d.Bus.Run(bgCtx); err != nil {
						d.Logger.Error("bus manager stopped", zap.Error(err))
					}
				}()
			}

			// Start HTTP.
			if useTLS {
				d.Logger.Info("server starting (TLS)",
					zap.String("service", d.Cfg.Service),
					zap.String("addr", addr),
					zap.String("cert", cert),
				)
				go func() {
					if err := srv.ListenAndServeTLS(cert, key); err != nil && !errors.Is(err, http.ErrServerClosed) {
						d.Logger.Fatal("server failed", zap.Error(err))
					}
				}()
			} else {
				d.Logger.Info("server starting (PLAINTEXT)",
					zap.String("service", d.Cfg.Service),
					zap.String("addr", addr),
				)
				go func() {
					srv.TLSConfig = nil
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						d.Logger.Fatal("server failed", zap.Error(err))
					}
				}()
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			d.Logger.Info("server stopping", zap.String("service", d.Cfg.Service))
			bgCancel()
			err := srv.Shutdown(ctx)
			for ; running > 0; running-- {
				select {
				case <-done:
				case <-ctx.Done():
					return multierr.Append(err, ctx.Err())
				}
			}
			_ = d.Logger.Sync()
			return err
		},
	})
}

// ---------- tiny helpers ----------

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}
