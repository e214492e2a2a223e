package daemon

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/matheus3301/wpphub/internal/api"
	"github.com/matheus3301/wpphub/internal/bus"
	"github.com/matheus3301/wpphub/internal/config"
	"github.com/matheus3301/wpphub/internal/dispatch"
	"github.com/matheus3301/wpphub/internal/lock"
	"github.com/matheus3301/wpphub/internal/logging"
	"github.com/matheus3301/wpphub/internal/metrics"
	"github.com/matheus3301/wpphub/internal/registry"
	"github.com/matheus3301/wpphub/internal/session"
	"github.com/matheus3301/wpphub/internal/store"
	"github.com/matheus3301/wpphub/internal/tracing"
	"github.com/matheus3301/wpphub/internal/wa"
	"github.com/matheus3301/wpphub/internal/webhook"
)

const serviceName = "wpphubd"

// Params holds command-line overrides passed to the fx module. Empty fields
// fall back to the config file and its defaults.
type Params struct {
	ConfigPath string
	DataDir    string
	SocketPath string // optional override for testing
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideLock,
			provideStore,
			provideDeviceStore,
			provideDialer,
			provideBus,
			provideMetrics,
			provideTracing,
			provideRegistry,
			provideDispatcher,
			provideNotifier,
			api.NewHub,
			NewServer,
			NewMetricsServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	path := p.ConfigPath
	if path == "" {
		dir := p.DataDir
		if dir == "" {
			dir = session.BaseDir()
		}
		path = session.ConfigPath(dir)
	}
	cfg, err := config.LoadOrDefault(path)
	if err != nil {
		return nil, err
	}
	if p.DataDir != "" {
		cfg.DataDir = p.DataDir
	}
	if p.SocketPath != "" {
		cfg.Control.Socket = p.SocketPath
	}
	if cfg.Control.Socket == "" {
		cfg.Control.Socket = session.SocketPath(cfg.DataDir)
	}
	if err := session.EnsureDir(cfg.DataDir); err != nil {
		return nil, err
	}
	return cfg, nil
}

func provideLogger(cfg *config.Config) (*zap.Logger, error) {
	path := cfg.Log.File
	if path == "" {
		path = session.LogPath(cfg.DataDir)
	}
	return logging.New(path, cfg.Log.Level)
}

func provideLock(cfg *config.Config, logger *zap.Logger) (*lock.Lock, error) {
	logger.Info("acquiring data directory lock", zap.String("dir", cfg.DataDir))
	owner := lock.Holder{SocketPath: cfg.Control.Socket}
	if cfg.Metrics.Enabled {
		owner.MetricsAddr = cfg.Metrics.Listen
	}
	l, err := lock.Acquire(cfg.DataDir, owner)
	if err != nil {
		return nil, err
	}
	logger.Info("data directory lock acquired", zap.Int("pid", l.Holder().PID))
	return l, nil
}

// provideStore depends on the lock so that only the owning process migrates.
func provideStore(cfg *config.Config, _ *lock.Lock, logger *zap.Logger) (*store.DB, error) {
	dbPath := session.AppDBPath(cfg.DataDir)
	db, result, err := store.OpenMigrated(dbPath)
	if err != nil {
		return nil, err
	}
	if result.Changed() {
		logger.Info("migrations applied", zap.Uint("from", result.From), zap.Uint("to", result.To))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.To))
	}
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideDeviceStore(cfg *config.Config, db *store.DB, logger *zap.Logger) (*wa.DeviceStore, error) {
	path := session.CredentialsDBPath(cfg.DataDir)
	devices, err := wa.OpenDeviceStore(context.Background(), path, db, logging.NewWALogger(logger, "credentials"))
	if err != nil {
		return nil, err
	}
	logger.Info("credential store initialized", zap.String("path", path))
	return devices, nil
}

func provideDialer(cfg *config.Config, devices *wa.DeviceStore, logger *zap.Logger) wa.Dialer {
	return wa.NewClientDialer(devices, wa.DialerOptions{
		DeviceName:    cfg.Device.Name,
		MediaTimeout:  cfg.Dispatch.MediaTimeout,
		MaxMediaBytes: cfg.Dispatch.MaxMediaBytes,
	}, logger, logging.NewWALogger(logger, "client"))
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideMetrics() (*prometheus.Registry, *metrics.Metrics) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg, metrics.New(reg)
}

func provideTracing(cfg *config.Config, logger *zap.Logger) (tracing.Shutdown, error) {
	return tracing.Setup(context.Background(), cfg.Tracing, serviceName, logger)
}

func provideRegistry(cfg *config.Config, dialer wa.Dialer, db *store.DB, devices *wa.DeviceStore, b *bus.Bus, m *metrics.Metrics, promReg *prometheus.Registry, logger *zap.Logger) (*registry.Registry, error) {
	reg := registry.New(dialer, db, devices, b, m, logger.Named("registry"), registry.Options{
		MaxRetries:     cfg.Reconnect.MaxRetries,
		RetryDelay:     cfg.Reconnect.RetryDelay,
		SettleDelay:    cfg.Reconnect.SettleDelay,
		PairingTimeout: cfg.Pairing.Timeout,
		HistoryLimit:   cfg.Cache.HistoryLimit,
		Fresh:          registry.WaitPolicy{Interval: cfg.Readiness.Interval, Attempts: cfg.Readiness.FreshAttempts},
		Existing:       registry.WaitPolicy{Interval: cfg.Readiness.Interval, Attempts: cfg.Readiness.ExistingAttempts},
	})
	if err := promReg.Register(metrics.NewSessionCollector(reg.CountByState)); err != nil {
		return nil, err
	}
	return reg, nil
}

func provideDispatcher(cfg *config.Config, reg *registry.Registry, b *bus.Bus, m *metrics.Metrics, logger *zap.Logger) *dispatch.Dispatcher {
	return dispatch.New(reg, b, m, logger.Named("dispatch"), dispatch.Options{
		RatePerSecond: cfg.Dispatch.RatePerSecond,
		Burst:         cfg.Dispatch.Burst,
	})
}

func provideNotifier(cfg *config.Config, reg *registry.Registry, b *bus.Bus, m *metrics.Metrics, logger *zap.Logger) *webhook.Notifier {
	return webhook.New(reg, b, m, logger.Named("webhook"), webhook.Options{
		Timeout:     cfg.Webhook.Timeout,
		LogCapacity: cfg.Webhook.LogCapacity,
		QueueSize:   cfg.Webhook.QueueSize,
		Workers:     cfg.Webhook.Workers,
	})
}

type lifecycleParams struct {
	fx.In

	Lifecycle fx.Lifecycle
	Config    *config.Config
	Server    *Server
	Metrics   *MetricsServer
	Lock      *lock.Lock
	DB        *store.DB
	Devices   *wa.DeviceStore
	Registry  *registry.Registry
	Notifier  *webhook.Notifier
	Tracing   tracing.Shutdown
	Logger    *zap.Logger
}

func registerLifecycle(p lifecycleParams) {
	logger := p.Logger
	p.Lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			p.Notifier.Start(context.Background())

			if err := p.Metrics.Start(); err != nil {
				return err
			}

			// Start gRPC server in background.
			go func() {
				if err := p.Server.Start(); err != nil {
					logger.Error("gRPC server error", zap.Error(err))
				}
			}()

			if p.Config.Reconnect.RestoreOnStart {
				ids, err := p.DB.BoundSessions(ctx)
				if err != nil {
					logger.Warn("list linked sessions failed", zap.Error(err))
				} else {
					go func() {
						n := p.Registry.Restore(context.Background(), ids)
						logger.Info("sessions restored", zap.Int("restored", n), zap.Int("linked", len(ids)))
					}()
				}
			}

			logger.Info("daemon started", zap.String("socket", p.Config.Control.Socket))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			p.Server.Stop(ctx)
			p.Metrics.Stop(ctx)
			p.Registry.Close()
			p.Notifier.Stop()
			if err := p.Tracing(ctx); err != nil {
				logger.Warn("tracing shutdown failed", zap.Error(err))
			}
			if err := p.Devices.Close(); err != nil {
				logger.Warn("error closing credential store", zap.Error(err))
			}
			if err := p.DB.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := p.Lock.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			_ = logger.Sync()
			return nil
		},
	})
}
