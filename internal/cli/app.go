package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/roach88/correlate/internal/config"
	"github.com/roach88/correlate/internal/dispatch"
	"github.com/roach88/correlate/internal/lock"
	"github.com/roach88/correlate/internal/logging"
	"github.com/roach88/correlate/internal/metrics"
	"github.com/roach88/correlate/internal/model"
	"github.com/roach88/correlate/internal/registry"
	"github.com/roach88/correlate/internal/runtime"
	"github.com/roach88/correlate/internal/store"
)

// app is the wired dispatcher shared by serve and deliver:
// registry -> router -> case consumer -> runtime -> store.
type app struct {
	cfg      config.Config
	logger   *zap.Logger
	store    *store.Store
	models   *model.Set
	runtime  *runtime.Runtime
	registry *registry.Registry
	metrics  *metrics.Metrics
	gatherer *prometheus.Registry
	tracer   *sdktrace.TracerProvider
	locker   *lock.RedisLocker
}

func loadConfig(opts *RootOptions) (config.Config, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return config.Config{}, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if opts.Verbose {
		cfg.Log.Level = "debug"
	}
	return cfg, nil
}

func newApp(ctx context.Context, cfg config.Config, rtOpts ...runtime.Option) (_ *app, err error) {
	a := &app{cfg: cfg}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	a.logger, err = logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to create logger", err)
	}

	models, errs := model.LoadDir(cfg.Models.Dir)
	if len(errs) > 0 {
		return nil, WrapExitError(ExitCommandError, "failed to load models from "+cfg.Models.Dir, errors.Join(errs...))
	}
	a.models = models
	a.logger.Info("models loaded",
		zap.String("dir", cfg.Models.Dir),
		zap.Int("events", len(models.Events)),
		zap.Int("channels", len(models.Channels)),
	)

	a.store, err = store.Open(cfg.Store.Path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open store", err)
	}

	rtOpts = append([]runtime.Option{
		runtime.WithLogger(a.logger.Named("runtime")),
		runtime.WithPolicyCacheSize(cfg.Dispatch.PolicyCacheSize),
	}, rtOpts...)
	a.runtime, err = runtime.New(a.store, rtOpts...)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to create case runtime", err)
	}

	a.gatherer = prometheus.NewRegistry()
	a.gatherer.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.metrics = metrics.New(a.gatherer)

	a.tracer = sdktrace.NewTracerProvider()
	otel.SetTracerProvider(a.tracer)

	copts := []dispatch.Option{
		dispatch.WithLogger(a.logger.Named("dispatch")),
		dispatch.WithMetrics(a.metrics),
		dispatch.WithTracerProvider(a.tracer),
		dispatch.WithMaxCorrelationParameters(cfg.Dispatch.MaxCorrelationParameters),
	}
	if cfg.Dispatch.ContinueOnFailure {
		copts = append(copts, dispatch.WithContinueOnFailure())
	}
	if cfg.Lock.Enabled {
		a.locker, err = lock.Dial(ctx, cfg.Lock.Addr, cfg.Lock.Password, cfg.Lock.DB, lock.WithTTL(cfg.Lock.TTL))
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to connect start lock", err)
		}
		copts = append(copts, dispatch.WithStartLocker(a.locker))
		a.logger.Info("start lock enabled", zap.String("addr", cfg.Lock.Addr))
	}

	router := dispatch.NewRouter()
	if err := router.Register(dispatch.NewCaseConsumer(a.runtime, copts...)); err != nil {
		return nil, fmt.Errorf("register case consumer: %w", err)
	}

	a.registry = registry.New(a.models, router, registry.WithLogger(a.logger.Named("registry")))
	return a, nil
}

// Close releases everything newApp acquired. Safe on a partially built app.
func (a *app) Close() {
	if a.tracer != nil {
		_ = a.tracer.Shutdown(context.Background())
	}
	if a.locker != nil {
		_ = a.locker.Close()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil && a.logger != nil {
			a.logger.Error("error closing store", zap.Error(err))
		}
	}
	if a.logger != nil {
		_ = a.logger.Sync()
	}
}
