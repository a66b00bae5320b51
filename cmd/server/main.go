// Package main is the entry point for the vehicle valuation service: it takes paid
// valuation requests, stores the reports and keeps them current against market signals.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/yourorg/vehicle-valuation/internal/api"
	"github.com/yourorg/vehicle-valuation/internal/circuitbreaker"
	"github.com/yourorg/vehicle-valuation/internal/config"
	"github.com/yourorg/vehicle-valuation/internal/metrics"
	"github.com/yourorg/vehicle-valuation/internal/model"
	"github.com/yourorg/vehicle-valuation/internal/otel"
	"github.com/yourorg/vehicle-valuation/internal/pipeline"
	"github.com/yourorg/vehicle-valuation/internal/random"
	"github.com/yourorg/vehicle-valuation/internal/refine"
	"github.com/yourorg/vehicle-valuation/internal/security"
	"github.com/yourorg/vehicle-valuation/internal/service"
	"github.com/yourorg/vehicle-valuation/internal/validation"
)

// main is the entry point for the application
func main() {
	setupLogging()

	cfg, err := config.LoadFile(os.Getenv("CONFIG_FILE"))
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}

	if err := run(cfg); err != nil {
		logrus.Fatalf("Server failed: %v", err)
	}
}

// run wires every component, serves until SIGINT or SIGTERM, then shuts down
func run(cfg config.Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracer := otel.InitTracer(cfg)
	defer shutdownTracer()

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		return err
	}

	backend, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer backend.close()

	source, closeSource, err := buildSignalSource(cfg)
	if err != nil {
		return err
	}
	defer closeSource()

	exporter, closeExporter, err := buildExporter(cfg)
	if err != nil {
		return err
	}
	defer closeExporter()

	signer, err := security.NewSigner(security.Options{
		Enabled:           cfg.SigningEnabled,
		SignatureValidity: cfg.SignatureValidity,
		PrivateKeyHex:     cfg.SigningKey,
	})
	if err != nil {
		return err
	}

	p := pipeline.New(random.NewSeeded(cfg.RandomSeed), time.Now)
	svc := service.New(p, backend.store, service.WithSigner(signer))

	signalOpts := validation.DefaultSignalOptions()
	signalOpts.MaxTrendPercent = cfg.MaxTrendPercent

	refineOpts := []refine.Option{
		refine.WithEvents(exporter),
		refine.WithSignalValidation(signalOpts),
		refine.WithStalenessWindow(cfg.StalenessWindow),
	}
	apiOpts := []api.Option{api.WithExporter(exporter)}

	if cfg.GuardEnabled {
		guard := circuitbreaker.New(circuitbreaker.Thresholds{
			MaxTrendPercent: cfg.MaxTrendPercent,
			MaxPriceChange:  cfg.MaxPriceChange,
		}).
			WithResetDelay(cfg.GuardResetDelay).
			WithSuccessThreshold(cfg.GuardSuccessThreshold).
			WithTripCallback(func(reason string, sig model.MarketSignal) {
				logrus.WithFields(logrus.Fields{
					"reason": reason,
					"signal": sig.Key(),
				}).Warn("Signal guard tripped")
			})
		refineOpts = append(refineOpts, refine.WithGuard(guard))
		apiOpts = append(apiOpts, api.WithGuard(guard))
	}

	refiner := refine.New(backend.store, source, refineOpts...)

	if cfg.SchedulerEnabled {
		scheduler, err := refine.NewScheduler(ctx, refiner, cfg.RefineCronSpec, time.Local)
		if err != nil {
			return err
		}
		scheduler.Start()
		defer scheduler.Stop()
		apiOpts = append(apiOpts, api.WithScheduler(scheduler))
	}

	srv := api.New(svc, refiner, api.Options{
		RequestTimeout: cfg.RequestTimeout,
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
	}, apiOpts...)

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      srv.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	logrus.WithFields(logrus.Fields{
		"port":             cfg.Port,
		"storage":          cfg.StorageBackend,
		"signal_source":    cfg.SignalSource,
		"signal_guard":     cfg.GuardEnabled,
		"scheduler":        cfg.SchedulerEnabled,
		"export":           cfg.ExportEnabled,
		"signing":          signer.Enabled(),
		"staleness_window": cfg.StalenessWindow.String(),
	}).Info("Server initialized")

	errCh := make(chan error, 1)
	go func() {
		logrus.Infof("Server starting on port %s", cfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		return err
	}

	logrus.Info("Server shutting down...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}
	cancel()

	logrus.Info("Server stopped")
	return nil
}
