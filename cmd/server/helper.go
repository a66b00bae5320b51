package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/yourorg/vehicle-valuation/internal/cache"
	"github.com/yourorg/vehicle-valuation/internal/config"
	"github.com/yourorg/vehicle-valuation/internal/export"
	"github.com/yourorg/vehicle-valuation/internal/fetch"
	"github.com/yourorg/vehicle-valuation/internal/market"
	"github.com/yourorg/vehicle-valuation/internal/store"
	"github.com/yourorg/vehicle-valuation/internal/validation"
)

// setupLogging configures the logging for the application
func setupLogging() {
	logFormat := strings.ToLower(os.Getenv("LOG_FORMAT"))
	logLevel := strings.ToLower(os.Getenv("LOG_LEVEL"))

	switch logFormat {
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{})
	default:
		logrus.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}

	switch logLevel {
	case "debug":
		logrus.SetLevel(logrus.DebugLevel)
	case "warn", "warning":
		logrus.SetLevel(logrus.WarnLevel)
	case "error":
		logrus.SetLevel(logrus.ErrorLevel)
	default:
		logrus.SetLevel(logrus.InfoLevel)
	}

	logrus.Info("Logging configured")
}

type storeBackend struct {
	store store.Store
	close func()
}

// openStore connects the configured storage backend
func openStore(ctx context.Context, cfg config.Config) (storeBackend, error) {
	switch cfg.StorageBackend {
	case config.StorageMemory, "":
		logrus.Warn("Using in-memory storage; valuations are lost on restart")
		return storeBackend{store: store.NewMemoryStore(), close: func() {}}, nil

	case config.StorageMongo:
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()

		client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(cfg.MongoURI))
		if err != nil {
			return storeBackend{}, fmt.Errorf("failed to connect to mongo: %w", err)
		}
		if err := client.Ping(connectCtx, nil); err != nil {
			_ = client.Disconnect(context.Background())
			return storeBackend{}, fmt.Errorf("failed to ping mongo: %w", err)
		}

		s := store.NewMongoStore(client, cfg.MongoDatabase)
		if err := s.EnsureIndexes(connectCtx); err != nil {
			logrus.WithError(err).Warn("Failed to create mongo indexes")
		}
		logrus.WithField("database", cfg.MongoDatabase).Info("Connected to MongoDB")
		return storeBackend{store: s, close: func() {
			if err := client.Disconnect(context.Background()); err != nil {
				logrus.WithError(err).Warn("Failed to disconnect from mongo")
			}
		}}, nil

	case config.StoragePostgres:
		db, err := store.OpenPostgres(cfg.PostgresDSN)
		if err != nil {
			return storeBackend{}, fmt.Errorf("failed to connect to postgres: %w", err)
		}
		s := store.NewPostgresStore(db)
		if err := s.Migrate(ctx); err != nil {
			return storeBackend{}, fmt.Errorf("failed to migrate postgres: %w", err)
		}
		logrus.Info("Connected to PostgreSQL")
		return storeBackend{store: s, close: func() {
			if sqlDB, err := db.DB(); err == nil {
				_ = sqlDB.Close()
			}
		}}, nil

	default:
		return storeBackend{}, fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
	}
}

// buildSignalSource creates the market signal source, cached when a cache is available
func buildSignalSource(cfg config.Config) (market.Source, func(), error) {
	var (
		upstream market.Source
		cached   bool
	)

	switch cfg.SignalSource {
	case config.SignalSourceStatic, "":
		static := market.NewStaticSource()
		if cfg.SignalFile != "" {
			signals, err := market.ReadSignalFile(cfg.SignalFile)
			if err != nil {
				return nil, nil, err
			}
			opts := validation.DefaultSignalOptions()
			opts.MaxAge = cfg.SignalMaxAge
			opts.MaxTrendPercent = cfg.MaxTrendPercent
			kept := validation.FilterSignals(signals, opts, time.Now())
			static = market.NewStaticSource(kept...)

			logrus.WithFields(logrus.Fields{
				"path":    cfg.SignalFile,
				"loaded":  len(signals),
				"kept":    len(kept),
				"dropped": len(signals) - len(kept),
			}).Info("Loaded market signals")
		} else {
			logrus.Warn("No signal file configured; refinements will report missing signals")
		}
		upstream = static

	case config.SignalSourceHTTP:
		if cfg.SignalFeedURL == "" {
			return nil, nil, fmt.Errorf("signal source %q requires SIGNAL_FEED_URL", cfg.SignalSource)
		}
		upstream = fetch.NewFeedClient(cfg)
		cached = true

	default:
		return nil, nil, fmt.Errorf("unknown signal source %q", cfg.SignalSource)
	}

	if cfg.RedisAddr != "" {
		rs := cache.NewRedisStore(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		pingCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := rs.Ping(pingCtx); err != nil {
			logrus.WithError(err).Warn("Redis unreachable; signal lookups fall back to the source on cache errors")
		}
		logrus.WithField("addr", cfg.RedisAddr).Info("Signal cache backed by Redis")
		return market.NewCachedSource(upstream, rs, cfg.SignalCacheTTL), func() { _ = rs.Close() }, nil
	}

	if cached {
		return market.NewCachedSource(upstream, cache.NewMemoryStore(), cfg.SignalCacheTTL), func() {}, nil
	}
	return upstream, func() {}, nil
}

// buildExporter creates the refinement event exporter and its sinks
func buildExporter(cfg config.Config) (*export.Exporter, func(), error) {
	opts := export.Options{
		Enabled:        cfg.ExportEnabled,
		BatchSize:      cfg.ExportBatchSize,
		ExportInterval: cfg.ExportInterval,
	}
	if !cfg.ExportEnabled {
		return export.NewExporter(opts), func() {}, nil
	}

	var (
		sinks []export.Sink
		conn  *nats.Conn
	)
	if cfg.WebhookURL != "" {
		sinks = append(sinks, export.NewWebhookSink(cfg.WebhookURL, cfg.WebhookAPIKey))
	}
	if cfg.NATSURL != "" {
		var err error
		conn, err = nats.Connect(cfg.NATSURL,
			nats.Name("vehicle-valuation"),
			nats.MaxReconnects(-1),
		)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to nats: %w", err)
		}
		sinks = append(sinks, export.NewNATSSink(conn, cfg.NATSSubject))
	}
	if len(sinks) == 0 {
		logrus.Warn("Event export enabled without a webhook or NATS sink")
	}

	exporter := export.NewExporter(opts, sinks...)
	return exporter, func() {
		exporter.Stop()
		if conn != nil {
			if err := conn.Drain(); err != nil {
				conn.Close()
			}
		}
	}, nil
}
