// cmd/api/main.go

package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"

	"github.com/VictorHono/agrosense-ai-sub001/internal/adapter/location"
	"github.com/VictorHono/agrosense-ai-sub001/internal/adapter/remote"
	"github.com/VictorHono/agrosense-ai-sub001/internal/adapter/storage"
	"github.com/VictorHono/agrosense-ai-sub001/internal/adapter/storage/memory"
	"github.com/VictorHono/agrosense-ai-sub001/internal/config"
	"github.com/VictorHono/agrosense-ai-sub001/internal/domain/analysis"
	"github.com/VictorHono/agrosense-ai-sub001/internal/domain/geo"
	"github.com/VictorHono/agrosense-ai-sub001/internal/logging"
	"github.com/VictorHono/agrosense-ai-sub001/internal/observability"
	"github.com/VictorHono/agrosense-ai-sub001/internal/server"
	"github.com/VictorHono/agrosense-ai-sub001/internal/server/handlers"
	"github.com/VictorHono/agrosense-ai-sub001/internal/service/advisory"
	analysissvc "github.com/VictorHono/agrosense-ai-sub001/internal/service/analysis"
	geosvc "github.com/VictorHono/agrosense-ai-sub001/internal/service/geo"
	"github.com/VictorHono/agrosense-ai-sub001/internal/service/imaging"
)

func main() {
	// a missing .env is fine, the environment may be set directly
	_ = godotenv.Load()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := logging.New(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Setup signal handling for graceful shutdown
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	health := map[string]handlers.HealthCheck{}

	// Initialize dependencies
	var db *pgxpool.Pool
	if cfg.Database.Enabled {
		db, err = initDatabase(ctx, cfg.Database)
		if err != nil {
			log.Fatalf("Failed to initialize database: %v", err)
		}
		defer db.Close()
		health["database"] = db.Ping
	}

	var natsConn *nats.Conn
	if cfg.NATS.Enabled {
		natsConn, err = initNATS(cfg.NATS, logger)
		if err != nil {
			log.Fatalf("Failed to connect to NATS: %v", err)
		}
		defer natsConn.Close()
		health["nats"] = func(context.Context) error {
			if status := natsConn.Status(); status != nats.CONNECTED {
				return fmt.Errorf("nats connection %s", status)
			}
			return nil
		}
	}

	collector, err := observability.NewCollector(nil)
	if err != nil {
		log.Fatalf("Failed to register metrics: %v", err)
	}

	// Remote functions, primary first
	invoker := initInvoker(cfg.Functions, logger)
	engine := imaging.NewEngine(imaging.NewStdCodec(), logger, collector)

	orchestratorDeps := analysissvc.Dependencies{
		Engine:   engine,
		Invoker:  invoker,
		Observer: collector,
	}
	var history handlers.HistoryStore
	if db != nil {
		activities := storage.NewActivityStore(db)
		orchestratorDeps.Recorder = activities
		history = activities
	}
	if natsConn != nil {
		orchestratorDeps.EventBus = natsConn
	}

	orchestratorConfig := analysissvc.Config{
		MaxRetries:      cfg.Analysis.MaxRetries,
		BaseDelay:       cfg.Analysis.BaseDelay,
		EventsTopic:     cfg.Analysis.EventsTopic,
		HistoryPrivacy:  cfg.Geo.HistoryPrivacy,
		DefaultLanguage: cfg.Analysis.DefaultLanguage,
	}

	diagnosisPreset := imaging.AdaptivePreset(cfg.Imaging.DiagnosisTarget)
	diagnoses := analysissvc.NewSessions(func() *analysissvc.Orchestrator {
		return analysissvc.NewOrchestrator(analysis.KindDiagnosis, diagnosisPreset, orchestratorDeps, orchestratorConfig, logger)
	}, cfg.Analysis.SessionTTL)
	defer diagnoses.Close()

	harvestPreset := imaging.SchedulePreset(cfg.Imaging.HarvestTarget)
	harvests := analysissvc.NewSessions(func() *analysissvc.Orchestrator {
		return analysissvc.NewOrchestrator(analysis.KindHarvest, harvestPreset, orchestratorDeps, orchestratorConfig, logger)
	}, cfg.Analysis.SessionTTL)
	defer harvests.Close()

	// Initialize HTTP server
	httpServer := server.NewServer(
		cfg.Server,
		cfg.Imaging,
		server.Dependencies{
			Diagnoses: diagnoses,
			Harvests:  harvests,
			Advisory:  advisory.NewService(invoker, logger),
			History:   history,
			Devices:   deviceBinding(db, natsConn, cfg.Geo, logger),
			Positions: handlers.PositionSessionConfig{
				Resolver: geosvc.ResolverConfig{
					Options: geo.Options{
						HighAccuracy: cfg.Geo.HighAccuracy,
						Timeout:      cfg.Geo.Timeout,
						MaxCacheAge:  cfg.Geo.MaxCacheAge,
					},
					Watch: cfg.Geo.Watch,
				},
				CacheKey:  cfg.Geo.CacheKey,
				ManualKey: cfg.Geo.ManualKey,
			},
			Collector: collector,
			Health:    health,
		},
		logger,
	)

	// Start HTTP server
	go func() {
		logger.Info(ctx, "starting HTTP server",
			logging.String("host", cfg.Server.Host),
			logging.Int("port", cfg.Server.Port),
			logging.String("env", cfg.Environment))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("HTTP server error: %v", err)
		}
	}()

	// Wait for shutdown signal
	<-shutdown
	logger.Info(ctx, "shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error(ctx, "HTTP server shutdown error", logging.Err(err))
	}

	logger.Info(ctx, "shutdown complete")
}

// Initialize database connection
func initDatabase(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("unable to parse connection string: %w", err)
	}

	db, err := pgxpool.ConnectConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}

	if err := db.Ping(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	if err := storage.EnsureSchema(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

// Initialize NATS connection
func initNATS(cfg config.NATSConfig, logger logging.Logger) (*nats.Conn, error) {
	options := []nats.Option{
		nats.Name("agrosense-api"),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.ConnectTimeout),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warn(context.Background(), "NATS disconnected", logging.Err(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info(context.Background(), "NATS reconnected", logging.String("url", nc.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			logger.Info(context.Background(), "NATS connection closed")
		}),
	}

	nc, err := nats.Connect(cfg.URL, options...)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to NATS: %w", err)
	}

	return nc, nil
}

// initInvoker chains the primary functions endpoint with its fallbacks
func initInvoker(cfg config.FunctionsConfig, logger logging.Logger) *analysissvc.FallbackInvoker {
	urls := append([]string{cfg.BaseURL}, cfg.FallbackURLs...)
	providers := make([]analysissvc.Invoker, 0, len(urls))
	for _, url := range urls {
		if url == "" {
			continue
		}
		providers = append(providers, remote.NewFunctionsClient(remote.Config{
			BaseURL: url,
			APIKey:  cfg.APIKey,
			Timeout: cfg.Timeout,
			RateLimit: remote.RateLimitConfig{
				RequestsPerSecond: cfg.RateLimit,
				BurstSize:         cfg.Burst,
			},
		}, logger.With(logging.String("endpoint", url))))
	}
	return analysissvc.NewFallbackInvoker(logger, providers...)
}

// deviceBinding selects where device fixes and snapshots live. Devices
// publish over NATS and snapshots go to Postgres when those are available.
// Otherwise fixes come in over the websocket itself and snapshots are kept
// in memory for the life of the process.
func deviceBinding(db *pgxpool.Pool, nc *nats.Conn, cfg config.GeoConfig, logger logging.Logger) handlers.DeviceBinding {
	var snapshots func(device string) geo.KeyValueStore
	if db != nil {
		snapshots = storage.NewDeviceKVStore(db, 5*time.Second).ForDevice
	} else {
		var mu sync.Mutex
		stores := make(map[string]*memory.KVStore)
		snapshots = func(device string) geo.KeyValueStore {
			mu.Lock()
			defer mu.Unlock()
			kv, ok := stores[device]
			if !ok {
				kv = memory.NewKVStore()
				stores[device] = kv
			}
			return kv
		}
	}

	return func(device string) (location.Device, geo.KeyValueStore, error) {
		if nc == nil {
			return location.NewFeed(), snapshots(device), nil
		}
		provider, err := location.NewNATSProvider(nc, device, cfg.SubjectPrefix, logger)
		if err != nil {
			return nil, nil, err
		}
		return provider, snapshots(device), nil
	}
}
