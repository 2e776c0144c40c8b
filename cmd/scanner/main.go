package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	_ "github.com/noah-isme/beacon-attendance/api/swagger"
	"github.com/noah-isme/beacon-attendance/internal/handler"
	"github.com/noah-isme/beacon-attendance/internal/models"
	"github.com/noah-isme/beacon-attendance/internal/repository"
	"github.com/noah-isme/beacon-attendance/internal/service"
	"github.com/noah-isme/beacon-attendance/pkg/beacon"
	"github.com/noah-isme/beacon-attendance/pkg/cache"
	"github.com/noah-isme/beacon-attendance/pkg/config"
	"github.com/noah-isme/beacon-attendance/pkg/database"
	"github.com/noah-isme/beacon-attendance/pkg/export"
	"github.com/noah-isme/beacon-attendance/pkg/jobs"
	"github.com/noah-isme/beacon-attendance/pkg/logger"
	"github.com/noah-isme/beacon-attendance/pkg/storage"
)

// @title Beacon Attendance Scanner API
// @version 1.0.0
// @description Local API of the classroom beacon attendance scanner.
// @BasePath /api/v1
// @schemes http
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	localDB, err := database.NewSQLite(cfg.Local.SQLitePath)
	if err != nil {
		logr.Sugar().Fatalw("failed to open local store", "path", cfg.Local.SQLitePath, "error", err)
	}
	defer localDB.Close() //nolint:errcheck

	backingDB, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to configure backing store", "error", err)
	}
	defer backingDB.Close() //nolint:errcheck
	if err := database.Ping(ctx, backingDB, 3*time.Second); err != nil {
		logr.Sugar().Warnw("backing store unreachable at startup; running offline", "error", err)
	}

	metrics := service.NewMetricsService()
	validate := validator.New()

	kv, closeKV := newKVStore(cfg, localDB, logr)
	defer closeKV()
	local := service.NewLocalStoreService(kv, metrics, logr)

	sessionRepo := repository.NewSessionRepository(backingDB)
	rosterRepo := repository.NewRosterRepository(backingDB)
	scheduleRepo := repository.NewScheduleRepository(backingDB)
	calendarRepo := repository.NewCalendarRepository(backingDB)
	queueRepo := repository.NewQueueRepository(localDB)

	syncSvc := service.NewSyncService(sessionRepo, queueRepo, rosterRepo, local, metrics, logr, service.SyncConfig{
		WriteTimeout: cfg.Sync.WriteTimeout,
		MaxRetries:   cfg.Sync.MaxRetries,
	})
	replayer := service.NewSyncReplayer(queueRepo, sessionRepo, syncSvc, metrics, logr, service.SyncReplayerConfig{
		Interval:   cfg.Sync.ReplayInterval,
		BatchSize:  cfg.Sync.BatchSize,
		MaxRetries: cfg.Sync.MaxRetries,
	})
	replayQueue := jobs.NewQueue("sync-replay", replayer.Handle, jobs.QueueConfig{Workers: cfg.Sync.Workers, Logger: logr})
	replayer.SetDispatcher(replayQueue)
	syncSvc.OnEnqueue(replayer.Trigger)

	var (
		driver    beacon.Driver
		simulated *beacon.SimulatedDriver
	)
	switch cfg.Beacon.Driver {
	case config.BeaconDriverBluetooth:
		driver = beacon.NewBluetoothDriver(cfg.Beacon.DiscoveryWindow, logr)
	default:
		simulated = beacon.NewSimulatedDriver(beacon.StateOn)
		driver = simulated
	}
	discovery := service.NewDiscoveryService(driver, cfg.Beacon.MinSignalStrength, metrics, logr)

	gate, err := newScheduleGate(cfg.Schedule)
	if err != nil {
		logr.Sugar().Fatalw("invalid schedule window", "error", err)
	}
	classData := service.NewClassDataService(rosterRepo, scheduleRepo, calendarRepo, local, cfg.Sync.WriteTimeout, logr).
		WithLocation(cfg.Schedule.Location())
	engine := service.NewScanEngine(classData, validate, service.SessionDeps{
		Discovery: discovery,
		Gate:      gate,
		Sync:      syncSvc,
		Local:     local,
		Metrics:   metrics,
		Logger:    logr,
	}, service.SessionConfig{
		Duration:         cfg.Scan.DefaultDuration,
		Debounce:         cfg.Scan.DebounceFor(cfg.Beacon.Driver),
		TickInterval:     cfg.Scan.TickInterval,
		SettleDelay:      cfg.Beacon.SettleDelay,
		StateWaitTimeout: cfg.Beacon.StateWaitTimeout,
	})
	defer engine.Close()

	archive, err := storage.NewLocalStorage(cfg.Export.Dir)
	if err != nil {
		logr.Sugar().Fatalw("failed to prepare export archive", "error", err)
	}
	exportSvc := service.NewExportService(
		archive,
		storage.NewSignedURLSigner(cfg.Export.SigningSecret, cfg.Export.TTL),
		service.ExportConfig{APIPrefix: cfg.APIPrefix, ResultTTL: cfg.Export.TTL},
		logr,
		export.NewCSVExporter(),
		export.NewPDFExporter(),
	)

	authSvc := service.NewAuthService(validate, logr, service.AuthConfig{
		Secret: cfg.JWT.Secret,
		Issuer: cfg.JWT.Issuer,
		Expiry: cfg.JWT.Expiration,
	})

	devHandler := handler.NewDevHandler(nil, authSvc, validate)
	if simulated != nil {
		devHandler = handler.NewDevHandler(simulated, authSvc, validate)
	}

	r := newRouter(cfg, logr, metrics, authSvc, routeHandlers{
		scan:       handler.NewScanHandler(engine, exportSvc, local, validate, logr),
		sync:       handler.NewSyncHandler(syncSvc, replayer, validate),
		schedule:   handler.NewScheduleHandler(classData, gate, nil, logr),
		preference: handler.NewPreferenceHandler(local, validate),
		dev:        devHandler,
		metrics: handler.NewMetricsHandler(metrics, map[string]handler.ReadinessCheck{
			"local_store": func(ctx context.Context) error { return database.Ping(ctx, localDB, 0) },
			"backing_store": func(ctx context.Context) error {
				return sessionRepo.Ping(ctx)
			},
			"beacon": func(ctx context.Context) error {
				if state := discovery.State(); !state.Ready() {
					return fmt.Errorf("adapter %s", state)
				}
				return nil
			},
		}),
	})

	replayQueue.Start(ctx)
	defer replayQueue.Stop()
	replayer.Start(ctx)
	go runExportCleanup(ctx, exportSvc, cfg.Export.CleanupInterval, logr)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env, "beacon_driver", cfg.Beacon.Driver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Warn("server shutdown", zap.Error(err))
	}
}

// newKVStore picks the key/value backend. Redis falls back to the SQLite
// store when it cannot be reached.
func newKVStore(cfg *config.Config, localDB *sqlx.DB, logr *zap.Logger) (service.KVStore, func()) {
	if cfg.Local.KVBackend == config.KVBackendRedis {
		client, err := cache.NewRedis(cfg.Redis)
		if err == nil {
			repo := repository.NewRedisKVRepository(client, "beacon:", logr)
			return repo, func() { _ = repo.Close() }
		}
		logr.Sugar().Warnw("redis unavailable; using sqlite key/value store", "error", err)
	}
	return repository.NewLocalKVRepository(localDB), func() {}
}

func newScheduleGate(cfg config.ScheduleConfig) (*service.ScheduleGate, error) {
	opening, err := models.ParseClockTime(cfg.OpeningTime)
	if err != nil {
		return nil, fmt.Errorf("opening time: %w", err)
	}
	closing, err := models.ParseClockTime(cfg.ClosingTime)
	if err != nil {
		return nil, fmt.Errorf("closing time: %w", err)
	}
	return service.NewScheduleGate(service.ScheduleGateConfig{
		Opening:  opening,
		Closing:  closing,
		Grace:    cfg.GraceWindow,
		Location: cfg.Location(),
	}), nil
}

func runExportCleanup(ctx context.Context, exports *service.ExportService, interval time.Duration, logr *zap.Logger) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := exports.Cleanup(0)
			if err != nil {
				logr.Warn("export cleanup failed", zap.Error(err))
				continue
			}
			if len(removed) > 0 {
				logr.Sugar().Infow("expired exports removed", "count", len(removed))
			}
		}
	}
}
