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
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/noah-isme/student-portal-api/internal/handler"
	"github.com/noah-isme/student-portal-api/internal/repository"
	"github.com/noah-isme/student-portal-api/internal/service"
	"github.com/noah-isme/student-portal-api/pkg/assistant"
	"github.com/noah-isme/student-portal-api/pkg/cache"
	"github.com/noah-isme/student-portal-api/pkg/config"
	"github.com/noah-isme/student-portal-api/pkg/database"
	"github.com/noah-isme/student-portal-api/pkg/docstore"
	"github.com/noah-isme/student-portal-api/pkg/docstore/fsstore"
	"github.com/noah-isme/student-portal-api/pkg/docstore/memstore"
	"github.com/noah-isme/student-portal-api/pkg/docstore/pgstore"
	"github.com/noah-isme/student-portal-api/pkg/jobs"
	"github.com/noah-isme/student-portal-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/student-portal-api/pkg/middleware/cors"
	"github.com/noah-isme/student-portal-api/pkg/storage"
)

// @title Student Portal API
// @version 1.0.0
// @description Calendar, attendance, presence and social backend for the student portal.
// @BasePath /api/v1
// @schemes http https
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

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer db.Close() //nolint:errcheck
	if cfg.Database.AutoMigrate {
		if err := database.Migrate(db); err != nil {
			logr.Fatal("failed to apply migrations", zap.Error(err))
		}
	}

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Fatal("failed to connect redis", zap.Error(err))
	}
	defer redisClient.Close() //nolint:errcheck

	metricsSvc := service.NewMetricsService()

	rawStore, err := openDocStore(ctx, cfg, db, logr)
	if err != nil {
		logr.Fatal("failed to open document store", zap.String("driver", cfg.DocStore.Driver), zap.Error(err))
	}
	store := repository.Instrument(rawStore, metricsSvc)
	defer store.Close() //nolint:errcheck

	queue := jobs.NewQueue("portal", jobs.QueueConfig{
		Workers:    cfg.Jobs.Workers,
		MaxRetries: cfg.Jobs.MaxRetries,
		RetryDelay: cfg.Jobs.RetryDelay,
		Logger:     logr.Named("jobs"),
		Observer:   metricsSvc,
	})

	validate := service.NewValidator()

	userRepo := repository.NewUserRepository(db)
	profileRows := repository.NewProfileRepository(db)
	profileDocs := repository.NewProfileDocumentRepository(store)
	eventRepo := repository.NewEventRepository(store)
	attendanceRepo := repository.NewAttendanceRepository(store)
	exportRepo := repository.NewExportRepository(store)
	notificationRepo := repository.NewNotificationRepository(store)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)
	presenceRepo := repository.NewPresenceRepository(redisClient)

	cacheSvc := service.NewCacheService(cacheRepo, metricsSvc, cfg.Calendar.CacheTTL, logr, cfg.Calendar.CacheEnabled)
	auditSvc := service.NewAuditService(repository.NewAuditRepository(db), logr.Named("audit"))
	authSvc := service.NewAuthService(userRepo, profileDocs, auditSvc, validate, logr, service.AuthConfigFrom(cfg.JWT))
	userSvc := service.NewUserService(userRepo, profileDocs, validate, logr)
	profileSvc := service.NewProfileService(profileDocs, profileRows, validate, logr)
	calendarSvc := service.NewCalendarService(eventRepo, cacheSvc, queue, validate, logr, cfg.Calendar.WindowPaddingDays, cfg.Calendar.CacheTTL)
	attendanceSvc := service.NewAttendanceService(attendanceRepo, profileDocs, validate, logr, metricsSvc)
	presenceSvc := service.NewPresenceService(profileDocs, profileRows, presenceRepo, service.PresenceConfig{
		HeartbeatInterval: cfg.Presence.HeartbeatInterval,
		TTL:               cfg.Presence.TTL,
	}, logr)
	notificationSvc := service.NewNotificationService(notificationRepo, profileDocs, logr)
	friendshipSvc := service.NewFriendshipService(repository.NewFriendshipRepository(store), notificationRepo, profileDocs, logr)
	chatSvc := service.NewChatService(repository.NewMessageRepository(store), profileDocs, logr)
	postSvc := service.NewPostService(repository.NewPostRepository(store), notificationRepo, logr)
	fundSvc := service.NewFundService(repository.NewFundRepository(store), validate, logr)

	files, err := storage.NewLocalStorage(cfg.Exports.StorageDir)
	if err != nil {
		logr.Fatal("failed to prepare export storage", zap.Error(err))
	}
	exportSvc := service.NewExportService(exportRepo, attendanceRepo, profileRows, files,
		storage.NewSignedURLSigner(cfg.Exports.SignedURLSecret, cfg.Exports.SignedURLTTL),
		queue, validate, logr, service.ExportConfig{
			APIPrefix:  cfg.APIPrefix,
			ResultTTL:  cfg.Exports.SignedURLTTL,
			MaxRetries: cfg.Jobs.MaxRetries,
		})

	assistantSvc := service.NewAssistantService(nil, validate, logr)
	assistantClient, err := assistant.New(ctx, assistant.Config{
		APIKey:            cfg.Assistant.APIKey,
		Model:             cfg.Assistant.Model,
		ImageModel:        cfg.Assistant.ImageModel,
		SystemInstruction: cfg.Assistant.SystemInstruction,
		Timeout:           cfg.Assistant.Timeout,
	}, logr.Named("assistant"))
	switch {
	case err == nil:
		defer assistantClient.Close() //nolint:errcheck
		assistantSvc = service.NewAssistantService(assistantClient, validate, logr)
	case errors.Is(err, assistant.ErrDisabled):
		logr.Info("assistant disabled, no API key configured")
	default:
		logr.Warn("assistant unavailable", zap.Error(err))
	}

	queue.Handle(service.JobAttendanceExport, exportSvc.Handle)
	queue.Handle(service.JobOfficialEventNotify, notificationSvc.HandleOfficialEvents)
	queue.Start(ctx)
	defer queue.Stop()

	scheduler := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)))
	if _, err := scheduler.AddFunc(cfg.Presence.SweepSchedule, func() {
		sweepCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if n, err := presenceSvc.Sweep(sweepCtx); err != nil {
			logr.Warn("presence sweep failed", zap.Error(err))
		} else if n > 0 {
			logr.Info("stale presence cleared", zap.Int("profiles", n))
		}
	}); err != nil {
		logr.Fatal("invalid presence sweep schedule", zap.String("schedule", cfg.Presence.SweepSchedule), zap.Error(err))
	}
	if _, err := scheduler.AddFunc(cfg.Exports.CleanupSchedule, exportSvc.Cleanup); err != nil {
		logr.Fatal("invalid export cleanup schedule", zap.String("schedule", cfg.Exports.CleanupSchedule), zap.Error(err))
	}
	scheduler.Start()
	defer scheduler.Stop()

	cacheCfg := service.EventCacheConfig{
		PaddingDays:    cfg.Calendar.WindowPaddingDays,
		ResubscribeMax: cfg.Calendar.ResubscribeMax,
	}
	handlers := routeHandlers{
		auth:       handler.NewAuthHandler(authSvc),
		audit:      handler.NewAuditHandler(auditSvc),
		users:      handler.NewUserHandler(userSvc),
		profiles:   handler.NewProfileHandler(profileSvc),
		calendar:   handler.NewCalendarHandler(calendarSvc),
		attendance: handler.NewAttendanceHandler(attendanceSvc, exportSvc),
		social:     handler.NewSocialHandler(friendshipSvc, notificationSvc, chatSvc, postSvc),
		funds:      handler.NewFundHandler(fundSvc),
		assistant:  handler.NewAssistantHandler(assistantSvc),
		metrics:    handler.NewMetricsHandler(metricsSvc, readinessChecks(db, redisClient)),
		ws: handler.NewWSHandler(
			func(viewerID string) handler.MonthCache {
				return service.NewEventCache(viewerID, eventRepo, cacheCfg, logr, metricsSvc)
			},
			func(userID string) handler.PresenceTracker {
				return presenceSvc.NewSession(userID)
			},
			corsmiddleware.OriginChecker(cfg.CORS.AllowedOrigins),
			metricsSvc,
			logr.Named("ws"),
		),
	}

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           newRouter(cfg, logr, authSvc, auditSvc, metricsSvc, handlers),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Error("failed to shutdown server", zap.Error(err))
		}
	}()

	logr.Info("server starting", zap.String("addr", server.Addr), zap.String("env", cfg.Env), zap.String("docstore", cfg.DocStore.Driver))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logr.Error("server failed", zap.Error(err))
	}
}

func openDocStore(ctx context.Context, cfg *config.Config, db *sqlx.DB, logr *zap.Logger) (docstore.Store, error) {
	switch cfg.DocStore.Driver {
	case config.DocStoreMemory:
		return memstore.New(), nil
	case config.DocStoreFirestore:
		return fsstore.Open(ctx, cfg.DocStore.FirestoreProjectID, cfg.DocStore.CredentialsFile, logr.Named("firestore"))
	case config.DocStorePostgres, "":
		store := pgstore.New(db, pgstore.WithChannel(cfg.DocStore.NotifyChannel), pgstore.WithLogger(logr.Named("pgstore")))
		if err := store.Listen(ctx, database.DSN(cfg.Database)); err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown document store driver %q", cfg.DocStore.Driver)
	}
}

func readinessChecks(db *sqlx.DB, client *redis.Client) map[string]handler.ReadinessCheck {
	return map[string]handler.ReadinessCheck{
		"postgres": db.PingContext,
		"redis": func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		},
	}
}
