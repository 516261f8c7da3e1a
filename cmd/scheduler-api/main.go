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
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/noah-isme/course-scheduling-api/internal/handler"
	internalmiddleware "github.com/noah-isme/course-scheduling-api/internal/middleware"
	"github.com/noah-isme/course-scheduling-api/internal/repository"
	"github.com/noah-isme/course-scheduling-api/internal/service"
	"github.com/noah-isme/course-scheduling-api/migrations"
	"github.com/noah-isme/course-scheduling-api/pkg/cache"
	"github.com/noah-isme/course-scheduling-api/pkg/config"
	"github.com/noah-isme/course-scheduling-api/pkg/database"
	"github.com/noah-isme/course-scheduling-api/pkg/export"
	"github.com/noah-isme/course-scheduling-api/pkg/jobs"
	"github.com/noah-isme/course-scheduling-api/pkg/logger"
	"github.com/noah-isme/course-scheduling-api/pkg/mail"
	corsmiddleware "github.com/noah-isme/course-scheduling-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/course-scheduling-api/pkg/middleware/requestid"
)

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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close()

	if cfg.Database.AutoMigrate {
		if err := database.Migrate(db, migrations.FS); err != nil {
			logr.Sugar().Fatalw("failed to apply migrations", "error", err)
		}
	}

	var redisClient *redis.Client
	if cfg.Cache.Enabled {
		redisClient, err = cache.NewRedis(ctx, cfg.Redis)
		if err != nil {
			logr.Sugar().Warnw("redis unavailable, caching disabled", "error", err)
			redisClient = nil
		} else {
			defer redisClient.Close()
		}
	}

	var metrics *service.MetricsService
	if cfg.Metrics.Enabled {
		metrics = service.NewMetricsService()
	}
	cacheSvc := service.NewCacheService(
		repository.NewCacheRepository(redisClient, logr),
		metrics,
		cfg.Cache.DefaultTTL,
		cfg.Cache.KeyPrefix,
		logr,
		cfg.Cache.Enabled && redisClient != nil,
	)

	sections := repository.NewSectionRepository(db)
	subjects := repository.NewSubjectRepository(db)
	blocks := repository.NewTimeBlockRepository(db)
	resources := repository.NewResourceRepository(db)
	assignments := repository.NewAssignmentRepository(db)
	registrations := repository.NewRegistrationRepository(db)
	students := repository.NewStudentRepository(db)
	programs := repository.NewProgramRepository(db)
	permissions := repository.NewPermissionRepository(db)
	availabilityRepo := repository.NewAvailabilityRepository(db)
	constraints := repository.NewConstraintRepository(db)
	media := repository.NewMediaRepository(db)
	applications := repository.NewApplicationRepository(db)
	mailingLists := repository.NewMailingListRepository(db)

	validate := validator.New()
	settings := service.NewSettingsService(repository.NewProgramTagRepository(db), cacheSvc, validate, logr, cfg.Scheduling.NearlyFullThreshold)

	notifications := service.NewNotificationService(
		mail.NewSender(cfg.Mail.SendGridAPIKey, cfg.Mail.FromName, cfg.Mail.FromAddress, logr),
		mailingLists,
		logr,
	)
	queue := jobs.NewQueue("notifications", notifications.Handle, jobs.QueueConfig{
		Workers:    cfg.Jobs.Workers,
		BufferSize: cfg.Jobs.BufferSize,
		MaxRetries: cfg.Jobs.MaxRetries,
		RetryDelay: cfg.Jobs.RetryDelay,
		Logger:     logr,
	})
	queue.Start(context.Background())
	notifications.SetQueue(queue)

	capacity := service.NewCapacityService(resources, blocks, subjects, settings, registrations, cacheSvc, logr)
	availability := service.NewAvailabilityService(permissions, availabilityRepo, logr)
	staffing := service.NewStaffingService(db, subjects, blocks, permissions, availabilityRepo, cacheSvc, logr)

	scheduling := service.NewSchedulingService(db, sections, subjects, blocks, resources, assignments, availability, cacheSvc, metrics, logr, service.SchedulingServiceConfig{
		CollapseTolerance: cfg.Scheduling.CollapseTolerance,
		DisplayTolerance:  cfg.Scheduling.DisplayCollapseTolerance,
		StatusTTL:         cfg.Scheduling.StatusCacheTTL,
	})

	registration := service.NewRegistrationService(service.RegistrationDeps{
		DB:            db,
		Registrations: registrations,
		Students:      students,
		Programs:      programs,
		Sections:      sections,
		Subjects:      subjects,
		Meetings:      blocks,
		Constraints:   constraints,
		Permissions:   permissions,
		Applications:  applications,
		Capacity:      capacity,
		Settings:      settings,
		Lists:         notifications,
		Cache:         cacheSvc,
		Metrics:       metrics,
		Logger:        logr,
	})

	lifecycle := service.NewLifecycleService(service.LifecycleDeps{
		DB:             db,
		Sections:       sections,
		Subjects:       subjects,
		Programs:       programs,
		Roster:         registrations,
		Requests:       resources,
		Assignments:    assignments,
		Permissions:    permissions,
		Media:          media,
		Notifier:       notifications,
		Cache:          cacheSvc,
		Logger:         logr,
		AdminAddresses: cfg.Mail.AdminAddresses,
	})

	catalog := service.NewCatalogService(service.CatalogDeps{
		Subjects:    subjects,
		Sections:    sections,
		Section:     sections,
		Subject:     subjects,
		Meetings:    blocks,
		Teachers:    permissions,
		Counts:      registrations,
		Media:       media,
		Capacity:    capacity,
		Settings:    settings,
		Cache:       cacheSvc,
		CSV:         export.NewCSVExporter(),
		PDF:         export.NewPDFExporter(),
		Logger:      logr,
		DisplayTime: cfg.Scheduling.DisplayCollapseTolerance,
	})

	warmer := service.NewCatalogWarmer(catalog, cfg.Scheduling.WarmProgramIDs, cfg.Scheduling.CatalogWarmCron, logr)
	if err := warmer.Start(); err != nil {
		logr.Sugar().Fatalw("failed to start catalog warmer", "error", err)
	}

	checks := map[string]handler.ReadinessCheck{"postgres": db.PingContext}
	if redisClient != nil {
		checks["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
	}

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(internalmiddleware.Metrics(metrics))

	handler.RegisterRoutes(r, cfg.APIPrefix, handler.Handlers{
		Scheduling:   handler.NewSchedulingHandler(scheduling),
		Registration: handler.NewRegistrationHandler(registration),
		Lifecycle:    handler.NewLifecycleHandler(lifecycle),
		Catalog:      handler.NewCatalogHandler(catalog),
		Settings:     handler.NewSettingsHandler(settings),
		Staffing:     handler.NewStaffingHandler(staffing),
		Metrics:      handler.NewMetricsHandler(metrics, checks),
	})

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Error("graceful shutdown failed", zap.Error(err))
	}
	warmer.Stop()
	queue.Stop()
}
