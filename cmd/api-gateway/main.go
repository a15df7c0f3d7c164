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

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/CristianBACSCol/ERP-BACS/api/swagger"
	"github.com/CristianBACSCol/ERP-BACS/internal/handler"
	"github.com/CristianBACSCol/ERP-BACS/internal/middleware"
	"github.com/CristianBACSCol/ERP-BACS/internal/repository"
	"github.com/CristianBACSCol/ERP-BACS/internal/service"
	"github.com/CristianBACSCol/ERP-BACS/pkg/cache"
	"github.com/CristianBACSCol/ERP-BACS/pkg/config"
	"github.com/CristianBACSCol/ERP-BACS/pkg/database"
	"github.com/CristianBACSCol/ERP-BACS/pkg/imageproc"
	"github.com/CristianBACSCol/ERP-BACS/pkg/jobs"
	"github.com/CristianBACSCol/ERP-BACS/pkg/logger"
	corsmiddleware "github.com/CristianBACSCol/ERP-BACS/pkg/middleware/cors"
	reqidmiddleware "github.com/CristianBACSCol/ERP-BACS/pkg/middleware/requestid"
	"github.com/CristianBACSCol/ERP-BACS/pkg/storage"
)

// @title ERP BACS API
// @version 1.0.0
// @description Incident tracking, dynamic forms and PDF reports
// @BasePath /
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

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect database", zap.Error(err))
	}
	defer db.Close()

	if cfg.Database.AutoMigrate {
		if err := database.Migrate(db, logr); err != nil {
			logr.Fatal("failed to apply migrations", zap.Error(err))
		}
	}

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Warn("redis unavailable, catalog cache disabled", zap.Error(err))
		redisClient = nil
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	store, err := storage.New(cfg.Storage, logr)
	if err != nil {
		logr.Fatal("failed to init storage", zap.Error(err))
	}
	signer := storage.NewSignedURLSigner(cfg.Reports.SignedURLSecret, cfg.Reports.SignedURLTTL)

	metricsSvc := service.NewMetricsService()
	validate := validator.New()

	userRepo := repository.NewUserRepository(db)
	roleRepo := repository.NewRoleRepository(db)
	catalogRepo := repository.NewCatalogRepository(db)
	sequenceRepo := repository.NewSequenceRepository(db)
	incidentRepo := repository.NewIncidentRepository(db)
	formRepo := repository.NewFormRepository(db)
	responseRepo := repository.NewFormResponseRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)

	cacheSvc := service.NewCacheService(cacheRepo, metricsSvc, cfg.Redis.CacheTTL, logr, redisClient != nil)
	authSvc := service.NewAuthService(userRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             "erp-bacs",
	})
	userSvc := service.NewUserService(userRepo, roleRepo, validate, logr)
	roleSvc := service.NewRoleService(roleRepo, userRepo, validate, logr)
	catalogSvc := service.NewCatalogService(catalogRepo, cacheSvc, validate, logr)
	sequenceSvc := service.NewSequenceService(sequenceRepo, validate, logr)
	incidentSvc := service.NewIncidentService(incidentRepo, catalogRepo, userRepo, store, userRepo, metricsSvc, validate, logr,
		service.IncidentServiceConfig{MaxFileSize: cfg.Uploads.MaxContentLength})
	formSvc := service.NewFormService(formRepo, validate, logr, service.FormServiceConfig{MaxFields: cfg.Uploads.FormMaxFields})
	submissionSvc := service.NewSubmissionService(responseRepo, formRepo, store, userRepo, metricsSvc, logr, service.SubmissionServiceConfig{
		PhotoMaxFileSize: cfg.Uploads.PhotoMaxFileSize,
		PhotoWorkers:     cfg.Uploads.PhotoWorkers,
		Image: imageproc.Options{
			TargetSize:   cfg.Uploads.ImageTargetSize,
			MaxDimension: cfg.Uploads.ImageMaxDimension,
		},
	})

	renderer := service.NewReportRenderer(store, metricsSvc, logr, service.RendererConfig{
		Logo:              readLogo(cfg.Reports.LogoPath, logr),
		Footer:            cfg.Reports.CompanyFooter,
		Author:            "ERP BACS",
		MaxPhotosPerField: cfg.Reports.MaxPhotosPerField,
		Workers:           cfg.Reports.RenderWorkers,
	})
	reportSvc := service.NewReportService(incidentSvc, responseRepo, formRepo, renderer, store, signer, userRepo, metricsSvc, validate, logr)
	fileSvc := service.NewFileService(store, cfg.Storage.PresignTTL, logr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pdfQueue := jobs.NewQueue(service.FormPDFJobType, reportSvc.HandleJob, jobs.QueueConfig{
		Workers:    cfg.Reports.RenderWorkers,
		MaxRetries: cfg.Reports.RenderRetries,
		RetryDelay: 2 * time.Second,
		Timeout:    2 * time.Minute,
		Logger:     logr,
		OnFailure: func(job jobs.Job, err error) {
			logr.Error("form pdf render abandoned", zap.String("job_id", job.ID), zap.Error(err))
		},
	})
	reportSvc.SetQueue(pdfQueue)
	submissionSvc.SetScheduler(reportSvc)
	pdfQueue.Start(ctx)

	housekeeping := service.NewHousekeepingService(cfg.Storage.TempDir, cfg.Storage.TempTTL, metricsSvc, logr)
	if err := housekeeping.Start(cfg.Storage.CleanupSchedule); err != nil {
		logr.Warn("temp cleanup not scheduled", zap.Error(err))
	}

	if created, err := userSvc.EnsureAdministrator(ctx, cfg.Bootstrap); err != nil {
		logr.Warn("administrator bootstrap failed", zap.Error(err))
	} else if created {
		logr.Info("initial administrator created", zap.String("email", cfg.Bootstrap.Email))
	}

	r := gin.New()
	r.MaxMultipartMemory = cfg.Uploads.MaxContentLength
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))
	r.Use(gzip.Gzip(gzip.DefaultCompression,
		gzip.WithExcludedExtensions([]string{".pdf", ".xlsx", ".jpg", ".jpeg", ".png"}),
		gzip.WithExcludedPathsRegexs([]string{`.*/pdf$`, `.*/xlsx$`, `.*/downloads/.*`, `.*/files/.*`}),
	))

	metricsHandler := handler.NewMetricsHandler(metricsSvc, db)
	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)

	api := r.Group(cfg.APIPrefix, middleware.BodyLimit(cfg.Uploads.MaxContentLength))
	handler.RegisterRoutes(api, handler.Handlers{
		Auth:       handler.NewAuthHandler(authSvc),
		Users:      handler.NewUserHandler(userSvc),
		Roles:      handler.NewRoleHandler(roleSvc),
		Catalog:    handler.NewCatalogHandler(catalogSvc),
		Sequences:  handler.NewSequenceHandler(sequenceSvc),
		Incidents:  handler.NewIncidentHandler(incidentSvc),
		Forms:      handler.NewFormHandler(formSvc),
		Submission: handler.NewSubmissionHandler(submissionSvc),
		Reports:    handler.NewReportHandler(reportSvc, cfg.APIPrefix),
		Files:      handler.NewFileHandler(fileSvc),
	}, authSvc, userRepo)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Info("server starting", zap.String("addr", srv.Addr), zap.String("env", cfg.Env),
			zap.String("storage", store.Backend()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logr.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Error("server forced to shutdown", zap.Error(err))
	}

	housekeeping.Stop()
	pdfQueue.Stop()
	cancel()
	logr.Info("server exited")
}

// readLogo loads the report header image. A missing logo only drops it from the header.
func readLogo(path string, logr *zap.Logger) []byte {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		logr.Warn("report logo not loaded", zap.String("path", path), zap.Error(err))
		return nil
	}
	return data
}
