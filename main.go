package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"client-portal/internal/background"
	"client-portal/internal/config"
	"client-portal/internal/handlers"
	"client-portal/internal/mailer"
	"client-portal/internal/middleware"
	natsclient "client-portal/internal/nats"
	"client-portal/internal/realtime"
	redisclient "client-portal/internal/redis"
	"client-portal/internal/repository"
	"client-portal/internal/services"
	"client-portal/internal/storage"

	"github.com/Tesseract-Nexus/go-shared/metrics"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func main() {
	// .env is optional; real deployments use the environment and secret manager
	_ = godotenv.Load()

	// Load configuration
	cfg := config.New()

	logger := initLogger(cfg.App)
	handlers.SetLogger(logger)

	if err := cfg.Validate(); err != nil {
		logger.WithError(err).Fatal("Invalid configuration")
	}

	// Initialize database connection
	db, err := initDatabase(cfg.Database, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize database")
	}

	// Auto-migrate models
	if err := repository.Migrate(db); err != nil {
		logger.WithError(err).Fatal("Failed to migrate database")
	}

	ctx := context.Background()

	// Object storage; a missing avatar bucket is a deployment error, not something to create per request
	store, err := storage.NewProvider(ctx, cfg.Storage, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize storage")
	}
	if err := storage.EnsureBucket(ctx, store, cfg.Storage.AvatarBucket); err != nil {
		logger.WithError(err).Fatal("Avatar bucket is not available; run cmd/provision")
	}

	// Initialize Redis connection
	var redisClient *redisclient.Client
	redisClient, err = redisclient.NewClient(cfg.Redis)
	if err != nil {
		logger.WithError(err).Warn("Failed to connect to Redis; onboarding flows and sign-in links stay in process")
		redisClient = nil
	} else {
		logger.Info("Connected to Redis successfully")
	}

	// Initialize NATS connection for the change feed and domain events
	var nc *natsclient.Client
	if cfg.NATS.Enabled {
		nc, err = natsclient.NewClient(natsclient.Config{URL: cfg.NATS.URL, Name: "client-portal"}, logger)
		if err != nil {
			logger.WithError(err).Warn("Failed to connect to NATS; changes are delivered in process only")
			nc = nil
		}
	}

	// Mail delivery: providers in failover order behind a circuit breaker
	providers, err := mailer.NewProviders(cfg.Email, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize mail providers")
	}
	dispatcher := mailer.NewDispatcher(
		mailer.NewFailoverProvider(providers, mailer.FailoverConfig{MaxRetries: 2, RetryDelay: 500 * time.Millisecond}, logger),
		logger,
	)

	// Initialize repositories
	userRepo := repository.NewUserRepository(db)
	businessRepo := repository.NewBusinessRepository(db)
	invitationRepo := repository.NewInvitationRepository(db)
	sessionRepo := repository.NewSessionRepository(db)
	auditRepo := repository.NewAuditRepository(db)

	// Initialize metrics
	metricsCollector := initMetrics(gaugeSources{
		db:          db,
		redis:       redisClient,
		invitations: invitationRepo,
		sessions:    sessionRepo,
	}, logger)
	portalMetrics := services.NewMetrics(prometheus.DefaultRegisterer)

	// Realtime fan-out
	hub := realtime.NewHub(logger)
	go hub.Run()
	var bus realtime.ChangeBus
	var events services.EventPublisher
	if nc != nil {
		bus = nc
		events = nc
	}
	feed := realtime.NewFeed(hub, bus, logger)
	if err := feed.Start(); err != nil {
		logger.WithError(err).Warn("Failed to subscribe to change feed")
	}

	// One-time tokens and onboarding flows
	var linkStore services.MagicLinkStore = services.NewMemoryMagicLinkStore()
	flowTTL := time.Duration(cfg.Onboarding.FlowTTLHours) * time.Hour
	var flows services.FlowStore = services.NewMemoryFlowStore(flowTTL)
	if redisClient != nil {
		linkStore = redisClient
		flows = services.NewRedisFlowStore(redisClient, flowTTL)
	}

	// Initialize services
	auditSvc := services.NewAuditService(auditRepo, logger)
	links := services.NewMagicLinks(linkStore, cfg.App.SiteURL)
	invitationSvc := services.NewInvitationService(services.InvitationDeps{
		Invitations: invitationRepo,
		Businesses:  businessRepo,
		Links:       links,
		Mailer:      dispatcher,
		Changes:     feed,
		Events:      events,
		Audit:       auditSvc,
		Metrics:     portalMetrics,
		Expiry:      time.Duration(cfg.Invitation.ExpiryDays) * 24 * time.Hour,
		Logger:      logger,
	})
	onboardingSvc := services.NewOnboardingService(services.OnboardingDeps{
		Flows:       flows,
		Businesses:  businessRepo,
		Invitations: invitationSvc,
		Changes:     feed,
		Events:      events,
		Audit:       auditSvc,
		Metrics:     portalMetrics,
		Logger:      logger,
	})
	authSvc := services.NewAuthService(services.AuthDeps{
		Users:    userRepo,
		Sessions: sessionRepo,
		Links:    links,
		Mailer:   dispatcher,
		Tokens:   services.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.Issuer),
		Audit:    auditSvc,
		Metrics:  portalMetrics,
		Config:   cfg.Auth,
		Logger:   logger,
	})
	profileSvc := services.NewProfileService(services.ProfileDeps{
		Users:          userRepo,
		Storage:        store,
		AvatarBucket:   cfg.Storage.AvatarBucket,
		MaxAvatarBytes: cfg.Storage.MaxAvatarBytes,
		Changes:        feed,
		Audit:          auditSvc,
		Logger:         logger,
	})
	businessSvc := services.NewBusinessService(businessRepo, userRepo, feed, auditSvc, logger)

	// Scheduled maintenance
	bgRunner := background.NewRunner(invitationSvc, authSvc, cfg.Jobs, logger)
	if err := bgRunner.Start(); err != nil {
		logger.WithError(err).Fatal("Failed to start background jobs")
	}

	// Setup router
	router := setupRouter(cfg, logger, metricsCollector, handlers.Handlers{
		Auth:       handlers.NewAuthHandler(authSvc, cfg.Auth, cfg.App.SiteURL),
		Business:   handlers.NewBusinessHandler(businessSvc),
		Invitation: handlers.NewInvitationHandler(invitationSvc),
		Onboarding: handlers.NewOnboardingHandler(onboardingSvc),
		Profile:    handlers.NewProfileHandler(profileSvc, auditSvc),
		Realtime:   handlers.NewRealtimeHandler(hub, cfg.Server.AllowedOrigins),
		Health: handlers.NewHealthHandler(handlers.HealthDeps{
			DB:           db,
			Redis:        redisClient,
			NATS:         nc,
			Storage:      store,
			AvatarBucket: cfg.Storage.AvatarBucket,
		}),
		Authn:       authSvc,
		SessionName: cfg.Auth.CookieName,
	})
	if cfg.Storage.Provider == "local" {
		router.Static("/storage", cfg.Storage.LocalBasePath)
	}

	// Setup server
	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.WithField("addr", server.Addr).Info("Starting client-portal")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("Failed to start server")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")

	// Stop background jobs first
	bgRunner.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
	}

	// Explicitly close every subscription before the transports go away
	feed.Stop()
	hub.Shutdown()

	if nc != nil {
		nc.Close()
	}
	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			logger.WithError(err).Error("Error closing Redis connection")
		}
	}
	if err := store.Close(); err != nil {
		logger.WithError(err).Error("Error closing storage client")
	}
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.Close()
	}

	logger.Info("Server exited")
}

func setupRouter(cfg *config.Config, logger *logrus.Logger, metricsCollector *metrics.Metrics, h handlers.Handlers) *gin.Engine {
	if cfg.Server.GinMode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// CORS configuration
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = cfg.Server.AllowedOrigins
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Request-ID"}
	corsConfig.AllowCredentials = true

	// Global middleware
	router.Use(cors.New(corsConfig))                // CORS
	router.Use(gin.Recovery())                      // Panic recovery
	router.Use(middleware.RequestID())              // Correlation IDs
	router.Use(middleware.StructuredLogger(logger)) // Structured logging
	router.Use(metricsCollector.Middleware())       // Prometheus metrics

	// Metrics endpoint (Prometheus scraping)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	handlers.RegisterRoutes(router, h)
	return router
}

func initLogger(cfg config.AppConfig) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
	logger.SetOutput(os.Stdout)

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	return logger
}

func initDatabase(cfg config.DatabaseConfig, logger *logrus.Logger) (*gorm.DB, error) {
	// TranslateError lets repositories see duplicate keys as gorm.ErrDuplicatedKey
	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Test connection
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	logger.Info("Connected to database successfully")
	return db, nil
}

// gaugeSources are polled for the service gauges
type gaugeSources struct {
	db          *gorm.DB
	redis       *redisclient.Client
	invitations *repository.InvitationRepository
	sessions    *repository.SessionRepository
}

func initMetrics(src gaugeSources, logger *logrus.Logger) *metrics.Metrics {
	m := metrics.New(metrics.Config{
		ServiceName: "client-portal",
		Namespace:   "portal",
		Subsystem:   "api",
	})

	dbConnectionsOpen := m.RegisterGauge(
		"portal_db_connections_open",
		"Number of open database connections",
	)
	dbConnectionsInUse := m.RegisterGauge(
		"portal_db_connections_in_use",
		"Number of database connections currently in use",
	)
	pendingInvitations := m.RegisterGauge(
		"portal_invitations_pending",
		"Number of invitations waiting to be accepted",
	)
	activeSessions := m.RegisterGauge(
		"portal_sessions_active",
		"Number of unexpired sign-in sessions",
	)
	activeFlows := m.RegisterGauge(
		"portal_onboarding_flows_active",
		"Number of onboarding flows held in Redis",
	)

	// Update gauges periodically
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()

		for range ticker.C {
			sqlDB, err := src.db.DB()
			if err != nil {
				logger.WithError(err).Warn("Failed to get database instance")
				continue
			}
			stats := sqlDB.Stats()
			dbConnectionsOpen.Set(float64(stats.OpenConnections))
			dbConnectionsInUse.Set(float64(stats.InUse))

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if count, err := src.invitations.CountPending(ctx); err == nil {
				pendingInvitations.Set(float64(count))
			}
			if count, err := src.sessions.CountActive(ctx); err == nil {
				activeSessions.Set(float64(count))
			}
			if src.redis != nil {
				if count, err := src.redis.CountFlows(ctx); err == nil {
					activeFlows.Set(float64(count))
				}
			}
			cancel()
		}
	}()

	logger.Info("Metrics initialized successfully")
	return m
}
