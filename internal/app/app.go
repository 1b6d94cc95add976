package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"skylearn_backend/database"
	"skylearn_backend/internal/config"
	"skylearn_backend/internal/gateways"
	"skylearn_backend/internal/handlers"
	"skylearn_backend/internal/lms"
	"skylearn_backend/internal/logger"
	"skylearn_backend/internal/middleware"
	"skylearn_backend/internal/models"
	"skylearn_backend/internal/repositories"
	"skylearn_backend/internal/routes"
	"skylearn_backend/internal/services"
	"skylearn_backend/internal/workers"
)

func Run() {
	config.LoadConfig()
	cfg := config.AppConfig
	logger.Init(cfg.Server.Env)
	logger.Info("Logger initialized", "env", cfg.Server.Env)

	gormDB, err := database.ConnectGorm()
	if err != nil {
		logger.Fatal("Failed to connect to database", "error", err)
	}
	sqlDB, err := gormDB.DB()
	if err != nil {
		logger.Fatal("Failed to get *sql.DB from GORM", "error", err)
	}
	if err = sqlDB.Ping(); err != nil {
		logger.Fatal("Database unavailable", "error", err)
	}
	logger.Info("Database connected")

	if err := database.AutoMigrate(gormDB); err != nil {
		logger.Fatal("AutoMigrate failed", "error", err)
	}

	if err := seedFirstAdmin(gormDB, cfg); err != nil {
		logger.Fatal("Failed to seed first admin user", "error", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ginRouter, dispatcher, renewalWorker := SetupRouter(cfg, gormDB)
	dispatcher.Start(ctx)
	renewalWorker.Start(ctx)

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		logger.Info("Shutting down")
		renewalWorker.Stop()
		dispatcher.Stop()
		cancel()
		os.Exit(0)
	}()

	address := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	logger.Info("Server starting", "address", address)
	if err := ginRouter.Run(address); err != nil {
		logger.Fatal("Server startup error", "error", err)
	}
}

// SetupRouter builds the full dependency graph and returns the engine plus
// the background components the caller owns the lifecycle of.
func SetupRouter(cfg *config.Config, gormDB *gorm.DB) (*gin.Engine, *services.EnrollmentDispatcher, *workers.RenewalWorker) {
	// Repositories
	userRepo := repositories.NewUserRepository(gormDB)
	txnRepo := repositories.NewTransactionRepository(gormDB)
	subRepo := repositories.NewSubscriptionRepository(gormDB)
	eventRepo := repositories.NewWebhookEventRepository(gormDB)
	enrollmentRepo := repositories.NewEnrollmentRepository(gormDB)
	locks := repositories.NewLockManager()

	// Outbound boundaries
	lemonSqueezy := gateways.NewLemonSqueezy(gateways.LemonSqueezyConfig{
		APIKey:        cfg.Gateways.LemonSqueezy.APIKey,
		StoreID:       cfg.Gateways.LemonSqueezy.StoreID,
		SigningSecret: cfg.Gateways.LemonSqueezy.SigningSecret,
		TestMode:      cfg.Gateways.LemonSqueezy.TestMode,
	})
	gatewayMap := map[string]gateways.Gateway{
		lemonSqueezy.Name(): lemonSqueezy,
	}
	secrets := map[string]string{
		lemonSqueezy.Name(): cfg.Gateways.LemonSqueezy.SigningSecret,
	}

	lmsClient := lms.NewLearnDash(lms.LearnDashConfig{
		BaseURL: cfg.LMS.BaseURL,
		APIKey:  cfg.LMS.APIKey,
		Timeout: time.Duration(cfg.LMS.TimeoutSeconds) * time.Second,
	})

	// Services
	dispatcher := services.NewEnrollmentDispatcher(enrollmentRepo, lmsClient, services.DispatcherConfig{
		Workers:       cfg.Dispatcher.Workers,
		MaxAttempts:   cfg.Dispatcher.MaxAttempts,
		BaseBackoff:   cfg.DispatcherBackoff(),
		QueueSize:     cfg.Dispatcher.QueueSize,
		SweepInterval: time.Duration(cfg.Dispatcher.SweepInterval) * time.Second,
	})
	ledgerService := services.NewLedgerService(txnRepo, userRepo, gatewayMap, locks, dispatcher)
	subscriptionService := services.NewSubscriptionService(subRepo, userRepo, gatewayMap, locks)
	webhookService := services.NewWebhookService(
		gatewayMap, secrets, eventRepo, txnRepo, userRepo,
		ledgerService, subscriptionService, locks, dispatcher,
	)
	authService := services.NewAuthService(userRepo, cfg.JWT.Secret, time.Duration(cfg.JWT.TTL)*time.Minute)

	renewalWorker := workers.NewRenewalWorker(
		subRepo, txnRepo, subscriptionService, dispatcher, gatewayMap,
		time.Duration(cfg.Renewal.ScanInterval)*time.Minute,
	)

	// Handlers
	baseHandler := handlers.NewBaseHandler()
	appHandlers := &handlers.AppHandlers{
		AuthHandler:         handlers.NewAuthHandler(baseHandler, authService),
		TransactionHandler:  handlers.NewTransactionHandler(baseHandler, ledgerService),
		SubscriptionHandler: handlers.NewSubscriptionHandler(baseHandler, subscriptionService),
		WebhookHandler:      handlers.NewWebhookHandler(baseHandler, webhookService),
		EnrollmentHandler:   handlers.NewEnrollmentHandler(baseHandler, dispatcher),
	}

	limiter := middleware.NewRateLimiter(cfg.RateLimit.RequestsPerMinute)

	ginRouter := initializeGinRouter(cfg)
	routes.RegisterRoutes(ginRouter, appHandlers, authService, limiter)

	return ginRouter, dispatcher, renewalWorker
}

func initializeGinRouter(cfg *config.Config) *gin.Engine {
	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.LoggingMiddleware())
	router.Use(middleware.CORSMiddleware())
	return router
}

func seedFirstAdmin(db *gorm.DB, cfg *config.Config) error {
	adminEmail := cfg.FirstAdminEmail
	adminPassword := cfg.FirstAdminPassword

	if adminEmail == "" || adminPassword == "" {
		logger.Warn("FIRST_ADMIN_EMAIL or FIRST_ADMIN_PASSWORD is not set. Skipping admin seeding.")
		return nil
	}

	var admin models.User
	result := db.Where("email = ?", adminEmail).First(&admin)
	if result.Error == nil {
		logger.Info("Admin user already exists. Skipping creation.", "email", adminEmail)
		return nil
	}
	if !errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return fmt.Errorf("failed to check for admin user: %w", result.Error)
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(adminPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash admin password: %w", err)
	}

	newAdmin := &models.User{
		Email:        adminEmail,
		PasswordHash: string(hashedPassword),
		Role:         models.UserRoleAdmin,
		Status:       models.UserStatusActive,
	}
	if err := db.Create(newAdmin).Error; err != nil {
		return fmt.Errorf("failed to create admin user: %w", err)
	}

	logger.Info("Created first admin user", "email", adminEmail)
	return nil
}
