package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"gold-accrual-engine/config"
	"gold-accrual-engine/handlers"
	"gold-accrual-engine/logger"
	"gold-accrual-engine/middleware"
	"gold-accrual-engine/repository"
	"gold-accrual-engine/repository/memory"
	"gold-accrual-engine/services"
	"gold-accrual-engine/utils"
	"gold-accrual-engine/workers"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		logger.Fatal("failed to load config: ", err)
	}
	if err := logger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output); err != nil {
		logger.Fatal("failed to init logger: ", err)
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid config: ", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(cfg.Database)
	if err != nil {
		logger.Fatal("failed to open store: ", err)
	}

	locks := services.NewWalletLocks()
	ledgerService := services.NewLedgerService(store, locks, cfg.Snapshot.StartingGold)
	notificationService := services.NewNotificationService(store)
	rateConfigService := services.NewRateConfigService(store, cfg.Rates)
	healthAuditor := services.NewHealthAuditor(store, cfg.Health)
	restorationService := services.NewRestorationService(store, ledgerService)

	var archiver services.BackupArchiver
	if cfg.Backup.ArchiveEnabled() {
		r2, err := utils.NewR2Archiver(ctx, cfg.Backup)
		if err != nil {
			logger.Fatal("failed to initialize R2 client: ", err)
		}
		archiver = r2
	} else {
		logger.Warn("⚠️  R2 credentials not set, gold backups stay in the database only")
	}
	backupService := services.NewBackupService(store, ledgerService, notificationService, archiver, cfg.Backup.Prefix)

	ownership := workers.NewOwnershipClient(cfg.Sync.BaseURL, cfg.Sync.Token, cfg.Snapshot.FetchTimeout)
	runner := services.NewSnapshotRunner(store, ledgerService, ownership, rateConfigService, notificationService, services.RunnerOptions{
		Interval:            cfg.Snapshot.Interval,
		DueSlack:            cfg.Snapshot.DueSlack,
		FetchTimeout:        cfg.Snapshot.FetchTimeout,
		Concurrency:         cfg.Snapshot.Concurrency,
		RequireVerification: cfg.Snapshot.RequireVerification,
		FailingThreshold:    cfg.Health.FailingThreshold,
	})

	scheduler, err := services.StartAccrualScheduler(ctx, runner, backupService, services.SchedulerOptions{
		SnapshotEnabled:  cfg.Snapshot.Enabled,
		SnapshotInterval: cfg.Snapshot.Interval,
		BackupEnabled:    cfg.Backup.Enabled,
		BackupInterval:   cfg.Backup.Interval,
	})
	if err != nil {
		logger.Fatal("failed to start scheduler: ", err)
	}

	walletSyncClient := workers.NewWalletSyncClient(cfg.Sync.BaseURL, cfg.Sync.Token, cfg.Sync.Timeout)
	go workers.PollWallets(ctx, walletSyncClient, ledgerService, cfg.Sync.PollInterval)

	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{"error": err.Error()})
		},
	})

	// 🔐❗ GLOBAL: Only Gateway requests allowed
	app.Use(middleware.GatewayAuthMiddleware(cfg.Gateway.ServiceToken, "/livez"))

	origins := strings.Split(cfg.Server.AllowedOrigins, ",")
	for i, origin := range origins {
		origins[i] = strings.TrimSpace(origin)
	}
	allowedOrigins := strings.Join(origins, ",")

	app.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS,PATCH,HEAD",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Requested-With, X-Request-ID, X-Service-Token, X-User-ID, X-User-Roles",
		ExposeHeaders:    "Content-Length, Content-Type, X-Request-ID",
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	app.Get("/livez", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	handlers.SetupWalletRoutes(app, ledgerService)
	handlers.SetupAdminRoutes(app, handlers.AdminServices{
		Ledgers:       ledgerService,
		Runner:        runner,
		Health:        healthAuditor,
		Restoration:   restorationService,
		Backups:       backupService,
		RateConfigs:   rateConfigService,
		Notifications: notificationService,
	})

	go func() {
		if err := app.Listen(fmt.Sprintf(":%d", cfg.Server.Port)); err != nil {
			logger.WithError(err).Error("Server error")
		}
	}()

	logger.WithFields(logrus.Fields{
		"port":              cfg.Server.Port,
		"driver":            cfg.Database.Driver,
		"snapshot_interval": cfg.Snapshot.Interval.String(),
		"origins":           allowedOrigins,
	}).Info("✅ Gold accrual engine running")

	<-ctx.Done()
	logger.Info("Shutting down server...")

	if err := scheduler.Shutdown(); err != nil {
		logger.WithError(err).Error("Scheduler shutdown error")
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logger.WithError(err).Error("Server shutdown error")
	}
}

func openStore(cfg config.DatabaseConfig) (repository.Store, error) {
	if cfg.Driver == "memory" {
		logger.Warn("⚠️  Using in-memory store, ledgers are lost on restart")
		return memory.NewStore(), nil
	}

	db, err := gorm.Open(postgres.Open(cfg.URL), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql db: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := repository.AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return repository.NewGormStore(db), nil
}
