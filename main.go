package main

import (
	"context"
	"log"
	"net/http"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/hourglass-hq/hourglass-engine/pkg/auth"
	"github.com/hourglass-hq/hourglass-engine/pkg/config"
	"github.com/hourglass-hq/hourglass-engine/pkg/database"
	"github.com/hourglass-hq/hourglass-engine/pkg/handlers"
	"github.com/hourglass-hq/hourglass-engine/pkg/logging"
	"github.com/hourglass-hq/hourglass-engine/pkg/metrics"
	"github.com/hourglass-hq/hourglass-engine/pkg/middleware"
	"github.com/hourglass-hq/hourglass-engine/pkg/repositories"
	"github.com/hourglass-hq/hourglass-engine/pkg/services"
	"github.com/hourglass-hq/hourglass-engine/pkg/services/syncqueue"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	// .env is optional; environment variables win either way
	_ = godotenv.Load()

	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.NewLogger(cfg.Env)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	logger.Info("Configuration loaded",
		zap.String("env", cfg.Env),
		zap.String("version", cfg.Version),
		zap.Bool("auth_verification", cfg.Auth.EnableVerification),
		zap.String("database", cfg.Database.Host),
		zap.String("redis", cfg.Redis.Host))

	ctx := context.Background()

	if err := database.Migrate(cfg.Database.ConnectionString(), cfg.Database.MigrationsPath, logger); err != nil {
		logger.Fatal("Failed to run migrations", zap.Error(err))
	}

	db, err := database.NewConnection(ctx, &cfg.Database)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	redisClient, err := database.NewRedisClient(&cfg.Redis)
	if err != nil {
		logger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	if redisClient == nil {
		logger.Info("Redis not configured, report caching disabled")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry)

	// Repositories
	tenantRepo := repositories.NewTenantRepository(db)
	sourceRepo := repositories.NewSourceRepository()
	groupRepo := repositories.NewSourceGroupRepository()
	worklogRepo := repositories.NewWorklogRepository()
	runRepo := repositories.NewSyncRunRepository()
	clientRepo := repositories.NewClientRepository()
	classificationRepo := repositories.NewClassificationRepository()
	ruleRepo := repositories.NewRateRuleRepository()
	invoiceRepo := repositories.NewInvoiceRepository()

	// Services
	clientFactory := services.DefaultClientFactory(&cfg.Sync)
	getTenantCtx := services.NewTenantContextFunc(db)
	queue := syncqueue.New(logger,
		syncqueue.WithStrategy(syncqueue.NewKeySerializedStrategy(cfg.Sync.MaxConcurrentSources)))

	sourceService := services.NewSourceService(sourceRepo, groupRepo, clientFactory, cfg.Sync, logger)
	syncService := services.NewSyncService(sourceRepo, runRepo, worklogRepo, queue, clientFactory, getTenantCtx, cfg.Sync, m, logger)
	reconciliation := services.NewReconciliationService(sourceRepo, groupRepo, worklogRepo, logger)
	rateService := services.NewRateService(ruleRepo, clientRepo, logger)
	billingService := services.NewBillingService(clientRepo, classificationRepo, worklogRepo, logger)
	invoiceService := services.NewInvoiceService(invoiceRepo, clientRepo, classificationRepo, reconciliation, rateService, logger)
	reportService := services.NewReportService(tenantRepo, reconciliation, redisClient, cfg.Redis.CacheTTL, logger)

	sweeper := services.NewSyncSweeper(db, runRepo, cfg.Sync.StaleRunThreshold, m, logger)
	go sweeper.RunScheduler(ctx, cfg.Sync.SweepInterval)

	// Middleware
	authService := auth.NewAuthService(&cfg.Auth)
	authMiddleware := auth.NewMiddleware(authService, logger)
	tenantMiddleware := handlers.NewTenantScopeMiddleware(db, logger)

	mux := http.NewServeMux()

	handlers.NewHealthHandler(cfg, db, redisClient, logger).RegisterRoutes(mux)
	handlers.NewTenantsHandler(tenantRepo, logger).RegisterRoutes(mux, authMiddleware, tenantMiddleware)
	handlers.NewSourcesHandler(sourceService, logger).RegisterRoutes(mux, authMiddleware, tenantMiddleware)
	handlers.NewSyncHandler(syncService, logger).RegisterRoutes(mux, authMiddleware, tenantMiddleware)
	handlers.NewRatesHandler(rateService, logger).RegisterRoutes(mux, authMiddleware, tenantMiddleware)
	handlers.NewBillingHandler(billingService, logger).RegisterRoutes(mux, authMiddleware, tenantMiddleware)
	handlers.NewInvoicesHandler(invoiceService, logger).RegisterRoutes(mux, authMiddleware, tenantMiddleware)
	handlers.NewReportsHandler(reportService, logger).RegisterRoutes(mux, authMiddleware, tenantMiddleware)

	mux.Handle("GET /metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	handler := middleware.RequestLogger(logger)(mux)

	addr := cfg.BindAddr + ":" + cfg.Port
	logger.Info("Starting hourglass-engine",
		zap.String("addr", addr),
		zap.String("version", cfg.Version))
	if err := http.ListenAndServe(addr, handler); err != nil {
		logger.Fatal("Server failed", zap.Error(err))
	}
}
