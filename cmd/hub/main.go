package main

import (
	"context"
	"database/sql"
	"flag"
	"net/http"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/hub/pkg/async"
	"github.com/platinummonkey/hub/pkg/audit"
	"github.com/platinummonkey/hub/pkg/config"
	"github.com/platinummonkey/hub/pkg/observability"
	"github.com/platinummonkey/hub/pkg/rbac"
	"github.com/platinummonkey/hub/pkg/tenants"
)

var version = "dev"

const purgeTimeout = 5 * time.Minute

func main() {
	migrateOnly := flag.Bool("migrate-only", false, "Run migrations and seed defaults, then exit")
	grantSuperAdmin := flag.Int64("grant-super-admin", 0, "Grant the global super admin role to this user id at startup")
	flag.Parse()

	// Bootstrap logging until the structured logger is configured
	bootLog := logrus.New()
	bootLog.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.LoadConfig()
	if err != nil {
		bootLog.Fatalf("Failed to load configuration: %v", err)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := openDatabase(ctx, cfg.Database)
	if err != nil {
		bootLog.Fatalf("Failed to connect to database: %v", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(registry)

	otelProviders, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
		SampleRatio:    cfg.Observability.OTelSampleRatio,
	}, logger)
	if err != nil {
		bootLog.Fatalf("Failed to initialize OpenTelemetry: %v", err)
	}
	instruments, err := observability.NewAuthzInstruments()
	if err != nil {
		bootLog.Fatalf("Failed to create authorization instruments: %v", err)
	}

	auditLogger, err := audit.NewDBLogger(db)
	if err != nil {
		bootLog.Fatalf("Failed to initialize audit logger: %v", err)
	}

	backend, redisClient, err := newCacheBackend(cfg.Cache)
	if err != nil {
		bootLog.Fatalf("Failed to initialize permission cache: %v", err)
	}

	manager := rbac.NewManager(db, rbac.Config{
		HubSlug:     cfg.Tenancy.HubSlug,
		Backend:     backend,
		AuditLogger: auditLogger,
		Logger:      logger,
		Metrics:     metrics,
		Instruments: instruments,
	})

	if cfg.Database.RunMigrations || *migrateOnly {
		if err := manager.Initialize(ctx); err != nil {
			bootLog.Fatalf("Failed to initialize RBAC schema: %v", err)
		}
		logger.Info("RBAC schema is up to date")
	}

	superAdmin := cfg.Bootstrap.SuperAdminUserID
	if *grantSuperAdmin != 0 {
		superAdmin = *grantSuperAdmin
	}
	if superAdmin < 0 {
		bootLog.Fatalf("Invalid super admin user id: %d", superAdmin)
	}
	if superAdmin > 0 {
		if err := manager.GrantSuperAdmin(ctx, superAdmin); err != nil {
			bootLog.Fatalf("Failed to grant super admin to user %d: %v", superAdmin, err)
		}
		logger.WithField("user_id", superAdmin).Info("Granted super admin")
	}
	if *migrateOnly {
		return
	}

	resolver := tenants.NewResolver(tenants.NewPostgresService(db), tenants.ResolverConfig{
		APIPrefix: cfg.Tenancy.APIPrefix,
		Aliases:   cfg.Tenancy.Aliases,
		CacheSize: cfg.Tenancy.ResolverCacheSize,
		CacheTTL:  cfg.Tenancy.ResolverCacheTTL,
		Metrics:   metrics,
	})
	if cfg.ConfigFile != "" {
		async.Go(ctx, logger, "tenancy watcher", func(ctx context.Context) error {
			return config.WatchTenancyFile(ctx, cfg.ConfigFile, logger, func(tenancy config.TenancyConfig) {
				resolver.SetAliases(cfg.Tenancy.Merge(tenancy).Aliases)
				logger.Info("Reloaded tenant aliases")
			})
		})
	}

	health := observability.NewHealthChecker(db, redisClient).WithVersion(version)
	var metricsRegistry *prometheus.Registry
	if cfg.Observability.MetricsEnabled {
		metricsRegistry = registry
	}
	router := newRouter(routerOptions{
		Logger:     logger,
		Metrics:    metrics,
		Registry:   metricsRegistry,
		Health:     health,
		Resolver:   resolver,
		UserHeader: cfg.Identity.UserHeader,
		Routes:     manager.RegisterRoutes,
	})

	scheduler := cron.New(cron.WithLogger(cron.PrintfLogger(bootLog)))
	if cfg.Jobs.PurgeExpiredOverrides != "" {
		_, err := scheduler.AddFunc(cfg.Jobs.PurgeExpiredOverrides, func() {
			var purged int64
			err := async.Run(ctx, purgeTimeout, "override purge", func(ctx context.Context) error {
				var err error
				purged, err = manager.PurgeExpiredOverrides(ctx)
				return err
			})
			if err != nil {
				logger.WithError(err).Error("Failed to purge expired overrides")
				return
			}
			if purged > 0 {
				logger.WithField("purged", purged).Info("Purged expired overrides")
			}
		})
		if err != nil {
			bootLog.Fatalf("Failed to schedule override purge: %v", err)
		}
	}
	scheduler.Start()

	if cfg.Jobs.DBStatsInterval > 0 {
		async.Every(ctx, logger, cfg.Jobs.DBStatsInterval, "db stats", func(context.Context) error {
			metrics.UpdateDBStats(db.Stats())
			return nil
		})
	}

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      otelhttp.NewHandler(router, "hub"),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := observability.NewShutdownManager(logger, server, cfg.Server.ShutdownTimeout)
	// Cleanup runs in reverse order: jobs stop before their dependencies close.
	shutdown.Register("database", func(context.Context) error {
		return db.Close()
	})
	if redisClient != nil {
		shutdown.Register("redis", func(context.Context) error {
			return redisClient.Close()
		})
	}
	shutdown.Register("otel", func(ctx context.Context) error {
		return observability.ShutdownOTel(ctx, otelProviders, logger)
	})
	shutdown.Register("background", func(context.Context) error {
		cancel()
		return nil
	})
	shutdown.Register("cron", func(context.Context) error {
		<-scheduler.Stop().Done()
		return nil
	})

	go func() {
		logger.WithFields(map[string]interface{}{
			"addr":    server.Addr,
			"backend": backend.Name(),
			"version": version,
		}).Info("Starting hub authorization server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			bootLog.Fatalf("Server failed: %v", err)
		}
	}()

	if err := shutdown.WaitForSignal(); err != nil {
		logger.WithError(err).Error("Shutdown completed with errors")
		os.Exit(1)
	}
	logger.Info("Server stopped")
}

func openDatabase(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func newCacheBackend(cfg config.CacheConfig) (rbac.CacheBackend, *redis.Client, error) {
	if cfg.Backend != config.CacheBackendRedis {
		return rbac.NewMemoryBackend(cfg.Size, cfg.SafetyTTL), nil, nil
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	client := redis.NewClient(opts)
	return rbac.NewRedisBackend(client, cfg.KeyPrefix, cfg.SafetyTTL), client, nil
}
