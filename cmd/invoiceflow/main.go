package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"time"

	"invoiceflow/internal/backend"
	"invoiceflow/internal/cache"
	"invoiceflow/internal/cli"
	"invoiceflow/internal/config"
	apphttp "invoiceflow/internal/http"
	"invoiceflow/internal/identity"
	"invoiceflow/internal/log"
	"invoiceflow/internal/metrics"
	"invoiceflow/internal/services"
)

func main() {
	cli.LoadEnvFile()
	cfg, logger := cli.LoadConfig((*config.Config).Validate)

	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid backend configuration", log.FieldError, err)
		os.Exit(1)
	}
	result, err := backend.NewFactory(logger).CreateBackend(context.Background(), backendCfg)
	if err != nil {
		logger.Error("Failed to initialize backend", log.FieldError, err, "backend", cfg.DataBackend)
		os.Exit(1)
	}

	m := metrics.New()
	reports := cache.NewLRUCache[services.YearlyReport](cfg.AnalyticsCacheSize, cfg.AnalyticsCacheTTL)
	cacheManager := cache.NewManager()
	cacheManager.Register(reports)
	cacheManager.StartCleanup(time.Minute)

	st := result.Store
	invoices := services.NewInvoiceService(st, st, logger, m)
	analytics := services.NewAnalyticsService(invoices, reports, logger)
	invoices.AddListener(analytics)
	if result.Events != nil {
		invoices.AddListener(services.NewEventPublisher(result.Events, logger))
	}
	membership := services.NewMembershipService(st, identity.NewProfileLookup(st), logger)

	deps := apphttp.Deps{
		Invoices:   invoices,
		Membership: membership,
		Analytics:  analytics,
		Metrics:    m,
	}
	if p, ok := st.(backend.Pinger); ok {
		deps.Ready = p
	}

	proxies, err := apphttp.ParseProxies(cfg.TrustedProxies)
	if err != nil {
		logger.Error("Invalid trusted proxies", log.FieldError, err)
		os.Exit(1)
	}
	srv := apphttp.NewServer(apphttp.Config{
		Addr:           net.JoinHostPort("", cfg.Port),
		TrustedProxies: proxies,
	}, deps, logger)
	srv.ReadTimeout = 10 * time.Second
	srv.IdleTimeout = 60 * time.Second
	srv.MaxHeaderBytes = 1 << 16

	ctx, done := cli.GracefulShutdown(logger, cfg.ShutdownTimeout, func(ctx context.Context) {
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Server shutdown error", log.FieldError, err)
		}
		cacheManager.Stop()
		if result.Cleanup != nil {
			if err := result.Cleanup(); err != nil {
				logger.Error("Backend cleanup error", log.FieldError, err)
			}
		}
	})

	logger.Info("Starting invoiceflow server",
		"port", cfg.Port,
		"backend", cfg.DataBackend,
		"amqp_enabled", result.Events != nil)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server error", log.FieldError, err, "port", cfg.Port)
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Server stopped gracefully")
}
