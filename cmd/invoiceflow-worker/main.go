package main

import (
	"context"
	"errors"
	"os"

	"golang.org/x/sync/errgroup"

	"invoiceflow/internal/amqp"
	"invoiceflow/internal/cache"
	"invoiceflow/internal/cli"
	"invoiceflow/internal/config"
	"invoiceflow/internal/log"
	"invoiceflow/internal/report/sheets"
	"invoiceflow/internal/services"
	"invoiceflow/internal/worker"
)

func main() {
	cli.LoadEnvFile()
	cfg, logger := cli.LoadConfig((*config.Config).ValidateWorker)
	logger = logger.WithComponent(log.ComponentWorker)
	logger.Info("Starting invoiceflow-worker")

	repo := cli.InitSQLite(logger, cfg.SQLiteDBPath)
	defer repo.Close()

	exporter, err := sheets.New(context.Background(), sheets.Config{
		SpreadsheetID:   cfg.GoogleSpreadsheetID,
		CredentialsJSON: cfg.GoogleServiceAccountJSON,
		CredentialsFile: cfg.GoogleServiceAccountFile,
	}, logger)
	if err != nil {
		logger.Error("Failed to initialize Google Sheets exporter", log.FieldError, err)
		os.Exit(1)
	}

	amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
	if err != nil {
		logger.Error("Failed to initialize AMQP client", log.FieldError, err)
		os.Exit(1)
	}
	defer amqpClient.Close()

	reports := cache.NewLRUCache[services.YearlyReport](cfg.AnalyticsCacheSize, cfg.AnalyticsCacheTTL)
	invoices := services.NewInvoiceService(repo, repo, logger)
	analytics := services.NewAnalyticsService(invoices, reports, logger)

	reportWorker := worker.NewReportWorker(analytics, exporter, worker.Config{
		SyncInterval: cfg.ReportSyncInterval,
		SheetBase:    cfg.ReportSheetName,
	}, logger)

	ctx, done := cli.GracefulShutdown(logger, cfg.ShutdownTimeout, nil)

	// The flush loop outlives the signal so Stop can export what is still pending.
	if err := reportWorker.Start(context.WithoutCancel(ctx)); err != nil {
		logger.Error("Failed to start report worker", log.FieldError, err)
		os.Exit(1)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := amqpClient.ConsumeInvoiceEvents(gctx, reportWorker.HandleInvoiceEvent)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		stopCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return reportWorker.Stop(stopCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("Worker failed", log.FieldError, err)
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Worker stopped gracefully")
}
