package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"invoiceflow/internal/amqp"
	"invoiceflow/internal/core"
	"invoiceflow/internal/log"
	"invoiceflow/internal/report"
	"invoiceflow/internal/report/sheets"
	"invoiceflow/internal/services"
)

// YearlyReporter is satisfied by *services.AnalyticsService. Invoice events
// are forwarded to it so cached reports written by another process are dropped.
type YearlyReporter interface {
	core.ChangeListener
	Yearly(ctx context.Context, workspaceID string, year int) (services.YearlyReport, error)
}

// Exporter is satisfied by *sheets.Exporter.
type Exporter interface {
	Export(ctx context.Context, sheet string, doc report.Document) (string, error)
}

// Config controls how often pending reports are flushed.
type Config struct {
	// SyncInterval is how often dirty workspace years are exported (default: 30s).
	SyncInterval time.Duration
	// SheetBase is the tab name suffix, e.g. "Invoices" for "2024 Invoices <workspace>".
	SheetBase string
}

func DefaultConfig() Config {
	return Config{SyncInterval: 30 * time.Second, SheetBase: "Invoices"}
}

type reportKey struct {
	workspaceID string
	year        int
}

// ReportWorker keeps one monthly totals sheet per workspace and year in sync
// with invoice events. Events only mark a report dirty; the export runs on
// the next flush, so bursts of events cost one export.
type ReportWorker struct {
	reports  YearlyReporter
	exporter Exporter
	config   Config
	format   *report.Formatter
	logger   *log.Logger
	now      func() time.Time

	pendingMu sync.Mutex
	pending   map[reportKey]struct{}

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

func NewReportWorker(reports YearlyReporter, exporter Exporter, config Config, logger *log.Logger) *ReportWorker {
	if config.SyncInterval <= 0 {
		config.SyncInterval = DefaultConfig().SyncInterval
	}
	if config.SheetBase == "" {
		config.SheetBase = DefaultConfig().SheetBase
	}
	return &ReportWorker{
		reports:  reports,
		exporter: exporter,
		config:   config,
		format:   report.NewFormatter(),
		logger:   logger.WithComponent(log.ComponentWorker),
		now:      time.Now,
		pending:  make(map[reportKey]struct{}),
	}
}

// HandleInvoiceEvent marks the affected report dirty. It never fails, so
// the message is acknowledged once recorded.
func (w *ReportWorker) HandleInvoiceEvent(ctx context.Context, msg *amqp.InvoiceEventMessage) error {
	if msg.WorkspaceID == "" || msg.DueYear == 0 {
		w.logger.WarnContext(ctx, "Ignoring invoice event without workspace or year",
			log.FieldInvoiceID, msg.InvoiceID)
		return nil
	}
	w.reports.InvoiceChanged(ctx, core.InvoiceChange{
		Kind:    changeKind(msg.Kind),
		Invoice: core.Invoice{ID: msg.InvoiceID, WorkspaceID: msg.WorkspaceID},
	})

	w.pendingMu.Lock()
	w.pending[reportKey{msg.WorkspaceID, msg.DueYear}] = struct{}{}
	w.pendingMu.Unlock()

	w.logger.DebugContext(ctx, "Invoice event queued for report sync",
		"kind", msg.Kind,
		log.FieldInvoiceID, msg.InvoiceID,
		log.FieldWorkspaceID, msg.WorkspaceID,
		log.FieldYear, msg.DueYear)
	return nil
}

func changeKind(kind string) core.ChangeKind {
	if kind == amqp.EventInvoiceStatusChanged {
		return core.ChangeStatusChanged
	}
	return core.ChangeCreated
}

// Pending returns the number of reports waiting to be exported.
func (w *ReportWorker) Pending() int {
	w.pendingMu.Lock()
	defer w.pendingMu.Unlock()
	return len(w.pending)
}

// Flush exports every dirty report. Reports that fail stay dirty and are
// retried on the next flush; the joined errors are returned.
func (w *ReportWorker) Flush(ctx context.Context) error {
	w.pendingMu.Lock()
	batch := w.pending
	w.pending = make(map[reportKey]struct{})
	w.pendingMu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	var errs []error
	synced := 0
	for key := range batch {
		if err := w.export(ctx, key); err != nil {
			w.logger.ErrorContext(ctx, "Failed to sync yearly report",
				log.FieldWorkspaceID, key.workspaceID,
				log.FieldYear, key.year,
				log.FieldError, err)
			w.pendingMu.Lock()
			w.pending[key] = struct{}{}
			w.pendingMu.Unlock()
			errs = append(errs, err)
			continue
		}
		synced++
	}

	w.logger.InfoContext(ctx, "Report sync completed",
		"total", len(batch),
		"synced", synced,
		"errors", len(errs))
	return errors.Join(errs...)
}

func (w *ReportWorker) export(ctx context.Context, key reportKey) error {
	r, err := w.reports.Yearly(ctx, key.workspaceID, key.year)
	if err != nil {
		return fmt.Errorf("load yearly report: %w", err)
	}
	// Yearly falls back to another year when key.year has no invoices left;
	// the sheet for key.year is then rewritten with empty buckets.
	buckets := r.Buckets
	if r.Year != key.year {
		empty := core.Aggregate(nil, key.year)
		buckets = empty[:]
	}
	title := fmt.Sprintf("Invoices %d", key.year)
	doc := report.MonthlyDocument(w.format, title, buckets, w.now())

	sheet := sheets.YearlySheetName(w.config.SheetBase, key.year, key.workspaceID)
	ref, err := w.exporter.Export(ctx, sheet, doc)
	if err != nil {
		return fmt.Errorf("export %s: %w", sheet, err)
	}
	w.logger.InfoContext(ctx, "Yearly report synced",
		log.FieldWorkspaceID, key.workspaceID,
		log.FieldYear, key.year,
		log.FieldSheetRef, ref)
	return nil
}

// Start begins the flush loop. Returns an error if already running.
func (w *ReportWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return errors.New("report worker is already running")
	}
	w.running = true
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	w.mu.Unlock()

	go w.runLoop(ctx)

	w.logger.InfoContext(ctx, "Report worker started",
		"sync_interval", w.config.SyncInterval)
	return nil
}

// Stop flushes once more and waits for the loop to exit.
func (w *ReportWorker) Stop(ctx context.Context) error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	close(w.stopCh)
	w.mu.Unlock()

	select {
	case <-w.doneCh:
		w.logger.InfoContext(ctx, "Report worker stopped gracefully")
		return nil
	case <-ctx.Done():
		w.logger.WarnContext(ctx, "Report worker stop timed out")
		return ctx.Err()
	}
}

func (w *ReportWorker) runLoop(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.config.SyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopCh:
			_ = w.Flush(context.WithoutCancel(ctx))
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = w.Flush(ctx)
		}
	}
}
