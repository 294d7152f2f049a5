package services

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"invoiceflow/internal/cache"
	"invoiceflow/internal/core"
	"invoiceflow/internal/log"
)

// InvoiceSource loads every invoice of a workspace.
type InvoiceSource interface {
	All(ctx context.Context, workspaceID string) ([]core.Invoice, error)
}

// YearlyReport holds the monthly analytics of one workspace for one year.
type YearlyReport struct {
	WorkspaceID    string
	Year           int
	Buckets        []core.MonthlyBucket
	Total          core.Money
	Count          int
	AvailableYears []int
}

// AnalyticsService computes yearly monthly-bucket reports and caches them
// until an invoice of the workspace changes.
type AnalyticsService struct {
	source InvoiceSource
	cache  cache.Cache[YearlyReport]
	logger *log.Logger
	now    func() time.Time

	// generations counts invalidations per workspace. A report is only
	// cached when no invalidation happened while it was being computed.
	mu          sync.Mutex
	generations map[string]uint64
}

func NewAnalyticsService(source InvoiceSource, reports cache.Cache[YearlyReport], logger *log.Logger) *AnalyticsService {
	return &AnalyticsService{
		source: source,
		cache:  reports,
		logger: logger.WithComponent(log.ComponentAnalytics),
		now:    time.Now,

		generations: make(map[string]uint64),
	}
}

// Yearly returns the report for year. When year has no invoices the most
// recent year with data is used instead, or the current year when the
// workspace is empty; YearlyReport.Year holds the effective year.
func (s *AnalyticsService) Yearly(ctx context.Context, workspaceID string, year int) (YearlyReport, error) {
	key := cacheKey(workspaceID, year)
	if r, ok := s.cache.Get(key); ok {
		return r, nil
	}

	gen := s.generation(workspaceID)
	invoices, err := s.source.All(ctx, workspaceID)
	if err != nil {
		return YearlyReport{}, err
	}

	available := core.AvailableYears(invoices)
	effective := core.SelectYear(year, available, s.now())
	buckets := core.Aggregate(invoices, effective)

	r := YearlyReport{
		WorkspaceID:    workspaceID,
		Year:           effective,
		Buckets:        buckets[:],
		Total:          core.BucketsTotal(buckets[:]),
		AvailableYears: available,
	}
	for _, b := range buckets {
		r.Count += b.Count
	}

	s.store(key, workspaceID, gen, r)
	s.logger.DebugContext(ctx, "Yearly report computed",
		log.FieldWorkspaceID, workspaceID,
		log.FieldYear, effective,
		log.FieldAmountCents, r.Total.Cents)
	return r, nil
}

// InvoiceChanged drops every cached report of the affected workspace.
func (s *AnalyticsService) InvoiceChanged(ctx context.Context, change core.InvoiceChange) {
	prefix := change.Invoice.WorkspaceID + "/"
	s.mu.Lock()
	s.generations[change.Invoice.WorkspaceID]++
	n := s.cache.DeleteFunc(func(k string) bool { return strings.HasPrefix(k, prefix) })
	s.mu.Unlock()
	if n > 0 {
		s.logger.DebugContext(ctx, "Yearly reports invalidated",
			log.FieldWorkspaceID, change.Invoice.WorkspaceID, "count", n)
	}
}

func (s *AnalyticsService) generation(workspaceID string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generations[workspaceID]
}

// store caches r unless the workspace changed since gen was read.
func (s *AnalyticsService) store(key, workspaceID string, gen uint64, r YearlyReport) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generations[workspaceID] != gen {
		return
	}
	s.cache.Set(key, r)
}

func cacheKey(workspaceID string, year int) string {
	return workspaceID + "/" + strconv.Itoa(year)
}
