// Package sheets exports report documents to a Google spreadsheet.
package sheets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"invoiceflow/internal/log"
	"invoiceflow/internal/report"
)

// Config selects the spreadsheet and the service account used to write it.
// CredentialsJSON takes precedence over CredentialsFile.
type Config struct {
	SpreadsheetID   string
	CredentialsJSON string
	CredentialsFile string
}

// Exporter writes documents into tabs of one spreadsheet. Each export
// replaces the tab contents.
type Exporter struct {
	svc           *gsheet.Service
	spreadsheetID string
	formatter     *report.Formatter
	logger        *log.Logger
}

// New creates an Exporter authenticated with service account credentials.
// Extra options are passed to the Sheets client.
func New(ctx context.Context, cfg Config, logger *log.Logger, opts ...goption.ClientOption) (*Exporter, error) {
	id := strings.TrimSpace(cfg.SpreadsheetID)
	if id == "" {
		return nil, errors.New("missing spreadsheet id")
	}
	if len(opts) == 0 {
		creds, err := credentials(cfg)
		if err != nil {
			return nil, err
		}
		opts = []goption.ClientOption{
			goption.WithCredentialsJSON(creds),
			goption.WithScopes(gsheet.SpreadsheetsScope),
		}
	}
	svc, err := gsheet.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return &Exporter{
		svc:           svc,
		spreadsheetID: id,
		formatter:     report.NewFormatter(),
		logger:        logger.WithComponent(log.ComponentReport),
	}, nil
}

func credentials(cfg Config) ([]byte, error) {
	switch {
	case strings.TrimSpace(cfg.CredentialsJSON) != "":
		return []byte(cfg.CredentialsJSON), nil
	case strings.TrimSpace(cfg.CredentialsFile) != "":
		b, err := os.ReadFile(cfg.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
		return b, nil
	}
	return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON or GOOGLE_SERVICE_ACCOUNT_FILE)")
}

// Export replaces the contents of the named tab with doc, creating the tab
// when it does not exist. It returns the A1 reference of the written range.
func (e *Exporter) Export(ctx context.Context, sheet string, doc report.Document) (string, error) {
	if err := e.ensureSheet(ctx, sheet); err != nil {
		return "", err
	}

	if _, err := e.svc.Spreadsheets.Values.Clear(e.spreadsheetID, quote(sheet), &gsheet.ClearValuesRequest{}).
		Context(ctx).Do(); err != nil {
		return "", fmt.Errorf("clear sheet %s: %w", sheet, err)
	}

	records := doc.Records(e.formatter)
	values := make([][]any, len(records))
	width := 0
	for i, rec := range records {
		row := make([]any, len(rec))
		for j, v := range rec {
			row[j] = v
		}
		values[i] = row
		width = max(width, len(rec))
	}

	ref := fmt.Sprintf("%s!A1:%s%d", quote(sheet), column(width), len(values))
	vr := &gsheet.ValueRange{Values: values}
	if _, err := e.svc.Spreadsheets.Values.Update(e.spreadsheetID, ref, vr).
		ValueInputOption("RAW").Context(ctx).Do(); err != nil {
		return "", fmt.Errorf("update %s: %w", ref, err)
	}

	e.logger.InfoContext(ctx, "Report exported",
		log.FieldSheetRef, ref,
		"rows", len(doc.Rows))
	return ref, nil
}

func (e *Exporter) ensureSheet(ctx context.Context, sheet string) error {
	ss, err := e.svc.Spreadsheets.Get(e.spreadsheetID).Fields("sheets.properties.title").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("get spreadsheet: %w", err)
	}
	for _, s := range ss.Sheets {
		if s.Properties != nil && s.Properties.Title == sheet {
			return nil
		}
	}

	req := &gsheet.BatchUpdateSpreadsheetRequest{
		Requests: []*gsheet.Request{{
			AddSheet: &gsheet.AddSheetRequest{Properties: &gsheet.SheetProperties{Title: sheet}},
		}},
	}
	if _, err := e.svc.Spreadsheets.BatchUpdate(e.spreadsheetID, req).Context(ctx).Do(); err != nil {
		return fmt.Errorf("add sheet %s: %w", sheet, err)
	}
	e.logger.InfoContext(ctx, "Sheet created", log.FieldSheetRef, sheet)
	return nil
}

// YearlySheetName returns "<year> <base>", e.g. "2024 Invoices ws-1".
func YearlySheetName(base string, year int, workspaceID string) string {
	name := strings.TrimSpace(base)
	if workspaceID != "" {
		name += " " + workspaceID
	}
	return strconv.Itoa(year) + " " + strings.TrimSpace(name)
}

func quote(sheet string) string {
	return "'" + strings.ReplaceAll(sheet, "'", "''") + "'"
}

// column converts a 1-based column index to its letter form.
func column(n int) string {
	if n < 1 {
		n = 1
	}
	s := ""
	for n > 0 {
		n--
		s = string(rune('A'+n%26)) + s
		n /= 26
	}
	return s
}
