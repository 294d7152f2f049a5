// Package report builds export documents from invoices and monthly analytics.
//
// A Document is the logical content of an export (title, generation date,
// header, rows and a totals footer). Writers such as WriteCSV and the
// sheets exporter decide how it is laid out.
package report

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"

	"invoiceflow/internal/core"
)

// DateLayout is used for every date shown to users.
const DateLayout = "Jan 2, 2006"

var (
	InvoiceHeaders = []string{"Project", "Client", "Due Date", "Status", "Amount"}
	MonthlyHeaders = []string{"Month", "Invoices", "Total"}
)

// Formatter renders money and dates the same way for every export and for
// the API.
type Formatter struct {
	printer *message.Printer
	symbol  string
	title   cases.Caser
}

// NewFormatter returns a US English formatter for US dollars.
func NewFormatter() *Formatter {
	tag := language.AmericanEnglish
	p := message.NewPrinter(tag)
	return &Formatter{
		printer: p,
		symbol:  strings.TrimSpace(p.Sprint(currency.Symbol(currency.USD))),
		title:   cases.Title(tag),
	}
}

// Money formats m as "$1,234.50".
func (f *Formatter) Money(m core.Money) string {
	sign := ""
	cents := m.Cents
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	whole := f.printer.Sprint(number.Decimal(cents / 100))
	return fmt.Sprintf("%s%s%s.%02d", sign, f.symbol, whole, cents%100)
}

// Date formats t in UTC.
func (f *Formatter) Date(t time.Time) string {
	return t.UTC().Format(DateLayout)
}

// Status returns the capitalised display status, e.g. "Overdue".
func (f *Formatter) Status(s core.DisplayStatus) string {
	return f.title.String(string(s))
}

// Document is the logical content of an export.
type Document struct {
	Title     string
	Generated time.Time
	Headers   []string
	Rows      [][]string
	Footer    []string
}

// Records flattens the document into rows: title, generation date, header,
// body and footer.
func (d Document) Records(f *Formatter) [][]string {
	out := make([][]string, 0, len(d.Rows)+4)
	out = append(out, []string{d.Title})
	out = append(out, []string{"Date: " + f.Date(d.Generated)})
	out = append(out, d.Headers)
	out = append(out, d.Rows...)
	if len(d.Footer) > 0 {
		out = append(out, d.Footer)
	}
	return out
}

// InvoiceDocument lists invoices with their status resolved at now.
func InvoiceDocument(f *Formatter, title string, invoices []core.Invoice, now time.Time) Document {
	doc := Document{
		Title:     title,
		Generated: now,
		Headers:   InvoiceHeaders,
		Rows:      make([][]string, 0, len(invoices)),
	}
	var total core.Money
	for _, inv := range invoices {
		doc.Rows = append(doc.Rows, []string{
			inv.ProjectName,
			inv.Client,
			f.Date(inv.DueDate),
			f.Status(inv.Display(now)),
			f.Money(inv.Amount),
		})
		total = total.Add(inv.Amount)
	}
	if len(invoices) > 1 {
		doc.Footer = []string{"Total", "", "", "", f.Money(total)}
	}
	return doc
}

// MonthlyDocument renders one row per monthly bucket plus a totals footer.
func MonthlyDocument(f *Formatter, title string, buckets []core.MonthlyBucket, generated time.Time) Document {
	doc := Document{
		Title:     title,
		Generated: generated,
		Headers:   MonthlyHeaders,
		Rows:      make([][]string, 0, len(buckets)),
	}
	count := 0
	for _, b := range buckets {
		doc.Rows = append(doc.Rows, []string{
			time.Month(b.Month).String(),
			strconv.Itoa(b.Count),
			f.Money(b.Total),
		})
		count += b.Count
	}
	doc.Footer = []string{"Total", strconv.Itoa(count), f.Money(core.BucketsTotal(buckets))}
	return doc
}

// InvoiceFilename names the export of a single invoice.
func InvoiceFilename(invoiceID, ext string) string {
	return "invoice-" + invoiceID + "." + ext
}

// YearlyFilename names the monthly totals export of a year.
func YearlyFilename(year int, ext string) string {
	return "invoices-" + strconv.Itoa(year) + "." + ext
}
