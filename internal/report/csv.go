package report

import (
	"encoding/csv"
	"fmt"
	"io"
)

// WriteCSV writes doc to w as comma separated records.
func WriteCSV(w io.Writer, f *Formatter, doc Document) error {
	cw := csv.NewWriter(w)
	if err := cw.WriteAll(doc.Records(f)); err != nil {
		return fmt.Errorf("write csv: %w", err)
	}
	return nil
}
