// Package csvimport loads a historical support-ticket export into a ticket
// store as pending descriptors, ready to be embedded by the next index build.
//
// The export must have a header row. Required columns are "Ticket ID",
// "Ticket Subject" and "Ticket Description"; "Ticket Type" and "Product
// Purchased" are appended to the indexed text when present. Rows without a
// subject or description are skipped.
package csvimport

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

// Column names of the ticket export.
const (
	ColumnID          = "Ticket ID"
	ColumnSubject     = "Ticket Subject"
	ColumnDescription = "Ticket Description"
	ColumnType        = "Ticket Type"
	ColumnProduct     = "Product Purchased"
)

// Sink receives imported tickets.
type Sink interface {
	SavePending(ctx context.Context, id, text string, createdAt time.Time) error
}

// Report summarises one import.
type Report struct {
	Rows     int `json:"rows"`
	Imported int `json:"imported"`
	Skipped  int `json:"skipped"`
}

// ImportFile opens path and calls [Import].
func ImportFile(ctx context.Context, path string, sink Sink) (Report, error) {
	f, err := os.Open(path)
	if err != nil {
		return Report{}, fmt.Errorf("csvimport: %w", err)
	}
	defer f.Close()
	return Import(ctx, f, sink)
}

// Import reads the export from r and stores every usable row through sink.
// All rows share the import time as their creation time. A sink error stops
// the import; the report counts the rows handled so far.
func Import(ctx context.Context, r io.Reader, sink Sink) (Report, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return Report{}, errors.New("csvimport: empty input")
		}
		return Report{}, fmt.Errorf("csvimport: read header: %w", err)
	}
	cols, err := columnIndex(header)
	if err != nil {
		return Report{}, err
	}

	var rep Report
	now := time.Now().UTC()
	for {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return rep, fmt.Errorf("csvimport: row %d: %w", rep.Rows+2, err)
		}
		rep.Rows++

		id := field(rec, cols[ColumnID])
		subject := field(rec, cols[ColumnSubject])
		desc := field(rec, cols[ColumnDescription])
		if id == "" || subject == "" || desc == "" {
			rep.Skipped++
			slog.Debug("csv row skipped", "row", rep.Rows+1, "ticket_id", id)
			continue
		}

		text := CombinedText(subject, desc, field(rec, cols[ColumnType]), field(rec, cols[ColumnProduct]))
		if err := sink.SavePending(ctx, id, text, now); err != nil {
			return rep, fmt.Errorf("csvimport: ticket %q: %w", id, err)
		}
		rep.Imported++
	}
	slog.Info("csv import finished", "rows", rep.Rows, "imported", rep.Imported, "skipped", rep.Skipped)
	return rep, nil
}

// CombinedText builds the text indexed for a historical ticket. Empty parts
// are left out.
func CombinedText(subject, description, ticketType, product string) string {
	parts := make([]string, 0, 4)
	for _, p := range []string{subject, description, ticketType, product} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, " ")
}

func columnIndex(header []string) (map[string]int, error) {
	cols := map[string]int{ColumnType: -1, ColumnProduct: -1}
	for i, h := range header {
		// Exports written by spreadsheet tools often carry a UTF-8 BOM.
		h = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		switch h {
		case ColumnID, ColumnSubject, ColumnDescription, ColumnType, ColumnProduct:
			cols[h] = i
		}
	}
	var missing []string
	for _, c := range []string{ColumnID, ColumnSubject, ColumnDescription} {
		if _, ok := cols[c]; !ok {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("csvimport: missing columns: %s", strings.Join(missing, ", "))
	}
	return cols, nil
}

func field(rec []string, i int) string {
	if i < 0 || i >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[i])
}
