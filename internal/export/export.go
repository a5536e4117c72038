// Package export renders the results of a completed search job as CSV, JSON,
// or an XLSX workbook. Exports work on a snapshot: filtering never mutates
// the job they were given.
package export

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/JakeFAU/places-search/internal/search"
)

// Format is an export file format.
type Format string

// Supported formats.
const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
	FormatXLSX Format = "xlsx"
)

// ErrUnknownFormat is returned for unsupported format names.
var ErrUnknownFormat = errors.New("unknown export format")

// ParseFormat maps a user-supplied name to a Format. Empty means CSV.
func ParseFormat(name string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(name))) {
	case "", FormatCSV:
		return FormatCSV, nil
	case FormatJSON:
		return FormatJSON, nil
	case FormatXLSX:
		return FormatXLSX, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, name)
	}
}

// ContentType returns the MIME type served for f.
func (f Format) ContentType() string {
	switch f {
	case FormatJSON:
		return "application/json"
	case FormatXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	default:
		return "text/csv; charset=utf-8"
	}
}

// Options selects the format and row filter of an export.
type Options struct {
	Format    Format
	PhoneOnly bool
}

// Filename returns the download name for a job export.
func Filename(jobID string, f Format) string {
	return fmt.Sprintf("places-%s.%s", jobID, f)
}

// Filter returns the places to export. The input slice is never modified.
func Filter(places []search.Place, phoneOnly bool) []search.Place {
	out := make([]search.Place, 0, len(places))
	for _, p := range places {
		if phoneOnly && !p.HasPhone() {
			continue
		}
		out = append(out, p)
	}
	return out
}

// Write renders the results of a completed job to w.
func Write(w io.Writer, job search.Job, opts Options) error {
	if job.Status != search.JobStatusCompleted {
		return fmt.Errorf("export job %s (%s): %w", job.ID, job.Status, search.ErrNotCompleted)
	}
	places := Filter(job.Results, opts.PhoneOnly)
	switch opts.Format {
	case "", FormatCSV:
		return WriteCSV(w, places)
	case FormatJSON:
		return WriteJSON(w, places)
	case FormatXLSX:
		return WriteXLSX(w, places, InferCallingCode(job.Location()))
	default:
		return fmt.Errorf("%w: %q", ErrUnknownFormat, opts.Format)
	}
}

// WriteJSON writes places as an indented JSON array.
func WriteJSON(w io.Writer, places []search.Place) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if places == nil {
		places = []search.Place{}
	}
	if err := enc.Encode(places); err != nil {
		return fmt.Errorf("encode json export: %w", err)
	}
	return nil
}
