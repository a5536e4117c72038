package export

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/JakeFAU/places-search/internal/search"
)

var csvHeader = []string{
	"position", "name", "address", "phone", "rating",
	"review_count", "category", "website", "external_id",
}

// WriteCSV writes a header row and one row per place. Absent optional fields
// are written as empty cells. Records end in "\n" and line breaks inside a
// cell are written as "\n", so ReadCSV returns exactly the text it was given
// for any place built through search.RawPlace.ToPlace.
func WriteCSV(w io.Writer, places []search.Place) error {
	cw := csv.NewWriter(w)
	cw.UseCRLF = false
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, p := range places {
		row := []string{
			strconv.Itoa(p.Position),
			p.Name,
			p.Address,
			deref(p.Phone),
			formatFloat(p.Rating),
			formatInt(p.ReviewCount),
			deref(p.Category),
			deref(p.Website),
			deref(p.ExternalID),
		}
		for i, cell := range row {
			row[i] = search.NormalizeLineBreaks(cell)
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write csv row %d: %w", p.Position, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}

// ReadCSV parses a document produced by WriteCSV.
func ReadCSV(r io.Reader) ([]search.Place, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(csvHeader)
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	for i, name := range csvHeader {
		if header[i] != name {
			return nil, fmt.Errorf("unexpected csv column %d: %q", i, header[i])
		}
	}

	var places []search.Place
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return places, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read csv row: %w", err)
		}
		p, err := parseRow(row)
		if err != nil {
			return nil, err
		}
		places = append(places, p)
	}
}

func parseRow(row []string) (search.Place, error) {
	pos, err := strconv.Atoi(row[0])
	if err != nil {
		return search.Place{}, fmt.Errorf("parse position %q: %w", row[0], err)
	}
	p := search.Place{
		Position:   pos,
		Name:       row[1],
		Address:    row[2],
		Phone:      optional(row[3]),
		Category:   optional(row[6]),
		Website:    optional(row[7]),
		ExternalID: optional(row[8]),
	}
	if row[4] != "" {
		v, err := strconv.ParseFloat(row[4], 64)
		if err != nil {
			return search.Place{}, fmt.Errorf("parse rating %q: %w", row[4], err)
		}
		p.Rating = &v
	}
	if row[5] != "" {
		v, err := strconv.Atoi(row[5])
		if err != nil {
			return search.Place{}, fmt.Errorf("parse review count %q: %w", row[5], err)
		}
		p.ReviewCount = &v
	}
	return p, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func formatFloat(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

func formatInt(v *int) string {
	if v == nil {
		return ""
	}
	return strconv.Itoa(*v)
}
