package export

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"github.com/JakeFAU/places-search/internal/search"
)

// SheetName is the worksheet holding exported places.
const SheetName = "Results"

var xlsxHeader = []any{
	"Position", "Name", "Address", "Phone", "Phone (intl)",
	"Rating", "Reviews", "Category", "Website", "External ID",
}

// WriteXLSX writes a single-sheet workbook. The "Phone (intl)" column prefixes
// each phone with callingCode.
func WriteXLSX(w io.Writer, places []search.Place, callingCode string) (err error) {
	f := excelize.NewFile()
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close workbook: %w", cerr)
		}
	}()

	if err := f.SetSheetName("Sheet1", SheetName); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	if err := f.SetSheetRow(SheetName, "A1", &xlsxHeader); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("header style: %w", err)
	}
	if err := f.SetRowStyle(SheetName, 1, 1, bold); err != nil {
		return fmt.Errorf("apply header style: %w", err)
	}

	for i, p := range places {
		row := []any{
			p.Position,
			p.Name,
			p.Address,
			deref(p.Phone),
			IntlPhone(deref(p.Phone), callingCode),
			cellFloat(p.Rating),
			cellInt(p.ReviewCount),
			deref(p.Category),
			deref(p.Website),
			deref(p.ExternalID),
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return fmt.Errorf("cell name: %w", err)
		}
		if err := f.SetSheetRow(SheetName, cell, &row); err != nil {
			return fmt.Errorf("write row %d: %w", p.Position, err)
		}
	}
	if err := f.SetColWidth(SheetName, "B", "C", 40); err != nil {
		return fmt.Errorf("set column width: %w", err)
	}
	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func cellFloat(v *float64) any {
	if v == nil {
		return ""
	}
	return *v
}

func cellInt(v *int) any {
	if v == nil {
		return ""
	}
	return *v
}
