package correlate

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/oobits/snare/internal/models"
)

// Export formats.
const (
	FormatJSON = "json"
	FormatCSV  = "csv"
	FormatXLSX = "xlsx"
)

// exportColumns is the fixed column order shared by CSV and XLSX.
var exportColumns = []string{"Type", "Timestamp", "Source IP", "Country", "City", "Details"}

// Export writes list (expected in ascending capture order) to w in the
// requested format.
func Export(w io.Writer, list []models.Interaction, format string) error {
	switch format {
	case FormatJSON:
		return ExportJSON(w, list)
	case FormatCSV:
		return ExportCSV(w, list)
	case FormatXLSX:
		return ExportXLSX(w, list)
	default:
		return fmt.Errorf("unknown export format %q", format)
	}
}

// ExportJSON writes the interactions as a JSON array.
func ExportJSON(w io.Writer, list []models.Interaction) error {
	if list == nil {
		list = []models.Interaction{}
	}
	enc := json.NewEncoder(w)
	return enc.Encode(list)
}

// ExportCSV writes the fixed-column CSV form. Every field is wrapped in
// double quotes with internal quotes doubled, matching what downstream
// spreadsheet tooling expects regardless of field content.
func ExportCSV(w io.Writer, list []models.Interaction) error {
	lines := make([]string, 0, len(list)+1)
	lines = append(lines, strings.Join(exportColumns, ","))
	for _, i := range list {
		lines = append(lines, strings.Join(quoteAll(exportRow(i)), ","))
	}
	_, err := io.WriteString(w, strings.Join(lines, "\n")+"\n")
	return err
}

// ExportXLSX writes the same columns as a single-sheet workbook.
func ExportXLSX(w io.Writer, list []models.Interaction) error {
	f := excelize.NewFile()
	defer f.Close()

	sheet := "Interactions"
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return err
	}

	header := make([]any, len(exportColumns))
	for i, c := range exportColumns {
		header[i] = c
	}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return err
	}

	for n, i := range list {
		row := exportRow(i)
		values := make([]any, len(row))
		for j, v := range row {
			values[j] = v
		}
		cell, err := excelize.CoordinatesToCellName(1, n+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &values); err != nil {
			return err
		}
	}

	return f.Write(w)
}

func exportRow(i models.Interaction) []string {
	return []string{
		TypeLabel(i),
		time.UnixMilli(i.OccurredAt).UTC().Format(time.RFC3339),
		i.RemoteIP,
		i.Location.Country,
		i.Location.City,
		Details(i),
	}
}

func quoteAll(fields []string) []string {
	out := make([]string, len(fields))
	for i, f := range fields {
		out[i] = `"` + strings.ReplaceAll(f, `"`, `""`) + `"`
	}
	return out
}
