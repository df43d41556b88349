package exporter

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/xuri/excelize/v2"

	"github.com/ino-taku/mf-importer/internal/normalize"
)

const (
	// RecordsSheet holds the normalized records.
	RecordsSheet = "raw_csv"
	// SummarySheet holds per-category totals.
	SummarySheet = "summary"
)

func writeXLSX(path string, rs *normalize.RecordSet) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), RecordsSheet); err != nil {
		return err
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return err
	}

	headers := make([]interface{}, len(rs.Columns))
	for i, col := range rs.Columns {
		headers[i] = col
	}
	rows := make([][]interface{}, len(rs.Records))
	for i, r := range rs.Records {
		rows[i] = recordCells(rs.Columns, r)
	}
	if err := writeSheet(f, RecordsSheet, bold, headers, rows); err != nil {
		return err
	}

	if rs.Has(normalize.ColCategory) && rs.Has(normalize.ColAmount) {
		if _, err := f.NewSheet(SummarySheet); err != nil {
			return err
		}
		summaries := Summarize(rs)
		srows := make([][]interface{}, len(summaries))
		for i, s := range summaries {
			srows[i] = summaryRow(s)
		}
		if err := writeSheet(f, SummarySheet, bold, summaryHeaders(), srows); err != nil {
			return err
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	return f.SaveAs(path)
}

// writeSheet streams a bold header row followed by rows.
func writeSheet(f *excelize.File, sheet string, headerStyle int, headers []interface{}, rows [][]interface{}) error {
	sw, err := f.NewStreamWriter(sheet)
	if err != nil {
		return err
	}
	header := make([]interface{}, len(headers))
	for i, h := range headers {
		header[i] = excelize.Cell{StyleID: headerStyle, Value: h}
	}
	if err := sw.SetRow("A1", header); err != nil {
		return err
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := sw.SetRow(cell, row); err != nil {
			return err
		}
	}
	return sw.Flush()
}

// recordCells keeps amounts numeric so spreadsheet formulas work on them.
func recordCells(columns []string, r normalize.Record) []interface{} {
	cells := make([]interface{}, len(columns))
	for i, col := range columns {
		if col == normalize.ColAmount && r.Amount != nil {
			cells[i] = *r.Amount
			continue
		}
		cells[i] = r.Value(col)
	}
	return cells
}
