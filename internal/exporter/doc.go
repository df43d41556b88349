// Package exporter writes a normalized record set to local files for offline
// inspection.
//
// CSVWriter produces UTF-8 CSV with a byte order mark so spreadsheet tools
// detect the encoding. The XLSX writer produces a workbook with the records
// on a "raw_csv" sheet and per-category totals on a "summary" sheet.
//
// Example usage:
//
//	exp := exporter.New(logger)
//	err := exp.Write("out/moneyforward_202505.xlsx", rs)
package exporter
