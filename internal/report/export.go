package report

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/xuri/excelize/v2"

	"github.com/saltfish/freqsweep/internal/domain"
)

const (
	csvFileName  = "backtest_metrics.csv"
	xlsxFileName = "backtest_metrics.xlsx"
	xlsxSheet    = "Metrics"
)

// metricColumns returns the known metrics followed by any other metric names
// present in the batch, sorted.
func metricColumns(result *domain.BatchResult) []string {
	known := make(map[string]bool, len(domain.MetricNames))
	for _, n := range domain.MetricNames {
		known[n] = true
	}
	var extra []string
	seen := make(map[string]bool)
	for _, o := range result.Outcomes {
		for k := range o.Metrics {
			if !known[k] && !seen[k] {
				seen[k] = true
				extra = append(extra, k)
			}
		}
	}
	sort.Strings(extra)
	return append(append([]string(nil), domain.MetricNames...), extra...)
}

// exportRows returns the header and one row per validated unit in batch order.
func exportRows(result *domain.BatchResult) ([]string, [][]string) {
	cols := metricColumns(result)
	header := append([]string{"unit", "strategy", "timeframe"}, cols...)

	var rows [][]string
	for _, o := range result.Ordered() {
		if o.State != domain.UnitStateValidated {
			continue
		}
		row := []string{o.Unit.ID(), o.Unit.Strategy, o.Unit.Timeframe}
		for _, c := range cols {
			v, _ := o.Metrics.Get(c)
			row = append(row, v)
		}
		rows = append(rows, row)
	}
	return header, rows
}

// ExportCSV writes the metrics of validated units to dir/backtest_metrics.csv.
func ExportCSV(dir string, result *domain.BatchResult) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create export directory: %w", err)
	}
	path := filepath.Join(dir, csvFileName)

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create csv file: %w", err)
	}
	defer f.Close()

	header, rows := exportRows(result)
	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		return "", fmt.Errorf("failed to write csv header: %w", err)
	}
	if err := w.WriteAll(rows); err != nil {
		return "", fmt.Errorf("failed to write csv rows: %w", err)
	}
	return path, nil
}

// ExportXLSX writes the metrics of validated units to dir/backtest_metrics.xlsx.
// A numeric profit_value column is appended.
func ExportXLSX(dir string, result *domain.BatchResult) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create export directory: %w", err)
	}
	path := filepath.Join(dir, xlsxFileName)

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", xlsxSheet); err != nil {
		return "", fmt.Errorf("failed to name sheet: %w", err)
	}

	header, rows := exportRows(result)
	header = append(header, "profit_value")
	if err := setRow(f, 1, header); err != nil {
		return "", err
	}

	for i, row := range rows {
		r := i + 2
		values := make([]interface{}, 0, len(row)+1)
		for _, v := range row {
			values = append(values, v)
		}
		o, _ := result.Get(row[0])
		raw, _ := o.Metrics.Get(domain.MetricTotalProfit)
		profit, _ := ProfitValue(raw)
		values = append(values, profit)
		if err := setRow(f, r, values); err != nil {
			return "", err
		}
	}
	if err := f.SetColWidth(xlsxSheet, "A", "A", 28); err != nil {
		return "", fmt.Errorf("failed to size column: %w", err)
	}

	if err := f.SaveAs(path); err != nil {
		return "", fmt.Errorf("failed to save workbook: %w", err)
	}
	return path, nil
}

func setRow[T any](f *excelize.File, row int, values []T) error {
	for i, v := range values {
		cell, err := excelize.CoordinatesToCellName(i+1, row)
		if err != nil {
			return fmt.Errorf("failed to address cell: %w", err)
		}
		if err := f.SetCellValue(xlsxSheet, cell, v); err != nil {
			return fmt.Errorf("failed to set cell %s: %w", cell, err)
		}
	}
	return nil
}
