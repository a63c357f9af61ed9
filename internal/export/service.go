package export

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/joseph-ayodele/pdf2schema/internal/metrics"
	"github.com/joseph-ayodele/pdf2schema/internal/workflow"
)

const (
	SheetSchema  = "Schema"
	SheetMetrics = "Metrics"
)

// Service produces XLSX workbooks for conversion results.
type Service struct {
	logger *slog.Logger
}

func NewService(logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{logger: logger}
}

// XLSX returns a workbook with one row per field. A Metrics sheet is added when
// eval is not nil.
func (s *Service) XLSX(res workflow.Result, eval *metrics.Report) ([]byte, error) {
	start := time.Now()

	f := excelize.NewFile()
	defer func() { _ = f.Close() }()
	if err := f.SetSheetName("Sheet1", SheetSchema); err != nil {
		return nil, err
	}

	headers := []string{"Table", "Field", "Type", "Description", "Confidence"}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(SheetSchema, cell, h)
	}

	row := 2
	if res.Document != nil {
		for _, t := range res.Document.Tables {
			for _, fld := range t.Fields {
				write := func(col int, v any) {
					cell, _ := excelize.CoordinatesToCellName(col, row)
					_ = f.SetCellValue(SheetSchema, cell, v)
				}
				write(1, t.Name)
				write(2, fld.Name)
				write(3, fld.Type)
				write(4, truncate(fld.Description, 500))
				if fld.ConfidenceScore != nil {
					write(5, *fld.ConfidenceScore)
				} else {
					write(5, "")
				}
				row++
			}
		}
	}

	// Widen a few columns
	_ = f.SetColWidth(SheetSchema, "A", "B", 24)
	_ = f.SetColWidth(SheetSchema, "C", "C", 14)
	_ = f.SetColWidth(SheetSchema, "D", "D", 72)
	_ = f.SetColWidth(SheetSchema, "E", "E", 12)

	if eval != nil {
		if err := writeMetricsSheet(f, res, eval); err != nil {
			return nil, err
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}

	s.logger.Info("export.xlsx.ok",
		"status", res.Status,
		"rows", row-2,
		"metrics", eval != nil,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return buf.Bytes(), nil
}

func writeMetricsSheet(f *excelize.File, res workflow.Result, eval *metrics.Report) error {
	if _, err := f.NewSheet(SheetMetrics); err != nil {
		return err
	}
	rows := [][]any{
		{"Metric", "Value"},
		{"Status", string(res.Status)},
		{"Iterations", res.Iterations},
		{"Accuracy", eval.Accuracy},
		{"Coverage", eval.Coverage},
		{"Expected features", eval.Expected},
		{"Correct features", eval.Correct},
		{"Described features", eval.Described},
		{"Accuracy messages", eval.AccuracyMessage()},
		{"Coverage messages", eval.CoverageMessage()},
	}
	if res.ConfidenceScore != nil {
		rows = append(rows, []any{"Confidence", *res.ConfidenceScore})
	}
	for i, r := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := f.SetSheetRow(SheetMetrics, cell, &r); err != nil {
			return err
		}
	}
	_ = f.SetColWidth(SheetMetrics, "A", "A", 22)
	_ = f.SetColWidth(SheetMetrics, "B", "B", 80)
	return nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if n <= 0 || len(r) <= n {
		return s
	}
	if n <= 1 {
		return string(r[:n])
	}
	return string(r[:n-1]) + "…"
}
