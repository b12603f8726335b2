package audit

import (
	"fmt"
	"io"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"
)

const (
	maxSheetName = 31
	maxColWidth  = 60
)

// Workbook is the xlsx writer used by the export.
type Workbook interface {
	WriteTable(name string, columns []string, rows [][]any) error
	Save(w io.Writer) error
	Close() error
}

// ExcelizeWorkbook writes one sheet per table.
type ExcelizeWorkbook struct {
	file        *excelize.File
	sheets      int
	headerStyle int
}

func NewExcelizeWorkbook() (Workbook, error) {
	f := excelize.NewFile()
	style, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"#E0E0E0"}},
	})
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("header style: %w", err)
	}
	return &ExcelizeWorkbook{file: f, headerStyle: style}, nil
}

func sheetName(name string) string {
	if utf8.RuneCountInString(name) <= maxSheetName {
		return name
	}
	return string([]rune(name)[:maxSheetName])
}

// WriteTable adds a sheet with a bold frozen header row and an autofilter.
func (w *ExcelizeWorkbook) WriteTable(name string, columns []string, rows [][]any) error {
	name = sheetName(name)
	if w.sheets == 0 {
		if err := w.file.SetSheetName("Sheet1", name); err != nil {
			return fmt.Errorf("rename sheet %s: %w", name, err)
		}
	} else if _, err := w.file.NewSheet(name); err != nil {
		return fmt.Errorf("create sheet %s: %w", name, err)
	}
	w.sheets++

	header := make([]any, len(columns))
	widths := make([]int, len(columns))
	for i, c := range columns {
		header[i] = c
		widths[i] = utf8.RuneCountInString(c)
	}
	if err := w.file.SetSheetRow(name, "A1", &header); err != nil {
		return err
	}

	for r, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, r+2)
		if err != nil {
			return err
		}
		row := row
		if err := w.file.SetSheetRow(name, cell, &row); err != nil {
			return fmt.Errorf("%s row %d: %w", name, r+1, err)
		}
		for i, v := range row {
			if i < len(widths) {
				if n := utf8.RuneCountInString(fmt.Sprint(v)); n > widths[i] {
					widths[i] = n
				}
			}
		}
	}

	if len(columns) == 0 {
		return nil
	}
	last, err := excelize.ColumnNumberToName(len(columns))
	if err != nil {
		return err
	}
	if err := w.file.SetCellStyle(name, "A1", last+"1", w.headerStyle); err != nil {
		return err
	}
	for i, width := range widths {
		col, _ := excelize.ColumnNumberToName(i + 1)
		if width > maxColWidth {
			width = maxColWidth
		}
		_ = w.file.SetColWidth(name, col, col, float64(width+2))
	}
	_ = w.file.SetPanes(name, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"})
	return w.file.AutoFilter(name, fmt.Sprintf("A1:%s%d", last, len(rows)+1), nil)
}

func (w *ExcelizeWorkbook) Save(wr io.Writer) error {
	return w.file.Write(wr)
}

func (w *ExcelizeWorkbook) Close() error {
	return w.file.Close()
}
