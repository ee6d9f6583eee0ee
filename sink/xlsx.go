package sink

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/xuri/excelize/v2"

	"github.com/onnwee/chat-tender/backend/capture"
)

// SheetName is the workbook tab all captured rows land on.
const SheetName = "Chat Log"

// colWidths pairs with capture.Columns: timestamp, channel, username,
// displayName, message, then the user-info columns.
var colWidths = []float64{24, 16, 18, 18, 60, 14, 12, 28, 28}

// XLSX appends records to a workbook sheet. The workbook is held in memory
// and saved to disk on every flush (read-modify-write), so a crashed session
// loses at most one flush interval of rows. A failed save rolls the write
// cursor back, so the retried flush overwrites the same cells instead of
// duplicating them.
type XLSX struct {
	path            string
	includeUserInfo bool

	file    *excelize.File
	nextRow int
}

// NewXLSX builds an XLSX writer for cfg.Destination.
func NewXLSX(cfg Config) *XLSX {
	return &XLSX{path: cfg.Destination, includeUserInfo: cfg.IncludeUserInfo}
}

// EnsureDestination creates parent directories, opens or creates the
// workbook, and writes the styled header when the sheet is new.
func (x *XLSX) EnsureDestination(ctx context.Context) error {
	if dir := filepath.Dir(x.path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return capture.E(capture.KindIO, "create output directory", err)
		}
	}

	if _, err := os.Stat(x.path); err == nil {
		return x.openExisting()
	} else if !errors.Is(err, fs.ErrNotExist) {
		return capture.E(capture.KindIO, "stat workbook", err)
	}

	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", SheetName); err != nil {
		return capture.E(capture.KindIO, "create sheet", err)
	}
	if err := x.writeHeader(f); err != nil {
		return err
	}
	if err := f.SaveAs(x.path); err != nil {
		return capture.E(capture.KindIO, "save workbook", err)
	}
	x.file = f
	x.nextRow = 2
	return nil
}

func (x *XLSX) openExisting() error {
	f, err := excelize.OpenFile(x.path)
	if err != nil {
		return capture.E(capture.KindIO, "open workbook", err)
	}
	idx, err := f.GetSheetIndex(SheetName)
	if err != nil {
		return capture.E(capture.KindIO, "locate sheet", err)
	}
	if idx == -1 {
		if _, err := f.NewSheet(SheetName); err != nil {
			return capture.E(capture.KindIO, "create sheet", err)
		}
		if err := x.writeHeader(f); err != nil {
			return err
		}
		x.file = f
		x.nextRow = 2
		return nil
	}
	rows, err := f.GetRows(SheetName)
	if err != nil {
		return capture.E(capture.KindIO, "read sheet", err)
	}
	x.file = f
	x.nextRow = len(rows) + 1
	if len(rows) == 0 {
		if err := x.writeHeader(f); err != nil {
			return err
		}
		x.nextRow = 2
	}
	return nil
}

// writeHeader writes the bolded header row and fixed column widths.
func (x *XLSX) writeHeader(f *excelize.File) error {
	cols := capture.Columns(x.includeUserInfo)
	header := make([]interface{}, len(cols))
	for i, c := range cols {
		header[i] = c
	}
	if err := f.SetSheetRow(SheetName, "A1", &header); err != nil {
		return capture.E(capture.KindIO, "write header row", err)
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return capture.E(capture.KindIO, "create header style", err)
	}
	if err := f.SetRowStyle(SheetName, 1, 1, bold); err != nil {
		return capture.E(capture.KindIO, "style header row", err)
	}
	for i := range cols {
		name, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			return capture.E(capture.KindIO, "resolve column name", err)
		}
		width := colWidths[len(colWidths)-1]
		if i < len(colWidths) {
			width = colWidths[i]
		}
		if err := f.SetColWidth(SheetName, name, name, width); err != nil {
			return capture.E(capture.KindIO, "set column width", err)
		}
	}
	return nil
}

// AppendRows writes rows below the current cursor and saves the workbook.
func (x *XLSX) AppendRows(ctx context.Context, rows []capture.ChatRecord) error {
	startRow := x.nextRow
	for _, r := range rows {
		cell, err := excelize.CoordinatesToCellName(1, x.nextRow)
		if err != nil {
			x.nextRow = startRow
			return capture.E(capture.KindSinkWrite, "resolve cell", err)
		}
		values := r.Row(x.includeUserInfo)
		cells := make([]interface{}, len(values))
		for i, v := range values {
			cells[i] = v
		}
		if err := x.file.SetSheetRow(SheetName, cell, &cells); err != nil {
			x.nextRow = startRow
			return capture.E(capture.KindSinkWrite, "write row", err)
		}
		x.nextRow++
	}
	if err := x.file.SaveAs(x.path); err != nil {
		// Roll back so the retry overwrites the same cells.
		x.nextRow = startRow
		return capture.E(capture.KindSinkWrite, "save workbook", err)
	}
	return nil
}

// Close saves and releases the workbook. Safe to call twice.
func (x *XLSX) Close(ctx context.Context) error {
	if x.file == nil {
		return nil
	}
	serr := x.file.SaveAs(x.path)
	cerr := x.file.Close()
	x.file = nil
	if serr != nil {
		return capture.E(capture.KindSinkWrite, "save workbook", serr)
	}
	if cerr != nil {
		return capture.E(capture.KindIO, "close workbook", cerr)
	}
	return nil
}
