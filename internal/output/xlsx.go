package output

import (
	"io"
	"sync"

	"github.com/PentesterFlow/PSD2Scout/pkg/discovery"
	"github.com/xuri/excelize/v2"
)

// SheetName is the worksheet holding the inventory.
const SheetName = "APIs"

// XLSXWriter writes endpoints as an Excel workbook.
type XLSXWriter struct {
	mu     sync.Mutex
	writer io.Writer
	closed bool
}

// NewXLSXWriter creates a new XLSX writer.
func NewXLSXWriter(w io.Writer) *XLSXWriter {
	return &XLSXWriter{writer: w}
}

// WriteAPIs writes a workbook with a header row and one row per endpoint.
// An empty inventory returns ErrNoAPIs.
func (x *XLSXWriter) WriteAPIs(apis []discovery.APIEndpoint) error {
	if len(apis) == 0 {
		return ErrNoAPIs
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	if x.closed {
		return nil
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetName); err != nil {
		return err
	}

	header := make([]interface{}, len(Columns))
	for i, c := range Columns {
		header[i] = c
	}
	if err := f.SetSheetRow(SheetName, "A1", &header); err != nil {
		return err
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return err
	}
	if err := f.SetRowStyle(SheetName, 1, 1, bold); err != nil {
		return err
	}

	for i, api := range apis {
		cells := Row(api)
		row := make([]interface{}, len(cells))
		for j, v := range cells {
			row[j] = v
		}
		// Keep the score numeric so it sorts in spreadsheets.
		row[7] = api.ConfidenceScore

		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(SheetName, cell, &row); err != nil {
			return err
		}
	}

	if err := f.SetColWidth(SheetName, "A", "B", 24); err != nil {
		return err
	}
	if err := f.SetColWidth(SheetName, "C", "G", 40); err != nil {
		return err
	}

	return f.Write(x.writer)
}

// WriteResult writes the endpoints of result.
func (x *XLSXWriter) WriteResult(result *discovery.DiscoveryResult) error {
	return x.WriteAPIs(result.APIs)
}

// Flush is a no-op; workbooks are written whole.
func (x *XLSXWriter) Flush() error {
	return nil
}

// Close closes the writer.
func (x *XLSXWriter) Close() error {
	x.mu.Lock()
	defer x.mu.Unlock()

	x.closed = true

	if closer, ok := x.writer.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}
