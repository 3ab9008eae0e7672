package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
)

// Format names a supported export encoding.
type Format string

const (
	FormatCSV Format = "csv"
	FormatPDF Format = "pdf"
)

// Dataset is a titled table. Each row holds one cell per column.
type Dataset struct {
	Title    string
	Subtitle string
	Columns  []string
	Rows     [][]string
}

// Renderer encodes a dataset.
type Renderer interface {
	Render(data Dataset) ([]byte, error)
	ContentType() string
}

// ForFormat returns the renderer for f.
func ForFormat(f Format) (Renderer, error) {
	switch f {
	case FormatCSV:
		return CSVExporter{}, nil
	case FormatPDF:
		return PDFExporter{}, nil
	default:
		return nil, fmt.Errorf("unsupported export format %q", f)
	}
}

// CSVExporter writes the column row followed by the data rows. Title lines
// are omitted so the output stays machine readable.
type CSVExporter struct{}

// ContentType implements Renderer.
func (CSVExporter) ContentType() string { return "text/csv" }

// Render implements Renderer.
func (CSVExporter) Render(data Dataset) ([]byte, error) {
	if len(data.Columns) == 0 {
		return nil, fmt.Errorf("csv requires at least one column")
	}
	buf := &bytes.Buffer{}
	writer := csv.NewWriter(buf)
	if err := writer.Write(data.Columns); err != nil {
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	for i, row := range data.Rows {
		if len(row) != len(data.Columns) {
			return nil, fmt.Errorf("csv row %d has %d cells, want %d", i, len(row), len(data.Columns))
		}
		if err := writer.Write(row); err != nil {
			return nil, fmt.Errorf("write csv row: %w", err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}
	return buf.Bytes(), nil
}
