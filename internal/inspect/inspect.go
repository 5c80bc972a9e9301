// Package inspect checks uploaded spreadsheets and summarizes their shape
// before they are handed to the analysis service.
package inspect

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/xuri/excelize/v2"

	"github.com/hyperjump/datalens/internal/apperrors"
	"github.com/hyperjump/datalens/internal/models"
)

const (
	xlsxMIME      = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	textMIME      = "text/plain"
	utf8BOM       = "\uFEFF"
	defaultSample = 5
)

// Result describes an accepted upload.
type Result struct {
	FileType string
	MIME     string
	Metadata models.SourceMetadata
}

// Inspector validates uploads by extension and content and reads their
// header row, row count and a few sample rows.
type Inspector struct {
	sampleRows int
}

// New returns an Inspector that keeps up to sampleRows sample rows.
func New(sampleRows int) *Inspector {
	if sampleRows <= 0 {
		sampleRows = defaultSample
	}
	return &Inspector{sampleRows: sampleRows}
}

// FileType maps a file name to csv or xlsx. Any other extension is a
// ValidationError.
func FileType(name string) (string, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv":
		return models.FileTypeCSV, nil
	case ".xlsx":
		return models.FileTypeXLSX, nil
	}
	return "", apperrors.NewValidationError("file", "only CSV and XLSX files are allowed")
}

// Inspect checks that content matches the extension of name and summarizes it.
func (i *Inspector) Inspect(name string, content []byte) (*Result, error) {
	fileType, err := FileType(name)
	if err != nil {
		return nil, err
	}
	if len(content) == 0 {
		return nil, apperrors.NewValidationError("file", "is empty")
	}

	detected := mimetype.Detect(content)
	var rows [][]string
	switch fileType {
	case models.FileTypeCSV:
		if !isText(detected) {
			return nil, apperrors.NewValidationError("file", fmt.Sprintf("content looks like %s, not CSV", detected.String()))
		}
		rows, err = readCSV(content)
	case models.FileTypeXLSX:
		if !detected.Is(xlsxMIME) {
			return nil, apperrors.NewValidationError("file", fmt.Sprintf("content looks like %s, not XLSX", detected.String()))
		}
		rows, err = readXLSX(content)
	}
	if err != nil {
		return nil, apperrors.NewValidationError("file", err.Error())
	}

	return &Result{
		FileType: fileType,
		MIME:     detected.String(),
		Metadata: i.summarize(rows),
	}, nil
}

func isText(m *mimetype.MIME) bool {
	for ; m != nil; m = m.Parent() {
		if m.Is(textMIME) {
			return true
		}
	}
	return false
}

func readCSV(content []byte) ([][]string, error) {
	content = bytes.TrimPrefix(content, []byte(utf8BOM))
	r := csv.NewReader(bytes.NewReader(content))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.TrimLeadingSpace = true

	var rows [][]string
	for {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse CSV: %w", err)
		}
		rows = append(rows, record)
	}
	return rows, nil
}

// readXLSX reads the first sheet.
func readXLSX(content []byte) ([][]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("open Excel: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, errors.New("workbook has no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("get rows for sheet %q: %w", sheets[0], err)
	}
	return rows, nil
}

// summarize treats the first non-blank row as the header.
func (i *Inspector) summarize(rows [][]string) models.SourceMetadata {
	rows = dropBlank(rows)
	meta := models.SourceMetadata{Columns: []string{}, SampleData: []map[string]string{}}
	if len(rows) == 0 {
		return meta
	}

	header := rows[0]
	meta.Columns = make([]string, len(header))
	seen := make(map[string]bool, len(header))
	for j, h := range header {
		h = strings.TrimSpace(h)
		if h == "" {
			h = "column_" + strconv.Itoa(j+1)
		}
		name := h
		for n := 2; seen[name]; n++ {
			name = h + "_" + strconv.Itoa(n)
		}
		seen[name] = true
		meta.Columns[j] = name
	}
	meta.ColumnCount = len(meta.Columns)
	meta.RowCount = len(rows) - 1

	for _, row := range rows[1:] {
		if len(meta.SampleData) == i.sampleRows {
			break
		}
		sample := make(map[string]string, len(meta.Columns))
		for j, col := range meta.Columns {
			if j < len(row) {
				sample[col] = row[j]
			} else {
				sample[col] = ""
			}
		}
		meta.SampleData = append(meta.SampleData, sample)
	}
	return meta
}

func dropBlank(rows [][]string) [][]string {
	out := rows[:0:0]
	for _, row := range rows {
		for _, cell := range row {
			if strings.TrimSpace(cell) != "" {
				out = append(out, row)
				break
			}
		}
	}
	return out
}
