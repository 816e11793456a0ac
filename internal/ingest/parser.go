package ingest

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/xuri/excelize/v2"

	"github.com/taxroll/lead-reconciler/internal/domain"
)

const (
	mimeCSV   = "text/csv"
	mimeXLSX  = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	mimePlain = "text/plain"
)

// Parser turns an uploaded spreadsheet (CSV or XLSX) into raw rows. Format is
// decided by content sniffing, not the uploaded filename: browsers and county
// portals routinely mislabel both.
type Parser struct{}

// NewParser creates a spreadsheet parser
func NewParser() *Parser {
	return &Parser{}
}

// Parse decodes the uploaded bytes into one RawRow per data row, keyed by the
// header row's column names. Returns domain.ErrUnsupportedFormat for
// non-spreadsheet content and domain.ErrNoRows when only a header (or
// nothing) is present.
func (p *Parser) Parse(data []byte) ([]domain.RawRow, error) {
	mtype := mimetype.Detect(data)

	switch {
	case mtype.Is(mimeXLSX):
		return p.parseXLSX(data)
	case mtype.Is(mimeCSV), mtype.Is(mimePlain):
		// county CSV exports without quoting sniff as plain text
		return p.parseCSV(data)
	default:
		return nil, fmt.Errorf("%w: detected %s", domain.ErrUnsupportedFormat, mtype.String())
	}
}

func (p *Parser) parseCSV(data []byte) ([]domain.RawRow, error) {
	reader := csv.NewReader(bytes.NewReader(data))
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, domain.ErrNoRows
	}
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	header = normalizeHeader(header)

	var rows []domain.RawRow
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv row %d: %w", len(rows)+2, err)
		}
		if row := buildRow(header, record); row != nil {
			rows = append(rows, row)
		}
	}

	if len(rows) == 0 {
		return nil, domain.ErrNoRows
	}
	return rows, nil
}

func (p *Parser) parseXLSX(data []byte) ([]domain.RawRow, error) {
	file, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnsupportedFormat, err)
	}
	defer func() { _ = file.Close() }()

	sheets := file.GetSheetList()
	if len(sheets) == 0 {
		return nil, domain.ErrNoRows
	}

	// the lead roll is always the first sheet
	records, err := file.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheets[0], err)
	}
	if len(records) == 0 {
		return nil, domain.ErrNoRows
	}

	header := normalizeHeader(records[0])
	var rows []domain.RawRow
	for _, record := range records[1:] {
		if row := buildRow(header, record); row != nil {
			rows = append(rows, row)
		}
	}

	if len(rows) == 0 {
		return nil, domain.ErrNoRows
	}
	return rows, nil
}

// normalizeHeader trims whitespace and a UTF-8 BOM from column names
func normalizeHeader(header []string) []string {
	out := make([]string, len(header))
	for i, h := range header {
		out[i] = strings.TrimSpace(strings.TrimPrefix(h, "\uFEFF"))
	}
	return out
}

// buildRow zips one record against the header, dropping cells under an empty
// header and skipping rows that are entirely blank. Blank cells are dropped so
// a present-but-empty column never shadows a populated fallback column.
// Short records are padded implicitly; extra cells beyond the header are
// dropped.
func buildRow(header, record []string) domain.RawRow {
	row := make(domain.RawRow, len(header))
	for i, col := range header {
		if col == "" || i >= len(record) {
			continue
		}
		value := strings.TrimSpace(record[i])
		if value == "" {
			continue
		}
		row[col] = value
	}
	if len(row) == 0 {
		return nil
	}
	return row
}
