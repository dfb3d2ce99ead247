package roster

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Record is one student row from an uploaded roster spreadsheet.
type Record struct {
	ExternalID string
	FullName   string
	Email      string
	Phone      string
	Faculty    string
	Department string
	Level      string
}

// ErrBadRow marks rows missing a required field; ReadAll counts them as
// skipped instead of failing the whole import.
var ErrBadRow = errors.New("row missing required field")

// Header aliases accepted for each field, matched case-insensitively with
// spaces collapsed. The id column covers both external id schemes (JAMB
// and postgraduate registration numbers land in the same column).
var headerAliases = map[string][]string{
	"external_id": {"id", "student_id", "external_id", "jamb_no", "jamb_number", "reg_no", "reg_number", "matric_no"},
	"full_name":   {"name", "full_name", "student_name"},
	"email":       {"email", "email_address"},
	"phone":       {"phone", "phone_number", "mobile"},
	"faculty":     {"faculty"},
	"department":  {"department", "dept"},
	"level":       {"level"},
}

// Reader streams roster records out of a CSV document.
type Reader struct {
	cr   *csv.Reader
	cols map[string]int
	line int
}

// NewReader consumes the header row and maps columns to fields. The id and
// name columns are required; everything else is optional.
func NewReader(r io.Reader) (*Reader, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	cols := make(map[string]int)
	for i, cell := range header {
		name := normalizeHeader(cell)
		for field, aliases := range headerAliases {
			for _, alias := range aliases {
				if name == alias {
					if _, taken := cols[field]; !taken {
						cols[field] = i
					}
				}
			}
		}
	}
	if _, ok := cols["external_id"]; !ok {
		return nil, errors.New("no student id column found")
	}
	if _, ok := cols["full_name"]; !ok {
		return nil, errors.New("no name column found")
	}
	return &Reader{cr: cr, cols: cols, line: 1}, nil
}

// Read returns the next record, io.EOF at the end, or a wrapped ErrBadRow
// for rows missing the id or name.
func (r *Reader) Read() (Record, error) {
	row, err := r.cr.Read()
	if err != nil {
		return Record{}, err
	}
	r.line++

	rec := Record{
		ExternalID: r.cell(row, "external_id"),
		FullName:   r.cell(row, "full_name"),
		Email:      r.cell(row, "email"),
		Phone:      r.cell(row, "phone"),
		Faculty:    r.cell(row, "faculty"),
		Department: r.cell(row, "department"),
		Level:      r.cell(row, "level"),
	}
	if rec.ExternalID == "" || rec.FullName == "" {
		return Record{}, fmt.Errorf("line %d: %w", r.line, ErrBadRow)
	}
	return rec, nil
}

func (r *Reader) cell(row []string, field string) string {
	i, ok := r.cols[field]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

// ReadAll drains the reader, returning parsed records and the number of
// skipped bad rows. Malformed CSV (not just a bad row) still fails.
func ReadAll(src io.Reader) ([]Record, int, error) {
	r, err := NewReader(src)
	if err != nil {
		return nil, 0, err
	}
	var (
		records []Record
		skipped int
	)
	for {
		rec, err := r.Read()
		switch {
		case err == nil:
			records = append(records, rec)
		case errors.Is(err, io.EOF):
			return records, skipped, nil
		case errors.Is(err, ErrBadRow):
			skipped++
		default:
			return nil, skipped, err
		}
	}
}

func normalizeHeader(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, " ", "_")
	s = strings.ReplaceAll(s, "-", "_")
	return s
}
