// Package data loads sample data files for tours, so one tour file can
// narrate different example records on each run.
package data

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"maps"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"

	"docent/internal/core"
)

// Mode defines which row a tour run uses.
type Mode string

const (
	// ModeFirst uses the configured row, the first one by default.
	ModeFirst Mode = "first"
	// ModeRandom picks a random row per run.
	ModeRandom Mode = "random"
)

// Validate reports whether m is a known mode. The empty mode means ModeFirst.
func (m Mode) Validate() error {
	switch m {
	case "", ModeFirst, ModeRandom:
		return nil
	}
	return fmt.Errorf("unknown data mode %q (use first or random)", m)
}

// Source is a loaded data file.
type Source struct {
	name string
	rows []map[string]string
}

// NewSource creates a data source from loaded rows.
func NewSource(name string, rows []map[string]string) *Source {
	return &Source{name: name, rows: rows}
}

func (s *Source) Name() string {
	return s.name
}

func (s *Source) Len() int {
	return len(s.rows)
}

// Row returns a copy of row i, or an error when it is out of range.
func (s *Source) Row(i int) (map[string]string, error) {
	if i < 0 || i >= len(s.rows) {
		return nil, fmt.Errorf("data %s: row %d out of range (%d rows)", s.name, i, len(s.rows))
	}
	return maps.Clone(s.rows[i]), nil
}

// Pick selects the row for one tour run.
func (s *Source) Pick(mode Mode, row int) (map[string]string, error) {
	if len(s.rows) == 0 {
		return nil, fmt.Errorf("data %s: no rows", s.name)
	}
	if mode == ModeRandom {
		return maps.Clone(s.rows[rand.IntN(len(s.rows))]), nil
	}
	return s.Row(row)
}

// LoadFile loads a data file (CSV or JSON). Relative paths are resolved
// against dir, normally the tour file's directory.
func LoadFile(name, path, dir string) (*Source, error) {
	if !filepath.IsAbs(path) {
		path = filepath.Join(dir, path)
	}

	var rows []map[string]string
	var err error
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".csv":
		rows, err = loadCSV(path)
	case ".json":
		rows, err = loadJSON(path)
	default:
		return nil, fmt.Errorf("unsupported file format %q (use .csv or .json)", ext)
	}
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", path, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("data file %s is empty", path)
	}
	return NewSource(name, rows), nil
}

// loadCSV loads a CSV file. First row is headers, subsequent rows are data.
func loadCSV(path string) ([]map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) < 2 {
		return nil, fmt.Errorf("CSV must have header row and at least one data row")
	}

	headers := records[0]
	rows := make([]map[string]string, 0, len(records)-1)
	for _, record := range records[1:] {
		row := make(map[string]string, len(headers))
		for i, header := range headers {
			if i < len(record) {
				row[header] = record[i]
			} else {
				row[header] = ""
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// loadJSON loads a JSON array of objects. Non-string values are rendered
// with their JSON text.
func loadJSON(path string) ([]map[string]string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var raw []map[string]json.RawMessage
	if err := json.Unmarshal(content, &raw); err != nil {
		return nil, fmt.Errorf("JSON must be an array of objects: %w", err)
	}

	rows := make([]map[string]string, 0, len(raw))
	for _, obj := range raw {
		row := make(map[string]string, len(obj))
		for k, v := range obj {
			var s string
			if err := json.Unmarshal(v, &s); err == nil {
				row[k] = s
			} else {
				row[k] = string(v)
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// Inject sets every field of row on vars as "data.<source>.<field>".
func Inject(vars core.Variables, source string, row map[string]string) {
	for field, value := range row {
		vars.Set(fmt.Sprintf("data.%s.%s", source, field), value)
	}
}
