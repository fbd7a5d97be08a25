// Package sheet reads merchant input spreadsheets (XLSX or CSV), turns them
// into records, and writes the enriched artifact back out.
package sheet

import (
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

// ErrUnsupportedFormat is returned for files that are neither XLSX nor CSV.
var ErrUnsupportedFormat = eris.New("sheet: unsupported file format")

// Table is a header row plus data rows.
type Table struct {
	Header []string
	Rows   [][]string
}

// Index returns the position of the named header, matched
// case-insensitively after trimming, or -1.
func (t Table) Index(name string) int {
	name = strings.TrimSpace(name)
	if name == "" {
		return -1
	}
	for i, h := range t.Header {
		if strings.EqualFold(strings.TrimSpace(h), name) {
			return i
		}
	}
	return -1
}

// Cell returns the value at data row r (0-based) and column c, or "" when
// the row is short.
func (t Table) Cell(r, c int) string {
	if r < 0 || r >= len(t.Rows) || c < 0 || c >= len(t.Rows[r]) {
		return ""
	}
	return t.Rows[r][c]
}

// Options configures reading.
type Options struct {
	SheetName string // XLSX only; default is the first sheet
	Delimiter rune   // CSV only; default ','
}

// ReadTable reads the first row of path as the header and the rest as data.
// Trailing empty rows are dropped.
func ReadTable(path string, opts Options) (Table, error) {
	var rows [][]string
	var err error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		rows, err = readXLSX(path, opts)
	case ".csv", ".txt":
		rows, err = readCSV(path, opts)
	default:
		return Table{}, eris.Wrapf(ErrUnsupportedFormat, "read %s", path)
	}
	if err != nil {
		return Table{}, err
	}

	for len(rows) > 0 && emptyRow(rows[len(rows)-1]) {
		rows = rows[:len(rows)-1]
	}
	if len(rows) == 0 {
		return Table{}, eris.Errorf("sheet: %s has no header row", path)
	}
	return Table{Header: rows[0], Rows: rows[1:]}, nil
}

func emptyRow(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

func readXLSX(path string, opts Options) ([][]string, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "sheet: open xlsx")
	}

	var sh *xlsx.Sheet
	switch {
	case opts.SheetName != "":
		s, ok := f.Sheet[opts.SheetName]
		if !ok {
			return nil, eris.Errorf("sheet: sheet %q not found", opts.SheetName)
		}
		sh = s
	case len(f.Sheets) == 0:
		return nil, eris.Errorf("sheet: %s has no sheets", path)
	default:
		sh = f.Sheets[0]
	}

	rows := make([][]string, 0, len(sh.Rows))
	for _, row := range sh.Rows {
		if row == nil {
			rows = append(rows, nil)
			continue
		}
		cells := make([]string, len(row.Cells))
		for j, cell := range row.Cells {
			cells[j] = cell.String()
		}
		rows = append(rows, cells)
	}
	return rows, nil
}

func readCSV(path string, opts Options) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrap(err, "sheet: open csv")
	}
	defer f.Close() //nolint:errcheck

	r := csv.NewReader(f)
	if opts.Delimiter != 0 {
		r.Comma = opts.Delimiter
	}
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	var rows [][]string
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrap(err, "sheet: read csv row")
		}
		rows = append(rows, rec)
	}
	if len(rows) > 0 && len(rows[0]) > 0 {
		rows[0][0] = strings.TrimPrefix(rows[0][0], "\ufeff")
	}
	return rows, nil
}

// WriteTable writes t to path as XLSX or CSV, chosen by extension. The file
// is replaced atomically.
func WriteTable(path string, t Table) error {
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".xlsx" && ext != ".csv" {
		return eris.Wrapf(ErrUnsupportedFormat, "write %s", path)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return eris.Wrap(err, "sheet: create output dir")
	}
	tmp, err := os.CreateTemp(dir, ".artifact-*"+ext)
	if err != nil {
		return eris.Wrap(err, "sheet: create temp file")
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) //nolint:errcheck

	if ext == ".csv" {
		err = writeCSV(tmp, t)
		if cerr := tmp.Close(); err == nil {
			err = cerr
		}
	} else {
		_ = tmp.Close()
		err = writeXLSX(tmpPath, t)
	}
	if err != nil {
		return err
	}
	return eris.Wrap(os.Rename(tmpPath, path), "sheet: rename artifact")
}

func writeCSV(w io.Writer, t Table) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Header); err != nil {
		return eris.Wrap(err, "sheet: write csv header")
	}
	if err := cw.WriteAll(t.Rows); err != nil {
		return eris.Wrap(err, "sheet: write csv rows")
	}
	return nil
}

func writeXLSX(path string, t Table) error {
	f := xlsx.NewFile()
	sh, err := f.AddSheet("Enriched")
	if err != nil {
		return eris.Wrap(err, "sheet: add sheet")
	}
	for _, values := range append([][]string{t.Header}, t.Rows...) {
		row := sh.AddRow()
		for _, v := range values {
			row.AddCell().SetString(v)
		}
	}
	return eris.Wrap(f.Save(path), "sheet: save xlsx")
}

// Fingerprint returns the SHA-256 hex digest of the file's contents.
func Fingerprint(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", eris.Wrap(err, "sheet: open for fingerprint")
	}
	defer f.Close() //nolint:errcheck

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", eris.Wrap(err, "sheet: hash input")
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
