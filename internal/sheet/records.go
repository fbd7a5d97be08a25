package sheet

import (
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/merchant-enrich/internal/model"
)

// Records builds pending merchant records for the settings' row range. Rows
// are 1-based data rows, the header excluded. Every unmapped column is kept
// as a pass-through column in header order.
func Records(t Table, s model.JobSettings) ([]model.MerchantRecord, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	if s.EndRow > len(t.Rows) {
		return nil, eris.Errorf("sheet: end row %d exceeds %d data rows", s.EndRow, len(t.Rows))
	}

	merchant := t.Index(s.Mapping.Merchant)
	if merchant < 0 {
		return nil, eris.Errorf("sheet: merchant column %q not found", s.Mapping.Merchant)
	}
	optional := map[string]int{}
	for field, col := range map[string]string{
		"address": s.Mapping.Address,
		"city":    s.Mapping.City,
		"country": s.Mapping.Country,
		"state":   s.Mapping.State,
	} {
		if col == "" {
			continue
		}
		idx := t.Index(col)
		if idx < 0 {
			return nil, eris.Errorf("sheet: %s column %q not found", field, col)
		}
		optional[field] = idx
	}

	consumed := make(map[int]bool, len(optional)+1)
	consumed[merchant] = true
	for _, idx := range optional {
		consumed[idx] = true
	}

	get := func(r int, field string) string {
		idx, ok := optional[field]
		if !ok {
			return ""
		}
		return strings.TrimSpace(t.Cell(r, idx))
	}

	records := make([]model.MerchantRecord, 0, s.RowCount())
	for row := s.StartRow; row <= s.EndRow; row++ {
		r := row - 1
		rec := model.MerchantRecord{
			Row:      row,
			Merchant: strings.TrimSpace(t.Cell(r, merchant)),
			Address:  get(r, "address"),
			City:     get(r, "city"),
			Country:  get(r, "country"),
			State:    get(r, "state"),
			Status:   model.StatusPending,
		}
		for c, name := range t.Header {
			if consumed[c] {
				continue
			}
			rec.PassThrough = append(rec.PassThrough, model.Column{Name: name, Value: t.Cell(r, c)})
		}
		records = append(records, rec)
	}
	return records, nil
}

// PassThroughHeader returns the header names not consumed by the mapping, in
// their original order.
func PassThroughHeader(t Table, m model.ColumnMapping) []string {
	consumed := make(map[int]bool)
	for _, c := range m.Columns() {
		if idx := t.Index(c); idx >= 0 {
			consumed[idx] = true
		}
	}
	var out []string
	for i, h := range t.Header {
		if !consumed[i] {
			out = append(out, h)
		}
	}
	return out
}

var guesses = []struct {
	field string
	words []string
}{
	{"merchant", []string{"merchant", "merchant name", "description", "transaction description", "payee", "name"}},
	{"address", []string{"address", "merchant address", "street"}},
	{"city", []string{"city", "merchant city", "town"}},
	{"country", []string{"country", "merchant country", "country code"}},
	{"state", []string{"state", "province", "region", "merchant state"}},
}

// GuessMapping proposes a column mapping from common header names. Exact
// matches win over substring matches.
func GuessMapping(header []string) model.ColumnMapping {
	used := make(map[int]bool)
	pick := func(words []string) string {
		for _, w := range words {
			for i, h := range header {
				if !used[i] && strings.EqualFold(strings.TrimSpace(h), w) {
					used[i] = true
					return h
				}
			}
		}
		for i, h := range header {
			if !used[i] && strings.Contains(strings.ToLower(h), words[0]) {
				used[i] = true
				return h
			}
		}
		return ""
	}

	var m model.ColumnMapping
	for _, g := range guesses {
		col := pick(g.words)
		switch g.field {
		case "merchant":
			m.Merchant = col
		case "address":
			m.Address = col
		case "city":
			m.City = col
		case "country":
			m.Country = col
		case "state":
			m.State = col
		}
	}
	return m
}
