package model

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
)

// Mode selects which capabilities the cascade may call.
type Mode string

const (
	ModeBasic    Mode = "basic"
	ModeEnhanced Mode = "enhanced"
)

// ParseMode converts a user-supplied mode name, case-insensitively.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeBasic, "":
		return ModeBasic, nil
	case ModeEnhanced:
		return ModeEnhanced, nil
	default:
		return "", eris.Errorf("model: unknown mode %q", s)
	}
}

// ColumnMapping binds input column headers to record fields. Only Merchant
// is required.
type ColumnMapping struct {
	Merchant string `json:"merchant" yaml:"merchant" mapstructure:"merchant"`
	Address  string `json:"address,omitempty" yaml:"address,omitempty" mapstructure:"address"`
	City     string `json:"city,omitempty" yaml:"city,omitempty" mapstructure:"city"`
	Country  string `json:"country,omitempty" yaml:"country,omitempty" mapstructure:"country"`
	State    string `json:"state,omitempty" yaml:"state,omitempty" mapstructure:"state"`
}

// Columns returns the mapped header names, skipping unmapped fields.
func (m ColumnMapping) Columns() []string {
	var out []string
	for _, c := range []string{m.Merchant, m.Address, m.City, m.Country, m.State} {
		if c != "" {
			out = append(out, c)
		}
	}
	return out
}

// Consumes reports whether the header is bound to a record field.
func (m ColumnMapping) Consumes(header string) bool {
	for _, c := range m.Columns() {
		if c == header {
			return true
		}
	}
	return false
}

// JobSettings is the immutable configuration of one enrichment job.
type JobSettings struct {
	InputPath        string        `json:"input_path"`
	OutputPath       string        `json:"output_path,omitempty"`
	InputFingerprint string        `json:"input_fingerprint,omitempty"`
	StartRow         int           `json:"start_row"`
	EndRow           int           `json:"end_row"`
	Mapping          ColumnMapping `json:"mapping"`
	Mode             Mode          `json:"mode"`
	BudgetPerRow     float64       `json:"budget_per_row"`
	Model            string        `json:"model"`
	StrictMatch      bool          `json:"strict_match"`
}

// Validate checks the settings for internal consistency.
func (s JobSettings) Validate() error {
	if strings.TrimSpace(s.Mapping.Merchant) == "" {
		return eris.New("model: merchant column mapping is required")
	}
	if s.StartRow < 1 {
		return eris.Errorf("model: start row must be >= 1, got %d", s.StartRow)
	}
	if s.EndRow < s.StartRow {
		return eris.Errorf("model: end row %d is before start row %d", s.EndRow, s.StartRow)
	}
	if s.Mode != ModeBasic && s.Mode != ModeEnhanced {
		return eris.Errorf("model: unknown mode %q", s.Mode)
	}
	if s.BudgetPerRow < 0 {
		return eris.Errorf("model: budget per row must not be negative, got %f", s.BudgetPerRow)
	}
	return nil
}

// RowCount returns the number of rows in the configured range.
func (s JobSettings) RowCount() int {
	if s.EndRow < s.StartRow {
		return 0
	}
	return s.EndRow - s.StartRow + 1
}

// Key identifies the checkpoint slot for this job's input.
func (s JobSettings) Key() string {
	return s.InputPath
}

// Signature is a stable digest of the settings that determine which rows are
// processed and how. Two jobs with equal signatures can share a checkpoint.
func (s JobSettings) Signature() string {
	h := sha256.New()
	fmt.Fprintf(h, "range=%d-%d\n", s.StartRow, s.EndRow)
	fmt.Fprintf(h, "mapping=%s|%s|%s|%s|%s\n",
		s.Mapping.Merchant, s.Mapping.Address, s.Mapping.City, s.Mapping.Country, s.Mapping.State)
	fmt.Fprintf(h, "mode=%s\n", s.Mode)
	fmt.Fprintf(h, "input=%s\n", s.InputFingerprint)
	return hex.EncodeToString(h.Sum(nil))
}
