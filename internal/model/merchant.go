package model

import "strings"

// RowStatus is the processing state of a single merchant row.
type RowStatus string

const (
	StatusPending   RowStatus = "pending"
	StatusCompleted RowStatus = "completed"
	StatusNotFound  RowStatus = "failed-not-found"
)

// Terminal reports whether the status is final for a row.
func (s RowStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusNotFound
}

// Column is a pass-through input column carried unchanged into the output.
type Column struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// MerchantRecord is one input row plus its enrichment output.
type MerchantRecord struct {
	Row      int    `json:"row"`
	Merchant string `json:"merchant"`
	Address  string `json:"address,omitempty"`
	City     string `json:"city,omitempty"`
	Country  string `json:"country,omitempty"`
	State    string `json:"state,omitempty"`

	PassThrough []Column `json:"pass_through,omitempty"`

	CleanedName   string    `json:"cleaned_name"`
	Website       string    `json:"website"`
	Social        string    `json:"social"`
	LogoFilename  string    `json:"logo_filename"`
	Remarks       string    `json:"remarks"`
	Evidence      string    `json:"evidence"`
	EvidenceLinks []string  `json:"evidence_links"`
	CostPerRow    float64   `json:"cost_per_row"`
	Status        RowStatus `json:"status"`
}

// Blank reports whether the row has no merchant text and no location fields.
func (r MerchantRecord) Blank() bool {
	for _, v := range []string{r.Merchant, r.Address, r.City, r.Country, r.State} {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// Street returns the first comma-separated segment of the address.
func (r MerchantRecord) Street() string {
	street, _, _ := strings.Cut(r.Address, ",")
	return strings.TrimSpace(street)
}

// Found reports whether enrichment produced a business identity.
func (r MerchantRecord) Found() bool {
	return r.CleanedName != ""
}
