// Package compose merges enrichment fields with pass-through input columns
// into output rows and artifacts.
package compose

import (
	"strconv"
	"strings"

	"github.com/sells-group/merchant-enrich/internal/model"
	"github.com/sells-group/merchant-enrich/internal/sheet"
)

// Enrichment column headers, appended after the pass-through columns.
const (
	HeaderCleanedName   = "Cleaned Merchant Name"
	HeaderWebsite       = "Website"
	HeaderSocials       = "Socials"
	HeaderEvidence      = "Evidence"
	HeaderEvidenceLinks = "Evidence Links"
	HeaderCost          = "Cost per row"
	HeaderLogo          = "Logo Filename"
	HeaderRemarks       = "Remarks"
)

// EnrichmentHeaders lists the enrichment columns in output order.
var EnrichmentHeaders = []string{
	HeaderCleanedName, HeaderWebsite, HeaderSocials, HeaderEvidence,
	HeaderEvidenceLinks, HeaderCost, HeaderLogo, HeaderRemarks,
}

// Composer builds output rows for one input table and mapping.
type Composer struct {
	passThrough []string
}

// New creates a Composer from the input header names that the mapping does
// not consume.
func New(passThrough []string) *Composer {
	return &Composer{passThrough: append([]string(nil), passThrough...)}
}

// Header returns the output header.
func (c *Composer) Header() []string {
	out := make([]string, 0, len(c.passThrough)+len(EnrichmentHeaders))
	out = append(out, c.passThrough...)
	return append(out, EnrichmentHeaders...)
}

// Row renders one record. Records that are not terminal keep their
// pass-through values and leave every enrichment column blank, as do blank
// input rows.
func (c *Composer) Row(rec model.MerchantRecord) []string {
	out := make([]string, 0, len(c.passThrough)+len(EnrichmentHeaders))
	for i := range c.passThrough {
		v := ""
		if i < len(rec.PassThrough) {
			v = rec.PassThrough[i].Value
		}
		out = append(out, v)
	}

	if !rec.Status.Terminal() || rec.Blank() {
		return append(out, make([]string, len(EnrichmentHeaders))...)
	}
	return append(out,
		rec.CleanedName,
		rec.Website,
		rec.Social,
		rec.Evidence,
		strings.Join(rec.EvidenceLinks, "\n"),
		FormatCost(rec.CostPerRow),
		rec.LogoFilename,
		rec.Remarks,
	)
}

// Artifact renders the full output table for records, which must cover the
// job's row range in order. Partial runs produce a partial artifact.
func (c *Composer) Artifact(records []model.MerchantRecord) sheet.Table {
	t := sheet.Table{Header: c.Header(), Rows: make([][]string, 0, len(records))}
	for _, rec := range records {
		t.Rows = append(t.Rows, c.Row(rec))
	}
	return t
}

// Merge overlays completed records onto the pending records of a range,
// matching by row.
func Merge(pending, completed []model.MerchantRecord) []model.MerchantRecord {
	done := make(map[int]model.MerchantRecord, len(completed))
	for _, rec := range completed {
		done[rec.Row] = rec
	}
	out := make([]model.MerchantRecord, len(pending))
	for i, rec := range pending {
		if d, ok := done[rec.Row]; ok {
			out[i] = d
			continue
		}
		out[i] = rec
	}
	return out
}

// FormatCost renders a per-row cost with four decimals.
func FormatCost(v float64) string {
	return strconv.FormatFloat(v, 'f', 4, 64)
}
