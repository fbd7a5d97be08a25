package model

// SourceKind classifies where a candidate result came from.
type SourceKind string

const (
	SourceSearch    SourceKind = "search"
	SourcePlaces    SourceKind = "places"
	SourceSocial    SourceKind = "social"
	SourceDirectory SourceKind = "directory"
)

// Business status values reported for places candidates.
const (
	BusinessOperational       = "OPERATIONAL"
	BusinessClosedTemporarily = "CLOSED_TEMPORARILY"
	BusinessClosedPermanently = "CLOSED_PERMANENTLY"
)

// CandidateResult is a single search or places hit considered by the
// validator. It lives only for the duration of one row.
type CandidateResult struct {
	Title    string
	Snippet  string
	URL      string
	FinalURL string
	Kind     SourceKind
	Query    string

	// Places-only fields.
	Address        string
	Verified       bool
	BusinessStatus string
}

// Target returns the redirect-resolved URL, falling back to the original.
func (c CandidateResult) Target() string {
	if c.FinalURL != "" {
		return c.FinalURL
	}
	return c.URL
}

// Text returns the searchable text of the candidate.
func (c CandidateResult) Text() string {
	switch {
	case c.Address == "":
		return c.Title + " " + c.Snippet
	default:
		return c.Title + " " + c.Snippet + " " + c.Address
	}
}

// CallKind is a billable external call category.
type CallKind string

const (
	CallSearch CallKind = "search"
	CallAI     CallKind = "ai"
	CallPlaces CallKind = "places"
)

// CallKinds lists every billable kind in pricing order.
var CallKinds = []CallKind{CallSearch, CallPlaces, CallAI}

// CallCounts tallies issued calls per kind for one row.
type CallCounts map[CallKind]int

// Add increments the counter for kind.
func (c CallCounts) Add(kind CallKind, n int) {
	c[kind] += n
}

// Total returns the number of calls across all kinds.
func (c CallCounts) Total() int {
	n := 0
	for _, v := range c {
		n += v
	}
	return n
}
