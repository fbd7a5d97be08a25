package cascade

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// DefaultAggregators lists payment and delivery aggregator tokens stripped
// from merchant strings.
var DefaultAggregators = []string{
	"PAYPAL", "OPENPAY", "PAYTM", "RAZORPAY", "PHONEPE", "GOOGLE PAY", "G PAY",
	"SQUARE", "STRIPE", "UBER EATS", "SWIGGY", "ZOMATO", "SQ", "TST",
}

const delimiters = "* -/"

var noise = []struct {
	re   *regexp.Regexp
	kind string
}{
	{regexp.MustCompile(`(?:\+?\d{1,3}[\s.-])?\(?\d{3}\)?[\s.-]?\d{3}[\s.-]\d{4}`), "phone number"},
	{regexp.MustCompile(`#\s*\d+`), "reference"},
}

// Preprocessor cleans raw merchant strings before any query is built.
type Preprocessor struct {
	tokens []string
}

// NewPreprocessor creates a preprocessor for the given aggregator tokens.
// Longer tokens are matched first.
func NewPreprocessor(aggregators []string) *Preprocessor {
	tokens := make([]string, 0, len(aggregators))
	for _, a := range aggregators {
		if a = strings.ToUpper(strings.Join(strings.Fields(a), " ")); a != "" {
			tokens = append(tokens, a)
		}
	}
	sort.SliceStable(tokens, func(i, j int) bool { return len(tokens[i]) > len(tokens[j]) })
	return &Preprocessor{tokens: tokens}
}

// Clean strips noise and delimited aggregator tokens and returns the cleaned
// merchant string with one note per removal. A token is never stripped when
// that would leave nothing behind.
func (p *Preprocessor) Clean(raw string) (string, []string) {
	s := collapse(raw)
	var notes []string

	for _, n := range noise {
		for _, m := range n.re.FindAllString(s, -1) {
			if rest := collapse(strings.Replace(s, m, " ", 1)); strings.Trim(rest, delimiters) != "" {
				notes = append(notes, fmt.Sprintf("Removed %s %q", n.kind, strings.TrimSpace(m)))
				s = rest
			}
		}
	}

	for {
		rest, note, ok := p.stripOne(s)
		if !ok {
			break
		}
		notes = append(notes, note)
		s = rest
	}
	return collapse(strings.Trim(s, delimiters)), notes
}

// stripOne removes a single aggregator token, preferring prefixes.
func (p *Preprocessor) stripOne(s string) (string, string, bool) {
	for _, tok := range p.tokens {
		if rest, mark, ok := cutPrefix(s, tok); ok {
			return rest, fmt.Sprintf("Stripped aggregator token %q (prefix)", tok+mark), true
		}
	}
	for _, tok := range p.tokens {
		if rest, mark, ok := cutSuffix(s, tok); ok {
			return rest, fmt.Sprintf("Stripped aggregator token %q (suffix)", mark+tok), true
		}
	}
	return s, "", false
}

func cutPrefix(s, tok string) (rest, mark string, ok bool) {
	if len(s) <= len(tok) || !strings.EqualFold(s[:len(tok)], tok) || !strings.ContainsRune(delimiters, rune(s[len(tok)])) {
		return "", "", false
	}
	tail := s[len(tok):]
	rest = strings.TrimLeft(tail, delimiters)
	if rest == "" {
		return "", "", false
	}
	mark = strings.TrimSpace(tail[:len(tail)-len(rest)])
	if !separates(tok, mark) {
		return "", "", false
	}
	return collapse(rest), mark, true
}

func cutSuffix(s, tok string) (rest, mark string, ok bool) {
	n := len(s) - len(tok)
	if n <= 0 || !strings.EqualFold(s[n:], tok) || !strings.ContainsRune(delimiters, rune(s[n-1])) {
		return "", "", false
	}
	head := s[:n]
	rest = strings.TrimRight(head, delimiters)
	if rest == "" {
		return "", "", false
	}
	mark = strings.TrimSpace(head[len(rest):])
	if !separates(tok, mark) {
		return "", "", false
	}
	return collapse(rest), mark, true
}

// separates reports whether a token is cut off from the business name. A
// single-word token joined only by whitespace ("SQUARE ONE PIZZA") is part
// of the name; it needs a '*', '-' or '/' marker.
func separates(tok, mark string) bool {
	return mark != "" || strings.Contains(tok, " ")
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
