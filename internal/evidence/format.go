package evidence

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/sells-group/merchant-enrich/internal/model"
)

// Remark values written to the output.
const (
	RemarkNotFound           = "NA"
	RemarkWebsiteUnavailable = "website unavailable"
)

// FormatName strips special characters and emoji, then title-cases each
// word. Words in the acronym list are upper-cased instead.
func FormatName(raw string, acronyms []string) string {
	upper := make(map[string]bool, len(acronyms))
	for _, a := range acronyms {
		upper[strings.ToUpper(a)] = true
	}
	title := cases.Title(language.Und)

	var words []string
	for _, w := range strings.Fields(stripSpecial(raw)) {
		if strings.IndexFunc(w, func(r rune) bool { return unicode.IsLetter(r) || unicode.IsDigit(r) }) < 0 {
			continue
		}
		if upper[strings.ToUpper(w)] {
			words = append(words, strings.ToUpper(w))
			continue
		}
		words = append(words, title.String(w))
	}
	return strings.Join(words, " ")
}

func stripSpecial(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r):
			return r
		case r == '&', r == '\'', r == '-', r == '.':
			return r
		case r == '’':
			return '\''
		default:
			return ' '
		}
	}, s)
}

// Satisfied reports whether the cascade can stop: a validated name plus a
// website or, failing that, a social profile.
func (o Outcome) Satisfied() bool {
	return o.Name != "" && (o.Website != "" || o.Social != "")
}

// Remarks derives the remarks column.
func (o Outcome) Remarks() string {
	switch {
	case o.Name == "":
		return RemarkNotFound
	case o.Website == "":
		return RemarkWebsiteUnavailable
	default:
		return ""
	}
}

// LogoFilename derives the logo file name: the website host without
// "www.", or the name without whitespace when only a social profile exists.
func (o Outcome) LogoFilename() string {
	switch {
	case o.Website != "":
		_, host, _, ok := hostOf(o.Website)
		if !ok {
			return ""
		}
		return strings.TrimPrefix(host, "www.") + ".png"
	case o.Social != "" && o.Name != "":
		return strings.Join(strings.Fields(o.Name), "") + ".png"
	default:
		return ""
	}
}

// EvidenceText joins the notes into the evidence column.
func (o Outcome) EvidenceText() string {
	return strings.Join(o.Notes, "; ")
}

// Apply writes the outcome into the record's output fields and sets its
// terminal status.
func (o Outcome) Apply(rec *model.MerchantRecord) {
	rec.CleanedName = o.Name
	rec.Website = o.Website
	rec.Social = o.Social
	rec.LogoFilename = o.LogoFilename()
	rec.Remarks = o.Remarks()
	rec.Evidence = o.EvidenceText()
	rec.EvidenceLinks = append([]string(nil), o.Links...)
	if o.Name == "" {
		rec.Status = model.StatusNotFound
		return
	}
	rec.Status = model.StatusCompleted
}
