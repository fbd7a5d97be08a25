package evidence

import (
	"net/url"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// normalize lowercases s, folds diacritics, drops apostrophes and turns every
// other non-alphanumeric rune into a single space.
func normalize(s string) string {
	fold := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(fold, s)
	if err != nil {
		folded = s
	}

	var b strings.Builder
	for _, r := range strings.ToLower(folded) {
		switch {
		case r == '\'' || r == '’':
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		default:
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// squash is normalize without spaces, comparable to a domain label.
func squash(s string) string {
	return strings.ReplaceAll(normalize(s), " ", "")
}

// containsPhrase reports whether phrase occurs in text on word boundaries.
func containsPhrase(text, phrase string) bool {
	p := normalize(phrase)
	if p == "" {
		return false
	}
	return strings.Contains(" "+normalize(text)+" ", " "+p+" ")
}

func containsAny(text string, phrases []string) bool {
	for _, p := range phrases {
		if containsPhrase(text, p) {
			return true
		}
	}
	return false
}

func tokenSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, t := range strings.Fields(normalize(s)) {
		set[t] = struct{}{}
	}
	return set
}

// jaccard is the token-set overlap of a and b in [0, 1].
func jaccard(a, b string) float64 {
	sa, sb := tokenSet(a), tokenSet(b)
	if len(sa) == 0 || len(sb) == 0 {
		return 0
	}
	inter := 0
	for t := range sa {
		if _, ok := sb[t]; ok {
			inter++
		}
	}
	return float64(inter) / float64(len(sa)+len(sb)-inter)
}

// dice is the Sørensen–Dice coefficient over character bigrams.
func dice(a, b string) float64 {
	if a == b {
		return 1
	}
	if len(a) < 2 || len(b) < 2 {
		return 0
	}
	grams := make(map[string]int)
	for i := 0; i < len(a)-1; i++ {
		grams[a[i:i+2]]++
	}
	matches := 0
	for i := 0; i < len(b)-1; i++ {
		g := b[i : i+2]
		if grams[g] > 0 {
			grams[g]--
			matches++
		}
	}
	return 2 * float64(matches) / float64(len(a)+len(b)-2)
}

func initials(s string) string {
	var b strings.Builder
	for _, t := range strings.Fields(normalize(s)) {
		b.WriteRune([]rune(t)[0])
	}
	return b.String()
}

// domainScore rates how well a registrable domain label matches a name.
func domainScore(label, name string) float64 {
	sq := squash(name)
	switch {
	case label == "" || sq == "":
		return 0
	case label == sq:
		return 1
	case len(sq) >= 3 && strings.Contains(label, sq):
		return 0.9
	case len(strings.Fields(normalize(name))) > 1 && label == initials(name):
		return 0.85
	case len(label) >= 3 && strings.Contains(sq, label):
		return 0.8
	default:
		return dice(label, sq)
	}
}

// secondLevel lists labels that sit under a country TLD without being the
// registrable name (tiendasneto.com.mx, kfc.co.in).
var secondLevel = map[string]bool{
	"co": true, "com": true, "net": true, "org": true, "gov": true,
	"gob": true, "edu": true, "ac": true, "ltd": true, "plc": true,
}

func hostOf(raw string) (scheme, host, path string, ok bool) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return "", "", "", false
	}
	scheme = strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", "", "", false
	}
	return scheme, strings.ToLower(u.Hostname()), u.EscapedPath(), true
}

// registrableLabel returns the name label of a host: "online.kfc.co.in" → "kfc".
func registrableLabel(host string) string {
	labels := strings.Split(strings.TrimPrefix(host, "www."), ".")
	if len(labels) >= 2 {
		labels = labels[:len(labels)-1]
	}
	if len(labels) >= 2 && secondLevel[labels[len(labels)-1]] {
		labels = labels[:len(labels)-1]
	}
	return labels[len(labels)-1]
}

func topLevel(host string) string {
	i := strings.LastIndex(host, ".")
	if i < 0 {
		return ""
	}
	return host[i+1:]
}

func hostMatches(host string, domains []string) bool {
	for _, d := range domains {
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

// genericCC are country-code TLDs commonly used as generic ones.
var genericCC = map[string]bool{
	"co": true, "io": true, "ai": true, "me": true, "tv": true, "ly": true,
	"fm": true, "gg": true, "to": true, "am": true, "cc": true, "ws": true,
}

// tldCountry maps a TLD to an ISO 3166 alpha-2 code, or "" when it carries
// no country.
func tldCountry(tld string) string {
	if tld == "uk" {
		return "gb"
	}
	if len(tld) != 2 || genericCC[tld] {
		return ""
	}
	return tld
}

var countryNames = map[string]string{
	"india": "in", "bharat": "in",
	"mexico": "mx",
	"united states": "us", "united states of america": "us", "usa": "us", "america": "us",
	"united kingdom": "gb", "great britain": "gb", "england": "gb", "uk": "gb", "britain": "gb",
	"canada": "ca", "australia": "au", "germany": "de", "deutschland": "de",
	"france": "fr", "spain": "es", "espana": "es", "brazil": "br", "brasil": "br",
	"singapore": "sg", "united arab emirates": "ae", "uae": "ae", "japan": "jp",
	"china": "cn", "italy": "it", "netherlands": "nl", "new zealand": "nz",
	"south africa": "za", "ireland": "ie", "indonesia": "id", "philippines": "ph",
	"malaysia": "my", "colombia": "co", "argentina": "ar", "chile": "cl", "peru": "pe",
}

// CountryCode normalizes a country name or code to ISO alpha-2, lowercase.
func CountryCode(country string) string {
	n := normalize(country)
	if code, ok := countryNames[n]; ok {
		return code
	}
	if len(n) == 2 {
		return n
	}
	return ""
}
