package evidence

import (
	"regexp"
	"strings"
)

var storeNumber = regexp.MustCompile(`^(#?\d+[a-z]?|no\.?|#)$`)

var qualifierWords = map[string]bool{
	"store": true, "branch": true, "outlet": true, "unit": true,
	"suc": true, "sucursal": true, "location": true, "loc": true,
}

// rootInfo is the result of reducing a merchant string to its brand root.
type rootInfo struct {
	Root     string
	Removed  string // every stripped token, in original order
	Location string // the stripped location phrase, if any
}

// brandRoot strips trailing store numbers, store qualifiers and location
// phrases matching the record's city, state or country. It never strips the
// first token.
func brandRoot(name string, q Query) rootInfo {
	tokens := strings.Fields(name)

	var phrases [][]string
	for _, loc := range []string{q.City, q.State, q.Country} {
		if p := strings.Fields(normalize(loc)); len(p) > 0 {
			phrases = append(phrases, p)
		}
	}

	var removed, location []string
	for len(tokens) > 1 {
		last := tokens[len(tokens)-1]
		if storeNumber.MatchString(strings.ToLower(last)) || qualifierWords[normalize(last)] {
			removed = append([]string{last}, removed...)
			tokens = tokens[:len(tokens)-1]
			continue
		}

		matched := false
		for _, p := range phrases {
			if len(tokens) <= len(p) {
				continue
			}
			tail := tokens[len(tokens)-len(p):]
			if normalize(strings.Join(tail, " ")) == strings.Join(p, " ") {
				removed = append(append([]string{}, tail...), removed...)
				location = append(append([]string{}, tail...), location...)
				tokens = tokens[:len(tokens)-len(p)]
				matched = true
				break
			}
		}
		if !matched {
			break
		}
	}

	return rootInfo{
		Root:     strings.Join(tokens, " "),
		Removed:  strings.Join(removed, " "),
		Location: strings.Join(location, " "),
	}
}
