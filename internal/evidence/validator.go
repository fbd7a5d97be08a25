// Package evidence decides, from a record and a set of search candidates,
// which business name, website and social profile can be trusted. Every
// decision is deterministic and carries a human-readable note.
package evidence

import (
	"fmt"
	"strings"

	"github.com/sells-group/merchant-enrich/internal/model"
)

// Query is the record under validation.
type Query struct {
	Merchant string // preprocessed merchant string
	Address  string
	City     string
	Country  string
	State    string
	Advisory string   // AI-suggested name; never trusted on its own
	Strict   bool     // reject restricted-source identities
	Notes    []string // preprocessing notes, carried into the evidence
}

// QueryFor builds a Query from a record.
func QueryFor(rec model.MerchantRecord, merchant string) Query {
	return Query{
		Merchant: merchant,
		Address:  rec.Address,
		City:     rec.City,
		Country:  rec.Country,
		State:    rec.State,
	}
}

// Decision records a scenario the validator met and the action it took.
type Decision struct {
	Scenario Scenario
	Action   Action
	Subject  string
}

// Outcome is the validated result for one record.
type Outcome struct {
	Name      string
	Website   string
	Social    string
	Notes     []string
	Links     []string
	Decisions []Decision
}

// Validator applies a rule set to candidates. It holds no mutable state.
type Validator struct {
	rules Rules
}

// NewValidator creates a validator for the given rules.
func NewValidator(rules Rules) *Validator {
	if rules.Actions == nil {
		rules.Actions = DefaultActions()
	}
	if rules.DomainThreshold <= 0 {
		rules.DomainThreshold = DefaultRules().DomainThreshold
	}
	return &Validator{rules: rules}
}

// Rules returns the validator's rule set.
func (v *Validator) Rules() Rules { return v.rules }

// Classify tags a search candidate as social or directory by its host.
// Places candidates keep their kind.
func (v *Validator) Classify(c model.CandidateResult) model.CandidateResult {
	if c.Kind == model.SourcePlaces {
		return c
	}
	_, host, _, ok := hostOf(c.Target())
	switch {
	case !ok:
	case hostMatches(host, v.rules.SocialHosts):
		c.Kind = model.SourceSocial
	case hostMatches(host, v.rules.DirectoryHosts):
		c.Kind = model.SourceDirectory
	default:
		if c.Kind == "" {
			c.Kind = model.SourceSearch
		}
	}
	return c
}

// Validate decides the outcome for q from cands. The same inputs always give
// the same outcome.
func (v *Validator) Validate(q Query, cands []model.CandidateResult) Outcome {
	r := &run{rules: v.rules, q: q, seen: make(map[string]bool), dropped: make(map[string]bool)}
	r.out.Notes = append(r.out.Notes, q.Notes...)

	if strings.TrimSpace(q.Merchant) == "" {
		return r.out
	}

	live := r.screen(cands)
	name, primary, ok := r.chooseName(live)
	if !ok {
		r.note("No search result corroborated the merchant name")
		return r.out
	}
	r.out.Name = FormatName(name, v.rules.Acronyms)
	if r.out.Name == "" {
		r.note(fmt.Sprintf("Name %q is empty after cleanup", name))
		return r.out
	}
	r.link(primary)

	if site, c, ok := r.chooseWebsite(live, name); ok {
		r.out.Website = site
		r.note(fmt.Sprintf("Website %s from %s", site, describe(c)))
		r.link(c)
		return r.out
	}
	if profile, c, ok := r.chooseSocial(live, name); ok {
		r.out.Social = profile
		r.note(fmt.Sprintf("No business website found; social profile %s from %s", profile, describe(c)))
		r.link(c)
		return r.out
	}
	r.note("No website or social profile corroborated")
	return r.out
}

type run struct {
	rules   Rules
	q       Query
	out     Outcome
	seen    map[string]bool
	dropped map[string]bool // rejected for every field
}

func (r *run) note(s string) {
	r.out.Notes = append(r.out.Notes, strings.ReplaceAll(s, ";", ","))
}

func (r *run) link(c model.CandidateResult) {
	u := c.Target()
	if u == "" || r.seen[u] {
		return
	}
	r.seen[u] = true
	r.out.Links = append(r.out.Links, u)
}

func (r *run) decide(s Scenario, subject string) Action {
	a := r.rules.action(s, r.q.Strict)
	r.out.Decisions = append(r.out.Decisions, Decision{Scenario: s, Action: a, Subject: subject})
	return a
}

func (r *run) reject(c model.CandidateResult, reason string) {
	r.note(fmt.Sprintf("Rejected %s: %s", subject(c), reason))
}

func subject(c model.CandidateResult) string {
	if t := c.Target(); t != "" {
		return t
	}
	return fmt.Sprintf("%q", c.Title)
}

func describe(c model.CandidateResult) string {
	kind := c.Kind
	if kind == "" {
		kind = model.SourceSearch
	}
	if c.Query != "" {
		return fmt.Sprintf("%s result %q (query %q)", kind, c.Title, c.Query)
	}
	return fmt.Sprintf("%s result %q", kind, c.Title)
}

// screen drops closed and archive-only candidates.
func (r *run) screen(cands []model.CandidateResult) []model.CandidateResult {
	live := make([]model.CandidateResult, 0, len(cands))
	for _, c := range cands {
		_, host, _, ok := hostOf(c.Target())
		switch {
		case c.BusinessStatus == model.BusinessClosedPermanently || containsAny(c.Text(), r.rules.ClosedMarkers):
			if r.decide(ScenarioClosed, subject(c)) == ActionReject {
				r.reject(c, "permanently closed")
				continue
			}
		case ok && hostMatches(host, r.rules.ArchiveHosts):
			if r.decide(ScenarioArchiveOnly, subject(c)) == ActionReject {
				r.reject(c, "archived page only")
				continue
			}
		}
		live = append(live, c)
	}
	return live
}

func (r *run) corroborates(c model.CandidateResult, name string) bool {
	return containsPhrase(c.Title+" "+c.Snippet, name)
}

func (r *run) hits(live []model.CandidateResult, name string) []model.CandidateResult {
	var out []model.CandidateResult
	for _, c := range live {
		if r.corroborates(c, name) {
			out = append(out, c)
		}
	}
	return out
}

// conflicts reports a places result located outside the record's city.
func (r *run) conflicts(c model.CandidateResult) bool {
	if c.Kind != model.SourcePlaces || c.Address == "" || strings.TrimSpace(r.q.City) == "" {
		return false
	}
	return !containsPhrase(c.Address, r.q.City)
}

func (r *run) chainEvidenced(hits []model.CandidateResult, info rootInfo) bool {
	addresses := make(map[string]bool)
	for _, c := range hits {
		text := c.Text()
		if containsAny(text, r.rules.ChainMarkers) {
			return true
		}
		if info.Location != "" && containsPhrase(text, info.Location) {
			return true
		}
		if c.Kind == model.SourcePlaces && c.Address != "" {
			addresses[normalize(c.Address)] = true
		}
	}
	return len(addresses) >= 2
}

func (r *run) usable(hits []model.CandidateResult, chain bool) []model.CandidateResult {
	var out []model.CandidateResult
	for _, c := range hits {
		if chain || !r.conflicts(c) {
			out = append(out, c)
		}
	}
	return out
}

type nameOption struct {
	name     string
	hits     []model.CandidateResult
	scenario Scenario
	note     string
}

// nameOptions lists the names worth trying, best first: the brand root when
// a chain is evidenced, the merchant as given, the bare brand root, then the
// AI suggestion.
func (r *run) nameOptions(live []model.CandidateResult) []nameOption {
	merchant := strings.Join(strings.Fields(r.q.Merchant), " ")
	info := brandRoot(merchant, r.q)
	reduced := !strings.EqualFold(info.Root, merchant)

	var opts []nameOption
	if reduced {
		rh := r.hits(live, info.Root)
		if r.chainEvidenced(rh, info) {
			opts = append(opts, nameOption{
				name:     info.Root,
				hits:     r.usable(rh, true),
				scenario: ScenarioFranchise,
				note:     fmt.Sprintf("Reduced %q to brand root %q (chain location evidenced)", merchant, info.Root),
			})
		}
	}

	mh := r.hits(live, merchant)
	opts = append(opts, nameOption{name: merchant, hits: r.usable(mh, r.chainEvidenced(mh, info))})

	if reduced {
		opts = append(opts, nameOption{
			name: info.Root,
			hits: r.usable(r.hits(live, info.Root), false),
			note: fmt.Sprintf("Removed qualifier %q from %q", info.Removed, merchant),
		})
	}

	adv := strings.Join(strings.Fields(r.q.Advisory), " ")
	if adv != "" && !strings.EqualFold(adv, merchant) && !strings.EqualFold(adv, info.Root) {
		ah := r.hits(live, adv)
		opts = append(opts, nameOption{
			name: adv,
			hits: r.usable(ah, r.chainEvidenced(ah, info)),
			note: fmt.Sprintf("AI suggestion %q corroborated by search", adv),
		})
	}
	return opts
}

func (r *run) chooseName(live []model.CandidateResult) (string, model.CandidateResult, bool) {
	adv := strings.Join(strings.Fields(r.q.Advisory), " ")
	for _, opt := range r.nameOptions(live) {
		if len(opt.hits) == 0 {
			continue
		}
		if opt.scenario != "" && r.decide(opt.scenario, opt.name) != ActionAcceptBrandRoot {
			continue
		}
		primary, ok := r.pickPrimary(opt.name, opt.hits)
		if !ok {
			continue
		}
		if opt.note != "" {
			r.note(opt.note)
		}
		r.note(fmt.Sprintf("Name %q corroborated by %s", opt.name, describe(primary)))
		return opt.name, primary, true
	}
	if adv != "" {
		r.note(fmt.Sprintf("AI suggestion %q was not corroborated", adv))
	}
	return "", model.CandidateResult{}, false
}

func (r *run) isDirectory(c model.CandidateResult) bool {
	if c.Kind == model.SourcePlaces {
		return false
	}
	if c.Kind == model.SourceDirectory {
		return true
	}
	_, host, _, ok := hostOf(c.Target())
	return ok && hostMatches(host, r.rules.DirectoryHosts)
}

func (r *run) pickPrimary(name string, hits []model.CandidateResult) (model.CandidateResult, bool) {
	restricted := true
	for _, c := range hits {
		if !r.isDirectory(c) {
			restricted = false
			break
		}
	}
	if restricted {
		if r.decide(ScenarioRestrictedSource, name) == ActionReject {
			r.note(fmt.Sprintf("Rejected name %q: only directory or review listings corroborate it", name))
			return model.CandidateResult{}, false
		}
		r.note(fmt.Sprintf("Restricted source: %q is corroborated only by directory or review listings", name))
	}

	best := hits[0]
	if len(hits) > 1 && distinctTitles(hits) {
		switch r.decide(ScenarioMultipleSimilar, name) {
		case ActionReject:
			r.note(fmt.Sprintf("Rejected name %q: several different businesses match it", name))
			return model.CandidateResult{}, false
		case ActionAcceptClosest:
			bestScore := jaccard(name, best.Title)
			for _, c := range hits[1:] {
				if s := jaccard(name, c.Title); s > bestScore {
					best, bestScore = c, s
				}
			}
		}
	}
	return best, true
}

func distinctTitles(hits []model.CandidateResult) bool {
	first := normalize(hits[0].Title)
	for _, c := range hits[1:] {
		if normalize(c.Title) != first {
			return true
		}
	}
	return false
}

type site struct {
	c     model.CandidateResult
	url   string
	host  string
	score float64
}

func (r *run) pathHasMarker(path string) bool {
	for _, seg := range strings.Split(strings.ToLower(path), "/") {
		for _, m := range r.rules.DirectoryPathMarkers {
			if seg == m {
				return true
			}
		}
	}
	return false
}

// located reports whether any corroborating candidate places name in the
// record's city, state or country.
func (r *run) located(live []model.CandidateResult, name string) bool {
	for _, c := range r.hits(live, name) {
		if r.locationScore(c.Text()) > 0 {
			return true
		}
	}
	return false
}

func (r *run) locationScore(text string) int {
	score := 0
	for _, p := range []string{r.q.City, r.q.State, r.q.Street()} {
		if strings.TrimSpace(p) != "" && containsPhrase(text, p) {
			score++
		}
	}
	if len(normalize(r.q.Country)) > 2 && containsPhrase(text, r.q.Country) {
		score++
	}
	return score
}

// Street is the first comma-separated segment of the address.
func (q Query) Street() string {
	street, _, _ := strings.Cut(q.Address, ",")
	return strings.TrimSpace(street)
}

func (r *run) chooseWebsite(live []model.CandidateResult, name string) (string, model.CandidateResult, bool) {
	var sites []site
	for _, c := range live {
		scheme, host, path, ok := hostOf(c.Target())
		if !ok || !r.corroborates(c, name) {
			continue
		}
		if hostMatches(host, r.rules.SocialHosts) {
			if c.Kind == model.SourcePlaces {
				if r.decide(ScenarioSocialAsWebsite, c.Target()) == ActionRouteToSocial {
					r.note(fmt.Sprintf("Routed %s from website to social", c.Target()))
				} else {
					r.dropped[c.Target()] = true
					r.reject(c, "social profile listed as a website")
				}
			}
			continue
		}
		if r.isDirectory(c) {
			if r.decide(ScenarioDirectoryPage, c.Target()) == ActionReject {
				r.reject(c, "directory or listing site")
				continue
			}
			r.note(fmt.Sprintf("Kept directory listing %s", c.Target()))
		}

		label := registrableLabel(host)
		score := domainScore(label, name)

		if c.FinalURL != "" && c.URL != "" {
			_, origHost, _, origOK := hostOf(c.URL)
			if origOK && strings.TrimPrefix(origHost, "www.") != strings.TrimPrefix(host, "www.") {
				if score < r.rules.DomainThreshold {
					if r.decide(ScenarioParentRedirect, c.Target()) != ActionAccept {
						r.reject(c, fmt.Sprintf("redirects from %s to unrelated site %s", origHost, host))
						continue
					}
				} else {
					r.note(fmt.Sprintf("Followed redirect from %s to %s", origHost, host))
				}
			}
		}

		if score < r.rules.DomainThreshold {
			if !r.pathHasMarker(path) {
				continue
			}
			if r.decide(ScenarioDirectoryPage, c.Target()) == ActionReject {
				r.reject(c, "mall or directory subpage")
				continue
			}
			r.note(fmt.Sprintf("Kept mall or directory subpage %s", c.Target()))
		}

		if tc, rc := tldCountry(topLevel(host)), CountryCode(r.q.Country); tc != "" && rc != "" && tc != rc {
			act := r.decide(ScenarioForeignTLD, c.Target())
			if act == ActionReject || (act == ActionAcceptIfLocated && !r.located(live, name)) {
				r.reject(c, fmt.Sprintf("foreign domain .%s without evidence of a local presence", topLevel(host)))
				continue
			}
			r.note(fmt.Sprintf("Accepted foreign domain %s (local presence corroborated)", host))
		}

		sites = append(sites, site{c: c, url: scheme + "://" + host, host: host, score: score})
	}
	if len(sites) == 0 {
		return "", model.CandidateResult{}, false
	}

	best := sites[0]
	hosts := map[string]bool{best.host: true}
	for _, s := range sites[1:] {
		hosts[s.host] = true
		if s.score > best.score {
			best = s
		}
	}
	if len(hosts) > 1 {
		switch r.decide(ScenarioMultipleDomains, best.url) {
		case ActionReject:
			r.note(fmt.Sprintf("Rejected website: %d different domains match the name", len(hosts)))
			return "", model.CandidateResult{}, false
		case ActionPickClosestDomain:
			r.note(fmt.Sprintf("Chose %s over %d other domain(s) as the closest match", best.host, len(hosts)-1))
		default:
			best = sites[0]
			r.note(fmt.Sprintf("Kept first domain %s over %d other domain(s)", best.host, len(hosts)-1))
		}
	}
	return best.url, best.c, true
}

type profile struct {
	c   model.CandidateResult
	url string
	loc int
	sim float64
}

func (r *run) personal(path, text string) bool {
	p := strings.ToLower(path)
	return strings.HasPrefix(p, "/in/") || strings.HasPrefix(p, "/people/") ||
		strings.Contains(p, "profile.php") || containsAny(text, r.rules.PersonalMarkers)
}

func (r *run) chooseSocial(live []model.CandidateResult, name string) (string, model.CandidateResult, bool) {
	var profiles []profile
	for _, c := range live {
		scheme, host, path, ok := hostOf(c.Target())
		if !ok || !hostMatches(host, r.rules.SocialHosts) || !r.corroborates(c, name) || r.dropped[c.Target()] {
			continue
		}
		text := c.Text()
		loc := r.locationScore(text)
		verified := c.Verified || containsPhrase(text, "verified")
		switch {
		case r.personal(path, text):
			if r.decide(ScenarioPersonalAccount, c.Target()) == ActionReject {
				r.reject(c, "personal account")
				continue
			}
			r.note(fmt.Sprintf("Kept personal account %s", c.Target()))
		case loc > 0:
			if r.decide(ScenarioLocationMatch, c.Target()) == ActionReject {
				r.reject(c, "unverified profile")
				continue
			}
		case verified:
			if r.decide(ScenarioVerifiedBrand, c.Target()) == ActionReject {
				r.reject(c, "verified brand profile without location")
				continue
			}
		case containsAny(text, r.rules.BusinessMarkers):
		default:
			if r.decide(ScenarioNoIndicator, c.Target()) == ActionReject {
				r.reject(c, "no address or business indicator")
				continue
			}
		}

		profiles = append(profiles, profile{
			c:   c,
			url: scheme + "://" + host + strings.TrimRight(path, "/"),
			loc: loc,
			sim: jaccard(name, c.Title),
		})
	}
	if len(profiles) == 0 {
		return "", model.CandidateResult{}, false
	}

	best := profiles[0]
	for _, p := range profiles[1:] {
		if p.loc > best.loc || (p.loc == best.loc && p.sim > best.sim) {
			best = p
		}
	}
	if len(profiles) > 1 {
		switch r.decide(ScenarioMultipleProfiles, best.url) {
		case ActionReject:
			r.note(fmt.Sprintf("Rejected social: %d different profiles match the name", len(profiles)))
			return "", model.CandidateResult{}, false
		case ActionPickBestBio:
			r.note(fmt.Sprintf("Chose %s over %d other profile(s) by location and bio", best.url, len(profiles)-1))
		default:
			best = profiles[0]
			r.note(fmt.Sprintf("Kept first profile %s over %d other profile(s)", best.url, len(profiles)-1))
		}
	}
	return best.url, best.c, true
}
