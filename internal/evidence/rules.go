package evidence

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Scenario tags a validation situation the rule table has an action for.
type Scenario string

const (
	ScenarioMultipleSimilar  Scenario = "identity.multiple-similar"
	ScenarioFranchise        Scenario = "identity.franchise-location"
	ScenarioRestrictedSource Scenario = "identity.restricted-source"
	ScenarioClosed           Scenario = "identity.permanently-closed"
	ScenarioArchiveOnly      Scenario = "identity.archive-only"

	ScenarioMultipleDomains Scenario = "website.multiple-domains"
	ScenarioParentRedirect  Scenario = "website.parent-redirect"
	ScenarioDirectoryPage   Scenario = "website.directory-page"
	ScenarioForeignTLD      Scenario = "website.foreign-tld"
	ScenarioSocialAsWebsite Scenario = "website.social-url"

	ScenarioMultipleProfiles Scenario = "social.multiple-profiles"
	ScenarioLocationMatch    Scenario = "social.unverified-location-match"
	ScenarioNoIndicator      Scenario = "social.no-indicator"
	ScenarioPersonalAccount  Scenario = "social.personal-account"
	ScenarioVerifiedBrand    Scenario = "social.verified-brand"
)

// Action is what the validator does when a scenario applies.
type Action string

const (
	ActionAccept            Action = "accept"
	ActionAcceptClosest     Action = "accept-closest"
	ActionAcceptBrandRoot   Action = "accept-brand-root"
	ActionAcceptNoted       Action = "accept-noted"
	ActionAcceptIfSpecific  Action = "accept-if-business-specific"
	ActionAcceptIfLocated   Action = "accept-if-located"
	ActionRouteToSocial     Action = "route-to-social"
	ActionPickClosestDomain Action = "pick-closest-domain"
	ActionPickBestBio       Action = "pick-best-bio"
	ActionReject            Action = "reject"
)

// DefaultActions is the scenario → action table.
func DefaultActions() map[Scenario]Action {
	return map[Scenario]Action{
		ScenarioMultipleSimilar:  ActionAcceptClosest,
		ScenarioFranchise:        ActionAcceptBrandRoot,
		ScenarioRestrictedSource: ActionAcceptNoted,
		ScenarioClosed:           ActionReject,
		ScenarioArchiveOnly:      ActionReject,
		ScenarioMultipleDomains:  ActionPickClosestDomain,
		ScenarioParentRedirect:   ActionAcceptIfSpecific,
		ScenarioDirectoryPage:    ActionReject,
		ScenarioForeignTLD:       ActionAcceptIfLocated,
		ScenarioSocialAsWebsite:  ActionRouteToSocial,
		ScenarioMultipleProfiles: ActionPickBestBio,
		ScenarioLocationMatch:    ActionAccept,
		ScenarioNoIndicator:      ActionReject,
		ScenarioPersonalAccount:  ActionReject,
		ScenarioVerifiedBrand:    ActionAccept,
	}
}

// Rules holds the data the validator's decisions are driven by.
type Rules struct {
	Acronyms             []string            `yaml:"acronyms" mapstructure:"acronyms"`
	SocialHosts          []string            `yaml:"social_hosts" mapstructure:"social_hosts"`
	DirectoryHosts       []string            `yaml:"directory_hosts" mapstructure:"directory_hosts"`
	ArchiveHosts         []string            `yaml:"archive_hosts" mapstructure:"archive_hosts"`
	DirectoryPathMarkers []string            `yaml:"directory_path_markers" mapstructure:"directory_path_markers"`
	ChainMarkers         []string            `yaml:"chain_markers" mapstructure:"chain_markers"`
	BusinessMarkers      []string            `yaml:"business_markers" mapstructure:"business_markers"`
	PersonalMarkers      []string            `yaml:"personal_markers" mapstructure:"personal_markers"`
	ClosedMarkers        []string            `yaml:"closed_markers" mapstructure:"closed_markers"`
	DomainThreshold      float64             `yaml:"domain_threshold" mapstructure:"domain_threshold"`
	Actions              map[Scenario]Action `yaml:"actions" mapstructure:"actions"`
}

// DefaultRules returns the built-in rule set.
func DefaultRules() Rules {
	return Rules{
		Acronyms: []string{"KFC", "IBM", "H&M", "BP", "AT&T", "UPS", "DHL"},
		SocialHosts: []string{
			"facebook.com", "fb.com", "instagram.com", "twitter.com", "x.com",
			"linkedin.com", "tiktok.com", "youtube.com", "pinterest.com", "threads.net",
		},
		DirectoryHosts: []string{
			"yelp.com", "tripadvisor.com", "tripadvisor.in", "justdial.com", "yellowpages.com",
			"zomato.com", "swiggy.com", "foursquare.com", "trustpilot.com", "mapquest.com",
			"bbb.org", "google.com", "bing.com", "wikipedia.org", "indiamart.com",
			"sulekha.com", "magicpin.in", "seccionamarilla.com.mx", "opencorporates.com",
		},
		ArchiveHosts: []string{"web.archive.org", "archive.org", "archive.ph", "archive.today", "cachedview.nl"},
		DirectoryPathMarkers: []string{
			"directory", "tenants", "tenant", "stores", "shops", "mall", "store-directory", "listing", "listings",
		},
		ChainMarkers: []string{
			"franchise", "chain", "locations", "outlets", "branches", "stores", "store locator",
			"near you", "sucursales",
		},
		BusinessMarkers: []string{
			"official", "store", "shop", "restaurant", "cafe", "company", "business", "services",
			"order", "menu", "delivery", "open", "hours", "located", "branch", "inc", "ltd", "llc",
			"pvt", "brand", "retail", "customer",
		},
		PersonalMarkers: []string{"personal account", "personal profile", "personal blog", "my personal"},
		ClosedMarkers:   []string{"permanently closed", "closed permanently", "out of business"},
		DomainThreshold: 0.5,
		Actions:         DefaultActions(),
	}
}

// LoadRules reads a YAML override file on top of DefaultRules. Lists in the
// file replace the defaults; actions are merged per scenario.
func LoadRules(path string) (Rules, error) {
	rules := DefaultRules()
	if path == "" {
		return rules, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return rules, eris.Wrapf(err, "evidence: read rules %s", path)
	}

	var override Rules
	if err := yaml.Unmarshal(data, &override); err != nil {
		return rules, eris.Wrapf(err, "evidence: parse rules %s", path)
	}
	return rules.merge(override), nil
}

func (r Rules) merge(o Rules) Rules {
	pick := func(dst *[]string, src []string) {
		if len(src) > 0 {
			*dst = src
		}
	}
	pick(&r.Acronyms, o.Acronyms)
	pick(&r.SocialHosts, o.SocialHosts)
	pick(&r.DirectoryHosts, o.DirectoryHosts)
	pick(&r.ArchiveHosts, o.ArchiveHosts)
	pick(&r.DirectoryPathMarkers, o.DirectoryPathMarkers)
	pick(&r.ChainMarkers, o.ChainMarkers)
	pick(&r.BusinessMarkers, o.BusinessMarkers)
	pick(&r.PersonalMarkers, o.PersonalMarkers)
	pick(&r.ClosedMarkers, o.ClosedMarkers)
	if o.DomainThreshold > 0 {
		r.DomainThreshold = o.DomainThreshold
	}
	actions := make(map[Scenario]Action, len(r.Actions))
	for k, v := range r.Actions {
		actions[k] = v
	}
	for k, v := range o.Actions {
		actions[k] = v
	}
	r.Actions = actions
	return r
}

// action returns the configured action for a scenario. Strict matching
// turns restricted-source acceptance into rejection.
func (r Rules) action(s Scenario, strict bool) Action {
	if strict && s == ScenarioRestrictedSource {
		return ActionReject
	}
	if a, ok := r.Actions[s]; ok {
		return a
	}
	return DefaultActions()[s]
}
