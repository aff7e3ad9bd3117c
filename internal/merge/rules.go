package merge

import (
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/harvest-med/lead-pipeline/internal/model"
)

// Family groups canonical fields that share one resolution rule.
type Family string

const (
	FamilyIdentity    Family = "identity"
	FamilyLicensing   Family = "licensing"
	FamilyClinical    Family = "clinical"
	FamilyOperational Family = "operational"
	FamilyContact     Family = "contact"
)

// Families lists every field family.
var Families = []Family{FamilyIdentity, FamilyLicensing, FamilyClinical, FamilyOperational, FamilyContact}

// Strategy decides which member of a group supplies a family's fields.
type Strategy string

const (
	// StrategyPriority takes the first listed source that has a value.
	// Sources not listed never contribute.
	StrategyPriority Strategy = "priority"
	// StrategyMostRecent takes the most recently ingested member that has a
	// value. Sources lists the tie-break order.
	StrategyMostRecent Strategy = "most_recent"
)

// Rule is one (family, source order) entry.
type Rule struct {
	Family   Family         `yaml:"family" mapstructure:"family"`
	Strategy Strategy       `yaml:"strategy" mapstructure:"strategy"`
	Sources  []model.Source `yaml:"sources" mapstructure:"sources"`
}

// DefaultRules returns the standard resolution order.
func DefaultRules() []Rule {
	return []Rule{
		{Family: FamilyIdentity, Strategy: StrategyPriority, Sources: []model.Source{model.SourceADPH, model.SourceCMS, model.SourceNPI}},
		{Family: FamilyLicensing, Strategy: StrategyPriority, Sources: []model.Source{model.SourceADPH, model.SourceCMS}},
		{Family: FamilyClinical, Strategy: StrategyPriority, Sources: []model.Source{model.SourceNPI, model.SourceADPH, model.SourceCMS}},
		{Family: FamilyOperational, Strategy: StrategyPriority, Sources: []model.Source{model.SourceCMS, model.SourceADPH}},
		{Family: FamilyContact, Strategy: StrategyMostRecent, Sources: []model.Source{model.SourceNPI, model.SourceADPH, model.SourceCMS}},
	}
}

// LoadRules reads merge rules from a YAML file with a top-level "rules" list.
func LoadRules(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "merge: read rules %s", path)
	}

	var wrapper struct {
		Rules []Rule `yaml:"rules"`
	}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return nil, eris.Wrap(err, "merge: parse rules")
	}
	if err := ValidateRules(wrapper.Rules); err != nil {
		return nil, err
	}
	return wrapper.Rules, nil
}

// ValidateRules requires exactly one rule per family with known sources.
func ValidateRules(rules []Rule) error {
	var errs []string
	seen := make(map[Family]bool)
	for _, r := range rules {
		known := false
		for _, f := range Families {
			if f == r.Family {
				known = true
			}
		}
		if !known {
			errs = append(errs, "unknown family "+string(r.Family))
			continue
		}
		if seen[r.Family] {
			errs = append(errs, "duplicate rule for family "+string(r.Family))
		}
		seen[r.Family] = true

		switch r.Strategy {
		case StrategyPriority, StrategyMostRecent:
		default:
			errs = append(errs, "family "+string(r.Family)+": unknown strategy "+string(r.Strategy))
		}
		if len(r.Sources) == 0 {
			errs = append(errs, "family "+string(r.Family)+": no sources")
		}
		for _, s := range r.Sources {
			if _, err := model.ParseSource(string(s)); err != nil {
				errs = append(errs, "family "+string(r.Family)+": unknown source "+string(s))
			}
		}
	}
	for _, f := range Families {
		if !seen[f] {
			errs = append(errs, "missing rule for family "+string(f))
		}
	}
	if len(errs) > 0 {
		return eris.Errorf("merge: invalid rules: %s", strings.Join(errs, "; "))
	}
	return nil
}
