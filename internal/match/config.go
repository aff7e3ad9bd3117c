package match

// Config tunes the entity matcher.
type Config struct {
	// NameThreshold is the minimum name similarity for a fuzzy join.
	NameThreshold float64 `yaml:"name_threshold" mapstructure:"name_threshold"`
	// SuppressIndividualsAtOrg drops unmatched solo practitioner records that
	// share a street address with an organization, unless they already
	// belong to a stored lead.
	SuppressIndividualsAtOrg bool `yaml:"suppress_individuals_at_org" mapstructure:"suppress_individuals_at_org"`
}

// DefaultConfig returns the matcher defaults.
func DefaultConfig() Config {
	return Config{
		NameThreshold:            0.82,
		SuppressIndividualsAtOrg: true,
	}
}
