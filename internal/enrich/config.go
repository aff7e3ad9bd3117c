package enrich

// Config tunes the enrichment stage.
type Config struct {
	Concurrency        int           `yaml:"concurrency" mapstructure:"concurrency"`
	CheckpointEvery    int           `yaml:"checkpoint_every" mapstructure:"checkpoint_every"`
	AdapterTimeoutSecs int           `yaml:"adapter_timeout_secs" mapstructure:"adapter_timeout_secs"`
	Retry              RetryConfig   `yaml:"retry" mapstructure:"retry"`
	Geocode            GeocodeConfig `yaml:"geocode" mapstructure:"geocode"`
}

// RetryConfig bounds retries of transient adapter failures.
type RetryConfig struct {
	MaxAttempts      int `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMS int `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMS     int `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
}

// GeocodeConfig enables the street-level geocoder.
type GeocodeConfig struct {
	Enabled     bool    `yaml:"enabled" mapstructure:"enabled"`
	BaseURL     string  `yaml:"base_url" mapstructure:"base_url"`
	RatePerSec  float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// DefaultConfig returns enrichment defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:        8,
		CheckpointEvery:    50,
		AdapterTimeoutSecs: 20,
		Retry: RetryConfig{
			MaxAttempts:      3,
			InitialBackoffMS: 500,
			MaxBackoffMS:     10000,
		},
		Geocode: GeocodeConfig{
			Enabled:     false,
			BaseURL:     "https://geocoding.geo.census.gov/geocoder/locations/onelineaddress",
			RatePerSec:  5,
			TimeoutSecs: 15,
		},
	}
}
