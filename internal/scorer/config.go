// Package scorer turns enriched canonical leads into a 0-100 score, a
// priority tier, and an auditable factor breakdown.
package scorer

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/rotisserie/eris"
)

// Config holds factor weights and normalization bounds.
type Config struct {
	Weights Weights `yaml:"weights" mapstructure:"weights" json:"weights"`

	// CategoryValues maps a lower-cased facility category to its 0-1
	// facility-type fit. Categories not listed use DefaultCategoryValue.
	CategoryValues       map[string]float64 `yaml:"category_values" mapstructure:"category_values" json:"category_values"`
	DefaultCategoryValue float64            `yaml:"default_category_value" mapstructure:"default_category_value" json:"default_category_value"`

	Tiers Tiers `yaml:"tiers" mapstructure:"tiers" json:"tiers"`

	ServiceRadiusMiles float64 `yaml:"service_radius_miles" mapstructure:"service_radius_miles" json:"service_radius_miles"`
	WasteCapLbs        float64 `yaml:"waste_cap_lbs" mapstructure:"waste_cap_lbs" json:"waste_cap_lbs"`
	BedCountCap        int     `yaml:"bed_count_cap" mapstructure:"bed_count_cap" json:"bed_count_cap"`
}

// Weights are per-factor weights. They sum to 1.
type Weights struct {
	FacilityType float64 `yaml:"facility_type" mapstructure:"facility_type" json:"facility_type"`
	Volume       float64 `yaml:"volume" mapstructure:"volume" json:"volume"`
	Proximity    float64 `yaml:"proximity" mapstructure:"proximity" json:"proximity"`
	Completeness float64 `yaml:"completeness" mapstructure:"completeness" json:"completeness"`
}

// Sum returns the total of all weights.
func (w Weights) Sum() float64 {
	return w.FacilityType + w.Volume + w.Proximity + w.Completeness
}

// Tiers are the minimum scores for each tier. Anything below Cool is Cold.
type Tiers struct {
	Hot  int `yaml:"hot" mapstructure:"hot" json:"hot"`
	Warm int `yaml:"warm" mapstructure:"warm" json:"warm"`
	Cool int `yaml:"cool" mapstructure:"cool" json:"cool"`
}

// DefaultConfig returns the standard scoring configuration.
func DefaultConfig() Config {
	return Config{
		Weights: Weights{
			FacilityType: 0.30,
			Volume:       0.30,
			Proximity:    0.25,
			Completeness: 0.15,
		},
		CategoryValues: map[string]float64{
			"hospital":         1.0,
			"surgery center":   1.0,
			"lab":              0.9,
			"nursing home":     0.8,
			"urgent care":      0.7,
			"dental":           0.5,
			"medical practice": 0.5,
			"veterinary":       0.4,
			"other":            0.2,
		},
		DefaultCategoryValue: 0.2,
		Tiers:                Tiers{Hot: 80, Warm: 60, Cool: 40},
		ServiceRadiusMiles:   150,
		WasteCapLbs:          5000,
		BedCountCap:          300,
	}
}

// ValidateConfig checks that a Config is internally consistent.
func ValidateConfig(c Config) error {
	var errs []string

	weights := []struct {
		name string
		w    float64
	}{
		{"facility_type", c.Weights.FacilityType},
		{"volume", c.Weights.Volume},
		{"proximity", c.Weights.Proximity},
		{"completeness", c.Weights.Completeness},
	}
	for _, w := range weights {
		if w.w < 0 {
			errs = append(errs, fmt.Sprintf("weights.%s must be >= 0", w.name))
		}
	}
	if sum := c.Weights.Sum(); math.Abs(sum-1) > 0.001 {
		errs = append(errs, fmt.Sprintf("weights should sum to 1, got %.3f", sum))
	}

	for cat, v := range c.CategoryValues {
		if v < 0 || v > 1 {
			errs = append(errs, fmt.Sprintf("category_values.%s must be between 0 and 1", cat))
		}
	}
	if c.DefaultCategoryValue < 0 || c.DefaultCategoryValue > 1 {
		errs = append(errs, "default_category_value must be between 0 and 1")
	}

	if !(c.Tiers.Hot > c.Tiers.Warm && c.Tiers.Warm > c.Tiers.Cool && c.Tiers.Cool > 0) || c.Tiers.Hot > 100 {
		errs = append(errs, "tiers must satisfy 100 >= hot > warm > cool > 0")
	}

	if c.ServiceRadiusMiles <= 0 {
		errs = append(errs, "service_radius_miles must be > 0")
	}
	if c.WasteCapLbs <= 0 {
		errs = append(errs, "waste_cap_lbs must be > 0")
	}
	if c.BedCountCap <= 0 {
		errs = append(errs, "bed_count_cap must be > 0")
	}

	if len(errs) > 0 {
		return eris.Errorf("scorer: config validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// ConfigHash returns a SHA-256 hash of the scoring config so snapshots can be
// tied to the configuration that produced them.
func ConfigHash(cfg Config) string {
	data, err := json.Marshal(cfg)
	if err != nil {
		return ""
	}
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h[:16])
}
