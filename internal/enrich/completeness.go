package enrich

import (
	"context"
	"math"

	"github.com/harvest-med/lead-pipeline/internal/model"
)

type expectedField struct {
	weight  float64
	present func(l *model.CanonicalLead) bool
}

var expectedFields = []expectedField{
	{1.0, func(l *model.CanonicalLead) bool { return l.FacilityName != "" }},
	{0.5, func(l *model.CanonicalLead) bool { return l.Category != "" && l.Category != model.CategoryOther }},
	{1.0, func(l *model.CanonicalLead) bool { return l.AddressLine1 != "" }},
	{0.8, func(l *model.CanonicalLead) bool { return l.City != "" }},
	{0.5, func(l *model.CanonicalLead) bool { return l.Zip5 != "" }},
	{0.3, func(l *model.CanonicalLead) bool { return l.County != "" }},
	{1.0, func(l *model.CanonicalLead) bool { return l.Phone != "" }},
	{0.2, func(l *model.CanonicalLead) bool { return l.Fax != "" }},
	{0.8, func(l *model.CanonicalLead) bool { return l.Administrator != "" }},
	{0.5, func(l *model.CanonicalLead) bool { return l.NPINumber != "" }},
	{0.3, func(l *model.CanonicalLead) bool { return l.LicenseNumber != "" }},
	{0.3, func(l *model.CanonicalLead) bool { return l.TaxonomyCode != "" }},
	{0.4, func(l *model.CanonicalLead) bool { return l.BedCount != nil }},
}

// Completeness is the weighted fraction of expected fields populated,
// rounded to two decimals.
func Completeness(l *model.CanonicalLead) float64 {
	var have, total float64
	for _, f := range expectedFields {
		total += f.weight
		if f.present(l) {
			have += f.weight
		}
	}
	return math.Round(have/total*100) / 100
}

// CompletenessAdapter scores data completeness. It must run after every
// adapter that can fill fields.
type CompletenessAdapter struct{}

// Name implements Adapter.
func (CompletenessAdapter) Name() string { return "completeness" }

// Enrich implements Adapter.
func (CompletenessAdapter) Enrich(_ context.Context, lead *model.CanonicalLead) error {
	lead.CompletenessScore = model.Float(Completeness(lead))
	return nil
}
