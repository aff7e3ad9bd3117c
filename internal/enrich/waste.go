package enrich

import (
	"context"
	"math"

	"github.com/harvest-med/lead-pipeline/internal/model"
)

// Waste tiers by estimated lbs/day.
const (
	WasteTierHigh    = "High"
	WasteTierMedium  = "Medium"
	WasteTierLow     = "Low"
	WasteTierMinimal = "Minimal"
)

type wasteRate struct {
	base        float64
	perBed      float64
	defaultBeds int
}

// wasteRates are lbs/day of regulated medical waste by facility category.
var wasteRates = map[model.Category]wasteRate{
	model.CategoryHospital:        {perBed: 33, defaultBeds: 150},
	model.CategorySurgeryCenter:   {base: 50},
	model.CategoryNursingHome:     {perBed: 5, defaultBeds: 100},
	model.CategoryDental:          {base: 8},
	model.CategoryUrgentCare:      {base: 15},
	model.CategoryLab:             {base: 25},
	model.CategoryMedicalPractice: {base: 5},
	model.CategoryVeterinary:      {base: 8},
	model.CategoryOther:           {base: 3},
}

// WasteAdapter estimates daily and monthly waste volume.
type WasteAdapter struct{}

// Name implements Adapter.
func (WasteAdapter) Name() string { return "waste_volume" }

// Enrich implements Adapter.
func (WasteAdapter) Enrich(_ context.Context, lead *model.CanonicalLead) error {
	lbs := EstimateWaste(lead.Category, lead.BedCount)
	lead.EstimatedWasteLbsPerDay = model.Float(lbs)
	lead.EstimatedMonthlyVolume = model.Float(math.Round(lbs*30*10) / 10)
	lead.WasteTier = WasteTier(lbs)
	return nil
}

// EstimateWaste returns lbs/day for a category, scaling bed-based
// categories by beds (or a typical bed count when unknown).
func EstimateWaste(c model.Category, beds *int) float64 {
	r, ok := wasteRates[c]
	if !ok {
		r = wasteRates[model.CategoryOther]
	}
	lbs := r.base
	if r.perBed > 0 {
		n := r.defaultBeds
		if beds != nil && *beds > 0 {
			n = *beds
		}
		lbs += r.perBed * float64(n)
	}
	return math.Round(lbs*10) / 10
}

// WasteTier buckets a daily volume.
func WasteTier(lbsPerDay float64) string {
	switch {
	case lbsPerDay >= 100:
		return WasteTierHigh
	case lbsPerDay >= 30:
		return WasteTierMedium
	case lbsPerDay >= 10:
		return WasteTierLow
	default:
		return WasteTierMinimal
	}
}
