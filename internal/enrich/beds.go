package enrich

import (
	"context"

	"github.com/harvest-med/lead-pipeline/internal/model"
	"github.com/harvest-med/lead-pipeline/internal/normalize"
)

// BedIndex maps facility name and zip5 to CMS-reported bed counts.
type BedIndex map[string]int

// NewBedIndex indexes every CMS record that reports beds.
func NewBedIndex(recs []*model.NormalizedRecord) BedIndex {
	idx := make(BedIndex)
	for _, r := range recs {
		if r.Source != model.SourceCMS || r.BedCount == nil || r.Zip5 == "" {
			continue
		}
		idx[bedKey(r.FacilityName, r.Zip5)] = *r.BedCount
	}
	return idx
}

func bedKey(name, zip5 string) string {
	return normalize.NameKey(name) + "|" + zip5
}

// BedCountAdapter fills a missing bed count from the CMS index.
type BedCountAdapter struct {
	Index BedIndex
}

// Name implements Adapter.
func (a *BedCountAdapter) Name() string { return "bed_count" }

// Enrich implements Adapter.
func (a *BedCountAdapter) Enrich(_ context.Context, lead *model.CanonicalLead) error {
	if lead.BedCount != nil || lead.Zip5 == "" {
		return nil
	}
	if n, ok := a.Index[bedKey(lead.FacilityName, lead.Zip5)]; ok {
		lead.BedCount = model.Int(n)
	}
	return nil
}
