package enrich

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/harvest-med/lead-pipeline/internal/model"
	"github.com/harvest-med/lead-pipeline/pkg/geocode"
)

// GeocodeAdapter sets latitude and longitude from a street address.
type GeocodeAdapter struct {
	Client geocode.Client
}

// Name implements Adapter.
func (a *GeocodeAdapter) Name() string { return "geocode" }

// Enrich implements Adapter. Leads without a street address, or already
// geocoded, are left alone.
func (a *GeocodeAdapter) Enrich(ctx context.Context, lead *model.CanonicalLead) error {
	if lead.AddressLine1 == "" || (lead.Latitude != nil && lead.Longitude != nil) {
		return nil
	}
	res, err := a.Client.Geocode(ctx, geocode.AddressInput{
		Street:  lead.AddressLine1,
		City:    lead.City,
		State:   lead.State,
		ZipCode: lead.Zip5,
	})
	if err != nil {
		return eris.Wrapf(err, "enrich: geocode %s", lead.LeadUID)
	}
	if !res.Matched {
		return nil
	}
	lead.Latitude = model.Float(res.Latitude)
	lead.Longitude = model.Float(res.Longitude)
	return nil
}
