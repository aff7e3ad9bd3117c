// Package normalize maps raw registry records onto the common record schema.
package normalize

import (
	"encoding/json"
	"strings"

	"github.com/harvest-med/lead-pipeline/internal/model"
)

// Normalizer turns raw source records into NormalizedRecords. It is a pure
// transform and safe for concurrent use.
type Normalizer struct {
	targetState string
}

// New creates a Normalizer that accepts only records located in targetState.
func New(targetState string) *Normalizer {
	return &Normalizer{targetState: strings.ToUpper(strings.TrimSpace(targetState))}
}

// Normalize maps one raw record. Rejections are returned as
// *model.ValidationError.
func (n *Normalizer) Normalize(raw model.RawRecord) (*model.NormalizedRecord, error) {
	var (
		rec *model.NormalizedRecord
		err error
	)
	switch raw.Source {
	case model.SourceNPI:
		rec, err = n.fromNPI(raw.Data)
	case model.SourceADPH:
		rec, err = n.fromADPH(raw.Data)
	case model.SourceCMS:
		rec, err = n.fromCMS(raw.Data)
	default:
		return nil, &model.ValidationError{Source: raw.Source, Reason: model.ReasonMalformedRecord, Field: "source"}
	}
	if err != nil {
		return nil, err
	}

	rec.Source = raw.Source
	rec.IngestedAt = raw.IngestedAt
	rec.Raw = raw.Data
	if err := n.validate(rec); err != nil {
		return nil, err
	}
	rec.MatchKey = MatchKey(rec.AddressLine1, rec.Zip5)
	rec.XRefs = xrefs(rec)
	return rec, nil
}

func (n *Normalizer) validate(rec *model.NormalizedRecord) error {
	reject := func(reason model.ValidationReason, field string) error {
		return &model.ValidationError{Source: rec.Source, SourceID: rec.SourceID, Reason: reason, Field: field}
	}
	switch {
	case rec.SourceID == "":
		return reject(model.ReasonMissingRequiredField, "source_id")
	case rec.FacilityName == "":
		return reject(model.ReasonMissingRequiredField, "facility_name")
	case rec.State == "":
		return reject(model.ReasonMissingRequiredField, "state")
	case n.targetState != "" && rec.State != n.targetState:
		return reject(model.ReasonOutOfScope, "state")
	}
	return nil
}

func (n *Normalizer) fromNPI(data json.RawMessage) (*model.NormalizedRecord, error) {
	var r npiRecord
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, &model.ValidationError{Source: model.SourceNPI, Reason: model.ReasonMalformedRecord}
	}

	rec := &model.NormalizedRecord{
		SourceID: firstNonEmpty(string(r.Number), string(r.SourceID), string(r.NPI)),
	}
	rec.FacilityName, rec.EntityType = r.displayName()
	rec.NPINumber = digits(firstNonEmpty(string(r.Number), string(r.NPI)))
	if rec.NPINumber == "" && len(digits(rec.SourceID)) == 10 {
		rec.NPINumber = digits(rec.SourceID)
	}

	if loc := r.location(); loc != nil {
		applyAddress(rec, loc.Address1, loc.Address2, loc.City, loc.State, string(loc.PostalCode), "")
		rec.Phone = Phone(string(loc.Telephone))
		rec.Fax = Phone(string(loc.Fax))
	} else {
		applyFlat(rec, &r.flatFields)
	}

	if tax := r.primaryTaxonomy(); tax != nil {
		rec.TaxonomyCode = strings.ToUpper(strings.TrimSpace(tax.Code))
		// A license issued in the target state is a cross-reference to the
		// state registry; it is not the lead's license of record.
		if lic := licenseKey(string(tax.License)); lic != "" && strings.EqualFold(tax.State, n.targetState) {
			rec.XRefs = append(rec.XRefs, "lic:"+lic)
		}
	} else if r.TaxonomyCode != "" {
		rec.TaxonomyCode = strings.ToUpper(strings.TrimSpace(r.TaxonomyCode))
	}

	if rec.TaxonomyCode != "" {
		rec.Category = CategoryForTaxonomy(rec.TaxonomyCode)
	} else {
		rec.Category = CategoryForLabel(r.FacilityType)
	}
	return rec, nil
}

func (n *Normalizer) fromADPH(data json.RawMessage) (*model.NormalizedRecord, error) {
	var r adphRecord
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, &model.ValidationError{Source: model.SourceADPH, Reason: model.ReasonMalformedRecord}
	}

	rec := &model.NormalizedRecord{
		SourceID:      firstNonEmpty(string(r.LicenseNumber), string(r.SourceID)),
		FacilityName:  CleanText(r.name()),
		EntityType:    model.EntityOrganization,
		Category:      CategoryForLabel(r.FacilityType),
		LicenseNumber: firstNonEmpty(string(r.LicenseNumber), string(r.SourceID)),
		Administrator: CleanText(r.Administrator),
		NPINumber:     digits(string(r.NPI)),
		BedCount:      r.BedCount.v,
	}
	applyFlat(rec, &r.flatFields)
	// The state registry only lists in-state facilities.
	if rec.State == "" {
		rec.State = n.targetState
	}
	return rec, nil
}

func (n *Normalizer) fromCMS(data json.RawMessage) (*model.NormalizedRecord, error) {
	var r cmsRecord
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, &model.ValidationError{Source: model.SourceCMS, Reason: model.ReasonMalformedRecord}
	}

	rec := &model.NormalizedRecord{
		SourceID:     firstNonEmpty(string(r.ProviderID), string(r.CCN), string(r.SourceID)),
		FacilityName: CleanText(r.name()),
		EntityType:   model.EntityOrganization,
		Category:     model.CategoryHospital,
		BedCount:     r.BedCount.v,
	}
	if r.FacilityType != "" {
		if c := CategoryForLabel(r.FacilityType); c != model.CategoryOther {
			rec.Category = c
		}
	}
	applyFlat(rec, &r.flatFields)
	return rec, nil
}

func applyFlat(rec *model.NormalizedRecord, f *flatFields) {
	applyAddress(rec, f.line1(), f.AddressLine2, f.City, f.State, f.zip(), f.County)
	rec.Phone = Phone(string(f.Phone))
	rec.Fax = Phone(string(f.Fax))
}

func applyAddress(rec *model.NormalizedRecord, line1, line2, city, state, zip, county string) {
	rec.AddressLine1 = Address(line1)
	rec.AddressLine2 = Address(line2)
	rec.City = strings.ToUpper(CleanText(Fold(city)))
	rec.State = strings.ToUpper(strings.TrimSpace(state))
	rec.Zip5 = Zip5(zip)
	rec.County = strings.TrimSuffix(strings.ToUpper(CleanText(county)), " COUNTY")
}

// xrefs derives the identifiers a record shares with other registries.
func xrefs(rec *model.NormalizedRecord) []string {
	out := rec.XRefs
	if rec.NPINumber != "" {
		out = append(out, "npi:"+rec.NPINumber)
	}
	if rec.Source == model.SourceADPH && rec.LicenseNumber != "" {
		out = append(out, "lic:"+licenseKey(rec.LicenseNumber))
	}
	if rec.Source == model.SourceCMS {
		out = append(out, "ccn:"+strings.ToUpper(rec.SourceID))
	}
	return out
}

func licenseKey(s string) string {
	return strings.ToUpper(stripPunct(s))
}
