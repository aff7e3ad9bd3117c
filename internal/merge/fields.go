package merge

import "github.com/harvest-med/lead-pipeline/internal/model"

// field is one resolvable unit of a canonical lead. Address is a single
// unit so that lines from different sources never mix.
type field struct {
	name   string
	family Family
	// critical fields raise a MergeConflict when sources disagree.
	critical bool
	value    func(r *model.NormalizedRecord) string
	apply    func(l *model.CanonicalLead, r *model.NormalizedRecord)
}

func (f field) has(r *model.NormalizedRecord) bool {
	return f.value(r) != ""
}

var fields = []field{
	{
		name: "facility_name", family: FamilyIdentity,
		value: func(r *model.NormalizedRecord) string { return r.FacilityName },
		apply: func(l *model.CanonicalLead, r *model.NormalizedRecord) { l.FacilityName = r.FacilityName },
	},
	{
		name: "category", family: FamilyIdentity,
		value: func(r *model.NormalizedRecord) string {
			if r.Category == model.CategoryOther {
				return ""
			}
			return string(r.Category)
		},
		apply: func(l *model.CanonicalLead, r *model.NormalizedRecord) { l.Category = r.Category },
	},
	{
		name: "entity_type", family: FamilyClinical,
		value: func(r *model.NormalizedRecord) string { return string(r.EntityType) },
		apply: func(l *model.CanonicalLead, r *model.NormalizedRecord) { l.EntityType = r.EntityType },
	},
	{
		name: "npi_number", family: FamilyClinical, critical: true,
		value: func(r *model.NormalizedRecord) string { return r.NPINumber },
		apply: func(l *model.CanonicalLead, r *model.NormalizedRecord) { l.NPINumber = r.NPINumber },
	},
	{
		name: "taxonomy_code", family: FamilyClinical,
		value: func(r *model.NormalizedRecord) string { return r.TaxonomyCode },
		apply: func(l *model.CanonicalLead, r *model.NormalizedRecord) { l.TaxonomyCode = r.TaxonomyCode },
	},
	{
		name: "license_number", family: FamilyLicensing, critical: true,
		value: func(r *model.NormalizedRecord) string { return r.LicenseNumber },
		apply: func(l *model.CanonicalLead, r *model.NormalizedRecord) { l.LicenseNumber = r.LicenseNumber },
	},
	{
		name: "administrator", family: FamilyLicensing,
		value: func(r *model.NormalizedRecord) string { return r.Administrator },
		apply: func(l *model.CanonicalLead, r *model.NormalizedRecord) { l.Administrator = r.Administrator },
	},
	{
		name: "bed_count", family: FamilyOperational,
		value: func(r *model.NormalizedRecord) string {
			if r.BedCount == nil {
				return ""
			}
			return "set"
		},
		apply: func(l *model.CanonicalLead, r *model.NormalizedRecord) { l.BedCount = model.Int(*r.BedCount) },
	},
	{
		name: "address", family: FamilyContact,
		value: func(r *model.NormalizedRecord) string { return r.AddressLine1 + r.City + r.Zip5 },
		apply: func(l *model.CanonicalLead, r *model.NormalizedRecord) {
			l.AddressLine1 = r.AddressLine1
			l.AddressLine2 = r.AddressLine2
			l.City = r.City
			l.State = r.State
			l.Zip5 = r.Zip5
			l.County = r.County
			l.MatchKey = r.MatchKey
		},
	},
	{
		name: "phone", family: FamilyContact,
		value: func(r *model.NormalizedRecord) string { return r.Phone },
		apply: func(l *model.CanonicalLead, r *model.NormalizedRecord) { l.Phone = r.Phone },
	},
	{
		name: "fax", family: FamilyContact,
		value: func(r *model.NormalizedRecord) string { return r.Fax },
		apply: func(l *model.CanonicalLead, r *model.NormalizedRecord) { l.Fax = r.Fax },
	},
}
