package normalize

import (
	"strings"

	"github.com/harvest-med/lead-pipeline/internal/model"
)

// flatFields are the columns of the flat registry exports (ADPH, CMS) and
// the flat fixture form accepted for every source.
type flatFields struct {
	SourceID      flexString `json:"source_id"`
	Name          string     `json:"name"`
	FacilityName  string     `json:"facility_name"`
	FacilityType  string     `json:"facility_type"`
	EntityType    string     `json:"entity_type"`
	Address       string     `json:"address"`
	AddressLine1  string     `json:"address_line1"`
	AddressLine2  string     `json:"address_line2"`
	City          string     `json:"city"`
	State         string     `json:"state"`
	Zip           flexString `json:"zip"`
	Zip5          flexString `json:"zip5"`
	County        string     `json:"county"`
	Phone         flexString `json:"phone"`
	Fax           flexString `json:"fax"`
	Administrator string     `json:"administrator"`
	LicenseNumber flexString `json:"license_number"`
	NPI           flexString `json:"npi"`
	TaxonomyCode  string     `json:"taxonomy_code"`
	BedCount      flexInt    `json:"bed_count"`
}

func (f *flatFields) name() string {
	return firstNonEmpty(f.FacilityName, f.Name)
}

func (f *flatFields) line1() string {
	return firstNonEmpty(f.AddressLine1, f.Address)
}

func (f *flatFields) zip() string {
	return firstNonEmpty(string(f.Zip5), string(f.Zip))
}

// NPPES registry shape.
type npiRecord struct {
	flatFields
	Number          flexString    `json:"number"`
	EnumerationType string        `json:"enumeration_type"`
	Basic           npiBasic      `json:"basic"`
	Addresses       []npiAddress  `json:"addresses"`
	Taxonomies      []npiTaxonomy `json:"taxonomies"`
}

type npiBasic struct {
	OrganizationName string `json:"organization_name"`
	FirstName        string `json:"first_name"`
	LastName         string `json:"last_name"`
	Credential       string `json:"credential"`
}

type npiAddress struct {
	Purpose    string     `json:"address_purpose"`
	Address1   string     `json:"address_1"`
	Address2   string     `json:"address_2"`
	City       string     `json:"city"`
	State      string     `json:"state"`
	PostalCode flexString `json:"postal_code"`
	Telephone  flexString `json:"telephone_number"`
	Fax        flexString `json:"fax_number"`
}

type npiTaxonomy struct {
	Code    string     `json:"code"`
	Primary bool       `json:"primary"`
	State   string     `json:"state"`
	License flexString `json:"license"`
}

// location returns the practice location address, falling back to the
// first address listed.
func (r *npiRecord) location() *npiAddress {
	for i := range r.Addresses {
		if strings.EqualFold(r.Addresses[i].Purpose, "LOCATION") {
			return &r.Addresses[i]
		}
	}
	if len(r.Addresses) > 0 {
		return &r.Addresses[0]
	}
	return nil
}

func (r *npiRecord) primaryTaxonomy() *npiTaxonomy {
	for i := range r.Taxonomies {
		if r.Taxonomies[i].Primary {
			return &r.Taxonomies[i]
		}
	}
	if len(r.Taxonomies) > 0 {
		return &r.Taxonomies[0]
	}
	return nil
}

// displayName picks the organization name, else "First Last, Credential".
func (r *npiRecord) displayName() (string, model.EntityType) {
	if org := CleanText(r.Basic.OrganizationName); org != "" {
		return org, model.EntityOrganization
	}
	person := CleanText(r.Basic.FirstName + " " + r.Basic.LastName)
	if person != "" {
		if cred := CleanText(r.Basic.Credential); cred != "" {
			person += ", " + cred
		}
		return person, model.EntityIndividual
	}
	et := model.EntityOrganization
	if strings.EqualFold(r.EnumerationType, "NPI-1") || strings.EqualFold(r.EntityType, string(model.EntityIndividual)) {
		et = model.EntityIndividual
	}
	return CleanText(r.name()), et
}

type adphRecord struct {
	flatFields
}

type cmsRecord struct {
	flatFields
	ProviderID flexString `json:"provider_id"`
	CCN        flexString `json:"ccn"`
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
