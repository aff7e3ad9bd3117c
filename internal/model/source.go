package model

import (
	"strings"

	"github.com/rotisserie/eris"
)

// Source identifies the public registry a record came from.
type Source string

const (
	SourceNPI  Source = "npi"
	SourceADPH Source = "adph"
	SourceCMS  Source = "cms"
)

// Sources lists every known source in canonical order. The order is the
// final tie-break wherever two sources are otherwise equal.
var Sources = []Source{SourceNPI, SourceADPH, SourceCMS}

// ParseSource accepts a source tag in any case.
func ParseSource(s string) (Source, error) {
	switch Source(strings.ToLower(strings.TrimSpace(s))) {
	case SourceNPI:
		return SourceNPI, nil
	case SourceADPH:
		return SourceADPH, nil
	case SourceCMS:
		return SourceCMS, nil
	}
	return "", eris.Errorf("model: unknown source %q", s)
}

// Rank returns the position of s in Sources, or len(Sources) if unknown.
func (s Source) Rank() int {
	for i, src := range Sources {
		if src == s {
			return i
		}
	}
	return len(Sources)
}

// EntityType distinguishes solo practitioners from organizations.
type EntityType string

const (
	EntityIndividual   EntityType = "individual"
	EntityOrganization EntityType = "organization"
)

// Category is the closed set of facility categories.
type Category string

const (
	CategoryDental          Category = "Dental"
	CategoryHospital        Category = "Hospital"
	CategoryVeterinary      Category = "Veterinary"
	CategoryLab             Category = "Lab"
	CategoryUrgentCare      Category = "Urgent Care"
	CategorySurgeryCenter   Category = "Surgery Center"
	CategoryNursingHome     Category = "Nursing Home"
	CategoryMedicalPractice Category = "Medical Practice"
	CategoryOther           Category = "Other"
)

// Categories lists every facility category.
var Categories = []Category{
	CategoryDental,
	CategoryHospital,
	CategoryVeterinary,
	CategoryLab,
	CategoryUrgentCare,
	CategorySurgeryCenter,
	CategoryNursingHome,
	CategoryMedicalPractice,
	CategoryOther,
}

// ParseCategory maps a free-form label onto a Category. Unknown labels map
// to CategoryOther.
func ParseCategory(s string) Category {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, c := range Categories {
		if strings.ToLower(string(c)) == s {
			return c
		}
	}
	return CategoryOther
}
