package model

import (
	"encoding/json"
	"time"
)

// LeadStatus is the sales lifecycle state of a lead. Leads are never
// deleted; they move between statuses instead.
type LeadStatus string

const (
	LeadStatusNew           LeadStatus = "New"
	LeadStatusContacted     LeadStatus = "Contacted"
	LeadStatusQualified     LeadStatus = "Qualified"
	LeadStatusCustomer      LeadStatus = "Customer"
	LeadStatusNotInterested LeadStatus = "Not Interested"
)

// CanonicalLead is the merged representation of one facility.
type CanonicalLead struct {
	LeadUID string `json:"lead_uid"`

	FacilityName  string     `json:"facility_name"`
	Category      Category   `json:"category"`
	EntityType    EntityType `json:"entity_type"`
	NPINumber     string     `json:"npi_number,omitempty"`
	TaxonomyCode  string     `json:"taxonomy_code,omitempty"`
	LicenseNumber string     `json:"license_number,omitempty"`
	Administrator string     `json:"administrator,omitempty"`
	AddressLine1  string     `json:"address_line1,omitempty"`
	AddressLine2  string     `json:"address_line2,omitempty"`
	City          string     `json:"city,omitempty"`
	State         string     `json:"state"`
	Zip5          string     `json:"zip5,omitempty"`
	County        string     `json:"county,omitempty"`
	Phone         string     `json:"phone,omitempty"`
	Fax           string     `json:"fax,omitempty"`
	MatchKey      string     `json:"match_key"`
	BedCount      *int       `json:"bed_count,omitempty"`

	// Enrichment. Nil means unknown, never zero.
	EstimatedWasteLbsPerDay *float64   `json:"estimated_waste_lbs_per_day,omitempty"`
	EstimatedMonthlyVolume  *float64   `json:"estimated_monthly_volume,omitempty"`
	WasteTier               string     `json:"waste_tier,omitempty"`
	DistanceFromBirmingham  *float64   `json:"distance_from_birmingham,omitempty"`
	ServiceZone             string     `json:"service_zone,omitempty"`
	CompletenessScore       *float64   `json:"completeness_score,omitempty"`
	Latitude                *float64   `json:"latitude,omitempty"`
	Longitude               *float64   `json:"longitude,omitempty"`
	EnrichedAt              *time.Time `json:"enriched_at,omitempty"`
	EnrichHash              string     `json:"enrich_hash,omitempty"`

	LeadScore    *int `json:"lead_score,omitempty"`
	PriorityTier Tier `json:"priority_tier,omitempty"`

	Status      LeadStatus `json:"status"`
	Notes       string     `json:"notes,omitempty"`
	FirstSeen   time.Time  `json:"first_seen"`
	LastUpdated time.Time  `json:"last_updated"`
	NewThisWeek bool       `json:"new_this_week"`
}

// Clone returns a deep copy of the lead.
func (l *CanonicalLead) Clone() *CanonicalLead {
	c := *l
	c.BedCount = cloneInt(l.BedCount)
	c.EstimatedWasteLbsPerDay = cloneFloat(l.EstimatedWasteLbsPerDay)
	c.EstimatedMonthlyVolume = cloneFloat(l.EstimatedMonthlyVolume)
	c.DistanceFromBirmingham = cloneFloat(l.DistanceFromBirmingham)
	c.CompletenessScore = cloneFloat(l.CompletenessScore)
	c.Latitude = cloneFloat(l.Latitude)
	c.Longitude = cloneFloat(l.Longitude)
	c.LeadScore = cloneInt(l.LeadScore)
	if l.EnrichedAt != nil {
		t := *l.EnrichedAt
		c.EnrichedAt = &t
	}
	return &c
}

// ClearEnrichment resets every enrichment field to unknown.
func (l *CanonicalLead) ClearEnrichment() {
	l.EstimatedWasteLbsPerDay = nil
	l.EstimatedMonthlyVolume = nil
	l.WasteTier = ""
	l.DistanceFromBirmingham = nil
	l.ServiceZone = ""
	l.CompletenessScore = nil
	l.Latitude = nil
	l.Longitude = nil
	l.EnrichedAt = nil
}

// SourceAttribution links a lead to one contributing source record.
type SourceAttribution struct {
	LeadUID         string          `json:"lead_uid"`
	Source          Source          `json:"source"`
	SourceID        string          `json:"source_id"`
	RawData         json.RawMessage `json:"raw_data"`
	MatchConfidence float64         `json:"match_confidence"`
	MatchMethod     MatchMethod     `json:"match_method"`
	IngestedAt      time.Time       `json:"ingested_at"`
}

// MatchMethod records how a record joined its group.
type MatchMethod string

const (
	MatchExactID          MatchMethod = "exact_id"
	MatchAddressNameFuzzy MatchMethod = "address_name_fuzzy"
	MatchSingleton        MatchMethod = "singleton"
)

// Int returns a pointer to v.
func Int(v int) *int { return &v }

// Float returns a pointer to v.
func Float(v float64) *float64 { return &v }

func cloneInt(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneFloat(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
