package model

import (
	"encoding/json"
	"time"
)

// RawBatch is one ingestion batch from a single source. IngestedAt must
// increase monotonically across batches of the same source.
type RawBatch struct {
	Source     Source            `json:"source"`
	IngestedAt time.Time         `json:"ingested_at"`
	Records    []json.RawMessage `json:"records"`
}

// RawRecord is a single source record as received, paired with its batch
// metadata. It is never modified after ingestion.
type RawRecord struct {
	Source     Source
	IngestedAt time.Time
	Data       json.RawMessage
}

// Expand splits the batch into individual raw records.
func (b RawBatch) Expand() []RawRecord {
	out := make([]RawRecord, 0, len(b.Records))
	for _, r := range b.Records {
		out = append(out, RawRecord{Source: b.Source, IngestedAt: b.IngestedAt, Data: r})
	}
	return out
}

// NormalizedRecord is a source record mapped onto the common schema.
// Empty strings mean the value is unknown.
type NormalizedRecord struct {
	Source        Source     `json:"source"`
	SourceID      string     `json:"source_id"`
	FacilityName  string     `json:"facility_name"`
	EntityType    EntityType `json:"entity_type"`
	Category      Category   `json:"category"`
	AddressLine1  string     `json:"address_line1,omitempty"`
	AddressLine2  string     `json:"address_line2,omitempty"`
	City          string     `json:"city,omitempty"`
	State         string     `json:"state"`
	Zip5          string     `json:"zip5,omitempty"`
	County        string     `json:"county,omitempty"`
	Phone         string     `json:"phone,omitempty"`
	Fax           string     `json:"fax,omitempty"`
	NPINumber     string     `json:"npi_number,omitempty"`
	TaxonomyCode  string     `json:"taxonomy_code,omitempty"`
	LicenseNumber string     `json:"license_number,omitempty"`
	Administrator string     `json:"administrator,omitempty"`
	BedCount      *int       `json:"bed_count,omitempty"`
	MatchKey      string     `json:"match_key"`

	// XRefs holds cross-reference identifiers such as "npi:1234567890" or
	// "lic:H-100" shared between sources.
	XRefs []string `json:"xrefs,omitempty"`

	IngestedAt time.Time       `json:"ingested_at"`
	Raw        json.RawMessage `json:"-"`
}

// Key returns the (source, source_id) identity of the record.
func (r *NormalizedRecord) Key() string {
	return string(r.Source) + ":" + r.SourceID
}
