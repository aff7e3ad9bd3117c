package model

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSource(t *testing.T) {
	tests := []struct {
		in   string
		want Source
		err  bool
	}{
		{"npi", SourceNPI, false},
		{" ADPH ", SourceADPH, false},
		{"Cms", SourceCMS, false},
		{"nppes", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseSource(tt.in)
			if tt.err {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSourceRank(t *testing.T) {
	assert.Equal(t, 0, SourceNPI.Rank())
	assert.Equal(t, 2, SourceCMS.Rank())
	assert.Equal(t, len(Sources), Source("x").Rank())
}

func TestParseCategory(t *testing.T) {
	assert.Equal(t, CategorySurgeryCenter, ParseCategory("surgery center"))
	assert.Equal(t, CategoryOther, ParseCategory("Tattoo Parlor"))
}

func TestCanonicalLeadClone(t *testing.T) {
	now := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	l := &CanonicalLead{LeadUID: "ld_1", BedCount: Int(10), Latitude: Float(33.5), EnrichedAt: &now}
	c := l.Clone()
	*c.BedCount = 20
	*c.Latitude = 1
	assert.Equal(t, 10, *l.BedCount)
	assert.InDelta(t, 33.5, *l.Latitude, 0.0001)

	c.ClearEnrichment()
	assert.Nil(t, c.Latitude)
	assert.Nil(t, c.EnrichedAt)
	assert.NotNil(t, l.EnrichedAt)
}

func TestErrorTaxonomy(t *testing.T) {
	var ve *ValidationError
	err := error(&ValidationError{Source: SourceNPI, SourceID: "1", Reason: ReasonOutOfScope, Field: "state"})
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "npi record 1 rejected: out_of_scope (state)", err.Error())

	cause := errors.New("timeout")
	eu := &EnrichmentUnavailable{LeadUID: "ld_1", Adapter: "geocode", Err: cause}
	assert.ErrorIs(t, eu, cause)

	mc := &MergeConflict{LeadUID: "ld_1", Field: "npi_number", Values: map[Source]string{SourceNPI: "1", SourceADPH: "2"}, Winner: SourceNPI}
	assert.Contains(t, mc.Error(), "adph=2 npi=1")
}

func TestSnapshotContributions(t *testing.T) {
	s := ScoreSnapshot{Breakdown: []FactorScore{{Factor: "proximity", Contribution: 12.5}, {Factor: "volume", Contribution: 3}}}
	assert.Equal(t, map[string]float64{"proximity": 12.5, "volume": 3}, s.Contributions())
}
