package model

import "time"

// Tier is a coarse sales-priority bucket derived from the lead score.
type Tier string

const (
	TierHot  Tier = "Hot"
	TierWarm Tier = "Warm"
	TierCool Tier = "Cool"
	TierCold Tier = "Cold"
)

// FactorScore is one factor's contribution to a lead score.
type FactorScore struct {
	Factor       string   `json:"factor"`
	Raw          *float64 `json:"raw,omitempty"`
	Detail       string   `json:"detail,omitempty"`
	Normalized   float64  `json:"normalized"`
	Weight       float64  `json:"weight"`
	Contribution float64  `json:"contribution"`
	Available    bool     `json:"available"`
}

// ScoreSnapshot is an immutable record of one scoring event.
type ScoreSnapshot struct {
	LeadUID      string        `json:"lead_uid"`
	RunID        string        `json:"run_id,omitempty"`
	Score        int           `json:"score"`
	PriorityTier Tier          `json:"priority_tier"`
	ScoredAt     time.Time     `json:"scored_at"`
	ConfigHash   string        `json:"config_hash"`
	Breakdown    []FactorScore `json:"score_breakdown"`
}

// Contributions maps factor name to weighted contribution (0-100 scale).
func (s *ScoreSnapshot) Contributions() map[string]float64 {
	out := make(map[string]float64, len(s.Breakdown))
	for _, f := range s.Breakdown {
		out[f.Factor] = f.Contribution
	}
	return out
}
