package scorer

import (
	"math"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/harvest-med/lead-pipeline/internal/model"
)

// Factor names, in breakdown order.
const (
	FactorFacilityType = "facility_type"
	FactorVolume       = "volume"
	FactorProximity    = "proximity"
	FactorCompleteness = "completeness"
)

// Scorer computes lead scores. It holds no mutable state and is safe for
// concurrent use.
type Scorer struct {
	cfg  Config
	hash string
}

// New validates cfg and returns a Scorer.
func New(cfg Config) (*Scorer, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	cats := make(map[string]float64, len(cfg.CategoryValues))
	for k, v := range cfg.CategoryValues {
		cats[strings.ToLower(k)] = v
	}
	cfg.CategoryValues = cats
	return &Scorer{cfg: cfg, hash: ConfigHash(cfg)}, nil
}

// ConfigHash identifies the configuration this scorer was built from.
func (s *Scorer) ConfigHash() string { return s.hash }

// Score computes a snapshot for lead without modifying it. Missing
// enrichment makes the affected factor unavailable and it contributes zero.
func (s *Scorer) Score(lead *model.CanonicalLead) model.ScoreSnapshot {
	w := s.cfg.Weights
	factors := []model.FactorScore{
		s.facilityType(lead, w.FacilityType),
		s.volume(lead, w.Volume),
		s.proximity(lead, w.Proximity),
		s.completeness(lead, w.Completeness),
	}

	var total float64
	for i := range factors {
		f := &factors[i]
		f.Normalized = clamp01(f.Normalized)
		total += f.Normalized * f.Weight * 100
		f.Contribution = round2(f.Normalized * f.Weight * 100)
		f.Normalized = round4(f.Normalized)
	}

	score := int(math.Round(total))
	score = max(0, min(100, score))
	return model.ScoreSnapshot{
		LeadUID:      lead.LeadUID,
		Score:        score,
		PriorityTier: s.Tier(score),
		ConfigHash:   s.hash,
		Breakdown:    factors,
	}
}

// Tier maps a score onto the configured thresholds.
func (s *Scorer) Tier(score int) model.Tier {
	switch t := s.cfg.Tiers; {
	case score >= t.Hot:
		return model.TierHot
	case score >= t.Warm:
		return model.TierWarm
	case score >= t.Cool:
		return model.TierCool
	default:
		return model.TierCold
	}
}

// ScoreAll scores every lead, writes the score and tier back onto it, and
// returns one snapshot per lead in input order.
func (s *Scorer) ScoreAll(leads []*model.CanonicalLead, runID string, at time.Time) ([]model.ScoreSnapshot, error) {
	snaps := make([]model.ScoreSnapshot, 0, len(leads))
	for _, l := range leads {
		if l.LeadUID == "" {
			return nil, eris.New("scorer: lead without lead_uid")
		}
		snap := s.Score(l)
		snap.RunID = runID
		snap.ScoredAt = at
		l.LeadScore = model.Int(snap.Score)
		l.PriorityTier = snap.PriorityTier
		snaps = append(snaps, snap)
	}
	zap.L().Debug("scorer: scored leads",
		zap.Int("count", len(snaps)),
		zap.String("config_hash", s.hash),
	)
	return snaps, nil
}

func (s *Scorer) facilityType(lead *model.CanonicalLead, weight float64) model.FactorScore {
	v, ok := s.cfg.CategoryValues[strings.ToLower(string(lead.Category))]
	if !ok {
		v = s.cfg.DefaultCategoryValue
	}
	return model.FactorScore{
		Factor:     FactorFacilityType,
		Detail:     string(lead.Category),
		Normalized: v,
		Weight:     weight,
		Available:  true,
	}
}

// volume prefers estimated waste, log-scaled so small facilities still
// separate, and falls back to a linear bed count.
func (s *Scorer) volume(lead *model.CanonicalLead, weight float64) model.FactorScore {
	f := model.FactorScore{Factor: FactorVolume, Weight: weight}
	switch {
	case lead.EstimatedWasteLbsPerDay != nil:
		lbs := math.Max(0, *lead.EstimatedWasteLbsPerDay)
		f.Raw = model.Float(lbs)
		f.Detail = "estimated_waste_lbs_per_day"
		f.Normalized = math.Log1p(math.Min(lbs, s.cfg.WasteCapLbs)) / math.Log1p(s.cfg.WasteCapLbs)
		f.Available = true
	case lead.BedCount != nil:
		beds := max(0, *lead.BedCount)
		f.Raw = model.Float(float64(beds))
		f.Detail = "bed_count"
		f.Normalized = float64(min(beds, s.cfg.BedCountCap)) / float64(s.cfg.BedCountCap)
		f.Available = true
	}
	return f
}

// proximity falls linearly to zero at the service radius.
func (s *Scorer) proximity(lead *model.CanonicalLead, weight float64) model.FactorScore {
	f := model.FactorScore{Factor: FactorProximity, Weight: weight}
	if lead.DistanceFromBirmingham == nil {
		return f
	}
	d := math.Max(0, *lead.DistanceFromBirmingham)
	f.Raw = model.Float(d)
	f.Detail = "distance_from_birmingham"
	f.Available = true
	if d <= s.cfg.ServiceRadiusMiles {
		f.Normalized = 1 - d/s.cfg.ServiceRadiusMiles
	}
	return f
}

func (s *Scorer) completeness(lead *model.CanonicalLead, weight float64) model.FactorScore {
	f := model.FactorScore{Factor: FactorCompleteness, Weight: weight}
	if lead.CompletenessScore == nil {
		return f
	}
	f.Raw = model.Float(*lead.CompletenessScore)
	f.Detail = "completeness_score"
	f.Normalized = *lead.CompletenessScore
	f.Available = true
	return f
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }

func round4(v float64) float64 { return math.Round(v*10000) / 10000 }
