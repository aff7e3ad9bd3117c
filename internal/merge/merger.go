// Package merge collapses matched record groups into canonical leads.
package merge

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/harvest-med/lead-pipeline/internal/match"
	"github.com/harvest-med/lead-pipeline/internal/model"
)

// Merger resolves field conflicts according to an ordered rule list.
type Merger struct {
	rules map[Family]Rule
}

// New creates a Merger from validated rules.
func New(rules []Rule) (*Merger, error) {
	if err := ValidateRules(rules); err != nil {
		return nil, err
	}
	m := &Merger{rules: make(map[Family]Rule, len(rules))}
	for _, r := range rules {
		m.rules[r.Family] = r
	}
	return m, nil
}

// Outcome is the canonical lead produced from one group.
type Outcome struct {
	Lead         *model.CanonicalLead
	Attributions []model.SourceAttribution
	Conflicts    []*model.MergeConflict
	IsNew        bool
}

// LeadUID derives a stable lead identifier from a source record identity.
func LeadUID(src model.Source, sourceID string) string {
	sum := sha256.Sum256([]byte(string(src) + ":" + sourceID))
	return "ld_" + hex.EncodeToString(sum[:8])
}

// Merge builds the canonical lead for g. prior holds every stored lead by
// uid; a group that maps to a stored lead keeps its identity and lifecycle.
func (m *Merger) Merge(g *match.Group, prior map[string]*model.CanonicalLead, now time.Time) *Outcome {
	recs := make([]*model.NormalizedRecord, 0, len(g.Members))
	for i := range g.Members {
		recs = append(recs, g.Members[i].Record)
	}

	lead := &model.CanonicalLead{}
	var conflicts []*model.MergeConflict
	for _, f := range fields {
		ordered := m.order(f.family, recs)
		for _, r := range ordered {
			if f.has(r) {
				f.apply(lead, r)
				break
			}
		}
		if f.critical {
			if c := detectConflict(f, recs, ordered); c != nil {
				conflicts = append(conflicts, c)
			}
		}
	}
	applyFallbacks(lead, recs)

	uid := g.PriorLeadUID
	if uid == "" {
		anchor := earliestMember(g.Members)
		uid = LeadUID(anchor.Record.Source, anchor.Record.SourceID)
	}
	lead.LeadUID = uid
	lead.EnrichHash = EnrichHash(lead)
	lead.LastUpdated = now

	out := &Outcome{Lead: lead}
	if p, ok := prior[uid]; ok {
		carryOver(lead, p)
	} else {
		out.IsNew = true
		lead.Status = model.LeadStatusNew
		lead.FirstSeen = g.FirstSeen()
		if lead.FirstSeen.IsZero() {
			lead.FirstSeen = now
		}
		lead.NewThisWeek = true
	}

	for _, c := range conflicts {
		c.LeadUID = uid
		zap.L().Warn("merge: conflicting identifiers",
			zap.String("lead_uid", uid),
			zap.String("field", c.Field),
			zap.String("winner", string(c.Winner)),
		)
	}
	out.Conflicts = conflicts

	for _, mem := range g.Members {
		out.Attributions = append(out.Attributions, model.SourceAttribution{
			LeadUID:         uid,
			Source:          mem.Record.Source,
			SourceID:        mem.Record.SourceID,
			RawData:         mem.Record.Raw,
			MatchConfidence: mem.Confidence,
			MatchMethod:     mem.Method,
			IngestedAt:      mem.Record.IngestedAt,
		})
	}
	return out
}

// order returns the records eligible for a family in resolution order.
func (m *Merger) order(fam Family, recs []*model.NormalizedRecord) []*model.NormalizedRecord {
	rule := m.rules[fam]
	rank := make(map[model.Source]int, len(rule.Sources))
	for i, s := range rule.Sources {
		rank[s] = i
	}
	sourceRank := func(s model.Source) int {
		if r, ok := rank[s]; ok {
			return r
		}
		return len(rule.Sources) + s.Rank()
	}

	out := make([]*model.NormalizedRecord, 0, len(recs))
	for _, r := range recs {
		if _, listed := rank[r.Source]; listed || rule.Strategy == StrategyMostRecent {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if rule.Strategy == StrategyMostRecent && !a.IngestedAt.Equal(b.IngestedAt) {
			return a.IngestedAt.After(b.IngestedAt)
		}
		return sourceRank(a.Source) < sourceRank(b.Source)
	})
	return out
}

func detectConflict(f field, recs, ordered []*model.NormalizedRecord) *model.MergeConflict {
	values := make(map[model.Source]string)
	distinct := make(map[string]bool)
	for _, r := range recs {
		if v := f.value(r); v != "" {
			values[r.Source] = v
			distinct[v] = true
		}
	}
	if len(distinct) < 2 {
		return nil
	}
	c := &model.MergeConflict{Field: f.name, Values: values}
	for _, r := range ordered {
		if f.has(r) {
			c.Winner = r.Source
			break
		}
	}
	return c
}

func applyFallbacks(lead *model.CanonicalLead, recs []*model.NormalizedRecord) {
	if lead.Category == "" {
		lead.Category = model.CategoryOther
	}
	if lead.EntityType == "" {
		lead.EntityType = model.EntityOrganization
	}
	if lead.State == "" && len(recs) > 0 {
		lead.State = recs[0].State
	}
}

// carryOver keeps the identity and sales lifecycle of a stored lead. Stored
// enrichment is kept only while the inputs it was computed from are
// unchanged; otherwise the lead is queued for re-enrichment.
func carryOver(lead, p *model.CanonicalLead) {
	lead.Status = p.Status
	lead.Notes = p.Notes
	lead.FirstSeen = p.FirstSeen
	lead.NewThisWeek = false
	lead.LeadScore = p.LeadScore
	lead.PriorityTier = p.PriorityTier

	e := p.Clone()
	lead.EstimatedWasteLbsPerDay = e.EstimatedWasteLbsPerDay
	lead.EstimatedMonthlyVolume = e.EstimatedMonthlyVolume
	lead.WasteTier = e.WasteTier
	lead.DistanceFromBirmingham = e.DistanceFromBirmingham
	lead.ServiceZone = e.ServiceZone
	lead.CompletenessScore = e.CompletenessScore
	lead.Latitude = e.Latitude
	lead.Longitude = e.Longitude
	lead.EnrichedAt = e.EnrichedAt

	// Enrichment inputs moved: drop the stale values so the runner redoes them.
	if p.EnrichHash != lead.EnrichHash {
		lead.ClearEnrichment()
		return
	}
	if lead.BedCount == nil && p.BedCount != nil {
		lead.BedCount = model.Int(*p.BedCount)
	}
}

// earliestMember picks the member whose identity seeds a new lead uid:
// earliest first_seen, then earliest ingestion, then source order and id.
func earliestMember(ms []match.Member) match.Member {
	best := ms[0]
	for _, m := range ms[1:] {
		if lessMember(m, best) {
			best = m
		}
	}
	return best
}

func lessMember(a, b match.Member) bool {
	if !a.FirstSeen.Equal(b.FirstSeen) {
		return a.FirstSeen.Before(b.FirstSeen)
	}
	if !a.Record.IngestedAt.Equal(b.Record.IngestedAt) {
		return a.Record.IngestedAt.Before(b.Record.IngestedAt)
	}
	if a.Record.Source != b.Record.Source {
		return a.Record.Source.Rank() < b.Record.Source.Rank()
	}
	return a.Record.SourceID < b.Record.SourceID
}

// enrichInputs are the canonical fields enrichment adapters read.
type enrichInputs struct {
	FacilityName  string
	Category      model.Category
	EntityType    model.EntityType
	NPINumber     string
	TaxonomyCode  string
	LicenseNumber string
	Administrator string
	AddressLine1  string
	City          string
	State         string
	Zip5          string
	County        string
	Phone         string
	Fax           string
	BedCount      *int
}

// EnrichHash fingerprints the fields enrichment depends on.
func EnrichHash(l *model.CanonicalLead) string {
	data, _ := json.Marshal(enrichInputs{
		FacilityName:  l.FacilityName,
		Category:      l.Category,
		EntityType:    l.EntityType,
		NPINumber:     l.NPINumber,
		TaxonomyCode:  l.TaxonomyCode,
		LicenseNumber: l.LicenseNumber,
		Administrator: l.Administrator,
		AddressLine1:  l.AddressLine1,
		City:          l.City,
		State:         l.State,
		Zip5:          l.Zip5,
		County:        l.County,
		Phone:         l.Phone,
		Fax:           l.Fax,
		BedCount:      l.BedCount,
	})
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:16])
}
