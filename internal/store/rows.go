package store

import (
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"

	"github.com/harvest-med/lead-pipeline/internal/model"
)

// leadColumns are stored alongside the JSON document so list queries can
// filter and order without decoding every row.
var leadColumns = []string{
	"lead_uid", "facility_name", "category", "zip5", "lead_score", "priority_tier",
	"status", "new_this_week", "enriched_at", "first_seen", "last_updated", "data",
}

func leadRow(l *model.CanonicalLead) ([]any, error) {
	data, err := json.Marshal(l)
	if err != nil {
		return nil, eris.Wrapf(err, "store: marshal lead %s", l.LeadUID)
	}
	var score any
	if l.LeadScore != nil {
		score = *l.LeadScore
	}
	var enrichedAt any
	if l.EnrichedAt != nil {
		enrichedAt = l.EnrichedAt.UTC()
	}
	return []any{
		l.LeadUID, l.FacilityName, string(l.Category), l.Zip5, score, string(l.PriorityTier),
		string(l.Status), l.NewThisWeek, enrichedAt, l.FirstSeen.UTC(), l.LastUpdated.UTC(), data,
	}, nil
}

func decodeLead(data []byte) (*model.CanonicalLead, error) {
	var l model.CanonicalLead
	if err := json.Unmarshal(data, &l); err != nil {
		return nil, eris.Wrap(err, "store: unmarshal lead")
	}
	return &l, nil
}

var attributionColumns = []string{
	"lead_uid", "source", "source_id", "raw_data", "match_confidence", "match_method", "ingested_at",
}

func attributionRow(a model.SourceAttribution) []any {
	raw := []byte(a.RawData)
	if len(raw) == 0 {
		raw = []byte("{}")
	}
	return []any{
		a.LeadUID, string(a.Source), a.SourceID, raw, a.MatchConfidence, string(a.MatchMethod), a.IngestedAt.UTC(),
	}
}

var snapshotColumns = []string{
	"lead_uid", "run_id", "score", "priority_tier", "scored_at", "config_hash", "breakdown",
}

func snapshotRow(s model.ScoreSnapshot) ([]any, error) {
	breakdown, err := json.Marshal(s.Breakdown)
	if err != nil {
		return nil, eris.Wrapf(err, "store: marshal breakdown for %s", s.LeadUID)
	}
	return []any{
		s.LeadUID, s.RunID, s.Score, string(s.PriorityTier), s.ScoredAt.UTC(), s.ConfigHash, breakdown,
	}, nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanAttribution(row scannable) (model.SourceAttribution, error) {
	var (
		a      model.SourceAttribution
		src    string
		method string
		raw    []byte
	)
	if err := row.Scan(&a.LeadUID, &src, &a.SourceID, &raw, &a.MatchConfidence, &method, &a.IngestedAt); err != nil {
		return a, eris.Wrap(err, "store: scan attribution")
	}
	a.Source = model.Source(src)
	a.MatchMethod = model.MatchMethod(method)
	a.RawData = json.RawMessage(raw)
	a.IngestedAt = a.IngestedAt.UTC()
	return a, nil
}

func scanSnapshot(row scannable) (model.ScoreSnapshot, error) {
	var (
		s         model.ScoreSnapshot
		tier      string
		breakdown []byte
	)
	if err := row.Scan(&s.LeadUID, &s.RunID, &s.Score, &tier, &s.ScoredAt, &s.ConfigHash, &breakdown); err != nil {
		return s, eris.Wrap(err, "store: scan snapshot")
	}
	s.PriorityTier = model.Tier(tier)
	s.ScoredAt = s.ScoredAt.UTC()
	if len(breakdown) > 0 {
		if err := json.Unmarshal(breakdown, &s.Breakdown); err != nil {
			return s, eris.Wrapf(err, "store: unmarshal breakdown for %s", s.LeadUID)
		}
	}
	return s, nil
}

func scanRun(row scannable) (*model.PipelineRun, error) {
	var (
		r        model.PipelineRun
		status   string
		finished *time.Time
		stats    []byte
		errMsg   *string
	)
	if err := row.Scan(&r.ID, &status, &r.StartedAt, &finished, &stats, &errMsg); err != nil {
		return nil, eris.Wrap(err, "store: scan run")
	}
	r.Status = model.RunStatus(status)
	r.StartedAt = r.StartedAt.UTC()
	if finished != nil {
		t := finished.UTC()
		r.FinishedAt = &t
	}
	if errMsg != nil {
		r.Error = *errMsg
	}
	if len(stats) > 0 {
		if err := json.Unmarshal(stats, &r.Stats); err != nil {
			return nil, eris.Wrapf(err, "store: unmarshal stats for run %s", r.ID)
		}
	}
	return &r, nil
}

func marshalStats(run *model.PipelineRun) ([]byte, error) {
	stats, err := json.Marshal(run.Stats)
	if err != nil {
		return nil, eris.Wrapf(err, "store: marshal stats for run %s", run.ID)
	}
	return stats, nil
}
