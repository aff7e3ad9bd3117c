package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/harvest-med/lead-pipeline/internal/config"
	"github.com/harvest-med/lead-pipeline/internal/enrich"
	"github.com/harvest-med/lead-pipeline/internal/match"
	"github.com/harvest-med/lead-pipeline/internal/merge"
	"github.com/harvest-med/lead-pipeline/internal/model"
	"github.com/harvest-med/lead-pipeline/internal/scorer"
	"github.com/harvest-med/lead-pipeline/internal/store"
)

var week1 = time.Date(2026, 3, 2, 6, 0, 0, 0, time.UTC)

func testConfig() *config.Config {
	ec := enrich.DefaultConfig()
	ec.Concurrency = 2
	ec.CheckpointEvery = 2
	ec.Retry.MaxAttempts = 1
	return &config.Config{
		Pipeline: config.PipelineConfig{TargetState: "AL"},
		Match:    match.DefaultConfig(),
		Merge:    config.MergeConfig{Rules: merge.DefaultRules()},
		Enrich:   ec,
		Scorer:   scorer.DefaultConfig(),
	}
}

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "leads.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() }) //nolint:errcheck
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func newTestPipeline(t *testing.T, st store.Store, clock clockwork.Clock, opts ...Option) *Pipeline {
	t.Helper()
	opts = append([]Option{WithClock(clock)}, opts...)
	p, err := New(testConfig(), st, opts...)
	require.NoError(t, err)
	return p
}

func batch(src model.Source, at time.Time, records ...string) model.RawBatch {
	b := model.RawBatch{Source: src, IngestedAt: at}
	for _, r := range records {
		b.Records = append(b.Records, json.RawMessage(r))
	}
	return b
}

const (
	acmeNPI  = `{"source_id":"NPI-1","name":"Acme Dental","zip5":"35203","state":"AL"}`
	acmeADPH = `{"license_number":"LIC-77","facility_name":"Acme Dental Clinic","zip":"35203","administrator":"J. Smith","facility_type":"Dental Clinic"}`
	vulcan   = `{"license_number":"LIC-90","facility_name":"Vulcan Imaging Center","zip":"35209","address":"800 Lakeshore Pkwy","facility_type":"Diagnostic Lab"}`
)

func acmeBatches(at time.Time) []model.RawBatch {
	return []model.RawBatch{
		batch(model.SourceNPI, at, acmeNPI),
		batch(model.SourceADPH, at, acmeADPH),
	}
}

func TestRun_AcmeDentalScenario(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	p := newTestPipeline(t, st, clockwork.NewFakeClockAt(week1))

	res, err := p.Run(ctx, acmeBatches(week1))
	require.NoError(t, err)

	require.Len(t, res.Leads, 1)
	lead := res.Leads[0]
	assert.Equal(t, "J. Smith", lead.Administrator)
	assert.Equal(t, "Acme Dental Clinic", lead.FacilityName)
	assert.Equal(t, merge.LeadUID(model.SourceNPI, "NPI-1"), lead.LeadUID)
	assert.True(t, lead.NewThisWeek)
	assert.Equal(t, model.LeadStatusNew, lead.Status)
	require.NotNil(t, lead.LeadScore)
	require.NotNil(t, lead.EnrichedAt)

	require.Len(t, res.Attributions, 2)
	for _, a := range res.Attributions {
		assert.Equal(t, lead.LeadUID, a.LeadUID)
	}
	require.Len(t, res.Snapshots, 1)
	assert.Equal(t, *lead.LeadScore, res.Snapshots[0].Score)
	assert.Equal(t, res.Run.ID, res.Snapshots[0].RunID)

	stored, err := st.GetLead(ctx, lead.LeadUID)
	require.NoError(t, err)
	assert.Equal(t, "J. Smith", stored.Administrator)
	assert.Equal(t, lead.LeadScore, stored.LeadScore)

	attrs, err := st.ListAttributions(ctx, lead.LeadUID)
	require.NoError(t, err)
	assert.Len(t, attrs, 2)

	assert.Equal(t, model.RunStatusComplete, res.Run.Status)
	assert.Equal(t, 2, res.Run.Stats.RecordsIn)
	assert.Equal(t, 1, res.Run.Stats.NewLeads)
	assert.Equal(t, 1, res.Run.Stats.FuzzyJoins)
}

func TestRun_Idempotent(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	clock := clockwork.NewFakeClockAt(week1)
	p := newTestPipeline(t, st, clock)

	first, err := p.Run(ctx, acmeBatches(week1))
	require.NoError(t, err)

	clock.Advance(time.Hour)
	second, err := p.Run(ctx, acmeBatches(week1))
	require.NoError(t, err)

	require.Len(t, second.Leads, 1)
	a, b := first.Leads[0], second.Leads[0]
	assert.Equal(t, a.LeadUID, b.LeadUID)
	assert.Equal(t, a.FacilityName, b.FacilityName)
	assert.Equal(t, a.Administrator, b.Administrator)
	assert.Equal(t, a.EnrichHash, b.EnrichHash)
	assert.Equal(t, *a.LeadScore, *b.LeadScore)
	assert.Equal(t, a.PriorityTier, b.PriorityTier)
	assert.Equal(t, first.Snapshots[0].Breakdown, second.Snapshots[0].Breakdown)
	assert.Equal(t, 2, second.Run.Stats.RecordsSuperseded)
	assert.Equal(t, 1, second.Run.Stats.EnrichmentSkipped)
	assert.Zero(t, second.Run.Stats.NewLeads)

	history, err := st.ListSnapshots(ctx, a.LeadUID, 0)
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestRun_NewFlagReset(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	clock := clockwork.NewFakeClockAt(week1)
	p := newTestPipeline(t, st, clock)

	_, err := p.Run(ctx, acmeBatches(week1))
	require.NoError(t, err)

	week2 := week1.Add(7 * 24 * time.Hour)
	clock.Advance(7 * 24 * time.Hour)
	res, err := p.Run(ctx, []model.RawBatch{batch(model.SourceADPH, week2, vulcan)})
	require.NoError(t, err)
	require.Len(t, res.Leads, 2)

	flags := map[string]bool{}
	for _, l := range res.Leads {
		flags[l.FacilityName] = l.NewThisWeek
	}
	assert.Equal(t, map[string]bool{"Acme Dental Clinic": false, "Vulcan Imaging Center": true}, flags)

	newOnly, err := st.ListLeads(ctx, store.LeadFilter{NewOnly: true})
	require.NoError(t, err)
	require.Len(t, newOnly, 1)
	assert.Equal(t, "Vulcan Imaging Center", newOnly[0].FacilityName)
}

func TestRun_EmptyBatchRescores(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	clock := clockwork.NewFakeClockAt(week1)
	p := newTestPipeline(t, st, clock)

	first, err := p.Run(ctx, acmeBatches(week1))
	require.NoError(t, err)

	clock.Advance(24 * time.Hour)
	res, err := p.Run(ctx, nil)
	require.NoError(t, err)
	require.Len(t, res.Leads, 1)
	assert.Equal(t, first.Leads[0].LeadUID, res.Leads[0].LeadUID)
	assert.Equal(t, *first.Leads[0].LeadScore, *res.Leads[0].LeadScore)
	assert.False(t, res.Leads[0].NewThisWeek)
	assert.Len(t, res.Attributions, 2)
	assert.Zero(t, res.Run.Stats.RecordsIn)
	assert.Equal(t, 1, res.Run.Stats.Scored)
}

func TestRun_UpdatedRecordSupersedesStored(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	clock := clockwork.NewFakeClockAt(week1)
	p := newTestPipeline(t, st, clock)

	first, err := p.Run(ctx, acmeBatches(week1))
	require.NoError(t, err)
	uid := first.Leads[0].LeadUID

	week2 := week1.Add(7 * 24 * time.Hour)
	moved := `{"license_number":"LIC-77","facility_name":"Acme Dental Clinic","zip":"35203","administrator":"R. Jones","facility_type":"Dental Clinic"}`
	res, err := p.Run(ctx, []model.RawBatch{batch(model.SourceADPH, week2, moved)})
	require.NoError(t, err)

	require.Len(t, res.Leads, 1)
	assert.Equal(t, uid, res.Leads[0].LeadUID)
	assert.Equal(t, "R. Jones", res.Leads[0].Administrator)
	assert.Equal(t, 1, res.Run.Stats.UpdatedLeads)

	attrs, err := st.ListAttributions(ctx, uid)
	require.NoError(t, err)
	require.Len(t, attrs, 2)
	for _, a := range attrs {
		if a.Source == model.SourceADPH {
			assert.True(t, a.IngestedAt.Equal(week2))
		}
	}
}

func TestRun_RejectsRecordsAndContinues(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	p := newTestPipeline(t, st, clockwork.NewFakeClockAt(week1))

	res, err := p.Run(ctx, []model.RawBatch{
		batch(model.SourceNPI, week1,
			acmeNPI,
			`{"source_id":"NPI-2","zip5":"35203","state":"AL"}`,
			`{"source_id":"NPI-3","name":"Gulf Coast Dental","zip5":"39501","state":"MS"}`,
		),
	})
	require.NoError(t, err)
	assert.Len(t, res.Leads, 1)
	assert.Equal(t, 3, res.Run.Stats.RecordsIn)
	assert.Equal(t, 2, res.Run.Stats.RecordsRejected)
	assert.Equal(t, 1, res.Run.Stats.Rejections[model.ReasonMissingRequiredField])
	assert.Equal(t, 1, res.Run.Stats.Rejections[model.ReasonOutOfScope])
	assert.Len(t, res.Rejections, 2)
}

func TestRun_NPIWithoutStateRejected(t *testing.T) {
	st := newTestStore(t)
	p := newTestPipeline(t, st, clockwork.NewFakeClockAt(week1))

	res, err := p.Run(context.Background(), []model.RawBatch{
		batch(model.SourceNPI, week1, `{"source_id":"NPI-1","name":"Acme Dental","zip5":"35203"}`),
		batch(model.SourceADPH, week1, acmeADPH),
	})
	require.NoError(t, err)

	require.Len(t, res.Rejections, 1)
	assert.Equal(t, model.ReasonMissingRequiredField, res.Rejections[0].Reason)
	assert.Equal(t, "state", res.Rejections[0].Field)
	require.Len(t, res.Leads, 1, "the ADPH record still produces a lead")
	assert.Equal(t, merge.LeadUID(model.SourceADPH, "LIC-77"), res.Leads[0].LeadUID)
}

func TestRun_InvalidBatchLeavesStoreUntouched(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	p := newTestPipeline(t, st, clockwork.NewFakeClockAt(week1))

	_, err := p.Run(ctx, acmeBatches(week1))
	require.NoError(t, err)

	tests := []struct {
		name  string
		batch model.RawBatch
	}{
		{"unknown source", batch("hrsa", week1, acmeNPI)},
		{"missing ingested_at", batch(model.SourceNPI, time.Time{}, acmeNPI)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.Run(ctx, []model.RawBatch{tt.batch})
			require.Error(t, err)
		})
	}

	runs, err := st.ListRuns(ctx, store.RunFilter{})
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

type failingAdapter struct{}

func (failingAdapter) Name() string { return "waste_lookup" }

func (failingAdapter) Enrich(context.Context, *model.CanonicalLead) error {
	return errors.New("lookup service down")
}

func TestRun_EnrichmentFailureStillScores(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	p := newTestPipeline(t, st, clockwork.NewFakeClockAt(week1),
		WithAdapters(func(beds enrich.BedIndex) []enrich.Adapter {
			return []enrich.Adapter{enrich.GeoAdapter{}, failingAdapter{}}
		}),
	)

	res, err := p.Run(ctx, acmeBatches(week1))
	require.NoError(t, err)
	require.Len(t, res.Leads, 1)

	lead := res.Leads[0]
	assert.Nil(t, lead.EnrichedAt)
	assert.Nil(t, lead.EstimatedWasteLbsPerDay)
	assert.NotNil(t, lead.DistanceFromBirmingham)
	require.NotNil(t, lead.LeadScore)
	require.Len(t, res.EnrichmentFailures, 1)
	assert.Equal(t, "waste_lookup", res.EnrichmentFailures[0].Adapter)
	assert.Equal(t, 1, res.Run.Stats.EnrichmentFailures)
}

func TestRun_CMSBedCountsFeedEnrichment(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	p := newTestPipeline(t, st, clockwork.NewFakeClockAt(week1))

	res, err := p.Run(ctx, []model.RawBatch{
		batch(model.SourceADPH, week1,
			`{"license_number":"H-100","facility_name":"Princeton Baptist Medical Center","address":"701 Princeton Ave SW","zip":"35211","facility_type":"Hospital"}`),
		batch(model.SourceCMS, week1,
			`{"provider_id":"010104","facility_name":"Princeton Baptist Medical Center","address":"701 Princeton Avenue Southwest","city":"Birmingham","state":"AL","zip":"35211","bed_count":"499"}`),
	})
	require.NoError(t, err)
	require.Len(t, res.Leads, 1)

	lead := res.Leads[0]
	require.NotNil(t, lead.BedCount)
	assert.Equal(t, 499, *lead.BedCount)
	require.NotNil(t, lead.EstimatedWasteLbsPerDay)
	assert.Equal(t, "High", lead.WasteTier)
	assert.Equal(t, model.TierHot, lead.PriorityTier)
}

func TestRescore(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	clock := clockwork.NewFakeClockAt(week1)
	p := newTestPipeline(t, st, clock)

	first, err := p.Run(ctx, acmeBatches(week1))
	require.NoError(t, err)

	clock.Advance(time.Hour)
	res, err := p.Rescore(ctx)
	require.NoError(t, err)
	require.Len(t, res.Snapshots, 1)
	assert.Equal(t, first.Snapshots[0].Score, res.Snapshots[0].Score)
	assert.Equal(t, 1, res.Run.Stats.Scored)

	runs, err := st.ListRuns(ctx, store.RunFilter{Status: model.RunStatusComplete})
	require.NoError(t, err)
	assert.Len(t, runs, 2)
}

func TestRun_AmbiguousMatchWarnsOnce(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	t.Cleanup(zap.ReplaceGlobals(zap.New(core)))

	st := newTestStore(t)
	p := newTestPipeline(t, st, clockwork.NewFakeClockAt(week1))

	res, err := p.Run(context.Background(), []model.RawBatch{
		batch(model.SourceNPI, week1,
			`{"source_id":"N1","name":"Acme Dentel","address":"100 Main St","zip5":"35203","state":"AL"}`,
			`{"source_id":"N2","name":"Acme Dental","address":"100 Main St","zip5":"35203","state":"AL"}`,
		),
		batch(model.SourceADPH, week1,
			`{"license_number":"L1","facility_name":"Acme Dental","address":"100 Main St","zip":"35203","facility_type":"Dental Clinic"}`,
		),
	})
	require.NoError(t, err)

	assert.Len(t, res.Leads, 2)
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, "npi:N2", res.Warnings[0].Chosen)
	assert.Equal(t, 1, res.Run.Stats.Ambiguities)
	assert.Equal(t, 1, logs.FilterMessageSnippet("ambiguous").Len())
}
