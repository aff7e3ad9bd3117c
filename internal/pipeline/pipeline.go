// Package pipeline runs the weekly lead build: normalize, match, merge,
// enrich and score, persisting each stage through a store.
package pipeline

import (
	"context"
	"errors"
	"sort"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/harvest-med/lead-pipeline/internal/config"
	"github.com/harvest-med/lead-pipeline/internal/enrich"
	"github.com/harvest-med/lead-pipeline/internal/match"
	"github.com/harvest-med/lead-pipeline/internal/merge"
	"github.com/harvest-med/lead-pipeline/internal/model"
	"github.com/harvest-med/lead-pipeline/internal/normalize"
	"github.com/harvest-med/lead-pipeline/internal/scorer"
	"github.com/harvest-med/lead-pipeline/internal/store"
)

// AdapterFactory builds the enrichment chain for one run. beds indexes the
// bed counts of the CMS records seen in that run.
type AdapterFactory func(beds enrich.BedIndex) []enrich.Adapter

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithClock replaces the wall clock, mainly for tests.
func WithClock(c clockwork.Clock) Option {
	return func(p *Pipeline) { p.clock = c }
}

// WithAdapters replaces the default enrichment chain.
func WithAdapters(f AdapterFactory) Option {
	return func(p *Pipeline) { p.adapters = f }
}

// Pipeline orchestrates one run over the full lead set.
type Pipeline struct {
	store    store.Store
	norm     *normalize.Normalizer
	matcher  *match.Matcher
	merger   *merge.Merger
	scorer   *scorer.Scorer
	enrich   enrich.Config
	adapters AdapterFactory
	clock    clockwork.Clock
	log      *zap.Logger
}

// New creates a Pipeline from validated configuration.
func New(cfg *config.Config, st store.Store, opts ...Option) (*Pipeline, error) {
	mg, err := merge.New(cfg.Merge.Rules)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: build merger")
	}
	sc, err := scorer.New(cfg.Scorer)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: build scorer")
	}

	enrichCfg := cfg.Enrich
	p := &Pipeline{
		store:   st,
		norm:    normalize.New(cfg.Pipeline.TargetState),
		matcher: match.New(cfg.Match),
		merger:  mg,
		scorer:  sc,
		enrich:  enrichCfg,
		adapters: func(beds enrich.BedIndex) []enrich.Adapter {
			return enrich.DefaultAdapters(enrichCfg, beds)
		},
		clock: clockwork.NewRealClock(),
		log:   zap.L().With(zap.String("component", "pipeline")),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Result is everything a run produced. Leads and Attributions cover the whole
// stored set, not only what the input batches touched.
type Result struct {
	Run                *model.PipelineRun
	Leads              []*model.CanonicalLead
	Snapshots          []model.ScoreSnapshot
	Attributions       []model.SourceAttribution
	Rejections         []*model.ValidationError
	Warnings           []*model.MatchAmbiguityWarning
	Conflicts          []*model.MergeConflict
	EnrichmentFailures []*model.EnrichmentUnavailable
}

// Run ingests batches into the stored lead set and re-scores every lead.
// Calling it with no batches re-matches the stored source records and
// re-scores. Stored leads are untouched when a batch is structurally invalid.
func (p *Pipeline) Run(ctx context.Context, batches []model.RawBatch) (*Result, error) {
	if err := validateBatches(batches); err != nil {
		return nil, err
	}

	run, err := p.startRun(ctx)
	if err != nil {
		return nil, err
	}
	log := p.log.With(zap.String("run_id", run.ID))
	log.Info("pipeline: run started", zap.Int("batches", len(batches)))

	res, runErr := p.run(ctx, log, run, batches)
	if err := p.finishRun(ctx, run, runErr); err != nil {
		if runErr == nil {
			return nil, err
		}
		log.Warn("pipeline: failed to record run failure", zap.Error(err))
	}
	if runErr != nil {
		log.Error("pipeline: run failed", zap.Error(runErr))
		return nil, runErr
	}

	res.Run = run
	log.Info("pipeline: run complete",
		zap.Int("records_in", run.Stats.RecordsIn),
		zap.Int("rejected", run.Stats.RecordsRejected),
		zap.Int("new_leads", run.Stats.NewLeads),
		zap.Int("total_leads", run.Stats.TotalLeads),
		zap.Int("enrichment_failures", run.Stats.EnrichmentFailures),
	)
	return res, nil
}

// Rescore scores the stored leads without matching or enrichment and appends
// a snapshot for each.
func (p *Pipeline) Rescore(ctx context.Context) (*Result, error) {
	run, err := p.startRun(ctx)
	if err != nil {
		return nil, err
	}
	log := p.log.With(zap.String("run_id", run.ID))

	res, runErr := func() (*Result, error) {
		leads, err := p.store.LoadLeads(ctx)
		if err != nil {
			return nil, eris.Wrap(err, "pipeline: load leads")
		}
		res := &Result{Leads: sortLeads(leads)}
		if err := p.score(ctx, run, res); err != nil {
			return nil, err
		}
		run.Stats.TotalLeads = len(leads)
		return res, nil
	}()
	if err := p.finishRun(ctx, run, runErr); err != nil && runErr == nil {
		return nil, err
	}
	if runErr != nil {
		log.Error("pipeline: rescore failed", zap.Error(runErr))
		return nil, runErr
	}

	res.Run = run
	log.Info("pipeline: rescore complete", zap.Int("scored", run.Stats.Scored))
	return res, nil
}

func (p *Pipeline) run(ctx context.Context, log *zap.Logger, run *model.PipelineRun, batches []model.RawBatch) (*Result, error) {
	now := p.clock.Now().UTC()
	stats := &run.Stats
	res := &Result{}

	prior, err := p.store.LoadLeads(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: load leads")
	}
	priorAttrs, err := p.store.LoadAttributions(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: load attributions")
	}
	priorByUID := make(map[string]*model.CanonicalLead, len(prior))
	for _, l := range prior {
		priorByUID[l.LeadUID] = l
	}

	// Normalize.
	u := p.collect(log, batches, priorByUID, priorAttrs, res, stats)

	// Match.
	mres := p.matcher.Match(u.candidates())
	stats.Groups = len(mres.Groups) - mres.Suppressed
	stats.ExactJoins = mres.ExactJoins
	stats.FuzzyJoins = mres.FuzzyJoins
	stats.Suppressed = mres.Suppressed
	stats.Ambiguities = len(mres.Warnings)
	res.Warnings = mres.Warnings

	// Merge.
	produced := make(map[string]bool)
	var merged []model.SourceAttribution
	for _, g := range mres.Groups {
		if g.Suppressed {
			continue
		}
		out := p.merger.Merge(g, priorByUID, now)
		if produced[out.Lead.LeadUID] {
			// A stored lead whose records split across groups keeps its uid
			// on the first group only.
			log.Warn("pipeline: stored lead split across groups", zap.String("lead_uid", out.Lead.LeadUID))
			g.PriorLeadUID = ""
			out = p.merger.Merge(g, priorByUID, now)
		}
		produced[out.Lead.LeadUID] = true
		if out.IsNew {
			stats.NewLeads++
		} else {
			stats.UpdatedLeads++
		}
		stats.MergeConflicts += len(out.Conflicts)
		res.Conflicts = append(res.Conflicts, out.Conflicts...)
		res.Leads = append(res.Leads, out.Lead)
		merged = append(merged, out.Attributions...)
	}
	res.Attributions = append(res.Attributions, merged...)

	// Stored leads no group reproduced stay as they are, minus the new flag.
	for _, l := range prior {
		if produced[l.LeadUID] {
			continue
		}
		l.NewThisWeek = false
		res.Leads = append(res.Leads, l)
	}
	for _, a := range priorAttrs {
		if !produced[a.LeadUID] {
			res.Attributions = append(res.Attributions, a)
		}
	}
	res.Leads = sortLeads(res.Leads)
	stats.TotalLeads = len(res.Leads)

	if err := p.store.SaveLeads(ctx, res.Leads); err != nil {
		return nil, eris.Wrap(err, "pipeline: save merged leads")
	}
	if err := p.store.SaveAttributions(ctx, merged); err != nil {
		return nil, eris.Wrap(err, "pipeline: save attributions")
	}

	// Enrich.
	runner := enrich.NewRunner(p.enrich, p.clock, p.adapters(enrich.NewBedIndex(u.records()))...)
	est, err := runner.Run(ctx, res.Leads, p.store.SaveLeads)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: enrich")
	}
	stats.Enriched = est.Enriched
	stats.EnrichmentSkipped = est.Skipped
	stats.EnrichmentFailures = len(est.Failures)
	res.EnrichmentFailures = est.Failures

	// Score.
	if err := p.score(ctx, run, res); err != nil {
		return nil, err
	}
	return res, nil
}

// score ranks res.Leads, then saves them along with their snapshots.
func (p *Pipeline) score(ctx context.Context, run *model.PipelineRun, res *Result) error {
	snaps, err := p.scorer.ScoreAll(res.Leads, run.ID, p.clock.Now().UTC())
	if err != nil {
		return eris.Wrap(err, "pipeline: score")
	}
	if err := p.store.SaveLeads(ctx, res.Leads); err != nil {
		return eris.Wrap(err, "pipeline: save scored leads")
	}
	if err := p.store.AppendSnapshots(ctx, snaps); err != nil {
		return eris.Wrap(err, "pipeline: append snapshots")
	}

	res.Snapshots = snaps
	run.Stats.Scored = len(snaps)
	run.Stats.Tiers = make(map[model.Tier]int)
	for _, s := range snaps {
		run.Stats.Tiers[s.PriorityTier]++
	}
	return nil
}

func (p *Pipeline) startRun(ctx context.Context) (*model.PipelineRun, error) {
	run := &model.PipelineRun{
		ID:        uuid.NewString(),
		Status:    model.RunStatusRunning,
		StartedAt: p.clock.Now().UTC(),
	}
	if err := p.store.CreateRun(ctx, run); err != nil {
		return nil, eris.Wrap(err, "pipeline: create run")
	}
	return run, nil
}

// finishRun records the outcome even when ctx has been cancelled.
func (p *Pipeline) finishRun(ctx context.Context, run *model.PipelineRun, runErr error) error {
	finished := p.clock.Now().UTC()
	run.FinishedAt = &finished
	run.Status = model.RunStatusComplete
	if runErr != nil {
		run.Status = model.RunStatusFailed
		run.Error = runErr.Error()
	}
	if err := p.store.FinishRun(context.WithoutCancel(ctx), run); err != nil {
		return eris.Wrap(err, "pipeline: finish run")
	}
	return nil
}

// universe is the record set one run matches over: every stored source
// record plus the new batches, one record per (source, source_id).
type universe struct {
	byKey   map[string]*model.NormalizedRecord
	prior   map[string]model.SourceAttribution
	leads   map[string]*model.CanonicalLead
	ordered []string
}

// collect normalizes stored source snapshots and the new batches. A new
// record replaces a stored one with the same identity unless it was
// ingested earlier.
func (p *Pipeline) collect(log *zap.Logger, batches []model.RawBatch, leads map[string]*model.CanonicalLead, attrs []model.SourceAttribution, res *Result, stats *model.RunStats) *universe {
	u := &universe{
		byKey: make(map[string]*model.NormalizedRecord),
		prior: make(map[string]model.SourceAttribution),
		leads: leads,
	}

	for _, a := range attrs {
		rec, err := p.norm.Normalize(model.RawRecord{Source: a.Source, IngestedAt: a.IngestedAt, Data: a.RawData})
		if err != nil {
			log.Warn("pipeline: stored record no longer normalizes",
				zap.String("lead_uid", a.LeadUID),
				zap.String("source", string(a.Source)),
				zap.String("source_id", a.SourceID),
				zap.Error(err),
			)
			continue
		}
		u.byKey[rec.Key()] = rec
		if _, ok := leads[a.LeadUID]; ok {
			u.prior[rec.Key()] = a
		}
	}

	stats.Rejections = make(map[model.ValidationReason]int)
	for _, b := range batches {
		for _, raw := range b.Expand() {
			stats.RecordsIn++
			rec, err := p.norm.Normalize(raw)
			if err != nil {
				var verr *model.ValidationError
				if errors.As(err, &verr) {
					res.Rejections = append(res.Rejections, verr)
					stats.Rejections[verr.Reason]++
				}
				stats.RecordsRejected++
				log.Debug("pipeline: record rejected", zap.Error(err))
				continue
			}
			if existing, ok := u.byKey[rec.Key()]; ok {
				stats.RecordsSuperseded++
				if rec.IngestedAt.Before(existing.IngestedAt) {
					continue
				}
			}
			u.byKey[rec.Key()] = rec
		}
	}
	if stats.RecordsRejected > 0 {
		log.Warn("pipeline: records rejected",
			zap.Int("count", stats.RecordsRejected),
			zap.Any("reasons", stats.Rejections),
		)
	}

	u.ordered = make([]string, 0, len(u.byKey))
	for k := range u.byKey {
		u.ordered = append(u.ordered, k)
	}
	sort.Strings(u.ordered)
	return u
}

func (u *universe) records() []*model.NormalizedRecord {
	out := make([]*model.NormalizedRecord, 0, len(u.ordered))
	for _, k := range u.ordered {
		out = append(out, u.byKey[k])
	}
	return out
}

func (u *universe) candidates() []match.Candidate {
	out := make([]match.Candidate, 0, len(u.ordered))
	for _, k := range u.ordered {
		rec := u.byKey[k]
		c := match.Candidate{Record: rec, FirstSeen: rec.IngestedAt}
		if a, ok := u.prior[k]; ok {
			c.PriorLeadUID = a.LeadUID
			c.PriorConfidence = a.MatchConfidence
			c.PriorMethod = a.MatchMethod
			c.FirstSeen = u.leads[a.LeadUID].FirstSeen
		}
		out = append(out, c)
	}
	return out
}

func validateBatches(batches []model.RawBatch) error {
	for i, b := range batches {
		if _, err := model.ParseSource(string(b.Source)); err != nil {
			return eris.Wrapf(err, "pipeline: batch %d", i)
		}
		if b.IngestedAt.IsZero() {
			return eris.Errorf("pipeline: batch %d (%s): ingested_at is required", i, b.Source)
		}
	}
	return nil
}

func sortLeads(leads []*model.CanonicalLead) []*model.CanonicalLead {
	sort.Slice(leads, func(i, j int) bool { return leads[i].LeadUID < leads[j].LeadUID })
	return leads
}

