package enrich

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/harvest-med/lead-pipeline/internal/model"
	"github.com/harvest-med/lead-pipeline/internal/resilience"
	"github.com/harvest-med/lead-pipeline/pkg/geocode"
)

// Checkpoint persists a chunk of enriched leads so an interrupted run can
// resume without redoing them.
type Checkpoint func(ctx context.Context, leads []*model.CanonicalLead) error

// Stats summarizes one enrichment pass.
type Stats struct {
	Enriched int
	Skipped  int
	Failures []*model.EnrichmentUnavailable
}

// Runner applies adapters to leads with bounded concurrency.
type Runner struct {
	cfg      Config
	adapters []Adapter
	clock    clockwork.Clock
	log      *zap.Logger
}

// NewRunner returns a Runner that applies adapters in the given order.
func NewRunner(cfg Config, clock clockwork.Clock, adapters ...Adapter) *Runner {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.CheckpointEvery < 1 {
		cfg.CheckpointEvery = DefaultConfig().CheckpointEvery
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Runner{
		cfg:      cfg,
		adapters: adapters,
		clock:    clock,
		log:      zap.L().With(zap.String("component", "enrich")),
	}
}

// DefaultAdapters builds the standard adapter chain. Order matters: beds
// feed the waste estimate and completeness sees every filled field.
func DefaultAdapters(cfg Config, beds BedIndex) []Adapter {
	var out []Adapter
	if cfg.Geocode.Enabled {
		client := geocode.NewClient(
			geocode.WithBaseURL(cfg.Geocode.BaseURL),
			geocode.WithRateLimit(cfg.Geocode.RatePerSec),
			geocode.WithHTTPClient(&http.Client{Timeout: time.Duration(cfg.Geocode.TimeoutSecs) * time.Second}),
		)
		out = append(out, &GeocodeAdapter{Client: client})
	}
	return append(out,
		GeoAdapter{},
		&BedCountAdapter{Index: beds},
		WasteAdapter{},
		CompletenessAdapter{},
	)
}

// Run enriches every lead whose EnrichedAt is unset, in place. Leads are
// processed in chunks of CheckpointEvery; each finished chunk is handed to
// checkpoint before the next begins. A lead that any adapter failed on
// keeps EnrichedAt nil so the next run retries it.
func (r *Runner) Run(ctx context.Context, leads []*model.CanonicalLead, checkpoint Checkpoint) (*Stats, error) {
	stats := &Stats{}
	var pending []*model.CanonicalLead
	for _, l := range leads {
		if l.EnrichedAt != nil {
			stats.Skipped++
			continue
		}
		pending = append(pending, l)
	}

	r.log.Info("enrichment starting",
		zap.Int("pending", len(pending)),
		zap.Int("skipped", stats.Skipped),
		zap.Int("concurrency", r.cfg.Concurrency),
	)

	var mu sync.Mutex
	for start := 0; start < len(pending); start += r.cfg.CheckpointEvery {
		if err := ctx.Err(); err != nil {
			return stats, eris.Wrap(err, "enrich: interrupted")
		}
		end := min(start+r.cfg.CheckpointEvery, len(pending))
		chunk := pending[start:end]

		g, gCtx := errgroup.WithContext(ctx)
		g.SetLimit(r.cfg.Concurrency)
		for _, lead := range chunk {
			lead := lead // per-iteration copy (go 1.21 loop semantics)
			g.Go(func() error {
				failures := r.enrichOne(gCtx, lead)
				mu.Lock()
				defer mu.Unlock()
				if len(failures) == 0 {
					stats.Enriched++
				}
				stats.Failures = append(stats.Failures, failures...)
				return nil
			})
		}
		_ = g.Wait()

		if checkpoint != nil {
			if err := checkpoint(ctx, chunk); err != nil {
				return stats, eris.Wrap(err, "enrich: checkpoint")
			}
		}
		r.log.Debug("enrichment checkpoint",
			zap.Int("done", end),
			zap.Int("pending", len(pending)),
		)
	}

	r.log.Info("enrichment complete",
		zap.Int("enriched", stats.Enriched),
		zap.Int("failures", len(stats.Failures)),
	)
	return stats, nil
}

// enrichOne runs each adapter on a copy of the lead and adopts the copy
// only when the adapter succeeds.
func (r *Runner) enrichOne(ctx context.Context, lead *model.CanonicalLead) []*model.EnrichmentUnavailable {
	work := lead.Clone()
	var failures []*model.EnrichmentUnavailable
	for _, a := range r.adapters {
		trial, err := r.call(ctx, a, work)
		if err != nil {
			f := &model.EnrichmentUnavailable{LeadUID: lead.LeadUID, Adapter: a.Name(), Err: err}
			r.log.Warn("enrichment unavailable",
				zap.String("lead_uid", lead.LeadUID),
				zap.String("adapter", a.Name()),
				zap.Error(err),
			)
			failures = append(failures, f)
			continue
		}
		work = trial
	}
	if len(failures) == 0 {
		now := r.clock.Now().UTC()
		work.EnrichedAt = &now
	} else {
		work.EnrichedAt = nil
	}
	*lead = *work
	return failures
}

// call retries a on a fresh copy of lead per attempt and returns the copy
// from the successful attempt.
func (r *Runner) call(ctx context.Context, a Adapter, lead *model.CanonicalLead) (*model.CanonicalLead, error) {
	retry := resilience.RetryConfig{
		MaxAttempts:    r.cfg.Retry.MaxAttempts,
		InitialBackoff: time.Duration(r.cfg.Retry.InitialBackoffMS) * time.Millisecond,
		MaxBackoff:     time.Duration(r.cfg.Retry.MaxBackoffMS) * time.Millisecond,
		JitterFraction: 0.2,
		OnRetry:        resilience.LogRetries("enrich." + a.Name()),
	}
	var out *model.CanonicalLead
	err := resilience.Do(ctx, retry, func(ctx context.Context) error {
		if r.cfg.AdapterTimeoutSecs > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, time.Duration(r.cfg.AdapterTimeoutSecs)*time.Second)
			defer cancel()
		}
		trial := lead.Clone()
		if err := a.Enrich(ctx, trial); err != nil {
			return err
		}
		out = trial
		return nil
	})
	return out, err
}
