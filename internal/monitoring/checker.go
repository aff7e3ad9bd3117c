package monitoring

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/harvest-med/lead-pipeline/internal/config"
)

const defaultCheckInterval = 15 * time.Minute

// Checker repeats Collect and Evaluate on an interval and delivers whatever
// fires. It also remembers the last snapshot for callers that want to report
// it.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	cfg       config.MonitoringConfig
	clock     clockwork.Clock
	log       *zap.Logger

	mu   sync.Mutex
	last *MetricsSnapshot
}

// NewChecker wires a checker. A nil clock uses wall time.
func NewChecker(collector *Collector, alerter *Alerter, cfg config.MonitoringConfig, clock clockwork.Clock) *Checker {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Checker{
		collector: collector,
		alerter:   alerter,
		cfg:       cfg,
		clock:     clock,
		log:       zap.L().With(zap.String("component", "monitoring")),
	}
}

// Run checks once immediately, then every check_interval_secs until ctx is
// done.
func (c *Checker) Run(ctx context.Context) {
	every := time.Duration(c.cfg.CheckIntervalSecs) * time.Second
	if every <= 0 {
		every = defaultCheckInterval
	}
	c.log.Info("monitoring: checker started",
		zap.Duration("every", every),
		zap.Int("lookback_hours", c.cfg.LookbackWindowHours),
	)

	t := c.clock.NewTicker(every)
	defer t.Stop()

	for {
		c.Check(ctx)
		select {
		case <-ctx.Done():
			c.log.Info("monitoring: checker stopped")
			return
		case <-t.Chan():
		}
	}
}

// Check runs one collection, sends the alerts it triggers, and returns them.
func (c *Checker) Check(ctx context.Context) []Alert {
	snap, err := c.collector.Collect(ctx, c.cfg.LookbackWindowHours)
	if err != nil {
		if ctx.Err() == nil {
			c.log.Error("monitoring: collect failed", zap.Error(err))
		}
		return nil
	}
	c.mu.Lock()
	c.last = snap
	c.mu.Unlock()

	alerts := c.alerter.Evaluate(snap)
	if len(alerts) == 0 {
		c.log.Debug("monitoring: healthy",
			zap.Int("runs", snap.RunsTotal),
			zap.Float64("hours_since_complete", snap.HoursSinceComplete),
		)
		return nil
	}

	sent := c.alerter.SendAlerts(ctx, alerts)
	c.log.Warn("monitoring: alerts triggered",
		zap.Int("triggered", len(alerts)),
		zap.Int("sent", sent),
	)
	return alerts
}

// Last returns the most recent snapshot, or nil before the first check.
func (c *Checker) Last() *MetricsSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}
