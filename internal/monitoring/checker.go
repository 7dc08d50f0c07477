package monitoring

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/visitor-cli/internal/config"
)

const defaultCheckInterval = 5 * time.Minute

// Checker periodically collects a snapshot, refreshes the exported gauges
// and raises alerts for breached thresholds.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	metrics   *Metrics
	cfg       config.MonitoringConfig
	log       *zap.Logger
}

// NewChecker creates a Checker. metrics may be nil.
func NewChecker(collector *Collector, alerter *Alerter, metrics *Metrics, cfg config.MonitoringConfig) *Checker {
	return &Checker{
		collector: collector,
		alerter:   alerter,
		metrics:   metrics,
		cfg:       cfg,
		log:       zap.L().With(zap.String("component", "monitoring.checker")),
	}
}

func (c *Checker) interval() time.Duration {
	if c.cfg.CheckIntervalSecs <= 0 {
		return defaultCheckInterval
	}
	return time.Duration(c.cfg.CheckIntervalSecs) * time.Second
}

// Run checks once immediately, then on every interval until ctx is done.
func (c *Checker) Run(ctx context.Context) {
	every := c.interval()
	c.log.Info("alert checker started",
		zap.Duration("interval", every),
		zap.Int("lookback_hours", c.cfg.LookbackWindowHours),
	)

	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		if ctx.Err() == nil {
			c.Check(ctx)
		}
		select {
		case <-ctx.Done():
			c.log.Info("alert checker stopped")
			return
		case <-ticker.C:
		}
	}
}

// Check runs a single collection and returns the alerts it raised.
func (c *Checker) Check(ctx context.Context) []Alert {
	snap, err := c.collector.Collect(ctx, c.cfg.LookbackWindowHours)
	if err != nil {
		c.log.Error("monitoring: collect snapshot", zap.Error(err))
		return nil
	}
	c.metrics.SetSnapshot(snap)

	alerts := c.alerter.Evaluate(snap)
	for _, a := range alerts {
		c.log.Warn("monitoring: threshold breached",
			zap.String("type", string(a.Type)),
			zap.String("severity", a.Severity),
			zap.String("message", a.Message),
		)
	}
	if len(alerts) > 0 {
		sent := c.alerter.SendAlerts(ctx, alerts)
		c.log.Info("monitoring: check complete", zap.Int("alerts", len(alerts)), zap.Int("sent", sent))
	}
	return alerts
}
