package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/visitor-cli/internal/model"
	"github.com/sells-group/visitor-cli/internal/store"
)

// MetricsSnapshot holds a point-in-time view of enrichment health.
type MetricsSnapshot struct {
	// Leads written within the lookback window.
	LeadsTotal     int     `json:"leads_total"`
	LeadsEnriched  int     `json:"leads_enriched"`
	LeadsEmailFail int     `json:"leads_email_fail"`
	LeadsNoContact int     `json:"leads_no_contact"`
	LeadsAI        int     `json:"leads_ai_referred"`
	EnrichedRate   float64 `json:"enriched_rate"`
	CostUSD        float64 `json:"cost_usd"`
	AvgConfidence  float64 `json:"avg_confidence"`

	// DLQ depth.
	DLQDepth int `json:"dlq_depth"`

	// Metadata.
	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// LeadSource is the part of the store the collector reads.
type LeadSource interface {
	ListLeads(ctx context.Context, filter store.LeadFilter) ([]model.Lead, error)
	CountDLQ(ctx context.Context) (int, error)
}

// Collector gathers metrics from the store.
type Collector struct {
	store LeadSource
	now   func() time.Time
}

// NewCollector creates a new metrics collector.
func NewCollector(st LeadSource) *Collector {
	return &Collector{store: st, now: time.Now}
}

// maxLeadsScanned bounds one snapshot.
const maxLeadsScanned = 10000

// Collect gathers a snapshot of system metrics over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	now := c.now().UTC()
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}

	leads, err := c.store.ListLeads(ctx, store.LeadFilter{
		CreatedAfter: now.Add(-time.Duration(lookbackHours) * time.Hour),
		Limit:        maxLeadsScanned,
	})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list leads")
	}

	snap.LeadsTotal = len(leads)
	var totalCents int
	var totalConfidence float64
	var scored int

	for _, l := range leads {
		switch l.Status {
		case model.StatusEnriched:
			snap.LeadsEnriched++
		case model.StatusEmailFail:
			snap.LeadsEmailFail++
		case model.StatusNoContact:
			snap.LeadsNoContact++
		}
		if l.AIReferred {
			snap.LeadsAI++
		}
		totalCents += l.CostCents
		if l.Confidence > 0 {
			totalConfidence += l.Confidence
			scored++
		}
	}

	snap.CostUSD = float64(totalCents) / 100
	if snap.LeadsTotal > 0 {
		snap.EnrichedRate = float64(snap.LeadsEnriched) / float64(snap.LeadsTotal)
	}
	if scored > 0 {
		snap.AvgConfidence = totalConfidence / float64(scored)
	}

	dlqCount, err := c.store.CountDLQ(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: count dlq")
	}
	snap.DLQDepth = dlqCount

	return snap, nil
}
