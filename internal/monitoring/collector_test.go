package monitoring

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/visitor-cli/internal/model"
	"github.com/sells-group/visitor-cli/internal/store"
)

type mockStore struct {
	leads    []model.Lead
	dlqCount int
	listErr  error
	dlqErr   error

	lastFilter store.LeadFilter
}

func (m *mockStore) ListLeads(_ context.Context, filter store.LeadFilter) ([]model.Lead, error) {
	m.lastFilter = filter
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []model.Lead
	for _, l := range m.leads {
		if !filter.CreatedAfter.IsZero() && l.CreatedAt.Before(filter.CreatedAfter) {
			continue
		}
		out = append(out, l)
	}
	return out, nil
}

func (m *mockStore) CountDLQ(_ context.Context) (int, error) {
	return m.dlqCount, m.dlqErr
}

var fixedNow = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func newTestCollector(st LeadSource) *Collector {
	c := NewCollector(st)
	c.now = func() time.Time { return fixedNow }
	return c
}

func TestCollector_Collect(t *testing.T) {
	recent := fixedNow.Add(-time.Hour)
	st := &mockStore{
		leads: []model.Lead{
			{Status: model.StatusEnriched, Confidence: 0.9, CostCents: 12, AIReferred: true, CreatedAt: recent},
			{Status: model.StatusEnriched, Confidence: 0.7, CostCents: 10, CreatedAt: recent},
			{Status: model.StatusEmailFail, Confidence: 0.8, CostCents: 20, CreatedAt: recent},
			{Status: model.StatusNoContact, CostCents: 3, CreatedAt: recent},
			{Status: model.StatusEnriched, Confidence: 0.5, CostCents: 500, CreatedAt: fixedNow.Add(-48 * time.Hour)},
		},
		dlqCount: 7,
	}

	snap, err := newTestCollector(st).Collect(context.Background(), 24)
	require.NoError(t, err)

	assert.Equal(t, 4, snap.LeadsTotal)
	assert.Equal(t, 2, snap.LeadsEnriched)
	assert.Equal(t, 1, snap.LeadsEmailFail)
	assert.Equal(t, 1, snap.LeadsNoContact)
	assert.Equal(t, 1, snap.LeadsAI)
	assert.InDelta(t, 0.5, snap.EnrichedRate, 0.0001)
	assert.InDelta(t, 0.45, snap.CostUSD, 0.0001)
	assert.InDelta(t, 0.8, snap.AvgConfidence, 0.0001)
	assert.Equal(t, 7, snap.DLQDepth)
	assert.Equal(t, 24, snap.LookbackHours)
	assert.Equal(t, fixedNow, snap.CollectedAt)

	assert.Equal(t, fixedNow.Add(-24*time.Hour), st.lastFilter.CreatedAfter)
	assert.Equal(t, maxLeadsScanned, st.lastFilter.Limit)
}

func TestCollector_Empty(t *testing.T) {
	snap, err := newTestCollector(&mockStore{}).Collect(context.Background(), 1)
	require.NoError(t, err)

	assert.Zero(t, snap.LeadsTotal)
	assert.Zero(t, snap.EnrichedRate)
	assert.Zero(t, snap.AvgConfidence)
}

func TestCollector_ListError(t *testing.T) {
	st := &mockStore{listErr: errors.New("db down")}
	_, err := newTestCollector(st).Collect(context.Background(), 24)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "list leads")
}

func TestCollector_DLQError(t *testing.T) {
	st := &mockStore{dlqErr: errors.New("db down")}
	_, err := newTestCollector(st).Collect(context.Background(), 24)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "count dlq")
}
