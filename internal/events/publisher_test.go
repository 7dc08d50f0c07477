package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/visitor-cli/internal/config"
	"github.com/sells-group/visitor-cli/internal/model"
)

type mockConn struct {
	mock.Mock
}

func (m *mockConn) Publish(subj string, data []byte) error {
	args := m.Called(subj, data)
	return args.Error(0)
}

func (m *mockConn) FlushWithContext(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *mockConn) Close() {
	m.Called()
}

func TestConnect_NoURLIsNoop(t *testing.T) {
	p, err := Connect(config.EventsConfig{})
	require.NoError(t, err)

	assert.False(t, p.Enabled())
	assert.Equal(t, "visitor.enrichment.enriched", p.Subject(model.StatusEnriched))
	assert.NotPanics(t, func() {
		p.Publish(&model.EnrichmentResult{Status: model.StatusEnriched})
		p.Close(context.Background())
	})
}

func TestPublisher_Subject(t *testing.T) {
	p := newPublisher(&mockConn{}, "acme.leads")

	assert.Equal(t, "acme.leads.skip_isp", p.Subject(model.StatusSkipISP))
	assert.Equal(t, "acme.leads.email_fail", p.Subject(model.StatusEmailFail))
	assert.Equal(t, "acme.leads.error", p.Subject(model.StatusError))
}

func TestPublisher_Publish(t *testing.T) {
	nc := &mockConn{}
	p := newPublisher(nc, "")

	result := &model.EnrichmentResult{
		Success:   true,
		Status:    model.StatusEnriched,
		VisitID:   "visit-1",
		LeadID:    "lead-1",
		CostCents: 4,
	}

	nc.On("Publish", "visitor.enrichment.enriched", mock.MatchedBy(func(data []byte) bool {
		var got model.EnrichmentResult
		if err := json.Unmarshal(data, &got); err != nil {
			return false
		}
		return got.VisitID == "visit-1" && got.LeadID == "lead-1" && got.Success
	})).Return(nil)

	p.Publish(result)
	nc.AssertExpectations(t)
}

func TestPublisher_PublishErrorIsSwallowed(t *testing.T) {
	nc := &mockConn{}
	p := newPublisher(nc, "x")
	nc.On("Publish", "x.error", mock.Anything).Return(errors.New("nats: connection closed"))

	assert.NotPanics(t, func() {
		p.Publish(&model.EnrichmentResult{Status: model.StatusError, VisitID: "v"})
	})
	nc.AssertExpectations(t)
}

func TestPublisher_NilResult(t *testing.T) {
	nc := &mockConn{}
	p := newPublisher(nc, "x")

	p.Publish(nil)
	nc.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything)
}

func TestPublisher_Close(t *testing.T) {
	nc := &mockConn{}
	p := newPublisher(nc, "x")
	nc.On("FlushWithContext", mock.Anything).Return(errors.New("timeout"))
	nc.On("Close").Return()

	p.Close(context.Background())
	nc.AssertExpectations(t)
}
