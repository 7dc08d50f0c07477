package pipeline

import (
	"context"
	"iter"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"github.com/sells-group/visitor-cli/internal/insight"
	"github.com/sells-group/visitor-cli/internal/model"
	"github.com/sells-group/visitor-cli/internal/search"
	"github.com/sells-group/visitor-cli/internal/store"
	"github.com/sells-group/visitor-cli/pkg/zerobounce"
)

// --- Resolver Mock ---

type mockResolver struct {
	mock.Mock
}

func (m *mockResolver) Resolve(ctx context.Context, ip string) (*model.Company, error) {
	args := m.Called(ctx, ip)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Company), args.Error(1)
}

// --- Searcher Mock ---

type mockSearcher struct {
	mock.Mock
}

func (m *mockSearcher) Search(ctx context.Context, companyName, role string) ([]model.CandidateContact, error) {
	args := m.Called(ctx, companyName, role)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.CandidateContact), args.Error(1)
}

// --- Fetcher Mock ---

type mockFetcher struct {
	mock.Mock
}

func (m *mockFetcher) FetchAll(ctx context.Context, cands []model.CandidateContact) ([]model.CandidateContact, search.Usage, error) {
	args := m.Called(ctx, cands)
	var out []model.CandidateContact
	if args.Get(0) != nil {
		out = args.Get(0).([]model.CandidateContact)
	}
	return out, args.Get(1).(search.Usage), args.Error(2)
}

// --- Scorer Mock ---

type mockScorer struct {
	mock.Mock
}

func (m *mockScorer) ScoreAndSelect(cands []model.CandidateContact, companyName, locationHint, role string) *model.ScoredContact {
	args := m.Called(cands, companyName, locationHint, role)
	if args.Get(0) == nil {
		return nil
	}
	return args.Get(0).(*model.ScoredContact)
}

func (m *mockScorer) NoMatchReason() string {
	return "no contacts met minimum confidence threshold (0.3)"
}

// --- Verifier Mock ---

type mockVerifier struct {
	mock.Mock
}

func (m *mockVerifier) VerifyFirst(ctx context.Context, cands iter.Seq[model.EmailCandidate]) (*model.VerifiedEmail, int, error) {
	args := m.Called(ctx, cands)
	if args.Get(0) == nil {
		return nil, args.Int(1), args.Error(2)
	}
	return args.Get(0).(*model.VerifiedEmail), args.Int(1), args.Error(2)
}

// --- ZeroBounce Mock ---

type mockZeroBounce struct {
	mock.Mock
}

func (m *mockZeroBounce) Validate(ctx context.Context, addr string) (*zerobounce.ValidateResponse, error) {
	args := m.Called(ctx, addr)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*zerobounce.ValidateResponse), args.Error(1)
}

// --- Enricher Mock ---

type mockEnricher struct {
	mock.Mock
}

func (m *mockEnricher) DeepEnrich(ctx context.Context, name, company, title string) (*model.Insights, insight.Usage) {
	args := m.Called(ctx, name, company, title)
	if args.Get(0) == nil {
		return nil, args.Get(1).(insight.Usage)
	}
	return args.Get(0).(*model.Insights), args.Get(1).(insight.Usage)
}

// --- Observer Mock ---

type mockObserver struct {
	mu      sync.Mutex
	phases  []string
	results []*model.EnrichmentResult
}

func (m *mockObserver) ObservePhase(phase string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.phases = append(m.phases, phase)
}

func (m *mockObserver) ObserveResult(r *model.EnrichmentResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results = append(m.results, r)
}

// --- In-memory store ---

type memStore struct {
	mu       sync.Mutex
	visits   map[string]*model.Visit
	leads    []*model.Lead
	contacts []*model.Contact
	mentions map[string][]model.MediaMention
	calls    []string

	leadErr    error
	contactErr error
}

func newMemStore(visits ...*model.Visit) *memStore {
	s := &memStore{visits: map[string]*model.Visit{}, mentions: map[string][]model.MediaMention{}}
	for _, v := range visits {
		s.visits[v.ID] = v
	}
	return s
}

func (s *memStore) GetVisit(_ context.Context, id string) (*model.Visit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.visits[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *v
	return &cp, nil
}

func (s *memStore) CreateLead(_ context.Context, l *model.Lead) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, "lead")
	if s.leadErr != nil {
		return s.leadErr
	}
	l.ID = uuid.New().String()
	s.leads = append(s.leads, l)
	return nil
}

func (s *memStore) CreateContact(_ context.Context, c *model.Contact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, "contact")
	if s.contactErr != nil {
		return s.contactErr
	}
	c.ID = uuid.New().String()
	s.contacts = append(s.contacts, c)
	return nil
}

func (s *memStore) CreateMediaMentions(_ context.Context, contactID string, mentions []model.MediaMention) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, "mentions")
	s.mentions[contactID] = append(s.mentions[contactID], mentions...)
	return nil
}
