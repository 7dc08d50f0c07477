// Package pipeline turns an anonymous visit into a persisted lead: it
// resolves the visitor's company, finds and scores candidate contacts,
// verifies an email address and optionally adds public insights.
package pipeline

import (
	"context"
	"fmt"
	"iter"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/visitor-cli/internal/config"
	"github.com/sells-group/visitor-cli/internal/cost"
	"github.com/sells-group/visitor-cli/internal/email"
	"github.com/sells-group/visitor-cli/internal/insight"
	"github.com/sells-group/visitor-cli/internal/model"
	"github.com/sells-group/visitor-cli/internal/resilience"
	"github.com/sells-group/visitor-cli/internal/search"
)

// DefaultRole is used when the caller gives no role description.
const DefaultRole = "Senior executive or decision maker"

// Phase names recorded on results and metrics.
const (
	PhaseVisit   = "visit"
	PhaseResolve = "resolve"
	PhaseSearch  = "search"
	PhaseFetch   = "fetch"
	PhaseScore   = "score"
	PhaseEmail   = "email"
	PhaseInsight = "deep_enrich"
	PhasePersist = "persist"
)

// Store is the persistence the pipeline needs.
type Store interface {
	GetVisit(ctx context.Context, id string) (*model.Visit, error)
	CreateLead(ctx context.Context, l *model.Lead) error
	CreateContact(ctx context.Context, c *model.Contact) error
	CreateMediaMentions(ctx context.Context, contactID string, mentions []model.MediaMention) error
}

// CompanyResolver maps an IP to a business, or nil when it is not one.
type CompanyResolver interface {
	Resolve(ctx context.Context, ip string) (*model.Company, error)
}

// CandidateSearcher finds person profiles for a role at a company.
type CandidateSearcher interface {
	Search(ctx context.Context, companyName, role string) ([]model.CandidateContact, error)
}

// ContentFetcher fills in profile content, omitting what cannot be fetched.
type ContentFetcher interface {
	FetchAll(ctx context.Context, cands []model.CandidateContact) ([]model.CandidateContact, search.Usage, error)
}

// ContactScorer picks the best candidate above the confidence floor.
type ContactScorer interface {
	ScoreAndSelect(cands []model.CandidateContact, companyName, locationHint, role string) *model.ScoredContact
	NoMatchReason() string
}

// EmailVerifier verifies candidates in order until one passes.
type EmailVerifier interface {
	VerifyFirst(ctx context.Context, cands iter.Seq[model.EmailCandidate]) (*model.VerifiedEmail, int, error)
}

// DeepEnricher adds best-effort insights for a confirmed contact.
type DeepEnricher interface {
	DeepEnrich(ctx context.Context, name, company, title string) (*model.Insights, insight.Usage)
}

// Observer receives per-phase timings and final results.
type Observer interface {
	ObservePhase(phase string, d time.Duration)
	ObserveResult(r *model.EnrichmentResult)
}

// Deps are the collaborators of a Pipeline. Enricher and Observer may be nil.
type Deps struct {
	Store    Store
	Resolver CompanyResolver
	Searcher CandidateSearcher
	Fetcher  ContentFetcher
	Scorer   ContactScorer
	Verifier EmailVerifier
	Enricher DeepEnricher
	Costs    *cost.Calculator
	Observer Observer
}

// Pipeline orchestrates one enrichment run per visit. It holds no per-run
// state and is safe for concurrent use.
type Pipeline struct {
	cfg config.PipelineConfig
	Deps
}

// New creates a Pipeline.
func New(cfg config.PipelineConfig, deps Deps) *Pipeline {
	if deps.Costs == nil {
		deps.Costs = cost.NewCalculator(cost.DefaultRates())
	}
	return &Pipeline{cfg: cfg, Deps: deps}
}

// run carries the state of one Enrich call.
type run struct {
	p      *Pipeline
	ctx    context.Context
	log    *zap.Logger
	ledger *cost.Ledger
	result *model.EnrichmentResult
}

// trackPhase times fn, logs its outcome and appends it to the result.
// fn may preset Status (for example to empty); errors mark it failed.
func (r *run) trackPhase(name string, fn func() (*model.PhaseResult, error)) error {
	start := time.Now()
	phaseResult, fnErr := fn()
	elapsed := time.Since(start)
	duration := elapsed.Milliseconds()

	if phaseResult == nil {
		phaseResult = &model.PhaseResult{}
	}
	phaseResult.Name = name
	phaseResult.Duration = duration
	phaseResult.CostCents = r.ledger.Phase(name) * 100

	if fnErr != nil {
		phaseResult.Status = model.PhaseStatusFailed
		phaseResult.Error = fnErr.Error()
		r.log.Error("pipeline: phase failed",
			zap.String("phase", name),
			zap.Int64("duration_ms", duration),
			zap.Error(fnErr),
		)
	} else {
		if phaseResult.Status == "" {
			phaseResult.Status = model.PhaseStatusComplete
		}
		r.log.Info("pipeline: phase complete",
			zap.String("phase", name),
			zap.String("status", string(phaseResult.Status)),
			zap.Int64("duration_ms", duration),
		)
	}

	if r.p.Observer != nil {
		r.p.Observer.ObservePhase(name, elapsed)
	}
	r.result.Phases = append(r.result.Phases, *phaseResult)
	return fnErr
}

// defaultStageTimeout bounds a stage whose configured timeout is not positive.
var defaultStageTimeout = 2 * time.Minute

// stage bounds one external stage.
func (r *run) stage(secs int) (context.Context, context.CancelFunc) {
	if secs <= 0 {
		return context.WithTimeout(r.ctx, defaultStageTimeout)
	}
	return context.WithTimeout(r.ctx, time.Duration(secs)*time.Second)
}

// outcome is what the required stages produced before persistence.
type outcome struct {
	visit    *model.Visit
	company  *model.Company
	contact  *model.ScoredContact
	email    *model.VerifiedEmail
	insights *model.Insights
}

// Enrich runs the pipeline for one visit. It always returns a result; any
// failure is reported through Status and Error. role defaults to
// DefaultRole (or the configured default) when blank.
func (p *Pipeline) Enrich(ctx context.Context, visitID, role string) *model.EnrichmentResult {
	role = strings.TrimSpace(role)
	if role == "" {
		role = p.defaultRole()
	}

	r := &run{
		p:      p,
		ctx:    ctx,
		log:    zap.L().With(zap.String("visit_id", visitID)),
		ledger: cost.NewLedger(),
		result: &model.EnrichmentResult{VisitID: visitID},
	}
	r.log.Info("pipeline: starting enrichment", zap.String("role", role))

	out, status, reason, err := r.safeExecute(role)
	switch {
	case err != nil:
		r.fail(err)
	default:
		r.result.Status = status
		r.result.Error = reason
		if status.PersistsLead() {
			if perr := r.persist(out, status); perr != nil {
				r.fail(perr)
			}
		}
	}

	r.result.Success = r.result.Status == model.StatusEnriched
	r.result.CostCents = r.ledger.Cents()
	if r.result.Status != model.StatusEnriched {
		r.result.Insights = nil
	}

	r.log.Info("pipeline: enrichment finished",
		zap.String("status", string(r.result.Status)),
		zap.Int("cost_cents", r.result.CostCents),
		zap.String("reason", r.result.Error),
	)
	if p.Observer != nil {
		p.Observer.ObserveResult(r.result)
	}
	return r.result
}

func (p *Pipeline) defaultRole() string {
	if d := strings.TrimSpace(p.cfg.DefaultRole); d != "" {
		return d
	}
	return DefaultRole
}

func (r *run) fail(err error) {
	r.result.Status = model.StatusError
	r.result.Error = err.Error()
	r.result.ErrorType = resilience.ClassifyError(err)
}

func (r *run) safeExecute(role string) (out *outcome, status model.Status, reason string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("pipeline: recovered panic", zap.Any("panic", rec))
			out, status, reason = nil, "", ""
			err = eris.Errorf("pipeline: panic: %v", rec)
		}
	}()
	return r.execute(role)
}

// execute runs the required stages in order and stops at the first
// terminal outcome. A non-nil error means status error.
func (r *run) execute(role string) (*outcome, model.Status, string, error) {
	p := r.p
	t := p.cfg.Timeouts
	out := &outcome{}

	err := r.trackPhase(PhaseVisit, func() (*model.PhaseResult, error) {
		ctx, cancel := r.stage(t.PersistSecs)
		defer cancel()
		v, err := p.Store.GetVisit(ctx, r.result.VisitID)
		if err != nil {
			return nil, eris.Wrap(err, "pipeline: load visit")
		}
		out.visit = v
		return nil, nil
	})
	if err != nil {
		return nil, "", "", err
	}
	r.log = r.log.With(zap.String("workspace_id", out.visit.WorkspaceID))

	// Company resolution.
	err = r.trackPhase(PhaseResolve, func() (*model.PhaseResult, error) {
		ctx, cancel := r.stage(t.ResolveSecs)
		defer cancel()
		r.ledger.Add(PhaseResolve, p.Costs.IPInfoLookup())
		c, err := p.Resolver.Resolve(ctx, out.visit.IP)
		if err != nil {
			return nil, err
		}
		if c == nil {
			return &model.PhaseResult{Status: model.PhaseStatusEmpty}, nil
		}
		out.company = c
		return &model.PhaseResult{Metadata: map[string]any{
			"company": c.Name,
			"domain":  c.Domain,
			"source":  c.Source,
		}}, nil
	})
	if err != nil {
		return nil, "", "", err
	}
	if out.company == nil {
		return out, model.StatusSkipISP, fmt.Sprintf("IP %s does not belong to a business", out.visit.IP), nil
	}
	r.result.Company = out.company
	r.log = r.log.With(zap.String("company", out.company.Name))

	// Candidate search.
	var cands []model.CandidateContact
	err = r.trackPhase(PhaseSearch, func() (*model.PhaseResult, error) {
		ctx, cancel := r.stage(t.SearchSecs)
		defer cancel()
		r.ledger.Add(PhaseSearch, p.Costs.JinaSearch())
		found, err := p.Searcher.Search(ctx, out.company.Name, role)
		if err != nil {
			return nil, err
		}
		cands = found
		pr := &model.PhaseResult{Metadata: map[string]any{"candidates": len(found)}}
		if len(found) == 0 {
			pr.Status = model.PhaseStatusEmpty
		}
		return pr, nil
	})
	if err != nil {
		return nil, "", "", err
	}
	if len(cands) == 0 {
		return out, model.StatusNoContact, fmt.Sprintf("No LinkedIn profiles found for %q at %s", role, out.company.Name), nil
	}

	// Profile content.
	var fetched []model.CandidateContact
	err = r.trackPhase(PhaseFetch, func() (*model.PhaseResult, error) {
		ctx, cancel := r.stage(t.FetchSecs)
		defer cancel()
		got, usage, err := p.Fetcher.FetchAll(ctx, cands)
		r.ledger.Add(PhaseFetch, p.Costs.FirecrawlPages(usage.Credits)+p.Costs.Jina(usage.Tokens))
		if err != nil {
			return nil, err
		}
		fetched = got
		pr := &model.PhaseResult{Metadata: map[string]any{
			"requested": len(cands),
			"fetched":   len(got),
		}}
		if len(got) == 0 {
			pr.Status = model.PhaseStatusEmpty
		}
		return pr, nil
	})
	if err != nil {
		return nil, "", "", err
	}
	if len(fetched) == 0 {
		return out, model.StatusNoContact, "No LinkedIn profile content could be fetched", nil
	}

	// Scoring.
	_ = r.trackPhase(PhaseScore, func() (*model.PhaseResult, error) {
		out.contact = p.Scorer.ScoreAndSelect(fetched, out.company.Name, out.company.Location(), role)
		if out.contact == nil {
			return &model.PhaseResult{Status: model.PhaseStatusEmpty}, nil
		}
		return &model.PhaseResult{Metadata: map[string]any{
			"profile_url":       out.contact.ProfileURL,
			"confidence":        out.contact.Confidence,
			"title_match_score": out.contact.TitleMatchScore,
		}}, nil
	})
	if out.contact == nil {
		return out, model.StatusNoContact, p.Scorer.NoMatchReason(), nil
	}
	r.result.Contact = resultContact(out.contact, nil)

	// Email.
	var addrs []model.EmailCandidate
	err = r.trackPhase(PhaseEmail, func() (*model.PhaseResult, error) {
		addrs = email.GeneratePatterns(out.contact.Name, out.company.Domain)
		if len(addrs) == 0 {
			return &model.PhaseResult{Status: model.PhaseStatusEmpty}, nil
		}
		ctx, cancel := r.stage(t.VerifySecs * len(addrs))
		defer cancel()
		v, calls, err := p.Verifier.VerifyFirst(ctx, email.Seq(addrs))
		r.ledger.Add(PhaseEmail, p.Costs.Verifications(calls))
		if err != nil {
			return nil, err
		}
		out.email = v
		pr := &model.PhaseResult{Metadata: map[string]any{
			"patterns":      len(addrs),
			"verifications": calls,
		}}
		if v == nil {
			pr.Status = model.PhaseStatusEmpty
		}
		return pr, nil
	})
	if err != nil {
		return nil, "", "", err
	}
	switch {
	case len(addrs) == 0 && out.company.Domain == "":
		return out, model.StatusEmailFail, fmt.Sprintf("No domain known for %s to build email addresses", out.company.Name), nil
	case len(addrs) == 0:
		return out, model.StatusEmailFail, fmt.Sprintf("No email patterns could be generated for %q", out.contact.Name), nil
	case out.email == nil:
		return out, model.StatusEmailFail, fmt.Sprintf("None of %d email candidates for %s verified", len(addrs), out.contact.Name), nil
	}
	r.result.Contact = resultContact(out.contact, out.email)

	// Deep enrichment is best-effort and never changes the status.
	if p.cfg.DeepEnrich && p.Enricher != nil {
		_ = r.trackPhase(PhaseInsight, func() (*model.PhaseResult, error) {
			ctx, cancel := r.stage(t.InsightSecs)
			defer cancel()
			ins, usage := r.deepEnrich(ctx, out)
			r.ledger.Add(PhaseInsight, float64(usage.Queries)*p.Costs.PerplexityQuery()+
				p.Costs.Claude(usage.Model, usage.InputTokens, usage.OutputTokens))
			out.insights = ins
			if ins == nil {
				return &model.PhaseResult{Status: model.PhaseStatusEmpty}, nil
			}
			return &model.PhaseResult{Metadata: map[string]any{"mentions": len(ins.Mentions())}}, nil
		})
		r.result.Insights = out.insights
	} else {
		r.result.Phases = append(r.result.Phases, model.PhaseResult{Name: PhaseInsight, Status: model.PhaseStatusSkipped})
	}

	return out, model.StatusEnriched, "", nil
}

// deepEnrich isolates the enricher so a panic inside it cannot unwind into
// the run.
func (r *run) deepEnrich(ctx context.Context, out *outcome) (ins *model.Insights, usage insight.Usage) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("pipeline: deep enrichment panicked", zap.Any("panic", rec))
			ins = nil
		}
	}()
	ins, usage = r.p.Enricher.DeepEnrich(ctx, out.contact.Name, out.company.Name, out.contact.JobTitle)
	if ins.Empty() {
		ins = nil
	}
	return ins, usage
}

func resultContact(sc *model.ScoredContact, v *model.VerifiedEmail) *model.ResultContact {
	rc := &model.ResultContact{
		Name:            sc.Name,
		Title:           sc.JobTitle,
		ProfileURL:      sc.ProfileURL,
		TitleMatchScore: sc.TitleMatchScore,
		ConfidenceScore: sc.Confidence,
		Highlights:      sc.Highlights,
	}
	if v != nil && v.OK() {
		rc.Email = v.Address
	}
	return rc
}
