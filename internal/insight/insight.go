// Package insight finds public thought-leadership content, press quotes and
// patents for a confirmed contact. It is best-effort: every failure yields
// nil insights.
package insight

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/visitor-cli/internal/model"
	"github.com/sells-group/visitor-cli/pkg/anthropic"
	"github.com/sells-group/visitor-cli/pkg/perplexity"
)

const (
	defaultMaxItems = 5
	defaultRecency  = "year"
)

const researchPrompt = `Research %s, %s at %s.
List public content by this person:
1. Thought leadership: articles, blog posts, podcasts, conference talks or webinars they authored or appeared in.
2. Press quotes: news articles or press releases that quote them.
3. Patents naming them as an inventor.
For every item give the title, the URL, the publication or venue, and the date if known.
Only include items that are clearly about this person at this company.`

const extractPrompt = `Extract the items from the research notes below into a JSON object with exactly these keys:
- thought_leadership: array
- press_quotes: array
- patents: array
Each array element is an object with:
- title: string
- url: string (absolute http or https URL)
- publication: string
- date: string (YYYY-MM-DD, YYYY-MM or YYYY; empty if unknown)
- snippet: string (one sentence)

Skip items without a URL. Use empty arrays when nothing was found. Return only the JSON object.

Research notes:
%s

Sources:
%s`

// Usage is what one DeepEnrich call consumed. Tokens are the extraction
// model's; Perplexity is billed per query.
type Usage struct {
	Queries      int
	InputTokens  int
	OutputTokens int
	Model        string
}

// Enricher runs deep enrichment: a Perplexity research query followed by a
// Haiku pass that structures the answer.
type Enricher struct {
	pplx     perplexity.Client
	ai       anthropic.Client
	model    string
	recency  string
	maxItems int
}

// Option configures an Enricher.
type Option func(*Enricher)

// WithRecency sets the Perplexity search_recency_filter ("day", "week",
// "month", "year"). An empty value disables the filter.
func WithRecency(r string) Option {
	return func(e *Enricher) { e.recency = r }
}

// WithMaxItems caps each insight list.
func WithMaxItems(n int) Option {
	return func(e *Enricher) {
		if n > 0 {
			e.maxItems = n
		}
	}
}

// New creates an Enricher. haikuModel names the extraction model.
func New(pplx perplexity.Client, ai anthropic.Client, haikuModel string, opts ...Option) *Enricher {
	e := &Enricher{
		pplx:     pplx,
		ai:       ai,
		model:    haikuModel,
		recency:  defaultRecency,
		maxItems: defaultMaxItems,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// DeepEnrich returns insights for the contact, or nil when nothing usable
// was found or anything went wrong. It never panics and never returns an
// error; the caller bounds it with ctx.
func (e *Enricher) DeepEnrich(ctx context.Context, name, company, title string) (ins *model.Insights, usage Usage) {
	log := zap.L().With(zap.String("contact", name), zap.String("company", company), zap.String("phase", "deep_enrich"))

	defer func() {
		if r := recover(); r != nil {
			log.Error("insight: recovered panic", zap.Any("panic", r))
			ins = nil
		}
	}()

	if e == nil || e.pplx == nil || e.ai == nil || strings.TrimSpace(name) == "" || strings.TrimSpace(company) == "" {
		return nil, usage
	}
	usage.Model = e.model

	res, err := e.enrich(ctx, name, company, title, &usage)
	if err != nil {
		log.Warn("insight: deep enrichment failed", zap.Error(err))
		return nil, usage
	}
	if res.Empty() {
		log.Debug("insight: nothing found")
		return nil, usage
	}
	return res, usage
}

func (e *Enricher) enrich(ctx context.Context, name, company, title string, usage *Usage) (*model.Insights, error) {
	if title == "" {
		title = "an employee"
	}
	temp := 0.2
	usage.Queries++
	resp, err := e.pplx.ChatCompletion(ctx, perplexity.ChatCompletionRequest{
		Messages: []perplexity.Message{
			{Role: "user", Content: fmt.Sprintf(researchPrompt, name, title, company)},
		},
		Temperature:         &temp,
		SearchRecencyFilter: e.recency,
	})
	if err != nil {
		return nil, eris.Wrap(err, "insight: perplexity research")
	}

	notes := resp.Text()
	if notes == "" {
		return nil, nil
	}

	aiResp, err := e.ai.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     e.model,
		MaxTokens: 2048,
		Messages: []anthropic.Message{
			{Role: "user", Content: fmt.Sprintf(extractPrompt, notes, sources(resp))},
		},
	})
	if err != nil {
		return nil, eris.Wrap(err, "insight: haiku extraction")
	}
	usage.InputTokens += int(aiResp.Usage.InputTokens)
	usage.OutputTokens += int(aiResp.Usage.OutputTokens)

	var raw model.Insights
	if err := json.Unmarshal([]byte(cleanJSON(aiResp.Text())), &raw); err != nil {
		return nil, eris.Wrap(err, "insight: parse haiku json")
	}
	return &model.Insights{
		ThoughtLeadership: e.sanitize(raw.ThoughtLeadership),
		PressQuotes:       e.sanitize(raw.PressQuotes),
		Patents:           e.sanitize(raw.Patents),
	}, nil
}

func sources(resp *perplexity.ChatCompletionResponse) string {
	var b strings.Builder
	for _, r := range resp.SearchResults {
		fmt.Fprintf(&b, "- %s %s %s\n", r.Title, r.URL, r.Date)
	}
	if b.Len() == 0 {
		for _, c := range resp.Citations {
			b.WriteString("- " + c + "\n")
		}
	}
	if b.Len() == 0 {
		return "(none)"
	}
	return b.String()
}

// sanitize drops items without a title or an absolute http(s) URL,
// dedupes by URL and caps the list.
func (e *Enricher) sanitize(items []model.InsightItem) []model.InsightItem {
	var out []model.InsightItem
	seen := make(map[string]bool)
	for _, it := range items {
		it.Title = strings.TrimSpace(it.Title)
		it.URL = strings.TrimSpace(it.URL)
		if it.Title == "" || !validURL(it.URL) || seen[it.URL] {
			continue
		}
		seen[it.URL] = true
		if model.ParseLooseDate(it.Date) == nil {
			it.Date = ""
		}
		out = append(out, it)
		if len(out) == e.maxItems {
			break
		}
	}
	return out
}

func validURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// cleanJSON extracts a JSON object from text that may be wrapped in
// markdown code fences or prose.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}
	return strings.TrimSpace(text)
}
