package cost

import (
	"math"
	"sync"
)

// Rates holds per-provider pricing (USD).
type Rates struct {
	Anthropic           map[string]ModelRate `yaml:"anthropic" mapstructure:"anthropic"`
	IPInfoPerLookup     float64              `yaml:"ipinfo_per_lookup" mapstructure:"ipinfo_per_lookup"`
	JinaPerSearch       float64              `yaml:"jina_per_search" mapstructure:"jina_per_search"`
	JinaPerMTok         float64              `yaml:"jina_per_mtok" mapstructure:"jina_per_mtok"`
	FirecrawlPerPage    float64              `yaml:"firecrawl_per_page" mapstructure:"firecrawl_per_page"`
	ZeroBouncePerVerify float64              `yaml:"zerobounce_per_verify" mapstructure:"zerobounce_per_verify"`
	PerplexityPerQuery  float64              `yaml:"perplexity_per_query" mapstructure:"perplexity_per_query"`
}

// ModelRate holds per-model token pricing (per million tokens).
type ModelRate struct {
	Input  float64 `yaml:"input" mapstructure:"input"`
	Output float64 `yaml:"output" mapstructure:"output"`
}

// Calculator computes costs for API usage.
type Calculator struct {
	rates Rates
}

// NewCalculator creates a Calculator with the given rates.
func NewCalculator(rates Rates) *Calculator {
	return &Calculator{rates: rates}
}

// Claude computes the cost for a Claude API call.
func (c *Calculator) Claude(model string, input, output int) float64 {
	rate, ok := c.rates.Anthropic[model]
	if !ok {
		return 0
	}
	return (float64(input)/1e6)*rate.Input + (float64(output)/1e6)*rate.Output
}

// IPInfoLookup returns the flat cost of one IP lookup.
func (c *Calculator) IPInfoLookup() float64 {
	return c.rates.IPInfoPerLookup
}

// JinaSearch returns the flat cost of one search query.
func (c *Calculator) JinaSearch() float64 {
	return c.rates.JinaPerSearch
}

// Jina computes the cost for Jina Reader token usage.
func (c *Calculator) Jina(tokens int) float64 {
	return (float64(tokens) / 1e6) * c.rates.JinaPerMTok
}

// FirecrawlPages returns the cost of scraping n pages.
func (c *Calculator) FirecrawlPages(n int) float64 {
	return float64(n) * c.rates.FirecrawlPerPage
}

// Verifications returns the cost of n email verification calls.
func (c *Calculator) Verifications(n int) float64 {
	return float64(n) * c.rates.ZeroBouncePerVerify
}

// PerplexityQuery returns the flat cost per Perplexity query.
func (c *Calculator) PerplexityQuery() float64 {
	return c.rates.PerplexityPerQuery
}

// DefaultRates returns the default pricing rates.
func DefaultRates() Rates {
	return Rates{
		Anthropic: map[string]ModelRate{
			"claude-haiku-4-5-20251001":  {Input: 1.00, Output: 5.00},
			"claude-sonnet-4-5-20250929": {Input: 3.00, Output: 15.00},
		},
		IPInfoPerLookup:     0.001,
		JinaPerSearch:       0.002,
		JinaPerMTok:         0.02,
		FirecrawlPerPage:    0.0063,
		ZeroBouncePerVerify: 0.008,
		PerplexityPerQuery:  0.005,
	}
}

// Ledger accumulates the spend of a single enrichment run by phase.
// It is safe for concurrent use by the goroutines of one run.
type Ledger struct {
	mu      sync.Mutex
	byPhase map[string]float64
	order   []string
}

// NewLedger returns an empty Ledger.
func NewLedger() *Ledger {
	return &Ledger{byPhase: make(map[string]float64)}
}

// Add records usd against phase.
func (l *Ledger) Add(phase string, usd float64) {
	if usd <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.byPhase[phase]; !ok {
		l.order = append(l.order, phase)
	}
	l.byPhase[phase] += usd
}

// Phase returns the spend recorded for phase, in cents.
func (l *Ledger) Phase(phase string) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.byPhase[phase] * 100
}

// Total returns the total spend in USD.
func (l *Ledger) Total() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	var sum float64
	for _, p := range l.order {
		sum += l.byPhase[p]
	}
	return sum
}

// Cents returns the total spend rounded up to whole cents.
func (l *Ledger) Cents() int {
	return ToCents(l.Total())
}

// ToCents converts USD to whole cents, rounding any fraction up.
func ToCents(usd float64) int {
	if usd <= 0 {
		return 0
	}
	// Round to 1e-6 first so 0.07 does not become 8 cents through float error.
	c := math.Round(usd*100*1e6) / 1e6
	return int(math.Ceil(c))
}
