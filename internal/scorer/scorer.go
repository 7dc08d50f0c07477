package scorer

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/visitor-cli/internal/config"
	"github.com/sells-group/visitor-cli/internal/model"
	"github.com/sells-group/visitor-cli/internal/names"
)

// Recency full credit and zero credit ages.
const (
	recentWindow = 30 * 24 * time.Hour
	staleAfter   = 730 * 24 * time.Hour
)

// Scorer ranks fetched candidates. It holds no per-call state and is safe
// for concurrent use.
type Scorer struct {
	weights       config.ScoreWeights
	minConfidence float64
	now           func() time.Time
}

// Option configures a Scorer.
type Option func(*Scorer)

// WithClock overrides the time source used for activity recency.
func WithClock(now func() time.Time) Option {
	return func(s *Scorer) {
		s.now = now
	}
}

// New creates a Scorer. A zero weight set uses DefaultWeights and a
// minConfidence below MinConfidenceFloor is raised to it.
func New(weights config.ScoreWeights, minConfidence float64, opts ...Option) *Scorer {
	if WeightSum(weights) <= 0 {
		weights = DefaultWeights()
	}
	s := &Scorer{
		weights:       weights,
		minConfidence: max(minConfidence, MinConfidenceFloor),
		now:           time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// MinConfidence returns the effective selection threshold.
func (s *Scorer) MinConfidence() float64 {
	return s.minConfidence
}

// NoMatchReason is the message reported when no candidate clears the
// threshold.
func (s *Scorer) NoMatchReason() string {
	return fmt.Sprintf("no contacts met minimum confidence threshold (%.1f)", s.minConfidence)
}

// Score parses and scores one candidate.
func (s *Scorer) Score(c model.CandidateContact, companyName, locationHint, role string) model.ScoredContact {
	now := s.now()
	p := ParseProfile(c, now)
	first, last := names.Split(p.Name)

	sc := model.ScoredContact{
		CandidateContact: c,
		Name:             p.Name,
		FirstName:        first,
		LastName:         last,
		JobTitle:         p.Title,
		Company:          p.Company,
		Headline:         p.Headline,
		Summary:          p.Summary,
		Location:         p.Location,
		Connections:      p.Connections,
		LastActivity:     p.LastActivity,
	}

	titleScore := TitleMatch(p.Title, role)
	if hs := TitleMatch(p.Headline, role); hs > titleScore {
		titleScore = hs
	}
	companyScore := CompanyMatch(p.Company, companyName)
	if companyScore == 0 && p.Company == "" && containsFold(c.Content, companyName) {
		companyScore = 0.5
	}
	recencyScore := Recency(p.LastActivity, now)

	total := s.weights.TitleMatch*titleScore + s.weights.Company*companyScore + s.weights.Recency*recencyScore
	denom := s.weights.TitleMatch + s.weights.Company + s.weights.Recency

	var locationScore float64
	if strings.TrimSpace(locationHint) != "" {
		locationScore = LocationMatch(p.Location, locationHint)
		total += s.weights.Location * locationScore
		denom += s.weights.Location
	}

	if denom > 0 {
		sc.Confidence = clamp(total / denom)
	}
	sc.TitleMatchScore = titleScore
	sc.Highlights = highlights(p, titleScore, companyScore, locationScore, recencyScore, now)
	return sc
}

// ScoreAndSelect scores every fetched candidate and returns the one with
// the highest confidence at or above the threshold. Ties go to the higher
// title match, then the more recent activity, then the lower profile URL,
// so the result does not depend on input order. It returns nil when no
// candidate qualifies.
func (s *Scorer) ScoreAndSelect(cands []model.CandidateContact, companyName, locationHint, role string) *model.ScoredContact {
	var qualified []model.ScoredContact
	for _, c := range cands {
		if !c.Fetched() {
			continue
		}
		sc := s.Score(c, companyName, locationHint, role)
		zap.L().Debug("scorer: candidate scored",
			zap.String("profile_url", sc.ProfileURL),
			zap.String("title", sc.JobTitle),
			zap.Float64("confidence", sc.Confidence),
			zap.Float64("title_match", sc.TitleMatchScore),
		)
		if sc.Confidence < s.minConfidence {
			continue
		}
		qualified = append(qualified, sc)
	}
	if len(qualified) == 0 {
		return nil
	}

	sort.SliceStable(qualified, func(i, j int) bool {
		return better(qualified[i], qualified[j])
	})
	best := qualified[0]
	return &best
}

func better(a, b model.ScoredContact) bool {
	if a.Confidence != b.Confidence {
		return a.Confidence > b.Confidence
	}
	if a.TitleMatchScore != b.TitleMatchScore {
		return a.TitleMatchScore > b.TitleMatchScore
	}
	switch {
	case a.LastActivity != nil && b.LastActivity == nil:
		return true
	case a.LastActivity == nil && b.LastActivity != nil:
		return false
	case a.LastActivity != nil && !a.LastActivity.Equal(*b.LastActivity):
		return a.LastActivity.After(*b.LastActivity)
	}
	return a.ProfileURL < b.ProfileURL
}

var legalSuffixes = map[string]bool{
	"inc": true, "incorporated": true, "llc": true, "ltd": true, "limited": true,
	"corp": true, "corporation": true, "co": true, "company": true, "gmbh": true,
	"plc": true, "sa": true, "ag": true, "bv": true, "lp": true, "llp": true,
	"group": true, "holdings": true, "the": true,
}

func companyTokens(s string) []string {
	var out []string
	for _, t := range names.Tokens(s) {
		if !legalSuffixes[t] {
			out = append(out, t)
		}
	}
	return out
}

// CompanyMatch returns the share of the target company's distinctive words
// found in the profile's company, in [0,1].
func CompanyMatch(profileCompany, target string) float64 {
	want := companyTokens(target)
	have := companyTokens(profileCompany)
	if len(want) == 0 || len(have) == 0 {
		return 0
	}
	if strings.Join(want, "") == strings.Join(have, "") {
		return 1
	}
	set := make(map[string]bool, len(have))
	for _, t := range have {
		set[t] = true
	}
	hit := 0
	for _, t := range want {
		if set[t] {
			hit++
		}
	}
	return float64(hit) / float64(len(want))
}

var countryAliases = map[string]string{
	"us": "united states", "usa": "united states", "united states of america": "united states",
	"uk": "united kingdom", "gb": "united kingdom", "great britain": "united kingdom",
	"ca": "canada", "de": "germany", "fr": "france", "au": "australia", "in": "india",
	"nl": "netherlands", "ie": "ireland", "es": "spain", "it": "italy", "sg": "singapore",
}

func normalizePlace(s string) string {
	s = strings.Join(names.Tokens(s), " ")
	if full, ok := countryAliases[s]; ok {
		return full
	}
	return s
}

// LocationMatch compares a profile location with a "City, Region, Country"
// hint: a city match scores 1, a region match 0.6, a country match 0.3.
func LocationMatch(profileLocation, hint string) float64 {
	if strings.TrimSpace(profileLocation) == "" {
		return 0
	}
	have := make(map[string]bool)
	for _, part := range strings.Split(profileLocation, ",") {
		if p := normalizePlace(part); p != "" {
			have[p] = true
		}
	}
	parts := strings.Split(hint, ",")
	weights := []float64{1, 0.6, 0.3}
	// A two-part hint is "City, Country".
	if len(parts) == 2 {
		weights = []float64{1, 0.3}
	}
	var best float64
	for i, part := range parts {
		if i >= len(weights) {
			break
		}
		if p := normalizePlace(part); p != "" && have[p] && weights[i] > best {
			best = weights[i]
		}
	}
	return best
}

// Recency maps the age of the last activity to [0,1]: full credit within
// 30 days, falling linearly to zero at two years.
func Recency(last *time.Time, now time.Time) float64 {
	if last == nil {
		return 0
	}
	age := now.Sub(*last)
	switch {
	case age <= recentWindow:
		return 1
	case age >= staleAfter:
		return 0
	default:
		return 1 - float64(age-recentWindow)/float64(staleAfter-recentWindow)
	}
}

func containsFold(haystack, needle string) bool {
	n := strings.TrimSpace(names.Fold(needle))
	return n != "" && strings.Contains(names.Fold(haystack), n)
}

func highlights(p Profile, title, company, location, recency float64, now time.Time) []string {
	var out []string
	if p.Title != "" && title > 0 {
		out = append(out, fmt.Sprintf("Title %q matches requested role (%.2f)", p.Title, title))
	}
	if p.Company != "" && company > 0 {
		out = append(out, "Currently at "+p.Company)
	}
	if location > 0 {
		out = append(out, "Based in "+p.Location)
	}
	if p.LastActivity != nil && recency > 0 {
		days := int(now.Sub(*p.LastActivity).Hours() / 24)
		out = append(out, fmt.Sprintf("Active on the platform %d days ago", days))
	}
	if p.Connections != nil && *p.Connections >= 500 {
		out = append(out, fmt.Sprintf("%d+ connections", *p.Connections))
	}
	return out
}
