package scorer

import (
	"strings"

	"github.com/sells-group/visitor-cli/internal/names"
)

// Abbreviations expanded before matching.
var titleExpansions = map[string][]string{
	"ceo":  {"chief", "executive", "officer"},
	"cto":  {"chief", "technology", "officer"},
	"cfo":  {"chief", "financial", "officer"},
	"coo":  {"chief", "operating", "officer"},
	"cmo":  {"chief", "marketing", "officer"},
	"cio":  {"chief", "information", "officer"},
	"ciso": {"chief", "information", "security", "officer"},
	"cro":  {"chief", "revenue", "officer"},
	"cpo":  {"chief", "product", "officer"},
	"vp":   {"vice", "president"},
	"svp":  {"senior", "vice", "president"},
	"evp":  {"executive", "vice", "president"},
	"avp":  {"assistant", "vice", "president"},
	"gm":   {"general", "manager"},
	"md":   {"managing", "director"},
	"sr":   {"senior"},
	"jr":   {"junior"},
	"eng":  {"engineering"},
	"dir":  {"director"},
	"mgr":  {"manager"},
	"hr":   {"human", "resources"},
	"it":   {"information", "technology"},
	"r":    {"research"},
	"d":    {"development"},
	"ops":  {"operations"},
	"biz":  {"business"},
	"dev":  {"development"},
}

// Seniority rank of a single word. Words listed here describe level, not
// function, and are excluded from the functional overlap.
var seniorityWords = map[string]int{
	"chief":      5,
	"founder":    5,
	"cofounder":  5,
	"owner":      5,
	"president":  5,
	"partner":    5,
	"executive":  5,
	"vice":       4,
	"head":       4,
	"decision":   4,
	"maker":      4,
	"leader":     4,
	"leadership": 4,
	"director":   3,
	"manager":    2,
	"lead":       2,
	"principal":  2,
	"senior":     0,
	"junior":     0,
	"assistant":  0,
	"associate":  0,
	"officer":    0,
	"managing":   0,
	"general":    0,
}

var stopWords = map[string]bool{
	"of": true, "the": true, "and": true, "or": true, "at": true, "for": true,
	"in": true, "a": true, "an": true, "to": true, "with": true, "on": true,
}

type titleTerms struct {
	functional map[string]bool
	rank       int // 0 when no seniority word is present
}

func analyzeTitle(s string) titleTerms {
	tt := titleTerms{functional: make(map[string]bool)}
	var words []string
	for _, tok := range names.Tokens(s) {
		if exp, ok := titleExpansions[tok]; ok {
			words = append(words, exp...)
			continue
		}
		words = append(words, tok)
	}

	hasVice := false
	for _, w := range words {
		if w == "vice" {
			hasVice = true
		}
	}
	for _, w := range words {
		if stopWords[w] {
			continue
		}
		if r, ok := seniorityWords[w]; ok {
			if w == "president" && hasVice {
				r = 4
			}
			if r > tt.rank {
				tt.rank = r
			}
			continue
		}
		tt.functional[stem(w)] = true
	}
	return tt
}

// TitleMatch scores how well a profile title fits a role description, in
// [0,1]. Functional overlap is the share of the role's functional words
// found in the title. When the role names a level, the title's level
// counts for 40%; titles at or above the requested level get full credit
// and each level below costs a quarter.
func TitleMatch(title, role string) float64 {
	if strings.TrimSpace(title) == "" || strings.TrimSpace(role) == "" {
		return 0
	}
	r := analyzeTitle(role)
	t := analyzeTitle(title)

	var functional float64
	if len(r.functional) > 0 {
		hit := 0
		for w := range r.functional {
			if t.functional[w] {
				hit++
			}
		}
		functional = float64(hit) / float64(len(r.functional))
	}

	if r.rank == 0 {
		return functional
	}

	level := 1.0
	titleRank := max(t.rank, 1)
	if titleRank < r.rank {
		level = 1 - float64(r.rank-titleRank)/4
	}
	level = clamp(level)

	if len(r.functional) == 0 {
		return level
	}
	return clamp(0.6*functional + 0.4*level)
}

// stem trims common English suffixes so "engineering", "engineers" and
// "engineer" compare equal.
func stem(w string) string {
	for _, suf := range []string{"ing", "ers", "er", "s"} {
		if len(w) > len(suf)+3 && strings.HasSuffix(w, suf) {
			w = strings.TrimSuffix(w, suf)
		}
	}
	return w
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
