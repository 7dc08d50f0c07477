// Package email generates likely corporate addresses for a person and
// verifies them one at a time.
package email

import (
	"strings"

	"github.com/badoux/checkmail"

	"github.com/sells-group/visitor-cli/internal/model"
	"github.com/sells-group/visitor-cli/internal/names"
)

type pattern struct {
	name     model.EmailPattern
	needLast bool
	build    func(first, last string) string
}

// Most to least common corporate conventions.
var patterns = []pattern{
	{model.PatternFirst, false, func(f, _ string) string { return f }},
	{model.PatternFirstLast, true, func(f, l string) string { return f + "." + l }},
	{model.PatternFLast, true, func(f, l string) string { return f[:1] + l }},
	{model.PatternFirstULast, true, func(f, l string) string { return f + "_" + l }},
	{model.PatternFirstLastN, true, func(f, l string) string { return f + l }},
	{model.PatternFDotLast, true, func(f, l string) string { return f[:1] + "." + l }},
	{model.PatternLast, true, func(_, l string) string { return l }},
	{model.PatternLastF, true, func(f, l string) string { return l + f[:1] }},
	{model.PatternLastFirst, true, func(f, l string) string { return l + "." + f }},
}

// GeneratePatterns returns candidate addresses for fullName at domain,
// ordered by decreasing likelihood. Names are folded to ASCII. It returns
// nil when no first name can be extracted or the domain is empty. A
// single-word name only yields first@domain.
func GeneratePatterns(fullName, domain string) []model.EmailCandidate {
	domain = normalizeDomain(domain)
	if domain == "" {
		return nil
	}
	firstRaw, lastRaw := names.Split(fullName)
	first := names.ASCII(firstRaw)
	last := names.ASCII(lastRaw)
	if first == "" {
		return nil
	}

	seen := make(map[string]bool)
	var out []model.EmailCandidate
	for _, p := range patterns {
		if p.needLast && last == "" {
			continue
		}
		addr := p.build(first, last) + "@" + domain
		if seen[addr] {
			continue
		}
		seen[addr] = true
		if err := checkmail.ValidateFormat(addr); err != nil {
			continue
		}
		out = append(out, model.EmailCandidate{Address: addr, Pattern: p.name})
	}
	return out
}

func normalizeDomain(d string) string {
	d = strings.ToLower(strings.TrimSpace(d))
	if i := strings.LastIndex(d, "@"); i >= 0 {
		d = d[i+1:]
	}
	d = strings.TrimPrefix(d, "https://")
	d = strings.TrimPrefix(d, "http://")
	d = strings.TrimPrefix(d, "www.")
	if i := strings.IndexAny(d, "/?#"); i >= 0 {
		d = d[:i]
	}
	return strings.TrimSuffix(d, ".")
}
