package scorer

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/sells-group/visitor-cli/internal/model"
)

// Profile holds the fields parsed from a profile page and its search hit.
type Profile struct {
	Name         string
	Headline     string
	Title        string
	Company      string
	Location     string
	Summary      string
	Connections  *int
	LastActivity *time.Time
}

const maxSummaryRunes = 600

var (
	connectionsRe = regexp.MustCompile(`(?i)(\d[\d,]*)\+?\s+(?:connections|followers)`)
	locationRe    = regexp.MustCompile(`^\p{Lu}[\p{L}.' -]+(?:,\s*\p{Lu}[\p{L}.' -]+){1,2}$`)
	relativeAgeRe = regexp.MustCompile(`(?i)\b(\d{1,3})\s*(h|hr|hrs|d|w|wk|mo|mos|yr|yrs|y)\b`)
	isoDateRe     = regexp.MustCompile(`\b(20\d{2}-\d{2}-\d{2})\b`)
	monthYearRe   = regexp.MustCompile(`\b(Jan|Feb|Mar|Apr|May|Jun|Jul|Aug|Sep|Oct|Nov|Dec)[a-z]*\.?\s+(20\d{2})\b`)
	lastActiveRe  = regexp.MustCompile(`(?i)last active[:\s]+([^\n]+)`)
	titleSepRe    = regexp.MustCompile(`\s+[-–—|]\s+`)
)

// ParseProfile extracts profile fields from fetched markdown, falling back
// to the search result title ("Name - Title - Company | LinkedIn") for
// anything the page does not show. now anchors relative activity ages.
func ParseProfile(c model.CandidateContact, now time.Time) Profile {
	var p Profile
	hitName, hitTitle, hitCompany := parseSearchTitle(c.Title)

	header, sections := splitSections(c.Content)
	p.Name, p.Headline, p.Location = parseHeader(header)

	if about, ok := sections["about"]; ok {
		p.Summary = truncateRunes(collapse(about), maxSummaryRunes)
	}
	expTitle, expCompany := parseExperience(sections["experience"])

	headTitle, headCompany := splitAt(p.Headline)

	p.Name = firstNonEmpty(p.Name, hitName)
	p.Title = firstNonEmpty(expTitle, hitTitle, headTitle)
	p.Company = firstNonEmpty(expCompany, hitCompany, headCompany)

	if m := connectionsRe.FindStringSubmatch(c.Content); m != nil {
		if n, err := strconv.Atoi(strings.ReplaceAll(m[1], ",", "")); err == nil {
			p.Connections = &n
		}
	}

	activity := sections["activity"]
	if m := lastActiveRe.FindStringSubmatch(c.Content); m != nil {
		activity += "\n" + m[1]
	}
	p.LastActivity = latestActivity(activity, now)

	return p
}

func parseSearchTitle(title string) (name, role, company string) {
	title = strings.TrimSpace(title)
	if i := strings.LastIndex(strings.ToLower(title), "| linkedin"); i >= 0 {
		title = strings.TrimSpace(title[:i])
	}
	if title == "" {
		return "", "", ""
	}
	parts := titleSepRe.Split(title, -1)
	name = strings.TrimSpace(parts[0])
	if len(parts) > 1 {
		role = strings.TrimSpace(parts[1])
	}
	if len(parts) > 2 {
		company = strings.TrimSpace(parts[2])
	}
	if company == "" && role != "" {
		if r, c := splitAt(role); c != "" {
			role, company = r, c
		}
	}
	return name, role, company
}

// splitSections splits markdown into the text before the first "## "
// heading and a map of lowercased heading to body.
func splitSections(md string) (string, map[string]string) {
	sections := make(map[string]string)
	var header strings.Builder
	current := ""
	var body strings.Builder
	flush := func() {
		if current != "" {
			if _, seen := sections[current]; !seen {
				sections[current] = body.String()
			}
		}
		body.Reset()
	}
	for _, line := range strings.Split(md, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "## ") {
			flush()
			current = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(trimmed, "## ")))
			continue
		}
		if current == "" {
			header.WriteString(line)
			header.WriteByte('\n')
		} else {
			body.WriteString(line)
			body.WriteByte('\n')
		}
	}
	flush()
	return header.String(), sections
}

func parseHeader(header string) (name, headline, location string) {
	for _, line := range strings.Split(header, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case line == "" || strings.HasPrefix(line, "![") || strings.HasPrefix(line, "[!["):
			continue
		case strings.HasPrefix(line, "# "):
			if name == "" {
				n := strings.TrimSpace(strings.TrimPrefix(line, "# "))
				if i := strings.Index(strings.ToLower(n), "| linkedin"); i >= 0 {
					n = n[:i]
				}
				name = strings.TrimSpace(titleSepRe.Split(n, 2)[0])
			}
		case strings.HasPrefix(strings.ToLower(line), "location:"):
			location = strings.TrimSpace(line[len("location:"):])
		case connectionsRe.MatchString(line):
			continue
		case location == "" && headline != "" && locationRe.MatchString(line):
			location = line
		case headline == "" && name != "" && !strings.HasPrefix(line, "#"):
			headline = line
		}
	}
	return name, headline, location
}

// parseExperience returns the title and company of the first position.
// Positions are "### Title" followed by a company line such as
// "Acme Robotics · Full-time".
func parseExperience(section string) (title, company string) {
	if section == "" {
		return "", ""
	}
	lines := strings.Split(section, "\n")
	for i, line := range lines {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "### ") {
			continue
		}
		title = strings.TrimSpace(strings.TrimPrefix(line, "### "))
		for _, next := range lines[i+1:] {
			next = strings.TrimSpace(next)
			if next == "" {
				continue
			}
			if strings.HasPrefix(next, "#") {
				break
			}
			company, _, _ = strings.Cut(next, "·")
			company = strings.TrimSpace(company)
			break
		}
		return title, company
	}
	return "", ""
}

// splitAt splits "VP Engineering at Acme | Builder" into its title and
// company.
func splitAt(headline string) (title, company string) {
	headline, _, _ = strings.Cut(headline, "|")
	headline = strings.TrimSpace(headline)
	lower := strings.ToLower(headline)
	for _, sep := range []string{" at ", " @ "} {
		if i := strings.LastIndex(lower, sep); i > 0 {
			return strings.TrimSpace(headline[:i]), strings.TrimSpace(headline[i+len(sep):])
		}
	}
	return headline, ""
}

// latestActivity returns the most recent date found in text, from relative
// ages ("3d", "2w", "1mo"), ISO dates or "Month YYYY".
func latestActivity(text string, now time.Time) *time.Time {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	var best *time.Time
	consider := func(t time.Time) {
		if t.After(now) {
			return
		}
		if best == nil || t.After(*best) {
			tt := t
			best = &tt
		}
	}

	for _, m := range relativeAgeRe.FindAllStringSubmatch(text, -1) {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		var d time.Duration
		switch strings.ToLower(m[2]) {
		case "h", "hr", "hrs":
			d = time.Duration(n) * time.Hour
		case "d":
			d = time.Duration(n) * 24 * time.Hour
		case "w", "wk":
			d = time.Duration(n) * 7 * 24 * time.Hour
		case "mo", "mos":
			d = time.Duration(n) * 30 * 24 * time.Hour
		default:
			d = time.Duration(n) * 365 * 24 * time.Hour
		}
		consider(now.Add(-d))
	}
	for _, m := range isoDateRe.FindAllStringSubmatch(text, -1) {
		if t, err := time.Parse("2006-01-02", m[1]); err == nil {
			consider(t)
		}
	}
	for _, m := range monthYearRe.FindAllStringSubmatch(text, -1) {
		if t, err := time.Parse("Jan 2006", m[1]+" "+m[2]); err == nil {
			consider(t)
		}
	}
	return best
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
