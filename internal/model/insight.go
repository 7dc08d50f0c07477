package model

import (
	"strings"
	"time"
)

// InsightItem is a single piece of public content found for a contact.
type InsightItem struct {
	Title       string `json:"title"`
	URL         string `json:"url"`
	Publication string `json:"publication,omitempty"`
	Date        string `json:"date,omitempty"` // YYYY-MM-DD, YYYY-MM or YYYY
	Snippet     string `json:"snippet,omitempty"`
}

// Insights is the optional output of deep enrichment.
type Insights struct {
	ThoughtLeadership []InsightItem `json:"thought_leadership,omitempty"`
	PressQuotes       []InsightItem `json:"press_quotes,omitempty"`
	Patents           []InsightItem `json:"patents,omitempty"`
}

// Empty reports whether no usable items were found.
func (in *Insights) Empty() bool {
	return in == nil || len(in.ThoughtLeadership)+len(in.PressQuotes)+len(in.Patents) == 0
}

// Mentions converts insight items into MediaMention rows. Items without a
// title or URL are dropped.
func (in *Insights) Mentions() []MediaMention {
	if in.Empty() {
		return nil
	}
	var out []MediaMention
	add := func(t MentionType, items []InsightItem) {
		for _, it := range items {
			if strings.TrimSpace(it.Title) == "" || strings.TrimSpace(it.URL) == "" {
				continue
			}
			out = append(out, MediaMention{
				Type:        t,
				Title:       strings.TrimSpace(it.Title),
				URL:         strings.TrimSpace(it.URL),
				Publication: it.Publication,
				PublishedAt: ParseLooseDate(it.Date),
				Snippet:     it.Snippet,
			})
		}
	}
	add(MentionThoughtLeadership, in.ThoughtLeadership)
	add(MentionPressQuote, in.PressQuotes)
	add(MentionPatent, in.Patents)
	return out
}

// ParseLooseDate parses YYYY-MM-DD, YYYY-MM or YYYY. It returns nil for
// anything else.
func ParseLooseDate(s string) *time.Time {
	s = strings.TrimSpace(s)
	for _, layout := range []string{"2006-01-02", "2006-01", "2006"} {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}
