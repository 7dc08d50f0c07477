package pipeline

import (
	"net/url"
	"strings"

	"github.com/sells-group/visitor-cli/internal/model"
)

// aiSources maps referrer hosts (and utm_source values) to assistant names.
var aiSources = []struct {
	name  string
	hosts []string
}{
	{"chatgpt", []string{"chatgpt.com", "chat.openai.com", "openai.com", "chatgpt"}},
	{"perplexity", []string{"perplexity.ai", "perplexity"}},
	{"claude", []string{"claude.ai", "claude"}},
	{"gemini", []string{"gemini.google.com", "bard.google.com", "gemini"}},
	{"copilot", []string{"copilot.microsoft.com", "copilot"}},
	{"you", []string{"you.com"}},
}

// DetectAttribution reports whether a visit came from an AI assistant,
// judging by its referrer host and then its utm_source.
func DetectAttribution(v *model.Visit) (bool, string) {
	if v == nil {
		return false, ""
	}
	if host := referrerHost(v.Referrer); host != "" {
		if name := matchAISource(host, true); name != "" {
			return true, name
		}
	}
	if src := strings.ToLower(strings.TrimSpace(v.UTMSource)); src != "" {
		if name := matchAISource(src, false); name != "" {
			return true, name
		}
	}
	return false, ""
}

func referrerHost(ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}
	if !strings.Contains(ref, "://") {
		ref = "https://" + ref
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}

// matchAISource matches a host (exact or subdomain) or a utm_source value
// (exact, or with a domain suffix such as "chatgpt.com").
func matchAISource(v string, isHost bool) string {
	for _, s := range aiSources {
		for _, h := range s.hosts {
			if !strings.Contains(h, ".") {
				if !isHost && v == h {
					return s.name
				}
				continue
			}
			if v == h || strings.HasSuffix(v, "."+h) {
				return s.name
			}
		}
	}
	return ""
}
