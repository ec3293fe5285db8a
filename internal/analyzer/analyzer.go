// Package analyzer turns flushed terminal text into a classified
// external-access Request, using a rule-based backend that is both the
// default and the mandatory fallback for every remote backend.
package analyzer

import (
	"regexp"
	"strings"

	"github.com/openclaw/conductor/pkg/types"
)

// Result is the outcome of analyzing one chunk of flushed text.
type Result struct {
	Detected   bool
	Confidence float64
	Request    *types.Request
}

// Analyzer classifies flushed terminal text.
type Analyzer interface {
	Analyze(text string) (Result, error)
}

var csiOSC = regexp.MustCompile("\x1b(?:\\[[0-9;?]*[ -/]*[@-~]|\\][^\x07\x1b]*(?:\x07|\x1b\\\\))")

// stripControlSequences removes CSI (`ESC [ ... final`) and OSC
// (`ESC ] ... BEL|ST`) terminal escape sequences. Idempotent: running
// it twice yields the same result as running it once.
func stripControlSequences(s string) string {
	return csiOSC.ReplaceAllString(s, "")
}

type kindRule struct {
	kind    types.Kind
	pattern *regexp.Regexp
}

// canonical ordered (regex, kind) pairs; first match wins.
var canonicalRules = []kindRule{
	{types.KindCredentialFetch, regexp.MustCompile(`(?i)\b(api[_ -]?key|secret|token|password|credential)s?\b.{0,40}\b(from|for)\b`)},
	{types.KindFileDownload, regexp.MustCompile(`(?i)\b(download|fetch)\b.{0,40}\b(file|artifact|binary|release)\b`)},
	{types.KindVerification, regexp.MustCompile(`(?i)\b(verify|confirm|check)\b.{0,40}\b(deployment|account|domain|email)\b`)},
	{types.KindAPICheck, regexp.MustCompile(`(?i)\b(call|check|query|hit)\b.{0,40}\bAPI\b`)},
	{types.KindServiceAction, regexp.MustCompile(`(?i)\b(open|find|restart|deploy|configure)\b.{0,60}\b(dashboard|database|service|project)\b`)},
	{types.KindURLVisit, regexp.MustCompile(`(?i)\b(go to|visit|open|navigate to)\b.{0,60}https?://`)},
}

var urlPattern = regexp.MustCompile(`https?://[^\s"'<>)]+`)

var knownServices = []string{
	"Railway", "Vercel", "Netlify", "Supabase", "Firebase", "AWS", "GCP", "Azure",
	"Heroku", "Render", "Fly", "GitHub", "GitLab", "Bitbucket", "Cloudflare",
	"DigitalOcean", "MongoDB", "Redis", "PostgreSQL", "MySQL", "Stripe",
	"Twilio", "SendGrid", "Auth0", "Okta",
}

var dataNeededPattern = regexp.MustCompile(`(?i)\b(?:need|looking for|want)\s+(?:the\s+)?([A-Za-z0-9_][A-Za-z0-9_ .-]{1,40})`)

var envVarPattern = regexp.MustCompile(`\b[A-Z][A-Z0-9]*(?:_[A-Z0-9]+)+\b`)

// extractURL returns the first http(s) URL, trimmed of trailing
// sentence punctuation that isn't part of the URL.
func extractURL(s string) string {
	m := urlPattern.FindString(s)
	return strings.TrimRight(m, ".,;:!?")
}

func extractService(s string) string {
	for _, svc := range knownServices {
		if containsFold(s, svc) {
			return svc
		}
	}
	return ""
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}

func extractDataNeeded(s string) string {
	if m := dataNeededPattern.FindStringSubmatch(s); m != nil {
		return strings.TrimSpace(m[1])
	}
	if m := envVarPattern.FindString(s); m != "" {
		return m
	}
	return ""
}

// suggestedActions builds the kind+url-driven default action list per
// the canonical kind-to-actions mapping.
func suggestedActions(kind types.Kind, url string) []types.BrowserAction {
	if url == "" {
		return nil
	}
	switch kind {
	case types.KindURLVisit, types.KindVerification:
		return []types.BrowserAction{types.Navigate(url), types.Screenshot(""), types.ExtractText("")}
	case types.KindCredentialFetch, types.KindAPICheck:
		return []types.BrowserAction{types.Navigate(url), types.ExtractText("")}
	case types.KindFileDownload:
		return []types.BrowserAction{types.Navigate(url)}
	default:
		return []types.BrowserAction{types.Navigate(url), types.Screenshot("")}
	}
}

// RuleBased is the mandatory, always-available analyzer backend.
type RuleBased struct {
	extraPatterns []*regexp.Regexp
}

// NewRuleBased compiles the extra patterns (configuration field
// analyzer.patterns), all of which map to types.KindUnknown.
func NewRuleBased(extraPatterns []string) (*RuleBased, error) {
	rb := &RuleBased{}
	for _, p := range extraPatterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, err
		}
		rb.extraPatterns = append(rb.extraPatterns, re)
	}
	return rb, nil
}

func (r *RuleBased) Analyze(text string) (Result, error) {
	clean := stripControlSequences(text)

	kind, matched := r.classify(clean)
	if !matched {
		return Result{Detected: false, Confidence: 0}, nil
	}

	url := extractURL(clean)
	service := extractService(clean)
	dataNeeded := extractDataNeeded(clean)
	req := &types.Request{
		ID:               types.NewRequestID(),
		Kind:             kind,
		Summary:          summarize(kind, clean, url, service, dataNeeded),
		RawOutput:        clean,
		URL:              url,
		Service:          service,
		DataNeeded:       dataNeeded,
		SuggestedActions: suggestedActions(kind, url),
	}
	return Result{Detected: true, Confidence: 0.8, Request: req}, nil
}

func (r *RuleBased) classify(clean string) (types.Kind, bool) {
	for _, rule := range canonicalRules {
		if rule.pattern.MatchString(clean) {
			return rule.kind, true
		}
	}
	for _, re := range r.extraPatterns {
		if re.MatchString(clean) {
			return types.KindUnknown, true
		}
	}
	return "", false
}

// summarize returns a short, kind-specific description of the matched
// text for display in operator prompts and injection envelopes. Kinds
// with a canonical phrasing get it verbatim (e.g. "Visit <url>",
// "Fetch credentials from <service>"); everything else falls back to
// the trimmed, truncated first line of the matched text.
func summarize(kind types.Kind, clean, url, service, dataNeeded string) string {
	switch kind {
	case types.KindURLVisit:
		if url != "" {
			return "Visit " + url
		}
	case types.KindCredentialFetch:
		switch {
		case service != "":
			return "Fetch credentials from " + service
		case dataNeeded != "":
			return "Fetch " + dataNeeded
		default:
			return "Fetch credentials"
		}
	case types.KindFileDownload:
		if url != "" {
			return "Download " + url
		}
		return "Download file"
	case types.KindAPICheck:
		if service != "" {
			return "Check " + service + " API"
		}
		return "Check API"
	}
	return firstLine(clean)
}

// firstLine trims and truncates the matched text's first line, used as
// the summary for kinds without a canonical phrasing.
func firstLine(clean string) string {
	line := clean
	if idx := strings.IndexAny(line, "\r\n"); idx >= 0 {
		line = line[:idx]
	}
	line = strings.TrimSpace(line)
	const maxLen = 160
	if len(line) > maxLen {
		line = line[:maxLen] + "…"
	}
	return line
}
