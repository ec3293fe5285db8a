// Package rules compiles and evaluates the URL glob lists used to
// auto-approve or auto-deny a detected request before it ever reaches
// an operator.
package rules

import (
	"fmt"
	"strings"

	"github.com/gobwas/glob"
)

// Pattern is a compiled, case-insensitive shell-style glob: "*" matches
// any run of characters, "?" matches exactly one, and every other glob
// metacharacter is matched literally.
type Pattern struct {
	raw      string
	compiled glob.Glob
}

// Compile builds a Pattern from a shell-style glob string. gobwas/glob's
// own "[...]", "{...}" and backslash syntax is escaped first, so only
// "*" and "?" act as wildcards; matching is made case-insensitive by
// lower-casing both the pattern and the candidate at match time.
func Compile(s string) (*Pattern, error) {
	escaped := strings.NewReplacer(`\`, `\\`, `[`, `\[`, `]`, `\]`, `{`, `\{`, `}`, `\}`).Replace(strings.ToLower(s))
	g, err := glob.Compile(escaped)
	if err != nil {
		return nil, fmt.Errorf("compile pattern %q: %w", s, err)
	}
	return &Pattern{raw: s, compiled: g}, nil
}

// Match reports whether url satisfies the pattern.
func (p *Pattern) Match(url string) bool {
	return p.compiled.Match(strings.ToLower(url))
}

// String returns the original, uncompiled pattern text.
func (p *Pattern) String() string { return p.raw }

// Set is an ordered list of compiled patterns evaluated first-match-wins.
type Set struct {
	patterns []*Pattern
}

// CompileSet compiles every pattern string in order, stopping at the
// first compilation error.
func CompileSet(patterns []string) (*Set, error) {
	out := &Set{patterns: make([]*Pattern, 0, len(patterns))}
	for _, s := range patterns {
		p, err := Compile(s)
		if err != nil {
			return nil, err
		}
		out.patterns = append(out.patterns, p)
	}
	return out, nil
}

// Match returns true and the matching pattern's text on the first
// pattern (in compile order) that matches url.
func (s *Set) Match(url string) (string, bool) {
	if s == nil {
		return "", false
	}
	for _, p := range s.patterns {
		if p.Match(url) {
			return p.String(), true
		}
	}
	return "", false
}

// AutoRules holds the deny-first, approve-second URL glob lists used by
// the orchestrator before a request is ever forwarded to an operator.
type AutoRules struct {
	Deny    *Set
	Approve *Set
}

// NewAutoRules compiles both lists, deny first per the required
// precedence (a URL matched by both resolves deny).
func NewAutoRules(denyPatterns, approvePatterns []string) (*AutoRules, error) {
	deny, err := CompileSet(denyPatterns)
	if err != nil {
		return nil, fmt.Errorf("auto-deny patterns: %w", err)
	}
	approve, err := CompileSet(approvePatterns)
	if err != nil {
		return nil, fmt.Errorf("auto-approve patterns: %w", err)
	}
	return &AutoRules{Deny: deny, Approve: approve}, nil
}

// Decision is the outcome of evaluating the auto-rules against a URL.
type Decision int

const (
	NoMatch Decision = iota
	AutoDeny
	AutoApprove
)

// Evaluate applies deny patterns before approve patterns and returns the
// first matching list's verdict. An empty url never matches.
func (a *AutoRules) Evaluate(url string) Decision {
	if a == nil || url == "" {
		return NoMatch
	}
	if _, ok := a.Deny.Match(url); ok {
		return AutoDeny
	}
	if _, ok := a.Approve.Match(url); ok {
		return AutoApprove
	}
	return NoMatch
}
