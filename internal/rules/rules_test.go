package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPatternCaseInsensitiveGlob(t *testing.T) {
	p, err := Compile("https://Evil.example/*")
	require.NoError(t, err)

	assert.True(t, p.Match("https://evil.example/steal"))
	assert.True(t, p.Match("HTTPS://EVIL.EXAMPLE/STEAL"))
	assert.False(t, p.Match("https://notevil.example/steal"))
}

func TestPatternQuestionMark(t *testing.T) {
	p, err := Compile("https://x.test/?")
	require.NoError(t, err)
	assert.True(t, p.Match("https://x.test/a"))
	assert.False(t, p.Match("https://x.test/ab"))
}

func TestAutoRulesDenyBeatsApprove(t *testing.T) {
	a, err := NewAutoRules(
		[]string{"https://evil.example/*"},
		[]string{"https://evil.example/*"},
	)
	require.NoError(t, err)

	assert.Equal(t, AutoDeny, a.Evaluate("https://evil.example/steal"))
}

func TestAutoRulesApprove(t *testing.T) {
	a, err := NewAutoRules(nil, []string{"https://railway.app/*"})
	require.NoError(t, err)

	assert.Equal(t, AutoApprove, a.Evaluate("https://railway.app/dashboard"))
	assert.Equal(t, NoMatch, a.Evaluate("https://other.example/"))
}

func TestAutoRulesNoPatternsNoMatch(t *testing.T) {
	a, err := NewAutoRules(nil, nil)
	require.NoError(t, err)
	assert.Equal(t, NoMatch, a.Evaluate("https://anything/"))
	assert.Equal(t, NoMatch, a.Evaluate(""))
}
