package analyzer

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/openclaw/conductor/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRuleBasedURLVisit(t *testing.T) {
	rb, err := NewRuleBased(nil)
	require.NoError(t, err)

	res, err := rb.Analyze("Please go to https://railway.app/dashboard to get the DB URL.")
	require.NoError(t, err)
	require.True(t, res.Detected)
	assert.GreaterOrEqual(t, res.Confidence, 0.7)
	assert.Equal(t, types.KindURLVisit, res.Request.Kind)
	assert.Equal(t, "https://railway.app/dashboard", res.Request.URL)
	assert.Equal(t, types.ActionNavigate, res.Request.SuggestedActions[0].Tag)
}

func TestRuleBasedCredentialFetch(t *testing.T) {
	rb, err := NewRuleBased(nil)
	require.NoError(t, err)

	res, err := rb.Analyze("I need the API_KEY from Vercel to continue.")
	require.NoError(t, err)
	require.True(t, res.Detected)
	assert.Equal(t, types.KindCredentialFetch, res.Request.Kind)
	assert.Equal(t, "Vercel", res.Request.Service)
}

func TestRuleBasedNoMatchOnBuildOutput(t *testing.T) {
	rb, err := NewRuleBased(nil)
	require.NoError(t, err)

	res, err := rb.Analyze("Compiling TypeScript...\nBuild succeeded in 2.3s\n42 modules compiled.")
	require.NoError(t, err)
	assert.False(t, res.Detected)
	assert.Zero(t, res.Confidence)
}

func TestStripControlSequencesIdempotent(t *testing.T) {
	s := "\x1b[31mred\x1b[0m text\x1b]0;title\x07"
	once := stripControlSequences(s)
	twice := stripControlSequences(once)
	assert.Equal(t, once, twice)
	assert.NotContains(t, once, "\x1b")
}

func TestSuggestedActionsFirstElementNavigateIffURL(t *testing.T) {
	withURL := suggestedActions(types.KindServiceAction, "https://x.test")
	require.NotEmpty(t, withURL)
	assert.Equal(t, types.ActionNavigate, withURL[0].Tag)

	withoutURL := suggestedActions(types.KindServiceAction, "")
	assert.Empty(t, withoutURL)
}

func TestRemoteFallsBackToRuleBasedOnNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	rb, err := NewRuleBased(nil)
	require.NoError(t, err)
	remote := NewRemote(RemoteConfig{BaseURL: srv.URL}, rb, nil)

	res, err := remote.Analyze("Please go to https://railway.app/dashboard to get the DB URL.")
	require.NoError(t, err)
	assert.True(t, res.Detected)
	assert.Equal(t, types.KindURLVisit, res.Request.Kind)
}

func TestRemoteTreatsShortInputAsNonRequest(t *testing.T) {
	rb, err := NewRuleBased(nil)
	require.NoError(t, err)
	remote := NewRemote(RemoteConfig{BaseURL: "http://127.0.0.1:0"}, rb, nil)

	res, err := remote.Analyze("short")
	require.NoError(t, err)
	assert.False(t, res.Detected)
}
