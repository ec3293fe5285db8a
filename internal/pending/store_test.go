package pending

import (
	"testing"
	"time"

	"github.com/openclaw/conductor/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveIsAtMostOnce(t *testing.T) {
	s := NewStore()
	s.Insert(types.Request{ID: "r1"}, time.Hour, func(string) {})

	first := s.Resolve("r1", types.Authorization{RequestID: "r1", Decision: types.DecisionApprove})
	second := s.Resolve("r1", types.Authorization{RequestID: "r1", Decision: types.DecisionDeny})

	assert.True(t, first)
	assert.False(t, second)
	assert.Equal(t, 0, s.Count())
}

func TestInsertFiresTimeoutCallback(t *testing.T) {
	s := NewStore()
	fired := make(chan string, 1)
	s.Insert(types.Request{ID: "r1"}, 20*time.Millisecond, func(id string) { fired <- id })

	select {
	case id := <-fired:
		assert.Equal(t, "r1", id)
	case <-time.After(time.Second):
		t.Fatal("timeout callback did not fire")
	}
}

func TestSubscribeReceivesResolution(t *testing.T) {
	s := NewStore()
	s.Insert(types.Request{ID: "r1"}, time.Hour, func(string) {})

	received := make(chan types.Authorization, 1)
	cleanup := s.Subscribe(func(_ types.Request, a types.Authorization) { received <- a })
	defer cleanup()

	s.Resolve("r1", types.Authorization{RequestID: "r1", Decision: types.DecisionApprove})

	auth := <-received
	assert.Equal(t, types.DecisionApprove, auth.Decision)
}

func TestGetAndIDs(t *testing.T) {
	s := NewStore()
	s.Insert(types.Request{ID: "r1", Summary: "first"}, time.Hour, func(string) {})

	req, ok := s.Get("r1")
	require.True(t, ok)
	assert.Equal(t, "first", req.Summary)
	assert.Equal(t, []string{"r1"}, s.IDs())

	_, ok = s.Get("missing")
	assert.False(t, ok)
}

func TestClearStopsTimersAndEmptiesStore(t *testing.T) {
	s := NewStore()
	fired := make(chan string, 1)
	s.Insert(types.Request{ID: "r1"}, 20*time.Millisecond, func(id string) { fired <- id })
	s.Clear()

	select {
	case <-fired:
		t.Fatal("timeout callback fired after Clear")
	case <-time.After(50 * time.Millisecond):
	}
	assert.Equal(t, 0, s.Count())
}
