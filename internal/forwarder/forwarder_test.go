package forwarder

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/openclaw/conductor/internal/pending"
	"github.com/openclaw/conductor/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	mu   sync.Mutex
	sent []string
	fail bool
}

func (f *fakeSender) Send(_ context.Context, _ Target, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return assert.AnError
	}
	f.sent = append(f.sent, message)
	return nil
}

func TestRequestAuthorizationDeliversToAllTargets(t *testing.T) {
	sender := &fakeSender{}
	store := pending.NewStore()
	f := New(store, []Target{{Channel: "webhook", To: "a"}, {Channel: "webhook", To: "b"}}, time.Hour, sender, nil)

	req := types.Request{ID: "abcdefgh-1234", Kind: types.KindURLVisit, Summary: "Visit https://railway.app/dashboard"}
	f.RequestAuthorization(context.Background(), req)

	sender.mu.Lock()
	defer sender.mu.Unlock()
	require.Len(t, sender.sent, 2)
	assert.Contains(t, sender.sent[0], "AETHER CONDUCTOR — Authorization Request [abcdefgh]")
}

func TestInboundYesApproves(t *testing.T) {
	sender := &fakeSender{}
	store := pending.NewStore()
	f := New(store, nil, time.Hour, sender, nil)
	req := types.Request{ID: "abcdefgh-xyz", Summary: "test"}
	f.RequestAuthorization(context.Background(), req)

	done := make(chan types.Authorization, 1)
	cleanup := f.OnAuthorization(func(_ types.Request, a types.Authorization) { done <- a })
	defer cleanup()

	f.HandleInboundMessage("sms", "+15551234", "yes")

	auth := <-done
	assert.Equal(t, types.DecisionApprove, auth.Decision)
	assert.Equal(t, "sms:+15551234", auth.ResolvedBy)
}

func TestInboundNoDenies(t *testing.T) {
	sender := &fakeSender{}
	store := pending.NewStore()
	f := New(store, nil, time.Hour, sender, nil)
	req := types.Request{ID: "abcdefgh-xyz", Summary: "test"}
	f.RequestAuthorization(context.Background(), req)

	done := make(chan types.Authorization, 1)
	cleanup := f.OnAuthorization(func(_ types.Request, a types.Authorization) { done <- a })
	defer cleanup()

	f.HandleInboundMessage("sms", "+1", "no")

	auth := <-done
	assert.Equal(t, types.DecisionDeny, auth.Decision)
}

func TestInboundYesWithInstructions(t *testing.T) {
	sender := &fakeSender{}
	store := pending.NewStore()
	f := New(store, nil, time.Hour, sender, nil)
	req := types.Request{ID: "abcdefgh-xyz", Summary: "test"}
	f.RequestAuthorization(context.Background(), req)

	done := make(chan types.Authorization, 1)
	cleanup := f.OnAuthorization(func(_ types.Request, a types.Authorization) { done <- a })
	defer cleanup()

	f.HandleInboundMessage("sms", "+1", "yes use the staging key")

	auth := <-done
	assert.Equal(t, types.DecisionApproveWithInstructions, auth.Decision)
	assert.Equal(t, "use the staging key", auth.Instructions)
}

func TestInboundYesWithInstructionsPreservesOriginalCase(t *testing.T) {
	sender := &fakeSender{}
	store := pending.NewStore()
	f := New(store, nil, time.Hour, sender, nil)
	req := types.Request{ID: "abcdefgh-xyz", Summary: "test"}
	f.RequestAuthorization(context.Background(), req)

	done := make(chan types.Authorization, 1)
	cleanup := f.OnAuthorization(func(_ types.Request, a types.Authorization) { done <- a })
	defer cleanup()

	f.HandleInboundMessage("sms", "+1", "Yes use https://Staging.example.com/Deploy")

	auth := <-done
	assert.Equal(t, types.DecisionApproveWithInstructions, auth.Decision)
	assert.Equal(t, "use https://Staging.example.com/Deploy", auth.Instructions)
}

func TestInboundMatchesByIDPrefixEvenWithMultiplePending(t *testing.T) {
	sender := &fakeSender{}
	store := pending.NewStore()
	f := New(store, nil, time.Hour, sender, nil)
	f.RequestAuthorization(context.Background(), types.Request{ID: "aaaaaaaa-1", Summary: "first"})
	f.RequestAuthorization(context.Background(), types.Request{ID: "bbbbbbbb-2", Summary: "second"})

	done := make(chan types.Authorization, 1)
	cleanup := f.OnAuthorization(func(_ types.Request, a types.Authorization) { done <- a })
	defer cleanup()

	f.HandleInboundMessage("sms", "+1", "approve bbbbbbbb please")

	auth := <-done
	assert.Equal(t, "bbbbbbbb-2", auth.RequestID)
	assert.Equal(t, types.DecisionApproveWithInstructions, auth.Decision)
}

func TestTimeoutResolvesDeny(t *testing.T) {
	sender := &fakeSender{}
	store := pending.NewStore()
	f := New(store, nil, 50*time.Millisecond, sender, nil)

	done := make(chan types.Authorization, 1)
	cleanup := f.OnAuthorization(func(_ types.Request, a types.Authorization) { done <- a })
	defer cleanup()

	req := types.Request{ID: "abcdefgh-xyz", Summary: "test"}
	f.RequestAuthorization(context.Background(), req)

	select {
	case auth := <-done:
		assert.Equal(t, types.DecisionDeny, auth.Decision)
		assert.Equal(t, types.ResolvedByTimeout, auth.ResolvedBy)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for timeout resolution")
	}
}

func TestResolveIsAtMostOnce(t *testing.T) {
	sender := &fakeSender{}
	store := pending.NewStore()
	f := New(store, nil, time.Hour, sender, nil)
	req := types.Request{ID: "abcdefgh-xyz", Summary: "test"}
	f.RequestAuthorization(context.Background(), req)

	first := store.Resolve("abcdefgh-xyz", types.Authorization{RequestID: "abcdefgh-xyz", Decision: types.DecisionApprove, ResolvedBy: "rpc"})
	second := store.Resolve("abcdefgh-xyz", types.Authorization{RequestID: "abcdefgh-xyz", Decision: types.DecisionDeny, ResolvedBy: "messaging"})

	assert.True(t, first)
	assert.False(t, second)
}
