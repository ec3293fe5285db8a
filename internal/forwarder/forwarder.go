// Package forwarder delivers authorization prompts to operator
// endpoints and relays the operator's reply back as an Authorization.
package forwarder

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/openclaw/conductor/internal/conductorerr"
	"github.com/openclaw/conductor/internal/pending"
	"github.com/openclaw/conductor/pkg/types"
)

// Target is one configured delivery endpoint for authorization prompts.
type Target struct {
	Channel   string `yaml:"channel" json:"channel"`
	To        string `yaml:"to" json:"to"`
	AccountID string `yaml:"accountId,omitempty" json:"accountId,omitempty"`
	ThreadID  string `yaml:"threadId,omitempty" json:"threadId,omitempty"`
}

// Sender delivers a formatted message to one target. Implementations
// are best-effort: a returned error is logged but never aborts the
// request's lifecycle.
type Sender interface {
	Send(ctx context.Context, target Target, message string) error
}

const defaultTimeout = 120 * time.Second

// Forwarder delivers authorization prompts and relays operator replies
// by resolving requests through the shared pending store.
type Forwarder struct {
	targets []Target
	timeout time.Duration
	sender  Sender
	store   *pending.Store
	logger  *slog.Logger
}

// New constructs a Forwarder against the shared pending store. A zero
// timeout applies the spec default of 120s.
func New(store *pending.Store, targets []Target, timeout time.Duration, sender Sender, logger *slog.Logger) *Forwarder {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Forwarder{targets: targets, timeout: timeout, sender: sender, store: store, logger: logger}
}

// RequestAuthorization formats the operator prompt, best-effort
// delivers it to every configured target in parallel, registers the
// request in the shared pending store, and arms the timeout timer.
func (f *Forwarder) RequestAuthorization(ctx context.Context, req types.Request) {
	msg := formatAuthorizationRequest(req, f.timeout)

	f.store.Insert(req, f.timeout, func(id string) {
		f.store.Resolve(id, types.Authorization{
			RequestID:  id,
			Decision:   types.DecisionDeny,
			ResolvedBy: types.ResolvedByTimeout,
			ResolvedAt: time.Now(),
		})
	})

	var wg sync.WaitGroup
	for _, t := range f.targets {
		wg.Add(1)
		go func(target Target) {
			defer wg.Done()
			if err := f.sender.Send(ctx, target, msg); err != nil {
				werr := conductorerr.New(conductorerr.ForwardDeliveryFailed, err)
				f.logger.Warn("forwarder delivery failed",
					"channel", target.Channel, "to", target.To, "requestId", req.ShortID(), "error", werr)
			}
		}(t)
	}
	wg.Wait()
}

// NotifyResult sends a best-effort informational summary of a
// completed request; the payload preview is truncated to 200 chars.
func (f *Forwarder) NotifyResult(ctx context.Context, req types.Request, injection types.Injection) {
	msg := formatResultNotification(req, injection)
	for _, t := range f.targets {
		go func(target Target) {
			if err := f.sender.Send(ctx, target, msg); err != nil {
				f.logger.Warn("forwarder result notification failed",
					"channel", target.Channel, "to", target.To, "requestId", req.ShortID(), "error", err)
			}
		}(t)
	}
}

// OnAuthorization subscribes to resolved decisions and returns a
// cleanup function that removes the subscription.
func (f *Forwarder) OnAuthorization(cb func(types.Request, types.Authorization)) func() {
	return f.store.Subscribe(cb)
}

// Stop clears the shared pending store's timers and subscribers. Only
// call this from the component that owns the store's lifecycle.
func (f *Forwarder) Stop() {
	f.store.Clear()
}

// HandleInboundMessage applies the inbound decision-matching algorithm
// to one message from a messaging channel and resolves at most one
// pending request.
func (f *Forwarder) HandleInboundMessage(channel, from, text string) {
	trimmed := strings.TrimSpace(text)
	normalized := strings.ToLower(trimmed)

	ids := f.store.IDs()
	var matchedID string
	for _, id := range ids {
		if len(id) >= 8 && strings.Contains(normalized, strings.ToLower(id[:8])) {
			matchedID = id
			break
		}
	}

	isApproval := isApprovalText(normalized)
	isDenial := isDenialText(normalized)

	matchesID := matchedID != ""
	if matchedID == "" && len(ids) == 1 && (isApproval || isDenial) {
		matchedID = ids[0]
	}

	if matchedID == "" {
		return
	}

	decision := types.DecisionDeny
	var instructions string
	switch {
	case strings.HasPrefix(normalized, "yes ") || strings.HasPrefix(normalized, "approve "):
		decision = types.DecisionApproveWithInstructions
		instructions = strings.TrimSpace(strings.SplitN(trimmed, " ", 2)[1])
	case isApproval || (matchesID && !isDenial):
		decision = types.DecisionApprove
	}

	f.store.Resolve(matchedID, types.Authorization{
		RequestID:    matchedID,
		Decision:     decision,
		Instructions: instructions,
		ResolvedBy:   fmt.Sprintf("%s:%s", channel, from),
		ResolvedAt:   time.Now(),
	})
}

func isApprovalText(normalized string) bool {
	switch normalized {
	case "yes", "approve", "go", "y":
		return true
	}
	return strings.HasPrefix(normalized, "yes ") || strings.HasPrefix(normalized, "approve ")
}

func isDenialText(normalized string) bool {
	switch normalized {
	case "no", "deny", "n":
		return true
	}
	return strings.HasPrefix(normalized, "no ")
}
