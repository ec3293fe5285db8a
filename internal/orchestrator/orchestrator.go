// Package orchestrator wires the interceptor's flush events through
// analysis, auto-rules, forwarding, execution, and injection, and keeps
// the permanent history of every request's lifecycle.
package orchestrator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/openclaw/conductor/internal/analyzer"
	"github.com/openclaw/conductor/internal/executor"
	"github.com/openclaw/conductor/internal/forwarder"
	"github.com/openclaw/conductor/internal/injector"
	"github.com/openclaw/conductor/internal/pending"
	"github.com/openclaw/conductor/internal/rules"
	"github.com/openclaw/conductor/pkg/observability"
	"github.com/openclaw/conductor/pkg/types"
)

// AuditSink records lifecycle events. Implementations must be safe for
// concurrent use; appends are expected to be append-only.
type AuditSink interface {
	Append(ctx context.Context, event string, payload map[string]any) error
}

// Tracer wraps one request's lifecycle in an observability span. A
// nil Tracer (the default noopTracer) is a valid, inert choice.
type Tracer interface {
	TraceRequest(ctx context.Context, req types.Request) (context.Context, func())
}

type noopTracer struct{}

func (noopTracer) TraceRequest(ctx context.Context, _ types.Request) (context.Context, func()) {
	return ctx, func() {}
}

// Config configures one Orchestrator.
type Config struct {
	ConfidenceThreshold float64
	AuthTimeout         time.Duration
}

// Orchestrator is the conductor's central state machine: one analyzer
// call per flush, auto-rule evaluation, forwarding, execution, and
// injection, each request resolved at most once.
type Orchestrator struct {
	cfg Config

	store     *pending.Store
	analyzer  analyzer.Analyzer
	forwarder *forwarder.Forwarder
	executor  *executor.Executor
	injector  *injector.Injector
	autoRules *rules.AutoRules
	audit     AuditSink
	tracer    Tracer
	logger    *slog.Logger

	historyMu sync.Mutex
	history   []types.HistoryEntry

	unsubscribe func()
}

// New constructs an Orchestrator and subscribes to the forwarder's
// resolved-authorization events so operator and RPC decisions flow
// through the same completion path.
func New(
	store *pending.Store,
	an analyzer.Analyzer,
	fwd *forwarder.Forwarder,
	exec *executor.Executor,
	inj *injector.Injector,
	autoRules *rules.AutoRules,
	audit AuditSink,
	tracer Tracer,
	cfg Config,
	logger *slog.Logger,
) *Orchestrator {
	if cfg.ConfidenceThreshold <= 0 {
		cfg.ConfidenceThreshold = 0.7
	}
	if cfg.AuthTimeout <= 0 {
		cfg.AuthTimeout = 120 * time.Second
	}
	if tracer == nil {
		tracer = noopTracer{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	o := &Orchestrator{
		cfg:       cfg,
		store:     store,
		analyzer:  an,
		forwarder: fwd,
		executor:  exec,
		injector:  inj,
		autoRules: autoRules,
		audit:     audit,
		tracer:    tracer,
		logger:    logger,
	}
	o.unsubscribe = fwd.OnAuthorization(o.onAuthorizationResolved)
	return o
}

// HandleFlush is the interceptor's flush callback: analyze, apply
// auto-rules, then either drop, auto-resolve, or forward to an operator.
func (o *Orchestrator) HandleFlush(ctx context.Context, text string) {
	result, err := o.analyzer.Analyze(text)
	if err != nil {
		o.logger.Warn("analyzer call failed", "error", err)
		return
	}
	if !result.Detected || result.Confidence < o.cfg.ConfidenceThreshold || result.Request == nil {
		return
	}

	req := *result.Request
	now := time.Now()
	req.CreatedAt = now

	ctx, end := o.tracer.TraceRequest(ctx, req)
	defer end()

	o.auditAppend(ctx, "request-detected", map[string]any{"requestId": req.ID, "kind": req.Kind, "url": req.URL})

	decision := o.autoRules.Evaluate(req.URL)
	switch decision {
	case rules.AutoDeny:
		observability.RecordDecision(ctx, string(types.DecisionDeny), types.ResolvedByAutoDeny)
		o.resolveAutoRule(ctx, req, types.ResolvedByAutoDeny, "matched auto-deny pattern")
		return
	case rules.AutoApprove:
		observability.RecordDecision(ctx, string(types.DecisionApprove), types.ResolvedByAutoApprove)
		o.resolveAutoRule(ctx, req, types.ResolvedByAutoApprove, "")
		return
	}

	req.ExpiresAt = now.Add(o.cfg.AuthTimeout)
	o.forwarder.RequestAuthorization(ctx, req)
	o.trackPendingForHistory(req)
}

func (o *Orchestrator) trackPendingForHistory(req types.Request) {
	// The shared pending.Store already holds req; nothing further is
	// needed here beyond what RequestAuthorization registered. This
	// method exists as the seam where session-scoped bookkeeping (e.g.
	// SessionKey correlation) would be added.
	_ = req
}

func (o *Orchestrator) resolveAutoRule(ctx context.Context, req types.Request, resolvedBy, reason string) {
	var inj types.Injection
	var err error
	if resolvedBy == types.ResolvedByAutoApprove {
		auth := types.Authorization{RequestID: req.ID, Decision: types.DecisionApprove, ResolvedBy: resolvedBy, ResolvedAt: time.Now()}
		results := o.executor.ExecuteRequest(ctx, req, auth)
		inj, err = o.injector.InjectResults(req, results)
		o.completeHistory(ctx, req, &auth, inj)
		o.auditAppend(ctx, "auto-approved", map[string]any{"requestId": req.ID})
	} else {
		if reason == "" {
			reason = "matched auto-deny pattern"
		}
		auth := types.Authorization{RequestID: req.ID, Decision: types.DecisionDeny, ResolvedBy: resolvedBy, ResolvedAt: time.Now()}
		inj, err = o.injector.InjectDenial(req, reason)
		o.completeHistory(ctx, req, &auth, inj)
		o.auditAppend(ctx, "auto-denied", map[string]any{"requestId": req.ID})
	}
	if err != nil {
		observability.RecordError(ctx, err)
		o.logger.Warn("injection failed", "requestId", req.ID, "error", err)
	}
}

// onAuthorizationResolved runs for every decision reaching the
// forwarder/gateway path: operator reply, RPC resolve, or timeout. The
// pending store hands back the original Request alongside the
// Authorization, since its own entry is already deleted by this point.
func (o *Orchestrator) onAuthorizationResolved(req types.Request, auth types.Authorization) {
	ctx := context.Background()

	o.auditAppend(ctx, "authorization-received", map[string]any{"requestId": auth.RequestID, "decision": auth.Decision})

	var inj types.Injection
	var err error
	switch {
	case auth.ResolvedBy == types.ResolvedByTimeout:
		inj, err = o.injector.InjectTimeout(req)
	case auth.Approved():
		results := o.executor.ExecuteRequest(ctx, req, auth)
		inj, err = o.injector.InjectResults(req, results)
	default:
		inj, err = o.injector.InjectDenial(req, "operator denied")
	}
	if err != nil {
		o.logger.Warn("injection failed", "requestId", req.ID, "error", err)
	}

	o.completeHistory(ctx, req, &auth, inj)
	o.auditAppend(ctx, "injection", map[string]any{"requestId": req.ID, "success": inj.Success})
	o.forwarder.NotifyResult(ctx, req, inj)
}

func (o *Orchestrator) completeHistory(ctx context.Context, req types.Request, auth *types.Authorization, inj types.Injection) {
	entry := types.HistoryEntry{
		Request:       req,
		Authorization: auth,
		Injection:     inj,
		CompletedAt:   time.Now(),
	}
	o.historyMu.Lock()
	o.history = append(o.history, entry)
	o.historyMu.Unlock()
}

func (o *Orchestrator) auditAppend(ctx context.Context, event string, payload map[string]any) {
	if o.audit == nil {
		return
	}
	if err := o.audit.Append(ctx, event, payload); err != nil {
		o.logger.Warn("audit append failed", "event", event, "error", err)
	}
}

// History returns the last limit entries (most recent last); limit<=0
// returns all entries.
func (o *Orchestrator) History(limit int) []types.HistoryEntry {
	o.historyMu.Lock()
	defer o.historyMu.Unlock()
	if limit <= 0 || limit >= len(o.history) {
		out := make([]types.HistoryEntry, len(o.history))
		copy(out, o.history)
		return out
	}
	start := len(o.history) - limit
	out := make([]types.HistoryEntry, limit)
	copy(out, o.history[start:])
	return out
}

// Pending returns the requests currently awaiting a decision.
func (o *Orchestrator) Pending() []types.Request {
	ids := o.store.IDs()
	out := make([]types.Request, 0, len(ids))
	for _, id := range ids {
		if req, ok := o.store.Get(id); ok {
			out = append(out, req)
		}
	}
	return out
}

// Stop unsubscribes from the forwarder and clears the shared pending
// store's timers.
func (o *Orchestrator) Stop() {
	if o.unsubscribe != nil {
		o.unsubscribe()
	}
	o.store.Clear()
}
