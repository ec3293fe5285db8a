// Package executor resolves a request + authorization into a concrete
// browser action list and runs it against a browser automation plane.
package executor

import (
	"context"
	"strings"
	"time"

	"github.com/openclaw/conductor/pkg/types"
)

// Plane is the browser automation surface the executor dispatches
// actions against. No concrete adapter ships with this module: browser
// automation itself is out of scope, and callers supply their own.
type Plane interface {
	// Status reports whether the named profile is already running.
	Status(ctx context.Context, profile string) (running bool, err error)
	// Start launches the named profile.
	Start(ctx context.Context, profile string, headless bool) error
	// Run dispatches a single action and returns its result.
	Run(ctx context.Context, action types.BrowserAction) types.ActionResult
}

// Config configures one Executor.
type Config struct {
	Profile             string
	Headless            bool
	ActionTimeout       time.Duration
	CaptureScreenshots  bool
}

// Executor composes and runs the action list for a resolved request.
type Executor struct {
	cfg   Config
	plane Plane
}

func New(cfg Config, plane Plane) *Executor {
	if cfg.ActionTimeout <= 0 {
		cfg.ActionTimeout = 30 * time.Second
	}
	return &Executor{cfg: cfg, plane: plane}
}

// Resolve builds the action list for a request + authorization per the
// suggested-actions / instruction-reduction / trailing-screenshot rules.
func Resolve(req types.Request, auth types.Authorization, captureScreenshots bool) []types.BrowserAction {
	actions := req.SuggestedActions
	if len(actions) == 0 && req.URL != "" {
		actions = []types.BrowserAction{types.Navigate(req.URL), types.ExtractText("")}
	}

	instr := strings.ToLower(auth.Instructions)
	switch {
	case strings.Contains(instr, "only screenshot") || strings.Contains(instr, "just screenshot"):
		actions = reduceTo(actions, req.URL, types.ActionScreenshot)
	case strings.Contains(instr, "only fetch") || strings.Contains(instr, "just fetch"):
		actions = reduceTo(actions, req.URL, types.ActionExtractText)
	}

	if captureScreenshots && !hasTag(actions, types.ActionScreenshot) {
		actions = append(actions, types.Screenshot(""))
	}

	return actions
}

// reduceTo keeps the leading navigate(url), if any, and appends a
// single action of the requested tag.
func reduceTo(actions []types.BrowserAction, url string, tag types.ActionTag) []types.BrowserAction {
	var out []types.BrowserAction
	if len(actions) > 0 && actions[0].Tag == types.ActionNavigate {
		out = append(out, actions[0])
	} else if url != "" {
		out = append(out, types.Navigate(url))
	}
	switch tag {
	case types.ActionScreenshot:
		out = append(out, types.Screenshot(""))
	case types.ActionExtractText:
		out = append(out, types.ExtractText(""))
	}
	return out
}

func hasTag(actions []types.BrowserAction, tag types.ActionTag) bool {
	for _, a := range actions {
		if a.Tag == tag {
			return true
		}
	}
	return false
}

// Execute ensures the browser profile is ready, then runs the given
// action list in order. A failed navigate short-circuits the rest of
// the list; any other failure is recorded but does not abort.
func (e *Executor) Execute(ctx context.Context, actions []types.BrowserAction) []types.ActionResult {
	e.ensureProfile(ctx)

	results := make([]types.ActionResult, 0, len(actions))
	for _, action := range actions {
		actionCtx, cancel := context.WithTimeout(ctx, e.cfg.ActionTimeout)
		result := e.plane.Run(actionCtx, action)
		cancel()

		results = append(results, result)
		if action.Tag == types.ActionNavigate && !result.Success {
			break
		}
	}
	return results
}

// ensureProfile queries the browser profile's status and starts it if
// necessary. Transient start failures are tolerated here; a subsequent
// action error will surface the underlying problem.
func (e *Executor) ensureProfile(ctx context.Context) {
	running, err := e.plane.Status(ctx, e.cfg.Profile)
	if err == nil && running {
		return
	}
	_ = e.plane.Start(ctx, e.cfg.Profile, e.cfg.Headless)
}

// ExecuteRequest resolves the action list and runs it, combining both
// steps for the common orchestrator call site.
func (e *Executor) ExecuteRequest(ctx context.Context, req types.Request, auth types.Authorization) []types.ActionResult {
	actions := Resolve(req, auth, e.cfg.CaptureScreenshots)
	return e.Execute(ctx, actions)
}
