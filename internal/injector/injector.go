// Package injector formats analysis results and authorization
// outcomes into the exact byte envelope written to the worker's stdin.
package injector

import (
	"fmt"
	"strings"
	"time"

	"github.com/openclaw/conductor/internal/conductorerr"
	"github.com/openclaw/conductor/pkg/types"
)

// Stdin is the destination for injected bytes; satisfied by
// interceptor.Interceptor.
type Stdin interface {
	Inject(b []byte) error
}

// Injector writes formatted payloads to the worker's stdin.
type Injector struct {
	stdin Stdin
	now   func() time.Time
}

func New(stdin Stdin) *Injector {
	return &Injector{stdin: stdin, now: time.Now}
}

// write performs the exact three-write envelope: an empty line, the
// payload line(s), and a trailing empty line — each write newline
// terminated, so the full envelope for payload P reads "\n" + P + "\n\n".
func (j *Injector) write(requestID, payload string, success bool, results []types.ActionResult) (types.Injection, error) {
	var err error
	for _, line := range []string{"", payload, ""} {
		if werr := j.stdin.Inject([]byte(line + "\n")); werr != nil {
			err = conductorerr.New(conductorerr.StdinUnwritable, werr)
			break
		}
	}

	inj := types.Injection{
		RequestID:     requestID,
		Success:       success && err == nil,
		Payload:       payload,
		ActionResults: results,
		InjectedAt:    j.now(),
	}
	return inj, err
}

// InjectResults formats a successful execution's action results and
// writes them to the worker's stdin.
func (j *Injector) InjectResults(req types.Request, results []types.ActionResult) (types.Injection, error) {
	payload := formatResults(req, results)
	anySucceeded := false
	for _, r := range results {
		if r.Success {
			anySucceeded = true
			break
		}
	}
	return j.write(req.ID, payload, anySucceeded, results)
}

// InjectDenial writes the exact single-sentence denial envelope.
func (j *Injector) InjectDenial(req types.Request, reason string) (types.Injection, error) {
	payload := fmt.Sprintf("[Aether] Request denied: %s — %s. Proceeding without external access.", req.Summary, reason)
	return j.write(req.ID, payload, false, nil)
}

// InjectTimeout writes the exact single-sentence timeout envelope.
func (j *Injector) InjectTimeout(req types.Request) (types.Injection, error) {
	payload := fmt.Sprintf("[Aether] Authorization timed out for: %s. Proceeding without external access.", req.Summary)
	return j.write(req.ID, payload, false, nil)
}

// formatResults builds the multi-line, human-readable result payload.
func formatResults(req types.Request, results []types.ActionResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[Aether] External access result for: %s", req.Summary)

	var failures []types.ActionResult
	anySucceeded := false
	for _, r := range results {
		if r.Success {
			anySucceeded = true
		} else {
			failures = append(failures, r)
		}
	}

	if !anySucceeded {
		b.WriteString("\nAll actions failed:")
		for _, f := range failures {
			fmt.Fprintf(&b, "\n  - %s: %s", f.Action.Tag, f.Error)
		}
		return b.String()
	}

	for _, r := range results {
		if !r.Success {
			continue
		}
		b.WriteString("\n")
		b.WriteString(formatResultLine(r))
	}

	if len(failures) > 0 {
		b.WriteString("\nSome actions failed:")
		for _, f := range failures {
			fmt.Fprintf(&b, "\n  - %s: %s", f.Action.Tag, f.Error)
		}
	}

	return b.String()
}

func formatResultLine(r types.ActionResult) string {
	switch r.Action.Tag {
	case types.ActionNavigate:
		return fmt.Sprintf("Navigated to %s", r.Action.URL)
	case types.ActionExtractText:
		return fmt.Sprintf("Extracted text:\n%s", r.Data)
	case types.ActionScreenshot:
		return fmt.Sprintf("Screenshot saved: %s", r.Screenshot)
	case types.ActionClick:
		return fmt.Sprintf("Clicked %s", r.Action.Sel)
	case types.ActionType:
		return fmt.Sprintf("Typed into %s", r.Action.Sel)
	case types.ActionWait:
		return fmt.Sprintf("Waited %dms", r.Action.MS)
	case types.ActionScrape:
		return fmt.Sprintf("Scraped %s:\n%s", r.Action.URL, r.Data)
	default:
		return fmt.Sprintf("%s: %s", r.Action.Tag, r.Data)
	}
}
