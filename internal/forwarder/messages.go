package forwarder

import (
	"fmt"
	"strings"
	"time"

	"github.com/openclaw/conductor/pkg/types"
)

const resultPreviewMaxLen = 200

// formatAuthorizationRequest renders the bit-exact operator prompt.
func formatAuthorizationRequest(req types.Request, timeout time.Duration) string {
	var b strings.Builder
	fmt.Fprintf(&b, "AETHER CONDUCTOR — Authorization Request [%s]\n\n", req.ShortID())
	b.WriteString("Claude needs external access:\n")
	fmt.Fprintf(&b, "  Kind: %s\n", req.Kind)
	fmt.Fprintf(&b, "  Summary: %s\n", req.Summary)
	if req.URL != "" {
		fmt.Fprintf(&b, "  URL: %s\n", req.URL)
	}
	if req.Service != "" {
		fmt.Fprintf(&b, "  Service: %s\n", req.Service)
	}
	if req.DataNeeded != "" {
		fmt.Fprintf(&b, "  Data needed: %s\n", req.DataNeeded)
	}
	b.WriteString("\n")
	b.WriteString("Reply \"YES\" to approve, \"NO\" to deny.\n")
	b.WriteString("Reply \"YES <instructions>\" to approve with extra guidance.\n")
	fmt.Fprintf(&b, "Expires in %ds.", int(timeout.Seconds()))
	return b.String()
}

// formatResultNotification renders the informational result summary,
// with the payload preview truncated to 200 characters.
func formatResultNotification(req types.Request, injection types.Injection) string {
	status := "FAILED"
	if injection.Success {
		status = "SUCCESS"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "AETHER CONDUCTOR — Result [%s] %s\n", req.ShortID(), status)
	fmt.Fprintf(&b, "Request: %s\n", req.Summary)
	b.WriteString(truncatePreview(injection.Payload, resultPreviewMaxLen))
	return b.String()
}

func truncatePreview(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "…"
}
