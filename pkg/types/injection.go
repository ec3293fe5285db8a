package types

import "time"

// Injection is the single formatted payload written to the worker's
// stdin for a resolved Request.
type Injection struct {
	RequestID     string         `json:"requestId"`
	Success       bool           `json:"success"`
	Payload       string         `json:"payload"`
	ActionResults []ActionResult `json:"actionResults,omitempty"`
	InjectedAt    time.Time      `json:"injectedAt"`
}

// HistoryEntry is the permanent record of one request's full lifecycle.
// Authorization always carries a ResolvedBy value — auto-deny and
// auto-approve synthesize one rather than consulting an operator.
type HistoryEntry struct {
	Request       Request        `json:"request"`
	Authorization *Authorization `json:"authorization,omitempty"`
	Injection     Injection      `json:"injection"`
	CompletedAt   time.Time      `json:"completedAt"`
}
