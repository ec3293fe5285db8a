// Package types holds the data model shared across the conductor's
// components: requests for external access, operator authorizations,
// browser actions and their results, injected worker input, and history.
package types

import (
	"time"

	"github.com/google/uuid"
)

// Kind is the canonical classification of a detected external-access request.
type Kind string

const (
	KindURLVisit        Kind = "url-visit"
	KindCredentialFetch Kind = "credential-fetch"
	KindAPICheck        Kind = "api-check"
	KindServiceAction   Kind = "service-action"
	KindFileDownload    Kind = "file-download"
	KindVerification    Kind = "verification"
	KindUnknown         Kind = "unknown"
)

// Request is a single detected request for external network access,
// surfaced from the worker's terminal output.
type Request struct {
	ID               string    `json:"id"`
	Kind             Kind      `json:"kind"`
	Summary          string    `json:"summary"`
	RawOutput        string    `json:"rawOutput"`
	URL              string    `json:"url,omitempty"`
	Service          string    `json:"service,omitempty"`
	DataNeeded       string    `json:"dataNeeded,omitempty"`
	SuggestedActions []BrowserAction `json:"suggestedActions,omitempty"`
	CreatedAt        time.Time `json:"createdAt"`
	ExpiresAt        time.Time `json:"expiresAt"`
	SessionKey       string    `json:"sessionKey,omitempty"`
}

// NewRequestID returns an opaque identifier, unique within this process.
func NewRequestID() string {
	return uuid.NewString()
}

// ShortID returns the first 8 characters of the request id, used in
// operator-facing messages and inbound id-matching.
func (r Request) ShortID() string {
	if len(r.ID) <= 8 {
		return r.ID
	}
	return r.ID[:8]
}

// IsExpired reports whether the request's deadline has passed as of now.
func (r Request) IsExpired() bool {
	return time.Now().After(r.ExpiresAt)
}
