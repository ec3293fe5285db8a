package forwarder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"text/template"
	"time"
)

// WebhookSender posts each authorization prompt as a webhook-shaped
// request to the URL in Target.To; Target.Channel is not inspected, so
// every target is treated as a webhook endpoint. The message body is
// wrapped in a small JSON envelope unless a per-target template is
// supplied.
type WebhookSender struct {
	client    *http.Client
	templates map[string]*template.Template
	headers   map[string]map[string]string
}

// NewWebhookSender builds a sender; templates and headers are keyed by
// Target.To (the webhook URL).
func NewWebhookSender(templates map[string]string, headers map[string]map[string]string) (*WebhookSender, error) {
	s := &WebhookSender{
		client:    &http.Client{Timeout: 10 * time.Second},
		templates: make(map[string]*template.Template),
		headers:   headers,
	}
	for url, tmplText := range templates {
		tmpl, err := template.New(url).Parse(tmplText)
		if err != nil {
			return nil, fmt.Errorf("webhook template for %q: %w", url, err)
		}
		s.templates[url] = tmpl
	}
	return s, nil
}

type webhookEnvelope struct {
	Text string `json:"text"`
}

func (s *WebhookSender) Send(ctx context.Context, target Target, message string) error {
	var body []byte

	if tmpl, ok := s.templates[target.To]; ok {
		var buf bytes.Buffer
		if err := tmpl.Execute(&buf, map[string]any{"Text": message, "Target": target}); err != nil {
			return fmt.Errorf("render webhook template: %w", err)
		}
		body = buf.Bytes()
	} else {
		b, err := json.Marshal(webhookEnvelope{Text: message})
		if err != nil {
			return fmt.Errorf("marshal webhook body: %w", err)
		}
		body = b
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.To, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range s.headers[target.To] {
		req.Header.Set(k, v)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("send webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
