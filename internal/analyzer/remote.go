package analyzer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/openclaw/conductor/internal/conductorerr"
	"github.com/openclaw/conductor/pkg/types"
)

const minRemoteInputRunes = 20

const remoteSystemPrompt = `You are a classifier for a coding agent's terminal output. ` +
	`Decide whether the given text is a request for external network access. ` +
	`Respond with strict JSON matching: {"detected":bool,"confidence":number,` +
	`"kind":string,"summary":string,"url":string,"service":string,` +
	`"dataNeeded":string,"suggestedActions":[{"tag":string,"url":string,"sel":string}]}.`

// RemoteConfig configures a hosted-model classification backend.
type RemoteConfig struct {
	Provider string // "gemini" | "openai"
	BaseURL  string
	APIKey   string
	Model    string
	Timeout  time.Duration
}

type remoteResponse struct {
	Detected         bool   `json:"detected"`
	Confidence       float64 `json:"confidence"`
	Kind             string `json:"kind"`
	Summary          string `json:"summary"`
	URL              string `json:"url"`
	Service          string `json:"service"`
	DataNeeded       string `json:"dataNeeded"`
	SuggestedActions []struct {
		Tag string `json:"tag"`
		URL string `json:"url"`
		Sel string `json:"sel"`
	} `json:"suggestedActions"`
}

type remoteRequestBody struct {
	Model  string `json:"model"`
	System string `json:"system"`
	Input  string `json:"input"`
}

// Remote is a hosted-model analyzer backend that falls back to a
// rule-based analyzer on any transport, status, or parse failure. The
// fallback is held as a concrete *RuleBased rather than an Analyzer, so
// the chain cannot recurse.
type Remote struct {
	cfg      RemoteConfig
	client   *http.Client
	fallback *RuleBased
	logger   *slog.Logger
}

// NewRemote constructs a Remote backend; fallback must be non-nil.
func NewRemote(cfg RemoteConfig, fallback *RuleBased, logger *slog.Logger) *Remote {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Remote{
		cfg:      cfg,
		client:   &http.Client{Timeout: cfg.Timeout},
		fallback: fallback,
		logger:   logger,
	}
}

func (r *Remote) Analyze(text string) (Result, error) {
	if utf8.RuneCountInString(text) < minRemoteInputRunes {
		return Result{Detected: false, Confidence: 0}, nil
	}

	clean := stripControlSequences(text)
	result, err := r.classifyRemote(clean)
	if err != nil {
		werr := conductorerr.New(conductorerr.AnalyzerTransient, err)
		r.logger.Warn("remote analyzer failed, falling back to rule-based", "error", werr)
		return r.fallback.Analyze(text)
	}
	return result, nil
}

func (r *Remote) classifyRemote(clean string) (Result, error) {
	body, err := json.Marshal(remoteRequestBody{
		Model:  r.cfg.Model,
		System: remoteSystemPrompt,
		Input:  clean,
	})
	if err != nil {
		return Result{}, fmt.Errorf("marshal remote request: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.cfg.BaseURL, bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("build remote request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if r.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.cfg.APIKey)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("remote analyzer request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Result{}, fmt.Errorf("remote analyzer returned status %d", resp.StatusCode)
	}

	var parsed remoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return Result{}, fmt.Errorf("decode remote response: %w", err)
	}

	if !parsed.Detected {
		return Result{Detected: false, Confidence: 0}, nil
	}

	var actions []types.BrowserAction
	for _, a := range parsed.SuggestedActions {
		switch types.ActionTag(a.Tag) {
		case types.ActionNavigate:
			actions = append(actions, types.Navigate(a.URL))
		case types.ActionScreenshot:
			actions = append(actions, types.Screenshot(a.Sel))
		case types.ActionExtractText:
			actions = append(actions, types.ExtractText(a.Sel))
		}
	}

	req2 := &types.Request{
		ID:               types.NewRequestID(),
		Kind:             types.Kind(parsed.Kind),
		Summary:          parsed.Summary,
		RawOutput:        clean,
		URL:              parsed.URL,
		Service:          parsed.Service,
		DataNeeded:       parsed.DataNeeded,
		SuggestedActions: actions,
	}
	return Result{Detected: true, Confidence: parsed.Confidence, Request: req2}, nil
}
