// Package gateway exposes the conductor's RPC facade: an alternative
// resolution path, alongside operator messaging, for an external UI to
// submit and resolve authorization requests against the same shared
// pending store the orchestrator uses.
package gateway

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/openclaw/conductor/internal/conductorerr"
	"github.com/openclaw/conductor/internal/pending"
	"github.com/openclaw/conductor/pkg/types"
)

// HistoryProvider is the narrow slice of the orchestrator the gateway
// needs for conductor.status and conductor.history.
type HistoryProvider interface {
	History(limit int) []types.HistoryEntry
}

// InboundHandler is the narrow slice of the forwarder the gateway needs
// to let an inbound messaging webhook (Slack, SMS, email relay) resolve
// a pending request through the same approve/deny text matching the
// operator-messaging path uses.
type InboundHandler interface {
	HandleInboundMessage(channel, from, text string)
}

const (
	defaultHistoryLimit = 50
	defaultRequestTimeout = 120 * time.Second
)

// Gateway serves the four RPC methods and a websocket event feed
// broadcasting conductor.requested/conductor.resolved.
type Gateway struct {
	store          *pending.Store
	history        HistoryProvider
	inbound        InboundHandler
	defaultTimeout time.Duration
	hub            *hub
	logger         *slog.Logger
	unsubscribe    func()
}

// New constructs a Gateway over the shared pending store and subscribes
// to every resolution so it can broadcast conductor.resolved regardless
// of which path (messaging or RPC) produced the decision. inbound may be
// nil, in which case the /rpc/inbound route responds 404.
func New(store *pending.Store, history HistoryProvider, inbound InboundHandler, defaultTimeout time.Duration, logger *slog.Logger) *Gateway {
	if defaultTimeout <= 0 {
		defaultTimeout = defaultRequestTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	g := &Gateway{
		store:          store,
		history:        history,
		inbound:        inbound,
		defaultTimeout: defaultTimeout,
		hub:            newHub(),
		logger:         logger,
	}
	g.unsubscribe = store.Subscribe(g.onResolved)
	return g
}

func (g *Gateway) onResolved(req types.Request, auth types.Authorization) {
	g.hub.broadcast(resolvedEvent{
		Type:         "conductor.resolved",
		ID:           req.ID,
		Decision:     auth.Decision,
		Instructions: auth.Instructions,
		ResolvedBy:   auth.ResolvedBy,
		TS:           auth.ResolvedAt.UnixMilli(),
	})
}

// Stop unsubscribes from the shared pending store. Callers should not
// assume the underlying store's timers are stopped; Stop here only
// severs this gateway's broadcast subscription.
func (g *Gateway) Stop() {
	if g.unsubscribe != nil {
		g.unsubscribe()
	}
}

// Router builds the chi router for the RPC surface and event feed.
func (g *Gateway) Router() http.Handler {
	r := chi.NewRouter()
	r.Post("/rpc/request", g.handleRequest)
	r.Post("/rpc/resolve", g.handleResolve)
	r.Get("/rpc/status", g.handleStatus)
	r.Get("/rpc/history", g.handleHistory)
	r.Post("/rpc/inbound", g.handleInbound)
	r.Get("/events", g.handleEvents)
	return r
}

type inboundBody struct {
	Channel string `json:"channel"`
	From    string `json:"from"`
	Text    string `json:"text"`
}

// handleInbound lets an inbound messaging relay (a Slack/SMS/email
// webhook receiver running in front of this process) forward a reply
// for decision matching against the pending store.
func (g *Gateway) handleInbound(w http.ResponseWriter, r *http.Request) {
	if g.inbound == nil {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "inbound messaging not configured"})
		return
	}
	var body inboundBody
	if !decodeJSON(w, r, &body, "invalid json") {
		return
	}
	g.inbound.HandleInboundMessage(body.Channel, body.From, body.Text)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

type requestBody struct {
	Kind       string `json:"kind,omitempty"`
	Summary    string `json:"summary,omitempty"`
	URL        string `json:"url,omitempty"`
	Service    string `json:"service,omitempty"`
	DataNeeded string `json:"dataNeeded,omitempty"`
	TimeoutMs  int64  `json:"timeoutMs,omitempty"`
}

type requestedEvent struct {
	Type        string `json:"type"`
	ID          string `json:"id"`
	Kind        string `json:"kind"`
	Summary     string `json:"summary"`
	URL         string `json:"url,omitempty"`
	Service     string `json:"service,omitempty"`
	DataNeeded  string `json:"dataNeeded,omitempty"`
	CreatedAtMs int64  `json:"createdAtMs"`
	ExpiresAtMs int64  `json:"expiresAtMs"`
}

type resolvedEvent struct {
	Type         string         `json:"type"`
	ID           string         `json:"id"`
	Decision     types.Decision `json:"decision"`
	Instructions string         `json:"instructions,omitempty"`
	ResolvedBy   string         `json:"resolvedBy,omitempty"`
	TS           int64          `json:"ts"`
}

// handleRequest creates a request, broadcasts conductor.requested,
// and blocks until conductor.resolve (from any caller) or timeout
// settles it, then returns the final decision.
func (g *Gateway) handleRequest(w http.ResponseWriter, r *http.Request) {
	var body requestBody
	if !decodeJSON(w, r, &body, "invalid json") {
		return
	}
	if strings.TrimSpace(body.Summary) == "" && strings.TrimSpace(body.URL) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "summary or url is required"})
		return
	}

	kind := types.Kind(body.Kind)
	if kind == "" {
		if body.URL != "" {
			kind = types.KindURLVisit
		} else {
			kind = types.KindUnknown
		}
	}

	timeout := g.defaultTimeout
	if body.TimeoutMs > 0 {
		timeout = time.Duration(body.TimeoutMs) * time.Millisecond
	}

	now := time.Now()
	req := types.Request{
		ID:         uuid.NewString(),
		Kind:       kind,
		Summary:    body.Summary,
		URL:        body.URL,
		Service:    body.Service,
		DataNeeded: body.DataNeeded,
		CreatedAt:  now,
		ExpiresAt:  now.Add(timeout),
	}

	entry := g.store.Insert(req, timeout, func(id string) {
		g.store.Resolve(id, types.Authorization{
			RequestID:  id,
			Decision:   types.DecisionDeny,
			ResolvedBy: types.ResolvedByTimeout,
			ResolvedAt: time.Now(),
		})
	})

	g.hub.broadcast(requestedEvent{
		Type:        "conductor.requested",
		ID:          req.ID,
		Kind:        string(req.Kind),
		Summary:     req.Summary,
		URL:         req.URL,
		Service:     req.Service,
		DataNeeded:  req.DataNeeded,
		CreatedAtMs: req.CreatedAt.UnixMilli(),
		ExpiresAtMs: req.ExpiresAt.UnixMilli(),
	})

	select {
	case auth := <-entry.Ch:
		writeJSON(w, http.StatusOK, map[string]any{
			"requestId":    req.ID,
			"decision":     auth.Decision,
			"instructions": auth.Instructions,
			"resolvedBy":   auth.ResolvedBy,
		})
	case <-r.Context().Done():
	}
}

type resolveBody struct {
	ID           string `json:"id"`
	Decision     string `json:"decision"`
	Instructions string `json:"instructions,omitempty"`
}

// handleResolve validates the decision, resolves through the shared
// store, and reports UnknownRequestId if nothing was pending for id.
func (g *Gateway) handleResolve(w http.ResponseWriter, r *http.Request) {
	var body resolveBody
	if !decodeJSON(w, r, &body, "invalid json") {
		return
	}
	if strings.TrimSpace(body.ID) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "id is required"})
		return
	}

	decision := types.Decision(body.Decision)
	switch decision {
	case types.DecisionApprove, types.DecisionDeny, types.DecisionApproveWithInstructions:
	default:
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "decision must be one of approve, deny, approve-with-instructions"})
		return
	}

	resolvedBy := types.ResolvedByRPC
	if clientID := r.Header.Get("X-Client-Id"); clientID != "" {
		resolvedBy = types.ResolvedByRPC + ":" + clientID
	}

	ok := g.store.Resolve(body.ID, types.Authorization{
		RequestID:    body.ID,
		Decision:     decision,
		Instructions: body.Instructions,
		ResolvedBy:   resolvedBy,
		ResolvedAt:   time.Now(),
	})
	if !ok {
		werr := conductorerr.New(conductorerr.UnknownRequestID, nil)
		writeJSON(w, http.StatusNotFound, map[string]any{"error": werr.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (g *Gateway) handleStatus(w http.ResponseWriter, r *http.Request) {
	ids := g.store.IDs()
	pendingReqs := make([]types.Request, 0, len(ids))
	for _, id := range ids {
		if req, ok := g.store.Get(id); ok {
			pendingReqs = append(pendingReqs, req)
		}
	}
	historyCount := 0
	if g.history != nil {
		historyCount = len(g.history.History(0))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"pending":      pendingReqs,
		"pendingCount": len(pendingReqs),
		"historyCount": historyCount,
	})
}

func (g *Gateway) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	if g.history == nil {
		writeJSON(w, http.StatusOK, []types.HistoryEntry{})
		return
	}
	writeJSON(w, http.StatusOK, g.history.History(limit))
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

// handleEvents upgrades to a websocket and streams conductor.requested
// and conductor.resolved events until the client disconnects.
func (g *Gateway) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ch := g.hub.add(conn)
	defer g.hub.remove(conn)

	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-readDone:
			return
		case b, ok := <-ch:
			if !ok {
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
				return
			}
		}
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any, invalidMsg string) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": invalidMsg})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
