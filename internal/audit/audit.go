package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// Secondary mirrors audit events to a best-effort secondary sink (the
// OTEL exporter in otelsink, or any other destination satisfying this
// interface). A failing Secondary never blocks or fails the primary
// write.
type Secondary interface {
	Append(ctx context.Context, event string, payload map[string]any) error
}

// Logger is an append-only JSONL audit log: one line per event, each
// containing the event name, its payload, and a timestamp. If an
// IntegrityChain is configured, every line is additionally HMAC-chained
// to the previous one so the file can be verified for tampering.
type Logger struct {
	mu        sync.Mutex
	file      *os.File
	chain     *IntegrityChain
	secondary Secondary
}

// Open opens (creating if necessary, appending if it exists) the JSONL
// file at path. chain may be nil to skip integrity chaining; secondary
// may be nil to skip mirroring.
func Open(path string, chain *IntegrityChain, secondary Secondary) (*Logger, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open audit log %q: %w", path, err)
	}
	return &Logger{file: f, chain: chain, secondary: secondary}, nil
}

// Append writes one JSONL record, a flat object holding "event", "ts"
// and the payload's fields alongside them, and, if configured, mirrors
// it to the secondary sink. The secondary's error is discarded, not
// returned here, so a collector outage never fails the audit write.
func (l *Logger) Append(ctx context.Context, event string, payload map[string]any) error {
	rec := make(map[string]any, len(payload)+2)
	for k, v := range payload {
		rec[k] = v
	}
	rec["event"] = event
	rec["ts"] = time.Now().UTC()
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal audit record: %w", err)
	}

	if l.chain != nil {
		wrapped, err := l.chain.Wrap(line)
		if err != nil {
			return fmt.Errorf("wrap audit record: %w", err)
		}
		line = wrapped
	}

	l.mu.Lock()
	_, writeErr := l.file.Write(append(line, '\n'))
	l.mu.Unlock()
	if writeErr != nil {
		return fmt.Errorf("write audit record: %w", writeErr)
	}

	if l.secondary != nil {
		_ = l.secondary.Append(ctx, event, payload)
	}
	return nil
}

// Close flushes and closes the underlying file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}
