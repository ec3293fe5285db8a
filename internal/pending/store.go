// Package pending holds the single shared table of in-flight
// authorization requests. It is the one Pending store referenced by
// spec: both the forwarder's messaging path and the gateway's RPC path
// resolve through it, so whichever wins observes the entry and the
// loser's resolve is a no-op — there is no second, divergent map.
package pending

import (
	"sync"
	"time"

	"github.com/openclaw/conductor/pkg/types"
)

// Entry is one request awaiting a decision.
type Entry struct {
	Request types.Request
	Ch      chan types.Authorization
	timer   *time.Timer
}

// Store is a mutex-guarded map keyed by request id, providing
// at-most-once resolution: Resolve atomically deletes the entry from
// the map before any side effect runs, so a racing second caller for
// the same id observes nothing.
type Store struct {
	mu        sync.Mutex
	entries   map[string]*Entry
	onResolve []func(types.Request, types.Authorization)
}

func NewStore() *Store {
	return &Store{entries: make(map[string]*Entry)}
}

// Insert registers a new pending request with a timeout timer. onTimeout
// is invoked (with the request id) if the timer fires before Resolve is
// called for this id.
func (s *Store) Insert(req types.Request, timeout time.Duration, onTimeout func(id string)) *Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := &Entry{Request: req, Ch: make(chan types.Authorization, 1)}
	entry.timer = time.AfterFunc(timeout, func() { onTimeout(req.ID) })
	s.entries[req.ID] = entry
	return entry
}

// Resolve atomically removes the entry (if present) and notifies
// subscribers — with both the original Request and the Authorization,
// since the entry is already gone from the map by the time subscribers
// run — and the entry's channel. Returns false if the id was not
// pending (already resolved, expired, or unknown).
func (s *Store) Resolve(id string, auth types.Authorization) bool {
	s.mu.Lock()
	entry, ok := s.entries[id]
	if ok {
		delete(s.entries, id)
	}
	subs := make([]func(types.Request, types.Authorization), len(s.onResolve))
	copy(subs, s.onResolve)
	s.mu.Unlock()

	if !ok {
		return false
	}
	entry.timer.Stop()
	select {
	case entry.Ch <- auth:
	default:
	}
	for _, cb := range subs {
		notify(cb, entry.Request, auth)
	}
	return true
}

// Subscribe registers a callback invoked on every successful Resolve,
// returning a cleanup function.
func (s *Store) Subscribe(cb func(types.Request, types.Authorization)) func() {
	s.mu.Lock()
	s.onResolve = append(s.onResolve, cb)
	idx := len(s.onResolve) - 1
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if idx < len(s.onResolve) {
			s.onResolve[idx] = nil
		}
	}
}

func notify(cb func(types.Request, types.Authorization), req types.Request, auth types.Authorization) {
	if cb == nil {
		return
	}
	defer func() { recover() }() //nolint:errcheck
	cb(req, auth)
}

// IDs returns the ids currently pending.
func (s *Store) IDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.entries))
	for id := range s.entries {
		ids = append(ids, id)
	}
	return ids
}

// Get returns the pending request for id, if any.
func (s *Store) Get(id string) (types.Request, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return types.Request{}, false
	}
	return e.Request, true
}

// Count returns the number of pending entries.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Clear stops every timer and empties the store, used on shutdown.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		e.timer.Stop()
	}
	s.entries = make(map[string]*Entry)
	s.onResolve = nil
}
