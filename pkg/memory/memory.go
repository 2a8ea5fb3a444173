// Package memory implements the bounded, TTL-scoped working memory shared by
// an agent's reasoning loop. Entries are typed by kind, evicted by either
// age or store size, and retrieved either directly by id or by a cheap
// substring-match relevance score used to build prompt context.
//
// This is deliberately not a persistence layer: nothing here survives
// process restart, matching the "no long-term memory" non-goal.
package memory

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Kind enumerates the fixed set of memory entry categories.
type Kind string

const (
	KindConversation  Kind = "conversation"
	KindReasoning     Kind = "reasoning"
	KindTask          Kind = "task"
	KindToolUsage     Kind = "tool_usage"
	KindCollaboration Kind = "collaboration"
	KindSystem        Kind = "system"
)

var validKinds = map[Kind]bool{
	KindConversation:  true,
	KindReasoning:     true,
	KindTask:          true,
	KindToolUsage:     true,
	KindCollaboration: true,
	KindSystem:        true,
}

// ErrUnknownKind is returned by Add when kind is outside the fixed set.
var ErrUnknownKind = fmt.Errorf("memory: unknown kind")

// ErrNotFound is returned by Get/Delete when the id does not exist.
var ErrNotFound = fmt.Errorf("memory: entry not found")

// Entry is one record in the store. Payload is immutable once written;
// only AccessCount/LastAccessed mutate, on read.
type Entry struct {
	ID           string
	Kind         Kind
	Payload      any
	CreatedAt    time.Time
	AccessCount  int
	LastAccessed time.Time
}

// Stats summarizes store occupancy, returned by Stats().
type Stats struct {
	Size      int
	ByKind    map[Kind]int
	OldestAge time.Duration
}

const (
	defaultSweepInterval = 10 * time.Minute
	defaultRelevantLimit = 5
)

// Store is a thread-safe, bounded TTL memory store.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*Entry
	order   []string // insertion order, for deterministic iteration

	ttl     time.Duration
	maxSize int

	stopSweep chan struct{}
	sweepOnce sync.Once
}

// New creates a Store with the given TTL and max entry count. A zero ttl
// means entries never expire by age; a zero maxSize means no size cap.
func New(ttl time.Duration, maxSize int) *Store {
	s := &Store{
		entries:   make(map[string]*Entry),
		ttl:       ttl,
		maxSize:   maxSize,
		stopSweep: make(chan struct{}),
	}
	go s.sweepLoop(defaultSweepInterval)
	return s
}

// Close stops the background TTL sweep goroutine.
func (s *Store) Close() {
	s.sweepOnce.Do(func() { close(s.stopSweep) })
}

func (s *Store) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.evictExpired()
		case <-s.stopSweep:
			return
		}
	}
}

// Add stores payload under kind and returns the new entry id.
func (s *Store) Add(kind Kind, payload any) (string, error) {
	if !validKinds[kind] {
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}

	now := time.Now()
	id := uuid.NewString()
	entry := &Entry{
		ID:           id,
		Kind:         kind,
		Payload:      payload,
		CreatedAt:    now,
		AccessCount:  0,
		LastAccessed: now,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[id] = entry
	s.order = append(s.order, id)

	s.evictExpiredLocked()
	if s.maxSize > 0 && len(s.entries) > s.maxSize {
		s.evictLRULocked()
	}

	return id, nil
}

// Get returns the entry by id, bumping its access bookkeeping.
func (s *Store) Get(id string) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return Entry{}, ErrNotFound
	}
	if s.expiredLocked(e) {
		s.removeLocked(id)
		return Entry{}, ErrNotFound
	}
	e.AccessCount++
	e.LastAccessed = time.Now()
	return *e, nil
}

// GetByKind returns all non-expired entries of the given kind, oldest first.
func (s *Store) GetByKind(kind Kind) []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.evictExpiredLocked()

	var out []Entry
	for _, id := range s.order {
		e, ok := s.entries[id]
		if ok && e.Kind == kind {
			out = append(out, *e)
		}
	}
	return out
}

// Delete removes an entry by id.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[id]; !ok {
		return ErrNotFound
	}
	s.removeLocked(id)
	return nil
}

// Clear removes all entries, or only those of the given kind if kind != "".
func (s *Store) Clear(kind Kind) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if kind == "" {
		s.entries = make(map[string]*Entry)
		s.order = nil
		return
	}

	remaining := s.order[:0]
	for _, id := range s.order {
		if e, ok := s.entries[id]; ok && e.Kind == kind {
			delete(s.entries, id)
			continue
		}
		remaining = append(remaining, id)
	}
	s.order = remaining
}

// Size returns the current entry count.
func (s *Store) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Stats reports store occupancy by kind and the age of the oldest entry.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Stats{Size: len(s.entries), ByKind: make(map[Kind]int)}
	now := time.Now()
	for _, e := range s.entries {
		st.ByKind[e.Kind]++
		if age := now.Sub(e.CreatedAt); age > st.OldestAge {
			st.OldestAge = age
		}
	}
	return st
}

// SearchOptions configures Search.
type SearchOptions struct {
	Kind     Kind // empty means any kind
	Limit    int
	MinScore float64
}

// scored pairs an entry with its relevance score, for sorting.
type scored struct {
	entry Entry
	score float64
}

// Relevant returns up to limit entries (default 5) ranked by relevance to
// query, restricted to score > 0. It is a thin wrapper over Search.
func (s *Store) Relevant(query string, limit int) []Entry {
	return s.Search(query, SearchOptions{Limit: limit})
}

// Search scores every non-expired entry against query and returns the
// top-ranked matches, most relevant first, ties broken by recency.
func (s *Store) Search(query string, opts SearchOptions) []Entry {
	limit := opts.Limit
	if limit <= 0 {
		limit = defaultRelevantLimit
	}

	tokens := tokenize(query)
	if len(tokens) == 0 {
		return nil
	}

	s.mu.Lock()
	s.evictExpiredLocked()
	decay := s.decayFactorLocked()

	candidates := make([]scored, 0, len(s.entries))
	for _, id := range s.order {
		e, ok := s.entries[id]
		if !ok {
			continue
		}
		if opts.Kind != "" && e.Kind != opts.Kind {
			continue
		}
		view := strings.ToLower(textView(e.Payload))
		matchCount := 0
		for _, tok := range tokens {
			if strings.Contains(view, tok) {
				matchCount++
			}
		}
		if matchCount == 0 {
			continue
		}
		score := float64(matchCount) * decay
		if score <= opts.MinScore {
			continue
		}
		candidates = append(candidates, scored{entry: *e, score: score})
	}
	s.mu.Unlock()

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].entry.LastAccessed.After(candidates[j].entry.LastAccessed)
	})

	if len(candidates) > limit {
		candidates = candidates[:limit]
	}

	out := make([]Entry, len(candidates))
	for i, c := range candidates {
		out[i] = c.entry
	}
	return out
}

// decayFactorLocked computes max(0.1, 1 - (avg_age/24h)*0.5) over the whole
// store. Caller must hold s.mu.
func (s *Store) decayFactorLocked() float64 {
	if len(s.entries) == 0 {
		return 1.0
	}
	now := time.Now()
	var total time.Duration
	for _, e := range s.entries {
		total += now.Sub(e.CreatedAt)
	}
	avgAge := total / time.Duration(len(s.entries))
	factor := 1.0 - (float64(avgAge)/float64(24*time.Hour))*0.5
	if factor < 0.1 {
		factor = 0.1
	}
	return factor
}

func tokenize(query string) []string {
	fields := strings.Fields(strings.ToLower(query))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if len(f) >= 2 {
			out = append(out, f)
		}
	}
	return out
}

// textView projects a payload to the text used for relevance matching,
// preferring well-known fields over a full JSON dump.
func textView(payload any) string {
	preferred := []string{"input", "text", "content", "message"}

	if m, ok := payload.(map[string]any); ok {
		for _, key := range preferred {
			if v, ok := m[key]; ok {
				if s, ok := v.(string); ok && s != "" {
					return s
				}
			}
		}
	} else if payload != nil {
		rv := reflect.ValueOf(payload)
		for rv.Kind() == reflect.Ptr {
			rv = rv.Elem()
		}
		if rv.Kind() == reflect.Struct {
			for _, key := range preferred {
				f := rv.FieldByNameFunc(func(name string) bool {
					return strings.EqualFold(name, key)
				})
				if f.IsValid() && f.Kind() == reflect.String && f.String() != "" {
					return f.String()
				}
			}
		}
	}

	b, err := json.Marshal(payload)
	if err != nil {
		slog.Warn("memory: failed to marshal payload for relevance view", "error", err)
		return fmt.Sprintf("%v", payload)
	}
	return string(b)
}

func (s *Store) expiredLocked(e *Entry) bool {
	if s.ttl <= 0 {
		return false
	}
	return time.Since(e.CreatedAt) > s.ttl
}

func (s *Store) evictExpired() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evictExpiredLocked()
}

func (s *Store) evictExpiredLocked() {
	if s.ttl <= 0 {
		return
	}
	remaining := s.order[:0]
	for _, id := range s.order {
		e, ok := s.entries[id]
		if !ok {
			continue
		}
		if s.expiredLocked(e) {
			delete(s.entries, id)
			continue
		}
		remaining = append(remaining, id)
	}
	s.order = remaining
}

// evictLRULocked drops the single entry with the oldest LastAccessed.
func (s *Store) evictLRULocked() {
	var oldestID string
	var oldestAt time.Time
	for id, e := range s.entries {
		if oldestID == "" || e.LastAccessed.Before(oldestAt) {
			oldestID = id
			oldestAt = e.LastAccessed
		}
	}
	if oldestID != "" {
		s.removeLocked(oldestID)
	}
}

func (s *Store) removeLocked(id string) {
	delete(s.entries, id)
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}
