// Package toolselect scores and ranks candidate tools against a free-form
// task description, and tracks per-tool usage statistics used to bias
// future rankings toward tools with a good track record.
package toolselect

import (
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kadirpekel/agentcore/pkg/tool"
)

const (
	defaultMaxResults  = 5
	recencyWindow      = 1 * time.Minute
	recencyPenalty     = 0.5
	failedServerPenalty = 10.0
	cleanupAge         = 24 * time.Hour
)

var stopWords = map[string]bool{
	"a": true, "an": true, "the": true, "is": true, "are": true, "was": true,
	"were": true, "be": true, "to": true, "of": true, "and": true, "or": true,
	"in": true, "on": true, "at": true, "for": true, "with": true, "what": true,
	"how": true, "do": true, "does": true, "i": true, "you": true, "it": true,
	"this": true, "that": true,
}

// drivingKeywords/stockKeywords drive the domain bonuses cited in the
// selector's scoring pipeline (a task about driving or investing gives a
// targeted bump to tools plausibly relevant to it).
var drivingKeywords = []string{"驾车", "drive", "driving"}
var stockKeywords = []string{"股票", "invest", "investing", "investment"}
var stockToolHints = []string{"stock", "invest", "finance", "market"}

// Ranked is one scored candidate returned by Select.
type Ranked struct {
	Tool       tool.Descriptor
	MatchScore float64
	Priority   float64
}

// ServerStatusFunc reports whether the MCP server backing a mirrored tool
// is currently connected. A nil func treats every server as healthy.
type ServerStatusFunc func(serverID string) bool

type usageStats struct {
	successCount int
	totalCount   int
	lastUsed     time.Time
	touchedAt    time.Time
}

// Selector ranks tool candidates and tracks per-tool usage history.
type Selector struct {
	mu            sync.Mutex
	usage         map[string]*usageStats
	maxResults    int
	serverHealthy ServerStatusFunc

	usageCounter *prometheus.CounterVec
}

// Option configures a Selector.
type Option func(*Selector)

// WithMaxResults overrides the default truncation limit of 5.
func WithMaxResults(n int) Option {
	return func(s *Selector) { s.maxResults = n }
}

// WithServerStatus supplies a callback used to penalize tools whose
// backing MCP server has failed.
func WithServerStatus(fn ServerStatusFunc) Option {
	return func(s *Selector) { s.serverHealthy = fn }
}

// NewSelector creates a Selector with the given options.
func NewSelector(opts ...Option) *Selector {
	s := &Selector{
		usage:      make(map[string]*usageStats),
		maxResults: defaultMaxResults,
		usageCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agentcore_tool_usage_total",
			Help: "Count of tool executions recorded by the selector, by tool id and outcome.",
		}, []string{"tool_id", "outcome"}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Collector exposes the selector's Prometheus counter for registration.
func (s *Selector) Collector() prometheus.Collector {
	return s.usageCounter
}

// Select scores every candidate against task and returns the ranked
// top maxResults entries, priority descending then match score descending.
func (s *Selector) Select(task string, candidates []tool.Descriptor) []Ranked {
	tokens := extractKeywords(task)

	ranked := make([]Ranked, 0, len(candidates))
	for _, c := range candidates {
		match := s.matchScore(tokens, task, c)
		priority := s.priorityBonus(c)
		ranked = append(ranked, Ranked{Tool: c, MatchScore: match, Priority: priority})
	}

	sortRanked(ranked)

	if len(ranked) > s.maxResults {
		ranked = ranked[:s.maxResults]
	}
	return ranked
}

func sortRanked(ranked []Ranked) {
	for i := 1; i < len(ranked); i++ {
		j := i
		for j > 0 && less(ranked[j], ranked[j-1]) {
			ranked[j], ranked[j-1] = ranked[j-1], ranked[j]
			j--
		}
	}
}

// less reports whether a should sort before b: priority descending, then
// match score descending.
func less(a, b Ranked) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	return a.MatchScore > b.MatchScore
}

func (s *Selector) matchScore(tokens []string, rawTask string, c tool.Descriptor) float64 {
	if len(tokens) == 0 {
		return 0
	}

	haystack := strings.ToLower(c.DisplayName + " " + c.Description + " " + strings.Join(c.Tags, " "))
	found := 0
	for _, tok := range tokens {
		if strings.Contains(haystack, tok) {
			found++
		}
	}
	score := float64(found) / float64(len(tokens))

	lowerTask := strings.ToLower(rawTask)
	lowerName := strings.ToLower(c.DisplayName + " " + c.ID)
	if containsAny(lowerTask, drivingKeywords) && strings.Contains(lowerName, "driving") {
		score += 2
	}
	if containsAny(lowerTask, stockKeywords) && containsAny(lowerName, stockToolHints) {
		score += 3
	}

	return score
}

func (s *Selector) priorityBonus(c tool.Descriptor) float64 {
	s.mu.Lock()
	stats, ok := s.usage[c.ID]
	s.mu.Unlock()

	priority := 0.0
	if ok && stats.totalCount > 0 {
		priority += float64(stats.successCount) / float64(stats.totalCount)
		if time.Since(stats.lastUsed) < recencyWindow {
			priority -= recencyPenalty
		}
	}

	if c.MCPMetadata != nil && s.serverHealthy != nil && !s.serverHealthy(c.MCPMetadata.ServerID) {
		priority -= failedServerPenalty
	}

	return priority
}

// RecordToolUsage updates the per-tool success/total counters used for the
// priority bonus. latencyMs is accepted for parity with the spec's
// signature but is not currently used in scoring.
func (s *Selector) RecordToolUsage(id string, success bool, latencyMs int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats, ok := s.usage[id]
	if !ok {
		stats = &usageStats{}
		s.usage[id] = stats
	}
	stats.totalCount++
	if success {
		stats.successCount++
	}
	stats.lastUsed = time.Now()
	stats.touchedAt = time.Now()

	outcome := "failure"
	if success {
		outcome = "success"
	}
	s.usageCounter.WithLabelValues(id, outcome).Inc()
}

// Cleanup evicts usage records not touched within the last 24 hours.
func (s *Selector) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-cleanupAge)
	for id, stats := range s.usage {
		if stats.touchedAt.Before(cutoff) {
			delete(s.usage, id)
		}
	}
}

func extractKeywords(task string) []string {
	lower := strings.ToLower(task)
	var b strings.Builder
	for _, r := range lower {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			b.WriteRune(r)
		} else {
			b.WriteRune(' ')
		}
	}

	fields := strings.Fields(b.String())
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if len(f) <= 1 || stopWords[f] {
			continue
		}
		out = append(out, f)
	}
	return out
}

func containsAny(haystack string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}
