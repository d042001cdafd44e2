// Package observability provides access statistics for virtual and user tables.
package observability

import (
	"sort"
	"sync"
	"time"
)

// Outcomes recorded for an operation.
const (
	OutcomeOK       = "ok"
	OutcomeNotFound = "not_found"
	OutcomeConflict = "conflict"
	OutcomeDenied   = "denied"
	OutcomeReserved = "reserved"
	OutcomeInvalid  = "invalid"
	OutcomeError    = "error"
)

// AccessStats tracks per-table operation and rejection counts.
type AccessStats struct {
	mu     sync.RWMutex
	tables map[string]*TableStats
	window time.Duration
}

// TableStats holds statistics for one table name.
type TableStats struct {
	Table      string         `json:"table"`
	Operations int64          `json:"operations"`
	LastSeen   time.Time      `json:"last_seen"`
	Ops        map[string]int `json:"ops"`      // operation → count (e.g., "Scan" → 5)
	Outcomes   map[string]int `json:"outcomes"` // outcome → count (e.g., "not_found" → 2)
}

// Rejections returns the number of operations that did not succeed.
func (s TableStats) Rejections() int64 {
	var n int64
	for outcome, count := range s.Outcomes {
		if outcome != OutcomeOK {
			n += int64(count)
		}
	}
	return n
}

// NewAccessStats creates a new access statistics tracker.
// window: time duration for pruning old entries (e.g., 1 hour)
func NewAccessStats(window time.Duration) *AccessStats {
	return &AccessStats{
		tables: make(map[string]*TableStats),
		window: window,
	}
}

// Record records one operation against a table.
// This method is O(1) and thread-safe.
func (a *AccessStats) Record(table, op, outcome string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	stats, exists := a.tables[table]
	if !exists {
		stats = &TableStats{
			Table:    table,
			Ops:      make(map[string]int),
			Outcomes: make(map[string]int),
		}
		a.tables[table] = stats
	}

	stats.Operations++
	stats.LastSeen = time.Now()
	stats.Ops[op]++
	stats.Outcomes[outcome]++
}

// Get returns a copy of the statistics of one table.
func (a *AccessStats) Get(table string) (TableStats, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	s, ok := a.tables[table]
	if !ok {
		return TableStats{}, false
	}
	return copyStats(s), true
}

// GetTop returns the top N tables by operation count.
// Returns a copy of the stats sorted by count (descending), ties by name.
func (a *AccessStats) GetTop(n int) []TableStats {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if n <= 0 || len(a.tables) == 0 {
		return []TableStats{}
	}

	stats := make([]TableStats, 0, len(a.tables))
	for _, s := range a.tables {
		stats = append(stats, copyStats(s))
	}

	sort.Slice(stats, func(i, j int) bool {
		if stats[i].Operations != stats[j].Operations {
			return stats[i].Operations > stats[j].Operations
		}
		return stats[i].Table < stats[j].Table
	})

	if n > len(stats) {
		n = len(stats)
	}
	return stats[:n]
}

// Len returns the number of tracked tables.
func (a *AccessStats) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.tables)
}

// Forget drops the statistics of one table, as when the table is deleted.
func (a *AccessStats) Forget(table string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.tables, table)
}

// Prune removes entries where time.Since(LastSeen) > window.
// This should be called periodically (e.g., every 5 minutes).
func (a *AccessStats) Prune() {
	a.mu.Lock()
	defer a.mu.Unlock()

	threshold := time.Now().Add(-a.window)
	for table, stats := range a.tables {
		if stats.LastSeen.Before(threshold) {
			delete(a.tables, table)
		}
	}
}

// copyStats deep-copies s so callers cannot modify tracked state.
func copyStats(s *TableStats) TableStats {
	cp := TableStats{
		Table:      s.Table,
		Operations: s.Operations,
		LastSeen:   s.LastSeen,
		Ops:        make(map[string]int, len(s.Ops)),
		Outcomes:   make(map[string]int, len(s.Outcomes)),
	}
	for op, count := range s.Ops {
		cp.Ops[op] = count
	}
	for outcome, count := range s.Outcomes {
		cp.Outcomes[outcome] = count
	}
	return cp
}
