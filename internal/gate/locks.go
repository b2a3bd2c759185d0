package gate

import (
	"sort"
	"strings"
	"sync"
)

// tableLocks serializes the snapshot+execute window of runs that touch the
// same tables. Locks are acquired in sorted order so two runs over
// overlapping table sets cannot deadlock.
type tableLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newTableLocks() *tableLocks {
	return &tableLocks{locks: make(map[string]*sync.Mutex)}
}

// acquire locks every named table and returns the release function.
// Acquiring an empty set is a no-op with a no-op release.
func (l *tableLocks) acquire(tables []string) func() {
	names := normalizeTableSet(tables)
	held := make([]*sync.Mutex, 0, len(names))
	for _, name := range names {
		mu := l.lookup(name)
		mu.Lock()
		held = append(held, mu)
	}
	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].Unlock()
		}
	}
}

func (l *tableLocks) lookup(name string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	mu, ok := l.locks[name]
	if !ok {
		mu = &sync.Mutex{}
		l.locks[name] = mu
	}
	return mu
}

// normalizeTableSet lowercases, dedupes, and sorts so lock order is total.
func normalizeTableSet(tables []string) []string {
	seen := make(map[string]struct{}, len(tables))
	names := make([]string, 0, len(tables))
	for _, t := range tables {
		name := strings.ToLower(strings.TrimSpace(t))
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
