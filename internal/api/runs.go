package api

import (
	"sort"
	"sync"

	"github.com/JakeFAU/lawdata-collector/internal/collector"
)

// RunBoard keeps the latest ledger state of every run started by this process.
type RunBoard struct {
	mu   sync.RWMutex
	runs map[string]collector.RunRecord
}

// NewRunBoard returns an empty board.
func NewRunBoard() *RunBoard {
	return &RunBoard{runs: make(map[string]collector.RunRecord)}
}

// Record stores or replaces the state of run.
func (b *RunBoard) Record(run collector.RunRecord) {
	if run.RunID == "" {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.runs[run.RunID] = run
}

// Get returns the run with the given id.
func (b *RunBoard) Get(runID string) (collector.RunRecord, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	run, ok := b.runs[runID]
	return run, ok
}

// List returns runs newest first.
func (b *RunBoard) List() []collector.RunRecord {
	b.mu.RLock()
	out := make([]collector.RunRecord, 0, len(b.runs))
	for _, run := range b.runs {
		out = append(out, run)
	}
	b.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	return out
}
