// Package state holds the live run's observable status. The engine writes
// into a RunState passed to it by reference; readers (status logging, a
// future operator surface) only ever see copies. There is no package-level
// instance on purpose.
package state

import (
	"sync"
	"time"

	"llm-tradebot/internal/types"
)

const maxRecentCycles = 50

// CycleRecord is one finished cycle as the operator sees it.
type CycleRecord struct {
	Number    int               `json:"number"`
	Timestamp time.Time         `json:"timestamp"`
	Status    types.CycleStatus `json:"status"`
	Action    string            `json:"action"`
	Reason    string            `json:"reason"`
}

// RunState is a concurrency-safe sink for engine progress.
type RunState struct {
	mu sync.RWMutex

	startedAt    time.Time
	cycles       int
	lastDecision *types.Decision
	lastAudit    *types.AuditResult
	recent       []CycleRecord
}

func NewRunState() *RunState {
	return &RunState{startedAt: time.Now().UTC()}
}

// RecordCycle appends one finished cycle, keeping a bounded recent window.
func (s *RunState) RecordCycle(result types.CycleResult) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cycles++
	s.recent = append(s.recent, CycleRecord{
		Number:    s.cycles,
		Timestamp: time.Now().UTC(),
		Status:    result.Status,
		Action:    result.Action,
		Reason:    result.Reason,
	})
	if len(s.recent) > maxRecentCycles {
		s.recent = s.recent[len(s.recent)-maxRecentCycles:]
	}
}

// RecordDecision stores a copy of the latest decision and audit verdict.
func (s *RunState) RecordDecision(d types.Decision, audit types.AuditResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastDecision = &d
	s.lastAudit = &audit
}

func (s *RunState) Cycles() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cycles
}

func (s *RunState) StartedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.startedAt
}

// LastDecision returns a copy of the most recent decision, if any.
func (s *RunState) LastDecision() (types.Decision, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.lastDecision == nil {
		return types.Decision{}, false
	}
	return *s.lastDecision, true
}

// LastAudit returns a copy of the most recent audit verdict, if any.
func (s *RunState) LastAudit() (types.AuditResult, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.lastAudit == nil {
		return types.AuditResult{}, false
	}
	return *s.lastAudit, true
}

// Recent returns the recent cycle window, newest last.
func (s *RunState) Recent() []CycleRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]CycleRecord, len(s.recent))
	copy(out, s.recent)
	return out
}
