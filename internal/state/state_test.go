package state

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"llm-tradebot/internal/types"
)

func TestRunStateRecordsCycles(t *testing.T) {
	s := NewRunState()
	assert.Zero(t, s.Cycles())

	s.RecordCycle(types.CycleResult{Status: types.StatusWait, Action: "wait", Reason: "no edge"})
	s.RecordCycle(types.CycleResult{Status: types.StatusSuccess, Action: "open_long", Reason: "breakout"})

	assert.Equal(t, 2, s.Cycles())
	recent := s.Recent()
	require.Len(t, recent, 2)
	assert.Equal(t, 1, recent[0].Number)
	assert.Equal(t, types.StatusSuccess, recent[1].Status)
}

func TestRunStateRecentWindowBounded(t *testing.T) {
	s := NewRunState()
	for i := 0; i < maxRecentCycles+20; i++ {
		s.RecordCycle(types.CycleResult{Status: types.StatusWait, Reason: fmt.Sprintf("cycle %d", i)})
	}
	recent := s.Recent()
	assert.Len(t, recent, maxRecentCycles)
	// Total count keeps climbing even as the window slides.
	assert.Equal(t, maxRecentCycles+20, s.Cycles())
	assert.Equal(t, maxRecentCycles+20, recent[len(recent)-1].Number)
}

func TestRunStateDecisionCopies(t *testing.T) {
	s := NewRunState()
	_, ok := s.LastDecision()
	assert.False(t, ok)

	conf := 70.0
	d := types.Decision{Symbol: "BTCUSDT", Action: "open_long", Confidence: &conf}
	s.RecordDecision(d, types.AuditResult{Passed: true, RiskLevel: types.RiskSafe})

	got, ok := s.LastDecision()
	require.True(t, ok)
	assert.Equal(t, "open_long", got.Action)

	audit, ok := s.LastAudit()
	require.True(t, ok)
	assert.True(t, audit.Passed)
}

func TestRunStateConcurrentAccess(t *testing.T) {
	s := NewRunState()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				s.RecordCycle(types.CycleResult{Status: types.StatusWait})
				s.Recent()
				s.Cycles()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 800, s.Cycles())
}
