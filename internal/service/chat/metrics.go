package chat

import (
	"sync"
	"time"
)

// TurnMetrics простые метрики ходов для мониторинга
type TurnMetrics struct {
	mu sync.RWMutex

	TotalTurns      int64
	TotalDeltas     int64
	TotalFailures   int64
	AverageTurnTime time.Duration

	turnTimesSum time.Duration
	turnCount    int64
}

func NewTurnMetrics() *TurnMetrics {
	return &TurnMetrics{}
}

func (m *TurnMetrics) RecordTurn(deltas int, failed bool, duration time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.TotalTurns++
	m.TotalDeltas += int64(deltas)
	if failed {
		m.TotalFailures++
	}

	m.turnTimesSum += duration
	m.turnCount++
	m.AverageTurnTime = m.turnTimesSum / time.Duration(m.turnCount)
}

func (m *TurnMetrics) GetStats() (turns, deltas, failures int64, avgTime time.Duration) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.TotalTurns, m.TotalDeltas, m.TotalFailures, m.AverageTurnTime
}
