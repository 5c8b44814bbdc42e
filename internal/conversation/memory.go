// Package conversation keeps the most recent question/answer turns.
package conversation

import (
	"sync"
	"time"
)

const DefaultCapacity = 1000

// Turn is one answered or unanswered exchange.
type Turn struct {
	Question   string    `json:"question"`
	Answer     string    `json:"answer"`
	Confidence float64   `json:"confidence"`
	Answered   bool      `json:"answered"`
	At         time.Time `json:"at"`
}

// Memory is a fixed-capacity ring of turns. When full, appending evicts the
// oldest turn.
type Memory struct {
	mu    sync.RWMutex
	turns []Turn
	head  int
	size  int
}

func NewMemory(capacity int) *Memory {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Memory{turns: make([]Turn, capacity)}
}

func (m *Memory) Capacity() int { return len(m.turns) }

func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.size
}

// Append records a turn and reports whether an older turn was evicted.
func (m *Memory) Append(t Turn) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx := (m.head + m.size) % len(m.turns)
	m.turns[idx] = t
	if m.size < len(m.turns) {
		m.size++
		return false
	}
	m.head = (m.head + 1) % len(m.turns)
	return true
}

// Recent returns up to n turns, oldest first. n <= 0 returns all.
func (m *Memory) Recent(n int) []Turn {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if n <= 0 || n > m.size {
		n = m.size
	}
	out := make([]Turn, n)
	for i := range out {
		out[i] = m.turns[(m.head+m.size-n+i)%len(m.turns)]
	}
	return out
}

// Last returns the newest turn.
func (m *Memory) Last() (Turn, bool) {
	recent := m.Recent(1)
	if len(recent) == 0 {
		return Turn{}, false
	}
	return recent[0], true
}
