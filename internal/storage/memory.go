package storage

import (
	"context"
	"sync"
)

// Memory is a process-local Store. Watermarks are lost on exit.
type Memory struct {
	mu     sync.Mutex
	marks  map[string]int64
	cycles []CycleRecord
	closed bool
}

func NewMemory() *Memory {
	return &Memory{marks: map[string]int64{}}
}

func (m *Memory) GetWatermark(ctx context.Context, repo string) (int64, bool, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	rev, ok := m.marks[repo]
	return rev, ok, nil
}

func (m *Memory) PutWatermark(ctx context.Context, repo string, rev int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.marks[repo] = rev
	return nil
}

func (m *Memory) AppendCycle(ctx context.Context, rec CycleRecord) error {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.cycles = append(m.cycles, rec)
	return nil
}

// Cycles returns a copy of the journal.
func (m *Memory) Cycles() []CycleRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]CycleRecord(nil), m.cycles...)
}

func (m *Memory) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}
