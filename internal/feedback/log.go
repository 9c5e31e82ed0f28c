package feedback

import (
	"context"
	"sync"
)

// Log is the append-only record store. Implementations must never persist a
// partial record.
type Log interface {
	Append(ctx context.Context, record Record) error
	List(ctx context.Context) ([]Record, error)
}

type MemoryLog struct {
	mu      sync.RWMutex
	records []Record
}

func NewMemoryLog() *MemoryLog {
	return &MemoryLog{}
}

func (l *MemoryLog) Append(_ context.Context, record Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append(l.records, record)
	return nil
}

func (l *MemoryLog) List(_ context.Context) ([]Record, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Record, len(l.records))
	copy(out, l.records)
	return out, nil
}
