package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/danmuck/payrouter/internal/txn"
)

// Memory keeps records in process memory; contents are lost on restart.
type Memory struct {
	mu      sync.RWMutex
	records []txn.Record
	now     func() time.Time
}

func NewMemory() *Memory {
	return &Memory{now: time.Now}
}

func (m *Memory) Append(ctx context.Context, rec txn.Record) (txn.Record, error) {
	if err := ctx.Err(); err != nil {
		return txn.Record{}, err
	}
	stamped, err := Stamp(rec, m.now())
	if err != nil {
		return txn.Record{}, err
	}
	m.mu.Lock()
	m.records = append(m.records, stamped)
	m.mu.Unlock()
	return stamped, nil
}

func (m *Memory) History(ctx context.Context, limit int) ([]txn.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := Window(limit, len(m.records))
	out := make([]txn.Record, 0, n)
	for i := len(m.records) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, m.records[i])
	}
	return out, nil
}

func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}
