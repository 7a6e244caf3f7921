package ingest

import (
	"sync"
	"time"
)

type RunRecord struct {
	File    string        `json:"file"`
	Result  Result        `json:"result"`
	Started time.Time     `json:"started"`
	Took    time.Duration `json:"took"`
}

// RunLog keeps the most recent ingestion runs in a bounded ring for the
// status surface. Purely informational; the store is the source of truth.
type RunLog struct {
	mu    sync.RWMutex
	buf   []RunRecord
	limit int
}

func NewRunLog(limit int) *RunLog {
	if limit <= 0 {
		limit = 100
	}
	return &RunLog{limit: limit}
}

func (l *RunLog) Add(rec RunRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.buf) < l.limit {
		l.buf = append(l.buf, rec)
		return
	}
	copy(l.buf, l.buf[1:])
	l.buf[len(l.buf)-1] = rec
}

func (l *RunLog) List(limit int) []RunRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if limit <= 0 || limit > len(l.buf) {
		limit = len(l.buf)
	}
	out := make([]RunRecord, 0, limit)
	for i := len(l.buf) - limit; i < len(l.buf); i++ {
		out = append(out, l.buf[i])
	}
	return out
}

func (l *RunLog) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.buf = nil
}
