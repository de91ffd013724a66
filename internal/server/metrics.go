package server

import "sync"

// Metrics is a plain-struct-plus-mutex counter set, grounded on the
// teacher's PoolMetrics (pool.go): no metrics client library is pulled in,
// matching the teacher's own choice for this concern.
type Metrics struct {
	mu             sync.RWMutex
	activeSessions int64
	totalSessions  int64
	totalFrames    int64
}

func (m *Metrics) sessionStarted() {
	m.mu.Lock()
	m.activeSessions++
	m.totalSessions++
	m.mu.Unlock()
}

func (m *Metrics) sessionEnded() {
	m.mu.Lock()
	m.activeSessions--
	m.mu.Unlock()
}

func (m *Metrics) frameEmitted() {
	m.mu.Lock()
	m.totalFrames++
	m.mu.Unlock()
}

// Snapshot is the JSON-serializable view GET /metrics returns.
type Snapshot struct {
	ActiveSessions int64 `json:"active_sessions"`
	TotalSessions  int64 `json:"total_sessions"`
	TotalFrames    int64 `json:"total_frames"`
}

func (m *Metrics) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Snapshot{
		ActiveSessions: m.activeSessions,
		TotalSessions:  m.totalSessions,
		TotalFrames:    m.totalFrames,
	}
}
