package observability

import (
	"strconv"
	"sync"
	"time"
)

// Metrics provides basic in-memory counters. All methods are nil-safe so
// callers can run without metrics wired up.
type Metrics struct {
	mu           sync.Mutex
	requestCount map[string]int64
	errorCount   map[string]int64
	syncCount    map[string]int64
}

// NewMetrics initializes metrics storage.
func NewMetrics() *Metrics {
	return &Metrics{
		requestCount: make(map[string]int64),
		errorCount:   make(map[string]int64),
		syncCount:    make(map[string]int64),
	}
}

// RecordRequest increments counters for served HTTP requests.
func (m *Metrics) RecordRequest(path, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	key := pathKey(path, method, status)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requestCount[key]++
}

// RecordError increments error counters for served HTTP requests.
func (m *Metrics) RecordError(path, method, code string) {
	if m == nil {
		return
	}
	key := path + "|" + method + "|" + code
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errorCount[key]++
}

// RecordRefetch counts a completed canonical fetch for a tracking code.
func (m *Metrics) RecordRefetch(trackingCode string, ok bool) {
	outcome := "ok"
	if !ok {
		outcome = "fail"
	}
	m.incSync("refetch|" + trackingCode + "|" + outcome)
}

// RecordCoalesced counts a refetch request served by an already scheduled
// flight instead of a new network call.
func (m *Metrics) RecordCoalesced(trackingCode string) {
	m.incSync("coalesced|" + trackingCode)
}

// RecordRollback counts an optimistic patch that had to be reverted.
func (m *Metrics) RecordRollback(trackingCode string) {
	m.incSync("rollback|" + trackingCode)
}

// RecordDuplicateEvent counts a push event dropped by id deduplication.
func (m *Metrics) RecordDuplicateEvent(topic string) {
	m.incSync("duplicate_event|" + topic)
}

// RecordResubscribe counts a push topic recovery after a transport loss.
func (m *Metrics) RecordResubscribe(topic string) {
	m.incSync("resubscribe|" + topic)
}

// SyncCounts returns a copy of the synchronization counters.
func (m *Metrics) SyncCounts() map[string]int64 {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]int64, len(m.syncCount))
	for k, v := range m.syncCount {
		out[k] = v
	}
	return out
}

func (m *Metrics) incSync(key string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.syncCount[key]++
}

func pathKey(path, method string, status int) string {
	return path + "|" + method + "|" + strconv.Itoa(status)
}
