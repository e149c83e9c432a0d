package observability

import (
	"sort"
	"strconv"
	"sync"
	"time"
)

// Metrics provides basic in-memory counters for outgoing and incoming requests.
type Metrics struct {
	mu           sync.Mutex
	requestCount map[string]int64
	errorCount   map[string]int64
	retryCount   map[string]int64
	latency      map[string]time.Duration
}

// Counter is a single named counter value.
type Counter struct {
	Key   string
	Value int64
}

// Timing is the accumulated duration of the requests counted under Key.
type Timing struct {
	Key   string
	Count int64
	Total time.Duration
}

// Mean returns the average request duration, or zero when nothing was counted.
func (t Timing) Mean() time.Duration {
	if t.Count == 0 {
		return 0
	}
	return t.Total / time.Duration(t.Count)
}

// Snapshot is a point-in-time copy of all counters, sorted by key.
type Snapshot struct {
	Requests []Counter
	Errors   []Counter
	Retries  []Counter
	Latency  []Timing
}

// NewMetrics initializes metrics storage.
func NewMetrics() *Metrics {
	return &Metrics{
		requestCount: make(map[string]int64),
		errorCount:   make(map[string]int64),
		retryCount:   make(map[string]int64),
		latency:      make(map[string]time.Duration),
	}
}

// RecordRequest increments counters for requests.
func (m *Metrics) RecordRequest(path, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	key := pathKey(path, method, strconv.Itoa(status))
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requestCount[key]++
	m.latency[key] += duration
}

// RecordError increments error counters.
func (m *Metrics) RecordError(path, method, code string) {
	if m == nil {
		return
	}
	key := pathKey(path, method, code)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errorCount[key]++
}

// RecordRetry counts a retry scheduled for path/method.
func (m *Metrics) RecordRetry(path, method string) {
	if m == nil {
		return
	}
	key := path + "|" + method
	m.mu.Lock()
	defer m.mu.Unlock()
	m.retryCount[key]++
}

// Snapshot copies the current counters.
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{
		Requests: sortedCounters(m.requestCount),
		Errors:   sortedCounters(m.errorCount),
		Retries:  sortedCounters(m.retryCount),
		Latency:  m.timings(),
	}
}

// Total sums every counter in the slice.
func Total(counters []Counter) int64 {
	var n int64
	for _, c := range counters {
		n += c.Value
	}
	return n
}

func (m *Metrics) timings() []Timing {
	out := make([]Timing, 0, len(m.latency))
	for k, total := range m.latency {
		out = append(out, Timing{Key: k, Count: m.requestCount[k], Total: total})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

func sortedCounters(src map[string]int64) []Counter {
	out := make([]Counter, 0, len(src))
	for k, v := range src {
		out = append(out, Counter{Key: k, Value: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

func pathKey(path, method, outcome string) string {
	return path + "|" + method + "|" + outcome
}
