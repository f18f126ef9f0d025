package downloader

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	statsEventsOnce sync.Once
	statsEventTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "contentfs",
			Subsystem: "downloader",
			Name:      "events_total",
			Help:      "Number of occurrences of a named downloader lifecycle event.",
		},
		[]string{"event"})
	statsBytesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "contentfs",
			Subsystem: "downloader",
			Name:      "event_bytes_total",
			Help:      "Number of bytes transferred by a named downloader lifecycle event.",
		},
		[]string{"event"})
)

// Event names, verbatim from spec §4.5.3.
const (
	eventInitCDictDownload = "init_cdict_download"
	eventLoopDownload      = "loop_download"
	eventLoopFetchSet      = "loop_fetch_set"
	eventLoopProcess       = "loop_process"
	eventInitPopulate      = "init_populate"
)

// Stats is the language-neutral progress snapshot of spec §6.4
// ("get_stats() → {events: map<str,u32>, times: map<str,ticks>}").
type Stats struct {
	Events map[string]uint32
	Times  map[string]time.Duration
}

// statsCollector accumulates per-event counts/byte-totals and named
// timings, mirroring them both into GetStats()'s plain maps and into
// process-wide prometheus counters (SPEC_FULL §3).
type statsCollector struct {
	mu     sync.Mutex
	counts map[string]uint32
	bytes  map[string]uint64
	times  map[string]time.Duration
}

func newStatsCollector() *statsCollector {
	statsEventsOnce.Do(func() {
		prometheus.MustRegister(statsEventTotal)
		prometheus.MustRegister(statsBytesTotal)
	})
	return &statsCollector{
		counts: map[string]uint32{},
		bytes:  map[string]uint64{},
		times:  map[string]time.Duration{},
	}
}

func (s *statsCollector) incr(event string, n uint32) {
	s.mu.Lock()
	s.counts[event] += n
	s.mu.Unlock()
	statsEventTotal.WithLabelValues(event).Add(float64(n))
}

func (s *statsCollector) addBytes(event string, n uint64) {
	s.mu.Lock()
	s.bytes[event+"_bytes"] += n
	s.mu.Unlock()
	statsBytesTotal.WithLabelValues(event).Add(float64(n))
}

func (s *statsCollector) recordTime(name string, d time.Duration) {
	s.mu.Lock()
	s.times[name] += d
	s.mu.Unlock()
}

func (s *statsCollector) snapshot() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	events := make(map[string]uint32, len(s.counts)+len(s.bytes))
	for k, v := range s.counts {
		events[k+"_count"] = v
	}
	for k, v := range s.bytes {
		events[k] = uint32(v)
	}
	times := make(map[string]time.Duration, len(s.times))
	for k, v := range s.times {
		times[k] = v
	}
	return Stats{Events: events, Times: times}
}
