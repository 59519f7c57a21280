package server

import (
	"time"

	"github.com/armon/go-metrics"
)

// Metrics wraps an in-memory go-metrics sink with the handful of counters
// the dispatcher needs to make the at-least-once/at-most-once comparison
// observable (spec.md §1's stated purpose), rather than relying on log
// lines alone.
type Metrics struct {
	sink *metrics.InmemSink
	m    *metrics.Metrics
}

// NewMetrics creates a process-local (non-global) metrics instance so
// multiple dispatchers in the same test binary don't share counters.
func NewMetrics(serviceName string) (*Metrics, error) {
	sink := metrics.NewInmemSink(10*time.Second, time.Hour)
	conf := metrics.DefaultConfig(serviceName)
	conf.EnableHostname = false
	m, err := metrics.New(conf, sink)
	if err != nil {
		return nil, err
	}
	return &Metrics{sink: sink, m: m}, nil
}

func (m *Metrics) incr(name string) {
	if m == nil {
		return
	}
	m.m.IncrCounter([]string{name}, 1)
}

func (m *Metrics) RequestReceived()  { m.incr("booking.requests") }
func (m *Metrics) RequestDropped()   { m.incr("booking.dropped_request") }
func (m *Metrics) ReplyDropped()     { m.incr("booking.dropped_reply") }
func (m *Metrics) CacheHit()         { m.incr("booking.cache_hit") }
func (m *Metrics) CallbackSent()     { m.incr("booking.callbacks_sent") }
func (m *Metrics) MalformedRequest() { m.incr("booking.malformed_request") }

// Snapshot returns the current interval's counter data, keyed by metric
// name, for diagnostics and tests.
func (m *Metrics) Snapshot() map[string]metrics.SampledValue {
	data := m.sink.Data()
	if len(data) == 0 {
		return nil
	}
	// The most recent interval is the last element.
	return data[len(data)-1].Counters
}
