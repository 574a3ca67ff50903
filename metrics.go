package rdma

import (
	"sync/atomic"
	"time"
)

// Metrics tracks operational statistics for an endpoint
type Metrics struct {
	// Post counters
	PostedReads  atomic.Uint64 // Total READ operations posted
	PostedWrites atomic.Uint64 // Total WRITE operations posted
	PostedBytes  atomic.Uint64 // Total payload bytes posted

	// Completion counters
	Completions      atomic.Uint64 // Total completions published
	CompletionErrors atomic.Uint64 // Completions with a non-success status

	// Frame counters
	TxFrames atomic.Uint64 // Frames fully staged for transmit
	TxBytes  atomic.Uint64 // Frame bytes staged for transmit
	RxFrames atomic.Uint64 // Inbound frames fully parsed
	RxBytes  atomic.Uint64 // Inbound frame bytes consumed

	// Rejection counters
	QueueFullRejects  atomic.Uint64 // Posts rejected for lack of a free slot
	BumpRejects       atomic.Uint64 // Cursor bumps rejected by the dataplane
	OutOfBoundsErrors atomic.Uint64 // Requests terminalised out-of-bounds
	ProtocolErrors    atomic.Uint64 // Fatal protocol violations

	// Endpoint lifecycle
	StartTime atomic.Int64 // Attach timestamp (UnixNano)
	StopTime  atomic.Int64 // Close timestamp (UnixNano)
}

// NewMetrics creates a new metrics instance
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

// RecordPost records a posted operation
func (m *Metrics) RecordPost(op uint32, bytes uint64) {
	switch op {
	case OpRead:
		m.PostedReads.Add(1)
	case OpWrite:
		m.PostedWrites.Add(1)
	}
	m.PostedBytes.Add(bytes)
}

// RecordCompletion records a published completion
func (m *Metrics) RecordCompletion(status uint32) {
	m.Completions.Add(1)
	if status != StatusSuccess {
		m.CompletionErrors.Add(1)
	}
}

// RecordTxFrame records a fully staged outbound frame
func (m *Metrics) RecordTxFrame(bytes uint64) {
	m.TxFrames.Add(1)
	m.TxBytes.Add(bytes)
}

// RecordRxFrame records a fully parsed inbound frame
func (m *Metrics) RecordRxFrame(bytes uint64) {
	m.RxFrames.Add(1)
	m.RxBytes.Add(bytes)
}

// RecordReject records a rejection by kind
func (m *Metrics) RecordReject(kind string) {
	switch kind {
	case "queue-full":
		m.QueueFullRejects.Add(1)
	case "bump":
		m.BumpRejects.Add(1)
	case "out-of-bounds":
		m.OutOfBoundsErrors.Add(1)
	case "protocol":
		m.ProtocolErrors.Add(1)
	}
}

// Stop marks the endpoint stopped
func (m *Metrics) Stop() {
	m.StopTime.Store(time.Now().UnixNano())
}

// MetricsSnapshot is a point-in-time copy of endpoint metrics
type MetricsSnapshot struct {
	PostedReads  uint64
	PostedWrites uint64
	PostedBytes  uint64

	Completions      uint64
	CompletionErrors uint64

	TxFrames uint64
	TxBytes  uint64
	RxFrames uint64
	RxBytes  uint64

	QueueFullRejects  uint64
	BumpRejects       uint64
	OutOfBoundsErrors uint64
	ProtocolErrors    uint64

	TotalPosts uint64
	Uptime     time.Duration
}

// Snapshot returns a consistent point-in-time view of the metrics
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		PostedReads:       m.PostedReads.Load(),
		PostedWrites:      m.PostedWrites.Load(),
		PostedBytes:       m.PostedBytes.Load(),
		Completions:       m.Completions.Load(),
		CompletionErrors:  m.CompletionErrors.Load(),
		TxFrames:          m.TxFrames.Load(),
		TxBytes:           m.TxBytes.Load(),
		RxFrames:          m.RxFrames.Load(),
		RxBytes:           m.RxBytes.Load(),
		QueueFullRejects:  m.QueueFullRejects.Load(),
		BumpRejects:       m.BumpRejects.Load(),
		OutOfBoundsErrors: m.OutOfBoundsErrors.Load(),
		ProtocolErrors:    m.ProtocolErrors.Load(),
	}
	snap.TotalPosts = snap.PostedReads + snap.PostedWrites

	start := m.StartTime.Load()
	stop := m.StopTime.Load()
	if stop == 0 {
		stop = time.Now().UnixNano()
	}
	if start > 0 && stop >= start {
		snap.Uptime = time.Duration(stop - start)
	}
	return snap
}

// MetricsObserver adapts a Metrics instance to the Observer interface
type MetricsObserver struct {
	metrics *Metrics
}

// NewMetricsObserver creates an observer recording into metrics
func NewMetricsObserver(metrics *Metrics) *MetricsObserver {
	return &MetricsObserver{metrics: metrics}
}

func (o *MetricsObserver) ObservePost(op uint32, bytes uint64) { o.metrics.RecordPost(op, bytes) }
func (o *MetricsObserver) ObserveCompletion(status uint32)     { o.metrics.RecordCompletion(status) }
func (o *MetricsObserver) ObserveTxFrame(bytes uint64)         { o.metrics.RecordTxFrame(bytes) }
func (o *MetricsObserver) ObserveRxFrame(bytes uint64)         { o.metrics.RecordRxFrame(bytes) }
func (o *MetricsObserver) ObserveReject(kind string)           { o.metrics.RecordReject(kind) }

// NoOpObserver discards all observations
type NoOpObserver struct{}

func (NoOpObserver) ObservePost(op uint32, bytes uint64) {}
func (NoOpObserver) ObserveCompletion(status uint32)     {}
func (NoOpObserver) ObserveTxFrame(bytes uint64)         {}
func (NoOpObserver) ObserveRxFrame(bytes uint64)         {}
func (NoOpObserver) ObserveReject(kind string)           {}
