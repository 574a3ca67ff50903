// Package rdma provides a user-space RDMA-over-TCP data plane: one-sided
// READ/WRITE operations against a peer's registered memory region, issued
// through a lock-light shared work-queue ring and carried over any
// reliable byte stream.
package rdma

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/eapache/queue"

	"github.com/ehrlich-b/go-rdma/internal/constants"
	"github.com/ehrlich-b/go-rdma/internal/fastpath"
	"github.com/ehrlich-b/go-rdma/internal/logging"
	"github.com/ehrlich-b/go-rdma/internal/transport"
)

// Params sizes the rings and buffers of flows created on an endpoint.
type Params struct {
	// MemoryRegionSize is the length of each flow's registered region
	MemoryRegionSize int

	// RingEntries is the number of WQE slots in each flow's work queue
	RingEntries int

	// TxBufferSize is each flow's transmit staging buffer size
	TxBufferSize int

	// RxBufferSize is each flow's receive staging buffer size
	RxBufferSize int

	// CPUAffinity optionally pins dataplane receive loops to CPUs
	CPUAffinity []int

	// QueueManager receives sendable-byte notifications (nil for none)
	QueueManager QueueManager
}

// DefaultParams returns default endpoint parameters
func DefaultParams() Params {
	return Params{
		MemoryRegionSize: constants.DefaultMemoryRegionSize,
		RingEntries:      constants.DefaultRingEntries,
		TxBufferSize:     constants.DefaultTxBufferSize,
		RxBufferSize:     constants.DefaultRxBufferSize,
	}
}

// Options contains additional options for endpoint creation
type Options struct {
	// Context for cancellation (if nil, uses context.Background())
	Context context.Context

	// Logger for debug/info messages (if nil, the process default
	// logger is used)
	Logger Logger

	// Observer for metrics collection (if nil, records into Metrics)
	Observer Observer
}

// Endpoint owns the dataplane context for a group of flows and the
// app-side completion mailbox. Create flows on it with NewFlow, one per
// connected byte stream.
type Endpoint struct {
	params   Params
	logger   Logger
	observer Observer
	metrics  *Metrics

	dp *fastpath.Context

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	flows    map[uint32]*Flow
	byOpaque map[uint64]*Flow
	runners  map[uint32]*transport.Runner
	nextID   uint32
	closed   bool
}

// Attach creates an endpoint with the given parameters. The endpoint
// serves flows until Close or context cancellation.
func Attach(ctx context.Context, params Params, options *Options) (*Endpoint, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if options == nil {
		options = &Options{}
	}
	if options.Context != nil {
		ctx = options.Context
	}

	if params.MemoryRegionSize <= 0 {
		params.MemoryRegionSize = constants.DefaultMemoryRegionSize
	}
	if params.RingEntries <= 0 {
		params.RingEntries = constants.DefaultRingEntries
	}
	if params.TxBufferSize <= 0 {
		params.TxBufferSize = constants.DefaultTxBufferSize
	}
	if params.RxBufferSize <= 0 {
		params.RxBufferSize = constants.DefaultRxBufferSize
	}

	metrics := NewMetrics()
	var observer Observer = NewMetricsObserver(metrics)
	if options.Observer != nil {
		observer = options.Observer
	}

	var logger Logger = logging.Default()
	if options.Logger != nil {
		logger = options.Logger
	}

	ep := &Endpoint{
		params:   params,
		logger:   logger,
		observer: observer,
		metrics:  metrics,
		flows:    make(map[uint32]*Flow),
		byOpaque: make(map[uint64]*Flow),
		runners:  make(map[uint32]*transport.Runner),
		nextID:   1,
	}
	ep.ctx, ep.cancel = context.WithCancel(ctx)

	ep.dp = fastpath.NewContext(fastpath.Config{
		Logger:   logger,
		Observer: observer,
		Qman:     params.QueueManager,
		Arx:      ep.arxAdd,
		Kick:     ep.kickFlow,
	})

	return ep, nil
}

// NewFlow attaches a connected byte stream as a new flow. The opaque tag
// is echoed through completion updates back to this flow; pass 0 to use
// the flow id. The flow owns the stream and closes it on teardown.
func (ep *Endpoint) NewFlow(conn io.ReadWriteCloser, opaque uint64) (*Flow, error) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	if ep.closed {
		return nil, NewError("NEW_FLOW", ErrCodeFlowClosed, "endpoint closed")
	}

	id := ep.nextID
	ep.nextID++
	if opaque == 0 {
		opaque = uint64(id)
	}
	if _, ok := ep.byOpaque[opaque]; ok {
		return nil, NewError("NEW_FLOW", ErrCodeInvalidArgument,
			fmt.Sprintf("opaque tag %d already in use", opaque))
	}

	fs, err := fastpath.NewFlowState(fastpath.FlowConfig{
		ID:               id,
		Opaque:           opaque,
		MemoryRegionSize: ep.params.MemoryRegionSize,
		RingEntries:      ep.params.RingEntries,
		TxBufferSize:     ep.params.TxBufferSize,
		RxBufferSize:     ep.params.RxBufferSize,
	})
	if err != nil {
		return nil, NewError("NEW_FLOW", ErrCodeInvalidArgument, err.Error())
	}
	if err := ep.dp.AddFlow(fs); err != nil {
		return nil, NewError("NEW_FLOW", ErrCodeInvalidArgument, err.Error())
	}

	flowLog := logging.ForFlow(ep.logger, id)
	runner := transport.NewRunner(ep.ctx, transport.Config{
		FlowID:      id,
		Conn:        conn,
		Flow:        fs,
		Dataplane:   ep.dp,
		Logger:      flowLog,
		CPUAffinity: ep.params.CPUAffinity,
	})

	flow := &Flow{
		ep:     ep,
		fs:     fs,
		runner: runner,
		id:     id,
		opaque: opaque,
		mr:     fs.Region(),
		wq:     fs.WorkQueue(),
		wqSize: fs.RingSize(),
		arxQ:   queue.New(),
	}

	ep.flows[id] = flow
	ep.byOpaque[opaque] = flow
	ep.runners[id] = runner

	// register before the first byte can arrive
	runner.Start()

	if flowLog != nil {
		flowLog.Debugf("attached: mr=%d ring=%d entries",
			ep.params.MemoryRegionSize, ep.params.RingEntries)
	}
	return flow, nil
}

// Metrics returns the endpoint metrics
func (ep *Endpoint) Metrics() *Metrics {
	return ep.metrics
}

// MetricsSnapshot returns a point-in-time snapshot of endpoint metrics
func (ep *Endpoint) MetricsSnapshot() MetricsSnapshot {
	if ep.metrics == nil {
		return MetricsSnapshot{}
	}
	return ep.metrics.Snapshot()
}

// Close tears down every flow and stops the endpoint.
func (ep *Endpoint) Close() error {
	ep.mu.Lock()
	if ep.closed {
		ep.mu.Unlock()
		return nil
	}
	ep.closed = true
	flows := make([]*Flow, 0, len(ep.flows))
	for _, f := range ep.flows {
		flows = append(flows, f)
	}
	ep.mu.Unlock()

	var firstErr error
	for _, f := range flows {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	ep.cancel()
	ep.metrics.Stop()
	return firstErr
}

// arxAdd is the dataplane's completion-update downcall: one message per
// batched RX pass, dispatched to the owning flow's mailbox.
func (ep *Endpoint) arxAdd(u fastpath.ArxUpdate) {
	ep.mu.Lock()
	f := ep.byOpaque[u.Opaque]
	ep.mu.Unlock()
	if f != nil {
		f.arxAdd(u)
	}
}

// kickFlow wakes a flow's transmit loop after the scheduler staged bytes.
func (ep *Endpoint) kickFlow(id uint32) {
	ep.mu.Lock()
	r := ep.runners[id]
	ep.mu.Unlock()
	if r != nil {
		r.Kick()
	}
}

func (ep *Endpoint) removeFlow(f *Flow) {
	ep.mu.Lock()
	delete(ep.flows, f.id)
	delete(ep.byOpaque, f.opaque)
	delete(ep.runners, f.id)
	ep.mu.Unlock()
	ep.dp.RemoveFlow(f.id)
}

// LoopbackPair returns two connected in-process byte streams buffering
// bufSize bytes per direction (DefaultTxBufferSize when bufSize <= 0).
// Attach each end to a flow (typically on two
// endpoints) to pair peers without sockets.
func LoopbackPair(bufSize int) (io.ReadWriteCloser, io.ReadWriteCloser) {
	if bufSize <= 0 {
		bufSize = constants.DefaultTxBufferSize
	}
	a, b := transport.NewLoopbackPair(bufSize)
	return a, b
}

// DialTCP connects to addr and returns a byte stream suitable for NewFlow.
func DialTCP(addr string) (io.ReadWriteCloser, error) {
	return transport.DialTCP(addr)
}
