package transport

import (
	"context"
	"errors"
	"io"
	"runtime"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/ehrlich-b/go-rdma/internal/fastpath"
	"github.com/ehrlich-b/go-rdma/internal/interfaces"
)

// Runner drives the byte stream for a single flow: a receive loop feeding
// the RX state machine and a transmit loop draining staged frames to the
// Conn. One runner per flow; the receive loop is the dataplane worker and
// can be pinned to a CPU.
type Runner struct {
	flowID uint32
	conn   Conn
	fl     *fastpath.FlowState
	dp     *fastpath.Context
	logger interfaces.Logger

	cpuAffinity []int

	ctx    context.Context
	cancel context.CancelFunc
	kick   chan struct{}
	wg     sync.WaitGroup
}

// Config configures a flow runner.
type Config struct {
	FlowID      uint32
	Conn        Conn
	Flow        *fastpath.FlowState
	Dataplane   *fastpath.Context
	Logger      interfaces.Logger
	CPUAffinity []int // optional CPU pinning for the receive loop
}

// NewRunner creates a runner for one flow.
func NewRunner(ctx context.Context, config Config) *Runner {
	ctx, cancel := context.WithCancel(ctx)
	return &Runner{
		flowID:      config.FlowID,
		conn:        config.Conn,
		fl:          config.Flow,
		dp:          config.Dataplane,
		logger:      config.Logger,
		cpuAffinity: config.CPUAffinity,
		ctx:         ctx,
		cancel:      cancel,
		kick:        make(chan struct{}, 1),
	}
}

// Start launches the receive and transmit loops.
func (r *Runner) Start() {
	r.wg.Add(2)
	go r.rxLoop()
	go r.txLoop()
}

// Kick notifies the transmit loop that new TX bytes were staged. Edge
// coalesced; safe from any goroutine.
func (r *Runner) Kick() {
	select {
	case r.kick <- struct{}{}:
	default:
	}
}

// Close stops both loops and closes the underlying stream.
func (r *Runner) Close() error {
	r.cancel()
	err := r.conn.Close()
	r.wg.Wait()
	return err
}

// rxLoop reads from the stream into the flow's circular receive buffer
// and runs the RX state machine over each delivery. Pinned to an OS
// thread; optionally pinned to a CPU for cache locality with the peer
// buffers.
func (r *Runner) rxLoop() {
	defer r.wg.Done()

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	// Round-robin CPU assignment: flow N -> CPU (CPUAffinity[N % len])
	if len(r.cpuAffinity) > 0 {
		cpuIdx := r.cpuAffinity[int(r.flowID)%len(r.cpuAffinity)]
		var mask unix.CPUSet
		mask.Set(cpuIdx)
		if err := unix.SchedSetaffinity(0, &mask); err != nil {
			if r.logger != nil {
				r.logger.Printf("failed to set CPU affinity to CPU %d: %v", cpuIdx, err)
			}
			// continue without affinity - not fatal
		} else if r.logger != nil {
			r.logger.Debugf("receive loop pinned to CPU %d", cpuIdx)
		}
	}

	for {
		select {
		case <-r.ctx.Done():
			return
		default:
		}

		seg, _ := r.fl.RxWritable()
		if len(seg) == 0 {
			// state machine consumes every bump, so credit returns on
			// the next pass; yield rather than busy-spin
			r.fl.TakeRxCredit()
			runtime.Gosched()
			continue
		}

		n, err := r.conn.Read(seg)
		if n > 0 {
			prev := r.fl.RxProduce(uint32(n))
			if rerr := r.dp.RQBump(r.fl, prev, uint32(n)); rerr != nil {
				// fatal protocol error: tear the flow down
				if r.logger != nil {
					r.logger.Printf("aborting: %v", rerr)
				}
				r.cancel()
				_ = r.conn.Close()
				return
			}
			r.fl.TakeRxCredit()
			// inbound requests may have queued responses
			r.dp.TxPoll(r.fl)
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
				r.dp.Shutdown(r.fl)
			} else if r.ctx.Err() == nil {
				if r.logger != nil {
					r.logger.Printf("receive error: %v", err)
				}
				r.dp.Shutdown(r.fl)
			}
			r.cancel()
			return
		}
	}
}

// txLoop waits for kicks and drains staged frame bytes to the stream.
func (r *Runner) txLoop() {
	defer r.wg.Done()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-r.kick:
		}
		r.drain()
	}
}

func (r *Runner) drain() {
	for {
		a, b := r.fl.TxTake()
		if len(a) == 0 {
			return
		}
		if !r.send(a) {
			return
		}
		if len(b) > 0 && !r.send(b) {
			return
		}
		r.fl.TxComplete(uint32(len(a) + len(b)))
		// freed budget may unblock a mid-frame resume
		r.dp.TxPoll(r.fl)
	}
}

func (r *Runner) send(p []byte) bool {
	for len(p) > 0 {
		n, err := r.conn.Write(p)
		if err != nil {
			if r.ctx.Err() == nil && r.logger != nil {
				r.logger.Printf("transmit error: %v", err)
			}
			r.cancel()
			return false
		}
		p = p[n:]
	}
	return true
}
