package rdma

import (
	"sync"

	"github.com/eapache/queue"

	"github.com/ehrlich-b/go-rdma/internal/fastpath"
	"github.com/ehrlich-b/go-rdma/internal/ring"
	"github.com/ehrlich-b/go-rdma/internal/transport"
)

// Flow is the application's handle on one connected peer relationship: a
// registered memory region, the shared work-queue ring, and the producer
// cursors. PostRead, PostWrite and PollCompletions follow the one-sided
// operation contract; the dataplane worker owns the transmit and receive
// paths.
//
// NOTE: Two operations must not be called concurrently on the same Flow.
// The producer path is lock-free against the dataplane, not against other
// posting goroutines.
type Flow struct {
	ep     *Endpoint
	fs     *fastpath.FlowState
	runner *transport.Runner

	id     uint32
	opaque uint64

	mr     []byte
	wq     ring.Buf
	wqSize uint32

	// app-visible cursors and region byte counts. wqTail/cqHead mirror
	// the dataplane cursors as of the last update; wqLen and cqLen are
	// the pending and completed byte counts derived from them.
	wqTail uint32
	cqHead uint32
	cqTail uint32
	wqLen  uint32
	cqLen  uint32

	// lastSeq is the newest cursor-update sequence already applied; a
	// queued update older than a direct pull is discarded by it
	lastSeq uint64

	// completion-update mailbox, filled by the dataplane worker and
	// drained on this flow's post/poll path
	arxMu sync.Mutex
	arxQ  *queue.Queue

	closed bool
}

// arxAdd enqueues a completion update from the dataplane.
func (f *Flow) arxAdd(u fastpath.ArxUpdate) {
	f.arxMu.Lock()
	f.arxQ.Add(u)
	f.arxMu.Unlock()
}

// drainUpdates folds queued completion updates into the app-visible
// cursors. Called only from this flow's post/poll path, which is the sole
// mutator of those cursors.
func (f *Flow) drainUpdates() {
	f.arxMu.Lock()
	for f.arxQ.Length() > 0 {
		u := f.arxQ.Remove().(fastpath.ArxUpdate)
		f.applyUpdate(u.WQTail, u.CQHead, u.Seq)
	}
	f.arxMu.Unlock()
}

// ID returns the flow id assigned at creation.
func (f *Flow) ID() uint32 { return f.id }

// Region returns the flow's registered memory region. The peer addresses
// this buffer with its remote offsets; the app reads and writes it
// directly for payload staging.
func (f *Flow) Region() []byte { return f.mr }

// WriteRegion copies p into the memory region at off. Unlike writing
// through Region directly, the range is validated against the region
// length first.
func (f *Flow) WriteRegion(off uint32, p []byte) error {
	if uint64(off)+uint64(len(p)) > uint64(len(f.mr)) {
		return NewFlowError("WRITE_REGION", f.id, ErrCodeInvalidRange,
			"offset+length exceeds memory region")
	}
	copy(f.mr[off:], p)
	return nil
}

// ReadRegion copies len(p) bytes out of the memory region at off into p.
func (f *Flow) ReadRegion(off uint32, p []byte) error {
	if uint64(off)+uint64(len(p)) > uint64(len(f.mr)) {
		return NewFlowError("READ_REGION", f.id, ErrCodeInvalidRange,
			"offset+length exceeds memory region")
	}
	copy(p, f.mr[off:])
	return nil
}

// PostRead queues a one-sided READ of length bytes from the peer's memory
// region at roff into the local region at loff. Returns the WQE id.
//
// READ responses carry no defined completion semantics at this layer;
// a peer that receives the request will kill the flow. The post path is
// kept symmetric with PostWrite for protocol experiments.
func (f *Flow) PostRead(length, loff, roff uint32) (uint32, error) {
	return f.post("POST_READ", ring.OpRead, length, loff, roff)
}

// PostWrite queues a one-sided WRITE of length bytes from the local
// memory region at loff into the peer's region at roff. Returns the WQE
// id, which reappears on the matching completion.
func (f *Flow) PostWrite(length, loff, roff uint32) (uint32, error) {
	return f.post("POST_WRITE", ring.OpWrite, length, loff, roff)
}

func (f *Flow) post(op string, opCode, length, loff, roff uint32) (uint32, error) {
	f.drainUpdates()

	if f.closed {
		return 0, NewFlowError(op, f.id, ErrCodeFlowClosed, "flow closed")
	}
	if err := f.fs.Err(); err != nil {
		return 0, WrapError(op, f.id, err)
	}

	// 1. Validate address in memory region
	if uint64(loff)+uint64(length) > uint64(len(f.mr)) {
		return 0, NewFlowError(op, f.id, ErrCodeInvalidRange, "offset+length exceeds memory region")
	}

	// 2. Acquire a work-queue entry. The pending and completed byte
	// counts together bound the slots this side may own.
	if f.wqLen+f.cqLen == f.wqSize {
		if f.ep.observer != nil {
			f.ep.observer.ObserveReject("queue-full")
		}
		return 0, NewFlowError(op, f.id, ErrCodeQueueFull, "no free work-queue slot")
	}

	// 3. Fill the entry at the producer head. Its byte offset is its id.
	wqHead := ring.Add(f.wqTail, f.wqLen, f.wqSize)
	e := f.wq.At(wqHead)
	e.SetID(wqHead)
	e.SetOp(opCode)
	e.SetLen(length)
	e.SetLoff(loff)
	e.SetRoff(roff)

	// 4. Publish. The release store of the status word orders the field
	// writes before the length bump the dataplane will observe.
	e.SetStatus(ring.StatusPending)
	f.wqLen += ring.WQESize

	// 5. Bump the fast path
	newHead := ring.Add(f.wqTail, f.wqLen, f.wqSize)
	if err := f.ep.dp.WQBump(f.fs, newHead, f.cqTail); err != nil {
		// Undo the length increment (effectively revert adding the WQE)
		f.wqLen -= ring.WQESize
		return 0, WrapError(op, f.id, err)
	}

	if f.ep.observer != nil {
		f.ep.observer.ObservePost(opCode, uint64(length))
	}
	return wqHead, nil
}

// PollCompletions copies up to len(out) terminalised entries out of the
// completion region, oldest first, and returns how many were copied. If
// fewer completions are locally visible than requested, the dataplane is
// polled for more before draining.
func (f *Flow) PollCompletions(out []Completion) (int, error) {
	f.drainUpdates()

	if f.closed && f.cqLen == 0 {
		return 0, NewFlowError("CQ_POLL", f.id, ErrCodeFlowClosed, "flow closed")
	}

	if f.cqLen < uint32(len(out))*ring.WQESize {
		// fastpath-poll upcall: pull the dataplane cursors directly
		wqTail, cqHead, seq := f.fs.Cursors()
		f.applyUpdate(wqTail, cqHead, seq)
	}

	n := 0
	for f.cqLen > 0 && n < len(out) {
		e := f.wq.At(f.cqTail)
		out[n] = Completion{
			ID:     e.ID(),
			Op:     e.Op(),
			Status: e.Status(),
			Len:    e.Len(),
			Loff:   e.Loff(),
			Roff:   e.Roff(),
		}
		f.cqTail = ring.Add(f.cqTail, ring.WQESize, f.wqSize)
		f.cqLen -= ring.WQESize
		n++
	}
	return n, nil
}

// applyUpdate folds advanced dataplane cursors into the app view. Deltas
// are applied rather than recomputing distances from scratch so the byte
// counts stay correct when a region spans the whole ring. Updates older
// than the last applied sequence are dropped.
func (f *Flow) applyUpdate(wqTail, cqHead uint32, seq uint64) {
	if seq <= f.lastSeq {
		return
	}
	f.lastSeq = seq

	sent := ring.Dist(f.wqTail, wqTail, f.wqSize)
	if sent <= f.wqLen {
		f.wqLen -= sent
	}
	f.wqTail = wqTail

	done := ring.Dist(f.cqHead, cqHead, f.wqSize)
	if f.cqLen+done <= f.wqSize {
		f.cqLen += done
	}
	f.cqHead = cqHead
}

// Err returns the fatal error that killed the flow, if any.
func (f *Flow) Err() error {
	if err := f.fs.Err(); err != nil {
		return WrapError("FLOW", f.id, err)
	}
	return nil
}

// Close tears the flow down: the transport stops, every in-flight entry
// terminalises with a connection-reset status, and the remaining
// completions stay drainable through PollCompletions.
func (f *Flow) Close() error {
	if f.closed {
		return nil
	}
	f.closed = true
	err := f.runner.Close()
	f.ep.dp.Shutdown(f.fs)
	// fold the final completion update in before the flow leaves the
	// endpoint maps
	f.drainUpdates()
	f.ep.removeFlow(f)
	return err
}
