// Package fastpath implements the dataplane side of a flow: the work-queue
// bump handler, the receive-side protocol state machine, and the transmit
// scheduler. One FlowState per connected flow; a single per-flow spinlock
// protects all four cursors and both rings. The app-side producer never
// takes the lock - it publishes WQE bytes with an atomic status store and
// synchronises through the bump upcall.
package fastpath

import (
	"fmt"

	"github.com/ehrlich-b/go-rdma/internal/ring"
	"github.com/ehrlich-b/go-rdma/internal/wire"
)

// pendingRqState values. Values in [0, wire.HeaderSize) count header bytes
// accumulated so far (the PARSE state, 0 meaning between frames);
// pendingData marks the DATA state, absorbing payload for the WQE at
// rq_head.
const pendingData = 0x10

// FlowConfig sizes a flow's rings and buffers.
type FlowConfig struct {
	ID     uint32
	Opaque uint64

	MemoryRegionSize int
	RingEntries      int
	TxBufferSize     int
	RxBufferSize     int
}

// FlowState is the dataplane's view of one connected flow. The WQ ring and
// memory region backing arrays are shared with the app-side Flow.
type FlowState struct {
	lock spinLock

	id     uint32
	opaque uint64

	// registered memory region, addressable by the peer
	mr    []byte
	mrLen uint32

	// work-queue ring, shared with the app side. Four cursors partition
	// it: [cqTail,cqHead) completed, [cqHead,wqTail) unacked,
	// [wqTail,wqHead) pending transmit, [wqHead,cqTail) free.
	wq     ring.Buf
	wqLen  uint32
	wqHead uint32
	wqTail uint32
	cqHead uint32
	cqTail uint32

	// receive-queue ring staging inbound remote requests
	rq     ring.Buf
	rqHead uint32
	rqTail uint32

	// updSeq orders app-visible cursor updates: bumped whenever wqTail
	// or cqHead move, so the app can discard a stale update that arrives
	// after a fresher direct pull
	updSeq uint64

	// receive-side framing
	pendingRqState uint32
	pendingRqBuf   [wire.HeaderSize]byte

	// transmit staging buffer (circular)
	txBuf   []byte
	txLen   uint32
	txProd  uint32 // scheduler fill position
	txCons  uint32 // transport drain position
	txAvail uint32 // staged, not yet taken by the transport
	txSent  uint32 // taken by the transport, not yet on the wire

	// partial-send cursors: bytes of the current frame already pushed
	wqeTxSeq uint32
	rqeTxSeq uint32

	// receive staging buffer (circular), filled by the transport
	rxBuf   []byte
	rxLen   uint32
	rxHead  uint32 // state machine consume position
	rxProd  uint32 // transport fill position
	rxFree  uint32 // transport write budget
	rxAvail uint32 // consumed bytes not yet credited back

	failed error
}

// NewFlowState allocates the rings and buffers for one flow.
func NewFlowState(cfg FlowConfig) (*FlowState, error) {
	if cfg.MemoryRegionSize <= 0 {
		return nil, fmt.Errorf("fastpath: memory region size must be positive, got %d", cfg.MemoryRegionSize)
	}
	if cfg.RingEntries <= 0 {
		return nil, fmt.Errorf("fastpath: ring entries must be positive, got %d", cfg.RingEntries)
	}
	if cfg.TxBufferSize < wire.HeaderSize || cfg.RxBufferSize < wire.HeaderSize {
		return nil, fmt.Errorf("fastpath: tx/rx buffers must hold at least one header (%d bytes)", wire.HeaderSize)
	}

	wq, err := ring.New(cfg.RingEntries)
	if err != nil {
		return nil, err
	}
	rq, err := ring.New(cfg.RingEntries)
	if err != nil {
		return nil, err
	}

	return &FlowState{
		id:     cfg.ID,
		opaque: cfg.Opaque,
		mr:     make([]byte, cfg.MemoryRegionSize),
		mrLen:  uint32(cfg.MemoryRegionSize),
		wq:     wq,
		wqLen:  wq.Size(),
		rq:     rq,
		txBuf:  make([]byte, cfg.TxBufferSize),
		txLen:  uint32(cfg.TxBufferSize),
		rxBuf:  make([]byte, cfg.RxBufferSize),
		rxLen:  uint32(cfg.RxBufferSize),
		rxFree: uint32(cfg.RxBufferSize),
	}, nil
}

// ID returns the flow id.
func (fl *FlowState) ID() uint32 { return fl.id }

// Opaque returns the app-supplied opaque tag echoed in ARX updates.
func (fl *FlowState) Opaque() uint64 { return fl.opaque }

// Region returns the registered memory region. The app owns offsets it has
// not posted; the dataplane scatters inbound WRITE payloads into it.
func (fl *FlowState) Region() []byte { return fl.mr }

// WorkQueue returns the shared work-queue ring.
func (fl *FlowState) WorkQueue() ring.Buf { return fl.wq }

// RingSize returns the work-queue ring length in bytes.
func (fl *FlowState) RingSize() uint32 { return fl.wqLen }

// Err returns the fatal error that killed the flow, if any.
func (fl *FlowState) Err() error {
	fl.lock.Lock()
	defer fl.lock.Unlock()
	return fl.failed
}

// Cursors returns the dataplane cursors and their update sequence for the
// app's pull path (the fastpath-poll upcall).
func (fl *FlowState) Cursors() (wqTail, cqHead uint32, seq uint64) {
	fl.lock.Lock()
	defer fl.lock.Unlock()
	return fl.wqTail, fl.cqHead, fl.updSeq
}

// TxTake hands staged TX bytes to the transport. It returns up to two
// segments of the circular buffer covering everything staged and moves
// those bytes from the staged to the in-flight account. The segments stay
// valid until TxComplete reclaims the space.
func (fl *FlowState) TxTake() (a, b []byte) {
	fl.lock.Lock()
	defer fl.lock.Unlock()

	n := fl.txAvail
	if n == 0 {
		return nil, nil
	}
	if fl.txCons+n > fl.txLen {
		n1 := fl.txLen - fl.txCons
		a = fl.txBuf[fl.txCons:fl.txLen]
		b = fl.txBuf[:n-n1]
	} else {
		a = fl.txBuf[fl.txCons : fl.txCons+n]
	}
	fl.txCons = ring.Add(fl.txCons, n, fl.txLen)
	fl.txSent += n
	fl.txAvail = 0
	return a, b
}

// TxComplete releases in-flight TX bytes after the transport has written
// them to the wire, freeing scheduler budget.
func (fl *FlowState) TxComplete(n uint32) {
	fl.lock.Lock()
	defer fl.lock.Unlock()
	if n > fl.txSent {
		n = fl.txSent
	}
	fl.txSent -= n
}

// RxWritable returns the transport's current write budget and the two
// circular-buffer segments it may fill, starting at the fill position.
func (fl *FlowState) RxWritable() (a, b []byte) {
	fl.lock.Lock()
	defer fl.lock.Unlock()

	n := fl.rxFree
	if n == 0 {
		return nil, nil
	}
	if fl.rxProd+n > fl.rxLen {
		n1 := fl.rxLen - fl.rxProd
		a = fl.rxBuf[fl.rxProd:fl.rxLen]
		b = fl.rxBuf[:n-n1]
	} else {
		a = fl.rxBuf[fl.rxProd : fl.rxProd+n]
	}
	return a, b
}

// RxProduce commits n received bytes at the fill position and returns the
// previous consume position for the RQ bump.
func (fl *FlowState) RxProduce(n uint32) (prevRxHead uint32) {
	fl.lock.Lock()
	defer fl.lock.Unlock()
	prevRxHead = fl.rxHead
	fl.rxProd = ring.Add(fl.rxProd, n, fl.rxLen)
	fl.rxFree -= n
	return prevRxHead
}

// TakeRxCredit returns receive credit accumulated by the state machine to
// the transport's write budget and reports how many bytes were released.
func (fl *FlowState) TakeRxCredit() uint32 {
	fl.lock.Lock()
	defer fl.lock.Unlock()
	n := fl.rxAvail
	fl.rxAvail = 0
	fl.rxFree += n
	return n
}
