package fastpath

import (
	"github.com/ehrlich-b/go-rdma/internal/ring"
	"github.com/ehrlich-b/go-rdma/internal/wire"
)

// requestFrame builds the outbound header for the work-queue entry at
// wq_tail and returns the payload length that follows it. WRITE requests
// carry their payload; READ requests are header-only (the responder
// generates the data).
func requestFrame(e ring.Entry) (wire.Header, uint32) {
	var opFlag uint8
	var payload uint32
	switch e.Op() {
	case ring.OpWrite:
		opFlag = wire.FlagWrite
		payload = e.Len()
	case ring.OpRead:
		opFlag = wire.FlagRead
	}
	return wire.Header{
		Type:   wire.FlagRequest | opFlag,
		ID:     e.ID(),
		Length: e.Len(),
		Offset: e.Roff(),
	}, payload
}

// responseFrame builds the outbound response header for the receive-queue
// entry at rq_tail. WRITE responses are header-only: the peer only needs
// the echoed id and the terminal status.
func responseFrame(e ring.Entry) (wire.Header, uint32) {
	return wire.Header{
		Type:   wire.FlagResponse | wire.FlagWrite,
		Status: uint8(e.Status()),
		ID:     e.ID(),
	}, 0
}

// TxPoll runs the TX scheduler for a flow and kicks the transport if new
// bytes were staged. Called when the transport frees TX budget and after
// RX passes that queued responses.
func (c *Context) TxPoll(fl *FlowState) {
	fl.lock.Lock()
	if fl.failed != nil {
		fl.lock.Unlock()
		return
	}
	oldAvail := fl.txAvail
	c.txPollLocked(fl)
	grew := fl.txAvail > oldAvail
	fl.lock.Unlock()

	if grew && c.kick != nil {
		c.kick(fl.id)
	}
}

// txPollLocked multiplexes outbound requests (work queue) and outbound
// responses (receive queue) onto the free TX budget, alternating strictly
// between the two sides. A frame's header is only emitted whole; when the
// budget runs out mid-frame the per-side tx_seq cursor records how many
// frame bytes were already pushed so the next invocation resumes in place.
// Caller holds the flow lock.
func (c *Context) txPollLocked(fl *FlowState) {
	wqHead := fl.wqHead
	wqTail := fl.wqTail
	rqHead := fl.rqHead
	rqTail := fl.rqTail
	freeTx := fl.txLen - fl.txAvail - fl.txSent

	// resume a partially-sent frame first
	var isRQE bool
	var txSeq uint32
	if fl.wqeTxSeq > 0 {
		isRQE = false
		txSeq = fl.wqeTxSeq
	} else if fl.rqeTxSeq > 0 {
		isRQE = true
		txSeq = fl.rqeTxSeq
	}

	var hdrBuf [wire.HeaderSize]byte
	for freeTx > 0 {
		// nothing in either queue
		if rqHead == rqTail && wqHead == wqTail {
			break
		}
		// nothing on the active side: flip
		if !isRQE && wqHead == wqTail {
			isRQE = true
			continue
		}
		if isRQE && rqHead == rqTail {
			isRQE = false
			continue
		}

		var e ring.Entry
		var hdr wire.Header
		var payload uint32
		if !isRQE {
			e = fl.wq.At(wqTail)
			if uint64(e.Loff())+uint64(e.Len()) > uint64(fl.mrLen) {
				// terminalise without transmitting; stay on this side
				e.SetStatus(ring.StatusOutOfBounds)
				if c.observer != nil {
					c.observer.ObserveReject("out-of-bounds")
				}
				wqTail = ring.Add(wqTail, ring.WQESize, fl.wqLen)
				txSeq = 0
				continue
			}
			hdr, payload = requestFrame(e)
		} else {
			e = fl.rq.At(rqTail)
			hdr, payload = responseFrame(e)
		}
		total := wire.HeaderSize + payload

		// a new frame's header goes out atomically
		if txSeq == 0 && freeTx < wire.HeaderSize {
			break
		}

		n := total - txSeq
		if n > freeTx {
			n = freeTx
		}
		pushed := uint32(0)
		if txSeq < wire.HeaderSize {
			wire.Marshal(&hdr, hdrBuf[:])
			h := wire.HeaderSize - txSeq
			if h > n {
				h = n
			}
			fl.stageTx(hdrBuf[txSeq : txSeq+h])
			pushed = h
		}
		if pushed < n {
			// payload bytes come straight from the memory region
			poff := e.Loff() + (txSeq + pushed - wire.HeaderSize)
			fl.stageTx(fl.mr[poff : poff+(n-pushed)])
		}
		if txSeq == 0 && e.Status() == ring.StatusPending {
			e.SetStatus(ring.StatusTxPending)
		}
		txSeq += n
		freeTx -= n

		if txSeq < total {
			// out of budget mid-frame; resume here on the next pass
			break
		}

		if c.observer != nil {
			c.observer.ObserveTxFrame(uint64(total))
		}
		if isRQE {
			// response emitted: drop the entry from the receive queue
			rqTail = ring.Add(rqTail, ring.WQESize, fl.wqLen)
		} else {
			e.SetStatus(ring.StatusRespPending)
			wqTail = ring.Add(wqTail, ring.WQESize, fl.wqLen)
		}
		txSeq = 0
		isRQE = !isRQE
	}

	if wqTail != fl.wqTail {
		fl.updSeq++
	}
	fl.wqTail = wqTail
	fl.rqTail = rqTail
	fl.wqeTxSeq = 0
	fl.rqeTxSeq = 0
	if txSeq > 0 {
		if isRQE {
			fl.rqeTxSeq = txSeq
		} else {
			fl.wqeTxSeq = txSeq
		}
	}
}

// stageTx copies frame bytes into the circular TX buffer at the fill
// position, wrapping once if needed. Caller holds the flow lock and has
// checked the budget.
func (fl *FlowState) stageTx(src []byte) {
	n := uint32(len(src))
	if fl.txProd+n > fl.txLen {
		n1 := fl.txLen - fl.txProd
		copy(fl.txBuf[fl.txProd:], src[:n1])
		copy(fl.txBuf[0:], src[n1:])
	} else {
		copy(fl.txBuf[fl.txProd:], src)
	}
	fl.txProd = ring.Add(fl.txProd, n, fl.txLen)
	fl.txAvail += n
}
