package fastpath

import (
	"errors"
	"fmt"

	"github.com/ehrlich-b/go-rdma/internal/ring"
	"github.com/ehrlich-b/go-rdma/internal/wire"
)

// ErrProtocolViolation is returned on a malformed type byte or a response
// id mismatch. Fatal for the flow.
var ErrProtocolViolation = errors.New("protocol violation")

// ErrNotImplemented is returned when a one-sided READ frame arrives. READ
// scheduling and completion semantics are not defined at this layer; the
// flow is killed rather than guessing.
var ErrNotImplemented = errors.New("not implemented")

// RQBump drains rxBump newly received bytes from the flow's circular
// receive buffer, starting at prevRxHead. Bytes are framed into 16-byte
// headers; WRITE request payloads scatter directly into the memory region
// (or are discarded, but still credited, for out-of-bounds requests);
// WRITE responses resolve against the oldest RESP_PENDING work-queue
// entry. One batched completion update goes to the app after the pass if
// any response landed.
//
// A returned error is fatal for the flow: the cursors consumed so far are
// persisted, the flow is marked failed, and the caller is expected to tear
// the transport down.
func (c *Context) RQBump(fl *FlowState, prevRxHead, rxBump uint32) error {
	fl.lock.Lock()

	if fl.failed != nil {
		err := fl.failed
		fl.lock.Unlock()
		return err
	}

	rqHead := fl.rqHead
	rqLen := fl.wqLen // receive queue ring is sized like the work queue
	rxHead := prevRxHead

	cqBump := false

	for rxBump > 0 {
		if fl.pendingRqState == pendingData {
			// absorbing payload for the request staged at rq_head
			e := fl.rq.At(rqHead)
			n := e.Len()
			if rxBump < n {
				n = rxBump
			}
			if e.Status() == ring.StatusPending {
				loff := e.Loff()
				fl.rxCopy(rxHead, n, fl.mr[loff:loff+n])
			} else {
				// out-of-bounds request: consume the payload without
				// applying it so receive credit still flows back
				fl.rxAvail += n
			}

			rxHead = ring.Add(rxHead, n, fl.rxLen)
			rxBump -= n
			e.SetLen(e.Len() - n)
			e.SetLoff(e.Loff() + n)

			if e.Len() == 0 {
				if e.Status() == ring.StatusPending {
					e.SetStatus(ring.StatusSuccess)
				}
				fl.pendingRqState = 0
				rqHead = ring.Add(rqHead, ring.WQESize, rqLen)
			}
			continue
		}

		// accumulating the next header
		n := wire.HeaderSize - fl.pendingRqState
		if rxBump < n {
			n = rxBump
		}
		fl.rxCopy(rxHead, n, fl.pendingRqBuf[fl.pendingRqState:fl.pendingRqState+n])
		rxHead = ring.Add(rxHead, n, fl.rxLen)
		rxBump -= n
		fl.pendingRqState += n
		if fl.pendingRqState < wire.HeaderSize {
			continue
		}

		var hdr wire.Header
		if err := wire.Unmarshal(fl.pendingRqBuf[:], &hdr); err != nil {
			return c.failLocked(fl, rqHead, rxHead, err)
		}

		switch hdr.Type {
		case wire.FlagResponse | wire.FlagRead:
			return c.failLocked(fl, rqHead, rxHead,
				fmt.Errorf("%w: READ response", ErrNotImplemented))

		case wire.FlagResponse | wire.FlagWrite:
			// no payload follows a WRITE response
			fl.pendingRqState = 0
			if err := c.cqBumpLocked(fl, hdr.ID, uint32(hdr.Status)); err != nil {
				return c.failLocked(fl, rqHead, rxHead, err)
			}
			cqBump = true
			if c.observer != nil {
				c.observer.ObserveRxFrame(uint64(wire.HeaderSize))
			}

		case wire.FlagRequest | wire.FlagRead:
			return c.failLocked(fl, rqHead, rxHead,
				fmt.Errorf("%w: READ request", ErrNotImplemented))

		case wire.FlagRequest | wire.FlagWrite:
			e := fl.rq.At(rqHead)
			e.SetID(hdr.ID)
			e.SetOp(ring.OpWrite)
			e.SetLen(hdr.Length)
			e.SetLoff(hdr.Offset)
			e.SetRoff(0)
			if uint64(hdr.Offset)+uint64(hdr.Length) > uint64(fl.mrLen) {
				e.SetStatus(ring.StatusOutOfBounds)
				if c.observer != nil {
					c.observer.ObserveReject("out-of-bounds")
				}
			} else {
				e.SetStatus(ring.StatusPending)
			}
			// the slot stays at rq_head until the payload fully lands
			fl.pendingRqState = pendingData
			if c.observer != nil {
				c.observer.ObserveRxFrame(uint64(wire.HeaderSize) + uint64(hdr.Length))
			}

		default:
			return c.failLocked(fl, rqHead, rxHead,
				fmt.Errorf("%w: invalid type byte 0x%02x", ErrProtocolViolation, hdr.Type))
		}
	}

	fl.rqHead = rqHead
	fl.rxHead = rxHead

	var update ArxUpdate
	if cqBump {
		update = ArxUpdate{Opaque: fl.opaque, WQTail: fl.wqTail, CQHead: fl.cqHead, Seq: fl.updSeq}
	}
	fl.lock.Unlock()

	if cqBump && c.arx != nil {
		c.arx(update)
	}
	return nil
}

// failLocked persists the consumed cursors, marks the flow failed, and
// unlocks. Returns the error for the caller to surface.
func (c *Context) failLocked(fl *FlowState, rqHead, rxHead uint32, err error) error {
	fl.rqHead = rqHead
	fl.rxHead = rxHead
	err = c.fail(fl, err)
	fl.lock.Unlock()
	if c.observer != nil {
		c.observer.ObserveReject("protocol")
	}
	return err
}

// cqBumpLocked resolves an inbound WRITE response: it advances cq_head
// past already-terminal entries to the first RESP_PENDING one, whose id
// must match the response. Caller holds the flow lock.
func (c *Context) cqBumpLocked(fl *FlowState, id, status uint32) error {
	cqHead := fl.cqHead
	wqTail := fl.wqTail

	for cqHead != wqTail {
		e := fl.wq.At(cqHead)
		if e.Status() == ring.StatusRespPending {
			if e.ID() != id {
				return fmt.Errorf("%w: response id %d, expected %d",
					ErrProtocolViolation, id, e.ID())
			}
			e.SetStatus(status)
			cqHead = ring.Add(cqHead, ring.WQESize, fl.wqLen)
			break
		}
		cqHead = ring.Add(cqHead, ring.WQESize, fl.wqLen)
	}

	if cqHead != fl.cqHead {
		fl.updSeq++
	}
	fl.cqHead = cqHead
	if c.observer != nil {
		c.observer.ObserveCompletion(status)
	}
	return nil
}

// rxCopy copies n bytes out of the circular receive buffer starting at
// rxHead into dst, wrapping once if the range straddles the end, and
// accrues the consumed bytes as receive credit.
func (fl *FlowState) rxCopy(rxHead, n uint32, dst []byte) {
	if rxHead+n > fl.rxLen {
		n1 := fl.rxLen - rxHead
		copy(dst[:n1], fl.rxBuf[rxHead:])
		copy(dst[n1:], fl.rxBuf[:n-n1])
	} else {
		copy(dst, fl.rxBuf[rxHead:rxHead+n])
	}
	fl.rxAvail += n
}
