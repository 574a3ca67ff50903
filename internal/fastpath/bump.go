package fastpath

import (
	"errors"
	"fmt"

	"github.com/ehrlich-b/go-rdma/internal/ring"
)

// ErrBumpRejected is returned when an app-supplied cursor pair would break
// the ring partition. Treated as a logic bug on the posting side; the
// cursors are left unchanged.
var ErrBumpRejected = errors.New("bump rejected")

// WQBump applies the app's advanced cursors (new wq_head from posting, new
// cq_tail from completion draining) to the flow. A bump must extend the
// pending and free regions forward without swallowing an intermediate
// cursor; anything else is rejected.
//
// Work queue regions:
//
//	!!!!!!!!!!!!+++++++++++++%%%%%%%%%%%%%^^^^^^^^^^^^^!!!!!!!!!!!!!
//	||------------A------------B------------C------------D------------||
//
//	A: cq_tail            !: Free/Unallocated WQEs
//	B: cq_head            +: Completed WQEs unread by app
//	C: wq_tail            %: Unack'd WQEs - req. sent but not ack'd
//	D: wq_head            ^: Pending WQEs - req. not yet sent
//
//	NOTE: head is always non-inclusive - i.e. [tail, head)
//
// If the work queue was previously empty, the TX scheduler runs and any
// growth in the sendable-byte estimate is reported to the queue manager.
func (c *Context) WQBump(fl *FlowState, newWQHead, newCQTail uint32) error {
	fl.lock.Lock()

	if fl.failed != nil {
		err := fl.failed
		fl.lock.Unlock()
		return err
	}

	wqLen := fl.wqLen
	wqHead := fl.wqHead
	wqTail := fl.wqTail
	cqHead := fl.cqHead
	cqTail := fl.cqTail

	invalid := newWQHead >= wqLen || newCQTail >= wqLen ||
		newWQHead%ring.WQESize != 0 || newCQTail%ring.WQESize != 0 ||
		// wq_head may only move forward
		ring.Dist(wqTail, newWQHead, wqLen) < ring.Dist(wqTail, wqHead, wqLen) ||
		// cq_tail must not land inside the unacked or pending regions
		// [cq_head, wq_head). cq_head itself is the fully-reclaimed
		// boundary, legal even when the completed region spans the ring.
		(newCQTail != cqHead &&
			ring.Dist(cqHead, newCQTail, wqLen) < ring.Dist(cqHead, wqHead, wqLen)) ||
		// the cursors must still partition the ring in order:
		// new cq_tail -> cq_head -> wq_tail -> new wq_head within one lap
		ring.Dist(newCQTail, cqHead, wqLen)+
			ring.Dist(cqHead, wqTail, wqLen)+
			ring.Dist(wqTail, newWQHead, wqLen) > wqLen

	if invalid {
		fl.lock.Unlock()
		c.errorf("invalid bump flow=%d len=%d wq_head=%d wq_tail=%d cq_head=%d cq_tail=%d new_wq_head=%d new_cq_tail=%d",
			fl.id, wqLen, wqHead, wqTail, cqHead, cqTail, newWQHead, newCQTail)
		if c.observer != nil {
			c.observer.ObserveReject("bump")
		}
		return fmt.Errorf("%w: flow %d new_wq_head=%d new_cq_tail=%d", ErrBumpRejected, fl.id, newWQHead, newCQTail)
	}

	fl.wqHead = newWQHead
	fl.cqTail = newCQTail

	// No pending work-queue requests previously: the scheduler is idle for
	// this flow, run it now and report any new sendable bytes.
	var delta uint32
	if wqHead == wqTail {
		oldAvail := fl.txAvail
		c.txPollLocked(fl)
		if fl.txAvail > oldAvail {
			delta = fl.txAvail - oldAvail
		}
	}
	fl.lock.Unlock()

	if delta > 0 {
		if c.qman != nil {
			if err := c.qman.AddAvail(fl.id, delta); err != nil {
				c.errorf("flow %d: queue manager AddAvail failed: %v", fl.id, err)
			}
		}
		if c.kick != nil {
			c.kick(fl.id)
		}
	}
	return nil
}
