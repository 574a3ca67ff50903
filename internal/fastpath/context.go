package fastpath

import (
	"fmt"
	"sync"

	"github.com/ehrlich-b/go-rdma/internal/interfaces"
	"github.com/ehrlich-b/go-rdma/internal/ring"
)

// ArxUpdate is the dataplane-to-app completion update: one message per
// batched RX pass, carrying the advanced wq_tail and cq_head so the app
// can refresh its view of the unacked and completed regions.
type ArxUpdate struct {
	Opaque uint64
	WQTail uint32
	CQHead uint32
	Seq    uint64
}

// Config wires a dataplane context to its collaborators.
type Config struct {
	Logger   interfaces.Logger
	Observer interfaces.Observer
	Qman     interfaces.QueueManager

	// Arx delivers completion updates to the app context. Called from the
	// dataplane worker with the flow lock released.
	Arx func(ArxUpdate)

	// Kick notifies the transport that a flow staged new TX bytes.
	Kick func(flowID uint32)
}

// Context is the dataplane context for one flow-group: it owns the flow
// table and runs the bump handler, RX state machine, and TX scheduler.
type Context struct {
	logger   interfaces.Logger
	observer interfaces.Observer
	qman     interfaces.QueueManager
	arx      func(ArxUpdate)
	kick     func(uint32)

	mu    sync.Mutex
	flows map[uint32]*FlowState
}

// NewContext creates a dataplane context.
func NewContext(cfg Config) *Context {
	return &Context{
		logger:   cfg.Logger,
		observer: cfg.Observer,
		qman:     cfg.Qman,
		arx:      cfg.Arx,
		kick:     cfg.Kick,
		flows:    make(map[uint32]*FlowState),
	}
}

// AddFlow registers a flow with the context.
func (c *Context) AddFlow(fl *FlowState) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.flows[fl.id]; ok {
		return fmt.Errorf("fastpath: flow %d already registered", fl.id)
	}
	c.flows[fl.id] = fl
	return nil
}

// Flow looks up a registered flow by id.
func (c *Context) Flow(id uint32) (*FlowState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fl, ok := c.flows[id]
	return fl, ok
}

// RemoveFlow drops a flow from the table.
func (c *Context) RemoveFlow(id uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.flows, id)
}

func (c *Context) debugf(format string, args ...interface{}) {
	if c.logger != nil {
		c.logger.Debugf(format, args...)
	}
}

func (c *Context) errorf(format string, args ...interface{}) {
	if c.logger != nil {
		c.logger.Printf(format, args...)
	}
}

// fail records a fatal per-flow error. Caller holds the flow lock.
func (c *Context) fail(fl *FlowState, err error) error {
	if fl.failed == nil {
		fl.failed = err
	}
	c.errorf("flow %d: fatal: %v", fl.id, err)
	return err
}

// Shutdown terminalises every in-flight WQE with a connection-reset status
// and publishes one final completion update so the app drains them. Called
// on transport disconnect or endpoint close.
func (c *Context) Shutdown(fl *FlowState) {
	fl.lock.Lock()

	for off := fl.cqHead; off != fl.wqHead; off = ring.Add(off, ring.WQESize, fl.wqLen) {
		e := fl.wq.At(off)
		if !ring.Terminal(e.Status()) {
			e.SetStatus(ring.StatusConnReset)
		}
	}
	fl.wqTail = fl.wqHead
	fl.cqHead = fl.wqHead
	fl.updSeq++

	update := ArxUpdate{Opaque: fl.opaque, WQTail: fl.wqTail, CQHead: fl.cqHead, Seq: fl.updSeq}
	fl.lock.Unlock()

	if c.arx != nil {
		c.arx(update)
	}
}
