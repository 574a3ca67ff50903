// Package ring implements the shared work-queue ring: a flat byte buffer
// holding fixed-size work-queue entries, addressed by byte offset. Entries
// are views over the buffer, never owned objects; an entry's offset doubles
// as its id. Four cursors (cq_tail, cq_head, wq_tail, wq_head) partition
// the ring; the cursor arithmetic helpers here are shared by the app-side
// producer and the dataplane.
package ring

import (
	"fmt"
	"sync/atomic"
	"unsafe"
)

// WQESize is the fixed size of a work-queue entry in bytes.
const WQESize = 24

// Operation codes stored in a WQE's type field.
const (
	OpRead  uint32 = 1
	OpWrite uint32 = 2
)

// WQE status codes. Terminal codes fit in the one-byte status field of a
// response header.
const (
	StatusPending     uint32 = 1 // posted, not yet picked up for transmit
	StatusTxPending   uint32 = 2 // first byte admitted to the TX buffer
	StatusRespPending uint32 = 3 // fully transmitted, awaiting peer response
	StatusSuccess     uint32 = 4 // terminal: completed
	StatusOutOfBounds uint32 = 5 // terminal: offset+length exceeded the region
	StatusConnReset   uint32 = 6 // terminal: flow torn down while in flight
)

// Field offsets within a WQE. All fields are 32-bit and 4-byte aligned so
// the status word can be accessed atomically across the producer/dataplane
// boundary.
const (
	idOffset     = 0
	typeOffset   = 4
	statusOffset = 8
	lenOffset    = 12
	loffOffset   = 16
	roffOffset   = 20
)

// Buf wraps a flat byte buffer holding WQEs. The same backing array is
// shared between the app-visible and dataplane-visible sides of a flow.
type Buf struct {
	b []byte
}

// New allocates a ring buffer for the given number of entries.
func New(entries int) (Buf, error) {
	if entries <= 0 {
		return Buf{}, fmt.Errorf("ring: entries must be positive, got %d", entries)
	}
	return Buf{b: make([]byte, entries*WQESize)}, nil
}

// Size returns the ring length in bytes.
func (r Buf) Size() uint32 {
	return uint32(len(r.b))
}

// At returns the entry view at the given byte offset. The offset must be
// a multiple of WQESize and inside the ring.
func (r Buf) At(off uint32) Entry {
	return Entry{b: r.b[off : off+WQESize : off+WQESize]}
}

// Entry is a view over one WQE's bytes. Field accessors use native-endian
// loads and stores; Status uses atomics because it is the publication word
// read across the producer/dataplane boundary.
type Entry struct {
	b []byte
}

func (e Entry) u32(off uintptr) *uint32 {
	return (*uint32)(unsafe.Pointer(&e.b[off]))
}

// ID returns the entry id (its slot byte offset at creation time).
func (e Entry) ID() uint32 { return *e.u32(idOffset) }

// SetID stores the entry id.
func (e Entry) SetID(v uint32) { *e.u32(idOffset) = v }

// Op returns the operation code.
func (e Entry) Op() uint32 { return *e.u32(typeOffset) }

// SetOp stores the operation code.
func (e Entry) SetOp(v uint32) { *e.u32(typeOffset) = v }

// Status atomically loads the status word.
func (e Entry) Status() uint32 { return atomic.LoadUint32(e.u32(statusOffset)) }

// SetStatus atomically stores the status word. The release ordering of the
// store publishes all prior field writes to the other side.
func (e Entry) SetStatus(v uint32) { atomic.StoreUint32(e.u32(statusOffset), v) }

// Len returns the request byte length.
func (e Entry) Len() uint32 { return *e.u32(lenOffset) }

// SetLen stores the request byte length.
func (e Entry) SetLen(v uint32) { *e.u32(lenOffset) = v }

// Loff returns the local offset into the memory region.
func (e Entry) Loff() uint32 { return *e.u32(loffOffset) }

// SetLoff stores the local offset.
func (e Entry) SetLoff(v uint32) { *e.u32(loffOffset) = v }

// Roff returns the remote offset into the peer's memory region.
func (e Entry) Roff() uint32 { return *e.u32(roffOffset) }

// SetRoff stores the remote offset.
func (e Entry) SetRoff(v uint32) { *e.u32(roffOffset) = v }

// Add advances a cursor by delta modulo size.
func Add(off, delta, size uint32) uint32 {
	off += delta
	if off >= size {
		off -= size
	}
	return off
}

// Dist returns the forward byte distance from one cursor to another,
// modulo size. Equal cursors have distance zero.
func Dist(from, to, size uint32) uint32 {
	if to >= from {
		return to - from
	}
	return size - from + to
}

// Terminal reports whether a status code is a terminal completion code.
func Terminal(status uint32) bool {
	return status == StatusSuccess || status == StatusOutOfBounds || status == StatusConnReset
}
