package rdma

import "github.com/ehrlich-b/go-rdma/internal/ring"

// Operation codes carried in a work-queue entry.
const (
	OpRead  = ring.OpRead
	OpWrite = ring.OpWrite
)

// WQE status codes. StatusSuccess and later are terminal completion codes
// returned through PollCompletions.
const (
	StatusPending     = ring.StatusPending
	StatusTxPending   = ring.StatusTxPending
	StatusRespPending = ring.StatusRespPending
	StatusSuccess     = ring.StatusSuccess
	StatusOutOfBounds = ring.StatusOutOfBounds
	StatusConnReset   = ring.StatusConnReset
)

// Completion is the app-side copy of a terminalised work-queue entry.
type Completion struct {
	ID     uint32 // id returned by the originating Post call
	Op     uint32 // OpRead or OpWrite
	Status uint32 // terminal status code
	Len    uint32 // request byte length
	Loff   uint32 // local offset into the memory region
	Roff   uint32 // remote offset into the peer's memory region
}

// OK reports whether the completion carries a success status.
func (c Completion) OK() bool {
	return c.Status == StatusSuccess
}
