// Package interfaces provides internal interface definitions for go-rdma.
// These are separate from the public interfaces to avoid circular imports
// between the main package and internal packages.
package interfaces

// Logger interface for optional logging.
type Logger interface {
	Printf(format string, args ...interface{})
	Debugf(format string, args ...interface{})
}

// Observer interface for metrics collection.
// Implementations must be thread-safe as methods are called from the
// dataplane worker and the posting goroutine.
type Observer interface {
	ObservePost(op uint32, bytes uint64)
	ObserveCompletion(status uint32)
	ObserveTxFrame(bytes uint64)
	ObserveRxFrame(bytes uint64)
	ObserveReject(kind string)
}

// QueueManager receives sendable-byte notifications from the dataplane.
// The bump handler calls AddAvail when a previously-empty work queue
// gained transmittable bytes, mirroring the rate/queue manager contract
// of the byte-stream layer.
type QueueManager interface {
	AddAvail(flowID uint32, delta uint32) error
}
