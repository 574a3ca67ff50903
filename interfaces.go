package rdma

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

// QueueManager receives sendable-byte notifications from the dataplane:
// AddAvail is called when a previously-idle flow staged new TX bytes.
// Implementations feed the rate/queue management of the byte-stream layer.
type QueueManager interface {
	AddAvail(flowID uint32, delta uint32) error
}
