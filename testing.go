package rdma

import "sync"

// RecordingObserver is an Observer that counts what it sees. Useful for
// asserting dataplane behavior in tests of applications built on rdma.
type RecordingObserver struct {
	mu sync.Mutex

	Posts       int
	PostBytes   uint64
	Completions int
	TxFrames    int
	TxBytes     uint64
	RxFrames    int
	RxBytes     uint64
	Rejects     map[string]int
	Statuses    []uint32
}

// NewRecordingObserver creates an empty recording observer.
func NewRecordingObserver() *RecordingObserver {
	return &RecordingObserver{Rejects: make(map[string]int)}
}

func (o *RecordingObserver) ObservePost(op uint32, bytes uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.Posts++
	o.PostBytes += bytes
}

func (o *RecordingObserver) ObserveCompletion(status uint32) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.Completions++
	o.Statuses = append(o.Statuses, status)
}

func (o *RecordingObserver) ObserveTxFrame(bytes uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.TxFrames++
	o.TxBytes += bytes
}

func (o *RecordingObserver) ObserveRxFrame(bytes uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.RxFrames++
	o.RxBytes += bytes
}

func (o *RecordingObserver) ObserveReject(kind string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.Rejects[kind]++
}

// RejectCount returns the recorded rejections of one kind.
func (o *RecordingObserver) RejectCount(kind string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.Rejects[kind]
}

// CompletionCount returns the recorded completion count.
func (o *RecordingObserver) CompletionCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.Completions
}

// RecordingQueueManager records AddAvail notifications.
type RecordingQueueManager struct {
	mu     sync.Mutex
	Calls  []uint32 // deltas in call order
	Total  uint64
	FlowID uint32
}

func (m *RecordingQueueManager) AddAvail(flowID uint32, delta uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.FlowID = flowID
	m.Calls = append(m.Calls, delta)
	m.Total += uint64(delta)
	return nil
}

// CallCount returns how many notifications were recorded.
func (m *RecordingQueueManager) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}
