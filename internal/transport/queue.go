package transport

import "sync"

// DefaultQueueCapacity is the history depth used when a reader is created
// with a queue capacity of 0.
const DefaultQueueCapacity = 256

// SampleQueue is a bounded FIFO with keep-last semantics: when full, the
// oldest sample is evicted to make room. Providers use it as the buffer
// behind their Reader implementations.
type SampleQueue struct {
	mu       sync.Mutex
	buf      []Sample // ring storage, grown on demand up to capacity
	head     int
	n        int
	capacity int
	dropped  uint64
	listener func()
	closed   bool
}

// NewSampleQueue returns a queue holding at most capacity samples.
func NewSampleQueue(capacity int) *SampleQueue {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	return &SampleQueue{
		buf:      make([]Sample, min(capacity, 64)),
		capacity: capacity,
	}
}

// Push appends s and notifies the listener. It reports false if the queue is
// closed.
func (q *SampleQueue) Push(s Sample) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	if q.n == len(q.buf) {
		if len(q.buf) < q.capacity {
			q.grow(min(q.capacity, 2*len(q.buf)))
		} else {
			q.buf[q.head] = Sample{}
			q.head = (q.head + 1) % len(q.buf)
			q.n--
			q.dropped++
		}
	}
	q.buf[(q.head+q.n)%len(q.buf)] = s
	q.n++
	fn := q.listener
	q.mu.Unlock()

	if fn != nil {
		fn()
	}
	return true
}

// Take drains the queue.
func (q *SampleQueue) Take() ([]Sample, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil, ErrClosed
	}
	if q.n == 0 {
		return nil, nil
	}
	out := make([]Sample, q.n)
	q.copyTo(out)
	clear(q.buf)
	q.head, q.n = 0, 0
	return out, nil
}

// grow reallocates the ring with size slots, unrolling it to start at 0.
func (q *SampleQueue) grow(size int) {
	buf := make([]Sample, size)
	q.copyTo(buf)
	q.buf = buf
	q.head = 0
}

// copyTo copies the buffered samples in arrival order into dst.
func (q *SampleQueue) copyTo(dst []Sample) {
	k := copy(dst, q.buf[q.head:min(q.head+q.n, len(q.buf))])
	copy(dst[k:q.n], q.buf[:q.n-k])
}

// SetListener installs fn. fn runs outside the queue lock.
func (q *SampleQueue) SetListener(fn func()) {
	q.mu.Lock()
	q.listener = fn
	pending := q.n > 0 && !q.closed
	q.mu.Unlock()

	if fn != nil && pending {
		fn()
	}
}

// Len returns the number of buffered samples.
func (q *SampleQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.n
}

// Capacity returns the history depth.
func (q *SampleQueue) Capacity() int {
	return q.capacity
}

// Dropped returns how many samples were evicted because the queue was full.
func (q *SampleQueue) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

// Close discards buffered samples and rejects further pushes.
func (q *SampleQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.buf = nil
	q.head, q.n = 0, 0
	q.listener = nil
}
