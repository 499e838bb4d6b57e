package transport

import (
	"context"
	"sync"
	"time"
)

// WaitSet blocks until one or more attached readers have data. It is the
// poll-ready primitive behind the bridge's dispatch loop.
type WaitSet struct {
	mu       sync.Mutex
	attached map[Reader]struct{}
	ready    []Reader
	readySet map[Reader]struct{}
	woken    bool
	closed   bool
	notify   chan struct{}
}

// NewWaitSet returns an empty wait set.
func NewWaitSet() *WaitSet {
	return &WaitSet{
		attached: make(map[Reader]struct{}),
		readySet: make(map[Reader]struct{}),
		notify:   make(chan struct{}, 1),
	}
}

// Attach adds r. If r already holds data it is reported ready on the next Wait.
func (w *WaitSet) Attach(r Reader) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return ErrClosed
	}
	w.attached[r] = struct{}{}
	w.mu.Unlock()

	r.SetListener(func() { w.signal(r) })
	return nil
}

// Detach removes r and drops any pending readiness for it.
func (w *WaitSet) Detach(r Reader) {
	r.SetListener(nil)

	w.mu.Lock()
	defer w.mu.Unlock()

	delete(w.attached, r)
	if _, ok := w.readySet[r]; !ok {
		return
	}
	delete(w.readySet, r)
	for i, candidate := range w.ready {
		if candidate == r {
			w.ready = append(w.ready[:i], w.ready[i+1:]...)
			break
		}
	}
}

// Len returns the number of attached readers.
func (w *WaitSet) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.attached)
}

// Wake makes a blocked or the next Wait return with no ready readers.
func (w *WaitSet) Wake() {
	w.mu.Lock()
	w.woken = true
	w.mu.Unlock()
	w.kick()
}

// Wait blocks until a reader is ready, Wake is called, timeout elapses or ctx
// is done. Ready readers are returned in the order they became ready. A
// timeout or wake yields an empty result and a nil error.
func (w *WaitSet) Wait(ctx context.Context, timeout time.Duration) ([]Reader, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		w.mu.Lock()
		if w.closed {
			w.mu.Unlock()
			return nil, ErrClosed
		}
		if len(w.ready) > 0 {
			out := w.ready
			w.ready = nil
			clear(w.readySet)
			w.mu.Unlock()
			return out, nil
		}
		if w.woken {
			w.woken = false
			w.mu.Unlock()
			return nil, nil
		}
		w.mu.Unlock()

		select {
		case <-w.notify:
		case <-timer.C:
			return nil, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Close detaches every reader and fails subsequent Waits.
func (w *WaitSet) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	readers := make([]Reader, 0, len(w.attached))
	for r := range w.attached {
		readers = append(readers, r)
	}
	w.attached = make(map[Reader]struct{})
	w.ready = nil
	clear(w.readySet)
	w.mu.Unlock()

	for _, r := range readers {
		r.SetListener(nil)
	}
	w.kick()
}

func (w *WaitSet) signal(r Reader) {
	w.mu.Lock()
	if _, ok := w.attached[r]; !ok {
		w.mu.Unlock()
		return
	}
	if _, ok := w.readySet[r]; !ok {
		w.readySet[r] = struct{}{}
		w.ready = append(w.ready, r)
	}
	w.mu.Unlock()
	w.kick()
}

func (w *WaitSet) kick() {
	select {
	case w.notify <- struct{}{}:
	default:
	}
}
