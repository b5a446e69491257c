package server

import "sync"

// sendQueue buffers a client's outbound frames so relay code never blocks on
// a slow socket. Control messages are delivered ahead of media frames.
type sendQueue struct {
	mu         sync.Mutex
	control    [][]byte
	media      [][]byte
	maxControl int
	maxMedia   int

	wake       chan struct{}
	closed     bool
	overflowed bool
	drops      uint64
}

func newSendQueue(maxControl, maxMedia int) *sendQueue {
	return &sendQueue{
		maxControl: maxControl,
		maxMedia:   maxMedia,
		wake:       make(chan struct{}, 1),
	}
}

// pushControl queues a control message. If the control queue is full the
// queue is closed and marked overflowed, so the writer hangs up.
func (q *sendQueue) pushControl(msg []byte) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	if len(q.control) >= q.maxControl {
		q.overflowed = true
		q.closeLocked()
		return false
	}
	q.control = append(q.control, msg)
	q.notify()
	return true
}

// pushMedia queues a media frame, dropping it when the media queue is full.
func (q *sendQueue) pushMedia(msg []byte) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	if len(q.media) >= q.maxMedia {
		q.drops++
		return false
	}
	q.media = append(q.media, msg)
	q.notify()
	return true
}

// pop removes the next frame without blocking.
func (q *sendQueue) pop() ([]byte, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.control) > 0 {
		msg := q.control[0]
		q.control[0] = nil
		q.control = q.control[1:]
		return msg, true
	}
	if len(q.media) > 0 {
		msg := q.media[0]
		q.media[0] = nil
		q.media = q.media[1:]
		return msg, true
	}
	return nil, false
}

// ready is signalled after every push and closed when the queue closes.
func (q *sendQueue) ready() <-chan struct{} {
	return q.wake
}

func (q *sendQueue) close() {
	q.mu.Lock()
	q.closeLocked()
	q.mu.Unlock()
}

func (q *sendQueue) closeLocked() {
	if q.closed {
		return
	}
	q.closed = true
	q.control = nil
	q.media = nil
	close(q.wake)
}

func (q *sendQueue) isClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

func (q *sendQueue) stats() (drops uint64, overflowed bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.drops, q.overflowed
}

func (q *sendQueue) notify() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}
