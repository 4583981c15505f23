package fqueue

import (
	"container/list"
	"sync"
)

// DefaultCapacity is the backlog capacity used
// when [Config.Capacity] is zero.
const DefaultCapacity = 10_000

// Consumed converts a consumed payload's byte count
// into a delivery result.
//
// A result of exactly zero means saturation,
// so a backend that consumed an empty payload
// must not report its size verbatim:
// Consumed maps zero to one.
func Consumed(size int) int {
	if size <= 0 {
		return 1
	}
	return size
}

// Config is the configuration for a [Queue].
type Config[S comparable] struct {
	// The backend delivery function.
	// Required.
	Deliver DeliverFunc[S]

	// Reports whether the destination can currently accept data
	// from the given sender.
	// Consulted once per Send call,
	// before any synchronous delivery attempt.
	//
	// May be nil, in which case the destination
	// is assumed to always be ready.
	CanAccept func(S) bool

	// The maximum backlog length,
	// enforced only when appending via the Send path.
	// If zero, [DefaultCapacity] is used.
	Capacity int
}

// validate panics if there are any illegal settings in the configuration.
func (c Config[S]) validate() {
	if c.Deliver == nil {
		panic("BUG: fqueue.Config.Deliver must not be nil")
	}

	if c.Capacity < 0 {
		panic("BUG: fqueue.Config.Capacity must not be negative")
	}
}

// Queue is an ordered backlog of packets
// between a producer and a delivery backend.
//
// Send attempts synchronous delivery and falls back to queuing;
// Flush is the resumable retry pass over the backlog;
// Purge cancels all packets belonging to one sender.
//
// Insertion order is delivery order,
// and that holds across any number of stalled and resumed flushes.
//
// A Queue is safe for use from multiple goroutines,
// but the delivery protocol itself is sequential:
// while one delivery call is in flight,
// every other operation either queues or becomes a no-op,
// as documented per method.
type Queue[S comparable] struct {
	deliver   DeliverFunc[S]
	canAccept func(S) bool

	capacity int

	mu sync.Mutex

	// List of *packet[S].
	// Only the head and tail are ever touched,
	// except for Purge which scans the whole list.
	backlog *list.List

	// Reentrancy guard, not a lock: true only for the duration
	// of a single call into the deliver function.
	// The mutex is released around that call,
	// so a deliver function that calls back into this queue
	// observes delivering == true and takes the queuing paths
	// instead of recursing into another delivery.
	delivering bool
}

// New returns a Queue configured per cfg.
//
// New panics if the configuration is invalid.
func New[S comparable](cfg Config[S]) *Queue[S] {
	cfg.validate()

	capacity := cfg.Capacity
	if capacity == 0 {
		capacity = DefaultCapacity
	}

	return &Queue[S]{
		deliver:   cfg.Deliver,
		canAccept: cfg.CanAccept,
		capacity:  capacity,
		backlog:   list.New(),
	}
}

// Send attempts to deliver a single contiguous payload,
// queuing it if the backend or the destination is not ready.
//
// The return value is zero if the packet was queued (or dropped, see below)
// for later delivery, and the backend's result otherwise.
// A successful synchronous delivery also opportunistically flushes
// the backlog, since it is evidence the backend has recovered.
//
// The payload is copied if it has to be queued;
// the queue never retains caller memory past this call.
//
// If onSent is nil and the backlog is at capacity,
// the packet is silently dropped.
// Note this is deliberately narrower than "dropped whenever no
// callback is supplied": a callback-less packet still queues
// while capacity remains.
// For callers that do supply onSent, capacity is a soft limit.
func (q *Queue[S]) Send(sender S, flags uint32, payload []byte, onSent SentFunc[S]) int {
	return q.SendFragments(sender, flags, [][]byte{payload}, onSent)
}

// SendFragments is like [Queue.Send] for a fragmented payload.
//
// On a synchronous delivery the fragments are passed
// to the backend as-is;
// if the packet has to be queued, the fragments are concatenated
// into one owned contiguous payload,
// and any retry presents that payload as a single fragment.
func (q *Queue[S]) SendFragments(
	sender S, flags uint32, fragments [][]byte, onSent SentFunc[S],
) int {
	q.mu.Lock()

	if q.delivering || !q.destReady(sender) {
		q.appendLocked(sender, flags, fragments, onSent)
		q.mu.Unlock()
		return 0
	}

	ret := q.invokeLocked(sender, flags, fragments)
	if ret == 0 {
		q.appendLocked(sender, flags, fragments, onSent)
		q.mu.Unlock()
		return 0
	}

	q.mu.Unlock()

	q.Flush()

	return ret
}

// Receive forwards a single inbound payload to the deliver function.
//
// Inbound data is never queued.
// If a delivery is already in flight,
// Receive returns zero without touching any state,
// which prevents reentrant re-delivery loops.
func (q *Queue[S]) Receive(payload []byte) int {
	return q.ReceiveFragments([][]byte{payload})
}

// ReceiveFragments is like [Queue.Receive] for a fragmented payload.
func (q *Queue[S]) ReceiveFragments(fragments [][]byte) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.delivering {
		return 0
	}

	var zero S
	return q.invokeLocked(zero, 0, fragments)
}

// Flush drains the backlog from head to tail,
// attempting delivery for each packet in order.
//
// The moment the backend signals saturation,
// the rejected packet is restored to the head of the backlog
// and Flush reports false: the next Flush call retries
// that exact packet first, preserving order across stalls.
//
// Flush reports true only if the backlog was fully drained.
// Invoked while a delivery is already in flight,
// it does nothing and reports false.
//
// Backends are expected to call Flush whenever they transition
// from saturated back to ready.
func (q *Queue[S]) Flush() bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.flushLocked()
}

// Purge removes every backlog packet whose sender equals the given identity,
// invoking each removed packet's completion callback, if present,
// with a result of zero.
//
// The relative order of the remaining packets is preserved.
//
// Purge is how a sender being destroyed or disconnected guarantees
// no pending completion notification outlives it.
func (q *Queue[S]) Purge(sender S) {
	q.mu.Lock()

	var cancelled []*packet[S]
	for e := q.backlog.Front(); e != nil; {
		next := e.Next()

		pkt := e.Value.(*packet[S])
		if pkt.sender == sender {
			q.backlog.Remove(e)
			if pkt.onSent != nil {
				cancelled = append(cancelled, pkt)
			}
		}

		e = next
	}

	q.mu.Unlock()

	// Callbacks run outside the queue lock
	// so they are free to call back into the queue.
	for _, pkt := range cancelled {
		pkt.onSent(pkt.sender, 0)
	}
}

// Close discards every remaining packet
// without invoking any completion callbacks.
//
// Close does not disable the queue:
// it is a discard, not a terminal state,
// and packets sent afterward queue and deliver as usual.
// This is abrupt teardown: callers that need notification on shutdown
// must call [Queue.Purge] per sender first.
func (q *Queue[S]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.backlog.Init()
}

// Len returns the current backlog length.
func (q *Queue[S]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.backlog.Len()
}

func (q *Queue[S]) destReady(sender S) bool {
	return q.canAccept == nil || q.canAccept(sender)
}

// appendLocked appends a packet to the tail of the backlog,
// subject to the capacity policy:
// at capacity, a packet with no completion callback is dropped.
// Flush never goes through here,
// so head reinsertion is not capacity-checked.
func (q *Queue[S]) appendLocked(
	sender S, flags uint32, fragments [][]byte, onSent SentFunc[S],
) {
	if q.backlog.Len() >= q.capacity && onSent == nil {
		// Drop rather than queue without bound.
		// The caller cannot observe the difference anyway:
		// it did not ask for a completion callback.
		return
	}

	q.backlog.PushBack(newPacket(sender, flags, fragments, onSent))
}

// invokeLocked calls the deliver function under the reentrancy guard.
//
// The caller must hold q.mu; the mutex is released for the duration
// of the delivery call and reacquired before returning.
func (q *Queue[S]) invokeLocked(sender S, flags uint32, payload [][]byte) int {
	q.delivering = true
	q.mu.Unlock()

	ret := q.deliver(sender, flags, payload)

	q.mu.Lock()
	q.delivering = false

	return ret
}

func (q *Queue[S]) flushLocked() bool {
	if q.delivering {
		return false
	}

	for q.backlog.Len() > 0 {
		front := q.backlog.Front()
		pkt := front.Value.(*packet[S])
		q.backlog.Remove(front)

		ret := q.invokeLocked(pkt.sender, pkt.flags, [][]byte{pkt.payload})
		if ret == 0 {
			// Saturated again.
			// Restore the packet so the next Flush
			// retries it before anything else.
			q.backlog.PushFront(pkt)
			return false
		}

		if pkt.onSent != nil {
			// Same rationale as in Purge:
			// the callback may call back into the queue.
			// The delivering flag stays set until the callback returns,
			// keeping the flush pass exclusive:
			// a concurrent Flush in this window is a no-op,
			// and a Send queues instead of delivering.
			q.delivering = true
			q.mu.Unlock()
			pkt.onSent(pkt.sender, ret)
			q.mu.Lock()
			q.delivering = false
		}
	}

	return true
}
