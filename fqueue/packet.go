package fqueue

// DeliverFunc is the backend delivery function for a [Queue].
//
// A positive return value, conventionally the number of bytes accepted,
// means the backend consumed the payload.
// A return of exactly zero means the backend is saturated
// and the same payload must be retried later;
// the backend is then expected to call [Queue.Flush]
// once it can accept data again.
// Negative values are treated as consumed
// and passed through to completion callbacks unchanged.
//
// The queue never re-enters Deliver while a prior call
// from the same queue is still executing.
type DeliverFunc[S comparable] func(sender S, flags uint32, payload [][]byte) int

// SentFunc is a per-packet completion callback.
//
// It is invoked exactly once for every packet that carries one:
// with the delivery result when the packet is finally delivered,
// or with zero when the packet is cancelled via [Queue.Purge].
type SentFunc[S comparable] func(sender S, result int)

// packet is one queued payload awaiting delivery.
//
// The payload is owned by the packet:
// it is copied out of the caller's fragments at enqueue time,
// and it is retried verbatim until delivered or cancelled.
type packet[S comparable] struct {
	sender S
	flags  uint32

	payload []byte

	// Nil when the producer did not request notification.
	onSent SentFunc[S]
}

// newPacket concatenates the given fragments
// into a single owned contiguous payload.
func newPacket[S comparable](
	sender S, flags uint32, fragments [][]byte, onSent SentFunc[S],
) *packet[S] {
	var size int
	for _, f := range fragments {
		size += len(f)
	}

	buf := make([]byte, 0, size)
	for _, f := range fragments {
		buf = append(buf, f...)
	}

	return &packet[S]{
		sender:  sender,
		flags:   flags,
		payload: buf,
		onSent:  onSent,
	}
}
