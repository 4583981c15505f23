package ftest

// Delivery is one payload accepted by a [Backend].
type Delivery[S comparable] struct {
	Sender S
	Flags  uint32

	// Concatenation of the delivered fragments.
	Payload []byte

	// Number of fragments the payload arrived in.
	Fragments int
}

// Backend is a scripted delivery backend for queue tests.
//
// It is driven synchronously by the queue under test,
// so tests mutate its fields directly between operations;
// it is not safe for concurrent use.
type Backend[S comparable] struct {
	// While true, every delivery is rejected with a zero result.
	Saturated bool

	// Payloads accepted so far, in delivery order.
	Deliveries []Delivery[S]

	// Number of deliveries rejected while saturated.
	Rejected int

	// When non-nil, runs at the start of every delivery attempt,
	// before the saturation check.
	// Tests use this to call back into the queue under test,
	// simulating a reentrant backend.
	Hook func(sender S, flags uint32, payload [][]byte)
}

// Deliver is the delivery function of this backend,
// matching the queue package's DeliverFunc shape.
func (b *Backend[S]) Deliver(sender S, flags uint32, payload [][]byte) int {
	if b.Hook != nil {
		b.Hook(sender, flags, payload)
	}

	if b.Saturated {
		b.Rejected++
		return 0
	}

	var flat []byte
	for _, f := range payload {
		flat = append(flat, f...)
	}

	b.Deliveries = append(b.Deliveries, Delivery[S]{
		Sender:    sender,
		Flags:     flags,
		Payload:   flat,
		Fragments: len(payload),
	})

	return len(flat)
}
