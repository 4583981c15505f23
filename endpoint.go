package finch

import (
	"io"
	"log/slog"
	"sync"

	"github.com/finchnet/finch/fqueue"
)

// ReceiveFunc handles a payload delivered to an endpoint.
//
// src is the endpoint that produced the packet,
// or nil for data injected through the inbound receive path.
// The return value follows the queue convention:
// positive (conventionally the byte count) when the payload was consumed,
// and exactly zero when the handler is saturated
// and the payload must be retried later.
type ReceiveFunc func(src *Endpoint, flags uint32, payload [][]byte) int

// SentFunc is the per-packet completion callback type
// for the endpoint send methods.
type SentFunc = fqueue.SentFunc[*Endpoint]

// EndpointConfig is the configuration for an [Endpoint].
type EndpointConfig struct {
	// Name identifies the endpoint in logs. Required.
	Name string

	// Receive handles payloads delivered to this endpoint. Required.
	Receive ReceiveFunc

	// CanReceive reports whether the endpoint
	// can currently accept a payload.
	// Senders consult it before attempting synchronous delivery.
	//
	// May be nil, in which case the endpoint is assumed ready
	// except while recovering from a saturated Receive.
	CanReceive func() bool

	// Capacity of the incoming packet queue.
	// If zero, [fqueue.DefaultCapacity] is used.
	QueueCapacity int
}

// validate panics if there are any illegal settings in the configuration.
func (c EndpointConfig) validate() {
	if c.Name == "" {
		panic("BUG: EndpointConfig.Name must not be empty")
	}

	if c.Receive == nil {
		panic("BUG: EndpointConfig.Receive must not be nil")
	}

	if c.QueueCapacity < 0 {
		panic("BUG: EndpointConfig.QueueCapacity must not be negative")
	}
}

// Endpoint is one named client of the packet fabric.
//
// Every endpoint owns an incoming delivery queue.
// Sending from an endpoint enqueues into its peer's queue,
// with this endpoint as the sender identity,
// so that [Endpoint.Close] can cancel exactly its own pending packets.
type Endpoint struct {
	log *slog.Logger

	name string

	// Incoming queue: packets other endpoints send to us.
	in *fqueue.Queue[*Endpoint]

	mu   sync.Mutex
	peer *Endpoint

	linkDown bool

	// Set when Receive reports saturation,
	// cleared by FlushIncoming.
	// While set, senders observe this endpoint as not ready,
	// sparing the backend pointless delivery attempts.
	recvDisabled bool

	receive    ReceiveFunc
	canReceive func() bool
}

// NewEndpoint returns an Endpoint configured per cfg.
//
// A nil log discards all log output.
// NewEndpoint panics if the configuration is invalid.
func NewEndpoint(log *slog.Logger, cfg EndpointConfig) *Endpoint {
	cfg.validate()

	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	e := &Endpoint{
		log: log,

		name: cfg.Name,

		receive:    cfg.Receive,
		canReceive: cfg.CanReceive,
	}

	e.in = fqueue.New(fqueue.Config[*Endpoint]{
		Deliver: e.deliverIncoming,
		CanAccept: func(*Endpoint) bool {
			return e.canReceiveNow()
		},
		Capacity: cfg.QueueCapacity,
	})

	return e
}

// Name returns the endpoint's configured name.
func (e *Endpoint) Name() string {
	return e.name
}

// Peer returns the endpoint this endpoint is paired with,
// or nil if unpaired.
func (e *Endpoint) Peer() *Endpoint {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.peer
}

// Pair connects two endpoints so that each one's
// send methods feed the other's incoming queue.
//
// Pairing an endpoint that is already paired
// returns an [AlreadyPairedError].
func Pair(a, b *Endpoint) error {
	if a == b {
		panic("BUG: cannot pair an endpoint with itself")
	}

	if a.Peer() != nil {
		return AlreadyPairedError{Name: a.name}
	}
	if b.Peer() != nil {
		return AlreadyPairedError{Name: b.name}
	}

	a.setPeer(b)
	b.setPeer(a)

	return nil
}

// Send sends a single contiguous payload to the peer,
// with zero flags and no completion callback.
//
// The return value follows the queue convention:
// zero means the packet was queued for later delivery.
// An unpaired or link-down endpoint silently consumes the payload,
// exactly as if it had been delivered;
// senders cannot tell a dead wire from a slow one.
func (e *Endpoint) Send(payload []byte) int {
	return e.SendFragments(0, [][]byte{payload}, nil)
}

// SendFlags is like [Endpoint.Send] with explicit flags
// and an optional completion callback.
//
// The flags are opaque to the fabric
// and arrive unchanged at the peer's Receive.
func (e *Endpoint) SendFlags(flags uint32, payload []byte, onSent SentFunc) int {
	return e.SendFragments(flags, [][]byte{payload}, onSent)
}

// SendFragments is like [Endpoint.SendFlags] for a fragmented payload.
func (e *Endpoint) SendFragments(flags uint32, fragments [][]byte, onSent SentFunc) int {
	peer := e.Peer()
	if peer == nil {
		var size int
		for _, f := range fragments {
			size += len(f)
		}

		e.log.Debug(
			"Dropping packet sent with no peer",
			"endpoint", e.name,
			"size", size,
		)
		return fqueue.Consumed(size)
	}

	return peer.in.SendFragments(e, flags, fragments, onSent)
}

// CanSend reports whether a send from this endpoint
// would be attempted synchronously right now.
//
// An unpaired endpoint reports true:
// its sends are consumed immediately (and discarded).
func (e *Endpoint) CanSend() bool {
	peer := e.Peer()
	if peer == nil {
		return true
	}

	return peer.canReceiveNow()
}

// FlushIncoming re-enables receiving
// and drains this endpoint's incoming queue,
// reporting whether it was fully drained.
//
// Backends call this on their saturated-to-ready transition.
func (e *Endpoint) FlushIncoming() bool {
	e.mu.Lock()
	e.recvDisabled = false
	e.mu.Unlock()

	return e.in.Flush()
}

// SetLinkDown changes the endpoint's link state.
//
// While the link is down, payloads delivered to this endpoint
// are consumed without reaching the Receive handler.
// Restoring the link flushes the incoming queue.
func (e *Endpoint) SetLinkDown(down bool) {
	e.mu.Lock()
	was := e.linkDown
	e.linkDown = down
	e.mu.Unlock()

	if was == down {
		return
	}

	e.log.Info("Link state changed", "endpoint", e.name, "down", down)

	if !down {
		e.FlushIncoming()
	}
}

// LinkDown reports whether the endpoint's link is down.
func (e *Endpoint) LinkDown() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.linkDown
}

// PendingIncoming returns the number of packets
// queued for delivery to this endpoint.
func (e *Endpoint) PendingIncoming() int {
	return e.in.Len()
}

// Close cancels this endpoint's pending packets in its peer's queue,
// firing their completion callbacks with a zero result,
// detaches the pairing, and discards the endpoint's own incoming queue
// without invoking any callbacks.
func (e *Endpoint) Close() {
	peer := e.Peer()
	if peer != nil {
		peer.in.Purge(e)

		peer.setPeer(nil)
		e.setPeer(nil)
	}

	e.in.Close()
}

func (e *Endpoint) setPeer(peer *Endpoint) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.peer = peer
}

// canReceiveNow is the readiness predicate
// consulted by this endpoint's incoming queue
// and by the peer's CanSend.
func (e *Endpoint) canReceiveNow() bool {
	e.mu.Lock()
	disabled := e.recvDisabled
	e.mu.Unlock()

	if disabled {
		return false
	}

	if e.canReceive != nil {
		return e.canReceive()
	}
	return true
}

// deliverIncoming is the incoming queue's delivery function.
func (e *Endpoint) deliverIncoming(src *Endpoint, flags uint32, payload [][]byte) int {
	var size int
	for _, f := range payload {
		size += len(f)
	}

	// A sender whose link is down cannot tell:
	// its packets are consumed and discarded.
	if src != nil && src.LinkDown() {
		return fqueue.Consumed(size)
	}

	e.mu.Lock()
	down := e.linkDown
	disabled := e.recvDisabled
	e.mu.Unlock()

	if down {
		return fqueue.Consumed(size)
	}

	if disabled {
		return 0
	}

	ret := e.receive(src, flags, payload)
	if ret == 0 {
		// A handler consuming an empty payload reports zero bytes;
		// only a non-empty payload's zero result means saturation.
		if size == 0 {
			return fqueue.Consumed(size)
		}

		e.mu.Lock()
		e.recvDisabled = true
		e.mu.Unlock()

		e.log.Debug("Receive saturated, pausing until flush", "endpoint", e.name)
	}

	return ret
}
