// Package fws adapts a WebSocket connection into a delivery backend
// for the packet fabric.
//
// Outbound packets become binary WebSocket messages,
// serialized through a bounded outbox and a single writer goroutine.
// A full outbox is reported to the queue as saturation;
// when the writer drains the outbox below the low-water mark,
// the backend flushes the queue it serves.
package fws

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"

	"github.com/finchnet/finch/fqueue"
)

// DefaultOutboxSize is the outbox capacity used
// when [BackendConfig.OutboxSize] is zero.
const DefaultOutboxSize = 64

// BackendConfig is the configuration for a [Backend].
type BackendConfig struct {
	// The connection to write messages on. Required.
	//
	// The backend becomes the connection's only writer;
	// no other code may call its write methods.
	Conn *websocket.Conn

	// Flush drains the queue this backend serves,
	// reporting whether the backlog fully drained.
	// Required; normally the queue's Flush method.
	Flush func() bool

	// Receive handles inbound binary messages,
	// normally the queue's Receive method.
	// A zero return means the payload was not accepted;
	// inbound data is never queued, so it is dropped.
	//
	// If nil, the backend does not read from the connection.
	Receive func([]byte) int

	// Capacity of the outbox, in messages.
	// If zero, [DefaultOutboxSize] is used.
	OutboxSize int

	// Resume the queue once the outbox length
	// has drained to this value or below.
	// If zero, a quarter of the outbox size is used.
	LowWater int
}

// validate panics if there are any illegal settings in the configuration.
func (c BackendConfig) validate() {
	if c.Conn == nil {
		panic("BUG: BackendConfig.Conn must not be nil")
	}

	if c.Flush == nil {
		panic("BUG: BackendConfig.Flush must not be nil")
	}

	if c.OutboxSize < 0 {
		panic("BUG: BackendConfig.OutboxSize must not be negative")
	}

	size := c.OutboxSize
	if size == 0 {
		size = DefaultOutboxSize
	}
	if c.LowWater < 0 || c.LowWater >= size {
		panic("BUG: BackendConfig.LowWater must be within the outbox capacity")
	}
}

// Backend sends fabric packets as binary WebSocket messages.
//
// Its Deliver method is shaped to serve as a queue's deliver function;
// the type parameter S is the queue's sender identity type,
// which the backend itself never inspects.
type Backend[S comparable] struct {
	log *slog.Logger

	conn  *websocket.Conn
	flush func() bool

	outbox   chan []byte
	lowWater int

	// Set when Deliver finds the outbox full,
	// cleared by the writer when it drains past the low-water mark.
	saturated atomic.Bool

	wg sync.WaitGroup
}

// New returns a Backend configured per cfg
// and starts its writer goroutine.
// If cfg.Receive is set, a reader goroutine is started as well.
// Both stop when ctx is cancelled or the connection fails;
// use [Backend.Wait] to observe that.
//
// A nil log discards all log output.
// New panics if the configuration is invalid.
func New[S comparable](ctx context.Context, log *slog.Logger, cfg BackendConfig) *Backend[S] {
	cfg.validate()

	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	size := cfg.OutboxSize
	if size == 0 {
		size = DefaultOutboxSize
	}

	lowWater := cfg.LowWater
	if lowWater == 0 {
		lowWater = size / 4
	}

	b := &Backend[S]{
		log: log,

		conn:  cfg.Conn,
		flush: cfg.Flush,

		outbox:   make(chan []byte, size),
		lowWater: lowWater,
	}

	b.wg.Add(1)
	go b.runWriter(ctx)

	if cfg.Receive != nil {
		b.wg.Add(1)
		go b.runReader(ctx, cfg.Receive)
	}

	return b
}

// Deliver hands the payload to the writer goroutine,
// concatenating fragments into one owned message.
//
// A full outbox is saturation:
// Deliver returns zero and the writer flushes the queue
// once it has drained below the low-water mark.
func (b *Backend[S]) Deliver(_ S, _ uint32, payload [][]byte) int {
	var size int
	for _, f := range payload {
		size += len(f)
	}

	// Always copy: the write happens after this call returns,
	// and the queue only guarantees the fragments
	// for the duration of the call.
	buf := make([]byte, 0, size)
	for _, f := range payload {
		buf = append(buf, f...)
	}

	select {
	case b.outbox <- buf:
		return fqueue.Consumed(size)
	default:
	}

	b.saturated.Store(true)

	// Recheck after publishing saturation,
	// so a drain racing the first attempt
	// cannot strand the queue with no flush coming.
	select {
	case b.outbox <- buf:
		b.saturated.Store(false)
		return fqueue.Consumed(size)
	default:
	}

	return 0
}

// Wait blocks until the backend's goroutines have exited.
func (b *Backend[S]) Wait() {
	b.wg.Wait()
}

func (b *Backend[S]) runWriter(ctx context.Context) {
	defer b.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return

		case buf := <-b.outbox:
			if err := b.conn.WriteMessage(websocket.BinaryMessage, buf); err != nil {
				b.log.Warn("Stopping writer on failed write", "err", err)
				return
			}

			if b.saturated.Load() && len(b.outbox) <= b.lowWater {
				b.saturated.Store(false)
				b.flush()
			}
		}
	}
}

func (b *Backend[S]) runReader(ctx context.Context, receive func([]byte) int) {
	defer b.wg.Done()

	for {
		kind, data, err := b.conn.ReadMessage()
		if err != nil {
			// Reads only fail permanently, so there is no retry here.
			// Cancellation also lands on this path:
			// the caller closing the connection interrupts the read.
			b.log.Debug("Stopping reader", "err", err)
			return
		}

		if kind != websocket.BinaryMessage {
			continue
		}

		select {
		case <-ctx.Done():
			return
		default:
		}

		if receive(data) == 0 {
			// Inbound data is never queued.
			b.log.Debug("Dropped inbound message", "size", len(data))
		}
	}
}
