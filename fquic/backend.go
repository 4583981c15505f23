package fquic

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/quic-go/quic-go"

	"github.com/finchnet/finch/fqueue"
)

// DefaultRetryInterval is the wakeup delay used
// when [BackendConfig.RetryInterval] is zero.
const DefaultRetryInterval = 5 * time.Millisecond

// BackendConfig is the configuration for a [Backend].
type BackendConfig struct {
	// The connection to send datagrams on. Required.
	Conn Conn

	// Flush drains the queue this backend serves,
	// reporting whether the backlog fully drained.
	// Required; normally the queue's Flush method.
	Flush func() bool

	// Receive handles inbound datagrams,
	// normally the queue's Receive method.
	// A zero return means the payload was not accepted;
	// inbound data is never queued, so it is dropped.
	//
	// If nil, inbound datagrams are not read at all.
	Receive func([]byte) int

	// Delay between a saturated delivery and the flush wakeup.
	// If zero, [DefaultRetryInterval] is used.
	RetryInterval time.Duration
}

// validate panics if there are any illegal settings in the configuration.
func (c BackendConfig) validate() {
	if c.Conn == nil {
		panic("BUG: BackendConfig.Conn must not be nil")
	}

	if c.Flush == nil {
		panic("BUG: BackendConfig.Flush must not be nil")
	}

	if c.RetryInterval < 0 {
		panic("BUG: BackendConfig.RetryInterval must not be negative")
	}
}

// Backend sends fabric packets as QUIC datagrams.
//
// Its Deliver method is shaped to serve as a queue's deliver function;
// the type parameter S is the queue's sender identity type,
// which the backend itself never inspects.
type Backend[S comparable] struct {
	log *slog.Logger

	conn  Conn
	flush func() bool

	retryInterval time.Duration

	wg sync.WaitGroup

	mu     sync.Mutex
	timer  *time.Timer
	closed bool
}

// New returns a Backend configured per cfg.
//
// If cfg.Receive is set, a background goroutine reads inbound datagrams
// until ctx is cancelled or the connection closes;
// use [Backend.Wait] to observe its exit.
//
// A nil log discards all log output.
// New panics if the configuration is invalid.
func New[S comparable](ctx context.Context, log *slog.Logger, cfg BackendConfig) *Backend[S] {
	cfg.validate()

	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	retryInterval := cfg.RetryInterval
	if retryInterval == 0 {
		retryInterval = DefaultRetryInterval
	}

	b := &Backend[S]{
		log: log,

		conn:  cfg.Conn,
		flush: cfg.Flush,

		retryInterval: retryInterval,
	}

	if cfg.Receive != nil {
		b.wg.Add(1)
		go b.runReceive(ctx, cfg.Receive)
	}

	return b
}

// Deliver sends the payload as a single datagram.
//
// Oversized payloads and payloads sent on a closed connection
// are consumed and discarded:
// retrying them verbatim could never succeed.
// Any other send failure is reported as saturation,
// and the backend arranges a flush wakeup after the retry interval.
func (b *Backend[S]) Deliver(_ S, _ uint32, payload [][]byte) int {
	var size int
	for _, f := range payload {
		size += len(f)
	}

	buf := make([]byte, 0, size)
	for _, f := range payload {
		buf = append(buf, f...)
	}

	err := b.conn.SendDatagram(buf)
	if err == nil {
		return fqueue.Consumed(size)
	}

	var tooLarge *quic.DatagramTooLargeError
	if errors.As(err, &tooLarge) {
		b.log.Warn(
			"Dropping datagram exceeding connection limit",
			"size", size,
		)
		return fqueue.Consumed(size)
	}

	select {
	case <-b.conn.Context().Done():
		b.log.Debug("Dropping datagram on closed connection", "size", size)
		return fqueue.Consumed(size)
	default:
	}

	b.log.Debug("Datagram send saturated, scheduling flush", "err", err)
	b.scheduleFlush()
	return 0
}

// Close stops any pending flush wakeup.
//
// It does not close the underlying connection,
// which remains owned by the caller.
func (b *Backend[S]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
}

// Wait blocks until the inbound receive goroutine, if any, has exited.
func (b *Backend[S]) Wait() {
	b.wg.Wait()
}

func (b *Backend[S]) scheduleFlush() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed || b.timer != nil {
		return
	}

	b.timer = time.AfterFunc(b.retryInterval, func() {
		b.mu.Lock()
		b.timer = nil
		b.mu.Unlock()

		if !b.flush() {
			// Still saturated;
			// keep waking up until the backlog drains.
			b.scheduleFlush()
		}
	})
}

func (b *Backend[S]) runReceive(ctx context.Context, receive func([]byte) int) {
	defer b.wg.Done()

	for {
		data, err := b.conn.ReceiveDatagram(ctx)
		if err != nil {
			b.log.Debug("Stopping datagram receive", "err", err)
			return
		}

		if receive(data) == 0 {
			// Inbound data is never queued.
			b.log.Debug("Dropped inbound datagram", "size", len(data))
		}
	}
}
