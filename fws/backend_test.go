package fws_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/finchnet/finch/fqueue"
	"github.com/finchnet/finch/fws"
	"github.com/finchnet/finch/internal/ftest"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

// wsPipe returns a client connection to an in-process server,
// plus a channel carrying the binary messages the server reads.
func wsPipe(t *testing.T) (*websocket.Conn, <-chan []byte) {
	t.Helper()

	upgrader := websocket.Upgrader{}
	msgs := make(chan []byte, 64)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()

		for {
			kind, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if kind == websocket.BinaryMessage {
				msgs <- data
			}
		}
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() {
		_ = conn.Close()
	})

	return conn, msgs
}

func receiveSoon(t *testing.T, msgs <-chan []byte) []byte {
	t.Helper()

	select {
	case m := <-msgs:
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
		return nil
	}
}

func TestBackend_Deliver_writesBinaryMessage(t *testing.T) {
	t.Parallel()

	conn, msgs := wsPipe(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := fws.New[string](ctx, ftest.NewLogger(t), fws.BackendConfig{
		Conn:  conn,
		Flush: func() bool { return true },
	})

	payload := ftest.Payload(t, 48)
	ret := b.Deliver("x", 0, [][]byte{payload[:16], payload[16:]})
	require.Equal(t, len(payload), ret)

	require.Equal(t, payload, receiveSoon(t, msgs))
}

func TestBackend_Deliver_emptyMessageNotSaturation(t *testing.T) {
	t.Parallel()

	conn, msgs := wsPipe(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := fws.New[string](ctx, ftest.NewLogger(t), fws.BackendConfig{
		Conn:  conn,
		Flush: func() bool { return true },
	})

	// An empty payload is a valid message,
	// but its zero byte count must not read as a full outbox.
	ret := b.Deliver("x", 0, [][]byte{{}})
	require.Positive(t, ret)

	require.Empty(t, receiveSoon(t, msgs))
}

func TestBackend_drainsQueueInOrder(t *testing.T) {
	t.Parallel()

	conn, msgs := wsPipe(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var q *fqueue.Queue[string]
	b := fws.New[string](ctx, ftest.NewLogger(t), fws.BackendConfig{
		Conn:  conn,
		Flush: func() bool { return q.Flush() },
	})

	q = fqueue.New(fqueue.Config[string]{
		Deliver: b.Deliver,
	})

	data := ftest.Payload(t, 64)
	for i := 0; i < 4; i++ {
		start := i * 16
		ret := q.Send("x", 0, data[start:start+16], nil)
		require.Equal(t, 16, ret)
	}

	for i := 0; i < 4; i++ {
		start := i * 16
		require.Equal(t, data[start:start+16], receiveSoon(t, msgs))
	}
}

func TestBackend_Deliver_saturatesWhenOutboxFull(t *testing.T) {
	t.Parallel()

	conn, _ := wsPipe(t)

	// Cancel before construction so the writer never drains,
	// making the outbox state deterministic.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	b := fws.New[string](ctx, ftest.NewLogger(t), fws.BackendConfig{
		Conn:       conn,
		Flush:      func() bool { return true },
		OutboxSize: 1,
	})
	b.Wait()

	payload := ftest.Payload(t, 8)

	// First message parks in the outbox.
	require.Equal(t, len(payload), b.Deliver("x", 0, [][]byte{payload}))

	// The outbox is full and nobody is draining it: saturation.
	require.Zero(t, b.Deliver("x", 0, [][]byte{payload}))
}

func TestBackend_readerForwardsInbound(t *testing.T) {
	t.Parallel()

	payload := []byte("inbound payload")

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()

		if err := conn.WriteMessage(websocket.BinaryMessage, payload); err != nil {
			t.Errorf("write: %v", err)
			return
		}

		// Hold the connection open until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil {
		_ = resp.Body.Close()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var received [][]byte
	b := fws.New[string](ctx, ftest.NewLogger(t), fws.BackendConfig{
		Conn:  conn,
		Flush: func() bool { return true },
		Receive: func(data []byte) int {
			mu.Lock()
			defer mu.Unlock()
			received = append(received, data)
			return len(data)
		},
	})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 1
	}, 2*time.Second, time.Millisecond)

	mu.Lock()
	require.Equal(t, payload, received[0])
	mu.Unlock()

	// Closing the connection stops both goroutines.
	require.NoError(t, conn.Close())
	cancel()
	b.Wait()
}

func TestNew_panicsOnInvalidConfig(t *testing.T) {
	t.Parallel()

	conn, _ := wsPipe(t)

	require.Panics(t, func() {
		fws.New[string](context.Background(), nil, fws.BackendConfig{
			Conn: conn,
		})
	})

	require.Panics(t, func() {
		fws.New[string](context.Background(), nil, fws.BackendConfig{
			Conn:       conn,
			Flush:      func() bool { return true },
			OutboxSize: 4,
			LowWater:   4,
		})
	})
}
