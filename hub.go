package finch

import (
	"io"
	"log/slog"
	"slices"
	"strconv"
	"sync"

	"github.com/bits-and-blooms/bitset"

	"github.com/finchnet/finch/fqueue"
)

// DefaultMaxPorts is the number of hub ports allowed
// when [HubConfig.MaxPorts] is zero.
const DefaultMaxPorts = 32

// HubConfig is the configuration for a [Hub].
type HubConfig struct {
	// The maximum number of concurrently attached ports.
	// If zero, [DefaultMaxPorts] is used.
	MaxPorts uint

	// Capacity of each port's incoming queue.
	// If zero, [fqueue.DefaultCapacity] is used.
	QueueCapacity int
}

// validate panics if there are any illegal settings in the configuration.
func (c HubConfig) validate() {
	if c.QueueCapacity < 0 {
		panic("BUG: HubConfig.QueueCapacity must not be negative")
	}
}

// Hub is an N-port packet switch.
//
// Each port is an [Endpoint] created with [*Hub.AddPort];
// a device endpoint attaches by pairing with the port.
// A payload delivered to one port is forwarded to every other port,
// and from there to whatever is paired on that port.
//
// The hub consumes every payload it forwards.
// Per-port backpressure is absorbed by the ports' incoming queues,
// so one slow device does not stall the others.
type Hub struct {
	log *slog.Logger

	queueCapacity int
	maxPorts      uint

	mu sync.Mutex

	// Allocated port ids.
	// Freed ids are reused, lowest first.
	ids *bitset.BitSet

	ports map[uint]*Endpoint
}

// NewHub returns a Hub configured per cfg.
//
// A nil log discards all log output.
func NewHub(log *slog.Logger, cfg HubConfig) *Hub {
	cfg.validate()

	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	maxPorts := cfg.MaxPorts
	if maxPorts == 0 {
		maxPorts = DefaultMaxPorts
	}

	return &Hub{
		log: log,

		queueCapacity: cfg.QueueCapacity,
		maxPorts:      maxPorts,

		ids:   bitset.New(maxPorts),
		ports: make(map[uint]*Endpoint),
	}
}

// AddPort attaches a new port to the hub,
// returning the port endpoint for the caller to pair with.
//
// The port endpoint's name is the given name
// suffixed with the allocated port id.
//
// AddPort returns a [HubFullError] if every port id is in use.
func (h *Hub) AddPort(name string) (*Endpoint, error) {
	h.mu.Lock()

	id, ok := h.ids.NextClear(0)
	if !ok || id >= h.maxPorts {
		h.mu.Unlock()
		return nil, HubFullError{Max: h.maxPorts}
	}
	h.ids.Set(id)

	h.mu.Unlock()

	port := NewEndpoint(h.log, EndpointConfig{
		Name: name + "." + strconv.FormatUint(uint64(id), 10),
		Receive: func(src *Endpoint, flags uint32, payload [][]byte) int {
			return h.forward(id, flags, payload)
		},
		CanReceive: func() bool {
			return h.anyOtherReady(id)
		},
		QueueCapacity: h.queueCapacity,
	})

	h.mu.Lock()
	h.ports[id] = port
	h.mu.Unlock()

	h.log.Info("Hub port attached", "port", port.Name())

	return port, nil
}

// RemovePort detaches the given port from the hub and closes it,
// reporting whether the port belonged to this hub.
func (h *Hub) RemovePort(port *Endpoint) bool {
	h.mu.Lock()
	for id, p := range h.ports {
		if p != port {
			continue
		}

		delete(h.ports, id)
		h.ids.Clear(id)
		h.mu.Unlock()

		port.Close()
		h.log.Info("Hub port detached", "port", port.Name())
		return true
	}
	h.mu.Unlock()

	return false
}

// NumPorts returns the number of currently attached ports.
func (h *Hub) NumPorts() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	return len(h.ports)
}

// forward sends a payload out every port except the one it arrived on.
//
// The hub always consumes the payload:
// a port whose device is saturated queues its copy,
// and a port with nothing attached drops it.
func (h *Hub) forward(from uint, flags uint32, payload [][]byte) int {
	targets := h.otherPorts(from)

	var size int
	for _, f := range payload {
		size += len(f)
	}

	for _, p := range targets {
		p.SendFragments(flags, payload, nil)
	}

	return fqueue.Consumed(size)
}

// anyOtherReady reports whether at least one port other than from
// could send synchronously right now.
// This is the CanReceive predicate of every port endpoint:
// the hub accepts a payload as long as somebody could take it.
func (h *Hub) anyOtherReady(from uint) bool {
	for _, p := range h.otherPorts(from) {
		if p.CanSend() {
			return true
		}
	}
	return false
}

// otherPorts returns every attached port except from,
// in ascending id order for deterministic forwarding.
func (h *Hub) otherPorts(from uint) []*Endpoint {
	h.mu.Lock()
	defer h.mu.Unlock()

	ids := make([]uint, 0, len(h.ports))
	for id := range h.ports {
		if id == from {
			continue
		}
		ids = append(ids, id)
	}
	slices.Sort(ids)

	ports := make([]*Endpoint, len(ids))
	for i, id := range ids {
		ports[i] = h.ports[id]
	}
	return ports
}
