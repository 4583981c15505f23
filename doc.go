// Package finch contains the core APIs of a virtual network fabric:
// named endpoints exchanging opaque packets through
// backpressure-aware delivery queues.
//
// An [Endpoint] owns an incoming packet queue
// (see [github.com/finchnet/finch/fqueue]).
// Two endpoints are connected with [Pair],
// after which each endpoint's Send methods feed the other's queue.
// A [Hub] switches packets between any number of ports.
//
// Transport backends live in their own packages
// ([github.com/finchnet/finch/fquic] and [github.com/finchnet/finch/fws]);
// they adapt real connections into delivery functions
// and drive queue flushes when the transport drains.
package finch
