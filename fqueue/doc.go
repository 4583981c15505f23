// Package fqueue contains the packet delivery queue
// that mediates between a packet producer and a delivery backend
// which may be transiently unable to accept data.
//
// The [Queue] guarantees at-most-one in-flight delivery,
// preserves packet order across retries,
// supports resuming a stalled drain via [Queue.Flush],
// and supports bulk cancellation of one sender's packets via [Queue.Purge].
//
// This is an independent package, rather than part of the finch package,
// in order to simplify an internal dependency graph;
// it has no opinion about what a sender is
// beyond its identity being comparable.
package fqueue
