// Package fquic adapts a QUIC connection into a delivery backend
// for the packet fabric.
//
// Outbound packets become QUIC datagrams.
// A transient send failure is reported to the queue as saturation,
// and the backend schedules its own flush wakeup,
// since QUIC offers no writability notification for datagrams.
package fquic
