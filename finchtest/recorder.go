// Package finchtest contains fixtures to simplify tests
// that attach devices to the finch packet fabric.
package finchtest

import (
	"testing"

	"github.com/finchnet/finch"
	"github.com/finchnet/finch/internal/ftest"
)

// Recorder is a minimal device: it records everything delivered to it,
// and can be flipped into a saturated state
// to exercise queuing and flush behavior.
//
// It is driven synchronously by the fabric under test,
// so tests mutate its fields directly between operations;
// it is not safe for concurrent use.
type Recorder struct {
	// While true, every delivery is rejected with a zero result.
	Saturated bool

	// One entry per accepted delivery, in order.
	Srcs     []*finch.Endpoint
	Flags    []uint32
	Payloads [][]byte
}

// Receive is the endpoint receive handler of this recorder.
func (r *Recorder) Receive(src *finch.Endpoint, flags uint32, payload [][]byte) int {
	if r.Saturated {
		return 0
	}

	var flat []byte
	for _, f := range payload {
		flat = append(flat, f...)
	}

	r.Srcs = append(r.Srcs, src)
	r.Flags = append(r.Flags, flags)
	r.Payloads = append(r.Payloads, flat)

	return len(flat)
}

// NewRecordedEndpoint returns an endpoint whose deliveries
// land in the returned Recorder.
//
// The endpoint logs through a logger associated with t.
func NewRecordedEndpoint(t *testing.T, name string) (*finch.Endpoint, *Recorder) {
	t.Helper()

	r := &Recorder{}
	e := finch.NewEndpoint(ftest.NewLogger(t), finch.EndpointConfig{
		Name:    name,
		Receive: r.Receive,
	})
	return e, r
}
