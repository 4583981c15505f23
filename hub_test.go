package finch_test

import (
	"testing"

	"github.com/finchnet/finch"
	"github.com/finchnet/finch/finchtest"
	"github.com/finchnet/finch/internal/ftest"
	"github.com/stretchr/testify/require"
)

// attachDevice adds a hub port and pairs a recording device endpoint with it.
func attachDevice(t *testing.T, h *finch.Hub, name string) (*finch.Endpoint, *finchtest.Recorder) {
	t.Helper()

	port, err := h.AddPort("port")
	require.NoError(t, err)

	dev, r := finchtest.NewRecordedEndpoint(t, name)
	require.NoError(t, finch.Pair(port, dev))

	return dev, r
}

func TestHub_broadcastsToOtherPorts(t *testing.T) {
	t.Parallel()

	h := finch.NewHub(ftest.NewLogger(t), finch.HubConfig{})

	devA, recA := attachDevice(t, h, "a")
	_, recB := attachDevice(t, h, "b")
	_, recC := attachDevice(t, h, "c")

	require.Equal(t, 3, h.NumPorts())

	payload := ftest.Payload(t, 60)
	ret := devA.SendFlags(9, payload, nil)
	require.Equal(t, len(payload), ret)

	// Every other device got a copy, with flags intact.
	require.Len(t, recB.Payloads, 1)
	require.Equal(t, payload, recB.Payloads[0])
	require.Equal(t, uint32(9), recB.Flags[0])

	require.Len(t, recC.Payloads, 1)
	require.Equal(t, payload, recC.Payloads[0])

	// The sender got nothing back.
	require.Empty(t, recA.Payloads)
}

func TestHub_slowDeviceDoesNotStallOthers(t *testing.T) {
	t.Parallel()

	h := finch.NewHub(ftest.NewLogger(t), finch.HubConfig{})

	devA, _ := attachDevice(t, h, "a")
	devB, recB := attachDevice(t, h, "b")
	devC, recC := attachDevice(t, h, "c")

	recB.Saturated = true

	payload := ftest.Payload(t, 16)
	require.Equal(t, len(payload), devA.Send(payload))

	// c received immediately; b's copy is parked in b's queue.
	require.Len(t, recC.Payloads, 1)
	require.Empty(t, recB.Payloads)
	require.Equal(t, 1, devB.PendingIncoming())

	recB.Saturated = false
	require.True(t, devB.FlushIncoming())
	require.Len(t, recB.Payloads, 1)
	require.Equal(t, payload, recB.Payloads[0])

	_ = devC
}

func TestHub_queuesWhileNoOtherPortReady(t *testing.T) {
	t.Parallel()

	h := finch.NewHub(ftest.NewLogger(t), finch.HubConfig{})

	devA, _ := attachDevice(t, h, "a")
	portA := devA.Peer()

	// Alone on the hub: nothing could take the payload,
	// so the port queues it rather than forwarding into the void.
	payload := ftest.Payload(t, 16)
	require.Zero(t, devA.Send(payload))
	require.Equal(t, 1, portA.PendingIncoming())

	// Once somebody else is attached, a flush forwards the backlog.
	_, recB := attachDevice(t, h, "b")

	require.True(t, portA.FlushIncoming())
	require.Zero(t, portA.PendingIncoming())

	require.Len(t, recB.Payloads, 1)
	require.Equal(t, payload, recB.Payloads[0])
}

func TestHub_AddPort_full(t *testing.T) {
	t.Parallel()

	h := finch.NewHub(ftest.NewLogger(t), finch.HubConfig{MaxPorts: 2})

	_, err := h.AddPort("port")
	require.NoError(t, err)
	_, err = h.AddPort("port")
	require.NoError(t, err)

	_, err = h.AddPort("port")
	require.ErrorAs(t, err, new(finch.HubFullError))
}

func TestHub_RemovePort(t *testing.T) {
	t.Parallel()

	h := finch.NewHub(ftest.NewLogger(t), finch.HubConfig{})

	devA, _ := attachDevice(t, h, "a")
	devB, recB := attachDevice(t, h, "b")

	portB := devB.Peer()
	require.True(t, h.RemovePort(portB))
	require.Equal(t, 1, h.NumPorts())

	// Removing it again is a no-op.
	require.False(t, h.RemovePort(portB))

	// Closing the port detached the pairing,
	// and the removed device no longer sees traffic.
	require.Nil(t, devB.Peer())
	_ = devA.Send(ftest.Payload(t, 8))
	require.Empty(t, recB.Payloads)

	// The freed id is reused, lowest first.
	port, err := h.AddPort("port")
	require.NoError(t, err)
	require.Equal(t, "port.1", port.Name())
}
