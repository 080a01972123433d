package dcd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ardnew/usbcore/pkg"
)

func TestEndpointAddressHelpers(t *testing.T) {
	assert.Equal(t, uint8(3), EdptNumber(0x83))
	assert.True(t, EdptIsIn(0x81))
	assert.False(t, EdptIsIn(0x01))
	assert.Equal(t, 1, EdptDir(0x82))
	assert.Equal(t, 0, EdptDir(0x02))
	assert.Equal(t, uint8(0x85), EdptAddr(5, 1))
	assert.Equal(t, uint8(0x05), EdptAddr(5, 0))
}

func TestXfer_PacketAccounting(t *testing.T) {
	const mps = 64

	tests := []struct {
		name        string
		length      int
		wantPackets int
		wantShort   bool
	}{
		{"zero length", 0, 1, true},
		{"one full packet", mps, 1, false},
		{"k full packets", 3 * mps, 3, false},
		{"k packets plus remainder", 3*mps + 10, 4, true},
		{"single short packet", 10, 1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var x Xfer
			x.Configure(Endpoint{Address: 0x81, Type: TransferBulk, MaxPacketSize: mps})
			require.NoError(t, x.Start(make([]byte, tt.length)))

			for {
				if x.Advance(len(x.Next())) {
					break
				}
			}

			n, short := x.Finish()
			assert.Equal(t, tt.length, n)
			assert.Equal(t, tt.wantPackets, x.Packets)
			assert.Equal(t, tt.wantShort, short)
			assert.False(t, x.Active)
		})
	}
}

func TestXfer_ReceiveTruncatesToRequestedLength(t *testing.T) {
	var x Xfer
	x.Configure(Endpoint{Address: 0x02, Type: TransferBulk, MaxPacketSize: 64})
	buf := make([]byte, 20)
	require.NoError(t, x.Start(buf))

	packet := make([]byte, 30)
	for i := range packet {
		packet[i] = byte(i)
	}
	assert.True(t, x.Receive(packet))

	n, short := x.Finish()
	assert.Equal(t, 20, n)
	assert.True(t, short)
	assert.Equal(t, packet[:20], buf)
}

func TestXfer_StartErrors(t *testing.T) {
	var x Xfer
	assert.ErrorIs(t, x.Start(nil), pkg.ErrInvalidEndpoint)

	x.Configure(Endpoint{Address: 0x01, Type: TransferBulk, MaxPacketSize: 64})
	require.NoError(t, x.Start(make([]byte, 8)))
	assert.ErrorIs(t, x.Start(make([]byte, 8)), pkg.ErrBusy)
}

func TestXfer_StallAbortsAndClearResetsToggle(t *testing.T) {
	var x Xfer
	x.Configure(Endpoint{Address: 0x81, Type: TransferBulk, MaxPacketSize: 8})
	require.NoError(t, x.Start(make([]byte, 16)))
	x.Advance(8)
	require.Equal(t, uint8(1), x.Toggle)

	x.Stall()
	assert.True(t, x.Stalled)
	assert.False(t, x.Active)

	x.ClearStall()
	assert.False(t, x.Stalled)
	assert.Equal(t, uint8(0), x.Toggle)
	assert.False(t, x.Active, "aborted transfer must be queued again by the caller")
}

func TestSetupReceived_CopiesPacket(t *testing.T) {
	var got Event
	h := HandlerFunc(func(ev *Event, inISR bool) {
		assert.True(t, inISR)
		got = *ev
	})

	raw := []byte{0x80, 0x06, 0x00, 0x01, 0x00, 0x00, 0x12, 0x00}
	SetupReceived(h, 0, raw, true)
	raw[1] = 0xFF

	assert.Equal(t, EventSetupReceived, got.ID)
	assert.Equal(t, byte(0x06), got.Setup[1])
}

func TestPending_DeliversInOrder(t *testing.T) {
	var ids []EventID
	h := HandlerFunc(func(ev *Event, inISR bool) {
		ids = append(ids, ev.ID)
	})

	var p Pending
	p.Signal(0, EventBusReset)
	p.Setup(0, make([]byte, 8))
	p.Complete(0, 0x80, 18, true)
	p.Deliver(h, true)
	p.Deliver(h, true)

	assert.Equal(t, []EventID{EventBusReset, EventSetupReceived, EventXferComplete}, ids)
}

func TestEventID_String(t *testing.T) {
	assert.Equal(t, "bus_reset", EventBusReset.String())
	assert.Equal(t, "xfer_complete", EventXferComplete.String())
	assert.Equal(t, "invalid", EventID(200).String())
	assert.Equal(t, "full", SpeedFull.String())
	assert.Equal(t, "bulk", TransferBulk.String())
}
