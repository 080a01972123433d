package nrf5x

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ardnew/usbcore/device/dcd"
	"github.com/ardnew/usbcore/device/dcd/dcdtest"
	"github.com/ardnew/usbcore/pkg"
)

func newAttached(t *testing.T) (*Controller, *dcdtest.Recorder) {
	t.Helper()
	c := New(Config{})
	rec := &dcdtest.Recorder{}
	require.NoError(t, c.Init(rec))
	c.Connect()
	c.Reset(dcd.SpeedFull)
	rec.Reset()
	return c, rec
}

func TestEdptOpen_IsoOnlyOnEndpoint8(t *testing.T) {
	c, _ := newAttached(t)

	tests := []struct {
		ep  dcd.Endpoint
		err error
	}{
		{dcd.Endpoint{Address: 0x81, Type: dcd.TransferBulk, MaxPacketSize: 64}, nil},
		{dcd.Endpoint{Address: 0x88, Type: dcd.TransferIsochronous, MaxPacketSize: 1023}, nil},
		{dcd.Endpoint{Address: 0x83, Type: dcd.TransferIsochronous, MaxPacketSize: 64}, pkg.ErrNotSupported},
		{dcd.Endpoint{Address: 0x08, Type: dcd.TransferBulk, MaxPacketSize: 64}, pkg.ErrNotSupported},
		{dcd.Endpoint{Address: 0x82, Type: dcd.TransferBulk, MaxPacketSize: 512}, pkg.ErrNotSupported},
		{dcd.Endpoint{Address: 0x89, Type: dcd.TransferIsochronous, MaxPacketSize: 64}, pkg.ErrInvalidEndpoint},
	}
	for _, tt := range tests {
		err := c.EdptOpen(tt.ep)
		if tt.err == nil {
			assert.NoError(t, err, tt.ep.String())
		} else {
			assert.ErrorIs(t, err, tt.err, tt.ep.String())
		}
	}
}

func TestStatusStage_CompletesImmediately(t *testing.T) {
	c, rec := newAttached(t)
	require.NoError(t, c.Setup(0, []byte{0x00, 0x09, 0x01, 0x00, 0x00, 0x00, 0x00, 0x00}))

	// the host's status token is NAKed until the task is started
	_, err := c.In(0, 0x80)
	assert.ErrorIs(t, err, pkg.ErrNAK)

	require.NoError(t, c.EdptXfer(0x80, nil))
	done := rec.Completions(0x80)
	require.Len(t, done, 1)
	assert.Zero(t, done[0].Len)

	var statusISR *bool
	for _, r := range rec.Records() {
		if r.Event.ID == dcd.EventXferComplete {
			isr := r.InISR
			statusISR = &isr
		}
	}
	require.NotNil(t, statusISR)
	assert.False(t, *statusISR)

	p, err := c.In(0, 0x80)
	require.NoError(t, err)
	assert.Empty(t, p)
}

func TestSetAddress_LatchedAfterHandshake(t *testing.T) {
	c, _ := newAttached(t)
	require.NoError(t, c.Setup(0, []byte{0x00, 0x05, 0x2A, 0x00, 0x00, 0x00, 0x00, 0x00}))

	require.NoError(t, c.EdptXfer(0x80, nil))
	c.SetAddress(0x2A)

	// still answering on address 0 until the host finishes the status stage
	assert.ErrorIs(t, c.Setup(0x2A, make([]byte, 8)), pkg.ErrNoResponse)
	_, err := c.In(0, 0x80)
	require.NoError(t, err)

	assert.ErrorIs(t, c.Setup(0, make([]byte, 8)), pkg.ErrNoResponse)
	assert.NoError(t, c.Setup(0x2A, make([]byte, 8)))
}

func TestControlWrite_DataThroughDMA(t *testing.T) {
	c, rec := newAttached(t)
	require.NoError(t, c.Setup(0, []byte{0x21, 0x20, 0x00, 0x00, 0x00, 0x00, 0x07, 0x00}))

	// no data accepted before EP0RCVOUT
	assert.ErrorIs(t, c.Out(0, 0x00, make([]byte, 7)), pkg.ErrNAK)

	buf := make([]byte, 7)
	require.NoError(t, c.EdptXfer(0x00, buf))
	require.NoError(t, c.Out(0, 0x00, []byte{1, 2, 3, 4, 5, 6, 7}))

	done := rec.Completions(0x00)
	require.Len(t, done, 1)
	assert.Equal(t, 7, done[0].Len)
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7}, buf)
}

func TestBulkOut_HeldUntilArmed(t *testing.T) {
	c, rec := newAttached(t)
	require.NoError(t, c.EdptOpen(dcd.Endpoint{Address: 0x02, Type: dcd.TransferBulk, MaxPacketSize: 64}))

	// the peripheral ACKs one packet into its buffer with no transfer armed
	require.NoError(t, c.Out(0, 0x02, []byte{9, 8, 7}))
	assert.ErrorIs(t, c.Out(0, 0x02, []byte{6}), pkg.ErrNAK)
	assert.Empty(t, rec.Completions(0x02))

	buf := make([]byte, 64)
	require.NoError(t, c.EdptXfer(0x02, buf))
	c.SOF(1)

	done := rec.Completions(0x02)
	require.Len(t, done, 1)
	assert.Equal(t, 3, done[0].Len)
	assert.Equal(t, []byte{9, 8, 7}, buf[:3])
}

func TestBulkIn_MultiPacket(t *testing.T) {
	c, rec := newAttached(t)
	require.NoError(t, c.EdptOpen(dcd.Endpoint{Address: 0x81, Type: dcd.TransferBulk, MaxPacketSize: 64}))

	data := make([]byte, 130)
	for i := range data {
		data[i] = byte(i * 3)
	}
	require.NoError(t, c.EdptXfer(0x81, data))

	got, err := dcdtest.DrainIn(c, 0, 0x81, len(data))
	require.NoError(t, err)
	assert.Equal(t, data, got)

	done := rec.Completions(0x81)
	require.Len(t, done, 1)
	assert.Equal(t, 130, done[0].Len)
}

func TestDMA_SerializedInOrder(t *testing.T) {
	c, _ := newAttached(t)
	require.NoError(t, c.EdptOpen(dcd.Endpoint{Address: 0x81, Type: dcd.TransferBulk, MaxPacketSize: 64}))
	require.NoError(t, c.EdptOpen(dcd.Endpoint{Address: 0x82, Type: dcd.TransferBulk, MaxPacketSize: 64}))
	require.NoError(t, c.EdptOpen(dcd.Endpoint{Address: 0x03, Type: dcd.TransferBulk, MaxPacketSize: 64}))

	require.NoError(t, c.EdptXfer(0x82, []byte{2}))
	require.NoError(t, c.EdptXfer(0x81, []byte{1}))
	require.NoError(t, c.Out(0, 0x03, []byte{3}))
	require.NoError(t, c.EdptXfer(0x03, make([]byte, 8)))
	c.SOF(0)

	assert.Equal(t, []uint8{0x82, 0x81, 0x03}, c.DMAOrder())
}

func TestStall_EP0BothDirections(t *testing.T) {
	c, _ := newAttached(t)
	c.EdptStall(0x80)
	assert.True(t, c.EdptStalled(0x00))
	assert.True(t, c.EdptStalled(0x80))

	// clear is a no-op on endpoint 0
	c.EdptClearStall(0x80)
	assert.True(t, c.EdptStalled(0x80))

	require.NoError(t, c.Setup(0, make([]byte, 8)))
	assert.False(t, c.EdptStalled(0x80))
}

func TestSuspend_ArmedBySetAddress(t *testing.T) {
	c, rec := newAttached(t)
	c.Suspend()
	assert.Empty(t, rec.Records())

	c.SetAddress(1)
	c.Suspend()
	c.Resume()
	assert.Equal(t, []dcd.EventID{dcd.EventSuspend, dcd.EventResume}, rec.IDs())
}
