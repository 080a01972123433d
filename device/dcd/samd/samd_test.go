package samd

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

func TestSizeCode(t *testing.T) {
	tests := []struct {
		mps  uint16
		typ  dcd.TransferType
		code uint8
		err  error
	}{
		{8, dcd.TransferBulk, 0, nil},
		{64, dcd.TransferBulk, 3, nil},
		{512, dcd.TransferIsochronous, 6, nil},
		{1023, dcd.TransferIsochronous, 7, nil},
		{1023, dcd.TransferBulk, 0, pkg.ErrNotSupported},
		{48, dcd.TransferInterrupt, 0, pkg.ErrNotSupported},
		{1024, dcd.TransferIsochronous, 0, pkg.ErrNotSupported},
	}

	for _, tt := range tests {
		code, err := sizeCode(tt.mps, tt.typ)
		if tt.err != nil {
			assert.ErrorIs(t, err, tt.err, "mps %d", tt.mps)
			continue
		}
		require.NoError(t, err)
		assert.Equal(t, tt.code, code, "mps %d", tt.mps)
	}
}

func TestEdptOpen_Rejects(t *testing.T) {
	c, _ := newAttached(t)
	assert.ErrorIs(t, c.EdptOpen(dcd.Endpoint{Address: 0x88, Type: dcd.TransferBulk, MaxPacketSize: 64}), pkg.ErrInvalidEndpoint)
	assert.ErrorIs(t, c.EdptOpen(dcd.Endpoint{Address: 0x81, Type: dcd.TransferBulk, MaxPacketSize: 100}), pkg.ErrNotSupported)
}

func TestEdptXfer_LengthLimit(t *testing.T) {
	c, _ := newAttached(t)
	require.NoError(t, c.EdptOpen(dcd.Endpoint{Address: 0x81, Type: dcd.TransferBulk, MaxPacketSize: 64}))

	assert.ErrorIs(t, c.EdptXfer(0x81, make([]byte, 16384)), pkg.ErrInvalidParameter)
	assert.NoError(t, c.EdptXfer(0x81, make([]byte, 16383)))
	assert.ErrorIs(t, c.EdptXfer(0x81, nil), pkg.ErrBusy)
}

func TestBulkIn_SingleCompletion(t *testing.T) {
	c, rec := newAttached(t)
	require.NoError(t, c.EdptOpen(dcd.Endpoint{Address: 0x81, Type: dcd.TransferBulk, MaxPacketSize: 64}))

	data := make([]byte, 200)
	for i := range data {
		data[i] = byte(i)
	}
	require.NoError(t, c.EdptXfer(0x81, data))

	got, err := dcdtest.DrainIn(c, 0, 0x81, len(data))
	require.NoError(t, err)
	assert.Equal(t, data, got)

	done := rec.Completions(0x81)
	require.Len(t, done, 1)
	assert.Equal(t, 200, done[0].Len)
	assert.True(t, done[0].Short)

	_, err = c.In(0, 0x81)
	assert.ErrorIs(t, err, pkg.ErrNAK)
}

func TestBulkOut_WritesCallerBuffer(t *testing.T) {
	c, rec := newAttached(t)
	require.NoError(t, c.EdptOpen(dcd.Endpoint{Address: 0x02, Type: dcd.TransferBulk, MaxPacketSize: 64}))

	buf := make([]byte, 128)
	require.NoError(t, c.EdptXfer(0x02, buf))
	require.NoError(t, c.Out(0, 0x02, make([]byte, 64)))
	require.NoError(t, c.Out(0, 0x02, []byte{0xAA, 0xBB}))

	done := rec.Completions(0x02)
	require.Len(t, done, 1)
	assert.Equal(t, 66, done[0].Len)
	assert.Equal(t, []byte{0xAA, 0xBB}, buf[64:66])

	assert.ErrorIs(t, c.Out(0, 0x02, make([]byte, 65)), pkg.ErrNAK)
}

func TestSetup_CopiedAndRearmed(t *testing.T) {
	c, rec := newAttached(t)

	pkt := []byte{0x00, 0x09, 0x01, 0x00, 0x00, 0x00, 0x00, 0x00}
	require.NoError(t, c.Setup(0, pkt))
	pkt[1] = 0xFF

	recs := rec.Records()
	require.Len(t, recs, 1)
	assert.Equal(t, byte(0x09), recs[0].Event.Setup[1])

	// status IN, then the bank returns to the setup buffer after an OUT
	require.NoError(t, c.EdptXfer(0x00, make([]byte, 8)))
	assert.False(t, c.banks[0][0].setup)
	require.NoError(t, c.Out(0, 0x00, []byte{1, 2}))
	assert.True(t, c.banks[0][0].setup)
}

func TestSetAddress_ArmsSuspend(t *testing.T) {
	c, rec := newAttached(t)

	c.Suspend()
	assert.Empty(t, rec.Records())

	c.SetAddress(9)
	assert.ErrorIs(t, c.Setup(0, make([]byte, 8)), pkg.ErrNoResponse)

	c.Suspend()
	c.Resume()
	c.Resume()
	assert.Equal(t, []dcd.EventID{dcd.EventSuspend, dcd.EventResume}, rec.IDs())

	// reset disarms suspend again
	c.Reset(dcd.SpeedFull)
	rec.Reset()
	c.Suspend()
	assert.Empty(t, rec.Records())
}

func TestStall_EP0ClearedBySetup(t *testing.T) {
	c, _ := newAttached(t)
	c.EdptStall(0x80)

	_, err := c.In(0, 0x80)
	assert.ErrorIs(t, err, pkg.ErrStall)

	require.NoError(t, c.Setup(0, make([]byte, 8)))
	assert.False(t, c.EdptStalled(0x80))
	_, err = c.In(0, 0x80)
	assert.ErrorIs(t, err, pkg.ErrNAK)
}

func TestStall_EP0BothBanks(t *testing.T) {
	for _, ep := range []uint8{0x00, 0x80} {
		c, _ := newAttached(t)
		c.EdptStall(ep)
		assert.True(t, c.EdptStalled(0x00), "stall 0x%02X", ep)
		assert.True(t, c.EdptStalled(0x80), "stall 0x%02X", ep)

		_, err := c.In(0, 0x80)
		assert.ErrorIs(t, err, pkg.ErrStall)
		assert.ErrorIs(t, c.Out(0, 0x00, nil), pkg.ErrStall)

		require.NoError(t, c.Setup(0, make([]byte, 8)))
		assert.False(t, c.EdptStalled(0x00))
		assert.False(t, c.EdptStalled(0x80))
	}
}

func TestEdptClose(t *testing.T) {
	c, _ := newAttached(t)
	require.NoError(t, c.EdptOpen(dcd.Endpoint{Address: 0x83, Type: dcd.TransferInterrupt, MaxPacketSize: 8}))
	require.NoError(t, c.EdptXfer(0x83, []byte{1}))
	assert.True(t, c.EdptBusy(0x83))

	c.EdptCloseAll()
	assert.False(t, c.EdptBusy(0x83))
	_, err := c.In(0, 0x83)
	assert.ErrorIs(t, err, pkg.ErrNoResponse)
	assert.ErrorIs(t, c.EdptXfer(0x83, []byte{1}), pkg.ErrInvalidEndpoint)
}
