package fsdev

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ardnew/usbcore/device/dcd"
	"github.com/ardnew/usbcore/pkg"
)

func TestRxSizeEncoding(t *testing.T) {
	tests := []struct {
		size int
		reg  uint16
		cap  int
	}{
		{0, 0x8000, 32},
		{8, 4 << 10, 8},
		{62, 31 << 10, 62},
		{63, 0x8000 | 1<<10, 64},
		{64, 0x8000 | 1<<10, 64},
		{100, 0x8000 | 3<<10, 128},
		{512, 0x8000 | 15<<10, 512},
		{1023, 0x8000 | 31<<10, 1024},
	}

	for _, tt := range tests {
		reg := encodeRxSize(tt.size)
		assert.Equal(t, tt.reg, reg, "encode %d", tt.size)
		assert.Equal(t, tt.cap, decodeRxSize(reg), "decode %d", tt.size)
		assert.GreaterOrEqual(t, decodeRxSize(reg), tt.size)
	}
}

func TestAllocSlot_SharesNumberAndType(t *testing.T) {
	slots := make([]slot, 4)
	for i := range slots {
		slots[i].clear()
	}

	out, err := allocSlot(slots, 0x01, dcd.TransferBulk)
	require.NoError(t, err)
	in, err := allocSlot(slots, 0x81, dcd.TransferBulk)
	require.NoError(t, err)
	assert.Equal(t, out, in)

	// same number, different type takes a new slot
	intr, err := allocSlot(slots, 0x82, dcd.TransferInterrupt)
	require.NoError(t, err)
	other, err := allocSlot(slots, 0x02, dcd.TransferBulk)
	require.NoError(t, err)
	assert.NotEqual(t, intr, other)
}

func TestAllocSlot_IsochronousIsExclusive(t *testing.T) {
	slots := make([]slot, 2)
	for i := range slots {
		slots[i].clear()
	}

	iso, err := allocSlot(slots, 0x83, dcd.TransferIsochronous)
	require.NoError(t, err)

	// the OUT direction of an iso slot is never shared
	out, err := allocSlot(slots, 0x03, dcd.TransferIsochronous)
	require.NoError(t, err)
	assert.NotEqual(t, iso, out)

	_, err = allocSlot(slots, 0x04, dcd.TransferBulk)
	assert.ErrorIs(t, err, pkg.ErrNoResources)

	freeSlot(slots, 0x83)
	_, err = allocSlot(slots, 0x04, dcd.TransferBulk)
	assert.NoError(t, err)
}

func TestPMA_AllocAndReclaim(t *testing.T) {
	p := newPMA(256, 4)
	base := p.available()

	a, err := p.alloc(0x00, 64)
	require.NoError(t, err)
	b, err := p.alloc(0x80, 64)
	require.NoError(t, err)
	assert.Equal(t, a+64, b)

	c, err := p.alloc(0x81, 64)
	require.NoError(t, err)

	// a repeated allocation reuses the first one
	again, err := p.alloc(0x81, 32)
	require.NoError(t, err)
	assert.Equal(t, c, again)
	_, err = p.alloc(0x81, 128)
	assert.ErrorIs(t, err, pkg.ErrNoMemory)

	_, err = p.alloc(0x02, 64)
	assert.ErrorIs(t, err, pkg.ErrNoMemory)

	p.free(0x81, 64)
	assert.Equal(t, base-128, p.available())
}
