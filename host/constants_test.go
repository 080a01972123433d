package host

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeviceState_String(t *testing.T) {
	tests := []struct {
		state    DeviceState
		expected string
	}{
		{DeviceStateDetached, "Detached"},
		{DeviceStateAttached, "Attached"},
		{DeviceStateDefault, "Default"},
		{DeviceStateAddress, "Address"},
		{DeviceStateConfigured, "Configured"},
		{DeviceStateSuspended, "Suspended"},
		{DeviceState(99), "Unknown State (99)"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.state.String())
		})
	}
}

func TestAllocateAddress_Wraps(t *testing.T) {
	h := &Host{nextAddress: MaxAddress}
	assert.Equal(t, uint8(MaxAddress), h.allocateAddress())
	assert.Equal(t, uint8(1), h.allocateAddress())
	assert.Equal(t, uint8(2), h.allocateAddress())
}
