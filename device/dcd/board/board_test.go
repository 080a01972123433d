package board

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ardnew/usbcore/device/dcd"
)

func TestNew(t *testing.T) {
	d := New(1)
	require.NotNil(t, d)
	assert.Equal(t, uint8(1), d.Port())
	assert.NotEmpty(t, Family)

	require.NoError(t, d.Init(dcd.HandlerFunc(func(*dcd.Event, bool) {})))
	assert.False(t, d.Attached())
	d.Connect()
	assert.True(t, d.Attached())
}
