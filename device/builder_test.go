package device

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ardnew/usbcore/device/dcd"
	"github.com/ardnew/usbcore/pkg"
)

func TestBuilder_Device(t *testing.T) {
	set, err := NewBuilder().
		WithVendorProduct(0x1209, 0xCAFE).
		WithDeviceVersion(0x0102).
		WithClass(ClassMisc, 0x02, 0x01).
		WithMaxPacketSize0(16).
		WithStrings("Maker", "Widget", "").
		AddConfiguration(1, ConfigAttrSelfPowered, 250).
		AddInterface(ClassVendor, 0, 0, 0).
		Build()
	require.NoError(t, err)

	var dev DeviceDescriptor
	require.NoError(t, ParseDeviceDescriptor(set.Device(), &dev))
	assert.Equal(t, uint16(0x0200), dev.USBVersion)
	assert.Equal(t, uint16(0x1209), dev.VendorID)
	assert.Equal(t, uint16(0xCAFE), dev.ProductID)
	assert.Equal(t, uint16(0x0102), dev.DeviceVersion)
	assert.Equal(t, uint8(ClassMisc), dev.DeviceClass)
	assert.Equal(t, uint8(16), dev.MaxPacketSize0)
	assert.Equal(t, uint8(1), dev.ManufacturerIndex)
	assert.Equal(t, uint8(2), dev.ProductIndex)
	assert.Zero(t, dev.SerialNumberIndex)
	assert.Equal(t, uint8(1), dev.NumConfigurations)

	assert.Equal(t, 1, set.NumConfigurations())
	assert.Equal(t, 3, set.NumStrings())
	s, err := ParseStringDescriptor(set.String(2, LangIDUSEnglish))
	require.NoError(t, err)
	assert.Equal(t, "Widget", s)
	assert.Nil(t, set.String(3, LangIDUSEnglish))
}

func TestBuilder_Configuration(t *testing.T) {
	b := NewBuilder().AddConfiguration(1, ConfigAttrRemoteWakeup, 100)
	label := b.String("Data")
	set, err := b.
		AddInterface(ClassCDCData, 0, 0, label).
		AddEndpoint(0x81, dcd.TransferBulk, 64, 0).
		AddEndpoint(0x01, dcd.TransferBulk, 64, 0).
		AddInterface(ClassHID, 0, 0, 0).
		AddClassDescriptor([]byte{0x09, DescriptorTypeHID, 0x11, 0x01, 0x00, 0x01, 0x22, 0x20, 0x00}).
		AddEndpoint(0x82, dcd.TransferInterrupt, 8, 10).
		Build()
	require.NoError(t, err)

	cfg := set.Configuration(0)
	var hdr ConfigurationDescriptor
	require.NoError(t, ParseConfigurationDescriptor(cfg, &hdr))
	assert.Equal(t, len(cfg), int(hdr.TotalLength))
	assert.Equal(t, ConfigurationTotalLength(cfg), len(cfg))
	assert.Equal(t, uint8(2), hdr.NumInterfaces)
	assert.Equal(t, uint8(ConfigAttrBusPowered|ConfigAttrRemoteWakeup), hdr.Attributes)
	assert.Equal(t, uint8(50), hdr.MaxPower)

	var itfs []InterfaceDescriptor
	var eps []uint8
	for p := cfg[ConfigurationDescriptorSize:]; len(p) > 0; {
		desc, rest, ok := NextDescriptor(p)
		require.True(t, ok)
		switch DescriptorTypeOf(desc) {
		case DescriptorTypeInterface:
			var itf InterfaceDescriptor
			require.NoError(t, ParseInterfaceDescriptor(desc, &itf))
			itfs = append(itfs, itf)
		case DescriptorTypeEndpoint:
			eps = append(eps, desc[2])
		}
		p = rest
	}
	require.Len(t, itfs, 2)
	assert.Equal(t, uint8(0), itfs[0].InterfaceNumber)
	assert.Equal(t, uint8(2), itfs[0].NumEndpoints)
	assert.Equal(t, label, itfs[0].InterfaceIndex)
	assert.Equal(t, uint8(1), itfs[1].InterfaceNumber)
	assert.Equal(t, uint8(1), itfs[1].NumEndpoints)
	assert.Equal(t, []uint8{0x81, 0x01, 0x82}, eps)
}

func TestBuilder_StringDeduplicated(t *testing.T) {
	b := NewBuilder()
	assert.Equal(t, uint8(0), b.String(""))
	first := b.String("same")
	assert.Equal(t, first, b.String("same"))
	assert.NotEqual(t, first, b.String("other"))
}

func TestBuilder_AlternateSetting(t *testing.T) {
	set, err := NewBuilder().
		AddConfiguration(1, 0, 100).
		AddInterface(ClassAudio, 0x02, 0, 0).
		AddAlternateSetting(1, ClassAudio, 0x02, 0, 0).
		AddEndpoint(0x03, dcd.TransferIsochronous, 192, 1).
		Build()
	require.NoError(t, err)

	var hdr ConfigurationDescriptor
	require.NoError(t, ParseConfigurationDescriptor(set.Configuration(0), &hdr))
	assert.Equal(t, uint8(1), hdr.NumInterfaces)
}

func TestBuilder_AddFunction(t *testing.T) {
	block := make([]byte, InterfaceDescriptorSize+EndpointDescriptorSize)
	itf := InterfaceDescriptor{InterfaceNumber: 0, NumEndpoints: 1, InterfaceClass: ClassHID}
	itf.MarshalTo(block)
	ep := EndpointDescriptor{EndpointAddress: 0x81, Attributes: uint8(dcd.TransferInterrupt), MaxPacketSize: 8, Interval: 1}
	ep.MarshalTo(block[InterfaceDescriptorSize:])

	b := NewBuilder().AddConfiguration(1, 0, 100).AddFunction(block)
	assert.Equal(t, uint8(1), b.NextInterface())
	set, err := b.AddInterface(ClassVendor, 0, 0, 0).Build()
	require.NoError(t, err)

	var hdr ConfigurationDescriptor
	require.NoError(t, ParseConfigurationDescriptor(set.Configuration(0), &hdr))
	assert.Equal(t, uint8(2), hdr.NumInterfaces)

	_, err = NewBuilder().AddConfiguration(1, 0, 100).AddFunction(block).AddFunction(block).Build()
	assert.ErrorIs(t, err, pkg.ErrInvalidParameter)
}

func TestBuilder_QualifierAndOtherSpeed(t *testing.T) {
	set, err := NewBuilder().
		WithQualifier().
		AddConfiguration(1, 0, 100).
		AddInterface(ClassVendor, 0, 0, 0).
		Build()
	require.NoError(t, err)

	require.Len(t, set.Qualifier(), QualifierDescriptorSize)
	assert.Equal(t, uint8(DescriptorTypeDeviceQualifier), set.Qualifier()[1])
	other := set.OtherSpeedConfiguration(0)
	assert.Equal(t, uint8(DescriptorTypeOtherSpeedConfig), other[1])
	assert.Equal(t, set.Configuration(0)[2:], other[2:])
	assert.Nil(t, set.OtherSpeedConfiguration(1))
	assert.Nil(t, set.BOS())
}

func TestBuilder_Errors(t *testing.T) {
	tests := []struct {
		name string
		b    *Builder
		want error
	}{
		{"no configuration", NewBuilder(), pkg.ErrInvalidState},
		{"configuration zero", NewBuilder().AddConfiguration(0, 0, 100), pkg.ErrInvalidParameter},
		{"interface first", NewBuilder().AddInterface(ClassHID, 0, 0, 0), pkg.ErrInvalidState},
		{"endpoint before interface", NewBuilder().AddConfiguration(1, 0, 100).
			AddEndpoint(0x81, dcd.TransferBulk, 64, 0), pkg.ErrInvalidState},
		{"endpoint zero", NewBuilder().AddConfiguration(1, 0, 100).AddInterface(ClassVendor, 0, 0, 0).
			AddEndpoint(0x80, dcd.TransferBulk, 64, 0), pkg.ErrInvalidEndpoint},
		{"control endpoint", NewBuilder().AddConfiguration(1, 0, 100).AddInterface(ClassVendor, 0, 0, 0).
			AddEndpoint(0x01, dcd.TransferControl, 64, 0), pkg.ErrInvalidEndpoint},
		{"ep0 size", NewBuilder().WithMaxPacketSize0(48), pkg.ErrInvalidParameter},
		{"no languages", NewBuilder().WithLanguages(), pkg.ErrInvalidParameter},
		{"bad capability", NewBuilder().WithCapability([]byte{3, DescriptorTypeString, 0}), pkg.ErrDescriptorTypeMismatch},
		{"bad class descriptor", NewBuilder().AddConfiguration(1, 0, 100).AddInterface(ClassVendor, 0, 0, 0).
			AddClassDescriptor([]byte{9, 0x24}), pkg.ErrDescriptorTooShort},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.b.Build()
			assert.ErrorIs(t, err, tt.want)
		})
	}
}
