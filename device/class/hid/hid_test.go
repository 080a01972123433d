package hid

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ardnew/usbcore/device"
	"github.com/ardnew/usbcore/device/dcd/fsdev"
	"github.com/ardnew/usbcore/host"
	"github.com/ardnew/usbcore/pkg"
)

const (
	epIn  = 0x81
	epOut = 0x01
)

type rig struct {
	hid   *HID
	stack *device.Stack
	host  *host.Host
	dev   *host.Device
}

func newRig(t *testing.T) *rig {
	t.Helper()
	ctrl := fsdev.New(fsdev.Config{})

	b := device.NewBuilder().
		WithVendorProduct(0xCAFE, 0x4002).
		WithStrings("usbcore", "keyboard", "").
		AddConfiguration(1, 0, 100)
	b.AddFunction(Function{
		Interface:    b.NextInterface(),
		SubClass:     SubclassBoot,
		Protocol:     ProtocolKeyboard,
		ReportLength: uint16(len(KeyboardReportDescriptor)),
		InEP:         epIn,
		OutEP:        epOut,
		PacketSize:   8,
		Interval:     10,
	}.Descriptors())
	set, err := b.Build()
	require.NoError(t, err)

	r := &rig{hid: New(KeyboardReportDescriptor)}
	r.stack, err = device.NewStack(device.Config{
		Controller:  ctrl,
		Descriptors: set,
		Classes:     []device.ClassDriver{r.hid},
	})
	require.NoError(t, err)
	require.NoError(t, r.stack.Init())

	r.host, err = host.New(host.Config{Bus: ctrl, Idle: r.stack.Task})
	require.NoError(t, err)
	r.dev, err = r.host.Enumerate(context.Background())
	require.NoError(t, err)
	return r
}

func (r *rig) class(t *testing.T, in bool, request uint8, value uint16, data []byte) (int, error) {
	t.Helper()
	req := device.ClassRequest(in, request, value, r.hid.Interface(), uint16(len(data)))
	return r.dev.ControlTransfer(context.Background(), req, data)
}

func TestFunction_Descriptors(t *testing.T) {
	block := Function{Interface: 1, ReportLength: 52, InEP: 2, PacketSize: 8, Interval: 1}.Descriptors()
	require.Len(t, block, device.InterfaceDescriptorSize+HIDDescriptorSize+device.EndpointDescriptorSize)

	var itf device.InterfaceDescriptor
	require.NoError(t, device.ParseInterfaceDescriptor(block, &itf))
	assert.Equal(t, uint8(1), itf.NumEndpoints)
	assert.Equal(t, uint8(ClassHID), itf.InterfaceClass)

	var hd HIDDescriptor
	require.NoError(t, ParseHIDDescriptor(block[device.InterfaceDescriptorSize:], &hd))
	assert.Equal(t, uint16(0x0111), hd.HIDVersion)
	assert.Equal(t, uint16(52), hd.ReportDescLen)
	assert.Equal(t, 8, device.EndpointMaxPacketSize(block, 0x82))

	block = Function{InEP: 1, OutEP: 1, PacketSize: 16}.Descriptors()
	assert.Equal(t, 16, device.EndpointMaxPacketSize(block, 0x01))
}

func TestParseHIDDescriptor_Errors(t *testing.T) {
	var hd HIDDescriptor
	assert.ErrorIs(t, ParseHIDDescriptor([]byte{9, DescriptorTypeHID}, &hd), pkg.ErrDescriptorTooShort)

	buf := make([]byte, HIDDescriptorSize)
	(&HIDDescriptor{NumDescriptors: 1}).MarshalTo(buf)
	buf[1] = device.DescriptorTypeInterface
	assert.ErrorIs(t, ParseHIDDescriptor(buf, &hd), pkg.ErrDescriptorTypeMismatch)
}

func TestHID_Enumerates(t *testing.T) {
	r := newRig(t)

	require.Len(t, r.dev.Interfaces(), 1)
	require.Len(t, r.dev.ClassDescriptors(0), 1)
	assert.Equal(t, uint8(DescriptorTypeHID), r.dev.ClassDescriptors(0)[0][1])
	assert.Equal(t, uint8(ProtocolKeyboard), r.hid.BootProtocol())
	assert.Equal(t, uint8(ProtocolReport), r.hid.Protocol())
	assert.True(t, r.hid.Ready())
}

func TestHID_GetDescriptor(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()

	buf := make([]byte, 256)
	req := device.GetInterfaceDescriptorRequest(DescriptorTypeReport, 0, 0, uint16(len(buf)))
	n, err := r.dev.ControlTransfer(ctx, req, buf)
	require.NoError(t, err)
	assert.Equal(t, KeyboardReportDescriptor, buf[:n])

	req = device.GetInterfaceDescriptorRequest(DescriptorTypeHID, 0, 0, uint16(len(buf)))
	n, err = r.dev.ControlTransfer(ctx, req, buf)
	require.NoError(t, err)
	require.Equal(t, HIDDescriptorSize, n)
	var hd HIDDescriptor
	require.NoError(t, ParseHIDDescriptor(buf[:n], &hd))
	assert.Equal(t, uint16(len(KeyboardReportDescriptor)), hd.ReportDescLen)

	req = device.GetInterfaceDescriptorRequest(DescriptorTypePhysical, 0, 0, uint16(len(buf)))
	_, err = r.dev.ControlTransfer(ctx, req, buf)
	assert.ErrorIs(t, err, pkg.ErrStall)
}

func TestHID_IdleAndProtocol(t *testing.T) {
	r := newRig(t)
	var rate, id, proto uint8
	r.hid.SetOnSetIdle(func(rt, rid uint8) { rate, id = rt, rid })
	r.hid.SetOnSetProtocol(func(p uint8) { proto = p })

	_, err := r.class(t, false, RequestSetIdle, 125<<8|2, nil)
	require.NoError(t, err)
	assert.Equal(t, uint8(125), rate)
	assert.Equal(t, uint8(2), id)
	assert.Equal(t, uint8(125), r.hid.IdleRate())

	buf := make([]byte, 1)
	_, err = r.class(t, true, RequestGetIdle, 0, buf)
	require.NoError(t, err)
	assert.Equal(t, uint8(125), buf[0])

	proto = 0xFF
	_, err = r.class(t, false, RequestSetProtocol, ProtocolBoot, nil)
	require.NoError(t, err)
	assert.Equal(t, uint8(ProtocolBoot), proto)

	_, err = r.class(t, true, RequestGetProtocol, 0, buf)
	require.NoError(t, err)
	assert.Equal(t, uint8(ProtocolBoot), buf[0])

	_, err = r.class(t, false, RequestSetProtocol, 7, nil)
	assert.ErrorIs(t, err, pkg.ErrStall)

	// a bus reset returns to report protocol
	_, err = r.host.Enumerate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint8(ProtocolReport), r.hid.Protocol())
	assert.Zero(t, r.hid.IdleRate())
}

func TestHID_GetReport(t *testing.T) {
	r := newRig(t)
	buf := make([]byte, KeyboardReportSize)

	_, err := r.class(t, true, RequestGetReport, ReportTypeInput<<8, buf)
	assert.ErrorIs(t, err, pkg.ErrStall)

	var gotType, gotID uint8
	r.hid.SetOnGetReport(func(id, typ uint8, p []byte) int {
		gotID, gotType = id, typ
		report := KeyboardReport{Modifiers: ModLeftShift}
		report.SetKey(KeyA)
		return report.MarshalTo(p)
	})
	n, err := r.class(t, true, RequestGetReport, ReportTypeInput<<8|3, buf)
	require.NoError(t, err)
	assert.Equal(t, KeyboardReportSize, n)
	assert.Equal(t, uint8(ReportTypeInput), gotType)
	assert.Equal(t, uint8(3), gotID)
	assert.Equal(t, []byte{ModLeftShift, 0, KeyA, 0, 0, 0, 0, 0}, buf)

	r.hid.SetOnGetReport(func(uint8, uint8, []byte) int { return 0 })
	_, err = r.class(t, true, RequestGetReport, ReportTypeInput<<8, buf)
	assert.ErrorIs(t, err, pkg.ErrStall)
}

func TestHID_SetReport(t *testing.T) {
	r := newRig(t)
	var output, feature []byte
	var featureID uint8
	r.hid.SetOnOutputReport(func(_ uint8, data []byte) { output = append([]byte(nil), data...) })
	r.hid.SetOnFeatureReport(func(id uint8, data []byte) {
		featureID, feature = id, append([]byte(nil), data...)
	})

	_, err := r.class(t, false, RequestSetReport, ReportTypeOutput<<8, []byte{LEDCapsLock})
	require.NoError(t, err)
	assert.Equal(t, []byte{LEDCapsLock}, output)

	_, err = r.class(t, false, RequestSetReport, ReportTypeFeature<<8|4, []byte{1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, uint8(4), featureID)
	assert.Equal(t, []byte{1, 2, 3}, feature)

	_, err = r.class(t, false, RequestSetReport, ReportTypeOutput<<8, make([]byte, MaxReportSize+1))
	assert.ErrorIs(t, err, pkg.ErrStall)
}

func TestHID_SendReport(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()
	sent := 0
	r.hid.SetOnReportSent(func() { sent++ })

	report := KeyboardReport{}
	report.SetKey(KeyB)
	require.NoError(t, r.hid.SendKeyboardReport(0, &report))
	assert.False(t, r.hid.Ready())
	assert.ErrorIs(t, r.hid.SendKeyboardReport(0, &report), pkg.ErrBusy)

	buf := make([]byte, 8)
	n, err := r.dev.Read(ctx, epIn, buf)
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 0, KeyB, 0, 0, 0, 0, 0}, buf[:n])

	r.stack.Task()
	assert.Equal(t, 1, sent)
	assert.True(t, r.hid.Ready())

	require.NoError(t, r.hid.SendMouseReport(2, &MouseReport{Buttons: MouseButtonLeft, X: -1}))
	n, err = r.dev.Read(ctx, epIn, buf)
	require.NoError(t, err)
	assert.Equal(t, []byte{2, MouseButtonLeft, 0xFF, 0, 0}, buf[:n])

	r.stack.Task()
	assert.ErrorIs(t, r.hid.SendReport(1, make([]byte, MaxReportSize)), pkg.ErrBufferTooSmall)
}

func TestHID_OutputReportEndpoint(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()
	var got [][]byte
	r.hid.SetOnOutputReport(func(id uint8, data []byte) {
		assert.Zero(t, id)
		got = append(got, append([]byte(nil), data...))
	})

	_, err := r.dev.Write(ctx, epOut, []byte{LEDNumLock})
	require.NoError(t, err)
	r.stack.Task()
	_, err = r.dev.Write(ctx, epOut, []byte{LEDScrollLock})
	require.NoError(t, err)
	r.stack.Task()

	assert.Equal(t, [][]byte{{LEDNumLock}, {LEDScrollLock}}, got)
}

func TestHID_NotConfigured(t *testing.T) {
	r := newRig(t)
	r.host.Detach()
	r.stack.Task()

	assert.False(t, r.hid.Ready())
	assert.ErrorIs(t, r.hid.SendReport(0, []byte{1}), pkg.ErrNotConfigured)
}
