package cdc

import (
	"bytes"
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
	epNotify  = 0x81
	epDataOut = 0x02
	epDataIn  = 0x82
)

type rig struct {
	acm   *ACM
	stack *device.Stack
	host  *host.Host
	dev   *host.Device
}

func newRig(t *testing.T, cfg Config) *rig {
	t.Helper()
	ctrl := fsdev.New(fsdev.Config{})

	b := device.NewBuilder().
		WithVendorProduct(0xCAFE, 0x4001).
		WithClass(device.ClassMisc, 0x02, 0x01).
		WithStrings("usbcore", "serial", "").
		AddConfiguration(1, 0, 100)
	b.AddFunction(Function{
		Interface:  b.NextInterface(),
		NotifyEP:   epNotify,
		NotifySize: 8,
		DataOutEP:  epDataOut,
		DataInEP:   epDataIn,
		BulkSize:   64,
	}.Descriptors())
	set, err := b.Build()
	require.NoError(t, err)

	r := &rig{acm: NewACM(cfg)}
	r.stack, err = device.NewStack(device.Config{
		Controller:  ctrl,
		Descriptors: set,
		Classes:     []device.ClassDriver{r.acm},
	})
	require.NoError(t, err)
	require.NoError(t, r.stack.Init())

	r.host, err = host.New(host.Config{Bus: ctrl, Idle: r.stack.Task})
	require.NoError(t, err)
	r.dev, err = r.host.Enumerate(context.Background())
	require.NoError(t, err)
	return r
}

func (r *rig) class(t *testing.T, in bool, request uint8, value uint16, data []byte) error {
	t.Helper()
	req := device.ClassRequest(in, request, value, r.acm.Interface(), uint16(len(data)))
	_, err := r.dev.ControlTransfer(context.Background(), req, data)
	return err
}

func TestFunction_Descriptors(t *testing.T) {
	block := Function{Interface: 2, NotifyEP: 3, NotifySize: 8, DataOutEP: 4, DataInEP: 4, BulkSize: 64}.Descriptors()
	require.Len(t, block, FunctionSize)
	assert.Equal(t, 66, FunctionSize)

	var iad device.InterfaceAssociationDescriptor
	require.NoError(t, device.ParseIAD(block, &iad))
	assert.Equal(t, uint8(2), iad.FirstInterface)
	assert.Equal(t, uint8(2), iad.InterfaceCount)

	var itf device.InterfaceDescriptor
	require.NoError(t, device.ParseInterfaceDescriptor(block[device.IADSize:], &itf))
	assert.Equal(t, uint8(ClassCDC), itf.InterfaceClass)
	assert.Equal(t, uint8(SubclassACM), itf.InterfaceSubClass)

	assert.Equal(t, 8, device.EndpointMaxPacketSize(block, 0x83))
	assert.Equal(t, 64, device.EndpointMaxPacketSize(block, 0x04))
	assert.Equal(t, 64, device.EndpointMaxPacketSize(block, 0x84))

	// functional descriptors follow the control interface
	fd := block[device.IADSize+device.InterfaceDescriptorSize:]
	var subtypes []uint8
	for len(fd) > 2 && fd[1] == device.DescriptorTypeCSInterface {
		subtypes = append(subtypes, fd[2])
		fd = fd[fd[0]:]
	}
	assert.Equal(t, []uint8{SubtypeHeader, SubtypeCallManagement, SubtypeACM, SubtypeUnion}, subtypes)
}

func TestLineCoding_String(t *testing.T) {
	tests := []struct {
		lc   LineCoding
		want string
	}{
		{DefaultLineCoding, "115200 8N1"},
		{LineCoding{DTERate: 9600, DataBits: 7, ParityType: ParityEven, CharFormat: StopBits2}, "9600 7E2"},
		{LineCoding{DTERate: 300, DataBits: 5, ParityType: ParityMark, CharFormat: StopBits1_5}, "300 5M1.5"},
		{LineCoding{DTERate: 1, DataBits: 8, ParityType: 9, CharFormat: 9}, "1 8??"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.lc.String())
	}
}

func TestACM_Enumerates(t *testing.T) {
	r := newRig(t, Config{})

	require.Len(t, r.dev.Interfaces(), 2)
	assert.Equal(t, uint8(ClassCDCData), r.dev.Interfaces()[1].InterfaceClass)
	assert.Len(t, r.dev.ClassDescriptors(0), 4)
	assert.True(t, r.stack.Mounted())
	assert.Zero(t, r.acm.Interface())
	assert.False(t, r.acm.Connected())
}

func TestACM_LineCoding(t *testing.T) {
	r := newRig(t, Config{})
	var got *LineCoding
	r.acm.SetOnLineCodingChange(func(lc *LineCoding) { got = lc })

	buf := make([]byte, LineCodingSize)
	require.NoError(t, r.class(t, true, RequestGetLineCoding, 0, buf))
	var lc LineCoding
	require.True(t, ParseLineCoding(buf, &lc))
	assert.Equal(t, DefaultLineCoding, lc)

	want := LineCoding{DTERate: 9600, CharFormat: StopBits2, ParityType: ParityEven, DataBits: 7}
	want.MarshalTo(buf)
	require.NoError(t, r.class(t, false, RequestSetLineCoding, 0, buf))
	require.NotNil(t, got)
	assert.Equal(t, want, *got)
	assert.Equal(t, want, r.acm.LineCoding())

	clear(buf)
	require.NoError(t, r.class(t, true, RequestGetLineCoding, 0, buf))
	require.True(t, ParseLineCoding(buf, &lc))
	assert.Equal(t, want, lc)

	// line coding survives a re-enumeration
	_, err := r.host.Enumerate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, want, r.acm.LineCoding())
}

func TestACM_ControlLineStateAndBreak(t *testing.T) {
	r := newRig(t, Config{})
	var dtr, rts bool
	var brk uint16
	r.acm.SetOnControlStateChange(func(d, s bool) { dtr, rts = d, s })
	r.acm.SetOnBreak(func(ms uint16) { brk = ms })

	require.NoError(t, r.class(t, false, RequestSetControlLineState, ControlLineDTR|ControlLineRTS, nil))
	assert.True(t, dtr)
	assert.True(t, rts)
	assert.True(t, r.acm.DTR())
	assert.True(t, r.acm.RTS())
	assert.True(t, r.acm.Connected())

	require.NoError(t, r.class(t, false, RequestSendBreak, 250, nil))
	assert.Equal(t, uint16(250), brk)

	require.NoError(t, r.class(t, false, RequestSetControlLineState, 0, nil))
	assert.False(t, dtr)
	assert.False(t, r.acm.Connected())
}

func TestACM_UnsupportedRequestStalls(t *testing.T) {
	r := newRig(t, Config{})

	err := r.class(t, false, RequestSendEncapsulatedCommand, 0, nil)
	assert.ErrorIs(t, err, pkg.ErrStall)

	// short SET_LINE_CODING
	err = r.class(t, false, RequestSetLineCoding, 0, make([]byte, 4))
	assert.ErrorIs(t, err, pkg.ErrStall)
	assert.Equal(t, DefaultLineCoding, r.acm.LineCoding())

	// the data interface does not take class requests
	req := device.ClassRequest(true, RequestGetLineCoding, 0, 1, LineCodingSize)
	_, err = r.dev.ControlTransfer(context.Background(), req, make([]byte, LineCodingSize))
	assert.ErrorIs(t, err, pkg.ErrStall)
}

func TestACM_Receive(t *testing.T) {
	r := newRig(t, Config{})
	ctx := context.Background()
	var rx int
	var wanted []byte
	r.acm.SetOnRx(func() { rx++ })
	r.acm.SetWantedChar('\n', func(c byte) { wanted = append(wanted, c) })

	_, err := r.dev.Write(ctx, epDataOut, []byte("ab\ncd\n"))
	require.NoError(t, err)
	assert.Equal(t, 1, rx)
	assert.Equal(t, []byte("\n\n"), wanted)
	assert.Equal(t, 6, r.acm.Available())

	peek := make([]byte, 2)
	assert.Equal(t, 2, r.acm.Peek(peek))
	assert.Equal(t, "ab", string(peek))

	buf := make([]byte, 16)
	n, err := r.acm.TryRead(buf)
	require.NoError(t, err)
	assert.Equal(t, "ab\ncd\n", string(buf[:n]))

	n, err = r.acm.TryRead(buf)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestACM_ReceiveBackpressure(t *testing.T) {
	r := newRig(t, Config{RxBufferSize: 100})
	ctx := context.Background()

	// one packet leaves 36 bytes, less than a packet: the OUT endpoint is
	// not re-armed and the host gets NAKs
	_, err := r.dev.Write(ctx, epDataOut, bytes.Repeat([]byte{1}, 64))
	require.NoError(t, err)
	_, err = r.dev.Write(ctx, epDataOut, []byte{2})
	assert.ErrorIs(t, err, pkg.ErrTimeout)

	buf := make([]byte, 64)
	n, err := r.acm.TryRead(buf)
	require.NoError(t, err)
	assert.Equal(t, 64, n)

	_, err = r.dev.Write(ctx, epDataOut, []byte{2})
	require.NoError(t, err)
	n, err = r.acm.TryRead(buf)
	require.NoError(t, err)
	assert.Equal(t, []byte{2}, buf[:n])
}

func TestACM_Transmit(t *testing.T) {
	r := newRig(t, Config{})
	ctx := context.Background()
	var done int
	r.acm.SetOnTxComplete(func() { done++ })

	n, err := r.acm.TryWrite([]byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, 5, r.acm.Flush())
	assert.Zero(t, r.acm.Flush())

	buf := make([]byte, 64)
	n, err = r.dev.Read(ctx, epDataIn, buf)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf[:n]))
	assert.Equal(t, 1, done)
}

func TestACM_TransmitFullPacketSendsZLP(t *testing.T) {
	r := newRig(t, Config{})
	ctx := context.Background()

	data := bytes.Repeat([]byte{0x55}, 64)
	n, err := r.acm.Write(ctx, data)
	require.NoError(t, err)
	assert.Equal(t, 64, n)

	// the ZLP ends the read even though the buffer has room
	buf := make([]byte, 128)
	n, err = r.dev.Read(ctx, epDataIn, buf)
	require.NoError(t, err)
	assert.Equal(t, data, buf[:n])
}

func TestACM_TransmitSpansPackets(t *testing.T) {
	r := newRig(t, Config{})
	ctx := context.Background()

	data := make([]byte, 100)
	for i := range data {
		data[i] = byte(i)
	}
	_, err := r.acm.Write(ctx, data)
	require.NoError(t, err)

	buf := make([]byte, 128)
	n, err := r.dev.Read(ctx, epDataIn, buf)
	require.NoError(t, err)
	assert.Equal(t, data, buf[:n])
}

func TestACM_SerialState(t *testing.T) {
	r := newRig(t, Config{})
	ctx := context.Background()
	var notified bool
	r.acm.SetOnNotifyComplete(func() { notified = true })

	state := uint16(SerialStateRxCarrier | SerialStateTxCarrier)
	require.NoError(t, r.acm.SendSerialState(state))
	assert.ErrorIs(t, r.acm.SendSerialState(state), pkg.ErrBusy)
	assert.Equal(t, state, r.acm.SerialState())

	buf := make([]byte, 16)
	n, err := r.dev.Read(ctx, epNotify, buf)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xA1, NotificationSerialState, 0, 0, 0, 0, 2, 0, 0x03, 0x00}, buf[:n])
	assert.True(t, notified)

	require.NoError(t, r.acm.SendSerialState(0))
}

func TestACM_SerialStateEventsNotLatched(t *testing.T) {
	r := newRig(t, Config{})
	ctx := context.Background()

	state := uint16(SerialStateRxCarrier | SerialStateOverrun | SerialStateParity)
	require.NoError(t, r.acm.SendSerialState(state))
	assert.Equal(t, uint16(SerialStateRxCarrier), r.acm.SerialState())

	buf := make([]byte, 16)
	n, err := r.dev.Read(ctx, epNotify, buf)
	require.NoError(t, err)
	require.Equal(t, 10, n)
	assert.Equal(t, []byte{0x61, 0x00}, buf[8:10])
}

func TestACM_Detach(t *testing.T) {
	r := newRig(t, Config{})
	ctx := context.Background()

	_, err := r.dev.Write(ctx, epDataOut, []byte("x"))
	require.NoError(t, err)
	r.host.Detach()

	_, err = r.acm.TryRead(make([]byte, 4))
	assert.ErrorIs(t, err, pkg.ErrNotConfigured)
	_, err = r.acm.TryWrite([]byte("y"))
	assert.ErrorIs(t, err, pkg.ErrNotConfigured)
	assert.ErrorIs(t, r.acm.SendSerialState(0), pkg.ErrNotConfigured)

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	_, err = r.acm.Read(cctx, make([]byte, 4))
	assert.ErrorIs(t, err, pkg.ErrNotConfigured)
}

func TestACM_ReadHonorsContext(t *testing.T) {
	r := newRig(t, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := r.acm.Read(ctx, make([]byte, 4))
	assert.ErrorIs(t, err, context.Canceled)
}
