package device

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ardnew/usbcore/device/dcd"
	"github.com/ardnew/usbcore/pkg"
)

// xfer is one transfer queued on the mock controller.
type xfer struct {
	ep  uint8
	buf []byte // controller view of the buffer; OUT transfers are filled in place
	in  []byte // copy of IN data taken when the transfer was queued
}

// mockController records every call the stack makes.
type mockController struct {
	mu      sync.Mutex
	ep0     int
	h       dcd.Handler
	ops     []string
	xfers   []xfer
	opened  map[uint8]dcd.Endpoint
	stalled map[uint8]bool
	openErr error
	xferErr error
	sofOn   bool
}

func newMockController(ep0 int) *mockController {
	return &mockController{
		ep0:     ep0,
		opened:  map[uint8]dcd.Endpoint{},
		stalled: map[uint8]bool{},
	}
}

func (m *mockController) record(format string, args ...any) {
	m.ops = append(m.ops, fmt.Sprintf(format, args...))
}

func (m *mockController) Port() uint8  { return 0 }
func (m *mockController) EP0Size() int { return m.ep0 }

func (m *mockController) Init(h dcd.Handler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.h = h
	m.record("init")
	return nil
}

func (m *mockController) Connect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("connect")
}

func (m *mockController) Disconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("disconnect")
}

func (m *mockController) SetAddress(addr uint8) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("address %d", addr)
}

func (m *mockController) RemoteWakeup() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("wakeup")
}

func (m *mockController) SOFEnable(en bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sofOn = en
	m.record("sof %t", en)
}

func (m *mockController) EdptOpen(ep dcd.Endpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.openErr != nil {
		return m.openErr
	}
	m.opened[ep.Address] = ep
	m.record("open 0x%02X", ep.Address)
	return nil
}

func (m *mockController) EdptXfer(ep uint8, buf []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.xferErr != nil {
		return m.xferErr
	}
	x := xfer{ep: ep, buf: buf}
	if dcd.EdptIsIn(ep) {
		x.in = append([]byte{}, buf...)
	}
	m.xfers = append(m.xfers, x)
	m.record("xfer 0x%02X %d", ep, len(buf))
	return nil
}

func (m *mockController) EdptStall(ep uint8) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stalled[ep] = true
	m.record("stall 0x%02X", ep)
}

func (m *mockController) EdptClearStall(ep uint8) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.stalled, ep)
	m.record("clear 0x%02X", ep)
}

func (m *mockController) EdptStalled(ep uint8) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stalled[ep]
}

func (m *mockController) EdptBusy(uint8) bool { return false }

func (m *mockController) EdptClose(ep uint8) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.opened, ep)
	m.record("close 0x%02X", ep)
}

func (m *mockController) EdptCloseAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opened = map[uint8]dcd.Endpoint{}
	m.record("closeall")
}

// Ops returns the recorded calls and forgets them.
func (m *mockController) Ops() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ops := m.ops
	m.ops = nil
	return ops
}

// next returns the oldest transfer not yet taken.
func (m *mockController) next() (xfer, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.xfers) == 0 {
		return xfer{}, false
	}
	x := m.xfers[0]
	m.xfers = m.xfers[1:]
	return x, true
}

func (m *mockController) queued() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.xfers)
}

// testDriver claims interfaces of one class and opens their bulk
// endpoints. Class request 0x01 reads and 0x02 writes a 4-byte value.
type testDriver struct {
	s      *Stack
	class  uint8
	out    uint8
	in     uint8
	itfs   []uint8
	resets int
	stages []Stage
	reqs   []SetupPacket
	done   []string
	sofs   int
	value  [4]byte
}

const (
	testRequestGet = 0x01
	testRequestSet = 0x02
)

func (d *testDriver) Name() string  { return "test" }
func (d *testDriver) Init(s *Stack) { d.s = s }

func (d *testDriver) Reset(uint8) {
	d.resets++
	d.itfs = nil
	d.out, d.in = 0, 0
}

func (d *testDriver) Open(_ uint8, itf []byte) int {
	var desc InterfaceDescriptor
	if ParseInterfaceDescriptor(itf, &desc) != nil || desc.InterfaceClass != d.class {
		return 0
	}
	out, in, n, err := d.s.OpenEndpointPair(itf[InterfaceDescriptorSize:], int(desc.NumEndpoints), dcd.TransferBulk)
	if err != nil {
		return 0
	}
	d.out, d.in = out, in
	d.itfs = append(d.itfs, desc.InterfaceNumber)
	return InterfaceDescriptorSize + n
}

func (d *testDriver) ControlXfer(_ uint8, stage Stage, req *SetupPacket) bool {
	d.stages = append(d.stages, stage)
	d.reqs = append(d.reqs, *req)
	if !req.IsClass() {
		return false
	}
	switch req.Request {
	case testRequestGet:
		if stage == StageSetup {
			return d.s.ControlReply(req, d.value[:])
		}
		return true
	case testRequestSet:
		if stage == StageSetup {
			return d.s.ControlReceive(req, d.value[:])
		}
		return true
	}
	return false
}

func (d *testDriver) XferCB(_ uint8, ep uint8, result pkg.XferResult, n int) bool {
	d.done = append(d.done, fmt.Sprintf("0x%02X %s %d", ep, result, n))
	return true
}

func (d *testDriver) SOF(uint8, uint32) { d.sofs++ }

// harness drives a Stack through a mock controller the way a host would.
type harness struct {
	t *testing.T
	s *Stack
	c *mockController
}

func testDescriptors(t *testing.T, ep0 uint8, attrs uint8) *DescriptorSet {
	t.Helper()
	set, err := NewBuilder().
		WithVendorProduct(0x1209, 0x0001).
		WithMaxPacketSize0(ep0).
		WithStrings("usbcore", "test device", "0001").
		AddConfiguration(1, attrs, 100).
		AddInterface(ClassVendor, 0, 0, 0).
		AddEndpoint(0x81, dcd.TransferBulk, 64, 0).
		AddEndpoint(0x01, dcd.TransferBulk, 64, 0).
		Build()
	require.NoError(t, err)
	return set
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	c := newMockController(MaxEP0Size)
	if cfg.Controller != nil {
		c = cfg.Controller.(*mockController)
	}
	cfg.Controller = c
	if cfg.Descriptors == nil {
		cfg.Descriptors = testDescriptors(t, uint8(c.ep0), ConfigAttrRemoteWakeup)
	}
	s, err := NewStack(cfg)
	require.NoError(t, err)
	require.NoError(t, s.Init())
	c.Ops()
	h := &harness{t: t, s: s, c: c}
	h.reset()
	return h
}

func (h *harness) reset() {
	dcd.BusReset(h.s, 0, dcd.SpeedFull, true)
	h.s.Task()
}

func (h *harness) setup(req SetupPacket) {
	b := req.Bytes()
	dcd.SetupReceived(h.s, 0, b[:], true)
	h.s.Task()
}

func (h *harness) complete(ep uint8, n int) {
	dcd.XferComplete(h.s, 0, ep, n, pkg.XferSuccess, false, true)
	h.s.Task()
}

func (h *harness) take(ep uint8) xfer {
	h.t.Helper()
	x, ok := h.c.next()
	require.True(h.t, ok, "no transfer queued, want one on 0x%02X", ep)
	require.Equal(h.t, ep, x.ep, "transfer endpoint")
	return x
}

// status completes a zero-length status stage on ep.
func (h *harness) status(ep uint8) {
	h.t.Helper()
	x := h.take(ep)
	require.Empty(h.t, x.buf, "status stage carries no data")
	h.complete(ep, 0)
}

// controlIn runs an IN control transfer and returns the data stage.
func (h *harness) controlIn(req SetupPacket) []byte {
	h.t.Helper()
	h.setup(req)
	var out []byte
	for {
		x := h.take(dcd.DirIn)
		out = append(out, x.in...)
		h.complete(dcd.DirIn, len(x.in))
		if len(x.in) < h.c.ep0 || len(out) >= int(req.Length) {
			break
		}
	}
	h.status(0x00)
	return out
}

// controlOut runs an OUT control transfer carrying data.
func (h *harness) controlOut(req SetupPacket, data []byte) {
	h.t.Helper()
	h.setup(req)
	for len(data) > 0 {
		x := h.take(0x00)
		n := copy(x.buf, data)
		data = data[n:]
		h.complete(0x00, n)
	}
	h.status(dcd.DirIn)
}

// controlNoData runs a request without data stage.
func (h *harness) controlNoData(req SetupPacket) {
	h.t.Helper()
	h.setup(req)
	h.status(dcd.DirIn)
}

// stalled reports whether both halves of EP0 were stalled since the last
// call to Ops.
func (h *harness) stalled() bool {
	ops := h.c.Ops()
	var out, in bool
	for _, op := range ops {
		out = out || op == "stall 0x00"
		in = in || op == "stall 0x80"
	}
	return out && in
}

func (h *harness) configure(d *testDriver) {
	h.t.Helper()
	h.controlNoData(SetAddressRequest(5))
	h.controlNoData(SetConfigurationRequest(1))
	require.True(h.t, h.s.Mounted())
	if d != nil {
		require.Equal(h.t, []uint8{0}, d.itfs)
	}
}
