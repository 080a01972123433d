package device

import (
	"fmt"

	"github.com/ardnew/usbcore/device/dcd"
	"github.com/ardnew/usbcore/pkg"
)

// ValidateEndpoint checks the max packet size of ep against the limits of
// USB 2.0 section 5 for the given bus speed.
func ValidateEndpoint(ep dcd.Endpoint, speed dcd.Speed) error {
	mps := int(ep.MaxPacketSize)
	high := speed == dcd.SpeedHigh

	switch ep.Type {
	case dcd.TransferIsochronous:
		limit := 1023
		if high {
			limit = 1024
		}
		if mps > limit {
			return fmt.Errorf("%s: isochronous limit %d: %w", ep, limit, pkg.ErrInvalidParameter)
		}
	case dcd.TransferBulk:
		if high && mps != 512 || !high && mps > 64 {
			return fmt.Errorf("%s: invalid bulk size at %s speed: %w", ep, speed, pkg.ErrInvalidParameter)
		}
	case dcd.TransferInterrupt:
		limit := 64
		if high {
			limit = 1024
		}
		if mps > limit {
			return fmt.Errorf("%s: interrupt limit %d: %w", ep, limit, pkg.ErrInvalidParameter)
		}
	default:
		return fmt.Errorf("%s: %w", ep, pkg.ErrInvalidEndpoint)
	}
	if dcd.EdptNumber(ep.Address) == 0 {
		return fmt.Errorf("%s: endpoint 0 is reserved: %w", ep, pkg.ErrInvalidEndpoint)
	}
	return nil
}

// OpenEndpoint opens the endpoint described by the endpoint descriptor at
// the start of desc.
func (s *Stack) OpenEndpoint(desc []byte) error {
	var ed EndpointDescriptor
	if err := ParseEndpointDescriptor(desc, &ed); err != nil {
		return err
	}
	return s.Open(ed.Endpoint())
}

// Open validates ep against the negotiated speed and opens it on the
// controller.
func (s *Stack) Open(ep dcd.Endpoint) error {
	if err := ValidateEndpoint(ep, s.Speed()); err != nil {
		return err
	}
	if err := s.ctrl.EdptOpen(ep); err != nil {
		return fmt.Errorf("open %s: %w", ep, err)
	}
	num, dir := dcd.EdptNumber(ep.Address), dcd.EdptDir(ep.Address)
	s.mu.Lock()
	s.ep[num][dir] = epState{}
	s.mu.Unlock()
	pkg.LogDebug(pkg.ComponentStack, "endpoint opened", "endpoint", ep.String())
	return nil
}

// OpenEndpointPair opens the first count endpoint descriptors of type typ
// found in p, skipping any other descriptors between them. It returns the
// OUT and IN addresses it opened (zero when absent) and the bytes
// consumed through the last endpoint descriptor.
func (s *Stack) OpenEndpointPair(p []byte, count int, typ dcd.TransferType) (out, in uint8, n int, err error) {
	off := 0
	for opened := 0; opened < count; {
		desc, _, ok := NextDescriptor(p[off:])
		if !ok {
			return 0, 0, 0, fmt.Errorf("%d of %d endpoints: %w", opened, count, pkg.ErrDescriptorTooShort)
		}
		off += len(desc)
		if DescriptorTypeOf(desc) != DescriptorTypeEndpoint {
			continue
		}

		var ed EndpointDescriptor
		if err := ParseEndpointDescriptor(desc, &ed); err != nil {
			return 0, 0, 0, err
		}
		if ed.TransferType() != typ {
			return 0, 0, 0, fmt.Errorf("endpoint 0x%02X is %s, want %s: %w",
				ed.EndpointAddress, ed.TransferType(), typ, pkg.ErrInvalidEndpoint)
		}
		if err := s.Open(ed.Endpoint()); err != nil {
			return 0, 0, 0, err
		}
		if dcd.EdptIsIn(ed.EndpointAddress) {
			in = ed.EndpointAddress
		} else {
			out = ed.EndpointAddress
		}
		opened++
	}
	return out, in, off, nil
}

// CloseEndpoint releases ep on the controller.
func (s *Stack) CloseEndpoint(ep uint8) {
	s.ctrl.EdptClose(ep)
	s.mu.Lock()
	s.ep[dcd.EdptNumber(ep)][dcd.EdptDir(ep)] = epState{}
	s.mu.Unlock()
}

// Xfer queues a transfer on ep. Completion is reported to the owning class
// driver's XferCB. buf must stay valid until then.
func (s *Stack) Xfer(ep uint8, buf []byte) error {
	num, dir := dcd.EdptNumber(ep), dcd.EdptDir(ep)

	s.mu.Lock()
	st := &s.ep[num][dir]
	if st.busy {
		s.mu.Unlock()
		return fmt.Errorf("xfer on 0x%02X: %w", ep, pkg.ErrBusy)
	}
	st.busy = true
	s.mu.Unlock()

	if err := s.ctrl.EdptXfer(ep, buf); err != nil {
		s.mu.Lock()
		s.ep[num][dir].busy = false
		s.ep[num][dir].claimed = false
		s.mu.Unlock()
		pkg.LogWarn(pkg.ComponentStack, "transfer rejected",
			"ep", fmt.Sprintf("0x%02X", ep),
			"len", len(buf),
			"error", err)
		return err
	}
	return nil
}

// Claim reserves ep for the caller ahead of a transfer. It fails when the
// endpoint is busy or already claimed. The claim ends with the next
// transfer completion or Release.
func (s *Stack) Claim(ep uint8) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := &s.ep[dcd.EdptNumber(ep)][dcd.EdptDir(ep)]
	if st.busy || st.claimed {
		return false
	}
	st.claimed = true
	return true
}

// Release drops a claim taken with Claim.
func (s *Stack) Release(ep uint8) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := &s.ep[dcd.EdptNumber(ep)][dcd.EdptDir(ep)]
	if !st.claimed || st.busy {
		return false
	}
	st.claimed = false
	return true
}

// Busy reports whether a transfer is queued on ep.
func (s *Stack) Busy(ep uint8) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ep[dcd.EdptNumber(ep)][dcd.EdptDir(ep)].busy
}

// Stall halts ep. A stalled endpoint reports busy until ClearStall.
func (s *Stack) Stall(ep uint8) {
	num, dir := dcd.EdptNumber(ep), dcd.EdptDir(ep)
	s.mu.Lock()
	st := &s.ep[num][dir]
	if st.stalled {
		s.mu.Unlock()
		return
	}
	st.stalled = true
	st.busy = true
	s.mu.Unlock()
	s.ctrl.EdptStall(ep)
}

// ClearStall clears a halt on ep and resets its data toggle.
func (s *Stack) ClearStall(ep uint8) {
	num, dir := dcd.EdptNumber(ep), dcd.EdptDir(ep)
	s.mu.Lock()
	st := &s.ep[num][dir]
	if !st.stalled {
		s.mu.Unlock()
		return
	}
	st.stalled = false
	st.busy = false
	s.mu.Unlock()
	s.ctrl.EdptClearStall(ep)
}

// Stalled reports whether ep is halted.
func (s *Stack) Stalled(ep uint8) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ep[dcd.EdptNumber(ep)][dcd.EdptDir(ep)].stalled
}

// SOFEnable turns start-of-frame events on or off.
func (s *Stack) SOFEnable(en bool) { s.ctrl.SOFEnable(en) }
