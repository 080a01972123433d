package device

import (
	"fmt"

	"github.com/ardnew/usbcore/device/dcd"
	"github.com/ardnew/usbcore/pkg"
)

// ClassDriver is the contract between the stack and a USB class
// implementation.
//
// All methods except SOF run on the device task.
type ClassDriver interface {
	// Name identifies the driver in logs.
	Name() string

	// Init is called once from Stack.Init. Drivers keep s to open
	// endpoints, queue transfers and answer control requests.
	Init(s *Stack)

	// Reset drops all per-configuration state. It is called on bus reset,
	// on unplug and before switching configurations.
	Reset(port uint8)

	// Open is offered an interface descriptor followed by the rest of the
	// configuration. A driver that accepts the interface opens its
	// endpoints and returns the number of bytes it consumed (its interface,
	// endpoint and class-specific descriptors); otherwise it returns 0.
	Open(port uint8, itf []byte) int

	// ControlXfer handles a control request addressed to one of the
	// driver's interfaces or endpoints. It is called with StageSetup when
	// the request arrives, then with StageData and StageAck as the
	// transfer progresses. Returning false at StageSetup or StageData
	// stalls the request.
	ControlXfer(port uint8, stage Stage, req *SetupPacket) bool

	// XferCB reports the completion of a transfer on one of the driver's
	// endpoints. The driver re-arms its endpoints itself.
	XferCB(port uint8, ep uint8, result pkg.XferResult, n int) bool
}

// SOFHandler is implemented by drivers that want start-of-frame
// notifications. SOF is called from the controller's interrupt context and
// must not block.
type SOFHandler interface {
	SOF(port uint8, frame uint32)
}

// ControlFunc is the signature of a control request handler.
type ControlFunc func(port uint8, stage Stage, req *SetupPacket) bool

// driver returns the driver with the given id, or nil.
func (s *Stack) driver(id uint8) ClassDriver {
	if int(id) >= len(s.drivers) {
		return nil
	}
	return s.drivers[id]
}

// interfaceDriver returns the driver bound to interface itf.
func (s *Stack) interfaceDriver(itf uint8) ClassDriver {
	if int(itf) >= MaxInterfaces {
		return nil
	}
	return s.driver(s.itf2drv[itf])
}

// endpointDriver returns the driver bound to endpoint ep.
func (s *Stack) endpointDriver(ep uint8) ClassDriver {
	return s.driver(s.ep2drv[dcd.EdptNumber(ep)][dcd.EdptDir(ep)])
}

// bindConfiguration walks configuration cfgNum and binds every interface
// to the first driver that accepts it.
func (s *Stack) bindConfiguration(cfgNum uint8) error {
	cfg := s.desc.Configuration(cfgNum - 1)
	var hdr ConfigurationDescriptor
	if err := ParseConfigurationDescriptor(cfg, &hdr); err != nil {
		return err
	}
	if int(hdr.TotalLength) > len(cfg) {
		return fmt.Errorf("wTotalLength %d exceeds %d bytes: %w",
			hdr.TotalLength, len(cfg), pkg.ErrDescriptorTooShort)
	}

	s.mu.Lock()
	s.remoteWakeupSupport = hdr.Attributes&ConfigAttrRemoteWakeup != 0
	s.selfPowered = hdr.Attributes&ConfigAttrSelfPowered != 0
	s.mu.Unlock()

	p := cfg[ConfigurationDescriptorSize:hdr.TotalLength]
	for len(p) > 0 {
		assocCount := 1

		if DescriptorTypeOf(p) == DescriptorTypeInterfaceAssociation {
			var iad InterfaceAssociationDescriptor
			if err := ParseIAD(p, &iad); err != nil {
				return err
			}
			assocCount = int(iad.InterfaceCount)
			_, rest, ok := NextDescriptor(p)
			if !ok {
				return pkg.ErrDescriptorTooShort
			}
			p = rest
		}

		var itf InterfaceDescriptor
		if err := ParseInterfaceDescriptor(p, &itf); err != nil {
			return fmt.Errorf("expected interface descriptor: %w", err)
		}

		id, n := s.openInterface(p)
		if n == 0 {
			return fmt.Errorf("interface %d class 0x%02X: no driver: %w",
				itf.InterfaceNumber, itf.InterfaceClass, pkg.ErrNotSupported)
		}

		// CDC and MIDI span two interfaces even without an IAD.
		if assocCount == 1 {
			switch {
			case itf.InterfaceClass == ClassCDC:
				assocCount = 2
			case itf.InterfaceClass == ClassAudio && hasMIDIStreaming(p[:n]):
				assocCount = 2
			}
		}

		for i := 0; i < assocCount; i++ {
			num := int(itf.InterfaceNumber) + i
			if num >= MaxInterfaces {
				return fmt.Errorf("interface %d: %w", num, pkg.ErrNoResources)
			}
			if s.itf2drv[num] != noDriver {
				return fmt.Errorf("interface %d bound twice: %w", num, pkg.ErrInvalidState)
			}
			s.itf2drv[num] = id
		}

		s.bindEndpoints(p[:n], id)

		pkg.LogDebug(pkg.ComponentStack, "interface opened",
			"driver", s.drivers[id].Name(),
			"interface", itf.InterfaceNumber,
			"count", assocCount,
			"consumed", n)

		p = p[n:]
	}

	return nil
}

// openInterface offers the interface at the start of p to each driver in
// order and returns the id of the first one that accepts it and the number
// of bytes it consumed.
func (s *Stack) openInterface(p []byte) (uint8, int) {
	for id, d := range s.drivers {
		n := d.Open(s.port, p)
		if n >= InterfaceDescriptorSize && n <= len(p) && onBoundary(p, n) {
			return uint8(id), n
		}
		if n != 0 {
			pkg.LogWarn(pkg.ComponentStack, "driver returned invalid length",
				"driver", d.Name(), "n", n, "remaining", len(p))
		}
	}
	return noDriver, 0
}

// bindEndpoints records driver id as the owner of every endpoint descriptor
// in p.
func (s *Stack) bindEndpoints(p []byte, id uint8) {
	for len(p) > 0 {
		desc, rest, ok := NextDescriptor(p)
		if !ok {
			return
		}
		if DescriptorTypeOf(desc) == DescriptorTypeEndpoint && len(desc) >= EndpointDescriptorSize {
			ep := desc[2]
			s.ep2drv[dcd.EdptNumber(ep)][dcd.EdptDir(ep)] = id
		}
		p = rest
	}
}

// hasMIDIStreaming reports whether p holds a MIDI streaming interface.
func hasMIDIStreaming(p []byte) bool {
	for len(p) > 0 {
		desc, rest, ok := NextDescriptor(p)
		if !ok {
			return false
		}
		if DescriptorTypeOf(desc) == DescriptorTypeInterface && len(desc) >= InterfaceDescriptorSize &&
			desc[5] == ClassAudio && desc[6] == AudioSubclassMIDIStreaming {
			return true
		}
		p = rest
	}
	return false
}

// onBoundary reports whether offset n of p falls between two descriptors.
func onBoundary(p []byte, n int) bool {
	off := 0
	for off < n {
		l := DescriptorLength(p[off:])
		if l < 2 {
			return false
		}
		off += l
	}
	return off == n
}
