package device

import (
	"encoding/binary"
	"fmt"

	"github.com/ardnew/usbcore/device/dcd"
	"github.com/ardnew/usbcore/pkg"
)

// processControl routes a setup packet. It returns false to stall EP0.
func (s *Stack) processControl(req *SetupPacket) bool {
	s.ctl.complete = nil
	s.ctl.state = stateWaitSetup

	switch req.Type() {
	case RequestTypeReserved:
		return false
	case RequestTypeVendor:
		return s.vendorControl(req)
	}

	switch req.Recipient() {
	case RequestRecipientDevice:
		return s.deviceRequest(req)
	case RequestRecipientInterface:
		return s.interfaceRequest(req)
	case RequestRecipientEndpoint:
		return s.endpointRequest(req)
	default:
		pkg.LogDebug(pkg.ComponentControl, "unsupported recipient", "request", req.String())
		return false
	}
}

// vendorControl hands req to the application's vendor handler.
func (s *Stack) vendorControl(req *SetupPacket) bool {
	if s.cb.VendorControl == nil {
		return false
	}
	s.ctl.complete = s.cb.VendorControl
	return s.cb.VendorControl(s.port, StageSetup, req)
}

// invokeClassControl offers req to driver d. The driver sees the later
// stages of the transfer through the same method.
func (s *Stack) invokeClassControl(d ClassDriver, req *SetupPacket) bool {
	s.ctl.complete = d.ControlXfer
	if d.ControlXfer(s.port, StageSetup, req) {
		return true
	}
	s.ctl.complete = nil
	return false
}

// classOrVendor offers a class request to the driver bound to itf, then to
// the vendor handler.
func (s *Stack) classOrVendor(d ClassDriver, req *SetupPacket) bool {
	if d != nil && s.invokeClassControl(d, req) {
		return true
	}
	return s.vendorControl(req)
}

func (s *Stack) deviceRequest(req *SetupPacket) bool {
	if req.IsClass() {
		itf := req.InterfaceNumber()
		if int(itf) >= MaxInterfaces {
			return false
		}
		return s.classOrVendor(s.interfaceDriver(itf), req)
	}
	if !req.IsStandard() {
		return false
	}

	switch req.Request {
	case RequestSetAddress:
		addr := uint8(req.Value)
		if req.Value > 127 || req.Length != 0 || req.IsDeviceToHost() {
			return false
		}
		// The address takes effect once the host saw the status stage.
		s.ctl.complete = func(_ uint8, stage Stage, _ *SetupPacket) bool {
			if stage == StageAck {
				s.latchAddress(addr)
			}
			return true
		}
		return s.ControlStatus(req)

	case RequestGetConfiguration:
		s.mu.Lock()
		s.ctl.scratch[0] = s.cfgNum
		s.mu.Unlock()
		return s.ControlReply(req, s.ctl.scratch[:1])

	case RequestSetConfiguration:
		return s.setConfiguration(req)

	case RequestGetDescriptor:
		return s.getDescriptor(req)

	case RequestSetFeature, RequestClearFeature:
		if req.Value != FeatureDeviceRemoteWakeup {
			// TEST_MODE is not supported.
			return false
		}
		s.mu.Lock()
		s.remoteWakeupEn = req.Request == RequestSetFeature
		s.mu.Unlock()
		return s.ControlStatus(req)

	case RequestGetStatus:
		s.mu.Lock()
		var status uint16
		if s.selfPowered {
			status |= 1 << 0
		}
		if s.remoteWakeupEn {
			status |= 1 << 1
		}
		s.mu.Unlock()
		binary.LittleEndian.PutUint16(s.ctl.scratch[:], status)
		return s.ControlReply(req, s.ctl.scratch[:2])

	default:
		pkg.LogDebug(pkg.ComponentControl, "unsupported device request", "request", req.String())
		return false
	}
}

// latchAddress programs the controller once SET_ADDRESS completed.
func (s *Stack) latchAddress(addr uint8) {
	s.ctrl.SetAddress(addr)
	s.mu.Lock()
	s.address = addr
	s.addressed = addr != 0
	s.mu.Unlock()
	pkg.LogDebug(pkg.ComponentControl, "address latched", "address", addr)
}

func (s *Stack) setConfiguration(req *SetupPacket) bool {
	cfgNum := uint8(req.Value)

	s.mu.Lock()
	current := s.cfgNum
	s.mu.Unlock()

	if cfgNum != current {
		if current != 0 {
			s.ctrl.EdptCloseAll()
			s.resetConfiguration()
		}
		if cfgNum != 0 {
			if err := s.bindConfiguration(cfgNum); err != nil {
				pkg.LogError(pkg.ComponentStack, "configuration refused",
					"config", cfgNum,
					"error", err)
				s.ctrl.EdptCloseAll()
				s.resetConfiguration()
				return false
			}
		}
		s.mu.Lock()
		s.cfgNum = cfgNum
		s.mu.Unlock()

		if cfgNum != 0 {
			pkg.LogInfo(pkg.ComponentStack, "device mounted", "config", cfgNum)
			if s.cb.Mount != nil {
				s.cb.Mount()
			}
		}
	}
	return s.ControlStatus(req)
}

// getDescriptor answers GET_DESCRIPTOR from the descriptor source.
func (s *Stack) getDescriptor(req *SetupPacket) bool {
	index := req.DescriptorIndex()

	switch req.DescriptorType() {
	case DescriptorTypeDevice:
		desc := s.desc.Device()
		if len(desc) < DeviceDescriptorSize {
			return false
		}
		// Some hosts ask for 64 bytes before addressing a device whose
		// EP0 is smaller and reset it after the first packet.
		s.mu.Lock()
		addressed := s.addressed
		s.mu.Unlock()
		ep0 := s.ctrl.EP0Size()
		if ep0 < DeviceDescriptorSize && !addressed && req.Length > DeviceDescriptorSize {
			short := *req
			short.Length = uint16(ep0)
			return s.ControlReply(&short, desc[:DeviceDescriptorSize])
		}
		return s.ControlReply(req, desc[:DeviceDescriptorSize])

	case DescriptorTypeBOS:
		src, ok := s.desc.(BOSDescriptors)
		if !ok {
			return false
		}
		return s.replyTotalLength(req, src.BOS())

	case DescriptorTypeConfiguration:
		return s.replyTotalLength(req, s.desc.Configuration(index))

	case DescriptorTypeOtherSpeedConfig:
		src, ok := s.desc.(QualifierDescriptors)
		if !ok {
			return false
		}
		return s.replyTotalLength(req, src.OtherSpeedConfiguration(index))

	case DescriptorTypeString:
		desc := s.desc.String(index, req.Index)
		n := DescriptorLength(desc)
		if n < stringDescriptorHeaderSize || n > len(desc) {
			return false
		}
		return s.ControlReply(req, desc[:n])

	case DescriptorTypeDeviceQualifier:
		src, ok := s.desc.(QualifierDescriptors)
		if !ok {
			return false
		}
		desc := src.Qualifier()
		if len(desc) < QualifierDescriptorSize {
			return false
		}
		return s.ControlReply(req, desc[:QualifierDescriptorSize])

	default:
		pkg.LogDebug(pkg.ComponentControl, "unknown descriptor type",
			"type", fmt.Sprintf("0x%02X", req.DescriptorType()))
		return false
	}
}

// replyTotalLength sends a descriptor whose wTotalLength field sits at
// offset 2 (configuration and BOS).
func (s *Stack) replyTotalLength(req *SetupPacket, desc []byte) bool {
	if len(desc) < 4 {
		return false
	}
	total := int(binary.LittleEndian.Uint16(desc[2:4]))
	if total > len(desc) {
		pkg.LogWarn(pkg.ComponentControl, "descriptor shorter than wTotalLength",
			"total", total, "len", len(desc))
		return false
	}
	return s.ControlReply(req, desc[:total])
}

func (s *Stack) interfaceRequest(req *SetupPacket) bool {
	itf := req.InterfaceNumber()
	if int(itf) >= MaxInterfaces {
		return false
	}
	d := s.interfaceDriver(itf)
	if d == nil {
		if !req.IsStandard() {
			return s.vendorControl(req)
		}
		return false
	}
	if s.invokeClassControl(d, req) {
		return true
	}

	if req.IsStandard() {
		// Interfaces without alternate settings.
		switch req.Request {
		case RequestGetInterface:
			s.ctl.scratch[0] = 0
			return s.ControlReply(req, s.ctl.scratch[:1])
		case RequestSetInterface:
			if req.Value != 0 {
				return false
			}
			return s.ControlStatus(req)
		}
		return false
	}
	return s.vendorControl(req)
}

func (s *Stack) endpointRequest(req *SetupPacket) bool {
	ep := req.EndpointAddress()
	if int(dcd.EdptNumber(ep)) >= dcd.MaxEndpoints || ep&^(dcd.DirIn|dcd.EndpointMask) != 0 {
		return false
	}
	d := s.endpointDriver(ep)

	if !req.IsStandard() {
		return s.classOrVendor(d, req)
	}

	switch req.Request {
	case RequestGetStatus:
		s.ctl.scratch[0] = 0
		if s.Stalled(ep) {
			s.ctl.scratch[0] = 1
		}
		s.ctl.scratch[1] = 0
		return s.ControlReply(req, s.ctl.scratch[:2])

	case RequestSetFeature, RequestClearFeature:
		if req.Value != FeatureEndpointHalt {
			return false
		}
		if dcd.EdptNumber(ep) != 0 {
			if req.Request == RequestSetFeature {
				s.Stall(ep)
			} else {
				s.ClearStall(ep)
			}
		}
		// The driver learns about the halt change but does not own the
		// reply.
		if d != nil {
			s.ctl.complete = d.ControlXfer
			d.ControlXfer(s.port, StageSetup, req)
			s.ctl.complete = nil
		}
		if s.Busy(dcd.DirIn) {
			return true
		}
		return s.ControlStatus(req)

	default:
		if d != nil {
			return s.invokeClassControl(d, req)
		}
		return false
	}
}
