package device

import (
	"fmt"

	"github.com/ardnew/usbcore/device/dcd"
	"github.com/ardnew/usbcore/pkg"
)

// controlState is the stage of endpoint 0 the stack expects next.
type controlState uint8

const (
	stateWaitSetup controlState = iota
	stateDataIn
	stateDataOut
	stateNoData
	stateStatus
)

func (c controlState) String() string {
	switch c {
	case stateWaitSetup:
		return "WAIT_SETUP"
	case stateDataIn:
		return "DATA_IN"
	case stateDataOut:
		return "DATA_OUT"
	case stateNoData:
		return "NO_DATA"
	case stateStatus:
		return "STATUS"
	default:
		return "INVALID"
	}
}

// control is the context of the control transfer in progress.
type control struct {
	req      SetupPacket
	buf      []byte // caller data: source for IN, destination for OUT
	dataLen  int    // bytes to move in the data stage
	xferred  int
	complete ControlFunc
	state    controlState

	packet  [MaxEP0Size]byte // one EP0 packet handed to the controller
	scratch [2]byte          // short standard replies
}

func (c *control) reset() {
	*c = control{}
}

// ControlReply answers the IN request req with data. At most wLength
// bytes are sent; a shorter reply that is a multiple of the endpoint 0
// size is terminated with a zero-length packet. data must stay valid until
// the transfer completes.
func (s *Stack) ControlReply(req *SetupPacket, data []byte) bool {
	if !req.IsDeviceToHost() && req.Length > 0 {
		pkg.LogWarn(pkg.ComponentControl, "reply to OUT request", "request", req.String())
		return false
	}
	return s.controlXfer(req, data)
}

// ControlReceive runs the OUT data stage of req into buf.
func (s *Stack) ControlReceive(req *SetupPacket, buf []byte) bool {
	if req.IsDeviceToHost() && req.Length > 0 {
		pkg.LogWarn(pkg.ComponentControl, "receive on IN request", "request", req.String())
		return false
	}
	return s.controlXfer(req, buf)
}

// ControlStatus completes req with a zero-length status stage.
func (s *Stack) ControlStatus(req *SetupPacket) bool {
	c := &s.ctl
	c.req = *req
	c.buf = nil
	c.dataLen = 0
	c.xferred = 0
	return s.statusStage()
}

func (s *Stack) controlXfer(req *SetupPacket, buf []byte) bool {
	c := &s.ctl
	c.req = *req
	c.buf = buf
	c.xferred = 0
	c.dataLen = min(len(buf), int(req.Length))

	if req.Length == 0 {
		return s.statusStage()
	}
	if req.IsDeviceToHost() {
		c.state = stateDataIn
	} else {
		c.state = stateDataOut
	}
	return s.dataStage()
}

// dataStage queues the next data packet.
func (s *Stack) dataStage() bool {
	c := &s.ctl
	n := min(c.dataLen-c.xferred, s.ctrl.EP0Size(), len(c.packet))
	ep := uint8(0)
	if c.req.IsDeviceToHost() {
		ep = dcd.DirIn
		copy(c.packet[:n], c.buf[c.xferred:])
	}
	if err := s.Xfer(ep, c.packet[:n]); err != nil {
		pkg.LogWarn(pkg.ComponentControl, "data stage", "error", err)
		return false
	}
	return true
}

// statusEP returns the endpoint of the status stage: OUT after an IN data
// stage, IN otherwise. A request without data stage always ends with a
// status IN, whatever its direction bit.
func (c *control) statusEP() uint8 {
	if c.req.IsDeviceToHost() && c.req.Length > 0 {
		return 0
	}
	return dcd.DirIn
}

// statusStage queues the zero-length status packet.
func (s *Stack) statusStage() bool {
	c := &s.ctl
	ep := c.statusEP()
	c.state = stateStatus
	if err := s.Xfer(ep, nil); err != nil {
		pkg.LogWarn(pkg.ComponentControl, "status stage", "error", err)
		return false
	}
	return true
}

// stallControl stalls both directions of endpoint 0 and waits for the
// next setup packet.
func (s *Stack) stallControl() {
	s.ctrl.EdptStall(0)
	s.ctrl.EdptStall(dcd.DirIn)
	s.ctl.complete = nil
	s.ctl.state = stateWaitSetup
}

// controlXferCB advances the control transfer after a packet on endpoint
// 0 completed.
func (s *Stack) controlXferCB(ep uint8, result pkg.XferResult, n int) {
	c := &s.ctl

	if c.state == stateWaitSetup {
		pkg.LogDebug(pkg.ComponentControl, "EP0 completion without transfer",
			"ep", fmt.Sprintf("0x%02X", ep))
		return
	}

	if result != pkg.XferSuccess {
		pkg.LogWarn(pkg.ComponentControl, "EP0 transfer failed",
			"ep", fmt.Sprintf("0x%02X", ep),
			"result", result.String(),
			"request", c.req.String())
		s.stallControl()
		return
	}

	// A completion on the status endpoint ends the status stage, also when
	// the host cut the data stage short.
	if c.state == stateStatus || ep == c.statusEP() {
		if n != 0 {
			pkg.LogWarn(pkg.ComponentControl, "status stage carried data", "len", n)
		}
		complete, req := c.complete, c.req
		c.complete = nil
		c.state = stateWaitSetup
		if complete != nil {
			complete(s.port, StageAck, &req)
		}
		return
	}

	if !c.req.IsDeviceToHost() {
		copy(c.buf[c.xferred:c.dataLen], c.packet[:n])
	}
	c.xferred += n

	if int(c.req.Length) == c.xferred || n < s.ctrl.EP0Size() {
		ok := true
		if c.complete != nil {
			ok = c.complete(s.port, StageData, &c.req)
		}
		if !ok {
			s.stallControl()
			return
		}
		s.statusStage()
		return
	}

	s.dataStage()
}
