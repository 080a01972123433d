package fifo

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"os"
	"time"

	"github.com/ardnew/usbcore/pkg"
)

// Requests, host to device.
const (
	msgSetup    = 0x01 // [addr, setup(8)]
	msgIn       = 0x06 // [addr, ep]
	msgOut      = 0x07 // [addr, ep, data...]
	msgDetach   = 0x11
	msgReset    = 0x12 // [speed]
	msgSuspend  = 0x14
	msgResume   = 0x15
	msgSOF      = 0x16 // [frame(4)]
	msgAttached = 0x17
	msgWakeup   = 0x18
)

// Responses, device to host.
const (
	msgData       = 0x02 // IN data
	msgAck        = 0x03 // [optional flag]
	msgNak        = 0x04
	msgStall      = 0x05
	msgNoResponse = 0x08
	msgOverrun    = 0x09
	msgError      = 0x0A // [text]
)

const (
	headerSize     = 4
	maxPayloadSize = 2 + 1024

	pollInterval = 100 * time.Millisecond
)

// responseFor encodes a handshake result.
func responseFor(err error) (byte, []byte) {
	switch {
	case err == nil:
		return msgAck, nil
	case errors.Is(err, pkg.ErrNAK):
		return msgNak, nil
	case errors.Is(err, pkg.ErrStall):
		return msgStall, nil
	case errors.Is(err, pkg.ErrNoResponse):
		return msgNoResponse, nil
	case errors.Is(err, pkg.ErrOverrun):
		return msgOverrun, nil
	default:
		return msgError, []byte(err.Error())
	}
}

// errorFor decodes a handshake result.
func errorFor(typ byte, payload []byte) error {
	switch typ {
	case msgAck, msgData:
		return nil
	case msgNak:
		return pkg.ErrNAK
	case msgStall:
		return pkg.ErrStall
	case msgNoResponse:
		return pkg.ErrNoResponse
	case msgOverrun:
		return pkg.ErrOverrun
	case msgError:
		return &RemoteError{Msg: string(payload)}
	default:
		return pkg.ErrProtocol
	}
}

// RemoteError is an error reported by the serving process.
type RemoteError struct {
	Msg string
}

func (e *RemoteError) Error() string { return "fifo: remote: " + e.Msg }

// conn frames messages over a pair of pipes.
type conn struct {
	r    *os.File
	w    *os.File
	rlen int // bytes of the pending frame already read
	rbuf [headerSize + maxPayloadSize]byte
	wbuf [headerSize + maxPayloadSize]byte
}

// send writes one message tagged with seq.
func (c *conn) send(typ, seq byte, payload []byte) error {
	if len(payload) > maxPayloadSize {
		return pkg.ErrBufferTooSmall
	}
	c.wbuf[0] = typ
	c.wbuf[1] = seq
	binary.LittleEndian.PutUint16(c.wbuf[2:4], uint16(len(payload)))
	n := copy(c.wbuf[headerSize:], payload)

	buf := c.wbuf[:headerSize+n]
	for len(buf) > 0 {
		m, err := c.w.Write(buf)
		if err != nil {
			return err
		}
		buf = buf[m:]
	}
	return nil
}

// recv reads one message. A frame cut short by ctx is kept and completed by
// the next call. The payload aliases the receive buffer until the next call.
func (c *conn) recv(ctx context.Context) (typ, seq byte, payload []byte, err error) {
	if err := c.fill(ctx, headerSize); err != nil {
		return 0, 0, nil, err
	}
	n := int(binary.LittleEndian.Uint16(c.rbuf[2:4]))
	if n > maxPayloadSize {
		c.rlen = 0
		return 0, 0, nil, pkg.ErrProtocol
	}
	if err := c.fill(ctx, headerSize+n); err != nil {
		return 0, 0, nil, err
	}
	c.rlen = 0
	return c.rbuf[0], c.rbuf[1], c.rbuf[headerSize : headerSize+n], nil
}

// fill reads until the receive buffer holds want bytes, polling ctx between
// read deadlines.
func (c *conn) fill(ctx context.Context, want int) error {
	for c.rlen < want {
		if err := ctx.Err(); err != nil {
			return err
		}
		_ = c.r.SetReadDeadline(time.Now().Add(pollInterval))
		n, err := c.r.Read(c.rbuf[c.rlen:want])
		c.rlen += n
		switch {
		case err == nil:
		case os.IsTimeout(err), errors.Is(err, io.EOF):
		default:
			return err
		}
	}
	return nil
}
