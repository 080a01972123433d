package host

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ardnew/usbcore/device"
	"github.com/ardnew/usbcore/pkg"
)

// retry issues token until the device answers with something other than
// NAK. The device is pumped after every attempt.
func (h *Host) retry(ctx context.Context, token func() error) error {
	for naks := 1; ; naks++ {
		err := token()
		h.pump()
		if !errors.Is(err, pkg.ErrNAK) {
			return err
		}
		if h.nakLimit > 0 && naks >= h.nakLimit {
			return fmt.Errorf("%d NAKs: %w", naks, pkg.ErrTimeout)
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if h.idle == nil {
			t := time.NewTimer(h.poll)
			select {
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			case <-t.C:
			}
		}
	}
}

func (h *Host) in(ctx context.Context, addr, ep uint8) ([]byte, error) {
	var p []byte
	err := h.retry(ctx, func() (err error) {
		p, err = h.bus.In(addr, ep)
		return err
	})
	return p, err
}

func (h *Host) out(ctx context.Context, addr, ep uint8, data []byte) error {
	return h.retry(ctx, func() error {
		return h.bus.Out(addr, ep, data)
	})
}

// control runs the three stages of a control transfer on endpoint 0 of
// addr. data must hold wLength bytes. It returns the data stage length.
func (h *Host) control(ctx context.Context, addr uint8, mps int, req device.SetupPacket, data []byte) (int, error) {
	length := int(req.Length)
	if length > len(data) {
		return 0, fmt.Errorf("%d byte buffer for wLength %d: %w", len(data), length, pkg.ErrBufferTooSmall)
	}

	h.xferMu.Lock()
	defer h.xferMu.Unlock()

	setup := req.Bytes()
	if err := h.bus.Setup(addr, setup[:]); err != nil {
		return 0, fmt.Errorf("setup %s: %w", req.String(), err)
	}
	h.pump()

	n := 0
	if req.IsDeviceToHost() && length > 0 {
		for n < length {
			p, err := h.in(ctx, addr, 0)
			if err != nil {
				return n, fmt.Errorf("%s data in: %w", req.String(), err)
			}
			if len(p) > length-n {
				return n, fmt.Errorf("%s: %d bytes past wLength: %w", req.String(), len(p)-(length-n), pkg.ErrOverrun)
			}
			n += copy(data[n:], p)
			if len(p) < mps {
				break
			}
		}
		if err := h.out(ctx, addr, 0, nil); err != nil {
			return n, fmt.Errorf("%s status out: %w", req.String(), err)
		}
		return n, nil
	}

	for n < length {
		chunk := min(mps, length-n)
		if err := h.out(ctx, addr, 0, data[n:n+chunk]); err != nil {
			return n, fmt.Errorf("%s data out: %w", req.String(), err)
		}
		n += chunk
	}
	p, err := h.in(ctx, addr, 0)
	if err != nil {
		return n, fmt.Errorf("%s status in: %w", req.String(), err)
	}
	if len(p) != 0 {
		return n, fmt.Errorf("%s: status stage carried %d bytes: %w", req.String(), len(p), pkg.ErrProtocol)
	}
	return n, nil
}

// read collects IN packets from ep until a short packet or buf is full.
func (h *Host) read(ctx context.Context, addr, ep uint8, mps int, buf []byte) (int, error) {
	h.xferMu.Lock()
	defer h.xferMu.Unlock()

	n := 0
	for n < len(buf) {
		p, err := h.in(ctx, addr, ep)
		if err != nil {
			return n, err
		}
		if len(p) > len(buf)-n {
			return n, fmt.Errorf("ep 0x%02X: %d byte packet for %d bytes: %w", ep, len(p), len(buf)-n, pkg.ErrOverrun)
		}
		n += copy(buf[n:], p)
		if len(p) < mps {
			break
		}
	}
	return n, nil
}

// write sends data to ep in packets of mps bytes. Empty data is sent as a
// zero-length packet.
func (h *Host) write(ctx context.Context, addr, ep uint8, mps int, data []byte) (int, error) {
	h.xferMu.Lock()
	defer h.xferMu.Unlock()

	n := 0
	for {
		chunk := min(mps, len(data)-n)
		if err := h.out(ctx, addr, ep, data[n:n+chunk]); err != nil {
			return n, err
		}
		n += chunk
		if n == len(data) {
			return n, nil
		}
	}
}

// Pipe is a buffered byte stream over a pair of bulk endpoints.
type Pipe struct {
	device  *Device
	epIn    uint8
	epOut   uint8
	maxSize int

	readBuf []byte
	readPos int
	readLen int

	mu sync.Mutex
}

// NewPipe creates a pipe on the given endpoints of dev.
func NewPipe(dev *Device, epIn, epOut uint8) (*Pipe, error) {
	in, out := dev.GetEndpoint(epIn), dev.GetEndpoint(epOut)
	if in == nil || out == nil {
		return nil, fmt.Errorf("pipe 0x%02X/0x%02X: %w", epIn, epOut, pkg.ErrInvalidEndpoint)
	}
	return &Pipe{
		device:  dev,
		epIn:    epIn,
		epOut:   epOut,
		maxSize: int(out.MaxPacketSize),
		readBuf: make([]byte, in.MaxPacketSize),
	}, nil
}

// Read reads buffered data, or one packet from the IN endpoint when the
// buffer is empty.
func (p *Pipe) Read(ctx context.Context, data []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.readPos < p.readLen {
		n := copy(data, p.readBuf[p.readPos:p.readLen])
		p.readPos += n
		return n, nil
	}

	n, err := p.device.Read(ctx, p.epIn, p.readBuf)
	if err != nil {
		return 0, err
	}
	p.readLen = n
	p.readPos = copy(data, p.readBuf[:n])
	return p.readPos, nil
}

// Write writes data to the OUT endpoint one packet at a time.
func (p *Pipe) Write(ctx context.Context, data []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	total := 0
	for len(data) > 0 {
		n := min(len(data), p.maxSize)
		written, err := p.device.Write(ctx, p.epOut, data[:n])
		total += written
		if err != nil {
			return total, err
		}
		data = data[n:]
	}
	return total, nil
}

// Buffered returns the number of received bytes not read yet.
func (p *Pipe) Buffered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.readLen - p.readPos
}

// Device returns the device this pipe is connected to.
func (p *Pipe) Device() *Device {
	return p.device
}
