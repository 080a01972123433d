package fifo

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/ardnew/usbcore/device/dcd"
	"github.com/ardnew/usbcore/pkg"
)

// DefaultTimeout bounds the wait for each response.
const DefaultTimeout = 2 * time.Second

// Client is the host side of a device directory. It implements dcd.Bus;
// every call is one request and one response.
type Client struct {
	dir     string
	timeout time.Duration

	mu   sync.Mutex
	seq  byte
	conn conn
}

// Dial opens the device directory dir.
func Dial(dir string) (*Client, error) {
	if _, err := os.Stat(filepath.Join(dir, fifoHostToDevice)); err != nil {
		return nil, fmt.Errorf("dial %s: %w", dir, err)
	}
	c := &Client{dir: dir, timeout: DefaultTimeout}

	var err error
	if c.conn.w, err = openFIFO(dir, fifoHostToDevice); err != nil {
		return nil, err
	}
	if c.conn.r, err = openFIFO(dir, fifoDeviceToHost); err != nil {
		c.conn.w.Close()
		return nil, err
	}
	pkg.LogDebug(pkg.ComponentHost, "fifo client connected", "dir", dir)
	return c, nil
}

// Discover returns the device directories under busDir whose lock is held
// by a serving process, sorted by name.
func Discover(busDir string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(busDir, devicePrefix+"*"))
	if err != nil {
		return nil, err
	}
	var live []string
	for _, dir := range matches {
		lock := flock.New(filepath.Join(dir, fileLock))
		ok, err := lock.TryLock()
		if err != nil {
			continue
		}
		if ok {
			// nobody is serving it
			_ = lock.Unlock()
			continue
		}
		live = append(live, dir)
	}
	sort.Strings(live)
	return live, nil
}

// SetTimeout changes the response timeout.
func (c *Client) SetTimeout(d time.Duration) {
	c.mu.Lock()
	c.timeout = d
	c.mu.Unlock()
}

// Dir returns the device directory.
func (c *Client) Dir() string { return c.dir }

// Close closes the pipes.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	err := c.conn.w.Close()
	if rerr := c.conn.r.Close(); err == nil {
		err = rerr
	}
	return err
}

// call sends one request and returns the response payload, copied.
// Responses tagged with an earlier sequence number belong to calls that
// timed out and are dropped.
func (c *Client) call(typ byte, payload []byte) (byte, []byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.seq++
	seq := c.seq
	if err := c.conn.send(typ, seq, payload); err != nil {
		return 0, nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	for {
		rtyp, rseq, rp, err := c.conn.recv(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return 0, nil, pkg.ErrTimeout
			}
			return 0, nil, err
		}
		if rseq != seq {
			pkg.LogDebug(pkg.ComponentHost, "fifo stale response dropped",
				"type", rtyp, "seq", rseq, "want", seq)
			continue
		}
		return rtyp, append([]byte(nil), rp...), nil
	}
}

// signal sends a request without a meaningful response.
func (c *Client) signal(typ byte, payload []byte) {
	rtyp, rp, err := c.call(typ, payload)
	if err == nil {
		err = errorFor(rtyp, rp)
	}
	if err != nil {
		pkg.LogWarn(pkg.ComponentHost, "fifo signal failed", "type", typ, "error", err)
	}
}

// flag sends a query answered with a single flag byte.
func (c *Client) flag(typ byte) bool {
	rtyp, rp, err := c.call(typ, nil)
	return err == nil && rtyp == msgAck && len(rp) == 1 && rp[0] != 0
}

// Attached reports whether the device pull-up is enabled.
func (c *Client) Attached() bool { return c.flag(msgAttached) }

// Reset drives a bus reset.
func (c *Client) Reset(speed dcd.Speed) { c.signal(msgReset, []byte{byte(speed)}) }

// Setup sends a SETUP token.
func (c *Client) Setup(addr uint8, setup []byte) error {
	if len(setup) != 8 {
		return pkg.ErrSetupPacketTooShort
	}
	rtyp, rp, err := c.call(msgSetup, append([]byte{addr}, setup...))
	if err != nil {
		return err
	}
	return errorFor(rtyp, rp)
}

// In sends an IN token.
func (c *Client) In(addr, ep uint8) ([]byte, error) {
	rtyp, rp, err := c.call(msgIn, []byte{addr, ep})
	if err != nil {
		return nil, err
	}
	if rtyp == msgData {
		return rp, nil
	}
	if err := errorFor(rtyp, rp); err != nil {
		return nil, err
	}
	return nil, pkg.ErrProtocol
}

// Out sends an OUT token and its data.
func (c *Client) Out(addr, ep uint8, data []byte) error {
	p := make([]byte, 2+len(data))
	p[0], p[1] = addr, ep
	copy(p[2:], data)
	rtyp, rp, err := c.call(msgOut, p)
	if err != nil {
		return err
	}
	return errorFor(rtyp, rp)
}

// Suspend idles the bus.
func (c *Client) Suspend() { c.signal(msgSuspend, nil) }

// Resume drives resume signalling.
func (c *Client) Resume() { c.signal(msgResume, nil) }

// SOF sends a start of frame.
func (c *Client) SOF(frame uint32) {
	var p [4]byte
	binary.LittleEndian.PutUint32(p[:], frame)
	c.signal(msgSOF, p[:])
}

// Detach removes VBUS.
func (c *Client) Detach() { c.signal(msgDetach, nil) }

// WakeupRequested reports and clears a pending remote wakeup.
func (c *Client) WakeupRequested() bool { return c.flag(msgWakeup) }

var _ dcd.Bus = (*Client)(nil)
