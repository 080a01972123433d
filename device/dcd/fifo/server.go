package fifo

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"github.com/ardnew/usbcore/device/dcd"
	"github.com/ardnew/usbcore/pkg"
)

// File names inside a device directory.
const (
	fileLock         = "lock"
	fifoHostToDevice = "host_to_device"
	fifoDeviceToHost = "device_to_host"

	devicePrefix = "device-"
)

// Server answers bus messages for one device directory.
type Server struct {
	dir  string
	id   uuid.UUID
	lock *flock.Flock
	conn conn
}

// Listen creates a device directory under busDir, its named pipes and its
// lock. The directory is removed by Close.
func Listen(busDir string) (*Server, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return nil, fmt.Errorf("generate uuid: %w", err)
	}
	dir := filepath.Join(busDir, devicePrefix+id.String())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create device dir: %w", err)
	}

	s := &Server{dir: dir, id: id, lock: flock.New(filepath.Join(dir, fileLock))}
	ok, err := s.lock.TryLock()
	if err != nil || !ok {
		os.RemoveAll(dir)
		if err == nil {
			err = pkg.ErrBusy
		}
		return nil, fmt.Errorf("lock device dir: %w", err)
	}

	for _, name := range []string{fifoHostToDevice, fifoDeviceToHost} {
		if err := unix.Mkfifo(filepath.Join(dir, name), 0o666); err != nil {
			s.Close()
			return nil, fmt.Errorf("mkfifo %s: %w", name, err)
		}
	}

	if s.conn.r, err = openFIFO(dir, fifoHostToDevice); err != nil {
		s.Close()
		return nil, err
	}
	if s.conn.w, err = openFIFO(dir, fifoDeviceToHost); err != nil {
		s.Close()
		return nil, err
	}

	pkg.LogInfo(pkg.ComponentHAL, "fifo device listening", "dir", dir)
	return s, nil
}

// openFIFO opens a named pipe read-write and non-blocking so neither side
// blocks waiting for the other to open it.
func openFIFO(dir, name string) (*os.File, error) {
	f, err := os.OpenFile(filepath.Join(dir, name), os.O_RDWR|unix.O_NONBLOCK, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	return f, nil
}

// Dir returns the device directory.
func (s *Server) Dir() string { return s.dir }

// UUID returns the device directory identifier.
func (s *Server) UUID() uuid.UUID { return s.id }

// Serve answers messages on behalf of bus until ctx is done.
func (s *Server) Serve(ctx context.Context, bus dcd.Bus) error {
	for {
		typ, seq, payload, err := s.conn.recv(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		}
		rtyp, rpayload := dispatch(bus, typ, payload)
		if err := s.conn.send(rtyp, seq, rpayload); err != nil {
			return err
		}
	}
}

// dispatch performs one request on bus and encodes the response.
func dispatch(bus dcd.Bus, typ byte, p []byte) (byte, []byte) {
	switch typ {
	case msgSetup:
		if len(p) != 9 {
			return responseFor(pkg.ErrSetupPacketTooShort)
		}
		return responseFor(bus.Setup(p[0], p[1:]))

	case msgIn:
		if len(p) != 2 {
			return responseFor(pkg.ErrProtocol)
		}
		data, err := bus.In(p[0], p[1])
		if err != nil {
			return responseFor(err)
		}
		return msgData, data

	case msgOut:
		if len(p) < 2 {
			return responseFor(pkg.ErrProtocol)
		}
		return responseFor(bus.Out(p[0], p[1], p[2:]))

	case msgReset:
		speed := dcd.SpeedFull
		if len(p) > 0 {
			speed = dcd.Speed(p[0])
		}
		bus.Reset(speed)

	case msgSuspend:
		bus.Suspend()

	case msgResume:
		bus.Resume()

	case msgSOF:
		if len(p) != 4 {
			return responseFor(pkg.ErrProtocol)
		}
		bus.SOF(binary.LittleEndian.Uint32(p))

	case msgDetach:
		bus.Detach()

	case msgAttached:
		return msgAck, []byte{boolByte(bus.Attached())}

	case msgWakeup:
		return msgAck, []byte{boolByte(bus.WakeupRequested())}

	default:
		pkg.LogWarn(pkg.ComponentHAL, "unknown message type", "type", typ)
		return responseFor(pkg.ErrProtocol)
	}
	return msgAck, nil
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

// Close closes the pipes, releases the lock and removes the device
// directory.
func (s *Server) Close() error {
	var errs []error
	for _, f := range []*os.File{s.conn.r, s.conn.w} {
		if f != nil {
			errs = append(errs, f.Close())
		}
	}
	errs = append(errs, s.lock.Unlock())
	errs = append(errs, os.RemoveAll(s.dir))
	pkg.LogInfo(pkg.ComponentHAL, "fifo device closed", "dir", s.dir)
	return errors.Join(errs...)
}
