package main

import (
	"bytes"
	"context"
	"fmt"

	"github.com/ardnew/usbcore/device"
	"github.com/ardnew/usbcore/device/dcd"
	"github.com/ardnew/usbcore/host"
	"github.com/ardnew/usbcore/internal/config"
	"github.com/ardnew/usbcore/pkg"
)

// installEcho makes every CDC and vendor function of d write back what it
// receives.
func installEcho(d *config.Device) {
	for _, acm := range d.ACM {
		acm := acm
		buf := make([]byte, 64)
		acm.SetOnRx(func() {
			for {
				n, err := acm.TryRead(buf)
				if n == 0 || err != nil {
					break
				}
				if _, err := acm.TryWrite(buf[:n]); err != nil {
					pkg.LogWarn(pkg.ComponentClass, "echo dropped", "class", acm.Name(), "err", err)
				}
			}
			acm.Flush()
		})
	}
	for _, v := range d.Vendor {
		v := v
		v.SetOnRx(func(data []byte) {
			defer v.ReadFlush()
			if _, err := v.Write(data); err != nil {
				pkg.LogWarn(pkg.ComponentClass, "echo dropped", "class", v.Name(), "err", err)
			}
			v.Flush()
		})
	}
}

// echoPipe opens a pipe on the first CDC data or vendor interface of dev
// that has a bulk endpoint in each direction.
func echoPipe(dev *host.Device) (*host.Pipe, error) {
	var class, in, out uint8
	p := dev.RawConfiguration()
	for len(p) > 0 {
		desc, rest, ok := device.NextDescriptor(p)
		if !ok {
			break
		}
		p = rest
		switch device.DescriptorTypeOf(desc) {
		case device.DescriptorTypeInterface:
			var itf device.InterfaceDescriptor
			if device.ParseInterfaceDescriptor(desc, &itf) == nil {
				class, in, out = itf.InterfaceClass, 0, 0
			}
		case device.DescriptorTypeEndpoint:
			var ep device.EndpointDescriptor
			if device.ParseEndpointDescriptor(desc, &ep) != nil || ep.TransferType() != dcd.TransferBulk {
				continue
			}
			if class != device.ClassCDCData && class != device.ClassVendor {
				continue
			}
			if dcd.EdptIsIn(ep.EndpointAddress) {
				in = ep.EndpointAddress
			} else {
				out = ep.EndpointAddress
			}
			if in != 0 && out != 0 {
				return host.NewPipe(dev, in, out)
			}
		}
	}
	return nil, fmt.Errorf("no cdc or vendor interface with bulk IN and OUT: %w", pkg.ErrInvalidEndpoint)
}

// echo sends text through pipe and reads until as many bytes came back.
func echo(ctx context.Context, pipe *host.Pipe, text []byte) error {
	if _, err := pipe.Write(ctx, text); err != nil {
		return fmt.Errorf("echo write: %w", err)
	}
	got := make([]byte, 0, len(text))
	buf := make([]byte, 64)
	for len(got) < len(text) {
		n, err := pipe.Read(ctx, buf)
		if err != nil {
			return fmt.Errorf("echo read after %d bytes: %w", len(got), err)
		}
		got = append(got, buf[:n]...)
	}
	if !bytes.Equal(got, text) {
		return fmt.Errorf("echo mismatch: sent %q, got %q: %w", text, got, pkg.ErrProtocol)
	}
	return nil
}
