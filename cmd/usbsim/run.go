package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/ardnew/usbcore/device"
	"github.com/ardnew/usbcore/host"
	"github.com/ardnew/usbcore/internal/config"
	"github.com/ardnew/usbcore/internal/usbid"
	"github.com/ardnew/usbcore/pkg"
)

var runCommand = &cli.Command{
	Name:    "run",
	Aliases: []string{"enumerate"},
	Usage:   "enumerate the profile's device with the in-process host",
	Flags:   []cli.Flag{echoFlag, dumpFlag, timeoutFlag},
	Action:  runDevice,
}

// loadProfile returns the profile named by --profile, or the built-in one,
// with --controller applied.
func loadProfile(c *cli.Context) (*config.Profile, error) {
	p := config.Default()
	if path := c.String(profileFlag.Name); path != "" {
		var err error
		if p, err = config.Load(path); err != nil {
			return nil, err
		}
	}
	if c.IsSet(controllerFlag.Name) {
		p.Controller = c.String(controllerFlag.Name)
		if err := p.Validate(); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// openDatabase opens --usbids, or the first usb.ids found in the default
// locations. A missing default database is not an error; names are then
// left blank.
func openDatabase(c *cli.Context) (*usbid.Database, error) {
	if path := c.String(usbidsFlag.Name); path != "" {
		return usbid.Open(path)
	}
	db, err := usbid.Open()
	if err != nil {
		pkg.LogDebug(pkg.ComponentConfig, "no usb.ids", "error", err)
		return nil, nil
	}
	return db, nil
}

func runDevice(c *cli.Context) error {
	p, err := loadProfile(c)
	if err != nil {
		return err
	}
	d, err := p.Build()
	if err != nil {
		return err
	}
	ctrl, err := p.NewController(0)
	if err != nil {
		return err
	}

	var mounted bool
	stack, err := d.NewStack(ctrl, device.Callbacks{
		Mount:  func() { mounted = true },
		Umount: func() { mounted = false },
	})
	if err != nil {
		return err
	}
	installEcho(d)
	if err := stack.Init(); err != nil {
		return err
	}

	h, err := host.New(host.Config{Bus: ctrl, Idle: stack.Task})
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(c.Context, c.Duration(timeoutFlag.Name))
	defer cancel()

	dev, err := h.Enumerate(ctx)
	if err != nil {
		return fmt.Errorf("enumerate: %w", err)
	}
	if !mounted {
		return fmt.Errorf("device not mounted after enumeration: %w", pkg.ErrInvalidState)
	}
	return inspect(ctx, c, dev)
}

// inspect reports an enumerated device and runs --dump and --echo on it.
func inspect(ctx context.Context, c *cli.Context, dev *host.Device) error {
	db, err := openDatabase(c)
	if err != nil {
		return err
	}
	w := c.App.Writer
	status(w, "device", "address %d, %s speed, %s %q", dev.Address(), dev.Speed(), hex16(dev.VendorID())+":"+hex16(dev.ProductID()), dev.Product())

	r := &report{w: w, db: db, str: dev.GetString}
	desc := dev.Descriptor()
	r.device(&desc)
	if err := r.configuration(dev.RawConfiguration()); err != nil {
		return err
	}
	if c.Bool(dumpFlag.Name) {
		dump(w, desc, dev.Interfaces(), dev.Endpoints())
	}

	if text := c.String(echoFlag.Name); text != "" {
		pipe, err := echoPipe(dev)
		if err != nil {
			return err
		}
		if err := echo(ctx, pipe, []byte(text)); err != nil {
			failure(w, "echo")
			return err
		}
		success(w, "echo %q", text)
	}
	success(w, "enumerated %s", dev.Product())
	return nil
}
