package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/ardnew/usbcore/device"
	"github.com/ardnew/usbcore/device/dcd"
	"github.com/ardnew/usbcore/device/dcd/fifo"
	"github.com/ardnew/usbcore/pkg"
)

var serveCommand = &cli.Command{
	Name:      "serve",
	Usage:     "serve the profile's device on a named-pipe bus until interrupted",
	ArgsUsage: "<bus-dir>",
	Action:    serveDevice,
}

func serveDevice(c *cli.Context) error {
	if c.NArg() != 1 {
		return fmt.Errorf("serve needs exactly one bus directory: %w", pkg.ErrInvalidParameter)
	}
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
	stack, err := d.NewStack(ctrl, device.Callbacks{
		Mount:   func() { pkg.LogInfo(pkg.ComponentDevice, "mounted") },
		Umount:  func() { pkg.LogInfo(pkg.ComponentDevice, "unmounted") },
		Suspend: func(wake bool) { pkg.LogInfo(pkg.ComponentDevice, "suspended", "remote_wakeup", wake) },
		Resume:  func() { pkg.LogInfo(pkg.ComponentDevice, "resumed") },
	})
	if err != nil {
		return err
	}
	installEcho(d)
	if err := stack.Init(); err != nil {
		return err
	}

	srv, err := fifo.Listen(c.Args().First())
	if err != nil {
		return err
	}
	defer srv.Close()
	status(c.App.Writer, "serving", "%s", srv.Dir())

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()
	return serve(ctx, stack, srv, ctrl)
}

// serve runs the device task loop and the bus server until ctx ends or
// either fails.
func serve(ctx context.Context, stack *device.Stack, srv *fifo.Server, bus dcd.Bus) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return stack.Run(ctx) })
	g.Go(func() error { return srv.Serve(ctx, bus) })
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}
