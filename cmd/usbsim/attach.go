package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v2"

	"github.com/ardnew/usbcore/device/dcd/fifo"
	"github.com/ardnew/usbcore/host"
	"github.com/ardnew/usbcore/pkg"
)

var attachCommand = &cli.Command{
	Name:      "attach",
	Usage:     "enumerate a device served on a named-pipe bus",
	ArgsUsage: "<bus-dir|device-dir>",
	Flags:     []cli.Flag{echoFlag, dumpFlag, timeoutFlag},
	Action:    attachDevice,
}

// resolveDevice returns dir itself when it is a device directory, or the
// first live device under it when it is a bus directory.
func resolveDevice(dir string) (string, error) {
	if _, err := os.Stat(filepath.Join(dir, "host_to_device")); err == nil {
		return dir, nil
	}
	live, err := fifo.Discover(dir)
	if err != nil {
		return "", err
	}
	if len(live) == 0 {
		return "", fmt.Errorf("no device served under %s: %w", dir, pkg.ErrNoResponse)
	}
	if len(live) > 1 {
		pkg.LogInfo(pkg.ComponentHost, "several devices served, using the first", "count", len(live), "dir", live[0])
	}
	return live[0], nil
}

func attachDevice(c *cli.Context) error {
	if c.NArg() != 1 {
		return fmt.Errorf("attach needs exactly one bus or device directory: %w", pkg.ErrInvalidParameter)
	}
	dir, err := resolveDevice(c.Args().First())
	if err != nil {
		return err
	}
	client, err := fifo.Dial(dir)
	if err != nil {
		return err
	}
	defer client.Close()
	status(c.App.Writer, "attached", "%s", dir)

	h, err := host.New(host.Config{Bus: client})
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(c.Context, c.Duration(timeoutFlag.Name))
	defer cancel()

	dev, err := h.Enumerate(ctx)
	if err != nil {
		return fmt.Errorf("enumerate: %w", err)
	}
	return inspect(ctx, c, dev)
}
