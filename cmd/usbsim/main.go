// Command usbsim runs simulated USB devices built from TOML profiles.
//
// It can enumerate a device in-process with the virtual host, print the
// descriptors a profile produces, serve a device over named pipes to
// another process, and attach to such a device as its host:
//
//	usbsim --profile composite.toml run --echo hello
//	usbsim describe
//	usbsim serve /tmp/usbbus &
//	usbsim attach --echo hello /tmp/usbbus
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/ardnew/usbcore/pkg/prof"
)

var (
	profileFlag = &cli.StringFlag{
		Name:    "profile",
		Aliases: []string{"p"},
		Usage:   "device profile (TOML); the built-in CDC-ACM device when empty",
	}
	controllerFlag = &cli.StringFlag{
		Name:  "controller",
		Usage: "controller family: fsdev, samd, nrf5x or fifo (overrides the profile)",
	}
	verboseFlag = &cli.BoolFlag{
		Name:    "verbose",
		Aliases: []string{"v"},
		Usage:   "log at debug level",
	}
	jsonFlag = &cli.BoolFlag{
		Name:  "json",
		Usage: "log JSON (default when stderr is not a terminal)",
	}
	usbidsFlag = &cli.StringFlag{
		Name:  "usbids",
		Usage: "usb.ids database for vendor and class names",
	}
	cpuProfileFlag = &cli.StringFlag{
		Name:  "cpuprofile",
		Usage: "write a CPU profile (needs -tags profile)",
	}
	memProfileFlag = &cli.StringFlag{
		Name:  "memprofile",
		Usage: "write a heap profile on exit (needs -tags profile)",
	}
	pprofFlag = &cli.StringFlag{
		Name:  "pprof",
		Usage: "serve pprof handlers on this address (needs -tags profile)",
	}

	echoFlag = &cli.StringFlag{
		Name:  "echo",
		Usage: "send this text to the first CDC or vendor function and expect it back",
	}
	dumpFlag = &cli.BoolFlag{
		Name:  "dump",
		Usage: "dump the parsed descriptors",
	}
	timeoutFlag = &cli.DurationFlag{
		Name:  "timeout",
		Usage: "bound on enumeration and echo",
		Value: 5 * time.Second,
	}
)

func newApp() *cli.App {
	var session *prof.Session
	app := &cli.App{
		Name:  filepath.Base(os.Args[0]),
		Usage: "simulated USB device stack",
		Flags: []cli.Flag{
			profileFlag,
			controllerFlag,
			verboseFlag,
			jsonFlag,
			usbidsFlag,
			cpuProfileFlag,
			memProfileFlag,
			pprofFlag,
		},
		Commands: []*cli.Command{
			runCommand,
			describeCommand,
			serveCommand,
			attachCommand,
			profileCommand,
		},
	}
	app.Before = func(c *cli.Context) error {
		setupLogging(c)
		var err error
		session, err = prof.Start(prof.Options{
			CPU:  c.String(cpuProfileFlag.Name),
			Heap: c.String(memProfileFlag.Name),
			HTTP: c.String(pprofFlag.Name),
		})
		if err != nil {
			return err
		}
		if addr := session.Addr(); addr != "" {
			status(c.App.ErrWriter, "pprof", "http://%s/debug/pprof/", addr)
		}
		return nil
	}
	app.After = func(*cli.Context) error {
		if session == nil {
			return nil
		}
		err := session.Stop()
		session = nil
		return err
	}
	return app
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
