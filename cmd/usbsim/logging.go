package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/urfave/cli/v2"

	"github.com/ardnew/usbcore/pkg"
)

// setupLogging points the module logger at stderr. Terminals get colored
// text; pipes and --json get JSON.
func setupLogging(c *cli.Context) {
	level := slog.LevelWarn
	if c.Bool(verboseFlag.Name) {
		level = slog.LevelDebug
	}
	pkg.SetLogLevel(level)

	tty := isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd())
	var out io.Writer = os.Stderr
	if tty {
		out = colorable.NewColorableStderr()
	}
	pkg.SetLogOutput(out)
	if c.Bool(jsonFlag.Name) || !tty {
		pkg.SetLogFormat(pkg.LogFormatJSON)
	} else {
		pkg.SetLogFormat(pkg.LogFormatText)
	}
}

var (
	okColor   = color.New(color.FgGreen, color.Bold)
	failColor = color.New(color.FgRed, color.Bold)
	keyColor  = color.New(color.FgCyan)
)

// status prints one "key: message" line.
func status(w io.Writer, key, format string, args ...any) {
	keyColor.Fprintf(w, "%s: ", key)
	fmt.Fprintf(w, format+"\n", args...)
}

func success(w io.Writer, format string, args ...any) {
	okColor.Fprintf(w, "ok ")
	fmt.Fprintf(w, format+"\n", args...)
}

func failure(w io.Writer, format string, args ...any) {
	failColor.Fprintf(w, "fail ")
	fmt.Fprintf(w, format+"\n", args...)
}
