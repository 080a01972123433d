package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ardnew/usbcore/device"
	"github.com/ardnew/usbcore/device/dcd/fifo"
	"github.com/ardnew/usbcore/internal/config"
	"github.com/ardnew/usbcore/pkg"
)

const vendorProfile = `
vendor_id = 0x1209
product_id = 0x0002
product = "bridge"
controller = "fifo"

[webusb]
vendor_code = 1
url = "https://example.com"

[msos20]
vendor_code = 2
compatible_id = "WINUSB"

[[function]]
class = "vendor"
in_ep = 1
out_ep = 1
rx_buffer = 64
tx_buffer = 64
`

func runApp(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	app := newApp()
	app.Writer = &out
	app.ErrWriter = &out
	err := app.Run(append([]string{"usbsim"}, args...))
	return out.String(), err
}

func writeProfile(t *testing.T, text string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "device.toml")
	require.NoError(t, os.WriteFile(path, []byte(text), 0o644))
	return path
}

func TestDescribe_Default(t *testing.T) {
	out, err := runApp(t, "describe")
	require.NoError(t, err)
	assert.Contains(t, out, "idVendor")
	assert.Contains(t, out, "0xCAFE")
	assert.Contains(t, out, "usbcore serial")
	assert.Contains(t, out, "0x82 IN")
	assert.Contains(t, out, "bulk")
	assert.NotContains(t, out, "bos:")
}

func TestDescribe_Capabilities(t *testing.T) {
	out, err := runApp(t, "--profile", writeProfile(t, vendorProfile), "describe", "--dump")
	require.NoError(t, err)
	assert.Contains(t, out, "bos: 2")
	assert.Contains(t, out, "WebUSB")
	assert.Contains(t, out, "MS OS 2.0")
	assert.Contains(t, out, "Vendor Specific")
	// spew output of the profile
	assert.Contains(t, out, "CompatibleID")
}

func TestRun_Echo(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		product string
	}{
		{"cdc", nil, "usbcore serial"},
		{"cdc samd", []string{"--controller", "samd"}, "usbcore serial"},
		{"vendor", []string{"--profile", writeProfile(t, vendorProfile)}, "bridge"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append(tt.args, "run", "--echo", "hello")
			out, err := runApp(t, args...)
			require.NoError(t, err, out)
			assert.Contains(t, out, `echo "hello"`)
			assert.Contains(t, out, "enumerated "+tt.product)
		})
	}
}

func TestRun_Dump(t *testing.T) {
	out, err := runApp(t, "enumerate", "--dump")
	require.NoError(t, err)
	assert.Contains(t, out, "InterfaceNumber")
	assert.Contains(t, out, "EndpointAddress")
}

func TestProfile(t *testing.T) {
	out, err := runApp(t, "--controller", "nrf5x", "profile")
	require.NoError(t, err)

	p, err := config.Decode(bytes.NewBufferString(out))
	require.NoError(t, err)
	assert.Equal(t, config.ControllerNRF5x, p.Controller)
	assert.Equal(t, uint16(config.DefaultVendorID), p.VendorID)
}

func TestErrors(t *testing.T) {
	_, err := runApp(t, "--profile", filepath.Join(t.TempDir(), "missing.toml"), "describe")
	assert.Error(t, err)

	_, err = runApp(t, "--profile", writeProfile(t, "ep0_size = 12\n"), "describe")
	assert.ErrorIs(t, err, config.ErrInvalidProfile)

	_, err = runApp(t, "--controller", "musb", "run")
	assert.ErrorIs(t, err, config.ErrInvalidProfile)

	_, err = runApp(t, "serve")
	assert.ErrorIs(t, err, pkg.ErrInvalidParameter)

	_, err = runApp(t, "attach", t.TempDir())
	assert.ErrorIs(t, err, pkg.ErrNoResponse)
}

func TestAttach_Served(t *testing.T) {
	busDir := t.TempDir()

	p := config.Default()
	p.Controller = config.ControllerFIFO
	d, err := p.Build()
	require.NoError(t, err)
	ctrl, err := p.NewController(0)
	require.NoError(t, err)
	stack, err := d.NewStack(ctrl, device.Callbacks{})
	require.NoError(t, err)
	installEcho(d)
	require.NoError(t, stack.Init())

	srv, err := fifo.Listen(busDir)
	require.NoError(t, err)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serve(ctx, stack, srv, ctrl) }()

	out, err := runApp(t, "attach", "--echo", "over the pipe", busDir)
	require.NoError(t, err, out)
	assert.Contains(t, out, srv.Dir())
	assert.Contains(t, out, `echo "over the pipe"`)

	cancel()
	assert.NoError(t, <-done)
}
