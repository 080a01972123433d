// Package config loads device profiles: TOML files describing the
// identity, endpoint 0 and functions of a simulated device. A profile
// builds into a descriptor set plus the class drivers serving it.
package config

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/google/uuid"

	"github.com/ardnew/usbcore/device"
	"github.com/ardnew/usbcore/device/dcd"
	"github.com/ardnew/usbcore/device/dcd/board"
	"github.com/ardnew/usbcore/device/dcd/fifo"
	"github.com/ardnew/usbcore/device/dcd/fsdev"
	"github.com/ardnew/usbcore/device/dcd/nrf5x"
	"github.com/ardnew/usbcore/device/dcd/samd"
	"github.com/ardnew/usbcore/pkg"
)

// Function classes.
const (
	ClassCDC    = "cdc"
	ClassHID    = "hid"
	ClassVendor = "vendor"
)

// HID report layouts.
const (
	ReportKeyboard = "keyboard"
	ReportMouse    = "mouse"
)

// Controller families. ControllerBoard selects the family compiled into
// the binary by the board package's build tags.
const (
	ControllerBoard = ""
	ControllerFSDEV = "fsdev"
	ControllerSAMD  = "samd"
	ControllerNRF5x = "nrf5x"
	ControllerFIFO  = "fifo"
)

// Profile defaults.
const (
	DefaultVendorID      = 0xCAFE
	DefaultProductID     = 0x4001
	DefaultDeviceVersion = 0x0100
	DefaultUSBVersion    = 0x0200
	DefaultMaxPowerMA    = 100
	DefaultInterval      = 10
	DefaultBulkSize      = 64
	DefaultHIDSize       = 8
	DefaultNotifySize    = 8
)

// ErrInvalidProfile wraps every validation failure.
var ErrInvalidProfile = errors.New("invalid profile")

// Profile describes a device.
type Profile struct {
	VendorID      uint16 `toml:"vendor_id"`
	ProductID     uint16 `toml:"product_id"`
	DeviceVersion uint16 `toml:"device_version"`
	USBVersion    uint16 `toml:"usb_version"`
	Manufacturer  string `toml:"manufacturer"`
	Product       string `toml:"product"`
	Serial        string `toml:"serial"`
	EP0Size       uint8  `toml:"ep0_size"`
	SelfPowered   bool   `toml:"self_powered"`
	RemoteWakeup  bool   `toml:"remote_wakeup"`
	MaxPowerMA    uint16 `toml:"max_power_ma"`
	QueueSize     int    `toml:"queue_size"`
	Controller    string `toml:"controller"`

	WebUSB    *WebUSB    `toml:"webusb,omitempty"`
	MSOS20    *MSOS20    `toml:"msos20,omitempty"`
	Functions []Function `toml:"function"`
}

// WebUSB enables the WebUSB platform capability and landing page.
type WebUSB struct {
	VendorCode uint8  `toml:"vendor_code"`
	URL        string `toml:"url"`
}

// MSOS20 enables the MS OS 2.0 descriptor set. It describes the first
// vendor function, or the whole device when it has no vendor function.
type MSOS20 struct {
	VendorCode    uint8  `toml:"vendor_code"`
	CompatibleID  string `toml:"compatible_id"`
	InterfaceGUID string `toml:"interface_guid"`
}

// Function is one class function of the configuration. Endpoint fields
// hold endpoint numbers 1 to 15; directions follow from the field.
type Function struct {
	Class      string `toml:"class"`
	String     string `toml:"string"`
	InEP       uint8  `toml:"in_ep"`
	OutEP      uint8  `toml:"out_ep"`
	NotifyEP   uint8  `toml:"notify_ep"`
	PacketSize uint16 `toml:"packet_size"`
	RxBuffer   int    `toml:"rx_buffer"`
	TxBuffer   int    `toml:"tx_buffer"`
	Report     string `toml:"report"`
	Interval   uint8  `toml:"interval"`
}

// Default returns a single-port CDC-ACM device.
func Default() *Profile {
	p := &Profile{
		Manufacturer: "usbcore",
		Product:      "usbcore serial",
		Serial:       "000001",
		Functions: []Function{{
			Class:    ClassCDC,
			NotifyEP: 1,
			OutEP:    2,
			InEP:     2,
		}},
	}
	p.setDefaults()
	return p
}

// Load reads the profile at path. Keys the profile does not define are an
// error, so a misspelled option never goes unnoticed.
func Load(path string) (*Profile, error) {
	var p Profile
	md, err := toml.DecodeFile(path, &p)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return finish(&p, md)
}

// Decode reads a profile from r.
func Decode(r io.Reader) (*Profile, error) {
	var p Profile
	md, err := toml.NewDecoder(r).Decode(&p)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return finish(&p, md)
}

func finish(p *Profile, md toml.MetaData) (*Profile, error) {
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("config: unknown keys %s: %w", strings.Join(keys, ", "), ErrInvalidProfile)
	}
	p.setDefaults()
	if err := p.Validate(); err != nil {
		return nil, err
	}
	pkg.LogDebug(pkg.ComponentConfig, "profile loaded",
		"vid", fmt.Sprintf("%04x", p.VendorID),
		"pid", fmt.Sprintf("%04x", p.ProductID),
		"functions", len(p.Functions))
	return p, nil
}

// Encode writes the profile as TOML.
func (p *Profile) Encode(w io.Writer) error {
	return toml.NewEncoder(w).Encode(p)
}

func (p *Profile) setDefaults() {
	if p.VendorID == 0 && p.ProductID == 0 {
		p.VendorID, p.ProductID = DefaultVendorID, DefaultProductID
	}
	if p.DeviceVersion == 0 {
		p.DeviceVersion = DefaultDeviceVersion
	}
	if p.USBVersion == 0 {
		p.USBVersion = DefaultUSBVersion
	}
	if p.EP0Size == 0 {
		p.EP0Size = device.MaxEP0Size
	}
	if p.MaxPowerMA == 0 && !p.SelfPowered {
		p.MaxPowerMA = DefaultMaxPowerMA
	}
	if (p.WebUSB != nil || p.MSOS20 != nil) && p.USBVersion < 0x0210 {
		// BOS requires bcdUSB 2.01 or later
		p.USBVersion = 0x0210
	}
	if len(p.Functions) == 0 {
		p.Functions = Default().Functions
	}
	for i := range p.Functions {
		f := &p.Functions[i]
		f.Class = strings.ToLower(f.Class)
		switch f.Class {
		case ClassHID:
			if f.PacketSize == 0 {
				f.PacketSize = DefaultHIDSize
			}
			if f.Report == "" {
				f.Report = ReportKeyboard
			}
			if f.Interval == 0 {
				f.Interval = DefaultInterval
			}
		default:
			if f.PacketSize == 0 {
				f.PacketSize = DefaultBulkSize
			}
		}
	}
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("config: "+format+": %w", append(args, ErrInvalidProfile)...)
}

// Validate checks the profile for settings no device could serve.
func (p *Profile) Validate() error {
	switch p.EP0Size {
	case 8, 16, 32, 64:
	default:
		return invalid("ep0_size %d", p.EP0Size)
	}
	switch p.Controller {
	case ControllerFSDEV, ControllerFIFO:
	case ControllerBoard, ControllerSAMD, ControllerNRF5x:
		if p.EP0Size != device.MaxEP0Size {
			return invalid("controller %q requires ep0_size %d", p.Controller, device.MaxEP0Size)
		}
	default:
		return invalid("controller %q", p.Controller)
	}
	if p.MaxPowerMA > 500 {
		return invalid("max_power_ma %d exceeds 500", p.MaxPowerMA)
	}
	if p.QueueSize < 0 {
		return invalid("queue_size %d", p.QueueSize)
	}
	if len(p.Functions) == 0 {
		return invalid("no functions")
	}

	// used[dir][num] records which function claimed an endpoint.
	var used [2][dcd.MaxEndpoints]int
	claim := func(i int, num uint8, in bool) error {
		if num == 0 || int(num) >= dcd.MaxEndpoints {
			return invalid("function %d: endpoint number %d", i, num)
		}
		dir := 0
		if in {
			dir = 1
		}
		if prev := used[dir][num]; prev != 0 {
			return invalid("function %d: endpoint %d reused from function %d", i, num, prev-1)
		}
		used[dir][num] = i + 1
		return nil
	}

	vendors := 0
	for i := range p.Functions {
		f := &p.Functions[i]
		if f.PacketSize == 0 || f.PacketSize > 64 {
			return invalid("function %d: packet_size %d", i, f.PacketSize)
		}
		if f.RxBuffer < 0 || f.TxBuffer < 0 {
			return invalid("function %d: negative buffer size", i)
		}
		var err error
		switch f.Class {
		case ClassCDC:
			if f.NotifyEP == 0 || f.InEP == 0 || f.OutEP == 0 {
				return invalid("function %d: cdc needs notify_ep, in_ep and out_ep", i)
			}
			if err = claim(i, f.NotifyEP, true); err == nil {
				if err = claim(i, f.InEP, true); err == nil {
					err = claim(i, f.OutEP, false)
				}
			}
		case ClassHID:
			if f.Report != ReportKeyboard && f.Report != ReportMouse {
				return invalid("function %d: hid report %q", i, f.Report)
			}
			if f.InEP == 0 {
				return invalid("function %d: hid needs in_ep", i)
			}
			if err = claim(i, f.InEP, true); err == nil && f.OutEP != 0 {
				err = claim(i, f.OutEP, false)
			}
		case ClassVendor:
			vendors++
			if f.InEP == 0 && f.OutEP == 0 {
				return invalid("function %d: vendor needs in_ep or out_ep", i)
			}
			if f.InEP != 0 {
				err = claim(i, f.InEP, true)
			}
			if err == nil && f.OutEP != 0 {
				err = claim(i, f.OutEP, false)
			}
		default:
			return invalid("function %d: class %q", i, f.Class)
		}
		if err != nil {
			return err
		}
	}

	if p.WebUSB != nil && p.WebUSB.URL == "" {
		return invalid("webusb url is empty")
	}
	if p.MSOS20 != nil {
		if len(p.MSOS20.CompatibleID) > 8 {
			return invalid("msos20 compatible_id %q longer than 8", p.MSOS20.CompatibleID)
		}
		if p.MSOS20.InterfaceGUID != "" {
			if _, err := uuid.Parse(p.MSOS20.InterfaceGUID); err != nil {
				return invalid("msos20 interface_guid %q", p.MSOS20.InterfaceGUID)
			}
		}
		if vendors == 0 && p.interfaceCount() > 1 {
			return invalid("msos20 on a composite device needs a vendor function")
		}
		if p.WebUSB != nil && p.WebUSB.VendorCode == p.MSOS20.VendorCode {
			return invalid("webusb and msos20 share vendor code %d", p.MSOS20.VendorCode)
		}
	}
	return nil
}

func (p *Profile) interfaceCount() int {
	n := 0
	for _, f := range p.Functions {
		if f.Class == ClassCDC {
			n += 2
		} else {
			n++
		}
	}
	return n
}

// Composite reports whether the device has more than one interface.
func (p *Profile) Composite() bool { return p.interfaceCount() > 1 }

// NewController returns a controller of the profile's family on port.
func (p *Profile) NewController(port uint8) (board.Device, error) {
	switch p.Controller {
	case ControllerBoard:
		return board.New(port), nil
	case ControllerFSDEV:
		return fsdev.New(fsdev.Config{Port: port, EP0Size: int(p.EP0Size)}), nil
	case ControllerSAMD:
		return samd.New(samd.Config{Port: port}), nil
	case ControllerNRF5x:
		return nrf5x.New(nrf5x.Config{Port: port}), nil
	case ControllerFIFO:
		return fifo.New(fifo.Config{Port: port, EP0Size: int(p.EP0Size)}), nil
	}
	return nil, invalid("controller %q", p.Controller)
}
