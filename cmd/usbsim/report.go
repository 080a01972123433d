package main

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/davecgh/go-spew/spew"
	"github.com/google/uuid"
	"github.com/olekukonko/tablewriter"

	"github.com/ardnew/usbcore/device"
	"github.com/ardnew/usbcore/device/class/vendor"
	"github.com/ardnew/usbcore/device/dcd"
	"github.com/ardnew/usbcore/internal/usbid"
)

// report renders descriptors as tables. Names come from the usb.ids
// database when one was found, and from classNames otherwise.
type report struct {
	w   io.Writer
	db  *usbid.Database
	str func(index uint8) string
}

var classNames = map[uint8]string{
	device.ClassPerInterface: "(per interface)",
	device.ClassAudio:        "Audio",
	device.ClassCDC:          "Communications",
	device.ClassHID:          "Human Interface Device",
	device.ClassMassStorage:  "Mass Storage",
	device.ClassHub:          "Hub",
	device.ClassCDCData:      "CDC Data",
	device.ClassVideo:        "Video",
	device.ClassMisc:         "Miscellaneous Device",
	device.ClassAppSpecific:  "Application Specific",
	device.ClassVendor:       "Vendor Specific Class",
}

func (r *report) class(c uint8) string {
	if name := r.db.Class(c); name != "" {
		return name
	}
	if name, ok := classNames[c]; ok {
		return name
	}
	return "unknown"
}

func (r *report) name(index uint8) string {
	if index == 0 || r.str == nil {
		return ""
	}
	return r.str(index)
}

func (r *report) table(header ...string) *tablewriter.Table {
	t := tablewriter.NewWriter(r.w)
	t.SetHeader(header)
	t.SetAlignment(tablewriter.ALIGN_LEFT)
	t.SetAutoWrapText(false)
	return t
}

func bcd(v uint16) string {
	return fmt.Sprintf("%x.%02x", v>>8, v&0xFF)
}

func hex8(v uint8) string { return fmt.Sprintf("0x%02X", v) }

func hex16(v uint16) string { return fmt.Sprintf("0x%04X", v) }

func (r *report) device(d *device.DeviceDescriptor) {
	t := r.table("Field", "Value", "Description")
	t.Append([]string{"bcdUSB", bcd(d.USBVersion), ""})
	t.Append([]string{"bDeviceClass", hex8(d.DeviceClass), r.class(d.DeviceClass)})
	t.Append([]string{"bDeviceSubClass", hex8(d.DeviceSubClass), r.db.SubClass(d.DeviceClass, d.DeviceSubClass)})
	t.Append([]string{"bDeviceProtocol", hex8(d.DeviceProtocol), r.db.Protocol(d.DeviceClass, d.DeviceSubClass, d.DeviceProtocol)})
	t.Append([]string{"bMaxPacketSize0", fmt.Sprint(d.MaxPacketSize0), ""})
	t.Append([]string{"idVendor", hex16(d.VendorID), r.db.Vendor(d.VendorID)})
	t.Append([]string{"idProduct", hex16(d.ProductID), r.db.Product(d.VendorID, d.ProductID)})
	t.Append([]string{"bcdDevice", bcd(d.DeviceVersion), ""})
	t.Append([]string{"iManufacturer", fmt.Sprint(d.ManufacturerIndex), r.name(d.ManufacturerIndex)})
	t.Append([]string{"iProduct", fmt.Sprint(d.ProductIndex), r.name(d.ProductIndex)})
	t.Append([]string{"iSerialNumber", fmt.Sprint(d.SerialNumberIndex), r.name(d.SerialNumberIndex)})
	t.Append([]string{"bNumConfigurations", fmt.Sprint(d.NumConfigurations), ""})
	t.Render()
}

// configuration prints one table row per interface and endpoint of the
// configuration descriptor set cfg.
func (r *report) configuration(cfg []byte) error {
	var hdr device.ConfigurationDescriptor
	if err := device.ParseConfigurationDescriptor(cfg, &hdr); err != nil {
		return err
	}
	fmt.Fprintf(r.w, "configuration %d: %d interface(s), %d mA, attributes %s\n",
		hdr.ConfigurationValue, hdr.NumInterfaces, int(hdr.MaxPower)*2, hex8(hdr.Attributes))

	t := r.table("Interface", "Alt", "Class", "Endpoint", "Type", "Size", "Name")
	p := cfg
	for len(p) > 0 {
		desc, rest, ok := device.NextDescriptor(p)
		if !ok {
			return fmt.Errorf("malformed descriptor at offset %d", len(cfg)-len(p))
		}
		p = rest
		switch device.DescriptorTypeOf(desc) {
		case device.DescriptorTypeInterface:
			var itf device.InterfaceDescriptor
			if err := device.ParseInterfaceDescriptor(desc, &itf); err != nil {
				return err
			}
			t.Append([]string{
				fmt.Sprint(itf.InterfaceNumber),
				fmt.Sprint(itf.AlternateSetting),
				r.class(itf.InterfaceClass),
				"", "", "",
				r.name(itf.InterfaceIndex),
			})
		case device.DescriptorTypeEndpoint:
			var ep device.EndpointDescriptor
			if err := device.ParseEndpointDescriptor(desc, &ep); err != nil {
				return err
			}
			dir := "OUT"
			if dcd.EdptIsIn(ep.EndpointAddress) {
				dir = "IN"
			}
			t.Append([]string{
				"", "", "",
				fmt.Sprintf("%s %s", hex8(ep.EndpointAddress), dir),
				ep.TransferType().String(),
				fmt.Sprint(ep.MaxPacketSize),
				"",
			})
		}
	}
	t.Render()
	return nil
}

// bos prints the device capabilities of a BOS descriptor set.
func (r *report) bos(bos []byte) error {
	if len(bos) < device.BOSDescriptorSize {
		return nil
	}
	fmt.Fprintf(r.w, "bos: %d capability(ies), %d bytes\n", bos[4], binary.LittleEndian.Uint16(bos[2:4]))
	t := r.table("Type", "Length", "Detail")
	p := bos[device.BOSDescriptorSize:]
	for len(p) > 0 {
		desc, rest, ok := device.NextDescriptor(p)
		if !ok {
			return fmt.Errorf("malformed capability at offset %d", len(bos)-len(p))
		}
		p = rest
		if len(desc) < 3 {
			continue
		}
		detail := ""
		if desc[2] == device.DeviceCapabilityTypePlatform && len(desc) >= device.PlatformCapabilityHeaderSize {
			detail = platformName(desc[4:20])
		}
		t.Append([]string{hex8(desc[2]), fmt.Sprint(len(desc)), detail})
	}
	t.Render()
	return nil
}

// platformName names the platform capability whose UUID is guid, given in
// the mixed-endian layout of the descriptor.
func platformName(guid []byte) string {
	var u uuid.UUID
	copy(u[:], guid)
	u[0], u[1], u[2], u[3] = u[3], u[2], u[1], u[0]
	u[4], u[5] = u[5], u[4]
	u[6], u[7] = u[7], u[6]
	switch u {
	case vendor.WebUSBPlatform:
		return "WebUSB"
	case vendor.MSOS20Platform:
		return "MS OS 2.0"
	}
	return u.String()
}

// dump writes every value with spew, without pointer addresses so output
// is stable across runs.
func dump(w io.Writer, values ...any) {
	cfg := spew.ConfigState{
		Indent:                  "  ",
		DisablePointerAddresses: true,
		DisableCapacities:       true,
		SortKeys:                true,
	}
	cfg.Fdump(w, values...)
}
