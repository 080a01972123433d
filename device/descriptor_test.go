package device

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/ardnew/usbcore/device/dcd"
	"github.com/ardnew/usbcore/pkg"
)

func TestDeviceDescriptor_RoundTrip(t *testing.T) {
	original := DeviceDescriptor{
		USBVersion:        0x0200,
		DeviceClass:       ClassCDC,
		DeviceSubClass:    0x02,
		DeviceProtocol:    0x01,
		MaxPacketSize0:    64,
		VendorID:          0x1234,
		ProductID:         0x5678,
		DeviceVersion:     0x0101,
		ManufacturerIndex: 1,
		ProductIndex:      2,
		SerialNumberIndex: 3,
		NumConfigurations: 1,
	}

	var buf [DeviceDescriptorSize]byte
	if n := original.MarshalTo(buf[:]); n != DeviceDescriptorSize {
		t.Fatalf("MarshalTo() = %d, want 18", n)
	}
	if buf[0] != 18 || buf[1] != DescriptorTypeDevice {
		t.Errorf("header = % x, want 12 01", buf[:2])
	}

	var parsed DeviceDescriptor
	if err := ParseDeviceDescriptor(buf[:], &parsed); err != nil {
		t.Fatalf("parse error: %v", err)
	}
	if parsed != original {
		t.Errorf("parsed = %+v, want %+v", parsed, original)
	}
}

func TestParseDescriptorErrors(t *testing.T) {
	var dev DeviceDescriptor
	if err := ParseDeviceDescriptor(make([]byte, 10), &dev); !errors.Is(err, pkg.ErrDescriptorTooShort) {
		t.Errorf("short device: %v", err)
	}
	bad := make([]byte, 18)
	bad[0], bad[1] = 18, DescriptorTypeConfiguration
	if err := ParseDeviceDescriptor(bad, &dev); !errors.Is(err, pkg.ErrDescriptorTypeMismatch) {
		t.Errorf("wrong type: %v", err)
	}

	var itf InterfaceDescriptor
	if err := ParseInterfaceDescriptor([]byte{9, 4, 0}, &itf); !errors.Is(err, pkg.ErrDescriptorTooShort) {
		t.Errorf("short interface: %v", err)
	}
}

func TestConfigurationDescriptor_OtherSpeed(t *testing.T) {
	cfg := ConfigurationDescriptor{TotalLength: 32, NumInterfaces: 1, ConfigurationValue: 1, MaxPower: 50}
	var buf [ConfigurationDescriptorSize]byte
	cfg.MarshalTo(buf[:])
	if buf[7] != ConfigAttrBusPowered {
		t.Errorf("bmAttributes = 0x%02X, want reserved bit set", buf[7])
	}

	buf[1] = DescriptorTypeOtherSpeedConfig
	var parsed ConfigurationDescriptor
	if err := ParseConfigurationDescriptor(buf[:], &parsed); err != nil {
		t.Fatalf("other-speed parse: %v", err)
	}
	if parsed.TotalLength != 32 || parsed.ConfigurationValue != 1 {
		t.Errorf("parsed = %+v", parsed)
	}
}

func TestEndpointDescriptor_Endpoint(t *testing.T) {
	desc := EndpointDescriptor{EndpointAddress: 0x81, Attributes: 0x03, MaxPacketSize: 0x1808, Interval: 10}
	var buf [EndpointDescriptorSize]byte
	desc.MarshalTo(buf[:])

	var parsed EndpointDescriptor
	if err := ParseEndpointDescriptor(buf[:], &parsed); err != nil {
		t.Fatal(err)
	}
	ep := parsed.Endpoint()
	want := dcd.Endpoint{Address: 0x81, Type: dcd.TransferInterrupt, MaxPacketSize: 8, Interval: 10}
	if ep != want {
		t.Errorf("Endpoint() = %+v, want %+v", ep, want)
	}
}

func TestIAD_RoundTrip(t *testing.T) {
	iad := InterfaceAssociationDescriptor{FirstInterface: 2, InterfaceCount: 2, FunctionClass: ClassCDC, FunctionSubClass: 2}
	var buf [IADSize]byte
	iad.MarshalTo(buf[:])
	var parsed InterfaceAssociationDescriptor
	if err := ParseIAD(buf[:], &parsed); err != nil {
		t.Fatal(err)
	}
	if parsed != iad {
		t.Errorf("parsed = %+v, want %+v", parsed, iad)
	}
}

func TestStringDescriptor(t *testing.T) {
	tests := []struct {
		name  string
		in    string
		want  []byte
		units int
	}{
		{"ascii", "Hi", []byte{6, 3, 'H', 0, 'i', 0}, 2},
		{"bmp", "µ", []byte{4, 3, 0xB5, 0x00}, 1},
		{"surrogate pair", "\U0001F600", []byte{6, 3, 0x3D, 0xD8, 0x00, 0xDE}, 2},
		{"empty", "", []byte{2, 3}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := StringDescriptor(tt.in)
			if !bytes.Equal(got, tt.want) {
				t.Errorf("StringDescriptor(%q) = % x, want % x", tt.in, got, tt.want)
			}
			back, err := ParseStringDescriptor(got)
			if err != nil {
				t.Fatal(err)
			}
			if back != tt.in {
				t.Errorf("decoded %q, want %q", back, tt.in)
			}
		})
	}
}

func TestStringDescriptor_Truncation(t *testing.T) {
	long := strings.Repeat("a", 200)
	got := StringDescriptor(long)
	if len(got) != 2+2*MaxStringUnits || int(got[0]) != len(got) {
		t.Errorf("len = %d bLength = %d, want %d", len(got), got[0], 2+2*MaxStringUnits)
	}

	// A surrogate pair straddling the limit is dropped whole.
	edge := strings.Repeat("a", MaxStringUnits-1) + "\U0001F600"
	got = StringDescriptor(edge)
	if len(got) != 2+2*(MaxStringUnits-1) {
		t.Errorf("len = %d, want %d", len(got), 2+2*(MaxStringUnits-1))
	}

	if n := StringDescriptorTo(make([]byte, 3), "Hi"); n != 0 {
		t.Errorf("StringDescriptorTo(short buf) = %d, want 0", n)
	}
}

func TestLanguageDescriptorTo(t *testing.T) {
	var buf [8]byte
	n := LanguageDescriptorTo(buf[:], LangIDUSEnglish, 0x0407)
	want := []byte{6, 3, 0x09, 0x04, 0x07, 0x04}
	if !bytes.Equal(buf[:n], want) {
		t.Errorf("LanguageDescriptorTo() = % x, want % x", buf[:n], want)
	}
}

func TestBOSDescriptorTo(t *testing.T) {
	capability := PlatformCapability([16]byte{1, 2, 3}, []byte{0xAA, 0xBB})
	if len(capability) != 22 || capability[0] != 22 || capability[2] != DeviceCapabilityTypePlatform {
		t.Fatalf("capability = % x", capability)
	}

	buf := make([]byte, 64)
	n := BOSDescriptorTo(buf, capability)
	if n != BOSDescriptorSize+22 {
		t.Fatalf("BOSDescriptorTo() = %d, want %d", n, BOSDescriptorSize+22)
	}
	if !bytes.Equal(buf[:5], []byte{5, DescriptorTypeBOS, 27, 0, 1}) {
		t.Errorf("header = % x", buf[:5])
	}
	if BOSDescriptorTo(buf[:10], capability) != 0 {
		t.Error("BOSDescriptorTo should fail on a short buffer")
	}
}

func TestNextDescriptor(t *testing.T) {
	data := []byte{
		9, 4, 0, 0, 1, 0xFF, 0, 0, 0,
		7, 5, 0x81, 2, 64, 0, 0,
	}
	var types []uint8
	rest := data
	for len(rest) > 0 {
		desc, next, ok := NextDescriptor(rest)
		if !ok {
			t.Fatalf("malformed at % x", rest)
		}
		types = append(types, DescriptorTypeOf(desc))
		rest = next
	}
	if !bytes.Equal(types, []byte{DescriptorTypeInterface, DescriptorTypeEndpoint}) {
		t.Errorf("types = %v", types)
	}

	for _, bad := range [][]byte{{}, {1}, {0, 4}, {9, 4, 0}} {
		if _, _, ok := NextDescriptor(bad); ok {
			t.Errorf("NextDescriptor(% x) accepted malformed input", bad)
		}
	}
	if DescriptorLength(nil) != 0 || DescriptorTypeOf([]byte{9}) != 0 {
		t.Error("accessors must tolerate short input")
	}
}
