package device

import (
	"errors"
	"testing"

	"github.com/ardnew/usbcore/pkg"
)

func TestParseSetupPacket(t *testing.T) {
	tests := []struct {
		name    string
		data    []byte
		want    SetupPacket
		wantErr error
	}{
		{
			name: "GET_DESCRIPTOR device",
			data: []byte{0x80, 0x06, 0x00, 0x01, 0x00, 0x00, 0x12, 0x00},
			want: SetupPacket{RequestType: 0x80, Request: 0x06, Value: 0x0100, Length: 18},
		},
		{
			name: "SET_ADDRESS",
			data: []byte{0x00, 0x05, 0x05, 0x00, 0x00, 0x00, 0x00, 0x00},
			want: SetupPacket{Request: 0x05, Value: 5},
		},
		{
			name: "class request to interface 2",
			data: []byte{0x21, 0x20, 0x00, 0x00, 0x02, 0x00, 0x07, 0x00},
			want: SetupPacket{RequestType: 0x21, Request: 0x20, Index: 2, Length: 7},
		},
		{
			name:    "too short",
			data:    []byte{0x80, 0x06, 0x00},
			wantErr: pkg.ErrSetupPacketTooShort,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got SetupPacket
			err := ParseSetupPacket(tt.data, &got)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("ParseSetupPacket() error = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr != nil {
				return
			}
			if got != tt.want {
				t.Errorf("ParseSetupPacket() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestSetupPacketBytesRoundTrip(t *testing.T) {
	req := GetDescriptorRequest(DescriptorTypeString, 2, LangIDUSEnglish, 255)
	b := req.Bytes()
	want := [8]byte{0x80, 0x06, 0x02, 0x03, 0x09, 0x04, 0xFF, 0x00}
	if b != want {
		t.Fatalf("Bytes() = % x, want % x", b, want)
	}

	var back SetupPacket
	if err := ParseSetupPacket(b[:], &back); err != nil {
		t.Fatal(err)
	}
	if back != req {
		t.Errorf("round trip = %+v, want %+v", back, req)
	}

	if n := req.MarshalTo(make([]byte, 4)); n != 0 {
		t.Errorf("MarshalTo(short) = %d, want 0", n)
	}
}

func TestSetupPacketFields(t *testing.T) {
	tests := []struct {
		name      string
		req       SetupPacket
		in        bool
		typ       uint8
		recipient uint8
	}{
		{"get descriptor", GetDescriptorRequest(DescriptorTypeDevice, 0, 0, 18), true, RequestTypeStandard, RequestRecipientDevice},
		{"set address", SetAddressRequest(9), false, RequestTypeStandard, RequestRecipientDevice},
		{"get interface", GetInterfaceRequest(1), true, RequestTypeStandard, RequestRecipientInterface},
		{"clear halt", FeatureRequest(false, RequestRecipientEndpoint, FeatureEndpointHalt, 0x81), false, RequestTypeStandard, RequestRecipientEndpoint},
		{"class out", ClassRequest(false, 0x20, 0, 0, 7), false, RequestTypeClass, RequestRecipientInterface},
		{"vendor in", VendorRequest(true, 1, 0, 7, 64), true, RequestTypeVendor, RequestRecipientDevice},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.req.IsDeviceToHost(); got != tt.in {
				t.Errorf("IsDeviceToHost() = %v, want %v", got, tt.in)
			}
			wantDir := 0
			if tt.in {
				wantDir = 1
			}
			if got := tt.req.DataDir(); got != wantDir {
				t.Errorf("DataDir() = %d, want %d", got, wantDir)
			}
			if got := tt.req.Type(); got != tt.typ {
				t.Errorf("Type() = 0x%02X, want 0x%02X", got, tt.typ)
			}
			if got := tt.req.Recipient(); got != tt.recipient {
				t.Errorf("Recipient() = 0x%02X, want 0x%02X", got, tt.recipient)
			}
		})
	}
}

func TestSetupPacketAccessors(t *testing.T) {
	req := GetDescriptorRequest(DescriptorTypeConfiguration, 1, 0, 9)
	if req.DescriptorType() != DescriptorTypeConfiguration || req.DescriptorIndex() != 1 {
		t.Errorf("descriptor = %d/%d", req.DescriptorType(), req.DescriptorIndex())
	}

	ep := FeatureRequest(true, RequestRecipientEndpoint, FeatureEndpointHalt, 0x0182)
	if ep.EndpointAddress() != 0x82 {
		t.Errorf("EndpointAddress() = 0x%02X, want 0x82", ep.EndpointAddress())
	}
	if ep.Request != RequestSetFeature {
		t.Errorf("Request = %d, want SET_FEATURE", ep.Request)
	}

	itf := ClassRequest(true, 0x21, 0, 3, 7)
	if itf.InterfaceNumber() != 3 {
		t.Errorf("InterfaceNumber() = %d, want 3", itf.InterfaceNumber())
	}
	if s := itf.String(); s != "SETUP[IN Class Interface] Request=0x21 Value=0x0000 Index=0x0003 Length=7" {
		t.Errorf("String() = %q", s)
	}
}

func TestStageString(t *testing.T) {
	for stage, want := range map[Stage]string{
		StageSetup: "setup",
		StageData:  "data",
		StageAck:   "ack",
		Stage(9):   "stage(9)",
	} {
		if got := stage.String(); got != want {
			t.Errorf("Stage(%d).String() = %q, want %q", stage, got, want)
		}
	}
}
