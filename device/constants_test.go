package device

import (
	"strings"
	"testing"
)

func TestState_String(t *testing.T) {
	names := map[State]string{
		StateAttached:   "Attached",
		StateDefault:    "Default",
		StateAddress:    "Address",
		StateConfigured: "Configured",
		StateSuspended:  "Suspended",
		State(42):       "Unknown State (42)",
	}
	for s, want := range names {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", uint8(s), got, want)
		}
	}
}

func TestMaxStringUnits(t *testing.T) {
	d := StringDescriptor(strings.Repeat("x", MaxStringUnits+10))
	if want := 2 + 2*MaxStringUnits; len(d) != want || int(d[0]) != want {
		t.Errorf("long string descriptor is %d bytes (bLength %d), want %d", len(d), d[0], want)
	}
}
