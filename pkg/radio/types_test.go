package radio

import "testing"

func TestNodeIDRoundTrip(t *testing.T) {
	tests := []struct {
		num  uint32
		want NodeID
	}{
		{0x12345678, "!12345678"},
		{0x0000000a, "!0000000a"},
		{0xFFFFFFFF, BroadcastAddr},
	}

	for _, tt := range tests {
		id := NodeIDFromNum(tt.num)
		if id != tt.want {
			t.Errorf("NodeIDFromNum(%08x) = %q, want %q", tt.num, id, tt.want)
		}
		num, err := id.Num()
		if err != nil {
			t.Fatalf("Num(%q) failed: %v", id, err)
		}
		if num != tt.num {
			t.Errorf("Num(%q) = %08x, want %08x", id, num, tt.num)
		}
	}
}

func TestNodeIDNumMalformed(t *testing.T) {
	bad := []NodeID{"", "12345678", "!1234", "!zzzzzzzz", "!123456789"}
	for _, id := range bad {
		if _, err := id.Num(); err == nil {
			t.Errorf("Num(%q) should fail", id)
		}
	}
}

func TestNodeIDUnmarshalText(t *testing.T) {
	var id NodeID
	if err := id.UnmarshalText([]byte("!a1b2c3d4")); err != nil {
		t.Fatalf("UnmarshalText failed: %v", err)
	}
	if id != "!a1b2c3d4" {
		t.Errorf("got %q", id)
	}
	if err := id.UnmarshalText([]byte("bogus")); err == nil {
		t.Error("expected error for malformed node ID")
	}
}
