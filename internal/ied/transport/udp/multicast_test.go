package udp

import "testing"

func TestParseGroup(t *testing.T) {
	cases := []struct {
		in      string
		wantErr bool
	}{
		{"239.192.0.1:10200", false},
		{"224.0.0.251:5353", false},
		{"10.0.0.1:10200", true},
		{"239.192.0.1", true},
		{"239.192.0.1:0", true},
		{"239.192.0.1:70000", true},
		{"[ff02::1]:10200", true},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			addr, err := ParseGroup(tc.in)
			if tc.wantErr {
				if err == nil {
					t.Errorf("ParseGroup(%q) = %v, want error", tc.in, addr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseGroup(%q): %v", tc.in, err)
			}
			if addr.String() != tc.in {
				t.Errorf("addr = %s, want %s", addr, tc.in)
			}
		})
	}
}

func TestOpen_UnknownInterface(t *testing.T) {
	if _, err := Open("no-such-iface0", "239.192.0.1:10200", nil); err == nil {
		t.Error("expected error for unknown interface")
	}
}
