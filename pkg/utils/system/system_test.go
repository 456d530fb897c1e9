package system

import (
	"net"
	"testing"
)

func TestGetFreePort(t *testing.T) {
	port, err := GetFreePort()
	if err != nil {
		t.Fatalf("GetFreePort failed: %v", err)
	}
	if port <= 0 || port > 65535 {
		t.Errorf("Unexpected port %d", port)
	}
}

func TestRemoteIP(t *testing.T) {
	tests := []struct {
		name string
		addr net.Addr
		want string
	}{
		{"tcp v4", &net.TCPAddr{IP: net.ParseIP("10.0.0.7"), Port: 5555}, "10.0.0.7"},
		{"tcp v6", &net.TCPAddr{IP: net.ParseIP("::1"), Port: 80}, "::1"},
		{"unix", &net.UnixAddr{Name: "/tmp/sock", Net: "unix"}, "/tmp/sock"},
		{"nil", nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RemoteIP(tt.addr); got != tt.want {
				t.Errorf("Expected %q, got %q", tt.want, got)
			}
		})
	}
}
