package netutil

import (
	"net"
	"testing"
)

func TestIsPrivateIP(t *testing.T) {
	private := []string{"127.0.0.1", "10.0.0.1", "172.16.5.4", "192.168.1.1", "169.254.169.254", "0.0.0.0", "100.64.1.1", "::1", "fd00::1", "fe80::1"}
	for _, s := range private {
		if !IsPrivateIP(net.ParseIP(s)) {
			t.Fatalf("expected %s to be private", s)
		}
	}
	public := []string{"93.184.216.34", "8.8.8.8", "2606:4700:4700::1111"}
	for _, s := range public {
		if IsPrivateIP(net.ParseIP(s)) {
			t.Fatalf("expected %s to be public", s)
		}
	}
	if IsPrivateIP(nil) {
		t.Fatalf("nil ip is not private")
	}
}

func TestIsLocalHostname(t *testing.T) {
	for _, h := range []string{"localhost", "app.localhost", "metadata.google.internal"} {
		if !IsLocalHostname(h) {
			t.Fatalf("expected %s to be local", h)
		}
	}
	if IsLocalHostname("api.example.com") {
		t.Fatalf("public host flagged local")
	}
}
