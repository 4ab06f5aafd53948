package netutil

import (
	"net"
	"testing"
)

func TestListenPreferredFree(t *testing.T) {
	ln, err := Listen("127.0.0.1:0", false)
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	defer ln.Close()
	if host, _, _ := net.SplitHostPort(ln.Addr().String()); host != "127.0.0.1" {
		t.Fatalf("bound host = %q", host)
	}
}

func TestListenFallsBackWhenTaken(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer busy.Close()
	taken := busy.Addr().String()

	if _, err := Listen(taken, false); err == nil {
		t.Fatal("Listen() on a taken address without fallback succeeded")
	}

	ln, err := Listen(taken, true)
	if err != nil {
		t.Fatalf("Listen() with fallback error = %v", err)
	}
	defer ln.Close()
	if ln.Addr().String() == taken {
		t.Fatalf("fallback bound the taken address %s", taken)
	}
}
