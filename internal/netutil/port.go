package netutil

import (
	"errors"
	"fmt"
	"net"
	"syscall"
)

// Listen binds preferred. When the port is taken and autoFallback is set,
// it binds an ephemeral port on the same host instead. The returned
// listener's Addr reports the address actually bound.
func Listen(preferred string, autoFallback bool) (net.Listener, error) {
	ln, err := net.Listen("tcp", preferred)
	if err == nil {
		return ln, nil
	}
	if !autoFallback || !errors.Is(err, syscall.EADDRINUSE) {
		return nil, fmt.Errorf("listen %s: %w", preferred, err)
	}

	host, _, splitErr := net.SplitHostPort(preferred)
	if splitErr != nil {
		return nil, fmt.Errorf("listen %s: %w", preferred, err)
	}
	ln, fbErr := net.Listen("tcp", net.JoinHostPort(host, "0"))
	if fbErr != nil {
		return nil, fmt.Errorf("preferred bind address in use: %s: %w", preferred, fbErr)
	}
	return ln, nil
}
