package netutil

import (
	"errors"
	"fmt"
	"net"
)

// ErrNoBindAddr is returned when neither the preferred address nor any
// fallback can be bound.
var ErrNoBindAddr = errors.New("no available bind address")

// Listen binds the preferred address, then each fallback in order when
// autoFallback is set. The listener is returned open so the address cannot
// be taken between the check and the server start.
func Listen(preferred string, fallbacks []string, autoFallback bool) (net.Listener, error) {
	var tried []string
	if preferred != "" {
		ln, err := net.Listen("tcp", preferred)
		if err == nil {
			return ln, nil
		}
		if !autoFallback {
			return nil, fmt.Errorf("preferred bind address %s: %w", preferred, err)
		}
		tried = append(tried, preferred)
	}
	for _, addr := range fallbacks {
		if addr == preferred {
			continue
		}
		ln, err := net.Listen("tcp", addr)
		if err == nil {
			return ln, nil
		}
		tried = append(tried, addr)
	}
	return nil, fmt.Errorf("%w (tried %v)", ErrNoBindAddr, tried)
}
