// ABOUTME: Listener setup for the relay endpoint
// ABOUTME: Reports an unavailable address as a typed BindError

package hub

import (
	"errors"
	"fmt"
	"net"
	"syscall"
)

// BindError is returned by Listen when the address cannot be bound. It is
// fatal at startup.
type BindError struct {
	Addr string
	Err  error
}

func (e *BindError) Error() string {
	if e.InUse() {
		return fmt.Sprintf("address %s is already in use", e.Addr)
	}
	return fmt.Sprintf("binding %s: %v", e.Addr, e.Err)
}

func (e *BindError) Unwrap() error { return e.Err }

// InUse reports whether another process holds the address.
func (e *BindError) InUse() bool {
	return errors.Is(e.Err, syscall.EADDRINUSE)
}

// Listen binds addr. The returned listener is already accepting.
func Listen(addr string) (net.Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, &BindError{Addr: addr, Err: err}
	}
	return ln, nil
}
