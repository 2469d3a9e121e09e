package registry

import "fmt"

// ErrInvalidAddress is returned when an address fails the public-address gate
// at insertion. The registry is the single enforcement point for this
// boundary: nothing downstream re-checks it.
type ErrInvalidAddress struct {
	Addr   string
	Reason string
}

func (e ErrInvalidAddress) Error() string {
	return fmt.Sprintf("invalid target address %s: %s", e.Addr, e.Reason)
}
