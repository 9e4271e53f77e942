package symbolize

import "fmt"

// UnresolvedAddressError is returned under PolicyFail when an address is
// lower than every symbol of the table.
type UnresolvedAddressError struct {
	// Index is the 0-based position of the call in the trace.
	Index int
	CPU   uint32
	// Field is either "to" or "from".
	Field string
	Addr  uint64
}

func (e *UnresolvedAddressError) Error() string {
	return fmt.Sprintf("record %d (cpu %d): no symbol found for %s address 0x%x", e.Index+1, e.CPU, e.Field, e.Addr)
}
