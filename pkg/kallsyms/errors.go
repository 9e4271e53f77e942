package kallsyms

import "fmt"

// MalformedSymbolLineError is returned when a line doesn't follow the
// "<addr> <type> <name> [<module>]" layout.
type MalformedSymbolLineError struct {
	Line string
}

func (e *MalformedSymbolLineError) Error() string {
	return fmt.Sprintf("malformed symbol line %q", e.Line)
}

// InvalidAddressError is returned when the address column isn't a valid
// 64-bit hex number.
type InvalidAddressError struct {
	Field string
	Line  string
	Err   error
}

func (e *InvalidAddressError) Error() string {
	return fmt.Sprintf("invalid address %q in symbol line %q: %v", e.Field, e.Line, e.Err)
}

func (e *InvalidAddressError) Unwrap() error {
	return e.Err
}
