package ftrace

import "fmt"

type MalformedTraceLineError struct {
	Line string
}

func (e *MalformedTraceLineError) Error() string {
	return fmt.Sprintf("malformed trace line %q", e.Line)
}

// InvalidNumericFieldError reports a column that has the right shape but
// isn't a number in the expected base (decimal for cpu, hex for addresses).
type InvalidNumericFieldError struct {
	Field string
	Value string
	Line  string
	Err   error
}

func (e *InvalidNumericFieldError) Error() string {
	return fmt.Sprintf("invalid %s field %q in trace line %q: %v", e.Field, e.Value, e.Line, e.Err)
}

func (e *InvalidNumericFieldError) Unwrap() error {
	return e.Err
}
