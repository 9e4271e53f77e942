package ftrace

import (
	"bufio"
	"fmt"
	"io"
	"strconv"

	"github.com/grafana/regexp"
)

// callLine matches "<cpu> <to> <from>". pstore dumps may append the
// kernel's own rendering of the call after the addresses, so anything past
// the third column is ignored.
var callLine = regexp.MustCompile(`^\s*(\S+)\s+(\S+)\s+(\S+)(?:\s.*)?$`)

// Call is a single function call recorded by the tracer. To is the callee,
// From is the call site.
type Call struct {
	CPU  uint32
	To   uint64
	From uint64
}

func ParseLine(line string) (Call, error) {
	m := callLine.FindStringSubmatch(line)
	if m == nil {
		return Call{}, &MalformedTraceLineError{Line: line}
	}

	cpu, err := strconv.ParseUint(m[1], 10, 32)
	if err != nil {
		return Call{}, &InvalidNumericFieldError{Field: "cpu", Value: m[1], Line: line, Err: err}
	}
	to, err := strconv.ParseUint(m[2], 16, 64)
	if err != nil {
		return Call{}, &InvalidNumericFieldError{Field: "to", Value: m[2], Line: line, Err: err}
	}
	from, err := strconv.ParseUint(m[3], 16, 64)
	if err != nil {
		return Call{}, &InvalidNumericFieldError{Field: "from", Value: m[3], Line: line, Err: err}
	}

	return Call{CPU: uint32(cpu), To: to, From: from}, nil
}

// Load parses every line of r, in order. The first bad line aborts the
// load and nothing is returned.
func Load(r io.Reader) ([]Call, error) {
	var calls []Call

	scanner := bufio.NewScanner(r)
	lineno := 0
	for scanner.Scan() {
		lineno++
		call, err := ParseLine(scanner.Text())
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineno, err)
		}
		calls = append(calls, call)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading ftrace: %w", err)
	}

	return calls, nil
}
