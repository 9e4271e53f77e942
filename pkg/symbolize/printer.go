package symbolize

import (
	"fmt"
	"io"

	"github.com/akerouanton/ftracesym/pkg/kallsyms"
)

// Line is a symbolized call, printed as "<cpu> <callee> <- <caller>".
type Line struct {
	CPU  uint32
	To   kallsyms.Resolved
	From kallsyms.Resolved
}

func (l Line) String() string {
	return fmt.Sprintf("%d %s <- %s", l.CPU, l.To, l.From)
}

// NewPrinter returns an emit func writing one Line per row to w.
func NewPrinter(w io.Writer) func(Line) error {
	return func(l Line) error {
		_, err := fmt.Fprintln(w, l)
		return err
	}
}
