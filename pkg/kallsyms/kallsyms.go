package kallsyms

import (
	"bufio"
	"cmp"
	"fmt"
	"io"
	"slices"
	"sort"
	"strconv"

	"github.com/grafana/regexp"
)

// symbolLine matches "<addr> <type> <name> [<module>]". Real kallsyms files
// separate the module with a tab, hence \s+.
var symbolLine = regexp.MustCompile(`^\s*(\S+)\s+([A-Za-z])\s+(\S+)(?:\s+\[([^\]\s]+)\])?\s*$`)

type Symbol struct {
	Name string
	// Module is empty for symbols compiled into the kernel image.
	Module string
}

func (s Symbol) String() string {
	if s.Module != "" {
		return s.Name + "[" + s.Module + "]"
	}
	return s.Name
}

type Entry struct {
	Addr   uint64
	Symbol Symbol
}

// Table is an immutable set of symbols sorted by address. It can be read
// from multiple goroutines.
type Table struct {
	entries []Entry
}

// ParseLine parses a single kallsyms line. The symbol type is validated but
// not returned.
func ParseLine(line string) (uint64, Symbol, error) {
	m := symbolLine.FindStringSubmatch(line)
	if m == nil {
		return 0, Symbol{}, &MalformedSymbolLineError{Line: line}
	}

	addr, err := strconv.ParseUint(m[1], 16, 64)
	if err != nil {
		return 0, Symbol{}, &InvalidAddressError{Field: m[1], Line: line, Err: err}
	}

	return addr, Symbol{Name: m[3], Module: m[4]}, nil
}

// Load reads a whole kallsyms listing. Any line that doesn't parse aborts
// the load.
func Load(r io.Reader) (*Table, error) {
	var entries []Entry

	scanner := bufio.NewScanner(r)
	lineno := 0
	for scanner.Scan() {
		lineno++
		addr, sym, err := ParseLine(scanner.Text())
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineno, err)
		}
		entries = append(entries, Entry{Addr: addr, Symbol: sym})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading kallsyms: %w", err)
	}

	return Build(entries), nil
}

// Build sorts entries by address. When several entries share an address,
// the last one wins. entries is reordered in place.
func Build(entries []Entry) *Table {
	// Modules' symbols appear after compiled-in kernel's symbols in
	// /proc/kallsyms but have lower addresses. The sort has to be stable so
	// that the dedup below keeps the last occurrence.
	slices.SortStableFunc(entries, func(a, b Entry) int {
		return cmp.Compare(a.Addr, b.Addr)
	})

	deduped := entries[:0]
	for i, e := range entries {
		if i+1 < len(entries) && entries[i+1].Addr == e.Addr {
			continue
		}
		deduped = append(deduped, e)
	}

	return &Table{entries: slices.Clip(deduped)}
}

func (t *Table) Len() int {
	return len(t.entries)
}

// Entries returns a copy of the table's entries in address order.
func (t *Table) Entries() []Entry {
	return slices.Clone(t.entries)
}

// Resolve looks for the symbol that spans over addr, ie. the one with the
// greatest address that is <= addr. It returns false if addr is below the
// first symbol.
func (t *Table) Resolve(addr uint64) (Resolved, bool) {
	i := sort.Search(len(t.entries), func(i int) bool {
		return t.entries[i].Addr > addr
	})
	if i == 0 {
		return Resolved{Addr: addr}, false
	}

	e := t.entries[i-1]
	return Resolved{
		Addr:   addr,
		Base:   e.Addr,
		Offset: addr - e.Addr,
		Symbol: e.Symbol,
	}, true
}

// Resolved is the outcome of a lookup. The zero Symbol denotes an address
// that couldn't be resolved.
type Resolved struct {
	Addr   uint64
	Base   uint64
	Offset uint64
	Symbol Symbol
}

func (r Resolved) Found() bool {
	return r.Symbol.Name != ""
}

func (r Resolved) String() string {
	if !r.Found() {
		return fmt.Sprintf("0x%x", r.Addr)
	}
	if r.Offset > 0 {
		return fmt.Sprintf("%s+0x%x", r.Symbol, r.Offset)
	}
	return r.Symbol.String()
}
