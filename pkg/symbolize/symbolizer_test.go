package symbolize_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/akerouanton/ftracesym/pkg/ftrace"
	"github.com/akerouanton/ftracesym/pkg/kallsyms"
	"github.com/akerouanton/ftracesym/pkg/symbolize"
	"github.com/rs/zerolog"
	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"
)

func table(syms map[uint64]string) *kallsyms.Table {
	var entries []kallsyms.Entry
	for addr, name := range syms {
		entries = append(entries, kallsyms.Entry{Addr: addr, Symbol: kallsyms.Symbol{Name: name}})
	}
	return kallsyms.Build(entries)
}

func run(t *testing.T, tbl *kallsyms.Table, cfg symbolize.Config, calls []ftrace.Call) (string, symbolize.Stats, error) {
	t.Helper()
	var buf bytes.Buffer
	s := symbolize.New(tbl, cfg, zerolog.Nop())
	stats, err := s.Run(context.Background(), calls, symbolize.NewPrinter(&buf))
	return buf.String(), stats, err
}

func TestRun(t *testing.T) {
	testcases := []struct {
		name  string
		syms  map[uint64]string
		calls []ftrace.Call
		want  string
	}{
		{
			name:  "offsets on both sides",
			syms:  map[uint64]string{100: "alpha", 200: "beta"},
			calls: []ftrace.Call{{CPU: 1, To: 150, From: 250}},
			want:  "1 alpha+0x32 <- beta+0x32\n",
		},
		{
			name:  "exact addresses",
			syms:  map[uint64]string{100: "alpha"},
			calls: []ftrace.Call{{CPU: 0, To: 100, From: 100}},
			want:  "0 alpha <- alpha\n",
		},
		{
			name: "input order is kept",
			syms: map[uint64]string{0x1000: "a", 0x2000: "b", 0x3000: "c"},
			calls: []ftrace.Call{
				{CPU: 3, To: 0x3000, From: 0x1001},
				{CPU: 1, To: 0x1000, From: 0x2fff},
				{CPU: 2, To: 0x2000, From: 0x3abc},
			},
			want: "3 c <- a+0x1\n1 a <- b+0xfff\n2 b <- c+0xabc\n",
		},
		{
			name: "no calls",
			syms: map[uint64]string{0x1000: "a"},
		},
	}

	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			out, stats, err := run(t, table(tc.syms), symbolize.Config{}, tc.calls)
			assert.NilError(t, err)
			assert.Equal(t, out, tc.want)
			assert.Equal(t, stats.Records, len(tc.calls))
			assert.Equal(t, stats.Unresolved, 0)
		})
	}
}

func TestRunModules(t *testing.T) {
	tbl := kallsyms.Build([]kallsyms.Entry{
		{Addr: 0xffffffffc0a01000, Symbol: kallsyms.Symbol{Name: "e1000_probe", Module: "e1000"}},
		{Addr: 0xffffffff81012340, Symbol: kallsyms.Symbol{Name: "do_fork"}},
	})

	out, _, err := run(t, tbl, symbolize.Config{}, []ftrace.Call{
		{CPU: 2, To: 0xffffffffc0a01010, From: 0xffffffff81012388},
	})
	assert.NilError(t, err)
	assert.Equal(t, out, "2 e1000_probe[e1000]+0x10 <- do_fork+0x48\n")
}

func TestRunUnresolvedFail(t *testing.T) {
	tbl := table(map[uint64]string{100: "alpha"})
	calls := []ftrace.Call{
		{CPU: 0, To: 100, From: 101},
		{CPU: 1, To: 110, From: 120},
		{CPU: 2, To: 150, From: 99},
		{CPU: 3, To: 100, From: 100},
	}

	for _, workers := range []int{1, 4} {
		t.Run(fmt.Sprintf("workers=%d", workers), func(t *testing.T) {
			out, stats, err := run(t, tbl, symbolize.Config{Workers: workers, BatchSize: 2}, calls)

			var unresolved *symbolize.UnresolvedAddressError
			assert.Assert(t, errors.As(err, &unresolved))
			assert.DeepEqual(t, *unresolved, symbolize.UnresolvedAddressError{Index: 2, CPU: 2, Field: "from", Addr: 99})
			assert.ErrorContains(t, err, "record 3 (cpu 2): no symbol found for from address 0x63")

			assert.Equal(t, out, "0 alpha <- alpha+0x1\n1 alpha+0xa <- alpha+0x14\n")
			assert.Equal(t, stats.Records, 2)
		})
	}
}

func TestRunUnresolvedRaw(t *testing.T) {
	var logs bytes.Buffer
	tbl := table(map[uint64]string{0x1000: "alpha"})
	s := symbolize.New(tbl, symbolize.Config{Unresolved: symbolize.PolicyRaw}, zerolog.New(&logs))

	var out bytes.Buffer
	stats, err := s.Run(context.Background(), []ftrace.Call{
		{CPU: 0, To: 0xfff, From: 0x1010},
		{CPU: 1, To: 0x1000, From: 0x10},
		{CPU: 0, To: 0xfff, From: 0xfff},
	}, symbolize.NewPrinter(&out))
	assert.NilError(t, err)

	assert.Equal(t, out.String(), "0 0xfff <- alpha+0x10\n1 alpha <- 0x10\n0 0xfff <- 0xfff\n")
	assert.DeepEqual(t, stats, symbolize.Stats{Records: 3, Unresolved: 4})
	// One warning per distinct address.
	assert.Equal(t, strings.Count(logs.String(), "No symbol found for address"), 2)
}

func TestRunEmptyTable(t *testing.T) {
	_, _, err := run(t, kallsyms.Build(nil), symbolize.Config{}, []ftrace.Call{{CPU: 0, To: 1, From: 1}})
	var unresolved *symbolize.UnresolvedAddressError
	assert.Check(t, errors.As(err, &unresolved))
	assert.Equal(t, unresolved.Field, "to")
}

func TestRunParallelMatchesSequential(t *testing.T) {
	syms := make(map[uint64]string)
	for i := uint64(0); i < 500; i++ {
		syms[0xffffffff81000000+i*0x100] = fmt.Sprintf("fn_%d", i)
	}
	tbl := table(syms)

	var calls []ftrace.Call
	for i := uint64(0); i < 10_000; i++ {
		calls = append(calls, ftrace.Call{
			CPU:  uint32(i % 8),
			To:   0xffffffff81000000 + (i*7919)%(500*0x100),
			From: 0xffffffff81000000 + (i*104729)%(500*0x100),
		})
	}

	want, _, err := run(t, tbl, symbolize.Config{Workers: 1}, calls)
	assert.NilError(t, err)

	for _, cfg := range []symbolize.Config{
		{Workers: 4},
		{Workers: 8, BatchSize: 100},
		{Workers: 3, BatchSize: 7},
		{Workers: 16, BatchSize: 10_001},
	} {
		got, stats, err := run(t, tbl, cfg, calls)
		assert.NilError(t, err)
		assert.Equal(t, stats.Records, len(calls))
		assert.Check(t, got == want, "output differs with %+v", cfg)
	}
}

func TestRunEmitError(t *testing.T) {
	tbl := table(map[uint64]string{100: "alpha"})
	emitErr := errors.New("broken pipe")

	s := symbolize.New(tbl, symbolize.Config{}, zerolog.Nop())
	var n int
	stats, err := s.Run(context.Background(), []ftrace.Call{{To: 100, From: 100}, {To: 100, From: 100}}, func(symbolize.Line) error {
		n++
		return emitErr
	})
	assert.ErrorIs(t, err, emitErr)
	assert.Equal(t, n, 1)
	assert.Equal(t, stats.Records, 0)
}

func TestRunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := symbolize.New(table(map[uint64]string{100: "alpha"}), symbolize.Config{}, zerolog.Nop())
	_, err := s.Run(ctx, []ftrace.Call{{To: 100, From: 100}}, func(symbolize.Line) error {
		t.Fatal("nothing should be emitted")
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestParsePolicy(t *testing.T) {
	p, err := symbolize.ParsePolicy("fail")
	assert.NilError(t, err)
	assert.Equal(t, p, symbolize.PolicyFail)

	p, err = symbolize.ParsePolicy("raw")
	assert.NilError(t, err)
	assert.Equal(t, p, symbolize.PolicyRaw)
	assert.Equal(t, p.String(), "raw")

	_, err = symbolize.ParsePolicy("skip")
	assert.Check(t, is.ErrorContains(err, `unknown unresolved policy "skip"`))
}
