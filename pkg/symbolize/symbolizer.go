package symbolize

import (
	"context"
	"fmt"

	"github.com/akerouanton/ftracesym/pkg/ftrace"
	"github.com/akerouanton/ftracesym/pkg/kallsyms"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const defaultBatchSize = 4096

// Policy tells what to do with an address that no symbol spans over.
type Policy int

const (
	// PolicyFail aborts the run on the first unresolved address.
	PolicyFail Policy = iota
	// PolicyRaw renders unresolved addresses as raw hex and carries on.
	PolicyRaw
)

func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "fail":
		return PolicyFail, nil
	case "raw":
		return PolicyRaw, nil
	}
	return PolicyFail, fmt.Errorf("unknown unresolved policy %q (want fail or raw)", s)
}

func (p Policy) String() string {
	if p == PolicyRaw {
		return "raw"
	}
	return "fail"
}

type Config struct {
	// Workers is the number of goroutines resolving a batch. Values < 1
	// mean 1.
	Workers int
	// BatchSize is the number of calls resolved before being emitted.
	// Defaults to 4096.
	BatchSize int
	// Unresolved is the policy applied to addresses below the first symbol.
	Unresolved Policy
}

type Stats struct {
	Records    int
	Unresolved int
}

type Symbolizer struct {
	table  *kallsyms.Table
	cfg    Config
	logger zerolog.Logger
}

func New(table *kallsyms.Table, cfg Config, logger zerolog.Logger) *Symbolizer {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = defaultBatchSize
	}

	return &Symbolizer{
		table:  table,
		cfg:    cfg,
		logger: logger.With().Str("component", "symbolizer").Logger(),
	}
}

// result holds the outcome of resolving a single call. err is only set
// under PolicyFail.
type result struct {
	line Line
	err  error
}

// Run resolves calls and hands them to emit in input order. Under
// PolicyFail, every call before the first unresolved one is emitted, then
// Run returns an *UnresolvedAddressError.
func (s *Symbolizer) Run(ctx context.Context, calls []ftrace.Call, emit func(Line) error) (Stats, error) {
	var stats Stats
	results := make([]result, min(s.cfg.BatchSize, len(calls)))
	warned := make(map[uint64]struct{})

	for start := 0; start < len(calls); start += s.cfg.BatchSize {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		batch := calls[start:min(start+s.cfg.BatchSize, len(calls))]
		out := results[:len(batch)]
		if err := s.resolveBatch(ctx, start, batch, out); err != nil {
			return stats, err
		}

		for _, res := range out {
			if res.err != nil {
				return stats, res.err
			}
			for _, r := range [2]kallsyms.Resolved{res.line.To, res.line.From} {
				if r.Found() {
					continue
				}
				stats.Unresolved++
				if _, ok := warned[r.Addr]; !ok {
					warned[r.Addr] = struct{}{}
					s.logger.Warn().Str("addr", fmt.Sprintf("0x%x", r.Addr)).Msg("No symbol found for address")
				}
			}
			if err := emit(res.line); err != nil {
				return stats, err
			}
			stats.Records++
		}
	}

	return stats, nil
}

// resolveBatch splits batch into contiguous shards, one per worker. The
// table is read-only so shards don't need any synchronization; each one
// only writes to its own slice of out.
func (s *Symbolizer) resolveBatch(ctx context.Context, offset int, batch []ftrace.Call, out []result) error {
	if s.cfg.Workers == 1 || len(batch) < 2*s.cfg.Workers {
		s.resolveShard(offset, batch, out)
		return nil
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(s.cfg.Workers)

	shardLen := (len(batch) + s.cfg.Workers - 1) / s.cfg.Workers
	for lo := 0; lo < len(batch); lo += shardLen {
		hi := min(lo+shardLen, len(batch))
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			s.resolveShard(offset+lo, batch[lo:hi], out[lo:hi])
			return nil
		})
	}

	return eg.Wait()
}

func (s *Symbolizer) resolveShard(offset int, calls []ftrace.Call, out []result) {
	for i, call := range calls {
		line := Line{CPU: call.CPU}
		var err error

		var found bool
		line.To, found = s.table.Resolve(call.To)
		if !found && s.cfg.Unresolved == PolicyFail {
			err = &UnresolvedAddressError{Index: offset + i, CPU: call.CPU, Field: "to", Addr: call.To}
		}
		line.From, found = s.table.Resolve(call.From)
		if !found && s.cfg.Unresolved == PolicyFail && err == nil {
			err = &UnresolvedAddressError{Index: offset + i, CPU: call.CPU, Field: "from", Addr: call.From}
		}

		out[i] = result{line: line, err: err}
	}
}
