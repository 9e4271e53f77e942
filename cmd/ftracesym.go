package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/akerouanton/ftracesym/pkg/ftrace"
	"github.com/akerouanton/ftracesym/pkg/kallsyms"
	"github.com/akerouanton/ftracesym/pkg/logging"
	"github.com/akerouanton/ftracesym/pkg/symbolize"
	"github.com/spf13/cobra"
)

type flags struct {
	outfile    string
	workers    int
	unresolved string
	logLevel   string
}

func main() {
	if err := newCommand(os.Stdout, os.Stderr).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "ERROR:", err.Error())
		os.Exit(1)
	}
}

func newCommand(stdout, stderr io.Writer) *cobra.Command {
	var f flags

	cmd := &cobra.Command{
		Use:     "ftracesym <kallsyms> <trace>",
		Short:   "Symbolize the addresses of a pstore ftrace dump",
		Version: "v0.1",
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer cancel()

			return run(ctx, f, args[0], args[1], stdout, stderr)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	cmd.Flags().StringVarP(&f.outfile, "write", "w", "", "file to write symbolized calls to (default stdout)")
	cmd.Flags().IntVarP(&f.workers, "workers", "j", 1, "number of goroutines resolving addresses")
	cmd.Flags().StringVar(&f.unresolved, "unresolved", symbolize.PolicyFail.String(), "what to do with addresses below the first symbol: fail or raw")
	cmd.Flags().StringVar(&f.logLevel, "log-level", "info", "log level of diagnostics written to stderr")

	return cmd
}

func run(ctx context.Context, f flags, kallsymsPath, tracePath string, stdout, stderr io.Writer) error {
	logCfg := logging.DefaultConfig()
	logCfg.Level = f.logLevel
	logCfg.Output = stderr
	logger, err := logging.New(logCfg)
	if err != nil {
		return err
	}

	policy, err := symbolize.ParsePolicy(f.unresolved)
	if err != nil {
		return err
	}

	logger.Info().Str("path", kallsymsPath).Msg("Reading kallsyms")
	table, err := loadFile(kallsymsPath, kallsyms.Load)
	if err != nil {
		return fmt.Errorf("loading kallsyms: %w", err)
	}
	logger.Debug().Int("symbols", table.Len()).Msg("Symbol table loaded")

	logger.Info().Str("path", tracePath).Msg("Reading ftrace")
	calls, err := loadFile(tracePath, ftrace.Load)
	if err != nil {
		return fmt.Errorf("loading ftrace: %w", err)
	}
	logger.Debug().Int("calls", len(calls)).Msg("Trace loaded")

	w, err := newWriter(f.outfile, stdout)
	if err != nil {
		return err
	}

	start := time.Now()
	s := symbolize.New(table, symbolize.Config{
		Workers:    f.workers,
		Unresolved: policy,
	}, logger)
	stats, err := s.Run(ctx, calls, w.write)
	// Flush what was resolved before the failure, like a line-buffered
	// stdout would.
	if cerr := w.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}

	logEvent := logger.Debug()
	if stats.Unresolved > 0 {
		logEvent = logger.Warn()
	}
	logEvent.Int("records", stats.Records).
		Int("unresolved", stats.Unresolved).
		Dur("elapsed", time.Since(start)).
		Msg("Symbolization done")

	return nil
}

func loadFile[T any](path string, load func(io.Reader) (T, error)) (T, error) {
	var zero T

	fh, err := os.Open(path)
	if err != nil {
		return zero, err
	}
	defer fh.Close()

	v, err := load(fh)
	if err != nil {
		return zero, fmt.Errorf("%s: %w", path, err)
	}
	return v, nil
}
