package main

import (
	"bufio"
	"io"
	"os"

	"github.com/akerouanton/ftracesym/pkg/symbolize"
)

type writer struct {
	f     *os.File      // f is non-nil if the writer is writing to a file.
	buf   *bufio.Writer // buf batches writes to f or stdout.
	write func(symbolize.Line) error
}

// newWriter returns a writer to outfile, or to stdout if outfile is empty or
// "-". An existing file is never overwritten.
func newWriter(outfile string, stdout io.Writer) (writer, error) {
	var w writer

	out := stdout
	if outfile != "" && outfile != "-" {
		f, err := os.OpenFile(outfile, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o600)
		if err != nil {
			return writer{}, err
		}
		w.f = f
		out = f
	}

	w.buf = bufio.NewWriter(out)
	w.write = symbolize.NewPrinter(w.buf)
	return w, nil
}

func (w writer) Close() error {
	err := w.buf.Flush()
	if w.f != nil {
		if cerr := w.f.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
