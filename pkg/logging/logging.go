package logging

import (
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
)

type Config struct {
	// Level is one of zerolog's level names (trace, debug, info, warn, error).
	Level string
	// Pretty enables the human-readable console writer.
	Pretty bool
	// Output defaults to os.Stderr. Stdout is reserved for symbolized lines.
	Output io.Writer
}

func DefaultConfig() Config {
	return Config{
		Level:  "info",
		Pretty: true,
		Output: os.Stderr,
	}
}

// New returns a logger for cfg, or an error if cfg.Level isn't a known
// level.
func New(cfg Config) (zerolog.Logger, error) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}
	if level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: "15:04:05",
			NoColor:    true,
		}
	}

	return zerolog.New(output).Level(level).With().Timestamp().Logger(), nil
}
