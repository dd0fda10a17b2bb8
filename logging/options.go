package logging

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
)

const (
	DefaultMaxSizeMB  = 50
	DefaultMaxBackups = 5
	DefaultMaxAgeDays = 30
	DefaultCompress   = true
)

// Format selects how log lines are rendered on the primary output.
type Format string

const (
	FormatConsole Format = "console" // Human-readable, coloured when attached to a terminal
	FormatJSON    Format = "json"    // One JSON object per line
)

// Option is a functional option for configuring a Logger.
type Option func(*options)

type options struct {
	level      string
	format     Format
	output     io.Writer
	filePath   string
	maxSizeMB  int
	maxBackups int
	maxAgeDays int
	compress   bool
}

func newOptions() *options {
	return &options{
		level:      "info",
		format:     FormatConsole,
		output:     os.Stdout,
		maxSizeMB:  DefaultMaxSizeMB,
		maxBackups: DefaultMaxBackups,
		maxAgeDays: DefaultMaxAgeDays,
		compress:   DefaultCompress,
	}
}

// WithLevel sets the minimum level: trace, debug, info, warn or error.
func WithLevel(level string) Option {
	return func(o *options) { o.level = level }
}

func WithFormat(format Format) Option {
	return func(o *options) { o.format = format }
}

func WithOutput(w io.Writer) Option {
	return func(o *options) { o.output = w }
}

// WithFile additionally writes log lines to a size-rotated file.
func WithFile(path string) Option {
	return func(o *options) { o.filePath = path }
}

func WithFileRotation(maxSizeMB, maxBackups, maxAgeDays int, compress bool) Option {
	return func(o *options) {
		o.maxSizeMB = maxSizeMB
		o.maxBackups = maxBackups
		o.maxAgeDays = maxAgeDays
		o.compress = compress
	}
}

func (o *options) validate() error {
	if o.output == nil {
		return errors.New("output writer is required")
	}

	if o.format != FormatConsole && o.format != FormatJSON {
		return fmt.Errorf("invalid log format: %s", o.format)
	}

	if o.maxSizeMB <= 0 {
		return errors.New("log file max size must be greater than zero")
	}

	if o.maxBackups < 0 {
		return errors.New("log file max backups must not be negative")
	}

	if o.maxAgeDays < 0 {
		return errors.New("log file max age must not be negative")
	}

	return nil
}

const consoleTimeFormat = "2006-01-02 15:04:05"

func (o *options) consoleWriter() io.Writer {
	if o.format == FormatJSON {
		return o.output
	}

	return zerolog.ConsoleWriter{Out: o.output, TimeFormat: consoleTimeFormat}
}

func (o *options) fileWriter(w io.Writer) io.Writer {
	if o.format == FormatJSON {
		return w
	}

	return zerolog.ConsoleWriter{Out: w, TimeFormat: consoleTimeFormat, NoColor: true}
}
