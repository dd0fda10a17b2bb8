// Package logging provides the structured logger used across the invdash
// backend. Components depend on the [Logger] interface; the process entry
// point builds the concrete zerolog-backed implementation with [New].
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger is the logging contract consumed by library packages.
type Logger interface {
	WithField(key string, value any) Logger
	WithFields(fields map[string]any) Logger
	Debug(msg string)
	Debugf(format string, args ...any)
	Info(msg string)
	Infof(format string, args ...any)
	Warn(msg string)
	Warnf(format string, args ...any)
	Error(msg string)
	Errorf(format string, args ...any)
	Fatal(msg string)
	Fatalf(format string, args ...any)
}

type zerologLogger struct {
	zl zerolog.Logger
}

// New builds a zerolog-backed Logger. Without options it writes
// human-readable lines to stdout at info level.
func New(opts ...Option) (Logger, error) {
	o := newOptions()
	for _, opt := range opts {
		opt(o)
	}

	if err := o.validate(); err != nil {
		return nil, fmt.Errorf("invalid logging configuration: %w", err)
	}

	level, err := parseLevel(o.level)
	if err != nil {
		return nil, err
	}

	writers := []io.Writer{o.consoleWriter()}

	if o.filePath != "" {
		if err := ensureLogDir(o.filePath); err != nil {
			return nil, fmt.Errorf("failed to prepare log directory: %w", err)
		}

		fileWriter := &lumberjack.Logger{
			Filename:   o.filePath,
			MaxSize:    o.maxSizeMB,
			MaxBackups: o.maxBackups,
			MaxAge:     o.maxAgeDays,
			Compress:   o.compress,
		}

		writers = append(writers, o.fileWriter(fileWriter))
	}

	var out io.Writer = writers[0]
	if len(writers) > 1 {
		out = zerolog.MultiLevelWriter(writers...)
	}

	zl := zerolog.New(out).Level(level).With().Timestamp().Logger()

	return &zerologLogger{zl: zl}, nil
}

// Nop returns a Logger that discards everything.
func Nop() Logger {
	return &zerologLogger{zl: zerolog.Nop()}
}

func parseLevel(level string) (zerolog.Level, error) {
	switch strings.ToLower(level) {
	case "trace":
		return zerolog.TraceLevel, nil
	case "debug":
		return zerolog.DebugLevel, nil
	case "", "info":
		return zerolog.InfoLevel, nil
	case "warn", "warning":
		return zerolog.WarnLevel, nil
	case "error":
		return zerolog.ErrorLevel, nil
	default:
		return zerolog.NoLevel, fmt.Errorf("unknown log level %q", level)
	}
}

func ensureLogDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "" || dir == "." {
		return nil
	}

	return os.MkdirAll(dir, 0o755)
}

func (l *zerologLogger) WithField(key string, value any) Logger {
	return &zerologLogger{zl: l.zl.With().Interface(key, value).Logger()}
}

func (l *zerologLogger) WithFields(fields map[string]any) Logger {
	return &zerologLogger{zl: l.zl.With().Fields(fields).Logger()}
}

func (l *zerologLogger) Debug(msg string) { l.zl.Debug().Msg(msg) }

func (l *zerologLogger) Debugf(format string, args ...any) { l.zl.Debug().Msgf(format, args...) }

func (l *zerologLogger) Info(msg string) { l.zl.Info().Msg(msg) }

func (l *zerologLogger) Infof(format string, args ...any) { l.zl.Info().Msgf(format, args...) }

func (l *zerologLogger) Warn(msg string) { l.zl.Warn().Msg(msg) }

func (l *zerologLogger) Warnf(format string, args ...any) { l.zl.Warn().Msgf(format, args...) }

func (l *zerologLogger) Error(msg string) { l.zl.Error().Msg(msg) }

func (l *zerologLogger) Errorf(format string, args ...any) { l.zl.Error().Msgf(format, args...) }

// Fatal logs at fatal level and exits the process. Library code should
// report failures through return values instead.
func (l *zerologLogger) Fatal(msg string) { l.zl.Fatal().Msg(msg) }

func (l *zerologLogger) Fatalf(format string, args ...any) { l.zl.Fatal().Msgf(format, args...) }
