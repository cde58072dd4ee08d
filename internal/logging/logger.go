package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Logger is a key/value logger. Arguments after the message alternate
// between string keys and values.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)

	// WithFields returns a child logger that adds the pairs to every line.
	WithFields(keysAndValues ...any) Logger

	// WithTx returns a child logger for one transaction. trace ties the
	// lines of the transaction together across handles.
	WithTx(id uint64, trace string) Logger
}

// Config holds the logger configuration.
type Config struct {
	// Level is one of debug, info, warn or error. Default: info.
	Level string
	// Format is text or json. Default: text.
	Format string
	// Output is stdout, stderr or a file path opened for appending.
	// Default: stderr.
	Output string
	// Writer overrides Output when set.
	Writer io.Writer
}

// New creates a logrus-backed Logger. An Output file that cannot be opened
// falls back to stderr.
func New(cfg Config) Logger {
	base := logrus.New()
	base.SetOutput(output(cfg))
	base.SetLevel(parseLevel(cfg.Level))

	fields := logrus.FieldMap{logrus.FieldKeyTime: "ts"}
	if strings.EqualFold(cfg.Format, "json") {
		base.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
			FieldMap:        fields,
		})
	} else {
		base.SetFormatter(&logrus.TextFormatter{
			DisableColors:   true,
			FullTimestamp:   true,
			TimestampFormat: time.RFC3339Nano,
			FieldMap:        fields,
		})
	}
	return &logger{entry: logrus.NewEntry(base)}
}

func output(cfg Config) io.Writer {
	if cfg.Writer != nil {
		return cfg.Writer
	}
	switch cfg.Output {
	case "", "stderr":
		return os.Stderr
	case "stdout":
		return os.Stdout
	}
	f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return os.Stderr
	}
	return f
}

// parseLevel maps a level name onto logrus. Unknown names mean info.
func parseLevel(s string) logrus.Level {
	switch strings.ToLower(s) {
	case "debug":
		return logrus.DebugLevel
	case "warn", "warning":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

// NewTraceID returns a fresh identifier for WithTx.
func NewTraceID() string {
	return uuid.NewString()
}

type logger struct {
	entry *logrus.Entry
}

func (l *logger) Debug(msg string, keysAndValues ...any) {
	l.with(keysAndValues).Debug(msg)
}

func (l *logger) Info(msg string, keysAndValues ...any) {
	l.with(keysAndValues).Info(msg)
}

func (l *logger) Warn(msg string, keysAndValues ...any) {
	l.with(keysAndValues).Warn(msg)
}

func (l *logger) Error(msg string, keysAndValues ...any) {
	l.with(keysAndValues).Error(msg)
}

func (l *logger) WithFields(keysAndValues ...any) Logger {
	return &logger{entry: l.with(keysAndValues)}
}

func (l *logger) WithTx(id uint64, trace string) Logger {
	return &logger{entry: l.entry.WithFields(logrus.Fields{"tx": id, "trace": trace})}
}

// with attaches pairs to the entry. Non-string keys and a trailing key
// without a value are dropped.
func (l *logger) with(keysAndValues []any) *logrus.Entry {
	if len(keysAndValues) < 2 {
		return l.entry
	}
	fields := make(logrus.Fields, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		if key, ok := keysAndValues[i].(string); ok {
			fields[key] = keysAndValues[i+1]
		}
	}
	return l.entry.WithFields(fields)
}

// NewNop returns a logger that discards everything.
func NewNop() Logger {
	return nop{}
}

type nop struct{}

func (nop) Debug(string, ...any)           {}
func (nop) Info(string, ...any)            {}
func (nop) Warn(string, ...any)            {}
func (nop) Error(string, ...any)           {}
func (n nop) WithFields(...any) Logger     { return n }
func (n nop) WithTx(uint64, string) Logger { return n }
