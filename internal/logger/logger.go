// Package logger provides the structured, colorized logger shared by
// every Poltergeist component. Components depend on the Logger
// interface, never on *logrus.Logger directly, so tests can inject a
// buffer-backed instance.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
)

// Field is a single structured key/value attached to a log line.
type Field struct {
	Key   string
	Value any
}

// WithField builds a Field inline at call sites.
func WithField(key string, value any) Field {
	return Field{Key: key, Value: value}
}

// Logger is the contract every component depends on.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Success(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	WithTarget(name string) Logger
}

type targetLogger struct {
	entry *logrus.Logger
	target string
}

// New creates a logger writing to os.Stderr, optionally tee'd to a log
// file, at the given level ("debug", "info", "warn", "error").
func New(logFile, level string) Logger {
	base := logrus.New()
	base.SetFormatter(&customFormatter{})
	base.SetLevel(parseLevel(level))

	out := io.Writer(os.Stderr)
	if logFile != "" {
		if f, err := os.OpenFile(logFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644); err == nil {
			out = io.MultiWriter(os.Stderr, f)
		}
	}
	base.SetOutput(out)

	return &targetLogger{entry: base}
}

// NewForWriter creates a logger with colors disabled, for tests.
func NewForWriter(w io.Writer, level string) Logger {
	base := logrus.New()
	base.SetFormatter(&customFormatter{noColor: true})
	base.SetLevel(parseLevel(level))
	base.SetOutput(w)
	return &targetLogger{entry: base}
}

func parseLevel(level string) logrus.Level {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return logrus.InfoLevel
	}
	return lvl
}

func (l *targetLogger) fields(extra ...Field) logrus.Fields {
	f := make(logrus.Fields, len(extra)+1)
	if l.target != "" {
		f["target"] = l.target
	}
	for _, e := range extra {
		f[e.Key] = e.Value
	}
	return f
}

func (l *targetLogger) Debug(msg string, fields ...Field) {
	l.entry.WithFields(l.fields(fields...)).Debug(msg)
}

func (l *targetLogger) Info(msg string, fields ...Field) {
	l.entry.WithFields(l.fields(fields...)).Info(msg)
}

func (l *targetLogger) Success(msg string, fields ...Field) {
	l.entry.WithFields(l.fields(fields...)).Info("✅ " + msg)
}

func (l *targetLogger) Warn(msg string, fields ...Field) {
	l.entry.WithFields(l.fields(fields...)).Warn(msg)
}

func (l *targetLogger) Error(msg string, fields ...Field) {
	l.entry.WithFields(l.fields(fields...)).Error(msg)
}

func (l *targetLogger) WithTarget(name string) Logger {
	return &targetLogger{entry: l.entry, target: name}
}

// customFormatter renders a ghost-prefixed, colorized line.
type customFormatter struct {
	noColor bool
}

func (f *customFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	var b strings.Builder

	levelText := strings.ToUpper(entry.Level.String())
	if !f.noColor {
		levelText = levelColor(entry.Level).Sprint(levelText)
	}

	target, _ := entry.Data["target"].(string)
	prefix := "👻"
	if target != "" {
		prefix = fmt.Sprintf("👻 [%s]", target)
	}

	fmt.Fprintf(&b, "%s %s %s", prefix, levelText, entry.Message)

	for k, v := range entry.Data {
		if k == "target" {
			continue
		}
		if f.noColor {
			fmt.Fprintf(&b, " %s=%v", k, v)
		} else {
			fmt.Fprintf(&b, " %s", color.New(color.Faint).Sprintf("%s=%v", k, v))
		}
	}
	b.WriteByte('\n')
	return []byte(b.String()), nil
}

func levelColor(lvl logrus.Level) *color.Color {
	switch lvl {
	case logrus.ErrorLevel, logrus.FatalLevel, logrus.PanicLevel:
		return color.New(color.FgRed)
	case logrus.WarnLevel:
		return color.New(color.FgYellow)
	case logrus.DebugLevel, logrus.TraceLevel:
		return color.New(color.FgMagenta)
	default:
		return color.New(color.FgCyan)
	}
}

// Printf prints a plain, ghost-prefixed banner straight to stdout,
// independent of the structured logger — for CLI chrome that isn't a log
// event (progress banners, warnings printed to the user's terminal).
func Printf(style *color.Color, format string, args ...any) {
	style.Printf("👻 "+format, args...)
}
