// Package telemetry wires github.com/joeycumines/logiface to
// github.com/joeycumines/izerolog (an rs/zerolog sink), and adds the one
// piece of behaviour every component in this module actually needs: a
// logger that carries an inheritable "tag" field, mirroring the actor
// Context's inheritable logging tag.
package telemetry

import (
	"io"
	"os"

	"github.com/joeycumines/izerolog"
	"github.com/joeycumines/logiface"
	"github.com/rs/zerolog"
)

// Logger is a tagged logiface.Logger bound to the izerolog event type.
type Logger struct {
	l   *logiface.Logger[*izerolog.Event]
	tag string
}

// New builds a Logger writing newline-delimited JSON to w at the given
// zerolog level (e.g. zerolog.InfoLevel).
func New(w io.Writer, level zerolog.Level) *Logger {
	if w == nil {
		w = os.Stderr
	}
	zl := zerolog.New(w).Level(level).With().Timestamp().Logger()
	return &Logger{l: logiface.New(izerolog.WithZerolog(zl))}
}

// With returns a child Logger whose every subsequent log line carries tag
// as a "tag" field, composing with any tag already present on the parent —
// the same inheritance an actor's Context performs when spawning a child.
func (lg *Logger) With(tag string) *Logger {
	if lg == nil {
		return nil
	}
	full := tag
	if lg.tag != "" {
		full = lg.tag + "." + tag
	}
	return &Logger{l: lg.l, tag: full}
}

func (lg *Logger) tagged(b *logiface.Builder[*izerolog.Event]) *logiface.Builder[*izerolog.Event] {
	if lg.tag != "" {
		b = b.Str("tag", lg.tag)
	}
	return b
}

// Debug logs msg at debug level with the current tag and optional fields.
func (lg *Logger) Debug(msg string, fields map[string]any) {
	lg.log(lg.l.Debug(), msg, fields)
}

// Info logs msg at informational level with the current tag and optional fields.
func (lg *Logger) Info(msg string, fields map[string]any) {
	lg.log(lg.l.Info(), msg, fields)
}

// Warn logs msg at warning level with the current tag and optional fields.
func (lg *Logger) Warn(msg string, fields map[string]any) {
	lg.log(lg.l.Warning(), msg, fields)
}

// Error logs err at error level, tagged, with an optional message and fields.
func (lg *Logger) Error(msg string, err error, fields map[string]any) {
	b := lg.l.Err()
	if err != nil {
		b = b.Err(err)
	}
	lg.log(b, msg, fields)
}

func (lg *Logger) log(b *logiface.Builder[*izerolog.Event], msg string, fields map[string]any) {
	b = lg.tagged(b)
	for k, v := range fields {
		b = b.Interface(k, v)
	}
	b.Log(msg)
}
