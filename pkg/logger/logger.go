// Package logger writes one structured line per event, as JSON or as
// key=value text. Loggers derived with With share the parent's writer.
// Slog exposes the same sink to packages that take a *slog.Logger.
package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Level is a message severity.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError

	levelOff
)

var levelNames = [...]string{"DEBUG", "INFO", "WARN", "ERROR"}

func (l Level) String() string {
	if l < LevelDebug || l >= levelOff {
		return "UNKNOWN"
	}
	return levelNames[l]
}

// ParseLevel maps a config value to a Level. Unknown values give LevelInfo.
func ParseLevel(s string) Level {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "WARNING" {
		return LevelWarn
	}
	for i, name := range levelNames {
		if s == name {
			return Level(i)
		}
	}
	return LevelInfo
}

// Format selects the line encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatText Format = "text"
)

// Field is one key/value attached to a line.
type Field struct {
	Key   string
	Value any
}

func String(key, value string) Field { return Field{key, value} }
func Int(key string, value int) Field { return Field{key, value} }
func Any(key string, value any) Field { return Field{key, value} }

func Duration(key string, d time.Duration) Field { return Field{key, d.String()} }

// Err stores the message rather than the error value.
func Err(err error) Field {
	if err == nil {
		return Field{"error", nil}
	}
	return Field{"error", err.Error()}
}

const RequestIDKey = "request_id"

func UserID(id string) Field        { return String("user_id", id) }
func RankID(id string) Field        { return String("rank", id) }
func XPAmount(xp int) Field         { return Int("xp_amount", xp) }
func Component(name string) Field   { return String("component", name) }
func Latency(d time.Duration) Field { return Duration("latency", d) }

// ════════════════════════════════════════════════════════════════════════════
// Logger
// ════════════════════════════════════════════════════════════════════════════

// Options configures New.
type Options struct {
	Output    io.Writer // os.Stdout when nil
	Level     Level
	Format    Format // FormatJSON when empty
	AddCaller bool
	Now       func() time.Time
}

type sink struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *sink) writeLine(b []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, _ = s.w.Write(b)
}

// Logger is safe for concurrent use.
type Logger struct {
	out    *sink
	min    Level
	text   bool
	caller bool
	now    func() time.Time
	fields []Field
}

func New(opts Options) *Logger {
	out := opts.Output
	if out == nil {
		out = os.Stdout
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Logger{
		out:    &sink{w: out},
		min:    opts.Level,
		text:   opts.Format == FormatText,
		caller: opts.AddCaller,
		now:    now,
	}
}

// Default logs JSON at info level to stdout with callers.
func Default() *Logger {
	return New(Options{Level: LevelInfo, AddCaller: true})
}

// Nop discards everything.
func Nop() *Logger {
	return New(Options{Output: io.Discard, Level: levelOff})
}

// With returns a child logger that adds fields to every line.
func (l *Logger) With(fields ...Field) *Logger {
	child := *l
	child.fields = append(append(make([]Field, 0, len(l.fields)+len(fields)), l.fields...), fields...)
	return &child
}

func (l *Logger) WithRequestID(id string) *Logger {
	return l.With(String(RequestIDKey, id))
}

func (l *Logger) Enabled(level Level) bool { return level >= l.min }

func (l *Logger) Debug(msg string, fields ...Field) { l.emit(LevelDebug, msg, 2, fields) }
func (l *Logger) Info(msg string, fields ...Field)  { l.emit(LevelInfo, msg, 2, fields) }
func (l *Logger) Warn(msg string, fields ...Field)  { l.emit(LevelWarn, msg, 2, fields) }
func (l *Logger) Error(msg string, fields ...Field) { l.emit(LevelError, msg, 2, fields) }

// emit builds the line. skip is the runtime.Caller depth of the call site.
func (l *Logger) emit(level Level, msg string, skip int, extra []Field) {
	if !l.Enabled(level) {
		return
	}
	head := []Field{
		{"time", l.now().UTC().Format(time.RFC3339Nano)},
		{"level", level.String()},
		{"msg", msg},
	}
	if l.caller {
		if _, file, line, ok := runtime.Caller(skip); ok {
			head = append(head, Field{"caller", filepath.Base(file) + ":" + strconv.Itoa(line)})
		}
	}
	body := merge(l.fields, extra)

	var buf bytes.Buffer
	if l.text {
		encodeText(&buf, head, body)
	} else {
		encodeJSON(&buf, head, body)
	}
	buf.WriteByte('\n')
	l.out.writeLine(buf.Bytes())
}

// merge keeps first-seen key order; the last value for a key wins.
func merge(base, extra []Field) []Field {
	if len(extra) == 0 {
		return base
	}
	out := make([]Field, 0, len(base)+len(extra))
	pos := make(map[string]int, len(base)+len(extra))
	for _, set := range [][]Field{base, extra} {
		for _, f := range set {
			if i, ok := pos[f.Key]; ok {
				out[i].Value = f.Value
				continue
			}
			pos[f.Key] = len(out)
			out = append(out, f)
		}
	}
	return out
}

func encodeJSON(buf *bytes.Buffer, head, body []Field) {
	buf.WriteByte('{')
	n := 0
	for _, set := range [][]Field{head, body} {
		for _, f := range set {
			if n > 0 {
				buf.WriteByte(',')
			}
			n++
			key, _ := json.Marshal(f.Key)
			buf.Write(key)
			buf.WriteByte(':')
			val, err := json.Marshal(f.Value)
			if err != nil {
				val, _ = json.Marshal(fmt.Sprint(f.Value))
			}
			buf.Write(val)
		}
	}
	buf.WriteByte('}')
}

// encodeText writes "time LEVEL msg k=v ... caller=file:line".
func encodeText(buf *bytes.Buffer, head, body []Field) {
	fmt.Fprintf(buf, "%s %-5s %s", head[0].Value, head[1].Value, head[2].Value)
	for _, f := range body {
		fmt.Fprintf(buf, " %s=%v", f.Key, f.Value)
	}
	if len(head) > 3 {
		fmt.Fprintf(buf, " caller=%v", head[3].Value)
	}
}

// ════════════════════════════════════════════════════════════════════════════
// Context
// ════════════════════════════════════════════════════════════════════════════

type ctxKey struct{}

func WithContext(ctx context.Context, l *Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext returns the logger stored by WithContext, or Default.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(ctxKey{}).(*Logger); ok {
		return l
	}
	return Default()
}

// ════════════════════════════════════════════════════════════════════════════
// slog bridge
// ════════════════════════════════════════════════════════════════════════════

// Slog adapts l to the log/slog API. Groups become dotted key prefixes.
func (l *Logger) Slog() *slog.Logger {
	return slog.New(&bridge{l: l})
}

type bridge struct {
	l      *Logger
	prefix string
}

func (b *bridge) Enabled(_ context.Context, level slog.Level) bool {
	return b.l.Enabled(levelOf(level))
}

func (b *bridge) Handle(_ context.Context, r slog.Record) error {
	fields := make([]Field, 0, r.NumAttrs())
	r.Attrs(func(a slog.Attr) bool {
		fields = append(fields, b.convert(a))
		return true
	})
	// slog.Logger method, slog.Logger.log, Handle
	b.l.emit(levelOf(r.Level), r.Message, 4, fields)
	return nil
}

func (b *bridge) WithAttrs(attrs []slog.Attr) slog.Handler {
	fields := make([]Field, len(attrs))
	for i, a := range attrs {
		fields[i] = b.convert(a)
	}
	return &bridge{l: b.l.With(fields...), prefix: b.prefix}
}

func (b *bridge) WithGroup(name string) slog.Handler {
	if name == "" {
		return b
	}
	return &bridge{l: b.l, prefix: b.prefix + name + "."}
}

func (b *bridge) convert(a slog.Attr) Field {
	v := a.Value.Resolve().Any()
	if err, ok := v.(error); ok {
		v = err.Error()
	}
	return Field{b.prefix + a.Key, v}
}

func levelOf(l slog.Level) Level {
	switch {
	case l >= slog.LevelError:
		return LevelError
	case l >= slog.LevelWarn:
		return LevelWarn
	case l >= slog.LevelInfo:
		return LevelInfo
	}
	return LevelDebug
}
