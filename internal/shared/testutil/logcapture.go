package testutil

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

// LogRecord is a captured log entry with its attributes flattened.
type LogRecord struct {
	Level   slog.Level
	Message string
	Attrs   map[string]any
}

// LogCapture is a slog.Handler that keeps every record in memory so tests
// can assert on what a component logged. Handlers derived through WithAttrs
// and WithGroup share the parent's buffer.
type LogCapture struct {
	mu      *sync.Mutex
	records *[]LogRecord
	attrs   []slog.Attr
	group   string
	level   slog.Level
}

// NewLogCapture returns a logger writing into a fresh capture at debug level.
func NewLogCapture() (*slog.Logger, *LogCapture) {
	c := &LogCapture{
		mu:      &sync.Mutex{},
		records: &[]LogRecord{},
		level:   slog.LevelDebug,
	}
	return slog.New(c), c
}

func (c *LogCapture) Enabled(_ context.Context, level slog.Level) bool {
	return level >= c.level
}

func (c *LogCapture) Handle(_ context.Context, r slog.Record) error {
	rec := LogRecord{
		Level:   r.Level,
		Message: r.Message,
		Attrs:   make(map[string]any, len(c.attrs)+r.NumAttrs()),
	}
	for _, a := range c.attrs {
		rec.Attrs[a.Key] = a.Value.Any()
	}
	r.Attrs(func(a slog.Attr) bool {
		rec.Attrs[c.key(a.Key)] = a.Value.Resolve().Any()
		return true
	})

	c.mu.Lock()
	*c.records = append(*c.records, rec)
	c.mu.Unlock()
	return nil
}

func (c *LogCapture) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *c
	next.attrs = make([]slog.Attr, 0, len(c.attrs)+len(attrs))
	next.attrs = append(next.attrs, c.attrs...)
	for _, a := range attrs {
		next.attrs = append(next.attrs, slog.Attr{Key: c.key(a.Key), Value: a.Value.Resolve()})
	}
	return &next
}

func (c *LogCapture) WithGroup(name string) slog.Handler {
	if name == "" {
		return c
	}
	next := *c
	next.group = c.key(name)
	return &next
}

func (c *LogCapture) key(k string) string {
	if c.group == "" {
		return k
	}
	return c.group + "." + k
}

// Records returns a copy of everything captured so far.
func (c *LogCapture) Records() []LogRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]LogRecord, len(*c.records))
	copy(out, *c.records)
	return out
}

// Find returns the first record whose message contains substr.
func (c *LogCapture) Find(substr string) (LogRecord, bool) {
	for _, r := range c.Records() {
		if strings.Contains(r.Message, substr) {
			return r, true
		}
	}
	return LogRecord{}, false
}

// Reset drops all captured records.
func (c *LogCapture) Reset() {
	c.mu.Lock()
	*c.records = (*c.records)[:0]
	c.mu.Unlock()
}

// AssertLogged checks that a record containing msg was logged at level.
func (c *LogCapture) AssertLogged(t testing.TB, level slog.Level, msg string) LogRecord {
	t.Helper()
	for _, r := range c.Records() {
		if r.Level == level && strings.Contains(r.Message, msg) {
			return r
		}
	}
	assert.Failf(t, "log record not found", "no %s record containing %q in %d records", level, msg, len(c.Records()))
	return LogRecord{}
}

// AssertAttr checks that the record containing msg carries key=value.
func (c *LogCapture) AssertAttr(t testing.TB, msg, key string, value any) {
	t.Helper()
	rec, ok := c.Find(msg)
	if !assert.Truef(t, ok, "no record containing %q", msg) {
		return
	}
	assert.EqualValues(t, value, rec.Attrs[key], "attribute %q of %q", key, msg)
}

// AssertNoErrors fails when anything was logged at error level or above.
func (c *LogCapture) AssertNoErrors(t testing.TB) {
	t.Helper()
	for _, r := range c.Records() {
		if r.Level >= slog.LevelError {
			assert.Failf(t, "unexpected error log", "%s: %v", r.Message, r.Attrs)
		}
	}
}
