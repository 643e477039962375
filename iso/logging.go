// Package iso implements the isolated machine: the event loop, arena stack,
// and diagnostic sink that every file, lock, and request ultimately runs on.
package iso

import (
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// LogLevel is the severity of a diagnostic entry.
type LogLevel int32

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l LogLevel) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", l)
	}
}

// LogEntry is one diagnostic record. FileID is 0 when the message is not
// scoped to a particular file (0 doubles as the root directory's id, but
// entries never confuse the two: FileSet distinguishes "no file" from
// "file 0").
type LogEntry struct {
	Level     LogLevel
	MachineID uint64
	FileID    uint64
	FileSet   bool
	Message   string
	Err       error
	Timestamp time.Time
}

// Logger is the sink every Machine funnels its diagnostics through, so that
// messages from concurrently-active drivers never interleave mid-line.
type Logger interface {
	Log(entry LogEntry)
	IsEnabled(level LogLevel) bool
}

// noopLogger discards everything; used when a Machine is built without an
// explicit logger and silence is preferred over stdout noise (e.g. tests).
type noopLogger struct{}

func (noopLogger) Log(LogEntry)          {}
func (noopLogger) IsEnabled(LogLevel) bool { return false }

// NewNoOpLogger returns a Logger that discards all entries.
func NewNoOpLogger() Logger { return noopLogger{} }

// DefaultLogger writes one line per entry to an io.Writer: JSON when the
// writer isn't a terminal, plain text when it is.
type DefaultLogger struct {
	level atomic.Int32
	mu    sync.Mutex
	Out   io.Writer
}

// NewDefaultLogger creates a logger that writes to os.Stderr at the given
// minimum level.
func NewDefaultLogger(level LogLevel) *DefaultLogger {
	l := &DefaultLogger{Out: os.Stderr}
	l.level.Store(int32(level))
	return l
}

func (l *DefaultLogger) SetLevel(level LogLevel) { l.level.Store(int32(level)) }

func (l *DefaultLogger) IsEnabled(level LogLevel) bool {
	return level >= LogLevel(l.level.Load())
}

func (l *DefaultLogger) Log(entry LogEntry) {
	if !l.IsEnabled(entry.Level) {
		return
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if isTerminal(l.Out) {
		l.logPretty(entry)
	} else {
		l.logJSON(entry)
	}
}

func (l *DefaultLogger) logPretty(e LogEntry) {
	fmt.Fprintf(l.Out, "%s %s [iso=%d", e.Timestamp.Format("15:04:05.000"), e.Level, e.MachineID)
	if e.FileSet {
		fmt.Fprintf(l.Out, " file=%d", e.FileID)
	}
	fmt.Fprintf(l.Out, "] %s", e.Message)
	if e.Err != nil {
		fmt.Fprintf(l.Out, ": %v", e.Err)
	}
	fmt.Fprintln(l.Out)
}

func (l *DefaultLogger) logJSON(e LogEntry) {
	fmt.Fprintf(l.Out, `{"ts":"%s","level":"%s","iso":%d`, e.Timestamp.Format(time.RFC3339Nano), e.Level, e.MachineID)
	if e.FileSet {
		fmt.Fprintf(l.Out, `,"file":%d`, e.FileID)
	}
	fmt.Fprintf(l.Out, `,"msg":%q`, e.Message)
	if e.Err != nil {
		fmt.Fprintf(l.Out, `,"err":%q`, e.Err.Error())
	}
	fmt.Fprintln(l.Out, "}")
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	stat, err := f.Stat()
	if err != nil {
		return false
	}
	return stat.Mode()&os.ModeCharDevice != 0
}
