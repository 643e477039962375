package iso

import (
	"context"
	"sync"
	"sync/atomic"
)

var machineIDSeq atomic.Uint64

// Machine is one isolated runtime: an Arena, a Loop, and a Logger bound
// together under a stable identifier used to tag every log entry the
// machine (or any file/driver running inside it) emits. driver.NewHost
// binds a Machine to a file.Registry, lock.Manager and driver.Table, so
// that drivers log through one diagnostic sink per isolated runtime
// instead of the teacher's single process-wide logger.
type Machine struct {
	id     uint64
	Loop   *Loop
	Arena  *Arena
	Logger Logger

	closeOnce sync.Once
	closed    atomic.Bool
}

// MachineOption configures a Machine at construction time, following the
// functional-options idiom the teacher uses for Loop construction.
type MachineOption func(*machineConfig)

type machineConfig struct {
	arenaSize int
	logger    Logger
}

// WithArenaSize overrides the default strip size (64KiB) used by the
// Machine's Arena.
func WithArenaSize(n int) MachineOption {
	return func(c *machineConfig) { c.arenaSize = n }
}

// WithLogger overrides the default no-op logger.
func WithLogger(l Logger) MachineOption {
	return func(c *machineConfig) { c.logger = l }
}

const defaultArenaSize = 64 * 1024

// NewMachine constructs a Machine with a fresh Loop and Arena. The Loop is
// not started; call Run to begin processing.
func NewMachine(opts ...MachineOption) *Machine {
	cfg := machineConfig{arenaSize: defaultArenaSize, logger: NewNoOpLogger()}
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Machine{
		id:     machineIDSeq.Add(1),
		Loop:   NewLoop(),
		Arena:  NewArena(cfg.arenaSize),
		Logger: cfg.logger,
	}
}

// ID is a process-unique, monotonically increasing identifier used to tag
// this machine's log entries.
func (m *Machine) ID() uint64 { return m.id }

// Log fills in MachineID and forwards to the configured Logger.
func (m *Machine) Log(level LogLevel, msg string, err error) {
	if !m.Logger.IsEnabled(level) {
		return
	}
	m.Logger.Log(LogEntry{
		Level:     level,
		MachineID: m.id,
		Message:   msg,
		Err:       err,
	})
}

// LogFile is like Log but scopes the entry to a specific file id.
func (m *Machine) LogFile(level LogLevel, fileID uint64, msg string, err error) {
	if !m.Logger.IsEnabled(level) {
		return
	}
	m.Logger.Log(LogEntry{
		Level:     level,
		MachineID: m.id,
		FileID:    fileID,
		FileSet:   true,
		Message:   msg,
		Err:       err,
	})
}

// Run starts the Machine's Loop and blocks until ctx is cancelled or Close
// is called.
func (m *Machine) Run(ctx context.Context) error {
	m.Log(LevelInfo, "machine started", nil)
	err := m.Loop.Run(ctx)
	m.Log(LevelInfo, "machine stopped", err)
	return err
}

// Close requests the Machine's Loop shut down. It is safe to call multiple
// times and from any goroutine; it does not block until the Loop has
// actually drained, Run's return does that.
func (m *Machine) Close() error {
	m.closeOnce.Do(func() {
		m.closed.Store(true)
		m.Loop.Shutdown()
	})
	return nil
}

// Closed reports whether Close has been called.
func (m *Machine) Closed() bool { return m.closed.Load() }
