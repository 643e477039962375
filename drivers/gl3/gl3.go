// Package gl3 stubs the OpenGL pipeline compiler/linker family
// (original_source's gl3_pl/gl3_glsl/gl3_buf/...): a program driver with no
// real GPU backend, logging the COMPILE/EXEC stages it would have run. Per
// spec.md §1, drivers like this are "specified only through the interfaces
// they consume from the core and implement for it", so the contract —
// driver.Driver, the explicit phase-enum state machine from spec.md's
// Design Notes — is what this package provides; a real backend replaces
// only the step functions' bodies.
package gl3

import (
	"github.com/reactorfs/upd/driver"
	"github.com/reactorfs/upd/file"
	"github.com/reactorfs/upd/req"
)

// Name is the driver's registration name.
const Name = "upd.gl3"

// phase is the explicit state-machine enum spec.md's Design Notes call for
// in place of a tangled callback sequence.
type phase int

const (
	phasePending phase = iota
	phaseCompiled
	phaseLinked
	phaseRunning
	phaseDone
	phaseFailed
)

func (p phase) String() string {
	switch p {
	case phasePending:
		return "PENDING"
	case phaseCompiled:
		return "COMPILED"
	case phaseLinked:
		return "LINKED"
	case phaseRunning:
		return "RUNNING"
	case phaseDone:
		return "DONE"
	case phaseFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// continuation is the boxed state a step function owns across the
// callback-free synchronous path a real backend would instead suspend
// across async shader-compile / link / draw calls.
type continuation struct {
	phase   phase
	shaders []string
	program string
}

// Driver implements a COMPILE/EXEC pipeline shape without a GPU backend.
type Driver struct {
	host driver.Host
}

// New constructs a gl3 driver; host is used for diagnostic logging of the
// stages this stub would have run on real hardware and to create EXEC's
// Instance file. With a nil host, EXEC completes without an Instance.
func New(host driver.Host) *Driver {
	return &Driver{host: host}
}

func (d *Driver) Name() string { return Name }

func (d *Driver) Init(f *file.File) error {
	f.Param = &continuation{phase: phasePending}
	return nil
}

func (d *Driver) Deinit(*file.File) {}

func (d *Driver) Categories() []req.Category { return []req.Category{req.CategoryProgram} }
func (d *Driver) ABIVersion() int            { return 1 }

func (d *Driver) Handle(r *req.Request) bool {
	if r.Category != req.CategoryProgram {
		r.Result = req.ResultInvalid
		return false
	}
	switch r.Program.Op {
	case req.ProgramCompile:
		return d.step(r, stepCompile)
	case req.ProgramExec:
		return d.step(r, stepExec)
	default:
		r.Result = req.ResultInvalid
		return false
	}
}

type stepFn func(d *Driver, r *req.Request, c *continuation) bool

func (d *Driver) step(r *req.Request, fn stepFn) bool {
	c := r.File.Param.(*continuation)
	return fn(d, r, c)
}

func stepCompile(d *Driver, r *req.Request, c *continuation) bool {
	switch c.phase {
	case phasePending:
		c.shaders = append([]string(nil), r.Program.Args...)
		c.phase = phaseCompiled
		d.logf("gl3: compiled %d shader stage(s)", len(c.shaders))
	case phaseCompiled, phaseLinked:
		c.phase = phaseLinked
		d.logf("gl3: linked program from %d shader stage(s)", len(c.shaders))
	default:
		r.Result = req.ResultAborted
		c.phase = phaseFailed
		return false
	}
	r.Result = req.ResultOK
	r.Callback(r)
	return true
}

func stepExec(d *Driver, r *req.Request, c *continuation) bool {
	if c.phase != phaseLinked && c.phase != phaseDone {
		r.Result = req.ResultInvalid
		return false
	}
	c.phase = phaseRunning
	d.logf("gl3: draw call issued (stub, no GPU backend)")
	c.phase = phaseDone

	if d.host == nil {
		r.Result = req.ResultOK
		r.Callback(r)
		return true
	}
	instFile, err := d.host.File().New(instanceDriver{})
	if err != nil {
		r.Result = req.ResultNomem
		return false
	}
	r.Program.Instance = instFile
	r.Result = req.ResultOK
	r.Callback(r)
	return true
}

func (d *Driver) logf(format string, args ...any) {
	if d.host == nil {
		return
	}
	d.host.Iso().Msg(format, args...)
}

// instanceDriver is the transient handle for a finished draw's Instance
// file, matching spec.md §6's Program contract shape.
type instanceDriver struct{}

func (instanceDriver) Name() string          { return Name + ".instance" }
func (instanceDriver) Init(*file.File) error { return nil }
func (instanceDriver) Deinit(*file.File)     {}

// Phase exposes the current pipeline phase for test and diagnostic use.
func Phase(f *file.File) string {
	return f.Param.(*continuation).phase.String()
}
