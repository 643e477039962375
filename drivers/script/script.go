// Package script implements the program driver that compiles and executes
// sandboxed ECMAScript, via goja, in place of the original implementation's
// Lua/LuaJIT sandbox (see DESIGN.md for the substitution rationale). COMPILE
// parses source into a reusable *goja.Program; EXEC instantiates a fresh VM
// per run, binds a restricted host surface (msg and console.log logging,
// lookupDriver, and now — no filesystem, network, or process access), and returns a
// new file representing the running instance, per spec.md §6's Program
// contract.
package script

import (
	"fmt"

	"github.com/dop251/goja"

	"github.com/reactorfs/upd/driver"
	"github.com/reactorfs/upd/file"
	"github.com/reactorfs/upd/req"
)

// Name is the driver's registration name.
const Name = "upd.script"

type compiled struct {
	program *goja.Program
	source  string
}

type instance struct {
	vm     *goja.Runtime
	result goja.Value
	err    error
}

// Driver compiles and runs ECMAScript sources. host supplies the restricted
// namespace bound into each VM; it is nil-safe (a Driver with a nil host
// still compiles and runs scripts, just without host bindings and without
// an Instance file on EXEC), which keeps construction simple in tests.
type Driver struct {
	host driver.Host
}

// New constructs a script driver whose EXEC instances can reach the given
// host's iso.Msg and driver.Lookup surface.
func New(host driver.Host) *Driver {
	return &Driver{host: host}
}

func (d *Driver) Name() string { return Name }

func (d *Driver) Init(f *file.File) error {
	f.Param = &compiled{}
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
		return d.handleCompile(r)
	case req.ProgramExec:
		return d.handleExec(r)
	default:
		r.Result = req.ResultInvalid
		return false
	}
}

func (d *Driver) handleCompile(r *req.Request) bool {
	c := r.File.Param.(*compiled)
	source := ""
	if len(r.Program.Args) > 0 {
		source = r.Program.Args[0]
	}

	prog, err := goja.Compile(r.File.MimeType, source, false)
	if err != nil {
		r.Result = req.ResultAborted
		return false
	}
	c.program = prog
	c.source = source
	r.Result = req.ResultOK
	r.Callback(r)
	return true
}

func (d *Driver) handleExec(r *req.Request) bool {
	c := r.File.Param.(*compiled)
	if c.program == nil {
		r.Result = req.ResultInvalid
		return false
	}

	vm := goja.New()
	d.bindHost(vm)

	inst := &instance{vm: vm}
	v, err := vm.RunProgram(c.program)
	inst.result = v
	inst.err = err

	if d.host == nil {
		r.Result = req.ResultOK
		if err != nil {
			r.Result = req.ResultAborted
		}
		r.Callback(r)
		return true
	}
	instFile, ferr := d.host.File().New(&instanceDriver{inst: inst})
	if ferr != nil {
		r.Result = req.ResultNomem
		return false
	}
	r.Program.Instance = instFile
	r.Result = req.ResultOK
	if err != nil {
		r.Result = req.ResultAborted
	}
	r.Callback(r)
	return true
}

// instanceDriver is the transient driver for a running script's Instance
// file: it owns no children and accepts no further requests, it exists only
// as a handle a caller can Unref to tear the VM down, matching spec.md
// §6's "Instance" contract (EXEC produces a new file whose lifetime is the
// running execution).
type instanceDriver struct {
	inst *instance
}

func (d *instanceDriver) Name() string { return Name + ".instance" }
func (d *instanceDriver) Init(f *file.File) error {
	f.Param = d.inst
	return nil
}
func (*instanceDriver) Deinit(*file.File) {}

func (d *Driver) bindHost(vm *goja.Runtime) {
	if d.host == nil {
		return
	}
	iso := d.host.Iso()
	drv := d.host.Driver()

	_ = vm.Set("msg", func(format string, args ...any) {
		iso.Msg(format, args...)
	})
	_ = vm.Set("lookupDriver", func(name string) bool {
		_, ok := drv.Lookup(name)
		return ok
	})
	_ = vm.Set("now", func() int64 {
		return iso.Now()
	})
	_ = vm.Set("console", map[string]any{
		"log": func(call goja.FunctionCall) goja.Value {
			parts := make([]any, len(call.Arguments))
			for i, a := range call.Arguments {
				parts[i] = a.Export()
			}
			iso.Msg(fmt.Sprint(parts...))
			return goja.Undefined()
		},
	})
}

// Result exposes an EXEC instance's return value and error, for callers
// inspecting Program.Instance.Param after dispatch.
func Result(f *file.File) (goja.Value, error) {
	inst := f.Param.(*instance)
	return inst.result, inst.err
}
