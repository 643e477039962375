package script

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/reactorfs/upd/driver"
	"github.com/reactorfs/upd/file"
	"github.com/reactorfs/upd/iso"
	"github.com/reactorfs/upd/lock"
	"github.com/reactorfs/upd/req"
)

func newFixture(t *testing.T) (*file.File, *file.Registry) {
	t.Helper()
	registry := file.NewRegistry(nil)
	manager := lock.NewManager(registry, nil)
	m := iso.NewMachine()
	tbl := driver.NewTable(nil)
	host := driver.NewHost(m, registry, manager, tbl)

	f, err := registry.New(New(host))
	require.NoError(t, err)
	return f, registry
}

func compile(t *testing.T, f *file.File, source string) *req.Request {
	t.Helper()
	r := &req.Request{
		File: f, Category: req.CategoryProgram,
		Program:  &req.ProgramPayload{Op: req.ProgramCompile, Args: []string{source}},
		Callback: func(*req.Request) {},
	}
	require.True(t, req.Dispatch(r))
	return r
}

func TestScript_CompileThenExecReturnsInstance(t *testing.T) {
	f, _ := newFixture(t)

	c := compile(t, f, "1 + 2")
	require.Equal(t, req.ResultOK, c.Result)

	e := &req.Request{
		File: f, Category: req.CategoryProgram,
		Program:  &req.ProgramPayload{Op: req.ProgramExec},
		Callback: func(*req.Request) {},
	}
	require.True(t, req.Dispatch(e))
	require.Equal(t, req.ResultOK, e.Result)
	require.NotNil(t, e.Program.Instance)

	val, err := Result(e.Program.Instance)
	require.NoError(t, err)
	require.EqualValues(t, 3, val.ToInteger())
}

func TestScript_CompileSyntaxErrorAborts(t *testing.T) {
	f, _ := newFixture(t)

	r := &req.Request{
		File: f, Category: req.CategoryProgram,
		Program: &req.ProgramPayload{Op: req.ProgramCompile, Args: []string{"this is not js {{{"}},
	}
	ok := req.Dispatch(r)
	require.False(t, ok)
	require.Equal(t, req.ResultAborted, r.Result)
}

func TestScript_ExecWithoutCompileIsInvalid(t *testing.T) {
	f, _ := newFixture(t)

	r := &req.Request{
		File: f, Category: req.CategoryProgram,
		Program: &req.ProgramPayload{Op: req.ProgramExec},
	}
	ok := req.Dispatch(r)
	require.False(t, ok)
	require.Equal(t, req.ResultInvalid, r.Result)
}

func TestScript_HostFunctionsAreReachable(t *testing.T) {
	f, _ := newFixture(t)
	compile(t, f, `lookupDriver("nonexistent")`)

	e := &req.Request{
		File: f, Category: req.CategoryProgram,
		Program:  &req.ProgramPayload{Op: req.ProgramExec},
		Callback: func(*req.Request) {},
	}
	require.True(t, req.Dispatch(e))
	val, err := Result(e.Program.Instance)
	require.NoError(t, err)
	require.False(t, val.ToBoolean())
}

func TestScript_RuntimeErrorStillProducesInstance(t *testing.T) {
	f, _ := newFixture(t)
	compile(t, f, "undefinedFunctionCall()")

	e := &req.Request{
		File: f, Category: req.CategoryProgram,
		Program:  &req.ProgramPayload{Op: req.ProgramExec},
		Callback: func(*req.Request) {},
	}
	require.True(t, req.Dispatch(e))
	require.Equal(t, req.ResultAborted, e.Result)
	require.NotNil(t, e.Program.Instance)

	_, err := Result(e.Program.Instance)
	require.Error(t, err)
}
