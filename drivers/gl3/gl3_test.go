package gl3

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/reactorfs/upd/driver"
	"github.com/reactorfs/upd/file"
	"github.com/reactorfs/upd/iso"
	"github.com/reactorfs/upd/lock"
	"github.com/reactorfs/upd/req"
)

func newFixture(t *testing.T) *file.File {
	t.Helper()
	registry := file.NewRegistry(nil)
	manager := lock.NewManager(registry, nil)
	m := iso.NewMachine()
	tbl := driver.NewTable(nil)
	host := driver.NewHost(m, registry, manager, tbl)

	f, err := registry.New(New(host))
	require.NoError(t, err)
	return f
}

func compile(t *testing.T, f *file.File, args ...string) *req.Request {
	t.Helper()
	r := &req.Request{
		File: f, Category: req.CategoryProgram,
		Program:  &req.ProgramPayload{Op: req.ProgramCompile, Args: args},
		Callback: func(*req.Request) {},
	}
	require.True(t, req.Dispatch(r))
	return r
}

func TestGL3_CompileTwicePhasesCompiledThenLinked(t *testing.T) {
	f := newFixture(t)
	require.Equal(t, "PENDING", Phase(f))

	compile(t, f, "vertex-src", "fragment-src")
	require.Equal(t, "COMPILED", Phase(f))

	compile(t, f)
	require.Equal(t, "LINKED", Phase(f))
}

func TestGL3_ExecBeforeLinkIsInvalid(t *testing.T) {
	f := newFixture(t)
	r := &req.Request{
		File: f, Category: req.CategoryProgram,
		Program: &req.ProgramPayload{Op: req.ProgramExec},
	}
	ok := req.Dispatch(r)
	require.False(t, ok)
	require.Equal(t, req.ResultInvalid, r.Result)
}

func TestGL3_ExecAfterLinkProducesInstance(t *testing.T) {
	f := newFixture(t)
	compile(t, f, "vs")
	compile(t, f)

	r := &req.Request{
		File: f, Category: req.CategoryProgram,
		Program:  &req.ProgramPayload{Op: req.ProgramExec},
		Callback: func(*req.Request) {},
	}
	require.True(t, req.Dispatch(r))
	require.Equal(t, req.ResultOK, r.Result)
	require.NotNil(t, r.Program.Instance)
	require.Equal(t, "DONE", Phase(f))
}

func TestGL3_RepeatedExecAfterDoneSucceeds(t *testing.T) {
	f := newFixture(t)
	compile(t, f, "vs")
	compile(t, f)

	r1 := &req.Request{
		File: f, Category: req.CategoryProgram,
		Program:  &req.ProgramPayload{Op: req.ProgramExec},
		Callback: func(*req.Request) {},
	}
	require.True(t, req.Dispatch(r1))

	r2 := &req.Request{
		File: f, Category: req.CategoryProgram,
		Program:  &req.ProgramPayload{Op: req.ProgramExec},
		Callback: func(*req.Request) {},
	}
	require.True(t, req.Dispatch(r2))
	require.Equal(t, req.ResultOK, r2.Result)
}
