package dir

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/reactorfs/upd/file"
	"github.com/reactorfs/upd/req"
)

type nullDriver struct{}

func (nullDriver) Name() string          { return "test.null" }
func (nullDriver) Init(*file.File) error { return nil }
func (nullDriver) Deinit(*file.File)     {}

func TestDir_AddFindList(t *testing.T) {
	registry := file.NewRegistry(nil)
	d := New(registry)
	root, err := registry.New(d)
	require.NoError(t, err)

	child, err := registry.New(nullDriver{})
	require.NoError(t, err)

	var addOK bool
	addReq := &req.Request{
		File:     root,
		Category: req.CategoryDirectory,
		Dir:      &req.DirPayload{Op: req.DirAdd, Name: "child", Entry: child},
		Callback: func(r *req.Request) { addOK = r.Result == req.ResultOK },
	}
	require.True(t, req.Dispatch(addReq))
	require.True(t, addOK)
	require.Equal(t, 2, child.Refcount())

	var found *file.File
	findReq := &req.Request{
		File:     root,
		Category: req.CategoryDirectory,
		Dir:      &req.DirPayload{Op: req.DirFind, Name: "child"},
		Callback: func(r *req.Request) { found = r.Dir.Entry },
	}
	require.True(t, req.Dispatch(findReq))
	require.Same(t, child, found)

	var listed []req.DirChild
	listReq := &req.Request{
		File:     root,
		Category: req.CategoryDirectory,
		Dir:      &req.DirPayload{Op: req.DirList},
		Callback: func(r *req.Request) { listed = r.Dir.Entries },
	}
	require.True(t, req.Dispatch(listReq))
	require.Equal(t, []req.DirChild{{Name: "child", File: child}}, listed)
}

func TestDir_AddDuplicateNameAborts(t *testing.T) {
	registry := file.NewRegistry(nil)
	d := New(registry)
	root, err := registry.New(d)
	require.NoError(t, err)

	c1, _ := registry.New(nullDriver{})
	c2, _ := registry.New(nullDriver{})

	ok := req.Dispatch(&req.Request{
		File: root, Category: req.CategoryDirectory,
		Dir:      &req.DirPayload{Op: req.DirAdd, Name: "x", Entry: c1},
		Callback: func(*req.Request) {},
	})
	require.True(t, ok)

	r := &req.Request{
		File: root, Category: req.CategoryDirectory,
		Dir: &req.DirPayload{Op: req.DirAdd, Name: "x", Entry: c2},
	}
	ok = req.Dispatch(r)
	require.False(t, ok)
	require.Equal(t, req.ResultAborted, r.Result)
}

func TestDir_RemoveDropsRef(t *testing.T) {
	registry := file.NewRegistry(nil)
	d := New(registry)
	root, err := registry.New(d)
	require.NoError(t, err)
	child, _ := registry.New(nullDriver{})

	req.Dispatch(&req.Request{
		File: root, Category: req.CategoryDirectory,
		Dir:      &req.DirPayload{Op: req.DirAdd, Name: "x", Entry: child},
		Callback: func(*req.Request) {},
	})
	require.Equal(t, 2, child.Refcount())

	var removeOK bool
	r := &req.Request{
		File: root, Category: req.CategoryDirectory,
		Dir:      &req.DirPayload{Op: req.DirRemove, Name: "x"},
		Callback: func(r *req.Request) { removeOK = r.Result == req.ResultOK },
	}
	require.True(t, req.Dispatch(r))
	require.True(t, removeOK)
	require.Equal(t, 1, child.Refcount())
}

func TestDir_NewDirCreatesNestedDirectory(t *testing.T) {
	registry := file.NewRegistry(nil)
	d := New(registry)
	root, err := registry.New(d)
	require.NoError(t, err)

	var created *file.File
	r := &req.Request{
		File: root, Category: req.CategoryDirectory,
		Dir:      &req.DirPayload{Op: req.DirNewDir, Name: "sub"},
		Callback: func(r *req.Request) { created = r.Dir.Entry },
	}
	require.True(t, req.Dispatch(r))
	require.NotNil(t, created)
	_, isDir := created.Param.(*state)
	require.True(t, isDir)
}
