package req

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/reactorfs/upd/file"
	"github.com/reactorfs/upd/lock"
)

// testDirDriver is a minimal in-memory directory driver, just enough to
// exercise Pathfind; the real directory driver lives in drivers/dir.
type testDirDriver struct{}

func (testDirDriver) Name() string { return "test.dir" }
func (testDirDriver) Init(f *file.File) error {
	f.Param = map[string]*file.File{}
	return nil
}
func (testDirDriver) Deinit(*file.File) {}

func (testDirDriver) Handle(r *Request) bool {
	children := r.File.Param.(map[string]*file.File)
	switch r.Dir.Op {
	case DirFind:
		r.Dir.Entry = children[r.Dir.Name]
		r.Result = ResultOK
	case DirAdd:
		children[r.Dir.Name] = r.Dir.Entry
		r.Dir.Entry.Ref()
		r.Result = ResultOK
	case DirList:
		for name, f := range children {
			r.Dir.Entries = append(r.Dir.Entries, DirChild{Name: name, File: f})
		}
		r.Result = ResultOK
	default:
		r.Result = ResultInvalid
		return false
	}
	r.Callback(r)
	return true
}

func newPathfindFixture(t *testing.T) (*file.Registry, *lock.Manager, *file.File) {
	t.Helper()
	registry := file.NewRegistry(nil)
	manager := lock.NewManager(registry, nil)
	root, err := registry.New(testDirDriver{})
	require.NoError(t, err)
	return registry, manager, root
}

func TestPathfind_ResolvesExistingNestedPath(t *testing.T) {
	registry, manager, root := newPathfindFixture(t)

	a, err := registry.New(testDirDriver{})
	require.NoError(t, err)
	b, err := registry.New(testDirDriver{})
	require.NoError(t, err)

	root.Param.(map[string]*file.File)["a"] = a
	a.Param.(map[string]*file.File)["b"] = b

	var resolved *file.File
	var remainder string
	pf := NewPathfind(registry, manager, root, testDirDriver{}, nil, "a/b", false, func(pf *Pathfind) {
		resolved = pf.Base
		remainder = pf.Path
	})
	pf.Start()

	require.Same(t, b, resolved)
	require.Empty(t, remainder)
}

func TestPathfind_MissingSegmentWithoutCreateStopsShort(t *testing.T) {
	registry, manager, root := newPathfindFixture(t)

	var resolved *file.File
	var remainder string
	pf := NewPathfind(registry, manager, root, testDirDriver{}, nil, "missing/tail", false, func(pf *Pathfind) {
		resolved = pf.Base
		remainder = pf.Path
	})
	pf.Start()

	require.Same(t, root, resolved)
	require.Equal(t, "missing/tail", remainder)
}

func TestPathfind_CreateAddsIntermediateDirectories(t *testing.T) {
	registry, manager, root := newPathfindFixture(t)

	var resolved *file.File
	var remainder string
	pf := NewPathfind(registry, manager, root, testDirDriver{}, nil, "a/b/c", true, func(pf *Pathfind) {
		resolved = pf.Base
		remainder = pf.Path
	})
	pf.Start()

	require.Empty(t, remainder)
	require.NotNil(t, resolved)
	require.NotSame(t, root, resolved)

	a := root.Param.(map[string]*file.File)["a"]
	require.NotNil(t, a)
	b := a.Param.(map[string]*file.File)["b"]
	require.NotNil(t, b)
	c := b.Param.(map[string]*file.File)["c"]
	require.Same(t, c, resolved)
}

func TestPathfind_AbsolutePathRebindsToRoot(t *testing.T) {
	registry, manager, root := newPathfindFixture(t)

	other, err := registry.New(testDirDriver{})
	require.NoError(t, err)

	var resolved *file.File
	pf := NewPathfind(registry, manager, root, testDirDriver{}, other, "/", false, func(pf *Pathfind) {
		resolved = pf.Base
	})
	pf.Start()

	require.Same(t, root, resolved)
}

func TestPathfind_EmptyPathResolvesImmediatelyToBase(t *testing.T) {
	registry, manager, root := newPathfindFixture(t)

	var resolved *file.File
	var called bool
	pf := NewPathfind(registry, manager, root, testDirDriver{}, nil, "", false, func(pf *Pathfind) {
		resolved = pf.Base
		called = true
	})
	pf.Start()

	require.True(t, called)
	require.Same(t, root, resolved)
}

func TestPathfind_ReleasesLockBeforeDescending(t *testing.T) {
	registry, manager, root := newPathfindFixture(t)
	a, err := registry.New(testDirDriver{})
	require.NoError(t, err)
	root.Param.(map[string]*file.File)["a"] = a

	pf := NewPathfind(registry, manager, root, testDirDriver{}, nil, "a", false, func(pf *Pathfind) {})
	pf.Start()

	require.Equal(t, 0, manager.Queue(root).Len())
}
