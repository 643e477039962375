// Package dir implements the directory driver: an in-memory name->file
// table backing LIST/FIND/ADD/NEW/NEWDIR/RM, grounded on
// original_source/src/driver/dir.c's upd_driver_dir.
package dir

import (
	"sort"

	"github.com/reactorfs/upd/file"
	"github.com/reactorfs/upd/req"
)

// Name is the driver's registration name.
const Name = "upd.dir"

// state is the directory's driver-private content, stored in file.Param.
type state struct {
	children map[string]*file.File
}

// Driver is stdlib-only: no ecosystem directory/filesystem-tree library
// appears anywhere in the retrieved pack, and a name->file map is the
// entire shape the original's upd_driver_dir needs.
type Driver struct {
	registry *file.Registry
}

// New constructs a directory driver bound to the registry it creates
// NEW/NEWDIR children against.
func New(registry *file.Registry) *Driver {
	return &Driver{registry: registry}
}

func (d *Driver) Name() string { return Name }

func (d *Driver) Init(f *file.File) error {
	f.Param = &state{children: make(map[string]*file.File)}
	return nil
}

func (d *Driver) Deinit(f *file.File) {
	st := f.Param.(*state)
	for _, child := range st.children {
		d.registry.Unref(child) //nolint:errcheck // best-effort on teardown
	}
}

func (d *Driver) Categories() []req.Category { return []req.Category{req.CategoryDirectory} }
func (d *Driver) ABIVersion() int            { return 1 }

func (d *Driver) Handle(r *req.Request) bool {
	if r.Category != req.CategoryDirectory {
		r.Result = req.ResultInvalid
		return false
	}
	st := r.File.Param.(*state)

	switch r.Dir.Op {
	case req.DirList:
		return d.handleList(r, st)
	case req.DirFind:
		return d.handleFind(r, st)
	case req.DirAdd:
		return d.handleAdd(r, st)
	case req.DirNew:
		return d.handleNew(r, st, false)
	case req.DirNewDir:
		return d.handleNew(r, st, true)
	case req.DirRemove:
		return d.handleRemove(r, st)
	default:
		r.Result = req.ResultInvalid
		return false
	}
}

func (d *Driver) handleList(r *req.Request, st *state) bool {
	names := make([]string, 0, len(st.children))
	for name := range st.children {
		names = append(names, name)
	}
	sort.Strings(names)

	entries := make([]req.DirChild, 0, len(names))
	for _, name := range names {
		entries = append(entries, req.DirChild{Name: name, File: st.children[name]})
	}
	r.Dir.Entries = entries
	r.Result = req.ResultOK
	r.Callback(r)
	return true
}

func (d *Driver) handleFind(r *req.Request, st *state) bool {
	r.Dir.Entry = st.children[r.Dir.Name]
	r.Result = req.ResultOK
	r.Callback(r)
	return true
}

func (d *Driver) handleAdd(r *req.Request, st *state) bool {
	if r.Dir.Name == "" || r.Dir.Entry == nil {
		r.Result = req.ResultInvalid
		return false
	}
	if _, exists := st.children[r.Dir.Name]; exists {
		r.Result = req.ResultAborted
		return false
	}
	r.Dir.Entry.Ref()
	st.children[r.Dir.Name] = r.Dir.Entry
	r.Result = req.ResultOK
	r.Callback(r)
	return true
}

func (d *Driver) handleNew(r *req.Request, st *state, asDir bool) bool {
	if r.Dir.Name == "" {
		r.Result = req.ResultInvalid
		return false
	}
	if _, exists := st.children[r.Dir.Name]; exists {
		r.Result = req.ResultAborted
		return false
	}

	var child *file.File
	var err error
	if asDir {
		child, err = d.registry.New(New(d.registry))
	} else if r.Dir.Entry != nil {
		// Caller pre-selected a driver by constructing the file themselves
		// and passing it through Entry, same contract as ADD.
		child = r.Dir.Entry
	}
	if err != nil || child == nil {
		r.Result = req.ResultNomem
		return false
	}

	child.Ref()
	st.children[r.Dir.Name] = child
	r.Dir.Entry = child
	r.Result = req.ResultOK
	r.Callback(r)
	return true
}

func (d *Driver) handleRemove(r *req.Request, st *state) bool {
	child, exists := st.children[r.Dir.Name]
	if !exists {
		r.Result = req.ResultAborted
		return false
	}
	delete(st.children, r.Dir.Name)
	d.registry.Unref(child) //nolint:errcheck // RM's own cleanup failure isn't actionable by the caller
	r.Result = req.ResultOK
	r.Callback(r)
	return true
}
