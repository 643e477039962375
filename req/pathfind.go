package req

import (
	"strings"

	"github.com/reactorfs/upd/file"
	"github.com/reactorfs/upd/lock"
)

// Pathfind is the hierarchical directory resolver from spec.md §4.5, ported
// from original_source/src/req.c's pathfind_/pathfind_lock_cb_/
// pathfind_find_cb_/pathfind_add_cb_ callback chain onto Go closures bound
// to *Pathfind methods instead of void* udata casts.
type Pathfind struct {
	registry  *file.Registry
	manager   *lock.Manager
	root      *file.File
	dirDriver file.Driver // used to create intermediate directories when Create is set

	// Base and Path are mutated as resolution descends; once Callback runs,
	// Base holds the final (possibly partial) resolution and Path holds the
	// unresolved remainder (empty on full success).
	Base   *file.File
	Path   string
	Create bool

	Callback func(pf *Pathfind)
	UserData any

	seg        string
	lockedFile *file.File
	entry      *lock.Entry
}

// NewPathfind constructs a resolver. base may be nil, meaning "start at
// root"; an absolute path (leading '/') always rebinds to root regardless
// of base.
func NewPathfind(
	registry *file.Registry,
	manager *lock.Manager,
	root *file.File,
	dirDriver file.Driver,
	base *file.File,
	path string,
	create bool,
	cb func(pf *Pathfind),
) *Pathfind {
	if strings.HasPrefix(path, "/") {
		base = nil
	}
	if base == nil {
		base = root
	}
	return &Pathfind{
		registry:  registry,
		manager:   manager,
		root:      root,
		dirDriver: dirDriver,
		Base:      base,
		Path:      path,
		Create:    create,
		Callback:  cb,
	}
}

// Start begins (or resumes) resolution.
func (pf *Pathfind) Start() {
	pf.step()
}

func (pf *Pathfind) step() {
	for len(pf.Path) > 0 && pf.Path[0] == '/' {
		pf.Path = pf.Path[1:]
	}
	term := strings.IndexByte(pf.Path, '/')
	if term < 0 {
		term = len(pf.Path)
	}
	pf.seg = pf.Path[:term]

	if pf.Base == nil {
		pf.Base = pf.root
	}
	if pf.Path == "" {
		pf.Callback(pf)
		return
	}

	pf.lockedFile = pf.Base
	pf.entry = &lock.Entry{
		File:     pf.Base,
		Mode:     lock.Shared,
		Manual:   true,
		Callback: pf.onLock,
	}
	pf.manager.Acquire(pf.entry)
}

func (pf *Pathfind) onLock(e *lock.Entry) {
	if !e.OK() {
		pf.Callback(pf)
		return
	}

	r := &Request{
		File:     pf.Base,
		Category: CategoryDirectory,
		Dir:      &DirPayload{Op: DirFind, Name: pf.seg},
		Callback: pf.onFind,
	}
	if !Dispatch(r) {
		pf.releaseLock()
		pf.Callback(pf)
	}
}

func (pf *Pathfind) onFind(r *Request) {
	if r.Dir.Entry == nil {
		if pf.Create {
			newDir, err := pf.registry.New(pf.dirDriver)
			if err == nil {
				addReq := &Request{
					File:     pf.Base,
					Category: CategoryDirectory,
					Dir:      &DirPayload{Op: DirAdd, Name: pf.seg, Entry: newDir},
					Callback: pf.onAdd,
				}
				accepted := Dispatch(addReq)
				pf.registry.Unref(newDir) //nolint:errcheck // mirrors upd_file_unref(f) dropping the creation ref unconditionally
				if accepted {
					return
				}
			}
		}
		pf.releaseLock()
		pf.Callback(pf)
		return
	}

	pf.releaseLock()
	pf.descend(r.Dir.Entry)
}

func (pf *Pathfind) onAdd(r *Request) {
	pf.releaseLock()
	if r.Dir.Entry == nil {
		pf.Callback(pf)
		return
	}
	pf.descend(r.Dir.Entry)
}

func (pf *Pathfind) descend(next *file.File) {
	pf.Base = next
	pf.Path = pf.Path[len(pf.seg):]
	pf.step()
}

func (pf *Pathfind) releaseLock() {
	if pf.entry == nil {
		return
	}
	pf.manager.Queue(pf.lockedFile).Release(pf.entry)
	pf.entry = nil
}
