// Package config loads an upd.yml manifest, grounded on
// original_source/src/config.c: a YAML document with optional "import",
// "driver", and "file" top-level blocks, used to bootstrap a machine's
// directory tree before its event loop starts serving requests. Uses
// gopkg.in/yaml.v3, matching SPEC_FULL.md §7's configuration stack.
package config

import (
	"fmt"
	"os"
	"path"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/reactorfs/upd/driver"
	"github.com/reactorfs/upd/file"
	"github.com/reactorfs/upd/lock"
	"github.com/reactorfs/upd/req"
)

// ManifestFile is the conventional filename upd_config_load's CONFIG_FILE_
// macro hardcodes.
const ManifestFile = "upd.yml"

// Features gates which top-level blocks a manifest may use, mirroring the
// original's UPD_CONFIG_IMPORT/DRIVER/FILE/SECURE flags: an imported
// manifest is always loaded with FeatureSecure (import disallowed,
// external driver loading disallowed) to block a malicious nested manifest
// from pulling in further arbitrary files or code.
type Features int

const (
	FeatureImport Features = 1 << iota
	FeatureDriver
	FeatureFile
)

// FeatureAll is the permission set for a manifest loaded directly by the
// operator (as opposed to one pulled in via "import").
const FeatureAll = FeatureImport | FeatureDriver | FeatureFile

// FeatureSecure is what an imported manifest is downgraded to.
const FeatureSecure = FeatureFile

// manifest is the raw YAML shape; Driver and File are left as yaml.Node so
// a "file" entry's polymorphic scalar/mapping/sequence shape (see
// buildFile) can be resolved after unmarshalling, the same deferred-typing
// the original does by walking yaml_node_t variants directly.
type manifest struct {
	Import []string             `yaml:"import"`
	Driver []string             `yaml:"driver"`
	File   map[string]yaml.Node `yaml:"file"`
}

// Loader walks manifests into a running machine's file tree.
type Loader struct {
	Registry  *file.Registry
	Manager   *lock.Manager
	Table     *driver.Table
	Host      driver.Host
	Root      *file.File
	DirDriver file.Driver

	// Msg receives diagnostic lines, matching config_logf_/config_lognf_'s
	// "config error: ... (path)" funnel into upd_iso_msgf. If nil, lines go
	// to Host.Iso().Msg, and are dropped when Host is nil too.
	Msg func(format string, args ...any)
}

func (l *Loader) msgf(format string, args ...any) {
	if l.Msg != nil {
		l.Msg(format, args...)
		return
	}
	if l.Host != nil {
		l.Host.Iso().Msg(format, args...)
	}
}

// Load reads dir/upd.yml (directory, not file path — matching
// upd_config_load's cwk_path_join(path, CONFIG_FILE_, ...)) with the given
// feature set and applies it to the loader's file tree.
func (l *Loader) Load(dir string, feats Features) error {
	fpath := path.Join(dir, ManifestFile)

	data, err := os.ReadFile(fpath)
	if err != nil {
		l.msgf("config error: stat/open failure (%s)", fpath)
		return err
	}

	var m manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		l.msgf("config error: yaml parse failure (%s)", fpath)
		return err
	}

	if len(m.Import) > 0 && feats&FeatureImport == 0 {
		l.msgf("config error: 'import' block is not allowed in this context (%s)", fpath)
	} else {
		for _, imp := range m.Import {
			importDir := imp
			if !path.IsAbs(importDir) {
				importDir = path.Join(dir, importDir)
			}
			if err := l.Load(importDir, FeatureSecure); err != nil {
				l.msgf("config error: import failed: %s (%s)", importDir, fpath)
			}
		}
	}

	if len(m.Driver) > 0 && feats&FeatureDriver == 0 {
		l.msgf("config error: 'driver' block is not allowed in this context (%s)", fpath)
	} else {
		for _, dpath := range m.Driver {
			// External (dynamically loaded) drivers are the original's
			// dlopen-based plug-in loading (upd_driver_load_external); Go has
			// no portable equivalent that fits this runtime's in-process
			// driver.Table registration model, so this is reported rather
			// than performed. See DESIGN.md for the substitution rationale.
			l.msgf("config error: external driver loading is not supported: %s (%s)", dpath, fpath)
		}
	}

	if len(m.File) > 0 && feats&FeatureFile == 0 {
		l.msgf("config error: 'file' block is not allowed in this context (%s)", fpath)
	} else {
		for p, node := range m.File {
			if err := l.loadFileEntry(dir, fpath, p, &node); err != nil {
				l.msgf("config error: %v (%s:%s)", err, fpath, p)
			}
		}
	}

	return nil
}

func (l *Loader) loadFileEntry(baseDir, fpath, rawPath string, node *yaml.Node) error {
	p := strings.TrimSuffix(rawPath, "/")
	if p == "" {
		return fmt.Errorf("empty path")
	}
	if !strings.HasPrefix(p, "/") {
		return fmt.Errorf("path must start with '/'")
	}

	dir, name := path.Split(p)
	if name == "" {
		return fmt.Errorf("empty path")
	}

	var resolved *file.File
	var remainder string
	pf := req.NewPathfind(l.Registry, l.Manager, l.Root, l.DirDriver, nil, dir, true, func(pf *req.Pathfind) {
		resolved = pf.Base
		remainder = pf.Path
	})
	pf.Start()

	if remainder != "" || resolved == nil {
		return fmt.Errorf("failed to build directory tree for %q", dir)
	}

	entry := &lock.Entry{File: resolved, Mode: lock.Exclusive, Manual: true}
	var lockOK bool
	entry.Callback = func(e *lock.Entry) { lockOK = e.OK() }
	l.Manager.Acquire(entry)
	if !lockOK {
		return fmt.Errorf("lock failure while adding file %q", name)
	}
	defer l.Manager.Queue(resolved).Release(entry)

	child, err := l.buildFile(baseDir, fpath, node)
	if err != nil {
		return err
	}

	var addOK bool
	addReq := &req.Request{
		File:     resolved,
		Category: req.CategoryDirectory,
		Dir:      &req.DirPayload{Op: req.DirAdd, Name: name, Entry: child},
		Callback: func(r *req.Request) { addOK = r.Result == req.ResultOK },
	}
	ok := req.Dispatch(addReq)
	l.Registry.Unref(child) //nolint:errcheck // matches upd_file_unref(f) right after the add request fires
	if !ok || !addOK {
		return fmt.Errorf("add request failed for %q", name)
	}
	return nil
}

// buildFile is the Go rendering of config_create_file_'s switch on a YAML
// node's kind: a bare scalar names a driver directly; a mapping carries
// npath/param/driver fields (driver selects the recursive base case,
// npath/param are stamped onto the resulting file once built). The
// original also supports a sequence node chaining drivers through a
// generic "backend" field every upd_file_t carries; no driver in this
// package models a comparable backend-indirection slot (file.File.Param
// is each driver's own private state, not a generic wrapper target), so a
// sequence here builds each item in order and keeps only the last —
// documented as a deliberate simplification in DESIGN.md rather than
// threading a field no driver reads.
func (l *Loader) buildFile(baseDir, fpath string, node *yaml.Node) (*file.File, error) {
	switch node.Kind {
	case yaml.ScalarNode:
		name := node.Value
		d, ok := l.Table.Lookup(name)
		if !ok {
			return nil, fmt.Errorf("driver %q not found", name)
		}
		return l.Registry.New(d)

	case yaml.MappingNode:
		var npathNode, paramNode, driverNode *yaml.Node
		for i := 0; i+1 < len(node.Content); i += 2 {
			key := node.Content[i]
			val := node.Content[i+1]
			switch key.Value {
			case "npath":
				npathNode = val
			case "param":
				paramNode = val
			case "driver":
				driverNode = val
			default:
				return nil, fmt.Errorf("invalid field %q", key.Value)
			}
		}
		if driverNode == nil {
			return nil, fmt.Errorf("missing required field 'driver'")
		}
		f, err := l.buildFile(baseDir, fpath, driverNode)
		if err != nil {
			return nil, err
		}
		if npathNode != nil {
			// npath names a native-filesystem path for drivers that mirror
			// host files (the original's syncdir/syncfile family). No driver
			// in this package touches the native filesystem, so there is
			// nowhere to route it; recorded only as a diagnostic.
			npath := npathNode.Value
			if !path.IsAbs(npath) {
				npath = path.Join(baseDir, npath)
			}
			l.msgf("config: npath %q ignored, no native-backed driver registered (%s)", npath, fpath)
		}
		if paramNode != nil {
			// param becomes the file's MimeType, the one per-driver hint
			// this package's drivers actually read (drivers/doc's codec
			// selection, drivers/script's source-name tag).
			f.MimeType = paramNode.Value
		}
		return f, nil

	case yaml.SequenceNode:
		if len(node.Content) == 0 {
			return nil, fmt.Errorf("empty sequence")
		}
		var f *file.File
		for _, item := range node.Content {
			next, err := l.buildFile(baseDir, fpath, item)
			if f != nil {
				l.Registry.Unref(f) //nolint:errcheck // backend chaining collapses to the outermost driver; see func doc
			}
			if err != nil {
				return nil, err
			}
			f = next
		}
		return f, nil

	default:
		return nil, fmt.Errorf("expected scalar, map, or sequence")
	}
}
