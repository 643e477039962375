package driver

import (
	"errors"
	"strings"
)

// Errors returned by Table operations.
var (
	ErrNameCollision    = errors.New("driver: name already registered")
	ErrABIVersionMismatch = errors.New("driver: ABI version mismatch")
)

// Rule maps a file extension to the driver that should handle files with
// that extension, used by SelectByExtension (the Go analogue of
// upd_driver_select, consumed by a sync-directory-style driver that
// dispatches by file suffix).
type Rule struct {
	Ext    string
	Driver Driver
}

// Table is the per-Machine registry of available drivers, matching
// upd_iso_t.drivers: name-unique, linear-lookup (the original pack never
// has more than a handful of drivers registered, so a map here is already
// a strict improvement over its linear scan, not a behavior change).
type Table struct {
	byName map[string]Driver
	rules  []Rule
	onMsg  func(format string, args ...any)
}

// NewTable creates an empty table. onMsg, if non-nil, receives the same
// diagnostic text upd_driver_register emits via upd_iso_msgf on rejected
// registrations.
func NewTable(onMsg func(format string, args ...any)) *Table {
	return &Table{byName: make(map[string]Driver), onMsg: onMsg}
}

// Register adds d under d.Name(), rejecting a name collision or an
// ABIVersion mismatch exactly as upd_driver_register does.
func (t *Table) Register(d Driver) error {
	if d.ABIVersion() != ABIVersion {
		t.msgf("driver %q declares ABI version %d, host is %d\n", d.Name(), d.ABIVersion(), ABIVersion)
		return ErrABIVersionMismatch
	}
	if _, exists := t.byName[d.Name()]; exists {
		t.msgf("driver %q is already registered\n", d.Name())
		return ErrNameCollision
	}
	t.byName[d.Name()] = d
	return nil
}

func (t *Table) msgf(format string, args ...any) {
	if t.onMsg != nil {
		t.onMsg(format, args...)
	}
}

// Lookup finds a registered driver by name.
func (t *Table) Lookup(name string) (Driver, bool) {
	d, ok := t.byName[name]
	return d, ok
}

// AddRule registers an extension-to-driver mapping for SelectByExtension.
func (t *Table) AddRule(ext string, d Driver) {
	t.rules = append(t.rules, Rule{Ext: strings.TrimPrefix(ext, "."), Driver: d})
}

// SelectByExtension returns the driver whose rule matches path's extension,
// mirroring upd_driver_select's suffix match.
func (t *Table) SelectByExtension(path string) (Driver, bool) {
	ext := extensionOf(path)
	if ext == "" {
		return nil, false
	}
	for _, r := range t.rules {
		if r.Ext == ext {
			return r.Driver, true
		}
	}
	return nil, false
}

func extensionOf(path string) string {
	i := strings.LastIndexByte(path, '.')
	if i < 0 || i == len(path)-1 {
		return ""
	}
	slash := strings.LastIndexByte(path, '/')
	if slash > i {
		return ""
	}
	return path[i+1:]
}

// Names returns every registered driver name, for diagnostics and tests.
func (t *Table) Names() []string {
	names := make([]string, 0, len(t.byName))
	for name := range t.byName {
		names = append(names, name)
	}
	return names
}
