// Package driver implements the plug-in boundary described in spec.md
// §4.6: a versioned registration table and a Host interface translating
// the original's table of host function pointers into Go interface
// methods grouped by namespace (iso/driver/file), matching the grouping
// spec.md itself describes.
package driver

import (
	"github.com/reactorfs/upd/file"
	"github.com/reactorfs/upd/req"
)

// ABIVersion is bumped whenever the Host interface's method set changes in
// a way that could break an out-of-tree driver; Table.Register rejects any
// driver declaring a different version, mirroring the original's
// version-tag check at load time.
const ABIVersion = 1

// Driver is the full contract a concrete driver package implements:
// file.Driver's lifecycle (Init/Deinit), req.Handler's request dispatch,
// plus the category/version metadata the original's upd_driver_t struct
// carries alongside its function pointers.
type Driver interface {
	file.Driver
	req.Handler

	// Categories lists the request categories this driver accepts,
	// mirroring the original's cats array; Table does not consult it,
	// dispatch always goes through req.Dispatch.
	Categories() []req.Category

	// ABIVersion must equal the package constant of the same name for
	// Table.Register to accept the driver.
	ABIVersion() int
}
