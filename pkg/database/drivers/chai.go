package drivers

import (
	"database/sql"
	"database/sql/driver"

	sqlite "modernc.org/sqlite"
)

// init wires up the "chai" driver name so callers can request it via
// database/sql. The modernc SQLite backend serves it because Chai stores
// data in SQLite-compatible files, and sharing the implementation keeps
// the build CGO-free.
func init() {
	sql.Register("chai", newChaiDriver())
}

// newChaiDriver returns a driver.Driver backed by modernc SQLite. A helper
// keeps the registration logic explicit and testable in isolation.
func newChaiDriver() driver.Driver {
	return &sqlite.Driver{}
}
