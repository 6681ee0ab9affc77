//go:build cgo && duckdb && linux && (amd64 || arm64)

// DuckDB stays behind an explicit build tag so cross compilation is
// predictable and CGO remains optional.
// Build example:
//
//	CGO_ENABLED=1 go build -tags duckdb -o fittrail
package drivers

import (
	_ "github.com/marcboeker/go-duckdb"
)
