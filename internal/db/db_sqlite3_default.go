//go:build !sqlite3_cgo

package db

import (
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// The default build uses the wasm sqlite, so the CLI stays cgo free.
const (
	driverID   = "ncruces/go-sqlite3"
	driverName = "sqlite3"
)
