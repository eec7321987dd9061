//go:build sqlite_vec && cgo

package sqlite

import (
	vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
)

func init() {
	// Register the sqlite-vec extension with the mattn/go-sqlite3 driver.
	// vec.Auto() registers it as an auto-loadable extension. The portable
	// cosine scan in search.go remains the default; this build tag enables
	// vec0 virtual tables for large corpora.
	vec.Auto()
}
