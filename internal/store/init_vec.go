package store

import (
	vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
)

func init() {
	// Register sqlite-vec with the go-sqlite3 driver as an auto-loadable
	// extension: vec0 virtual tables and vec_distance_cosine.
	vec.Auto()
}
