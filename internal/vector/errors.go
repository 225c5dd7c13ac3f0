package vector

import "errors"

var (
	// ErrBuild is returned when Build receives no vectors or vectors of mixed dimension.
	ErrBuild = errors.New("vector index build failed")
	// ErrNotBuilt is returned when Search is called before Build.
	ErrNotBuilt = errors.New("vector index not built")
	// ErrDimensionMismatch is returned when a query's length differs from the index dimension.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
	// ErrCorrupt is returned when decoding a serialized index fails.
	ErrCorrupt = errors.New("corrupt vector index data")
)
