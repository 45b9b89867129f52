// Package types holds the FlatBuffers tables generated from guardian.fbs.
//
// Regenerate with:
//
//	flatc --go --go-namespace types -o internal internal/types/guardian.fbs
package types
