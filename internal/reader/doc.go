// Package reader serves ordered range reads over brooks.
//
// A read range is split into fixed-size slices. Each slice is backed by a
// SliceReader whose cache is an immutable, append-only snapshot: growing it
// copies into a new slice and swaps a pointer, so readers never observe a
// partially filled cache and concurrent fills are safe to repeat. A
// single-flight guard keeps concurrent readers of the same slice down to one
// store query.
package reader
