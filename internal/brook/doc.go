// Package brook defines the addressing types, event envelope and error
// taxonomy shared by the Brook storage engine.
//
// A brook is one append-only event stream identified by a Key ("type|id").
// Positions are zero-based and gapless; the head position of a brook equals
// the number of durably appended events. A RangeKey names a fixed-size slice
// [Start, Start+Size) of a brook and is the unit of read caching.
package brook
