// Package docdb is the document-database surface the Brook engine consumes,
// plus a local implementation of it over Pebble.
//
// The surface mirrors a partitioned document store: items are JSON bodies
// addressed by (partition key, id), every write returns a fresh ETag, and
// conditional writes use IfMatch. A TransactionalBatch groups operations on a
// single partition key and commits them atomically or not at all. Failures
// are reported as *StatusError carrying an HTTP-style status code so callers
// can tell throttling (429), unavailability (503) and timeouts (408/504)
// apart from conflicts (409/412) and permanent errors (400/404/413).
//
// # Keyspace
//
//	db/{database}/c/{container}/meta                           container metadata
//	db/{database}/c/{container}/p/{len_be4}{pk}/i/{id}          items
//
// Item values are framed as varint etagLen | etag | body | crc32c.
package docdb
