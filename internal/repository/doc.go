// Package repository maps brooks onto documents of a docdb.Container and
// implements the storage half of the two-phase append.
//
// Every brook is one partition (partition key = "type|id") holding:
//   - "cursor": committed head {position, originalPosition}
//   - "cursor-pending": in-flight append {currentCursor, finalPosition}
//   - "e{position:020d}": one event document per position
//
// Event ids are zero-padded so id order equals position order and range
// queries never see cursor documents.
package repository
