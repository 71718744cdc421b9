package docdb

import "encoding/binary"

// Keyspace helpers for Pebble keys.
//
// Partition keys are length-prefixed so that arbitrary bytes (including '/')
// cannot bleed into the item segment:
//   - db/{database}/c/{container}/meta
//   - db/{database}/c/{container}/p/{len_be4}{pk}/i/{id}

var (
	dbPrefix   = []byte("db/")
	contSeg    = []byte("/c/")
	metaSuffix = []byte("/meta")
	partSeg    = []byte("/p/")
	itemSeg    = []byte("/i/")
)

func appendBE4(dst []byte, v uint32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return append(dst, b[:]...)
}

func containerPrefix(database, container string) []byte {
	k := make([]byte, 0, len(database)+len(container)+8)
	k = append(k, dbPrefix...)
	k = append(k, database...)
	k = append(k, contSeg...)
	k = append(k, container...)
	return k
}

// keyContainerMeta builds the container metadata key.
func keyContainerMeta(database, container string) []byte {
	return append(containerPrefix(database, container), metaSuffix...)
}

// keyItemPrefix builds the prefix shared by all items of one partition.
func keyItemPrefix(database, container, pk string) []byte {
	k := containerPrefix(database, container)
	k = append(k, partSeg...)
	k = appendBE4(k, uint32(len(pk)))
	k = append(k, pk...)
	k = append(k, itemSeg...)
	return k
}

// keyItem builds the key of a single item.
func keyItem(database, container, pk, id string) []byte {
	return append(keyItemPrefix(database, container, pk), id...)
}
