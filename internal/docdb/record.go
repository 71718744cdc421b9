package docdb

import (
	"encoding/binary"
	"hash/crc32"
)

// Record encoding: varint etagLen | etag | body | crc32c(etag|body)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

func encodeRecord(etag string, body []byte) []byte {
	out := make([]byte, 0, 10+len(etag)+len(body)+4)
	var tmp [10]byte
	n := binary.PutUvarint(tmp[:], uint64(len(etag)))
	out = append(out, tmp[:n]...)
	out = append(out, etag...)
	out = append(out, body...)

	crc := crc32.Update(0, castagnoli, []byte(etag))
	crc = crc32.Update(crc, castagnoli, body)
	var crcb [4]byte
	binary.BigEndian.PutUint32(crcb[:], crc)
	return append(out, crcb[:]...)
}

func decodeRecord(b []byte) (etag string, body []byte, ok bool) {
	if len(b) < 1+4 {
		return "", nil, false
	}
	elen, n := binary.Uvarint(b)
	if n <= 0 || int(n)+int(elen)+4 > len(b) {
		return "", nil, false
	}
	e := b[n : n+int(elen)]
	body = b[n+int(elen) : len(b)-4]
	crc := crc32.Update(0, castagnoli, e)
	crc = crc32.Update(crc, castagnoli, body)
	if crc != binary.BigEndian.Uint32(b[len(b)-4:]) {
		return "", nil, false
	}
	return string(e), append([]byte(nil), body...), true
}
