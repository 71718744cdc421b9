package reader

import "github.com/rzbill/brook/internal/brook"

// Bucket is one slice touched by a read, with the read clamped to it.
type Bucket struct {
	ID    int64
	Start int64 // first position of the slice
	From  int64 // first position read
	To    int64 // last position read, inclusive
}

// SplitRange splits [start, end] into slice buckets of sliceSize.
func SplitRange(start, end, sliceSize int64) ([]Bucket, error) {
	if sliceSize <= 0 {
		return nil, brook.InvalidArgument("slice size must be positive, got %d", sliceSize)
	}
	if start < 0 || start > end {
		return nil, brook.InvalidArgument("invalid range [%d, %d]", start, end)
	}
	first, last := start/sliceSize, end/sliceSize
	out := make([]Bucket, 0, last-first+1)
	for id := first; id <= last; id++ {
		bs := id * sliceSize
		out = append(out, Bucket{
			ID:    id,
			Start: bs,
			From:  max(bs, start),
			To:    min(bs+sliceSize-1, end),
		})
	}
	return out, nil
}
