package reader

import (
	"context"
	"iter"
	"sync"

	"github.com/rzbill/brook/internal/brook"
	"github.com/rzbill/brook/internal/telemetry"
)

// Options configures a RangeReader.
type Options struct {
	SliceSize int64
	// PageSize is the store page size used to fill a slice.
	PageSize  int
	Telemetry *telemetry.Telemetry
}

// RangeReader reads arbitrary ranges by delegating to per-slice readers.
type RangeReader struct {
	src  Source
	opts Options
	tel  *telemetry.Telemetry

	mu     sync.Mutex
	slices map[brook.RangeKey]*SliceReader
}

// NewRangeReader returns a RangeReader over src.
func NewRangeReader(src Source, opts Options) *RangeReader {
	if opts.SliceSize <= 0 {
		opts.SliceSize = 100
	}
	if opts.PageSize <= 0 {
		opts.PageSize = 100
	}
	tel := opts.Telemetry
	if tel == nil {
		tel = telemetry.Noop()
	}
	return &RangeReader{src: src, opts: opts, tel: tel, slices: make(map[brook.RangeKey]*SliceReader)}
}

// SliceSize returns the configured slice size.
func (r *RangeReader) SliceSize() int64 { return r.opts.SliceSize }

// Slice returns the shared reader for rk.
func (r *RangeReader) Slice(rk brook.RangeKey) *SliceReader {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.slices[rk]
	if !ok {
		s = NewSliceReader(rk, r.src, r.opts.PageSize)
		r.slices[rk] = s
	}
	return s
}

// CachedSlices returns the number of slice readers held.
func (r *RangeReader) CachedSlices() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.slices)
}

// Forget drops the cached slices of key.
func (r *RangeReader) Forget(key brook.Key) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for rk := range r.slices {
		if rk.Key == key {
			delete(r.slices, rk)
		}
	}
}

// ReadOption adjusts a single read.
type ReadOption func(*readConfig)

type readConfig struct {
	filter Filter
}

// WithFilter keeps only events matching f.
func WithFilter(f Filter) ReadOption {
	return func(c *readConfig) { c.filter = f }
}

// Stream yields the events of key in [from, to] in order. A nil from reads
// from 0, a nil to reads up to the recovered head.
func (r *RangeReader) Stream(ctx context.Context, key brook.Key, from, to *brook.Position, opts ...ReadOption) iter.Seq2[brook.PositionedEvent, error] {
	var cfg readConfig
	for _, o := range opts {
		o(&cfg)
	}
	return func(yield func(brook.PositionedEvent, error) bool) {
		if err := key.Validate(); err != nil {
			yield(brook.PositionedEvent{}, err)
			return
		}
		ctx, span := r.tel.Start(ctx, "brook.read", key)
		var err error
		n := 0
		defer func() {
			r.tel.Read(ctx, key, n)
			telemetry.End(span, err)
		}()

		head, err := r.src.Head(ctx, key)
		if err != nil {
			yield(brook.PositionedEvent{}, err)
			return
		}
		start, end := brook.Position(0), head-1
		if from != nil {
			start = *from
		}
		if to != nil {
			end = *to
		}
		if to == nil && end < start {
			return
		}
		buckets, err := SplitRange(int64(start), int64(end), r.opts.SliceSize)
		if err != nil {
			yield(brook.PositionedEvent{}, err)
			return
		}
		for _, b := range buckets {
			if b.From >= int64(head) {
				return
			}
			rk := brook.RangeKey{Key: key, Start: b.Start, Size: r.opts.SliceSize}
			for pe, serr := range r.Slice(rk).streamAt(ctx, head, brook.Position(b.From), brook.Position(b.To)) {
				if serr != nil {
					err = serr
					yield(brook.PositionedEvent{}, serr)
					return
				}
				if !cfg.filter.Match(pe) {
					continue
				}
				n++
				if !yield(pe, nil) {
					return
				}
			}
		}
	}
}

// Read drains Stream.
func (r *RangeReader) Read(ctx context.Context, key brook.Key, from, to *brook.Position, opts ...ReadOption) ([]brook.PositionedEvent, error) {
	return collect(r.Stream(ctx, key, from, to, opts...))
}

// StreamSlice yields every event of rk below the recovered head.
func (r *RangeReader) StreamSlice(ctx context.Context, rk brook.RangeKey) iter.Seq2[brook.PositionedEvent, error] {
	if rk.Size != r.opts.SliceSize || rk.Start%rk.Size != 0 {
		// Not one of our slices; read it as a plain range.
		from, to := brook.Position(rk.Start), brook.Position(rk.End())
		return r.Stream(ctx, rk.Key, &from, &to)
	}
	return r.Slice(rk).Stream(ctx, brook.Position(rk.Start), brook.Position(rk.End()))
}
