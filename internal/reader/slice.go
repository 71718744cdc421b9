package reader

import (
	"context"
	"iter"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/rzbill/brook/internal/brook"
)

// Source is what readers need from storage.
type Source interface {
	// Head returns the recovered head of key.
	Head(ctx context.Context, key brook.Key) (brook.Position, error)
	// QueryEvents streams the events at [start, end] in order.
	QueryEvents(ctx context.Context, key brook.Key, start, end brook.Position, pageSize int) iter.Seq2[brook.PositionedEvent, error]
}

// SliceReader reads one slice of a brook through a lazily filled cache.
type SliceReader struct {
	rk       brook.RangeKey
	src      Source
	pageSize int

	cache atomic.Pointer[[]brook.PositionedEvent]
	fills atomic.Int64
	// target is the event count the next fill covers.
	target atomic.Int64
	group  singleflight.Group
}

// NewSliceReader returns a reader for rk.
func NewSliceReader(rk brook.RangeKey, src Source, pageSize int) *SliceReader {
	return &SliceReader{rk: rk, src: src, pageSize: pageSize}
}

// RangeKey returns the slice this reader covers.
func (s *SliceReader) RangeKey() brook.RangeKey { return s.rk }

// Fills returns how many store queries populated the cache.
func (s *SliceReader) Fills() int64 { return s.fills.Load() }

func (s *SliceReader) snapshot() []brook.PositionedEvent {
	if p := s.cache.Load(); p != nil {
		return *p
	}
	return nil
}

// wanted is the number of events the slice holds under head.
func (s *SliceReader) wanted(head brook.Position) int64 {
	return min(s.rk.Size, max(0, int64(head)-s.rk.Start))
}

// load returns a cache snapshot covering everything below head, querying
// the store only for positions not cached yet. Concurrent callers share one
// fill at a time; a caller whose head moved past what that fill covered
// waits for the next one.
func (s *SliceReader) load(ctx context.Context, head brook.Position) ([]brook.PositionedEvent, error) {
	want := s.wanted(head)
	for {
		if cached := s.snapshot(); int64(len(cached)) >= want {
			return cached, nil
		}
		s.raiseTarget(want)
		ch := s.group.DoChan("fill", func() (any, error) {
			return s.fill(context.WithoutCancel(ctx))
		})
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case res := <-ch:
			if res.Err != nil {
				return nil, res.Err
			}
		}
	}
}

func (s *SliceReader) raiseTarget(want int64) {
	for {
		cur := s.target.Load()
		if cur >= want || s.target.CompareAndSwap(cur, want) {
			return
		}
	}
}

// fill grows the cache up to the largest count any caller asked for.
func (s *SliceReader) fill(ctx context.Context) ([]brook.PositionedEvent, error) {
	target := s.target.Load()
	cached := s.snapshot()
	if int64(len(cached)) >= target {
		return cached, nil
	}
	fail := func(err error) ([]brook.PositionedEvent, error) {
		s.target.CompareAndSwap(target, int64(len(cached)))
		return nil, err
	}
	missing := func(n int) error {
		at := s.rk.Start + int64(n)
		return brook.NewError(brook.KindNonTransientStorage, nil,
			"event missing at position %d", at).WithKey(s.rk.Key, brook.Position(at))
	}

	from := s.rk.Start + int64(len(cached))
	to := s.rk.Start + target - 1
	grown := make([]brook.PositionedEvent, len(cached), target)
	copy(grown, cached)
	s.fills.Add(1)
	for pe, err := range s.src.QueryEvents(ctx, s.rk.Key, brook.Position(from), brook.Position(to), s.pageSize) {
		if err != nil {
			return fail(err)
		}
		if int64(pe.Position) != s.rk.Start+int64(len(grown)) {
			return fail(missing(len(grown)))
		}
		grown = append(grown, pe)
	}
	if int64(len(grown)) < target {
		return fail(missing(len(grown)))
	}
	s.cache.Store(&grown)
	return grown, nil
}

// streamAt yields cached events in [from, to] given a known head.
func (s *SliceReader) streamAt(ctx context.Context, head, from, to brook.Position) iter.Seq2[brook.PositionedEvent, error] {
	return func(yield func(brook.PositionedEvent, error) bool) {
		events, err := s.load(ctx, head)
		if err != nil {
			yield(brook.PositionedEvent{}, err)
			return
		}
		for _, pe := range events {
			if pe.Position < from {
				continue
			}
			if pe.Position > to {
				return
			}
			if !yield(pe, nil) {
				return
			}
		}
	}
}

// Stream yields the slice's events in [from, to] up to the recovered head.
func (s *SliceReader) Stream(ctx context.Context, from, to brook.Position) iter.Seq2[brook.PositionedEvent, error] {
	return func(yield func(brook.PositionedEvent, error) bool) {
		head, err := s.src.Head(ctx, s.rk.Key)
		if err != nil {
			yield(brook.PositionedEvent{}, err)
			return
		}
		for pe, err := range s.streamAt(ctx, head, from, to) {
			if !yield(pe, err) || err != nil {
				return
			}
		}
	}
}

// Read drains Stream.
func (s *SliceReader) Read(ctx context.Context, from, to brook.Position) ([]brook.PositionedEvent, error) {
	return collect(s.Stream(ctx, from, to))
}

func collect(seq iter.Seq2[brook.PositionedEvent, error]) ([]brook.PositionedEvent, error) {
	var out []brook.PositionedEvent
	for pe, err := range seq {
		if err != nil {
			return nil, err
		}
		out = append(out, pe)
	}
	return out, nil
}
