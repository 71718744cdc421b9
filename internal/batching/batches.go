package batching

import (
	"iter"

	"github.com/rzbill/brook/internal/brook"
)

// Limits bounds a single batch.
type Limits struct {
	MaxEvents int
	MaxBytes  int64
}

func (l Limits) validate() error {
	if l.MaxEvents <= 0 {
		return brook.InvalidArgument("max events per batch must be positive, got %d", l.MaxEvents)
	}
	if l.MaxBytes <= BatchOverhead {
		return brook.InvalidArgument("max batch size %d must exceed the batch overhead %d", l.MaxBytes, BatchOverhead)
	}
	return nil
}

// Batches splits events greedily into order-preserving batches within
// limits. An event that cannot fit any batch ends the sequence with an
// EventTooLarge error.
func Batches(events []brook.Event, limits Limits) iter.Seq2[[]brook.Event, error] {
	return func(yield func([]brook.Event, error) bool) {
		if err := limits.validate(); err != nil {
			yield(nil, err)
			return
		}
		capacity := limits.MaxBytes - BatchOverhead
		var cur []brook.Event
		size := int64(BatchOverhead)
		for i, e := range events {
			n := EstimateEventSize(e)
			if n > capacity {
				err := brook.NewError(brook.KindEventTooLarge, nil,
					"event %d (id %q) is estimated at %d bytes, batch capacity is %d", i, e.ID, n, capacity)
				yield(nil, err)
				return
			}
			if len(cur) > 0 && (len(cur)+1 > limits.MaxEvents || size+n > limits.MaxBytes) {
				if !yield(cur, nil) {
					return
				}
				cur = nil
				size = BatchOverhead
			}
			cur = append(cur, e)
			size += n
		}
		if len(cur) > 0 {
			yield(cur, nil)
		}
	}
}

// CreateSizeLimitedBatches materializes Batches. No batches are returned
// when any event is too large.
func CreateSizeLimitedBatches(events []brook.Event, maxEvents int, maxBytes int64) ([][]brook.Event, error) {
	var out [][]brook.Event
	for b, err := range Batches(events, Limits{MaxEvents: maxEvents, MaxBytes: maxBytes}) {
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}
