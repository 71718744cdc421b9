package docdb

import (
	"context"
	"sync"
)

// Operation names used by FaultyContainer.
const (
	CallRead   = "read"
	CallCreate = "create"
	CallUpsert = "upsert"
	CallDelete = "delete"
	CallBatch  = "batch"
	CallQuery  = "query"
)

// FaultyContainer wraps a Container, failing calls with queued errors and
// counting every call. It is used to exercise retry and recovery paths.
type FaultyContainer struct {
	Inner Container

	mu     sync.Mutex
	faults map[string][]error
	calls  map[string]int
	// BeforeBatch, when set, runs before a batch reaches Inner.
	BeforeBatch func(*TransactionalBatch)
	// AfterBatch, when set, sees the result from Inner and may replace it.
	// Returning an error after a successful commit simulates a lost response.
	AfterBatch func(*TransactionalBatch, error) error
}

var _ Container = (*FaultyContainer)(nil)

// NewFaultyContainer wraps inner.
func NewFaultyContainer(inner Container) *FaultyContainer {
	return &FaultyContainer{Inner: inner, faults: map[string][]error{}, calls: map[string]int{}}
}

// Inject queues errs for the named operation; each call pops one.
func (f *FaultyContainer) Inject(op string, errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.faults[op] = append(f.faults[op], errs...)
}

// Calls returns how many times op was invoked.
func (f *FaultyContainer) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

// Writes returns the number of mutating calls.
func (f *FaultyContainer) Writes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[CallCreate] + f.calls[CallUpsert] + f.calls[CallDelete] + f.calls[CallBatch]
}

// ResetCalls zeroes the call counters.
func (f *FaultyContainer) ResetCalls() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = map[string]int{}
}

func (f *FaultyContainer) next(op string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[op]++
	q := f.faults[op]
	if len(q) == 0 {
		return nil
	}
	f.faults[op] = q[1:]
	return q[0]
}

func (f *FaultyContainer) ReadItem(ctx context.Context, pk, id string) (Item, error) {
	if err := f.next(CallRead); err != nil {
		return Item{}, err
	}
	return f.Inner.ReadItem(ctx, pk, id)
}

func (f *FaultyContainer) CreateItem(ctx context.Context, pk, id string, body []byte) (Item, error) {
	if err := f.next(CallCreate); err != nil {
		return Item{}, err
	}
	return f.Inner.CreateItem(ctx, pk, id, body)
}

func (f *FaultyContainer) UpsertItem(ctx context.Context, pk, id string, body []byte, opts *ItemOptions) (Item, error) {
	if err := f.next(CallUpsert); err != nil {
		return Item{}, err
	}
	return f.Inner.UpsertItem(ctx, pk, id, body, opts)
}

func (f *FaultyContainer) DeleteItem(ctx context.Context, pk, id string, opts *ItemOptions) error {
	if err := f.next(CallDelete); err != nil {
		return err
	}
	return f.Inner.DeleteItem(ctx, pk, id, opts)
}

func (f *FaultyContainer) ExecuteBatch(ctx context.Context, batch *TransactionalBatch) error {
	if err := f.next(CallBatch); err != nil {
		return err
	}
	if f.BeforeBatch != nil {
		f.BeforeBatch(batch)
	}
	err := f.Inner.ExecuteBatch(ctx, batch)
	if f.AfterBatch != nil {
		err = f.AfterBatch(batch, err)
	}
	return err
}

func (f *FaultyContainer) QueryItems(ctx context.Context, pk string, q RangeQuery) (Page, error) {
	if err := f.next(CallQuery); err != nil {
		return Page{}, err
	}
	return f.Inner.QueryItems(ctx, pk, q)
}

// Throttled returns a 429 with the given retry-after hint.
func Throttled(op string, retryAfter int64) *StatusError {
	se := newStatus(StatusTooManyRequests, op, "request rate is large")
	se.RetryAfter = msDuration(retryAfter)
	return se
}

// Unavailable returns a 503.
func Unavailable(op string) *StatusError {
	return newStatus(StatusServiceUnavailable, op, "service unavailable")
}

// WithStatus returns a StatusError with an arbitrary code.
func WithStatus(code int, op, msg string) *StatusError {
	return newStatus(code, op, "%s", msg)
}
