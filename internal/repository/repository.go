package repository

import (
	"context"
	"encoding/json"
	"iter"
	"time"

	"github.com/rzbill/brook/internal/batching"
	"github.com/rzbill/brook/internal/brook"
	"github.com/rzbill/brook/internal/docdb"
	"github.com/rzbill/brook/internal/retry"
	logpkg "github.com/rzbill/brook/pkg/log"
)

// Options configures a Repository.
type Options struct {
	Retry retry.Policy
	// QueryBatchSize is the page size for range queries.
	QueryBatchSize int
	Logger         logpkg.Logger
	Now            func() time.Time
}

// Repository performs all document operations for brooks. Every call goes
// through the retry policy; optimistic concurrency failures surface as
// brook.ErrConcurrencyConflict and are never retried.
type Repository struct {
	c        docdb.Container
	retry    retry.Policy
	pageSize int
	logger   logpkg.Logger
	now      func() time.Time
}

// New returns a Repository over c.
func New(c docdb.Container, opts Options) *Repository {
	if opts.QueryBatchSize <= 0 {
		opts.QueryBatchSize = 100
	}
	if opts.Logger == nil {
		opts.Logger = logpkg.NewLogger().WithComponent("repository")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Retry.Logger == nil {
		opts.Retry.Logger = opts.Logger
	}
	return &Repository{c: c, retry: opts.Retry, pageSize: opts.QueryBatchSize, logger: opts.Logger, now: opts.Now}
}

// QueryBatchSize returns the configured page size.
func (r *Repository) QueryBatchSize() int { return r.pageSize }

func pk(key brook.Key) string { return key.String() }

func conflict(key brook.Key, pos brook.Position, err error, format string, args ...any) *brook.Error {
	e := brook.Conflict(key, pos, err, format, args...)
	e.Status = docdb.StatusCode(err)
	return e
}

func decodeFailure(key brook.Key, id string, err error) *brook.Error {
	return brook.NewError(brook.KindNonTransientStorage, err, "decode document %s", id).WithKey(key, brook.NoPosition)
}

func (r *Repository) readCursor(ctx context.Context, key brook.Key) (*Cursor, error) {
	it, err := r.c.ReadItem(ctx, pk(key), cursorID)
	if docdb.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var d cursorDoc
	if err := json.Unmarshal(it.Body, &d); err != nil {
		return nil, decodeFailure(key, cursorID, err)
	}
	c := &Cursor{Position: brook.Position(d.Position), ETag: it.ETag}
	if d.OriginalPosition != nil {
		op := brook.Position(*d.OriginalPosition)
		c.OriginalPosition = &op
	}
	return c, nil
}

func cursorBody(key brook.Key, pos brook.Position, original *brook.Position) []byte {
	d := cursorDoc{Type: docTypeCursor, StreamKey: key.String(), Position: int64(pos)}
	if original != nil {
		op := int64(*original)
		d.OriginalPosition = &op
	}
	b, _ := json.Marshal(d)
	return b
}

// GetCursorDocument returns the committed cursor, or nil for a fresh brook.
func (r *Repository) GetCursorDocument(ctx context.Context, key brook.Key) (*Cursor, error) {
	return retry.Do(ctx, r.retry, func(ctx context.Context) (*Cursor, error) {
		return r.readCursor(ctx, key)
	})
}

// GetPendingCursorDocument returns the in-flight append marker, or nil.
func (r *Repository) GetPendingCursorDocument(ctx context.Context, key brook.Key) (*PendingCursor, error) {
	return retry.Do(ctx, r.retry, func(ctx context.Context) (*PendingCursor, error) {
		it, err := r.c.ReadItem(ctx, pk(key), pendingID)
		if docdb.IsNotFound(err) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		var d pendingDoc
		if err := json.Unmarshal(it.Body, &d); err != nil {
			return nil, decodeFailure(key, pendingID, err)
		}
		return &PendingCursor{
			CurrentCursor: brook.Position(d.CurrentCursor),
			FinalPosition: brook.Position(d.FinalPosition),
			CreatedAt:     d.CreatedAt,
			ETag:          it.ETag,
		}, nil
	})
}

// CreatePendingCursor records the intent to move the head from current to
// final. An existing pending cursor is a concurrency conflict.
func (r *Repository) CreatePendingCursor(ctx context.Context, key brook.Key, current, final brook.Position) (*PendingCursor, error) {
	if current < 0 || final <= current {
		return nil, brook.InvalidArgument("pending range [%d, %d) is empty or negative", current, final)
	}
	p := &PendingCursor{CurrentCursor: current, FinalPosition: final, CreatedAt: r.now().UTC()}
	body, err := json.Marshal(pendingDoc{
		Type:          docTypePending,
		StreamKey:     key.String(),
		CurrentCursor: int64(current),
		FinalPosition: int64(final),
		CreatedAt:     p.CreatedAt,
	})
	if err != nil {
		return nil, brook.NewError(brook.KindInvalidArgument, err, "encode pending cursor")
	}
	return retry.Do(ctx, r.retry, func(ctx context.Context) (*PendingCursor, error) {
		it, err := r.c.CreateItem(ctx, pk(key), pendingID, body)
		if docdb.IsConflict(err) {
			return nil, conflict(key, current, err, "another append is pending")
		}
		if err != nil {
			return nil, err
		}
		out := *p
		out.ETag = it.ETag
		return &out, nil
	})
}

// ExecuteTransactionalBatch writes the event documents for positions
// [current, newPosition) and moves the committed cursor to newPosition in one
// atomic batch, provided the committed cursor still equals current.
func (r *Repository) ExecuteTransactionalBatch(ctx context.Context, key brook.Key, events []brook.Event, current, newPosition brook.Position) error {
	if len(events) == 0 || int64(newPosition-current) != int64(len(events)) {
		return brook.InvalidArgument("batch of %d events cannot move cursor from %d to %d", len(events), current, newPosition)
	}
	docs := make([][]byte, len(events))
	for i, e := range events {
		d := eventDoc{
			Type:            docTypeEvent,
			StreamKey:       key.String(),
			Position:        int64(current) + int64(i),
			EventID:         e.ID,
			Source:          e.Source,
			EventType:       e.EventType,
			DataContentType: e.DataContentType,
			Data:            e.Data,
			Time:            e.Time,
			SizeBytes:       batching.EstimateEventSize(e),
		}
		b, err := json.Marshal(d)
		if err != nil {
			return brook.NewError(brook.KindInvalidArgument, err, "encode event %d", i).WithKey(key, brook.Position(d.Position))
		}
		docs[i] = b
	}

	// unconfirmed is set while a submitted batch may have committed without
	// the response reaching us.
	unconfirmed := false
	err := retry.Run(ctx, r.retry, func(ctx context.Context) error {
		cur, err := r.readCursor(ctx, key)
		if err != nil {
			return err
		}
		head := brook.Position(0)
		if cur != nil {
			head = cur.Position
		}
		if unconfirmed && head == newPosition && cur.OriginalPosition != nil && *cur.OriginalPosition == current {
			// An earlier attempt may have committed before its response was lost.
			ok, err := r.wroteEvent(ctx, key, current, events[0].ID)
			if err != nil {
				return err
			}
			if ok {
				return nil
			}
		}
		if head != current {
			return conflict(key, current, nil, "cursor is at %d", head)
		}
		unconfirmed = false

		batch := docdb.NewTransactionalBatch(pk(key))
		for i, b := range docs {
			batch.CreateItem(eventID(current+brook.Position(i)), b)
		}
		orig := current
		if cur != nil {
			batch.ReplaceItem(cursorID, cursorBody(key, newPosition, &orig), cur.ETag)
		} else {
			batch.CreateItem(cursorID, cursorBody(key, newPosition, &orig))
		}
		err = r.c.ExecuteBatch(ctx, batch)
		if docdb.IsConflict(err) {
			return conflict(key, current, err, "concurrent append won")
		}
		unconfirmed = retry.IsTransient(err)
		return err
	})
	if err != nil && unconfirmed && ctx.Err() == nil {
		switch brook.KindOf(err) {
		case brook.KindConcurrencyConflict, brook.KindTransientStorage:
		default:
			return brook.NewError(brook.KindTransientStorage, err, "batch outcome unknown").WithKey(key, current)
		}
	}
	return err
}

// wroteEvent reports whether the event document at pos carries id.
func (r *Repository) wroteEvent(ctx context.Context, key brook.Key, pos brook.Position, id string) (bool, error) {
	it, err := r.c.ReadItem(ctx, pk(key), eventID(pos))
	if docdb.IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	var d eventDoc
	if err := json.Unmarshal(it.Body, &d); err != nil {
		return false, decodeFailure(key, eventID(pos), err)
	}
	return d.EventID == id, nil
}

// CommitCursorPosition moves the committed cursor forward to final. It does
// not write when the cursor is already there and refuses to move it back.
func (r *Repository) CommitCursorPosition(ctx context.Context, key brook.Key, final brook.Position) error {
	return retry.Run(ctx, r.retry, func(ctx context.Context) error {
		cur, err := r.readCursor(ctx, key)
		if err != nil {
			return err
		}
		if cur == nil {
			if final == 0 {
				return nil
			}
			_, err = r.c.CreateItem(ctx, pk(key), cursorID, cursorBody(key, final, nil))
		} else {
			if cur.Position == final {
				return nil
			}
			if cur.Position > final {
				return conflict(key, final, nil, "cursor already at %d", cur.Position)
			}
			orig := cur.Position
			_, err = r.c.UpsertItem(ctx, pk(key), cursorID, cursorBody(key, final, &orig), &docdb.ItemOptions{IfMatch: cur.ETag})
		}
		if docdb.IsConflict(err) {
			return conflict(key, final, err, "cursor changed during commit")
		}
		return err
	})
}

// DeletePendingCursor removes the pending marker. A missing marker is success.
func (r *Repository) DeletePendingCursor(ctx context.Context, key brook.Key) error {
	return r.deletePending(ctx, key, nil)
}

// ReleasePendingCursor removes p only if it is still the stored marker. A
// marker already removed or replaced by another writer is left alone.
func (r *Repository) ReleasePendingCursor(ctx context.Context, key brook.Key, p *PendingCursor) error {
	if p == nil || p.ETag == "" {
		return r.DeletePendingCursor(ctx, key)
	}
	return r.deletePending(ctx, key, &docdb.ItemOptions{IfMatch: p.ETag})
}

func (r *Repository) deletePending(ctx context.Context, key brook.Key, opts *docdb.ItemOptions) error {
	return retry.Run(ctx, r.retry, func(ctx context.Context) error {
		err := r.c.DeleteItem(ctx, pk(key), pendingID, opts)
		if docdb.IsNotFound(err) || (opts != nil && docdb.IsConflict(err)) {
			return nil
		}
		return err
	})
}

// EventExists reports whether an event document exists at pos.
func (r *Repository) EventExists(ctx context.Context, key brook.Key, pos brook.Position) (bool, error) {
	return retry.Do(ctx, r.retry, func(ctx context.Context) (bool, error) {
		_, err := r.c.ReadItem(ctx, pk(key), eventID(pos))
		if docdb.IsNotFound(err) {
			return false, nil
		}
		return err == nil, err
	})
}

// GetExistingEventPositions returns the positions in [start, end) that have
// an event document, ascending.
func (r *Repository) GetExistingEventPositions(ctx context.Context, key brook.Key, start, end brook.Position) ([]brook.Position, error) {
	if end <= start {
		return nil, nil
	}
	var out []brook.Position
	for it, err := range r.items(ctx, key, start, end-1, r.pageSize) {
		if err != nil {
			return nil, err
		}
		var d eventDoc
		if err := json.Unmarshal(it.Body, &d); err != nil {
			return nil, decodeFailure(key, it.ID, err)
		}
		out = append(out, brook.Position(d.Position))
	}
	return out, nil
}

// DeleteEvent removes the event document at pos. A missing event is success.
func (r *Repository) DeleteEvent(ctx context.Context, key brook.Key, pos brook.Position) error {
	return retry.Run(ctx, r.retry, func(ctx context.Context) error {
		err := r.c.DeleteItem(ctx, pk(key), eventID(pos), nil)
		if docdb.IsNotFound(err) {
			return nil
		}
		return err
	})
}

// QueryEvents streams the events at positions [start, end] in order, one
// page of pageSize documents per store request.
func (r *Repository) QueryEvents(ctx context.Context, key brook.Key, start, end brook.Position, pageSize int) iter.Seq2[brook.PositionedEvent, error] {
	return func(yield func(brook.PositionedEvent, error) bool) {
		if start < 0 || end < start {
			yield(brook.PositionedEvent{}, brook.InvalidArgument("invalid range [%d, %d]", start, end))
			return
		}
		for it, err := range r.items(ctx, key, start, end, pageSize) {
			if err != nil {
				yield(brook.PositionedEvent{}, err)
				return
			}
			var d eventDoc
			if err := json.Unmarshal(it.Body, &d); err != nil {
				yield(brook.PositionedEvent{}, decodeFailure(key, it.ID, err))
				return
			}
			if !yield(brook.PositionedEvent{Position: brook.Position(d.Position), Event: d.event()}, nil) {
				return
			}
		}
	}
}

// items pages through event documents at positions [start, end].
func (r *Repository) items(ctx context.Context, key brook.Key, start, end brook.Position, pageSize int) iter.Seq2[docdb.Item, error] {
	if pageSize <= 0 {
		pageSize = r.pageSize
	}
	return func(yield func(docdb.Item, error) bool) {
		q := docdb.RangeQuery{StartID: eventID(start), EndID: eventID(end), PageSize: pageSize}
		for {
			page, err := retry.Do(ctx, r.retry, func(ctx context.Context) (docdb.Page, error) {
				return r.c.QueryItems(ctx, pk(key), q)
			})
			if err != nil {
				yield(docdb.Item{}, err)
				return
			}
			for _, it := range page.Items {
				if !yield(it, nil) {
					return
				}
			}
			if page.Continuation == "" {
				return
			}
			q.Continuation = page.Continuation
		}
	}
}
