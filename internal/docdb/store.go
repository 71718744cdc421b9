package docdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	pebblestore "github.com/rzbill/brook/internal/storage/pebble"
)

// Options configures a pebble-backed container.
type Options struct {
	Database  string
	Container string
	// PartitionKeyPath is recorded in the container metadata.
	PartitionKeyPath string
	// MaxRequestBytes defaults to MaxRequestBytes.
	MaxRequestBytes int
	// MaxOperationsPerBatch defaults to MaxOperationsPerBatch.
	MaxOperationsPerBatch int
}

// ContainerMeta is the persisted container descriptor.
type ContainerMeta struct {
	Database         string `json:"database"`
	Container        string `json:"container"`
	PartitionKeyPath string `json:"partitionKeyPath"`
	CreatedAtMs      int64  `json:"createdAtMs"`
}

// Store is a Container persisted in Pebble. Writes are serialized so that
// precondition checks and the commit they guard are atomic.
type Store struct {
	db        *pebblestore.DB
	database  string
	container string
	maxReq    int
	maxOps    int
	meta      ContainerMeta

	mu      sync.Mutex
	etagSeq uint64
}

var _ Container = (*Store)(nil)

// Open binds a Store to db, creating the container metadata record if absent.
func Open(db *pebblestore.DB, opts Options) (*Store, error) {
	if db == nil {
		return nil, errors.New("docdb: nil pebble db")
	}
	if opts.Database == "" || opts.Container == "" {
		return nil, errors.New("docdb: database and container are required")
	}
	if opts.MaxRequestBytes <= 0 {
		opts.MaxRequestBytes = MaxRequestBytes
	}
	if opts.MaxOperationsPerBatch <= 0 {
		opts.MaxOperationsPerBatch = MaxOperationsPerBatch
	}
	if opts.PartitionKeyPath == "" {
		opts.PartitionKeyPath = "/streamKey"
	}
	meta, err := EnsureContainer(db, opts.Database, opts.Container, opts.PartitionKeyPath)
	if err != nil {
		return nil, err
	}
	return &Store{
		db:        db,
		database:  opts.Database,
		container: opts.Container,
		maxReq:    opts.MaxRequestBytes,
		maxOps:    opts.MaxOperationsPerBatch,
		meta:      meta,
		etagSeq:   uint64(time.Now().UnixNano()),
	}, nil
}

// EnsureContainer creates the container metadata record if absent and returns
// the effective metadata. Idempotent.
func EnsureContainer(db *pebblestore.DB, database, container, pkPath string) (ContainerMeta, error) {
	key := keyContainerMeta(database, container)
	if b, err := db.Get(key); err == nil && len(b) > 0 {
		var m ContainerMeta
		if err := json.Unmarshal(b, &m); err == nil {
			return m, nil
		}
		// fallthrough to rewrite if corrupted
	}
	m := ContainerMeta{
		Database:         database,
		Container:        container,
		PartitionKeyPath: pkPath,
		CreatedAtMs:      time.Now().UnixMilli(),
	}
	b, err := json.Marshal(m)
	if err != nil {
		return ContainerMeta{}, err
	}
	if err := db.Set(key, b); err != nil {
		return ContainerMeta{}, fmt.Errorf("docdb: write container meta: %w", err)
	}
	return m, nil
}

// Meta returns the container metadata.
func (s *Store) Meta() ContainerMeta { return s.meta }

func (s *Store) nextETag() string {
	s.etagSeq++
	return strconv.FormatUint(s.etagSeq, 16)
}

// current loads an item; ok is false when absent.
func (s *Store) current(op, pk, id string) (Item, bool, error) {
	raw, err := s.db.Get(keyItem(s.database, s.container, pk, id))
	if errors.Is(err, pebblestore.ErrNotFound) {
		return Item{}, false, nil
	}
	if err != nil {
		return Item{}, false, newStatus(StatusInternalServerError, op, "read %s: %v", id, err)
	}
	etag, body, ok := decodeRecord(raw)
	if !ok {
		return Item{}, false, newStatus(StatusInternalServerError, op, "corrupt item %s", id)
	}
	return Item{ID: id, Body: body, ETag: etag}, true, nil
}

func (s *Store) checkSize(op string, n int) error {
	if n > s.maxReq {
		return newStatus(StatusRequestEntityTooLarge, op, "request of %d bytes exceeds %d", n, s.maxReq)
	}
	return nil
}

// ReadItem implements Container.
func (s *Store) ReadItem(ctx context.Context, pk, id string) (Item, error) {
	if err := ctx.Err(); err != nil {
		return Item{}, err
	}
	it, ok, err := s.current("read", pk, id)
	if err != nil {
		return Item{}, err
	}
	if !ok {
		return Item{}, newStatus(StatusNotFound, "read", "item %s not found", id)
	}
	return it, nil
}

// CreateItem implements Container.
func (s *Store) CreateItem(ctx context.Context, pk, id string, body []byte) (Item, error) {
	b := NewTransactionalBatch(pk)
	b.CreateItem(id, body)
	etags, err := s.execute(ctx, "create", b)
	if err != nil {
		return Item{}, err
	}
	return Item{ID: id, Body: body, ETag: etags[0]}, nil
}

// UpsertItem implements Container.
func (s *Store) UpsertItem(ctx context.Context, pk, id string, body []byte, opts *ItemOptions) (Item, error) {
	b := NewTransactionalBatch(pk)
	if opts != nil && opts.IfMatch != "" {
		b.ReplaceItem(id, body, opts.IfMatch)
	} else {
		b.UpsertItem(id, body)
	}
	etags, err := s.execute(ctx, "upsert", b)
	if err != nil {
		return Item{}, err
	}
	return Item{ID: id, Body: body, ETag: etags[0]}, nil
}

// DeleteItem implements Container.
func (s *Store) DeleteItem(ctx context.Context, pk, id string, opts *ItemOptions) error {
	b := NewTransactionalBatch(pk)
	b.Ops = append(b.Ops, BatchOp{Kind: OpDelete, ID: id})
	if opts != nil {
		b.Ops[0].IfMatch = opts.IfMatch
	}
	_, err := s.execute(ctx, "delete", b)
	return err
}

// ExecuteBatch implements Container.
func (s *Store) ExecuteBatch(ctx context.Context, batch *TransactionalBatch) error {
	if batch == nil || len(batch.Ops) == 0 {
		return newStatus(StatusBadRequest, "batch", "empty transactional batch")
	}
	if len(batch.Ops) > s.maxOps {
		return newStatus(StatusBadRequest, "batch", "%d operations exceed limit %d", len(batch.Ops), s.maxOps)
	}
	_, err := s.execute(ctx, "batch", batch)
	return err
}

// execute validates every operation against the current state (including the
// effect of earlier operations in the same batch) and commits them as one
// pebble batch. It returns the new ETag of each operation ("" for deletes).
func (s *Store) execute(ctx context.Context, op string, batch *TransactionalBatch) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.checkSize(op, batch.Size()); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	type staged struct {
		etag   string
		exists bool
	}
	view := make(map[string]staged, len(batch.Ops))
	lookup := func(id string) (staged, error) {
		if st, ok := view[id]; ok {
			return st, nil
		}
		it, ok, err := s.current(op, batch.PartitionKey, id)
		if err != nil {
			return staged{}, err
		}
		return staged{etag: it.ETag, exists: ok}, nil
	}

	pb := s.db.NewBatch()
	defer pb.Close()

	etags := make([]string, len(batch.Ops))
	for i, o := range batch.Ops {
		st, err := lookup(o.ID)
		if err != nil {
			return nil, err
		}
		switch o.Kind {
		case OpCreate:
			if st.exists {
				return nil, newStatus(StatusConflict, op, "operation %d: item %s already exists", i, o.ID)
			}
		case OpReplace:
			if !st.exists {
				if o.IfMatch != "" {
					return nil, newStatus(StatusPreconditionFailed, op, "operation %d: item %s no longer exists", i, o.ID)
				}
				return nil, newStatus(StatusNotFound, op, "operation %d: item %s not found", i, o.ID)
			}
			if o.IfMatch != "" && o.IfMatch != st.etag {
				return nil, newStatus(StatusPreconditionFailed, op, "operation %d: etag mismatch on %s", i, o.ID)
			}
		case OpDelete:
			if !st.exists {
				return nil, newStatus(StatusNotFound, op, "operation %d: item %s not found", i, o.ID)
			}
			if o.IfMatch != "" && o.IfMatch != st.etag {
				return nil, newStatus(StatusPreconditionFailed, op, "operation %d: etag mismatch on %s", i, o.ID)
			}
		case OpUpsert:
		default:
			return nil, newStatus(StatusBadRequest, op, "operation %d: unknown kind %d", i, o.Kind)
		}

		key := keyItem(s.database, s.container, batch.PartitionKey, o.ID)
		if o.Kind == OpDelete {
			if err := pb.Delete(key, nil); err != nil {
				return nil, newStatus(StatusInternalServerError, op, "stage delete: %v", err)
			}
			view[o.ID] = staged{}
			continue
		}
		etag := s.nextETag()
		if err := pb.Set(key, encodeRecord(etag, o.Body), nil); err != nil {
			return nil, newStatus(StatusInternalServerError, op, "stage write: %v", err)
		}
		view[o.ID] = staged{etag: etag, exists: true}
		etags[i] = etag
	}

	if err := s.db.CommitBatch(ctx, pb); err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		return nil, newStatus(StatusServiceUnavailable, op, "commit: %v", err)
	}
	return etags, nil
}

// QueryItems implements Container.
func (s *Store) QueryItems(ctx context.Context, pk string, q RangeQuery) (Page, error) {
	if err := ctx.Err(); err != nil {
		return Page{}, err
	}
	if q.StartID > q.EndID {
		return Page{}, newStatus(StatusBadRequest, "query", "start %q after end %q", q.StartID, q.EndID)
	}
	pageSize := q.PageSize
	if pageSize <= 0 {
		pageSize = 100
	}
	prefix := keyItemPrefix(s.database, s.container, pk)
	low := append(append([]byte{}, prefix...), q.StartID...)
	if q.Continuation != "" {
		// resume strictly after the last returned id
		low = append(append(append([]byte{}, prefix...), q.Continuation...), 0x00)
	}
	hi := append(append(append([]byte{}, prefix...), q.EndID...), 0x00)

	page := Page{Items: make([]Item, 0, pageSize)}
	err := s.db.Scan(ctx, low, hi, func(k, v []byte) (bool, error) {
		if len(page.Items) == pageSize {
			page.Continuation = page.Items[len(page.Items)-1].ID
			return false, nil
		}
		id := string(k[len(prefix):])
		etag, body, valid := decodeRecord(v)
		if !valid {
			return false, newStatus(StatusInternalServerError, "query", "corrupt item %s", id)
		}
		page.Items = append(page.Items, Item{ID: id, Body: body, ETag: etag})
		return true, nil
	})
	if err != nil {
		var se *StatusError
		if errors.As(err, &se) || ctx.Err() != nil {
			return Page{}, err
		}
		return Page{}, newStatus(StatusInternalServerError, "query", "scan: %v", err)
	}
	return page, nil
}
