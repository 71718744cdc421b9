package docdb

import "context"

const (
	// MaxOperationsPerBatch caps the number of operations in one transactional batch.
	MaxOperationsPerBatch = 100
	// MaxRequestBytes caps the payload of a single request or transactional batch.
	MaxRequestBytes = 2 * 1024 * 1024
)

// Item is a stored document.
type Item struct {
	ID   string
	Body []byte
	ETag string
}

// ItemOptions carries per-request conditions.
type ItemOptions struct {
	// IfMatch makes the write conditional on the current ETag.
	IfMatch string
}

// RangeQuery selects items of one partition with StartID <= id <= EndID in id order.
type RangeQuery struct {
	StartID  string
	EndID    string
	PageSize int
	// Continuation resumes a previous page; empty starts at StartID.
	Continuation string
}

// Page is one page of query results. Continuation is empty on the last page.
type Page struct {
	Items        []Item
	Continuation string
}

// Container is the subset of a document container the engine uses.
type Container interface {
	ReadItem(ctx context.Context, pk, id string) (Item, error)
	CreateItem(ctx context.Context, pk, id string, body []byte) (Item, error)
	UpsertItem(ctx context.Context, pk, id string, body []byte, opts *ItemOptions) (Item, error)
	DeleteItem(ctx context.Context, pk, id string, opts *ItemOptions) error
	ExecuteBatch(ctx context.Context, batch *TransactionalBatch) error
	QueryItems(ctx context.Context, pk string, q RangeQuery) (Page, error)
}

// OpKind enumerates batch operation types.
type OpKind int

const (
	OpCreate OpKind = iota
	OpReplace
	OpUpsert
	OpDelete
)

func (k OpKind) String() string {
	switch k {
	case OpCreate:
		return "create"
	case OpReplace:
		return "replace"
	case OpUpsert:
		return "upsert"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// BatchOp is one operation of a TransactionalBatch.
type BatchOp struct {
	Kind    OpKind
	ID      string
	Body    []byte
	IfMatch string
}

// TransactionalBatch groups operations on one partition key.
type TransactionalBatch struct {
	PartitionKey string
	Ops          []BatchOp
}

// NewTransactionalBatch starts an empty batch for pk.
func NewTransactionalBatch(pk string) *TransactionalBatch {
	return &TransactionalBatch{PartitionKey: pk}
}

// CreateItem adds a create; fails the batch with 409 if id exists.
func (b *TransactionalBatch) CreateItem(id string, body []byte) {
	b.Ops = append(b.Ops, BatchOp{Kind: OpCreate, ID: id, Body: body})
}

// ReplaceItem adds a replace; fails with 404 if absent or 412 if ifMatch is set and stale.
func (b *TransactionalBatch) ReplaceItem(id string, body []byte, ifMatch string) {
	b.Ops = append(b.Ops, BatchOp{Kind: OpReplace, ID: id, Body: body, IfMatch: ifMatch})
}

// UpsertItem adds an unconditional write.
func (b *TransactionalBatch) UpsertItem(id string, body []byte) {
	b.Ops = append(b.Ops, BatchOp{Kind: OpUpsert, ID: id, Body: body})
}

// DeleteItem adds a delete; fails with 404 if absent.
func (b *TransactionalBatch) DeleteItem(id string) {
	b.Ops = append(b.Ops, BatchOp{Kind: OpDelete, ID: id})
}

// Size is the summed body size of all operations.
func (b *TransactionalBatch) Size() int {
	n := 0
	for _, op := range b.Ops {
		n += len(op.ID) + len(op.Body)
	}
	return n
}
