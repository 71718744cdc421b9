package lease

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	pebblestore "github.com/rzbill/brook/internal/storage/pebble"
)

const prefixLease = "lease/"

func leaseKey(resource string) []byte { return []byte(prefixLease + resource) }

// record is the persisted lease state of one resource. An empty LeaseID
// means the resource is free.
type record struct {
	Resource    string `json:"resource"`
	LeaseID     string `json:"leaseId,omitempty"`
	ExpiresAtMs int64  `json:"expiresAtMs,omitempty"`
	AcquiredMs  int64  `json:"acquiredMs,omitempty"`
	Renewals    int64  `json:"renewals,omitempty"`
}

// PebbleLeaser stores lease records in a pebble DB. Compare-and-set is done
// under a process-local mutex, so all holders must share the DB handle.
type PebbleLeaser struct {
	db  *pebblestore.DB
	now func() time.Time
	mu  sync.Mutex
}

var _ Leaser = (*PebbleLeaser)(nil)

// NewPebbleLeaser returns a Leaser over db.
func NewPebbleLeaser(db *pebblestore.DB) *PebbleLeaser {
	return &PebbleLeaser{db: db, now: time.Now}
}

func (p *PebbleLeaser) load(resource string) (record, error) {
	b, err := p.db.Get(leaseKey(resource))
	if errors.Is(err, pebblestore.ErrNotFound) {
		return record{}, ErrResourceNotFound
	}
	if err != nil {
		return record{}, fmt.Errorf("read lease: %w", err)
	}
	var r record
	if err := json.Unmarshal(b, &r); err != nil {
		return record{}, fmt.Errorf("unmarshal lease: %w", err)
	}
	return r, nil
}

func (p *PebbleLeaser) store(ctx context.Context, r record) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal lease: %w", err)
	}
	batch := p.db.NewBatch()
	defer batch.Close()
	if err := batch.Set(leaseKey(r.Resource), data, nil); err != nil {
		return fmt.Errorf("write lease: %w", err)
	}
	if err := p.db.CommitBatch(ctx, batch); err != nil {
		return fmt.Errorf("commit lease: %w", err)
	}
	return nil
}

// EnsureResource implements Leaser.
func (p *PebbleLeaser) EnsureResource(ctx context.Context, resource string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	ok, err := p.db.Has(leaseKey(resource))
	if err != nil {
		return fmt.Errorf("check lease: %w", err)
	}
	if ok {
		return nil
	}
	return p.store(ctx, record{Resource: resource})
}

// Acquire implements Leaser. An expired lease can be taken over.
func (p *PebbleLeaser) Acquire(ctx context.Context, resource, leaseID string, d time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	r, err := p.load(resource)
	if err != nil {
		return err
	}
	now := p.now().UnixMilli()
	if r.LeaseID != "" && r.LeaseID != leaseID && r.ExpiresAtMs > now {
		return fmt.Errorf("%w: until %d", ErrLeaseConflict, r.ExpiresAtMs)
	}
	r.LeaseID = leaseID
	r.AcquiredMs = now
	r.ExpiresAtMs = now + d.Milliseconds()
	r.Renewals = 0
	return p.store(ctx, r)
}

// Renew implements Leaser. A lapsed lease nobody else took can still be renewed.
func (p *PebbleLeaser) Renew(ctx context.Context, resource, leaseID string, d time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	r, err := p.load(resource)
	if err != nil {
		return err
	}
	if r.LeaseID != leaseID {
		return ErrLeaseLost
	}
	r.ExpiresAtMs = p.now().UnixMilli() + d.Milliseconds()
	r.Renewals++
	return p.store(ctx, r)
}

// Release implements Leaser.
func (p *PebbleLeaser) Release(ctx context.Context, resource, leaseID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	r, err := p.load(resource)
	if err != nil {
		return err
	}
	if r.LeaseID != leaseID {
		return ErrLeaseLost
	}
	return p.store(ctx, record{Resource: resource})
}
