package reader

import (
	"context"

	"github.com/rzbill/brook/internal/brook"
	"github.com/rzbill/brook/internal/recovery"
	"github.com/rzbill/brook/internal/repository"
)

// StoreSource reads events from the repository and takes the head from
// recovery, so a read never trusts a cursor with an unresolved append.
type StoreSource struct {
	*repository.Repository
	Recovery *recovery.Service
}

var _ Source = StoreSource{}

// Head implements Source.
func (s StoreSource) Head(ctx context.Context, key brook.Key) (brook.Position, error) {
	return s.Recovery.Recover(ctx, key)
}
