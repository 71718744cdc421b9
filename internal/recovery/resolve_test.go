package recovery

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rzbill/brook/internal/brook"
	"github.com/rzbill/brook/internal/repository"
)

func pending(from, to brook.Position) *repository.PendingCursor {
	return &repository.PendingCursor{CurrentCursor: from, FinalPosition: to}
}

func positions(ps ...brook.Position) []brook.Position { return ps }

func TestResolve(t *testing.T) {
	tests := []struct {
		name      string
		committed brook.Position
		pending   *repository.PendingCursor
		present   []brook.Position
		want      Decision
	}{
		{
			name:      "clean",
			committed: 4,
			want:      Decision{Action: ActionNone, Head: 4},
		},
		{
			name:      "batch landed, cursor behind",
			committed: 2, pending: pending(2, 5), present: positions(2, 3, 4),
			want: Decision{Action: ActionRollForward, Head: 5, WriteCursor: true, DeletePending: true, Present: 3, Expected: 3},
		},
		{
			name:      "batch landed with cursor, marker left",
			committed: 5, pending: pending(2, 5), present: positions(2, 3, 4),
			want: Decision{Action: ActionRollForward, Head: 5, DeletePending: true, Present: 3, Expected: 3},
		},
		{
			name:      "batch never landed",
			committed: 2, pending: pending(2, 5),
			want: Decision{Action: ActionRollBack, Head: 2, DeletePending: true, Expected: 3},
		},
		{
			name:      "partial",
			committed: 2, pending: pending(2, 5), present: positions(2, 4),
			want: Decision{Action: ActionAmbiguous, Head: 2, Present: 2, Expected: 3},
		},
		{
			name:      "positions outside the range are ignored",
			committed: 2, pending: pending(2, 4), present: positions(0, 1, 4, 9),
			want: Decision{Action: ActionRollBack, Head: 2, DeletePending: true, Expected: 2},
		},
		{
			name:      "cursor elsewhere",
			committed: 7, pending: pending(2, 5), present: positions(2, 3, 4),
			want: Decision{Action: ActionAmbiguous, Head: 7, Present: 3, Expected: 3},
		},
		{
			name:      "cursor advanced but events missing",
			committed: 5, pending: pending(2, 5),
			want: Decision{Action: ActionAmbiguous, Head: 5, Expected: 3},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, Resolve(tt.committed, tt.pending, tt.present))
		})
	}
}

func TestStateOf(t *testing.T) {
	require.Equal(t, Clean, StateOf(nil))
	require.Equal(t, PendingWrite, StateOf(pending(0, 1)))
}
