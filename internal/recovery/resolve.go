// Package recovery resolves interrupted appends before a brook's head is
// trusted.
//
// A brook is Clean when it has no pending cursor and in PendingWrite while one
// exists. Recovery is the only way out of PendingWrite: Resolve inspects which
// event positions of the pending range exist and decides between rolling
// forward, rolling back or refusing to guess.
package recovery

import (
	"github.com/rzbill/brook/internal/brook"
	"github.com/rzbill/brook/internal/repository"
)

// State of the two-phase append protocol for one brook.
type State int

const (
	Clean State = iota
	PendingWrite
)

func (s State) String() string {
	if s == PendingWrite {
		return "pending-write"
	}
	return "clean"
}

// StateOf returns the protocol state implied by a pending cursor.
func StateOf(pending *repository.PendingCursor) State {
	if pending == nil {
		return Clean
	}
	return PendingWrite
}

// Action is what recovery must do to return to Clean.
type Action int

const (
	// ActionNone: already Clean.
	ActionNone Action = iota
	// ActionRollForward: the write landed; advance the cursor and drop the marker.
	ActionRollForward
	// ActionRollBack: the write never landed; drop the marker.
	ActionRollBack
	// ActionAmbiguous: the store contradicts the marker; nothing is written.
	ActionAmbiguous
)

func (a Action) String() string {
	switch a {
	case ActionRollForward:
		return "rollforward"
	case ActionRollBack:
		return "rollback"
	case ActionAmbiguous:
		return "ambiguous"
	default:
		return "none"
	}
}

// Decision is the outcome of Resolve.
type Decision struct {
	Action Action
	// Head is the trustworthy head after the decision is applied.
	Head brook.Position
	// WriteCursor is set when the committed cursor must move to Head.
	WriteCursor bool
	// DeletePending is set when the pending marker must be removed.
	DeletePending bool
	// Present counts the pending range positions found in the store.
	Present  int
	Expected int
}

// Resolve decides how to leave PendingWrite given the committed head, the
// pending cursor and the positions found in the pending range. It is pure.
func Resolve(committed brook.Position, pending *repository.PendingCursor, present []brook.Position) Decision {
	if pending == nil {
		return Decision{Action: ActionNone, Head: committed}
	}
	start, end := pending.Positions()
	expected := int(end - start)
	n := 0
	for _, p := range present {
		if p >= start && p < end {
			n++
		}
	}
	d := Decision{Present: n, Expected: expected, Head: committed}
	switch {
	case expected > 0 && n == expected && (committed == start || committed == end):
		d.Action = ActionRollForward
		d.Head = end
		d.WriteCursor = committed != end
		d.DeletePending = true
	case n == 0 && committed == start:
		d.Action = ActionRollBack
		d.DeletePending = true
	default:
		d.Action = ActionAmbiguous
	}
	return d
}
