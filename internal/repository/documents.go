package repository

import (
	"fmt"
	"time"

	"github.com/rzbill/brook/internal/brook"
)

const (
	cursorID  = "cursor"
	pendingID = "cursor-pending"

	docTypeCursor  = "cursor"
	docTypePending = "pending"
	docTypeEvent   = "event"
)

func eventID(pos brook.Position) string { return fmt.Sprintf("e%020d", int64(pos)) }

// Cursor is the committed head of a brook.
type Cursor struct {
	Position         brook.Position
	OriginalPosition *brook.Position
	// ETag guards conditional replacement.
	ETag string
}

// PendingCursor records an append in flight from CurrentCursor to FinalPosition.
type PendingCursor struct {
	CurrentCursor brook.Position
	FinalPosition brook.Position
	CreatedAt     time.Time
	ETag          string
}

// Positions returns the event positions the pending append covers.
func (p PendingCursor) Positions() (start, end brook.Position) {
	return p.CurrentCursor, p.FinalPosition
}

type cursorDoc struct {
	Type             string `json:"type"`
	StreamKey        string `json:"streamKey"`
	Position         int64  `json:"position"`
	OriginalPosition *int64 `json:"originalPosition,omitempty"`
}

type pendingDoc struct {
	Type          string    `json:"type"`
	StreamKey     string    `json:"streamKey"`
	CurrentCursor int64     `json:"currentCursor"`
	FinalPosition int64     `json:"finalPosition"`
	CreatedAt     time.Time `json:"createdAt"`
}

type eventDoc struct {
	Type            string    `json:"type"`
	StreamKey       string    `json:"streamKey"`
	Position        int64     `json:"position"`
	EventID         string    `json:"eventId"`
	Source          string    `json:"source"`
	EventType       string    `json:"eventType"`
	DataContentType string    `json:"dataContentType,omitempty"`
	Data            []byte    `json:"data,omitempty"`
	Time            time.Time `json:"time"`
	SizeBytes       int64     `json:"sizeBytes"`
}

func (d eventDoc) event() brook.Event {
	return brook.Event{
		ID:              d.EventID,
		Source:          d.Source,
		EventType:       d.EventType,
		DataContentType: d.DataContentType,
		Data:            d.Data,
		Time:            d.Time,
	}
}
