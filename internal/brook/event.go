package brook

import "time"

// Event is the envelope stored at one position of a brook.
type Event struct {
	ID              string    `json:"id"`
	Source          string    `json:"source"`
	EventType       string    `json:"type"`
	DataContentType string    `json:"dataContentType,omitempty"`
	Data            []byte    `json:"data,omitempty"`
	Time            time.Time `json:"time"`
}

// ValidateForAppend checks the fields the store requires.
func (e Event) ValidateForAppend() error {
	if e.Time.IsZero() {
		return InvalidArgument("event %q has no time", e.ID)
	}
	return nil
}

// PositionedEvent pairs an event with its position in a brook.
type PositionedEvent struct {
	Position Position
	Event    Event
}
