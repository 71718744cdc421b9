package brook

import (
	"fmt"
	"strings"
)

// keySeparator joins the two halves of a Key in its string form.
const keySeparator = "|"

// Key identifies one brook.
type Key struct {
	Type string
	ID   string
}

// NewKey builds a validated Key.
func NewKey(typ, id string) (Key, error) {
	k := Key{Type: typ, ID: id}
	if err := k.Validate(); err != nil {
		return Key{}, err
	}
	return k, nil
}

// Validate reports whether both parts are present and the type carries no separator.
func (k Key) Validate() error {
	if k.Type == "" || k.ID == "" {
		return InvalidArgument("brook key requires type and id, got %q", k.String())
	}
	if strings.Contains(k.Type, keySeparator) {
		return InvalidArgument("brook key type %q must not contain %q", k.Type, keySeparator)
	}
	return nil
}

// String renders the key as "type|id".
func (k Key) String() string { return k.Type + keySeparator + k.ID }

// ParseKey parses the "type|id" form produced by String.
func ParseKey(s string) (Key, error) {
	typ, id, ok := strings.Cut(s, keySeparator)
	if !ok {
		return Key{}, InvalidArgument("malformed brook key %q", s)
	}
	return NewKey(typ, id)
}

// Position is an offset into a brook.
type Position int64

// Int64 returns the raw offset.
func (p Position) Int64() int64 { return int64(p) }

func (p Position) String() string { return fmt.Sprintf("%d", int64(p)) }

// RangeKey identifies the fixed-size slice [Start, Start+Size) of a brook.
type RangeKey struct {
	Key   Key
	Start int64
	Size  int64
}

// NewRangeKey validates and builds a RangeKey.
func NewRangeKey(key Key, start, size int64) (RangeKey, error) {
	if size <= 0 {
		return RangeKey{}, InvalidArgument("range size must be positive, got %d", size)
	}
	if start < 0 {
		return RangeKey{}, InvalidArgument("range start must be non-negative, got %d", start)
	}
	return RangeKey{Key: key, Start: start, Size: size}, nil
}

// BucketID is Start/Size.
func (r RangeKey) BucketID() int64 { return r.Start / r.Size }

// End is the last position covered by the slice (inclusive).
func (r RangeKey) End() int64 { return r.Start + r.Size - 1 }

// Contains reports whether pos lies within the slice.
func (r RangeKey) Contains(pos int64) bool { return pos >= r.Start && pos <= r.End() }

func (r RangeKey) String() string {
	return fmt.Sprintf("%s/%d+%d", r.Key.String(), r.Start, r.Size)
}
