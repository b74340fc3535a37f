// Package docid provides the 128-bit document identifier used throughout
// the engine. Ids are generated as UUIDv7 values so that, like the ids the
// teacher's ticket store derives for its own documents, they sort roughly
// by creation time without requiring the engine itself to read a clock.
package docid

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Size is the length in bytes of a serialized ID.
const Size = 16

// ErrInvalid is returned when a byte slice or string cannot be parsed as an ID.
var ErrInvalid = errors.New("docid: invalid id")

// ID is an opaque 128-bit document identifier.
type ID [Size]byte

// Zero is the nil identifier, used as a sentinel for "no document".
var Zero ID

// New generates a fresh, time-ordered document id.
//
// Generation is a clock-free concern from the engine's point of view: the
// caller-supplied generator (here, UUIDv7) is an external collaborator per
// the engine's contract; the engine only ever treats the result as 16
// opaque bytes.
func New() (ID, error) {
	u, err := uuid.NewV7()
	if err != nil {
		return Zero, fmt.Errorf("generate id: %w", err)
	}

	var id ID

	copy(id[:], u[:])

	return id, nil
}

// FromBytes parses a 16-byte slice into an ID.
func FromBytes(b []byte) (ID, error) {
	if len(b) != Size {
		return Zero, fmt.Errorf("%w: want %d bytes, got %d", ErrInvalid, Size, len(b))
	}

	var id ID

	copy(id[:], b)

	return id, nil
}

// Parse parses the canonical UUID string form into an ID.
func Parse(s string) (ID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return Zero, fmt.Errorf("%w: %w", ErrInvalid, err)
	}

	var id ID

	copy(id[:], u[:])

	return id, nil
}

// String renders the ID in canonical UUID form.
func (id ID) String() string {
	return uuid.UUID(id).String()
}

// Bytes returns the 16 raw bytes of the ID.
func (id ID) Bytes() []byte {
	return id[:]
}

// IsZero reports whether id is the zero value.
func (id ID) IsZero() bool {
	return id == Zero
}

// Less provides a stable total order over ids, used to keep serialized
// indirection-table entries and trie snapshots deterministic in tests.
func (id ID) Less(other ID) bool {
	for i := range id {
		if id[i] != other[i] {
			return id[i] < other[i]
		}
	}

	return false
}
