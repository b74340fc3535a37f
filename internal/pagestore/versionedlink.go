package pagestore

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// LinkSize is the on-disk byte size of one [VersionedLink]: three
// (PageID, version) slots of 8 bytes each.
const LinkSize = 3 * 8

// ErrTornRotation is returned when neither the current nor the prior slot
// of a versioned link resolves to a page with a valid CRC.
var ErrTornRotation = errors.New("pagestore: torn rotation")

// VersionedLink is the three-slot (prior/current/pending) root reference
// used to rotate a root page id atomically across a crash. See the package
// doc and the data-model notes on "versioned link" for the rotation
// discipline: a writer fills pending, flushes, then rotates
// pending->current, current->prior, freeing the page chain bumped out of
// prior.
type VersionedLink struct {
	PriorID      PageID
	PriorVersion int32
	CurrentID    PageID
	CurrentVersion int32
	PendingID    PageID
	PendingVersion int32
}

// NewVersionedLink returns an empty link with every slot pointing at [NoPage].
func NewVersionedLink() VersionedLink {
	return VersionedLink{PriorID: NoPage, CurrentID: NoPage, PendingID: NoPage}
}

// Encode serializes the link into LinkSize bytes.
func (l VersionedLink) Encode() [LinkSize]byte {
	var buf [LinkSize]byte

	binary.LittleEndian.PutUint32(buf[0:], uint32(l.PriorID))
	binary.LittleEndian.PutUint32(buf[4:], uint32(l.PriorVersion))
	binary.LittleEndian.PutUint32(buf[8:], uint32(l.CurrentID))
	binary.LittleEndian.PutUint32(buf[12:], uint32(l.CurrentVersion))
	binary.LittleEndian.PutUint32(buf[16:], uint32(l.PendingID))
	binary.LittleEndian.PutUint32(buf[20:], uint32(l.PendingVersion))

	return buf
}

// DecodeVersionedLink parses LinkSize bytes into a [VersionedLink].
func DecodeVersionedLink(buf [LinkSize]byte) VersionedLink {
	return VersionedLink{
		PriorID:        PageID(int32(binary.LittleEndian.Uint32(buf[0:]))),
		PriorVersion:   int32(binary.LittleEndian.Uint32(buf[4:])),
		CurrentID:      PageID(int32(binary.LittleEndian.Uint32(buf[8:]))),
		CurrentVersion: int32(binary.LittleEndian.Uint32(buf[12:])),
		PendingID:      PageID(int32(binary.LittleEndian.Uint32(buf[16:]))),
		PendingVersion: int32(binary.LittleEndian.Uint32(buf[20:])),
	}
}

// Rotate advances the link so that newHead becomes current: pending is
// filled with newHead, then pending->current and current->prior. It
// returns the page id bumped out of prior, if any, so the caller (the
// allocator) can free that chain once it is safe to do so.
func (l *VersionedLink) Rotate(newHead PageID) (evicted PageID) {
	l.PendingID = newHead
	l.PendingVersion = l.CurrentVersion + 1

	evicted = l.PriorID
	l.PriorID = l.CurrentID
	l.PriorVersion = l.CurrentVersion
	l.CurrentID = l.PendingID
	l.CurrentVersion = l.PendingVersion
	l.PendingID = NoPage

	return evicted
}

// PageReader loads and verifies a single page, matching the subset of
// [*Store] a VersionedLink needs to resolve itself without importing Store
// (which in turn embeds a VersionedLink-bearing header).
type PageReader interface {
	Read(id PageID, verify bool) (*Page, error)
}

// Resolve returns the chain head to use for reading: the current slot if it
// verifies cleanly, otherwise the prior slot. Returns [NoPage] if the link
// has never been written (both slots empty) and [ErrTornRotation] if
// neither slot's page passes CRC verification.
func (l VersionedLink) Resolve(store PageReader) (PageID, error) {
	if l.CurrentID == NoPage && l.PriorID == NoPage {
		return NoPage, nil
	}

	if l.CurrentID != NoPage {
		if _, err := store.Read(l.CurrentID, true); err == nil {
			return l.CurrentID, nil
		} else if !errors.Is(err, ErrCorruptPage) {
			return NoPage, err
		}
	}

	if l.PriorID != NoPage {
		if _, err := store.Read(l.PriorID, true); err == nil {
			return l.PriorID, nil
		}
	}

	return NoPage, fmt.Errorf("%w: neither current nor prior slot is valid", ErrTornRotation)
}
