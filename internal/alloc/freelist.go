package alloc

import (
	"encoding/binary"
	"fmt"

	"github.com/ALH477/StreamDb/internal/pagestore"
)

// entrySize is the on-disk size of one free-list entry (a page id).
const entrySize = 4

// freeListHeaderSize is the size, within a free-list page's data payload, of
// the next-free-list-page pointer and used-entry count that precede the
// page id array.
const freeListHeaderSize = 8

// Capacity is the number of page ids a single free-list page can hold,
// derived from the fixed page payload size rather than a fixed constant, so
// it tracks [pagestore.MaxDataLen] if the page layout ever changes.
const Capacity = (pagestore.MaxDataLen - freeListHeaderSize) / entrySize

// freeListPage is the parsed form of one free-list page's data payload.
type freeListPage struct {
	next    pagestore.PageID
	entries []pagestore.PageID // LIFO: entries[len-1] is the most recently pushed
}

func newFreeListPage() *freeListPage {
	return &freeListPage{next: pagestore.NoPage, entries: make([]pagestore.PageID, 0, Capacity)}
}

// encode writes the free-list page into the data payload of p.
func (f *freeListPage) encode(p *pagestore.Page) {
	binary.LittleEndian.PutUint32(p.Data[0:], uint32(f.next))
	binary.LittleEndian.PutUint32(p.Data[4:], uint32(len(f.entries)))

	for i, id := range f.entries {
		off := freeListHeaderSize + i*entrySize
		binary.LittleEndian.PutUint32(p.Data[off:], uint32(id))
	}

	p.DataLen = int32(freeListHeaderSize + len(f.entries)*entrySize)
}

// decodeFreeListPage parses a free-list page's data payload.
func decodeFreeListPage(p *pagestore.Page) (*freeListPage, error) {
	if p.DataLen < freeListHeaderSize {
		return nil, fmt.Errorf("alloc: free-list page %d: %w", p.ID, ErrCorruptFreeList)
	}

	next := pagestore.PageID(int32(binary.LittleEndian.Uint32(p.Data[0:])))
	used := int(binary.LittleEndian.Uint32(p.Data[4:]))

	if used < 0 || used > Capacity {
		return nil, fmt.Errorf("alloc: free-list page %d: %w", p.ID, ErrCorruptFreeList)
	}

	f := &freeListPage{next: next, entries: make([]pagestore.PageID, used)}

	for i := range used {
		off := freeListHeaderSize + i*entrySize
		if off+entrySize > int(p.DataLen) {
			return nil, fmt.Errorf("alloc: free-list page %d: %w", p.ID, ErrCorruptFreeList)
		}

		f.entries[i] = pagestore.PageID(int32(binary.LittleEndian.Uint32(p.Data[off:])))
	}

	return f, nil
}

func (f *freeListPage) full() bool {
	return len(f.entries) >= Capacity
}

func (f *freeListPage) empty() bool {
	return len(f.entries) == 0
}

func (f *freeListPage) push(id pagestore.PageID) {
	f.entries = append(f.entries, id)
}

func (f *freeListPage) pop() (pagestore.PageID, bool) {
	if len(f.entries) == 0 {
		return pagestore.NoPage, false
	}

	id := f.entries[len(f.entries)-1]
	f.entries = f.entries[:len(f.entries)-1]

	return id, true
}
