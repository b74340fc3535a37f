// Package alloc implements the free-page allocator: an in-memory LIFO
// hot-list backed by a persisted chain of free-list pages, cooperating with
// the versioned-link rotation discipline to give every freed page a
// two-rotation quarantine before reuse.
package alloc

import (
	"errors"
	"fmt"

	"github.com/ALH477/StreamDb/internal/pagestore"
)

// ErrCorruptFreeList is returned when a free-list page's payload cannot be
// parsed (distinct from a page-level CRC failure, which surfaces as
// [pagestore.ErrCorruptPage]). Either condition should send the caller to
// [Allocator.Recover].
var ErrCorruptFreeList = errors.New("alloc: corrupt free-list page")

// quarantineGenerations is how many additional rotations a quarantined page
// must survive before it is safe to reuse: a page quarantined during
// rotation N is released once generation N+2 is reached, i.e. the second
// successful rotation counting the one that quarantined it (the third
// counting the rotation that installed the superseded page).
const quarantineGenerations = 2

// hotListThreshold is the in-memory LIFO size above which [Allocator.Free]
// drains into the persisted free-list chain.
const hotListThreshold = 64

// PersistRoot is called whenever the free-list-root versioned link's head
// identity changes, so the owner (the database façade) can fold the new
// link into the database header and write it out. It is never called
// concurrently with itself.
type PersistRoot func(pagestore.VersionedLink) error

type quarantineEntry struct {
	pages      []pagestore.PageID
	generation int64
}

// Allocator hands out and reclaims page ids. It owns the in-memory hot-list
// and the persisted free-list page chain; it does not own the medium or
// page cache, both of which belong to the [pagestore.Store] it is given.
type Allocator struct {
	store *pagestore.Store

	hot           []pagestore.PageID
	root          pagestore.VersionedLink
	persistRoot   PersistRoot
	freeListCount int
	nextID        pagestore.PageID

	quarantine []quarantineEntry
	generation int64
}

// Open constructs an allocator over an already-resolved free-list root link.
// It walks the persisted chain once to establish the free-list's current
// entry count; a [pagestore.ErrCorruptPage] or [ErrCorruptFreeList] error
// here means the caller should fall back to [Allocator.Recover].
func Open(store *pagestore.Store, root pagestore.VersionedLink, persistRoot PersistRoot) (*Allocator, error) {
	if store == nil {
		panic("alloc: Open called with nil store")
	}

	a := &Allocator{
		store:       store,
		root:        root,
		persistRoot: persistRoot,
		nextID:      pagestore.PageID(store.PageCount()),
	}

	headID, err := root.Resolve(store)
	if err != nil {
		return nil, fmt.Errorf("alloc: open: %w", err)
	}

	for headID != pagestore.NoPage {
		page, err := store.Read(headID, true)
		if err != nil {
			return nil, fmt.Errorf("alloc: open: walk free list: %w", err)
		}

		fl, err := decodeFreeListPage(page)
		if err != nil {
			return nil, err
		}

		a.freeListCount += len(fl.entries)
		headID = fl.next
	}

	return a, nil
}

// Count returns the total number of pages currently available for reuse:
// the in-memory hot-list plus every entry in the persisted free-list chain.
// Quarantined pages are not counted; they are not yet reusable.
func (a *Allocator) Count() int {
	return len(a.hot) + a.freeListCount
}

// Allocate returns a page id ready for reuse, preferring the hot-list, then
// the persisted free-list chain, then extending the file by one page.
func (a *Allocator) Allocate() (pagestore.PageID, error) {
	if n := len(a.hot); n > 0 {
		id := a.hot[n-1]
		a.hot = a.hot[:n-1]

		return id, nil
	}

	headID, err := a.root.Resolve(a.store)
	if err != nil {
		return pagestore.NoPage, fmt.Errorf("alloc: allocate: %w", err)
	}

	if headID == pagestore.NoPage {
		return a.extend(), nil
	}

	page, err := a.store.Read(headID, true)
	if err != nil {
		return pagestore.NoPage, fmt.Errorf("alloc: allocate: %w", err)
	}

	fl, err := decodeFreeListPage(page)
	if err != nil {
		return pagestore.NoPage, err
	}

	id, ok := fl.pop()
	if !ok {
		return a.extend(), nil
	}

	a.freeListCount--

	if fl.empty() {
		// The head page is now empty; it becomes free itself, and the
		// chain's head moves to whatever it pointed to next.
		next := fl.next
		a.hot = append(a.hot, headID)

		if err := a.rotateRootLocked(next); err != nil {
			return pagestore.NoPage, err
		}

		return id, nil
	}

	fl.encode(page)

	if err := a.store.Write(page); err != nil {
		return pagestore.NoPage, fmt.Errorf("alloc: allocate: %w", err)
	}

	return id, nil
}

// extend reserves a brand-new page id past the end of the store. The page
// itself is only materialized in the medium when the caller writes to it.
func (a *Allocator) extend() pagestore.PageID {
	id := a.nextID
	a.nextID++

	return id
}

// Free returns id to the allocator for immediate reuse; it does not pass
// through quarantine (see [Allocator.Quarantine] for that). Callers that
// know a page was never part of a reader-visible chain (e.g. a page that
// failed mid-write and was never installed anywhere) may free it directly.
func (a *Allocator) Free(id pagestore.PageID) error {
	return a.freeLocked(id)
}

func (a *Allocator) freeLocked(id pagestore.PageID) error {
	a.hot = append(a.hot, id)

	if len(a.hot) > hotListThreshold {
		return a.drainLocked()
	}

	return nil
}

// drainLocked moves the entire hot-list into the persisted free-list chain.
func (a *Allocator) drainLocked() error {
	origHead, err := a.root.Resolve(a.store)
	if err != nil {
		return fmt.Errorf("alloc: drain: %w", err)
	}

	headID := origHead

	var (
		page *pagestore.Page
		fl   *freeListPage
	)

	if headID == pagestore.NoPage {
		headID = a.extend()
		page = pagestore.NewPage(headID)
		fl = newFreeListPage()
	} else {
		page, err = a.store.Read(headID, true)
		if err != nil {
			return fmt.Errorf("alloc: drain: %w", err)
		}

		fl, err = decodeFreeListPage(page)
		if err != nil {
			return err
		}
	}

	for len(a.hot) > 0 {
		if fl.full() {
			fl.encode(page)

			if err := a.store.Write(page); err != nil {
				return fmt.Errorf("alloc: drain: %w", err)
			}

			newID := a.extend()
			newPage := pagestore.NewPage(newID)
			newFL := newFreeListPage()
			newFL.next = headID

			page, fl, headID = newPage, newFL, newID
		}

		n := len(a.hot)
		id := a.hot[n-1]
		a.hot = a.hot[:n-1]

		fl.push(id)
		a.freeListCount++
	}

	fl.encode(page)

	if err := a.store.Write(page); err != nil {
		return fmt.Errorf("alloc: drain: %w", err)
	}

	if headID != origHead {
		if err := a.rotateRootLocked(headID); err != nil {
			return err
		}
	}

	return nil
}

// rotateRootLocked advances the free-list-root versioned link to newHead
// and persists it. A page bumped out of the prior slot is itself put into
// quarantine rather than freed immediately: a reader that resolved the link
// just before the rotation may still be reading it via the prior slot.
func (a *Allocator) rotateRootLocked(newHead pagestore.PageID) error {
	evicted := a.root.Rotate(newHead)

	// Quarantine before persistRoot, not after: persistRoot's own call
	// chain ends in Tick (the façade ticks the shared clock once its
	// header write lands), so an entry recorded afterward would already
	// be stamped with this rotation's post-tick generation, costing it an
	// extra generation before release.
	if evicted != pagestore.NoPage {
		a.quarantine = append(a.quarantine, quarantineEntry{
			pages:      []pagestore.PageID{evicted},
			generation: a.generation,
		})
	}

	if a.persistRoot != nil {
		if err := a.persistRoot(a.root); err != nil {
			return fmt.Errorf("alloc: persist free-list root: %w", err)
		}
	}

	return nil
}

// Quarantine defers freeing pages (typically an overwritten or deleted
// document's old chain) until [quarantineGenerations] further rotations
// have completed, matching the three-version retention policy: a reader
// that began before the rotation that orphaned these pages is guaranteed
// the prior slot, and therefore these pages, remain valid for its lifetime.
func (a *Allocator) Quarantine(pages []pagestore.PageID) {
	if len(pages) == 0 {
		return
	}

	cp := make([]pagestore.PageID, len(pages))
	copy(cp, pages)

	a.quarantine = append(a.quarantine, quarantineEntry{pages: cp, generation: a.generation})
}

// Recover rebuilds the free-list from scratch after the persisted
// free-list chain itself fails to parse ([pagestore.ErrCorruptPage] or
// [ErrCorruptFreeList] surfacing from [Open]), per §4.2's failure policy:
// walk the chain (not attempted here — it already failed), collect
// reachable ids from the indirection table, derive free ids as the
// complement. reachable must contain every page id currently in use by a
// live document chain or index structure, collected by the caller (the
// document engine's indirection table, its own chain, and the path
// index's chain); every other provisioned page id is assumed free, except
// pages already in this allocator's quarantine queue, which are still
// within their retention window and must not be freed early.
//
// Recover discards any partially-read free-list state, resets the
// free-list root to empty, and immediately persists the rebuilt chain.
func (a *Allocator) Recover(reachable map[pagestore.PageID]struct{}) error {
	a.hot = a.hot[:0]
	a.freeListCount = 0

	quarantined := make(map[pagestore.PageID]struct{})

	for _, entry := range a.quarantine {
		for _, id := range entry.pages {
			quarantined[id] = struct{}{}
		}
	}

	for id := pagestore.PageID(pagestore.ReservedPages); id < a.nextID; id++ {
		if _, ok := reachable[id]; ok {
			continue
		}

		if _, ok := quarantined[id]; ok {
			continue
		}

		a.hot = append(a.hot, id)
	}

	a.root = pagestore.NewVersionedLink()

	if len(a.hot) == 0 {
		if a.persistRoot != nil {
			if err := a.persistRoot(a.root); err != nil {
				return fmt.Errorf("alloc: recover: %w", err)
			}
		}

		return nil
	}

	return a.drainLocked()
}

// Tick records that a root rotation has completed and releases any
// quarantined pages whose retention window has elapsed. Callers invoke this
// once per completed rotation of any of the three header roots: the
// quarantine clock is shared across the indirection table, the path trie
// and the free list itself.
func (a *Allocator) Tick() error {
	a.generation++

	var remaining []quarantineEntry

	for _, entry := range a.quarantine {
		if a.generation-entry.generation >= quarantineGenerations {
			for _, id := range entry.pages {
				if err := a.freeLocked(id); err != nil {
					return fmt.Errorf("alloc: tick: release quarantine: %w", err)
				}
			}

			continue
		}

		remaining = append(remaining, entry)
	}

	a.quarantine = remaining

	return nil
}
