package docengine

import (
	"errors"
	"fmt"

	"github.com/ALH477/StreamDb/internal/alloc"
	"github.com/ALH477/StreamDb/internal/docid"
	"github.com/ALH477/StreamDb/internal/pagestore"
)

// ErrUnknownID is returned by [Engine.Read] when the given id has no entry
// in the indirection table.
var ErrUnknownID = errors.New("docengine: unknown document id")

// PersistRoot is invoked whenever the indirection table's own chain is
// rewritten and its root versioned link advances, so the owner (the
// database façade) can fold the new link into the database header. It
// mirrors [alloc.PersistRoot]; the façade is responsible for calling
// [*alloc.Allocator.Tick] after a successful call, since the two- rotation
// quarantine clock is shared across all three header roots.
type PersistRoot func(pagestore.VersionedLink) error

// Engine maps document ids to page chains. It owns the indirection table
// (itself a self-hosted document, chained through the same [WriteChain]/
// [ReadChain] primitives used for ordinary documents) and the three core
// mutating operations: write, read and delete. It holds no lock of its own;
// callers (the façade) are expected to serialize calls per the lock
// hierarchy in §5 of the design (the free-list lock covers allocation and
// indirection-table rotation).
type Engine struct {
	store *pagestore.Store
	alloc *alloc.Allocator

	table        map[docid.ID]tableEntry
	tableRoot    pagestore.VersionedLink
	tableVersion int32
	persistRoot  PersistRoot
}

// Open constructs an Engine over an already-resolved indirection-table root
// link, loading the table's current contents if one exists (a brand new
// database has an empty root and starts with an empty table).
func Open(store *pagestore.Store, allocator *alloc.Allocator, root pagestore.VersionedLink, persistRoot PersistRoot) (*Engine, error) {
	if store == nil || allocator == nil {
		panic("docengine: Open called with nil store or allocator")
	}

	e := &Engine{
		store:       store,
		alloc:       allocator,
		table:       make(map[docid.ID]tableEntry),
		tableRoot:   root,
		persistRoot: persistRoot,
	}

	headID, err := root.Resolve(store)
	if err != nil {
		return nil, fmt.Errorf("docengine: open: %w", err)
	}

	if headID != pagestore.NoPage {
		data, _, err := ReadChain(store, headID, true)
		if err != nil {
			return nil, fmt.Errorf("docengine: open: read indirection table: %w", err)
		}

		table, err := decodeTable(data)
		if err != nil {
			return nil, fmt.Errorf("docengine: open: %w", err)
		}

		e.table = table

		for _, entry := range table {
			if entry.Version > e.tableVersion {
				e.tableVersion = entry.Version
			}
		}
	}

	return e, nil
}

// Exists reports whether id has a live entry in the indirection table.
func (e *Engine) Exists(id docid.ID) bool {
	_, ok := e.table[id]

	return ok
}

// Write installs data as id's current document. If id already has an
// entry, this is an overwrite: a brand new chain is produced, the
// indirection entry is rotated to point at it, and the old chain is
// quarantined rather than freed immediately (§4.3's "Overwrite" is
// identical to a first write except for the quarantine step). If id has no
// entry, this is a fresh document.
func (e *Engine) Write(id docid.ID, data []byte) error {
	version := int32(1)
	if entry, ok := e.table[id]; ok {
		version = entry.Version + 1
	}

	head, _, err := WriteChain(e.store, e.alloc, data, version)
	if err != nil {
		return err
	}

	if err := e.store.Flush(); err != nil {
		return fmt.Errorf("docengine: write %s: %w", id, err)
	}

	old, existed := e.table[id]
	e.table[id] = tableEntry{FirstPageID: head, Version: version}

	superseded := pagestore.NoPage
	if existed {
		superseded = old.FirstPageID
	}

	if err := e.persistTable(superseded); err != nil {
		// Roll back the in-memory mutation: a failed persist must not
		// leave the table pointing at a chain the header doesn't durably
		// reference yet, or a same-process Read would see an uncommitted
		// write that a reopen would not.
		if existed {
			e.table[id] = old
		} else {
			delete(e.table, id)
		}

		return err
	}

	return nil
}

// Read resolves id to its current chain head and reads every byte of it.
// It returns [ErrUnknownID] if id has no entry.
func (e *Engine) Read(id docid.ID) ([]byte, error) {
	entry, ok := e.table[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownID, id)
	}

	data, _, err := ReadChain(e.store, entry.FirstPageID, false)
	if err != nil {
		return nil, fmt.Errorf("docengine: read %s: %w", id, err)
	}

	return data, nil
}

// Delete removes id's indirection entry and quarantines every page of its
// chain. Deleting an id with no entry is a silent no-op, matching the
// idempotent-delete invariant of §8.
func (e *Engine) Delete(id docid.ID) error {
	entry, ok := e.table[id]
	if !ok {
		return nil
	}

	delete(e.table, id)

	if err := e.persistTable(entry.FirstPageID); err != nil {
		e.table[id] = entry // roll back: persist failed, entry is still live on disk

		return err
	}

	return nil
}

// quarantineChain walks a chain purely to enumerate its page ids (the data
// is discarded) and hands them to the allocator's quarantine queue. head
// may be [pagestore.NoPage] (nothing to quarantine), which is a no-op. A
// corrupt chain here is tolerated: none of its pages are quarantined, and
// they are permanently leaked rather than risk freeing a page some other
// reader still depends on.
func (e *Engine) quarantineChain(head pagestore.PageID) error {
	if head == pagestore.NoPage {
		return nil
	}

	_, pages, err := ReadChain(e.store, head, false)
	if err != nil {
		return nil //nolint:nilerr // best-effort: see doc comment
	}

	e.alloc.Quarantine(pages)

	return nil
}

// persistTable re-serializes the whole indirection table into a fresh
// chain and rotates the table's own versioned link to point at it.
// supersededChain, if not [pagestore.NoPage], is the caller's own
// just-replaced or just-deleted document chain; it is quarantined here
// alongside the table's own evicted chain, both before persistRoot runs.
// Quarantining before persistRoot (rather than after, once it has
// internally ticked the shared clock via the façade's header-rotation
// callback) stamps both with the generation in effect just before this
// commit's own tick, so a chain superseded by a write is credited with
// that write's tick toward its two-rotation retention window — this is
// what lets three overwrites of one path free the first chain by the
// third write (§8).
func (e *Engine) persistTable(supersededChain pagestore.PageID) error {
	e.tableVersion++

	data := encodeTable(e.table)

	head, _, err := WriteChain(e.store, e.alloc, data, e.tableVersion)
	if err != nil {
		return fmt.Errorf("docengine: persist indirection table: %w", err)
	}

	if err := e.store.Flush(); err != nil {
		return fmt.Errorf("docengine: persist indirection table: %w", err)
	}

	evicted := e.tableRoot.Rotate(head)

	if err := e.quarantineChain(evicted); err != nil {
		return err
	}

	if err := e.quarantineChain(supersededChain); err != nil {
		return err
	}

	if e.persistRoot != nil {
		if err := e.persistRoot(e.tableRoot); err != nil {
			return fmt.Errorf("docengine: persist indirection table root: %w", err)
		}
	}

	return nil
}

// RootLink returns the indirection table's current versioned link, used by
// the façade to seed the database header at creation time and to report it
// back unchanged when nothing has been written yet.
func (e *Engine) RootLink() pagestore.VersionedLink {
	return e.tableRoot
}

// DocumentCount returns the number of live documents tracked by the
// indirection table, used by the façade's Statistics operation.
func (e *Engine) DocumentCount() int {
	return len(e.table)
}

// ReachablePages returns every page id currently in use by the indirection
// table's own chain plus every live document's chain. It is used to drive
// [alloc.Allocator.Recover]'s scan-based reconstruction when the persisted
// free-list chain itself turns out to be corrupt: anything not returned
// here, and not still in quarantine, is free. A single document's chain
// failing to walk is tolerated rather than aborting the whole scan: only
// its head page is reported as reachable; the pages after it are not.
func (e *Engine) ReachablePages() (map[pagestore.PageID]struct{}, error) {
	reachable := make(map[pagestore.PageID]struct{})

	tableHead, err := e.tableRoot.Resolve(e.store)
	if err != nil {
		return nil, fmt.Errorf("docengine: reachable pages: %w", err)
	}

	if tableHead != pagestore.NoPage {
		_, pages, err := ReadChain(e.store, tableHead, false)
		if err != nil {
			return nil, fmt.Errorf("docengine: reachable pages: %w", err)
		}

		for _, id := range pages {
			reachable[id] = struct{}{}
		}
	}

	for _, entry := range e.table {
		_, pages, err := ReadChain(e.store, entry.FirstPageID, false)
		if err != nil {
			// Tolerate a single corrupt document chain during recovery:
			// at minimum, its head page is still reachable from the table.
			reachable[entry.FirstPageID] = struct{}{}

			continue
		}

		for _, id := range pages {
			reachable[id] = struct{}{}
		}
	}

	return reachable, nil
}
