// Package streamdb is the Database Façade (§4.5): it composes the page
// store, free-page allocator, document engine and path index into the
// public surface listed in §6, and owns the lock hierarchy (§5) and the
// startup/shutdown bootstrap order (§9).
//
// A [Database] is not safe to use after [Database.Close]. All exported
// methods are safe for concurrent use by multiple goroutines, matching the
// "many concurrent readers, one writer" model the underlying engine is
// built for.
package streamdb

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/ALH477/StreamDb/internal/alloc"
	"github.com/ALH477/StreamDb/internal/docengine"
	"github.com/ALH477/StreamDb/internal/docid"
	"github.com/ALH477/StreamDb/internal/medium"
	"github.com/ALH477/StreamDb/internal/pagestore"
	"github.com/ALH477/StreamDb/internal/pathtrie"
)

// Stats reports the engine-wide counters behind the Statistics operation.
type Stats struct {
	// TotalPages is every page currently provisioned in the medium,
	// including the four reserved header/root pages.
	TotalPages int64
	// FreePages is the allocator's hot-list plus its persisted free-list
	// chain. Quarantined pages are not yet reusable and are excluded.
	FreePages int
}

// Database is the composed engine: one backing file, one page store, one
// allocator, one document engine, one path index. Construct with [Open].
type Database struct {
	med   medium.Medium
	store *pagestore.Store
	lock  *fileLock

	// pathMu is the path write lock (§5, tier 1): held exclusively for any
	// bind/unbind and path-index persistence, shared for path lookups.
	pathMu sync.RWMutex
	// writeMu is the free-list lock (§5, tier 2): held exclusively for
	// allocate/free and indirection-table mutation, shared for document
	// reads. The medium lock (§5, tier 3) lives inside *pagestore.Store and
	// is never exposed here.
	writeMu sync.RWMutex

	header pagestore.Header
	alloc  *alloc.Allocator
	docs   *docengine.Engine
	paths  *pathtrie.Store

	closed bool
}

// Open opens (creating if necessary) the database file at path, bootstraps
// the three header roots in the order the design notes require (free-list,
// then indirection table, then path trie, each possibly needing free pages
// from the one opened before it), and returns a ready [Database].
//
// Open returns [ErrBadMagic] if path names an existing, non-empty file
// whose header does not carry the StreamDb signature.
func Open(path string, opts ...Option) (*Database, error) {
	cfg := DefaultOptions()
	for _, opt := range opts {
		opt(&cfg)
	}

	if cfg.MediumFactory == nil {
		cfg.MediumFactory = openRealMedium
	}

	med, err := cfg.MediumFactory(path)
	if err != nil {
		return nil, fmt.Errorf("streamdb: open %s: %w", path, err)
	}

	var lock *fileLock

	if cfg.ProcessLock {
		lock, err = acquireFileLock(path)
		if err != nil {
			_ = med.Close()

			return nil, err
		}
	}

	db, err := openDatabase(med, cfg)
	if err != nil {
		if lock != nil {
			_ = lock.release()
		}

		_ = med.Close()

		return nil, err
	}

	db.lock = lock

	return db, nil
}

func openDatabase(med medium.Medium, cfg Options) (*Database, error) {
	length, err := med.Length()
	if err != nil {
		return nil, fmt.Errorf("streamdb: open: %w", err)
	}

	store, err := pagestore.OpenWithCacheSize(med, cfg.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("streamdb: open: %w", err)
	}

	store.SetQuickMode(cfg.QuickMode)

	db := &Database{med: med, store: store}

	var header pagestore.Header

	switch {
	case length == 0:
		// Fresh file: write the header ourselves rather than trying to
		// read one, per the design notes' "avoid circular dependency at
		// create-time by writing these three documents in a fixed order."
		header = pagestore.NewHeader()

		if err := store.WriteHeader(header); err != nil {
			return nil, fmt.Errorf("streamdb: open: initialize header: %w", err)
		}

		if err := store.Flush(); err != nil {
			return nil, fmt.Errorf("streamdb: open: initialize header: %w", err)
		}
	default:
		header, err = store.ReadHeader()
		if err != nil {
			if errors.Is(err, pagestore.ErrBadMagic) {
				return nil, fmt.Errorf("%w", ErrBadMagic)
			}

			return nil, fmt.Errorf("streamdb: open: %w", err)
		}
	}

	db.header = header

	// Bootstrap order from the design notes: free-list first (root 3),
	// then the indirection table (root 1, which may itself need free pages
	// during recovery), then the path trie (root 2).
	//
	// The free-list root is always opened empty and rebuilt below by a
	// full reachability scan, rather than trusting the persisted free-list
	// chain's page count: the in-memory quarantine queue (§4.2's
	// two-rotation retention window) is never itself persisted, so a page
	// quarantined by an overwrite or delete that hadn't yet cleared its
	// window at the moment of the last Close is neither reachable from any
	// header root nor present in the free-list chain once reopened — it
	// would otherwise leak permanently. A fresh open has no in-process
	// reader holding a pre-rotation view of any link, so every page the
	// scan finds unreachable is immediately safe to reuse regardless of
	// its quarantine status at shutdown.
	db.alloc, err = alloc.Open(store, pagestore.NewVersionedLink(), db.persistFreeRoot)
	if err != nil {
		return nil, fmt.Errorf("streamdb: open: free-list: %w", err)
	}

	db.docs, err = docengine.Open(store, db.alloc, header.IndexRoot, db.persistIndexRoot)
	if err != nil {
		return nil, fmt.Errorf("streamdb: open: indirection table: %w", err)
	}

	db.paths, err = pathtrie.Open(store, db.alloc, header.PathRoot, db.persistPathRoot)
	if err != nil {
		return nil, fmt.Errorf("streamdb: open: path index: %w", err)
	}

	if err := db.recoverFreeList(); err != nil {
		return nil, fmt.Errorf("streamdb: open: free-list: recovery: %w", err)
	}

	return db, nil
}

// recoverFreeList derives the free-page set as the complement of every
// page reachable from the indirection table and the path index, per
// §4.2's scan-based recovery, and hands it to the allocator.
func (d *Database) recoverFreeList() error {
	reachable, err := d.docs.ReachablePages()
	if err != nil {
		return err
	}

	pathReachable, err := d.paths.ReachablePages()
	if err != nil {
		return err
	}

	for id := range pathReachable {
		reachable[id] = struct{}{}
	}

	return d.alloc.Recover(reachable)
}

// persistFreeRoot, persistIndexRoot and persistPathRoot are the three
// PersistRoot callbacks handed to the allocator, document engine and path
// index respectively. Each folds its new versioned link into the in-memory
// header, writes and flushes page 0 (the "rotation flush" that must follow
// the "rotation write" per §5's ordering guarantees), and advances the
// allocator's shared quarantine clock: the two-rotation retention window is
// shared across all three header roots, so every rotation of any of them
// ticks it once.
func (d *Database) persistFreeRoot(link pagestore.VersionedLink) error {
	d.header.FreeRoot = link

	return d.commitHeaderRotation()
}

func (d *Database) persistIndexRoot(link pagestore.VersionedLink) error {
	d.header.IndexRoot = link

	return d.commitHeaderRotation()
}

func (d *Database) persistPathRoot(link pagestore.VersionedLink) error {
	d.header.PathRoot = link

	return d.commitHeaderRotation()
}

func (d *Database) commitHeaderRotation() error {
	if err := d.store.WriteHeader(d.header); err != nil {
		return fmt.Errorf("streamdb: persist header: %w", err)
	}

	if err := d.store.Flush(); err != nil {
		return fmt.Errorf("streamdb: persist header: %w", err)
	}

	if err := d.alloc.Tick(); err != nil {
		return fmt.Errorf("streamdb: persist header: %w", err)
	}

	return nil
}

// WriteDocument reads src in full and installs it as a new document bound
// to path, or, if path already names a document, overwrites that document
// in place (a brand new chain, per §4.3's Overwrite — never an in-place
// mutation of data pages).
//
// Per §5's "no reader starvation" guarantee, the path lock (tier 1) is held
// only around the trie lookup and, for a brand new path, the bind+persist
// step — never across the bulk page allocation and write below, so
// concurrent readers (Get, GetIDByPath, Search) are never blocked for the
// duration of a long write.
func (d *Database) WriteDocument(path string, src io.Reader) (docid.ID, error) {
	data, err := readAllLimited(src, docengine.MaxDocSize)
	if err != nil {
		return docid.Zero, err
	}

	d.pathMu.RLock()
	id, existing := d.paths.Trie.Lookup(path)
	d.pathMu.RUnlock()

	if !existing {
		id, err = docid.New()
		if err != nil {
			return docid.Zero, fmt.Errorf("streamdb: write %s: %w", path, err)
		}
	}

	d.writeMu.Lock()
	closed := d.closed
	if !closed {
		err = d.docs.Write(id, data)
	}
	d.writeMu.Unlock()

	if closed {
		return docid.Zero, ErrClosed
	}

	if err != nil {
		return docid.Zero, translateWriteErr(path, err)
	}

	if !existing {
		d.pathMu.Lock()
		d.paths.Trie.Bind(path, id)

		// Persist allocates pages and rotates the header, both covered by
		// the free-list lock (tier 2), taken after the path lock.
		d.writeMu.Lock()
		err = d.paths.Persist()
		d.writeMu.Unlock()

		if err != nil {
			// Roll back: the document itself is durable (its write already
			// succeeded), but the path binding isn't, and must not be
			// visible in memory if it isn't visible on disk.
			d.paths.Trie.Unbind(path)
			d.pathMu.Unlock()

			return docid.Zero, fmt.Errorf("streamdb: write %s: %w", path, err)
		}

		d.pathMu.Unlock()
	}

	return id, nil
}

// Get resolves path to its bound document and returns its full contents.
// A missing path is reported via the second return value, never an error,
// per §7. A corrupt chain is reported as an error distinct from not-found.
func (d *Database) Get(path string) ([]byte, bool, error) {
	d.pathMu.RLock()
	id, ok := d.paths.Trie.Lookup(path)
	d.pathMu.RUnlock()

	if !ok {
		return nil, false, nil
	}

	d.writeMu.RLock()
	defer d.writeMu.RUnlock()

	data, err := d.docs.Read(id)
	if err != nil {
		if errors.Is(err, docengine.ErrUnknownID) {
			return nil, false, nil
		}

		if errors.Is(err, docengine.ErrCorruptChain) {
			return nil, false, fmt.Errorf("%w: %w", ErrCorruptChain, err)
		}

		return nil, false, fmt.Errorf("streamdb: get %s: %w", path, err)
	}

	return data, true, nil
}

// GetIDByPath resolves path to its bound document id, if any.
func (d *Database) GetIDByPath(path string) (docid.ID, bool) {
	d.pathMu.RLock()
	defer d.pathMu.RUnlock()

	return d.paths.Trie.Lookup(path)
}

// DeleteByPath deletes the document bound to path, if any, and unbinds
// every path bound to that document (not just this one). A missing path is
// a silent no-op, matching the idempotent-delete invariant of §8.
func (d *Database) DeleteByPath(path string) error {
	d.pathMu.RLock()
	id, ok := d.paths.Trie.Lookup(path)
	d.pathMu.RUnlock()

	if !ok {
		return nil
	}

	return d.delete(id)
}

// DeleteByID deletes the document with the given id, if any, and unbinds
// every path bound to it. A missing id is a silent no-op.
func (d *Database) DeleteByID(id docid.ID) error {
	return d.delete(id)
}

// delete removes id's document and every path bound to it. Per §5's
// "no reader starvation" guarantee, the path lock (tier 1) is only taken
// around the final unbind+persist step; the document removal itself is
// covered by the free-list lock (tier 2) alone, so readers are never
// blocked for the duration of the bulk page-freeing work.
func (d *Database) delete(id docid.ID) error {
	d.writeMu.Lock()
	closed := d.closed
	exists := !closed && d.docs.Exists(id)

	var err error
	if exists {
		err = d.docs.Delete(id)
	}
	d.writeMu.Unlock()

	if closed {
		return ErrClosed
	}

	if !exists {
		return nil
	}

	if err != nil {
		return fmt.Errorf("streamdb: delete %s: %w", id, err)
	}

	d.pathMu.Lock()
	defer d.pathMu.Unlock()

	boundPaths := d.paths.Trie.ListFor(id)
	if len(boundPaths) == 0 {
		return nil
	}

	d.paths.Trie.UnbindAll(id)

	d.writeMu.Lock()
	err = d.paths.Persist()
	d.writeMu.Unlock()

	if err != nil {
		for _, p := range boundPaths {
			d.paths.Trie.Bind(p, id)
		}

		return fmt.Errorf("streamdb: delete %s: %w", id, err)
	}

	return nil
}

// BindToPath binds path to id, replacing any existing binding of that path
// (the design notes resolve the source spec's silence on rebinding a path
// already bound elsewhere as "replace"). It returns [ErrUnknownID] if id
// has no live document.
func (d *Database) BindToPath(id docid.ID, path string) error {
	d.pathMu.Lock()
	defer d.pathMu.Unlock()

	d.writeMu.Lock()
	defer d.writeMu.Unlock()

	if d.closed {
		return ErrClosed
	}

	if !d.docs.Exists(id) {
		return fmt.Errorf("%w: %s", ErrUnknownID, id)
	}

	prevID, hadPrev := d.paths.Trie.Lookup(path)

	d.paths.Trie.Bind(path, id)

	if err := d.paths.Persist(); err != nil {
		if hadPrev {
			d.paths.Trie.Bind(path, prevID)
		} else {
			d.paths.Trie.Unbind(path)
		}

		return fmt.Errorf("streamdb: bind %s -> %s: %w", path, id, err)
	}

	return nil
}

// UnbindPath removes path's binding to id, if it is currently bound to id.
// Unbinding an absent or differently-bound path is a silent no-op.
func (d *Database) UnbindPath(id docid.ID, path string) error {
	d.pathMu.Lock()
	defer d.pathMu.Unlock()

	bound, ok := d.paths.Trie.Lookup(path)
	if !ok || bound != id {
		return nil
	}

	d.writeMu.Lock()
	defer d.writeMu.Unlock()

	if d.closed {
		return ErrClosed
	}

	d.paths.Trie.Unbind(path)

	if err := d.paths.Persist(); err != nil {
		d.paths.Trie.Bind(path, id)

		return fmt.Errorf("streamdb: unbind %s: %w", path, err)
	}

	return nil
}

// Search returns every bound path beginning with prefix.
func (d *Database) Search(prefix string) *PathIterator {
	d.pathMu.RLock()
	defer d.pathMu.RUnlock()

	return newPathIterator(d.paths.Trie.Search(prefix))
}

// ListPaths returns every path currently bound to id. It returns
// [ErrUnknownID] if id has no live document.
func (d *Database) ListPaths(id docid.ID) (*PathIterator, error) {
	d.pathMu.RLock()
	defer d.pathMu.RUnlock()

	d.writeMu.RLock()
	exists := d.docs.Exists(id)
	d.writeMu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrUnknownID, id)
	}

	return newPathIterator(d.paths.Trie.ListFor(id)), nil
}

// Flush forces any buffered writes through to durable storage. Every
// document-level and path-level mutation already flushes before returning
// (§5's ordering guarantees), so this is primarily useful after toggling
// [Database.SetQuickMode] or as an explicit pre-shutdown checkpoint.
func (d *Database) Flush() error {
	if err := d.store.Flush(); err != nil {
		return fmt.Errorf("streamdb: flush: %w", err)
	}

	return nil
}

// Statistics reports the engine-wide page counters.
func (d *Database) Statistics() (Stats, error) {
	d.writeMu.RLock()
	defer d.writeMu.RUnlock()

	return Stats{
		TotalPages: d.store.PageCount(),
		FreePages:  d.alloc.Count(),
	}, nil
}

// SetQuickMode toggles this database's CRC-verification switch: when
// enabled, reads trust the stored data length and skip the checksum
// comparison. Writes always recompute and store a correct CRC regardless.
// The switch belongs to this Database's page store; other open databases
// in the same process are not affected.
func (d *Database) SetQuickMode(enabled bool) {
	d.store.SetQuickMode(enabled)
}

// QuickMode reports whether quick mode is currently enabled.
func (d *Database) QuickMode() bool {
	return d.store.QuickMode()
}

// Close flushes and releases the backing medium and, if held, the optional
// process lock. Close is idempotent.
func (d *Database) Close() error {
	d.pathMu.Lock()
	defer d.pathMu.Unlock()

	d.writeMu.Lock()
	defer d.writeMu.Unlock()

	if d.closed {
		return nil
	}

	d.closed = true

	var errs []error

	if err := d.store.Flush(); err != nil {
		errs = append(errs, err)
	}

	if err := d.store.Close(); err != nil {
		errs = append(errs, err)
	}

	if d.lock != nil {
		if err := d.lock.release(); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("streamdb: close: %w", errors.Join(errs...))
	}

	return nil
}

// readAllLimited reads src to completion, failing with [ErrTooLarge] if
// more than limit bytes are present, without ever buffering more than
// limit+1 bytes to find that out.
func readAllLimited(src io.Reader, limit int) ([]byte, error) {
	if src == nil {
		panic("streamdb: WriteDocument called with nil source")
	}

	data, err := io.ReadAll(io.LimitReader(src, int64(limit)+1))
	if err != nil {
		return nil, fmt.Errorf("streamdb: read source: %w", err)
	}

	if len(data) > limit {
		return nil, fmt.Errorf("%w: exceeds %d bytes", ErrTooLarge, limit)
	}

	return data, nil
}

// translateWriteErr maps an internal docengine error to the façade's public
// error taxonomy (§7), wrapping with path context otherwise.
func translateWriteErr(path string, err error) error {
	switch {
	case errors.Is(err, docengine.ErrTooLarge):
		return fmt.Errorf("%w", ErrTooLarge)
	case errors.Is(err, medium.ErrOutOfSpace):
		return fmt.Errorf("%w: %w", ErrOutOfSpace, err)
	default:
		return fmt.Errorf("streamdb: write %s: %w", path, err)
	}
}
