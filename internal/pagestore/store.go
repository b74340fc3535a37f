package pagestore

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ALH477/StreamDb/internal/medium"
)

// defaultCacheSize is the number of parsed pages kept warm in the LRU cache.
const defaultCacheSize = 256

// ReservedPages is the number of low page ids the store never hands out to
// callers: id 0 is the database header, ids 1-3 are conceptually the
// indirection-root, path-lookup-root and free-list-root slots even though
// their versioned-link bytes live inside the header page itself (see
// [Header]). Content pages begin at id 4.
const ReservedPages = 4

// ErrOutOfRange is returned when a requested page id has never been
// allocated (is beyond the current file length).
var ErrOutOfRange = errors.New("pagestore: page id out of range")

// Store is the paged-file layer: it turns a [medium.Medium] into a
// CRC-verified, cached sequence of fixed-size [Page] records. It holds no
// opinion about what the pages mean; that belongs to the allocator and
// document engine layered on top.
type Store struct {
	mu    sync.Mutex
	med   medium.Medium
	cache *lru
	quick atomic.Bool // when true, reads skip CRC verification
	count int64       // total pages currently provisioned in the medium
}

// Open wraps med as a page store. If the medium is empty, it is extended to
// hold exactly [ReservedPages] pages so that content pages start at id 4.
// The page cache is sized to [defaultCacheSize]; callers that want a
// different capacity (the façade's Options.CacheSize) should use
// [OpenWithCacheSize] instead.
func Open(med medium.Medium) (*Store, error) {
	return OpenWithCacheSize(med, defaultCacheSize)
}

// OpenWithCacheSize is [Open] with an explicit LRU capacity, in pages.
func OpenWithCacheSize(med medium.Medium, cacheSize int) (*Store, error) {
	if med == nil {
		panic("pagestore: Open called with nil medium")
	}

	length, err := med.Length()
	if err != nil {
		return nil, fmt.Errorf("pagestore: open: %w", err)
	}

	s := &Store{med: med, cache: newLRU(cacheSize)}

	if length == 0 {
		if err := med.Extend(ReservedPages * PageSize); err != nil {
			return nil, fmt.Errorf("pagestore: open: reserve header pages: %w", err)
		}

		length = ReservedPages * PageSize
	}

	s.count = length / PageSize

	return s, nil
}

// SetQuickMode toggles CRC verification on reads. When enabled, [Store.Read]
// trusts the stored data length and skips the checksum comparison; corrupt
// pages are then only caught incidentally, by downstream consumers choking
// on malformed bytes.
func (s *Store) SetQuickMode(enabled bool) {
	s.quick.Store(enabled)
}

// QuickMode reports whether CRC verification is currently disabled.
func (s *Store) QuickMode() bool {
	return s.quick.Load()
}

// PageCount returns the number of pages currently provisioned in the medium,
// including the reserved header pages.
func (s *Store) PageCount() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.count
}

// Read loads the page for id, consulting the cache first. verify forces CRC
// checking regardless of quick mode; pass true for any caller that must
// detect corruption (allocator recovery scans, versioned-link resolution).
func (s *Store) Read(id PageID, verify bool) (*Page, error) {
	if id < 0 {
		return nil, fmt.Errorf("pagestore: read: %w: %d", ErrOutOfRange, id)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if id >= PageID(s.count) {
		return nil, fmt.Errorf("pagestore: read: %w: %d", ErrOutOfRange, id)
	}

	if !verify {
		if page, ok := s.cache.get(id); ok {
			return page, nil
		}
	}

	var raw [PageSize]byte

	n, err := s.med.ReadAt(raw[:], id.Offset())
	if err != nil {
		return nil, fmt.Errorf("pagestore: read page %d: %w", id, err)
	}

	if n != PageSize {
		return nil, fmt.Errorf("pagestore: read page %d: %w", id, medium.ErrShortRead)
	}

	doVerify := verify || !s.quick.Load()

	page, err := Decode(id, raw, doVerify)
	if err != nil {
		return nil, err
	}

	s.cache.put(id, page)

	return page, nil
}

// Write serializes page and writes it to its slot, invalidating and
// re-populating the cache entry. The medium is extended first if page.ID
// falls beyond the currently provisioned range.
func (s *Store) Write(page *Page) error {
	if page == nil {
		panic("pagestore: Write called with nil page")
	}

	if page.DataLen < 0 || int(page.DataLen) > MaxDataLen {
		return fmt.Errorf("pagestore: write page %d: %w", page.ID, ErrBadDataLen)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.growLocked(page.ID); err != nil {
		return err
	}

	raw := page.Encode()

	n, err := s.med.WriteAt(raw[:], page.ID.Offset())
	if err != nil {
		return fmt.Errorf("pagestore: write page %d: %w", page.ID, err)
	}

	if n != PageSize {
		return fmt.Errorf("pagestore: write page %d: %w", page.ID, medium.ErrShortWrite)
	}

	s.cache.put(page.ID, page)

	return nil
}

// growLocked extends the medium, if needed, so that id is addressable.
func (s *Store) growLocked(id PageID) error {
	if id < PageID(s.count) {
		return nil
	}

	extra := int64(id) - s.count + 1

	if err := s.med.Extend(extra * PageSize); err != nil {
		return fmt.Errorf("pagestore: extend for page %d: %w", id, err)
	}

	s.count += extra

	return nil
}

// Invalidate drops id from the cache, forcing the next read to go to the
// medium, e.g. after the page's bytes were changed directly through the
// medium rather than through [Store.Write].
func (s *Store) Invalidate(id PageID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cache.invalidate(id)
}

// Flush commits all writes to stable storage.
func (s *Store) Flush() error {
	if err := s.med.Flush(); err != nil {
		return fmt.Errorf("pagestore: flush: %w", err)
	}

	return nil
}

// Close releases the underlying medium.
func (s *Store) Close() error {
	if err := s.med.Close(); err != nil {
		return fmt.Errorf("pagestore: close: %w", err)
	}

	return nil
}

// compile-time check that Store satisfies the narrow interface VersionedLink.Resolve needs.
var _ PageReader = (*Store)(nil)
