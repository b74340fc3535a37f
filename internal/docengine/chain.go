// Package docengine implements the document engine described in the
// engine's component design: it maps document ids to page chains, reads
// and writes arbitrary-length byte streams atop those chains, and owns the
// self-hosted indirection table (document id -> first page id). The path
// index in internal/pathtrie is "persisted through the Document Engine" per
// the data model, meaning it reuses the chain primitives this package
// exports rather than duplicating them.
package docengine

import (
	"errors"
	"fmt"

	"github.com/ALH477/StreamDb/internal/alloc"
	"github.com/ALH477/StreamDb/internal/pagestore"
)

// MaxDocSize is the maximum serialized size of a single document: 256 MiB,
// roughly 68,000 pages at MaxDataLen bytes each.
const MaxDocSize = 256 << 20

// ErrTooLarge is returned when a byte stream exceeds [MaxDocSize].
var ErrTooLarge = errors.New("docengine: document too large")

// ErrCorruptChain is returned when walking a page chain finds a
// prev/next/version inconsistency: a page's version is lower than the
// version of the page before it in chain order. A single corrupt chain
// surfaces to the caller of that read; it does not affect other documents.
var ErrCorruptChain = errors.New("docengine: corrupt chain")

// WriteChain splits data into MaxDataLen-sized fragments, allocates one page
// per fragment (zero fragments still allocate a single empty page so that
// an empty document has a valid, readable head), links them head-to-tail,
// stamps every page with version, and writes them through the page store.
// It does not flush; callers that need durability (any document-level
// write) must call the store's Flush themselves once all chains for the
// operation are written, per the ordering in §4.3 of the design: data pages
// before flush, flush before the root rotation.
//
// WriteChain returns the chain's head page id and the full list of page ids
// it allocated, so the caller can quarantine them later if the chain is
// ever superseded or deleted.
func WriteChain(store *pagestore.Store, allocator *alloc.Allocator, data []byte, version int32) (pagestore.PageID, []pagestore.PageID, error) {
	if len(data) > MaxDocSize {
		return pagestore.NoPage, nil, fmt.Errorf("%w: %d bytes", ErrTooLarge, len(data))
	}

	if len(data) == 0 {
		id, err := allocator.Allocate()
		if err != nil {
			return pagestore.NoPage, nil, fmt.Errorf("docengine: write chain: %w", err)
		}

		p := pagestore.NewPage(id)
		p.Version = version

		if err := store.Write(p); err != nil {
			return pagestore.NoPage, nil, fmt.Errorf("docengine: write chain: %w", err)
		}

		return id, []pagestore.PageID{id}, nil
	}

	var (
		pageIDs  []pagestore.PageID
		headID   = pagestore.NoPage
		prevID   = pagestore.NoPage
		prevPage *pagestore.Page
	)

	for offset := 0; offset < len(data); offset += pagestore.MaxDataLen {
		end := offset + pagestore.MaxDataLen
		if end > len(data) {
			end = len(data)
		}

		id, err := allocator.Allocate()
		if err != nil {
			return pagestore.NoPage, nil, fmt.Errorf("docengine: write chain: %w", err)
		}

		p := pagestore.NewPage(id)
		p.Version = version
		p.DataLen = int32(end - offset)
		copy(p.Data[:], data[offset:end])

		if prevPage != nil {
			prevPage.Next = id
			p.Prev = prevID

			if err := store.Write(prevPage); err != nil {
				return pagestore.NoPage, nil, fmt.Errorf("docengine: write chain: %w", err)
			}
		} else {
			headID = id
		}

		pageIDs = append(pageIDs, id)
		prevID, prevPage = id, p
	}

	if err := store.Write(prevPage); err != nil {
		return pagestore.NoPage, nil, fmt.Errorf("docengine: write chain: %w", err)
	}

	return headID, pageIDs, nil
}

// ReadChain walks the page chain starting at head, concatenating each
// page's data in order. verify forces CRC checking on every page
// regardless of quick mode, used by callers (loading the indirection table
// and the path trie on open) that must not silently tolerate corruption.
//
// Page versions must be non-decreasing along the chain; a decrease
// indicates a torn rotation caught mid-write and is reported as
// [ErrCorruptChain]. ReadChain also returns the list of page ids visited,
// so callers can quarantine them on delete/overwrite.
func ReadChain(store *pagestore.Store, head pagestore.PageID, verify bool) ([]byte, []pagestore.PageID, error) {
	var (
		buf         []byte
		pages       []pagestore.PageID
		lastVersion int32
		first       = true
		id          = head
	)

	for id != pagestore.NoPage {
		page, err := store.Read(id, verify)
		if err != nil {
			return nil, nil, fmt.Errorf("docengine: read chain: %w", err)
		}

		if !first && page.Version < lastVersion {
			return nil, nil, fmt.Errorf("%w: page %d version %d < %d", ErrCorruptChain, id, page.Version, lastVersion)
		}

		lastVersion = page.Version
		first = false

		buf = append(buf, page.Data[:page.DataLen]...)
		pages = append(pages, id)
		id = page.Next
	}

	return buf, pages, nil
}
