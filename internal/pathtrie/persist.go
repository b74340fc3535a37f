package pathtrie

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"

	"github.com/ALH477/StreamDb/internal/alloc"
	"github.com/ALH477/StreamDb/internal/docengine"
	"github.com/ALH477/StreamDb/internal/docid"
	"github.com/ALH477/StreamDb/internal/pagestore"
)

// ErrCorruptTrie is returned when the persisted trie's bytes cannot be
// parsed back into a consistent node set.
var ErrCorruptTrie = errors.New("pathtrie: corrupt trie")

// PersistRoot is invoked whenever the trie's chain is rewritten and its
// root versioned link advances, mirroring [docengine.PersistRoot]. The
// façade folds the new link into the database header.
type PersistRoot func(pagestore.VersionedLink) error

// Store wires a [Trie] to its persisted chain: the page store, allocator
// and path-lookup-root versioned link it is chained through, via the
// [docengine.WriteChain]/[docengine.ReadChain] primitives the data model
// says the path index reuses from the document engine.
type Store struct {
	store       *pagestore.Store
	alloc       *alloc.Allocator
	root        pagestore.VersionedLink
	version     int32
	persistRoot PersistRoot

	Trie *Trie
}

// Open loads the trie from its persisted chain (or starts a fresh, empty
// trie if the root has never been written).
func Open(store *pagestore.Store, allocator *alloc.Allocator, root pagestore.VersionedLink, persistRoot PersistRoot) (*Store, error) {
	if store == nil || allocator == nil {
		panic("pathtrie: Open called with nil store or allocator")
	}

	s := &Store{store: store, alloc: allocator, root: root, persistRoot: persistRoot, Trie: New()}

	headID, err := root.Resolve(store)
	if err != nil {
		return nil, fmt.Errorf("pathtrie: open: %w", err)
	}

	if headID == pagestore.NoPage {
		return s, nil
	}

	data, _, err := docengine.ReadChain(store, headID, true)
	if err != nil {
		return nil, fmt.Errorf("pathtrie: open: %w", err)
	}

	trie, err := decode(data)
	if err != nil {
		return nil, fmt.Errorf("pathtrie: open: %w", err)
	}

	s.Trie = trie

	return s, nil
}

// Persist re-serializes the whole trie into a fresh chain, rotates the
// trie's versioned link, and invokes persistRoot so the façade can fold it
// into the database header. Ticking the shared allocator clock is left to
// persistRoot (the façade's callback ticks once its header write lands),
// same as for a [docengine.Engine] indirection-table rotation.
func (s *Store) Persist() error {
	s.version++

	data := encode(s.Trie)

	head, _, err := docengine.WriteChain(s.store, s.alloc, data, s.version)
	if err != nil {
		return fmt.Errorf("pathtrie: persist: %w", err)
	}

	if err := s.store.Flush(); err != nil {
		return fmt.Errorf("pathtrie: persist: %w", err)
	}

	evicted := s.root.Rotate(head)

	// Quarantine before persistRoot: persistRoot's callback chain ends in
	// the façade ticking the shared allocator clock, so recording this
	// entry afterward would stamp it with the post-tick generation and
	// delay its release by a whole extra rotation (see [docengine.Engine]'s
	// persistTable for the full reasoning, since the trie's own root
	// rotation follows the identical discipline).
	if evicted != pagestore.NoPage {
		if _, pages, err := docengine.ReadChain(s.store, evicted, false); err == nil {
			s.alloc.Quarantine(pages)
		}
	}

	if s.persistRoot != nil {
		if err := s.persistRoot(s.root); err != nil {
			return fmt.Errorf("pathtrie: persist root: %w", err)
		}
	}

	return nil
}

// RootLink returns the trie's current versioned link.
func (s *Store) RootLink() pagestore.VersionedLink {
	return s.root
}

// ReachablePages returns every page id currently in use by the trie's own
// persisted chain, for [alloc.Allocator.Recover]'s scan-based
// reconstruction.
func (s *Store) ReachablePages() (map[pagestore.PageID]struct{}, error) {
	reachable := make(map[pagestore.PageID]struct{})

	head, err := s.root.Resolve(s.store)
	if err != nil {
		return nil, fmt.Errorf("pathtrie: reachable pages: %w", err)
	}

	if head == pagestore.NoPage {
		return reachable, nil
	}

	_, pages, err := docengine.ReadChain(s.store, head, false)
	if err != nil {
		return nil, fmt.Errorf("pathtrie: reachable pages: %w", err)
	}

	for _, id := range pages {
		reachable[id] = struct{}{}
	}

	return reachable, nil
}

// --- wire format ---
//
// [nodeCount uint32]
// per node, in DFS pre-order (root is node 0):
//   [char int32] [parentIndex int32] [hasID byte] [id [16]byte]
//   [childCount uint32]
//   per child, sorted by rune: [char int32] [childIndex int32]

// encode serializes t into its DFS pre-order wire form. Node indices are
// assigned in a full walk before any record is written, so every parent and
// child reference in the output is a valid node index.
func encode(t *Trie) []byte {
	index := make(map[*node]int)

	var order []*node

	var assign func(n *node)

	assign = func(n *node) {
		index[n] = len(order)
		order = append(order, n)

		for _, child := range sortedChildren(n) {
			assign(child)
		}
	}

	assign(t.root)

	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, uint32(len(order)))

	for _, n := range order {
		parentIdx := int32(-1)
		if n.parent != nil {
			parentIdx = int32(index[n.parent])
		}

		var row [4 + 4 + 1 + docid.Size]byte
		binary.LittleEndian.PutUint32(row[0:], uint32(n.char))
		binary.LittleEndian.PutUint32(row[4:], uint32(parentIdx))

		if n.hasID {
			row[8] = 1
			copy(row[9:], n.id.Bytes())
		}

		buf = append(buf, row[:]...)

		children := sortedChildren(n)

		childCount := make([]byte, 4)
		binary.LittleEndian.PutUint32(childCount, uint32(len(children)))
		buf = append(buf, childCount...)

		for _, child := range children {
			var childRow [8]byte
			binary.LittleEndian.PutUint32(childRow[0:], uint32(child.char))
			binary.LittleEndian.PutUint32(childRow[4:], uint32(index[child]))
			buf = append(buf, childRow[:]...)
		}
	}

	return buf
}

// rawNode is the parsed-but-not-yet-linked form of one node record.
type rawNode struct {
	char      rune
	parentIdx int32
	hasID     bool
	id        docid.ID
	children  []struct {
		char rune
		idx  int32
	}
}

// decode parses the bytes produced by encode back into a [Trie].
func decode(data []byte) (*Trie, error) {
	if len(data) == 0 {
		return New(), nil
	}

	if len(data) < 4 {
		return nil, fmt.Errorf("%w: truncated node count", ErrCorruptTrie)
	}

	count := int(binary.LittleEndian.Uint32(data[0:]))
	off := 4

	raws := make([]rawNode, count)

	for i := range count {
		if off+9+docid.Size > len(data) {
			return nil, fmt.Errorf("%w: truncated node %d", ErrCorruptTrie, i)
		}

		r := rawNode{
			char:      rune(int32(binary.LittleEndian.Uint32(data[off:]))),
			parentIdx: int32(binary.LittleEndian.Uint32(data[off+4:])),
			hasID:     data[off+8] == 1,
		}

		id, err := docid.FromBytes(data[off+9 : off+9+docid.Size])
		if err != nil {
			return nil, fmt.Errorf("%w: node %d: %w", ErrCorruptTrie, i, err)
		}

		r.id = id
		off += 9 + docid.Size

		if off+4 > len(data) {
			return nil, fmt.Errorf("%w: truncated child count for node %d", ErrCorruptTrie, i)
		}

		childCount := int(binary.LittleEndian.Uint32(data[off:]))
		off += 4

		for range childCount {
			if off+8 > len(data) {
				return nil, fmt.Errorf("%w: truncated child entry for node %d", ErrCorruptTrie, i)
			}

			childChar := rune(int32(binary.LittleEndian.Uint32(data[off:])))
			childIdx := int32(binary.LittleEndian.Uint32(data[off+4:]))
			off += 8

			if childIdx < 0 || int(childIdx) >= count {
				return nil, fmt.Errorf("%w: node %d references out-of-range child %d", ErrCorruptTrie, i, childIdx)
			}

			r.children = append(r.children, struct {
				char rune
				idx  int32
			}{childChar, childIdx})
		}

		raws[i] = r
	}

	if count == 0 {
		return New(), nil
	}

	nodes := make([]*node, count)
	for i, r := range raws {
		nodes[i] = &node{char: r.char, children: make(map[rune]*node), hasID: r.hasID, id: r.id}
	}

	for i, r := range raws {
		if r.parentIdx >= 0 {
			if int(r.parentIdx) >= count {
				return nil, fmt.Errorf("%w: node %d references out-of-range parent %d", ErrCorruptTrie, i, r.parentIdx)
			}

			nodes[i].parent = nodes[r.parentIdx]
		}

		for _, c := range r.children {
			nodes[i].children[c.char] = nodes[c.idx]
		}
	}

	t := &Trie{root: nodes[0], byID: make(map[docid.ID]map[string]*node), byPath: make(map[string]*node)}

	var walk func(n *node, path []rune)

	walk = func(n *node, path []rune) {
		if n.hasID {
			p := string(path)
			t.byPath[p] = n

			if t.byID[n.id] == nil {
				t.byID[n.id] = make(map[string]*node)
			}

			t.byID[n.id][p] = n
		}

		for _, child := range sortedChildren(n) {
			walk(child, append(path, child.char))
		}
	}

	walk(t.root, nil)

	return t, nil
}

// sortedChildren returns n's children ordered by rune, for deterministic
// serialization.
func sortedChildren(n *node) []*node {
	runes := make([]rune, 0, len(n.children))
	for r := range n.children {
		runes = append(runes, r)
	}

	sort.Slice(runes, func(i, j int) bool { return runes[i] < runes[j] })

	out := make([]*node, len(runes))
	for i, r := range runes {
		out[i] = n.children[r]
	}

	return out
}
