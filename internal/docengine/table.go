package docengine

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sort"

	"github.com/ALH477/StreamDb/internal/docid"
	"github.com/ALH477/StreamDb/internal/pagestore"
)

// tableEntry is one row of the indirection table: a document's current
// chain head and the version stamped on every page of that chain.
type tableEntry struct {
	FirstPageID pagestore.PageID
	Version     int32
}

// tableEntrySize is the on-disk size of one serialized [tableEntry]: a
// 16-byte id, a 4-byte page id, a 4-byte version.
const tableEntrySize = docid.Size + 4 + 4

// ErrCorruptTable is returned when the indirection table's serialized bytes
// cannot be parsed into a whole number of entries.
var ErrCorruptTable = errors.New("docengine: corrupt indirection table")

// encodeTable serializes table into its on-disk form: an entry count
// followed by entries sorted by id, so that repeated writes of an
// unchanged table produce byte-identical output (useful for tests and for
// keeping diffs of the self-hosted table document meaningful).
func encodeTable(table map[docid.ID]tableEntry) []byte {
	ids := make([]docid.ID, 0, len(table))
	for id := range table {
		ids = append(ids, id)
	}

	sort.Slice(ids, func(i, j int) bool { return ids[i].Less(ids[j]) })

	buf := make([]byte, 4+len(ids)*tableEntrySize)
	binary.LittleEndian.PutUint32(buf[0:], uint32(len(ids)))

	off := 4
	for _, id := range ids {
		e := table[id]
		copy(buf[off:], id.Bytes())
		binary.LittleEndian.PutUint32(buf[off+docid.Size:], uint32(e.FirstPageID))
		binary.LittleEndian.PutUint32(buf[off+docid.Size+4:], uint32(e.Version))
		off += tableEntrySize
	}

	return buf
}

// decodeTable parses the bytes produced by encodeTable. An empty slice
// decodes to an empty table (the state of a brand new database).
func decodeTable(data []byte) (map[docid.ID]tableEntry, error) {
	if len(data) == 0 {
		return make(map[docid.ID]tableEntry), nil
	}

	if len(data) < 4 {
		return nil, fmt.Errorf("%w: %d bytes", ErrCorruptTable, len(data))
	}

	count := binary.LittleEndian.Uint32(data[0:])
	want := 4 + int(count)*tableEntrySize

	if want != len(data) {
		return nil, fmt.Errorf("%w: expected %d bytes for %d entries, got %d", ErrCorruptTable, want, count, len(data))
	}

	table := make(map[docid.ID]tableEntry, count)
	off := 4

	for range int(count) {
		id, err := docid.FromBytes(data[off : off+docid.Size])
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCorruptTable, err)
		}

		firstPage := pagestore.PageID(int32(binary.LittleEndian.Uint32(data[off+docid.Size:])))
		version := int32(binary.LittleEndian.Uint32(data[off+docid.Size+4:]))

		table[id] = tableEntry{FirstPageID: firstPage, Version: version}
		off += tableEntrySize
	}

	return table, nil
}
