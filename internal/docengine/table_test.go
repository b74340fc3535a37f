package docengine

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ALH477/StreamDb/internal/docid"
	"github.com/ALH477/StreamDb/internal/pagestore"
)

func TestEncodeDecodeTable_RoundTrip(t *testing.T) {
	t.Parallel()

	idA, err := docid.New()
	require.NoError(t, err)

	idB, err := docid.New()
	require.NoError(t, err)

	table := map[docid.ID]tableEntry{
		idA: {FirstPageID: pagestore.PageID(4), Version: 1},
		idB: {FirstPageID: pagestore.PageID(9), Version: 3},
	}

	data := encodeTable(table)

	got, err := decodeTable(data)
	require.NoError(t, err)
	require.Equal(t, table, got)
}

func TestDecodeTable_EmptyBytesYieldsEmptyTable(t *testing.T) {
	t.Parallel()

	got, err := decodeTable(nil)
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestDecodeTable_TruncatedBytesIsCorrupt(t *testing.T) {
	t.Parallel()

	_, err := decodeTable([]byte{1, 2, 3})
	require.ErrorIs(t, err, ErrCorruptTable)
}

func TestEncodeTable_IsDeterministic(t *testing.T) {
	t.Parallel()

	idA, err := docid.New()
	require.NoError(t, err)

	idB, err := docid.New()
	require.NoError(t, err)

	table := map[docid.ID]tableEntry{
		idA: {FirstPageID: 4, Version: 1},
		idB: {FirstPageID: 9, Version: 3},
	}

	first := encodeTable(table)
	second := encodeTable(table)

	require.Equal(t, first, second, "repeated encoding of an unchanged table must be byte-identical")
}
