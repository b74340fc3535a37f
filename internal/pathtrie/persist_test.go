package pathtrie

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ALH477/StreamDb/internal/alloc"
	"github.com/ALH477/StreamDb/internal/docid"
	"github.com/ALH477/StreamDb/internal/medium"
	"github.com/ALH477/StreamDb/internal/pagestore"
)

func newTestStore(t *testing.T) (*pagestore.Store, *alloc.Allocator) {
	t.Helper()

	store, err := pagestore.Open(medium.NewMemory())
	require.NoError(t, err)

	a, err := alloc.Open(store, pagestore.NewVersionedLink(), nil)
	require.NoError(t, err)

	return store, a
}

func TestStore_Open_FreshRootStartsEmpty(t *testing.T) {
	t.Parallel()

	store, a := newTestStore(t)

	s, err := Open(store, a, pagestore.NewVersionedLink(), nil)
	require.NoError(t, err)

	require.Empty(t, s.Trie.Search(""))
}

func TestStore_PersistAndReopen_RoundTripsBindings(t *testing.T) {
	t.Parallel()

	store, a := newTestStore(t)

	id, err := docid.New()
	require.NoError(t, err)

	var root pagestore.VersionedLink

	s, err := Open(store, a, pagestore.NewVersionedLink(), func(l pagestore.VersionedLink) error {
		root = l

		return nil
	})
	require.NoError(t, err)

	s.Trie.Bind("/a/b.txt", id)
	s.Trie.Bind("/a/c.txt", id)

	require.NoError(t, s.Persist())

	reopened, err := Open(store, a, root, nil)
	require.NoError(t, err)

	got, ok := reopened.Trie.Lookup("/a/b.txt")
	require.True(t, ok)
	require.Equal(t, id, got)

	got, ok = reopened.Trie.Lookup("/a/c.txt")
	require.True(t, ok)
	require.Equal(t, id, got)
}

func TestStore_ReachablePages_EmptyBeforeAnyPersist(t *testing.T) {
	t.Parallel()

	store, a := newTestStore(t)

	s, err := Open(store, a, pagestore.NewVersionedLink(), nil)
	require.NoError(t, err)

	pages, err := s.ReachablePages()
	require.NoError(t, err)
	require.Empty(t, pages)
}

func TestStore_ReachablePages_NonEmptyAfterPersist(t *testing.T) {
	t.Parallel()

	store, a := newTestStore(t)

	id, err := docid.New()
	require.NoError(t, err)

	s, err := Open(store, a, pagestore.NewVersionedLink(), nil)
	require.NoError(t, err)

	s.Trie.Bind("/a", id)
	require.NoError(t, s.Persist())

	pages, err := s.ReachablePages()
	require.NoError(t, err)
	require.NotEmpty(t, pages)
}

func TestDecode_EmptyBytesYieldsFreshTrie(t *testing.T) {
	t.Parallel()

	tr, err := decode(nil)
	require.NoError(t, err)
	require.Empty(t, tr.Search(""))
}

func TestDecode_TruncatedBytesIsCorrupt(t *testing.T) {
	t.Parallel()

	_, err := decode([]byte{1, 2, 3})
	require.ErrorIs(t, err, ErrCorruptTrie)
}

func TestEncodeDecode_RoundTrip(t *testing.T) {
	t.Parallel()

	tr := New()
	idA, err := docid.New()
	require.NoError(t, err)

	idB, err := docid.New()
	require.NoError(t, err)

	tr.Bind("/a", idA)
	tr.Bind("/a/nested", idB)

	data := encode(tr)

	got, err := decode(data)
	require.NoError(t, err)

	gotID, ok := got.Lookup("/a")
	require.True(t, ok)
	require.Equal(t, idA, gotID)

	gotID, ok = got.Lookup("/a/nested")
	require.True(t, ok)
	require.Equal(t, idB, gotID)
}
