package docengine_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ALH477/StreamDb/internal/alloc"
	"github.com/ALH477/StreamDb/internal/docengine"
	"github.com/ALH477/StreamDb/internal/docid"
	"github.com/ALH477/StreamDb/internal/medium"
	"github.com/ALH477/StreamDb/internal/pagestore"
)

var errInjectedPersistRoot = errors.New("injected persist-root failure")

func newTestEngine(t *testing.T) (*pagestore.Store, *alloc.Allocator, *docengine.Engine) {
	t.Helper()

	store, err := pagestore.Open(medium.NewMemory())
	require.NoError(t, err)

	a, err := alloc.Open(store, pagestore.NewVersionedLink(), nil)
	require.NoError(t, err)

	e, err := docengine.Open(store, a, pagestore.NewVersionedLink(), nil)
	require.NoError(t, err)

	return store, a, e
}

func TestEngine_WriteRead_RoundTrip(t *testing.T) {
	t.Parallel()

	_, _, e := newTestEngine(t)

	id, err := docid.New()
	require.NoError(t, err)

	require.NoError(t, e.Write(id, []byte("hello")))

	got, err := e.Read(id)
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), got)
}

func TestEngine_Read_UnknownID(t *testing.T) {
	t.Parallel()

	_, _, e := newTestEngine(t)

	id, err := docid.New()
	require.NoError(t, err)

	_, err = e.Read(id)
	require.ErrorIs(t, err, docengine.ErrUnknownID)
}

func TestEngine_Write_MultiPageChainRoundTrips(t *testing.T) {
	t.Parallel()

	_, _, e := newTestEngine(t)

	id, err := docid.New()
	require.NoError(t, err)

	payload := bytes.Repeat([]byte("x"), pagestore.MaxDataLen+1)
	require.NoError(t, e.Write(id, payload))

	got, err := e.Read(id)
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

func TestEngine_Write_TooLarge(t *testing.T) {
	t.Parallel()

	_, _, e := newTestEngine(t)

	id, err := docid.New()
	require.NoError(t, err)

	err = e.Write(id, make([]byte, docengine.MaxDocSize+1))
	require.ErrorIs(t, err, docengine.ErrTooLarge)
}

func TestEngine_Overwrite_ReplacesContent(t *testing.T) {
	t.Parallel()

	_, _, e := newTestEngine(t)

	id, err := docid.New()
	require.NoError(t, err)

	require.NoError(t, e.Write(id, []byte("first")))
	require.NoError(t, e.Write(id, []byte("second")))

	got, err := e.Read(id)
	require.NoError(t, err)
	require.Equal(t, []byte("second"), got)
}

func TestEngine_Delete_IsIdempotent(t *testing.T) {
	t.Parallel()

	_, _, e := newTestEngine(t)

	id, err := docid.New()
	require.NoError(t, err)

	require.NoError(t, e.Write(id, []byte("gone")))
	require.NoError(t, e.Delete(id))
	require.NoError(t, e.Delete(id))

	require.False(t, e.Exists(id))
}

func TestEngine_Delete_UnknownIDIsNoop(t *testing.T) {
	t.Parallel()

	_, _, e := newTestEngine(t)

	id, err := docid.New()
	require.NoError(t, err)

	require.NoError(t, e.Delete(id))
}

func TestEngine_ReachablePages_CoversLiveDocumentsAndTable(t *testing.T) {
	t.Parallel()

	_, _, e := newTestEngine(t)

	id, err := docid.New()
	require.NoError(t, err)

	require.NoError(t, e.Write(id, []byte("data")))

	reachable, err := e.ReachablePages()
	require.NoError(t, err)
	require.NotEmpty(t, reachable)
}

func TestEngine_DocumentCount_TracksLiveEntries(t *testing.T) {
	t.Parallel()

	_, _, e := newTestEngine(t)

	require.Equal(t, 0, e.DocumentCount())

	id, err := docid.New()
	require.NoError(t, err)

	require.NoError(t, e.Write(id, []byte("x")))
	require.Equal(t, 1, e.DocumentCount())

	require.NoError(t, e.Delete(id))
	require.Equal(t, 0, e.DocumentCount())
}

func TestEngine_Write_PersistFailureRollsBackInMemoryTable(t *testing.T) {
	t.Parallel()

	store, a, e := newTestEngine(t)

	id, err := docid.New()
	require.NoError(t, err)

	require.NoError(t, e.Write(id, []byte("first")))
	require.True(t, e.Exists(id))

	failingEngine, err := docengine.Open(store, a, pagestore.NewVersionedLink(), func(pagestore.VersionedLink) error {
		return errInjectedPersistRoot
	})
	require.NoError(t, err)

	other, err := docid.New()
	require.NoError(t, err)

	err = failingEngine.Write(other, []byte("should not commit"))
	require.Error(t, err)
	require.False(t, failingEngine.Exists(other), "a failed persist must not leave the new entry visible in memory")
}
