package alloc_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ALH477/StreamDb/internal/alloc"
	"github.com/ALH477/StreamDb/internal/medium"
	"github.com/ALH477/StreamDb/internal/pagestore"
)

func newAllocator(t *testing.T) (*pagestore.Store, *alloc.Allocator) {
	t.Helper()

	store, err := pagestore.Open(medium.NewMemory())
	require.NoError(t, err)

	a, err := alloc.Open(store, pagestore.NewVersionedLink(), nil)
	require.NoError(t, err)

	return store, a
}

func TestAllocator_Allocate_ExtendsWhenFreeListEmpty(t *testing.T) {
	t.Parallel()

	_, a := newAllocator(t)

	first, err := a.Allocate()
	require.NoError(t, err)
	require.Equal(t, pagestore.PageID(pagestore.ReservedPages), first)

	second, err := a.Allocate()
	require.NoError(t, err)
	require.Equal(t, first+1, second)
}

func TestAllocator_Free_IsReusedBeforeExtending(t *testing.T) {
	t.Parallel()

	_, a := newAllocator(t)

	id, err := a.Allocate()
	require.NoError(t, err)

	require.NoError(t, a.Free(id))
	require.Equal(t, 1, a.Count())

	reused, err := a.Allocate()
	require.NoError(t, err)
	require.Equal(t, id, reused, "a freed page should come back from the hot-list LIFO before any new id is minted")
}

func TestAllocator_Quarantine_WithholdsUntilTwoTicks(t *testing.T) {
	t.Parallel()

	_, a := newAllocator(t)

	id, err := a.Allocate()
	require.NoError(t, err)

	a.Quarantine([]pagestore.PageID{id})
	require.Equal(t, 0, a.Count(), "a quarantined page must not be counted as free")

	require.NoError(t, a.Tick())
	require.Equal(t, 0, a.Count(), "one rotation is not enough to clear quarantine")

	require.NoError(t, a.Tick())
	require.Equal(t, 1, a.Count(), "the second rotation after quarantine must release the page")
}

func TestAllocator_Drain_MovesHotListIntoPersistedFreeListOnceThresholdCrossed(t *testing.T) {
	t.Parallel()

	_, a := newAllocator(t)

	var ids []pagestore.PageID

	for range 70 {
		id, err := a.Allocate()
		require.NoError(t, err)

		ids = append(ids, id)
	}

	for _, id := range ids {
		require.NoError(t, a.Free(id))
	}

	require.Equal(t, len(ids), a.Count(), "draining into the persisted chain must not lose any page")
}

func TestAllocator_Recover_ExcludesReachableAndQuarantinedPages(t *testing.T) {
	t.Parallel()

	_, a := newAllocator(t)

	reachable, err := a.Allocate()
	require.NoError(t, err)

	quarantined, err := a.Allocate()
	require.NoError(t, err)

	free, err := a.Allocate()
	require.NoError(t, err)

	a.Quarantine([]pagestore.PageID{quarantined})

	require.NoError(t, a.Recover(map[pagestore.PageID]struct{}{reachable: {}}))

	// free must have come back; reachable and quarantined must not have.
	require.Equal(t, 1, a.Count(), "recover should only surface the one page that is neither reachable nor quarantined")

	got, err := a.Allocate()
	require.NoError(t, err)
	require.Equal(t, free, got)
}

func TestAllocator_Recover_WithNothingFreeLeavesCountZero(t *testing.T) {
	t.Parallel()

	_, a := newAllocator(t)

	id, err := a.Allocate()
	require.NoError(t, err)

	require.NoError(t, a.Recover(map[pagestore.PageID]struct{}{id: {}}))
	require.Equal(t, 0, a.Count())
}
