package pagestore_test

import (
	"errors"
	"testing"

	"github.com/ALH477/StreamDb/internal/medium"
	"github.com/ALH477/StreamDb/internal/pagestore"
)

func TestVersionedLink_EncodeDecode_RoundTrip(t *testing.T) {
	t.Parallel()

	l := pagestore.VersionedLink{
		PriorID: 4, PriorVersion: 1,
		CurrentID: 9, CurrentVersion: 2,
		PendingID: pagestore.NoPage, PendingVersion: 0,
	}

	got := pagestore.DecodeVersionedLink(l.Encode())
	if got != l {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, l)
	}
}

func TestVersionedLink_Rotate(t *testing.T) {
	t.Parallel()

	l := pagestore.NewVersionedLink()

	evicted := l.Rotate(10)
	if evicted != pagestore.NoPage {
		t.Fatalf("first rotation evicted %d, want NoPage", evicted)
	}

	if l.CurrentID != 10 || l.PriorID != pagestore.NoPage {
		t.Fatalf("after first rotate: %+v", l)
	}

	evicted = l.Rotate(11)
	if evicted != pagestore.NoPage {
		t.Fatalf("second rotation evicted %d, want NoPage (prior was empty)", evicted)
	}

	if l.CurrentID != 11 || l.PriorID != 10 {
		t.Fatalf("after second rotate: %+v", l)
	}

	evicted = l.Rotate(12)
	if evicted != 10 {
		t.Fatalf("third rotation evicted %d, want 10", evicted)
	}

	if l.CurrentID != 12 || l.PriorID != 11 {
		t.Fatalf("after third rotate: %+v", l)
	}
}

func TestVersionedLink_Resolve_EmptyLink(t *testing.T) {
	t.Parallel()

	med := medium.NewMemory()

	store, err := pagestore.Open(med)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	l := pagestore.NewVersionedLink()

	id, err := l.Resolve(store)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}

	if id != pagestore.NoPage {
		t.Fatalf("resolve on empty link = %d, want NoPage", id)
	}
}

func TestVersionedLink_Resolve_FallsBackToPrior(t *testing.T) {
	t.Parallel()

	med := medium.NewMemory()

	store, err := pagestore.Open(med)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	prior := pagestore.NewPage(4)
	prior.DataLen = 1
	prior.Data[0] = 'p'

	if err := store.Write(prior); err != nil {
		t.Fatalf("write prior: %v", err)
	}

	current := pagestore.NewPage(5)
	current.DataLen = 1
	current.Data[0] = 'c'

	if err := store.Write(current); err != nil {
		t.Fatalf("write current: %v", err)
	}

	// Corrupt the current page's on-disk bytes directly through the medium,
	// bypassing the store, to simulate a torn write.
	var raw [pagestore.PageSize]byte

	if _, err := med.ReadAt(raw[:], current.ID.Offset()); err != nil {
		t.Fatalf("read raw: %v", err)
	}

	raw[100] ^= 0xFF

	if _, err := med.WriteAt(raw[:], current.ID.Offset()); err != nil {
		t.Fatalf("write raw: %v", err)
	}

	store.Invalidate(current.ID)

	l := pagestore.VersionedLink{PriorID: prior.ID, CurrentID: current.ID, PendingID: pagestore.NoPage}

	id, err := l.Resolve(store)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}

	if id != prior.ID {
		t.Fatalf("resolve = %d, want fallback to prior %d", id, prior.ID)
	}
}

func TestVersionedLink_Resolve_TornRotation(t *testing.T) {
	t.Parallel()

	med := medium.NewMemory()

	store, err := pagestore.Open(med)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	bad := pagestore.NewPage(4)
	bad.DataLen = 1

	if err := store.Write(bad); err != nil {
		t.Fatalf("write: %v", err)
	}

	var raw [pagestore.PageSize]byte

	if _, err := med.ReadAt(raw[:], bad.ID.Offset()); err != nil {
		t.Fatalf("read raw: %v", err)
	}

	raw[100] ^= 0xFF

	if _, err := med.WriteAt(raw[:], bad.ID.Offset()); err != nil {
		t.Fatalf("write raw: %v", err)
	}

	store.Invalidate(bad.ID)

	l := pagestore.VersionedLink{PriorID: bad.ID, CurrentID: bad.ID, PendingID: pagestore.NoPage}

	_, err = l.Resolve(store)
	if !errors.Is(err, pagestore.ErrTornRotation) {
		t.Fatalf("resolve error = %v, want ErrTornRotation", err)
	}
}
