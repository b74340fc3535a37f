package pagestore_test

import (
	"errors"
	"testing"

	"github.com/ALH477/StreamDb/internal/medium"
	"github.com/ALH477/StreamDb/internal/pagestore"
)

func TestOpen_ReservesHeaderPages(t *testing.T) {
	t.Parallel()

	store, err := pagestore.Open(medium.NewMemory())
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	if got, want := store.PageCount(), int64(4); got != want {
		t.Fatalf("PageCount() = %d, want %d", got, want)
	}
}

func TestStore_WriteRead_RoundTrip(t *testing.T) {
	t.Parallel()

	store, err := pagestore.Open(medium.NewMemory())
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	p := pagestore.NewPage(4)
	p.DataLen = 11
	copy(p.Data[:], []byte("hello world"))

	if err := store.Write(p); err != nil {
		t.Fatalf("write: %v", err)
	}

	got, err := store.Read(4, true)
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	if string(got.Data[:got.DataLen]) != "hello world" {
		t.Fatalf("Data = %q", got.Data[:got.DataLen])
	}
}

func TestStore_Write_GrowsMedium(t *testing.T) {
	t.Parallel()

	store, err := pagestore.Open(medium.NewMemory())
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	p := pagestore.NewPage(40)
	p.DataLen = 1
	p.Data[0] = 'x'

	if err := store.Write(p); err != nil {
		t.Fatalf("write: %v", err)
	}

	if got, want := store.PageCount(), int64(41); got != want {
		t.Fatalf("PageCount() = %d, want %d", got, want)
	}
}

func TestStore_Read_OutOfRange(t *testing.T) {
	t.Parallel()

	store, err := pagestore.Open(medium.NewMemory())
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	_, err = store.Read(999, true)
	if !errors.Is(err, pagestore.ErrOutOfRange) {
		t.Fatalf("err = %v, want ErrOutOfRange", err)
	}
}

func TestStore_Read_DetectsCorruption(t *testing.T) {
	t.Parallel()

	med := medium.NewMemory()

	store, err := pagestore.Open(med)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	p := pagestore.NewPage(4)
	p.DataLen = 1
	p.Data[0] = 'x'

	if err := store.Write(p); err != nil {
		t.Fatalf("write: %v", err)
	}

	var raw [pagestore.PageSize]byte

	if _, err := med.ReadAt(raw[:], p.ID.Offset()); err != nil {
		t.Fatalf("read raw: %v", err)
	}

	raw[200] ^= 0xFF

	if _, err := med.WriteAt(raw[:], p.ID.Offset()); err != nil {
		t.Fatalf("write raw: %v", err)
	}

	store.Invalidate(p.ID)

	_, err = store.Read(p.ID, true)
	if !errors.Is(err, pagestore.ErrCorruptPage) {
		t.Fatalf("err = %v, want ErrCorruptPage", err)
	}
}

func TestStore_QuickMode_SkipsVerification(t *testing.T) {
	t.Parallel()

	med := medium.NewMemory()

	store, err := pagestore.Open(med)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	p := pagestore.NewPage(4)
	p.DataLen = 1
	p.Data[0] = 'x'

	if err := store.Write(p); err != nil {
		t.Fatalf("write: %v", err)
	}

	var raw [pagestore.PageSize]byte

	if _, err := med.ReadAt(raw[:], p.ID.Offset()); err != nil {
		t.Fatalf("read raw: %v", err)
	}

	raw[200] ^= 0xFF

	if _, err := med.WriteAt(raw[:], p.ID.Offset()); err != nil {
		t.Fatalf("write raw: %v", err)
	}

	store.Invalidate(p.ID)
	store.SetQuickMode(true)

	if _, err := store.Read(p.ID, false); err != nil {
		t.Fatalf("read in quick mode: %v", err)
	}
}

func TestStore_Write_RejectsOversizedPage(t *testing.T) {
	t.Parallel()

	store, err := pagestore.Open(medium.NewMemory())
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	p := pagestore.NewPage(4)
	p.DataLen = pagestore.MaxDataLen + 1

	err = store.Write(p)
	if !errors.Is(err, pagestore.ErrBadDataLen) {
		t.Fatalf("err = %v, want ErrBadDataLen", err)
	}
}
