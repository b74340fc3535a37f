// Package pagestore implements the paged file format described in the
// engine's data model: fixed 4096-byte pages addressed by a 32-bit page id,
// CRC-verified on read, cached in a bounded in-memory LRU, with the three
// header versioned-links used to bootstrap the rest of the engine.
package pagestore

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
)

// PageSize is the fixed size in bytes of every page in the store.
const PageSize = 4096

// HeaderSize is the size in bytes of a page's fixed-layout header:
// CRC32(4) + Version(4) + Prev(4) + Next(4) + Flags(1) + DataLen(4) +
// reserved(14). The reserved span pads the non-CRC header out to 31 bytes,
// so that header+payload is exactly 4092 bytes and the payload itself lands
// on the fixed 4061-byte size the rest of the engine assumes.
const HeaderSize = 35

// MaxDataLen is the maximum number of payload bytes a single page can hold.
const MaxDataLen = PageSize - HeaderSize

// NoPage is the sentinel used for "no previous/next page".
const NoPage PageID = -1

// PageID identifies a page. It is also, implicitly, the page's file offset
// divided by [PageSize].
type PageID int32

// Page is the in-memory, parsed form of one on-disk 4096-byte record.
type Page struct {
	ID      PageID
	Version int32
	Prev    PageID
	Next    PageID
	Flags   byte
	DataLen int32
	Data    [MaxDataLen]byte
}

// NewPage returns a fresh, empty page for id.
func NewPage(id PageID) *Page {
	return &Page{ID: id, Prev: NoPage, Next: NoPage}
}

// header field byte offsets within the page's 4096-byte record.
const (
	offCRC      = 0
	offVersion  = 4
	offPrev     = 8
	offNext     = 12
	offFlags    = 16
	offDataLen  = 17
	offReserved = 21
	offData     = HeaderSize
)

// Encode serializes p into a freshly computed, CRC-stamped 4096-byte record.
func (p *Page) Encode() [PageSize]byte {
	var buf [PageSize]byte

	binary.LittleEndian.PutUint32(buf[offVersion:], uint32(p.Version))
	binary.LittleEndian.PutUint32(buf[offPrev:], uint32(p.Prev))
	binary.LittleEndian.PutUint32(buf[offNext:], uint32(p.Next))
	buf[offFlags] = p.Flags
	binary.LittleEndian.PutUint32(buf[offDataLen:], uint32(p.DataLen))
	copy(buf[offData:], p.Data[:p.DataLen])

	crc := crc32.ChecksumIEEE(buf[offVersion:])
	binary.LittleEndian.PutUint32(buf[offCRC:], crc)

	return buf
}

// ErrCorruptPage reports a CRC mismatch on a verified read.
var ErrCorruptPage = errors.New("pagestore: corrupt page")

// ErrBadDataLen reports a data length outside [0, MaxDataLen].
var ErrBadDataLen = errors.New("pagestore: invalid data length")

// Decode parses a raw 4096-byte record into a [Page]. If verify is true, the
// CRC is checked and [ErrCorruptPage] is returned on mismatch.
func Decode(id PageID, buf [PageSize]byte, verify bool) (*Page, error) {
	if verify {
		want := binary.LittleEndian.Uint32(buf[offCRC:])
		got := crc32.ChecksumIEEE(buf[offVersion:])

		if want != got {
			return nil, fmt.Errorf("%w: page %d", ErrCorruptPage, id)
		}
	}

	dataLen := int32(binary.LittleEndian.Uint32(buf[offDataLen:]))
	if dataLen < 0 || dataLen > MaxDataLen {
		return nil, fmt.Errorf("%w: page %d has length %d", ErrBadDataLen, id, dataLen)
	}

	p := &Page{
		ID:      id,
		Version: int32(binary.LittleEndian.Uint32(buf[offVersion:])),
		Prev:    PageID(int32(binary.LittleEndian.Uint32(buf[offPrev:]))),
		Next:    PageID(int32(binary.LittleEndian.Uint32(buf[offNext:]))),
		Flags:   buf[offFlags],
		DataLen: dataLen,
	}
	copy(p.Data[:dataLen], buf[offData:offData+dataLen])

	return p, nil
}

// Offset returns the byte offset of id within the backing medium.
func (id PageID) Offset() int64 {
	return int64(id) * PageSize
}
