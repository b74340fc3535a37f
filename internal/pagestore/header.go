package pagestore

import (
	"bytes"
	"errors"
	"fmt"
)

// magic identifies a StreamDb file. It occupies the first 8 bytes of page 0.
var magic = [8]byte{0x55, 0xAA, 0xFE, 0xED, 0xFA, 0xCE, 0xDA, 0x7A}

// ErrBadMagic is returned when a medium's first 8 bytes do not match the
// expected StreamDb signature.
var ErrBadMagic = errors.New("pagestore: bad magic")

// Header layout within page 0. Unlike a content [Page], the header carries
// no CRC of its own: the three versioned links it holds each point at pages
// that are themselves checksummed, and that is where corruption detection
// happens (see [VersionedLink.Resolve]).
const (
	headerOffMagic     = 0
	headerOffIndexRoot = headerOffMagic + 8
	headerOffPathRoot  = headerOffIndexRoot + LinkSize
	headerOffFreeRoot  = headerOffPathRoot + LinkSize
	headerUsedBytes    = headerOffFreeRoot + LinkSize
)

// Header is the parsed form of page 0: the three root versioned links the
// rest of the engine bootstraps from.
//
//   - IndexRoot tracks the self-hosted indirection table (document id ->
//     first page id).
//   - PathRoot tracks the self-hosted path-lookup trie.
//   - FreeRoot tracks the free-page allocator's free-list chain.
type Header struct {
	IndexRoot VersionedLink
	PathRoot  VersionedLink
	FreeRoot  VersionedLink
}

// NewHeader returns an empty header with all three roots unset.
func NewHeader() Header {
	return Header{
		IndexRoot: NewVersionedLink(),
		PathRoot:  NewVersionedLink(),
		FreeRoot:  NewVersionedLink(),
	}
}

// Encode serializes the header into a full 4096-byte page-0 record, zero
// padded after the three links.
func (h Header) Encode() [PageSize]byte {
	var buf [PageSize]byte

	copy(buf[headerOffMagic:], magic[:])

	indexBytes := h.IndexRoot.Encode()
	copy(buf[headerOffIndexRoot:], indexBytes[:])

	pathBytes := h.PathRoot.Encode()
	copy(buf[headerOffPathRoot:], pathBytes[:])

	freeBytes := h.FreeRoot.Encode()
	copy(buf[headerOffFreeRoot:], freeBytes[:])

	return buf
}

// DecodeHeader parses page 0's bytes into a [Header], validating the magic.
func DecodeHeader(buf [PageSize]byte) (Header, error) {
	if !bytes.Equal(buf[headerOffMagic:headerOffMagic+8], magic[:]) {
		return Header{}, ErrBadMagic
	}

	var indexBytes [LinkSize]byte
	copy(indexBytes[:], buf[headerOffIndexRoot:headerOffIndexRoot+LinkSize])

	var pathBytes [LinkSize]byte
	copy(pathBytes[:], buf[headerOffPathRoot:headerOffPathRoot+LinkSize])

	var freeBytes [LinkSize]byte
	copy(freeBytes[:], buf[headerOffFreeRoot:headerOffFreeRoot+LinkSize])

	return Header{
		IndexRoot: DecodeVersionedLink(indexBytes),
		PathRoot:  DecodeVersionedLink(pathBytes),
		FreeRoot:  DecodeVersionedLink(freeBytes),
	}, nil
}

// ReadHeader loads and parses page 0 directly from the store's medium,
// bypassing the generic checksummed [Page] record format (page 0 has its
// own raw layout; see [Header]).
func (s *Store) ReadHeader() (Header, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var raw [PageSize]byte

	n, err := s.med.ReadAt(raw[:], 0)
	if err != nil {
		return Header{}, fmt.Errorf("pagestore: read header: %w", err)
	}

	if n != PageSize {
		return Header{}, fmt.Errorf("pagestore: read header: short read")
	}

	h, err := DecodeHeader(raw)
	if err != nil {
		return Header{}, fmt.Errorf("pagestore: read header: %w", err)
	}

	return h, nil
}

// WriteHeader serializes h and writes it to page 0.
func (s *Store) WriteHeader(h Header) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw := h.Encode()

	n, err := s.med.WriteAt(raw[:], 0)
	if err != nil {
		return fmt.Errorf("pagestore: write header: %w", err)
	}

	if n != PageSize {
		return fmt.Errorf("pagestore: write header: short write")
	}

	return nil
}
