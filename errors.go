package streamdb

import "errors"

// Errors returned by the façade surface (§7 of the design: the error
// taxonomy that reaches a caller rather than being recovered internally).
var (
	// ErrUnknownID is returned by BindToPath and ListPaths when given an id
	// with no live document.
	ErrUnknownID = errors.New("streamdb: unknown document id")

	// ErrTooLarge is returned by WriteDocument when the input exceeds the
	// 256 MiB document size ceiling.
	ErrTooLarge = errors.New("streamdb: document too large")

	// ErrOutOfSpace is returned when the backing medium refuses to grow.
	ErrOutOfSpace = errors.New("streamdb: medium out of space")

	// ErrCorruptChain is returned by Get when a document's page chain
	// fails the version-monotonicity check mid-walk.
	ErrCorruptChain = errors.New("streamdb: corrupt document chain")

	// ErrBadMagic is returned by Open when the medium's header does not
	// carry the StreamDb signature.
	ErrBadMagic = errors.New("streamdb: bad magic")

	// ErrClosed is returned by WriteDocument, DeleteByPath, DeleteByID,
	// BindToPath and UnbindPath when they reach a mutation after Close.
	// The read operations do not check for a closed database.
	ErrClosed = errors.New("streamdb: database is closed")
)
