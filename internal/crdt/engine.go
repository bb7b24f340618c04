// Package crdt exposes the document merge capability consumed by the room
// registry. The merge semantics live behind the Engine and Document
// interfaces so the registry owns sequencing while the algorithm stays
// replaceable.
package crdt

import "errors"

var (
	// ErrEmptyUpdate indicates that a client submitted a zero-length update.
	ErrEmptyUpdate = errors.New("crdt: empty update")
	// ErrCorruptSnapshot indicates that a snapshot could not be decoded.
	ErrCorruptSnapshot = errors.New("crdt: corrupt snapshot")
)

// Engine constructs live documents and reloads them from durable snapshots.
type Engine interface {
	NewDocument() Document
	LoadDocument(snapshot []byte) (Document, error)
}

// Document is a single live in-memory document state. Implementations are
// not safe for concurrent use; callers must serialize access per document.
type Document interface {
	// ApplyUpdate merges a remote update into the document. The returned
	// diff is the payload to re-broadcast to other participants. Applied is
	// false when the update was already part of the document, in which case
	// the state is unchanged and nothing needs broadcasting.
	ApplyUpdate(update []byte) (diff []byte, applied bool, err error)
	// Encode renders the full document state as an opaque binary snapshot.
	// Equal document states encode to identical bytes regardless of the
	// order their updates arrived in.
	Encode() []byte
	// UpdateCount reports how many distinct updates the document holds.
	UpdateCount() int
}
