package crdt

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"sort"
)

// UpdateSetEngine implements Engine as a convergent grow-only set of opaque
// updates. Merging is commutative, idempotent, and order-independent, so
// any interleaving of the same update set converges to the same encoded
// state.
type UpdateSetEngine struct{}

// NewUpdateSetEngine returns the default merge engine.
func NewUpdateSetEngine() *UpdateSetEngine {
	return &UpdateSetEngine{}
}

// NewDocument returns an empty live document.
func (e *UpdateSetEngine) NewDocument() Document {
	return &updateSetDocument{updates: make(map[string][]byte)}
}

// LoadDocument reconstructs a live document from a snapshot produced by
// Document.Encode.
func (e *UpdateSetEngine) LoadDocument(snapshot []byte) (Document, error) {
	document := &updateSetDocument{updates: make(map[string][]byte)}
	offset := 0
	for offset < len(snapshot) {
		length, read := binary.Uvarint(snapshot[offset:])
		if read <= 0 {
			return nil, fmt.Errorf("%w: invalid frame length at offset %d", ErrCorruptSnapshot, offset)
		}
		offset += read
		if length == 0 || uint64(len(snapshot)-offset) < length {
			return nil, fmt.Errorf("%w: truncated frame at offset %d", ErrCorruptSnapshot, offset)
		}
		update := append([]byte(nil), snapshot[offset:offset+int(length)]...)
		offset += int(length)
		document.updates[hashUpdate(update)] = update
	}
	return document, nil
}

type updateSetDocument struct {
	updates map[string][]byte
}

func (d *updateSetDocument) ApplyUpdate(update []byte) ([]byte, bool, error) {
	if len(update) == 0 {
		return nil, false, ErrEmptyUpdate
	}
	key := hashUpdate(update)
	if _, seen := d.updates[key]; seen {
		return nil, false, nil
	}
	stored := append([]byte(nil), update...)
	d.updates[key] = stored
	return stored, true, nil
}

func (d *updateSetDocument) Encode() []byte {
	keys := make([]string, 0, len(d.updates))
	for key := range d.updates {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var lengthBuffer [binary.MaxVarintLen64]byte
	encoded := make([]byte, 0, len(d.updates)*32)
	for _, key := range keys {
		update := d.updates[key]
		written := binary.PutUvarint(lengthBuffer[:], uint64(len(update)))
		encoded = append(encoded, lengthBuffer[:written]...)
		encoded = append(encoded, update...)
	}
	return encoded
}

func (d *updateSetDocument) UpdateCount() int {
	return len(d.updates)
}

func hashUpdate(update []byte) string {
	sum := sha256.Sum256(update)
	return hex.EncodeToString(sum[:])
}
