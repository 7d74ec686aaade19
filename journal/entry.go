// Package journal defines the on-disk layout of journal entries and the
// sequential reader/writer built on top of it. Unlike a typical write-ahead
// log, entries here carry no checksum, magic number or length prefix: the
// only framing is a fixed record width and a countdown field, txSize, that
// falls by one from each entry of a transaction to the next and is 1 on its
// last entry. A transaction's
// entries are only acted on once all of them have landed, so a torn write
// at the tail of the file is detected by txSize arithmetic alone, without
// needing to verify the bytes that were actually written.
package journal

import (
	"encoding/binary"

	"journalstore/blob"
)

// Type identifies what an Entry describes.
type Type uint8

const (
	// CreateObject records that a new object was created from a staged
	// temporary.
	CreateObject Type = iota + 1
	// UpdateObject records that an existing object's content and/or
	// xattr were replaced from a staged temporary.
	UpdateObject
	// UpdateXattr records an xattr-only change to an existing object,
	// with no accompanying content replacement.
	UpdateXattr
	// DeleteObject records that an object was removed.
	DeleteObject
	// CreateTemporary records that a detached temporary was tagged with
	// a RecoveryId and is now recoverable.
	CreateTemporary
	// UpdateTemporary records that a recoverable temporary's content
	// (and possibly its xattr) were replaced from a staged temporary.
	UpdateTemporary
	// UpdateTemporaryXattr records an xattr-only change to a recoverable
	// temporary, with no accompanying content replacement.
	UpdateTemporaryXattr
	// DeleteTemporary records that a recoverable temporary was
	// discarded.
	DeleteTemporary
)

func (t Type) String() string {
	switch t {
	case CreateObject:
		return "CreateObject"
	case UpdateObject:
		return "UpdateObject"
	case UpdateXattr:
		return "UpdateXattr"
	case DeleteObject:
		return "DeleteObject"
	case CreateTemporary:
		return "CreateTemporary"
	case UpdateTemporary:
		return "UpdateTemporary"
	case UpdateTemporaryXattr:
		return "UpdateTemporaryXattr"
	case DeleteTemporary:
		return "DeleteTemporary"
	default:
		return "Unknown"
	}
}

func (t Type) isObjectEntry() bool {
	return t == CreateObject || t == UpdateObject || t == UpdateXattr || t == DeleteObject
}

// Size is the fixed width, in bytes, of every encoded entry. It divides
// blob.BlockSize evenly, which keeps a transaction's entries from straddling
// a hole-punch boundary in ways that would complicate recovery.
const Size = 64

const (
	offType      = 0
	offTxSize    = 1
	offStagingID = 5
	offIDHigh    = 13
	offIDLow     = 21
	offXattr     = 29
	// bytes [45, Size) are reserved and always zero.
)

// Entry is one fixed-size record in the journal. Which of ObjectID or
// RecoveryID is meaningful depends on Type.isObjectEntry.
type Entry struct {
	Type      Type
	TxSize    uint32
	StagingID uint64
	objIDHigh uint64
	objIDLow  uint64
	recType   RecoveryType
	recID     uint64
	Xattr     [16]byte
}

// RecoveryType mirrors blob.RecoveryType; kept as a distinct alias here so
// this package does not need blob's full RecoveryId import surface to stay
// self-describing in godoc.
type RecoveryType = blob.RecoveryType

// NewObjectEntry builds an entry describing a change to a persistent
// object.
func NewObjectEntry(typ Type, txSize uint32, stagingID uint64, id blob.ObjectId, xattr [16]byte) Entry {
	hi := binary.BigEndian.Uint64(id[:8])
	lo := binary.BigEndian.Uint64(id[8:])
	return Entry{Type: typ, TxSize: txSize, StagingID: stagingID, objIDHigh: hi, objIDLow: lo, Xattr: xattr}
}

// NewTemporaryEntry builds an entry describing a change to a recoverable
// temporary.
func NewTemporaryEntry(typ Type, txSize uint32, stagingID uint64, id blob.RecoveryId, xattr [16]byte) Entry {
	return Entry{Type: typ, TxSize: txSize, StagingID: stagingID, recType: id.Type, recID: id.ID, Xattr: xattr}
}

// ObjectID reconstructs the ObjectId carried by an object entry. Calling it
// on a temporary entry returns a meaningless id; check Type first.
func (e Entry) ObjectID() blob.ObjectId {
	var id blob.ObjectId
	binary.BigEndian.PutUint64(id[:8], e.objIDHigh)
	binary.BigEndian.PutUint64(id[8:], e.objIDLow)
	return id
}

// RecoveryID reconstructs the RecoveryId carried by a temporary entry.
func (e Entry) RecoveryID() blob.RecoveryId {
	return blob.RecoveryId{Type: e.recType, ID: e.recID}
}

// Encode writes the fixed 64-byte representation of e into dst, which must
// be at least Size bytes long.
func (e Entry) Encode(dst []byte) {
	for i := range dst[:Size] {
		dst[i] = 0
	}
	dst[offType] = byte(e.Type)
	binary.LittleEndian.PutUint32(dst[offTxSize:], e.TxSize)
	binary.LittleEndian.PutUint64(dst[offStagingID:], e.StagingID)
	if e.Type.isObjectEntry() {
		binary.LittleEndian.PutUint64(dst[offIDHigh:], e.objIDHigh)
		binary.LittleEndian.PutUint64(dst[offIDLow:], e.objIDLow)
	} else {
		binary.LittleEndian.PutUint64(dst[offIDHigh:], uint64(e.recType))
		binary.LittleEndian.PutUint64(dst[offIDLow:], e.recID)
	}
	copy(dst[offXattr:offXattr+16], e.Xattr[:])
}

// Decode parses a fixed Size-byte record. It performs no validation beyond
// what's needed to split the union correctly: callers that need to
// distinguish a genuine entry from zero-filled slack space should use
// Reader, which applies the txSize discipline for them.
func Decode(src []byte) Entry {
	var e Entry
	e.Type = Type(src[offType])
	e.TxSize = binary.LittleEndian.Uint32(src[offTxSize:])
	e.StagingID = binary.LittleEndian.Uint64(src[offStagingID:])
	idHigh := binary.LittleEndian.Uint64(src[offIDHigh:])
	idLow := binary.LittleEndian.Uint64(src[offIDLow:])
	if e.Type.isObjectEntry() {
		e.objIDHigh, e.objIDLow = idHigh, idLow
	} else {
		e.recType, e.recID = RecoveryType(idHigh), idLow
	}
	copy(e.Xattr[:], src[offXattr:offXattr+16])
	return e
}
