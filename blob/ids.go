// Package blob is the concrete, filesystem-backed implementation of the
// storage layer that journalstore's journaling core treats as an external
// collaborator: objects, recoverable temporaries, content handles and their
// extended attributes. None of the crash-consistency logic lives here; this
// package only has to honor the contract the journaling layer depends on.
package blob

import (
	"fmt"

	"github.com/google/uuid"
)

// ObjectId identifies a persistent object. It is a 128-bit value; this
// implementation represents it as a UUID, which gives total ordering on its
// raw bytes for free and is what the directory listing in store.go sorts by.
type ObjectId = uuid.UUID

// NewObjectId allocates a fresh, randomly generated ObjectId.
func NewObjectId() ObjectId {
	return uuid.New()
}

// RecoveryType enumerates the categories of recoverable temporary. STAGING
// and JOURNAL are reserved by the journaling layer itself; everything else
// is a user-defined recoverable category. DetachedType marks temporaries
// that have never been assigned a RecoveryId and therefore do not survive a
// crash at all.
type RecoveryType uint8

const (
	DetachedType RecoveryType = iota
	StagingType
	JournalType
	SessionType
	UploadType
)

// AllRecoveryTypes lists the user-defined recovery types, excluding
// DetachedType (never persisted as a typed temporary) and
// StagingType/JournalType (handled specially, see recovery.go). Recovery
// itself does not read it; journalctl's recover command iterates it to
// list leftovers of each type.
var AllRecoveryTypes = []RecoveryType{SessionType, UploadType}

func (t RecoveryType) String() string {
	switch t {
	case DetachedType:
		return "detached"
	case StagingType:
		return "staging"
	case JournalType:
		return "journal"
	case SessionType:
		return "session"
	case UploadType:
		return "upload"
	default:
		return fmt.Sprintf("recoverytype(%d)", uint8(t))
	}
}

// RecoveryId names a recoverable temporary. Ordering is lexicographic on
// (Type, ID) so that a range scan over the recovery index returns every
// temporary of one type contiguously.
type RecoveryId struct {
	Type RecoveryType
	ID   uint64
}

func (r RecoveryId) Less(o RecoveryId) bool {
	if r.Type != o.Type {
		return r.Type < o.Type
	}
	return r.ID < o.ID
}

func (r RecoveryId) String() string {
	return fmt.Sprintf("%s/%d", r.Type, r.ID)
}
