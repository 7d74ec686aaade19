package journallayer

import (
	"journalstore/blob"
	"journalstore/journal"
)

// participant is anything a Transaction can commit: a locked object or a
// locked temporary, each able to stage its new content durably before the
// journal write, describe itself as a journal entry, and carry out its own
// half of the commit once the journal write has landed.
type participant interface {
	// stageContent makes any freshly written content this participant
	// is about to adopt durable and independently discoverable under
	// blob.StagingType before the journal entry that references it is
	// written. This is what lets a crash between the journal sync and
	// apply running be repaired by Recovery: the same staging id that
	// went into the journal entry is also the content's filename.
	stageContent() error
	// journalEntry reports the entry this participant's change should
	// be recorded as, or ok == false if the change is a no-op that
	// needs no journal entry at all (nothing changed, or it was
	// created and removed within the same transaction).
	journalEntry() (journal.Entry, bool)
	// apply carries out the change against the blob layer. It runs on
	// the write queue's goroutine, strictly after the journal entry for
	// every participant in the same transaction has been durably
	// written, and must tolerate running twice: a crash can interrupt
	// it after the staged content has already been promoted once.
	apply(bl *blob.Layer) error
	// appliedContent returns the content apply just promoted onto disk,
	// or nil if apply didn't write any new content (an xattr-only
	// change, a removal, or a no-op). The write queue fsyncs whatever
	// this returns before reclaiming the journal bytes that were the
	// only other record of that content's existence.
	appliedContent() *blob.Content
	// release runs once apply has either run or been determined
	// unnecessary. It drops the registry entries the commit ended: a
	// removed participant's handle and a consumed RecoverableTemporary.
	// Handles the caller still holds stay registered.
	release()
}

// promoteStaged looks up the content staged under id, renames it into its
// destination via promote, and returns nil. If nothing is staged under id,
// a previous apply or recovery pass already did this work; promoteStaged
// returns nil without calling promote at all, which is what makes it safe
// to run more than once.
func promoteStaged(bl *blob.Layer, id blob.RecoveryId, promote func(*blob.Temporary) error) error {
	staged, err := bl.OpenTypedTemporary(id)
	if err != nil {
		return err
	}
	if staged == nil {
		return nil
	}
	return promote(staged)
}

func stagingIDFor(stagingID uint64) blob.RecoveryId {
	return blob.RecoveryId{Type: blob.StagingType, ID: stagingID}
}

// lockedObject accumulates the pending state of one object across however
// many TxObject method calls a caller makes before committing.
type lockedObject struct {
	tx        *Transaction
	handle    *Object // nil when this mutation creates a brand new object
	id        blob.ObjectId
	stagingID uint64
	created   bool
	removed   bool

	changeCount  uint32
	pendingXattr blob.Xattr
	newContent   *blob.Temporary // staged replacement content, nil if xattr-only
	fromTemp     *RecoverableTemporary
	applied      *blob.Content // set by apply once new content has landed on disk
}

func (lo *lockedObject) stageContent() error {
	if lo.newContent == nil || lo.created && lo.removed {
		return nil
	}
	var xattr blob.TemporaryXattr
	return lo.newContent.Retag(stagingIDFor(lo.stagingID), xattr)
}

func (lo *lockedObject) journalEntry() (journal.Entry, bool) {
	if lo.changeCount == 0 {
		return journal.Entry{}, false
	}
	if lo.created && lo.removed {
		return journal.Entry{}, false
	}
	var typ journal.Type
	switch {
	case lo.removed:
		typ = journal.DeleteObject
	case lo.created:
		typ = journal.CreateObject
	case lo.newContent != nil:
		typ = journal.UpdateObject
	default:
		typ = journal.UpdateXattr
	}
	return journal.NewObjectEntry(typ, 0, lo.stagingID, lo.id, lo.pendingXattr), true
}

func (lo *lockedObject) apply(bl *blob.Layer) error {
	switch {
	case lo.created && lo.removed:
		// Net no-op: nothing was ever journaled, and stageContent
		// never staged this content either, so there is nothing on
		// disk under the staging id to clean up.
		return nil
	case lo.removed:
		obj, err := bl.OpenObject(lo.id)
		if err != nil {
			return err
		}
		if obj == nil {
			return nil
		}
		return obj.Remove()
	case lo.created:
		return promoteStaged(bl, stagingIDFor(lo.stagingID), func(staged *blob.Temporary) error {
			obj, err := bl.CreateObject(lo.id, lo.pendingXattr, staged)
			if err != nil {
				return err
			}
			if lo.handle != nil {
				lo.handle.update(obj, lo.changeCount)
			}
			lo.applied = obj.Content()
			return nil
		})
	case lo.newContent != nil:
		return promoteStaged(bl, stagingIDFor(lo.stagingID), func(staged *blob.Temporary) error {
			if err := lo.handle.blobObj.Overwrite(lo.pendingXattr, staged); err != nil {
				return err
			}
			lo.handle.bumpGeneration(lo.changeCount)
			lo.applied = lo.handle.blobObj.Content()
			return nil
		})
	default:
		if err := lo.handle.blobObj.SetXattr(lo.pendingXattr); err != nil {
			return err
		}
		lo.handle.bumpGeneration(lo.changeCount)
		return nil
	}
}

// appliedContent reports the content apply just promoted, if any. Only a
// create or a content replacement writes new bytes that weren't already
// durable and sidecar-synced by apply itself; an xattr-only change or a
// removal has nothing here to sync.
func (lo *lockedObject) appliedContent() *blob.Content {
	return lo.applied
}

// release runs after apply has either carried out or discarded this
// mutation. A removed object's id goes back into circulation; a created or
// merely-mutated object's handle stays open because the caller is the one
// holding it and will call Object.Release when it is done, not this
// transaction.
func (lo *lockedObject) release() {
	if lo.removed && lo.handle != nil {
		lo.tx.layer.releaseObject(lo.handle)
	}
	if lo.fromTemp != nil {
		lo.tx.layer.discardConsumedTemp(lo.fromTemp)
	}
}

// lockedTemporary accumulates the pending state of one recoverable
// temporary across a transaction.
type lockedTemporary struct {
	tx        *Transaction
	handle    *RecoverableTemporary // nil when this mutation creates the temporary
	id        blob.RecoveryId
	stagingID uint64
	created   bool
	removed   bool

	changeCount  uint32
	pendingXattr blob.TemporaryXattr
	newContent   *blob.Temporary
	source       *blob.Temporary // the freshly allocated detached temp being tagged, for creation
	applied      *blob.Content   // set by apply once new content has landed on disk
}

func (lt *lockedTemporary) stageContent() error {
	switch {
	case lt.created && lt.removed:
		return nil
	case lt.created:
		var xattr blob.TemporaryXattr
		return lt.source.Retag(stagingIDFor(lt.stagingID), xattr)
	case lt.newContent != nil:
		var xattr blob.TemporaryXattr
		return lt.newContent.Retag(stagingIDFor(lt.stagingID), xattr)
	default:
		return nil
	}
}

func (lt *lockedTemporary) journalEntry() (journal.Entry, bool) {
	if lt.changeCount == 0 {
		return journal.Entry{}, false
	}
	if lt.created && lt.removed {
		return journal.Entry{}, false
	}
	var typ journal.Type
	switch {
	case lt.removed:
		typ = journal.DeleteTemporary
	case lt.created:
		typ = journal.CreateTemporary
	case lt.newContent != nil:
		typ = journal.UpdateTemporary
	default:
		typ = journal.UpdateTemporaryXattr
	}
	return journal.NewTemporaryEntry(typ, 0, lt.stagingID, lt.id, lt.pendingXattr), true
}

func (lt *lockedTemporary) apply(bl *blob.Layer) error {
	switch {
	case lt.created && lt.removed:
		return nil
	case lt.removed:
		temp, err := bl.OpenTypedTemporary(lt.id)
		if err != nil {
			return err
		}
		if temp == nil {
			return nil
		}
		return temp.Discard()
	case lt.created:
		return promoteStaged(bl, stagingIDFor(lt.stagingID), func(staged *blob.Temporary) error {
			if err := staged.Retag(lt.id, lt.pendingXattr); err != nil {
				return err
			}
			if lt.handle != nil {
				lt.handle.update(staged)
			}
			lt.applied = staged.Content()
			return nil
		})
	case lt.newContent != nil:
		return promoteStaged(bl, stagingIDFor(lt.stagingID), func(staged *blob.Temporary) error {
			if err := lt.handle.blobTemp.Overwrite(lt.pendingXattr, staged); err != nil {
				return err
			}
			lt.applied = lt.handle.blobTemp.Content()
			return nil
		})
	default:
		return lt.handle.blobTemp.SetXattr(lt.pendingXattr)
	}
}

// appliedContent mirrors lockedObject.appliedContent: only a create or a
// content replacement has fresh bytes that still need an fsync before the
// journal region describing them can be reclaimed.
func (lt *lockedTemporary) appliedContent() *blob.Content {
	return lt.applied
}

func (lt *lockedTemporary) release() {
	if lt.removed && lt.handle != nil {
		lt.tx.layer.releaseTemp(lt.handle)
	}
}
