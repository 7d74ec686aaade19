package journallayer

import (
	"context"

	"github.com/pkg/errors"

	"journalstore/blob"
	"journalstore/journal"
)

// Transaction batches a set of object and temporary mutations so that
// either all of them become visible together or, if the process crashes
// before Commit returns, none of them do. Building a transaction never
// touches disk; only Commit does.
type Transaction struct {
	layer     *Layer
	objects   []*lockedObject
	temps     []*lockedTemporary
	committed bool
	aborted   bool
}

// TxObject is the mutation surface for one object within a transaction. A
// TxObject is only meaningful until its owning Transaction commits or is
// abandoned.
type TxObject struct {
	locked *lockedObject
}

// TxTemporary is the mutation surface for one recoverable temporary within
// a transaction.
type TxTemporary struct {
	locked *lockedTemporary
}

// Wrap adds an already-open Object to this transaction so it can be
// mutated. Wrap takes no lock and never fails; the Object must not be used
// directly, nor wrapped into any other concurrent transaction, until this
// transaction commits or is abandoned.
func (tx *Transaction) Wrap(obj *Object) *TxObject {
	lo := &lockedObject{tx: tx, handle: obj, id: obj.ID(), pendingXattr: obj.Xattr()}
	tx.objects = append(tx.objects, lo)
	return &TxObject{locked: lo}
}

// CreateObject stages the creation of a brand new object from freshly
// written, still-detached content. The returned TxObject's Handle is
// registered immediately, claiming id so no other caller can race to
// create or open the same id before this transaction resolves, but the
// handle is only safe to use for reads once Commit has returned
// successfully.
func (tx *Transaction) CreateObject(id blob.ObjectId, xattr blob.Xattr, content *blob.Temporary) *TxObject {
	handle := &Object{layer: tx.layer, id: id}
	tx.layer.insertObject(handle)
	lo := &lockedObject{
		tx:           tx,
		handle:       handle,
		id:           id,
		created:      true,
		changeCount:  1,
		pendingXattr: xattr,
		newContent:   content,
	}
	tx.objects = append(tx.objects, lo)
	return &TxObject{locked: lo}
}

// CreateObjectFromTemporary stages the creation of a brand new object whose
// content is taken from a RecoverableTemporary built up across possibly
// many earlier, separately committed steps. temp is consumed: after this
// transaction commits, temp must not be used again and its own Release
// must not be called.
func (tx *Transaction) CreateObjectFromTemporary(id blob.ObjectId, xattr blob.Xattr, temp *RecoverableTemporary) *TxObject {
	handle := &Object{layer: tx.layer, id: id}
	tx.layer.insertObject(handle)
	lo := &lockedObject{
		tx:           tx,
		handle:       handle,
		id:           id,
		created:      true,
		changeCount:  1,
		pendingXattr: xattr,
		newContent:   temp.blobTemp,
		fromTemp:     temp,
	}
	tx.objects = append(tx.objects, lo)
	return &TxObject{locked: lo}
}

// Handle returns this object's registry handle. It is only safe to read
// from once the owning Transaction's Commit has returned successfully.
func (o *TxObject) Handle() *Object {
	return o.locked.handle
}

// Handle returns this temporary's registry handle, with the same
// post-Commit-only validity as TxObject.Handle.
func (t *TxTemporary) Handle() *RecoverableTemporary {
	return t.locked.handle
}

// SetXattr stages a new xattr value for this object.
func (o *TxObject) SetXattr(x blob.Xattr) {
	o.locked.pendingXattr = x
	o.locked.changeCount++
}

// SetContent stages a content replacement from freshly written, detached
// content.
func (o *TxObject) SetContent(content *blob.Temporary) {
	o.locked.newContent = content
	o.locked.changeCount++
}

// SetContentFromTemporary stages a content replacement taken from a
// RecoverableTemporary. As with CreateObjectFromTemporary, temp is
// consumed by a successful commit.
func (o *TxObject) SetContentFromTemporary(temp *RecoverableTemporary) {
	o.locked.newContent = temp.blobTemp
	o.locked.fromTemp = temp
	o.locked.changeCount++
}

// Remove stages this object's deletion.
func (o *TxObject) Remove() {
	o.locked.removed = true
	o.locked.changeCount++
}

// WrapTemporary locks an already-open RecoverableTemporary into this
// transaction so it can be mutated.
func (tx *Transaction) WrapTemporary(temp *RecoverableTemporary) *TxTemporary {
	lt := &lockedTemporary{tx: tx, handle: temp, id: temp.ID(), pendingXattr: temp.Xattr()}
	tx.temps = append(tx.temps, lt)
	return &TxTemporary{locked: lt}
}

// CreateRecoverableTemporary stages the tagging of a detached temporary
// (source, e.g. from Layer.NewTemporary) with id, making it recoverable
// once this transaction commits.
func (tx *Transaction) CreateRecoverableTemporary(id blob.RecoveryId, xattr blob.TemporaryXattr, source *blob.Temporary) *TxTemporary {
	lt := &lockedTemporary{
		tx:           tx,
		id:           id,
		created:      true,
		changeCount:  1,
		pendingXattr: xattr,
		source:       source,
	}
	tx.temps = append(tx.temps, lt)
	return &TxTemporary{locked: lt}
}

func (t *TxTemporary) SetXattr(x blob.TemporaryXattr) {
	t.locked.pendingXattr = x
	t.locked.changeCount++
}

func (t *TxTemporary) SetContent(content *blob.Temporary) {
	t.locked.newContent = content
	t.locked.changeCount++
}

func (t *TxTemporary) Remove() {
	t.locked.removed = true
	t.locked.changeCount++
}

func (tx *Transaction) participants() []participant {
	out := make([]participant, 0, len(tx.objects)+len(tx.temps))
	for _, lo := range tx.objects {
		out = append(out, lo)
	}
	for _, lt := range tx.temps {
		out = append(out, lt)
	}
	return out
}

// Commit writes every staged change as one journal transaction, blocking
// until that write has been synced to durable storage, then enqueues the
// blob-layer side effects onto the write queue and returns without waiting
// for them to run: the journal sync is the durability point, not the
// in-memory state becoming visible. ctx is checked once, just before the
// journal write starts: if it is already done, Commit returns ctx.Err() and
// writes no journal entry. A journal write that has started is not
// interrupted by ctx.
//
// A commit failure observed strictly before the journal sync (e.g. the
// sync itself erroring) is safe to report back to the caller: nothing was
// made durable, so nothing needs undoing. A failure observed by the write
// queue after the sync is not recoverable in-process; see FatalError.
func (tx *Transaction) Commit(ctx context.Context) error {
	if tx.committed || tx.aborted {
		return errors.New("journallayer: transaction already finished")
	}
	participants := tx.participants()
	for _, lo := range tx.objects {
		lo.stagingID = tx.layer.nextStagingID()
	}
	for _, lt := range tx.temps {
		lt.stagingID = tx.layer.nextStagingID()
	}

	// Content that is about to become an object's or a temporary's new
	// bytes has to already be durable and discoverable, under the same
	// staging id the journal entry below will carry, before that entry
	// is written. Otherwise a crash between the journal sync and apply
	// running would lose the content the journal says should exist.
	for _, p := range participants {
		if err := p.stageContent(); err != nil {
			tx.aborted = true
			return errors.Wrap(err, "stage content")
		}
	}

	var entries []journal.Entry
	for _, p := range participants {
		entry, ok := p.journalEntry()
		if ok {
			entries = append(entries, entry)
		}
	}

	var oldOffset, newOffset int64
	if len(entries) > 0 {
		n := uint32(len(entries))
		for i := range entries {
			entries[i].TxSize = n - uint32(i)
		}
		var err error
		oldOffset, newOffset, err = tx.layer.writeJournal(ctx, entries)
		if err != nil {
			tx.aborted = true
			return err
		}
	}

	tx.committed = true
	layer := tx.layer
	layer.enqueueApply(func(bl *blob.Layer) error {
		for _, p := range participants {
			if err := p.apply(bl); err != nil {
				return errors.Wrap(err, "apply committed transaction")
			}
		}
		for _, p := range participants {
			if c := p.appliedContent(); c != nil {
				if err := c.Sync(); err != nil {
					return errors.Wrap(err, "sync applied content")
				}
			}
		}
		if newOffset > oldOffset {
			if err := layer.punchJournal(oldOffset, newOffset); err != nil {
				return errors.Wrap(err, "punch applied journal range")
			}
		}
		for _, p := range participants {
			p.release()
		}
		return nil
	})
	return nil
}

// Abandon undoes the locking this transaction did without committing any of
// its staged changes. A participant that was Wrapped from an already-open
// handle goes back to being usable directly by whoever holds that handle; a
// participant this transaction itself Created had no other owner, so its
// claimed id is released back into the registry and its staged content is
// discarded, except content taken from a RecoverableTemporary, which stays
// with that temporary. Call Abandon when a transaction is built but then decided
// against.
func (tx *Transaction) Abandon() {
	if tx.committed || tx.aborted {
		return
	}
	tx.aborted = true
	for _, lo := range tx.objects {
		if lo.created && lo.handle != nil {
			tx.layer.releaseObject(lo.handle)
		}
		// Content taken from a RecoverableTemporary still belongs to that
		// temporary: only a successful commit consumes it.
		if lo.newContent != nil && lo.created && lo.fromTemp == nil {
			_ = lo.newContent.Discard()
		}
	}
	for _, lt := range tx.temps {
		if lt.created && lt.handle != nil {
			tx.layer.releaseTemp(lt.handle)
		}
		if lt.created && lt.source != nil {
			_ = lt.source.Discard()
		}
	}
}
