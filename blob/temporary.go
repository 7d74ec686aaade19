package blob

import "github.com/pkg/errors"

// Temporary is scratch content the caller is building up before it either
// becomes an object's content, replaces another temporary's content, or is
// discarded. A freshly created Temporary is detached: it has no RecoveryId
// and will not be found by a later Recovery scan. Calling SetRecoveryID
// promotes it to a typed, recoverable temporary.
type Temporary struct {
	store    *store
	tempID   uint64
	recID    RecoveryId
	typed    bool
	xattr    TemporaryXattr
	content  *Content
	consumed bool
}

func (t *Temporary) dataName() string {
	if t.typed {
		return typedDataName(t.recID)
	}
	return detachedDataName(t.tempID)
}

func (t *Temporary) xattrName() string {
	if t.typed {
		return typedXattrName(t.recID)
	}
	return ""
}

func (t *Temporary) Content() *Content {
	return t.content
}

func (t *Temporary) Xattr() TemporaryXattr {
	return t.xattr
}

// RecoveryID reports the id this temporary has been tagged with, or the
// zero value and false if it is still detached.
func (t *Temporary) RecoveryID() (RecoveryId, bool) {
	return t.recID, t.typed
}

// SetRecoveryID tags a detached temporary with a RecoveryId and an initial
// xattr, renaming its data file and writing an xattr sidecar so a crash
// from this point on leaves it discoverable by Recovery. It is an error to
// call this twice on the same handle; use Retag to move an already-typed
// temporary to a new id.
func (t *Temporary) SetRecoveryID(id RecoveryId, xattr TemporaryXattr) error {
	if t.typed {
		return errors.Errorf("temporary already tagged with recovery id %s", t.recID)
	}
	return t.Retag(id, xattr)
}

// Retag renames this temporary, detached or already typed, to a new
// RecoveryId and xattr, removing whatever sidecar it had before. It is how
// content staged under a transaction's staging id gets promoted to its
// real destination id, and how that same promotion is safely repeated by
// Recovery if a crash interrupted it the first time.
func (t *Temporary) Retag(id RecoveryId, xattr TemporaryXattr) error {
	oldData := t.dataName()
	hadOldXattr := t.typed
	oldXattrName := ""
	if hadOldXattr {
		oldXattrName = t.xattrName()
	}
	newData := typedDataName(id)
	if err := t.store.renameFile(oldData, newData); err != nil {
		return err
	}
	if err := t.store.writeSidecar(typedXattrName(id), xattr[:]); err != nil {
		return err
	}
	if hadOldXattr && oldXattrName != typedXattrName(id) {
		if err := t.store.removeFile(oldXattrName); err != nil {
			return err
		}
	}
	t.recID = id
	t.typed = true
	t.xattr = xattr
	return nil
}

// SetXattr durably updates the xattr of an already-tagged temporary.
func (t *Temporary) SetXattr(xattr TemporaryXattr) error {
	if !t.typed {
		t.xattr = xattr
		return nil
	}
	if err := t.store.writeSidecar(t.xattrName(), xattr[:]); err != nil {
		return err
	}
	t.xattr = xattr
	return nil
}

// Overwrite replaces this temporary's content with another temporary's
// content, consuming replacement.
func (t *Temporary) Overwrite(xattr TemporaryXattr, replacement *Temporary) error {
	if err := t.content.close(); err != nil {
		return errors.Wrap(err, "close previous temporary content")
	}
	if err := replacement.content.close(); err != nil {
		return errors.Wrap(err, "close replacement content")
	}
	myData := t.dataName()
	if err := t.store.renameFile(replacement.dataName(), myData); err != nil {
		return err
	}
	if replacement.typed {
		if err := t.store.removeFile(replacement.xattrName()); err != nil {
			return err
		}
	}
	f, err := t.store.openFile(myData)
	if err != nil {
		return err
	}
	if err := t.SetXattr(xattr); err != nil {
		f.Close()
		return err
	}
	replacement.consumed = true
	t.content = newContent(f)
	return nil
}

// Discard deletes this temporary's backing files without promoting it to
// anything. The handle must not be used afterward.
func (t *Temporary) Discard() error {
	if t.consumed {
		return nil
	}
	if err := t.content.close(); err != nil {
		return errors.Wrap(err, "close temporary content")
	}
	if err := t.store.removeFile(t.dataName()); err != nil {
		return err
	}
	if t.typed {
		return t.store.removeFile(t.xattrName())
	}
	return nil
}

// Close releases the file descriptor without deleting anything.
func (t *Temporary) Close() error {
	return t.content.close()
}
