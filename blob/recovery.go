package blob

import (
	"os"

	"github.com/pkg/errors"
)

// Recovery is the narrow view of a blob directory available before the
// journaling layer has finished replaying its journal: enough to find
// every leftover typed temporary and to look objects up by id, but no
// ability to create new temporaries or objects until Finish hands back a
// live Layer.
type Recovery struct {
	store *store
}

// OpenRecovery locks and opens a blob directory without assuming it is in a
// clean state.
func OpenRecovery(dir string) (*Recovery, error) {
	s, err := openStore(dir)
	if err != nil {
		return nil, err
	}
	return &Recovery{store: s}, nil
}

// RecoveredTemporary is a typed temporary found on disk during recovery,
// before its fate (kept as an object, kept as a temporary, or discarded)
// has been decided.
type RecoveredTemporary struct {
	store *store
	oldID RecoveryId
	xattr TemporaryXattr
}

func (rt *RecoveredTemporary) OldID() RecoveryId {
	return rt.oldID
}

func (rt *RecoveredTemporary) Xattr() TemporaryXattr {
	return rt.xattr
}

// KeepAs promotes this recovered temporary straight to a persistent object,
// consuming it. It is how a replayed CreateObject entry resolves.
func (rt *RecoveredTemporary) KeepAs(id ObjectId, xattr Xattr) (*Object, error) {
	dataName := objectDataName(id)
	if err := rt.store.renameFile(typedDataName(rt.oldID), dataName); err != nil {
		return nil, err
	}
	if err := rt.store.removeFile(typedXattrName(rt.oldID)); err != nil {
		return nil, err
	}
	if err := rt.store.writeSidecar(objectXattrName(id), xattr[:]); err != nil {
		return nil, err
	}
	f, err := rt.store.openFile(dataName)
	if err != nil {
		return nil, err
	}
	return &Object{store: rt.store, id: id, xattr: xattr, content: newContent(f)}, nil
}

// KeepAsTemporary re-tags this recovered temporary under a new RecoveryId,
// e.g. when a caller's own recovery logic wants to keep working on it
// rather than discarding it.
func (rt *RecoveredTemporary) KeepAsTemporary(newID RecoveryId, xattr TemporaryXattr) (*Temporary, error) {
	if err := rt.store.renameFile(typedDataName(rt.oldID), typedDataName(newID)); err != nil {
		return nil, err
	}
	if err := rt.store.writeSidecar(typedXattrName(newID), xattr[:]); err != nil {
		return nil, err
	}
	if err := rt.store.removeFile(typedXattrName(rt.oldID)); err != nil {
		return nil, err
	}
	f, err := rt.store.openFile(typedDataName(newID))
	if err != nil {
		return nil, err
	}
	return &Temporary{store: rt.store, recID: newID, typed: true, xattr: xattr, content: newContent(f)}, nil
}

// ReopenAsTemporary wraps this recovered temporary as an ordinary typed
// Temporary, letting a caller feed it into Object.Overwrite or
// Temporary.Overwrite as the content source without re-deriving its
// RecoveryId and xattr.
func (rt *RecoveredTemporary) ReopenAsTemporary() (*Temporary, error) {
	f, err := rt.store.openFile(typedDataName(rt.oldID))
	if err != nil {
		return nil, err
	}
	return &Temporary{store: rt.store, recID: rt.oldID, typed: true, xattr: rt.xattr, content: newContent(f)}, nil
}

// Discard deletes this recovered temporary's backing files, e.g. when
// replay determines it was never referenced by a closed transaction.
func (rt *RecoveredTemporary) Discard() error {
	if err := rt.store.removeFile(typedDataName(rt.oldID)); err != nil {
		return err
	}
	return rt.store.removeFile(typedXattrName(rt.oldID))
}

// FindTemporaries lists every typed temporary of the given type present on
// disk, in id order. The journal and staging types are not among
// AllRecoveryTypes and must be looked up by name directly with this same
// method, matching what the original recovery procedure does for its own
// two reserved categories.
func (r *Recovery) FindTemporaries(t RecoveryType) ([]*RecoveredTemporary, error) {
	names, err := r.store.listByPrefix(typedPrefix(t), dataSuffix)
	if err != nil {
		return nil, err
	}
	out := make([]*RecoveredTemporary, 0, len(names))
	for _, name := range names {
		rid, ok := parseTypedDataName(name)
		if !ok {
			continue
		}
		var x TemporaryXattr
		if err := r.store.readSidecar(typedXattrName(rid), x[:]); err != nil {
			return nil, errors.Wrapf(err, "read xattr for recovered temporary %s", rid)
		}
		out = append(out, &RecoveredTemporary{store: r.store, oldID: rid, xattr: x})
	}
	return out, nil
}

// GetTypedTemporary looks up one specific typed temporary by id during
// recovery. It returns (nil, nil) if no such temporary exists, which is the
// expected outcome when replaying an entry whose staged temporary was
// already consumed by an earlier, interrupted recovery attempt.
func (r *Recovery) GetTypedTemporary(id RecoveryId) (*RecoveredTemporary, error) {
	var x TemporaryXattr
	if err := r.store.readSidecar(typedXattrName(id), x[:]); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return &RecoveredTemporary{store: r.store, oldID: id, xattr: x}, nil
}

// Content opens this recovered temporary's data for reading, without
// promoting or discarding it.
func (rt *RecoveredTemporary) Content() (*Content, error) {
	f, err := rt.store.openFile(typedDataName(rt.oldID))
	if err != nil {
		return nil, err
	}
	return newContent(f), nil
}

// GetObject looks up an object by id during recovery, before Finish. It
// returns (nil, nil) if no such object exists.
func (r *Recovery) GetObject(id ObjectId) (*Object, error) {
	f, err := r.store.openFile(objectDataName(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var x Xattr
	if err := r.store.readSidecar(objectXattrName(id), x[:]); err != nil {
		f.Close()
		return nil, err
	}
	return &Object{store: r.store, id: id, xattr: x, content: newContent(f)}, nil
}

// Finish declares recovery complete and hands back an ordinary live Layer
// over the same directory.
func (r *Recovery) Finish() *Layer {
	return &Layer{store: r.store}
}
