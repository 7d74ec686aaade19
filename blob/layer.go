package blob

import (
	"os"

	"github.com/pkg/errors"
)

// Layer is the live, post-recovery view of a blob directory. It is safe for
// concurrent use by multiple goroutines, but the journaling layer built on
// top of it serializes all mutation through a single mutex of its own, so
// Layer itself does not need to arbitrate between concurrent writers to the
// same object or temporary.
type Layer struct {
	store *store
}

// Open locks and opens a blob directory for live use. Call Recover instead
// if the directory may contain state left behind by an unclean shutdown.
func Open(dir string) (*Layer, error) {
	s, err := openStore(dir)
	if err != nil {
		return nil, err
	}
	return &Layer{store: s}, nil
}

// OpenObject opens an existing object's content and xattr. It returns
// (nil, nil), not an error, if no object with that id exists.
func (l *Layer) OpenObject(id ObjectId) (*Object, error) {
	f, err := l.store.openFile(objectDataName(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var x Xattr
	if err := l.store.readSidecar(objectXattrName(id), x[:]); err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "read xattr for object %s", id)
	}
	return &Object{store: l.store, id: id, xattr: x, content: newContent(f)}, nil
}

// CreateObject turns a temporary into a brand new object, consuming the
// temporary. It does not check whether an object with this id already
// exists: an existing object's content and xattr are replaced.
func (l *Layer) CreateObject(id ObjectId, xattr Xattr, temp *Temporary) (*Object, error) {
	if err := temp.content.close(); err != nil {
		return nil, errors.Wrap(err, "close temporary content before promoting")
	}
	dataName := objectDataName(id)
	if err := l.store.renameFile(temp.dataName(), dataName); err != nil {
		return nil, err
	}
	if temp.typed {
		if err := l.store.removeFile(temp.xattrName()); err != nil {
			return nil, err
		}
	}
	if err := l.store.writeSidecar(objectXattrName(id), xattr[:]); err != nil {
		return nil, err
	}
	temp.consumed = true
	f, err := l.store.openFile(dataName)
	if err != nil {
		return nil, err
	}
	return &Object{store: l.store, id: id, xattr: xattr, content: newContent(f)}, nil
}

// NewTemporary allocates a fresh, empty, detached temporary.
func (l *Layer) NewTemporary() (*Temporary, error) {
	id := l.store.allocTempID()
	name := detachedDataName(id)
	f, err := l.store.createFile(name)
	if err != nil {
		return nil, err
	}
	return &Temporary{store: l.store, tempID: id, content: newContent(f)}, nil
}

// OpenTypedTemporary reopens a temporary that is already tagged with a
// RecoveryId, e.g. one this process created and is resuming work on. It
// returns (nil, nil) if no such temporary exists.
func (l *Layer) OpenTypedTemporary(id RecoveryId) (*Temporary, error) {
	f, err := l.store.openFile(typedDataName(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var x TemporaryXattr
	if err := l.store.readSidecar(typedXattrName(id), x[:]); err != nil {
		f.Close()
		return nil, err
	}
	return &Temporary{store: l.store, recID: id, typed: true, xattr: x, content: newContent(f)}, nil
}

// Close releases the directory lock. Any Object or Temporary handles still
// open from this Layer must be closed first.
func (l *Layer) Close() error {
	return l.store.close()
}
