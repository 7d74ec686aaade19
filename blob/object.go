package blob

import "github.com/pkg/errors"

// Object is a handle onto one persistent object's content and extended
// attributes. It holds an open file descriptor for as long as the caller
// keeps the handle, which is why the journaling layer is careful to open at
// most one Object per ObjectId at a time.
type Object struct {
	store   *store
	id      ObjectId
	xattr   Xattr
	content *Content
}

func (o *Object) ID() ObjectId {
	return o.id
}

func (o *Object) Xattr() Xattr {
	return o.xattr
}

func (o *Object) Content() *Content {
	return o.content
}

// SetXattr durably updates this object's extended attributes in place.
func (o *Object) SetXattr(x Xattr) error {
	if err := o.store.writeSidecar(objectXattrName(o.id), x[:]); err != nil {
		return err
	}
	o.xattr = x
	return nil
}

// Overwrite replaces this object's content with a temporary's content and
// updates its xattr in the same call, consuming the temporary: on success
// the temporary's data file has become this object's data file and temp
// must not be used again.
func (o *Object) Overwrite(x Xattr, temp *Temporary) error {
	if err := o.content.close(); err != nil {
		return errors.Wrap(err, "close previous object content")
	}
	if err := temp.content.close(); err != nil {
		return errors.Wrap(err, "close replacement content")
	}
	dataName := objectDataName(o.id)
	if err := o.store.renameFile(temp.dataName(), dataName); err != nil {
		return err
	}
	if temp.typed {
		if err := o.store.removeFile(temp.xattrName()); err != nil {
			return err
		}
	}
	f, err := o.store.openFile(dataName)
	if err != nil {
		return err
	}
	if err := o.store.writeSidecar(objectXattrName(o.id), x[:]); err != nil {
		f.Close()
		return err
	}
	temp.consumed = true
	o.content = newContent(f)
	o.xattr = x
	return nil
}

// Remove deletes this object's backing files. The handle must not be used
// afterward.
func (o *Object) Remove() error {
	if err := o.content.close(); err != nil {
		return errors.Wrap(err, "close object content")
	}
	if err := o.store.removeFile(objectDataName(o.id)); err != nil {
		return err
	}
	return o.store.removeFile(objectXattrName(o.id))
}

// Close releases the file descriptor without deleting anything.
func (o *Object) Close() error {
	return o.content.close()
}
