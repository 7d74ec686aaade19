package journallayer

import (
	"sync"

	"journalstore/blob"
)

// Object is an open handle onto a persistent object. The registry this
// handle came from guarantees no other Object handle for the same id
// exists anywhere else in the process until this one is released, which is
// what lets a Transaction mutate an Object's state without a lock: nothing
// else can be touching it at the same time.
type Object struct {
	mu         sync.Mutex
	layer      *Layer
	id         blob.ObjectId
	blobObj    *blob.Object
	generation uint64
	released   bool
}

func (o *Object) ID() blob.ObjectId {
	return o.id
}

// Xattr returns the object's extended attributes as of the last
// successfully committed transaction that touched it.
func (o *Object) Xattr() blob.Xattr {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.blobObj.Xattr()
}

// Content returns a handle onto the object's current bytes. The returned
// Content is only valid until the next transaction that replaces this
// object's content commits.
func (o *Object) Content() *blob.Content {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.blobObj.Content()
}

// Generation reports how many times this object has been mutated, counting
// from when this handle was opened. Two observations of the same object
// through independent handles can use Generation to detect whether a
// change happened between them without comparing content.
func (o *Object) Generation() uint64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.generation
}

// update installs a freshly created blob.Object as this handle's backing
// object and advances its generation. Used only the first time a created
// object's handle gets real content, since for every later mutation
// blobObj is mutated in place by the blob package and only the generation
// counter needs to move.
func (o *Object) update(blobObj *blob.Object, changeCount uint32) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.blobObj = blobObj
	o.generation += uint64(changeCount)
}

func (o *Object) bumpGeneration(changeCount uint32) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.generation += uint64(changeCount)
}

// Release closes this handle, making the id available to a future
// OpenObject or transaction participant again. Release must not be called
// while the handle is locked into an in-flight, uncommitted Transaction.
func (o *Object) Release() {
	o.layer.releaseObject(o)
}

// RecoverableTemporary is an open handle onto a temporary that has been
// tagged with a RecoveryId: its content and xattr survive a crash and will
// be handed back by a future Recovery pass if this handle is never
// consumed by a committed transaction first.
type RecoverableTemporary struct {
	mu       sync.Mutex
	layer    *Layer
	id       blob.RecoveryId
	blobTemp *blob.Temporary
	released bool
	consumed bool
}

func (t *RecoverableTemporary) ID() blob.RecoveryId {
	return t.id
}

func (t *RecoverableTemporary) Xattr() blob.TemporaryXattr {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.blobTemp.Xattr()
}

func (t *RecoverableTemporary) Content() *blob.Content {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.blobTemp.Content()
}

func (t *RecoverableTemporary) update(blobTemp *blob.Temporary) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.blobTemp = blobTemp
}

// Release closes this handle without discarding the underlying temporary:
// it remains on disk, tagged, and will be found by recovery if the process
// crashes before anything consumes or removes it.
func (t *RecoverableTemporary) Release() {
	t.layer.releaseTemp(t)
}
