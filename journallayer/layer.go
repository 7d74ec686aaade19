// Package journallayer implements an atomic, crash-consistent transaction
// layer on top of package blob. Every change to an object or a recoverable
// temporary is described by one or more fixed-size journal entries; a
// transaction's entries are written to the journal and synced to durable
// storage before any of the transaction's effects are applied to the blob
// layer itself, and a single background goroutine applies committed
// transactions' effects in the same order their journal writes landed.
package journallayer

import (
	"context"
	"os"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"journalstore/blob"
	"journalstore/journal"
	"journalstore/writequeue"
)

var journalID = blob.RecoveryId{Type: blob.JournalType, ID: 0}

// Layer is the live, transactable view of a blob directory. Exactly one
// Layer should be open against a given directory at a time; blob.Layer's
// underlying flock enforces that across processes.
type Layer struct {
	mu            sync.Mutex
	blobLayer     *blob.Layer
	journalTemp   *blob.Temporary
	journalWriter *journal.Writer
	queue         *writequeue.Queue

	openObjects map[blob.ObjectId]*Object
	openTemps   map[blob.RecoveryId]*RecoverableTemporary

	nextStaging    uint64
	nextRecoveryID uint64

	closed bool
	// onAbort is called, instead of terminating the process, when a
	// commit fails after its journal write has already synced. Nothing in
	// this repository sets it; left nil, handleFatal logs at Fatal level
	// and the process exits with status 1.
	onAbort func(error)
}

// Open locks dir and starts a fresh Layer over it, assuming no crash
// happened since it was last closed cleanly. Use Recover instead when that
// assumption cannot be made, i.e. at every real process startup.
func Open(dir string) (*Layer, error) {
	bl, err := blob.Open(dir)
	if err != nil {
		return nil, err
	}
	return newLayer(bl)
}

func newLayer(bl *blob.Layer) (*Layer, error) {
	jt, err := bl.OpenTypedTemporary(journalID)
	if err != nil {
		return nil, errors.Wrap(err, "open journal temporary")
	}
	if jt == nil {
		jt, err = bl.NewTemporary()
		if err != nil {
			return nil, errors.Wrap(err, "allocate journal temporary")
		}
		var xattr blob.TemporaryXattr
		if err := jt.SetRecoveryID(journalID, xattr); err != nil {
			return nil, errors.Wrap(err, "tag journal temporary")
		}
	}
	size, err := jt.Content().Size()
	if err != nil {
		return nil, errors.Wrap(err, "stat journal content")
	}
	data := make([]byte, size)
	if size > 0 {
		if _, err := jt.Content().ReadAt(data, 0); err != nil {
			return nil, errors.Wrap(err, "read journal content")
		}
	}
	_, end := journal.ScanClosed(data)

	l := &Layer{
		blobLayer:     bl,
		journalTemp:   jt,
		journalWriter: journal.NewWriter(jt.Content(), end),
		openObjects:   make(map[blob.ObjectId]*Object),
		openTemps:     make(map[blob.RecoveryId]*RecoverableTemporary),
	}
	l.queue = writequeue.New(l.handleFatal)
	return l, nil
}

func (l *Layer) handleFatal(err error) {
	fe := &FatalError{Cause: err}
	if l.onAbort != nil {
		l.onAbort(fe)
		return
	}
	logrus.WithError(err).Fatal("journallayer: unrecoverable failure applying a committed transaction")
	os.Exit(1)
}

func (l *Layer) nextStagingID() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nextStaging++
	return l.nextStaging
}

// NextRecoveryID allocates a fresh, process-lifetime-unique id within
// recovery type t, for use with CreateRecoverableTemporary.
func (l *Layer) NextRecoveryID(t blob.RecoveryType) blob.RecoveryId {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nextRecoveryID++
	return blob.RecoveryId{Type: t, ID: l.nextRecoveryID}
}

// writeJournal appends entries as one contiguous, synced run and reports the
// byte range it occupied in the journal file, so the caller can reclaim
// that range by hole punching once the entries' effects are safely applied.
func (l *Layer) writeJournal(ctx context.Context, entries []journal.Entry) (oldOffset, newOffset int64, err error) {
	if err := ctx.Err(); err != nil {
		return 0, 0, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return 0, 0, ErrClosed
	}
	old := l.journalWriter.Pos()
	if _, err := l.journalWriter.WriteTransaction(entries); err != nil {
		return old, old, errors.Wrap(err, "write journal transaction")
	}
	if err := l.journalTemp.Content().Sync(); err != nil {
		return old, old, errors.Wrap(err, "sync journal")
	}
	return old, l.journalWriter.Pos(), nil
}

// punchJournal reclaims the block-aligned interior of [oldOffset, newOffset)
// in the journal file. Called only once every entry in that range has been
// applied and its content synced, so the journal no longer needs to carry
// bytes describing work that is now durable by itself.
func (l *Layer) punchJournal(oldOffset, newOffset int64) error {
	start := roundUpBlock(oldOffset)
	end := roundDownBlock(newOffset)
	if end <= start {
		return nil
	}
	return l.journalTemp.Content().Zero(start, end-start)
}

func roundUpBlock(off int64) int64 {
	return (off + blob.BlockSize - 1) / blob.BlockSize * blob.BlockSize
}

func roundDownBlock(off int64) int64 {
	return off / blob.BlockSize * blob.BlockSize
}

func (l *Layer) enqueueApply(job func(*blob.Layer) error) {
	l.queue.Enqueue(func() error {
		return job(l.blobLayer)
	})
}

// NewTemporary allocates fresh, empty, detached scratch content. It is not
// journaled and will not survive a crash; tag it with
// CreateRecoverableTemporary before relying on it across a restart.
func (l *Layer) NewTemporary() (*blob.Temporary, error) {
	return l.blobLayer.NewTemporary()
}

// BeginTransaction starts a new, empty Transaction against this Layer.
func (l *Layer) BeginTransaction() *Transaction {
	return &Transaction{layer: l}
}

// CreateRecoverableTemporary tags source with a fresh id of type t and
// commits that tagging as its own one-entry transaction, returning an open
// handle on success.
func (l *Layer) CreateRecoverableTemporary(ctx context.Context, t blob.RecoveryType, xattr blob.TemporaryXattr, source *blob.Temporary) (*RecoverableTemporary, error) {
	id := l.NextRecoveryID(t)
	handle := &RecoverableTemporary{layer: l, id: id}
	l.insertTemp(handle)

	tx := l.BeginTransaction()
	tx.CreateRecoverableTemporary(id, xattr, source).locked.handle = handle
	if err := tx.Commit(ctx); err != nil {
		l.mu.Lock()
		delete(l.openTemps, id)
		l.mu.Unlock()
		return nil, err
	}
	return handle, nil
}

// OpenObject opens an existing object for exclusive use by the caller. It
// returns (nil, nil) if no such object exists, and a *ConflictError if some
// other open handle already exists for this id.
func (l *Layer) OpenObject(id blob.ObjectId) (*Object, error) {
	l.mu.Lock()
	if _, exists := l.openObjects[id]; exists {
		l.mu.Unlock()
		return nil, &ConflictError{ObjectID: id}
	}
	l.mu.Unlock()

	blobObj, err := l.blobLayer.OpenObject(id)
	if err != nil {
		return nil, err
	}
	if blobObj == nil {
		return nil, nil
	}
	handle := &Object{layer: l, id: id, blobObj: blobObj}

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.openObjects[id]; exists {
		blobObj.Close()
		return nil, &ConflictError{ObjectID: id}
	}
	l.openObjects[id] = handle
	return handle, nil
}

// OpenTemporary opens an existing recoverable temporary for exclusive use by
// the caller, analogous to OpenObject but keyed by RecoveryId. It returns
// (nil, nil) if no such temporary exists, and a *ConflictError if some other
// open handle already exists for this id.
func (l *Layer) OpenTemporary(id blob.RecoveryId) (*RecoverableTemporary, error) {
	l.mu.Lock()
	if _, exists := l.openTemps[id]; exists {
		l.mu.Unlock()
		return nil, &ConflictError{RecoveryID: id, isTemp: true}
	}
	l.mu.Unlock()

	blobTemp, err := l.blobLayer.OpenTypedTemporary(id)
	if err != nil {
		return nil, err
	}
	if blobTemp == nil {
		return nil, nil
	}
	handle := &RecoverableTemporary{layer: l, id: id, blobTemp: blobTemp}

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.openTemps[id]; exists {
		blobTemp.Close()
		return nil, &ConflictError{RecoveryID: id, isTemp: true}
	}
	l.openTemps[id] = handle
	return handle, nil
}

func (l *Layer) insertObject(handle *Object) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.openObjects[handle.id]; exists {
		panic("journallayer: duplicate open handle for object " + handle.id.String())
	}
	l.openObjects[handle.id] = handle
}

func (l *Layer) insertTemp(handle *RecoverableTemporary) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.openTemps[handle.id]; exists {
		panic("journallayer: duplicate open handle for temporary " + handle.id.String())
	}
	l.openTemps[handle.id] = handle
}

func (l *Layer) releaseObject(o *Object) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if o.released {
		return
	}
	o.released = true
	delete(l.openObjects, o.id)
}

func (l *Layer) releaseTemp(t *RecoverableTemporary) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if t.released {
		return
	}
	t.released = true
	delete(l.openTemps, t.id)
}

func (l *Layer) discardConsumedTemp(t *RecoverableTemporary) {
	t.mu.Lock()
	t.consumed = true
	t.mu.Unlock()
	l.releaseTemp(t)
}

// Close stops accepting new transactions, waits for every already-committed
// transaction's effects to finish applying, and releases the directory
// lock. Any Object or RecoverableTemporary handles still open must be
// released first.
func (l *Layer) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()

	l.queue.Close()
	if err := l.journalTemp.Close(); err != nil {
		return err
	}
	return l.blobLayer.Close()
}
