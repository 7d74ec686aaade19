package journallayer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"journalstore/blob"
	"journalstore/journal"
)

func openTestLayer(t *testing.T) (*Layer, string) {
	t.Helper()
	dir := t.TempDir()
	l, err := Open(dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l, dir
}

func testCtx(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func waitForApply(t *testing.T, l *Layer) {
	t.Helper()
	// The write queue applies committed transactions asynchronously; a
	// no-op round trip through it acts as a barrier because jobs run in
	// enqueue order.
	done := make(chan struct{})
	l.enqueueApply(func(*blob.Layer) error {
		close(done)
		return nil
	})
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for write queue to drain")
	}
}

func TestTransactionCreateObjectCommit(t *testing.T) {
	l, _ := openTestLayer(t)

	temp, err := l.NewTemporary()
	require.NoError(t, err)
	_, err = temp.Content().WriteAt([]byte("contents"), 0)
	require.NoError(t, err)

	id := blob.NewObjectId()
	var xattr blob.Xattr
	copy(xattr[:], "v1")

	tx := l.BeginTransaction()
	txObj := tx.CreateObject(id, xattr, temp)
	require.NoError(t, tx.Commit(testCtx(t)))
	waitForApply(t, l)

	obj := txObj.Handle()
	assert.Equal(t, id, obj.ID())
	assert.Equal(t, xattr, obj.Xattr())
	assert.EqualValues(t, 1, obj.Generation())

	buf := make([]byte, len("contents"))
	_, err = obj.Content().ReadAt(buf, 0)
	require.NoError(t, err)
	assert.Equal(t, "contents", string(buf))
	obj.Release()
}

func TestTransactionUpdateXattrOnly(t *testing.T) {
	l, _ := openTestLayer(t)

	temp, err := l.NewTemporary()
	require.NoError(t, err)
	id := blob.NewObjectId()

	tx := l.BeginTransaction()
	txObj := tx.CreateObject(id, blob.Xattr{}, temp)
	require.NoError(t, tx.Commit(testCtx(t)))
	waitForApply(t, l)
	obj := txObj.Handle()

	var xattr blob.Xattr
	copy(xattr[:], "v2")
	tx2 := l.BeginTransaction()
	tx2.Wrap(obj).SetXattr(xattr)
	require.NoError(t, tx2.Commit(testCtx(t)))
	waitForApply(t, l)

	assert.Equal(t, xattr, obj.Xattr())
	assert.EqualValues(t, 2, obj.Generation())
	obj.Release()
}

func TestTransactionRemoveObject(t *testing.T) {
	l, _ := openTestLayer(t)

	temp, err := l.NewTemporary()
	require.NoError(t, err)
	id := blob.NewObjectId()

	tx := l.BeginTransaction()
	txObj := tx.CreateObject(id, blob.Xattr{}, temp)
	require.NoError(t, tx.Commit(testCtx(t)))
	waitForApply(t, l)
	obj := txObj.Handle()

	tx2 := l.BeginTransaction()
	tx2.Wrap(obj).Remove()
	require.NoError(t, tx2.Commit(testCtx(t)))
	waitForApply(t, l)

	again, err := l.OpenObject(id)
	require.NoError(t, err)
	assert.Nil(t, again)
}

func TestOpenObjectConflict(t *testing.T) {
	l, _ := openTestLayer(t)

	temp, err := l.NewTemporary()
	require.NoError(t, err)
	id := blob.NewObjectId()
	tx := l.BeginTransaction()
	txObj := tx.CreateObject(id, blob.Xattr{}, temp)
	require.NoError(t, tx.Commit(testCtx(t)))
	waitForApply(t, l)
	first := txObj.Handle()

	_, err = l.OpenObject(id)
	require.Error(t, err)
	var conflict *ConflictError
	assert.ErrorAs(t, err, &conflict)

	first.Release()
	second, err := l.OpenObject(id)
	require.NoError(t, err)
	require.NotNil(t, second)
	second.Release()
}

func TestTransactionAbandonLeavesWrappedHandleUsable(t *testing.T) {
	l, _ := openTestLayer(t)

	temp, err := l.NewTemporary()
	require.NoError(t, err)
	id := blob.NewObjectId()
	tx := l.BeginTransaction()
	txObj := tx.CreateObject(id, blob.Xattr{}, temp)
	require.NoError(t, tx.Commit(testCtx(t)))
	waitForApply(t, l)
	obj := txObj.Handle()

	tx2 := l.BeginTransaction()
	tx2.Wrap(obj).SetXattr(blob.Xattr{})
	tx2.Abandon()

	// obj was Wrapped, not Created, by tx2: abandoning tx2 must not evict
	// it from the registry out from under the caller, who still holds it.
	_, err = l.OpenObject(id)
	require.Error(t, err)
	var conflict *ConflictError
	assert.ErrorAs(t, err, &conflict)
	obj.Release()
}

func TestTransactionAbandonReleasesHandles(t *testing.T) {
	l, _ := openTestLayer(t)

	temp, err := l.NewTemporary()
	require.NoError(t, err)
	id := blob.NewObjectId()

	tx := l.BeginTransaction()
	tx.CreateObject(id, blob.Xattr{}, temp)
	tx.Abandon()

	// The id was registered the moment CreateObject was called; Abandon
	// must have released it again, and the staged content discarded.
	_, err = l.OpenObject(id)
	require.NoError(t, err) // object never got created; nil, nil
	tx2 := l.BeginTransaction()
	tx2Temp, err := l.NewTemporary()
	require.NoError(t, err)
	txObj := tx2.CreateObject(id, blob.Xattr{}, tx2Temp)
	require.NoError(t, tx2.Commit(testCtx(t)))
	waitForApply(t, l)
	assert.Equal(t, id, txObj.Handle().ID())
	txObj.Handle().Release()
}

func TestCreateRecoverableTemporaryRoundTrip(t *testing.T) {
	l, _ := openTestLayer(t)

	source, err := l.NewTemporary()
	require.NoError(t, err)
	_, err = source.Content().WriteAt([]byte("sess"), 0)
	require.NoError(t, err)

	var xattr blob.TemporaryXattr
	copy(xattr[:], "s1")
	temp, err := l.CreateRecoverableTemporary(testCtx(t), blob.SessionType, xattr, source)
	require.NoError(t, err)
	waitForApply(t, l)

	assert.Equal(t, xattr, temp.Xattr())
	buf := make([]byte, len("sess"))
	_, err = temp.Content().ReadAt(buf, 0)
	require.NoError(t, err)
	assert.Equal(t, "sess", string(buf))
	temp.Release()
}

func TestOpenTemporaryConflict(t *testing.T) {
	l, _ := openTestLayer(t)

	source, err := l.NewTemporary()
	require.NoError(t, err)
	temp, err := l.CreateRecoverableTemporary(testCtx(t), blob.UploadType, blob.TemporaryXattr{}, source)
	require.NoError(t, err)
	waitForApply(t, l)
	id := temp.ID()
	temp.Release()

	first, err := l.OpenTemporary(id)
	require.NoError(t, err)
	require.NotNil(t, first)

	_, err = l.OpenTemporary(id)
	require.Error(t, err)

	first.Release()
}

func TestCreateObjectFromTemporaryConsumesTemporary(t *testing.T) {
	l, _ := openTestLayer(t)

	source, err := l.NewTemporary()
	require.NoError(t, err)
	_, err = source.Content().WriteAt([]byte("derived"), 0)
	require.NoError(t, err)

	var txattr blob.TemporaryXattr
	copy(txattr[:], "r1")
	temp, err := l.CreateRecoverableTemporary(testCtx(t), blob.UploadType, txattr, source)
	require.NoError(t, err)
	waitForApply(t, l)
	oldID := temp.ID()

	id := blob.NewObjectId()
	var oxattr blob.Xattr
	copy(oxattr[:], "v1")
	tx := l.BeginTransaction()
	txObj := tx.CreateObjectFromTemporary(id, oxattr, temp)
	require.NoError(t, tx.Commit(testCtx(t)))
	waitForApply(t, l)

	obj := txObj.Handle()
	buf := make([]byte, len("derived"))
	_, err = obj.Content().ReadAt(buf, 0)
	require.NoError(t, err)
	assert.Equal(t, "derived", string(buf))
	obj.Release()

	// The consumed temporary is gone: its content became the object's
	// content, not a separate copy left behind under its old id.
	again, err := l.OpenTemporary(oldID)
	require.NoError(t, err)
	assert.Nil(t, again)
}

// TestRecoveryFinishesAtomicConsumeAcrossCrash simulates a crash landing
// between CreateObjectFromTemporary's journal sync and the write queue's
// apply: by that point stageContent has already retagged the consumed
// temporary's content to the transaction's staging id (erasing its old
// RecoveryId), and the journal entry referencing that staging id is
// durable, but nothing has promoted it to the new object yet. Recovery must
// finish that promotion, and the old temporary must not reappear.
func TestRecoveryFinishesAtomicConsumeAcrossCrash(t *testing.T) {
	dir := t.TempDir()

	l, err := Open(dir)
	require.NoError(t, err)

	source, err := l.NewTemporary()
	require.NoError(t, err)
	_, err = source.Content().WriteAt([]byte("derived"), 0)
	require.NoError(t, err)
	require.NoError(t, source.Content().Sync())

	var txattr blob.TemporaryXattr
	copy(txattr[:], "r1")
	temp, err := l.CreateRecoverableTemporary(testCtx(t), blob.UploadType, txattr, source)
	require.NoError(t, err)
	waitForApply(t, l)
	oldID := temp.ID()

	id := blob.NewObjectId()
	var oxattr blob.Xattr
	copy(oxattr[:], "v1")
	stagingID := l.nextStagingID()
	require.NoError(t, temp.blobTemp.Retag(blob.RecoveryId{Type: blob.StagingType, ID: stagingID}, blob.TemporaryXattr{}))
	entry := journal.NewObjectEntry(journal.CreateObject, 1, stagingID, id, oxattr)
	_, _, err = l.writeJournal(testCtx(t), []journal.Entry{entry})
	require.NoError(t, err)

	require.NoError(t, l.Close())

	r, err := Recover(dir)
	require.NoError(t, err)
	obj, err := r.GetObject(id)
	require.NoError(t, err)
	require.NotNil(t, obj)
	require.NoError(t, obj.Close())

	rl, err := r.Finish()
	require.NoError(t, err)
	defer rl.Close()

	reopened, err := rl.OpenObject(id)
	require.NoError(t, err)
	require.NotNil(t, reopened)
	buf := make([]byte, len("derived"))
	_, err = reopened.Content().ReadAt(buf, 0)
	require.NoError(t, err)
	assert.Equal(t, "derived", string(buf))
	reopened.Release()

	gone, err := rl.OpenTemporary(oldID)
	require.NoError(t, err)
	assert.Nil(t, gone)
}

// TestRecoveryReplaysStagedCreateObject builds, by hand, exactly the disk
// state a crash between a transaction's journal sync and the write queue
// running its apply step would leave behind: a journaled CreateObject entry
// whose content is durable under its staging id but never got promoted to
// the object it names. Recovery must finish that promotion on its own.
func TestRecoveryReplaysStagedCreateObject(t *testing.T) {
	dir := t.TempDir()

	bl, err := blob.Open(dir)
	require.NoError(t, err)

	jt, err := bl.NewTemporary()
	require.NoError(t, err)
	require.NoError(t, jt.SetRecoveryID(blob.RecoveryId{Type: blob.JournalType, ID: 0}, blob.TemporaryXattr{}))

	staged, err := bl.NewTemporary()
	require.NoError(t, err)
	_, err = staged.Content().WriteAt([]byte("payload"), 0)
	require.NoError(t, err)
	require.NoError(t, staged.Content().Sync())
	require.NoError(t, staged.SetRecoveryID(blob.RecoveryId{Type: blob.StagingType, ID: 1}, blob.TemporaryXattr{}))

	id := blob.NewObjectId()
	var oxattr blob.Xattr
	copy(oxattr[:], "v1")
	entry := journal.NewObjectEntry(journal.CreateObject, 1, 1, id, oxattr)

	w := journal.NewWriter(jt.Content(), 0)
	_, err = w.WriteTransaction([]journal.Entry{entry})
	require.NoError(t, err)
	require.NoError(t, jt.Content().Sync())

	require.NoError(t, jt.Close())
	require.NoError(t, staged.Close())
	require.NoError(t, bl.Close())

	r, err := Recover(dir)
	require.NoError(t, err)

	obj, err := r.GetObject(id)
	require.NoError(t, err)
	require.NotNil(t, obj)
	assert.Equal(t, oxattr, obj.Xattr())
	require.NoError(t, obj.Close())

	l, err := r.Finish()
	require.NoError(t, err)
	defer l.Close()

	reopened, err := l.OpenObject(id)
	require.NoError(t, err)
	require.NotNil(t, reopened)
	buf := make([]byte, len("payload"))
	_, err = reopened.Content().ReadAt(buf, 0)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(buf))
	reopened.Release()
}

// TestRecoveryDiscardsOrphanedStaging checks the other half of the
// crash-recovery contract: content staged for a transaction whose journal
// entry was never durably written (the tail of a torn commit) is cleaned up
// rather than left behind forever.
func TestRecoveryDiscardsOrphanedStaging(t *testing.T) {
	dir := t.TempDir()

	bl, err := blob.Open(dir)
	require.NoError(t, err)

	orphan, err := bl.NewTemporary()
	require.NoError(t, err)
	require.NoError(t, orphan.SetRecoveryID(blob.RecoveryId{Type: blob.StagingType, ID: 42}, blob.TemporaryXattr{}))
	require.NoError(t, orphan.Close())
	require.NoError(t, bl.Close())

	r, err := Recover(dir)
	require.NoError(t, err)

	l, err := r.Finish()
	require.NoError(t, err)
	defer l.Close()

	again, err := l.OpenTemporary(blob.RecoveryId{Type: blob.StagingType, ID: 42})
	require.NoError(t, err)
	assert.Nil(t, again)
}
