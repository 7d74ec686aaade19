package blob

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestLayer(t *testing.T) *Layer {
	t.Helper()
	l, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func writeAll(t *testing.T, c *Content, data []byte) {
	t.Helper()
	if len(data) == 0 {
		return
	}
	_, err := c.WriteAt(data, 0)
	require.NoError(t, err)
	require.NoError(t, c.Sync())
}

func readAll(t *testing.T, c *Content) []byte {
	t.Helper()
	size, err := c.Size()
	require.NoError(t, err)
	buf := make([]byte, size)
	if size > 0 {
		_, err := c.ReadAt(buf, 0)
		require.NoError(t, err)
	}
	return buf
}

func TestLayerCreateObjectFromTemporary(t *testing.T) {
	l := openTestLayer(t)

	temp, err := l.NewTemporary()
	require.NoError(t, err)
	writeAll(t, temp.Content(), []byte("hello object"))

	id := NewObjectId()
	var xattr Xattr
	copy(xattr[:], "v1")
	obj, err := l.CreateObject(id, xattr, temp)
	require.NoError(t, err)

	assert.Equal(t, id, obj.ID())
	assert.Equal(t, xattr, obj.Xattr())
	assert.Equal(t, []byte("hello object"), readAll(t, obj.Content()))
	assert.True(t, temp.consumed)
}

func TestLayerOpenObjectMissing(t *testing.T) {
	l := openTestLayer(t)

	obj, err := l.OpenObject(NewObjectId())
	require.NoError(t, err)
	assert.Nil(t, obj)
}

func TestObjectOverwriteReplacesContentAndXattr(t *testing.T) {
	l := openTestLayer(t)

	temp, err := l.NewTemporary()
	require.NoError(t, err)
	writeAll(t, temp.Content(), []byte("v1"))

	id := NewObjectId()
	var xattr1 Xattr
	copy(xattr1[:], "v1")
	obj, err := l.CreateObject(id, xattr1, temp)
	require.NoError(t, err)

	replacement, err := l.NewTemporary()
	require.NoError(t, err)
	writeAll(t, replacement.Content(), []byte("v2, longer"))

	var xattr2 Xattr
	copy(xattr2[:], "v2")
	require.NoError(t, obj.Overwrite(xattr2, replacement))

	assert.Equal(t, xattr2, obj.Xattr())
	assert.Equal(t, []byte("v2, longer"), readAll(t, obj.Content()))
	assert.True(t, replacement.consumed)
}

func TestObjectOverwriteWithTypedTemporaryRemovesOldSidecar(t *testing.T) {
	l := openTestLayer(t)

	temp, err := l.NewTemporary()
	require.NoError(t, err)
	var xattr Xattr
	obj, err := l.CreateObject(NewObjectId(), xattr, temp)
	require.NoError(t, err)

	replacement, err := l.NewTemporary()
	require.NoError(t, err)
	var tempXattr TemporaryXattr
	copy(tempXattr[:], "staged")
	require.NoError(t, replacement.SetRecoveryID(RecoveryId{Type: SessionType, ID: 7}, tempXattr))

	require.NoError(t, obj.Overwrite(xattr, replacement))

	// The replacement's old sidecar must be gone: reopening it by its old
	// RecoveryId should find nothing.
	again, err := l.OpenTypedTemporary(RecoveryId{Type: SessionType, ID: 7})
	require.NoError(t, err)
	assert.Nil(t, again)
}

func TestTemporarySetRecoveryIDTwiceFails(t *testing.T) {
	l := openTestLayer(t)

	temp, err := l.NewTemporary()
	require.NoError(t, err)
	var xattr TemporaryXattr

	require.NoError(t, temp.SetRecoveryID(RecoveryId{Type: SessionType, ID: 1}, xattr))
	err = temp.SetRecoveryID(RecoveryId{Type: SessionType, ID: 2}, xattr)
	assert.Error(t, err)
}

func TestTemporaryRetagMovesContentAndXattr(t *testing.T) {
	l := openTestLayer(t)

	temp, err := l.NewTemporary()
	require.NoError(t, err)
	writeAll(t, temp.Content(), []byte("payload"))
	var xattr1 TemporaryXattr
	copy(xattr1[:], "a")
	require.NoError(t, temp.SetRecoveryID(RecoveryId{Type: StagingType, ID: 1}, xattr1))

	var xattr2 TemporaryXattr
	copy(xattr2[:], "b")
	require.NoError(t, temp.Retag(RecoveryId{Type: SessionType, ID: 9}, xattr2))

	assert.Equal(t, []byte("payload"), readAll(t, temp.Content()))
	assert.Equal(t, xattr2, temp.Xattr())

	stale, err := l.OpenTypedTemporary(RecoveryId{Type: StagingType, ID: 1})
	require.NoError(t, err)
	assert.Nil(t, stale)

	live, err := l.OpenTypedTemporary(RecoveryId{Type: SessionType, ID: 9})
	require.NoError(t, err)
	require.NotNil(t, live)
	assert.Equal(t, xattr2, live.Xattr())
}

func TestTemporaryDiscardRemovesFiles(t *testing.T) {
	l := openTestLayer(t)

	temp, err := l.NewTemporary()
	require.NoError(t, err)
	var xattr TemporaryXattr
	require.NoError(t, temp.SetRecoveryID(RecoveryId{Type: UploadType, ID: 3}, xattr))
	require.NoError(t, temp.Discard())

	again, err := l.OpenTypedTemporary(RecoveryId{Type: UploadType, ID: 3})
	require.NoError(t, err)
	assert.Nil(t, again)
}

func TestContentZeroReadsBackAsZeroBytes(t *testing.T) {
	l := openTestLayer(t)

	temp, err := l.NewTemporary()
	require.NoError(t, err)
	data := make([]byte, BlockSize*2)
	for i := range data {
		data[i] = 0xAB
	}
	writeAll(t, temp.Content(), data)

	require.NoError(t, temp.Content().Zero(0, BlockSize))

	buf := make([]byte, BlockSize)
	_, err = temp.Content().ReadAt(buf, 0)
	require.NoError(t, err)
	for _, b := range buf {
		assert.Zero(t, b)
	}

	rest := make([]byte, BlockSize)
	_, err = temp.Content().ReadAt(rest, BlockSize)
	require.NoError(t, err)
	for _, b := range rest {
		assert.EqualValues(t, 0xAB, b)
	}
}

func TestObjectRemoveDeletesBackingFiles(t *testing.T) {
	l := openTestLayer(t)

	temp, err := l.NewTemporary()
	require.NoError(t, err)
	id := NewObjectId()
	var xattr Xattr
	obj, err := l.CreateObject(id, xattr, temp)
	require.NoError(t, err)

	require.NoError(t, obj.Remove())

	again, err := l.OpenObject(id)
	require.NoError(t, err)
	assert.Nil(t, again)
}
