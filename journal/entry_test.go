package journal

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"journalstore/blob"
)

// fakeContent is a minimal io.WriterAt backed by a byte slice, standing in
// for a blob.Content in tests that don't need a real file.
type fakeContent struct {
	buf []byte
}

func (f *fakeContent) WriteAt(p []byte, off int64) (int, error) {
	end := off + int64(len(p))
	if end > int64(len(f.buf)) {
		grown := make([]byte, end)
		copy(grown, f.buf)
		f.buf = grown
	}
	copy(f.buf[off:end], p)
	return len(p), nil
}

func TestEntryRoundTrip(t *testing.T) {
	id := blob.NewObjectId()
	var xattr [16]byte
	copy(xattr[:], "hello-xattr-bytz")
	e := NewObjectEntry(UpdateObject, 3, 7, id, xattr)

	buf := make([]byte, Size)
	e.Encode(buf)
	decoded := Decode(buf)

	assert.Equal(t, UpdateObject, decoded.Type)
	assert.Equal(t, uint32(3), decoded.TxSize)
	assert.Equal(t, uint64(7), decoded.StagingID)
	assert.Equal(t, id, decoded.ObjectID())
	assert.Equal(t, xattr, decoded.Xattr)
}

func TestEntryRoundTripTemporary(t *testing.T) {
	rid := blob.RecoveryId{Type: blob.SessionType, ID: 42}
	var xattr [16]byte
	e := NewTemporaryEntry(CreateTemporary, 1, 1, rid, xattr)

	buf := make([]byte, Size)
	e.Encode(buf)
	decoded := Decode(buf)

	assert.Equal(t, CreateTemporary, decoded.Type)
	assert.Equal(t, rid, decoded.RecoveryID())
}

func TestWriterReaderRoundTrip(t *testing.T) {
	fc := &fakeContent{}
	w := NewWriter(fc, 0)

	id1 := blob.NewObjectId()
	id2 := blob.NewObjectId()
	entries := []Entry{
		NewObjectEntry(CreateObject, 2, 1, id1, [16]byte{}),
		NewObjectEntry(UpdateXattr, 1, 2, id2, [16]byte{}),
	}
	_, err := w.WriteTransaction(entries)
	require.NoError(t, err)

	txs, end := ScanClosed(fc.buf)
	require.Len(t, txs, 1)
	assert.Equal(t, int64(len(fc.buf)), end)
	assert.Len(t, txs[0].Entries, 2)
	assert.Equal(t, id1, txs[0].Entries[0].ObjectID())
	assert.Equal(t, id2, txs[0].Entries[1].ObjectID())
}

func TestScanClosedIgnoresTornTail(t *testing.T) {
	fc := &fakeContent{}
	w := NewWriter(fc, 0)

	id := blob.NewObjectId()
	entries := []Entry{
		NewObjectEntry(CreateObject, 2, 1, id, [16]byte{}),
		NewObjectEntry(UpdateXattr, 1, 2, id, [16]byte{}),
	}
	_, err := w.WriteTransaction(entries)
	require.NoError(t, err)

	// Simulate a crash that tore the next write: only half an entry's
	// worth of (zero) bytes landed after the closed transaction.
	torn := append(bytes.Clone(fc.buf), make([]byte, Size/2)...)

	txs, end := ScanClosed(torn)
	require.Len(t, txs, 1)
	assert.Equal(t, int64(len(fc.buf)), end)
}

func TestScanClosedEmpty(t *testing.T) {
	txs, end := ScanClosed(nil)
	assert.Empty(t, txs)
	assert.Zero(t, end)
}
