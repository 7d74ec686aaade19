package journal

import "io"

// Writer appends whole transactions to an io.WriterAt-backed journal
// content, tracking the next free offset itself so callers never have to
// compute it. It performs no syncing; callers that need durability call
// Sync on whatever sits underneath (typically a blob.Content) once
// WriteTransaction returns.
type Writer struct {
	w   io.WriterAt
	pos int64
}

// NewWriter resumes writing a journal whose content already has len valid
// bytes at its head.
func NewWriter(w io.WriterAt, len int64) *Writer {
	return &Writer{w: w, pos: len}
}

// Pos reports the offset the next WriteTransaction call will write at.
func (w *Writer) Pos() int64 {
	return w.pos
}

// WriteTransaction encodes and writes entries as a single contiguous run,
// in order, starting at the writer's current position. entries must already
// carry the countdown TxSize discipline Reader expects: the i-th entry (0
// indexed) of an N-entry transaction has TxSize == N-i, so the last entry's
// TxSize is 1. The caller is responsible for setting that up, since only
// the caller knows the final entry count at the point each individual entry
// is constructed.
func (w *Writer) WriteTransaction(entries []Entry) (int64, error) {
	buf := make([]byte, len(entries)*Size)
	for i, e := range entries {
		e.Encode(buf[i*Size : (i+1)*Size])
	}
	start := w.pos
	if _, err := w.w.WriteAt(buf, start); err != nil {
		return start, err
	}
	w.pos += int64(len(buf))
	return start, nil
}
