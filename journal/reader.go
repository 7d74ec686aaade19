package journal

// Reader scans a byte-for-byte dump of a journal's content and yields
// complete transactions, in the order they were committed. It has no
// notion of files or offsets beyond the slice it was given; callers read
// the whole journal's content into memory first and hand the bytes here.
// Nothing bounds the journal's length: journallayer only hole-punches the
// block-aligned ranges of applied transactions and never truncates it.
type Reader struct {
	data []byte
	pos  int
}

func NewReader(data []byte) *Reader {
	return &Reader{data: data}
}

// Transaction holds the entries of one committed transaction, plus the
// byte offset immediately following its last entry, which is where the
// next transaction (if any) begins.
type Transaction struct {
	Entries []Entry
	End     int
}

// Next returns the next fully present transaction in the journal, or ok ==
// false if none remains. A transaction is "fully present" when there are at
// least txSize entries' worth of bytes remaining starting from the first
// entry's declared txSize; anything short of that is a torn tail left by a
// crash mid-commit and is silently not returned, matching the countdown
// discipline entries are written under: the first entry of a transaction
// announces how many entries, including itself, make up the whole group.
func (r *Reader) Next() (Transaction, bool) {
	for {
		if r.pos+Size > len(r.data) {
			return Transaction{}, false
		}
		first := Decode(r.data[r.pos : r.pos+Size])
		if first.TxSize == 0 {
			// Zero-filled slack past the last real write, or a
			// stray entry that never got a countdown; neither
			// belongs to a real transaction.
			return Transaction{}, false
		}
		need := int(first.TxSize) * Size
		if r.pos+need > len(r.data) {
			return Transaction{}, false
		}
		entries := make([]Entry, first.TxSize)
		entries[0] = first
		ok := true
		for i := 1; i < int(first.TxSize); i++ {
			off := r.pos + i*Size
			e := Decode(r.data[off : off+Size])
			if e.TxSize != first.TxSize-uint32(i) {
				// The countdown broke mid-group: this can
				// only happen if the tail was torn at an
				// unlucky boundary that still happened to
				// leave Size-aligned bytes behind. Treat the
				// whole group as absent.
				ok = false
				break
			}
			entries[i] = e
		}
		if !ok {
			return Transaction{}, false
		}
		r.pos += need
		return Transaction{Entries: entries, End: r.pos}, true
	}
}

// ScanClosed reads every closed transaction out of data and also reports
// the offset where the next entry should be appended: either right after
// the last closed transaction, if a torn tail follows, or at len(data) if
// none does.
func ScanClosed(data []byte) ([]Transaction, int64) {
	r := NewReader(data)
	var txs []Transaction
	for {
		tx, ok := r.Next()
		if !ok {
			break
		}
		txs = append(txs, tx)
	}
	return txs, int64(r.pos)
}
