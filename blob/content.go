package blob

import (
	"os"
	"sync"

	"github.com/pkg/errors"
)

// BlockSize is the unit of alignment this layer uses for hole punching.
// Zero(off, len) rounds its argument inward to this boundary before
// reclaiming space, so bytes of the requested range that lie outside the
// aligned interior are left as they were.
const BlockSize = 4096

// Content is a handle onto a single file's bytes. It is safe for concurrent
// use: all operations go through pread/pwrite style syscalls keyed by an
// explicit offset, so no caller needs to coordinate a shared cursor.
type Content struct {
	mu   sync.Mutex
	file *os.File
}

func newContent(f *os.File) *Content {
	return &Content{file: f}
}

// ReadAt reads len(p) bytes starting at off.
func (c *Content) ReadAt(p []byte, off int64) (int, error) {
	return c.file.ReadAt(p, off)
}

// WriteAt writes p starting at off.
func (c *Content) WriteAt(p []byte, off int64) (int, error) {
	return c.file.WriteAt(p, off)
}

// Sync flushes this content's data (and, on most platforms, its metadata)
// to stable storage.
func (c *Content) Sync() error {
	return c.file.Sync()
}

// Size reports the current length of the content in bytes.
func (c *Content) Size() (int64, error) {
	fi, err := c.file.Stat()
	if err != nil {
		return 0, errors.Wrap(err, "stat content")
	}
	return fi.Size(), nil
}

// Truncate grows or shrinks the content to exactly size bytes.
func (c *Content) Truncate(size int64) error {
	return c.file.Truncate(size)
}

// Zero reclaims the byte range [off, off+length) rounded inward to BlockSize
// boundaries. On Linux, future reads of that aligned interior return zero
// bytes; the unaligned edges keep their old bytes, so callers that need
// exact zero bytes there should also WriteAt zeros over them. On other
// platforms Zero changes nothing (see block_other.go).
func (c *Content) Zero(off, length int64) error {
	if length <= 0 {
		return nil
	}
	return punchHole(c.file, off, length)
}

// File exposes the underlying descriptor for callers (recovery, tests) that
// need platform-specific access this handle doesn't wrap.
func (c *Content) File() *os.File {
	return c.file
}

func (c *Content) close() error {
	return c.file.Close()
}
