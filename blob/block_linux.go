//go:build linux

package blob

import (
	"os"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// punchHole reclaims disk blocks in [off, off+length) without changing the
// file's apparent size. Reads of the reclaimed range continue to return
// zero bytes. The range is expanded inward to the nearest BlockSize
// boundaries, matching the alignment fallocate(2) requires in practice.
func punchHole(f *os.File, off, length int64) error {
	alignedOff := roundUp(off, BlockSize)
	alignedEnd := roundDown(off+length, BlockSize)
	if alignedEnd <= alignedOff {
		return nil
	}
	err := unix.Fallocate(int(f.Fd()), unix.FALLOC_FL_PUNCH_HOLE|unix.FALLOC_FL_KEEP_SIZE, alignedOff, alignedEnd-alignedOff)
	if err != nil {
		return errors.Wrap(err, "fallocate punch hole")
	}
	return nil
}

func roundUp(v, unit int64) int64 {
	return ((v + unit - 1) / unit) * unit
}

func roundDown(v, unit int64) int64 {
	return (v / unit) * unit
}
