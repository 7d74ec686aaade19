//go:build !linux

package blob

import (
	"os"

	"github.com/sirupsen/logrus"
)

var warnedNoPunchHole bool

// punchHole is a no-op outside Linux: the space is never reclaimed and the
// range is not zeroed either, so reads keep returning the old bytes. We log
// once per process so the degraded behavior is visible without spamming
// every commit.
func punchHole(f *os.File, off, length int64) error {
	if !warnedNoPunchHole {
		warnedNoPunchHole = true
		logrus.WithField("path", f.Name()).Warn("blob: hole punching unsupported on this platform, disk space will not be reclaimed")
	}
	return nil
}
