package blob

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"syscall"

	"github.com/pkg/errors"
)

// store owns a single directory on disk: the lock that keeps a second
// process out, and the low-level create/open/rename/remove/list primitives
// everything else in this package is built from. It deliberately knows
// nothing about objects, temporaries or recovery types; naming conventions
// live in naming.go.
type store struct {
	mu         sync.Mutex
	dir        string
	lock       *os.File
	nextTempID uint64
}

func openStore(dir string) (*store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.Wrap(err, "create blob directory")
	}
	lockPath := filepath.Join(dir, "LOCK")
	lf, err := os.OpenFile(lockPath, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, errors.Wrap(err, "open lock file")
	}
	if err := syscall.Flock(int(lf.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		lf.Close()
		return nil, errors.Wrap(err, "blob directory already locked by another process")
	}
	s := &store{dir: dir, lock: lf}
	if err := s.recoverNextTempID(); err != nil {
		s.close()
		return nil, err
	}
	return s, nil
}

// recoverNextTempID scans existing detached/typed temporary filenames so a
// freshly opened store never reuses an ID a previous process (or this one,
// before a restart) already handed out.
func (s *store) recoverNextTempID() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return errors.Wrap(err, "scan blob directory")
	}
	var max uint64
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if id, ok := parseAnyTempID(e.Name()); ok && id > max {
			max = id
		}
	}
	s.nextTempID = max
	return nil
}

func (s *store) allocTempID() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextTempID++
	return s.nextTempID
}

func (s *store) path(name string) string {
	return filepath.Join(s.dir, name)
}

func (s *store) createFile(name string) (*os.File, error) {
	f, err := os.OpenFile(s.path(name), os.O_RDWR|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return nil, errors.Wrapf(err, "create %s", name)
	}
	if err := syncDir(s.dir); err != nil {
		f.Close()
		return nil, err
	}
	return f, nil
}

func (s *store) openFile(name string) (*os.File, error) {
	f, err := os.OpenFile(s.path(name), os.O_RDWR, 0644)
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (s *store) removeFile(name string) error {
	err := os.Remove(s.path(name))
	if err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "remove %s", name)
	}
	return nil
}

func (s *store) renameFile(oldName, newName string) error {
	if err := os.Rename(s.path(oldName), s.path(newName)); err != nil {
		return errors.Wrapf(err, "rename %s to %s", oldName, newName)
	}
	return syncDir(s.dir)
}

func (s *store) writeSidecar(name string, data []byte) error {
	tmp := name + ".tmp"
	f, err := os.OpenFile(s.path(tmp), os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return errors.Wrapf(err, "create %s", tmp)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return errors.Wrapf(err, "write %s", tmp)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return errors.Wrapf(err, "sync %s", tmp)
	}
	if err := f.Close(); err != nil {
		return errors.Wrapf(err, "close %s", tmp)
	}
	return s.renameFile(tmp, name)
}

func (s *store) readSidecar(name string, into []byte) error {
	f, err := s.openFile(name)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.ReadAt(into, 0)
	if err != nil {
		return errors.Wrapf(err, "read %s", name)
	}
	return nil
}

// listByPrefix returns, in sorted order, the names of every regular file in
// the directory whose name starts with prefix and ends with suffix.
func (s *store) listByPrefix(prefix, suffix string) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, errors.Wrap(err, "list blob directory")
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		n := e.Name()
		if strings.HasPrefix(n, prefix) && strings.HasSuffix(n, suffix) {
			names = append(names, n)
		}
	}
	sort.Strings(names)
	return names, nil
}

func (s *store) close() error {
	name := s.lock.Name()
	if err := syscall.Flock(int(s.lock.Fd()), syscall.LOCK_UN); err != nil {
		s.lock.Close()
		return errors.Wrap(err, "unlock blob directory")
	}
	if err := s.lock.Close(); err != nil {
		return errors.Wrapf(err, "close %s", name)
	}
	return nil
}

func syncDir(name string) error {
	f, err := os.OpenFile(name, os.O_RDONLY, 0)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}
