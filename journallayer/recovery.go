package journallayer

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"journalstore/blob"
	"journalstore/journal"
)

// Recovery drives the startup repair pass over a blob directory that may
// have been left behind by an unclean shutdown: it replays whatever
// transactions the journal shows were fully committed, cleans up content
// that was staged but never got that far, and then hands back every
// leftover typed temporary so the caller can decide what, if anything, to
// do with each one before the directory is opened for live use.
type Recovery struct {
	br *blob.Recovery
}

// Recover locks dir and replays its journal, if any. It is always safe to
// call, including on a directory that was shut down cleanly: replay of an
// empty or absent journal is a no-op.
func Recover(dir string) (*Recovery, error) {
	br, err := blob.OpenRecovery(dir)
	if err != nil {
		return nil, err
	}
	r := &Recovery{br: br}
	if err := r.replayJournal(); err != nil {
		return nil, err
	}
	if err := r.discardOrphanedStaging(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Recovery) replayJournal() error {
	journalTemps, err := r.br.FindTemporaries(blob.JournalType)
	if err != nil {
		return errors.Wrap(err, "find journal temporary")
	}
	if len(journalTemps) > 1 {
		return errors.Errorf("found %d journal temporaries, expected at most one", len(journalTemps))
	}
	if len(journalTemps) == 0 {
		return nil
	}
	jt := journalTemps[0]
	content, err := jt.Content()
	if err != nil {
		return errors.Wrap(err, "open journal content")
	}
	size, err := content.Size()
	if err != nil {
		return errors.Wrap(err, "stat journal content")
	}
	data := make([]byte, size)
	if size > 0 {
		if _, err := content.ReadAt(data, 0); err != nil {
			return errors.Wrap(err, "read journal content")
		}
	}
	if err := content.File().Close(); err != nil {
		return errors.Wrap(err, "close journal content")
	}
	txs, _ := journal.ScanClosed(data)
	for _, tx := range txs {
		for _, entry := range tx.Entries {
			if err := r.replayEntry(entry); err != nil {
				return errors.Wrapf(err, "replay entry for staging id %d", entry.StagingID)
			}
		}
	}
	logrus.WithField("transactions", len(txs)).Info("journallayer: replayed committed transactions")
	if err := jt.Discard(); err != nil {
		return errors.Wrap(err, "discard exhausted journal")
	}
	return nil
}

func (r *Recovery) replayEntry(entry journal.Entry) error {
	id := blob.RecoveryId{Type: blob.StagingType, ID: entry.StagingID}
	switch entry.Type {
	case journal.CreateObject:
		return r.promote(id, func(staged *blob.RecoveredTemporary) error {
			_, err := staged.KeepAs(entry.ObjectID(), entry.Xattr)
			return err
		})
	case journal.UpdateObject:
		return r.promote(id, func(staged *blob.RecoveredTemporary) error {
			obj, err := r.br.GetObject(entry.ObjectID())
			if err != nil {
				return err
			}
			if obj == nil {
				return staged.Discard()
			}
			temp, err := staged.ReopenAsTemporary()
			if err != nil {
				return err
			}
			return obj.Overwrite(entry.Xattr, temp)
		})
	case journal.UpdateXattr:
		obj, err := r.br.GetObject(entry.ObjectID())
		if err != nil {
			return err
		}
		if obj == nil {
			return nil
		}
		return obj.SetXattr(entry.Xattr)
	case journal.DeleteObject:
		obj, err := r.br.GetObject(entry.ObjectID())
		if err != nil {
			return err
		}
		if obj == nil {
			return nil
		}
		return obj.Remove()
	case journal.CreateTemporary:
		return r.promote(id, func(staged *blob.RecoveredTemporary) error {
			temp, err := staged.ReopenAsTemporary()
			if err != nil {
				return err
			}
			return temp.Retag(entry.RecoveryID(), toTemporaryXattr(entry.Xattr))
		})
	case journal.UpdateTemporary:
		return r.promote(id, func(staged *blob.RecoveredTemporary) error {
			existing, err := r.br.GetTypedTemporary(entry.RecoveryID())
			if err != nil {
				return err
			}
			if existing == nil {
				return staged.Discard()
			}
			existingTemp, err := existing.ReopenAsTemporary()
			if err != nil {
				return err
			}
			stagedTemp, err := staged.ReopenAsTemporary()
			if err != nil {
				return err
			}
			return existingTemp.Overwrite(toTemporaryXattr(entry.Xattr), stagedTemp)
		})
	case journal.UpdateTemporaryXattr:
		existing, err := r.br.GetTypedTemporary(entry.RecoveryID())
		if err != nil {
			return err
		}
		if existing == nil {
			return nil
		}
		existingTemp, err := existing.ReopenAsTemporary()
		if err != nil {
			return err
		}
		return existingTemp.SetXattr(toTemporaryXattr(entry.Xattr))
	case journal.DeleteTemporary:
		existing, err := r.br.GetTypedTemporary(entry.RecoveryID())
		if err != nil {
			return err
		}
		if existing == nil {
			return nil
		}
		return existing.Discard()
	default:
		return errors.Errorf("unknown journal entry type %v", entry.Type)
	}
}

func toTemporaryXattr(x [16]byte) blob.TemporaryXattr {
	var out blob.TemporaryXattr
	copy(out[:], x[:])
	return out
}

// promote looks up a staged temporary by id and, if present, runs fn on
// it. A missing staged temporary means a previous apply or recovery pass
// already finished this entry's work; skipping is what makes replay safe
// to run against a journal more than once.
func (r *Recovery) promote(id blob.RecoveryId, fn func(*blob.RecoveredTemporary) error) error {
	staged, err := r.br.GetTypedTemporary(id)
	if err != nil {
		return err
	}
	if staged == nil {
		return nil
	}
	return fn(staged)
}

// discardOrphanedStaging removes every STAGING-tagged temporary left after
// replay: content that was durably staged but whose transaction never
// closed, or whose entry has already been consumed above. Nothing
// referencing these ids exists in the journal anymore, so they are pure
// garbage.
func (r *Recovery) discardOrphanedStaging() error {
	orphans, err := r.br.FindTemporaries(blob.StagingType)
	if err != nil {
		return errors.Wrap(err, "find staged temporaries")
	}
	for _, o := range orphans {
		if err := o.Discard(); err != nil {
			return errors.Wrapf(err, "discard orphaned staged temporary %s", o.OldID())
		}
	}
	if len(orphans) > 0 {
		logrus.WithField("count", len(orphans)).Info("journallayer: discarded orphaned staged content")
	}
	return nil
}

// RecoverTemporaries lists every leftover typed temporary of type t found
// on disk. Callers decide what to do with each: keep it as an object,
// re-tag it under a fresh id, or discard it.
func (r *Recovery) RecoverTemporaries(t blob.RecoveryType) ([]*blob.RecoveredTemporary, error) {
	return r.br.FindTemporaries(t)
}

// GetObject looks up an object during recovery, before Finish.
func (r *Recovery) GetObject(id blob.ObjectId) (*blob.Object, error) {
	return r.br.GetObject(id)
}

// Finish declares recovery complete and returns a live Layer over the same
// directory, with a fresh journal.
func (r *Recovery) Finish() (*Layer, error) {
	return newLayer(r.br.Finish())
}
