package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"journalstore/blob"
	"journalstore/journallayer"
)

// commitTimeout is the deadline of the context each CLI-driven transaction
// commits under. Commit checks it only before starting the journal write;
// it does not cut short a write or sync already in progress.
const commitTimeout = 10 * time.Second

func openLayer() (*journallayer.Layer, error) {
	return journallayer.Open(storeDir)
}

func recoverStore() (*journallayer.Recovery, error) {
	return journallayer.Recover(storeDir)
}

func commitCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), commitTimeout)
}

// parseXattr turns a short human-readable flag value into a fixed 16-byte
// object xattr, left-justified and zero-padded or truncated to fit.
func parseXattr(s string) blob.Xattr {
	var x blob.Xattr
	copy(x[:], s)
	return x
}

func parseTemporaryXattr(s string) blob.TemporaryXattr {
	var x blob.TemporaryXattr
	copy(x[:], s)
	return x
}

// stageFileContent allocates a fresh detached temporary on l and copies
// path's bytes into it, ready to be handed to a Transaction's Create/Set
// content calls.
func stageFileContent(l *journallayer.Layer, path string) (*blob.Temporary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", path)
	}
	temp, err := l.NewTemporary()
	if err != nil {
		return nil, errors.Wrap(err, "allocate scratch content")
	}
	if len(data) > 0 {
		if _, err := temp.Content().WriteAt(data, 0); err != nil {
			return nil, errors.Wrap(err, "write scratch content")
		}
	}
	if err := temp.Content().Sync(); err != nil {
		return nil, errors.Wrap(err, "sync scratch content")
	}
	return temp, nil
}

func printObjectState(cmd *cobra.Command, obj *journallayer.Object) {
	fmt.Fprintf(cmd.OutOrStdout(), "object %s  generation=%d  xattr=%q\n",
		obj.ID(), obj.Generation(), trimXattr(obj.Xattr()))
}

func printTemporaryState(cmd *cobra.Command, temp *journallayer.RecoverableTemporary) {
	fmt.Fprintf(cmd.OutOrStdout(), "temporary %s  xattr=%q\n",
		temp.ID(), trimTemporaryXattr(temp.Xattr()))
}

func trimXattr(x blob.Xattr) string {
	return trimZeros(x[:])
}

func trimTemporaryXattr(x blob.TemporaryXattr) string {
	return trimZeros(x[:])
}

func trimZeros(b []byte) string {
	i := 0
	for i < len(b) && b[i] != 0 {
		i++
	}
	return string(b[:i])
}
