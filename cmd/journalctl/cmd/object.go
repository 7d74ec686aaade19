package cmd

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"journalstore/blob"
	"journalstore/journallayer"
)

var (
	createObjectXattr    string
	createObjectContent  string
	createObjectFromTemp string
	updateObjectXattr    string
	updateObjectContent  string
	updateObjectFromTemp string
)

// openTemporaryFromFlag opens the recoverable temporary named by a
// "type:id" flag value, e.g. "upload:7".
func openTemporaryFromFlag(l *journallayer.Layer, flag string) (*journallayer.RecoverableTemporary, error) {
	typeArg, idArg, ok := strings.Cut(flag, ":")
	if !ok {
		return nil, errors.Errorf("invalid --from-temp value %q, want \"type:id\"", flag)
	}
	recID, err := parseRecoveryID(typeArg, idArg)
	if err != nil {
		return nil, err
	}
	temp, err := l.OpenTemporary(recID)
	if err != nil {
		return nil, err
	}
	if temp == nil {
		return nil, errors.Errorf("no temporary with id %s", recID)
	}
	return temp, nil
}

var createObjectCmd = &cobra.Command{
	Use:   "create-object",
	Short: "Create a new object from a file's content, or by consuming a recoverable temporary",
	RunE: func(cmd *cobra.Command, args []string) error {
		if createObjectContent != "" && createObjectFromTemp != "" {
			return errors.Errorf("--content and --from-temp are mutually exclusive")
		}
		l, err := openLayer()
		if err != nil {
			return err
		}
		defer l.Close()

		id := blob.NewObjectId()
		tx := l.BeginTransaction()
		var txObj *journallayer.TxObject

		if createObjectFromTemp != "" {
			temp, terr := openTemporaryFromFlag(l, createObjectFromTemp)
			if terr != nil {
				return terr
			}
			txObj = tx.CreateObjectFromTemporary(id, parseXattr(createObjectXattr), temp)
		} else {
			var content *blob.Temporary
			if createObjectContent != "" {
				content, err = stageFileContent(l, createObjectContent)
				if err != nil {
					return err
				}
			} else {
				content, err = l.NewTemporary()
				if err != nil {
					return err
				}
			}
			txObj = tx.CreateObject(id, parseXattr(createObjectXattr), content)
		}

		ctx, cancel := commitCtx()
		defer cancel()
		if err := tx.Commit(ctx); err != nil {
			return err
		}
		obj := txObj.Handle()
		printObjectState(cmd, obj)
		obj.Release()
		return nil
	},
}

var updateObjectCmd = &cobra.Command{
	Use:   "update-object <id>",
	Short: "Replace an existing object's xattr and/or content",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if updateObjectContent != "" && updateObjectFromTemp != "" {
			return errors.Errorf("--content and --from-temp are mutually exclusive")
		}
		id, err := uuid.Parse(args[0])
		if err != nil {
			return errors.Wrapf(err, "invalid object id %q", args[0])
		}
		l, err := openLayer()
		if err != nil {
			return err
		}
		defer l.Close()

		obj, err := l.OpenObject(id)
		if err != nil {
			return err
		}
		if obj == nil {
			return errors.Errorf("no object with id %s", id)
		}

		tx := l.BeginTransaction()
		txObj := tx.Wrap(obj)
		if cmd.Flags().Changed("xattr") {
			txObj.SetXattr(parseXattr(updateObjectXattr))
		}
		if updateObjectFromTemp != "" {
			temp, terr := openTemporaryFromFlag(l, updateObjectFromTemp)
			if terr != nil {
				obj.Release()
				return terr
			}
			txObj.SetContentFromTemporary(temp)
		} else if updateObjectContent != "" {
			content, err := stageFileContent(l, updateObjectContent)
			if err != nil {
				obj.Release()
				return err
			}
			txObj.SetContent(content)
		}

		ctx, cancel := commitCtx()
		defer cancel()
		if err := tx.Commit(ctx); err != nil {
			return err
		}
		printObjectState(cmd, obj)
		obj.Release()
		return nil
	},
}

var deleteObjectCmd = &cobra.Command{
	Use:   "delete-object <id>",
	Short: "Delete an existing object",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return errors.Wrapf(err, "invalid object id %q", args[0])
		}
		l, err := openLayer()
		if err != nil {
			return err
		}
		defer l.Close()

		obj, err := l.OpenObject(id)
		if err != nil {
			return err
		}
		if obj == nil {
			return errors.Errorf("no object with id %s", id)
		}

		tx := l.BeginTransaction()
		tx.Wrap(obj).Remove()

		ctx, cancel := commitCtx()
		defer cancel()
		if err := tx.Commit(ctx); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "object %s deleted\n", id)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(createObjectCmd, updateObjectCmd, deleteObjectCmd)

	createObjectCmd.Flags().StringVar(&createObjectXattr, "xattr", "", "initial xattr value")
	createObjectCmd.Flags().StringVar(&createObjectContent, "content", "", "path to a file to use as the object's content")
	createObjectCmd.Flags().StringVar(&createObjectFromTemp, "from-temp", "", "consume a recoverable temporary (\"type:id\") as the object's content")

	updateObjectCmd.Flags().StringVar(&updateObjectXattr, "xattr", "", "new xattr value")
	updateObjectCmd.Flags().StringVar(&updateObjectContent, "content", "", "path to a file to use as the object's new content")
	updateObjectCmd.Flags().StringVar(&updateObjectFromTemp, "from-temp", "", "consume a recoverable temporary (\"type:id\") as the object's new content")
}
