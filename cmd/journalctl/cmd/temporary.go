package cmd

import (
	"fmt"
	"strconv"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"journalstore/blob"
)

var (
	createTempType    string
	createTempXattr   string
	createTempContent string
	updateTempXattr   string
	updateTempContent string
)

func parseRecoveryType(s string) (blob.RecoveryType, error) {
	switch s {
	case "session":
		return blob.SessionType, nil
	case "upload":
		return blob.UploadType, nil
	default:
		return 0, errors.Errorf("unknown recovery type %q, want \"session\" or \"upload\"", s)
	}
}

func parseRecoveryID(typeArg, idArg string) (blob.RecoveryId, error) {
	t, err := parseRecoveryType(typeArg)
	if err != nil {
		return blob.RecoveryId{}, err
	}
	id, err := strconv.ParseUint(idArg, 10, 64)
	if err != nil {
		return blob.RecoveryId{}, errors.Wrapf(err, "invalid recovery id %q", idArg)
	}
	return blob.RecoveryId{Type: t, ID: id}, nil
}

var createTempCmd = &cobra.Command{
	Use:   "create-temp",
	Short: "Tag a fresh, detached temporary with a recovery type, making it survive a crash",
	RunE: func(cmd *cobra.Command, args []string) error {
		t, err := parseRecoveryType(createTempType)
		if err != nil {
			return err
		}
		l, err := openLayer()
		if err != nil {
			return err
		}
		defer l.Close()

		var source *blob.Temporary
		if createTempContent != "" {
			source, err = stageFileContent(l, createTempContent)
			if err != nil {
				return err
			}
		} else {
			source, err = l.NewTemporary()
			if err != nil {
				return err
			}
		}

		ctx, cancel := commitCtx()
		defer cancel()
		temp, err := l.CreateRecoverableTemporary(ctx, t, parseTemporaryXattr(createTempXattr), source)
		if err != nil {
			return err
		}
		printTemporaryState(cmd, temp)
		temp.Release()
		return nil
	},
}

var updateTempCmd = &cobra.Command{
	Use:   "update-temp <type> <id>",
	Short: "Replace an existing recoverable temporary's xattr and/or content",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseRecoveryID(args[0], args[1])
		if err != nil {
			return err
		}
		l, err := openLayer()
		if err != nil {
			return err
		}
		defer l.Close()

		temp, err := l.OpenTemporary(id)
		if err != nil {
			return err
		}
		if temp == nil {
			return errors.Errorf("no temporary with id %s", id)
		}

		tx := l.BeginTransaction()
		txTemp := tx.WrapTemporary(temp)
		if cmd.Flags().Changed("xattr") {
			txTemp.SetXattr(parseTemporaryXattr(updateTempXattr))
		}
		if updateTempContent != "" {
			content, err := stageFileContent(l, updateTempContent)
			if err != nil {
				temp.Release()
				return err
			}
			txTemp.SetContent(content)
		}

		ctx, cancel := commitCtx()
		defer cancel()
		if err := tx.Commit(ctx); err != nil {
			return err
		}
		printTemporaryState(cmd, temp)
		temp.Release()
		return nil
	},
}

var deleteTempCmd = &cobra.Command{
	Use:   "delete-temp <type> <id>",
	Short: "Discard an existing recoverable temporary",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseRecoveryID(args[0], args[1])
		if err != nil {
			return err
		}
		l, err := openLayer()
		if err != nil {
			return err
		}
		defer l.Close()

		temp, err := l.OpenTemporary(id)
		if err != nil {
			return err
		}
		if temp == nil {
			return errors.Errorf("no temporary with id %s", id)
		}

		tx := l.BeginTransaction()
		tx.WrapTemporary(temp).Remove()

		ctx, cancel := commitCtx()
		defer cancel()
		if err := tx.Commit(ctx); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "temporary %s deleted\n", id)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(createTempCmd, updateTempCmd, deleteTempCmd)

	createTempCmd.Flags().StringVar(&createTempType, "type", "session", "recovery type: \"session\" or \"upload\"")
	createTempCmd.Flags().StringVar(&createTempXattr, "xattr", "", "initial xattr value")
	createTempCmd.Flags().StringVar(&createTempContent, "content", "", "path to a file to use as the temporary's content")

	updateTempCmd.Flags().StringVar(&updateTempXattr, "xattr", "", "new xattr value")
	updateTempCmd.Flags().StringVar(&updateTempContent, "content", "", "path to a file to use as the temporary's new content")
}
