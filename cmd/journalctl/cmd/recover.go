package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"journalstore/blob"
)

var recoverCmd = &cobra.Command{
	Use:   "recover",
	Short: "Replay the journal, list leftover recoverable temporaries, then open the store for live use",
	Long: `recover runs the same startup repair pass a real process would run
before serving traffic: it replays whatever transactions the journal
shows were fully committed, discards content that was staged but never
got that far, and then lists every typed temporary left on disk for
each known recovery category so an operator can see what a caller
would need to decide about before the directory is considered clean.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := recoverStore()
		if err != nil {
			return err
		}

		for _, t := range blob.AllRecoveryTypes {
			temps, err := r.RecoverTemporaries(t)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d leftover temporary(ies)\n", t, len(temps))
			for _, temp := range temps {
				fmt.Fprintf(cmd.OutOrStdout(), "  %s  xattr=%q\n", temp.OldID(), trimTemporaryXattr(temp.Xattr()))
			}
		}

		l, err := r.Finish()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "recovery complete, store is open for live use")
		return l.Close()
	},
}

func init() {
	rootCmd.AddCommand(recoverCmd)
}
