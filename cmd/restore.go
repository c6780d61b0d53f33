package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/digest-engine/internal/checkpoint"
)

var restoreCmd = &cobra.Command{
	Use:   "restore <window-id>",
	Short: "Load an archived checkpoint back into the store",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, "restore")
		if err != nil {
			return err
		}
		defer env.Close()

		if env.Archiver == nil {
			return eris.New("restore requires archive.driver local or s3")
		}
		if err := checkpoint.Restore(ctx, env.Checkpoints, env.Archiver, args[0]); err != nil {
			return eris.Wrapf(err, "restore %s", args[0])
		}

		_, _ = fmt.Fprintf(os.Stdout, "Restored window %s\n", args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(restoreCmd)
}
