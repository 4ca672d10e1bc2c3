package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply schema migrations",
	Long:  "Creates or updates the client base and run history tables on the configured database.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		// initEnv migrates both stores as part of setup.
		env, err := initEnv(ctx, "import")
		if err != nil {
			return err
		}
		defer env.Close()

		zap.L().Info("all migrations applied successfully",
			zap.String("driver", cfg.Store.Driver),
		)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
