package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/turtacn/credcore/internal/app"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Revoke keys past their verification grace and delete stale sessions",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			result, err := a.Sweeper.Sweep(ctx)
			if err != nil {
				return err
			}
			if outputJSON {
				return printJSON(cmd.OutOrStdout(), result)
			}
			printf(cmd.OutOrStdout(), "keys revoked: %d\nsessions deleted: %d\n", result.KeysRevoked, result.SessionsDeleted)
			return nil
		})
	},
}

func errExactlyOne(a, b string) error {
	return fmt.Errorf("exactly one of %s or %s is required", a, b)
}

func init() {
	rootCmd.AddCommand(sweepCmd)
}
