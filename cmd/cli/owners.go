package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/turtacn/credcore/internal/app"
	"github.com/turtacn/credcore/internal/infrastructure/persistence/postgres"
	redisstore "github.com/turtacn/credcore/internal/infrastructure/persistence/redis"
)

var ownersCmd = &cobra.Command{
	Use:   "owners",
	Short: "Inspect and remove owners",
}

var ownersShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show an owner and its issuer",
	RunE: func(cmd *cobra.Command, _ []string) error {
		owner, err := ownerFromFlags(cmd)
		if err != nil {
			return err
		}
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			row, err := postgres.NewOwnerRepository(a.DB.DB(), a.Logger).Get(ctx, owner)
			if err != nil {
				return err
			}
			if outputJSON {
				return printJSON(cmd.OutOrStdout(), map[string]interface{}{
					"kind":       row.Kind,
					"id":         row.ID,
					"issuer":     row.Issuer,
					"created_at": row.CreatedAt,
				})
			}
			printf(cmd.OutOrStdout(), "owner: %s\nissuer: %s\ncreated: %s\n",
				owner, row.Issuer, row.CreatedAt.Format(time.RFC3339))
			return nil
		})
	},
}

var ownersDeleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Delete an owner together with its keys and sessions",
	RunE: func(cmd *cobra.Command, _ []string) error {
		owner, err := ownerFromFlags(cmd)
		if err != nil {
			return err
		}
		if yes, _ := cmd.Flags().GetBool("yes"); !yes {
			return fmt.Errorf("refusing to delete %s without --yes", owner)
		}
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			owners := postgres.NewOwnerRepository(a.DB.DB(), a.Logger)
			if _, err := owners.Get(ctx, owner); err != nil {
				return err
			}
			if err := owners.Delete(ctx, owner); err != nil {
				return err
			}
			if a.Redis != nil {
				if err := redisstore.NewJWKSCache(a.Redis.Client(), a.Logger).Invalidate(ctx, owner); err != nil {
					printf(cmd.ErrOrStderr(), "warning: shared JWKS cache not invalidated: %v\n", err)
				}
			}
			if a.Publisher != nil {
				if err := a.Publisher.Remove(ctx, owner); err != nil {
					printf(cmd.ErrOrStderr(), "warning: published JWKS not removed: %v\n", err)
				}
			}
			printf(cmd.OutOrStdout(), "deleted %s\n", owner)
			return nil
		})
	},
}

func init() {
	ownerFlags(ownersShowCmd)
	ownerFlags(ownersDeleteCmd)
	ownersDeleteCmd.Flags().Bool("yes", false, "confirm the deletion")

	ownersCmd.AddCommand(ownersShowCmd, ownersDeleteCmd)
	rootCmd.AddCommand(ownersCmd)
}
