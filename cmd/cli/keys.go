package cli

import (
	"context"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/turtacn/credcore/internal/app"
	"github.com/turtacn/credcore/internal/domain/models"
)

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage owner signing keys",
}

var keysProvisionCmd = &cobra.Command{
	Use:   "provision",
	Short: "Create the first active key of an owner",
	RunE: func(cmd *cobra.Command, _ []string) error {
		owner, err := ownerFromFlags(cmd)
		if err != nil {
			return err
		}
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			info, err := a.Credentials.ProvisionKey(ctx, owner)
			if err != nil {
				return err
			}
			return printKey(cmd, info)
		})
	},
}

var keysRotateCmd = &cobra.Command{
	Use:   "rotate",
	Short: "Replace the active key of an owner",
	RunE: func(cmd *cobra.Command, _ []string) error {
		owner, err := ownerFromFlags(cmd)
		if err != nil {
			return err
		}
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			info, err := a.Credentials.RotateKey(ctx, owner)
			if err != nil {
				return err
			}
			return printKey(cmd, info)
		})
	},
}

var keysListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every key of an owner, newest first",
	RunE: func(cmd *cobra.Command, _ []string) error {
		owner, err := ownerFromFlags(cmd)
		if err != nil {
			return err
		}
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			keys, err := a.Credentials.ListKeys(ctx, owner)
			if err != nil {
				return err
			}
			if outputJSON {
				return printJSON(cmd.OutOrStdout(), keys)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			printf(tw, "KID\tALG\tSTATUS\tCREATED\tVERIFY UNTIL\n")
			for _, k := range keys {
				printf(tw, "%s\t%s\t%s\t%s\t%s\n", k.Kid, k.Algorithm, k.Status,
					k.CreatedAt.Format(time.RFC3339), formatOptionalTime(k.VerifyUntil))
			}
			return tw.Flush()
		})
	},
}

var keysJWKSCmd = &cobra.Command{
	Use:   "jwks",
	Short: "Print the published JWKS document of an owner",
	RunE: func(cmd *cobra.Command, _ []string) error {
		owner, err := ownerFromFlags(cmd)
		if err != nil {
			return err
		}
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			jwks, err := a.Credentials.PublicJWKS(ctx, owner)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), jwks)
		})
	},
}

var keysPublishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Write the JWKS document of an owner to the CDN origin",
	RunE: func(cmd *cobra.Command, _ []string) error {
		owner, err := ownerFromFlags(cmd)
		if err != nil {
			return err
		}
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			if err := a.Keys.PublishJWKS(ctx, owner); err != nil {
				return err
			}
			printf(cmd.OutOrStdout(), "published %s\n", owner)
			return nil
		})
	},
}

func printKey(cmd *cobra.Command, info *models.KeyInfo) error {
	if outputJSON {
		return printJSON(cmd.OutOrStdout(), info)
	}
	printf(cmd.OutOrStdout(), "kid: %s\nalg: %s\nstatus: %s\n", info.Kid, info.Algorithm, info.Status)
	return nil
}

func formatOptionalTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format(time.RFC3339)
}

func init() {
	for _, c := range []*cobra.Command{keysProvisionCmd, keysRotateCmd, keysListCmd, keysJWKSCmd, keysPublishCmd} {
		ownerFlags(c)
		keysCmd.AddCommand(c)
	}
	rootCmd.AddCommand(keysCmd)
}
