package cli

import (
	"context"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/turtacn/credcore/internal/app"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Inspect and revoke refresh sessions",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the active sessions of a subject",
	RunE: func(cmd *cobra.Command, _ []string) error {
		owner, err := ownerFromFlags(cmd)
		if err != nil {
			return err
		}
		subject, _ := cmd.Flags().GetString("subject")
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			sessions, err := a.Credentials.ActiveSessions(ctx, owner, subject)
			if err != nil {
				return err
			}
			if outputJSON {
				return printJSON(cmd.OutOrStdout(), sessions)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			printf(tw, "ID\tAUDIENCE\tCREATED\tEXPIRES\tIP\n")
			for _, s := range sessions {
				printf(tw, "%s\t%s\t%s\t%s\t%s\n", s.ID, s.Audience,
					s.CreatedAt.Format(time.RFC3339), s.ExpiresAt.Format(time.RFC3339), s.Meta.IPAddress)
			}
			return tw.Flush()
		})
	},
}

var sessionsRevokeCmd = &cobra.Command{
	Use:   "revoke",
	Short: "Revoke one session by id, or every session of a subject",
	RunE: func(cmd *cobra.Command, _ []string) error {
		owner, err := ownerFromFlags(cmd)
		if err != nil {
			return err
		}
		sessionID, _ := cmd.Flags().GetString("session")
		subject, _ := cmd.Flags().GetString("subject")
		if (sessionID == "") == (subject == "") {
			return errExactlyOne("--session", "--subject")
		}
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			if sessionID != "" {
				if err := a.Credentials.RevokeSession(ctx, owner, sessionID); err != nil {
					return err
				}
				printf(cmd.OutOrStdout(), "revoked session %s\n", sessionID)
				return nil
			}
			n, err := a.Credentials.RevokeAllSessions(ctx, owner, subject)
			if err != nil {
				return err
			}
			printf(cmd.OutOrStdout(), "revoked %d session(s) of %s\n", n, subject)
			return nil
		})
	},
}

func init() {
	ownerFlags(sessionsListCmd)
	sessionsListCmd.Flags().String("subject", "", "subject id")
	_ = sessionsListCmd.MarkFlagRequired("subject")

	ownerFlags(sessionsRevokeCmd)
	sessionsRevokeCmd.Flags().String("session", "", "session id")
	sessionsRevokeCmd.Flags().String("subject", "", "revoke every session of this subject")

	sessionsCmd.AddCommand(sessionsListCmd, sessionsRevokeCmd)
	rootCmd.AddCommand(sessionsCmd)
}
