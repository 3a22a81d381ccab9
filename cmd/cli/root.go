// Package cli implements the credctl command tree.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/turtacn/credcore/internal/app"
	"github.com/turtacn/credcore/internal/config"
	"github.com/turtacn/credcore/internal/domain/models"
	"github.com/turtacn/credcore/internal/infrastructure/monitoring"
	"github.com/turtacn/credcore/pkg/logger"
)

var (
	configFile string
	outputJSON bool
)

// rootCmd represents the base command when credctl is called without any subcommands.
// rootCmd 代表在没有任何子命令的情况下调用 credctl 时的基本命令。
var rootCmd = &cobra.Command{
	Use:   "credctl",
	Short: "Administer the credential core",
	Long: `credctl performs operator tasks against the credential core store:
provisioning and rotating owner keys, inspecting and revoking sessions,
and running the hygiene sweep.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "path to the configuration file")
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "print results as JSON")
}

// Execute is the main entry point for the CLI application.
// Execute 是 CLI 应用程序的主入口点。
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// withApp loads the configuration, wires the application and runs fn.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	log, err := monitoring.NewZapLoggerWithWriter(&config.LogConfig{Level: "warn", Format: "console"}, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	cfg, err := config.LoadConfig(configFile, log)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.Close(context.Background()); cerr != nil {
			log.Warn(ctx, "Failed to release resources", logger.Err(cerr))
		}
	}()
	return fn(ctx, a)
}

// ownerFlags registers --kind and --id on cmd.
func ownerFlags(cmd *cobra.Command) {
	cmd.Flags().String("kind", "", "owner kind (tenant or application)")
	cmd.Flags().String("id", "", "owner id")
	_ = cmd.MarkFlagRequired("kind")
	_ = cmd.MarkFlagRequired("id")
}

func ownerFromFlags(cmd *cobra.Command) (models.OwnerRef, error) {
	kind, _ := cmd.Flags().GetString("kind")
	id, _ := cmd.Flags().GetString("id")
	return models.NewOwnerRef(kind, id)
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printf(w io.Writer, format string, args ...interface{}) {
	_, _ = fmt.Fprintf(w, format, args...)
}
