// Package cli implements keyctl, the operator command line for the signing key set.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/user"

	"github.com/spf13/cobra"

	"github.com/turtacn/keyguard/internal/app"
	"github.com/turtacn/keyguard/internal/config"
	"github.com/turtacn/keyguard/internal/domain/models"
	"github.com/turtacn/keyguard/internal/infrastructure/monitoring"
	"github.com/turtacn/keyguard/pkg/logger"
)

// Builder opens the container a command runs against.
type Builder func(ctx context.Context, configFile string) (*app.Container, error)

// options are the persistent flags shared by every command.
type options struct {
	configFile string
	operator   string
	output     string
}

// client is the audit identity of a CLI invocation.
func (o *options) client() models.ClientInfo {
	op := o.operator
	return models.ClientInfo{PerformedBy: &op, UserAgent: "keyctl"}
}

// NewRootCmd builds the keyctl command tree. build opens the container for each command.
// NewRootCmd 构建 keyctl 命令树，每条命令通过 build 打开容器。
func NewRootCmd(build Builder, out io.Writer) *cobra.Command {
	opts := &options{}
	rootCmd := &cobra.Command{
		Use:   "keyguard-keyctl",
		Short: "Operate the keyguard signing key set.",
		Long: `keyctl inspects and changes the signing key set of a keyguard deployment:
rotation status, adding, rotating and promoting keys, and the key event log.
Changes are recorded in the audit log under the --as operator.`,
		SilenceUsage: true,
	}
	rootCmd.SetOut(out)
	rootCmd.SetErr(out)

	rootCmd.PersistentFlags().StringVar(&opts.configFile, "config", os.Getenv("KEYGUARD_CONFIG_FILE"), "config file")
	rootCmd.PersistentFlags().StringVar(&opts.operator, "as", defaultOperator(), "operator recorded as performedBy")
	rootCmd.PersistentFlags().StringVarP(&opts.output, "output", "o", "table", "output format: table or json")

	run := func(fn func(ctx context.Context, c *app.Container, args []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			if opts.operator == "" {
				return fmt.Errorf("--as is required")
			}
			c, err := build(cmd.Context(), opts.configFile)
			if err != nil {
				return err
			}
			defer c.Close()
			return fn(cmd.Context(), c, args)
		}
	}

	rootCmd.AddCommand(
		newStatusCmd(opts, out, run),
		newAddCmd(opts, out, run),
		newRotateCmd(opts, out, run),
		newMakeCurrentCmd(opts, out, run),
		newEventsCmd(opts, out, run),
		newGrantAdminCmd(opts, out, run),
		newResetLimitCmd(opts, out, run),
	)
	return rootCmd
}

// DefaultBuilder loads the configuration like the server does and opens the container.
func DefaultBuilder(ctx context.Context, configFile string) (*app.Container, error) {
	log, err := monitoring.NewZapLogger(&config.LogConfig{Level: "warn", Format: "console"})
	if err != nil {
		log = logger.NewNoopLogger()
	}
	cfg, err := config.LoadConfig(configFile, log)
	if err != nil {
		return nil, err
	}
	if cfg.Database.Driver == "memory" {
		return nil, fmt.Errorf("database.driver=memory keeps keys inside the server process; keyctl needs postgres or sqlite")
	}
	// keyctl is a short-lived process: no background tracing exporter.
	cfg.Tracing.Enabled = false
	return app.New(ctx, cfg, log)
}

// Execute is the main entry point for the CLI application.
// Execute 是 CLI 应用程序的主入口点。
func Execute() {
	if err := NewRootCmd(DefaultBuilder, os.Stdout).ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func defaultOperator() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return os.Getenv("USER")
}

//Personal.AI order the ending
