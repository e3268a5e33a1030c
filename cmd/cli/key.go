package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/turtacn/keyguard/internal/app"
	"github.com/turtacn/keyguard/internal/application/dto"
	"github.com/turtacn/keyguard/internal/domain/models"
	"github.com/turtacn/keyguard/pkg/constants"
)

type runner func(fn func(ctx context.Context, c *app.Container, args []string) error) func(*cobra.Command, []string) error

func newStatusCmd(opts *options, out io.Writer, run runner) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show every key with its rotation status",
		Args:  cobra.NoArgs,
		RunE: run(func(ctx context.Context, c *app.Container, _ []string) error {
			statuses, err := c.KeyStore.CheckRotationStatus(ctx)
			if err != nil {
				return err
			}
			if opts.output == "json" {
				return writeJSON(out, statuses)
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "KEY ID\tCURRENT\tLAST ROTATED\tDAYS LEFT\tNEEDS ROTATION")
			for _, s := range statuses {
				fmt.Fprintf(tw, "%s\t%t\t%s\t%d\t%t\n", s.KeyID, s.IsCurrent,
					s.LastRotatedAt.UTC().Format(time.RFC3339), s.DaysUntilRotation, s.NeedsRotation)
			}
			return tw.Flush()
		}),
	}
}

func newAddCmd(opts *options, out io.Writer, run runner) *cobra.Command {
	var req dto.AddKeyRequest
	cmd := &cobra.Command{
		Use:   "add KEY_ID",
		Short: "Add a new signing key",
		Args:  cobra.ExactArgs(1),
		RunE: run(func(ctx context.Context, c *app.Container, args []string) error {
			req.KeyID = args[0]
			res, err := c.KeyStore.AddKey(ctx, req.Spec(), opts.client())
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "added key %s\n", res.KeyID)
			return nil
		}),
	}
	cmd.Flags().StringVar(&req.Algorithm, "algorithm", "", "HS256, HS384 or HS512 (default from config)")
	cmd.Flags().IntVar(&req.RotationFrequencyDays, "rotation-days", 0, "rotation frequency in days (default from config)")
	cmd.Flags().BoolVar(&req.MakeCurrent, "current", false, "make the new key the current signing key")
	return cmd
}

func newRotateCmd(opts *options, out io.Writer, run runner) *cobra.Command {
	return &cobra.Command{
		Use:   "rotate KEY_ID",
		Short: "Issue new material for a key; the key id is kept",
		Args:  cobra.ExactArgs(1),
		RunE: run(func(ctx context.Context, c *app.Container, args []string) error {
			res, err := c.KeyStore.RotateKey(ctx, args[0], opts.client())
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "rotated key %s (material version %d)\n", res.Key.KeyID, res.Key.MaterialVersion)
			return nil
		}),
	}
}

func newMakeCurrentCmd(opts *options, out io.Writer, run runner) *cobra.Command {
	return &cobra.Command{
		Use:   "make-current KEY_ID",
		Short: "Promote a key to the current signing key",
		Args:  cobra.ExactArgs(1),
		RunE: run(func(ctx context.Context, c *app.Container, args []string) error {
			key, err := c.KeyStore.MakeCurrent(ctx, args[0], opts.client())
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "key %s is current\n", key.KeyID)
			return nil
		}),
	}
}

func newEventsCmd(opts *options, out io.Writer, run runner) *cobra.Command {
	var (
		limit     int
		eventType string
	)
	cmd := &cobra.Command{
		Use:   "events",
		Short: "List key events, newest first",
		Args:  cobra.NoArgs,
		RunE: run(func(ctx context.Context, c *app.Container, _ []string) error {
			events, err := c.Audit.Query(ctx, limit, constants.KeyEventType(eventType))
			if err != nil {
				return err
			}
			if opts.output == "json" {
				return writeJSON(out, events)
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TIME\tTYPE\tKEY ID\tPERFORMED BY\tVERIFIED")
			for _, e := range events {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%t\n", e.CreatedAt.UTC().Format(time.RFC3339),
					e.EventType, e.KeyID, performer(e), c.Audit.VerifyEvent(e))
			}
			return tw.Flush()
		}),
	}
	cmd.Flags().IntVar(&limit, "limit", constants.DefaultEventPageSize, "number of events (max 100)")
	cmd.Flags().StringVar(&eventType, "type", "", "created, rotated or made-current")
	return cmd
}

func newGrantAdminCmd(_ *options, out io.Writer, run runner) *cobra.Command {
	return &cobra.Command{
		Use:   "grant-admin USER_ID",
		Short: "Grant the admin role to a principal",
		Args:  cobra.ExactArgs(1),
		RunE: run(func(ctx context.Context, c *app.Container, args []string) error {
			if err := c.Roles.SetRole(ctx, args[0], constants.AdminRole); err != nil {
				return err
			}
			fmt.Fprintf(out, "granted admin to %s\n", args[0])
			return nil
		}),
	}
}

func newResetLimitCmd(_ *options, out io.Writer, run runner) *cobra.Command {
	return &cobra.Command{
		Use:   "reset-limit USER_ID",
		Short: "Clear the validate-admin rate limit window of a principal",
		Args:  cobra.ExactArgs(1),
		RunE: run(func(ctx context.Context, c *app.Container, args []string) error {
			if err := c.ResetLimit(ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(out, "reset rate limit of %s\n", args[0])
			return nil
		}),
	}
}

func performer(e *models.KeyEvent) string {
	if e.PerformedBy == nil {
		return "system"
	}
	return *e.PerformedBy
}

func writeJSON(out io.Writer, v interface{}) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
