package cli

import (
	"context"
	"io"

	"github.com/spf13/cobra"

	"autoposter/internal/app"
)

func settingsCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Show or change the scheduling settings",
	}

	get := &cobra.Command{
		Use:   "get",
		Short: "Show the scheduling settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, g, func(ctx context.Context, a *app.App) error {
				cfg, err := a.Settings(ctx)
				if err != nil {
					return err
				}
				return emit(cmd, g, cfg, func(w io.Writer) { renderSettings(w, cfg) })
			})
		},
	}

	set := &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Change one setting",
		Long: `Change one scheduling setting. Keys:

  enabled            true|false
  num_images         1..10
  posting_times      comma-separated HH:MM list, e.g. 09:00,18:30
  timezone           IANA zone name, e.g. Europe/Berlin
  sequential_images  true|false

An invalid value is rejected and nothing is saved. A running daemon picks the
change up on its next poll.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, g, func(ctx context.Context, a *app.App) error {
				cfg, err := a.UpdateSetting(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				return emit(cmd, g, cfg, func(io.Writer) { done(cmd, "%s updated", args[0]) })
			})
		},
	}

	cmd.AddCommand(get, set)
	return cmd
}

func errorsCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "errors",
		Short: "Show or clear the recent scheduler errors",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "Show recorded scheduler errors, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, g, func(ctx context.Context, a *app.App) error {
				recs, err := a.SchedulerErrors(ctx)
				if err != nil {
					return err
				}
				return emit(cmd, g, recs, func(w io.Writer) { renderErrors(w, recs) })
			})
		},
	}

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Forget all recorded scheduler errors",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, g, func(ctx context.Context, a *app.App) error {
				if err := a.ClearSchedulerErrors(ctx); err != nil {
					return err
				}
				done(cmd, "scheduler errors cleared")
				return nil
			})
		},
	}

	cmd.AddCommand(list, clearCmd)
	return cmd
}

func statusCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show scheduler state, next trigger and recent errors",
		Long: `Show the scheduler state. Run outside the daemon, "running" is false and
the next trigger is the one the current settings would arm.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, g, func(ctx context.Context, a *app.App) error {
				st, err := a.SchedulerStatus(ctx)
				if err != nil {
					return err
				}
				return emit(cmd, g, st, func(w io.Writer) { renderStatus(w, st) })
			})
		},
	}
}
