package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"autoposter/internal/app"
	"autoposter/internal/core"
)

const shutdownTimeout = 30 * time.Second

func runCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the scheduler daemon until SIGINT or SIGTERM",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := app.New(g.config)
			if err != nil {
				return err
			}

			sigs := make(chan os.Signal, 1)
			signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
			defer signal.Stop(sigs)

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			if err := a.Start(ctx); err != nil {
				_ = a.Stop(context.Background(), app.StopFatalError)
				return err
			}
			// No-op when not started by systemd.
			_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)

			var reason app.StopReason
			select {
			case sig := <-sigs:
				reason = app.StopSIGINT
				if sig == syscall.SIGTERM {
					reason = app.StopSIGTERM
				}
			case <-ctx.Done():
				reason = app.StopAppStop
			}
			_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
			cancel()

			stopCtx, stopCancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer stopCancel()
			return a.Stop(stopCtx, reason)
		},
	}
}

func postNowCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "post-now",
		Short: "Run one posting cycle immediately in this process",
		Long: `Run one posting cycle immediately. The cycle runs in this process, so do
not use it while the daemon is posting. Verification codes can only be
answered through the alert chat when alerts.telegram.accept_codes is set.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := app.New(g.config)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			// Alerts and the code listener run for the duration of the cycle.
			if err := a.StartServices(ctx); err != nil {
				_ = a.Close()
				return err
			}
			res, runErr := a.PostNow(ctx)
			cancel()
			stopCtx, stopCancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer stopCancel()
			_ = a.Stop(stopCtx, app.StopAppStop)

			if g.json {
				out := struct {
					Committed bool                 `json:"committed"`
					Delivered bool                 `json:"delivered"`
					Stage     core.Stage           `json:"stage"`
					Content   core.SelectedContent `json:"content"`
					Error     string               `json:"error,omitempty"`
				}{res.Committed, res.Delivered, res.Stage, res.Content, errString(runErr)}
				if err := printJSON(cmd.OutOrStdout(), out); err != nil {
					return err
				}
				return runErr
			}
			return renderPostResult(cmd.OutOrStdout(), res.Content.CaptionID, res.Committed, runErr)
		},
	}
}

func renderPostResult(w io.Writer, captionID string, committed bool, err error) error {
	switch {
	case err == nil && committed:
		fmt.Fprintf(w, "%s posted %s\n", okMark(), captionID)
		return nil
	case errors.Is(err, core.ErrAlreadyRunning):
		fmt.Fprintln(w, color.New(color.FgYellow).Sprint("a posting cycle is already running"))
		return err
	case errors.Is(err, core.ErrNotFound):
		fmt.Fprintln(w, color.New(color.FgYellow).Sprint("nothing to post this month"))
		return err
	default:
		fmt.Fprintf(w, "%s stage %s\n", color.New(color.FgRed).Sprint("failed"), core.StageOf(err))
		return err
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
