// Package cli implements the autoposter command line.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"autoposter/internal/app"
	"autoposter/internal/core"
)

type globalFlags struct {
	config string
	json   bool
}

// NewRootCmd returns the autoposter command tree.
func NewRootCmd(version string) *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:     "autoposter",
		Short:   "Scheduled image poster with a monthly content ledger",
		Version: version,
		Long: `autoposter posts one caption and a set of images per trigger time.
Content lives in one directory per month; a ledger makes sure nothing is
posted twice in the same month.

"autoposter run" starts the daemon. The other commands inspect and edit the
content, the ledger and the scheduling settings.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&g.config, "config", "c", "./config.yaml", "path to the config file (JSON or YAML)")
	root.PersistentFlags().BoolVar(&g.json, "json", false, "print machine-readable JSON")

	root.AddCommand(runCmd(g))
	root.AddCommand(postNowCmd(g))
	root.AddCommand(statusCmd(g))
	root.AddCommand(statsCmd(g))
	root.AddCommand(captionsCmd(g))
	root.AddCommand(imagesCmd(g))
	root.AddCommand(nextCmd(g))
	root.AddCommand(markPostedCmd(g))
	root.AddCommand(retractCmd(g))
	root.AddCommand(resetCmd(g))
	root.AddCommand(settingsCmd(g))
	root.AddCommand(errorsCmd(g))
	return root
}

// withApp opens the app without alerts, runs fn and closes it.
func withApp(cmd *cobra.Command, g *globalFlags, fn func(ctx context.Context, a *app.App) error) error {
	a, err := app.New(g.config, app.WithoutAlerts())
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(cmd.Context(), a)
}

// resolvePeriod maps 0 to the current period.
func resolvePeriod(ctx context.Context, a *app.App, p int) (core.Period, error) {
	if p == 0 {
		return a.CurrentPeriod(ctx)
	}
	period := core.Period(p)
	return period, core.CheckPeriod(period)
}

func periodFlag(cmd *cobra.Command, dst *int) {
	cmd.Flags().IntVarP(dst, "period", "p", 0, "month 1-12 (default: current month)")
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// emit prints v as JSON when --json is set, otherwise calls human.
func emit(cmd *cobra.Command, g *globalFlags, v any, human func(w io.Writer)) error {
	if g.json {
		return printJSON(cmd.OutOrStdout(), v)
	}
	human(cmd.OutOrStdout())
	return nil
}

func done(cmd *cobra.Command, format string, args ...any) {
	fmt.Fprintln(cmd.OutOrStdout(), okMark()+" "+fmt.Sprintf(format, args...))
}
