package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"autoposter/internal/app"
	"autoposter/internal/core"
)

func statsCmd(g *globalFlags) *cobra.Command {
	var period int
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show caption and image usage of a month",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, g, func(ctx context.Context, a *app.App) error {
				p, err := resolvePeriod(ctx, a, period)
				if err != nil {
					return err
				}
				stats, err := a.MonthStats(ctx, p)
				if err != nil {
					return err
				}
				return emit(cmd, g, stats, func(w io.Writer) { renderStats(w, stats) })
			})
		},
	}
	periodFlag(cmd, &period)
	return cmd
}

func captionsCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "captions",
		Short: "List, add and delete captions",
	}

	var period int
	list := &cobra.Command{
		Use:   "list",
		Short: "List the captions of a month",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, g, func(ctx context.Context, a *app.App) error {
				p, err := resolvePeriod(ctx, a, period)
				if err != nil {
					return err
				}
				caps, err := a.Captions(ctx, p)
				if err != nil {
					return err
				}
				return emit(cmd, g, caps, func(w io.Writer) {
					if len(caps) == 0 {
						fmt.Fprintln(w, dim("no captions"))
					}
					for _, c := range caps {
						fmt.Fprintf(w, "%s %s\n", color.New(color.FgCyan).Sprint(c.ID), c.Text)
					}
				})
			})
		},
	}
	periodFlag(list, &period)

	var (
		addPeriod int
		file      string
	)
	add := &cobra.Command{
		Use:   "add [text...]",
		Short: "Add captions, one per line (\"id,text\" or bare text)",
		Long: `Add captions to a month. Each non-empty line is either "id,text" or bare
text; bare lines get the next free post<N> id. Lines come from the arguments
(one caption each) or from --file ("-" reads stdin).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			input := strings.Join(args, "\n")
			if file != "" {
				b, err := readInput(cmd, file)
				if err != nil {
					return err
				}
				input = string(b)
			}
			if strings.TrimSpace(input) == "" {
				return fmt.Errorf("no captions given")
			}
			return withApp(cmd, g, func(ctx context.Context, a *app.App) error {
				p, err := resolvePeriod(ctx, a, addPeriod)
				if err != nil {
					return err
				}
				added, rejected, err := a.AddCaptions(ctx, p, input)
				if err != nil {
					return err
				}
				out := struct {
					Added    []core.CaptionRecord `json:"added"`
					Rejected []string             `json:"rejected"`
				}{added, rejected}
				return emit(cmd, g, out, func(w io.Writer) {
					done(cmd, "added %d caption(s) to month %d", len(added), p)
					for _, r := range rejected {
						fmt.Fprintf(w, "  %s %s\n", color.New(color.FgYellow).Sprint("skipped"), r)
					}
				})
			})
		},
	}
	periodFlag(add, &addPeriod)
	add.Flags().StringVarP(&file, "file", "f", "", "read captions from a file (\"-\" for stdin)")

	var delPeriod int
	del := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a caption and clear its usage mark",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, g, func(ctx context.Context, a *app.App) error {
				p, err := resolvePeriod(ctx, a, delPeriod)
				if err != nil {
					return err
				}
				if err := a.DeleteCaption(ctx, p, args[0]); err != nil {
					return err
				}
				done(cmd, "deleted caption %s from month %d", args[0], p)
				return nil
			})
		},
	}
	periodFlag(del, &delPeriod)

	cmd.AddCommand(list, add, del)
	return cmd
}

func readInput(cmd *cobra.Command, file string) ([]byte, error) {
	if file == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	return os.ReadFile(file)
}

func imagesCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "images",
		Short: "Show, reorder and delete images",
	}

	var period int
	order := &cobra.Command{
		Use:   "order",
		Short: "Show the posting order of a month's images",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, g, func(ctx context.Context, a *app.App) error {
				p, err := resolvePeriod(ctx, a, period)
				if err != nil {
					return err
				}
				names, err := a.ImageOrder(ctx, p)
				if err != nil {
					return err
				}
				return emit(cmd, g, names, func(w io.Writer) {
					if len(names) == 0 {
						fmt.Fprintln(w, dim("no images"))
					}
					for i, n := range names {
						fmt.Fprintf(w, "%3d  %s\n", i+1, n)
					}
				})
			})
		},
	}
	periodFlag(order, &period)

	var setPeriod int
	set := &cobra.Command{
		Use:   "set <name>...",
		Short: "Replace the posting order; unknown names are dropped",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, g, func(ctx context.Context, a *app.App) error {
				p, err := resolvePeriod(ctx, a, setPeriod)
				if err != nil {
					return err
				}
				saved, err := a.UpdateImageOrder(ctx, p, args)
				if err != nil {
					return err
				}
				return emit(cmd, g, saved, func(io.Writer) {
					done(cmd, "saved order of %d image(s) for month %d", len(saved), p)
				})
			})
		},
	}
	periodFlag(set, &setPeriod)

	var delPeriod int
	del := &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete an image file and clear its usage mark",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, g, func(ctx context.Context, a *app.App) error {
				p, err := resolvePeriod(ctx, a, delPeriod)
				if err != nil {
					return err
				}
				if err := a.DeleteImage(ctx, p, args[0]); err != nil {
					return err
				}
				done(cmd, "deleted image %s from month %d", args[0], p)
				return nil
			})
		},
	}
	periodFlag(del, &delPeriod)

	cmd.AddCommand(order, set, del)
	return cmd
}

func nextCmd(g *globalFlags) *cobra.Command {
	var (
		period int
		images int
	)
	cmd := &cobra.Command{
		Use:   "next",
		Short: "Preview the content the next post would use",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, g, func(ctx context.Context, a *app.App) error {
				p, err := resolvePeriod(ctx, a, period)
				if err != nil {
					return err
				}
				sel, err := a.SelectNextContent(ctx, p, images)
				if err != nil {
					return err
				}
				return emit(cmd, g, sel, func(w io.Writer) { renderSelection(w, sel) })
			})
		},
	}
	periodFlag(cmd, &period)
	cmd.Flags().IntVarP(&images, "images", "n", 0, "number of images (default: num_images setting)")
	return cmd
}

func markPostedCmd(g *globalFlags) *cobra.Command {
	var period int
	cmd := &cobra.Command{
		Use:   "mark-posted <caption-id> [image...]",
		Short: "Record a post made by hand so its content is not reused",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, g, func(ctx context.Context, a *app.App) error {
				p, err := resolvePeriod(ctx, a, period)
				if err != nil {
					return err
				}
				ev, err := a.MarkPosted(ctx, p, args[0], args[1:])
				if err != nil {
					return err
				}
				return emit(cmd, g, ev, func(io.Writer) {
					done(cmd, "marked %s posted in month %d (%d image(s))", ev.CaptionID, p, len(ev.ImageNames))
				})
			})
		},
	}
	periodFlag(cmd, &period)
	return cmd
}

func retractCmd(g *globalFlags) *cobra.Command {
	var period int
	cmd := &cobra.Command{
		Use:       "retract caption|image <id-or-name>",
		Short:     "Make a used caption or image available again",
		Args:      cobra.ExactArgs(2),
		ValidArgs: []string{"caption", "image"},
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, g, func(ctx context.Context, a *app.App) error {
				p, err := resolvePeriod(ctx, a, period)
				if err != nil {
					return err
				}
				switch args[0] {
				case "caption":
					err = a.RetractCaption(ctx, p, args[1])
				case "image":
					err = a.RetractImage(ctx, p, args[1])
				default:
					return fmt.Errorf("unknown kind %q (want caption or image)", args[0])
				}
				if err != nil {
					return err
				}
				done(cmd, "retracted %s %s in month %d", args[0], args[1], p)
				return nil
			})
		},
	}
	periodFlag(cmd, &period)
	return cmd
}

func resetCmd(g *globalFlags) *cobra.Command {
	var period int
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Mark every caption and image of a month unused (history is kept)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, g, func(ctx context.Context, a *app.App) error {
				p, err := resolvePeriod(ctx, a, period)
				if err != nil {
					return err
				}
				if err := a.ResetLedger(ctx, p); err != nil {
					return err
				}
				done(cmd, "reset usage of month %d", p)
				return nil
			})
		},
	}
	periodFlag(cmd, &period)
	return cmd
}
