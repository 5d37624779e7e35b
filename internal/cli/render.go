package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"

	"autoposter/internal/app"
	"autoposter/internal/core"
	"autoposter/internal/trigger"
)

const timeLayout = "2006-01-02 15:04 MST"

func okMark() string { return color.New(color.FgHiGreen).Sprint("✓") }
func dim(s string) string { return color.New(color.FgHiBlack).Sprint(s) }

func stateBadge(s trigger.State) string {
	upper := strings.ToUpper(string(s))
	switch s {
	case trigger.StateArmed:
		return color.New(color.FgHiGreen).Sprint(upper)
	case trigger.StateFiring:
		return color.New(color.FgHiYellow).Sprint(upper)
	case trigger.StateDisabled:
		return color.New(color.FgYellow).Sprint(upper)
	default:
		return color.New(color.FgHiBlack).Sprint(upper)
	}
}

func stageBadge(stage string) string {
	if stage == "" {
		stage = "-"
	}
	return color.New(color.FgRed).Sprintf("[%s]", stage)
}

func fmtTime(t *time.Time) string {
	if t == nil {
		return dim("never")
	}
	return t.Local().Format(timeLayout)
}

func renderStats(w io.Writer, s core.MonthStats) {
	fmt.Fprintf(w, "Month %d\n", s.Period)
	fmt.Fprintf(w, "  captions  %d (%d used, %s available)\n", s.Captions, s.PostsUsed, availability(s.PostsAvailable))
	fmt.Fprintf(w, "  images    %d (%d used)\n", s.Images, s.ImagesUsed)
	fmt.Fprintf(w, "  last post %s\n", fmtTime(s.LastPost))
}

func availability(n int) string {
	switch {
	case n == 0:
		return color.New(color.FgRed).Sprint(n)
	case n < 3:
		return color.New(color.FgYellow).Sprint(n)
	default:
		return color.New(color.FgGreen).Sprint(n)
	}
}

func renderStatus(w io.Writer, st app.SchedulerStatus) {
	running := color.New(color.FgHiBlack).Sprint("stopped")
	if st.Running {
		running = color.New(color.FgHiGreen).Sprint("running")
	}
	fmt.Fprintf(w, "Scheduler %s  %s\n", running, stateBadge(st.State))
	if st.VerificationPending {
		fmt.Fprintln(w, color.New(color.FgHiYellow).Sprint("  waiting for a verification code"))
	}
	fmt.Fprintf(w, "  enabled         %t\n", st.Enabled)
	fmt.Fprintf(w, "  posting times   %s (%s)\n", strings.Join(st.PostingTimes, ", "), st.Timezone)
	fmt.Fprintf(w, "  images per post %d\n", st.ImagesPerPost)
	fmt.Fprintf(w, "  next trigger    %s\n", fmtTime(st.NextTriggerTime))
	fmt.Fprintf(w, "  last post       %s\n", fmtTime(st.LastPostTime))
	if len(st.RecentErrors) > 0 {
		fmt.Fprintln(w, "  recent errors")
		for _, e := range st.RecentErrors {
			fmt.Fprintf(w, "    %s %s %s\n", e.Timestamp.Local().Format(timeLayout), stageBadge(e.Stage), e.Message)
		}
	}
}

func renderErrors(w io.Writer, recs []core.ErrorRecord) {
	if len(recs) == 0 {
		fmt.Fprintln(w, dim("no scheduler errors"))
		return
	}
	for _, e := range recs {
		fmt.Fprintf(w, "%s month %-2d %s %s\n", e.Timestamp.Local().Format(timeLayout), e.Period, stageBadge(e.Stage), e.Message)
	}
}

func renderSettings(w io.Writer, cfg core.SchedulerSettings) {
	fmt.Fprintf(w, "enabled            %t\n", cfg.Enabled)
	fmt.Fprintf(w, "num_images         %d\n", cfg.ImagesPerPost)
	fmt.Fprintf(w, "posting_times      %s\n", strings.Join(cfg.TriggerTimesLocal, ","))
	fmt.Fprintf(w, "timezone           %s\n", cfg.TimezoneName)
	fmt.Fprintf(w, "sequential_images  %t\n", cfg.SequentialImageSelection)
}

func renderSelection(w io.Writer, sel core.SelectedContent) {
	fmt.Fprintf(w, "%s %s\n", color.New(color.FgCyan).Sprint(sel.CaptionID), sel.CaptionText)
	for _, img := range sel.Images {
		fmt.Fprintf(w, "  %s\n", img)
	}
}
