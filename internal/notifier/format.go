package notifier

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"autoposter/internal/core"
	"autoposter/internal/eventbus"
)

// Format renders an event as alert text. ok is false for events that do not
// alert under cfg.
func Format(e eventbus.Event, cfg Config) (text string, ok bool) {
	switch e.Kind {
	case eventbus.PostFailed:
		info, _ := e.Data.(eventbus.PostInfo)
		if info.Stage == core.StageCommit {
			return fmt.Sprintf("⚠️ Post %s went out but could not be recorded; it may be posted again.\n%s",
				captionLabel(info), errText(info.Err)), true
		}
		return fmt.Sprintf("❌ Posting failed at %s (%s).\n%s", info.Stage, captionLabel(info), errText(info.Err)), true
	case eventbus.PostSkipped:
		info, _ := e.Data.(eventbus.PostInfo)
		if errors.Is(info.Err, core.ErrAlreadyRunning) {
			return "", false
		}
		return fmt.Sprintf("ℹ️ Nothing to post: %s", errText(info.Err)), true
	case eventbus.PostSucceeded:
		if !cfg.NotifySuccess {
			return "", false
		}
		info, _ := e.Data.(eventbus.PostInfo)
		return fmt.Sprintf("✅ Posted %s with %d image(s).", captionLabel(info), len(info.Images)), true
	case eventbus.VerificationRequested:
		deadline, _ := e.Data.(time.Time)
		msg := "🔐 Instagram asks for a verification code. Reply here with /code <digits>"
		if !deadline.IsZero() {
			msg += fmt.Sprintf(" (before %s)", deadline.Format("15:04:05 MST"))
		}
		return msg, true
	default:
		return "", false
	}
}

func captionLabel(info eventbus.PostInfo) string {
	if info.CaptionID == "" {
		return fmt.Sprintf("period %d", info.Period)
	}
	return fmt.Sprintf("caption %s of period %d", info.CaptionID, info.Period)
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	s := err.Error()
	if len(s) > 500 {
		s = s[:500] + "…"
	}
	return strings.TrimSpace(s)
}
