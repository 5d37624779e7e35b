package agent

import (
	"context"
	"errors"

	"autoposter/internal/orchestrator"
	logx "autoposter/pkg/logx"
)

// Acquire asks the sidecar for a logged-in session.
func (c *Client) Acquire(ctx context.Context) (orchestrator.SessionStatus, error) {
	resp, err := c.call(ctx, "session/acquire", "", nil)
	if err != nil {
		return orchestrator.SessionFailed, err
	}
	switch resp.Status {
	case "", "ready":
		return orchestrator.SessionReady, nil
	case "needs_verification":
		return orchestrator.SessionNeedsVerification, nil
	default:
		c.log.Warn("sidecar reported unusable session", logx.String("status", resp.Status))
		return orchestrator.SessionFailed, nil
	}
}

// SubmitVerificationCode forwards an operator code. A rejected code is
// reported as (false, nil).
func (c *Client) SubmitVerificationCode(ctx context.Context, code string) (bool, error) {
	_, err := c.call(ctx, "session/verify", "", map[string]any{"code": code})
	var step *StepError
	if errors.As(err, &step) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (c *Client) Release(ctx context.Context) error {
	_, err := c.call(ctx, "session/release", "", nil)
	return err
}
