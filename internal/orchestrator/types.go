package orchestrator

import (
	"context"
	"errors"
	"time"

	"autoposter/internal/core"
)

// SessionStatus is the outcome of SessionProvider.Acquire.
type SessionStatus int

const (
	SessionReady SessionStatus = iota
	SessionNeedsVerification
	SessionFailed
)

func (s SessionStatus) String() string {
	switch s {
	case SessionReady:
		return "ready"
	case SessionNeedsVerification:
		return "needs_verification"
	default:
		return "failed"
	}
}

// SessionProvider owns the exclusive logged-in browser session.
type SessionProvider interface {
	Acquire(ctx context.Context) (SessionStatus, error)
	SubmitVerificationCode(ctx context.Context, code string) (bool, error)
	Release(ctx context.Context) error
}

// Agent performs the in-browser posting steps. Each call either succeeds or
// fails; retries, if any, happen inside the agent.
type Agent interface {
	OpenComposer(ctx context.Context) error
	UploadMedia(ctx context.Context, paths []string) error
	Advance(ctx context.Context) error
	SetCaption(ctx context.Context, text string) error
	SubmitPost(ctx context.Context) error
}

type Selector interface {
	SelectNext(ctx context.Context, p core.Period, count int, sequential bool) (core.SelectedContent, error)
	Commit(ctx context.Context, p core.Period, captionID string, images []string) (core.PostEvent, error)
}

type SettingsSource interface {
	Load(ctx context.Context) (core.SchedulerSettings, error)
}

type MediaResolver interface {
	ImagePaths(p core.Period, names []string) []string
}

type ErrorRecorder interface {
	Record(ctx context.Context, stage core.Stage, period core.Period, cause error) core.ErrorRecord
}

// Config tunes the orchestrator. Zero values take defaults.
type Config struct {
	VerificationTimeout time.Duration // default 120s
	StageTimeout        time.Duration // per agent call; 0 disables
	ReleaseTimeout      time.Duration // default 30s
}

const (
	DefaultVerificationTimeout = 120 * time.Second
	defaultReleaseTimeout      = 30 * time.Second
)

var ErrNoVerificationPending = errors.New("no verification code is pending")

// Result describes one finished cycle.
type Result struct {
	Content   core.SelectedContent
	Event     core.PostEvent
	Delivered bool // the post was submitted externally
	Committed bool
	Stage     core.Stage // last stage reached
	Duration  time.Duration
}
