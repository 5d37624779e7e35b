package core

import (
	"slices"
	"time"
)

// Period identifies a content bucket. Buckets are calendar months (1..12).
type Period int

const (
	MinPeriod Period = 1
	MaxPeriod Period = 12
)

func (p Period) Valid() bool { return p >= MinPeriod && p <= MaxPeriod }

// PeriodAt returns the period that contains t (in t's location).
func PeriodAt(t time.Time) Period { return Period(t.Month()) }

// CaptionRecord is one caption row of a period bucket.
type CaptionRecord struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// PostEvent is appended to a period's history on every successful post.
type PostEvent struct {
	ID         string    `json:"id"`
	Timestamp  time.Time `json:"posted_at"`
	CaptionID  string    `json:"caption_id"`
	ImageNames []string  `json:"images"`
	Period     Period    `json:"period"`
}

// PeriodUsage is the usage ledger entry of one period.
//
// The used collections are sets; they are stored as arrays to keep the
// persisted document stable and diffable.
type PeriodUsage struct {
	UsedCaptionIDs []string    `json:"used_posts"`
	UsedImageNames []string    `json:"used_images"`
	PostHistory    []PostEvent `json:"post_history"`
}

func (u *PeriodUsage) CaptionUsed(id string) bool { return slices.Contains(u.UsedCaptionIDs, id) }
func (u *PeriodUsage) ImageUsed(name string) bool { return slices.Contains(u.UsedImageNames, name) }

// LastPost returns the most recent history entry, if any.
func (u *PeriodUsage) LastPost() (PostEvent, bool) {
	if u == nil || len(u.PostHistory) == 0 {
		return PostEvent{}, false
	}
	return u.PostHistory[len(u.PostHistory)-1], true
}

// SchedulerSettings is the operator-mutable scheduling configuration.
// JSON names follow the documents the dashboard already writes.
type SchedulerSettings struct {
	Enabled                  bool     `json:"enabled"`
	ImagesPerPost            int      `json:"num_images"`
	TriggerTimesLocal        []string `json:"posting_times"`
	TimezoneName             string   `json:"timezone"`
	SequentialImageSelection bool     `json:"sequential_images"`
}

const (
	MinImagesPerPost = 1
	MaxImagesPerPost = 10
)

func DefaultSettings() SchedulerSettings {
	return SchedulerSettings{
		Enabled:                  false,
		ImagesPerPost:            1,
		TriggerTimesLocal:        []string{},
		TimezoneName:             "UTC",
		SequentialImageSelection: true,
	}
}

// ErrorRecord is one entry of the diagnostics ledger.
type ErrorRecord struct {
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"error"`
	Period    Period    `json:"month"`
	Stage     string    `json:"stage,omitempty"`
}

// SelectedContent is the caption + images chosen for one post.
type SelectedContent struct {
	Period      Period   `json:"period"`
	CaptionID   string   `json:"caption_id"`
	CaptionText string   `json:"caption_text"`
	Images      []string `json:"images"`
}

// MonthStats summarizes a period bucket for operators.
type MonthStats struct {
	Period         Period     `json:"month"`
	Images         int        `json:"images"`
	Captions       int        `json:"captions"`
	PostsUsed      int        `json:"posts_used"`
	ImagesUsed     int        `json:"images_used"`
	PostsAvailable int        `json:"posts_available"`
	LastPost       *time.Time `json:"last_post,omitempty"`
}

// Stage names an orchestration step. Failures are reported per stage.
type Stage string

const (
	StageInit     Stage = "init"
	StageSession  Stage = "session"
	StageComposer Stage = "composer"
	StageMedia    Stage = "media"
	StageCaption  Stage = "caption"
	StageSubmit   Stage = "submit"
	StageCommit   Stage = "commit"
)
