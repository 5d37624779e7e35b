package notifier

import (
	"context"
	"time"
)

// Sender delivers one text alert.
type Sender interface {
	SendText(ctx context.Context, text string) error
}

type Config struct {
	Enabled       bool
	RatePerSec    int
	QueueSize     int
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	SendTimeout   time.Duration
	// NotifySuccess also alerts on delivered posts, not only on problems.
	NotifySuccess bool
}

type HistoryItem struct {
	At   time.Time
	Text string
	Err  string
}
