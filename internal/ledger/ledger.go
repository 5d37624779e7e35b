// Package ledger records which captions and images have been consumed and
// selects the next unused content of a period.
//
// The whole ledger is one repository document keyed by period. Every mutation
// is a single AtomicUpdate, so a commit is either fully visible or not at all.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"strconv"
	"time"

	"github.com/google/uuid"

	"autoposter/internal/core"
	"autoposter/internal/storage"
	logx "autoposter/pkg/logx"
)

const documentKey = "ledger"

// ContentSource is the read view of the period buckets.
type ContentSource interface {
	ListCaptions(p core.Period) ([]core.CaptionRecord, error)
	ImageOrder(ctx context.Context, p core.Period) ([]string, error)
}

type Ledger struct {
	repo    storage.Repository
	content ContentSource
	log     logx.Logger

	now     func() time.Time
	shuffle func(n int, swap func(i, j int))
	newID   func() string
}

type Option func(*Ledger)

func WithClock(now func() time.Time) Option { return func(l *Ledger) { l.now = now } }

// WithShuffle replaces the random permutation used for non-sequential image selection.
func WithShuffle(fn func(n int, swap func(i, j int))) Option {
	return func(l *Ledger) { l.shuffle = fn }
}

func New(repo storage.Repository, content ContentSource, log logx.Logger, opts ...Option) *Ledger {
	if log.IsZero() {
		log = logx.Nop()
	}
	l := &Ledger{
		repo:    repo,
		content: content,
		log:     log,
		now:     time.Now,
		shuffle: rand.Shuffle,
		newID:   func() string { return uuid.NewString() },
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// document is the persisted shape: period number (as string) -> usage.
type document map[string]*core.PeriodUsage

func periodKey(p core.Period) string { return strconv.Itoa(int(p)) }

func decode(cur []byte, ok bool) (document, error) {
	doc := document{}
	if !ok || len(cur) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(cur, &doc); err != nil {
		return nil, fmt.Errorf("decode ledger: %w", err)
	}
	return doc, nil
}

func (l *Ledger) load(ctx context.Context) (document, error) {
	cur, ok, err := l.repo.Load(ctx, documentKey)
	if err != nil {
		return nil, &core.PersistenceError{Op: "load ledger", Err: err}
	}
	doc, err := decode(cur, ok)
	if err != nil {
		return nil, &core.PersistenceError{Op: "load ledger", Err: err}
	}
	return doc, nil
}

// update applies fn to the ledger document in one atomic write.
func (l *Ledger) update(ctx context.Context, op string, fn func(doc document) error) error {
	err := l.repo.AtomicUpdate(ctx, documentKey, func(cur []byte, ok bool) ([]byte, error) {
		doc, err := decode(cur, ok)
		if err != nil {
			return nil, err
		}
		if err := fn(doc); err != nil {
			return nil, err
		}
		return json.MarshalIndent(doc, "", "  ")
	})
	if err == nil || errors.Is(err, core.ErrNotFound) {
		return err
	}
	return &core.PersistenceError{Op: op, Err: err}
}

// Usage returns a copy of the period's usage (zero value when never posted).
func (l *Ledger) Usage(ctx context.Context, p core.Period) (core.PeriodUsage, error) {
	doc, err := l.load(ctx)
	if err != nil {
		return core.PeriodUsage{}, err
	}
	u, ok := doc[periodKey(p)]
	if !ok || u == nil {
		return core.PeriodUsage{}, nil
	}
	return *u, nil
}

// LastPost returns the most recent post across all periods.
func (l *Ledger) LastPost(ctx context.Context) (core.PostEvent, bool, error) {
	doc, err := l.load(ctx)
	if err != nil {
		return core.PostEvent{}, false, err
	}
	var (
		last  core.PostEvent
		found bool
	)
	for _, u := range doc {
		if ev, ok := u.LastPost(); ok && (!found || ev.Timestamp.After(last.Timestamp)) {
			last, found = ev, true
		}
	}
	return last, found, nil
}

// SelectNextCaption returns the first caption, in stored order, that is not used.
func (l *Ledger) SelectNextCaption(ctx context.Context, p core.Period) (core.CaptionRecord, error) {
	caps, err := l.content.ListCaptions(p)
	if err != nil {
		return core.CaptionRecord{}, err
	}
	if len(caps) == 0 {
		return core.CaptionRecord{}, fmt.Errorf("period %d has no captions: %w", p, core.ErrNotFound)
	}
	usage, err := l.Usage(ctx, p)
	if err != nil {
		return core.CaptionRecord{}, err
	}
	for _, c := range caps {
		if !usage.CaptionUsed(c.ID) {
			return c, nil
		}
	}
	return core.CaptionRecord{}, &core.ResourceInsufficientError{Kind: "captions", Need: 1, Available: 0}
}

// SelectImages returns exactly count unused images or a ResourceInsufficientError.
// sequential is a snapshot taken by the caller; it is not re-read mid-call.
func (l *Ledger) SelectImages(ctx context.Context, p core.Period, count int, sequential bool) ([]string, error) {
	if count < 1 {
		return nil, fmt.Errorf("image count must be >= 1, got %d", count)
	}
	order, err := l.content.ImageOrder(ctx, p)
	if err != nil {
		return nil, err
	}
	usage, err := l.Usage(ctx, p)
	if err != nil {
		return nil, err
	}
	unused := make([]string, 0, len(order))
	for _, name := range order {
		if !usage.ImageUsed(name) {
			unused = append(unused, name)
		}
	}
	if len(unused) < count {
		return nil, &core.ResourceInsufficientError{Kind: "images", Need: count, Available: len(unused)}
	}
	if sequential {
		return slices.Clone(unused[:count]), nil
	}
	l.shuffle(len(unused), func(i, j int) { unused[i], unused[j] = unused[j], unused[i] })
	return slices.Clone(unused[:count]), nil
}

// SelectNext picks the next caption and count images without consuming them.
func (l *Ledger) SelectNext(ctx context.Context, p core.Period, count int, sequential bool) (core.SelectedContent, error) {
	c, err := l.SelectNextCaption(ctx, p)
	if err != nil {
		return core.SelectedContent{}, err
	}
	imgs, err := l.SelectImages(ctx, p, count, sequential)
	if err != nil {
		return core.SelectedContent{}, err
	}
	return core.SelectedContent{Period: p, CaptionID: c.ID, CaptionText: c.Text, Images: imgs}, nil
}

// Commit marks the caption and images used and appends one PostEvent, in a
// single atomic write.
func (l *Ledger) Commit(ctx context.Context, p core.Period, captionID string, images []string) (core.PostEvent, error) {
	ev := core.PostEvent{
		ID:         l.newID(),
		Timestamp:  l.now(),
		CaptionID:  captionID,
		ImageNames: slices.Clone(images),
		Period:     p,
	}
	err := l.update(ctx, "commit", func(doc document) error {
		u := doc[periodKey(p)]
		if u == nil {
			u = &core.PeriodUsage{}
			doc[periodKey(p)] = u
		}
		if !u.CaptionUsed(captionID) {
			u.UsedCaptionIDs = append(u.UsedCaptionIDs, captionID)
		}
		for _, img := range images {
			if !u.ImageUsed(img) {
				u.UsedImageNames = append(u.UsedImageNames, img)
			}
		}
		u.PostHistory = append(u.PostHistory, ev)
		return nil
	})
	if err != nil {
		return core.PostEvent{}, err
	}
	l.log.Info("content committed", logx.Int("period", int(p)), logx.String("caption", captionID), logx.Strs("images", images))
	return ev, nil
}

// Retract removes a caption from the used set. History is left as is.
func (l *Ledger) Retract(ctx context.Context, p core.Period, captionID string) error {
	return l.update(ctx, "retract caption", func(doc document) error {
		u := doc[periodKey(p)]
		if u == nil {
			return nil
		}
		u.UsedCaptionIDs = slices.DeleteFunc(u.UsedCaptionIDs, func(id string) bool { return id == captionID })
		return nil
	})
}

// RetractImage removes an image from the used set. History is left as is.
func (l *Ledger) RetractImage(ctx context.Context, p core.Period, name string) error {
	return l.update(ctx, "retract image", func(doc document) error {
		u := doc[periodKey(p)]
		if u == nil {
			return nil
		}
		u.UsedImageNames = slices.DeleteFunc(u.UsedImageNames, func(n string) bool { return n == name })
		return nil
	})
}

// Reset clears both used sets of a period, keeping its history.
func (l *Ledger) Reset(ctx context.Context, p core.Period) error {
	return l.update(ctx, "reset", func(doc document) error {
		if u := doc[periodKey(p)]; u != nil {
			u.UsedCaptionIDs = nil
			u.UsedImageNames = nil
		}
		return nil
	})
}
